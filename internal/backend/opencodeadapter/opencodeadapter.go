// Package opencodeadapter normalizes the Opencode CLI's NDJSON event
// protocol to UnifiedMessage.
//
// Grounded on the teacher's harness/codex package for its
// thread/event-id bookkeeping shape, adapted to Opencode's event
// names.
package opencodeadapter

import (
	"context"
	"encoding/json"
	"os"

	"beamcode/internal/backend"
	"beamcode/internal/backend/ndjson"
	"beamcode/internal/message"
)

func init() {
	backend.Register("opencode", func() backend.Adapter { return New("opencode") }, false)
}

type Adapter struct {
	binary string
}

func New(binary string) *Adapter {
	if binary == "" {
		binary = "opencode"
	}
	return &Adapter{binary: binary}
}

func (a *Adapter) Name() string { return "opencode" }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: false,
		Availability:  backend.AvailabilityLocal,
		Teams:         false,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	args := []string{"run", "--format", "ndjson"}
	if opts.SessionID != "" {
		args = append(args, "--session", opts.SessionID)
	}

	spawn := ndjson.Spawn{
		Command:  a.binary,
		Args:     args,
		Env:      os.Environ(),
		ToWire:   toWire,
		FromWire: fromWire,
	}
	if cwd, ok := opts.AdapterOptions["cwd"].(string); ok {
		spawn.Dir = cwd
	}
	return spawn.Start(ctx, opts.SessionID)
}

func toWire(msg message.Unified) ([]byte, error) {
	switch msg.Type {
	case message.TypeUserMessage:
		return json.Marshal(map[string]any{
			"event": "message",
			"text":  contentText(msg),
		})
	case message.TypePermissionResponse:
		return json.Marshal(map[string]any{
			"event":      "permission_reply",
			"request_id": msg.Metadata["request_id"],
			"allow":      msg.Metadata["behavior"] == "allow",
		})
	case message.TypeInterrupt:
		return json.Marshal(map[string]any{"event": "abort"})
	default:
		return nil, nil
	}
}

func fromWire(line []byte) (message.Unified, bool, error) {
	var env struct {
		Event string `json:"event"`
	}
	if err := ndjson.DecodeJSON(line, &env); err != nil {
		return message.Unified{}, false, err
	}
	switch env.Event {
	case "session_started":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypeSessionInit, Role: message.RoleSystem, Metadata: m}, true, nil
	case "text_delta":
		var m struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(line, &m)
		return message.Unified{
			Type:    message.TypeStreamEvent,
			Role:    message.RoleAssistant,
			Content: []message.Block{{Type: message.BlockText, Text: m.Text}},
		}, true, nil
	case "permission_request":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypePermissionRequest, Role: message.RoleSystem, Metadata: m}, true, nil
	case "turn_done":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypeResult, Role: message.RoleSystem, Metadata: m}, true, nil
	default:
		return message.Unified{}, false, nil
	}
}

func contentText(msg message.Unified) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == message.BlockText {
			out += b.Text
		}
	}
	return out
}
