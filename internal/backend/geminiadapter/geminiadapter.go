// Package geminiadapter normalizes the Gemini CLI's --output-format
// json streaming protocol to UnifiedMessage.
//
// Grounded on the teacher's harness/claude package for overall shape
// (it is the closest of the teacher's harnesses to Gemini's
// line-delimited JSON event stream), adapted to Gemini's event names.
package geminiadapter

import (
	"context"
	"encoding/json"
	"os"

	"beamcode/internal/backend"
	"beamcode/internal/backend/ndjson"
	"beamcode/internal/message"
)

func init() {
	backend.Register("gemini", func() backend.Adapter { return New("gemini") }, false)
}

type Adapter struct {
	binary string
}

func New(binary string) *Adapter {
	if binary == "" {
		binary = "gemini"
	}
	return &Adapter{binary: binary}
}

func (a *Adapter) Name() string { return "gemini" }

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
	args := []string{"--output-format", "stream-json"}
	if opts.SessionID != "" {
		args = append(args, "--session-id", opts.SessionID)
	}
	if model, ok := opts.AdapterOptions["model"].(string); ok && model != "" {
		args = append(args, "--model", model)
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
			"type":  "user_turn",
			"parts": []map[string]any{{"text": contentText(msg)}},
		})
	case message.TypePermissionResponse:
		return json.Marshal(map[string]any{
			"type":       "tool_confirmation",
			"request_id": msg.Metadata["request_id"],
			"outcome":    msg.Metadata["behavior"],
		})
	case message.TypeInterrupt:
		return json.Marshal(map[string]any{"type": "cancel"})
	default:
		return nil, nil
	}
}

func fromWire(line []byte) (message.Unified, bool, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := ndjson.DecodeJSON(line, &env); err != nil {
		return message.Unified{}, false, err
	}
	switch env.Type {
	case "init":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypeSessionInit, Role: message.RoleSystem, Metadata: m}, true, nil
	case "content":
		var m struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(line, &m)
		return message.Unified{
			Type:    message.TypeStreamEvent,
			Role:    message.RoleAssistant,
			Content: []message.Block{{Type: message.BlockText, Text: m.Text}},
		}, true, nil
	case "tool_confirmation_request":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypePermissionRequest, Role: message.RoleSystem, Metadata: m}, true, nil
	case "turn_complete":
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
