// Package claudeadapter normalizes Claude Code's --output-format
// stream-json NDJSON protocol to UnifiedMessage. Grounded on the
// teacher's internal/session/agent/harness/claude package (CLI flags,
// --session-id prepending) and internal/session/agent/harness/claude/
// event_handler.go's event-name dispatch.
package claudeadapter

import (
	"context"
	"encoding/json"
	"os"

	"beamcode/internal/backend"
	"beamcode/internal/backend/ndjson"
	"beamcode/internal/message"
)

func init() {
	backend.Register("claude", func() backend.Adapter { return New("claude") }, false)
}

// Adapter implements backend.Adapter for the Claude Code CLI.
type Adapter struct {
	binary string
}

// New returns a claude adapter invoking the given binary (default
// "claude" if empty).
func New(binary string) *Adapter {
	if binary == "" {
		binary = "claude"
	}
	return &Adapter{binary: binary}
}

func (a *Adapter) Name() string { return "claude" }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Availability:  backend.AvailabilityLocal,
		Teams:         true,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	args := []string{"--output-format", "stream-json", "--input-format", "stream-json", "--verbose"}
	if opts.SessionID != "" {
		args = append(args, "--session-id", opts.SessionID)
	}
	if opts.Resume {
		args = append(args, "--resume", opts.SessionID)
	}
	if model, ok := opts.AdapterOptions["model"].(string); ok && model != "" {
		args = append(args, "--model", model)
	}
	if mode, ok := opts.AdapterOptions["permission_mode"].(string); ok && mode != "" {
		args = append(args, "--permission-mode", mode)
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

// toWire renders a consumer-originated UnifiedMessage as a stream-json
// input line.
func toWire(msg message.Unified) ([]byte, error) {
	switch msg.Type {
	case message.TypeUserMessage:
		return json.Marshal(map[string]any{
			"type": "user",
			"message": map[string]any{
				"role":    "user",
				"content": contentText(msg),
			},
		})
	case message.TypePermissionResponse:
		return json.Marshal(map[string]any{
			"type":       "control_response",
			"request_id": msg.Metadata["request_id"],
			"response": map[string]any{
				"behavior": msg.Metadata["behavior"],
			},
		})
	case message.TypeInterrupt:
		return json.Marshal(map[string]any{"type": "control_request", "subtype": "interrupt"})
	default:
		return nil, nil
	}
}

// fromWire parses one stream-json output line into a UnifiedMessage.
func fromWire(line []byte) (message.Unified, bool, error) {
	var env struct {
		Type    string          `json:"type"`
		Subtype string          `json:"subtype"`
		Message json.RawMessage `json:"message"`
	}
	if err := ndjson.DecodeJSON(line, &env); err != nil {
		return message.Unified{}, false, err
	}
	switch env.Type {
	case "system":
		if env.Subtype == "init" {
			var init struct {
				Model         string   `json:"model"`
				CWD           string   `json:"cwd"`
				Tools         []string `json:"tools"`
				MCPServers    []string `json:"mcp_servers"`
				SlashCommands []string `json:"slash_commands"`
			}
			_ = json.Unmarshal(line, &init)
			return message.Unified{
				Type: message.TypeSessionInit,
				Role: message.RoleSystem,
				Metadata: map[string]any{
					"model":          init.Model,
					"cwd":            init.CWD,
					"tools":          toAnySlice(init.Tools),
					"mcp_servers":    toAnySlice(init.MCPServers),
					"slash_commands": toAnySlice(init.SlashCommands),
				},
			}, true, nil
		}
		return message.Unified{}, false, nil
	case "assistant":
		return message.Unified{
			Type: message.TypeStreamEvent,
			Role: message.RoleAssistant,
			Content: []message.Block{{
				Type: message.BlockText,
				Text: string(env.Message),
			}},
		}, true, nil
	case "result":
		var res map[string]any
		_ = json.Unmarshal(line, &res)
		return message.Unified{Type: message.TypeResult, Role: message.RoleSystem, Metadata: res}, true, nil
	case "control_response":
		var res map[string]any
		_ = json.Unmarshal(line, &res)
		return message.Unified{Type: message.TypeControlResponse, Role: message.RoleSystem, Metadata: res}, true, nil
	case "permission_request":
		var res map[string]any
		_ = json.Unmarshal(line, &res)
		return message.Unified{Type: message.TypePermissionRequest, Role: message.RoleSystem, Metadata: res}, true, nil
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

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
