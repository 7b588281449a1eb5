// Package codexadapter normalizes the Codex CLI's exec --json event
// protocol to UnifiedMessage and exposes a SlashExecutor for the
// handful of slash commands Codex can run itself without a full
// round-trip (spec §4.7's "Adapter-Native" link, using Codex's
// /compact, /new, /review, /rename as the worked example).
//
// Grounded on the teacher's harness/codex package (event type
// dispatch, thread/turn bookkeeping) and harness/claude's control
// protocol shape for the permission round trip.
package codexadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"beamcode/internal/backend"
	"beamcode/internal/backend/ndjson"
	"beamcode/internal/message"
)

func init() {
	backend.Register("codex", func() backend.Adapter { return New("codex") }, false)
}

// Adapter implements backend.Adapter and backend.SlashExecutorFactory
// for the Codex CLI.
type Adapter struct {
	binary string
}

func New(binary string) *Adapter {
	if binary == "" {
		binary = "codex"
	}
	return &Adapter{binary: binary}
}

func (a *Adapter) Name() string { return "codex" }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Availability:  backend.AvailabilityLocal,
		Teams:         false,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	args := []string{"exec", "--json", "--experimental-json-input"}
	if opts.Resume && opts.SessionID != "" {
		args = append(args, "resume", opts.SessionID)
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
	sess, err := spawn.Start(ctx, opts.SessionID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateSlashExecutor implements backend.SlashExecutorFactory. sess must
// be the *ndjson.Session returned by Connect.
func (a *Adapter) CreateSlashExecutor(sess backend.Session) (backend.SlashExecutor, error) {
	rs, ok := sess.(rawSender)
	if !ok {
		return nil, fmt.Errorf("codexadapter: session does not support raw send")
	}
	return &slashExecutor{sess: rs}, nil
}

type rawSender interface {
	SendRaw(ctx context.Context, payload []byte) error
}

var nativeCommands = map[string]string{
	"/compact": "compact",
	"/new":     "new",
	"/review":  "review",
	"/rename":  "rename",
}

// slashExecutor runs the subset of slash commands Codex implements
// internally, so the Slash Command Chain's Adapter-Native link (spec
// §4.7) can avoid sending them as ordinary user turns.
type slashExecutor struct {
	sess rawSender
}

func (e *slashExecutor) Handles(command string) bool {
	_, ok := nativeCommands[command]
	return ok
}

func (e *slashExecutor) SupportedCommands() []string {
	out := make([]string, 0, len(nativeCommands))
	for k := range nativeCommands {
		out = append(out, k)
	}
	return out
}

func (e *slashExecutor) Execute(ctx context.Context, command string) (*backend.SlashResult, error) {
	op, ok := nativeCommands[command]
	if !ok {
		return nil, backend.ErrUnsupported
	}
	start := time.Now()
	line, err := json.Marshal(map[string]any{
		"type": "control_request",
		"op":   op,
	})
	if err != nil {
		return nil, err
	}
	if err := e.sess.SendRaw(ctx, append(line, '\n')); err != nil {
		return nil, err
	}
	return &backend.SlashResult{
		Content:    fmt.Sprintf("codex: %s acknowledged", op),
		Source:     "emulated",
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func toWire(msg message.Unified) ([]byte, error) {
	switch msg.Type {
	case message.TypeUserMessage:
		return json.Marshal(map[string]any{
			"type": "user_input",
			"text": contentText(msg),
		})
	case message.TypePermissionResponse:
		return json.Marshal(map[string]any{
			"type":       "control_response",
			"request_id": msg.Metadata["request_id"],
			"decision":   msg.Metadata["behavior"],
		})
	case message.TypeInterrupt:
		return json.Marshal(map[string]any{"type": "interrupt"})
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
	case "session_configured":
		var cfg map[string]any
		_ = json.Unmarshal(line, &cfg)
		return message.Unified{Type: message.TypeSessionInit, Role: message.RoleSystem, Metadata: cfg}, true, nil
	case "agent_message", "agent_message_delta":
		var m struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(line, &m)
		return message.Unified{
			Type:    message.TypeStreamEvent,
			Role:    message.RoleAssistant,
			Content: []message.Block{{Type: message.BlockText, Text: m.Text}},
		}, true, nil
	case "exec_approval_request", "apply_patch_approval_request":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypePermissionRequest, Role: message.RoleSystem, Metadata: m}, true, nil
	case "task_complete", "turn_complete":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypeResult, Role: message.RoleSystem, Metadata: m}, true, nil
	case "control_response":
		var m map[string]any
		_ = json.Unmarshal(line, &m)
		return message.Unified{Type: message.TypeControlResponse, Role: message.RoleSystem, Metadata: m}, true, nil
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
