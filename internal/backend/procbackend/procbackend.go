// Package procbackend spawns an agent CLI as a local child process under a
// PTY and forwards its terminal output as UnifiedMessage stream_event
// deltas. It backs only the generic (non-structured-protocol) adapter;
// the claude/codex/gemini/opencode adapters spawn their children over
// plain pipes through internal/backend/ndjson.
//
// Grounded on the teacher's internal/session/virtualterminal.VT.StartPTY
// (PTY spawn/resize/write) and internal/session/agent/harness/generic
// (the harness with no structured protocol, output-only idle detection),
// generalized from "one child for the whole daemon" to "one child per
// backend-adapter session."
package procbackend

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
	"github.com/vito/midterm"

	"beamcode/internal/backend"
	"beamcode/internal/message"
)

func init() {
	backend.Register("generic", func() backend.Adapter { return New("", nil) }, false)
}

// Adapter implements backend.Adapter for a PTY-spawned local CLI.
type Adapter struct {
	command string
	args    []string
}

// New returns a procbackend adapter that spawns command with args.
func New(command string, args []string) *Adapter {
	return &Adapter{command: command, args: args}
}

func (a *Adapter) Name() string { return "generic" }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:     true,
		Permissions:   false,
		SlashCommands: false,
		Availability:  backend.AvailabilityLocal,
		Teams:         false,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	command := a.command
	args := a.args
	if cmdOverride, ok := opts.AdapterOptions["command"].(string); ok && cmdOverride != "" {
		parts, err := shlex.Split(cmdOverride)
		if err != nil {
			return nil, fmt.Errorf("procbackend: parse command: %w", err)
		}
		if len(parts) > 0 {
			command = parts[0]
			args = append(parts[1:], args...)
		}
	}
	if command == "" {
		return nil, fmt.Errorf("procbackend: no command configured")
	}

	rows, cols := 24, 80

	cmd := exec.Command(command, args...)
	if cwd, ok := opts.AdapterOptions["cwd"].(string); ok && cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrExitBeforeReady, err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		sessionID: opts.SessionID,
		cmd:       cmd,
		ptmx:      ptmx,
		term:      midterm.NewTerminal(rows, cols),
		messages:  make(chan message.Unified, 64),
		cancel:    cancel,
	}
	go s.pump(sessCtx)
	go s.waitExit()
	return s, nil
}

// Session is a procbackend.Session: a PTY-backed child process exposed as
// a backend.Session.
type Session struct {
	sessionID string
	cmd       *exec.Cmd
	ptmx      *os.File
	term      *midterm.Terminal
	termMu    sync.Mutex

	messages chan message.Unified
	cancel   context.CancelFunc

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (s *Session) SessionID() string { return s.sessionID }

// Send writes text input to the child's stdin (PTY master), matching the
// teacher's PTYInputSender.
func (s *Session) Send(ctx context.Context, msg message.Unified) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backend.ErrSessionClosed
	}
	text := flattenText(msg)
	if text == "" {
		return nil
	}
	if _, err := s.ptmx.Write([]byte(text)); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	_, err := s.ptmx.Write([]byte{'\r'})
	return err
}

// SendRaw writes raw bytes directly to the PTY, e.g. control characters.
func (s *Session) SendRaw(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backend.ErrSessionClosed
	}
	_, err := s.ptmx.Write(payload)
	return err
}

func (s *Session) Messages() <-chan message.Unified { return s.messages }

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		err = s.ptmx.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return err
}

// pump reads PTY output, writes it into the headless terminal, and emits
// each chunk as a stream_event delta holding the raw PTY bytes, ANSI
// escape sequences included; the terminal's parsed screen is not used
// for the emitted text. Terminates when the PTY closes or ctx is
// cancelled, closing s.messages.
func (s *Session) pump(ctx context.Context) {
	defer close(s.messages)
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.termMu.Lock()
			s.term.Write(buf[:n])
			s.termMu.Unlock()
			evt := message.Unified{
				Type: message.TypeStreamEvent,
				Role: message.RoleAssistant,
				Content: []message.Block{{
					Type: message.BlockText,
					Text: string(buf[:n]),
				}},
			}
			select {
			case s.messages <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case s.messages <- backend.DisconnectResult(err.Error()):
				case <-ctx.Done():
				}
			}
			return
		}
	}
}

func (s *Session) waitExit() {
	_ = s.cmd.Wait()
}

func flattenText(msg message.Unified) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == message.BlockText {
			out += b.Text
		}
	}
	return out
}
