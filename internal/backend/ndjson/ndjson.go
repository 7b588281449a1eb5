// Package ndjson implements the shared plumbing for adapters whose
// backend speaks newline-delimited JSON over a child process's stdio
// (Claude Code's --output-format stream-json, Codex's event protocol,
// Gemini CLI, and Opencode all fit this shape). Each concrete adapter
// supplies ToWire/FromWire translation functions per spec §4.1's
// "adapters are pure translators" discipline; all state mutation still
// happens in the core reducer on the normalized stream this package
// produces.
//
// Grounded on the teacher's harness/claude and harness/codex packages,
// which both parse line-oriented JSON telemetry from a child process,
// generalized here from "telemetry sidecar next to a PTY" to "the
// backend's sole transport."
package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"beamcode/internal/backend"
	"beamcode/internal/message"
)

// ToWire renders a UnifiedMessage as one or more raw wire lines to write
// to the child's stdin. Returning nil means "nothing to send" (e.g. a
// message type this adapter's protocol has no wire form for).
type ToWire func(msg message.Unified) ([]byte, error)

// FromWire parses one line of the child's stdout into a UnifiedMessage.
// Returning (zero, false, nil) means "drop" (spec §4.1: null => not
// forwarded to consumers).
type FromWire func(line []byte) (message.Unified, bool, error)

// Spawn starts command under a plain (non-PTY) process with piped
// stdin/stdout, matching the JSON-RPC/NDJSON backends that don't need a
// terminal — unlike procbackend, which PTY-wraps commands that expect
// one.
type Spawn struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	ToWire  ToWire
	FromWire FromWire
}

// Start launches the process and returns a ready backend.Session.
func (s Spawn) Start(ctx context.Context, sessionID string) (backend.Session, error) {
	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Dir = s.Dir
	if s.Env != nil {
		cmd.Env = s.Env
	} else {
		cmd.Env = os.Environ()
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrExitBeforeReady, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrExitBeforeReady, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrExitBeforeReady, err)
	}

	sess := &Session{
		sessionID: sessionID,
		cmd:       cmd,
		stdin:     stdin,
		messages:  make(chan message.Unified, 64),
		toWire:    s.ToWire,
		fromWire:  s.FromWire,
	}
	go sess.readLoop(stdout)
	return sess, nil
}

// Session is a backend.Session backed by a child process's stdin/stdout
// NDJSON streams.
type Session struct {
	sessionID string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	messages  chan message.Unified

	toWire   ToWire
	fromWire FromWire

	mu     sync.Mutex
	closed bool
}

func (s *Session) SessionID() string { return s.sessionID }

func (s *Session) Send(ctx context.Context, msg message.Unified) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backend.ErrSessionClosed
	}
	line, err := s.toWire(msg)
	if err != nil {
		return err
	}
	if line == nil {
		return nil
	}
	_, err = s.stdin.Write(append(line, '\n'))
	return err
}

func (s *Session) SendRaw(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backend.ErrSessionClosed
	}
	_, err := s.stdin.Write(payload)
	return err
}

func (s *Session) Messages() <-chan message.Unified { return s.messages }

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}

func (s *Session) readLoop(stdout io.ReadCloser) {
	defer close(s.messages)
	defer stdout.Close()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		msg, ok, err := s.fromWire(cp)
		if err != nil || !ok {
			continue
		}
		s.messages <- msg
	}
	if err := scanner.Err(); err != nil {
		s.messages <- backend.DisconnectResult(err.Error())
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.messages <- backend.DisconnectResult("stdout closed")
	}
}

// DecodeJSON is a small helper concrete adapters use inside FromWire.
func DecodeJSON(line []byte, v any) error {
	return json.Unmarshal(line, v)
}
