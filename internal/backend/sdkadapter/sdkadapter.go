// Package sdkadapter implements the inverted backend connection: rather
// than the broker dialing out to a CLI, an embedding SDK process dials
// the broker's CLI Gateway and is handed to whichever session is
// waiting for it by session id (spec §4.1, §4.12). Registered under the
// name "sdk-url" — "claude" remains the canonical default adapter name
// for the dialed-out CLI integration.
//
// Grounded on the teacher's internal/daemon rendezvous table (matching
// an inbound Unix-socket connection to a waiting session by name) and
// internal/socketdir's naming scheme, generalized from filesystem
// sockets to WebSocket connections accepted by the CLI Gateway.
package sdkadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"beamcode/internal/backend"
	"beamcode/internal/message"
)

func init() {
	backend.Register("sdk-url", func() backend.Adapter { return newSingleton() }, true)
}

// socketConn is the narrow interface sdkadapter needs from whatever
// transport the CLI Gateway hands it (a *websocket.Conn wrapped to
// satisfy io.ReadWriteCloser, or a net.Conn in tests).
type socketConn interface {
	io.ReadWriteCloser
}

// Adapter is the process-wide singleton InvertedAdapter instance. The
// Resolver eagerly constructs exactly one and shares it across every
// session that requests "sdk-url".
type Adapter struct {
	mu      sync.Mutex
	waiting map[string]chan socketConn
}

func newSingleton() *Adapter {
	return &Adapter{
		waiting: make(map[string]chan socketConn),
	}
}

func (a *Adapter) Name() string { return "sdk-url" }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: false,
		Availability:  backend.AvailabilityRemote,
		Teams:         false,
	}
}

// Connect registers sessionID as awaiting an inbound dial-in and blocks
// until DeliverSocket hands one over, ctx is cancelled, or
// CancelPending fires.
func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	ch := make(chan socketConn, 1)
	a.mu.Lock()
	a.waiting[opts.SessionID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiting, opts.SessionID)
		a.mu.Unlock()
	}()

	select {
	case conn, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: dial-in wait for %s cancelled", backend.ErrHandshakeTimeout, opts.SessionID)
		}
		sess := &Session{
			sessionID: opts.SessionID,
			conn:      conn,
			messages:  make(chan message.Unified, 64),
		}
		go sess.readLoop()
		return sess, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", backend.ErrHandshakeTimeout, ctx.Err())
	}
}

// DeliverSocket hands an inbound CLI Gateway connection to the session
// waiting for it. Returns false if no session with that id is waiting
// (the CLI Gateway should then close the socket with an error frame).
func (a *Adapter) DeliverSocket(sessionID string, socket any) bool {
	conn, ok := socket.(socketConn)
	if !ok {
		return false
	}
	a.mu.Lock()
	ch, ok := a.waiting[sessionID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- conn:
		return true
	default:
		return false
	}
}

// CancelPending abandons a session's dial-in wait, e.g. when the
// session is deleted before its embedding SDK ever connects.
func (a *Adapter) CancelPending(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.waiting[sessionID]; ok {
		close(ch)
		delete(a.waiting, sessionID)
	}
}

// Session is a backend.Session over a CLI-Gateway-delivered socket,
// framed as newline-delimited JSON matching the rest of the structured
// adapters.
type Session struct {
	sessionID string
	conn      socketConn
	messages  chan message.Unified

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
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(append(line, '\n'))
	return err
}

func (s *Session) SendRaw(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return backend.ErrSessionClosed
	}
	_, err := s.conn.Write(payload)
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
	return s.conn.Close()
}

func (s *Session) readLoop() {
	defer close(s.messages)
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message.Unified
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		s.messages <- msg
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.messages <- backend.DisconnectResult("sdk socket closed")
	}
}

// waitTimeout is the default dial-in wait bound. The coordinator bounds
// Connect's ctx with config Timeouts.SDKDialIn instead, whose default is
// the same two minutes.
const waitTimeout = 2 * time.Minute

// WaitTimeout returns the default dial-in wait bound.
func WaitTimeout() time.Duration { return waitTimeout }
