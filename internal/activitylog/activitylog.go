// Package activitylog is BeamCode's structured event log: one JSON
// object per line, one line per session lifecycle/backend/consumer
// event, written via rs/zerolog (spec §7's ambient logging stack).
//
// Grounded on the teacher's internal/activitylog JSONL-append idiom
// (one file per agent, buffered writer, best-effort flush), adapted to
// write through a zerolog.Logger instead of hand-rolled JSON encoding
// so log level, caller info, and sink configuration come from the
// shared logging setup in cmd/beamcoded.
package activitylog

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Logger appends structured events for one broker instance. Multiple
// sessions share one Logger; each entry carries its own session_id
// field rather than living in a per-session file, so a single tail -f
// shows the whole broker's activity in causal order.
type Logger struct {
	zl zerolog.Logger

	mu     sync.Mutex
	file   *os.File
}

// Options configures where and how verbosely the activity log writes.
type Options struct {
	// Path is the JSONL file to append to. Empty disables file output
	// (events still reach Console if set).
	Path string
	// Console mirrors events to w in zerolog's human-readable console
	// format, typically os.Stderr during development.
	Console io.Writer
	// Level is the minimum zerolog level that reaches any sink.
	Level zerolog.Level
}

// New opens (creating parent directories as needed) the log file at
// opts.Path and returns a ready Logger. If opts.Path is empty, events
// only reach opts.Console, if set.
func New(opts Options) (*Logger, error) {
	var writers []io.Writer
	var file *os.File

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		file = f
		writers = append(writers, f)
	}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(opts.Level).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl, file: file}, nil
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Event appends one structured event. fields is optional extra context
// (tool names, byte counts, error strings); nil is fine.
func (l *Logger) Event(sessionID, event string, fields map[string]any) {
	e := l.zl.Info().Str("session_id", sessionID).Str("event", event)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(event)
}

// Error appends a failure event at warn level.
func (l *Logger) Error(sessionID, event string, err error, fields map[string]any) {
	e := l.zl.Warn().Str("session_id", sessionID).Str("event", event).Err(err)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(event)
}

// Emit implements coordinator.EventSink, letting the Router log every
// domain event it raises without coordinator importing activitylog
// directly.
func (l *Logger) Emit(sessionID, event string, fields map[string]any) {
	l.Event(sessionID, event, fields)
}
