// Package slashcmd implements the Slash Command Chain (spec §4.7): a
// fixed-order chain of handlers for a consumer-submitted "/command"
// line. Local handlers answer from broker-owned state without touching
// the backend; Adapter-Native handlers delegate to a backend.SlashExecutor
// when the adapter can run the command itself; Passthrough hands back
// commands the session's CommandRegistry knows, for sending as an
// ordinary user message; Unsupported is the error for any command no
// earlier link claims.
//
// Grounded on the teacher's Session.handleSlashCommand dispatch (itself
// a fixed-order chain of "is this built-in -> does the harness expose
// one -> else send as text"), generalized to the Adapter-Native link's
// SlashExecutor contract from spec §4.1 / §4.7's worked Codex example.
package slashcmd

import (
	"context"
	"fmt"

	"beamcode/internal/backend"
	"beamcode/internal/session"
)

// Result describes how a slash command was handled, for the caller to
// turn into a UnifiedMessage or error response to the consumer.
type Result struct {
	Handler string // "local", "adapter_native", "passthrough", "unsupported"
	Content string
	Source  string // "local" or "emulated", matching spec's result.source
}

// LocalHandler answers a command entirely from broker state (e.g.
// "/help" listing known commands). ok is false if this handler doesn't
// recognize the command.
type LocalHandler func(ctx context.Context, rtm *session.Runtime, command, args string) (Result, bool, error)

// Chain runs the four-link slash command chain for one session.
type Chain struct {
	locals []LocalHandler
}

// NewChain builds a Chain with the given local handlers, tried in
// order before falling through to the adapter-native and passthrough
// links.
func NewChain(locals ...LocalHandler) *Chain {
	return &Chain{locals: locals}
}

// Execute runs command (with its raw argument string, everything after
// the command token) through the chain for rtm. Exactly one link
// handles a given command (spec §8.7's chain-exactly-once invariant):
// Local short-circuits; failing that, an adapter-native SlashExecutor
// that Handles() the command short-circuits; failing that, anything
// the registry doesn't recognize at all and the adapter doesn't claim
// is Unsupported rather than silently passed through, so operators see
// a clear error instead of the agent misinterpreting a typo'd command.
func (c *Chain) Execute(ctx context.Context, rtm *session.Runtime, adapter backend.Adapter, command, args string) (Result, error) {
	for _, h := range c.locals {
		res, ok, err := h(ctx, rtm, command, args)
		if ok {
			res.Handler = "local"
			res.Source = "local"
			return res, err
		}
	}

	if factory, ok := adapter.(backend.SlashExecutorFactory); ok {
		if sess, ok := rtm.Backend().(backend.Session); ok {
			executor, err := factory.CreateSlashExecutor(sess)
			if err == nil && executor.Handles(command) {
				sr, err := executor.Execute(ctx, command)
				if err != nil {
					return Result{}, fmt.Errorf("slashcmd: adapter-native %s: %w", command, err)
				}
				return Result{Handler: "adapter_native", Content: sr.Content, Source: sr.Source}, nil
			}
		}
	}

	if rtm.Registry().Known(command) {
		return Result{Handler: "passthrough"}, nil
	}

	return Result{Handler: "unsupported"}, backend.ErrUnsupported
}

// BuiltinHelp is the one fixed Local handler every session gets: "/help"
// lists every command the registry currently knows about, across
// builtins, adapter-reported commands, and skills.
func BuiltinHelp(ctx context.Context, rtm *session.Runtime, command, args string) (Result, bool, error) {
	if command != "/help" {
		return Result{}, false, nil
	}
	commands := rtm.Registry().All()
	content := "available commands:"
	for _, c := range commands {
		content += " " + c
	}
	return Result{Content: content}, true, nil
}
