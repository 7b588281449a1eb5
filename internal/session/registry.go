package session

import "sync"

// CommandRegistry is a session's built-in + CLI-reported + skill-derived
// slash-command table. Restored sessions repopulate it from persisted
// slash commands and skills so commands work before the backend
// re-attaches (spec §4.11).
type CommandRegistry struct {
	mu       sync.RWMutex
	builtins map[string]bool
	reported map[string]bool // adapter-advertised via capabilities/session_init
	skills   map[string]bool
}

// NewCommandRegistry returns a registry seeded with the fixed built-in set.
func NewCommandRegistry() *CommandRegistry {
	r := &CommandRegistry{
		builtins: map[string]bool{"/help": true},
		reported: make(map[string]bool),
		skills:   make(map[string]bool),
	}
	return r
}

// RegisterReported adds commands the adapter advertised (via the
// capabilities handshake or a session_init's slash_commands field).
func (r *CommandRegistry) RegisterReported(commands []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range commands {
		r.reported[c] = true
	}
}

// RegisterSkills adds skill-derived slash commands (e.g. "/my-skill").
func (r *CommandRegistry) RegisterSkills(skills []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range skills {
		r.skills[s] = true
	}
}

// Known reports whether command is registered by any source.
func (r *CommandRegistry) Known(command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builtins[command] || r.reported[command] || r.skills[command]
}

// IsBuiltin reports whether command is a local built-in.
func (r *CommandRegistry) IsBuiltin(command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builtins[command]
}

// All returns every known command name.
func (r *CommandRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builtins)+len(r.reported)+len(r.skills))
	for c := range r.builtins {
		out = append(out, c)
	}
	for c := range r.reported {
		out = append(out, c)
	}
	for c := range r.skills {
		out = append(out, c)
	}
	return out
}
