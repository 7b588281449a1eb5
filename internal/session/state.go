// Package session owns the Session aggregate, its SessionState, the pure
// state reducer, the capabilities handshake, and the Session Runtime that
// is the sole authority for per-session mutable state (spec §3, §4.5,
// §4.6, §4.10).
package session

import "time"

// Status mirrors spec §3's lastStatus enum.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusCompacting  Status = "compacting"
)

// ModelUsage accumulates per-model token/cost counters for a result
// message, keyed by model name in State.ModelUsage.
type ModelUsage struct {
	InputTokens        int64   `json:"input_tokens"`
	OutputTokens       int64   `json:"output_tokens"`
	CacheReadTokens    int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
	ContextWindow      int64   `json:"context_window"`
	ContextUsedPercent float64 `json:"context_used_percent"`
}

// TeamMember tracks one collaborative-agent participant derived from team
// tool calls (spec §4.5 team reducer).
type TeamMember struct {
	Name       string    `json:"name"`
	TeamName   string    `json:"team_name"`
	Status     string    `json:"status"` // active, shutdown
	LastActive time.Time `json:"last_active"`
}

// TeamTask tracks one TaskCreate-derived unit of work.
type TeamTask struct {
	ID        string `json:"id"` // "tu-<toolUseId>" until correlated, then the real id
	TeamName  string `json:"team_name"`
	Assignee  string `json:"assignee,omitempty"`
	Synthetic bool   `json:"synthetic"`
}

// TeamState is the team sub-record of SessionState.
type TeamState struct {
	Members map[string]*TeamMember `json:"members"`
	Tasks   map[string]*TeamTask   `json:"tasks"`
}

func newTeamState() TeamState {
	return TeamState{
		Members: make(map[string]*TeamMember),
		Tasks:   make(map[string]*TeamTask),
	}
}

// Capabilities is the adapter-reported capability set from the initialize
// handshake (spec §4.6).
type Capabilities struct {
	Commands   []string  `json:"commands"`
	Models     []string  `json:"models"`
	Account    string    `json:"account,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// State is the persisted SessionState record (spec §3).
type State struct {
	SessionID      string `json:"session_id"`
	Model          string `json:"model"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permission_mode"`
	Tools          []string `json:"tools,omitempty"`
	MCPServers     []string `json:"mcp_servers,omitempty"`
	SlashCommands  []string `json:"slash_commands,omitempty"`
	Skills         []string `json:"skills,omitempty"`

	Capabilities Capabilities `json:"capabilities"`

	// Aggregate cost/turn counters.
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int64   `json:"num_turns"`
	LinesAdded   int64   `json:"lines_added"`
	LinesRemoved int64   `json:"lines_removed"`
	DurationMS   int64   `json:"duration_ms"`

	ModelUsage map[string]*ModelUsage `json:"model_usage,omitempty"`

	IsCompacting bool `json:"is_compacting"`

	// Git working-tree snapshot (internal/gitstat).
	GitBranch   string `json:"git_branch,omitempty"`
	GitWorktree string `json:"git_worktree,omitempty"`
	GitRepoRoot string `json:"git_repo_root,omitempty"`
	GitAhead    int    `json:"git_ahead"`
	GitBehind   int    `json:"git_behind"`

	Team TeamState `json:"team"`

	// Tags is operator-supplied metadata, carried unchanged by the reducer.
	Tags map[string]string `json:"tags,omitempty"`
}

// NewState returns a zero-value State with its maps initialized.
func NewState(sessionID string) State {
	return State{
		SessionID:  sessionID,
		ModelUsage: make(map[string]*ModelUsage),
		Team:       newTeamState(),
		Tags:       make(map[string]string),
	}
}

// Clone returns a deep-enough copy of s for the reducer's copy-on-write
// discipline (spec §4.5: "return the same reference if nothing changed").
func (s State) Clone() State {
	n := s
	n.Tools = append([]string(nil), s.Tools...)
	n.MCPServers = append([]string(nil), s.MCPServers...)
	n.SlashCommands = append([]string(nil), s.SlashCommands...)
	n.Skills = append([]string(nil), s.Skills...)
	n.ModelUsage = make(map[string]*ModelUsage, len(s.ModelUsage))
	for k, v := range s.ModelUsage {
		cp := *v
		n.ModelUsage[k] = &cp
	}
	n.Team.Members = make(map[string]*TeamMember, len(s.Team.Members))
	for k, v := range s.Team.Members {
		cp := *v
		n.Team.Members[k] = &cp
	}
	n.Team.Tasks = make(map[string]*TeamTask, len(s.Team.Tasks))
	for k, v := range s.Team.Tasks {
		cp := *v
		n.Team.Tasks[k] = &cp
	}
	n.Tags = make(map[string]string, len(s.Tags))
	for k, v := range s.Tags {
		n.Tags[k] = v
	}
	return n
}

// PermissionRequest is created when the Router observes an adapter
// permission_request and removed on a matching permission_response or
// session close (spec §3).
type PermissionRequest struct {
	RequestID  string         `json:"request_id"`
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Input      map[string]any `json:"input"`
	Timestamp  time.Time      `json:"timestamp"`
	Hints      map[string]any `json:"hints,omitempty"`
}

// ConsumerRole distinguishes participants from silent observers (spec §3).
type ConsumerRole string

const (
	RoleParticipant ConsumerRole = "participant"
	RoleObserver    ConsumerRole = "observer"
)

// ConsumerIdentity is created during auth (or defaulted to anonymous) and
// lives for the duration of one consumer socket.
type ConsumerIdentity struct {
	UserID      string       `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Role        ConsumerRole `json:"role"`
}
