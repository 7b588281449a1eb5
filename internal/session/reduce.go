package session

import (
	"math"
	"strings"
	"time"

	"beamcode/internal/message"
)

// teamCorrelationTTL is how long a buffered tool_use entry waits for its
// matching tool_result before being flushed (spec §4.5).
const teamCorrelationTTL = 30 * time.Second

// teamTools is the closed set of tool names the team reducer recognizes.
var teamTools = map[string]bool{
	"TeamCreate":  true,
	"TaskCreate":  true,
	"SendMessage": true,
	"Task":        true,
}

// correlationEntry is one buffered tool_use awaiting its tool_result.
type correlationEntry struct {
	ToolUseID string
	ToolName  string
	Input     map[string]any
	BufferedAt time.Time
}

// CorrelationBuffer is the per-session buffer pairing tool_use events with
// later tool_result events (spec §3 teamCorrelationBuffer, §4.5, §8.5).
// It is owned by the Session Runtime, not by State, because it is
// transient bookkeeping rather than persisted state.
type CorrelationBuffer struct {
	entries map[string]*correlationEntry // keyed by ToolUseID
}

// NewCorrelationBuffer returns an empty buffer.
func NewCorrelationBuffer() *CorrelationBuffer {
	return &CorrelationBuffer{entries: make(map[string]*correlationEntry)}
}

// Expire drops entries older than teamCorrelationTTL, relative to now.
func (b *CorrelationBuffer) Expire(now time.Time) {
	for id, e := range b.entries {
		if now.Sub(e.BufferedAt) > teamCorrelationTTL {
			delete(b.entries, id)
		}
	}
}

// Reduce applies msg to state, returning the resulting state. It returns
// the same state value unchanged (by reference semantics: a State with
// identical contents) when msg carries no state-relevant change, so
// callers can cheaply skip persistence/broadcast of a no-op update.
//
// buf is the session's CorrelationBuffer, threaded in because the pure
// reducer needs somewhere to stash in-flight tool_use events across calls;
// it is not part of the persisted State.
func Reduce(state State, msg message.Unified, buf *CorrelationBuffer, now time.Time) State {
	switch msg.Type {
	case message.TypeSessionInit:
		return reduceSessionInit(state, msg)
	case message.TypeStatusChange:
		return reduceStatusChange(state, msg)
	case message.TypeResult:
		next := reduceResult(state, msg)
		return reduceTeamTools(next, msg, buf, now)
	case message.TypeConfigurationChange:
		return reduceConfigurationChange(state, msg)
	default:
		return reduceTeamTools(state, msg, buf, now)
	}
}

func reduceSessionInit(state State, msg message.Unified) State {
	next := state.Clone()
	if v, ok := msg.Metadata["model"].(string); ok && v != "" {
		next.Model = v
	}
	if v, ok := msg.Metadata["cwd"].(string); ok && v != "" {
		next.CWD = v
	}
	if v, ok := msg.Metadata["permission_mode"].(string); ok && v != "" {
		next.PermissionMode = v
	}
	if v, ok := stringSlice(msg.Metadata["tools"]); ok {
		next.Tools = v
	}
	if v, ok := stringSlice(msg.Metadata["mcp_servers"]); ok {
		next.MCPServers = v
	}
	if v, ok := stringSlice(msg.Metadata["slash_commands"]); ok {
		next.SlashCommands = v
	}
	if v, ok := stringSlice(msg.Metadata["skills"]); ok {
		next.Skills = v
	}
	return next
}

func reduceStatusChange(state State, msg message.Unified) State {
	changed := false
	next := state
	if v, ok := msg.Metadata["is_compacting"].(bool); ok && v != state.IsCompacting {
		next = next.Clone()
		next.IsCompacting = v
		changed = true
	}
	if v, ok := msg.Metadata["permission_mode"].(string); ok && v != "" && v != state.PermissionMode {
		if !changed {
			next = next.Clone()
		}
		next.PermissionMode = v
		changed = true
	}
	if !changed {
		return state
	}
	return next
}

func reduceResult(state State, msg message.Unified) State {
	next := state.Clone()
	if v, ok := numberVal(msg.Metadata["total_cost_usd"]); ok {
		next.TotalCostUSD = v
	}
	if v, ok := numberVal(msg.Metadata["num_turns"]); ok {
		next.NumTurns = int64(v)
	}
	if v, ok := numberVal(msg.Metadata["lines_added"]); ok {
		next.LinesAdded = int64(v)
	}
	if v, ok := numberVal(msg.Metadata["lines_removed"]); ok {
		next.LinesRemoved = int64(v)
	}
	if v, ok := numberVal(msg.Metadata["duration_ms"]); ok {
		next.DurationMS = int64(v)
	}
	if usageRaw, ok := msg.Metadata["model_usage"].(map[string]any); ok {
		for model, raw := range usageRaw {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			u := &ModelUsage{}
			if v, ok := numberVal(entry["input_tokens"]); ok {
				u.InputTokens = int64(v)
			}
			if v, ok := numberVal(entry["output_tokens"]); ok {
				u.OutputTokens = int64(v)
			}
			if v, ok := numberVal(entry["cache_read_tokens"]); ok {
				u.CacheReadTokens = int64(v)
			}
			if v, ok := numberVal(entry["cache_creation_tokens"]); ok {
				u.CacheCreationTokens = int64(v)
			}
			if v, ok := numberVal(entry["context_window"]); ok {
				u.ContextWindow = int64(v)
			}
			if u.ContextWindow > 0 {
				used := u.InputTokens + u.OutputTokens
				u.ContextUsedPercent = math.Round(float64(used) / float64(u.ContextWindow) * 100)
			}
			// Last writer wins when multiple model_usage entries name the
			// same model across repeated result messages.
			next.ModelUsage[model] = u
		}
	}
	return next
}

func reduceConfigurationChange(state State, msg message.Unified) State {
	next := state
	changed := false
	if v, ok := msg.Metadata["model"].(string); ok && v != "" && v != state.Model {
		next = next.Clone()
		next.Model = v
		changed = true
	}
	if v, ok := msg.Metadata["permission_mode"].(string); ok && v != "" && v != state.PermissionMode {
		if !changed {
			next = next.Clone()
		}
		next.PermissionMode = v
		changed = true
	}
	if !changed {
		return state
	}
	return next
}

// reduceTeamTools scans msg.Content for recognized team tool blocks and
// applies the team reducer rules from spec §4.5 / §8.5 / §8.6.
func reduceTeamTools(state State, msg message.Unified, buf *CorrelationBuffer, now time.Time) State {
	if buf == nil {
		return state
	}
	buf.Expire(now)

	next := state
	cloned := false
	ensureCloned := func() {
		if !cloned {
			next = state.Clone()
			cloned = true
		}
	}

	for _, block := range msg.Content {
		switch block.Type {
		case message.BlockToolUse:
			if !teamTools[block.ToolName] {
				continue
			}
			if block.ToolName == "Task" {
				if _, hasTeam := block.ToolInput["team_name"]; !hasTeam {
					continue
				}
				if _, hasName := block.ToolInput["name"]; !hasName {
					continue
				}
			}
			buf.entries[block.ToolUseID] = &correlationEntry{
				ToolUseID:  block.ToolUseID,
				ToolName:   block.ToolName,
				Input:      block.ToolInput,
				BufferedAt: now,
			}
			ensureCloned()
			applyOptimisticTeamTool(&next, block, now)

		case message.BlockToolResult:
			entry, ok := buf.entries[block.ToolResultForID]
			if !ok {
				continue
			}
			delete(buf.entries, block.ToolResultForID)
			ensureCloned()
			applyCorrelatedTeamResult(&next, entry, block, now)
		}
	}

	if !cloned {
		return state
	}
	return next
}

func applyOptimisticTeamTool(state *State, block message.Block, now time.Time) {
	switch block.ToolName {
	case "TaskCreate", "Task":
		teamName, _ := block.ToolInput["team_name"].(string)
		name, _ := block.ToolInput["name"].(string)
		if name == "" {
			return
		}
		if _, exists := state.Team.Members[name]; !exists {
			state.Team.Members[name] = &TeamMember{
				Name:       name,
				TeamName:   teamName,
				Status:     "active",
				LastActive: now,
			}
		} else {
			state.Team.Members[name].LastActive = now
		}
		taskID := "tu-" + block.ToolUseID
		if _, exists := state.Team.Tasks[taskID]; !exists {
			state.Team.Tasks[taskID] = &TeamTask{
				ID:        taskID,
				TeamName:  teamName,
				Assignee:  name,
				Synthetic: true,
			}
		}

	case "TeamCreate":
		teamName, _ := block.ToolInput["team_name"].(string)
		_ = teamName // no member created by TeamCreate alone

	case "SendMessage":
		typ, _ := block.ToolInput["type"].(string)
		approve, _ := block.ToolInput["approve"].(bool)
		if typ == "shutdown_response" && approve {
			if m := mostRecentlyActive(state.Team.Members); m != nil {
				m.Status = "shutdown"
			}
		}
	}
}

func applyCorrelatedTeamResult(state *State, entry *correlationEntry, block message.Block, now time.Time) {
	if entry.ToolName != "TaskCreate" && entry.ToolName != "Task" {
		return
	}
	syntheticID := "tu-" + entry.ToolUseID
	task, ok := state.Team.Tasks[syntheticID]
	if !ok {
		return
	}
	realID := extractRealTaskID(block.ToolResultText)
	if realID == "" || realID == syntheticID {
		return
	}
	delete(state.Team.Tasks, syntheticID)
	task.ID = realID
	task.Synthetic = false
	state.Team.Tasks[realID] = task
}

// extractRealTaskID pulls a "task_id: <id>" or bare id token out of a tool
// result body. Real adapters emit structured JSON; this best-effort scan
// keeps the reducer independent of any one adapter's result shape.
func extractRealTaskID(text string) string {
	const marker = "task_id:"
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(text[idx+len(marker):])
	end := strings.IndexAny(rest, " \n\t,}")
	if end < 0 {
		end = len(rest)
	}
	return strings.Trim(rest[:end], `"`)
}

func mostRecentlyActive(members map[string]*TeamMember) *TeamMember {
	var best *TeamMember
	for _, m := range members {
		if m.Status != "active" {
			continue
		}
		if best == nil || m.LastActive.After(best.LastActive) {
			best = m
		}
	}
	return best
}

func stringSlice(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s, true
		}
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func numberVal(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
