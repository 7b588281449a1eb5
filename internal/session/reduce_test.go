package session

import (
	"testing"
	"time"

	"beamcode/internal/message"
)

func TestReduceSessionInitSetsModelAndTools(t *testing.T) {
	state := NewState("s1")
	next := Reduce(state, message.Unified{
		Type: message.TypeSessionInit,
		Metadata: map[string]any{
			"model": "claude-opus",
			"cwd":   "/work",
			"tools": []any{"Bash", "Read"},
		},
	}, nil, time.Now())

	if next.Model != "claude-opus" || next.CWD != "/work" {
		t.Fatalf("got model=%q cwd=%q", next.Model, next.CWD)
	}
	if len(next.Tools) != 2 || next.Tools[0] != "Bash" {
		t.Fatalf("got tools %v", next.Tools)
	}
}

func TestReduceStatusChangeNoOpReturnsSameState(t *testing.T) {
	state := NewState("s1")
	next := Reduce(state, message.Unified{Type: message.TypeStatusChange, Metadata: map[string]any{}}, nil, time.Now())
	if next.IsCompacting != state.IsCompacting || next.PermissionMode != state.PermissionMode {
		t.Fatal("expected an unchanged status_change to leave state equivalent")
	}
}

func TestReduceTeamToolsCreatesOptimisticMemberAndTask(t *testing.T) {
	state := NewState("s1")
	buf := NewCorrelationBuffer()
	now := time.Now()

	msg := message.Unified{
		Type: message.TypeUserMessage,
		Content: []message.Block{{
			Type:      message.BlockToolUse,
			ToolUseID: "tu-1",
			ToolName:  "TaskCreate",
			ToolInput: map[string]any{"team_name": "alpha", "name": "researcher"},
		}},
	}
	next := Reduce(state, msg, buf, now)

	member, ok := next.Team.Members["researcher"]
	if !ok {
		t.Fatal("expected a synthetic team member to be created")
	}
	if member.TeamName != "alpha" || member.Status != "active" {
		t.Fatalf("got member %+v", member)
	}
	task, ok := next.Team.Tasks["tu-tu-1"]
	if !ok || !task.Synthetic {
		t.Fatalf("expected a synthetic task keyed by tool use id, got %+v ok=%v", task, ok)
	}
}

func TestReduceTeamToolsCorrelatesRealTaskID(t *testing.T) {
	state := NewState("s1")
	buf := NewCorrelationBuffer()
	now := time.Now()

	createMsg := message.Unified{
		Type: message.TypeUserMessage,
		Content: []message.Block{{
			Type:      message.BlockToolUse,
			ToolUseID: "tu-1",
			ToolName:  "TaskCreate",
			ToolInput: map[string]any{"team_name": "alpha", "name": "researcher"},
		}},
	}
	state = Reduce(state, createMsg, buf, now)

	resultMsg := message.Unified{
		Type: message.TypeUserMessage,
		Content: []message.Block{{
			Type:            message.BlockToolResult,
			ToolResultForID: "tu-1",
			ToolResultText:  `{"task_id: real-42"}`,
		}},
	}
	state = Reduce(state, resultMsg, buf, now)

	if _, stillSynthetic := state.Team.Tasks["tu-tu-1"]; stillSynthetic {
		t.Fatal("expected the synthetic task id to be replaced")
	}
	task, ok := state.Team.Tasks["real-42"]
	if !ok || task.Synthetic {
		t.Fatalf("expected a correlated non-synthetic task, got %+v ok=%v", task, ok)
	}
}

func TestCorrelationBufferExpiresStaleEntries(t *testing.T) {
	buf := NewCorrelationBuffer()
	buf.entries["old"] = &correlationEntry{ToolUseID: "old", BufferedAt: time.Now().Add(-time.Hour)}
	buf.Expire(time.Now())
	if _, ok := buf.entries["old"]; ok {
		t.Fatal("expected a stale correlation entry to be expired")
	}
}
