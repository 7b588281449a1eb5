package storage

import (
	"os"
	"path/filepath"
	"testing"

	"beamcode/internal/session"
)

const (
	testID1 = "11111111-1111-1111-1111-111111111111"
	testID2 = "22222222-2222-2222-2222-222222222222"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	state := session.NewState(testID1)
	state.Model = "claude-opus"
	if err := repo.Save(testID1, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := repo.Load(testID1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.State.Model != "claude-opus" {
		t.Errorf("Model = %q, want claude-opus", rec.State.Model)
	}
}

func TestSaveLeavesNoTmpFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if err := repo.Save(testID1, session.NewState(testID1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("tmp file left behind: %s", e.Name())
		}
	}
}

func TestSaveRejectsNonUUIDSessionID(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	for _, bad := range []string{"../../etc/passwd", "not-a-uuid", ""} {
		if err := repo.Save(bad, session.NewState(bad)); err == nil {
			t.Errorf("Save(%q) should have been rejected", bad)
		}
	}
}

func TestRestoreAllSweepsOrphanedTmp(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "session-orphan.json.tmp"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	repo, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if _, err := repo.RestoreAll(); err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session-orphan.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("orphaned tmp file should have been removed, stat err = %v", err)
	}
}

func TestRestoreAllReturnsSavedSessions(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if err := repo.SaveWithAdapter(testID1, "claude", session.NewState(testID1)); err != nil {
		t.Fatalf("SaveWithAdapter: %v", err)
	}
	if err := repo.SaveWithAdapter(testID2, "codex", session.NewState(testID2)); err != nil {
		t.Fatalf("SaveWithAdapter: %v", err)
	}

	records, err := repo.RestoreAll()
	if err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	byID := make(map[string]Record)
	for _, r := range records {
		byID[r.SessionID] = r
	}
	if byID[testID1].AdapterName != "claude" {
		t.Errorf("testID1 adapter = %q, want claude", byID[testID1].AdapterName)
	}
	if byID[testID2].AdapterName != "codex" {
		t.Errorf("testID2 adapter = %q, want codex", byID[testID2].AdapterName)
	}
}

func TestDeleteMissingIsNotError(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if err := repo.Delete(testID1); err != nil {
		t.Errorf("Delete of missing session should be a no-op, got %v", err)
	}
}

func TestDeleteRejectsNonUUIDSessionID(t *testing.T) {
	repo, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if err := repo.Delete("../escape"); err == nil {
		t.Error("Delete with a traversal id should have been rejected")
	}
}
