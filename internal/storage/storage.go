// Package storage implements the Session Repository & Persistence
// component (spec §4.11): durable storage of session.State records,
// restored at startup and written atomically on every change.
//
// Grounded on the teacher pack's wingedpig-trellis internal/cases/store.go
// tmp+rename idiom, generalized from "one case.json per case directory"
// to "one session-<id>.json per session," plus an fsnotify-based watch
// loop (from the xiaoyuanzhu-com-my-life-db pack entry) that reports
// session files written on disk to a callback. Nothing in the broker
// starts that watch, so a session file dropped on disk is read only by
// the next startup's RestoreAll. Each
// write additionally takes a companion .lock file (gofrs/flock, the
// jack-phare-goat pack entry's writer.go idiom) so two writers racing
// on the same session never interleave a tmp-rename.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"beamcode/internal/session"
)

// lockTimeout bounds how long Save waits for a session's companion
// .lock file before giving up, grounded on the pack's
// jack-phare-goat/pkg/session/writer.go flock idiom.
const lockTimeout = 5 * time.Second

// Backend is the contract both Repository (file-based) and
// SQLiteRepository satisfy, letting the coordinator depend on the
// interface rather than a concrete storage choice (spec §4.11 storage
// is pluggable by config.StorageConfig.Backend).
type Backend interface {
	Save(sessionID string, state session.State) error
	SaveWithAdapter(sessionID, adapterName string, state session.State) error
	Load(sessionID string) (Record, error)
	Delete(sessionID string) error
	RestoreAll() ([]Record, error)
	Close() error
}

// Repository is the file-backed Session Repository. Each session is one
// JSON file, written via tmp+fsync+rename so a crash mid-write never
// leaves a corrupt or partial file in place (spec §4.11 "atomic
// persistence").
type Repository struct {
	dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	onChange func(sessionID string)
}

var _ Backend = (*Repository)(nil)

// NewRepository returns a Repository rooted at dir, creating it if
// necessary.
func NewRepository(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	return &Repository{dir: dir}, nil
}

// path computes the on-disk file for sessionID, rejecting anything that
// doesn't match the session id's UUID shape so a crafted id can never
// interpolate path separators into the storage directory (spec §4.11,
// §8 property 10).
func (r *Repository) path(sessionID string) (string, error) {
	if !session.ValidID(sessionID) {
		return "", fmt.Errorf("storage: invalid session id %q", sessionID)
	}
	p := filepath.Join(r.dir, "session-"+sessionID+".json")
	if !strings.HasPrefix(p, r.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: session id %q escapes data dir", sessionID)
	}
	return p, nil
}

// record is the on-disk envelope: session.State plus the bookkeeping
// fields the repository itself owns (adapter name, so a restored
// session reconnects through the right adapter without the caller
// having to remember it separately).
type record struct {
	SessionID   string        `json:"session_id"`
	AdapterName string        `json:"adapter_name"`
	State       session.State `json:"state"`
}

// Save atomically writes state for sessionID, via a temp file in the
// same directory (so the rename is same-filesystem and therefore
// atomic) followed by fsync-before-rename.
func (r *Repository) Save(sessionID string, state session.State) error {
	return r.SaveWithAdapter(sessionID, "", state)
}

// SaveWithAdapter is Save plus the adapter name to restore with.
// adapterName of "" leaves any previously saved adapter name
// unchanged — callers that don't carry the adapter name in scope (the
// plain Router.Persister path) can still call Save without clobbering
// it.
func (r *Repository) SaveWithAdapter(sessionID, adapterName string, state session.State) error {
	rec := record{SessionID: sessionID, AdapterName: adapterName, State: state}
	if adapterName == "" {
		if existing, err := r.Load(sessionID); err == nil {
			rec.AdapterName = existing.AdapterName
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", sessionID, err)
	}

	path, err := r.path(sessionID)
	if err != nil {
		return err
	}

	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("storage: lock %s: %w", sessionID, err)
	}
	if !locked {
		return fmt.Errorf("storage: lock %s: timed out", sessionID)
	}
	defer fl.Unlock()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Record pairs a session id's persisted state with its adapter name.
type Record struct {
	SessionID   string
	AdapterName string
	State       session.State
}

// Load reads one session's persisted record.
func (r *Repository) Load(sessionID string) (Record, error) {
	path, err := r.path(sessionID)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("storage: parse %s: %w", sessionID, err)
	}
	return Record{SessionID: rec.SessionID, AdapterName: rec.AdapterName, State: rec.State}, nil
}

// Delete removes a session's persisted file. Missing files are not an
// error.
func (r *Repository) Delete(sessionID string) error {
	path, err := r.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + ".lock")
	return nil
}

// RestoreAll scans the data directory for session files, sweeping
// orphaned .tmp files left behind by a crash mid-write (spec §4.11:
// "startup sweeps and discards orphaned tmp files").
func (r *Repository) RestoreAll() ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: read dir: %w", err)
	}

	var out []Record
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(r.dir, name))
			continue
		}
		if !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, Record{SessionID: rec.SessionID, AdapterName: rec.AdapterName, State: rec.State})
	}
	return out, nil
}

// WatchExternalChanges starts an fsnotify watch on the data directory
// and calls onChange(sessionID) whenever a session file is created or
// written, whether by an operator (e.g. restoring a backup while the
// broker is running) or by this Repository's own Save. Call Close to
// stop watching.
func (r *Repository) WatchExternalChanges(onChange func(sessionID string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("storage: watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return fmt.Errorf("storage: watch dir: %w", err)
	}

	r.mu.Lock()
	r.watcher = w
	r.onChange = onChange
	r.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				id := sessionIDFromPath(ev.Name)
				if id != "" && onChange != nil {
					onChange(id)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watch, if one is running.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "session-") || !strings.HasSuffix(base, ".json") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, "session-"), ".json")
}
