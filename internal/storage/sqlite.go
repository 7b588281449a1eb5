// SQLiteRepository is the optional Session Repository backend selected
// by config.StorageConfig.Backend == "sqlite". It stores the same
// Record shape as the file Repository but in a single database file,
// for operators who'd rather back up one file than a directory of many.
//
// Grounded on the pack's modernc.org/sqlite usage (ashureev-shsh-labs),
// the pure-Go cgo-free driver, so BeamCode never needs a C toolchain to
// build.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"beamcode/internal/session"
)

// SQLiteRepository implements the same persistence contract as
// Repository over a SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Backend = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if necessary) the database at
// path and ensures its schema exists.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	adapter_name TEXT NOT NULL,
	state_json   TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (s *SQLiteRepository) Save(sessionID string, state session.State) error {
	return s.SaveWithAdapter(sessionID, "", state)
}

func (s *SQLiteRepository) SaveWithAdapter(sessionID, adapterName string, state session.State) error {
	if adapterName == "" {
		if existing, err := s.Load(sessionID); err == nil {
			adapterName = existing.AdapterName
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", sessionID, err)
	}
	_, err = s.db.Exec(`
INSERT INTO sessions (session_id, adapter_name, state_json, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(session_id) DO UPDATE SET
	adapter_name = excluded.adapter_name,
	state_json   = excluded.state_json,
	updated_at   = CURRENT_TIMESTAMP`,
		sessionID, adapterName, string(data))
	if err != nil {
		return fmt.Errorf("storage: upsert %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteRepository) Load(sessionID string) (Record, error) {
	var adapterName, stateJSON string
	err := s.db.QueryRow(`SELECT adapter_name, state_json FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&adapterName, &stateJSON)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	rec.SessionID = sessionID
	rec.AdapterName = adapterName
	if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
		return Record{}, fmt.Errorf("storage: parse %s: %w", sessionID, err)
	}
	return rec, nil
}

func (s *SQLiteRepository) Delete(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteRepository) RestoreAll() ([]Record, error) {
	rows, err := s.db.Query(`SELECT session_id, adapter_name, state_json FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var stateJSON string
		if err := rows.Scan(&rec.SessionID, &rec.AdapterName, &stateJSON); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}
