package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id      TEXT PRIMARY KEY,
	created INTEGER NOT NULL,
	data    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_created ON sessions (created);
`

// record is the persisted form of a session. Viewer counts are not
// stored, watchers don't survive a restart.
type record struct {
	Id        string  `json:"id"`
	Owner     string  `json:"owner"`
	Name      string  `json:"name"`
	Locations []Point `json:"locations"`
	Seq       int64   `json:"seq"`
	Ended     bool    `json:"ended"`
	Created   int64   `json:"created"`
	EndedAt   int64   `json:"ended_at"`
}

// Open attaches sqlite write-through persistence and restores any
// unexpired sessions into memory.
func (s *Store) Open(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return err
	}

	cutoff := time.Now().UnixNano() - SessionTTL.Nanoseconds()

	rows, err := db.Query(`SELECT data FROM sessions WHERE created > ?`, cutoff)
	if err != nil {
		db.Close()
		return err
	}
	defer rows.Close()

	var loaded, failed int

	s.mtx.Lock()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			failed++
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			failed++
			continue
		}

		s.sessions[rec.Id] = &Session{
			Id:        rec.Id,
			Owner:     rec.Owner,
			Name:      rec.Name,
			Locations: rec.Locations,
			Seq:       rec.Seq,
			Ended:     rec.Ended,
			Created:   rec.Created,
			EndedAt:   rec.EndedAt,
		}
		loaded++
	}
	s.mtx.Unlock()

	if failed > 0 {
		log.Printf("[store] restored %d sessions, %d unreadable", loaded, failed)
	} else if loaded > 0 {
		log.Printf("[store] restored %d sessions", loaded)
	}

	s.db = db
	return nil
}

// Close releases the persistence handle, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// persist writes one session through to disk. A failure is logged and
// the in-memory session stays authoritative.
func (s *Store) persist(id string, created int64, snap *Snapshot) {
	if s.db == nil {
		return
	}

	rec := record{
		Id:        id,
		Owner:     snap.Owner,
		Name:      snap.Name,
		Locations: snap.Locations,
		Seq:       snap.Seq,
		Ended:     snap.Ended,
		Created:   created,
		EndedAt:   snap.EndedAt,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[store] persist %s: %v", id, err)
		return
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO sessions (id, created, data) VALUES (?, ?, ?)`,
		id, created, string(data)); err != nil {
		log.Printf("[store] persist %s: %v", id, err)
	}
}

// deleteExpiredRows drops persisted sessions past their TTL.
func (s *Store) deleteExpiredRows(now int64) error {
	if s.db == nil {
		return nil
	}

	_, err := s.db.Exec(`DELETE FROM sessions WHERE created <= ?`, now-SessionTTL.Nanoseconds())
	return err
}
