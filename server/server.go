// Package server implements the Safetrail tracking server.
//
// A session is one emergency-tracking episode. The broadcaster reports
// locations into it, watchers hold a live event channel onto it, and the
// whole thing expires 24 hours after creation no matter what.
//
// PERSISTENCE RULE:
//   locations are only retained while at least one watcher is connected.
//   A broadcaster moving with nobody watching generates no stored history.
//
// Sessions live in memory and optionally write through to sqlite so a
// restart doesn't lose an active emergency trail.
package server

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// MaxLocations caps the trail, oldest points drop first.
	MaxLocations = 100
	// SessionTTL is the hard expiry from creation.
	SessionTTL = 24 * time.Hour
)

// ErrNotFound covers both a session that never existed and one that
// expired. Callers cannot tell the difference and must not try.
var ErrNotFound = errors.New("session not found")

// Point is a single reported coordinate.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// In nanoseconds
	Timestamp int64 `json:"timestamp,string"`
}

// Session is one tracking episode
type Session struct {
	// A unique id, the only lookup key
	Id string
	// Who is broadcasting
	Owner string
	// Label shown to watchers
	Name string
	// The trail, oldest first
	Locations []Point
	// Connected watchers
	Viewers int64
	// Total points ever retained, never decreases when the cap trims
	Seq int64
	// Terminal flag, set once
	Ended bool
	// In nanoseconds
	Created int64
	EndedAt int64

	mu sync.Mutex
}

// Snapshot is the read-only view handed to watchers and the HTTP layer.
type Snapshot struct {
	Session   string  `json:"session"`
	Owner     string  `json:"-"`
	Name      string  `json:"name"`
	Locations []Point `json:"locations"`
	Seq       int64   `json:"-"`
	Ended     bool    `json:"ended"`
	Created   int64   `json:"created,string"`
	// omitted until the session ends
	EndedAt int64 `json:"ended_at,omitempty,string"`
	// Trail length in meters
	Distance float64 `json:"distance"`
}

// Store holds all live sessions.
type Store struct {
	mtx      sync.RWMutex
	sessions map[string]*Session
	// optional write-through persistence, nil means memory only
	db *sql.DB
}

var (
	alphanum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var Default = New()

// Random generates an i length alphanum string
func Random(i int) string {
	bytes := make([]byte, i)
	rand.Read(bytes)
	for i, b := range bytes {
		bytes[i] = alphanum[b%byte(len(alphanum))]
	}
	return string(bytes)
}

// NewSessionID generates a session id with negligible collision odds.
// Timestamp prefix plus random suffix, roughly sortable.
func NewSessionID() string {
	return fmt.Sprintf("%x%s", time.Now().UnixNano(), Random(12))
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

func NewSession(owner, name string, seed Point) *Session {
	return &Session{
		Id:        NewSessionID(),
		Owner:     owner,
		Name:      name,
		Locations: []Point{seed},
		Seq:       1,
		Created:   time.Now().UnixNano(),
	}
}

// expired reports whether the session is past its TTL
func expired(s *Session, now int64) bool {
	return now-s.Created > SessionTTL.Nanoseconds()
}

// snapshot copies the session for use outside the store. The locations
// slice is copied so watchers never share the live backing array.
func (s *Session) snapshot() *Snapshot {
	locations := make([]Point, len(s.Locations))
	copy(locations, s.Locations)

	return &Snapshot{
		Session:   s.Id,
		Owner:     s.Owner,
		Name:      s.Name,
		Locations: locations,
		Seq:       s.Seq,
		Ended:     s.Ended,
		Created:   s.Created,
		EndedAt:   s.EndedAt,
		Distance:  TrailDistance(locations),
	}
}

// Create stores a new session seeded with one location.
func (s *Store) Create(owner, name string, seed Point) *Snapshot {
	session := NewSession(owner, name, seed)

	s.mtx.Lock()
	s.sessions[session.Id] = session
	s.mtx.Unlock()

	session.mu.Lock()
	snap := session.snapshot()
	s.persist(session.Id, session.Created, snap)
	session.mu.Unlock()

	return snap
}

// Get returns a snapshot of the session or ErrNotFound. An expired
// session is not found even before the sweeper removes it. The expiry
// check runs under the session lock, Created is mutable state.
func (s *Store) Get(id string) (*Snapshot, error) {
	s.mtx.RLock()
	session, ok := s.sessions[id]
	s.mtx.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if expired(session, time.Now().UnixNano()) {
		return nil, ErrNotFound
	}

	return session.snapshot(), nil
}

// Mutate applies fn to one session under its lock and returns the
// resulting snapshot. Mutations to the same session never interleave;
// different sessions are independent. The write-through happens under
// the same lock so persisted state never runs ahead of or behind the
// mutation order.
func (s *Store) Mutate(id string, fn func(*Session)) (*Snapshot, error) {
	s.mtx.RLock()
	session, ok := s.sessions[id]
	s.mtx.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if expired(session, time.Now().UnixNano()) {
		return nil, ErrNotFound
	}

	fn(session)
	snap := session.snapshot()
	s.persist(id, session.Created, snap)

	return snap, nil
}

// deleteExpired removes every session past its TTL, in memory and on
// disk. Storage errors are logged and retried on the next sweep.
func (s *Store) deleteExpired() {
	now := time.Now().UnixNano()

	s.mtx.Lock()
	for id, session := range s.sessions {
		session.mu.Lock()
		gone := expired(session, now)
		session.mu.Unlock()
		if gone {
			delete(s.sessions, id)
		}
	}
	s.mtx.Unlock()

	if err := s.deleteExpiredRows(now); err != nil {
		log.Printf("[store] expiry sweep: %v", err)
	}
}

// Run sweeps expired sessions until the process exits.
func (s *Store) Run() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()

	for range t.C {
		s.deleteExpired()
	}
}

func Run() {
	Default.Run()
}
