package server

import (
	"time"
)

// Ingest records a reported location against a session. The point is
// only retained while at least one watcher is connected and the session
// has not ended; both cases report stored=false without error. The
// check-then-append runs atomically inside Mutate.
func (s *Store) Ingest(id string, p Point) (bool, error) {
	var stored bool

	_, err := s.Mutate(id, func(session *Session) {
		if session.Ended || session.Viewers == 0 {
			return
		}

		session.Locations = append(session.Locations, p)
		session.Seq++

		// keep the most recent points only
		if len(session.Locations) > MaxLocations {
			session.Locations = session.Locations[len(session.Locations)-MaxLocations:]
		}

		stored = true
	})

	return stored, err
}

// WatcherConnected counts a new watcher against the session.
func (s *Store) WatcherConnected(id string) error {
	_, err := s.Mutate(id, func(session *Session) {
		session.Viewers++
	})
	return err
}

// WatcherDisconnected removes a watcher from the count. Clamped at zero
// so a duplicate teardown can't drive the count negative. Disconnects
// after expiry are dropped on the floor, the session is gone anyway.
func (s *Store) WatcherDisconnected(id string) {
	s.Mutate(id, func(session *Session) {
		if session.Viewers > 0 {
			session.Viewers--
		}
	})
}

// StartSession creates a session seeded with one location and returns
// its snapshot. Always succeeds.
func (s *Store) StartSession(owner, name string, seed Point) *Snapshot {
	return s.Create(owner, name, seed)
}

// EndSession flips the session to its terminal state. Idempotent: an
// already-ended session keeps its original EndedAt and still reports
// ended; an unknown or expired session reports false. Changed is true
// only on the call that performed the flip, so callers can act on the
// transition exactly once. Watchers are not disconnected here, they
// observe the flag on their next poll.
func (s *Store) EndSession(id string) (ended, changed bool) {
	_, err := s.Mutate(id, func(session *Session) {
		if session.Ended {
			return
		}
		session.Ended = true
		session.EndedAt = time.Now().UnixNano()
		changed = true
	})
	return err == nil, changed
}
