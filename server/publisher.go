package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PollInterval is how often a watcher re-reads its session. A var so
// tests can tighten it.
var PollInterval = 2 * time.Second

// Event is one message on a watcher's live channel.
type Event struct {
	Id      string `json:"id"`
	Type    string `json:"type"` // init, update, ended, error
	Session string `json:"session"`
	// In nanoseconds
	Created int64 `json:"created,string"`

	// Full snapshot, init events only
	Init *Snapshot `json:"init,omitempty"`
	// One newly retained point, update events only
	Update *Point `json:"update,omitempty"`
	// In nanoseconds, ended events only
	EndedAt int64 `json:"ended_at,omitempty,string"`
	// error events only
	Error string `json:"error,omitempty"`
}

// Watcher is one client holding a live channel onto a session. Events
// is written and closed by the publisher goroutine only; Kill is closed
// by the transport when the client goes away.
type Watcher struct {
	Id      string
	Session string
	Events  chan *Event
	Kill    chan bool

	once sync.Once
}

func NewWatcher(session string) *Watcher {
	return &Watcher{
		Id:      uuid.New().String(),
		Session: session,
		Events:  make(chan *Event, MaxLocations),
		Kill:    make(chan bool),
	}
}

func newEvent(typ, session string) *Event {
	return &Event{
		Id:      uuid.New().String(),
		Type:    typ,
		Session: session,
		Created: time.Now().UnixNano(),
	}
}

// send delivers an event unless the watcher is gone.
func (w *Watcher) send(e *Event) bool {
	select {
	case w.Events <- e:
		return true
	case <-w.Kill:
		return false
	}
}

// disconnect releases the watcher's presence count exactly once, no
// matter how many teardown paths race to it.
func (w *Watcher) disconnect(s *Store) {
	w.once.Do(func() {
		s.WatcherDisconnected(w.Session)
	})
}

// Subscribe starts the publisher goroutine for a watcher. The goroutine
// owns the Events channel: it emits an init event with the current
// snapshot, then update events for each newly retained point, then a
// single ended event, and closes the channel. An unknown session gets
// one error event. Expiry mid-stream closes the channel silently.
func (s *Store) Subscribe(w *Watcher) {
	go s.publish(w)
}

func (s *Store) publish(w *Watcher) {
	defer close(w.Events)

	snap, err := s.Get(w.Session)
	if err != nil {
		e := newEvent("error", w.Session)
		e.Error = err.Error()
		w.send(e)
		return
	}

	if err := s.WatcherConnected(w.Session); err != nil {
		e := newEvent("error", w.Session)
		e.Error = err.Error()
		w.send(e)
		return
	}
	defer w.disconnect(s)

	init := newEvent("init", w.Session)
	init.Init = snap
	if !w.send(init) {
		return
	}

	// everything in the init snapshot is already delivered
	cursor := snap.Seq

	if snap.Ended {
		e := newEvent("ended", w.Session)
		e.EndedAt = snap.EndedAt
		w.send(e)
		return
	}

	t := time.NewTicker(PollInterval)
	defer t.Stop()

	for {
		select {
		case <-w.Kill:
			return
		case <-t.C:
			snap, err := s.Get(w.Session)
			if err != nil {
				// expired mid-stream, close without an error event
				return
			}

			// new points are the tail beyond the cursor; if the cap
			// trimmed more than it holds, the oldest are simply gone
			missed := snap.Seq - cursor
			if missed > int64(len(snap.Locations)) {
				missed = int64(len(snap.Locations))
			}

			for i := int64(len(snap.Locations)) - missed; i < int64(len(snap.Locations)); i++ {
				p := snap.Locations[i]
				e := newEvent("update", w.Session)
				e.Update = &p
				if !w.send(e) {
					return
				}
			}
			cursor = snap.Seq

			if snap.Ended {
				e := newEvent("ended", w.Session)
				e.EndedAt = snap.EndedAt
				w.send(e)
				return
			}
		}
	}
}
