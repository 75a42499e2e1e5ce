package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// parsePoint pulls a coordinate out of form params. A missing timestamp
// defaults to now.
func parsePoint(r *http.Request) (Point, error) {
	lat, err := strconv.ParseFloat(r.Form.Get("latitude"), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude")
	}

	lng, err := strconv.ParseFloat(r.Form.Get("longitude"), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude")
	}

	ts, err := strconv.ParseInt(r.Form.Get("timestamp"), 10, 64)
	if err != nil {
		ts = time.Now().UnixNano()
	}

	return Point{Latitude: lat, Longitude: lng, Timestamp: ts}, nil
}

// NewSessionHandler creates a tracking session and alerts the owner's
// registered contacts with the share link.
func NewSessionHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	owner := r.Form.Get("owner")
	name := r.Form.Get("name")

	if len(owner) == 0 {
		http.Error(w, "Owner cannot be blank", 400)
		return
	}
	if len(name) == 0 {
		name = "Someone"
	}

	seed, err := parsePoint(r)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	snap := Default.StartSession(owner, name, seed)

	// alert the contacts watching this owner
	go GetPushManager().Alert(owner,
		name+" needs help",
		"Live location tracking has started. Tap to follow.",
		TrackingLink(snap.Session),
	)

	data := map[string]interface{}{
		"session": snap.Session,
		"created": snap.Created,
	}
	b, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// GetSessionHandler returns the current snapshot of a session.
func GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	session := r.Form.Get("session")
	if len(session) == 0 {
		http.Error(w, "Session cannot be blank", 400)
		return
	}

	snap, err := Default.Get(session)
	if err != nil {
		http.Error(w, "Session not found", 404)
		return
	}

	b, _ := json.Marshal(snap)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// PostLocationHandler records a reported location. The caller learns
// whether the point was retained; retries are its own business.
func PostLocationHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	session := r.Form.Get("session")
	if len(session) == 0 {
		http.Error(w, "Session cannot be blank", 400)
		return
	}

	point, err := parsePoint(r)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	stored, err := Default.Ingest(session, point)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Session not found", 404)
		return
	}

	b, _ := json.Marshal(map[string]interface{}{"stored": stored})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// EndSessionHandler marks the broadcaster safe. Idempotent, always 200.
func EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	session := r.Form.Get("session")
	if len(session) == 0 {
		http.Error(w, "Session cannot be blank", 400)
		return
	}

	ended, changed := Default.EndSession(session)
	// only the call that flipped the flag alerts contacts, a retried
	// request must not spam them
	if changed {
		if snap, err := Default.Get(session); err == nil {
			go GetPushManager().Alert(snap.Owner,
				snap.Name+" is safe",
				"Tracking has ended.",
				"",
			)
		}
	}

	b, _ := json.Marshal(map[string]interface{}{"ended": ended})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// GetEventsHandler serves a watcher's live channel, as a websocket when
// the client asks for an upgrade, server-sent events otherwise.
func GetEventsHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	session := r.Form.Get("session")
	if len(session) == 0 {
		http.Error(w, "Session cannot be blank", 400)
		return
	}

	watcher := NewWatcher(session)

	defer func() {
		close(watcher.Kill)
	}()

	Default.Subscribe(watcher)

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")

	// serve a socket
	if IsWebSocket(r) {
		ServeWebSocket(w, r, watcher)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			b, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %v\n\n", string(b))

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// SetHeaders sets the cors headers
func SetHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func WithCors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// set cors origin allow all
		SetHeaders(w, r)

		// if options return immediately
		if r.Method == "OPTIONS" {
			return
		}

		h.ServeHTTP(w, r)
	})
}
