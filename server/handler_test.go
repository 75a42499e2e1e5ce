package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func postForm(t *testing.T, handler http.HandlerFunc, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func createSession(t *testing.T, owner, name string) string {
	t.Helper()
	w := postForm(t, NewSessionHandler, url.Values{
		"owner":     {owner},
		"name":      {name},
		"latitude":  {"12.9"},
		"longitude": {"77.6"},
	})
	if w.Code != 200 {
		t.Fatalf("create session: status %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if resp.Session == "" {
		t.Fatal("create session: empty id")
	}
	return resp.Session
}

func TestNewSessionHandlerValidation(t *testing.T) {
	// owner required
	w := postForm(t, NewSessionHandler, url.Values{
		"latitude": {"12.9"}, "longitude": {"77.6"},
	})
	if w.Code != 400 {
		t.Errorf("missing owner: status %d", w.Code)
	}

	// coordinates required
	w = postForm(t, NewSessionHandler, url.Values{
		"owner": {"user-1"}, "latitude": {"not-a-number"}, "longitude": {"77.6"},
	})
	if w.Code != 400 {
		t.Errorf("bad latitude: status %d", w.Code)
	}
}

func TestGetSessionHandler(t *testing.T) {
	id := createSession(t, "user-1", "Asha")

	req := httptest.NewRequest("GET", "/sessions?session="+id, nil)
	w := httptest.NewRecorder()
	GetSessionHandler(w, req)

	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}

	var snap Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Name != "Asha" || len(snap.Locations) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	req = httptest.NewRequest("GET", "/sessions?session=missing", nil)
	w = httptest.NewRecorder()
	GetSessionHandler(w, req)
	if w.Code != 404 {
		t.Errorf("missing session: status %d", w.Code)
	}
}

// A live session has no end time yet, the snapshot leaves it out
// entirely rather than reporting a zero.
func TestSnapshotOmitsEndedAtUntilEnded(t *testing.T) {
	id := createSession(t, "user-1", "Asha")

	req := httptest.NewRequest("GET", "/sessions?session="+id, nil)
	w := httptest.NewRecorder()
	GetSessionHandler(w, req)
	if strings.Contains(w.Body.String(), "ended_at") {
		t.Errorf("live session snapshot carries ended_at: %s", w.Body.String())
	}

	Default.EndSession(id)

	req = httptest.NewRequest("GET", "/sessions?session="+id, nil)
	w = httptest.NewRecorder()
	GetSessionHandler(w, req)
	if !strings.Contains(w.Body.String(), "ended_at") {
		t.Errorf("ended session snapshot missing ended_at: %s", w.Body.String())
	}
}

func TestPostLocationHandler(t *testing.T) {
	id := createSession(t, "user-1", "Asha")

	// nobody watching, report is declined but not an error
	w := postForm(t, PostLocationHandler, url.Values{
		"session": {id}, "latitude": {"12.91"}, "longitude": {"77.61"},
	})
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Stored bool `json:"stored"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Stored {
		t.Error("stored with zero viewers")
	}

	// with a watcher counted, the point lands
	Default.WatcherConnected(id)
	defer Default.WatcherDisconnected(id)

	w = postForm(t, PostLocationHandler, url.Values{
		"session": {id}, "latitude": {"12.91"}, "longitude": {"77.61"},
	})
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Stored {
		t.Error("not stored with an active viewer")
	}

	// unknown session is a 404
	w = postForm(t, PostLocationHandler, url.Values{
		"session": {"missing"}, "latitude": {"1"}, "longitude": {"2"},
	})
	if w.Code != 404 {
		t.Errorf("missing session: status %d", w.Code)
	}
}

func TestEndSessionHandlerIdempotent(t *testing.T) {
	id := createSession(t, "user-1", "Asha")

	for i := 0; i < 2; i++ {
		w := postForm(t, EndSessionHandler, url.Values{"session": {id}})
		if w.Code != 200 {
			t.Fatalf("end %d: status %d", i, w.Code)
		}
		var resp struct {
			Ended bool `json:"ended"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if !resp.Ended {
			t.Errorf("end %d: expected ended true", i)
		}
	}

	// a session that never existed reports false, still 200
	w := postForm(t, EndSessionHandler, url.Values{"session": {"missing"}})
	if w.Code != 200 {
		t.Fatalf("missing session: status %d", w.Code)
	}
	var resp struct {
		Ended bool `json:"ended"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Ended {
		t.Error("missing session reported ended")
	}
}

func TestEventsHandlerStreamsSSE(t *testing.T) {
	fastPoll(t)

	id := createSession(t, "user-1", "Asha")

	srv := httptest.NewServer(http.HandlerFunc(GetEventsHandler))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?session=" + id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	readEvent := func() *Event {
		t.Helper()
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return &e
		}
		t.Fatal("stream closed before an event arrived")
		return nil
	}

	if e := readEvent(); e.Type != "init" {
		t.Fatalf("expected init, got %s", e.Type)
	}

	// subscribing counted us, so the next report is retained and pushed
	stored, err := Default.Ingest(id, point(12.91, 77.61))
	if err != nil || !stored {
		t.Fatalf("ingest: stored=%v err=%v", stored, err)
	}

	if e := readEvent(); e.Type != "update" || e.Update == nil || e.Update.Latitude != 12.91 {
		t.Fatalf("expected update for 12.91, got %+v", e)
	}

	Default.EndSession(id)
	if e := readEvent(); e.Type != "ended" {
		t.Fatalf("expected ended, got %s", e.Type)
	}
}
