package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/directory"

	"github.com/gin-gonic/gin"
)

type fakeCarrier struct {
	mu      sync.Mutex
	sid     string
	err     error
	hangups []string
}

func (f *fakeCarrier) PlaceCall(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sid, f.err
}

func (f *fakeCarrier) Hangup(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, sid)
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	recs []calls.CallRecord
}

func (s *recordingSink) Record(_ context.Context, rec calls.CallRecord) {
	if rec.UserID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *recordingSink) last(callID string) (calls.CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recs) - 1; i >= 0; i-- {
		if s.recs[i].CallID == callID {
			return s.recs[i], true
		}
	}
	return calls.CallRecord{}, false
}

func (s *recordingSink) count(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recs {
		if r.CallID == callID {
			n++
		}
	}
	return n
}

type fixture struct {
	coord     *calls.Coordinator
	store     *calls.Store
	responder *Responder
	carrier   *fakeCarrier
	dir       *directory.MemoryDirectory
	history   *recordingSink
	router    *gin.Engine
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		carrier: &fakeCarrier{sid: "CAOUT"},
		dir:     directory.NewMemoryDirectory(),
		history: &recordingSink{},
		now:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.store = calls.NewStore(calls.NewMemoryBackend(), calls.TTLs{}, nil)
	sched := calls.NewScheduler()
	t.Cleanup(sched.Stop)
	f.coord = calls.NewCoordinator(f.store, f.carrier, f.dir, f.history, sched,
		calls.Options{CleanupGrace: time.Hour, CallerID: "+15550000"}, nil)
	f.coord.Now = clock

	f.responder = NewResponder(f.coord, ResponderConfig{MaxRingWait: 30 * time.Second})
	f.responder.Now = clock

	f.router = gin.New()
	WebhookHandler{Responder: f.responder, Now: clock}.Register(f.router.Group("/webhooks/voice"))
	return f
}

func (f *fixture) post(t *testing.T, path string, form url.Values) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from %s, got %d", path, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("expected xml from %s, got %q", path, ct)
	}
	return w.Body.String()
}

func mustContain(t *testing.T, body string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in:\n%s", want, body)
		}
	}
}

func mustNotContain(t *testing.T, body string, unwanted ...string) {
	t.Helper()
	for _, u := range unwanted {
		if strings.Contains(body, u) {
			t.Fatalf("did not expect %q in:\n%s", u, body)
		}
	}
}
