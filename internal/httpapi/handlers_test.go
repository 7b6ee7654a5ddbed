package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/directory"
	"voicebridge/internal/history"
	"voicebridge/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCarrier struct {
	sid string
	err error
}

func (s *stubCarrier) PlaceCall(context.Context, string, string) (string, error) { return s.sid, s.err }
func (s *stubCarrier) Hangup(context.Context, string) error                      { return nil }

type stubHistory struct {
	entries []history.Entry
	limit   int
}

func (s *stubHistory) List(_ context.Context, userID string, limit int) ([]history.Entry, error) {
	s.limit = limit
	out := []history.Entry{}
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type apiFixture struct {
	router  *gin.Engine
	auth    *auth.Manager
	coord   *calls.Coordinator
	store   *calls.Store
	carrier *stubCarrier
	hist    *stubHistory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour})
	require.NoError(t, err)

	store := calls.NewStore(calls.NewMemoryBackend(), calls.TTLs{}, nil)
	carrier := &stubCarrier{sid: "CA100"}
	dir := directory.NewMemoryDirectory()
	dir.AssignNumber("+15550000001", "u1")
	sched := calls.NewScheduler()
	t.Cleanup(sched.Stop)
	coord := calls.NewCoordinator(store, carrier, dir, nil, sched, calls.Options{CallerID: "+15550000001"}, nil)
	hist := &stubHistory{entries: []history.Entry{{CallID: "CA1", UserID: "u1", Status: "completed"}, {CallID: "CA2", UserID: "u2"}}}

	h := Handlers{
		Auth:       m,
		Calls:      coord,
		History:    hist,
		Reporting:  reporting.NewService(store),
		AllowLogin: true,
	}
	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	h.Register(v1)

	return &apiFixture{router: r, auth: m, coord: coord, store: store, carrier: carrier, hist: hist}
}

func (f *apiFixture) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		pair, err := f.auth.IssuePair(time.Now(), userID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPlaceCallAndHangup(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/calls", "u1", "user", gin.H{"to": "+15557654321", "client_ref": "tmp-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[calls.CallRecord](t, w)
	assert.Equal(t, "CA100", rec.CallID)
	assert.Equal(t, calls.StatusInitiated, rec.Status)

	w = f.do(t, http.MethodGet, "/v1/calls/tmp-1", "u1", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CA100", decode[calls.CallRecord](t, w).CallID)

	w = f.do(t, http.MethodGet, "/v1/calls", "u1", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Calls []calls.CallRecord }](t, w).Calls, 1)

	w = f.do(t, http.MethodPost, "/v1/calls/CA100/hangup", "u2", "user", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls/CA100/hangup", "u1", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calls.StatusCompleted, decode[calls.CallRecord](t, w).Status)

	w = f.do(t, http.MethodPost, "/v1/calls/CA404/hangup", "u1", "user", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceCall_Errors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/calls", "u1", "user", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.carrier.err = errors.New("boom")
	w = f.do(t, http.MethodPost, "/v1/calls", "u1", "user", gin.H{"to": "+15557654321"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, f.store.ListCalls(context.Background()))

	w = f.do(t, http.MethodPost, "/v1/calls", "", "", gin.H{"to": "+15557654321"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls", "s1", "support", gin.H{"to": "+15557654321"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPendingAcceptAndReject(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, ok := f.coord.RegisterIncoming(ctx, calls.InboundCall{CallID: "CA1", From: "+15557654321", To: "+15550000001"})
	require.True(t, ok)
	_, ok = f.coord.RegisterIncoming(ctx, calls.InboundCall{CallID: "CA2", From: "+15557654321", To: "+15550000001"})
	require.True(t, ok)

	w := f.do(t, http.MethodGet, "/v1/calls/pending", "u1", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Pending []calls.PendingCall }](t, w).Pending, 2)

	w = f.do(t, http.MethodPost, "/v1/calls/pending/CA1/accept", "u2", "user", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls/pending/CA1/accept", "u1", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calls.StatusAccepted, decode[calls.CallRecord](t, w).Status)

	w = f.do(t, http.MethodPost, "/v1/calls/pending/CA1/reject", "u1", "user", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls/pending/CA2/reject", "u1", "user", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	rec, ok := f.store.GetCall(ctx, "CA2")
	require.True(t, ok)
	assert.Equal(t, calls.StatusRejected, rec.Status)
}

func TestListHistory(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/calls/history?limit=1000", "u1", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[struct{ History []history.Entry }](t, w)
	require.Len(t, out.History, 1)
	assert.Equal(t, "CA1", out.History[0].CallID)
	assert.Equal(t, maxHistoryLimit, f.hist.limit)

	w = f.do(t, http.MethodGet, "/v1/calls/history?limit=-3", "u1", "user", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallsSummary_AdminOnly(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.coord.MakeCall(context.Background(), "u1", calls.OutboundRequest{To: "+15557654321"})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/admin/calls/summary", "u1", "user", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/v1/admin/calls/summary", "a1", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[reporting.CallsSummary](t, w)
	assert.Equal(t, 1, sum.TotalCalls)
	assert.Equal(t, 1, sum.ByStatus["initiated"])

	w = f.do(t, http.MethodGet, "/v1/admin/calls/summary?from=yesterday", "a1", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{"user_id": "u9", "role": "user"})
	require.Equal(t, http.StatusOK, w.Code)
	tok := decode[struct {
		AccessToken string `json:"access_token"`
	}](t, w)
	claims, err := f.auth.Verify(tok.AccessToken, auth.TokenTypeAccess, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "u9", claims.UserID)

	w = f.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{"user_id": "u9", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
