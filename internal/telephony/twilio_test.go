package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioClient_PlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC1/Calls.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "tok", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550100", r.PostForm.Get("From"))
		assert.Equal(t, "+15550199", r.PostForm.Get("To"))
		assert.Equal(t, "https://hooks.example.com/webhooks/voice/outbound-answer", r.PostForm.Get("Url"))
		assert.Equal(t, "https://hooks.example.com/webhooks/voice/status", r.PostForm.Get("StatusCallback"))
		assert.Len(t, r.PostForm["StatusCallbackEvent"], 4)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewTwilioClient(TwilioConfig{
		AccountSID: "AC1", AuthToken: "tok",
		APIBaseURL: srv.URL, PublicBaseURL: "https://hooks.example.com/",
	}, nil)

	sid, err := c.PlaceCall(context.Background(), "+15550100", "+15550199")
	require.NoError(t, err)
	require.Equal(t, "CA42", sid)
}

func TestTwilioClient_Hangup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC1/Calls/CA42.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "completed", r.PostForm.Get("Status"))
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"completed"}`))
	}))
	defer srv.Close()

	c := NewTwilioClient(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBaseURL: srv.URL}, nil)
	require.NoError(t, c.Hangup(context.Background(), "CA42"))
}

func TestTwilioClient_RequiresCredentials(t *testing.T) {
	c := NewTwilioClient(TwilioConfig{}, nil)
	_, err := c.PlaceCall(context.Background(), "+1", "+2")
	require.Error(t, err)
}

func TestTwilioClient_ServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewTwilioClient(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBaseURL: srv.URL, BreakerFailures: 2}, nil)
	ctx := context.Background()

	var apiErr *APIError
	_, err := c.PlaceCall(ctx, "+1", "+2")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	_, err = c.PlaceCall(ctx, "+1", "+2")
	require.Error(t, err)

	_, err = c.PlaceCall(ctx, "+1", "+2")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, "open", c.BreakerState())
}

func TestTwilioClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewTwilioClient(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBaseURL: srv.URL, BreakerFailures: 1}, nil)
	for i := 0; i < 3; i++ {
		require.Error(t, c.Hangup(context.Background(), "CA1"))
	}
	require.Equal(t, int32(3), hits.Load())
	require.Equal(t, "closed", c.BreakerState())
}
