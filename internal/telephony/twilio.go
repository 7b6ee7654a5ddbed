package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicebridge/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

const defaultTwilioAPI = "https://api.twilio.com/2010-04-01"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// APIBaseURL overrides the REST endpoint root (tests, regional edges).
	APIBaseURL string
	// PublicBaseURL is where the carrier reaches our webhooks.
	PublicBaseURL string
	Timeout       time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// APIError is a non-2xx carrier response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio api error (%d): %s", e.StatusCode, e.Body)
}

// TwilioClient places and terminates calls through the Twilio REST API.
type TwilioClient struct {
	cfg        TwilioConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        *slog.Logger
}

func NewTwilioClient(cfg TwilioConfig, log *slog.Logger) *TwilioClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultTwilioAPI
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &TwilioClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    newCarrierBreaker(cfg, log),
		log:        log,
	}
}

func newCarrierBreaker(cfg TwilioConfig, log *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "TwilioREST",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// 4xx means we sent something wrong, not that the carrier is down.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})
}

func (c *TwilioClient) Name() string { return "twilio" }

func (c *TwilioClient) BreakerState() string { return c.breaker.State().String() }

func (c *TwilioClient) callsURL() string {
	return fmt.Sprintf("%s/Accounts/%s/Calls.json", c.cfg.APIBaseURL, c.cfg.AccountSID)
}

func (c *TwilioClient) callURL(sid string) string {
	return fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.cfg.APIBaseURL, c.cfg.AccountSID, url.PathEscape(sid))
}

func (c *TwilioClient) webhookURL(path string) string {
	return c.cfg.PublicBaseURL + path
}

// PlaceCall starts an outbound call. The answered leg fetches its TwiML from
// the outbound-answer webhook and progress is reported to the status webhook.
func (c *TwilioClient) PlaceCall(ctx context.Context, from, to string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Url", c.webhookURL(PathOutboundAnswer))
	form.Set("Method", http.MethodPost)
	form.Set("StatusCallback", c.webhookURL(PathStatus))
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}

	body, err := c.post(ctx, "place_call", c.callsURL(), form)
	if err != nil {
		return "", err
	}
	var out struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding twilio call: %w", err)
	}
	if out.SID == "" {
		return "", errors.New("twilio call response has no sid")
	}
	c.log.Info("outbound call placed", "call_id", out.SID, "carrier_status", out.Status)
	return out.SID, nil
}

// Hangup ends a live call by moving it to completed.
func (c *TwilioClient) Hangup(ctx context.Context, sid string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	_, err := c.post(ctx, "hangup", c.callURL(sid), form)
	return err
}

func (c *TwilioClient) post(ctx context.Context, op, endpoint string, form url.Values) ([]byte, error) {
	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" {
		return nil, errors.New("twilio credentials not configured")
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("twilio request: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("reading twilio response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		return b, nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CarrierRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	return body, err
}
