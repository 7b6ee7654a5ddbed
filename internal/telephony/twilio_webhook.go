package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicebridge/internal/calls"
)

// VoiceForm captures the subset of Twilio voice webhook fields we use.
// Twilio sends application/x-www-form-urlencoded.
type VoiceForm struct {
	CallSid      string
	From         string
	To           string
	CallStatus   string
	CallDuration string
	Timestamp    string
}

func ParseVoiceForm(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	return VoiceForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: r.PostFormValue("CallDuration"),
		Timestamp:    r.PostFormValue("Timestamp"),
	}, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

func (f VoiceForm) InboundCall() calls.InboundCall {
	return calls.InboundCall{CallID: f.CallSid, From: f.From, To: f.To}
}

// StatusEvent maps the form onto a status event. The bool is false when the
// carrier status is one we do not track.
func (f VoiceForm) StatusEvent(now time.Time) (calls.StatusEvent, bool) {
	status, ok := calls.ParseCarrierStatus(f.CallStatus)
	if !ok {
		return calls.StatusEvent{}, false
	}
	ev := calls.StatusEvent{CallID: f.CallSid, Status: status, OccurredAt: now}
	if ts, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
		ev.OccurredAt = ts.UTC()
	}
	if d, err := strconv.Atoi(strings.TrimSpace(f.CallDuration)); err == nil && d > 0 {
		ev.DurationSeconds = d
	}
	return ev, true
}
