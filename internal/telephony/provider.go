package telephony

import "voicebridge/internal/calls"

// Provider is a carrier adapter: call control for the coordinator plus what
// the health endpoint needs to know about it.
//
// Rules:
// - No carrier REST calls outside telephony adapters.
// - Adapters translate; call state decisions belong to internal/calls.
type Provider interface {
	calls.Carrier
	Name() string
	// BreakerState is the adapter's circuit breaker state ("closed", "open", "half-open").
	BreakerState() string
}

var _ Provider = (*TwilioClient)(nil)
