package gateway

import "fmt"

// Kind classifies a non-success gateway response. Closed set; every switch
// over Kind handles all three values.
type Kind string

const (
	KindRateLimited    Kind = "rate_limited"
	KindQuotaExhausted Kind = "quota_exhausted"
	KindUnavailable    Kind = "unavailable"
)

// GatewayError is a non-2xx status from the coaching gateway, raised before
// any delta has been produced.
type GatewayError struct {
	Kind   Kind
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway status %d (%s)", e.Status, e.Kind)
	}
	return fmt.Sprintf("gateway status %d (%s): %s", e.Status, e.Kind, e.Body)
}

// StreamError is a network-level failure after the stream opened. Deltas
// already emitted stay with the caller, which decides whether to keep them.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream read error: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func classifyStatus(status int) Kind {
	switch status {
	case 429:
		return KindRateLimited
	case 402:
		return KindQuotaExhausted
	}
	return KindUnavailable
}
