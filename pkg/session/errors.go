package session

import (
	"errors"
	"fmt"

	"fortivus/pkg/gateway"
)

// ErrAuthRequired is returned when a write is attempted without a signed-in
// user. The caller aborts quietly or prompts for sign-in.
var ErrAuthRequired = errors.New("authentication required")

// RemoteError is any persistence-layer failure. It is logged and surfaced as
// a non-fatal notification; in-memory state stays unchanged.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// userFacing maps a send failure onto the dismissible message shown to the
// member. Each gateway kind gets its own wording.
func userFacing(err error) string {
	var ge *gateway.GatewayError
	if errors.As(err, &ge) {
		switch ge.Kind {
		case gateway.KindRateLimited:
			return "The coach is handling a lot of questions right now. Please try again in a moment."
		case gateway.KindQuotaExhausted:
			return "Your coaching credits are used up. Please check your plan."
		}
		return "The coach could not answer. Please try again."
	}
	var se *gateway.StreamError
	if errors.As(err, &se) {
		return "The connection dropped before the coach finished. Please try again."
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return "Something went wrong saving your conversation. Please try again."
	}
	return "The coach could not answer. Please try again."
}
