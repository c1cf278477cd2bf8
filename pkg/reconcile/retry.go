// Package reconcile contains the tasks which bring a control plane and its
// plugin registries to a desired state.
//
// Every task compares one desired entity against the live system and returns
// an engine.Outcome. Remote failures never escape a task: they are recorded on
// the task's status channel and reported as engine.Failed.
package reconcile

import (
	"strings"
	"time"

	"github.com/openfroyo/provisioner/pkg/backend"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// benignRegistrationMarker appears in the body of a 400 response the control
// plane sometimes returns for a registration which succeeds when repeated.
const benignRegistrationMarker = "Could not register plugin"

// IsUploadConflict reports whether a registration or upload failure is worth
// retrying: the connection dropped, the server reported a conflict, or the
// response is the control plane's benign 400 quirk.
func IsUploadConflict(err error) bool {
	if engine.IsDisconnect(err) || engine.IsRetryable(err) {
		return true
	}
	br, ok := backend.AsBadRequest(err)
	return ok && br.StatusCode == 400 && strings.Contains(br.Body, benignRegistrationMarker)
}

// RetrySettings configures how tasks retry remote calls.
type RetrySettings struct {
	WaitMin     time.Duration
	WaitMax     time.Duration
	MaxAttempts int

	// OnRetry, when set, is called with the operation name before every retry.
	OnRetry func(operation string)
}

// DefaultRetrySettings returns the retry settings used unless configured otherwise.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{WaitMin: time.Second, WaitMax: 2 * time.Second, MaxAttempts: 3}
}

func (s RetrySettings) policy(operation string, isRetryable func(error) bool) engine.RetryPolicy {
	p := engine.DefaultRetryPolicy(isRetryable)
	if s.MaxAttempts > 0 {
		p.WaitMin = s.WaitMin
		p.WaitMax = s.WaitMax
		p.MaxAttempts = s.MaxAttempts
	}
	if s.OnRetry != nil {
		p.OnRetry = func(int, error) { s.OnRetry(operation) }
	}
	return p
}
