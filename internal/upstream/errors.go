// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package upstream

import (
	"errors"
	"fmt"
	"time"
)

// TransientError wraps upstream failures worth retrying: 429, 503, other
// 5xx, and network errors. These count toward the circuit breaker.
type TransientError struct {
	StatusCode int // zero for network-level failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream: transient failure (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError marks an HTTP 404. Entity absence is not upstream unhealth,
// so it does not count toward the circuit breaker, but the call still fails.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("upstream: not found: %s", e.URL)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// CircuitOpenError is raised synthetically, without any network attempt,
// while the circuit is open.
type CircuitOpenError struct {
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("upstream: circuit open until %s", e.Until.Format(time.RFC3339))
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var co *CircuitOpenError
	return errors.As(err, &co)
}
