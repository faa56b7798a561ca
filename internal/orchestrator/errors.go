// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a wire condition into the retry-policy taxonomy.
type ErrorKind uint8

const (
	// KindRateLimited maps from a 429 status or a body containing
	// "Rate limit exceeded".
	KindRateLimited ErrorKind = iota
	// KindTransient maps from a 5xx status or a transport failure.
	KindTransient
	// KindPermanent maps from any other 4xx status.
	KindPermanent
	// KindMalformed maps from a 200 with a body that failed to decode.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "RateLimited"
	case KindTransient:
		return "Transient"
	case KindPermanent:
		return "Permanent"
	case KindMalformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// RequestError is the classified result of a failed orchestrator call.
// Fetch and submit paths both produce one of these on failure; the caller
// switches on Kind to decide its retry policy.
type RequestError struct {
	Kind ErrorKind
	// RetryAfter is an explicit wait for a RateLimited response; zero
	// means the caller should fall back to its own backoff schedule.
	// classifyHTTPStatus and classifyGRPCError never set it, so errors
	// returned by Client always carry zero here.
	RetryAfter time.Duration
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orchestrator: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("orchestrator: %s", e.Kind)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *RequestError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

const rateLimitedBodyMarker = "Rate limit exceeded"

// classifyHTTPStatus classifies a completed HTTP round trip.
func classifyHTTPStatus(status int, body string, transportErr error) *RequestError {
	if transportErr != nil {
		return &RequestError{Kind: KindTransient, Err: transportErr}
	}
	switch {
	case status == 429 || containsRateLimitMarker(body):
		return &RequestError{Kind: KindRateLimited, Err: fmt.Errorf("status %d: %s", status, body)}
	case status >= 500:
		return &RequestError{Kind: KindTransient, Err: fmt.Errorf("status %d: %s", status, body)}
	case status >= 400:
		return &RequestError{Kind: KindPermanent, Err: fmt.Errorf("status %d: %s", status, body)}
	default:
		return nil
	}
}

func containsRateLimitMarker(body string) bool {
	return strings.Contains(body, rateLimitedBodyMarker)
}
