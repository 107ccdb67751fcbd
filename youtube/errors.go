package youtube

import (
	"fmt"
	"net/http"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"google.golang.org/api/googleapi"
)

// FailureKind classifies a failed videos.list call.
type FailureKind int

const (
	// Unclassified failures are fatal for the run.
	Unclassified FailureKind = iota
	// AuthFailure means the API key was rejected (invalid, revoked or out of quota).
	AuthFailure
	// ServiceUnavailable is a transient provider-side outage.
	ServiceUnavailable
	// ConnectionReset is a transport-level reset by the peer.
	ConnectionReset
)

func (k FailureKind) String() string {
	switch k {
	case AuthFailure:
		return "auth_failure"
	case ServiceUnavailable:
		return "service_unavailable"
	case ConnectionReset:
		return "connection_reset"
	default:
		return "unclassified"
	}
}

// Error is returned by Client for every failed call.
type Error struct {
	Kind       FailureKind
	StatusCode int    // 0 for transport failures
	Reason     string // First reason reported by the API, if any
	Message    string
	Err        error // Underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("youtube %s: %v", e.Kind, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("youtube %s: %d %s: %s", e.Kind, e.StatusCode, e.Reason, e.Message)
	default:
		return fmt.Sprintf("youtube %s: %d: %s", e.Kind, e.StatusCode, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification carried by err, or Unclassified.
func KindOf(err error) FailureKind {
	var yerr *Error
	if errors.As(err, &yerr) {
		return yerr.Kind
	}
	return Unclassified
}

// keyRejectReasons are 400 reasons that still mean the key is unusable.
var keyRejectReasons = map[string]bool{
	"keyInvalid": true,
	"keyExpired": true,
}

// classify turns a failed videos.list call into an *Error. It is the only
// place that looks at status codes, reasons or transport error text.
func classify(err error) *Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(gerr)
	}
	return classifyTransport(err)
}

// classifyTransport handles failures that never produced an HTTP response.
func classifyTransport(err error) *Error {
	kind := Unclassified
	if errors.Is(err, syscall.ECONNRESET) || strings.Contains(err.Error(), "connection reset by peer") {
		kind = ConnectionReset
	}
	return &Error{Kind: kind, Err: err}
}

// classifyStatus handles non-2xx responses decoded by googleapi.
func classifyStatus(gerr *googleapi.Error) *Error {
	e := &Error{Kind: Unclassified, StatusCode: gerr.Code, Message: gerr.Message}
	if len(gerr.Errors) > 0 {
		e.Reason = gerr.Errors[0].Reason
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(gerr.Body)
	}

	switch {
	case gerr.Code == http.StatusUnauthorized, gerr.Code == http.StatusForbidden:
		e.Kind = AuthFailure
	case gerr.Code == http.StatusBadRequest && keyRejectReasons[e.Reason]:
		e.Kind = AuthFailure
	case gerr.Code == http.StatusServiceUnavailable:
		e.Kind = ServiceUnavailable
	}
	return e
}
