package connectivity

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is returned when a breaker rejects a call without
// attempting it.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrHTTPStatus is returned by HTTP handlers on a non-2xx response.
type ErrHTTPStatus struct {
	StatusCode int
	Body       string
}

func (e *ErrHTTPStatus) Error() string {
	return fmt.Sprintf("connectivity/http: status %d: %s", e.StatusCode, e.Body)
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}

// Retryable reports whether err is worth another attempt. Open circuits and
// client errors other than 408 and 429 are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var st *ErrHTTPStatus
	if errors.As(err, &st) {
		switch {
		case st.StatusCode == http.StatusRequestTimeout, st.StatusCode == http.StatusTooManyRequests:
			return true
		case st.StatusCode >= 400 && st.StatusCode < 500:
			return false
		}
	}
	var p *ErrPanic
	return !errors.As(err, &p)
}
