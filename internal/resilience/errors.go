package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks a failure the caller may retry. StatusCode is the
// HTTP status behind it, or 0 for transport failures.
type TransientError struct {
	StatusCode int
	Err        error
}

// NewTransientError marks err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{StatusCode: statusCode, Err: err}
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransientHTTPStatus reports whether a response status is worth another
// attempt: 408, 429 and every 5xx except 501.
func IsTransientHTTPStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code == http.StatusNotImplemented:
		return false
	default:
		return code >= 500 && code <= 599
	}
}

// droppedConnErrnos are socket errors after which a fresh request may work.
var droppedConnErrnos = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE}

// transportFragments match transport failures that reach us flattened to text.
var transportFragments = []string{
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"temporary failure in name resolution",
	"server closed idle connection",
}

// IsTransient reports whether err, or anything it wraps, is retryable. Errors
// marked with NewTransientError always are; otherwise network timeouts and
// dropped connections count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var marked *TransientError
	if errors.As(err, &marked) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range droppedConnErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transportFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
