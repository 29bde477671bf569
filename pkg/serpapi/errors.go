package serpapi

import (
	"fmt"

	"github.com/sells-group/serp-monitor/internal/resilience"
)

// ProviderError is returned for every failed search: transport errors,
// timeouts, non-2xx responses and undecodable bodies. Retryable causes are
// wrapped in a resilience.TransientError.
type ProviderError struct {
	Query      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("search %q failed (status %d): %v", e.Query, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search %q failed: %v", e.Query, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the search is worth retrying.
func (e *ProviderError) Transient() bool {
	return resilience.IsTransient(e.Err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return resilience.IsTransient(err)
}
