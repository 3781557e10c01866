package smig

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError reports that the remote side throttled a call past the
// point of retrying. Enrichment treats these as transient and requeues the
// affected files; anything else is fatal for the item.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (HTTP %d, retry after %s)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
}

// IsRateLimited reports whether err is a rate-limit-class failure.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
