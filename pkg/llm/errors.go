package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrUnavailable marks a provider call that failed past the retry
// budget. The API layer maps it to 503.
var ErrUnavailable = errors.New("llm provider unavailable")

// transientMarkers are substrings of provider errors worth retrying.
// OpenAI-compatible endpoints surface these as plain text inside the
// error message.
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"overloaded",
	"timeout",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"EOF",
}

// isTransient reports whether an error class is worth retrying. Context
// cancellation is never transient: the caller has given up.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
