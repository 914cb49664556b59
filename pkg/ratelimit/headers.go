package ratelimit

import (
	"math"
	"net/http"
	"strconv"
)

// Headers returns the rate limit response headers for a consumption. The
// reset time is in epoch seconds; Retry-After, in whole seconds rounded up,
// is only set when the consumption was denied.
func Headers(r Result) http.Header {
	h := make(http.Header)
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(float64(r.ResetAtEpochMs)/1000)), 10))
	if !r.Allowed {
		retry := int64(math.Ceil(r.RetryAfter.Seconds()))
		h.Set("Retry-After", strconv.FormatInt(max(retry, 1), 10))
	}
	return h
}
