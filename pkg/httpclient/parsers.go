package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryHeaders reads Retry-After (seconds or HTTP date) and the
// x-ratelimit-* headers used by OpenAI-compatible servers.
func ParseRetryHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(retryAfter); err == nil {
			info.RetryAfter = time.Until(at)
		}
	}

	for _, header := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		if v := headers.Get(header); v != "" {
			if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
				info.ResetTime = reset
				break
			}
		}
	}

	if v := headers.Get("x-ratelimit-remaining-requests"); v != "" {
		info.RequestsRemaining, _ = strconv.Atoi(v)
	}
	if v := headers.Get("x-ratelimit-remaining-tokens"); v != "" {
		info.TokensRemaining, _ = strconv.Atoi(v)
	}

	return info
}
