package analysis

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// retryClass says how a failed HTTP response should be handled.
// The mapping is a decision table keyed by (status code, presence of
// provider-error metadata):
//
//	429                         -> retryPaced (honor Retry-After if longer)
//	5xx                         -> retryExponential
//	400 naming a sub-provider   -> retryLinear (request may be re-routed)
//	anything else               -> failFast
type retryClass int

const (
	failFast retryClass = iota
	retryPaced
	retryExponential
	retryLinear
)

// decision is the outcome of classifying one failed response.
type decision struct {
	class      retryClass
	serverWait time.Duration // parsed Retry-After, 429 only
}

// providerError mirrors the OpenRouter-style error envelope. A 400 carrying
// metadata.provider_name means a specific upstream sub-provider rejected the
// request; retrying may land on a healthier one.
type providerError struct {
	Error struct {
		Message  string `json:"message"`
		Code     int    `json:"code"`
		Metadata struct {
			ProviderName string `json:"provider_name"`
		} `json:"metadata"`
	} `json:"error"`
}

func classifyResponse(status int, retryAfter string, body []byte) decision {
	switch {
	case status == http.StatusTooManyRequests:
		return decision{class: retryPaced, serverWait: parseRetryAfter(retryAfter)}
	case status >= 500:
		return decision{class: retryExponential}
	case status == http.StatusBadRequest && namesProvider(body):
		return decision{class: retryLinear}
	default:
		return decision{class: failFast}
	}
}

// wait computes the delay before the given retry attempt (0-based).
func (d decision) wait(attempt int, base time.Duration) time.Duration {
	switch d.class {
	case retryPaced:
		backoff := base << attempt
		if d.serverWait > backoff {
			return d.serverWait
		}
		return backoff
	case retryExponential:
		return base << attempt
	case retryLinear:
		return base * time.Duration(attempt+1)
	default:
		return 0
	}
}

func namesProvider(body []byte) bool {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err != nil {
		return false
	}
	return pe.Error.Metadata.ProviderName != ""
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
