package engine

import (
	"errors"
	"fmt"
	"net"
)

// ProviderError is a structured failure reported by a provider, carrying
// enough detail to decide whether a retry makes sense.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether the provider rejected the call for pacing
// reasons and a later retry may succeed.
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsOverloaded reports a server-side failure (5xx).
func (e *ProviderError) IsOverloaded() bool {
	return e.StatusCode >= 500
}

// IsTransient reports whether err is worth retrying after a backoff: provider
// rate limits, provider overload, or network-level failures. Everything else
// (bad requests, decode failures, cancellations) is permanent.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRateLimited() || pe.IsOverloaded()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsRateLimited reports whether err is specifically a provider rate limit,
// for feeding adaptive limiters.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsRateLimited()
}

// UnexpectedFinishError marks a reply that ended for a reason a turn cannot
// continue on, e.g. a length cutoff or a content filter.
type UnexpectedFinishError struct {
	FinishReason string
	Native       string
}

func (e *UnexpectedFinishError) Error() string {
	if e.Native != "" && e.Native != e.FinishReason {
		return fmt.Sprintf("unexpected finish reason %q (native %q)", e.FinishReason, e.Native)
	}
	return fmt.Sprintf("unexpected finish reason %q", e.FinishReason)
}
