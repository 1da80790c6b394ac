package ai

import (
	"errors"
	"fmt"

	"github.com/sermonforge/server/internal/quota"
)

// ErrConfiguration indicates a required provider credential is absent.
// It is an operator problem, never a user one.
var ErrConfiguration = errors.New("ai provider credentials are not configured")

// QuotaExceededError is returned when the quota gate denies a generation.
// Remaining lets the caller present a precise "N remaining" message.
type QuotaExceededError struct {
	Capability quota.Capability
	Remaining  int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded for %s (%d remaining)", e.Capability, e.Remaining)
}

// ProviderErrorKind classifies a failed provider call.
type ProviderErrorKind string

const (
	// ProviderErrAuth covers invalid or rejected credentials. Retrying
	// cannot help until an operator fixes the key.
	ProviderErrAuth ProviderErrorKind = "auth"

	// ProviderErrRateLimited means the provider throttled us.
	ProviderErrRateLimited ProviderErrorKind = "rate_limited"

	// ProviderErrTransient covers network failures and provider 5xx; the
	// caller may retry.
	ProviderErrTransient ProviderErrorKind = "transient"

	// ProviderErrInvalidResponse means the provider answered with a shape
	// we could not use.
	ProviderErrInvalidResponse ProviderErrorKind = "invalid_response"
)

// ProviderError wraps a failed external AI call with enough classification
// for the caller to distinguish credential problems from retryable ones.
type ProviderError struct {
	Kind ProviderErrorKind
	Msg  string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ai provider %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("ai provider %s: %s", e.Kind, e.Msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may reasonably retry the request.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderErrRateLimited || e.Kind == ProviderErrTransient
}
