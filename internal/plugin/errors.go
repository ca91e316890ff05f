package plugin

import (
	"errors"
	"fmt"
	"time"
)

// Code is the closed plugin error taxonomy from spec §4.4/§7. Anything
// an adapter raises that doesn't fit one of these is wrapped as
// CodeInternal by the registry/orchestrator boundary — grounded on the
// teacher's ProviderError{Code string} pattern (internal/provider/exchange.go)
// but closed to an explicit enum rather than an open string space.
type Code string

const (
	CodeAuth               Code = "PluginAuthError"
	CodeNetwork            Code = "PluginNetworkError"
	CodeRateLimited        Code = "PluginRateLimited"
	CodeFeatureUnsupported Code = "PluginFeatureUnsupported"
	CodeBadSymbol          Code = "PluginBadSymbol"
	CodeInternal           Code = "PluginInternalError"
)

// Error is the single error type every plugin adapter returns.
type Error struct {
	Code       Code
	Provider   string
	Message    string
	RetryAfter time.Duration // set only for CodeRateLimited
	Cause      error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("plugin %s: %s: %s (retry after %s)", e.Provider, e.Code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("plugin %s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Temporary reports whether the orchestrator/backfill should retry
// rather than surface the error to the caller immediately (spec §7).
func (e *Error) Temporary() bool {
	return e.Code == CodeNetwork || e.Code == CodeRateLimited
}

func AsPluginError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

// Wrap coerces an arbitrary adapter-level error into the closed
// taxonomy, defaulting to CodeInternal when nothing more specific applies.
func Wrap(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeInternal, Provider: provider, Message: err.Error(), Cause: err}
}
