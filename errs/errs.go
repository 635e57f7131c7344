// Package errs provides structured error types shared across the sync core.
package errs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Code identifies an exchange-specific error category.
type Code string

const (
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeExchange indicates an exchange-side failure reported in the response body.
	CodeExchange Code = "exchange_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeTimeout indicates the request deadline elapsed before a response arrived.
	CodeTimeout Code = "timeout"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates the exchange is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode captures exchange-agnostic failure categories surfaced to callers.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalCapabilityMissing indicates the adapter lacks the required capability.
	CanonicalCapabilityMissing CanonicalCode = "capability_missing"
	// CanonicalNotInitialized indicates the exchange has no registered adapter.
	CanonicalNotInitialized CanonicalCode = "not_initialized"
	// CanonicalBadCredentials indicates the exchange rejected the supplied API keys.
	CanonicalBadCredentials CanonicalCode = "bad_credentials"
	// CanonicalInvalidSymbol indicates an unsupported or malformed symbol.
	CanonicalInvalidSymbol CanonicalCode = "invalid_symbol"
	// CanonicalRateLimited indicates the request was rate limited.
	CanonicalRateLimited CanonicalCode = "rate_limited"
	// CanonicalTimeout indicates a stalled upstream connection.
	CanonicalTimeout CanonicalCode = "timeout"
)

// E captures structured error information produced across the sync core.
type E struct {
	Exchange    string
	Operation   string
	Code        Code
	HTTP        int
	RawCode     string
	RawMsg      string
	Message     string
	Canonical   CanonicalCode
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the exchange and error code.
func New(exchange string, code Code, opts ...Option) *E {
	e := &E{
		Exchange:  strings.TrimSpace(strings.ToLower(exchange)),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithOperation records the logical operation that failed (e.g. "fetch_trades").
func WithOperation(op string) Option {
	trimmed := strings.TrimSpace(op)
	return func(e *E) {
		e.Operation = trimmed
	}
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	exchange := strings.TrimSpace(e.Exchange)
	if exchange == "" {
		exchange = "unknown"
	}
	parts = append(parts, "exchange="+exchange)

	if e.Operation != "" {
		parts = append(parts, "op="+e.Operation)
	}

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// As extracts a structured envelope from an arbitrary error chain.
func As(err error) (*E, bool) {
	var e *E
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// NotSupported returns a standardized error for unsupported capabilities.
func NotSupported(exchange, capability string) *E {
	return New(exchange, CodeExchange,
		WithMessage(capability+" not supported"),
		WithCanonicalCode(CanonicalCapabilityMissing))
}

// NotInitialized reports that the exchange has no registered adapter.
func NotInitialized(exchange string) *E {
	return New(exchange, CodeInvalid,
		WithMessage(strings.ToLower(strings.TrimSpace(exchange))+" not initialized"),
		WithCanonicalCode(CanonicalNotInitialized),
		WithRemediation("call Initialize with valid credentials before syncing"))
}

// FromHTTPStatus classifies a non-2xx transport response into an envelope.
func FromHTTPStatus(exchange, op string, status int, body string) *E {
	code := CodeExchange
	canonical := CanonicalUnknown
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		code = CodeRateLimited
		canonical = CanonicalRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = CodeAuth
		canonical = CanonicalBadCredentials
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status >= http.StatusInternalServerError:
		code = CodeUnavailable
	case status >= http.StatusBadRequest:
		code = CodeInvalid
	}
	return New(exchange, code,
		WithOperation(op),
		WithHTTP(status),
		WithRawMessage(strings.TrimSpace(body)),
		WithCanonicalCode(canonical))
}
