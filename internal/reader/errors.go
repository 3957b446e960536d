package reader

import (
	"errors"
	"fmt"
	"time"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

// UpstreamError reports a venue call that failed: transport error, non-2xx
// status, block page or a body that does not match the expected shape.
type UpstreamError struct {
	Exchange   model.ExchangeID
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Exchange, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NotFoundError reports a symbol the venue does not list.
type NotFoundError struct {
	Exchange model.ExchangeID
	Symbol   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: symbol %s not found", e.Exchange, e.Symbol)
}

// RateLimitError reports a throttled or blocked request (HTTP 403/429).
type RateLimitError struct {
	Exchange   model.ExchangeID
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited (status %d)", e.Exchange, e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	return msg
}

// PartialItemError reports one item of a batch that could not be enriched.
// Adapters log it and fall back; it never leaves FetchAll.
type PartialItemError struct {
	Exchange model.ExchangeID
	Symbol   string
	Err      error
}

func (e *PartialItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Exchange, e.Symbol, e.Err)
}

func (e *PartialItemError) Unwrap() error { return e.Err }

// ErrBlocked marks an HTML block page served instead of JSON.
var ErrBlocked = errors.New("html block page returned")

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsRetryable reports whether repeating the request may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.StatusCode == 0 || up.StatusCode >= 500
	}
	return false
}

// Upstream wraps err as an UpstreamError unless it already carries a typed
// adapter error.
func Upstream(exchange model.ExchangeID, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		up *UpstreamError
		nf *NotFoundError
		rl *RateLimitError
	)
	if errors.As(err, &up) || errors.As(err, &nf) || errors.As(err, &rl) {
		return err
	}
	return &UpstreamError{Exchange: exchange, Op: op, Err: err}
}
