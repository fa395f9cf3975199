package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownStrategy = errors.New("ratelimit: unknown strategy")
	ErrInvalidDuration = errors.New("ratelimit: duration must be positive")
	ErrEmptyIdentity   = errors.New("ratelimit: identity must not be empty")
)

// Strategy is a named fixed-window limit. Strategies are immutable once the
// engine is built.
type Strategy struct {
	Name                   string        `json:"name"`
	Window                 time.Duration `json:"-"`
	Max                    int64         `json:"max"`
	Message                string        `json:"message"`
	SkipSuccessfulRequests bool          `json:"skipSuccessfulRequests"`
	SkipFailedRequests     bool          `json:"skipFailedRequests"`
}

// RetryAfter renders the window the way clients are told to back off.
func (s Strategy) RetryAfter() string {
	return formatMinutes(s.Window)
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed   bool
	Strategy  string
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// RetryAfter is how long a denied caller should wait.
	RetryAfter time.Duration
	// RetryAfterText is the human readable back-off, e.g. "15 minutes".
	RetryAfterText string
	Message        string
	Reason         string
	// Counted is true when the request was added to a bucket and may later be
	// taken back out by Report.
	Counted bool
}

// Outcome is how a counted request finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeFailure {
		return "failure"
	}
	return "success"
}

// OutcomeFromStatus classifies an HTTP status code. 4xx and 5xx are failures.
func OutcomeFromStatus(status int) Outcome {
	if status >= 400 {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Limiter is the part of the engine the admission middleware depends on.
type Limiter interface {
	Check(ctx context.Context, strategy, identity string, aliases ...string) (Decision, error)
	Report(ctx context.Context, decision Decision, identity string, outcome Outcome) error
}
