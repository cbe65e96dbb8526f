package resilience

import (
	"errors"
	"fmt"
)

// InvariantViolation signals a broken structural invariant (non-renormalizable
// ICP weights, malformed criterion config). It is fatal to the operation that
// raised it and is never retried or silently coerced.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// NewInvariantViolation constructs an InvariantViolation for op.
func NewInvariantViolation(op, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsInvariantViolation reports whether err (or its chain) is an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

// ErrInsufficientData is returned by an enricher that has exhausted its
// sources for a lead with required attributes still missing. The orchestrator
// stops waiting on the enrichment budget and scores the lead with whatever
// attributes exist rather than failing the run. Circuit breakers ignore it:
// it describes the lead, not the service.
var ErrInsufficientData = errors.New("insufficient data")

// ErrLowConfidence marks a learning suggestion below the auto-apply
// confidence threshold. It is a normal outcome, not a failure: the
// suggestion stays proposed pending manual commit.
var ErrLowConfidence = errors.New("low confidence signal")
