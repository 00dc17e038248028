package usage

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

var (
	ErrLimitExceeded  = errors.New("usage limit exceeded")
	ErrUnknownCounter = errors.New("unknown usage counter")
	ErrInvalidDelta   = errors.New("usage delta must be positive")
	ErrNotCumulative  = errors.New("only cumulative counters can be decremented")
)

// LimitError carries the numbers a client needs to render an upgrade prompt.
// It matches ErrLimitExceeded with errors.Is.
type LimitError struct {
	Counter   subscription.Resource
	Current   int64
	Limit     int64
	Requested int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s at %d of %d, requested %d",
		ErrLimitExceeded, e.Counter, e.Current, e.Limit, e.Requested)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}
