package secondary

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

// ProgressFunc receives the unit count of the running pass.
type ProgressFunc func(units int64, rate float64)

// Converter runs one encoding pass. It returns errs.ErrMissingEncoder
// (wrapped) for faults that must not be retried, and ctx.Err() when stopped.
type Converter interface {
	RunPass(ctx context.Context, task *domain.Task, pass int, onProgress ProgressFunc) error
}
