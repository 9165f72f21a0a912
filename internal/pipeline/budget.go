package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicapro/cardiobot/pkg/observability"
	"golang.org/x/time/rate"
)

// Budget is the throughput budget shared by every stage of every concurrent
// run. Callers block until an operation slot is free.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget allows ops operations per window with the given burst.
// ops <= 0 disables the budget.
func NewBudget(ops int, window time.Duration, burst int) *Budget {
	if ops <= 0 || window <= 0 {
		return &Budget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Budget{limiter: rate.NewLimiter(rate.Every(window/time.Duration(ops)), burst)}
}

// Wait blocks until one operation is available. It fails only when ctx ends
// first or its deadline is too close to ever be met; both are reported as
// context errors.
func (b *Budget) Wait(ctx context.Context) error {
	start := time.Now()
	err := b.limiter.Wait(ctx)
	observability.RecordBudgetWait(time.Since(start))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("throughput budget: %w", ctxErr)
	}
	return fmt.Errorf("throughput budget: %w: %v", context.DeadlineExceeded, err)
}
