package core

import (
	"context"
	"fmt"
	"time"
)

// WaitMoves polls axes that were started with non-blocking moves until each
// one reaches its target or reports a driver error. Axes are polled in turn
// and every poll is a separate bus transaction, so axes on the same bus
// interleave. Results are returned in the order of axes.
func WaitMoves(ctx context.Context, interval time.Duration, axes ...*TMC5160) ([]MoveResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	results := make([]MoveResult, len(axes))
	remaining := len(axes)
	for remaining > 0 {
		for i, a := range axes {
			if results[i].Outcome != MovePending {
				continue
			}
			p, err := a.Poll()
			if err != nil {
				return results, fmt.Errorf("axis %q: %w", a.Name(), err)
			}
			results[i].Polls++
			results[i].Flags = p.Flags
			results[i].Outcome = p.Outcome
			if p.Outcome != MovePending {
				remaining--
			}
		}
		if remaining == 0 {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return results, err
		}
	}
	return results, nil
}
