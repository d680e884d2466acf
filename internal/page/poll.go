// internal/page/poll.go
package page

import (
	"context"
	"fmt"
	"time"
)

// Condition is evaluated by Poll. Returning an error stops polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond until it reports true, it errors, ctx ends or timeout elapses.
// cond is always evaluated at least once, even with a zero timeout.
func Poll(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep waits for d or until ctx ends, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FirstVisible returns the first node matching selector that is visible.
func FirstVisible(ctx context.Context, p Page, selector string) (Node, error) {
	nodes, err := p.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		vis, err := p.Visible(ctx, n)
		if err != nil {
			return nil, err
		}
		if vis {
			return n, nil
		}
	}
	return nil, nil
}
