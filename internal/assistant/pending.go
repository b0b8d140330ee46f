package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/ingres-ai/ingres-assistant/internal/cache"
)

// PendingCharts holds the chart offered to each session until it is
// accepted, declined or expires.
type PendingCharts struct {
	cache cache.Client
	ttl   time.Duration
}

// NewPendingCharts stores pending charts in c for ttl.
func NewPendingCharts(c cache.Client, ttl time.Duration) *PendingCharts {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PendingCharts{cache: c, ttl: ttl}
}

// Put replaces the pending chart of session.
func (p *PendingCharts) Put(ctx context.Context, session string, points []ChartPoint) error {
	return cache.SetJSON(ctx, p.cache, cache.PendingChartKey(session), points, p.ttl)
}

// Take returns and clears the pending chart of session. A session without
// one yields nil and no error.
func (p *PendingCharts) Take(ctx context.Context, session string) ([]ChartPoint, error) {
	var points []ChartPoint
	err := cache.TakeJSON(ctx, p.cache, cache.PendingChartKey(session), &points)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return points, nil
}

// Clear drops the pending chart of session.
func (p *PendingCharts) Clear(ctx context.Context, session string) error {
	return p.cache.Delete(ctx, cache.PendingChartKey(session))
}
