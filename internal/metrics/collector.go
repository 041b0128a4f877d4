package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// FillStat is one survey's fill state for gauge updates.
type FillStat struct {
	SurveyID     string
	CurrentCount int
	TotalTarget  int
}

// FillStatsProvider supplies current quota fill state. Counter state
// lives in the database; only gauges need periodic refresh.
type FillStatsProvider interface {
	FillStats(ctx context.Context) ([]FillStat, error)
}

// Collector keeps the quota fill and system gauges current.
type Collector struct {
	metrics   *Metrics
	provider  FillStatsProvider
	interval  time.Duration
	startTime time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(m *Metrics, provider FillStatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:   m,
		provider:  provider,
		interval:  interval,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collector background task
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.refreshLoop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) refreshLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh updates all gauges once.
func (c *Collector) Refresh(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.provider == nil {
		return
	}
	stats, err := c.provider.FillStats(ctx)
	if err != nil {
		return
	}
	for _, s := range stats {
		c.metrics.QuotaCurrent.WithLabelValues(s.SurveyID).Set(float64(s.CurrentCount))
		if s.TotalTarget > 0 {
			c.metrics.QuotaFillRatio.WithLabelValues(s.SurveyID).Set(float64(s.CurrentCount) / float64(s.TotalTarget))
		}
	}
}
