package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	rateLimited     uint64
	totalDurationMs uint64
	alertsRaised    uint64
	alertsMerged    uint64
	auditAppends    uint64
	retentionRuns   uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

// RecordAlert counts a detector hit; merged hits folded into an existing
// alert are tracked separately from new rows.
func (c *Collector) RecordAlert(merged bool) {
	atomic.AddUint64(&c.alertsRaised, 1)
	if merged {
		atomic.AddUint64(&c.alertsMerged, 1)
	}
}

func (c *Collector) RecordAuditAppend() {
	atomic.AddUint64(&c.auditAppends, 1)
}

func (c *Collector) RecordRetentionRun() {
	atomic.AddUint64(&c.retentionRuns, 1)
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      errs,
		"rateLimitedTotal": limited,
		"avgDurationMs":    avg,
		"totalDurationMs":  totalMs,
		"alertsTotal":      atomic.LoadUint64(&c.alertsRaised),
		"alertsMerged":     atomic.LoadUint64(&c.alertsMerged),
		"auditAppends":     atomic.LoadUint64(&c.auditAppends),
		"retentionRuns":    atomic.LoadUint64(&c.retentionRuns),
	}
}
