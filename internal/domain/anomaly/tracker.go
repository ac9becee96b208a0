package anomaly

import (
	"sync"
	"time"
)

const trackerShards = 16

// activity is the rolling per-user window the detector evaluates. It is a
// best-effort cache: losing it on restart only resets detection sensitivity,
// the audit log remains the ground truth.
type activity struct {
	requestCount    int
	lastRequest     time.Time
	ips             map[string]struct{}
	dataAccessCount int
	exportCount     int
	failedLogins    int
	lastFailedLogin time.Time
}

type trackerShard struct {
	mu      sync.Mutex
	entries map[string]*activity
}

type Tracker struct {
	shards [trackerShards]*trackerShard
	now    func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	for i := range t.shards {
		t.shards[i] = &trackerShard{entries: map[string]*activity{}}
	}
	return t
}

func (t *Tracker) shard(userID string) *trackerShard {
	var sum uint32
	for i := 0; i < len(userID); i++ {
		sum = sum*31 + uint32(userID[i])
	}
	return t.shards[sum%trackerShards]
}

// Snapshot of the counters relevant to threshold rules after recording one
// request.
type Observation struct {
	RequestCount    int
	DistinctIPs     int
	DataAccessCount int
	ExportCount     int
}

// Observe records one request for the user and returns the updated counters.
func (t *Tracker) Observe(userID, ip string, dataAccess, export bool) Observation {
	shard := t.shard(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[userID]
	if !ok {
		entry = &activity{ips: map[string]struct{}{}}
		shard.entries[userID] = entry
	}
	entry.requestCount++
	entry.lastRequest = t.now()
	if ip != "" {
		entry.ips[ip] = struct{}{}
	}
	if dataAccess {
		entry.dataAccessCount++
	}
	if export {
		entry.exportCount++
	}

	return Observation{
		RequestCount:    entry.requestCount,
		DistinctIPs:     len(entry.ips),
		DataAccessCount: entry.dataAccessCount,
		ExportCount:     entry.exportCount,
	}
}

// RecordFailedLogin increments the failed-login counter and returns the new
// count.
func (t *Tracker) RecordFailedLogin(userID string) int {
	shard := t.shard(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[userID]
	if !ok {
		entry = &activity{ips: map[string]struct{}{}}
		shard.entries[userID] = entry
	}
	entry.failedLogins++
	entry.lastFailedLogin = t.now()
	entry.lastRequest = t.now()
	return entry.failedLogins
}

// ResetFailedLogins clears the counter after a successful authentication.
func (t *Tracker) ResetFailedLogins(userID string) {
	shard := t.shard(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, ok := shard.entries[userID]; ok {
		entry.failedLogins = 0
	}
}

// Sweep evicts entries idle for longer than maxIdle and reports how many were
// removed. Runs on a background timer; racing with concurrent updates is
// harmless because an evicted-but-active user simply starts a fresh window.
func (t *Tracker) Sweep(maxIdle time.Duration) int {
	cutoff := t.now().Add(-maxIdle)
	removed := 0
	for _, shard := range t.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.lastRequest.Before(cutoff) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func (t *Tracker) Len() int {
	total := 0
	for _, shard := range t.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}
