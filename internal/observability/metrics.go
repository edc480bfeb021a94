package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	propagation  PropagationCounters
}

// PropagationCounters accumulates exposure engine outcomes.
type PropagationCounters struct {
	Runs            int64 `json:"runs"`
	FailedRuns      int64 `json:"failed_runs"`
	DirectUpdated   int64 `json:"direct_updated"`
	DirectSkipped   int64 `json:"direct_skipped"`
	IndirectUpdated int64 `json:"indirect_updated"`
	IndirectSkipped int64 `json:"indirect_skipped"`
	ConflictRetries int64 `json:"conflict_retries"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Requests    map[string]int64    `json:"requests"`
	Errors      map[string]int64    `json:"errors"`
	Propagation PropagationCounters `json:"propagation"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordPropagation adds the outcome of one report run.
func (m *Metrics) RecordPropagation(directUpdated, directSkipped, indirectUpdated, indirectSkipped int, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagation.Runs++
	if failed {
		m.propagation.FailedRuns++
	}
	m.propagation.DirectUpdated += int64(directUpdated)
	m.propagation.DirectSkipped += int64(directSkipped)
	m.propagation.IndirectUpdated += int64(indirectUpdated)
	m.propagation.IndirectSkipped += int64(indirectSkipped)
	m.propagation.TotalDurationMs += duration.Milliseconds()
}

// RecordConflictRetry counts one optimistic-lock retry on a user record.
func (m *Metrics) RecordConflictRetry() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagation.ConflictRetries++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Requests: map[string]int64{}, Errors: map[string]int64{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Requests:    make(map[string]int64, len(m.requestCount)),
		Errors:      make(map[string]int64, len(m.errorCount)),
		Propagation: m.propagation,
	}
	for k, v := range m.requestCount {
		snap.Requests[k] = v
	}
	for k, v := range m.errorCount {
		snap.Errors[k] = v
	}
	return snap
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
