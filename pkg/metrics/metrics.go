package metrics

import (
	"encoding/json"
	"runtime"
	"sort"
	"sync"
	"time"
)

// SearchMetric records one search served by the daemon
type SearchMetric struct {
	Timestamp  time.Time     `json:"timestamp"`
	Model      string        `json:"model"`
	Scheduler  string        `json:"scheduler"`
	Cached     bool          `json:"cached"`
	Stop       string        `json:"stop,omitempty"`
	Shift      float64       `json:"shift,omitempty"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// DurationSeconds returns the duration in seconds as a float64
func (m SearchMetric) DurationSeconds() float64 {
	return m.Duration.Seconds()
}

// Failed reports whether the search returned an error
func (m SearchMetric) Failed() bool {
	return m.Error != ""
}

// MarshalJSON emits the duration in seconds
func (m SearchMetric) MarshalJSON() ([]byte, error) {
	type Alias SearchMetric
	return json.Marshal(&struct {
		Alias
		DurationSeconds float64 `json:"duration_seconds"`
	}{
		Alias:           Alias(m),
		DurationSeconds: m.DurationSeconds(),
	})
}

// AggregatedStats summarizes the searches in a time range
type AggregatedStats struct {
	TimeRange         TimeRange        `json:"time_range"`
	TotalSearches     int              `json:"total_searches"`
	CachedSearches    int              `json:"cached_searches"`
	FailedSearches    int              `json:"failed_searches"`
	CacheHitRate      float64          `json:"cache_hit_rate"`
	AverageIterations float64          `json:"average_iterations"`
	AverageDuration   time.Duration    `json:"average_duration"`
	TopSchedulers     []SchedulerStats `json:"top_schedulers"`
	HourlyBreakdown   []HourlyStats    `json:"hourly_breakdown"`
}

// TimeRange represents a time range for aggregation
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SchedulerStats summarizes the searches of one model and scheduler pair.
// AverageShift only counts searches that produced a result.
type SchedulerStats struct {
	Model        string  `json:"model"`
	Scheduler    string  `json:"scheduler"`
	Count        int     `json:"count"`
	Failures     int     `json:"failures"`
	AverageShift float64 `json:"average_shift"`
}

// HourlyStats counts searches per hour
type HourlyStats struct {
	Hour          time.Time `json:"hour"`
	TotalSearches int       `json:"total_searches"`
	CacheHitRate  float64   `json:"cache_hit_rate"`
}

// RuntimeSnapshot is the process resource usage at a point in time
type RuntimeSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	AllocMB      float64   `json:"alloc_mb"`
	SysMB        float64   `json:"sys_mb"`
	NumGoroutine int       `json:"goroutines"`
	HeapObjects  uint64    `json:"heap_objects"`
}

// Runtime returns the current resource usage of the process
func Runtime() RuntimeSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeSnapshot{
		Timestamp:    time.Now(),
		AllocMB:      float64(m.Alloc) / 1024 / 1024,
		SysMB:        float64(m.Sys) / 1024 / 1024,
		NumGoroutine: runtime.NumGoroutine(),
		HeapObjects:  m.HeapObjects,
	}
}

// cleanupEvery bounds how often Record prunes old entries
const cleanupEvery = 5 * time.Minute

// Recorder keeps a bounded in-memory window of search metrics. It is safe
// for concurrent use.
type Recorder struct {
	mu          sync.RWMutex
	metrics     []SearchMetric
	maxSize     int
	maxAge      time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewRecorder creates a recorder holding at most maxSize metrics no older
// than maxAge
func NewRecorder(maxSize int, maxAge time.Duration) *Recorder {
	return &Recorder{
		metrics:     make([]SearchMetric, 0, maxSize),
		maxSize:     maxSize,
		maxAge:      maxAge,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Record stores a metric, stamping it if it carries no timestamp
func (r *Recorder) Record(m SearchMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Timestamp.IsZero() {
		m.Timestamp = r.now()
	}
	r.metrics = append(r.metrics, m)

	if len(r.metrics) > r.maxSize {
		r.metrics = r.metrics[len(r.metrics)-r.maxSize:]
	}
	r.cleanupIfNeeded()
}

// Recent returns up to limit of the most recent metrics, oldest first
func (r *Recorder) Recent(limit int) []SearchMetric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.metrics) {
		limit = len(r.metrics)
	}

	out := make([]SearchMetric, limit)
	copy(out, r.metrics[len(r.metrics)-limit:])
	return out
}

// Aggregate summarizes the metrics recorded in [start, end)
func (r *Recorder) Aggregate(start, end time.Time) *AggregatedStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &AggregatedStats{
		TimeRange:       TimeRange{Start: start, End: end},
		TopSchedulers:   []SchedulerStats{},
		HourlyBreakdown: []HourlyStats{},
	}

	type pair struct{ model, scheduler string }
	schedulerStats := make(map[pair]*SchedulerStats)
	shiftSums := make(map[pair]float64)
	hourly := make(map[time.Time]*HourlyStats)
	hourlyCached := make(map[time.Time]int)

	var totalDuration time.Duration
	var totalIterations, computed int

	for _, m := range r.metrics {
		if m.Timestamp.Before(start) || !m.Timestamp.Before(end) {
			continue
		}
		stats.TotalSearches++
		totalDuration += m.Duration

		switch {
		case m.Failed():
			stats.FailedSearches++
		case m.Cached:
			stats.CachedSearches++
		default:
			computed++
			totalIterations += m.Iterations
		}

		key := pair{m.Model, m.Scheduler}
		s, ok := schedulerStats[key]
		if !ok {
			s = &SchedulerStats{Model: m.Model, Scheduler: m.Scheduler}
			schedulerStats[key] = s
		}
		s.Count++
		if m.Failed() {
			s.Failures++
		} else {
			shiftSums[key] += m.Shift
		}

		hour := m.Timestamp.Truncate(time.Hour)
		h, ok := hourly[hour]
		if !ok {
			h = &HourlyStats{Hour: hour}
			hourly[hour] = h
		}
		h.TotalSearches++
		if m.Cached {
			hourlyCached[hour]++
		}
	}

	if stats.TotalSearches > 0 {
		stats.CacheHitRate = float64(stats.CachedSearches) / float64(stats.TotalSearches)
		stats.AverageDuration = totalDuration / time.Duration(stats.TotalSearches)
	}
	if computed > 0 {
		stats.AverageIterations = float64(totalIterations) / float64(computed)
	}

	for key, s := range schedulerStats {
		if succeeded := s.Count - s.Failures; succeeded > 0 {
			s.AverageShift = shiftSums[key] / float64(succeeded)
		}
		stats.TopSchedulers = append(stats.TopSchedulers, *s)
	}
	sort.Slice(stats.TopSchedulers, func(i, j int) bool {
		a, b := stats.TopSchedulers[i], stats.TopSchedulers[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Scheduler < b.Scheduler
	})
	if len(stats.TopSchedulers) > 10 {
		stats.TopSchedulers = stats.TopSchedulers[:10]
	}

	for hour, h := range hourly {
		h.CacheHitRate = float64(hourlyCached[hour]) / float64(h.TotalSearches)
		stats.HourlyBreakdown = append(stats.HourlyBreakdown, *h)
	}
	sort.Slice(stats.HourlyBreakdown, func(i, j int) bool {
		return stats.HourlyBreakdown[i].Hour.Before(stats.HourlyBreakdown[j].Hour)
	})

	return stats
}

// Window summarizes everything still held by the recorder
func (r *Recorder) Window() *AggregatedStats {
	end := r.now().Add(time.Nanosecond)
	return r.Aggregate(end.Add(-r.maxAge), end)
}

// Len returns how many metrics are held
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// Clear removes all stored metrics
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = r.metrics[:0]
}

// cleanupIfNeeded drops metrics older than maxAge (assumes lock is held)
func (r *Recorder) cleanupIfNeeded() {
	now := r.now()
	if now.Sub(r.lastCleanup) < cleanupEvery {
		return
	}
	r.lastCleanup = now

	cutoff := now.Add(-r.maxAge)
	kept := r.metrics[:0]
	for _, m := range r.metrics {
		if m.Timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	r.metrics = kept
}
