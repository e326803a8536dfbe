package metrics

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a recorder whose clock the test controls
func fixedClock(t *testing.T, maxSize int, maxAge time.Duration) (*Recorder, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	r := NewRecorder(maxSize, maxAge)
	r.now = func() time.Time { return now }
	r.lastCleanup = now
	return r, &now
}

func TestSearchMetric_MarshalJSON(t *testing.T) {
	// Given a metric with a duration
	m := SearchMetric{Model: "wan22", Scheduler: "simple", Shift: 7, Iterations: 701, Duration: 1500 * time.Millisecond}

	// When marshalling it
	data, err := json.Marshal(m)
	require.NoError(t, err)

	// Then the duration is reported in seconds
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1.5, decoded["duration_seconds"])
	assert.Equal(t, "wan22", decoded["model"])
	assert.NotContains(t, decoded, "error")
	assert.NotContains(t, decoded, "Duration")
}

func TestRecorder_RecordAndRecent(t *testing.T) {
	r, now := fixedClock(t, 100, time.Hour)

	r.Record(SearchMetric{Scheduler: "simple"})
	r.Record(SearchMetric{Scheduler: "beta"})
	r.Record(SearchMetric{Scheduler: "normal"})

	recent := r.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "beta", recent[0].Scheduler)
	assert.Equal(t, "normal", recent[1].Scheduler)
	assert.Equal(t, *now, recent[1].Timestamp)

	assert.Len(t, r.Recent(0), 3)
	assert.Len(t, r.Recent(50), 3)
}

func TestRecorder_MaxSize(t *testing.T) {
	// Given a recorder holding three metrics
	r, _ := fixedClock(t, 3, time.Hour)

	// When five are recorded
	for i := 0; i < 5; i++ {
		r.Record(SearchMetric{Iterations: i})
	}

	// Then only the newest three remain
	require.Equal(t, 3, r.Len())
	recent := r.Recent(0)
	assert.Equal(t, 2, recent[0].Iterations)
	assert.Equal(t, 4, recent[2].Iterations)
}

func TestRecorder_CleanupDropsExpired(t *testing.T) {
	r, now := fixedClock(t, 100, 10*time.Minute)

	r.Record(SearchMetric{Scheduler: "old"})

	// Advance past both maxAge and the cleanup interval
	*now = now.Add(20 * time.Minute)
	r.Record(SearchMetric{Scheduler: "new"})

	recent := r.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Scheduler)
}

func TestRecorder_Aggregate(t *testing.T) {
	// Given computed, cached and failed searches
	r, now := fixedClock(t, 100, 24*time.Hour)
	base := *now

	r.Record(SearchMetric{Timestamp: base, Model: "wan22", Scheduler: "simple", Shift: 7, Iterations: 700, Duration: 3 * time.Millisecond})
	r.Record(SearchMetric{Timestamp: base.Add(time.Minute), Model: "wan22", Scheduler: "simple", Shift: 7, Cached: true, Iterations: 700, Duration: time.Millisecond})
	r.Record(SearchMetric{Timestamp: base.Add(time.Hour), Model: "wan22", Scheduler: "beta", Shift: 5, Iterations: 500, Duration: 2 * time.Millisecond})
	r.Record(SearchMetric{Timestamp: base.Add(time.Hour), Model: "sd3", Scheduler: "simple", Error: "search exhausted", Duration: 10 * time.Millisecond})

	// When aggregating the whole range
	stats := r.Aggregate(base.Add(-time.Minute), base.Add(2*time.Hour))

	// Then totals and rates reflect each kind once
	assert.Equal(t, 4, stats.TotalSearches)
	assert.Equal(t, 1, stats.CachedSearches)
	assert.Equal(t, 1, stats.FailedSearches)
	assert.Equal(t, 0.25, stats.CacheHitRate)
	assert.Equal(t, 600.0, stats.AverageIterations)
	assert.Equal(t, 4*time.Millisecond, stats.AverageDuration)

	require.Len(t, stats.TopSchedulers, 3)
	assert.Equal(t, SchedulerStats{Model: "wan22", Scheduler: "simple", Count: 2, AverageShift: 7}, stats.TopSchedulers[0])
	assert.Equal(t, SchedulerStats{Model: "sd3", Scheduler: "simple", Count: 1, Failures: 1}, stats.TopSchedulers[1])
	assert.Equal(t, "beta", stats.TopSchedulers[2].Scheduler)

	require.Len(t, stats.HourlyBreakdown, 2)
	assert.Equal(t, 2, stats.HourlyBreakdown[0].TotalSearches)
	assert.Equal(t, 0.5, stats.HourlyBreakdown[0].CacheHitRate)
	assert.True(t, stats.HourlyBreakdown[0].Hour.Before(stats.HourlyBreakdown[1].Hour))
}

func TestRecorder_AggregateRange(t *testing.T) {
	tests := []struct {
		name  string
		start time.Duration
		end   time.Duration
		want  int
	}{
		{"all", -time.Minute, 3 * time.Minute, 3},
		{"start inclusive", 0, time.Minute, 1},
		{"end exclusive", time.Minute, 2 * time.Minute, 1},
		{"empty", 10 * time.Minute, 20 * time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, now := fixedClock(t, 100, time.Hour)
			base := *now
			for i := 0; i < 3; i++ {
				r.Record(SearchMetric{Timestamp: base.Add(time.Duration(i) * time.Minute), Scheduler: "simple"})
			}

			stats := r.Aggregate(base.Add(tt.start), base.Add(tt.end))

			assert.Equal(t, tt.want, stats.TotalSearches)
			if tt.want == 0 {
				assert.Empty(t, stats.TopSchedulers)
				assert.NotNil(t, stats.TopSchedulers)
				assert.Zero(t, stats.CacheHitRate)
			}
		})
	}
}

func TestRecorder_WindowIncludesNow(t *testing.T) {
	r, _ := fixedClock(t, 100, time.Hour)
	r.Record(SearchMetric{Scheduler: "simple"})

	assert.Equal(t, 1, r.Window().TotalSearches)
}

func TestRecorder_TopSchedulersCapped(t *testing.T) {
	r, _ := fixedClock(t, 100, time.Hour)
	for i := 0; i < 12; i++ {
		r.Record(SearchMetric{Model: "wan22", Scheduler: fmt.Sprintf("s%02d", i)})
	}

	assert.Len(t, r.Window().TopSchedulers, 10)
}

func TestRecorder_Clear(t *testing.T) {
	r, _ := fixedClock(t, 100, time.Hour)
	r.Record(SearchMetric{})

	r.Clear()

	assert.Zero(t, r.Len())
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := NewRecorder(1000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Record(SearchMetric{Scheduler: "simple"})
				_ = r.Window()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, r.Len())
}

func TestRuntime(t *testing.T) {
	snap := Runtime()

	assert.Positive(t, snap.NumGoroutine)
	assert.Positive(t, snap.SysMB)
	assert.False(t, snap.Timestamp.IsZero())
}
