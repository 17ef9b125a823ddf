package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMStatsSnapshotPercentiles(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	for _, ms := range []int64{100, 200, 300, 400, 500} {
		stats.Record(KindPage, ms, false)
	}

	snap := stats.Snapshot(KindPage)
	require.Equal(t, 5, snap.Count)
	assert.Equal(t, int64(100), snap.MinMs)
	assert.Equal(t, int64(500), snap.MaxMs)
	assert.InDelta(t, 300, snap.AvgMs, 0.001)
	assert.InDelta(t, 300, snap.P50Ms, 0.001)
	assert.InDelta(t, 480, snap.P95Ms, 0.001)
	assert.InDelta(t, 496, snap.P99Ms, 0.001)
}

func TestLLMStatsSplitsByKind(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	stats.Record(KindPage, 100, false)
	stats.Record(KindPage, 300, true)
	stats.Record(KindSynthesis, 5000, false)

	page := stats.Snapshot(KindPage)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, 1, page.Errors)

	synth := stats.Snapshot(KindSynthesis)
	assert.Equal(t, 1, synth.Count)
	assert.Equal(t, int64(5000), synth.MaxMs)

	assert.Equal(t, 3, stats.Snapshot("").Count, "empty kind is the overall view")
	assert.Equal(t, []string{KindPage, KindSynthesis}, stats.Kinds())
}

func TestLLMStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewLLMStats(10 * time.Millisecond)
	stats.Record(KindPage, 100, false)
	time.Sleep(25 * time.Millisecond)

	assert.Equal(t, 0, stats.Snapshot("").Count)

	stats.Record(KindPage, 200, false)
	snap := stats.Snapshot("")
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, int64(200), snap.MinMs)
}

func TestLLMStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	stats.Record(KindPage, -10, false)

	snap := stats.Snapshot(KindPage)
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, int64(0), snap.MinMs)
}
