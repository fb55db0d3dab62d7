package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotRecorder collects emitted snapshots for inspection.
type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *snapshotRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

func TestAggregatorAggregatesAcrossTasks(t *testing.T) {
	rec := &snapshotRecorder{}
	agg := NewAggregator(rec.record, time.Hour)

	now := time.Now()
	agg.Publish(Event{TaskID: "a", BytesDone: 100, TotalBytes: 1000, Timestamp: now})
	agg.Publish(Event{TaskID: "b", BytesDone: 50, TotalBytes: 500, Timestamp: now})
	agg.Close()

	snaps := rec.all()
	require.NotEmpty(t, snaps)
	final := snaps[len(snaps)-1]
	assert.Equal(t, int64(150), final.BytesDone)
	assert.Equal(t, int64(1500), final.TotalBytes)
	assert.Equal(t, 2, final.Active)
	assert.Equal(t, 0, final.Finished)
}

func TestAggregatorThrottlesNonTerminalEvents(t *testing.T) {
	rec := &snapshotRecorder{}
	agg := NewAggregator(rec.record, time.Hour)

	now := time.Now()
	for i := 0; i < 100; i++ {
		agg.Publish(Event{TaskID: "a", BytesDone: int64(i), TotalBytes: 100, Timestamp: now})
	}
	agg.Close()

	// with an hour-long interval only the final drain snapshot appears,
	// regardless of event volume
	snaps := rec.all()
	assert.Len(t, snaps, 1)
	assert.Equal(t, int64(99), snaps[0].BytesDone)
}

func TestAggregatorEmitsTerminalEventsImmediately(t *testing.T) {
	rec := &snapshotRecorder{}
	agg := NewAggregator(rec.record, time.Hour)

	now := time.Now()
	agg.Publish(Event{TaskID: "a", BytesDone: 10, TotalBytes: 100, Timestamp: now})
	agg.Publish(Event{TaskID: "a", BytesDone: 100, TotalBytes: 100, Terminal: true, Timestamp: now})
	agg.Publish(Event{TaskID: "b", BytesDone: 7, TotalBytes: 100, Timestamp: now})
	agg.Close()

	snaps := rec.all()
	// one immediate snapshot for the terminal event plus the final drain
	require.Len(t, snaps, 2)
	assert.Equal(t, 1, snaps[0].Finished)
	assert.Equal(t, int64(100), snaps[0].Tasks["a"].BytesDone)
	assert.Equal(t, 1, snaps[1].Active)
}

func TestAggregatorCumulativeBytesNotSummed(t *testing.T) {
	rec := &snapshotRecorder{}
	agg := NewAggregator(rec.record, time.Hour)

	now := time.Now()
	agg.Publish(Event{TaskID: "a", BytesDone: 10, TotalBytes: 100, Timestamp: now})
	agg.Publish(Event{TaskID: "a", BytesDone: 60, TotalBytes: 100, Timestamp: now})
	agg.Publish(Event{TaskID: "a", BytesDone: 100, TotalBytes: 100, Terminal: true, Timestamp: now})
	agg.Close()

	snaps := rec.all()
	require.NotEmpty(t, snaps)
	final := snaps[len(snaps)-1]
	// BytesDone is cumulative per task; repeated events must not inflate it
	assert.Equal(t, int64(100), final.BytesDone)
	assert.Equal(t, int64(100), final.TotalBytes)
}

func TestAggregatorSnapshotIsACopy(t *testing.T) {
	rec := &snapshotRecorder{}
	agg := NewAggregator(rec.record, time.Hour)

	agg.Publish(Event{TaskID: "a", BytesDone: 1, TotalBytes: 2, Terminal: true, Timestamp: time.Now()})
	agg.Publish(Event{TaskID: "b", BytesDone: 1, TotalBytes: 2, Terminal: true, Timestamp: time.Now()})
	agg.Close()

	snaps := rec.all()
	require.GreaterOrEqual(t, len(snaps), 2)
	// mutating an earlier snapshot must not affect a later one
	snaps[0].Tasks["a"] = TaskProgress{BytesDone: 999}
	assert.NotEqual(t, int64(999), snaps[len(snaps)-1].Tasks["a"].BytesDone)
}

func TestAggregatorIntervalElapsedEmits(t *testing.T) {
	rec := &snapshotRecorder{}
	agg := NewAggregator(rec.record, 10*time.Millisecond)

	base := time.Now()
	agg.Publish(Event{TaskID: "a", BytesDone: 1, TotalBytes: 10, Timestamp: base})
	agg.Publish(Event{TaskID: "a", BytesDone: 2, TotalBytes: 10, Timestamp: base.Add(time.Millisecond)})
	agg.Publish(Event{TaskID: "a", BytesDone: 3, TotalBytes: 10, Timestamp: base.Add(20 * time.Millisecond)})
	agg.Close()

	snaps := rec.all()
	// the first two events fall inside the interval and are throttled,
	// the third lands past it, then the final drain
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(3), snaps[0].BytesDone)
}

func TestNilSinkDoesNotPanic(t *testing.T) {
	agg := NewAggregator(nil, 0)
	agg.Publish(Event{TaskID: "a", BytesDone: 1, TotalBytes: 1, Terminal: true, Timestamp: time.Now()})
	agg.Close()
}
