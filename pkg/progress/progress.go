package progress

import (
	"time"
)

// Event is one progress report from a transfer worker. Each task has
// exactly one producer, so BytesDone is a cumulative count, not a delta.
type Event struct {
	TaskID     string
	BytesDone  int64
	TotalBytes int64
	Terminal   bool
	Timestamp  time.Time
}

// TaskProgress is the aggregated view of one task.
type TaskProgress struct {
	BytesDone  int64
	TotalBytes int64
	Terminal   bool
}

// Snapshot is an aggregate progress view handed to the display
// collaborator. The Tasks map is a copy; the consumer may hold it.
type Snapshot struct {
	Tasks      map[string]TaskProgress
	BytesDone  int64
	TotalBytes int64
	Active     int
	Finished   int
	Elapsed    time.Duration
	Timestamp  time.Time
}

// SnapshotFunc receives throttled snapshots. Rendering stays outside this
// package.
type SnapshotFunc func(Snapshot)

// Aggregator consumes progress events from all active workers over a
// single channel and emits at most one snapshot per interval, plus an
// immediate snapshot whenever a task reaches a terminal state.
type Aggregator struct {
	events   chan Event
	sink     SnapshotFunc
	interval time.Duration
	done     chan struct{}
}

const defaultInterval = 100 * time.Millisecond

// NewAggregator creates and starts an aggregator. A nil sink discards
// snapshots. Close must be called to flush the final snapshot.
func NewAggregator(sink SnapshotFunc, interval time.Duration) *Aggregator {
	if sink == nil {
		sink = func(Snapshot) {}
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	a := &Aggregator{
		events:   make(chan Event, 64),
		sink:     sink,
		interval: interval,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish delivers one event to the aggregator.
func (a *Aggregator) Publish(ev Event) {
	a.events <- ev
}

// Close stops the aggregator after draining pending events and emits a
// final snapshot.
func (a *Aggregator) Close() {
	close(a.events)
	<-a.done
}

func (a *Aggregator) run() {
	defer close(a.done)

	tasks := make(map[string]TaskProgress)
	start := time.Now()
	lastEmit := start

	emit := func(now time.Time) {
		snapshot := Snapshot{
			Tasks:     make(map[string]TaskProgress, len(tasks)),
			Elapsed:   now.Sub(start),
			Timestamp: now,
		}
		for id, tp := range tasks {
			snapshot.Tasks[id] = tp
			snapshot.BytesDone += tp.BytesDone
			snapshot.TotalBytes += tp.TotalBytes
			if tp.Terminal {
				snapshot.Finished++
			} else {
				snapshot.Active++
			}
		}
		a.sink(snapshot)
		lastEmit = now
	}

	for ev := range a.events {
		tp := tasks[ev.TaskID]
		tp.BytesDone = ev.BytesDone
		tp.TotalBytes = ev.TotalBytes
		tp.Terminal = tp.Terminal || ev.Terminal
		tasks[ev.TaskID] = tp

		now := ev.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		if ev.Terminal || now.Sub(lastEmit) >= a.interval {
			emit(now)
		}
	}
	emit(time.Now())
}
