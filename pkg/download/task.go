package download

import (
	"errors"
	"fmt"
)

// Task-level errors. API-level failures (auth, not-found, rate-limit,
// transient network) keep their sentinels from pkg/api.
var (
	ErrChecksum          = errors.New("checksum mismatch")
	ErrInsufficientSpace = errors.New("insufficient disk space")
	ErrDestinationExists = errors.New("destination already exists")
	ErrDuplicateDest     = errors.New("duplicate destination path")
	ErrPathEscapesRoot   = errors.New("destination escapes output root")
)

// FileDescriptor identifies one remote file to download. Descriptors are
// immutable; the metadata collaborator builds them from version file
// lists.
type FileDescriptor struct {
	DatasetID   string
	VersionName string
	FileID      string

	Name      string
	SizeBytes int64
	// Checksum is an optional hex-encoded sha256 digest. When empty,
	// verification downgrades to a size check.
	Checksum string
}

// TaskState is a point in the transfer state machine. Transitions are
// monotonic: Pending → Resolving → Transferring → Verifying → Completed,
// with Failed reachable from Resolving, Transferring and Verifying, and
// Paused reachable from Transferring on cancellation.
type TaskState int

const (
	StatePending TaskState = iota
	StateResolving
	StateTransferring
	StateVerifying
	StateCompleted
	StateFailed
	StatePaused
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolving:
		return "resolving"
	case StateTransferring:
		return "transferring"
	case StateVerifying:
		return "verifying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StatePaused
}

// task is one unit of work. Created by the scheduler, mutated only by its
// owning worker, discarded once its Result has been reported.
type task struct {
	descriptor FileDescriptor
	destPath   string

	state            TaskState
	bytesTransferred int64
	attempts         int
}

func (t *task) setState(next TaskState) {
	if t.state.Terminal() {
		panic(fmt.Sprintf("state transition out of terminal state %s", t.state))
	}
	t.state = next
}

// Result is the terminal outcome of one task.
type Result struct {
	Descriptor FileDescriptor
	DestPath   string
	State      TaskState
	// Err is nil iff State is Completed or Paused.
	Err              error
	Attempts         int
	BytesTransferred int64
	// ChecksumVerified records whether a digest comparison actually ran;
	// it stays false when the descriptor carries no checksum.
	ChecksumVerified bool
}

// Rollup summarizes a whole batch for exit-code selection.
type Rollup int

const (
	AllSucceeded Rollup = iota
	PartialFailure
	AllFailed
)

func (r Rollup) String() string {
	switch r {
	case AllSucceeded:
		return "all succeeded"
	case PartialFailure:
		return "partial failure"
	case AllFailed:
		return "all failed"
	default:
		return "unknown"
	}
}

// Report maps every descriptor of a batch to its Result, in input order.
type Report struct {
	Results []Result
	Rollup  Rollup
}

// Completed returns the number of successfully finished tasks.
func (r *Report) Completed() int {
	var n int
	for i := range r.Results {
		if r.Results[i].State == StateCompleted {
			n++
		}
	}
	return n
}

func rollupOf(results []Result) Rollup {
	completed := 0
	for i := range results {
		if results[i].State == StateCompleted {
			completed++
		}
	}
	switch completed {
	case len(results):
		return AllSucceeded
	case 0:
		return AllFailed
	default:
		return PartialFailure
	}
}
