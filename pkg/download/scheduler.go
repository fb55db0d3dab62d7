package download

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datamap/datamap-cli/pkg/api"
	"github.com/datamap/datamap-cli/pkg/config"
	"github.com/datamap/datamap-cli/pkg/logging"
	"github.com/datamap/datamap-cli/pkg/progress"
)

// Scheduler owns a bounded pool of transfer workers. It admits at most N
// tasks into the Transferring state, dispatches the rest in input order as
// slots free, and guarantees that one task's failure never cancels or
// blocks its siblings. The single exception is an authentication failure,
// which aborts the whole batch.
type Scheduler struct {
	resolver URLResolver
	client   *http.Client
	agg      *progress.Aggregator
	cfg      config.Config

	// test seams, default to the real implementations
	freeSpace func(dir string) (int64, error)
	backoff   func(attempt int) time.Duration
}

// NewScheduler builds a scheduler from an already-resolved configuration.
// The streaming client comes from the API client so transfers share its
// transport settings.
func NewScheduler(cfg config.Config, resolver URLResolver, streamingClient *http.Client, agg *progress.Aggregator) *Scheduler {
	return &Scheduler{
		resolver:  resolver,
		client:    streamingClient,
		agg:       agg,
		cfg:       cfg,
		freeSpace: freeSpace,
		backoff:   defaultBackoff,
	}
}

// Run downloads every descriptor under destRoot and reports a Result per
// descriptor plus a batch rollup. Batches with duplicate or root-escaping
// destination paths are rejected before any network I/O.
func (s *Scheduler) Run(ctx context.Context, descriptors []FileDescriptor, destRoot string) (*Report, error) {
	logger := logging.GetLogger()

	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no files to download")
	}

	tasks, err := buildTasks(descriptors, destRoot)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	logger.Info().
		Int("files", len(tasks)).
		Int("concurrency", s.cfg.Concurrency).
		Str("dest", destRoot).
		Msg("Starting downloads")

	// An auth failure means no task can possibly succeed; the first one
	// cancels the batch with ErrAuth as the cause so in-flight workers
	// can tell the abort apart from a user interrupt.
	batchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w := &worker{
		resolver:       s.resolver,
		client:         s.client,
		agg:            s.agg,
		retries:        s.cfg.Retries,
		resume:         s.cfg.Resume,
		verifyChecksum: s.cfg.VerifyChecksum,
		force:          s.cfg.Force,
		freeSpace:      s.freeSpace,
		backoff:        s.backoff,
	}

	results := make([]Result, len(tasks))
	var group errgroup.Group
	group.SetLimit(s.cfg.Concurrency)

	for i := range tasks {
		i := i
		group.Go(func() error {
			t := tasks[i]
			if batchCtx.Err() != nil && api.IsBatchFatal(context.Cause(batchCtx)) {
				t.state = StateFailed
				results[i] = w.result(t, fmt.Errorf("batch aborted: %w", api.ErrAuth))
				return nil
			}
			results[i] = w.run(batchCtx, t)
			if results[i].Err != nil && api.IsBatchFatal(results[i].Err) {
				cancel(api.ErrAuth)
			}
			// Worker failures stay per-task; returning nil keeps the
			// pool running for the siblings.
			return nil
		})
	}
	_ = group.Wait()

	report := &Report{Results: results, Rollup: rollupOf(results)}
	logger.Info().
		Int("completed", report.Completed()).
		Int("total", len(results)).
		Str("rollup", report.Rollup.String()).
		Msg("Downloads finished")
	return report, nil
}

// buildTasks validates destinations and pairs each descriptor with its
// task. It rejects duplicate destination paths across the batch and any
// path that resolves outside the output root.
func buildTasks(descriptors []FileDescriptor, destRoot string) ([]*task, error) {
	absRoot, err := filepath.Abs(destRoot)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task, 0, len(descriptors))
	seen := make(map[string]struct{}, len(descriptors))
	for _, desc := range descriptors {
		if desc.Name == "" {
			return nil, fmt.Errorf("file %s has no name", desc.FileID)
		}
		dest := filepath.Join(absRoot, filepath.FromSlash(desc.Name))
		rel, err := filepath.Rel(absRoot, dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: %q", ErrPathEscapesRoot, desc.Name)
		}
		if _, dup := seen[dest]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateDest, dest)
		}
		seen[dest] = struct{}{}
		tasks = append(tasks, &task{descriptor: desc, destPath: dest, state: StatePending})
	}
	return tasks, nil
}
