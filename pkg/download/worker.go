package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/datamap/datamap-cli/pkg/api"
	"github.com/datamap/datamap-cli/pkg/logging"
	"github.com/datamap/datamap-cli/pkg/progress"
)

const (
	// PartialSuffix marks the temporary file a transfer streams into. The
	// partial file sits next to the destination; its length is the sole
	// source of truth for resume.
	PartialSuffix = ".datamap-partial"

	copyChunkSize = 64 * 1024

	retryBaseWait    = 500 * time.Millisecond
	retryMaxWait     = 10 * time.Second
	retrySleepJitter = 500 // additional 0-500ms
)

// URLResolver hands out a fresh download URL for one file. Implemented by
// api.Client; workers call it immediately before every transfer attempt
// because resolved URLs may expire.
type URLResolver interface {
	GetFileDownloadURL(ctx context.Context, datasetID, versionName, fileID string) (*api.DownloadURL, error)
}

// permanentError marks a transfer-attempt failure that must not be
// retried, such as a local disk write failure.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// statusError is a retryable unexpected HTTP status on the byte stream. A
// 403 from an expired pre-signed URL lands here; the next attempt starts
// with a freshly resolved URL.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status code %d", e.code) }

type worker struct {
	resolver URLResolver
	client   *http.Client
	agg      *progress.Aggregator

	retries        int
	resume         bool
	verifyChecksum bool
	force          bool

	// test seams
	freeSpace func(dir string) (int64, error)
	backoff   func(attempt int) time.Duration
}

// run drives one task through the transfer state machine and returns its
// terminal Result. It never affects sibling tasks.
func (w *worker) run(ctx context.Context, t *task) Result {
	logger := logging.GetLogger().With().
		Str("file", t.descriptor.Name).
		Str("dest", t.destPath).
		Logger()

	emit := func(terminal bool) {
		w.agg.Publish(progress.Event{
			TaskID:     t.destPath,
			BytesDone:  t.bytesTransferred,
			TotalBytes: t.descriptor.SizeBytes,
			Terminal:   terminal,
			Timestamp:  time.Now(),
		})
	}
	fail := func(err error) Result {
		t.setState(StateFailed)
		emit(true)
		logger.Debug().Err(err).Int("attempts", t.attempts).Msg("Task failed")
		return w.result(t, err)
	}

	emit(false)

	// Idempotence fast path: a destination that already holds the full,
	// valid content completes without any network request.
	done, verified, err := w.destinationComplete(t)
	if err != nil {
		return fail(err)
	}
	if done {
		t.bytesTransferred = t.descriptor.SizeBytes
		t.setState(StateCompleted)
		emit(true)
		logger.Debug().Msg("Destination already complete, skipping download")
		res := w.result(t, nil)
		res.ChecksumVerified = verified
		return res
	}

	tempPath := t.destPath + PartialSuffix
	if err := os.MkdirAll(filepath.Dir(t.destPath), 0o755); err != nil {
		return fail(err)
	}

	if t.descriptor.SizeBytes == 0 {
		// Nothing to stream; no request is issued at all.
		if err := os.WriteFile(tempPath, nil, 0o644); err != nil {
			return fail(err)
		}
	} else {
		if err := w.checkSpace(t, tempPath); err != nil {
			return fail(err)
		}
		if err := w.transfer(ctx, t, tempPath, emit, logger); err != nil {
			if ctx.Err() != nil {
				if errors.Is(context.Cause(ctx), api.ErrAuth) {
					return fail(fmt.Errorf("batch aborted: %w", api.ErrAuth))
				}
				// The partial file keeps its flushed bytes for a later
				// resume; Paused is not a failure.
				t.setState(StatePaused)
				emit(true)
				logger.Debug().Int64("bytes", t.bytesTransferred).Msg("Task paused")
				return w.result(t, nil)
			}
			return fail(err)
		}
	}

	t.setState(StateVerifying)
	verified, err = w.verify(t, tempPath)
	if err != nil {
		// Corrupt data is useless for resume; discard it.
		_ = os.Remove(tempPath)
		return fail(err)
	}

	// Rename is atomic: no partially-written file is ever visible at the
	// final path.
	if err := os.Rename(tempPath, t.destPath); err != nil {
		return fail(err)
	}
	t.setState(StateCompleted)
	emit(true)
	logger.Debug().
		Str("size", humanize.IBytes(uint64(t.descriptor.SizeBytes))).
		Int("attempts", t.attempts).
		Msg("Download complete")
	res := w.result(t, nil)
	res.ChecksumVerified = verified
	return res
}

// checkSpace verifies the filesystem can hold the bytes still missing. It
// runs before any network I/O; a negative probe result means the platform
// cannot report free space and the check is skipped.
func (w *worker) checkSpace(t *task, tempPath string) error {
	var partial int64
	if w.resume {
		if fi, err := os.Stat(tempPath); err == nil {
			partial = fi.Size()
		}
	}
	required := t.descriptor.SizeBytes - partial
	if required <= 0 {
		return nil
	}
	free, err := w.freeSpace(filepath.Dir(t.destPath))
	if err != nil || free < 0 {
		return nil
	}
	if free < required {
		return fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientSpace,
			humanize.IBytes(uint64(required)),
			humanize.IBytes(uint64(free)))
	}
	return nil
}

// transfer runs the resolve/stream attempt loop until the full content is
// on disk or the attempt budget is exhausted.
func (w *worker) transfer(ctx context.Context, t *task, tempPath string, emit func(bool), logger zerolog.Logger) error {
	maxAttempts := w.retries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff(attempt)):
			}
			logger.Debug().Int("attempt", attempt+1).Int("maxAttempts", maxAttempts).Msg("Retrying download")
		}
		t.attempts++

		// URLs may expire between attempts; resolve a fresh one every
		// time and never cache it.
		t.setState(StateResolving)
		dl, err := w.resolver.GetFileDownloadURL(ctx, t.descriptor.DatasetID, t.descriptor.VersionName, t.descriptor.FileID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The resolver retries transient failures internally, so any
			// error surfacing here is terminal for the task.
			return err
		}

		t.setState(StateTransferring)
		err = w.attemptStream(ctx, t, dl.URL, tempPath, emit)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		logger.Debug().Err(err).Int64("flushed", flushedBytes(tempPath)).Msg("Transfer attempt failed")
	}
	return fmt.Errorf("%w: giving up after %d attempts: %w", api.ErrTransient, t.attempts, lastErr)
}

// attemptStream performs a single ranged GET and streams the body into the
// partial file. On entry the partial file's length decides the resume
// offset; on any error the flushed bytes stay behind for the next attempt.
func (w *worker) attemptStream(ctx context.Context, t *task, url, tempPath string, emit func(bool)) error {
	size := t.descriptor.SizeBytes

	var offset int64
	if w.resume {
		if fi, err := os.Stat(tempPath); err == nil {
			offset = fi.Size()
		}
		if offset > size {
			// Oversized partial cannot be trusted.
			offset = 0
		}
	}
	if offset == size {
		// A previous run already flushed every byte; verification takes
		// it from here.
		t.bytesTransferred = offset
		emit(false)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &permanentError{err: err}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Server ignored the range request; restart from zero.
		offset = 0
	default:
		return &statusError{code: resp.StatusCode}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(tempPath, flags, 0o644)
	if err != nil {
		return &permanentError{err: err}
	}
	defer f.Close()

	t.bytesTransferred = offset
	emit(false)

	buf := make([]byte, copyChunkSize)
	for {
		if ctx.Err() != nil {
			// Stop issuing chunk reads; flushed bytes stay authoritative
			// for resume.
			return ctx.Err()
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if t.bytesTransferred+int64(n) > size {
				return fmt.Errorf("server sent more than the expected %d bytes", size)
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return &permanentError{err: werr}
			}
			t.bytesTransferred += int64(n)
			emit(false)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if t.bytesTransferred != size {
		return fmt.Errorf("short transfer: got %d of %d bytes", t.bytesTransferred, size)
	}
	return nil
}

// verify checks the finished partial file against the descriptor. With a
// checksum present it compares sha256 digests; without one only the size
// is checked and the skip is recorded in the Result.
func (w *worker) verify(t *task, tempPath string) (bool, error) {
	fi, err := os.Stat(tempPath)
	if err != nil {
		return false, err
	}
	if fi.Size() != t.descriptor.SizeBytes {
		return false, fmt.Errorf("size mismatch: expected %d bytes, got %d", t.descriptor.SizeBytes, fi.Size())
	}

	expected := normalizeChecksum(t.descriptor.Checksum)
	if expected == "" || !w.verifyChecksum {
		return false, nil
	}

	f, err := os.Open(tempPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, expected, actual)
	}
	return true, nil
}

// destinationComplete reports whether the destination already holds the
// full, valid content. An existing destination with the wrong content is
// an error unless force is set.
func (w *worker) destinationComplete(t *task) (done bool, verified bool, err error) {
	fi, err := os.Stat(t.destPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if w.force {
		return false, false, nil
	}
	if fi.Size() != t.descriptor.SizeBytes {
		return false, false, fmt.Errorf("%w: %s exists with size %d, expected %d",
			ErrDestinationExists, t.destPath, fi.Size(), t.descriptor.SizeBytes)
	}

	expected := normalizeChecksum(t.descriptor.Checksum)
	if expected == "" || !w.verifyChecksum {
		return true, false, nil
	}
	f, err := os.Open(t.destPath)
	if err != nil {
		return false, false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, false, err
	}
	if !strings.EqualFold(hex.EncodeToString(h.Sum(nil)), expected) {
		return false, false, fmt.Errorf("%w: %s exists with mismatching checksum", ErrDestinationExists, t.destPath)
	}
	return true, true, nil
}

func (w *worker) result(t *task, err error) Result {
	return Result{
		Descriptor:       t.descriptor,
		DestPath:         t.destPath,
		State:            t.state,
		Err:              err,
		Attempts:         t.attempts,
		BytesTransferred: t.bytesTransferred,
	}
}

func normalizeChecksum(checksum string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(checksum)), "sha256:")
}

func flushedBytes(tempPath string) int64 {
	fi, err := os.Stat(tempPath)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// defaultBackoff grows exponentially from retryBaseWait up to
// retryMaxWait, with jitter to avoid thundering herd across concurrent
// tasks.
func defaultBackoff(attempt int) time.Duration {
	wait := retryBaseWait << (attempt - 1)
	if wait > retryMaxWait || wait <= 0 {
		wait = retryMaxWait
	}
	return wait + time.Duration(rand.Intn(retrySleepJitter))*time.Millisecond
}
