package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamap/datamap-cli/pkg/api"
)

func TestSchedulerRejectsEmptyBatch(t *testing.T) {
	s, agg := newTestScheduler(testConfig(1), &stubResolver{})
	defer agg.Close()
	_, err := s.Run(context.Background(), nil, t.TempDir())
	assert.Error(t, err)
}

func TestSchedulerRejectsDuplicateDestinations(t *testing.T) {
	content := generateTestContent(1024)
	var requests atomic.Int64
	server := newRangeServer(t, content, &requests)
	resolver := &stubResolver{url: server.URL}

	a := descriptorFor(content, "same.bin")
	b := descriptorFor(content, "same.bin")
	b.FileID = "b3d1f7a2-54c8-4e0b-8a36-1f92c47de015"

	s, agg := newTestScheduler(testConfig(2), resolver)
	defer agg.Close()
	_, err := s.Run(context.Background(), []FileDescriptor{a, b}, t.TempDir())

	// the whole batch is rejected before any network I/O
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateDest)
	assert.Zero(t, resolver.calls.Load())
	assert.Zero(t, requests.Load())
}

func TestSchedulerRejectsPathEscapingRoot(t *testing.T) {
	content := generateTestContent(16)
	desc := descriptorFor(content, "../evil.bin")

	s, agg := newTestScheduler(testConfig(1), &stubResolver{})
	defer agg.Close()
	_, err := s.Run(context.Background(), []FileDescriptor{desc}, t.TempDir())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestSchedulerCreatesNestedDestinations(t *testing.T) {
	r := require.New(t)
	content := generateTestContent(2048)
	server := newRangeServer(t, content, nil)
	resolver := &stubResolver{url: server.URL}

	desc := descriptorFor(content, "raw/2024/data.bin")

	destRoot := t.TempDir()
	s, agg := newTestScheduler(testConfig(1), resolver)
	report, err := s.Run(context.Background(), []FileDescriptor{desc}, destRoot)
	agg.Close()

	r.NoError(err)
	assert.Equal(t, StateCompleted, report.Results[0].State)
	got, err := os.ReadFile(filepath.Join(destRoot, "raw", "2024", "data.bin"))
	r.NoError(err)
	assert.Equal(t, content, got)
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	r := require.New(t)
	const limit = 2
	const files = 6

	content := generateTestContent(4 * 1024)
	var inFlight, peak atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		http.ServeContent(w, req, "file.bin", time.Unix(0, 0), bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	resolver := &stubResolver{url: server.URL}

	descriptors := make([]FileDescriptor, files)
	for i := range descriptors {
		d := descriptorFor(content, fmt.Sprintf("file-%d.bin", i))
		d.FileID = fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
		descriptors[i] = d
	}

	s, agg := newTestScheduler(testConfig(limit), resolver)
	report, err := s.Run(context.Background(), descriptors, t.TempDir())
	agg.Close()

	r.NoError(err)
	assert.Equal(t, AllSucceeded, report.Rollup)
	assert.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestSchedulerPartialFailureIsolation(t *testing.T) {
	// One file 404s at resolution; its siblings must still complete and
	// Run itself must not error.
	r := require.New(t)
	good := generateTestContent(8 * 1024)
	server := newRangeServer(t, good, nil)

	resolver := &multiResolver{urls: map[string]string{
		"11111111-1111-1111-1111-111111111111": server.URL,
		"33333333-3333-3333-3333-333333333333": server.URL,
	}}

	descriptors := []FileDescriptor{
		{DatasetID: "6b6cb4e9-02f3-44b4-92b1-9d463e3a4c51", VersionName: "v1.0", FileID: "11111111-1111-1111-1111-111111111111", Name: "a.bin", SizeBytes: int64(len(good)), Checksum: sha256Hex(good)},
		{DatasetID: "6b6cb4e9-02f3-44b4-92b1-9d463e3a4c51", VersionName: "v1.0", FileID: "22222222-2222-2222-2222-222222222222", Name: "missing.bin", SizeBytes: 512, Checksum: ""},
		{DatasetID: "6b6cb4e9-02f3-44b4-92b1-9d463e3a4c51", VersionName: "v1.0", FileID: "33333333-3333-3333-3333-333333333333", Name: "b.bin", SizeBytes: int64(len(good)), Checksum: sha256Hex(good)},
	}

	destRoot := t.TempDir()
	s, agg := newTestScheduler(testConfig(2), resolver)
	report, err := s.Run(context.Background(), descriptors, destRoot)
	agg.Close()

	r.NoError(err)
	assert.Equal(t, PartialFailure, report.Rollup)
	assert.Equal(t, 2, report.Completed())

	byName := map[string]Result{}
	for _, res := range report.Results {
		byName[res.Descriptor.Name] = res
	}
	assert.Equal(t, StateCompleted, byName["a.bin"].State)
	assert.Equal(t, StateCompleted, byName["b.bin"].State)
	assert.Equal(t, StateFailed, byName["missing.bin"].State)
	assert.ErrorIs(t, byName["missing.bin"].Err, api.ErrNotFound)

	// results keep input order regardless of completion order
	assert.Equal(t, "a.bin", report.Results[0].Descriptor.Name)
	assert.Equal(t, "missing.bin", report.Results[1].Descriptor.Name)
	assert.Equal(t, "b.bin", report.Results[2].Descriptor.Name)
}

func TestSchedulerAbortsBatchOnAuthFailure(t *testing.T) {
	r := require.New(t)
	content := generateTestContent(1024)
	resolver := &stubResolver{url: "http://unused", err: fmt.Errorf("credentials rejected: %w", api.ErrAuth)}

	descriptors := make([]FileDescriptor, 4)
	for i := range descriptors {
		d := descriptorFor(content, fmt.Sprintf("file-%d.bin", i))
		d.FileID = fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
		descriptors[i] = d
	}

	s, agg := newTestScheduler(testConfig(1), resolver)
	report, err := s.Run(context.Background(), descriptors, t.TempDir())
	agg.Close()

	r.NoError(err)
	assert.Equal(t, AllFailed, report.Rollup)
	for _, res := range report.Results {
		assert.Equal(t, StateFailed, res.State, res.Descriptor.Name)
		assert.ErrorIs(t, res.Err, api.ErrAuth, res.Descriptor.Name)
	}
	// with a single worker slot the first auth failure aborts the batch,
	// so only the first task ever reaches the resolver
	assert.Equal(t, int64(1), resolver.calls.Load())
}

func TestRollupClassification(t *testing.T) {
	ok := Result{State: StateCompleted}
	bad := Result{State: StateFailed}

	assert.Equal(t, AllSucceeded, rollupOf([]Result{ok, ok}))
	assert.Equal(t, PartialFailure, rollupOf([]Result{ok, bad}))
	assert.Equal(t, AllFailed, rollupOf([]Result{bad, bad}))
}
