package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datamap/datamap-cli/pkg/download"
)

func TestPrintReport(t *testing.T) {
	report := &download.Report{
		Results: []download.Result{
			{
				Descriptor: download.FileDescriptor{Name: "a.csv", SizeBytes: 2048},
				State:      download.StateCompleted,
			},
			{
				Descriptor:       download.FileDescriptor{Name: "b.csv", SizeBytes: 4096},
				State:            download.StatePaused,
				BytesTransferred: 1024,
			},
			{
				Descriptor: download.FileDescriptor{Name: "c.csv", SizeBytes: 512},
				State:      download.StateFailed,
				Err:        errors.New("checksum mismatch"),
			},
		},
		Rollup: download.PartialFailure,
	}

	var sb strings.Builder
	PrintReport(&sb, report, 1500*time.Millisecond, false)
	out := sb.String()

	assert.Contains(t, out, "ok       a.csv (2.0 KiB)")
	assert.Contains(t, out, "paused   b.csv (1.0 KiB of 4.0 KiB downloaded, resumable)")
	assert.Contains(t, out, "failed   c.csv: checksum mismatch")
	assert.Contains(t, out, "1 of 3 files downloaded in 1.5s (partial failure)")
}

func TestPrintReportVerbose(t *testing.T) {
	report := &download.Report{
		Results: []download.Result{
			{
				Descriptor:       download.FileDescriptor{Name: "a.csv", SizeBytes: 2048},
				State:            download.StateCompleted,
				Attempts:         2,
				ChecksumVerified: true,
			},
		},
		Rollup: download.AllSucceeded,
	}

	var sb strings.Builder
	PrintReport(&sb, report, time.Second, true)
	assert.Contains(t, sb.String(), "[attempts: 2, checksum verified: true]")
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, ValidateUUID("6b6cb4e9-02f3-44b4-92b1-9d463e3a4c51"))
	assert.Error(t, ValidateUUID("not-a-uuid"))
	assert.Error(t, ValidateUUID(""))
}

func TestValidateVersionName(t *testing.T) {
	valid := []string{"v1.0", "release-2024_01", "1.2.3", "a"}
	for _, name := range valid {
		assert.NoError(t, ValidateVersionName(name), name)
	}
	invalid := []string{"", "v 1", "v/1", "v#1", "../etc"}
	for _, name := range invalid {
		assert.Error(t, ValidateVersionName(name), name)
	}
}
