package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataFile is one file inside a dataset version.
type DataFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Extension string    `json:"extension,omitempty"`
	Format    string    `json:"format,omitempty"`
	// Checksum is a hex-encoded sha256 digest. Optional; not every file
	// carries one.
	Checksum string `json:"checksum,omitempty"`
}

func (f *DataFile) validate() error {
	if err := validateUUID(f.ID); err != nil {
		return fmt.Errorf("file id: %w", err)
	}
	if f.Name == "" {
		return fmt.Errorf("file %s has no name", f.ID)
	}
	if f.SizeBytes < 0 {
		return fmt.Errorf("file %s has negative size %d", f.ID, f.SizeBytes)
	}
	return nil
}

// Version is a dataset version with its file list.
type Version struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DesignState string     `json:"design_state"`
	IsEnabled   bool       `json:"is_enabled"`
	Files       []DataFile `json:"files"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (v *Version) validate() error {
	if err := validateUUID(v.ID); err != nil {
		return fmt.Errorf("version id: %w", err)
	}
	for i := range v.Files {
		if err := v.Files[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// TotalSize is the sum of all file sizes in the version.
func (v *Version) TotalSize() int64 {
	var total int64
	for i := range v.Files {
		total += v.Files[i].SizeBytes
	}
	return total
}

// Dataset is the top-level metadata entity.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Tenancy     string    `json:"tenancy"`
	IsEnabled   bool      `json:"is_enabled"`
	DesignState string    `json:"design_state"`
	Versions    []Version `json:"versions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *Dataset) validate() error {
	if err := validateUUID(d.ID); err != nil {
		return fmt.Errorf("dataset id: %w", err)
	}
	for i := range d.Versions {
		if err := d.Versions[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// VersionByName returns the named version, or nil.
func (d *Dataset) VersionByName(name string) *Version {
	for i := range d.Versions {
		if d.Versions[i].Name == name {
			return &d.Versions[i]
		}
	}
	return nil
}

// DownloadURL is the short-lived location of one file's bytes. It must be
// resolved freshly for every transfer attempt and never cached.
type DownloadURL struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (u *DownloadURL) validate() error {
	if !strings.HasPrefix(u.URL, "http://") && !strings.HasPrefix(u.URL, "https://") {
		return fmt.Errorf("download URL must be http or https")
	}
	return nil
}

// versionEnvelope matches the wire shape of the version endpoint, which
// nests the payload under a "version" key.
type versionEnvelope struct {
	Version *Version `json:"version"`
}

func validateUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%q is not a valid UUID", id)
	}
	return nil
}
