// pkg/state/marker.go - durable "install in progress" marker.
//
// The marker holds the product code of the package currently being installed.
// It survives a service crash so the next install request for the same package
// can be answered from the installed-product database instead of rerunning the installer.

package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rtsoft/up2date/pkg/logging"
)

type record struct {
	PackageInProgress string    `yaml:"package_in_progress"`
	UpdatedAt         time.Time `yaml:"updated_at,omitempty"`
}

// Marker is a file-backed single-value store. Safe for concurrent use.
type Marker struct {
	mu    sync.Mutex
	path  string
	value string
}

// OpenMarker loads the marker at path. A missing file means no install is in progress.
// An unreadable record is logged and treated the same way.
func OpenMarker(path string) (*Marker, error) {
	m := &Marker{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading install marker %s: %w", path, err)
	}
	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		logging.Warn("Install marker is corrupt, ignoring it", "path", path, "error", err)
		return m, nil
	}
	m.value = strings.TrimSpace(rec.PackageInProgress)
	return m, nil
}

// Path returns the backing file.
func (m *Marker) Path() string { return m.path }

// Get returns the product code recorded as in progress, or "".
func (m *Marker) Get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Set persists productCode as in progress. The in-memory value only changes once the file is written.
func (m *Marker) Set(productCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(productCode); err != nil {
		return err
	}
	m.value = productCode
	return nil
}

// Clear resets the marker.
func (m *Marker) Clear() error {
	return m.Set("")
}

// write replaces the marker file atomically via a temp file in the same directory.
func (m *Marker) write(value string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	rec := record{PackageInProgress: value}
	if value != "" {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding install marker: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".marker-*")
	if err != nil {
		return fmt.Errorf("writing install marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing install marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing install marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing install marker: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing install marker: %w", err)
	}
	return nil
}
