// pkg/config/manager.go - read-through settings provider shared by the long-lived components.

package config

import (
	"slices"
	"strings"
	"sync"

	"github.com/rtsoft/up2date/pkg/signature"
)

// Manager serves the current configuration and persists updates.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  Configuration
}

// NewManager loads the configuration at path.
func NewManager(path string) (*Manager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: *cfg}, nil
}

// NewManagerFrom wraps an in-memory configuration. Update still saves when path is non-empty.
func NewManagerFrom(path string, cfg *Configuration) *Manager {
	c := *cfg
	c.applyDefaults()
	return &Manager{path: path, cfg: c}
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.cfg
	c.PackageExtensionFilterList = slices.Clone(m.cfg.PackageExtensionFilterList)
	return c
}

func (m *Manager) CheckSignature() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.CheckSignature
}

func (m *Manager) SignatureVerificationLevel() signature.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Level()
}

// DefaultSources returns the choco feeds appended after the download directory.
func (m *Manager) DefaultSources() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.DefaultChocoSources
}

func (m *Manager) DownloadLocation() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.DownloadPath
}

// AllowedExtensions lists the lower-cased package extensions the server may offer. Empty allows all.
func (m *Manager) AllowedExtensions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cfg.PackageExtensionFilterList))
	for _, ext := range m.cfg.PackageExtensionFilterList {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// Reload re-reads the file. On error the current configuration stays in effect.
func (m *Manager) Reload() error {
	cfg, err := LoadConfig(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = *cfg
	m.mu.Unlock()
	return nil
}

// Update applies fn to a copy, validates it and saves it. Nothing changes if any step fails.
func (m *Manager) Update(fn func(*Configuration)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	next.PackageExtensionFilterList = slices.Clone(m.cfg.PackageExtensionFilterList)
	fn(&next)
	next.applyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}
	if m.path != "" {
		if err := SaveConfig(m.path, &next); err != nil {
			return err
		}
	}
	m.cfg = next
	return nil
}
