// pkg/selector/selector.go - maps package file extensions to their backend and validator.

package selector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rtsoft/up2date/pkg/installer"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/validator"
)

// ErrUnsupported is returned for file types no backend handles.
var ErrUnsupported = errors.New("unsupported package type")

// Selector is built once and never changes afterwards, so it needs no locking.
type Selector struct {
	backends   map[string]installer.Backend
	validators map[string]validator.Validator
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// New builds a selector. Keys are extensions, with or without the leading dot.
func New(backends map[string]installer.Backend, validators map[string]validator.Validator) *Selector {
	s := &Selector{
		backends:   make(map[string]installer.Backend, len(backends)),
		validators: make(map[string]validator.Validator, len(validators)),
	}
	for ext, b := range backends {
		s.backends[normalizeExt(ext)] = b
	}
	for ext, v := range validators {
		s.validators[normalizeExt(ext)] = v
	}
	return s
}

// Deps are the long-lived collaborators of the default backends and validators.
type Deps struct {
	Settings     validator.Settings
	Sources      installer.SourcesProvider
	FileVerifier validator.FileVerifier
	Whitelist    validator.FingerprintSource
	Runner       installer.Runner
}

// NewDefault wires the .msi and .nupkg handlers.
func NewDefault(d Deps) *Selector {
	runner := d.Runner
	if runner == nil {
		runner = installer.ExecRunner{}
	}
	msi := installer.NewMsiBackend(installer.NewPropertyReader(), installer.NewProductSource(), runner)
	choco := installer.NewChocoBackend(runner, d.Sources)
	return New(
		map[string]installer.Backend{
			".msi":   msi,
			".nupkg": choco,
		},
		map[string]validator.Validator{
			".msi":   validator.NewMsiValidator(d.Settings, d.FileVerifier),
			".nupkg": validator.NewChocoValidator(d.Settings, d.Whitelist, runner),
		},
	)
}

// Supports reports whether any backend handles the file's extension.
func (s *Selector) Supports(fileName string) bool {
	_, ok := s.backends[packages.Extension(fileName)]
	return ok
}

// Installer returns the backend for the file's extension.
func (s *Selector) Installer(fileName string) (installer.Backend, error) {
	ext := packages.Extension(fileName)
	b, ok := s.backends[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return b, nil
}

// Validator returns the signature validator for the file's extension.
func (s *Selector) Validator(fileName string) (validator.Validator, error) {
	ext := packages.Extension(fileName)
	v, ok := s.validators[ext]
	if !ok {
		return nil, fmt.Errorf("%w: no validator for %q", ErrUnsupported, ext)
	}
	return v, nil
}

// HasValidator reports whether the file type has a signature validator.
func (s *Selector) HasValidator(fileName string) bool {
	_, ok := s.validators[packages.Extension(fileName)]
	return ok
}

// Extensions lists the supported extensions, sorted.
func (s *Selector) Extensions() []string {
	exts := make([]string, 0, len(s.backends))
	for ext := range s.backends {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Backends returns each distinct backend once, in extension order.
func (s *Selector) Backends() []installer.Backend {
	var out []installer.Backend
	seen := make(map[installer.Backend]bool)
	for _, ext := range s.Extensions() {
		b := s.backends[ext]
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}
