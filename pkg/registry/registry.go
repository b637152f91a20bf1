// pkg/registry/registry.go - the package registry: what is in the download directory and what state it is in.
//
// The registry owns the in-memory package list. Every read-modify-write of the
// list happens under mu; the installer itself runs outside it, serialized by installMu.

package registry

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rtsoft/up2date/pkg/installer"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/metrics"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/validator"
)

// Selector resolves a file name to its backend and validator.
type Selector interface {
	Supports(fileName string) bool
	Installer(fileName string) (installer.Backend, error)
	Validator(fileName string) (validator.Validator, error)
	HasValidator(fileName string) bool
}

// Marker is the durable record of the install in progress.
type Marker interface {
	Get() string
	Set(productCode string) error
	Clear() error
}

// Location supplies the download directory; it is read on every scan.
type Location interface {
	DownloadLocation() string
}

// LocationFunc adapts a function to Location.
type LocationFunc func() string

func (f LocationFunc) DownloadLocation() string { return f() }

// FinishedFunc is called after each install attempt that reached the backend or a verdict.
type FinishedFunc func(pkg packages.Package, result packages.Result)

// Registry is safe for concurrent use.
type Registry struct {
	selector Selector
	settings validator.Settings
	marker   Marker
	location Location
	logDir   string
	metrics  metrics.Recorder
	finished FinishedFunc

	interrupted string

	mu       sync.Mutex
	packages []packages.Package

	installMu sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithInstallLogDir sets where per-install installer logs go. Empty disables them.
func WithInstallLogDir(dir string) Option {
	return func(r *Registry) { r.logDir = dir }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithOnFinished registers a callback for finished installs.
func WithOnFinished(fn FinishedFunc) Option {
	return func(r *Registry) { r.finished = fn }
}

// New builds the registry and runs the initial scan.
func New(ctx context.Context, sel Selector, settings validator.Settings, marker Marker, location Location, opts ...Option) *Registry {
	r := &Registry{
		selector: sel,
		settings: settings,
		marker:   marker,
		location: location,
		metrics:  metrics.Noop{},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.interrupted = marker.Get()
	if r.interrupted != "" {
		logging.Warn("Previous installation was interrupted", "product_code", r.interrupted)
	}

	r.mu.Lock()
	r.scanLocked(ctx)
	r.mu.Unlock()
	return r
}

// InterruptedInstall returns the product code that was marked in progress when the registry started.
func (r *Registry) InterruptedInstall() string {
	return r.interrupted
}

// resolvePath turns a file name into its path inside the download directory.
func (r *Registry) resolvePath(fileName string) string {
	if filepath.IsAbs(fileName) {
		return filepath.Clean(fileName)
	}
	return filepath.Join(r.location.DownloadLocation(), fileName)
}

func (r *Registry) indexLocked(path string) int {
	return slices.IndexFunc(r.packages, func(p packages.Package) bool {
		return packages.SamePath(p.Filepath, path)
	})
}

func (r *Registry) findLocked(fileName string) (packages.Package, bool) {
	i := r.indexLocked(r.resolvePath(fileName))
	if i < 0 {
		return packages.Package{}, false
	}
	return r.packages[i].Clone(), true
}

// updateLocked replaces the tracked entry with the same path. Missing entries are not re-added.
func (r *Registry) updateLocked(pkg packages.Package) bool {
	i := r.indexLocked(pkg.Filepath)
	if i < 0 {
		return false
	}
	r.packages[i] = pkg.Clone()
	return true
}

func (r *Registry) snapshotLocked() []packages.Package {
	out := make([]packages.Package, len(r.packages))
	for i, p := range r.packages {
		out[i] = p.Clone()
	}
	return out
}

// Find looks up a package without rescanning.
func (r *Registry) Find(fileName string) (packages.Package, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(fileName)
}

// ListAvailablePackages rescans and returns a snapshot.
func (r *Registry) ListAvailablePackages(ctx context.Context) []packages.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanLocked(ctx)
	return r.snapshotLocked()
}

// OnDownloadStarted tracks a Downloading placeholder for fileName so scans keep it while the file is written.
func (r *Registry) OnDownloadStarted(fileName string) {
	if !r.selector.Supports(fileName) {
		logging.Debug("Ignoring download of unsupported file", "file", fileName)
		return
	}
	placeholder := packages.Package{
		Filepath: r.resolvePath(fileName),
		Status:   packages.Downloading,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.updateLocked(placeholder) {
		r.packages = append(r.packages, placeholder)
	}
}

// OnDownloadFinished drops the placeholder and rescans so the finished file is picked up.
func (r *Registry) OnDownloadFinished(ctx context.Context, fileName string) {
	path := r.resolvePath(fileName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(path); i >= 0 && r.packages[i].Status == packages.Downloading {
		r.packages = slices.Delete(r.packages, i, i+1)
	}
	r.scanLocked(ctx)
}

// IsFileSupported reports whether any backend handles the file type.
func (r *Registry) IsFileSupported(fileName string) bool {
	return r.selector.Supports(fileName)
}

// IsFileDownloaded reports whether the file is tracked and fully downloaded.
// When md5 is non-empty the file content must match it.
func (r *Registry) IsFileDownloaded(ctx context.Context, fileName, md5 string) bool {
	r.mu.Lock()
	r.scanLocked(ctx)
	pkg, ok := r.findLocked(fileName)
	r.mu.Unlock()

	if !ok || pkg.Status == packages.Downloading || pkg.Status == packages.Unavailable {
		return false
	}
	if md5 == "" {
		return true
	}
	return matchesMD5(pkg.Filepath, md5)
}

// IsPackageInstalled rescans and reports whether the package is installed.
// A package waiting for a restart counts as installed.
func (r *Registry) IsPackageInstalled(ctx context.Context, fileName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanLocked(ctx)
	pkg, ok := r.findLocked(fileName)
	return ok && (pkg.Status == packages.Installed || pkg.Status == packages.RestartNeeded)
}

// MarkSuggested moves a Downloaded package to SuggestedToInstall. It reports whether the transition happened.
func (r *Registry) MarkSuggested(fileName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pkg, ok := r.findLocked(fileName)
	if !ok || pkg.Status != packages.Downloaded {
		return false
	}
	pkg.Status = packages.SuggestedToInstall
	return r.updateLocked(pkg)
}

// scanLocked syncs the list with the download directory and reclassifies. Caller holds mu.
func (r *Registry) scanLocked(ctx context.Context) {
	start := time.Now()
	dir := r.location.DownloadLocation()
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Error("Cannot create download directory", "path", dir, "error", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Error("Cannot list download directory", "path", dir, "error", err)
		entries = nil
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	// Entries whose file vanished go, unless a download is in flight.
	r.packages = slices.DeleteFunc(r.packages, func(p packages.Package) bool {
		if p.Status == packages.Downloading {
			return false
		}
		return !slices.ContainsFunc(files, func(f string) bool { return packages.SamePath(f, p.Filepath) })
	})

	for _, file := range files {
		if r.indexLocked(file) >= 0 {
			continue
		}
		backend, err := r.selector.Installer(file)
		if err != nil {
			continue
		}
		id, ok := safeInitialize(backend, file)
		if !ok {
			continue
		}
		pkg := packages.Package{Filepath: file, Status: packages.Downloaded}
		pkg.ApplyIdentity(id)
		r.packages = append(r.packages, pkg)
		logging.Debug("Package discovered", "file", filepath.Base(file), "product_code", id.ProductCode)
	}

	r.refreshAndClassifyLocked(ctx)
	r.metrics.ObserveScan(time.Since(start), len(r.packages))
}

// refreshAndClassifyLocked refreshes each distinct backend once, then sets statuses from the installed state.
func (r *Registry) refreshAndClassifyLocked(ctx context.Context) {
	backends := make([]installer.Backend, len(r.packages))
	var distinct []installer.Backend
	for i, p := range r.packages {
		b, err := r.selector.Installer(p.Filepath)
		if err != nil {
			continue
		}
		backends[i] = b
		if !slices.Contains(distinct, b) {
			distinct = append(distinct, b)
		}
	}
	for _, b := range distinct {
		if err := safeRefresh(ctx, b); err != nil {
			logging.Warn("Backend refresh failed, using cached state", "error", err)
		}
	}

	inProgress := r.marker.Get()
	for i := range r.packages {
		p := &r.packages[i]
		b := backends[i]
		if b == nil {
			continue
		}
		// Mid-install the backend may already report the product before the installer is done.
		if inProgress != "" && p.ProductCode == inProgress {
			continue
		}
		if p.ProductCode != "" && safeIsInstalled(b, p.ProductCode) {
			if p.Status != packages.Installed && p.Status != packages.RestartNeeded {
				if meta, ok := safeUpdateMetadata(b, *p); ok {
					p.ApplyMetadata(meta)
				}
				p.Status = packages.Installed
			}
			continue
		}
		p.ClearMetadata()
		switch p.Status {
		case packages.Downloading, packages.Installing, packages.SuggestedToInstall, packages.Failed:
		default:
			p.Status = packages.Downloaded
		}
	}
}
