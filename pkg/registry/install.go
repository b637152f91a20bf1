package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rtsoft/up2date/pkg/installer"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/utils"
	"github.com/rtsoft/up2date/pkg/validator"
)

var matchesMD5 = utils.MatchesMD5

// InstallPackage installs one package and returns the outcome. Only one install runs at a time.
// The install is not cancelled by ctx once the installer has been started.
func (r *Registry) InstallPackage(ctx context.Context, fileName string) (result packages.Result) {
	r.installMu.Lock()
	defer r.installMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Install panicked", "file", fileName, "panic", fmt.Sprint(rec))
			result = packages.GeneralInstallationError
		}
	}()

	r.mu.Lock()
	r.scanLocked(ctx)
	pkg, ok := r.findLocked(fileName)
	r.mu.Unlock()
	if !ok || pkg.Status == packages.Downloading || pkg.Status == packages.Unavailable {
		logging.Warn("Package not available for install", "file", fileName)
		return packages.PackageUnavailable
	}

	if inProgress := r.marker.Get(); inProgress != "" && inProgress == pkg.ProductCode {
		return r.resolveInterrupted(ctx, pkg)
	}

	switch pkg.Status {
	case packages.Installed:
		return packages.Success
	case packages.RestartNeeded:
		return packages.RestartNeededResult
	}

	backend, err := r.selector.Installer(pkg.Filepath)
	if err != nil {
		return packages.PackageNotSupported
	}
	kind := pkg.Extension()

	if r.settings.CheckSignature() && r.selector.HasValidator(pkg.Filepath) {
		v, err := r.selector.Validator(pkg.Filepath)
		if err == nil && !safeVerify(v, pkg) {
			logging.Warn("Signature verification failed", "file", pkg.FileName(),
				"level", r.settings.SignatureVerificationLevel().String())
			r.metrics.IncSignatureRejected(kind)
			r.reject(pkg, packages.SignatureVerificationFailed)
			return packages.SignatureVerificationFailed
		}
	}

	logPath := ""
	if r.logDir != "" {
		if p, err := logging.InstallLogPath(r.logDir, pkg.Filepath); err == nil {
			logPath = p
		} else {
			logging.Warn("Cannot prepare install log", "file", pkg.FileName(), "error", err)
		}
	}

	pkg, result = r.runInstall(ctx, backend, pkg, logPath)

	r.mu.Lock()
	r.updateLocked(pkg)
	r.refreshAndClassifyLocked(ctx)
	if current, ok := r.findLocked(pkg.Filepath); ok {
		pkg = current
	}
	r.mu.Unlock()

	if r.finished != nil {
		r.finished(pkg, result)
	}
	return result
}

// runInstall persists the marker, runs the backend and returns the package with its outcome recorded.
// The marker is cleared before it returns, whatever the installer did.
func (r *Registry) runInstall(ctx context.Context, backend installer.Backend, pkg packages.Package, logPath string) (packages.Package, packages.Result) {
	if err := r.marker.Set(pkg.ProductCode); err != nil {
		logging.Error("Cannot persist install marker", "product_code", pkg.ProductCode, "error", err)
		pkg.Status = packages.Failed
		pkg.ErrorCode = packages.GeneralInstallationError
		return pkg, packages.GeneralInstallationError
	}
	defer func() {
		if err := r.marker.Clear(); err != nil {
			logging.Error("Cannot clear install marker", "product_code", pkg.ProductCode, "error", err)
		}
	}()

	pkg.Status = packages.Installing
	r.mu.Lock()
	r.updateLocked(pkg)
	r.mu.Unlock()

	kind := pkg.Extension()
	r.metrics.IncInstallStarted(kind)
	logging.LogInstallStart(pkg.FileName(), pkg.ProductCode)
	start := time.Now()

	result := safeInstall(context.WithoutCancel(ctx), backend, pkg, logPath)
	if result.IsSuccess() {
		if meta, ok := safeUpdateMetadata(backend, pkg); ok {
			pkg.ApplyMetadata(meta)
		}
	}

	logging.LogInstallFinished(pkg.FileName(), result, time.Since(start), logPath)
	r.metrics.IncInstallCompleted(kind, result.String())

	pkg.Status = result.Status()
	pkg.ErrorCode = result
	return pkg, result
}

// reject records a verdict reached before the installer ran.
func (r *Registry) reject(pkg packages.Package, result packages.Result) {
	pkg.Status = packages.Failed
	pkg.ErrorCode = result
	r.mu.Lock()
	r.updateLocked(pkg)
	r.mu.Unlock()
	if r.finished != nil {
		r.finished(pkg, result)
	}
}

// resolveInterrupted handles a package whose install was in flight when the agent last stopped.
// It is never re-installed; the backend's view decides the outcome.
func (r *Registry) resolveInterrupted(ctx context.Context, pkg packages.Package) packages.Result {
	logging.Warn("Resolving interrupted installation", "file", pkg.FileName(), "product_code", pkg.ProductCode)
	if err := r.marker.Clear(); err != nil {
		logging.Error("Cannot clear install marker", "product_code", pkg.ProductCode, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshAndClassifyLocked(ctx)
	current, ok := r.findLocked(pkg.Filepath)
	if !ok {
		return packages.PackageUnavailable
	}

	var result packages.Result
	switch current.Status {
	case packages.Installed:
		result = packages.Success
	case packages.RestartNeeded:
		result = packages.RestartNeededResult
	default:
		result = packages.GeneralInstallationError
	}
	current.ErrorCode = result
	r.updateLocked(current)
	return result
}

// InstallPackages installs each name in order, skipping unsupported or untracked names.
func (r *Registry) InstallPackages(ctx context.Context, fileNames []string) map[string]packages.Result {
	results := make(map[string]packages.Result, len(fileNames))
	for _, name := range fileNames {
		if !r.selector.Supports(name) {
			logging.Debug("Skipping unsupported package", "file", name)
			continue
		}
		if _, ok := r.Find(name); !ok {
			logging.Debug("Skipping unknown package", "file", name)
			continue
		}
		results[filepath.Base(name)] = r.InstallPackage(ctx, name)
	}
	return results
}

func safeInitialize(b installer.Backend, file string) (id packages.Identity, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Backend panicked reading package", "file", file, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	return b.Initialize(file)
}

func safeRefresh(ctx context.Context, b installer.Backend) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backend refresh panicked: %v", rec)
		}
	}()
	return b.Refresh(ctx)
}

func safeIsInstalled(b installer.Backend, productCode string) (installed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Backend panicked checking install state", "product_code", productCode, "panic", fmt.Sprint(rec))
			installed = false
		}
	}()
	return b.IsInstalled(productCode)
}

func safeUpdateMetadata(b installer.Backend, pkg packages.Package) (meta packages.Metadata, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Backend panicked reading metadata", "file", pkg.FileName(), "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	return b.UpdateMetadata(pkg)
}

func safeInstall(ctx context.Context, b installer.Backend, pkg packages.Package, logPath string) (result packages.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Installer panicked", "file", pkg.FileName(), "panic", fmt.Sprint(rec))
			result = packages.GeneralInstallationError
		}
	}()
	return b.Install(ctx, pkg, logPath)
}

func safeVerify(v validator.Validator, pkg packages.Package) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Validator panicked", "file", pkg.FileName(), "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	return v.VerifySignature(pkg)
}
