// pkg/installer/msi.go - Windows Installer (.msi) backend.

package installer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
)

// ErrNotSupported is returned by platform pieces that only exist on Windows.
var ErrNotSupported = errors.New("not supported on this platform")

// PropertyReader reads the Property table of an MSI database.
type PropertyReader interface {
	ReadProperties(path string) (map[string]string, error)
}

// ProductSource lists installed MSI products keyed by product code.
type ProductSource interface {
	InstalledProducts() (map[string]packages.Metadata, error)
}

// MsiBackend installs .msi files with msiexec and detects them via the Uninstall registry keys.
type MsiBackend struct {
	reader  PropertyReader
	source  ProductSource
	runner  Runner
	msiexec string

	mu       sync.RWMutex
	products map[string]packages.Metadata
}

// NewMsiBackend wires an MSI backend from its collaborators.
func NewMsiBackend(reader PropertyReader, source ProductSource, runner Runner) *MsiBackend {
	return &MsiBackend{
		reader:   reader,
		source:   source,
		runner:   runner,
		msiexec:  commandMsi,
		products: map[string]packages.Metadata{},
	}
}

// NewDefaultMsiBackend uses the platform property reader, registry source and exec runner.
func NewDefaultMsiBackend() *MsiBackend {
	return NewMsiBackend(NewPropertyReader(), NewProductSource(), ExecRunner{})
}

func normalizeProductCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (m *MsiBackend) Initialize(path string) (packages.Identity, bool) {
	props, err := m.reader.ReadProperties(path)
	if err != nil {
		logging.Warn("Cannot read MSI properties", "file", path, "error", err)
		return packages.Identity{}, false
	}
	id := packages.Identity{
		ProductCode:    strings.TrimSpace(props["ProductCode"]),
		ProductName:    props["ProductName"],
		DisplayVersion: props["ProductVersion"],
	}
	if id.ProductCode == "" {
		logging.Warn("MSI has no ProductCode", "file", path)
		return packages.Identity{}, false
	}
	return id, true
}

func (m *MsiBackend) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	products, err := m.source.InstalledProducts()
	if err != nil {
		return err
	}
	normalized := make(map[string]packages.Metadata, len(products))
	for code, meta := range products {
		normalized[normalizeProductCode(code)] = meta
	}
	m.mu.Lock()
	m.products = normalized
	m.mu.Unlock()
	logging.Debug("MSI product cache refreshed", "products", len(normalized))
	return nil
}

func (m *MsiBackend) IsInstalled(productCode string) bool {
	if productCode == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.products[normalizeProductCode(productCode)]
	return ok
}

func (m *MsiBackend) UpdateMetadata(pkg packages.Package) (packages.Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.products[normalizeProductCode(pkg.ProductCode)]
	return meta, ok
}

// InstallArgs is the msiexec command line for a silent, per-machine install.
func InstallArgs(file, logPath string) []string {
	args := []string{"/i", file, "ALLUSERS=1", "/qn", "/norestart"}
	if logPath != "" {
		args = append(args, "/l*v", logPath)
	}
	return args
}

func (m *MsiBackend) Install(ctx context.Context, pkg packages.Package, logPath string) packages.Result {
	out, err := m.runner.Run(ctx, m.msiexec, InstallArgs(pkg.Filepath, logPath)...)
	if err != nil {
		logging.Error("Cannot start msiexec", "package", pkg.FileName(), "error", err)
		return packages.CannotStartInstaller
	}
	switch {
	case out.ExitCode == 0:
		return packages.Success
	case IsRestartCode(out.ExitCode):
		return packages.RestartNeededResult
	default:
		logging.Error("msiexec failed", "package", pkg.FileName(), "exit_code", out.ExitCode)
		return packages.GeneralInstallationError
	}
}
