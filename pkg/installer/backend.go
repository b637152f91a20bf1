// pkg/installer/backend.go - the contract every package type (msi, nupkg) implements.

package installer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rtsoft/up2date/pkg/packages"
)

// Backend knows how to identify, detect and install one package type.
// One instance per type lives for the whole process; implementations must be safe for concurrent use.
type Backend interface {
	// Initialize reads the identity of a package file without installing it.
	// false means the file is not a usable package of this type.
	Initialize(path string) (packages.Identity, bool)

	// IsInstalled answers from the cache built by the last Refresh.
	IsInstalled(productCode string) bool

	// UpdateMetadata returns what the installed-product database knows about pkg.
	UpdateMetadata(pkg packages.Package) (packages.Metadata, bool)

	// Install runs the native installer. logPath may be empty.
	Install(ctx context.Context, pkg packages.Package, logPath string) packages.Result

	// Refresh rebuilds the installed-product cache.
	Refresh(ctx context.Context) error
}

var (
	commandMsi   = systemPath(os.Getenv("WINDIR"), "msiexec.exe", "system32", "msiexec.exe")
	commandChoco = systemPath(os.Getenv("ProgramData"), "choco", "chocolatey", "bin", "choco.exe")
	commandNuget = "nuget.exe"
)

// systemPath joins elem under root, or falls back to a PATH lookup name when root is unset.
func systemPath(root, fallback string, elem ...string) string {
	if root == "" {
		return fallback
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

// NugetCommand is the nuget executable used for package signature checks.
func NugetCommand() string { return commandNuget }

// IsRestartCode reports the Windows Installer exit codes that mean "success, reboot required".
func IsRestartCode(code int) bool {
	return code == 3010 || code == 1641
}
