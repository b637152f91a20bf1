// pkg/installer/choco.go - Chocolatey (.nupkg) backend.

package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goversion "github.com/hashicorp/go-version"

	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
)

// SourcesProvider supplies the configured choco feeds, read on every install.
type SourcesProvider interface {
	DefaultSources() string
}

// ChocoBackend installs .nupkg files through choco with the download directory as an extra source.
type ChocoBackend struct {
	runner  Runner
	sources SourcesProvider
	choco   string

	mu        sync.RWMutex
	installed map[string]string // lower-cased id -> version
	available bool
}

// NewChocoBackend wires a choco backend. sources may be nil.
func NewChocoBackend(runner Runner, sources SourcesProvider) *ChocoBackend {
	return &ChocoBackend{
		runner:    runner,
		sources:   sources,
		choco:     commandChoco,
		installed: map[string]string{},
	}
}

// ProductCode is the choco --limit-output form of a package identity.
func ProductCode(id, version string) string {
	return id + "|" + version
}

// SplitProductCode is the inverse of ProductCode.
func SplitProductCode(code string) (id, version string, ok bool) {
	id, version, ok = strings.Cut(code, "|")
	if !ok || id == "" || version == "" {
		return "", "", false
	}
	return id, version, true
}

// Available reports whether the last Refresh found a working choco.
func (c *ChocoBackend) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *ChocoBackend) Initialize(path string) (packages.Identity, bool) {
	n, err := ReadNuspec(context.Background(), path)
	if err != nil {
		logging.Warn("Cannot read nuspec", "file", path, "error", err)
		return packages.Identity{}, false
	}
	name := n.Title
	if name == "" {
		name = n.ID
	}
	return packages.Identity{
		ProductCode:    ProductCode(n.ID, n.Version),
		ProductName:    name,
		DisplayVersion: n.Version,
	}, true
}

func (c *ChocoBackend) Refresh(ctx context.Context) error {
	out, err := c.runner.Run(ctx, c.choco, "list", "--limit-output")
	if err != nil {
		if IsNotInstalled(err) {
			logging.Warn("Chocolatey is not installed", "path", c.choco)
			c.swap(map[string]string{}, false)
			return nil
		}
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("choco list exited with %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	c.swap(ParseLimitOutput(out.Stdout), true)
	return nil
}

func (c *ChocoBackend) swap(installed map[string]string, available bool) {
	c.mu.Lock()
	c.installed = installed
	c.available = available
	c.mu.Unlock()
}

// ParseLimitOutput parses "id|version" lines; anything else is ignored.
func ParseLimitOutput(stdout string) map[string]string {
	installed := make(map[string]string)
	for _, line := range strings.Split(stdout, "\n") {
		id, version, ok := SplitProductCode(strings.TrimSpace(line))
		if !ok || strings.Contains(version, "|") {
			continue
		}
		installed[strings.ToLower(id)] = version
	}
	return installed
}

func (c *ChocoBackend) installedVersion(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.installed[strings.ToLower(id)]
	return v, ok
}

func sameVersion(a, b string) bool {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Equal(vb)
	}
	return strings.EqualFold(a, b)
}

func (c *ChocoBackend) IsInstalled(productCode string) bool {
	id, version, ok := SplitProductCode(productCode)
	if !ok {
		return false
	}
	installed, ok := c.installedVersion(id)
	return ok && sameVersion(installed, version)
}

func (c *ChocoBackend) UpdateMetadata(pkg packages.Package) (packages.Metadata, bool) {
	n, err := ReadNuspec(context.Background(), pkg.Filepath)
	if err != nil {
		return packages.Metadata{}, false
	}
	return packages.Metadata{
		DisplayName:    n.Title,
		Publisher:      n.Authors,
		DisplayVersion: n.Version,
	}, true
}

// installArgs builds the choco command line for id@version.
func (c *ChocoBackend) installArgs(id, version, sourceDir string) []string {
	verb := "install"
	var downgrade bool
	if current, ok := c.installedVersion(id); ok {
		verb = "upgrade"
		cv, errC := goversion.NewVersion(current)
		tv, errT := goversion.NewVersion(version)
		downgrade = errC == nil && errT == nil && cv.GreaterThan(tv)
	}

	source := sourceDir
	if c.sources != nil {
		if extra := strings.Trim(strings.TrimSpace(c.sources.DefaultSources()), ";"); extra != "" {
			source += ";" + extra
		}
	}

	args := []string{verb, id, "--version", version, "-s", source, "-y", "--no-progress"}
	if downgrade {
		args = append(args, "--allow-downgrade")
	}
	return args
}

func (c *ChocoBackend) Install(ctx context.Context, pkg packages.Package, logPath string) packages.Result {
	id, version, ok := SplitProductCode(pkg.ProductCode)
	if !ok {
		n, err := ReadNuspec(ctx, pkg.Filepath)
		if err != nil {
			logging.Error("Cannot identify choco package", "package", pkg.FileName(), "error", err)
			return packages.FailedToInstallChocoPackage
		}
		id, version = n.ID, n.Version
	}

	args := c.installArgs(id, version, filepath.Dir(pkg.Filepath))
	logging.Info("Running choco", "package", pkg.FileName(), "verb", args[0], "id", id, "version", version)

	out, err := c.runner.Run(ctx, c.choco, args...)
	c.writeLog(logPath, args, out)
	if err != nil {
		if IsNotInstalled(err) {
			logging.Error("Chocolatey is not installed", "package", pkg.FileName(), "error", err)
			return packages.ChocoNotInstalled
		}
		logging.Error("Cannot start choco", "package", pkg.FileName(), "error", err)
		return packages.CannotStartInstaller
	}
	switch {
	case out.ExitCode == 0:
		return packages.Success
	case IsRestartCode(out.ExitCode):
		return packages.RestartNeededResult
	default:
		logging.Error("choco failed", "package", pkg.FileName(), "exit_code", out.ExitCode)
		return packages.FailedToInstallChocoPackage
	}
}

func (c *ChocoBackend) writeLog(logPath string, args []string, out Output) {
	if logPath == "" {
		return
	}
	content := fmt.Sprintf("> %s %s\n%s\nexit code: %d\n", c.choco, strings.Join(args, " "), out.Combined(), out.ExitCode)
	if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
		logging.Warn("Cannot write choco log", "path", logPath, "error", err)
	}
}
