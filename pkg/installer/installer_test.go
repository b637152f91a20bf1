package installer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtsoft/up2date/pkg/packages"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers each command by its first argument.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]Output
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]Output{}, errs: map[string]error{}}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	return f.outputs[key], f.errs[key]
}

func (f *fakeRunner) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeProps map[string]map[string]string

func (f fakeProps) ReadProperties(path string) (map[string]string, error) {
	props, ok := f[filepath.Base(path)]
	if !ok {
		return nil, errors.New("not an msi")
	}
	return props, nil
}

type fakeProducts struct {
	products map[string]packages.Metadata
	err      error
}

func (f *fakeProducts) InstalledProducts() (map[string]packages.Metadata, error) {
	return f.products, f.err
}

type staticSources string

func (s staticSources) DefaultSources() string { return string(s) }

func writeNupkg(t *testing.T, dir, name, nuspec string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><Types/>`))
	require.NoError(t, err)
	if nuspec != "" {
		w, err = zw.Create(strings.TrimSuffix(name, filepath.Ext(name)) + ".nuspec")
		require.NoError(t, err)
		_, err = w.Write([]byte(nuspec))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func nuspecXML(id, version string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2015/06/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <title>%s Tool</title>
    <authors>RTSoft</authors>
  </metadata>
</package>`, id, version, id)
}

func TestMsiBackend_Initialize(t *testing.T) {
	props := fakeProps{
		"app.msi":    {"ProductCode": "{AAAA-1}", "ProductName": "App", "ProductVersion": "1.2.3"},
		"nocode.msi": {"ProductName": "Broken"},
	}
	m := NewMsiBackend(props, &fakeProducts{}, newFakeRunner())

	id, ok := m.Initialize("/d/app.msi")
	require.True(t, ok)
	assert.Equal(t, packages.Identity{ProductCode: "{AAAA-1}", ProductName: "App", DisplayVersion: "1.2.3"}, id)

	_, ok = m.Initialize("/d/nocode.msi")
	assert.False(t, ok)
	_, ok = m.Initialize("/d/garbage.msi")
	assert.False(t, ok)
}

func TestMsiBackend_RefreshAndMetadata(t *testing.T) {
	size := 2048
	src := &fakeProducts{products: map[string]packages.Metadata{
		"{aaaa-1}": {DisplayName: "App", Publisher: "RTSoft", EstimatedSizeKB: &size},
	}}
	m := NewMsiBackend(fakeProps{}, src, newFakeRunner())
	assert.False(t, m.IsInstalled("{AAAA-1}"))

	require.NoError(t, m.Refresh(context.Background()))
	assert.True(t, m.IsInstalled("{AAAA-1}"))
	assert.False(t, m.IsInstalled(""))

	meta, ok := m.UpdateMetadata(packages.Package{ProductCode: "{AaAa-1}"})
	require.True(t, ok)
	assert.Equal(t, "RTSoft", meta.Publisher)

	// A failing source keeps the previous cache.
	src.err = errors.New("registry unavailable")
	assert.Error(t, m.Refresh(context.Background()))
	assert.True(t, m.IsInstalled("{AAAA-1}"))
}

func TestMsiBackend_InstallOutcomes(t *testing.T) {
	cases := []struct {
		name string
		out  Output
		err  error
		want packages.Result
	}{
		{"success", Output{ExitCode: 0}, nil, packages.Success},
		{"reboot 3010", Output{ExitCode: 3010}, nil, packages.RestartNeededResult},
		{"reboot 1641", Output{ExitCode: 1641}, nil, packages.RestartNeededResult},
		{"fatal 1603", Output{ExitCode: 1603}, nil, packages.GeneralInstallationError},
		{"cannot start", Output{}, &StartError{Name: "msiexec", Err: exec.ErrNotFound}, packages.CannotStartInstaller},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newFakeRunner()
			r.outputs["/i"] = tc.out
			r.errs["/i"] = tc.err
			m := NewMsiBackend(fakeProps{}, &fakeProducts{}, r)

			got := m.Install(context.Background(), packages.Package{Filepath: `C:\d\app.msi`}, `C:\logs\app.log`)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, []string{"/i", `C:\d\app.msi`, "ALLUSERS=1", "/qn", "/norestart", "/l*v", `C:\logs\app.log`}, r.last().args)
		})
	}
}

func TestInstallArgsWithoutLog(t *testing.T) {
	assert.Equal(t, []string{"/i", "a.msi", "ALLUSERS=1", "/qn", "/norestart"}, InstallArgs("a.msi", ""))
}

func TestReadNuspec(t *testing.T) {
	dir := t.TempDir()
	good := writeNupkg(t, dir, "tool.1.0.0.nupkg", nuspecXML("tool", "1.0.0"))
	n, err := ReadNuspec(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, Nuspec{ID: "tool", Version: "1.0.0", Title: "tool Tool", Authors: "RTSoft"}, n)

	missing := writeNupkg(t, dir, "empty.nupkg", "")
	_, err = ReadNuspec(context.Background(), missing)
	assert.Error(t, err)

	noVersion := writeNupkg(t, dir, "nov.nupkg", nuspecXML("tool", ""))
	_, err = ReadNuspec(context.Background(), noVersion)
	assert.Error(t, err)
}

func TestChocoBackend_InitializeAndMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeNupkg(t, dir, "tool.2.1.0.nupkg", nuspecXML("tool", "2.1.0"))
	c := NewChocoBackend(newFakeRunner(), nil)

	id, ok := c.Initialize(path)
	require.True(t, ok)
	assert.Equal(t, "tool|2.1.0", id.ProductCode)
	assert.Equal(t, "tool Tool", id.ProductName)
	assert.Equal(t, "2.1.0", id.DisplayVersion)

	meta, ok := c.UpdateMetadata(packages.Package{Filepath: path})
	require.True(t, ok)
	assert.Equal(t, "RTSoft", meta.Publisher)

	junk := filepath.Join(dir, "junk.nupkg")
	require.NoError(t, os.WriteFile(junk, []byte("not a zip"), 0644))
	_, ok = c.Initialize(junk)
	assert.False(t, ok)
}

func TestParseLimitOutput(t *testing.T) {
	got := ParseLimitOutput("Chocolatey v2.2.2\r\nchocolatey|2.2.2\r\nTool|1.0.0\r\n\r\nbad line\r\n")
	assert.Equal(t, map[string]string{"chocolatey": "2.2.2", "tool": "1.0.0"}, got)
}

func TestChocoBackend_Refresh(t *testing.T) {
	r := newFakeRunner()
	r.outputs["list"] = Output{Stdout: "tool|1.0.0\n"}
	c := NewChocoBackend(r, nil)

	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.Available())
	assert.True(t, c.IsInstalled("tool|1.0.0"))
	assert.True(t, c.IsInstalled("TOOL|1.0"))
	assert.False(t, c.IsInstalled("tool|2.0.0"))
	assert.False(t, c.IsInstalled("garbage"))
	assert.Equal(t, []string{"list", "--limit-output"}, r.last().args)
}

func TestChocoBackend_RefreshWithoutChoco(t *testing.T) {
	r := newFakeRunner()
	r.outputs["list"] = Output{Stdout: "tool|1.0.0\n"}
	c := NewChocoBackend(r, nil)
	require.NoError(t, c.Refresh(context.Background()))

	r.errs["list"] = &StartError{Name: "choco", Err: exec.ErrNotFound}
	require.NoError(t, c.Refresh(context.Background()))
	assert.False(t, c.Available())
	assert.False(t, c.IsInstalled("tool|1.0.0"))

	r.errs["list"] = &StartError{Name: "choco", Err: errors.New("access denied")}
	assert.Error(t, c.Refresh(context.Background()))
}

func TestChocoBackend_InstallVerbs(t *testing.T) {
	r := newFakeRunner()
	r.outputs["list"] = Output{Stdout: "tool|2.0.0\n"}
	c := NewChocoBackend(r, staticSources("https://community.chocolatey.org/api/v2/;"))
	require.NoError(t, c.Refresh(context.Background()))

	dir := filepath.Join("C:", "downloads")

	assert.Equal(t,
		[]string{"install", "other", "--version", "1.0.0", "-s", dir + ";https://community.chocolatey.org/api/v2/", "-y", "--no-progress"},
		c.installArgs("other", "1.0.0", dir))

	assert.Equal(t,
		[]string{"upgrade", "tool", "--version", "3.0.0", "-s", dir + ";https://community.chocolatey.org/api/v2/", "-y", "--no-progress"},
		c.installArgs("tool", "3.0.0", dir))

	assert.Equal(t,
		[]string{"upgrade", "Tool", "--version", "1.5.0", "-s", dir + ";https://community.chocolatey.org/api/v2/", "-y", "--no-progress", "--allow-downgrade"},
		c.installArgs("Tool", "1.5.0", dir))

	noSources := NewChocoBackend(r, nil)
	assert.Equal(t, []string{"install", "x", "--version", "1", "-s", dir, "-y", "--no-progress"}, noSources.installArgs("x", "1", dir))
}

func TestChocoBackend_InstallOutcomes(t *testing.T) {
	cases := []struct {
		name string
		out  Output
		err  error
		want packages.Result
	}{
		{"success", Output{ExitCode: 0}, nil, packages.Success},
		{"reboot", Output{ExitCode: 3010}, nil, packages.RestartNeededResult},
		{"failed", Output{ExitCode: 1}, nil, packages.FailedToInstallChocoPackage},
		{"choco missing", Output{}, &StartError{Name: "choco", Err: os.ErrNotExist}, packages.ChocoNotInstalled},
		{"cannot start", Output{}, &StartError{Name: "choco", Err: errors.New("access denied")}, packages.CannotStartInstaller},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newFakeRunner()
			r.outputs["install"] = tc.out
			r.errs["install"] = tc.err
			c := NewChocoBackend(r, nil)

			logPath := filepath.Join(t.TempDir(), "tool.log")
			pkg := packages.Package{Filepath: "/downloads/tool.1.0.0.nupkg", ProductCode: "tool|1.0.0"}
			assert.Equal(t, tc.want, c.Install(context.Background(), pkg, logPath))
			assert.FileExists(t, logPath)
		})
	}
}

func TestExecRunner_StartFailure(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	var startErr *StartError
	assert.ErrorAs(t, err, &startErr)
	assert.True(t, IsNotInstalled(err))
}
