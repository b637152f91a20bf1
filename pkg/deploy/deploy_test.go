package deploy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtsoft/up2date/pkg/download"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/retry"
	"github.com/rtsoft/up2date/pkg/utils"
)

// fakeRegistry tracks files in dir; a file counts as downloaded once it exists and no download is open.
type fakeRegistry struct {
	mu        sync.Mutex
	dir       string
	open      map[string]bool
	installed map[string]bool
	suggested []string
	installs  []string
	result    packages.Result
	events    []string
}

func newFakeRegistry(dir string) *fakeRegistry {
	return &fakeRegistry{dir: dir, open: map[string]bool{}, installed: map[string]bool{}}
}

func (f *fakeRegistry) IsFileSupported(name string) bool {
	ext := packages.Extension(name)
	return ext == ".msi" || ext == ".nupkg"
}

func (f *fakeRegistry) IsFileDownloaded(_ context.Context, name, md5 string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open[name] {
		return false
	}
	return utils.MatchesMD5(filepath.Join(f.dir, name), md5)
}

func (f *fakeRegistry) OnDownloadStarted(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[name] = true
	f.events = append(f.events, "started:"+name)
}

func (f *fakeRegistry) OnDownloadFinished(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, name)
	f.events = append(f.events, "finished:"+name)
}

func (f *fakeRegistry) IsPackageInstalled(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[name]
}

func (f *fakeRegistry) MarkSuggested(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggested = append(f.suggested, name)
	return true
}

func (f *fakeRegistry) InstallPackage(_ context.Context, name string) packages.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, name)
	if f.result.IsSuccess() {
		f.installed[name] = true
	}
	return f.result
}

func writer(content string) Downloader {
	return DownloaderFunc(func(_ context.Context, dir string, info Info) error {
		return os.WriteFile(filepath.Join(dir, info.FileName), []byte(content), 0644)
	})
}

func fastRetry() Option {
	return WithRetry(retry.RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 1})
}

func newHandler(t *testing.T) (*Handler, *fakeRegistry) {
	t.Helper()
	dir := t.TempDir()
	reg := newFakeRegistry(dir)
	return NewHandler(reg, func() string { return dir }, fastRetry()), reg
}

func TestHandle_RejectsUnsupported(t *testing.T) {
	h, reg := newHandler(t)
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "setup.exe", UpdateType: UpdateForced}, writer("x"))
	assert.Equal(t, ExecutionRejected, out.Execution)
	assert.Equal(t, FinishedFailure, out.Finished)
	assert.Empty(t, reg.events)
}

func TestHandle_RejectsFilteredExtension(t *testing.T) {
	dir := t.TempDir()
	reg := newFakeRegistry(dir)
	h := NewHandler(reg, func() string { return dir }, WithAllowedExtensions(func() []string { return []string{".msi"} }))
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "tool.nupkg", UpdateType: UpdateForced}, writer("x"))
	assert.Equal(t, ExecutionRejected, out.Execution)
}

func TestHandle_ForcedDownloadsAndInstalls(t *testing.T) {
	h, reg := newHandler(t)
	out := h.Handle(context.Background(), Info{ID: 7, FileName: "app.msi", UpdateType: UpdateForced}, writer("payload"))

	assert.Equal(t, Outcome{Execution: ExecutionClosed, Finished: FinishedSuccess, Message: "installed"}, out)
	assert.Equal(t, []string{"started:app.msi", "finished:app.msi"}, reg.events)
	assert.Equal(t, []string{"app.msi"}, reg.installs)
}

func TestHandle_SkipsDownloadWhenPresent(t *testing.T) {
	h, reg := newHandler(t)
	path := filepath.Join(reg.dir, "app.msi")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))
	sum, err := utils.FileMD5(path)
	require.NoError(t, err)

	called := false
	dl := DownloaderFunc(func(context.Context, string, Info) error { called = true; return nil })
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", MD5: sum, UpdateType: UpdateSkip}, dl)

	assert.False(t, called)
	assert.Empty(t, reg.events)
	assert.Equal(t, ExecutionDownloaded, out.Execution)
	assert.Equal(t, FinishedSuccess, out.Finished)
	assert.Empty(t, reg.installs)
}

func TestHandle_RedownloadsOnHashMismatch(t *testing.T) {
	h, reg := newHandler(t)
	path := filepath.Join(reg.dir, "app.msi")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))
	fresh := filepath.Join(t.TempDir(), "fresh")
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0644))
	sum, err := utils.FileMD5(fresh)
	require.NoError(t, err)

	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", MD5: sum, UpdateType: UpdateSkip}, writer("fresh"))
	assert.Equal(t, FinishedSuccess, out.Finished)
	assert.Equal(t, []string{"started:app.msi", "finished:app.msi"}, reg.events)
}

func TestHandle_DownloadedFileFailsHash(t *testing.T) {
	h, _ := newHandler(t)
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", MD5: "00000000000000000000000000000000", UpdateType: UpdateForced}, writer("x"))
	assert.Equal(t, FinishedFailure, out.Finished)
	assert.Contains(t, out.Message, "hash")
}

func TestHandle_RetriesDownload(t *testing.T) {
	h, reg := newHandler(t)
	attempts := 0
	dl := DownloaderFunc(func(ctx context.Context, dir string, info Info) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return writer("ok").Download(ctx, dir, info)
	})
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", UpdateType: UpdateForced}, dl)
	assert.Equal(t, FinishedSuccess, out.Finished)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"started:app.msi", "finished:app.msi"}, reg.events)
}

func TestHandle_DownloadFailureClosesPlaceholder(t *testing.T) {
	h, reg := newHandler(t)
	dl := DownloaderFunc(func(context.Context, string, Info) error { return retry.Permanent(errors.New("forbidden")) })
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", UpdateType: UpdateForced}, dl)
	assert.Equal(t, FinishedFailure, out.Finished)
	assert.Contains(t, out.Message, "forbidden")
	assert.Equal(t, []string{"started:app.msi", "finished:app.msi"}, reg.events)
	assert.Empty(t, reg.installs)
}

func TestHandle_AttemptSuggests(t *testing.T) {
	h, reg := newHandler(t)
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", UpdateType: UpdateAttempt}, writer("x"))
	assert.Equal(t, ExecutionDownloaded, out.Execution)
	assert.Equal(t, FinishedNone, out.Finished)
	assert.Equal(t, []string{"app.msi"}, reg.suggested)
	assert.Empty(t, reg.installs)
}

func TestHandle_AlreadyInstalled(t *testing.T) {
	h, reg := newHandler(t)
	reg.installed["app.msi"] = true
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", UpdateType: UpdateForced}, writer("x"))
	assert.Equal(t, FinishedSuccess, out.Finished)
	assert.Equal(t, "already installed", out.Message)
	assert.Empty(t, reg.installs)
}

func TestHandle_AttemptAlreadyInstalledCloses(t *testing.T) {
	h, reg := newHandler(t)
	reg.installed["app.msi"] = true
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "app.msi", UpdateType: UpdateAttempt}, writer("x"))
	assert.Equal(t, Outcome{Execution: ExecutionClosed, Finished: FinishedSuccess, Message: "already installed"}, out)
	assert.Empty(t, reg.suggested)
}

func TestHandle_InstallOutcomes(t *testing.T) {
	h, reg := newHandler(t)
	reg.result = packages.RestartNeededResult
	out := h.Handle(context.Background(), Info{ID: 1, FileName: "a.msi", UpdateType: UpdateForced}, writer("x"))
	assert.Equal(t, FinishedSuccess, out.Finished)
	assert.Contains(t, out.Message, "restart")

	reg.result = packages.SignatureVerificationFailed
	out = h.Handle(context.Background(), Info{ID: 2, FileName: "b.msi", UpdateType: "unexpected"}, writer("x"))
	assert.Equal(t, FinishedFailure, out.Finished)
	assert.Contains(t, out.Message, "SignatureVerificationFailed")
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	reference := filepath.Join(t.TempDir(), "ref")
	require.NoError(t, os.WriteFile(reference, []byte("artifact"), 0644))
	sum, err := utils.FileSHA256(reference)
	require.NoError(t, err)

	d := HTTPDownloader{Client: download.New()}
	info := Info{FileName: "app.msi", URL: srv.URL + "/app.msi", SHA256: sum}
	require.NoError(t, d.Download(context.Background(), dir, info))

	info.SHA256 = "00"
	assert.Error(t, d.Download(context.Background(), dir, info))
}

func TestExecutionAndFinishedNames(t *testing.T) {
	assert.Equal(t, "downloaded", ExecutionDownloaded.String())
	assert.Equal(t, "rejected", ExecutionRejected.String())
	assert.Equal(t, "success", FinishedSuccess.String())
	assert.Equal(t, "none", FinishedNone.String())
}
