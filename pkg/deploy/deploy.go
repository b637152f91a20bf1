// pkg/deploy/deploy.go - handles deployment actions from the update server.
//
// An action names one artifact. It is downloaded unless already present, then
// installed, offered to the operator, or left alone depending on its update type.

package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rtsoft/up2date/pkg/download"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/retry"
)

// Update types sent by the server.
const (
	UpdateForced  = "forced"
	UpdateAttempt = "attempt"
	UpdateSkip    = "skip"
)

// Info describes one deployment action.
type Info struct {
	ID                int    `json:"id" yaml:"id"`
	UpdateType        string `json:"update_type" yaml:"update_type"`
	DownloadType      string `json:"download_type,omitempty" yaml:"download_type,omitempty"`
	MaintenanceWindow bool   `json:"maintenance_window,omitempty" yaml:"maintenance_window,omitempty"`
	ChunkName         string `json:"chunk_name,omitempty" yaml:"chunk_name,omitempty"`
	ChunkVersion      string `json:"chunk_version,omitempty" yaml:"chunk_version,omitempty"`
	FileName          string `json:"file_name" yaml:"file_name"`
	URL               string `json:"url,omitempty" yaml:"url,omitempty"`
	MD5               string `json:"md5,omitempty" yaml:"md5,omitempty"`
	SHA1              string `json:"sha1,omitempty" yaml:"sha1,omitempty"`
	SHA256            string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Finished is the final verdict reported back to the server.
type Finished int

const (
	FinishedNone Finished = iota
	FinishedSuccess
	FinishedFailure
)

func (f Finished) String() string {
	switch f {
	case FinishedSuccess:
		return "success"
	case FinishedFailure:
		return "failure"
	default:
		return "none"
	}
}

// Execution is the action's execution state reported back to the server.
type Execution int

const (
	ExecutionClosed Execution = iota
	ExecutionProceeding
	ExecutionCanceled
	ExecutionScheduled
	ExecutionRejected
	ExecutionResumed
	ExecutionDownloaded
	ExecutionDownload
)

var executionNames = []string{"closed", "proceeding", "canceled", "scheduled", "rejected", "resumed", "downloaded", "download"}

func (e Execution) String() string {
	if int(e) >= 0 && int(e) < len(executionNames) {
		return executionNames[e]
	}
	return fmt.Sprintf("execution(%d)", int(e))
}

// Outcome is the feedback for one action.
type Outcome struct {
	Execution Execution
	Finished  Finished
	Message   string
}

// Downloader fetches the artifact of info into dir.
type Downloader interface {
	Download(ctx context.Context, dir string, info Info) error
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, dir string, info Info) error

func (f DownloaderFunc) Download(ctx context.Context, dir string, info Info) error {
	return f(ctx, dir, info)
}

// HTTPDownloader fetches info.URL with a download.Client and checks the SHA-256 when given.
type HTTPDownloader struct {
	Client *download.Client
}

func (d HTTPDownloader) Download(ctx context.Context, dir string, info Info) error {
	client := d.Client
	if client == nil {
		client = download.New()
	}
	dest := filepath.Join(dir, filepath.Base(info.FileName))
	if err := client.File(ctx, info.URL, dest); err != nil {
		return err
	}
	if !download.Verify(dest, info.SHA256) {
		return fmt.Errorf("SHA-256 mismatch for %s", info.FileName)
	}
	return nil
}

// Registry is the part of the package registry the handler drives.
type Registry interface {
	IsFileSupported(fileName string) bool
	IsFileDownloaded(ctx context.Context, fileName, md5 string) bool
	OnDownloadStarted(fileName string)
	OnDownloadFinished(ctx context.Context, fileName string)
	IsPackageInstalled(ctx context.Context, fileName string) bool
	MarkSuggested(fileName string) bool
	InstallPackage(ctx context.Context, fileName string) packages.Result
}

// Handler turns deployment actions into registry operations.
type Handler struct {
	registry Registry
	location func() string
	allowed  func() []string
	retry    retry.RetryConfig
}

// Option configures a Handler.
type Option func(*Handler)

// WithAllowedExtensions restricts accepted artifacts to the returned extensions. Read per action.
func WithAllowedExtensions(fn func() []string) Option {
	return func(h *Handler) { h.allowed = fn }
}

// WithRetry overrides the download retry policy.
func WithRetry(cfg retry.RetryConfig) Option {
	return func(h *Handler) { h.retry = cfg }
}

// NewHandler builds a handler downloading into the directory returned by location.
func NewHandler(reg Registry, location func() string, opts ...Option) *Handler {
	h := &Handler{registry: reg, location: location, retry: retry.DefaultConfig()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) isAllowed(fileName string) bool {
	if h.allowed == nil {
		return true
	}
	ext := packages.Extension(fileName)
	return slices.ContainsFunc(h.allowed(), func(a string) bool { return strings.EqualFold(a, ext) })
}

// Handle runs one action to completion.
func (h *Handler) Handle(ctx context.Context, info Info, dl Downloader) Outcome {
	name := filepath.Base(info.FileName)
	log := func(msg string, kv ...interface{}) {
		logging.Info(msg, append([]interface{}{"action", info.ID, "artifact", name}, kv...)...)
	}
	log("Deployment requested", "update_type", info.UpdateType)

	if name == "" || name == "." || !h.registry.IsFileSupported(name) || !h.isAllowed(name) {
		log("Deployment rejected, artifact type not supported")
		return Outcome{Execution: ExecutionRejected, Finished: FinishedFailure, Message: "artifact type not supported"}
	}

	if h.registry.IsFileDownloaded(ctx, name, info.MD5) {
		log("Artifact already downloaded")
	} else {
		log("Downloading")
		h.registry.OnDownloadStarted(name)
		err := retry.Retry(ctx, h.retry, func(ctx context.Context) error {
			return dl.Download(ctx, h.location(), info)
		})
		h.registry.OnDownloadFinished(ctx, name)
		if err != nil {
			logging.Error("Download failed", "action", info.ID, "artifact", name, "error", err)
			return Outcome{Execution: ExecutionClosed, Finished: FinishedFailure, Message: "download failed: " + err.Error()}
		}
		if !h.registry.IsFileDownloaded(ctx, name, info.MD5) {
			logging.Error("Downloaded artifact failed verification", "action", info.ID, "artifact", name)
			return Outcome{Execution: ExecutionClosed, Finished: FinishedFailure, Message: "downloaded file does not match the expected hash"}
		}
		log("Download completed")
	}

	switch strings.ToLower(info.UpdateType) {
	case UpdateSkip:
		log("Installation skipped, not requested")
		return Outcome{Execution: ExecutionDownloaded, Finished: FinishedSuccess, Message: "downloaded, installation not requested"}
	case UpdateAttempt:
		if h.registry.IsPackageInstalled(ctx, name) {
			log("Installation skipped, already installed")
			return Outcome{Execution: ExecutionClosed, Finished: FinishedSuccess, Message: "already installed"}
		}
		h.registry.MarkSuggested(name)
		log("Installation suggested to the operator")
		return Outcome{Execution: ExecutionDownloaded, Finished: FinishedNone, Message: "waiting for installation approval"}
	case UpdateForced:
	default:
		logging.Warn("Unknown update type, treating as forced", "action", info.ID, "update_type", info.UpdateType)
	}

	if h.registry.IsPackageInstalled(ctx, name) {
		log("Installation skipped, already installed")
		return Outcome{Execution: ExecutionClosed, Finished: FinishedSuccess, Message: "already installed"}
	}

	log("Installing")
	result := h.registry.InstallPackage(ctx, name)
	switch result {
	case packages.Success:
		log("Installation finished")
		return Outcome{Execution: ExecutionClosed, Finished: FinishedSuccess, Message: "installed"}
	case packages.RestartNeededResult:
		log("Installation finished, restart needed")
		return Outcome{Execution: ExecutionClosed, Finished: FinishedSuccess, Message: "installed, restart needed"}
	default:
		logging.Error("Installation failed", "action", info.ID, "artifact", name, "result", result.String())
		return Outcome{Execution: ExecutionClosed, Finished: FinishedFailure, Message: "installation failed: " + result.String()}
	}
}
