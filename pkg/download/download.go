// pkg/download/download.go - fetches deployment artifacts into the download directory.

package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/retry"
	"github.com/rtsoft/up2date/pkg/utils"
)

const (
	Timeout = 30 * time.Minute
	// partialSuffix marks a file still being written; the registry never sees a supported extension on it.
	partialSuffix = ".part"
)

// Client downloads files over HTTP.
type Client struct {
	HTTP   *http.Client
	Header http.Header
}

// New returns a client with the default timeout.
func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: Timeout}}
}

// File downloads url into dest. The file only appears under dest once it is complete.
// Client errors (4xx) are permanent; other failures may be retried by the caller.
func (c *Client) File(ctx context.Context, url, dest string) error {
	if url == "" {
		return retry.Permanent(fmt.Errorf("invalid parameters: url cannot be empty"))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to prepare HTTP request: %w", err))
	}
	for k, values := range c.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	logging.Info("Starting download", "url", url, "destination", dest)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected HTTP status code: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	}

	part := dest + partialSuffix
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to open destination file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(part)
		return fmt.Errorf("failed to write downloaded data: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to write downloaded data: %w", err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	logging.Info("Download completed successfully", "file", dest)
	return nil
}

// Verify checks if the given file matches the expected SHA-256 hash. An empty hash always matches.
func Verify(file string, expectedHash string) bool {
	if expectedHash == "" {
		return true
	}
	actualHash, err := utils.FileSHA256(file)
	if err != nil {
		logging.Warn("Cannot hash downloaded file", "file", file, "error", err)
		return false
	}
	return strings.EqualFold(actualHash, expectedHash)
}
