// pkg/logging/helpers.go - helpers for installer log files and lifecycle events.

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// InstallLogPath prepares a fresh log file path for one installer run:
// <dir>/<package file name without extension>-<timestamp>.log
// The directory is created if needed. The file itself is left to the installer.
func InstallLogPath(dir, packageFile string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("install log directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating install log directory %s: %w", dir, err)
	}
	base := strings.TrimSuffix(filepath.Base(packageFile), filepath.Ext(packageFile))
	name := fmt.Sprintf("%s-%s.log", base, time.Now().Format("20060102-150405.000"))
	return filepath.Join(dir, name), nil
}

// LogInstallStart records the start of an installation.
func LogInstallStart(fileName, productCode string) {
	Info("Installation started", "package", fileName, "product_code", productCode)
}

// LogInstallFinished records how an installation ended.
func LogInstallFinished(fileName string, result fmt.Stringer, duration time.Duration, logPath string) {
	kv := []interface{}{"package", fileName, "result", result.String(), "duration", duration.Round(time.Millisecond).String()}
	if logPath != "" {
		kv = append(kv, "log", logPath)
	}
	Info("Installation finished", kv...)
}
