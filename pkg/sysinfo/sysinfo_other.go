//go:build !windows

package sysinfo

import (
	"context"
	"os"
	"strings"
)

// platformDetails reads the machine id where systemd provides one.
func platformDetails(_ context.Context, info *Info) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			info.MachineGUID = strings.TrimSpace(string(data))
			return
		}
	}
}
