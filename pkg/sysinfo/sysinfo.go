// pkg/sysinfo/sysinfo.go - device attributes reported with the configuration request.

package sysinfo

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/rtsoft/up2date/pkg/logging"
)

// ClientType identifies this agent to the update server.
const ClientType = "RITMS UP2DATE for Windows"

// Info is what the agent knows about the machine it runs on.
type Info struct {
	MachineName string `json:"machine_name" yaml:"machine_name"`
	Is64Bit     bool   `json:"is_64bit" yaml:"is_64bit"`
	Platform    string `json:"platform" yaml:"platform"`
	Version     string `json:"version" yaml:"version"`
	Caption     string `json:"caption,omitempty" yaml:"caption,omitempty"`
	ServicePack string `json:"service_pack,omitempty" yaml:"service_pack,omitempty"`
	MachineGUID string `json:"machine_guid,omitempty" yaml:"machine_guid,omitempty"`
}

// Attribute is one key/value pair of the configuration response.
type Attribute struct {
	Key   string
	Value string
}

// Retrieve collects machine facts. Missing facts are left empty and logged.
func Retrieve(ctx context.Context) Info {
	info := Info{Platform: runtime.GOOS}

	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		logging.Warn("Failed to query host information", "error", err)
	}
	if hi != nil {
		info.MachineName = hi.Hostname
		if hi.Platform != "" {
			info.Platform = hi.Platform
		}
		info.Version = hi.PlatformVersion
		info.Is64Bit = is64Bit(hi.KernelArch)
	}
	if info.MachineName == "" {
		info.MachineName, _ = os.Hostname()
	}
	if hi == nil || hi.KernelArch == "" {
		info.Is64Bit = is64Bit(runtime.GOARCH)
	}

	platformDetails(ctx, &info)
	return info
}

func is64Bit(arch string) bool {
	switch strings.ToLower(arch) {
	case "x86_64", "amd64", "arm64", "aarch64", "ppc64", "ppc64le", "s390x", "riscv64", "loong64":
		return true
	}
	return false
}

// Attributes returns the configuration attributes in their reporting order.
func (i Info) Attributes() []Attribute {
	osType := "32-bit"
	if i.Is64Bit {
		osType = "64-bit"
	}
	attrs := []Attribute{
		{"client", ClientType},
		{"computer", i.MachineName},
		{"platform", i.Platform},
		{"OS type", osType},
		{"version", i.Version},
		{"service pack", i.ServicePack},
	}
	if i.Caption != "" {
		attrs = append(attrs, Attribute{"OS", i.Caption})
	}
	if i.MachineGUID != "" {
		attrs = append(attrs, Attribute{"machine guid", i.MachineGUID})
	}
	return attrs
}
