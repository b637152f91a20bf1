//go:build windows

package sysinfo

import (
	"context"

	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows/registry"

	"github.com/rtsoft/up2date/pkg/logging"
)

// Win32_OperatingSystem is the WMI class holding the OS caption and service pack.
type Win32_OperatingSystem struct {
	Caption        string
	Version        string
	CSDVersion     string
	OSArchitecture string
}

func platformDetails(_ context.Context, info *Info) {
	var systems []Win32_OperatingSystem
	if err := wmi.Query("SELECT Caption, Version, CSDVersion, OSArchitecture FROM Win32_OperatingSystem", &systems); err != nil {
		logging.Warn("Failed to query operating system information", "error", err)
	} else if len(systems) > 0 {
		osInfo := systems[0]
		info.Caption = osInfo.Caption
		info.ServicePack = osInfo.CSDVersion
		if osInfo.Version != "" {
			info.Version = osInfo.Version
		}
		if osInfo.OSArchitecture != "" {
			info.Is64Bit = osInfo.OSArchitecture == "64-bit" || osInfo.OSArchitecture == "64 bits"
		}
	}
	info.Platform = "Win32NT"

	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Cryptography`, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		logging.Debug("Cannot open cryptography key", "error", err)
		return
	}
	defer k.Close()
	if guid, _, err := k.GetStringValue("MachineGuid"); err == nil {
		info.MachineGUID = guid
	}
}
