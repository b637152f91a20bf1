//go:build windows

package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// loadPolicy overlays values found under HKLM\SOFTWARE\RTSoft\RITMS\UP2DATE.
func loadPolicy(cfg *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, PolicyRegistryPath, registry.READ)
	if errors.Is(err, registry.ErrNotExist) {
		return ErrNoPolicy
	}
	if err != nil {
		return fmt.Errorf("failed to open policy key %s: %w", PolicyRegistryPath, err)
	}
	defer key.Close()

	loadString(key, "SignatureVerificationLevel", &cfg.SignatureVerificationLevel)
	loadString(key, "DefaultChocoSources", &cfg.DefaultChocoSources)
	loadString(key, "DownloadPath", &cfg.DownloadPath)
	loadString(key, "LogPath", &cfg.LogPath)
	loadString(key, "LogLevel", &cfg.LogLevel)
	loadString(key, "ProvisioningURL", &cfg.ProvisioningURL)
	loadString(key, "Certificate", &cfg.CertificateSerialNumber)
	loadBool(key, "CheckSignature", &cfg.CheckSignature)
	loadInt(key, "RevocationTimeoutSeconds", &cfg.RevocationTimeoutSeconds)

	if vals, _, err := key.GetStringsValue("PackageExtensionFilterList"); err == nil && len(vals) > 0 {
		cfg.PackageExtensionFilterList = vals
	} else if val, _, err := key.GetStringValue("PackageExtensionFilterList"); err == nil && val != "" {
		cfg.PackageExtensionFilterList = strings.Split(val, ":")
	}
	return nil
}

func loadString(key registry.Key, name string, target *string) {
	if val, _, err := key.GetStringValue(name); err == nil && val != "" {
		*target = val
		log.Printf("Policy: Loaded %s = %s", name, val)
	}
}

// loadBool accepts "true"/"false", "1"/"0" strings and DWORD 1/0.
func loadBool(key registry.Key, name string, target *bool) {
	if val, _, err := key.GetStringValue(name); err == nil {
		if parsed, perr := strconv.ParseBool(val); perr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(name); err == nil {
		*target = val != 0
	}
}

func loadInt(key registry.Key, name string, target *int) {
	if val, _, err := key.GetStringValue(name); err == nil {
		if parsed, perr := strconv.Atoi(val); perr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(name); err == nil {
		*target = int(val)
	}
}
