// pkg/config/config.go - configuration settings for the up2date agent.

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rtsoft/up2date/pkg/signature"
)

// PolicyRegistryPath is the HKLM key holding machine policy when no YAML file exists.
const PolicyRegistryPath = `SOFTWARE\RTSoft\RITMS\UP2DATE`

// ErrNoPolicy means no registry policy is available on this machine.
var ErrNoPolicy = errors.New("no registry policy")

// BaseDir is the agent's data root, C:\ProgramData\Up2date on a default install.
func BaseDir() string {
	programData := os.Getenv("ProgramData")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	return filepath.Join(programData, "Up2date")
}

// DefaultConfigPath returns the YAML config location.
func DefaultConfigPath() string {
	return filepath.Join(BaseDir(), "Config.yaml")
}

// Configuration holds the configurable options for the agent in YAML format
type Configuration struct {
	CheckSignature             bool     `yaml:"CheckSignature"`
	SignatureVerificationLevel string   `yaml:"SignatureVerificationLevel"`
	DefaultChocoSources        string   `yaml:"DefaultChocoSources"`
	PackageExtensionFilterList []string `yaml:"PackageExtensionFilterList"`

	DownloadPath          string `yaml:"DownloadPath"`
	LogPath               string `yaml:"LogPath"`
	InstallLogPath        string `yaml:"InstallLogPath"`
	WhitelistPath         string `yaml:"WhitelistPath"`
	DeviceCertificatePath string `yaml:"DeviceCertificatePath"`
	StatePath             string `yaml:"StatePath"`
	ActionsPath           string `yaml:"ActionsPath"`

	LogLevel   string `yaml:"LogLevel"`
	JSONLogs   bool   `yaml:"JSONLogs"`
	YAMLLogs   bool   `yaml:"YAMLLogs"`
	LogConsole bool   `yaml:"LogConsole"`

	MetricsAddress           string `yaml:"MetricsAddress"`
	RevocationTimeoutSeconds int    `yaml:"RevocationTimeoutSeconds"`

	ProvisioningURL         string `yaml:"ProvisioningURL"`
	CertificateSerialNumber string `yaml:"CertificateSerialNumber"`
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	base := BaseDir()
	return &Configuration{
		CheckSignature:             true,
		SignatureVerificationLevel: signature.TrustedCertificate.String(),
		DefaultChocoSources:        "https://community.chocolatey.org/api/v2/",
		PackageExtensionFilterList: []string{".msi", ".nupkg"},
		DownloadPath:               filepath.Join(base, "Downloads"),
		LogPath:                    filepath.Join(base, "Logs"),
		InstallLogPath:             filepath.Join(base, "Logs", "Installs"),
		WhitelistPath:              filepath.Join(base, "Whitelist"),
		DeviceCertificatePath:      filepath.Join(base, "Certificates", "device.pem"),
		StatePath:                  filepath.Join(base, "State", "marker.yaml"),
		ActionsPath:                filepath.Join(base, "Actions"),
		LogLevel:                   "INFO",
		JSONLogs:                   true,
		MetricsAddress:             "127.0.0.1:9477",
		RevocationTimeoutSeconds:   60,
	}
}

// applyDefaults fills empty values from the defaults.
func (c *Configuration) applyDefaults() {
	d := GetDefaultConfig()
	setIfEmpty := func(target *string, value string) {
		if strings.TrimSpace(*target) == "" {
			*target = value
		}
	}
	setIfEmpty(&c.SignatureVerificationLevel, d.SignatureVerificationLevel)
	setIfEmpty(&c.DownloadPath, d.DownloadPath)
	setIfEmpty(&c.LogPath, d.LogPath)
	setIfEmpty(&c.InstallLogPath, filepath.Join(c.LogPath, "Installs"))
	setIfEmpty(&c.WhitelistPath, d.WhitelistPath)
	setIfEmpty(&c.DeviceCertificatePath, d.DeviceCertificatePath)
	setIfEmpty(&c.StatePath, d.StatePath)
	setIfEmpty(&c.ActionsPath, d.ActionsPath)
	setIfEmpty(&c.LogLevel, d.LogLevel)
	if c.RevocationTimeoutSeconds <= 0 {
		c.RevocationTimeoutSeconds = d.RevocationTimeoutSeconds
	}
}

// Validate checks values that would otherwise fail later at use.
func (c *Configuration) Validate() error {
	if _, err := signature.ParseLevel(c.SignatureVerificationLevel); err != nil {
		return err
	}
	if c.DownloadPath == "" {
		return fmt.Errorf("DownloadPath is empty")
	}
	return nil
}

// Level returns the parsed signature verification level, falling back to Trusted.
func (c *Configuration) Level() signature.Level {
	level, err := signature.ParseLevel(c.SignatureVerificationLevel)
	if err != nil {
		return signature.TrustedCertificate
	}
	return level
}

// LoadConfig loads the configuration from a YAML file.
// If the YAML file doesn't exist, it falls back to registry policy values and then to defaults.
func LoadConfig(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Configuration file does not exist: %s", path)
		cfg := GetDefaultConfig()
		if perr := loadPolicy(cfg); perr == nil {
			log.Printf("Loaded configuration from registry policy: %s", PolicyRegistryPath)
		} else if !errors.Is(perr, ErrNoPolicy) {
			log.Printf("Failed to load registry policy: %v", perr)
		}
		cfg.applyDefaults()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	// Keys missing from the file keep their defaults; the install log dir follows LogPath.
	cfg := GetDefaultConfig()
	cfg.InstallLogPath = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, cfg *Configuration) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing configuration file: %w", err)
	}
	return nil
}

// EnsureDirectories creates the directories the agent writes to.
func (c *Configuration) EnsureDirectories() error {
	for _, dir := range []string{c.DownloadPath, c.LogPath, c.InstallLogPath, c.WhitelistPath, filepath.Dir(c.DeviceCertificatePath), filepath.Dir(c.StatePath), c.ActionsPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
