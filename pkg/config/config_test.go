package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtsoft/up2date/pkg/signature"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "Config.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.CheckSignature)
	assert.Equal(t, signature.TrustedCertificate, cfg.Level())
	assert.NotEmpty(t, cfg.DownloadPath)
	assert.Equal(t, 60, cfg.RevocationTimeoutSeconds)
}

func TestLoadConfig_FileOverridesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
CheckSignature: false
SignatureVerificationLevel: SignedByWhitelistedCertificate
DownloadPath: /var/up2date/downloads
LogPath: /var/up2date/logs
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.CheckSignature)
	assert.Equal(t, signature.WhitelistedCertificate, cfg.Level())
	assert.Equal(t, "/var/up2date/downloads", cfg.DownloadPath)
	assert.Equal(t, filepath.Join("/var/up2date/logs", "Installs"), cfg.InstallLogPath)
	assert.NotEmpty(t, cfg.StatePath)
	assert.Equal(t, []string{".msi", ".nupkg"}, cfg.PackageExtensionFilterList)
}

func TestLoadConfig_OmittedBoolKeepsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("LogLevel: DEBUG\n"), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.CheckSignature)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("CheckSignature: [oops"), 0644))
	_, err := LoadConfig(bad)
	assert.Error(t, err)

	level := filepath.Join(dir, "level.yaml")
	require.NoError(t, os.WriteFile(level, []byte("SignatureVerificationLevel: Paranoid\n"), 0644))
	_, err = LoadConfig(level)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "Config.yaml")
	cfg := GetDefaultConfig()
	cfg.DefaultChocoSources = "https://feed.example/v2"
	require.NoError(t, SaveConfig(path, cfg))

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, "https://feed.example/v2", m.DefaultSources())
}

func TestManager_UpdatePersistsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Config.yaml")
	m := NewManagerFrom(path, GetDefaultConfig())

	require.NoError(t, m.Update(func(c *Configuration) {
		c.CheckSignature = false
		c.SignatureVerificationLevel = "Any"
		c.PackageExtensionFilterList = []string{"MSI", " .nupkg "}
	}))
	assert.False(t, m.CheckSignature())
	assert.Equal(t, signature.AnyCertificate, m.SignatureVerificationLevel())
	assert.Equal(t, []string{".msi", ".nupkg"}, m.AllowedExtensions())

	err := m.Update(func(c *Configuration) { c.SignatureVerificationLevel = "nonsense" })
	assert.Error(t, err)
	assert.Equal(t, signature.AnyCertificate, m.SignatureVerificationLevel())

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.False(t, reloaded.CheckSignature())
}

func TestManager_ReloadKeepsOldOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Config.yaml")
	cfg := GetDefaultConfig()
	cfg.DownloadPath = "/first"
	require.NoError(t, SaveConfig(path, cfg))

	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("DownloadPath: [broken"), 0644))
	assert.Error(t, m.Reload())
	assert.Equal(t, "/first", m.DownloadLocation())

	cfg.DownloadPath = "/second"
	require.NoError(t, SaveConfig(path, cfg))
	require.NoError(t, m.Reload())
	assert.Equal(t, "/second", m.DownloadLocation())
}

func TestConfigReturnsCopy(t *testing.T) {
	m := NewManagerFrom("", GetDefaultConfig())
	c := m.Config()
	c.PackageExtensionFilterList[0] = ".exe"
	assert.Equal(t, ".msi", m.Config().PackageExtensionFilterList[0])
}
