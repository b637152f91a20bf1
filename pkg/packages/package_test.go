package packages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func intPtr(v int) *int { return &v }

func TestStatusParseRoundTrip(t *testing.T) {
	for s := Unavailable; s <= Failed; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	got, err := ParseStatus("restartneeded")
	require.NoError(t, err)
	assert.Equal(t, RestartNeeded, got)

	_, err = ParseStatus("Exploded")
	assert.Error(t, err)
	assert.Equal(t, "Status(99)", Status(99).String())
}

func TestResultMapping(t *testing.T) {
	assert.Equal(t, "RestartNeeded", RestartNeededResult.String())
	assert.True(t, Success.IsSuccess())
	assert.True(t, RestartNeededResult.IsSuccess())
	assert.False(t, ChocoNotInstalled.IsSuccess())

	assert.Equal(t, Installed, Success.Status())
	assert.Equal(t, RestartNeeded, RestartNeededResult.Status())
	assert.Equal(t, Failed, SignatureVerificationFailed.Status())

	r, err := ParseResult("signatureverificationfailed")
	require.NoError(t, err)
	assert.Equal(t, SignatureVerificationFailed, r)
}

func TestPackageYAMLUsesNames(t *testing.T) {
	p := Package{Filepath: "/d/app.msi", Status: SuggestedToInstall, ErrorCode: CannotStartInstaller}
	data, err := yaml.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status: SuggestedToInstall")
	assert.Contains(t, string(data), "error_code: CannotStartInstaller")

	var back Package
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, p, back)
}

func TestCloneIsDeep(t *testing.T) {
	p := Package{Filepath: "/d/app.msi", Version: intPtr(1), EstimatedSizeKB: intPtr(10)}
	c := p.Clone()
	*c.Version = 2
	*c.EstimatedSizeKB = 20
	assert.Equal(t, 1, *p.Version)
	assert.Equal(t, 10, *p.EstimatedSizeKB)
}

func TestMetadataOverlayAndClear(t *testing.T) {
	p := Package{Filepath: "/d/App.MSI", DisplayVersion: "1.0", FileVersion: "1.0", Publisher: "RTSoft"}
	p.ApplyMetadata(Metadata{DisplayName: "App", Version: intPtr(0x01000000), InstallDate: "20240101"})

	assert.Equal(t, "App", p.DisplayName)
	assert.Equal(t, "RTSoft", p.Publisher)
	assert.Equal(t, "1.0", p.DisplayVersion)
	require.NotNil(t, p.Version)

	p.ClearMetadata()
	assert.Empty(t, p.DisplayName)
	assert.Empty(t, p.Publisher)
	assert.Nil(t, p.Version)
	assert.Empty(t, p.InstallDate)
	assert.Equal(t, "1.0", p.DisplayVersion)

	assert.Equal(t, ".msi", p.Extension())
	assert.Equal(t, "App.MSI", p.FileName())
}

func TestClearMetadataRestoresFileVersion(t *testing.T) {
	var p Package
	p.ApplyIdentity(Identity{ProductCode: "{APP}", ProductName: "App", DisplayVersion: "1.0.0"})
	p.ApplyMetadata(Metadata{DisplayVersion: "2.5.0", Publisher: "RTSoft"})
	assert.Equal(t, "2.5.0", p.DisplayVersion)

	p.ClearMetadata()
	assert.Equal(t, "1.0.0", p.DisplayVersion)
	assert.Empty(t, p.Publisher)
}

func TestSamePath(t *testing.T) {
	assert.True(t, SamePath("/d/App.msi", "/d/app.MSI"))
	assert.True(t, SamePath("/d/./app.msi", "/d/app.msi"))
	assert.False(t, SamePath("/d/app.msi", "/d/other.msi"))
}
