package sysinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttributesOrder(t *testing.T) {
	info := Info{MachineName: "WS-01", Is64Bit: true, Platform: "Win32NT", Version: "10.0.19045", Caption: "Windows 10 Pro", MachineGUID: "abc"}
	assert.Equal(t, []Attribute{
		{"client", ClientType},
		{"computer", "WS-01"},
		{"platform", "Win32NT"},
		{"OS type", "64-bit"},
		{"version", "10.0.19045"},
		{"service pack", ""},
		{"OS", "Windows 10 Pro"},
		{"machine guid", "abc"},
	}, info.Attributes())

	assert.Equal(t, "32-bit", Info{}.Attributes()[3].Value)
	assert.Len(t, Info{}.Attributes(), 6)
}

func TestRetrieve(t *testing.T) {
	info := Retrieve(context.Background())
	assert.NotEmpty(t, info.MachineName)
	assert.NotEmpty(t, info.Platform)
}

func TestIs64Bit(t *testing.T) {
	assert.True(t, is64Bit("x86_64"))
	assert.True(t, is64Bit("ARM64"))
	assert.False(t, is64Bit("i386"))
	assert.False(t, is64Bit(""))
}
