package autostart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderUnit(t *testing.T) {
	unit, err := renderUnit("/usr/local/bin/vaultsync")
	require.NoError(t, err)
	assert.Contains(t, string(unit), "[Service]\nExecStart=/usr/local/bin/vaultsync watch\n")
	assert.Contains(t, string(unit), "WantedBy=default.target")
}

func TestRenderPlist(t *testing.T) {
	plist, err := renderPlist("/Applications/vaultsync")
	require.NoError(t, err)
	assert.Contains(t, string(plist), "<string>com.vaultsync</string>")
	assert.Contains(t, string(plist), "<string>/Applications/vaultsync</string>\n\t\t<string>watch</string>")
}

func TestNew(t *testing.T) {
	assert.NotNil(t, New())
}
