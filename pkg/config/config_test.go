package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIni(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c1218.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesOverridesOverDefaults(t *testing.T) {
	path := writeIni(t, `
[serial]
device = /dev/ttyUSB3
baud = 19200
timeout = 5s

[session]
pktsize = 1024
nbrpkts = 4
toggle-control = false
cache-enabled = true
cache-whitelist = 0, 1, 5
userid = 42
`)
	settings, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", settings.Device)
	assert.Equal(t, 19200, settings.Serial.BaudRate)
	assert.EqualValues(t, 1024, settings.Session.PacketSize)
	assert.EqualValues(t, 4, settings.Session.PacketCount)
	assert.False(t, settings.Session.ToggleControl)
	assert.True(t, settings.Session.CacheEnabled)
	assert.Equal(t, []uint16{0, 1, 5}, settings.Session.CacheWhitelist)
	assert.EqualValues(t, 42, settings.UserID)
}

func TestLoadMissingKeysKeepDefaults(t *testing.T) {
	path := writeIni(t, `
[serial]
device = /dev/ttyUSB0
`)
	settings, err := Load(path)
	assert.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Session.PacketSize, settings.Session.PacketSize)
	assert.Equal(t, d.Session.PacketCount, settings.Session.PacketCount)
	assert.Equal(t, d.Serial.BaudRate, settings.Serial.BaudRate)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	assert.Error(t, err)
}
