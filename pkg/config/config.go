// Package config loads serial port and C12.18 session defaults from an
// INI file: gopkg.in/ini.v1 parses the file, and a thin accessor layer
// pulls typed values out of named sections.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/samsamfire/goc1218/pkg/client"
	"github.com/samsamfire/goc1218/pkg/serialchannel"
	"github.com/samsamfire/goc1218/pkg/service"
)

// Settings is the parsed, typed form of a config INI file: a [serial]
// section for the port and a [session] section for the C12.18 session
// parameters.
type Settings struct {
	Serial  serialchannel.Settings
	Device  string
	Session client.Options
	UserID  uint16
}

// Default returns the built-in defaults, independent of any file on disk:
// 9600 8-N-1, 512-byte/2-packet negotiation, cache disabled.
func Default() *Settings {
	return &Settings{
		Serial:  serialchannel.DefaultSettings(),
		Device:  "",
		Session: client.DefaultOptions(),
		UserID:  0,
	}
}

// Load reads path as an INI file with sections:
//
//	[serial]
//	device   = /dev/ttyUSB0
//	baud     = 9600
//	timeout  = 2s
//
//	[session]
//	pktsize         = 512
//	nbrpkts         = 2
//	toggle-control  = true
//	cache-enabled   = false
//	cache-whitelist = 0,1
//	userid          = 0
//
// Any key that is absent keeps its Default() value; Load never panics on a
// partially-specified file.
func Load(path string) (*Settings, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	settings := Default()

	serialSec := file.Section("serial")
	settings.Device = serialSec.Key("device").MustString(settings.Device)
	settings.Serial.BaudRate = serialSec.Key("baud").MustInt(settings.Serial.BaudRate)
	if raw := serialSec.Key("timeout").String(); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: serial.timeout: %w", err)
		}
		settings.Serial.Timeout = d
	}

	sessionSec := file.Section("session")
	settings.Session.PacketSize = uint16(sessionSec.Key("pktsize").MustUint(uint(settings.Session.PacketSize)))
	settings.Session.PacketCount = uint8(sessionSec.Key("nbrpkts").MustUint(uint(settings.Session.PacketCount)))
	settings.Session.CacheEnabled = sessionSec.Key("cache-enabled").MustBool(settings.Session.CacheEnabled)
	settings.Session.ToggleControl = sessionSec.Key("toggle-control").MustBool(settings.Session.ToggleControl)
	settings.UserID = uint16(sessionSec.Key("userid").MustUint(uint(settings.UserID)))

	if raw := sessionSec.Key("cache-whitelist").String(); raw != "" {
		whitelist, err := parseUintList(raw)
		if err != nil {
			return nil, fmt.Errorf("config: session.cache-whitelist: %w", err)
		}
		settings.Session.CacheWhitelist = whitelist
	}

	if raw := sessionSec.Key("baud-code").String(); raw != "" {
		code, err := strconv.ParseUint(raw, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("config: session.baud-code: %w", err)
		}
		settings.Session.Baud = service.BaudCode(code)
	}

	return settings, nil
}

func parseUintList(raw string) ([]uint16, error) {
	fields := strings.Split(raw, ",")
	out := make([]uint16, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(v))
	}
	return out, nil
}
