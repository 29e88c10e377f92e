// Command c1218client is a minimal operator CLI over the C12.18/C12.19
// client facade: open a port, start a session, optionally log in, then run
// exactly one of read/write against a table id or procedure against a
// procedure number.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/samsamfire/goc1218/pkg/client"
	"github.com/samsamfire/goc1218/pkg/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to an INI config file (optional, overrides defaults)")
		device     = flag.String("device", "", "serial device path, e.g. /dev/ttyUSB0 (overrides config)")
		username   = flag.String("user", "", "username for Logon (empty skips login)")
		password   = flag.String("password", "", "password for Security (optional, empty skips)")
		op         = flag.String("op", "read", "operation: read | write | procedure")
		table      = flag.Uint("table", 0, "table id for read/write")
		offset     = flag.Uint("offset", 0, "byte offset for a partial read (with -count) or write (0 = full write)")
		count      = flag.Uint("count", 0, "byte count for a partial read")
		data       = flag.String("data", "", "hex-encoded data for write")
		procNumber = flag.Uint("proc", 0, "procedure number to run")
		mfg        = flag.Bool("mfg", false, "procedure is manufacturer-specific rather than standard")
		params     = flag.String("params", "", "hex-encoded procedure parameters")
		verbose    = flag.Bool("v", false, "verbose wire-level logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	settings := config.Default()
	if *configPath != "" {
		var err error
		settings, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *device != "" {
		settings.Device = *device
	}
	if settings.Device == "" {
		fmt.Fprintln(os.Stderr, "c1218client: -device is required (or set [serial] device in -config)")
		os.Exit(2)
	}

	c, err := client.Open(settings.Device, settings.Serial, settings.Session)
	if err != nil {
		log.Fatalf("open %s: %v", settings.Device, err)
	}
	defer c.Close()

	info, err := c.Start()
	if err != nil {
		log.Fatalf("start session: %v", err)
	}
	log.Infof("session started, standard version %d revision %d", info.StandardVersion, info.StandardRevision)

	if *username != "" {
		if err := c.Login(settings.UserID, *username, *password); err != nil {
			log.Fatalf("login as %s: %v", *username, err)
		}
		log.Infof("logged in as %s", *username)
	}

	switch strings.ToLower(*op) {
	case "read":
		var (
			payload []byte
			readErr error
		)
		if *count > 0 {
			payload, readErr = c.GetTablePartial(uint16(*table), uint32(*offset), uint16(*count))
		} else {
			payload, readErr = c.GetTable(uint16(*table))
		}
		if readErr != nil {
			log.Fatalf("read table %d: %v", *table, readErr)
		}
		fmt.Println(hex.EncodeToString(payload))

	case "write":
		raw, decodeErr := hex.DecodeString(*data)
		if decodeErr != nil {
			log.Fatalf("decode -data: %v", decodeErr)
		}
		var writeErr error
		if *offset > 0 {
			writeErr = c.SetTablePartial(uint16(*table), uint32(*offset), raw)
		} else {
			writeErr = c.SetTable(uint16(*table), raw)
		}
		if writeErr != nil {
			log.Fatalf("write table %d: %v", *table, writeErr)
		}
		log.Infof("wrote %d bytes to table %d", len(raw), *table)

	case "procedure":
		raw, decodeErr := hex.DecodeString(*params)
		if decodeErr != nil {
			log.Fatalf("decode -params: %v", decodeErr)
		}
		result, response, procErr := c.RunProcedure(uint16(*procNumber), *mfg, 0, raw)
		if procErr != nil {
			log.Fatalf("procedure %d: %v", *procNumber, procErr)
		}
		log.Infof("procedure %d result %d response %s", *procNumber, result, hex.EncodeToString(response))

	default:
		fmt.Fprintf(os.Stderr, "c1218client: unknown -op %q\n", *op)
		os.Exit(2)
	}

	if err := c.Stop(); err != nil {
		log.Warnf("stop: %v", err)
	}
}
