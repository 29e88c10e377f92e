// Package serialchannel adapts a real serial port to the byte-oriented
// duplex channel the C12.18 session engine consumes. It owns no framing
// logic; it only applies port settings and exposes read/write.
package serialchannel

import (
	"fmt"
	"os"
	"time"

	serial "go.bug.st/serial"
)

// Settings holds the serial port configuration the session bootstraps
// with. Defaults are 9600 8-N-1, the usual optical probe setup.
type Settings struct {
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	Timeout  time.Duration
}

// DefaultSettings returns the 9600 8-N-1 default.
func DefaultSettings() Settings {
	return Settings{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		Timeout:  2 * time.Second,
	}
}

// Channel wraps a go.bug.st/serial port.
type Channel struct {
	port serial.Port
}

// Open opens device with the given settings, then asserts RTS and
// de-asserts DTR, the line state Type-2 optical probes expect.
func Open(device string, settings Settings) (*Channel, error) {
	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
		Parity:   settings.Parity,
		StopBits: settings.StopBits,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serialchannel: open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(settings.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialchannel: set timeout: %w", err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialchannel: assert RTS: %w", err)
	}
	if err := port.SetDTR(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialchannel: de-assert DTR: %w", err)
	}
	return &Channel{port: port}, nil
}

// Read satisfies io.Reader. The port returns a zero-byte read when the
// configured timeout expires; that is surfaced as ErrDeadlineExceeded so
// io.ReadFull callers do not spin on empty reads.
func (c *Channel) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

// Write satisfies io.Writer.
func (c *Channel) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

// Close releases the underlying port.
func (c *Channel) Close() error {
	return c.port.Close()
}
