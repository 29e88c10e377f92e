// Package session implements the C12.18 session engine: toggle-bit
// discipline, send-with-retry, receive-with-reassembly, and the
// Closed/Identified/Negotiated/LoggedIn/Terminated state machine. It knows
// nothing about what a request payload means (that is the service layer's
// job); it only gets a payload onto the wire and a response payload back.
package session

import (
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/samsamfire/goc1218/pkg/frame"
	"github.com/samsamfire/goc1218/pkg/protoerr"
)

// State is one of the five C12.18 session lifecycle states.
type State uint8

const (
	Closed State = iota
	Identified
	Negotiated
	LoggedIn
	Terminated
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Identified:
		return "identified"
	case Negotiated:
		return "negotiated"
	case LoggedIn:
		return "logged-in"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	ack  byte = 0x06
	nack byte = 0x15

	maxAttempts   = 3
	nackRetryWait = 100 * time.Millisecond

	defaultPacketSize  = 512
	minPacketSize      = 64
	maxPacketSize      = 8192
	defaultPacketCount = 2
	minPacketCount     = 1
	maxPacketCount     = 255
)

// Channel is the byte-oriented duplex medium the session is built on. A
// *serialchannel.Channel or a test double both satisfy it.
type Channel interface {
	io.Reader
	io.Writer
}

// Session is the single, synchronous C12.18 session bound to one channel.
// It is not safe for concurrent use: the protocol is half-duplex with at
// most one outstanding request, and the caller is expected to serialize.
type Session struct {
	channel Channel
	state   State
	toggle  bool

	toggleControl bool
	packetSize    uint16
	packetCount   uint8
	littleEndian  bool

	logger *log.Entry
}

// New returns a Closed session bound to channel, with the default
// negotiated parameters and little-endian C12.19 integers.
func New(channel Channel) *Session {
	return &Session{
		channel:       channel,
		state:         Closed,
		toggleControl: true,
		packetSize:    defaultPacketSize,
		packetCount:   defaultPacketCount,
		littleEndian:  true,
		logger:        log.WithField("component", "session"),
	}
}

func (s *Session) State() State       { return s.state }
func (s *Session) PacketSize() uint16 { return s.packetSize }
func (s *Session) PacketCount() uint8 { return s.packetCount }
func (s *Session) LittleEndian() bool { return s.littleEndian }

func (s *Session) SetEndianness(little bool) { s.littleEndian = little }

// SetToggleControl enables or disables toggle-bit alternation. Some meters
// mishandle the toggle; with control disabled every originated frame
// carries bit 0x20 cleared.
func (s *Session) SetToggleControl(enabled bool) { s.toggleControl = enabled }

// MarkIdentified transitions the session to Identified after a successful
// Identity exchange.
func (s *Session) MarkIdentified() { s.state = Identified }

// MarkNegotiated records the peer-accepted packet size/count and
// transitions to Negotiated after a successful Negotiate exchange. Values
// are clamped into the ranges C12.18 allows.
func (s *Session) MarkNegotiated(packetSize uint16, packetCount uint8) {
	if packetSize < minPacketSize {
		packetSize = minPacketSize
	}
	if packetSize > maxPacketSize {
		packetSize = maxPacketSize
	}
	if packetCount < minPacketCount {
		packetCount = minPacketCount
	}
	if packetCount > maxPacketCount {
		packetCount = maxPacketCount
	}
	s.packetSize = packetSize
	s.packetCount = packetCount
	s.state = Negotiated
}

// MarkLoggedIn transitions the session to LoggedIn after a successful Logon
// (and optional Security) exchange.
func (s *Session) MarkLoggedIn() { s.state = LoggedIn }

// MarkClosed transitions the session back to Closed, e.g. after Logoff or
// Terminate. The toggle bit resets with it, so a restarted session begins
// a fresh toggle sequence.
func (s *Session) MarkClosed() {
	s.state = Closed
	s.toggle = false
}

// MarkTerminated transitions to Terminated; used when the caller tears the
// session down on close, whether or not its Terminate round trip succeeded.
func (s *Session) MarkTerminated() {
	s.state = Terminated
	s.toggle = false
}

// Request performs one full originated service exchange: it flips the
// toggle bit, frames payload with controlFlags merged with the toggle,
// sends with retry, and returns the reassembled response payload. Any
// failure is a *protoerr.IOError and leaves the session unusable; the
// caller must treat it as Closed and restart from Identity.
func (s *Session) Request(controlFlags byte, payload []byte) ([]byte, error) {
	control := s.nextControlByte(controlFlags)
	if err := s.sendWithRetry(control, payload); err != nil {
		return nil, err
	}
	response, err := s.receiveWithReassembly()
	if err != nil {
		return nil, err
	}
	return response, nil
}

// nextControlByte flips the session toggle and folds it into flags: clear
// bit 0x20, then OR it back in if the new toggle is true. With toggle
// control disabled the bit stays cleared.
func (s *Session) nextControlByte(flags byte) byte {
	control := flags &^ frame.ToggleBit
	if !s.toggleControl {
		return control
	}
	s.toggle = !s.toggle
	if s.toggle {
		control |= frame.ToggleBit
	}
	return control
}

// sendWithRetry transmits the frame and waits for the single-byte
// acknowledgement: up to 3 total attempts of the same frame, toggle
// unchanged across retries. NACK or a malformed/empty ack byte both
// trigger a retry after ~100ms.
func (s *Session) sendWithRetry(control byte, payload []byte) error {
	encoded := frame.Encode(control, 0, payload)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if _, err := s.channel.Write(encoded); err != nil {
			return &protoerr.IOError{Cause: err}
		}
		s.logger.Debugf("[TX] attempt %d/%d control=0x%02X %d bytes", attempt, maxAttempts, control, len(payload))

		reply, err := s.readAckByte()
		switch {
		case err == nil && reply == ack:
			return nil
		case err == nil && reply == nack:
			s.logger.Debugf("[RX] NACK, retrying")
			lastErr = errors.New("peer replied NACK")
		case err == nil:
			s.logger.Warnf("[RX] unexpected ack byte 0x%02X", reply)
			lastErr = errors.New("unexpected acknowledgement byte")
		default:
			s.logger.Debugf("[RX] no acknowledgement: %v", err)
			lastErr = err
		}
		time.Sleep(nackRetryWait)
	}
	return &protoerr.IOError{Cause: lastErr}
}

func (s *Session) readAckByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(s.channel, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// receiveWithReassembly decodes frames until one with a zero sequence
// byte arrives, concatenating payloads in arrival order. Each individual
// frame gets up to 3 decode attempts; ACK is written on every successful
// decode.
func (s *Session) receiveWithReassembly() ([]byte, error) {
	var payload []byte
	for {
		f, err := s.decodeFrameWithRetry()
		if err != nil {
			return nil, err
		}
		payload = append(payload, f.Payload...)
		if f.Sequence == 0 {
			return payload, nil
		}
	}
}

func (s *Session) decodeFrameWithRetry() (frame.Frame, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		f, err := frame.Decode(s.channel)
		if err == nil {
			if werr := s.writeAck(); werr != nil {
				return frame.Frame{}, &protoerr.IOError{Cause: werr}
			}
			return f, nil
		}

		// A CRC mismatch gets a NACK so the peer retransmits. A bad
		// start byte is just discarded; the peer is still mid-frame and
		// a NACK now would desynchronize the exchange further.
		var framingErr *frame.FramingError
		var crcErr *frame.CRCError
		switch {
		case errors.As(err, &crcErr):
			s.logger.Debugf("[RX] CRC mismatch, NACKing: %v", err)
			if werr := s.writeNack(); werr != nil {
				return frame.Frame{}, &protoerr.IOError{Cause: werr}
			}
			lastErr = err
		case errors.As(err, &framingErr):
			s.logger.Debugf("[RX] bad start byte: %v", err)
			lastErr = err
		default:
			// Channel read failure or timeout, not recoverable by
			// retrying the decode.
			return frame.Frame{}, &protoerr.IOError{Cause: err}
		}
	}
	return frame.Frame{}, &protoerr.IOError{Cause: lastErr}
}

func (s *Session) writeAck() error {
	_, err := s.channel.Write([]byte{ack})
	return err
}

func (s *Session) writeNack() error {
	_, err := s.channel.Write([]byte{nack})
	return err
}
