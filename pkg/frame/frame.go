// Package frame implements the C12.18 packet codec: the fixed
// start/identity/control/sequence/length/payload/CRC layout that every
// request and response is carried in.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/samsamfire/goc1218/pkg/crc"
)

// StartByte is the fixed first byte (STP) of every C12.18 packet.
const StartByte byte = 0xEE

// ToggleBit is bit 0x20 of the control byte, the toggle flag.
const ToggleBit byte = 0x20

// MaxPayloadSize is the largest packet size a session negotiates. Encode
// and Decode do not check payload length against it.
const MaxPayloadSize = 8192

// Frame is a decoded C12.18 packet. Identity is always zero (reserved) and
// is not carried on the decoded value; Encode always writes it as zero.
type Frame struct {
	Control  byte
	Sequence byte
	Payload  []byte
}

// FramingError is raised when the first byte read is not the start byte.
type FramingError struct {
	Got byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("frame: expected start byte 0xEE, got 0x%02X", e.Got)
}

// CRCError is raised when a decoded frame's trailing CRC does not match the
// CRC computed over the bytes that precede it.
type CRCError struct {
	Want, Got uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("frame: CRC mismatch, computed 0x%04X got 0x%04X", e.Want, e.Got)
}

// Encode builds the on-wire bytes for a packet carrying payload, with the
// given control byte (toggle bit already applied by the caller) and
// sequence byte (remaining packets after this one, zero if last).
func Encode(control, sequence byte, payload []byte) []byte {
	buf := make([]byte, 0, 8+len(payload))
	buf = append(buf, StartByte, 0x00, control, sequence)
	var lengthField [2]byte
	binary.BigEndian.PutUint16(lengthField[:], uint16(len(payload)))
	buf = append(buf, lengthField[:]...)
	buf = append(buf, payload...)
	sum := crc.Compute(buf)
	buf = append(buf, byte(sum>>8), byte(sum))
	return buf
}

// Decode reads exactly one packet from r. If the first byte is not the
// start byte, it returns a *FramingError having consumed only that byte;
// callers (the session engine) account it as a failed attempt and decide
// whether to retry. If the CRC does not validate, it returns a *CRCError
// having consumed the whole packet.
func Decode(r io.Reader) (Frame, error) {
	var start [1]byte
	if _, err := io.ReadFull(r, start[:]); err != nil {
		return Frame{}, err
	}
	if start[0] != StartByte {
		return Frame{}, &FramingError{Got: start[0]}
	}

	header := make([]byte, 3) // identity, control, sequence
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}

	lengthField := make([]byte, 2)
	if _, err := io.ReadFull(r, lengthField); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint16(lengthField)

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	crcField := make([]byte, 2)
	if _, err := io.ReadFull(r, crcField); err != nil {
		return Frame{}, err
	}
	gotCRC := binary.BigEndian.Uint16(crcField)

	preimage := make([]byte, 0, 6+len(payload))
	preimage = append(preimage, start[0])
	preimage = append(preimage, header...)
	preimage = append(preimage, lengthField...)
	preimage = append(preimage, payload...)
	wantCRC := crc.Compute(preimage)

	if wantCRC != gotCRC {
		return Frame{}, &CRCError{Want: wantCRC, Got: gotCRC}
	}

	return Frame{Control: header[1], Sequence: header[2], Payload: payload}, nil
}
