// Package procedure implements the C12.19 procedure layer: initiating a
// procedure by writing table 7, reading its result from table 8, and
// correlating the two via the packed table-ID-B bitfield and a random
// sequence number.
package procedure

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/samsamfire/goc1218/pkg/protoerr"
)

const (
	table7ProcedureInitiate = 7
	table8ProcedureResult   = 8

	seqMin = 2
	seqMax = 254
)

// ResultCode is the 4th byte of a procedure response: the C12.19
// procedure result enumeration.
type ResultCode byte

const (
	Completed           ResultCode = 0
	NotFullyCompleted   ResultCode = 1
	InvalidParameters   ResultCode = 2
	DeviceSetupConflict ResultCode = 3
	IgnoredDeviceBusy   ResultCode = 4
	Timeout             ResultCode = 5
	NotAuthorized       ResultCode = 6
	NotImplemented      ResultCode = 7
)

// tableWriter and tableReader are the two session-layer operations the
// procedure layer needs; *service.Services satisfies both.
type tableWriter interface {
	FullWrite(tableID uint16, data []byte) error
}
type tableReader interface {
	FullRead(tableID uint16) ([]byte, error)
}

// Runner issues procedures against table 7/8.
type Runner struct {
	writer tableWriter
	reader tableReader
	endian binary.ByteOrder
}

// New returns a procedure Runner over services. endianLittle selects the
// byte order used to pack the table-ID-B bitfield, matching the session's
// negotiated C12.19 endianness.
func New(services interface {
	tableWriter
	tableReader
}, endianLittle bool) *Runner {
	order := binary.ByteOrder(binary.LittleEndian)
	if !endianLittle {
		order = binary.BigEndian
	}
	return &Runner{writer: services, reader: services, endian: order}
}

// packTableIDB builds the 16-bit bitfield: process number in bits 0..10,
// manufacturer-vs-standard at bit 11, the 4-bit selector ORed in at bit 4.
func packTableIDB(processNumber uint16, mfg bool, selector uint8) uint16 {
	value := processNumber & 0x07FF
	if mfg {
		value |= 1 << 11
	}
	value |= uint16(selector&0x0F) << 4
	return value
}

func randomSequence() (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(seqMax-seqMin+1))
	if err != nil {
		return 0, err
	}
	return byte(n.Int64() + seqMin), nil
}

// Run initiates a procedure and waits for its result:
//  1. draw a random sequence number in [2,254]
//  2. write the procedure-init record to table 7
//  3. read table 8
//  4. verify the response's first 3 bytes match the request's
//  5. return the result code and any trailing bytes
func (r *Runner) Run(processNumber uint16, mfg bool, selector uint8, params []byte) (ResultCode, []byte, error) {
	seq, err := randomSequence()
	if err != nil {
		return 0, nil, err
	}

	tableIDB := packTableIDB(processNumber, mfg, selector)
	prefix := make([]byte, 3)
	r.endian.PutUint16(prefix[0:2], tableIDB)
	prefix[2] = seq

	request := make([]byte, 0, 3+len(params))
	request = append(request, prefix...)
	request = append(request, params...)

	if err := r.writer.FullWrite(table7ProcedureInitiate, request); err != nil {
		return 0, nil, err
	}

	response, err := r.reader.FullRead(table8ProcedureResult)
	if err != nil {
		return 0, nil, err
	}
	if len(response) < 4 {
		return 0, nil, &protoerr.ProcedureError{Detail: "response shorter than result record"}
	}
	if response[0] != prefix[0] || response[1] != prefix[1] || response[2] != prefix[2] {
		return 0, nil, &protoerr.ProcedureError{Detail: "response does not correlate with request"}
	}

	result := ResultCode(response[3])
	trailing := response[4:]
	if len(trailing) == 0 {
		return result, nil, nil
	}
	return result, append([]byte(nil), trailing...), nil
}
