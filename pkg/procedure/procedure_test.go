package procedure

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samsamfire/goc1218/pkg/protoerr"
)

type stubTables struct {
	lastWriteTable uint16
	lastWriteData  []byte
	readResponse   []byte
	readErr        error
}

func (s *stubTables) FullWrite(tableID uint16, data []byte) error {
	s.lastWriteTable = tableID
	s.lastWriteData = append([]byte(nil), data...)
	return nil
}

func (s *stubTables) FullRead(tableID uint16) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.readResponse, nil
}

type capturingTables struct {
	*stubTables
	extra []byte
}

func (c *capturingTables) FullWrite(tableID uint16, data []byte) error {
	c.stubTables.FullWrite(tableID, data)
	// Build table 8's response: echo the 3-byte prefix, then the result
	// record the test wants.
	resp := append([]byte(nil), data[:3]...)
	resp = append(resp, c.extra...)
	c.stubTables.readResponse = resp
	return nil
}

func TestPackedPrefixLittleEndian(t *testing.T) {
	stub := &stubTables{}
	wrapped := &capturingTables{stubTables: stub, extra: []byte{byte(Completed)}}
	runner := New(wrapped, true)

	result, trailing, err := runner.Run(9, false, 0, []byte{0x01, 0x02})
	assert.NoError(t, err)
	assert.Equal(t, Completed, result)
	assert.Empty(t, trailing)

	// Request prefix: process number 9, mfg=false, selector=0 -> 0x0009,
	// little-endian -> 09 00.
	assert.Equal(t, byte(0x09), stub.lastWriteData[0])
	assert.Equal(t, byte(0x00), stub.lastWriteData[1])
}

func TestPackedPrefixFields(t *testing.T) {
	var v uint16 = packTableIDB(9, true, 3)
	assert.NotZero(t, v&(1<<11))
	assert.EqualValues(t, 9|3<<4, v&0x07FF)
	assert.EqualValues(t, uint16(9)|1<<11|3<<4, v)
}

func TestBigEndianPacking(t *testing.T) {
	stub := &stubTables{}
	wrapped := &capturingTables{stubTables: stub, extra: []byte{byte(Completed)}}
	runner := New(wrapped, false)
	_, _, err := runner.Run(9, false, 0, nil)
	assert.NoError(t, err)

	var want [2]byte
	binary.BigEndian.PutUint16(want[:], 9)
	assert.Equal(t, want[0], stub.lastWriteData[0])
	assert.Equal(t, want[1], stub.lastWriteData[1])
}

func TestTrailingResponseBytesReturned(t *testing.T) {
	stub := &stubTables{}
	wrapped := &capturingTables{stubTables: stub, extra: []byte{byte(Completed), 0xCA, 0xFE}}
	runner := New(wrapped, true)

	result, trailing, err := runner.Run(9, false, 0, []byte{0x01, 0x02})
	assert.NoError(t, err)
	assert.Equal(t, Completed, result)
	assert.Equal(t, []byte{0xCA, 0xFE}, trailing)
}

func TestMismatchedSequenceRaisesProcedureError(t *testing.T) {
	stub := &stubTables{readResponse: []byte{0xFF, 0xFF, 0xFF, 0x00}}
	runner := New(stub, true)
	_, _, err := runner.Run(9, false, 0, []byte{0x01, 0x02})
	assert.Error(t, err)
	var procErr *protoerr.ProcedureError
	assert.ErrorAs(t, err, &procErr)
}

func TestShortResponseRaisesProcedureError(t *testing.T) {
	stub := &stubTables{readResponse: []byte{0x00, 0x00}}
	runner := New(stub, true)
	_, _, err := runner.Run(9, false, 0, nil)
	assert.Error(t, err)
	var procErr *protoerr.ProcedureError
	assert.ErrorAs(t, err, &procErr)
}
