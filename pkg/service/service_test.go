package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samsamfire/goc1218/pkg/crc"
	"github.com/samsamfire/goc1218/pkg/protoerr"
)

type stubSession struct {
	responses [][]byte
	calls     [][]byte
	err       error
}

func (s *stubSession) Request(controlFlags byte, payload []byte) ([]byte, error) {
	s.calls = append(s.calls, append([]byte(nil), payload...))
	if s.err != nil {
		return nil, s.err
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestIdentitySuccess(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00, 2, 1, 1, 0x01}}}
	svc := New(stub)
	info, err := svc.Identity()
	assert.NoError(t, err)
	assert.Equal(t, byte(2), info.StandardVersion)
	assert.Equal(t, byte(1), info.StandardRevision)
	assert.Equal(t, []byte{0x01}, info.Capabilities)
	assert.Equal(t, codeIdentity, stub.calls[0][0])
}

func TestIdentityNonZeroCode(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{byte(protoerr.ServiceNotSupported)}}}
	svc := New(stub)
	_, err := svc.Identity()
	assert.Error(t, err)
	var negErr *protoerr.NegotiateError
	assert.ErrorAs(t, err, &negErr)
	assert.Equal(t, protoerr.ServiceNotSupported, negErr.Code)
}

func TestNegotiateEncodesBody(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00}}}
	svc := New(stub)
	params, err := svc.Negotiate(1024, 3, Baud9600)
	assert.NoError(t, err)
	assert.EqualValues(t, 1024, params.PacketSize)
	assert.EqualValues(t, 3, params.PacketCount)

	body := stub.calls[0]
	assert.Equal(t, codeNegotiate, body[0])
	assert.Equal(t, []byte{0x04, 0x00}, body[1:3]) // 1024 big-endian
	assert.Equal(t, byte(3), body[3])
	assert.Equal(t, byte(Baud9600), body[4])
}

func TestLogonPadsUsername(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00}}}
	svc := New(stub)
	err := svc.Logon(7, "op")
	assert.NoError(t, err)
	body := stub.calls[0]
	assert.Equal(t, codeLogon, body[0])
	assert.Equal(t, []byte{0x00, 0x07}, body[1:3])
	assert.Equal(t, "op        ", string(body[3:13]))
}

func TestSecurityRejectsOverlongPassword(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00}}}
	svc := New(stub)
	err := svc.Security(string(make([]byte, 21)))
	assert.Error(t, err)
	assert.Len(t, stub.calls, 0, "oversized password must never be transmitted")
}

func TestTerminateAcceptsAllZeroPayload(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00, 0x00, 0x00}}}
	svc := New(stub)
	assert.NoError(t, svc.Terminate())
}

func TestTerminateRejectsNonZeroTrailer(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00, 0x01}}}
	svc := New(stub)
	assert.Error(t, svc.Terminate())
}

func TestFullReadSuccess(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	checksum := crc.DataChecksum(data)
	resp := append([]byte{0x00, 0x00, 0x04}, data...)
	resp = append(resp, checksum)

	stub := &stubSession{responses: [][]byte{resp}}
	svc := New(stub)
	got, err := svc.FullRead(5)
	assert.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, codeFullRead, stub.calls[0][0])
	assert.Equal(t, []byte{0x00, 0x05}, stub.calls[0][1:3])
}

func TestFullReadCorruptChecksum(t *testing.T) {
	data := []byte{0x01, 0x02}
	resp := append([]byte{0x00, 0x00, 0x02}, data...)
	resp = append(resp, 0xFF) // wrong checksum

	stub := &stubSession{responses: [][]byte{resp}}
	svc := New(stub)
	_, err := svc.FullRead(5)
	assert.Error(t, err)
	var readErr *protoerr.ReadTableError
	assert.ErrorAs(t, err, &readErr)
	assert.Equal(t, "corrupt checksum", readErr.Reason)
}

func TestFullReadCorruptLength(t *testing.T) {
	resp := []byte{0x00, 0x00, 0x05, 0x01, 0x02} // claims 5 bytes, has 2
	stub := &stubSession{responses: [][]byte{resp}}
	svc := New(stub)
	_, err := svc.FullRead(5)
	assert.Error(t, err)
	var readErr *protoerr.ReadTableError
	assert.ErrorAs(t, err, &readErr)
	assert.Equal(t, "corrupt length", readErr.Reason)
}

func TestPartialReadEncodesOffsetAndCount(t *testing.T) {
	data := []byte{0x7A}
	resp := append([]byte{0x00, 0x00, 0x01}, data...)
	resp = append(resp, crc.DataChecksum(data))

	stub := &stubSession{responses: [][]byte{resp}}
	svc := New(stub)
	got, err := svc.PartialRead(9, 0x112233, 1)
	assert.NoError(t, err)
	assert.Equal(t, data, got)
	body := stub.calls[0]
	assert.Equal(t, []byte{0x00, 0x09}, body[1:3])
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, body[3:6])
	assert.Equal(t, []byte{0x00, 0x01}, body[6:8])
}

func TestFullWriteAppendsChecksum(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{0x00}}}
	svc := New(stub)
	data := []byte{0x01, 0x02, 0x03}
	err := svc.FullWrite(5, data)
	assert.NoError(t, err)
	body := stub.calls[0]
	assert.Equal(t, codeFullWrite, body[0])
	assert.Equal(t, []byte{0x00, 0x05}, body[1:3])
	assert.Equal(t, []byte{0x00, 0x03}, body[3:5])
	assert.Equal(t, data, body[5:8])
	assert.Equal(t, crc.DataChecksum(data), body[8])
}

func TestWriteNonZeroResponse(t *testing.T) {
	stub := &stubSession{responses: [][]byte{{byte(protoerr.DataLocked)}}}
	svc := New(stub)
	err := svc.FullWrite(5, []byte{0x01})
	assert.Error(t, err)
	var writeErr *protoerr.WriteTableError
	assert.ErrorAs(t, err, &writeErr)
	assert.Equal(t, protoerr.DataLocked, writeErr.Code)
}
