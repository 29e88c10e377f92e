// Package service builds C12.18/C12.19 service request payloads and parses
// their response codes, on top of the session engine's send/receive
// primitives. Each service below is a closed, fixed-layout request variant
// rather than an opaque byte blob.
package service

import (
	"encoding/binary"
	"fmt"

	"github.com/samsamfire/goc1218/pkg/crc"
	"github.com/samsamfire/goc1218/pkg/protoerr"
)

// Request codes, the leading byte of every service payload.
const (
	codeIdentity     byte = 0x20
	codeTerminate    byte = 0x21
	codeFullRead     byte = 0x30
	codePartialRead  byte = 0x3F
	codeFullWrite    byte = 0x40
	codePartialWrite byte = 0x4F
	codeLogon        byte = 0x50
	codeSecurity     byte = 0x51
	codeLogoff       byte = 0x52
	codeNegotiate    byte = 0x61
)

const maxUsernameLen = 10
const maxPasswordLen = 20

// requester is the one method the service layer needs from the session
// engine: perform one originated request/response round trip.
type requester interface {
	Request(controlFlags byte, payload []byte) ([]byte, error)
}

// Services builds and issues C12.18 service requests over a session.
type Services struct {
	session requester
}

// New returns a service layer bound to an already-open session.
func New(session requester) *Services {
	return &Services{session: session}
}

func (s *Services) call(code byte, body []byte) ([]byte, error) {
	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, code)
	payload = append(payload, body...)
	return s.session.Request(0x00, payload)
}

func responseCode(response []byte) (protoerr.ResponseCode, []byte, error) {
	if len(response) == 0 {
		return 0, nil, fmt.Errorf("empty response")
	}
	return protoerr.ResponseCode(response[0]), response[1:], nil
}

// IdentityInfo is the parsed body of a successful Identity response.
type IdentityInfo struct {
	StandardVersion  byte
	StandardRevision byte
	Capabilities     []byte
}

// Identity issues the 0x20 service (empty body) and parses the protocol
// version info that follows a successful response.
func (s *Services) Identity() (*IdentityInfo, error) {
	response, err := s.call(codeIdentity, nil)
	if err != nil {
		return nil, err
	}
	code, rest, err := responseCode(response)
	if err != nil {
		return nil, &protoerr.NegotiateError{Code: protoerr.Err}
	}
	if code != protoerr.Ok {
		return nil, &protoerr.NegotiateError{Code: code}
	}
	info := &IdentityInfo{}
	if len(rest) >= 1 {
		info.StandardVersion = rest[0]
	}
	if len(rest) >= 2 {
		info.StandardRevision = rest[1]
	}
	if len(rest) >= 3 {
		n := int(rest[2])
		if n > 0 && len(rest) >= 3+n {
			info.Capabilities = append([]byte(nil), rest[3:3+n]...)
		}
	}
	return info, nil
}

// BaudCode maps a C12.18 Negotiate baud-rate byte to bits per second.
type BaudCode byte

// Standard C12.18 baud-rate code enumeration.
const (
	Baud300   BaudCode = 0x01
	Baud600   BaudCode = 0x02
	Baud1200  BaudCode = 0x03
	Baud2400  BaudCode = 0x04
	Baud4800  BaudCode = 0x05
	Baud9600  BaudCode = 0x06
	Baud14400 BaudCode = 0x07
	Baud19200 BaudCode = 0x08
	Baud28800 BaudCode = 0x09
	Baud57600 BaudCode = 0x0A
)

// NegotiatedParams is what a successful Negotiate call returns to the
// caller so it can update the session's tracked parameters.
type NegotiatedParams struct {
	PacketSize  uint16
	PacketCount uint8
}

// Negotiate issues the 0x61 service requesting pktSize/nbrPkts/baud. On a
// non-zero response code it returns a *protoerr.NegotiateError, including
// when the peer answers RenegotiateRequest; it is the caller's choice
// whether to retry with different parameters.
func (s *Services) Negotiate(pktSize uint16, nbrPkts uint8, baud BaudCode) (*NegotiatedParams, error) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[0:2], pktSize)
	body[2] = nbrPkts
	body[3] = byte(baud)

	response, err := s.call(codeNegotiate, body)
	if err != nil {
		return nil, err
	}
	code, _, err := responseCode(response)
	if err != nil {
		return nil, &protoerr.NegotiateError{Code: protoerr.Err}
	}
	if code != protoerr.Ok {
		return nil, &protoerr.NegotiateError{Code: code}
	}
	return &NegotiatedParams{PacketSize: pktSize, PacketCount: nbrPkts}, nil
}

// Logon issues the 0x50 service: a 2-byte user id and a 10-byte
// space-padded (or truncated) username.
func (s *Services) Logon(userID uint16, username string) error {
	body := make([]byte, 2+maxUsernameLen)
	binary.BigEndian.PutUint16(body[0:2], userID)
	copy(body[2:], padOrTruncate(username, maxUsernameLen))

	response, err := s.call(codeLogon, body)
	if err != nil {
		return err
	}
	code, _, err := responseCode(response)
	if err != nil {
		return &protoerr.NegotiateError{Code: protoerr.Err}
	}
	if code != protoerr.Ok {
		return &protoerr.NegotiateError{Code: code}
	}
	return nil
}

// Security issues the 0x51 service with a 20-byte space-padded password.
// Passwords longer than 20 bytes are rejected here, before anything is
// transmitted.
func (s *Services) Security(password string) error {
	if len(password) > maxPasswordLen {
		return fmt.Errorf("c1218: password exceeds %d bytes", maxPasswordLen)
	}
	body := padOrTruncate(password, maxPasswordLen)

	response, err := s.call(codeSecurity, body)
	if err != nil {
		return err
	}
	code, _, err := responseCode(response)
	if err != nil {
		return &protoerr.NegotiateError{Code: protoerr.Err}
	}
	if code != protoerr.Ok {
		return &protoerr.NegotiateError{Code: code}
	}
	return nil
}

// Logoff issues the empty-bodied 0x52 service.
func (s *Services) Logoff() error {
	return s.emptyBodyService(codeLogoff)
}

// Terminate issues the empty-bodied 0x21 service. Some meters answer with
// more than one zero byte; any payload consisting entirely of zero bytes
// is accepted, not only a zero first byte.
func (s *Services) Terminate() error {
	response, err := s.call(codeTerminate, nil)
	if err != nil {
		return err
	}
	if len(response) == 0 {
		return &protoerr.NegotiateError{Code: protoerr.Err}
	}
	for _, b := range response {
		if b != 0 {
			return &protoerr.NegotiateError{Code: protoerr.ResponseCode(response[0])}
		}
	}
	return nil
}

func (s *Services) emptyBodyService(code byte) error {
	response, err := s.call(code, nil)
	if err != nil {
		return err
	}
	respCode, _, err := responseCode(response)
	if err != nil {
		return &protoerr.NegotiateError{Code: protoerr.Err}
	}
	if respCode != protoerr.Ok {
		return &protoerr.NegotiateError{Code: respCode}
	}
	return nil
}

// FullRead issues the 0x30 service for tableID and returns the validated
// table payload.
func (s *Services) FullRead(tableID uint16) ([]byte, error) {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, tableID)
	response, err := s.call(codeFullRead, body)
	if err != nil {
		return nil, err
	}
	return parseReadResponse(tableID, response)
}

// PartialRead issues the 0x3F service for tableID starting at offset, for
// count bytes, and returns the validated table payload.
func (s *Services) PartialRead(tableID uint16, offset uint32, count uint16) ([]byte, error) {
	body := make([]byte, 2+3+2)
	binary.BigEndian.PutUint16(body[0:2], tableID)
	put24(body[2:5], offset)
	binary.BigEndian.PutUint16(body[5:7], count)
	response, err := s.call(codePartialRead, body)
	if err != nil {
		return nil, err
	}
	return parseReadResponse(tableID, response)
}

func parseReadResponse(tableID uint16, response []byte) ([]byte, error) {
	code, rest, err := responseCode(response)
	if err != nil {
		return nil, &protoerr.ReadTableError{TableID: tableID, Code: protoerr.Err, Reason: "empty response"}
	}
	if code != protoerr.Ok {
		return nil, &protoerr.ReadTableError{TableID: tableID, Code: code}
	}
	if len(rest) < 2 {
		return nil, &protoerr.ReadTableError{TableID: tableID, Code: code, Reason: "corrupt length"}
	}
	length := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[2:]
	if len(rest) != int(length)+1 {
		return nil, &protoerr.ReadTableError{TableID: tableID, Code: code, Reason: "corrupt length"}
	}
	data := rest[:length]
	checksum := rest[length]
	if crc.DataChecksum(data) != checksum {
		return nil, &protoerr.ReadTableError{TableID: tableID, Code: code, Reason: "corrupt checksum"}
	}
	return append([]byte(nil), data...), nil
}

// FullWrite issues the 0x40 service, writing data to tableID in full.
func (s *Services) FullWrite(tableID uint16, data []byte) error {
	body := make([]byte, 0, 2+2+len(data)+1)
	header := make([]byte, 2+2)
	binary.BigEndian.PutUint16(header[0:2], tableID)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(data)))
	body = append(body, header...)
	body = append(body, data...)
	body = append(body, crc.DataChecksum(data))
	return s.writeService(tableID, codeFullWrite, body)
}

// PartialWrite issues the 0x4F service, writing data to tableID starting
// at offset.
func (s *Services) PartialWrite(tableID uint16, offset uint32, data []byte) error {
	body := make([]byte, 0, 2+3+2+len(data)+1)
	header := make([]byte, 2+3+2)
	binary.BigEndian.PutUint16(header[0:2], tableID)
	put24(header[2:5], offset)
	binary.BigEndian.PutUint16(header[5:7], uint16(len(data)))
	body = append(body, header...)
	body = append(body, data...)
	body = append(body, crc.DataChecksum(data))
	return s.writeService(tableID, codePartialWrite, body)
}

func (s *Services) writeService(tableID uint16, code byte, body []byte) error {
	response, err := s.call(code, body)
	if err != nil {
		return err
	}
	respCode, _, err := responseCode(response)
	if err != nil {
		return &protoerr.WriteTableError{TableID: tableID, Code: protoerr.Err}
	}
	if respCode != protoerr.Ok {
		return &protoerr.WriteTableError{TableID: tableID, Code: respCode}
	}
	return nil
}

func padOrTruncate(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

func put24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}
