// Package ipa implements the Osmocom IP Access envelope that carries RSPRO
// PDUs over a TCP stream, plus the small in-band control message set
// exchanged at the IPACCESS protocol level.
package ipa

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol identifies the byte directly following the 2-byte length prefix.
type Protocol uint8

const (
	// ProtoIPAccess carries the in-band control messages (PING/PONG/...).
	ProtoIPAccess Protocol = 0xFE
	// ProtoOSMO carries an extended payload tagged by a further ExtProto byte.
	ProtoOSMO Protocol = 0xEE
)

// ExtProto identifies the payload carried under ProtoOSMO.
type ExtProto uint8

const (
	// ExtRSPRO tags an RSPRO PDU payload.
	ExtRSPRO ExtProto = 0x02
)

// Control message types carried under ProtoIPAccess.
const (
	MsgPing    = 0x00
	MsgPong    = 0x01
	MsgIDResp  = 0x04
	MsgIDAck   = 0x06
)

// ErrShortEnvelope is returned when a buffer is too short to hold a header.
var ErrShortEnvelope = errors.New("ipa: envelope truncated")

// HeaderSize is the length of the length-prefix plus the protocol byte.
const HeaderSize = 3

// Envelope is one decoded IPA message: header plus payload.
type Envelope struct {
	Proto    Protocol
	ExtProto ExtProto // only meaningful when Proto == ProtoOSMO
	Payload  []byte
}

// IsExtended reports whether the envelope carries an extension protocol byte.
func (e Envelope) IsExtended() bool {
	return e.Proto == ProtoOSMO
}

// Encode serializes the envelope to wire bytes: 2-byte big-endian length of
// everything after the length field, then the protocol byte, then (for
// ProtoOSMO) the extension byte, then the payload.
func (e Envelope) Encode() ([]byte, error) {
	body := e.Payload
	hdrTail := 1
	if e.Proto == ProtoOSMO {
		hdrTail = 2
	}
	total := hdrTail + len(body)
	if total > 0xFFFF {
		return nil, fmt.Errorf("ipa: payload too large (%d bytes)", total)
	}

	buf := make([]byte, 2+total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(total))
	buf[2] = uint8(e.Proto)
	off := 3
	if e.Proto == ProtoOSMO {
		buf[3] = uint8(e.ExtProto)
		off = 4
	}
	copy(buf[off:], body)
	return buf, nil
}

// ReadEnvelope reads one IPA envelope from r, blocking until a full message
// arrives or the stream errors.
func ReadEnvelope(r *bufio.Reader) (Envelope, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Envelope{}, err
	}
	n := int(binary.BigEndian.Uint16(lenBuf))
	if n < 1 {
		return Envelope{}, fmt.Errorf("%w: length field %d", ErrShortEnvelope, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}

	proto := Protocol(body[0])
	if proto == ProtoOSMO {
		if len(body) < 2 {
			return Envelope{}, fmt.Errorf("%w: missing extension byte", ErrShortEnvelope)
		}
		return Envelope{Proto: proto, ExtProto: ExtProto(body[1]), Payload: body[2:]}, nil
	}
	return Envelope{Proto: proto, Payload: body[1:]}, nil
}

// WriteRSPRO wraps an RSPRO PDU payload in a ProtoOSMO/ExtRSPRO envelope and
// writes it to w.
func WriteRSPRO(w io.Writer, payload []byte) error {
	env := Envelope{Proto: ProtoOSMO, ExtProto: ExtRSPRO, Payload: payload}
	buf, err := env.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// WriteControl wraps a one-byte IPACCESS control message (PING, PONG, ...)
// and writes it to w.
func WriteControl(w io.Writer, msgType byte) error {
	env := Envelope{Proto: ProtoIPAccess, Payload: []byte{msgType}}
	buf, err := env.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// IsRSPRO reports whether the envelope carries an RSPRO PDU.
func (e Envelope) IsRSPRO() bool {
	return e.Proto == ProtoOSMO && e.ExtProto == ExtRSPRO
}

// ControlType returns the IPACCESS control message type carried by the
// envelope, and ok=false if the envelope is not a one-byte IPACCESS control
// message.
func (e Envelope) ControlType() (byte, bool) {
	if e.Proto != ProtoIPAccess || len(e.Payload) < 1 {
		return 0, false
	}
	return e.Payload[0], true
}
