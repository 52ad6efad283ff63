package rspro

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPDU is returned when a PDU payload is malformed.
	ErrInvalidPDU = errors.New("invalid RSPRO PDU")

	// ErrUnknownMsgType is returned for an unrecognized message type byte.
	ErrUnknownMsgType = errors.New("unknown RSPRO message type")
)

// PDU is a tagged union of the RSPRO request/response kinds. Exactly one of
// the typed fields matching Type is populated.
type PDU struct {
	Type MsgType

	ConnectClientReq *ConnectClientReq
	ConnectClientRes *ConnectClientRes

	ConnectBankReq *ConnectBankReq
	ConnectBankRes *ConnectBankRes

	CreateMappingReq *CreateMappingReq
	CreateMappingRes *CreateMappingRes

	RemoveMappingReq *RemoveMappingReq
	RemoveMappingRes *RemoveMappingRes

	ConfigClientBankReq *ConfigClientBankReq
	ConfigClientBankRes *ConfigClientBankRes

	ConfigClientIdReq *ConfigClientIdReq
	ConfigClientIdRes *ConfigClientIdRes
}

// String renders a debug representation of the PDU.
func (p *PDU) String() string {
	return fmt.Sprintf("RsproPDU{%s}", p.Type)
}

// Encode serializes the PDU to bytes: one type byte followed by the
// type-specific payload.
func (p *PDU) Encode() ([]byte, error) {
	var body []byte
	switch p.Type {
	case MsgConnectClientReq:
		if p.ConnectClientReq == nil {
			return nil, fmt.Errorf("%w: nil ConnectClientReq", ErrInvalidPDU)
		}
		body = p.ConnectClientReq.encode()
	case MsgConnectClientRes:
		if p.ConnectClientRes == nil {
			return nil, fmt.Errorf("%w: nil ConnectClientRes", ErrInvalidPDU)
		}
		body = p.ConnectClientRes.encode()
	case MsgConnectBankReq:
		if p.ConnectBankReq == nil {
			return nil, fmt.Errorf("%w: nil ConnectBankReq", ErrInvalidPDU)
		}
		body = p.ConnectBankReq.encode()
	case MsgConnectBankRes:
		if p.ConnectBankRes == nil {
			return nil, fmt.Errorf("%w: nil ConnectBankRes", ErrInvalidPDU)
		}
		body = p.ConnectBankRes.encode()
	case MsgCreateMappingReq:
		if p.CreateMappingReq == nil {
			return nil, fmt.Errorf("%w: nil CreateMappingReq", ErrInvalidPDU)
		}
		body = p.CreateMappingReq.encode()
	case MsgCreateMappingRes:
		if p.CreateMappingRes == nil {
			return nil, fmt.Errorf("%w: nil CreateMappingRes", ErrInvalidPDU)
		}
		body = p.CreateMappingRes.encode()
	case MsgRemoveMappingReq:
		if p.RemoveMappingReq == nil {
			return nil, fmt.Errorf("%w: nil RemoveMappingReq", ErrInvalidPDU)
		}
		body = p.RemoveMappingReq.encode()
	case MsgRemoveMappingRes:
		if p.RemoveMappingRes == nil {
			return nil, fmt.Errorf("%w: nil RemoveMappingRes", ErrInvalidPDU)
		}
		body = p.RemoveMappingRes.encode()
	case MsgConfigClientBankReq:
		if p.ConfigClientBankReq == nil {
			return nil, fmt.Errorf("%w: nil ConfigClientBankReq", ErrInvalidPDU)
		}
		body = p.ConfigClientBankReq.encode()
	case MsgConfigClientBankRes:
		if p.ConfigClientBankRes == nil {
			return nil, fmt.Errorf("%w: nil ConfigClientBankRes", ErrInvalidPDU)
		}
		body = p.ConfigClientBankRes.encode()
	case MsgConfigClientIdReq:
		if p.ConfigClientIdReq == nil {
			return nil, fmt.Errorf("%w: nil ConfigClientIdReq", ErrInvalidPDU)
		}
		body = p.ConfigClientIdReq.encode()
	case MsgConfigClientIdRes:
		if p.ConfigClientIdRes == nil {
			return nil, fmt.Errorf("%w: nil ConfigClientIdRes", ErrInvalidPDU)
		}
		body = p.ConfigClientIdRes.encode()
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMsgType, uint8(p.Type))
	}

	buf := make([]byte, 1+len(body))
	buf[0] = uint8(p.Type)
	copy(buf[1:], body)
	return buf, nil
}

// Decode deserializes a PDU from bytes.
func Decode(buf []byte) (*PDU, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: empty buffer", ErrInvalidPDU)
	}
	msgType := MsgType(buf[0])
	body := buf[1:]

	p := &PDU{Type: msgType}
	var err error
	switch msgType {
	case MsgConnectClientReq:
		p.ConnectClientReq, err = decodeConnectClientReq(body)
	case MsgConnectClientRes:
		p.ConnectClientRes, err = decodeConnectClientRes(body)
	case MsgConnectBankReq:
		p.ConnectBankReq, err = decodeConnectBankReq(body)
	case MsgConnectBankRes:
		p.ConnectBankRes, err = decodeConnectBankRes(body)
	case MsgCreateMappingReq:
		p.CreateMappingReq, err = decodeCreateMappingReq(body)
	case MsgCreateMappingRes:
		p.CreateMappingRes, err = decodeCreateMappingRes(body)
	case MsgRemoveMappingReq:
		p.RemoveMappingReq, err = decodeRemoveMappingReq(body)
	case MsgRemoveMappingRes:
		p.RemoveMappingRes, err = decodeRemoveMappingRes(body)
	case MsgConfigClientBankReq:
		p.ConfigClientBankReq, err = decodeConfigClientBankReq(body)
	case MsgConfigClientBankRes:
		p.ConfigClientBankRes, err = decodeConfigClientBankRes(body)
	case MsgConfigClientIdReq:
		p.ConfigClientIdReq, err = decodeConfigClientIdReq(body)
	case MsgConfigClientIdRes:
		p.ConfigClientIdRes, err = decodeConfigClientIdRes(body)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMsgType, uint8(msgType))
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ============================================================================
// string / identity / slot helpers
// ============================================================================

func encodeString(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	buf := make([]byte, 1+len(s))
	buf[0] = uint8(len(s))
	copy(buf[1:], s)
	return buf
}

func decodeString(buf []byte) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, fmt.Errorf("%w: string length missing", ErrInvalidPDU)
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", 0, fmt.Errorf("%w: string truncated", ErrInvalidPDU)
	}
	return string(buf[1 : 1+n]), 1 + n, nil
}

func (id Identity) encode() []byte {
	buf := []byte{uint8(id.Type)}
	buf = append(buf, encodeString(id.Name)...)
	buf = append(buf, encodeString(id.SWVersion)...)
	buf = append(buf, encodeString(id.HWVersion)...)
	return buf
}

func decodeIdentity(buf []byte) (Identity, int, error) {
	if len(buf) < 1 {
		return Identity{}, 0, fmt.Errorf("%w: identity truncated", ErrInvalidPDU)
	}
	id := Identity{Type: ComponentType(buf[0])}
	off := 1

	name, n, err := decodeString(buf[off:])
	if err != nil {
		return Identity{}, 0, err
	}
	id.Name = name
	off += n

	sw, n, err := decodeString(buf[off:])
	if err != nil {
		return Identity{}, 0, err
	}
	id.SWVersion = sw
	off += n

	hw, n, err := decodeString(buf[off:])
	if err != nil {
		return Identity{}, 0, err
	}
	id.HWVersion = hw
	off += n

	return id, off, nil
}

func encodeClientSlot(s ClientSlot) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], s.ClientID)
	binary.BigEndian.PutUint16(buf[2:4], s.SlotNr)
	return buf
}

func decodeClientSlot(buf []byte) (ClientSlot, error) {
	if len(buf) < 4 {
		return ClientSlot{}, fmt.Errorf("%w: ClientSlot truncated", ErrInvalidPDU)
	}
	return ClientSlot{
		ClientID: binary.BigEndian.Uint16(buf[0:2]),
		SlotNr:   binary.BigEndian.Uint16(buf[2:4]),
	}, nil
}

func encodeBankSlot(s BankSlot) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], s.BankID)
	binary.BigEndian.PutUint16(buf[2:4], s.SlotNr)
	return buf
}

func decodeBankSlot(buf []byte) (BankSlot, error) {
	if len(buf) < 4 {
		return BankSlot{}, fmt.Errorf("%w: BankSlot truncated", ErrInvalidPDU)
	}
	return BankSlot{
		BankID: binary.BigEndian.Uint16(buf[0:2]),
		SlotNr: binary.BigEndian.Uint16(buf[2:4]),
	}, nil
}

// ============================================================================
// ConnectClientReq / ConnectClientRes
// ============================================================================

// ConnectClientReq is sent by a client on handshake. HasClientSlot is false
// when the client asks the server to assign one dynamically — a path this
// server leaves unimplemented and always rejects.
type ConnectClientReq struct {
	Identity      Identity
	HasClientSlot bool
	ClientSlot    ClientSlot
}

func (r *ConnectClientReq) encode() []byte {
	buf := r.Identity.encode()
	if r.HasClientSlot {
		buf = append(buf, 1)
		buf = append(buf, encodeClientSlot(r.ClientSlot)...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeConnectClientReq(buf []byte) (*ConnectClientReq, error) {
	id, n, err := decodeIdentity(buf)
	if err != nil {
		return nil, err
	}
	off := n
	if off >= len(buf) {
		return nil, fmt.Errorf("%w: ConnectClientReq missing presence byte", ErrInvalidPDU)
	}
	r := &ConnectClientReq{Identity: id}
	if buf[off] != 0 {
		off++
		slot, err := decodeClientSlot(buf[off:])
		if err != nil {
			return nil, err
		}
		r.HasClientSlot = true
		r.ClientSlot = slot
	}
	return r, nil
}

// ConnectClientRes is the server's reply to ConnectClientReq.
type ConnectClientRes struct {
	Identity Identity // server identity
	Result   ResultCode
}

func (r *ConnectClientRes) encode() []byte {
	buf := r.Identity.encode()
	return append(buf, uint8(r.Result))
}

func decodeConnectClientRes(buf []byte) (*ConnectClientRes, error) {
	id, n, err := decodeIdentity(buf)
	if err != nil {
		return nil, err
	}
	if n >= len(buf) {
		return nil, fmt.Errorf("%w: ConnectClientRes missing result", ErrInvalidPDU)
	}
	return &ConnectClientRes{Identity: id, Result: ResultCode(buf[n])}, nil
}

// ============================================================================
// ConnectBankReq / ConnectBankRes
// ============================================================================

// ConnectBankReq is sent by a bank on handshake.
type ConnectBankReq struct {
	Identity  Identity
	BankID    uint16
	NumSlots  uint16
}

func (r *ConnectBankReq) encode() []byte {
	buf := r.Identity.encode()
	tail := make([]byte, 4)
	binary.BigEndian.PutUint16(tail[0:2], r.BankID)
	binary.BigEndian.PutUint16(tail[2:4], r.NumSlots)
	return append(buf, tail...)
}

func decodeConnectBankReq(buf []byte) (*ConnectBankReq, error) {
	id, n, err := decodeIdentity(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < n+4 {
		return nil, fmt.Errorf("%w: ConnectBankReq truncated", ErrInvalidPDU)
	}
	return &ConnectBankReq{
		Identity: id,
		BankID:   binary.BigEndian.Uint16(buf[n : n+2]),
		NumSlots: binary.BigEndian.Uint16(buf[n+2 : n+4]),
	}, nil
}

// ConnectBankRes is the server's reply to ConnectBankReq.
type ConnectBankRes struct {
	Identity Identity // server identity
	Result   ResultCode
}

func (r *ConnectBankRes) encode() []byte {
	buf := r.Identity.encode()
	return append(buf, uint8(r.Result))
}

func decodeConnectBankRes(buf []byte) (*ConnectBankRes, error) {
	id, n, err := decodeIdentity(buf)
	if err != nil {
		return nil, err
	}
	if n >= len(buf) {
		return nil, fmt.Errorf("%w: ConnectBankRes missing result", ErrInvalidPDU)
	}
	return &ConnectBankRes{Identity: id, Result: ResultCode(buf[n])}, nil
}

// ============================================================================
// CreateMappingReq / CreateMappingRes
// ============================================================================

// CreateMappingReq asks a bank to create a mapping for a client slot.
type CreateMappingReq struct {
	Client ClientSlot
	Bank   BankSlot
}

func (r *CreateMappingReq) encode() []byte {
	return append(encodeClientSlot(r.Client), encodeBankSlot(r.Bank)...)
}

func decodeCreateMappingReq(buf []byte) (*CreateMappingReq, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: CreateMappingReq truncated", ErrInvalidPDU)
	}
	client, err := decodeClientSlot(buf[0:4])
	if err != nil {
		return nil, err
	}
	bank, err := decodeBankSlot(buf[4:8])
	if err != nil {
		return nil, err
	}
	return &CreateMappingReq{Client: client, Bank: bank}, nil
}

// CreateMappingRes is the bank's answer to CreateMappingReq. The slots are
// echoed for logging only: the protocol carries no correlation tag, so the
// server matches responses to the head of its per-bank
// unacknowledged-mapping queue, not to these fields.
type CreateMappingRes struct {
	Result ResultCode
	Client ClientSlot
	Bank   BankSlot
}

func (r *CreateMappingRes) encode() []byte {
	buf := []byte{uint8(r.Result)}
	buf = append(buf, encodeClientSlot(r.Client)...)
	buf = append(buf, encodeBankSlot(r.Bank)...)
	return buf
}

func decodeCreateMappingRes(buf []byte) (*CreateMappingRes, error) {
	if len(buf) < 9 {
		return nil, fmt.Errorf("%w: CreateMappingRes truncated", ErrInvalidPDU)
	}
	client, err := decodeClientSlot(buf[1:5])
	if err != nil {
		return nil, err
	}
	bank, err := decodeBankSlot(buf[5:9])
	if err != nil {
		return nil, err
	}
	return &CreateMappingRes{Result: ResultCode(buf[0]), Client: client, Bank: bank}, nil
}

// ============================================================================
// RemoveMappingReq / RemoveMappingRes
// ============================================================================

// RemoveMappingReq asks a bank to remove a mapping.
type RemoveMappingReq struct {
	Client ClientSlot
	Bank   BankSlot
}

func (r *RemoveMappingReq) encode() []byte {
	return append(encodeClientSlot(r.Client), encodeBankSlot(r.Bank)...)
}

func decodeRemoveMappingReq(buf []byte) (*RemoveMappingReq, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: RemoveMappingReq truncated", ErrInvalidPDU)
	}
	client, err := decodeClientSlot(buf[0:4])
	if err != nil {
		return nil, err
	}
	bank, err := decodeBankSlot(buf[4:8])
	if err != nil {
		return nil, err
	}
	return &RemoveMappingReq{Client: client, Bank: bank}, nil
}

// RemoveMappingRes is the bank's answer to RemoveMappingReq (see
// CreateMappingRes doc comment re: positional correlation).
type RemoveMappingRes struct {
	Result ResultCode
	Client ClientSlot
	Bank   BankSlot
}

func (r *RemoveMappingRes) encode() []byte {
	buf := []byte{uint8(r.Result)}
	buf = append(buf, encodeClientSlot(r.Client)...)
	buf = append(buf, encodeBankSlot(r.Bank)...)
	return buf
}

func decodeRemoveMappingRes(buf []byte) (*RemoveMappingRes, error) {
	if len(buf) < 9 {
		return nil, fmt.Errorf("%w: RemoveMappingRes truncated", ErrInvalidPDU)
	}
	client, err := decodeClientSlot(buf[1:5])
	if err != nil {
		return nil, err
	}
	bank, err := decodeBankSlot(buf[5:9])
	if err != nil {
		return nil, err
	}
	return &RemoveMappingRes{Result: ResultCode(buf[0]), Client: client, Bank: bank}, nil
}

// ============================================================================
// ConfigClientBankReq / ConfigClientBankRes
// ============================================================================

// ConfigClientBankReq tells a client where to reach the bank hosting its
// card. IP==0 && Port==0 means "no bank currently known."
type ConfigClientBankReq struct {
	Bank BankSlot
	IP   uint32
	Port uint16
}

func (r *ConfigClientBankReq) encode() []byte {
	buf := encodeBankSlot(r.Bank)
	tail := make([]byte, 6)
	binary.BigEndian.PutUint32(tail[0:4], r.IP)
	binary.BigEndian.PutUint16(tail[4:6], r.Port)
	return append(buf, tail...)
}

func decodeConfigClientBankReq(buf []byte) (*ConfigClientBankReq, error) {
	if len(buf) < 10 {
		return nil, fmt.Errorf("%w: ConfigClientBankReq truncated", ErrInvalidPDU)
	}
	bank, err := decodeBankSlot(buf[0:4])
	if err != nil {
		return nil, err
	}
	return &ConfigClientBankReq{
		Bank: bank,
		IP:   binary.BigEndian.Uint32(buf[4:8]),
		Port: binary.BigEndian.Uint16(buf[8:10]),
	}, nil
}

// ConfigClientBankRes acknowledges ConfigClientBankReq.
type ConfigClientBankRes struct {
	Result ResultCode
}

func (r *ConfigClientBankRes) encode() []byte {
	return []byte{uint8(r.Result)}
}

func decodeConfigClientBankRes(buf []byte) (*ConfigClientBankRes, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: ConfigClientBankRes truncated", ErrInvalidPDU)
	}
	return &ConfigClientBankRes{Result: ResultCode(buf[0])}, nil
}

// ============================================================================
// ConfigClientIdReq / ConfigClientIdRes (unreachable)
// ============================================================================

// ConfigClientIdReq would assign a dynamic client ID. No FSM sends this.
type ConfigClientIdReq struct {
	ClientID uint16
}

func (r *ConfigClientIdReq) encode() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, r.ClientID)
	return buf
}

func decodeConfigClientIdReq(buf []byte) (*ConfigClientIdReq, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("%w: ConfigClientIdReq truncated", ErrInvalidPDU)
	}
	return &ConfigClientIdReq{ClientID: binary.BigEndian.Uint16(buf)}, nil
}

// ConfigClientIdRes acknowledges ConfigClientIdReq. No FSM sends this.
type ConfigClientIdRes struct {
	Result ResultCode
}

func (r *ConfigClientIdRes) encode() []byte {
	return []byte{uint8(r.Result)}
}

func decodeConfigClientIdRes(buf []byte) (*ConfigClientIdRes, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: ConfigClientIdRes truncated", ErrInvalidPDU)
	}
	return &ConfigClientIdRes{Result: ResultCode(buf[0])}, nil
}
