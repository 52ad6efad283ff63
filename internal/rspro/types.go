// Package rspro implements the RSPRO message set exchanged between remsim
// clients, banks and the server, and its wire encoding.
package rspro

import "fmt"

// ComponentType identifies the role of a peer's identity.
type ComponentType uint8

const (
	ComponentUnknown ComponentType = 0
	ComponentClient  ComponentType = 1
	ComponentBank    ComponentType = 2
	ComponentServer  ComponentType = 3
)

// String returns a human-readable component type name.
func (t ComponentType) String() string {
	switch t {
	case ComponentClient:
		return "Client"
	case ComponentBank:
		return "Bank"
	case ComponentServer:
		return "Server"
	default:
		return "Unknown"
	}
}

// Identity is the (type, name, sw_version, hw_version) tuple exchanged on
// handshake and retained for the lifetime of a connection.
type Identity struct {
	Type      ComponentType
	Name      string
	SWVersion string
	HWVersion string
}

// String renders the identity for logging.
func (id Identity) String() string {
	return fmt.Sprintf("%s(%s,sw=%s,hw=%s)", id.Type, id.Name, id.SWVersion, id.HWVersion)
}

// ClientSlot addresses one SIM socket on a client.
type ClientSlot struct {
	ClientID uint16
	SlotNr   uint16
}

// String renders "C<id>:<slot>".
func (s ClientSlot) String() string {
	return fmt.Sprintf("C%d:%d", s.ClientID, s.SlotNr)
}

// BankSlot addresses one physical SIM reader on a bank.
type BankSlot struct {
	BankID uint16
	SlotNr uint16
}

// String renders "B<id>:<slot>".
func (s BankSlot) String() string {
	return fmt.Sprintf("B%d:%d", s.BankID, s.SlotNr)
}

// BankCoordinates tells a client where to reach the bank hosting its card.
type BankCoordinates struct {
	IP   uint32 // big-endian-as-number IPv4 address, 0 means "unknown"
	Port uint16
	Slot BankSlot
}

// ResultCode is carried on every *Res message.
type ResultCode uint8

const (
	ResultOk ResultCode = iota
	ResultIdentityInUse
	ResultIllegalClientID
	ResultIllegalBankID
	ResultUnknownSlotmap
	ResultUnspecified
)

// String returns a human-readable result code name.
func (r ResultCode) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultIdentityInUse:
		return "identityInUse"
	case ResultIllegalClientID:
		return "illegalClientId"
	case ResultIllegalBankID:
		return "illegalBankId"
	case ResultUnknownSlotmap:
		return "unknownSlotmap"
	default:
		return "unspecified"
	}
}

// MsgType identifies the kind of payload carried by a PDU.
type MsgType uint8

const (
	MsgConnectClientReq MsgType = iota + 1
	MsgConnectClientRes
	MsgConnectBankReq
	MsgConnectBankRes
	MsgCreateMappingReq
	MsgCreateMappingRes
	MsgRemoveMappingReq
	MsgRemoveMappingRes
	MsgConfigClientBankReq
	MsgConfigClientBankRes
	// MsgConfigClientIdReq/Res exist for the dynamic client-ID allocation
	// path. No FSM in this repository dispatches them: the handshake
	// rejects ConnectClientReq without a ClientSlot instead of entering
	// the (reserved, unused) WAIT_CONF_RES state.
	MsgConfigClientIdReq
	MsgConfigClientIdRes
)

// String returns a human-readable message type name.
func (t MsgType) String() string {
	switch t {
	case MsgConnectClientReq:
		return "ConnectClientReq"
	case MsgConnectClientRes:
		return "ConnectClientRes"
	case MsgConnectBankReq:
		return "ConnectBankReq"
	case MsgConnectBankRes:
		return "ConnectBankRes"
	case MsgCreateMappingReq:
		return "CreateMappingReq"
	case MsgCreateMappingRes:
		return "CreateMappingRes"
	case MsgRemoveMappingReq:
		return "RemoveMappingReq"
	case MsgRemoveMappingRes:
		return "RemoveMappingRes"
	case MsgConfigClientBankReq:
		return "ConfigClientBankReq"
	case MsgConfigClientBankRes:
		return "ConfigClientBankRes"
	case MsgConfigClientIdReq:
		return "ConfigClientIdReq"
	case MsgConfigClientIdRes:
		return "ConfigClientIdRes"
	default:
		return "Unknown"
	}
}
