// Package server implements the server-side accept loop and per-peer
// connection FSM, the global peer registries and lookup indices, and the
// glue between the slot-mapping engine's notification signal and the
// peers it affects.
package server

import (
	"time"

	"github.com/remsim-project/remsim-core/internal/rspro"
)

// State is one of the server-side per-peer FSM states.
type State int

const (
	StateInit State = iota
	StateEstablished
	// StateWaitConfRes is reserved for dynamic client-ID allocation and
	// is never entered: the handshake rejects any ConnectClientReq that
	// omits a ClientSlot instead.
	StateWaitConfRes
	StateConnectedClient
	StateConnectedBankd
	StateRejected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateWaitConfRes:
		return "WAIT_CONF_RES"
	case StateConnectedClient:
		return "CONNECTED_CLIENT"
	case StateConnectedBankd:
		return "CONNECTED_BANKD"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

type eventKind int

const (
	evClientConn eventKind = iota
	evBankConn
	evTCPDown
	evKATimeout
	evCreateMapRes
	evRemoveMapRes
	evConfigClRes
	evPush
	evClCfgBankd
)

type peerEvent struct {
	kind   eventKind
	pdu    *rspro.PDU
	coords rspro.BankCoordinates
}

// rejectGraceDefault is how long a REJECTED peer's connection is kept open so
// the rejection reply has time to flush before the socket closes.
const rejectGraceDefault = time.Second
