package clientconn

import "github.com/remsim-project/remsim-core/internal/rspro"

// buildHandshakeReq constructs the ConnectClientReq or ConnectBankReq for
// cfg: a client-role config (ClientSlot set) builds the former, a bank-role
// config the latter. Dynamic client-ID allocation is never driven here, so
// ClientSlot is always populated when present.
func buildHandshakeReq(cfg Config) *rspro.PDU {
	if cfg.ClientSlot != nil {
		return &rspro.PDU{
			Type: rspro.MsgConnectClientReq,
			ConnectClientReq: &rspro.ConnectClientReq{
				Identity:      cfg.Identity,
				HasClientSlot: true,
				ClientSlot:    *cfg.ClientSlot,
			},
		}
	}
	return &rspro.PDU{
		Type: rspro.MsgConnectBankReq,
		ConnectBankReq: &rspro.ConnectBankReq{
			Identity: cfg.Identity,
			BankID:   cfg.BankID,
			NumSlots: cfg.NumSlots,
		},
	}
}

// handshakeResult extracts the server identity and result code from a
// handshake response PDU, regardless of role.
type handshakeResult struct {
	ServerIdentity rspro.Identity
	Result         rspro.ResultCode
	ok             bool
}

func extractHandshakeResult(pdu *rspro.PDU) handshakeResult {
	if pdu == nil {
		return handshakeResult{}
	}
	switch pdu.Type {
	case rspro.MsgConnectClientRes:
		if pdu.ConnectClientRes == nil {
			return handshakeResult{}
		}
		return handshakeResult{
			ServerIdentity: pdu.ConnectClientRes.Identity,
			Result:         pdu.ConnectClientRes.Result,
			ok:             true,
		}
	case rspro.MsgConnectBankRes:
		if pdu.ConnectBankRes == nil {
			return handshakeResult{}
		}
		return handshakeResult{
			ServerIdentity: pdu.ConnectBankRes.Identity,
			Result:         pdu.ConnectBankRes.Result,
			ok:             true,
		}
	default:
		return handshakeResult{}
	}
}
