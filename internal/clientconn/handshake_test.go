package clientconn

import (
	"testing"

	"github.com/remsim-project/remsim-core/internal/rspro"
)

func TestBuildHandshakeReqClient(t *testing.T) {
	slot := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	cfg := Config{
		Identity:   rspro.Identity{Type: rspro.ComponentClient, Name: "c"},
		ClientSlot: &slot,
	}
	pdu := buildHandshakeReq(cfg)
	if pdu.Type != rspro.MsgConnectClientReq {
		t.Fatalf("Type = %v, want MsgConnectClientReq", pdu.Type)
	}
	if !pdu.ConnectClientReq.HasClientSlot || pdu.ConnectClientReq.ClientSlot != slot {
		t.Fatalf("ClientSlot not carried through: %+v", pdu.ConnectClientReq)
	}
}

func TestBuildHandshakeReqBank(t *testing.T) {
	cfg := Config{
		Identity: rspro.Identity{Type: rspro.ComponentBank, Name: "b"},
		BankID:   3,
		NumSlots: 8,
	}
	pdu := buildHandshakeReq(cfg)
	if pdu.Type != rspro.MsgConnectBankReq {
		t.Fatalf("Type = %v, want MsgConnectBankReq", pdu.Type)
	}
	if pdu.ConnectBankReq.BankID != 3 || pdu.ConnectBankReq.NumSlots != 8 {
		t.Fatalf("unexpected ConnectBankReq: %+v", pdu.ConnectBankReq)
	}
}

func TestExtractHandshakeResultClient(t *testing.T) {
	pdu := &rspro.PDU{
		Type: rspro.MsgConnectClientRes,
		ConnectClientRes: &rspro.ConnectClientRes{
			Identity: rspro.Identity{Type: rspro.ComponentServer, Name: "srv"},
			Result:   rspro.ResultOk,
		},
	}
	res := extractHandshakeResult(pdu)
	if !res.ok || res.Result != rspro.ResultOk || res.ServerIdentity.Name != "srv" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractHandshakeResultBank(t *testing.T) {
	pdu := &rspro.PDU{
		Type: rspro.MsgConnectBankRes,
		ConnectBankRes: &rspro.ConnectBankRes{
			Identity: rspro.Identity{Type: rspro.ComponentServer, Name: "srv"},
			Result:   rspro.ResultIdentityInUse,
		},
	}
	res := extractHandshakeResult(pdu)
	if !res.ok || res.Result != rspro.ResultIdentityInUse {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractHandshakeResultWrongType(t *testing.T) {
	pdu := &rspro.PDU{Type: rspro.MsgCreateMappingReq, CreateMappingReq: &rspro.CreateMappingReq{}}
	res := extractHandshakeResult(pdu)
	if res.ok {
		t.Fatal("expected ok=false for non-handshake-response PDU")
	}
}

func TestExtractHandshakeResultNil(t *testing.T) {
	res := extractHandshakeResult(nil)
	if res.ok {
		t.Fatal("expected ok=false for nil PDU")
	}
}
