package rspro

import "testing"

func roundTrip(t *testing.T, p *PDU) *PDU {
	t.Helper()
	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != p.Type {
		t.Fatalf("Type = %v, want %v", got.Type, p.Type)
	}
	return got
}

func TestConnectClientReqRoundTrip(t *testing.T) {
	p := &PDU{
		Type: MsgConnectClientReq,
		ConnectClientReq: &ConnectClientReq{
			Identity:      Identity{Type: ComponentClient, Name: "client1", SWVersion: "1.0", HWVersion: "rev-a"},
			HasClientSlot: true,
			ClientSlot:    ClientSlot{ClientID: 1, SlotNr: 0},
		},
	}
	got := roundTrip(t, p)
	if *got.ConnectClientReq != *p.ConnectClientReq {
		t.Fatalf("got %+v, want %+v", got.ConnectClientReq, p.ConnectClientReq)
	}
}

func TestConnectClientReqNoSlot(t *testing.T) {
	p := &PDU{
		Type: MsgConnectClientReq,
		ConnectClientReq: &ConnectClientReq{
			Identity: Identity{Type: ComponentClient, Name: "client2"},
		},
	}
	got := roundTrip(t, p)
	if got.ConnectClientReq.HasClientSlot {
		t.Fatalf("HasClientSlot = true, want false")
	}
}

func TestConnectClientResRoundTrip(t *testing.T) {
	p := &PDU{
		Type: MsgConnectClientRes,
		ConnectClientRes: &ConnectClientRes{
			Identity: Identity{Type: ComponentServer, Name: "server", SWVersion: "2.3"},
			Result:   ResultOk,
		},
	}
	got := roundTrip(t, p)
	if *got.ConnectClientRes != *p.ConnectClientRes {
		t.Fatalf("got %+v, want %+v", got.ConnectClientRes, p.ConnectClientRes)
	}
}

func TestConnectBankReqRoundTrip(t *testing.T) {
	p := &PDU{
		Type: MsgConnectBankReq,
		ConnectBankReq: &ConnectBankReq{
			Identity: Identity{Type: ComponentBank, Name: "bank1"},
			BankID:   7,
			NumSlots: 8,
		},
	}
	got := roundTrip(t, p)
	if *got.ConnectBankReq != *p.ConnectBankReq {
		t.Fatalf("got %+v, want %+v", got.ConnectBankReq, p.ConnectBankReq)
	}
}

func TestConnectBankResRoundTrip(t *testing.T) {
	p := &PDU{
		Type: MsgConnectBankRes,
		ConnectBankRes: &ConnectBankRes{
			Identity: Identity{Type: ComponentServer, Name: "server"},
			Result:   ResultIdentityInUse,
		},
	}
	got := roundTrip(t, p)
	if *got.ConnectBankRes != *p.ConnectBankRes {
		t.Fatalf("got %+v, want %+v", got.ConnectBankRes, p.ConnectBankRes)
	}
}

func TestCreateMappingReqRoundTrip(t *testing.T) {
	p := &PDU{
		Type: MsgCreateMappingReq,
		CreateMappingReq: &CreateMappingReq{
			Client: ClientSlot{ClientID: 1, SlotNr: 0},
			Bank:   BankSlot{BankID: 7, SlotNr: 3},
		},
	}
	got := roundTrip(t, p)
	if *got.CreateMappingReq != *p.CreateMappingReq {
		t.Fatalf("got %+v, want %+v", got.CreateMappingReq, p.CreateMappingReq)
	}
}

func TestCreateMappingResRoundTrip(t *testing.T) {
	p := &PDU{
		Type: MsgCreateMappingRes,
		CreateMappingRes: &CreateMappingRes{
			Result: ResultOk,
			Client: ClientSlot{ClientID: 1, SlotNr: 0},
			Bank:   BankSlot{BankID: 7, SlotNr: 3},
		},
	}
	got := roundTrip(t, p)
	if *got.CreateMappingRes != *p.CreateMappingRes {
		t.Fatalf("got %+v, want %+v", got.CreateMappingRes, p.CreateMappingRes)
	}
}

func TestRemoveMappingRoundTrip(t *testing.T) {
	reqPDU := &PDU{
		Type: MsgRemoveMappingReq,
		RemoveMappingReq: &RemoveMappingReq{
			Client: ClientSlot{ClientID: 2, SlotNr: 1},
			Bank:   BankSlot{BankID: 9, SlotNr: 5},
		},
	}
	gotReq := roundTrip(t, reqPDU)
	if *gotReq.RemoveMappingReq != *reqPDU.RemoveMappingReq {
		t.Fatalf("got %+v, want %+v", gotReq.RemoveMappingReq, reqPDU.RemoveMappingReq)
	}

	resPDU := &PDU{
		Type: MsgRemoveMappingRes,
		RemoveMappingRes: &RemoveMappingRes{
			Result: ResultUnknownSlotmap,
			Client: ClientSlot{ClientID: 2, SlotNr: 1},
			Bank:   BankSlot{BankID: 9, SlotNr: 5},
		},
	}
	gotRes := roundTrip(t, resPDU)
	if *gotRes.RemoveMappingRes != *resPDU.RemoveMappingRes {
		t.Fatalf("got %+v, want %+v", gotRes.RemoveMappingRes, resPDU.RemoveMappingRes)
	}
}

func TestConfigClientBankRoundTrip(t *testing.T) {
	reqPDU := &PDU{
		Type: MsgConfigClientBankReq,
		ConfigClientBankReq: &ConfigClientBankReq{
			Bank: BankSlot{BankID: 7, SlotNr: 3},
			IP:   0xC0A80101,
			Port: 9999,
		},
	}
	gotReq := roundTrip(t, reqPDU)
	if *gotReq.ConfigClientBankReq != *reqPDU.ConfigClientBankReq {
		t.Fatalf("got %+v, want %+v", gotReq.ConfigClientBankReq, reqPDU.ConfigClientBankReq)
	}

	resPDU := &PDU{Type: MsgConfigClientBankRes, ConfigClientBankRes: &ConfigClientBankRes{Result: ResultOk}}
	gotRes := roundTrip(t, resPDU)
	if *gotRes.ConfigClientBankRes != *resPDU.ConfigClientBankRes {
		t.Fatalf("got %+v, want %+v", gotRes.ConfigClientBankRes, resPDU.ConfigClientBankRes)
	}
}

func TestConfigClientIdRoundTrip(t *testing.T) {
	reqPDU := &PDU{Type: MsgConfigClientIdReq, ConfigClientIdReq: &ConfigClientIdReq{ClientID: 42}}
	gotReq := roundTrip(t, reqPDU)
	if *gotReq.ConfigClientIdReq != *reqPDU.ConfigClientIdReq {
		t.Fatalf("got %+v, want %+v", gotReq.ConfigClientIdReq, reqPDU.ConfigClientIdReq)
	}

	resPDU := &PDU{Type: MsgConfigClientIdRes, ConfigClientIdRes: &ConfigClientIdRes{Result: ResultOk}}
	gotRes := roundTrip(t, resPDU)
	if *gotRes.ConfigClientIdRes != *resPDU.ConfigClientIdRes {
		t.Fatalf("got %+v, want %+v", gotRes.ConfigClientIdRes, resPDU.ConfigClientIdRes)
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty buffer")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte{0xFF}); err == nil {
		t.Fatal("expected error decoding unknown message type")
	}
}

func TestEncodeNilPayload(t *testing.T) {
	p := &PDU{Type: MsgConnectClientReq}
	if _, err := p.Encode(); err == nil {
		t.Fatal("expected error encoding PDU with nil payload")
	}
}

func TestPDUString(t *testing.T) {
	p := &PDU{Type: MsgConnectClientReq}
	if got := p.String(); got != "RsproPDU{ConnectClientReq}" {
		t.Fatalf("String() = %q", got)
	}
}
