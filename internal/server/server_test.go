package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/remsim-project/remsim-core/internal/ipa"
	"github.com/remsim-project/remsim-core/internal/rspro"
	"github.com/remsim-project/remsim-core/internal/slotmap"
)

type testPeer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTest(t *testing.T, addr string) *testPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (p *testPeer) send(pdu *rspro.PDU) {
	p.t.Helper()
	payload, err := pdu.Encode()
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if err := ipa.WriteRSPRO(p.conn, payload); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

// recvRSPRO reads envelopes until an RSPRO one arrives, answering PING
// control messages along the way, or fails the test after timeout.
func (p *testPeer) recvRSPRO(timeout time.Duration) *rspro.PDU {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	defer p.conn.SetReadDeadline(time.Time{})
	for {
		env, err := ipa.ReadEnvelope(p.r)
		if err != nil {
			p.t.Fatalf("recv: %v", err)
		}
		if env.IsRSPRO() {
			pdu, err := rspro.Decode(env.Payload)
			if err != nil {
				p.t.Fatalf("decode: %v", err)
			}
			return pdu
		}
		if typ, ok := env.ControlType(); ok && typ == ipa.MsgPing {
			_ = ipa.WriteControl(p.conn, ipa.MsgPong)
		}
	}
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := New(Config{ListenAddr: "127.0.0.1:0", Identity: rspro.Identity{Type: rspro.ComponentServer, Name: "srv"}})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Close()
	})

	s.wg.Add(1)
	go s.notifyLoop()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.acceptConn(conn)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s, ln.Addr().String()
}

func connectClient(t *testing.T, addr string, slot rspro.ClientSlot) *testPeer {
	t.Helper()
	p := dialTest(t, addr)
	p.send(&rspro.PDU{
		Type: rspro.MsgConnectClientReq,
		ConnectClientReq: &rspro.ConnectClientReq{
			Identity:      rspro.Identity{Type: rspro.ComponentClient, Name: "c"},
			HasClientSlot: true,
			ClientSlot:    slot,
		},
	})
	res := p.recvRSPRO(2 * time.Second)
	if res.Type != rspro.MsgConnectClientRes {
		t.Fatalf("got %v, want ConnectClientRes", res.Type)
	}
	if res.ConnectClientRes.Result != rspro.ResultOk {
		t.Fatalf("ConnectClientRes.Result = %v, want ok", res.ConnectClientRes.Result)
	}
	return p
}

func connectBank(t *testing.T, addr string, bankID, numSlots uint16) *testPeer {
	t.Helper()
	p := dialTest(t, addr)
	p.send(&rspro.PDU{
		Type: rspro.MsgConnectBankReq,
		ConnectBankReq: &rspro.ConnectBankReq{
			Identity: rspro.Identity{Type: rspro.ComponentBank, Name: "b"},
			BankID:   bankID,
			NumSlots: numSlots,
		},
	})
	res := p.recvRSPRO(2 * time.Second)
	if res.Type != rspro.MsgConnectBankRes {
		t.Fatalf("got %v, want ConnectBankRes", res.Type)
	}
	if res.ConnectBankRes.Result != rspro.ResultOk {
		t.Fatalf("ConnectBankRes.Result = %v, want ok", res.ConnectBankRes.Result)
	}
	return p
}

func TestHandshakeAssignsClientAndBankRoles(t *testing.T) {
	_, addr := startTestServer(t)
	connectClient(t, addr, rspro.ClientSlot{ClientID: 1, SlotNr: 0})
	connectBank(t, addr, 5, 8)
}

func TestDuplicateClientIdentityRejected(t *testing.T) {
	s, addr := startTestServer(t)
	_ = s
	slot := rspro.ClientSlot{ClientID: 2, SlotNr: 0}
	connectClient(t, addr, slot)

	dup := dialTest(t, addr)
	dup.send(&rspro.PDU{
		Type: rspro.MsgConnectClientReq,
		ConnectClientReq: &rspro.ConnectClientReq{
			Identity:      rspro.Identity{Type: rspro.ComponentClient, Name: "c2"},
			HasClientSlot: true,
			ClientSlot:    slot,
		},
	})
	res := dup.recvRSPRO(2 * time.Second)
	if res.ConnectClientRes.Result != rspro.ResultIdentityInUse {
		t.Fatalf("Result = %v, want identityInUse", res.ConnectClientRes.Result)
	}
}

func TestCreateMappingPushedToBankAndClientNotified(t *testing.T) {
	s, addr := startTestServer(t)
	clientSlot := rspro.ClientSlot{ClientID: 3, SlotNr: 0}
	bankSlot := rspro.BankSlot{BankID: 9, SlotNr: 1}

	clientConn := connectClient(t, addr, clientSlot)
	bankConn := connectBank(t, addr, 9, 8)

	if got := s.engine.Add(bankSlot, clientSlot); got != slotmap.AddOK {
		t.Fatalf("engine.Add = %v, want AddOK", got)
	}

	createReq := bankConn.recvRSPRO(2 * time.Second)
	if createReq.Type != rspro.MsgCreateMappingReq {
		t.Fatalf("bank got %v, want CreateMappingReq", createReq.Type)
	}
	bankConn.send(&rspro.PDU{
		Type: rspro.MsgCreateMappingRes,
		CreateMappingRes: &rspro.CreateMappingRes{
			Result: rspro.ResultOk,
			Client: createReq.CreateMappingReq.Client,
			Bank:   createReq.CreateMappingReq.Bank,
		},
	})

	cfgPush := clientConn.recvRSPRO(2 * time.Second)
	if cfgPush.Type != rspro.MsgConfigClientBankReq {
		t.Fatalf("client got %v, want ConfigClientBankReq", cfgPush.Type)
	}
	if cfgPush.ConfigClientBankReq.Bank != bankSlot {
		t.Fatalf("ConfigClientBankReq.Bank = %v, want %v", cfgPush.ConfigClientBankReq.Bank, bankSlot)
	}
	if cfgPush.ConfigClientBankReq.IP == 0 {
		t.Fatal("ConfigClientBankReq.IP = 0, want the bank peer's address")
	}
}

func TestBankDisconnectZeroesClientCoordinates(t *testing.T) {
	s, addr := startTestServer(t)
	clientSlot := rspro.ClientSlot{ClientID: 4, SlotNr: 0}
	bankSlot := rspro.BankSlot{BankID: 11, SlotNr: 2}

	clientConn := connectClient(t, addr, clientSlot)
	bankConn := connectBank(t, addr, 11, 8)

	s.engine.Add(bankSlot, clientSlot)

	createReq := bankConn.recvRSPRO(2 * time.Second)
	bankConn.send(&rspro.PDU{
		Type: rspro.MsgCreateMappingRes,
		CreateMappingRes: &rspro.CreateMappingRes{
			Result: rspro.ResultOk,
			Client: createReq.CreateMappingReq.Client,
			Bank:   createReq.CreateMappingReq.Bank,
		},
	})
	active := clientConn.recvRSPRO(2 * time.Second)
	if active.ConfigClientBankReq.IP == 0 {
		t.Fatal("expected non-zero bank IP before disconnect")
	}

	bankConn.conn.Close()

	zeroed := clientConn.recvRSPRO(2 * time.Second)
	if zeroed.Type != rspro.MsgConfigClientBankReq {
		t.Fatalf("got %v, want ConfigClientBankReq", zeroed.Type)
	}
	if zeroed.ConfigClientBankReq.IP != 0 || zeroed.ConfigClientBankReq.Port != 0 {
		t.Fatalf("coords = %+v, want zeroed after bank disconnect", zeroed.ConfigClientBankReq)
	}
}

func TestStateStringValues(t *testing.T) {
	cases := map[State]string{
		StateInit:            "INIT",
		StateEstablished:     "ESTABLISHED",
		StateWaitConfRes:     "WAIT_CONF_RES",
		StateConnectedClient: "CONNECTED_CLIENT",
		StateConnectedBankd:  "CONNECTED_BANKD",
		StateRejected:        "REJECTED",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
