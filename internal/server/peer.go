package server

import (
	"bufio"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/remsim-project/remsim-core/internal/ipa"
	"github.com/remsim-project/remsim-core/internal/keepalive"
	"github.com/remsim-project/remsim-core/internal/recovery"
	"github.com/remsim-project/remsim-core/internal/rspro"
)

// peer is one accepted TCP connection's FSM, created on accept and owned by
// the Server. It starts directly in ESTABLISHED: unlike the client-side
// FSM, there is no dial step — the connection is already up by the time the
// Server constructs a peer.
type peer struct {
	id     uint64
	conn   net.Conn
	server *Server
	logger *slog.Logger

	eventCh chan peerEvent
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu         sync.Mutex
	state      State
	identity   rspro.Identity
	clientSlot rspro.ClientSlot
	bankID     uint16
	numSlots   uint16
	lastCoords rspro.BankCoordinates
	ka         *keepalive.Supervisor
}

func newPeer(id uint64, conn net.Conn, s *Server) *peer {
	return &peer{
		id:      id,
		conn:    conn,
		server:  s,
		logger:  s.logger,
		eventCh: make(chan peerEvent, 16),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		state:   StateEstablished,
	}
}

func (p *peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Identity returns the peer's handshake identity. Safe for concurrent use.
func (p *peer) Identity() rspro.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

func (p *peer) post(ev peerEvent) {
	select {
	case p.eventCh <- ev:
	case <-p.stopCh:
	}
}

// run drives the peer's event loop and its reader goroutine. It returns
// once the peer is fully torn down.
func (p *peer) run() {
	defer close(p.doneCh)

	go p.readLoop()

	p.ka = keepalive.New(keepalive.DefaultInterval, keepalive.DefaultTimeout,
		func() error { return ipa.WriteControl(p.conn, ipa.MsgPing) },
		func() { p.post(peerEvent{kind: evKATimeout}) },
		p.logger)
	p.ka.Start()

	for {
		select {
		case <-p.stopCh:
			p.cleanup()
			return
		case ev := <-p.eventCh:
			p.handle(ev)
			if p.State() == StateRejected && ev.kind != evTCPDown {
				// fallthrough handled inside handle() via a timer
			}
		}
	}
}

func (p *peer) handle(ev peerEvent) {
	switch ev.kind {
	case evClientConn:
		p.handleClientConn(ev.pdu)
	case evBankConn:
		p.handleBankConn(ev.pdu)
	case evTCPDown:
		p.terminate()
	case evKATimeout:
		p.server.metrics.RecordKeepaliveTimeout(p.roleLabel())
		p.terminate()
	case evCreateMapRes:
		p.handleCreateMapRes()
	case evRemoveMapRes:
		p.handleRemoveMapRes()
	case evConfigClRes:
		// No action: this is an informational acknowledgement the
		// protocol defines but the server does not act on.
	case evPush:
		p.handlePush()
	case evClCfgBankd:
		p.sendConfigClientBank(ev.coords)
	}
}

func (p *peer) readLoop() {
	defer recovery.RecoverWithLog(p.logger, "server.peer.readLoop")
	r := bufio.NewReader(p.conn)
	for {
		env, err := ipa.ReadEnvelope(r)
		if err != nil {
			p.post(peerEvent{kind: evTCPDown})
			return
		}
		if env.IsRSPRO() {
			pdu, err := rspro.Decode(env.Payload)
			if err != nil {
				p.logger.Warn("server: decode error", slog.Any("error", err), slog.Uint64("peer", p.id))
				continue
			}
			p.dispatchPDU(pdu)
			continue
		}
		if typ, ok := env.ControlType(); ok {
			switch typ {
			case ipa.MsgPong:
				p.mu.Lock()
				ka := p.ka
				p.mu.Unlock()
				if ka != nil {
					ka.Pong()
				}
			case ipa.MsgPing:
				_ = ipa.WriteControl(p.conn, ipa.MsgPong)
			}
		}
	}
}

func (p *peer) dispatchPDU(pdu *rspro.PDU) {
	switch pdu.Type {
	case rspro.MsgConnectClientReq:
		p.post(peerEvent{kind: evClientConn, pdu: pdu})
	case rspro.MsgConnectBankReq:
		p.post(peerEvent{kind: evBankConn, pdu: pdu})
	case rspro.MsgCreateMappingRes:
		p.post(peerEvent{kind: evCreateMapRes, pdu: pdu})
	case rspro.MsgRemoveMappingRes:
		p.post(peerEvent{kind: evRemoveMapRes, pdu: pdu})
	case rspro.MsgConfigClientBankRes:
		p.post(peerEvent{kind: evConfigClRes, pdu: pdu})
	default:
		p.logger.Debug("server: unexpected PDU from peer", slog.Any("type", pdu.Type), slog.Uint64("peer", p.id))
	}
}

func (p *peer) handleClientConn(pdu *rspro.PDU) {
	if p.State() != StateEstablished || pdu.ConnectClientReq == nil {
		p.terminate()
		return
	}
	req := pdu.ConnectClientReq
	if req.Identity.Type != rspro.ComponentClient {
		p.terminate()
		return
	}
	if !req.HasClientSlot {
		// Dynamic client-ID allocation is never driven by any FSM here.
		p.reply(&rspro.PDU{
			Type: rspro.MsgConnectClientRes,
			ConnectClientRes: &rspro.ConnectClientRes{
				Identity: p.server.cfg.Identity,
				Result:   rspro.ResultIllegalClientID,
			},
		})
		p.server.metrics.RecordPeerRejection(rspro.ResultIllegalClientID.String())
		p.reject()
		return
	}

	p.mu.Lock()
	p.identity = req.Identity
	p.clientSlot = req.ClientSlot
	p.mu.Unlock()

	if !p.server.registerClient(req.ClientSlot, p) {
		p.reply(&rspro.PDU{
			Type: rspro.MsgConnectClientRes,
			ConnectClientRes: &rspro.ConnectClientRes{
				Identity: p.server.cfg.Identity,
				Result:   rspro.ResultIdentityInUse,
			},
		})
		p.server.metrics.RecordPeerRejection(rspro.ResultIdentityInUse.String())
		p.reject()
		return
	}

	p.reply(&rspro.PDU{
		Type: rspro.MsgConnectClientRes,
		ConnectClientRes: &rspro.ConnectClientRes{
			Identity: p.server.cfg.Identity,
			Result:   rspro.ResultOk,
		},
	})
	p.setState(StateConnectedClient)
	p.server.metrics.RecordPeerConnect("client")
	p.server.onClientConnected(req.ClientSlot, p)
}

func (p *peer) handleBankConn(pdu *rspro.PDU) {
	if p.State() != StateEstablished || pdu.ConnectBankReq == nil {
		p.terminate()
		return
	}
	req := pdu.ConnectBankReq
	if req.Identity.Type != rspro.ComponentBank {
		p.terminate()
		return
	}

	p.mu.Lock()
	p.identity = req.Identity
	p.bankID = req.BankID
	p.numSlots = req.NumSlots
	p.mu.Unlock()

	if !p.server.registerBank(req.BankID, p) {
		p.reply(&rspro.PDU{
			Type: rspro.MsgConnectBankRes,
			ConnectBankRes: &rspro.ConnectBankRes{
				Identity: p.server.cfg.Identity,
				Result:   rspro.ResultIdentityInUse,
			},
		})
		p.server.metrics.RecordPeerRejection(rspro.ResultIdentityInUse.String())
		p.reject()
		return
	}

	p.reply(&rspro.PDU{
		Type: rspro.MsgConnectBankRes,
		ConnectBankRes: &rspro.ConnectBankRes{
			Identity: p.server.cfg.Identity,
			Result:   rspro.ResultOk,
		},
	})
	p.setState(StateConnectedBankd)
	p.server.metrics.RecordPeerConnect("bank")
	p.server.engine.BankConnected(req.BankID, req.NumSlots)
	p.post(peerEvent{kind: evPush})
}

func (p *peer) handleCreateMapRes() {
	if p.State() != StateConnectedBankd {
		return
	}
	m, rt, ok := p.server.engine.AckCreate(p.bankID)
	if !ok {
		return
	}
	p.server.metrics.RecordMappingCreateRoundTrip(rt.Seconds())
	p.server.runClientUpdate(m, p)
}

func (p *peer) handleRemoveMapRes() {
	if p.State() != StateConnectedBankd {
		return
	}
	m, rt, ok := p.server.engine.AckRemove(p.bankID)
	if !ok {
		return
	}
	p.server.metrics.RecordMappingRemoveRoundTrip(rt.Seconds())
	p.server.runClientUpdate(m, nil)
}

func (p *peer) handlePush() {
	if p.State() != StateConnectedBankd {
		return
	}
	for _, m := range p.server.engine.DrainNew(p.bankID) {
		p.send(&rspro.PDU{
			Type: rspro.MsgCreateMappingReq,
			CreateMappingReq: &rspro.CreateMappingReq{
				Client: m.Client,
				Bank:   m.Bank,
			},
		})
	}
	for _, m := range p.server.engine.DrainDeleteRequested(p.bankID) {
		p.send(&rspro.PDU{
			Type: rspro.MsgRemoveMappingReq,
			RemoveMappingReq: &rspro.RemoveMappingReq{
				Client: m.Client,
				Bank:   m.Bank,
			},
		})
	}
}

func (p *peer) sendConfigClientBank(coords rspro.BankCoordinates) {
	if p.State() != StateConnectedClient {
		return
	}
	p.mu.Lock()
	p.lastCoords = coords
	p.mu.Unlock()
	p.send(&rspro.PDU{
		Type: rspro.MsgConfigClientBankReq,
		ConfigClientBankReq: &rspro.ConfigClientBankReq{
			Bank: coords.Slot,
			IP:   coords.IP,
			Port: coords.Port,
		},
	})
}

func (p *peer) reply(pdu *rspro.PDU) {
	p.send(pdu)
}

func (p *peer) send(pdu *rspro.PDU) {
	payload, err := pdu.Encode()
	if err != nil {
		p.logger.Warn("server: encode failed", slog.Any("error", err))
		return
	}
	if err := ipa.WriteRSPRO(p.conn, payload); err != nil {
		p.logger.Debug("server: write failed", slog.Any("error", err), slog.Uint64("peer", p.id))
	}
}

// reject moves the peer to REJECTED and schedules termination after a
// short grace period so the rejection reply (identityInUse or
// illegalClientId) has time to flush.
func (p *peer) reject() {
	p.setState(StateRejected)
	time.AfterFunc(rejectGraceDefault, func() { p.post(peerEvent{kind: evTCPDown}) })
}

// terminate tears down the peer unconditionally, from any state, on
// TCP loss or a keepalive timeout.
func (p *peer) terminate() {
	close(p.stopCh)
}

func (p *peer) cleanup() {
	p.mu.Lock()
	ka := p.ka
	p.mu.Unlock()
	if ka != nil {
		ka.Stop()
	}
	p.conn.Close()
	p.server.unregister(p)
}

// roleLabel returns the metrics role label ("client", "bank", or
// "unidentified") for the peer's current state.
func (p *peer) roleLabel() string {
	return roleForState(p.State())
}

func roleForState(st State) string {
	switch st {
	case StateConnectedClient:
		return "client"
	case StateConnectedBankd:
		return "bank"
	default:
		return "unidentified"
	}
}

// remoteIPBE returns the peer's remote IPv4 address as a big-endian number,
// or 0 if unavailable.
func (p *peer) remoteIPBE() uint32 {
	tcpAddr, ok := p.conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}
