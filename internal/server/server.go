package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/remsim-project/remsim-core/internal/metrics"
	"github.com/remsim-project/remsim-core/internal/notify"
	"github.com/remsim-project/remsim-core/internal/recovery"
	"github.com/remsim-project/remsim-core/internal/rspro"
	"github.com/remsim-project/remsim-core/internal/slotmap"
)

// Config parameterizes a Server instance.
type Config struct {
	ListenAddr string
	Identity   rspro.Identity

	// AcceptRate and AcceptBurst bound how fast new TCP connections are
	// accepted, guarding against a connect storm from a flapping client.
	AcceptRate  rate.Limit
	AcceptBurst int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server owns the accept loop, the peer registries, the slot-mapping
// engine, and the notification dispatcher that turns engine wakeups into
// targeted PUSH events.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	engine   *slotmap.Engine
	notifier *notify.Endpoint
	limiter  *rate.Limiter

	mu      sync.RWMutex
	nextID  uint64
	peers   map[uint64]*peer
	clients map[rspro.ClientSlot]*peer
	banks   map[uint16]*peer

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Server. Call Serve to run its accept loop.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AcceptRate <= 0 {
		cfg.AcceptRate = 50
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = 10
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	n := notify.New()
	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		engine:   slotmap.New(n),
		notifier: n,
		limiter:  rate.NewLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		peers:    make(map[uint64]*peer),
		clients:  make(map[rspro.ClientSlot]*peer),
		banks:    make(map[uint16]*peer),
		stopCh:   make(chan struct{}),
	}
}

// Engine exposes the slot-mapping engine for the admin surface.
func (s *Server) Engine() *slotmap.Engine { return s.engine }

// Serve opens the listen socket and runs the accept loop until ctx is
// cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.notifyLoop()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Info("server: listening", slog.String("addr", s.cfg.ListenAddr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			conn.Close()
			continue
		}
		s.acceptConn(conn)
	}
}

// Close stops the accept loop and tears down every peer connection.
func (s *Server) Close() {
	select {
	case <-s.stopCh:
		return
	default:
		close(s.stopCh)
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.terminate()
	}
	s.wg.Wait()
}

func (s *Server) acceptConn(conn net.Conn) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	p := newPeer(id, conn, s)
	s.mu.Lock()
	s.peers[id] = p
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer recovery.RecoverWithLog(s.logger, "server.peer.run")
		p.run()
	}()
}

// registerClient links slot to p if no peer currently owns that slot.
func (s *Server) registerClient(slot rspro.ClientSlot, p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[slot]; exists {
		return false
	}
	s.clients[slot] = p
	return true
}

// registerBank links bankID to p if no peer currently owns it.
func (s *Server) registerBank(bankID uint16, p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.banks[bankID]; exists {
		return false
	}
	s.banks[bankID] = p
	return true
}

// onClientConnected runs the client-update procedure once for a freshly
// connected client, so it learns its current bank coordinates (if any)
// right away instead of waiting for the next engine-driven wakeup.
func (s *Server) onClientConnected(slot rspro.ClientSlot, p *peer) {
	if m, ok := s.engine.GetByClient(slot); ok {
		s.sendClientUpdate(p, m)
	}
}

// unregister removes p from every registry it may be part of. Bank peers
// also unlink from the slot-mapping engine and, if any mapping survives in
// NEW, immediately notify the affected clients that their bank coordinates
// are gone.
func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	delete(s.peers, p.id)
	st := p.State()
	identity, clientSlot, bankID := p.identity, p.clientSlot, p.bankID
	if st == StateConnectedClient {
		if cur, ok := s.clients[clientSlot]; ok && cur == p {
			delete(s.clients, clientSlot)
		}
	}
	var wasBank bool
	if st == StateConnectedBankd {
		if cur, ok := s.banks[bankID]; ok && cur == p {
			delete(s.banks, bankID)
			wasBank = true
		}
	}
	s.mu.Unlock()

	s.logger.Info("server: peer disconnected", slog.Any("identity", identity), slog.Uint64("peer", p.id))
	if role := roleForState(st); role != "unidentified" {
		s.metrics.RecordPeerDisconnect(role)
	}

	if !wasBank {
		return
	}
	survivors := s.engine.BankDisconnected(bankID)
	s.refreshMappingMetrics()
	for _, m := range survivors {
		s.notifyClientOfMapping(m)
	}
}

// refreshMappingMetrics snapshots the engine's per-state mapping counts into
// the gauge. Called after a create/remove acknowledgement and after a bank
// disconnect; it is a point-in-time snapshot, not a running total, so states
// with no mappings are set to zero.
func (s *Server) refreshMappingMetrics() {
	counts := s.engine.CountByState()
	for st := slotmap.StateNew; st <= slotmap.StateDeleting; st++ {
		s.metrics.SetMappingsByState(st.String(), counts[st])
	}
}

// runClientUpdate is called by a peer's event loop after a CREATE_MAP_RES
// (bankPeer non-nil: coordinates now resolvable) or REMOVE_MAP_RES
// (bankPeer nil: the mapping is gone, coordinates become zero) to push the
// client-update procedure for the affected client.
func (s *Server) runClientUpdate(m *slotmap.Mapping, bankPeer *peer) {
	if m == nil {
		return
	}
	s.refreshMappingMetrics()
	s.notifyClientOfMapping(*m)
}

func (s *Server) notifyClientOfMapping(m slotmap.Mapping) {
	s.mu.RLock()
	clientPeer, clientOK := s.clients[m.Client]
	s.mu.RUnlock()
	if !clientOK {
		return
	}
	s.sendClientUpdate(clientPeer, m)
}

// sendClientUpdate decides the coordinates to tell a client about for
// mapping m, and dispatches them as a CL_CFG_BANKD event on its peer.
// Coordinates are zero unless the owning bank is connected and the mapping
// is ACTIVE — a client is only told to dial a bank once that bank has
// actually acknowledged the mapping.
func (s *Server) sendClientUpdate(clientPeer *peer, m slotmap.Mapping) {
	coords := rspro.BankCoordinates{Slot: m.Bank}

	if m.State == slotmap.StateActive {
		s.mu.RLock()
		bankPeer, ok := s.banks[m.Bank.BankID]
		s.mu.RUnlock()
		if ok {
			coords.IP = bankPeer.remoteIPBE()
			coords.Port = s.cfg.bankAdvertisedPort(bankPeer)
		}
	}

	clientPeer.post(peerEvent{kind: evClCfgBankd, coords: coords})
}

// notifyLoop drains the engine's notification signal and sweeps every
// connected bank for pending work, dispatching a PUSH event to each one
// that has mappings waiting in maps_new or maps_delreq. A goroutine-per-peer
// server has no single thread to push from, so a dedicated dispatcher
// goroutine does the sweep and hands off to the owning peer's own event
// loop instead of mutating it directly.
func (s *Server) notifyLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.notifier.C():
			s.metrics.RecordNotifyWakeup()
			s.sweepPush()
		}
	}
}

func (s *Server) sweepPush() {
	for _, bankID := range s.engine.ConnectedBankIDs() {
		if !s.engine.HasPendingWork(bankID) {
			continue
		}
		s.mu.RLock()
		p, ok := s.banks[bankID]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		p.post(peerEvent{kind: evPush})
		s.metrics.RecordPushDispatched()
	}
}

// Peers returns a snapshot of connected peer identities, for the admin
// surface.
func (s *Server) Peers() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, PeerInfo{
			Identity: p.Identity(),
			State:    p.State(),
		})
	}
	return out
}

// PeerInfo is a point-in-time snapshot of one connected peer.
type PeerInfo struct {
	Identity rspro.Identity
	State    State
}

// bankAdvertisedPort returns the port clients should dial on the given bank
// peer. Banks do not carry a listen port in their handshake payload, so the
// server advertises a single well-known port shared across all banks,
// matching how a real deployment fixes its bankd listen port in advance.
func (c Config) bankAdvertisedPort(p *peer) uint16 {
	return defaultBankPort
}

// defaultBankPort is the TCP port the server tells clients to dial on every
// bank. The remsim-bankd emulator in this repository opens no listener on it.
const defaultBankPort = 9999
