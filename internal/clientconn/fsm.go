// Package clientconn implements the outbound, client-side RSPRO connection
// FSM: it drives connect, handshake, liveness and backoff-scheduled
// reconnection over a single TCP channel to the server. Both remsim-client
// and remsim-bankd dial the server through this FSM, distinguished only by
// which of Config.ClientSlot or Config.BankID/NumSlots is populated.
package clientconn

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/remsim-project/remsim-core/internal/backoff"
	"github.com/remsim-project/remsim-core/internal/ipa"
	"github.com/remsim-project/remsim-core/internal/keepalive"
	"github.com/remsim-project/remsim-core/internal/recovery"
	"github.com/remsim-project/remsim-core/internal/rspro"
)

// State is one of the five client-side connection states.
type State int32

const (
	StateInit State = iota
	StateEstablished
	StateConnected
	StateReestablishDelay
	StateReestablish
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateConnected:
		return "CONNECTED"
	case StateReestablishDelay:
		return "REESTABLISH_DELAY"
	case StateReestablish:
		return "REESTABLISH"
	default:
		return "UNKNOWN"
	}
}

const (
	tHandshake   = 10 * time.Second
	tTCPConnect  = 10 * time.Second
)

type eventKind int

const (
	evEstablish eventKind = iota
	evDisconnect
	evTCPUp
	evTCPDown
	evKATimeout
	evHandshakeRes
	evTX
	evTimerHandshake
	evTimerTCPConnect
	evTimerDelay
)

type fsmEvent struct {
	kind eventKind
	pdu  *rspro.PDU
	gen  uint64
}

// Dialer opens the outbound TCP connection. Overridable for tests.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

func defaultDialer(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// Config parameterizes one FSM instance.
type Config struct {
	ServerAddr string
	Identity   rspro.Identity

	// Client-role handshake fields. ClientSlot is required: dynamic
	// client-ID allocation is never driven by this FSM.
	ClientSlot *rspro.ClientSlot

	// Bank-role handshake fields.
	BankID   uint16
	NumSlots uint16

	Schedule []time.Duration
	Dialer   Dialer
	Logger   *slog.Logger

	// OnConnected/OnDisconnected are invoked from the FSM goroutine when
	// entering/leaving CONNECTED; they must not block.
	OnConnected    func()
	OnDisconnected func()

	// OnPDU is invoked from the connection's reader goroutine for every
	// inbound PDU other than the handshake response, which the FSM consumes
	// itself.
	OnPDU func(*rspro.PDU)
}

// FSM is one client-side connection state machine. The zero value is not
// usable; construct with New.
type FSM struct {
	cfg     Config
	backoff *backoff.Backoff
	logger  *slog.Logger

	eventCh chan fsmEvent
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu          sync.Mutex
	state       State
	conn        net.Conn
	ka          *keepalive.Supervisor
	generation  uint64
	lastAttempt time.Time
	connectedAt time.Time
}

// New creates an FSM in state INIT. Call Run to start its event loop, then
// Establish to begin connecting.
func New(cfg Config) *FSM {
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FSM{
		cfg:     cfg,
		backoff: backoff.New(cfg.Schedule),
		logger:  cfg.Logger,
		eventCh: make(chan fsmEvent, 16),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		state:   StateInit,
	}
}

// State returns the current state. Safe for concurrent use.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Establish posts the ESTABLISH event, starting the connect/reconnect cycle.
func (f *FSM) Establish() {
	f.post(fsmEvent{kind: evEstablish})
}

// Disconnect posts the DISCONNECT event, tearing down any channel and
// returning to INIT.
func (f *FSM) Disconnect() {
	f.post(fsmEvent{kind: evDisconnect})
}

// Send encodes and transmits pdu over the current channel. It is
// fire-and-forget: a PDU handed to Send while not CONNECTED, or one that
// fails to encode, is silently dropped — the caller observes this only as
// the absence of a response.
func (f *FSM) Send(pdu *rspro.PDU) {
	f.post(fsmEvent{kind: evTX, pdu: pdu})
}

// Close stops the event loop and tears down any open channel.
func (f *FSM) Close() {
	close(f.stopCh)
	<-f.doneCh
}

func (f *FSM) post(ev fsmEvent) {
	select {
	case f.eventCh <- ev:
	case <-f.stopCh:
	}
}

// Run executes the event loop. It blocks until Close is called; callers
// should run it in its own goroutine.
func (f *FSM) Run() {
	defer close(f.doneCh)

	var handshakeTimer, tcpConnectTimer, delayTimer *time.Timer
	stopTimer := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	defer func() {
		stopTimer(handshakeTimer)
		stopTimer(tcpConnectTimer)
		stopTimer(delayTimer)
		f.teardownChannel()
	}()

	for {
		select {
		case <-f.stopCh:
			return
		case ev := <-f.eventCh:
			if isGenerationScoped(ev.kind) && ev.gen != f.currentGeneration() {
				continue
			}
			switch ev.kind {
			case evEstablish:
				f.backoff.Reset()
				f.lastAttempt = time.Time{}
				f.enterReestablishDelay(&delayTimer)
			case evDisconnect:
				stopTimer(handshakeTimer)
				stopTimer(tcpConnectTimer)
				stopTimer(delayTimer)
				f.teardownChannel()
				f.setState(StateInit)
			case evTCPUp:
				if f.State() != StateReestablish {
					continue
				}
				stopTimer(tcpConnectTimer)
				f.enterEstablished(&handshakeTimer)
			case evTCPDown, evKATimeout:
				switch f.State() {
				case StateReestablish:
					continue // wait for T_tcp_connect
				case StateEstablished, StateConnected:
					stopTimer(handshakeTimer)
					f.teardownChannel()
					f.enterReestablishDelay(&delayTimer)
				}
			case evHandshakeRes:
				if f.State() != StateEstablished {
					continue
				}
				stopTimer(handshakeTimer)
				if resultOK(ev.pdu) {
					f.enterConnected()
				} else {
					f.teardownChannel()
					f.enterReestablishDelay(&delayTimer)
				}
			case evTX:
				if f.State() == StateConnected {
					f.writePDU(ev.pdu)
				}
			case evTimerHandshake:
				if f.State() == StateEstablished {
					f.teardownChannel()
					f.enterReestablishDelay(&delayTimer)
				}
			case evTimerTCPConnect:
				if f.State() == StateReestablish {
					f.enterReestablishDelay(&delayTimer)
				}
			case evTimerDelay:
				if f.State() == StateReestablishDelay {
					f.enterReestablish(&tcpConnectTimer)
				}
			}
		}
	}
}

func isGenerationScoped(k eventKind) bool {
	switch k {
	case evTCPUp, evTCPDown, evKATimeout, evHandshakeRes, evTimerHandshake, evTimerTCPConnect, evTimerDelay:
		return true
	default:
		return false
	}
}

func resultOK(pdu *rspro.PDU) bool {
	if pdu == nil {
		return false
	}
	switch pdu.Type {
	case rspro.MsgConnectClientRes:
		return pdu.ConnectClientRes != nil && pdu.ConnectClientRes.Result == rspro.ResultOk
	case rspro.MsgConnectBankRes:
		return pdu.ConnectBankRes != nil && pdu.ConnectBankRes.Result == rspro.ResultOk
	default:
		return false
	}
}

func (f *FSM) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *FSM) enterReestablishDelay(delayTimer **time.Timer) {
	f.teardownChannel()
	f.setState(StateReestablishDelay)

	if !f.connectedAt.IsZero() {
		up := time.Since(f.connectedAt)
		f.backoff.MaybeReset(up, tHandshake, tTCPConnect)
		f.connectedAt = time.Time{}
	}

	raw := f.backoff.Next()
	elapsed := time.Duration(0)
	if !f.lastAttempt.IsZero() {
		elapsed = time.Since(f.lastAttempt)
	}
	delay := raw - elapsed
	if delay < time.Millisecond {
		delay = time.Millisecond
	}

	if *delayTimer != nil {
		(*delayTimer).Stop()
	}
	gen := f.bumpGeneration()
	*delayTimer = time.AfterFunc(delay, func() { f.post(fsmEvent{kind: evTimerDelay, gen: gen}) })
}

func (f *FSM) enterReestablish(tcpConnectTimer **time.Timer) {
	f.setState(StateReestablish)
	f.lastAttempt = time.Now()
	gen := f.bumpGeneration()

	if *tcpConnectTimer != nil {
		(*tcpConnectTimer).Stop()
	}
	*tcpConnectTimer = time.AfterFunc(tTCPConnect, func() { f.post(fsmEvent{kind: evTimerTCPConnect, gen: gen}) })

	go f.dialAndRead(gen)
}

func (f *FSM) dialAndRead(gen uint64) {
	defer recovery.RecoverWithLog(f.logger, "clientconn.dialAndRead")
	ctx, cancel := context.WithTimeout(context.Background(), tTCPConnect)
	defer cancel()

	conn, err := f.cfg.Dialer(ctx, f.cfg.ServerAddr)
	if err != nil {
		f.logger.Debug("clientconn: dial failed", slog.Any("error", err))
		f.post(fsmEvent{kind: evTCPDown, gen: gen})
		return
	}

	f.mu.Lock()
	if f.generation != gen {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.conn = conn
	f.mu.Unlock()

	f.post(fsmEvent{kind: evTCPUp, gen: gen})
	f.readLoop(conn, gen)
}

func (f *FSM) readLoop(conn net.Conn, gen uint64) {
	r := bufio.NewReader(conn)
	for {
		env, err := ipa.ReadEnvelope(r)
		if err != nil {
			f.post(fsmEvent{kind: evTCPDown, gen: gen})
			return
		}
		if env.IsRSPRO() {
			pdu, err := rspro.Decode(env.Payload)
			if err != nil {
				f.logger.Warn("clientconn: decode error", slog.Any("error", err))
				continue
			}
			switch pdu.Type {
			case rspro.MsgConnectClientRes, rspro.MsgConnectBankRes:
				f.post(fsmEvent{kind: evHandshakeRes, pdu: pdu, gen: gen})
			default:
				if f.cfg.OnPDU != nil {
					f.cfg.OnPDU(pdu)
				}
			}
			continue
		}
		if typ, ok := env.ControlType(); ok {
			switch typ {
			case ipa.MsgPong:
				f.mu.Lock()
				ka := f.ka
				f.mu.Unlock()
				if ka != nil {
					ka.Pong()
				}
			case ipa.MsgPing:
				_ = ipa.WriteControl(conn, ipa.MsgPong)
			}
		}
	}
}

func (f *FSM) enterEstablished(handshakeTimer **time.Timer) {
	f.setState(StateEstablished)

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	gen := f.currentGeneration()

	ka := keepalive.New(keepalive.DefaultInterval, keepalive.DefaultTimeout,
		func() error { return ipa.WriteControl(conn, ipa.MsgPing) },
		func() { f.post(fsmEvent{kind: evKATimeout, gen: gen}) },
		f.logger)
	f.mu.Lock()
	f.ka = ka
	f.mu.Unlock()
	ka.Start()

	f.writeHandshake(conn)

	if *handshakeTimer != nil {
		(*handshakeTimer).Stop()
	}
	*handshakeTimer = time.AfterFunc(tHandshake, func() { f.post(fsmEvent{kind: evTimerHandshake, gen: gen}) })
}

func (f *FSM) writeHandshake(conn net.Conn) {
	f.writePDU(buildHandshakeReq(f.cfg))
}

func (f *FSM) writePDU(pdu *rspro.PDU) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	payload, err := pdu.Encode()
	if err != nil {
		f.logger.Warn("clientconn: encode failed", slog.Any("error", err))
		return
	}
	if err := ipa.WriteRSPRO(conn, payload); err != nil {
		f.logger.Debug("clientconn: write failed", slog.Any("error", err))
	}
}

func (f *FSM) enterConnected() {
	f.setState(StateConnected)
	f.connectedAt = time.Now()
	if f.cfg.OnConnected != nil {
		f.cfg.OnConnected()
	}
}

func (f *FSM) teardownChannel() {
	wasConnected := f.State() == StateConnected

	f.mu.Lock()
	f.generation++
	conn := f.conn
	f.conn = nil
	ka := f.ka
	f.ka = nil
	f.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	if conn != nil {
		conn.Close()
	}

	if wasConnected && f.cfg.OnDisconnected != nil {
		f.cfg.OnDisconnected()
	}
}

func (f *FSM) bumpGeneration() uint64 {
	f.mu.Lock()
	f.generation++
	g := f.generation
	f.mu.Unlock()
	return g
}

func (f *FSM) currentGeneration() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}
