// Package control provides the admin HTTP surface: a Unix-domain-socket
// server that lets an operator enumerate peers and mappings, submit
// add/remove-mapping requests, and scrape Prometheus metrics, without
// exposing any of this on the network the clients and banks dial in on.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remsim-project/remsim-core/internal/rspro"
	"github.com/remsim-project/remsim-core/internal/server"
	"github.com/remsim-project/remsim-core/internal/slotmap"
)

// PeerInfo is the JSON view of one connected peer.
type PeerInfo struct {
	Identity string `json:"identity"`
	State    string `json:"state"`
}

// MappingInfo is the JSON view of one live slot mapping.
type MappingInfo struct {
	Bank   rspro.BankSlot   `json:"bank"`
	Client rspro.ClientSlot `json:"client"`
	State  string           `json:"state"`
}

// StatusResponse is the response for GET /status.
type StatusResponse struct {
	Identity   string `json:"identity"`
	UptimeSecs int64  `json:"uptime_secs"`
	ClientsUp  int    `json:"clients_connected"`
	BanksUp    int    `json:"banks_connected"`
}

// PeersResponse is the response for GET /peers.
type PeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// MappingsResponse is the response for GET /mappings.
type MappingsResponse struct {
	Mappings []MappingInfo `json:"mappings"`
}

// AddMappingRequest is the body of POST /mappings.
type AddMappingRequest struct {
	Bank   rspro.BankSlot   `json:"bank"`
	Client rspro.ClientSlot `json:"client"`
}

// RemoveMappingRequest is the body of DELETE /mappings. Exactly one of Bank
// or Client should carry a non-zero slot.
type RemoveMappingRequest struct {
	Bank   *rspro.BankSlot   `json:"bank,omitempty"`
	Client *rspro.ClientSlot `json:"client,omitempty"`
}

// ServerConfig configures the admin control server.
type ServerConfig struct {
	// SocketPath is the Unix socket the control server listens on.
	SocketPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./data/remsim-control.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the admin control server, backed by a running server.Server.
type Server struct {
	cfg       ServerConfig
	core      *server.Server
	identity  string
	startedAt time.Time
	logger    *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
}

// NewServer creates an admin control server fronting core.
func NewServer(cfg ServerConfig, core *server.Server, identity string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		core:      core,
		identity:  identity,
		startedAt: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/mappings", s.handleMappings)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins serving on the configured Unix socket.
func (s *Server) Start() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("control: serve error", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop shuts the control server down and removes its socket file.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsRunning reports whether the control server is currently serving.
func (s *Server) IsRunning() bool { return s.running.Load() }

// SocketPath returns the socket path the control server listens on.
func (s *Server) SocketPath() string { return s.cfg.SocketPath }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var clients, banks int
	for _, p := range s.core.Peers() {
		switch p.State.String() {
		case "CONNECTED_CLIENT":
			clients++
		case "CONNECTED_BANKD":
			banks++
		}
	}
	writeJSON(w, StatusResponse{
		Identity:   s.identity,
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
		ClientsUp:  clients,
		BanksUp:    banks,
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	core := s.core.Peers()
	peers := make([]PeerInfo, 0, len(core))
	for _, p := range core {
		peers = append(peers, PeerInfo{
			Identity: p.Identity.String(),
			State:    p.State.String(),
		})
	}
	writeJSON(w, PeersResponse{Peers: peers})
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listMappings(w, r)
	case http.MethodPost:
		s.addMapping(w, r)
	case http.MethodDelete:
		s.removeMapping(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	live := s.core.Engine().List()
	out := make([]MappingInfo, 0, len(live))
	for _, m := range live {
		out = append(out, MappingInfo{Bank: m.Bank, Client: m.Client, State: m.State.String()})
	}
	writeJSON(w, MappingsResponse{Mappings: out})
}

func (s *Server) addMapping(w http.ResponseWriter, r *http.Request) {
	var req AddMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Bank.BankID == 0 || req.Client.ClientID == 0 {
		http.Error(w, "bank and client must be set", http.StatusBadRequest)
		return
	}
	result := s.core.Engine().Add(req.Bank, req.Client)
	if result != slotmap.AddOK {
		http.Error(w, "mapping busy: bank or client already mapped", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) removeMapping(w http.ResponseWriter, r *http.Request) {
	var req RemoveMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}
	var ok bool
	switch {
	case req.Bank != nil:
		ok = s.core.Engine().RequestRemoveByBank(*req.Bank)
	case req.Client != nil:
		ok = s.core.Engine().RequestRemoveByClient(*req.Client)
	default:
		http.Error(w, "bank or client must be set", http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "no active mapping found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
