// Package slotmap implements the slot-mapping engine: the
// read-write-locked {client ↔ bank-slot} relation, its per-bank-peer work
// queues, and the notification signal that wakes the server event loop when
// an out-of-thread producer has changed the mapping set.
package slotmap

import (
	"sync"
	"time"

	"github.com/remsim-project/remsim-core/internal/notify"
	"github.com/remsim-project/remsim-core/internal/rspro"
)

// State is one of the five SlotMapping lifecycle states.
type State int

const (
	StateNew State = iota
	StateUnacknowledged
	StateActive
	StateDeleteRequested
	StateDeleting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateUnacknowledged:
		return "UNACKNOWLEDGED"
	case StateActive:
		return "ACTIVE"
	case StateDeleteRequested:
		return "DELETE_REQUESTED"
	case StateDeleting:
		return "DELETING"
	default:
		return "UNKNOWN"
	}
}

// Mapping is one {bank, client} association.
type Mapping struct {
	Bank   rspro.BankSlot
	Client rspro.ClientSlot
	State  State

	// dispatchedAt marks when this mapping's current request (createMappingReq
	// or removeMappingReq) was handed to the caller for sending, so AckCreate
	// and AckRemove can report a round-trip duration once the matching
	// response arrives.
	dispatchedAt time.Time
}

// AddResult is the outcome of Engine.Add.
type AddResult int

const (
	AddOK AddResult = iota
	AddBusy
)

// bankQueues holds one connected bank peer's five work queues as ordered
// slices, used as FIFOs (append at the tail, pop from the head) to satisfy
// the protocol's positional response correlation: RSPRO carries no
// correlation ID, so a bank's responses are matched to the head of its
// per-state queue in the order the corresponding requests went out.
type bankQueues struct {
	numSlots  uint16
	newQ      []*Mapping
	unackQ    []*Mapping
	activeQ   []*Mapping
	delreqQ   []*Mapping
	deletingQ []*Mapping
}

// Engine owns the global mapping set and the per-bank work queues under one
// read-write lock.
type Engine struct {
	mu       sync.RWMutex
	byBank   map[rspro.BankSlot]*Mapping
	byClient map[rspro.ClientSlot]*Mapping
	queues   map[uint16]*bankQueues // keyed by bank_id, present iff that bank is connected
	notifier *notify.Endpoint
}

// New creates an empty Engine that signals n whenever producer-visible
// state changes.
func New(n *notify.Endpoint) *Engine {
	return &Engine{
		byBank:   make(map[rspro.BankSlot]*Mapping),
		byClient: make(map[rspro.ClientSlot]*Mapping),
		queues:   make(map[uint16]*bankQueues),
		notifier: n,
	}
}

// Add creates a new mapping in state NEW. It fails Busy if either side
// already appears in a live mapping. If the owning bank is currently
// connected the mapping is appended to its maps_new queue; otherwise it is
// left floating until that bank connects.
func (e *Engine) Add(bank rspro.BankSlot, client rspro.ClientSlot) AddResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.byBank[bank]; exists {
		return AddBusy
	}
	if _, exists := e.byClient[client]; exists {
		return AddBusy
	}

	m := &Mapping{Bank: bank, Client: client, State: StateNew}
	e.byBank[bank] = m
	e.byClient[client] = m

	if q, ok := e.queues[bank.BankID]; ok {
		q.newQ = append(q.newQ, m)
	}

	e.notifier.Signal()
	return AddOK
}

// Del unconditionally unlinks a mapping from the global set and from
// whichever per-bank queue holds it. Callers must only use this on
// mappings known to be in a safe state.
func (e *Engine) Del(bank rspro.BankSlot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delLocked(bank)
}

func (e *Engine) delLocked(bank rspro.BankSlot) {
	m, ok := e.byBank[bank]
	if !ok {
		return
	}
	delete(e.byBank, bank)
	delete(e.byClient, m.Client)
	if q, ok := e.queues[bank.BankID]; ok {
		q.newQ = removeMapping(q.newQ, m)
		q.unackQ = removeMapping(q.unackQ, m)
		q.activeQ = removeMapping(q.activeQ, m)
		q.delreqQ = removeMapping(q.delreqQ, m)
		q.deletingQ = removeMapping(q.deletingQ, m)
	}
}

func removeMapping(list []*Mapping, target *Mapping) []*Mapping {
	for i, m := range list {
		if m == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// RequestRemoveByBank marks the ACTIVE mapping owned by bank for removal:
// DELETE_REQUESTED, moved to maps_delreq, and signals the notifier. Returns
// false if no such ACTIVE mapping exists.
func (e *Engine) RequestRemoveByBank(bank rspro.BankSlot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byBank[bank]
	if !ok || m.State != StateActive {
		return false
	}
	return e.requestRemoveLocked(m)
}

// RequestRemoveByClient is RequestRemoveByBank keyed by client slot instead.
func (e *Engine) RequestRemoveByClient(client rspro.ClientSlot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byClient[client]
	if !ok || m.State != StateActive {
		return false
	}
	return e.requestRemoveLocked(m)
}

func (e *Engine) requestRemoveLocked(m *Mapping) bool {
	q, ok := e.queues[m.Bank.BankID]
	if !ok {
		return false
	}
	q.activeQ = removeMapping(q.activeQ, m)
	m.State = StateDeleteRequested
	q.delreqQ = append(q.delreqQ, m)
	e.notifier.Signal()
	return true
}

// BankConnected registers bankID as connected and, as the CONNECTED_BANKD
// entry action, forces every mapping already associated with bankID into
// state NEW on maps_new regardless of its prior state.
func (e *Engine) BankConnected(bankID uint16, numSlots uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := &bankQueues{numSlots: numSlots}
	e.queues[bankID] = q

	for _, m := range e.byBank {
		if m.Bank.BankID != bankID {
			continue
		}
		m.State = StateNew
		q.newQ = append(q.newQ, m)
	}
}

// BankDisconnected unregisters bankID. Mappings in NEW/UNACKNOWLEDGED/ACTIVE
// return to NEW with no queue membership (they are picked up again if and
// when a bank with the same bank_id reconnects); mappings already
// DELETE_REQUESTED/DELETING are destroyed outright, since the departed bank
// can no longer acknowledge their removal. It returns the mappings that
// survived in state NEW, so the caller can tell their clients the bank
// coordinates are gone.
func (e *Engine) BankDisconnected(bankID uint16) []Mapping {
	e.mu.Lock()
	defer e.mu.Unlock()

	var survivors []Mapping
	for bank, m := range e.byBank {
		if bank.BankID != bankID {
			continue
		}
		switch m.State {
		case StateDeleteRequested, StateDeleting:
			delete(e.byBank, bank)
			delete(e.byClient, m.Client)
		default:
			m.State = StateNew
			survivors = append(survivors, *m)
		}
	}
	delete(e.queues, bankID)
	return survivors
}

// HasPendingWork reports whether bankID has anything to PUSH: a non-empty
// maps_new or maps_delreq queue.
func (e *Engine) HasPendingWork(bankID uint16) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.queues[bankID]
	if !ok {
		return false
	}
	return len(q.newQ) > 0 || len(q.delreqQ) > 0
}

// ConnectedBankIDs lists every bank_id currently registered via
// BankConnected, for the server event loop's PUSH sweep.
func (e *Engine) ConnectedBankIDs() []uint16 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]uint16, 0, len(e.queues))
	for id := range e.queues {
		ids = append(ids, id)
	}
	return ids
}

// DrainNew pops every mapping off bankID's maps_new queue, transitioning
// each to UNACKNOWLEDGED on maps_unack, and returns them in FIFO order for
// the caller to send as createMappingReq PDUs.
func (e *Engine) DrainNew(bankID uint16) []*Mapping {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[bankID]
	if !ok {
		return nil
	}
	drained := q.newQ
	q.newQ = nil
	for _, m := range drained {
		m.State = StateUnacknowledged
		m.dispatchedAt = time.Now()
		q.unackQ = append(q.unackQ, m)
	}
	return drained
}

// DrainDeleteRequested pops every mapping off bankID's maps_delreq queue,
// transitioning each to DELETING on maps_deleting, and returns them in FIFO
// order for the caller to send as removeMappingReq PDUs.
func (e *Engine) DrainDeleteRequested(bankID uint16) []*Mapping {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[bankID]
	if !ok {
		return nil
	}
	drained := q.delreqQ
	q.delreqQ = nil
	for _, m := range drained {
		m.State = StateDeleting
		m.dispatchedAt = time.Now()
		q.deletingQ = append(q.deletingQ, m)
	}
	return drained
}

// AckCreate pops the head of bankID's maps_unack queue (positional
// correlation) and transitions it to ACTIVE on maps_active. The returned
// duration is the time since the matching createMappingReq was dispatched.
func (e *Engine) AckCreate(bankID uint16) (*Mapping, time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[bankID]
	if !ok || len(q.unackQ) == 0 {
		return nil, 0, false
	}
	m := q.unackQ[0]
	q.unackQ = q.unackQ[1:]
	rt := time.Since(m.dispatchedAt)
	m.State = StateActive
	q.activeQ = append(q.activeQ, m)
	return m, rt, true
}

// AckRemove pops the head of bankID's maps_deleting queue (positional
// correlation) and destroys the mapping entirely. The returned duration is
// the time since the matching removeMappingReq was dispatched.
func (e *Engine) AckRemove(bankID uint16) (*Mapping, time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[bankID]
	if !ok || len(q.deletingQ) == 0 {
		return nil, 0, false
	}
	m := q.deletingQ[0]
	q.deletingQ = q.deletingQ[1:]
	rt := time.Since(m.dispatchedAt)
	delete(e.byBank, m.Bank)
	delete(e.byClient, m.Client)
	return m, rt, true
}

// Get returns the live mapping owning bank, if any.
func (e *Engine) Get(bank rspro.BankSlot) (Mapping, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.byBank[bank]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// GetByClient returns the live mapping owning client, if any.
func (e *Engine) GetByClient(client rspro.ClientSlot) (Mapping, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.byClient[client]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// CountByState returns the number of live mappings currently in each
// lifecycle state, for metrics export.
func (e *Engine) CountByState() map[State]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[State]int, 5)
	for _, m := range e.byBank {
		counts[m.State]++
	}
	return counts
}

// List returns a snapshot of every live mapping, for the admin surface.
func (e *Engine) List() []Mapping {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Mapping, 0, len(e.byBank))
	for _, m := range e.byBank {
		out = append(out, *m)
	}
	return out
}
