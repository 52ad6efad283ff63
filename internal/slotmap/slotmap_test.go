package slotmap

import (
	"testing"

	"github.com/remsim-project/remsim-core/internal/notify"
	"github.com/remsim-project/remsim-core/internal/rspro"
)

func newEngine() *Engine {
	return New(notify.New())
}

func TestAddRejectsBankCollision(t *testing.T) {
	e := newEngine()
	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	if got := e.Add(bank, rspro.ClientSlot{ClientID: 7, SlotNr: 0}); got != AddOK {
		t.Fatalf("first Add = %v, want AddOK", got)
	}
	if got := e.Add(bank, rspro.ClientSlot{ClientID: 9, SlotNr: 0}); got != AddBusy {
		t.Fatalf("second Add on same bank = %v, want AddBusy", got)
	}
}

func TestAddRejectsClientCollision(t *testing.T) {
	e := newEngine()
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	if got := e.Add(rspro.BankSlot{BankID: 1, SlotNr: 0}, client); got != AddOK {
		t.Fatalf("first Add = %v, want AddOK", got)
	}
	if got := e.Add(rspro.BankSlot{BankID: 2, SlotNr: 0}, client); got != AddBusy {
		t.Fatalf("second Add on same client = %v, want AddBusy", got)
	}
}

func TestAddDelRoundTripRestoresPriorState(t *testing.T) {
	e := newEngine()
	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}

	before := len(e.List())
	e.Add(bank, client)
	e.Del(bank)
	after := len(e.List())

	if before != after {
		t.Fatalf("List() length = %d after add+del, want %d", after, before)
	}
	if _, ok := e.Get(bank); ok {
		t.Fatal("mapping still present after Del")
	}
}

func TestCreateMappingPushScenario(t *testing.T) {
	e := newEngine()
	e.BankConnected(3, 8)

	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	if got := e.Add(bank, client); got != AddOK {
		t.Fatalf("Add = %v, want AddOK", got)
	}
	if !e.HasPendingWork(3) {
		t.Fatal("HasPendingWork(3) = false after Add, want true")
	}

	drained := e.DrainNew(3)
	if len(drained) != 1 || drained[0].Bank != bank {
		t.Fatalf("DrainNew = %+v, want one mapping for %v", drained, bank)
	}
	if m, _ := e.Get(bank); m.State != StateUnacknowledged {
		t.Fatalf("state after DrainNew = %v, want UNACKNOWLEDGED", m.State)
	}

	m, _, ok := e.AckCreate(3)
	if !ok || m.Bank != bank {
		t.Fatalf("AckCreate = %+v, %v", m, ok)
	}
	if got, _ := e.Get(bank); got.State != StateActive {
		t.Fatalf("state after AckCreate = %v, want ACTIVE", got.State)
	}
}

func TestBankDisconnectReturnsMappingsToNew(t *testing.T) {
	e := newEngine()
	e.BankConnected(3, 8)
	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	e.Add(bank, client)
	e.DrainNew(3)
	e.AckCreate(3)

	e.BankDisconnected(3)

	m, ok := e.Get(bank)
	if !ok {
		t.Fatal("mapping destroyed on bank disconnect, want returned to NEW")
	}
	if m.State != StateNew {
		t.Fatalf("state after disconnect = %v, want NEW", m.State)
	}
	if e.HasPendingWork(3) {
		t.Fatal("HasPendingWork(3) = true for a disconnected bank")
	}

	e.BankConnected(3, 8)
	if !e.HasPendingWork(3) {
		t.Fatal("HasPendingWork(3) = false after reconnect, want true (mapping requeued)")
	}
	drained := e.DrainNew(3)
	if len(drained) != 1 || drained[0].Bank != bank {
		t.Fatalf("DrainNew after reconnect = %+v", drained)
	}
}

func TestBankDisconnectDestroysInFlightRemovals(t *testing.T) {
	e := newEngine()
	e.BankConnected(3, 8)
	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	e.Add(bank, client)
	e.DrainNew(3)
	e.AckCreate(3)
	e.RequestRemoveByBank(bank)
	e.DrainDeleteRequested(3)

	e.BankDisconnected(3)

	if _, ok := e.Get(bank); ok {
		t.Fatal("DELETING mapping survived bank disconnect, want destroyed")
	}
}

func TestAdminRemovalScenario(t *testing.T) {
	e := newEngine()
	e.BankConnected(3, 8)
	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	e.Add(bank, client)
	e.DrainNew(3)
	e.AckCreate(3)

	if !e.RequestRemoveByBank(bank) {
		t.Fatal("RequestRemoveByBank = false, want true for ACTIVE mapping")
	}
	if m, _ := e.Get(bank); m.State != StateDeleteRequested {
		t.Fatalf("state after RequestRemoveByBank = %v, want DELETE_REQUESTED", m.State)
	}

	drained := e.DrainDeleteRequested(3)
	if len(drained) != 1 {
		t.Fatalf("DrainDeleteRequested = %+v, want 1 entry", drained)
	}

	m, _, ok := e.AckRemove(3)
	if !ok || m.Bank != bank {
		t.Fatalf("AckRemove = %+v, %v", m, ok)
	}
	if _, ok := e.Get(bank); ok {
		t.Fatal("mapping still present after AckRemove")
	}
}

func TestRequestRemoveByBankRejectsNonActive(t *testing.T) {
	e := newEngine()
	e.BankConnected(3, 8)
	bank := rspro.BankSlot{BankID: 3, SlotNr: 5}
	client := rspro.ClientSlot{ClientID: 7, SlotNr: 0}
	e.Add(bank, client) // state NEW, not ACTIVE

	if e.RequestRemoveByBank(bank) {
		t.Fatal("RequestRemoveByBank = true for a non-ACTIVE mapping")
	}
}

func TestListLengthMatchesLiveMappings(t *testing.T) {
	e := newEngine()
	e.Add(rspro.BankSlot{BankID: 1}, rspro.ClientSlot{ClientID: 1})
	e.Add(rspro.BankSlot{BankID: 2}, rspro.ClientSlot{ClientID: 2})
	if got := len(e.List()); got != 2 {
		t.Fatalf("List() length = %d, want 2", got)
	}
}
