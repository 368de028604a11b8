package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

type stubSource struct {
	bal exchange.Balance
	err error
}

func (s *stubSource) GetBalance(context.Context) (exchange.Balance, error) {
	return s.bal, s.err
}

func newSynced(t *testing.T, bal exchange.Balance) *Manager {
	t.Helper()
	m := NewManager(&stubSource{bal: bal}, time.Minute, logger.Nop())
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return m
}

func TestReserveAndRelease(t *testing.T) {
	m := newSynced(t, exchange.Balance{Total: 10000, Available: 10000})

	if err := m.Reserve(4000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	snap := m.Snapshot()
	if snap.Available != 6000 || snap.Locked != 4000 {
		t.Errorf("after reserve: %+v", snap)
	}

	if err := m.Reserve(7000); err == nil {
		t.Error("reserve beyond free balance must fail")
	}

	m.Release(4000)
	if got := m.Snapshot().Available; got != 10000 {
		t.Errorf("after release available = %v, want 10000", got)
	}
}

func TestReserveRejectsNonPositive(t *testing.T) {
	m := newSynced(t, exchange.Balance{Total: 100, Available: 100})
	if err := m.Reserve(0); err == nil {
		t.Error("zero reserve must fail")
	}
	if err := m.Reserve(-5); err == nil {
		t.Error("negative reserve must fail")
	}
}

func TestSyncClearsReservations(t *testing.T) {
	src := &stubSource{bal: exchange.Balance{Total: 10000, Available: 10000}}
	m := NewManager(src, time.Minute, logger.Nop())
	ctx := context.Background()
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := m.Reserve(1000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// An order filled; the venue now reports the spent balance itself.
	src.bal = exchange.Balance{Total: 10000, Available: 9000, Locked: 1000}
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := m.Snapshot().Available; got != 9000 {
		t.Errorf("available = %v, want 9000: sync must drop local reservations", got)
	}
}

func TestSyncErrorLeavesCache(t *testing.T) {
	src := &stubSource{bal: exchange.Balance{Total: 500, Available: 500}}
	m := NewManager(src, time.Minute, logger.Nop())
	ctx := context.Background()
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	src.err = errors.New("venue down")
	if err := m.Sync(ctx); err == nil {
		t.Fatal("expected sync error")
	}
	if got := m.Snapshot().Total; got != 500 {
		t.Errorf("failed sync must keep the last good balance, got %v", got)
	}
}

func TestStale(t *testing.T) {
	m := NewManager(&stubSource{}, time.Minute, logger.Nop())
	if !m.Stale(time.Minute) {
		t.Error("never-synced cache must be stale")
	}
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if m.Stale(time.Minute) {
		t.Error("fresh sync must not be stale")
	}
}
