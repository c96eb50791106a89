package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/engine"
	"tradebridge/internal/store"
	"tradebridge/internal/util"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJournal(t *testing.T) *store.SQLiteStore {
	t.Helper()
	journal, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestNextFlatten(t *testing.T) {
	cal := util.NewTradingCalendar()
	loc := cal.Location()

	tests := []struct {
		name      string
		from      time.Time
		before    time.Duration
		wantAt    time.Time
		wantClose time.Time
	}{
		{
			name:      "monday morning",
			from:      time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
			before:    5 * time.Minute,
			wantAt:    time.Date(2026, 3, 2, 15, 55, 0, 0, loc),
			wantClose: time.Date(2026, 3, 2, 16, 0, 0, 0, loc),
		},
		{
			name:      "inside window",
			from:      time.Date(2026, 3, 2, 15, 58, 0, 0, loc),
			before:    5 * time.Minute,
			wantAt:    time.Date(2026, 3, 2, 15, 58, 0, 0, loc),
			wantClose: time.Date(2026, 3, 2, 16, 0, 0, 0, loc),
		},
		{
			name:      "friday after close",
			from:      time.Date(2026, 3, 6, 16, 0, 1, 0, loc),
			before:    10 * time.Minute,
			wantAt:    time.Date(2026, 3, 9, 15, 50, 0, 0, loc),
			wantClose: time.Date(2026, 3, 9, 16, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, closeT := nextFlatten(cal, tt.from, tt.before)
			if !at.Equal(tt.wantAt) {
				t.Errorf("at = %v, want %v", at, tt.wantAt)
			}
			if !closeT.Equal(tt.wantClose) {
				t.Errorf("close = %v, want %v", closeT, tt.wantClose)
			}
		})
	}
}

func TestFlattenAndArchive(t *testing.T) {
	journal := newJournal(t)

	sim := broker.NewSimulatorBroker(1)
	sim.AutoFill = true
	sim.SetPosition(domain.Position{Symbol: "AAPL", Quantity: 10, AvgCost: 90, SecType: "STK", Currency: "USD"})

	eng := engine.NewEngine(sim, journal, nil, nil,
		engine.Options{ConfirmTimeout: 200 * time.Millisecond, FlattenPause: -1}, discardLogger())
	eng.Start()

	archive := store.NewExecutionArchive(t.TempDir())
	eod := &endOfDay{
		gw:      eng.Gateway,
		journal: journal,
		archive: archive,
		cal:     util.NewTradingCalendar(),
		before:  5 * time.Minute,
		log:     discardLogger(),
	}

	now := time.Now().UTC()
	eod.flattenAndArchive(t.Context(), now)

	positions, err := sim.Positions(t.Context())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("positions after flatten = %v, want none", positions)
	}

	archived, err := archive.ReadExecutions(t.Context(), now)
	if err != nil {
		t.Fatalf("ReadExecutions: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("archived executions = %d, want 1", len(archived))
	}
	if archived[0].Side != "SLD" {
		t.Errorf("side = %q, want SLD", archived[0].Side)
	}
	if pnl := archived[0].RealizedPnL; pnl == nil || *pnl < 99.999 || *pnl > 100.001 {
		t.Errorf("realized pnl = %v, want 100", pnl)
	}
}

func TestSuperviseConnectionReattachesAndReconciles(t *testing.T) {
	journal := newJournal(t)
	sim := broker.NewSimulatorBroker(1)
	eng := engine.NewEngine(sim, journal, nil, nil,
		engine.Options{ConfirmTimeout: 100 * time.Millisecond, FlattenPause: -1}, discardLogger())
	eng.Start()
	listeners := sim.Len()

	// Journaled as working but unknown to the broker: reconciliation must
	// retire it once the session is back.
	err := journal.InsertOrder(t.Context(), &domain.Order{
		OrderID: 42, Symbol: "AAPL", Action: domain.ActionBuy, OrderType: domain.OrderTypeLimit,
		TotalQuantity: 1, LmtPrice: domain.Float(100), Status: domain.OrderStatusSubmitted,
	})
	if err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		superviseConnection(ctx, eng, 5*time.Millisecond, discardLogger())
	}()
	defer func() {
		cancel()
		<-done
	}()

	sim.SetConnected(false)
	time.Sleep(30 * time.Millisecond)
	if o, _ := journal.GetOrderByOrderID(t.Context(), 42); o.Status != domain.OrderStatusSubmitted {
		t.Fatalf("status while disconnected = %q, want %q", o.Status, domain.OrderStatusSubmitted)
	}

	sim.SetConnected(true)
	deadline := time.Now().Add(2 * time.Second)
	for {
		o, err := journal.GetOrderByOrderID(t.Context(), 42)
		if err != nil {
			t.Fatalf("GetOrderByOrderID: %v", err)
		}
		if o.Status == domain.OrderStatusInactive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status after reconnect = %q, want %q", o.Status, domain.OrderStatusInactive)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !eng.Correlator.Attached(sim) {
		t.Error("correlator should be attached after reconnect")
	}
	if got := sim.Len(); got != listeners {
		t.Errorf("listeners after reconnect = %d, want %d", got, listeners)
	}
}
