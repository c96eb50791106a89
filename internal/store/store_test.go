package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradebridge/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() returned error: %v", err)
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &domain.Order{
		OrderID:       500,
		Symbol:        "AAPL",
		Action:        domain.ActionBuy,
		OrderType:     domain.OrderTypeLimit,
		TotalQuantity: 10,
		LmtPrice:      domain.Float(150),
		TIF:           "DAY",
		SecType:       "STK",
		Exchange:      "SMART",
		Currency:      "USD",
		Status:        domain.OrderStatusPendingSubmit,
		CorrelationID: "corr-1",
		OrderSource:   domain.OrderSourceManual,
		AIConfidence:  domain.Float(0.8),
	}
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	got, err := s.GetOrderByOrderID(ctx, 500)
	if err != nil {
		t.Fatalf("GetOrderByOrderID: %v", err)
	}
	if got.Symbol != "AAPL" || got.Action != domain.ActionBuy || got.OrderType != "LMT" {
		t.Errorf("unexpected order: %+v", got)
	}
	if got.LmtPrice == nil || *got.LmtPrice != 150 {
		t.Errorf("LmtPrice = %v, want 150", got.LmtPrice)
	}
	if got.AuxPrice != nil {
		t.Errorf("AuxPrice = %v, want nil", *got.AuxPrice)
	}
	if got.ParentOrderID != nil {
		t.Errorf("ParentOrderID = %v, want nil", *got.ParentOrderID)
	}
	if got.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", got.CorrelationID)
	}

	if _, err := s.GetOrderByOrderID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrderByOrderID(999) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateOrderStatusKeepsCorrelation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := domain.Int64(500)
	for _, o := range []*domain.Order{
		{OrderID: 500, Symbol: "AAPL", Action: domain.ActionBuy, OrderType: "LMT", TotalQuantity: 10, Status: domain.OrderStatusPendingSubmit, CorrelationID: "c"},
		{OrderID: 501, Symbol: "AAPL", Action: domain.ActionSell, OrderType: "LMT", TotalQuantity: 10, Status: domain.OrderStatusPendingSubmit, CorrelationID: "c", ParentOrderID: parent},
	} {
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatalf("InsertOrder(%d): %v", o.OrderID, err)
		}
	}

	if err := s.UpdateOrderStatus(ctx, 500, domain.OrderStatusFilled, 10, 149.5); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if err := s.UpdateOrderStatus(ctx, 501, domain.OrderStatusSubmitted, 0, 0); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	got, _ := s.GetOrderByOrderID(ctx, 500)
	if got.Status != domain.OrderStatusFilled || got.FilledQuantity != 10 || got.AvgFillPrice != 149.5 {
		t.Errorf("order 500 = %+v", got)
	}
	child, _ := s.GetOrderByOrderID(ctx, 501)
	if child.CorrelationID != "c" {
		t.Errorf("child correlation = %q, want c", child.CorrelationID)
	}
	if child.ParentOrderID == nil || *child.ParentOrderID != 500 {
		t.Errorf("child parent = %v, want 500", child.ParentOrderID)
	}
	if child.FilledQuantity != 0 {
		t.Errorf("child filled = %v, want 0", child.FilledQuantity)
	}
}

func TestUpdateOrderFieldsPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &domain.Order{OrderID: 7, Symbol: "MSFT", Action: domain.ActionSell, OrderType: "STP", TotalQuantity: 5,
		AuxPrice: domain.Float(390), TIF: "DAY", Status: domain.OrderStatusSubmitted, CorrelationID: "x"}
	if err := s.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	qty := 3.0
	if err := s.UpdateOrderFields(ctx, 7, OrderPatch{TotalQuantity: &qty, AuxPrice: domain.Float(385)}); err != nil {
		t.Fatalf("UpdateOrderFields: %v", err)
	}
	if err := s.UpdateOrderFields(ctx, 7, OrderPatch{}); err != nil {
		t.Fatalf("UpdateOrderFields(empty): %v", err)
	}

	got, _ := s.GetOrderByOrderID(ctx, 7)
	if got.TotalQuantity != 3 || *got.AuxPrice != 385 {
		t.Errorf("patched order = %+v", got)
	}
	if got.TIF != "DAY" || got.OrderType != "STP" || got.CorrelationID != "x" {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestGetLiveOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statuses := []string{
		domain.OrderStatusSubmitted,
		domain.OrderStatusFilled,
		domain.OrderStatusReconciling,
		domain.OrderStatusCancelled,
		domain.OrderStatusPreSubmitted,
		domain.OrderStatusInactive,
		domain.OrderStatusApiCancelled,
	}
	for i, st := range statuses {
		o := &domain.Order{OrderID: int64(i + 1), Symbol: "SPY", Action: domain.ActionBuy, OrderType: "MKT", TotalQuantity: 1, Status: st, CorrelationID: "c"}
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatalf("InsertOrder: %v", err)
		}
	}

	live, err := s.GetLiveOrders(ctx)
	if err != nil {
		t.Fatalf("GetLiveOrders: %v", err)
	}
	var ids []int64
	for _, o := range live {
		ids = append(ids, o.OrderID)
	}
	want := []int64{1, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("live ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("live ids = %v, want %v", ids, want)
			break
		}
	}

	all, err := s.ListOrders(ctx, 3)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListOrders(3) returned %d rows", len(all))
	}
}

func TestExecutionCommissionMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	e := &domain.Execution{ExecID: "0001.01", OrderID: 500, Symbol: "AAPL", Side: "BOT", Shares: 10, Price: 150, CorrelationID: "c", Timestamp: ts}
	if err := s.InsertExecution(ctx, e); err != nil {
		t.Fatalf("InsertExecution: %v", err)
	}
	// A replay of the same fill is ignored.
	dup := *e
	dup.Price = 999
	if err := s.InsertExecution(ctx, &dup); err != nil {
		t.Fatalf("InsertExecution(dup): %v", err)
	}

	got, err := s.GetExecution(ctx, "0001.01")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Price != 150 {
		t.Errorf("Price = %v, want 150", got.Price)
	}
	if !got.CommissionPending() {
		t.Error("commission should be pending before the report")
	}

	if err := s.UpdateExecutionCommission(ctx, "0001.01", 1.25, nil); err != nil {
		t.Fatalf("UpdateExecutionCommission: %v", err)
	}
	got, _ = s.GetExecution(ctx, "0001.01")
	if got.Commission == nil || *got.Commission != 1.25 {
		t.Errorf("Commission = %v, want 1.25", got.Commission)
	}
	if got.RealizedPnL != nil {
		t.Errorf("RealizedPnL = %v, want nil", *got.RealizedPnL)
	}

	if err := s.UpdateExecutionCommission(ctx, "missing", 1, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateExecutionCommission(missing) error = %v, want ErrNotFound", err)
	}

	list, err := s.ListExecutions(ctx, ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 1 || !list[0].Timestamp.Equal(ts) {
		t.Errorf("ListExecutions = %+v", list)
	}
	list, _ = s.ListExecutions(ctx, ts.Add(time.Minute), ts.Add(time.Hour))
	if len(list) != 0 {
		t.Errorf("ListExecutions outside range returned %d rows", len(list))
	}
}

func TestPositionSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgCost: 150},
		{Symbol: "TSLA", Quantity: -5, AvgCost: 250},
	}
	if err := s.InsertPositionSnapshots(ctx, domain.SnapshotSourceReconcile, first); err != nil {
		t.Fatalf("InsertPositionSnapshots: %v", err)
	}
	got, err := s.LatestPositionSnapshots(ctx, domain.SnapshotSourceReconcile)
	if err != nil {
		t.Fatalf("LatestPositionSnapshots: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[1].Quantity != -5 {
		t.Errorf("snapshot = %+v", got)
	}
	if got[0].Source != domain.SnapshotSourceReconcile {
		t.Errorf("Source = %q", got[0].Source)
	}

	// A flat account still produces a snapshot, which supersedes the last one.
	if err := s.InsertPositionSnapshots(ctx, domain.SnapshotSourceReconcile, nil); err != nil {
		t.Fatalf("InsertPositionSnapshots(empty): %v", err)
	}
	got, _ = s.LatestPositionSnapshots(ctx, domain.SnapshotSourceReconcile)
	if len(got) != 0 {
		t.Errorf("latest snapshot after flat = %+v, want empty", got)
	}

	other, _ := s.LatestPositionSnapshots(ctx, domain.SnapshotSourceFlatten)
	if len(other) != 0 {
		t.Errorf("flatten snapshot = %+v, want empty", other)
	}
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		if err := s.AppendNotification(ctx, domain.Notification{Type: "trade", Symbol: "AAPL", Title: title}); err != nil {
			t.Fatalf("AppendNotification: %v", err)
		}
	}
	got, err := s.ListNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(got) != 2 || got[0].Title != "second" {
		t.Errorf("notifications = %+v", got)
	}
}

func TestExecutionArchivePath(t *testing.T) {
	a := NewExecutionArchive("/data")
	ts := time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC)
	want := filepath.Join("/data", "executions", "2024-06-15.parquet")
	if got := a.path(ts); got != want {
		t.Errorf("path mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestExecutionArchiveMerge(t *testing.T) {
	a := NewExecutionArchive(t.TempDir())
	ctx := context.Background()
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	first := []domain.Execution{
		{ExecID: "e1", OrderID: 1, Symbol: "AAPL", Side: "BOT", Shares: 10, Price: 150, Timestamp: day.Add(14 * time.Hour)},
		{ExecID: "e2", OrderID: 2, Symbol: "MSFT", Side: "SLD", Shares: 5, Price: 400, Timestamp: day.Add(15 * time.Hour)},
	}
	if err := a.WriteExecutions(ctx, first); err != nil {
		t.Fatalf("WriteExecutions: %v", err)
	}

	// Re-archiving picks up the late commission for e1 without duplicating it.
	late := first[0]
	late.Commission = domain.Float(1)
	if err := a.WriteExecutions(ctx, []domain.Execution{late}); err != nil {
		t.Fatalf("WriteExecutions (second): %v", err)
	}

	got, err := a.ReadExecutions(ctx, day)
	if err != nil {
		t.Fatalf("ReadExecutions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadExecutions returned %d rows, want 2", len(got))
	}
	if got[0].ExecID != "e1" || got[0].Commission == nil || *got[0].Commission != 1 {
		t.Errorf("first row = %+v", got[0])
	}
	if got[1].Commission != nil {
		t.Errorf("second row commission = %v, want nil", *got[1].Commission)
	}

	none, err := a.ReadExecutions(ctx, day.AddDate(0, 0, 1))
	if err != nil || len(none) != 0 {
		t.Errorf("ReadExecutions(next day) = %v, %v", none, err)
	}
}

func TestExecutionArchiveKeepsUnreadableFile(t *testing.T) {
	a := NewExecutionArchive(t.TempDir())
	day := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	path := a.path(day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	corrupt := []byte("not a parquet file")
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}

	err := a.WriteExecutions(context.Background(), []domain.Execution{
		{ExecID: "e1", OrderID: 1, Symbol: "AAPL", Side: "BOT", Shares: 1, Price: 100, Timestamp: day},
	})
	if err == nil {
		t.Fatal("WriteExecutions over a corrupt day file should fail")
	}
	got, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if string(got) != string(corrupt) {
		t.Error("corrupt day file was overwritten")
	}
}
