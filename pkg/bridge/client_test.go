package bridge

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/engine"
	"tradebridge/internal/httpapi"
	"tradebridge/internal/store"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")

	if c == nil {
		t.Fatal("expected non-nil client")
	}

	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected baseURL %q, got %q", "http://localhost:8080", c.baseURL)
	}

	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func newServer(t *testing.T) (*Client, *broker.SimulatorBroker) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	sim := broker.NewSimulatorBroker(1)
	eng := engine.NewEngine(sim, journal, nil, nil,
		engine.Options{ConfirmTimeout: 200 * time.Millisecond, FlattenPause: -1}, log)
	eng.Start()

	srv := httptest.NewServer(httpapi.NewServer(eng, journal, nil, nil, log).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), sim
}

func TestClientOrderLifecycle(t *testing.T) {
	c, _ := newServer(t)
	ctx := t.Context()

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.Connected {
		t.Error("expected connected broker")
	}

	res, err := c.PlaceOrder(ctx, PlaceOrderParams{
		Symbol: "AAPL", Action: domain.ActionBuy, OrderType: domain.OrderTypeLimit,
		TotalQuantity: 10, LmtPrice: domain.Float(150),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID != 1 || res.Status != domain.OrderStatusSubmitted {
		t.Errorf("expected order 1 Submitted, got %d %s", res.OrderID, res.Status)
	}

	open, err := c.OpenOrders(ctx)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(open))
	}

	mod, err := c.ModifyOrder(ctx, ModifyParams{OrderID: 1, LmtPrice: domain.Float(149)})
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if mod.OrderID != 1 {
		t.Errorf("expected modified order 1, got %d", mod.OrderID)
	}

	o, err := c.Order(ctx, 1)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if o.LmtPrice == nil || *o.LmtPrice != 149 {
		t.Errorf("expected journaled lmt_price 149, got %v", o.LmtPrice)
	}

	cancelled, err := c.CancelOrder(ctx, 1)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("expected status %q, got %q", domain.OrderStatusCancelled, cancelled.Status)
	}

	done, err := c.CompletedOrders(ctx)
	if err != nil {
		t.Fatalf("CompletedOrders: %v", err)
	}
	if len(done) != 1 {
		t.Errorf("expected 1 completed order, got %d", len(done))
	}

	ns, err := c.Notifications(ctx, 10)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(ns) != 1 || ns[0].Title != "Order 1 Cancelled" {
		t.Errorf("expected one %q notification, got %+v", "Order 1 Cancelled", ns)
	}
}

func TestClientBracketAndFlatten(t *testing.T) {
	c, sim := newServer(t)
	ctx := t.Context()

	br, err := c.PlaceBracket(ctx, BracketParams{
		Symbol: "MSFT", Action: domain.ActionBuy, TotalQuantity: 1,
		TakeProfitPrice: domain.Float(420), StopLossPrice: domain.Float(390),
	})
	if err != nil {
		t.Fatalf("PlaceBracket: %v", err)
	}
	if br.TakeProfitOrderID != 2 || br.StopLossOrderID != 3 {
		t.Errorf("expected child ids 2/3, got %d/%d", br.TakeProfitOrderID, br.StopLossOrderID)
	}

	if err := c.CancelAllOrders(ctx); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if n := len(sim.OpenOrders()); n != 0 {
		t.Errorf("expected no open orders, got %d", n)
	}

	sim.SetPosition(domain.Position{Symbol: "MSFT", Quantity: 1})
	positions, err := c.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	fr, err := c.Flatten(ctx)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(fr.Flattened) != 1 || fr.Flattened[0].Action != domain.ActionSell {
		t.Errorf("expected one SELL flatten, got %+v", fr.Flattened)
	}

	rep, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rep.Skipped {
		t.Error("expected reconcile to run")
	}
}

func TestClientExecutions(t *testing.T) {
	c, sim := newServer(t)
	sim.AutoFill = true
	ctx := t.Context()

	_, err := c.PlaceOrder(ctx, PlaceOrderParams{
		Symbol: "AMD", Action: domain.ActionBuy, OrderType: domain.OrderTypeMarket, TotalQuantity: 2,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	execs, err := c.Executions(ctx, "AMD", "")
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Shares != 2 {
		t.Errorf("expected one fill of 2 shares, got %+v", execs)
	}

	execs, err = c.Executions(ctx, "TSLA", "")
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(execs) != 0 {
		t.Errorf("expected no TSLA fills, got %d", len(execs))
	}
}

func TestClientAPIError(t *testing.T) {
	c, _ := newServer(t)

	_, err := c.PlaceOrder(t.Context(), PlaceOrderParams{Symbol: "AAPL", Action: domain.ActionBuy, OrderType: domain.OrderTypeLimit})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", apiErr.StatusCode)
	}
	if !slices.Contains(apiErr.Errors, "LMT orders require lmt_price") {
		t.Errorf("expected lmt_price violation, got %v", apiErr.Errors)
	}

	_, err = c.Order(t.Context(), 99)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}
