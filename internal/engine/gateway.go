package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/store"
)

// Default contract fields applied when a request leaves them empty.
const (
	DefaultSecType  = "STK"
	DefaultExchange = "SMART"
	DefaultCurrency = "USD"
	DefaultTIF      = "DAY"
)

// Status strings returned when the broker does not confirm in time.
const (
	StatusPlaceTimeout  = "Submitted (timeout waiting for confirmation)"
	StatusModifyTimeout = "Submitted (timeout waiting for modify confirmation)"
	StatusCancelTimeout = "Cancel requested (timeout waiting for confirmation)"
)

// Options tunes a Gateway.
type Options struct {
	// ConfirmTimeout bounds every wait for a broker confirmation.
	ConfirmTimeout time.Duration
	// FlattenPause is how long FlattenAllPositions waits after the global
	// cancel before sending closing orders. Zero means one second; a
	// negative value disables the pause.
	FlattenPause time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 10 * time.Second
	}
	if o.FlattenPause < 0 {
		o.FlattenPause = 0
	} else if o.FlattenPause == 0 {
		o.FlattenPause = time.Second
	}
	return o
}

// Gateway turns the event-driven broker protocol into bounded
// request/response calls for placing, amending and cancelling orders and for
// reading the broker's order and execution state.
type Gateway struct {
	client  broker.Client
	journal store.Journal
	opts    Options
	log     *slog.Logger

	idMu sync.Mutex // keeps bracket ids consecutive

	// One enumeration per unscoped stream type at a time.
	openMu      sync.Mutex
	completedMu sync.Mutex
}

// NewGateway creates a Gateway issuing requests on client and journaling to j.
func NewGateway(client broker.Client, j store.Journal, opts Options, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		client:  client,
		journal: j,
		opts:    opts.withDefaults(),
		log:     log.With("component", "gateway"),
	}
}

// Timeout returns the confirmation timeout in effect.
func (g *Gateway) Timeout() time.Duration { return g.opts.ConfirmTimeout }

// PlaceOrderParams describes a single order.
type PlaceOrderParams struct {
	Symbol          string        `json:"symbol"`
	Action          domain.Action `json:"action"`
	OrderType       string        `json:"order_type"`
	TotalQuantity   float64       `json:"total_quantity"`
	LmtPrice        *float64      `json:"lmt_price,omitempty"`
	AuxPrice        *float64      `json:"aux_price,omitempty"`
	TrailingPercent *float64      `json:"trailing_percent,omitempty"`
	TrailStopPrice  *float64      `json:"trail_stop_price,omitempty"`
	TIF             string        `json:"tif,omitempty"`
	SecType         string        `json:"sec_type,omitempty"`
	Exchange        string        `json:"exchange,omitempty"`
	Currency        string        `json:"currency,omitempty"`
	ParentID        int64         `json:"parent_id,omitempty"`
	OCAGroup        string        `json:"oca_group,omitempty"`
	OCAType         int           `json:"oca_type,omitempty"`
	StrategyVersion string        `json:"strategy_version,omitempty"`
	OrderSource     string        `json:"order_source,omitempty"`
	AIConfidence    *float64      `json:"ai_confidence,omitempty"`
	JournalID       *int64        `json:"journal_id,omitempty"`
}

func (p PlaceOrderParams) request() OrderRequest {
	return OrderRequest{
		Symbol:          p.Symbol,
		Action:          p.Action,
		OrderType:       p.OrderType,
		TotalQuantity:   p.TotalQuantity,
		LmtPrice:        p.LmtPrice,
		AuxPrice:        p.AuxPrice,
		TrailingPercent: p.TrailingPercent,
		TrailStopPrice:  p.TrailStopPrice,
		OCAType:         p.OCAType,
	}
}

func (p PlaceOrderParams) contract() broker.Contract {
	return broker.Contract{
		Symbol:   p.Symbol,
		SecType:  orDefault(p.SecType, DefaultSecType),
		Exchange: orDefault(p.Exchange, DefaultExchange),
		Currency: orDefault(p.Currency, DefaultCurrency),
	}
}

func (p PlaceOrderParams) wireOrder(transmit bool) broker.Order {
	return broker.Order{
		Action:          p.Action,
		OrderType:       p.OrderType,
		TotalQuantity:   p.TotalQuantity,
		LmtPrice:        p.LmtPrice,
		AuxPrice:        p.AuxPrice,
		TrailingPercent: p.TrailingPercent,
		TrailStopPrice:  p.TrailStopPrice,
		TIF:             orDefault(p.TIF, DefaultTIF),
		ParentID:        p.ParentID,
		Transmit:        transmit,
		OCAGroup:        p.OCAGroup,
		OCAType:         p.OCAType,
	}
}

// journalRow builds the optimistic journal row for an order about to be sent.
func (p PlaceOrderParams) journalRow(orderID int64, correlationID string) *domain.Order {
	c := p.contract()
	row := &domain.Order{
		OrderID:         orderID,
		Symbol:          p.Symbol,
		Action:          p.Action,
		OrderType:       p.OrderType,
		TotalQuantity:   p.TotalQuantity,
		LmtPrice:        p.LmtPrice,
		AuxPrice:        p.AuxPrice,
		TrailingPercent: p.TrailingPercent,
		TrailStopPrice:  p.TrailStopPrice,
		TIF:             orDefault(p.TIF, DefaultTIF),
		SecType:         c.SecType,
		Exchange:        c.Exchange,
		Currency:        c.Currency,
		Status:          domain.OrderStatusPendingLocalWrite,
		CorrelationID:   correlationID,
		OCAGroup:        p.OCAGroup,
		StrategyVersion: p.StrategyVersion,
		OrderSource:     orDefault(p.OrderSource, domain.OrderSourceManual),
		AIConfidence:    p.AIConfidence,
		JournalID:       p.JournalID,
	}
	if p.ParentID != 0 {
		row.ParentOrderID = domain.Int64(p.ParentID)
	}
	return row
}

// PlaceResult is the settled outcome of a placement, amendment or
// cancellation. TimedOut is set when Status is the informational timeout
// string rather than a broker-reported status.
type PlaceResult struct {
	OrderID       int64  `json:"order_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
	TimedOut      bool   `json:"timed_out,omitempty"`
}

// PlaceOrder validates and sends a single order and waits, bounded by the
// confirmation timeout, for the broker to report its status. A timeout is not
// a failure: the order is on the wire and most likely working.
func (g *Gateway) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*PlaceResult, error) {
	if err := g.check(p.request()); err != nil {
		return nil, err
	}
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}

	orderID := g.allocateIDs(1)[0]
	correlationID := g.resolveCorrelationID(ctx, p.ParentID)
	g.insertOptimistic(ctx, p.journalRow(orderID, correlationID))

	status, timedOut, err := g.awaitOrder(ctx, orderID, StatusPlaceTimeout, func() error {
		return g.client.PlaceOrder(orderID, p.contract(), p.wireOrder(true))
	})
	if err != nil {
		return nil, fmt.Errorf("placing order %d: %w", orderID, err)
	}
	g.log.Info("order placed",
		"order_id", orderID, "symbol", p.Symbol, "action", p.Action,
		"type", p.OrderType, "qty", p.TotalQuantity, "status", status,
	)
	return &PlaceResult{OrderID: orderID, Status: status, CorrelationID: correlationID, TimedOut: timedOut}, nil
}

// check validates r, logging warnings, and returns a *ValidationError for
// any violation.
func (g *Gateway) check(r OrderRequest) error {
	res := Validate(r)
	for _, w := range res.Warnings {
		g.log.Warn("order validation warning", "symbol", r.Symbol, "warning", w)
	}
	return res.Err()
}

// allocateIDs returns n consecutive broker ids.
func (g *Gateway) allocateIDs(n int) []int64 {
	g.idMu.Lock()
	defer g.idMu.Unlock()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = g.client.NextOrderID()
	}
	return ids
}

// resolveCorrelationID inherits the parent's correlation id when parentID
// names a journaled order, and mints a fresh one otherwise.
func (g *Gateway) resolveCorrelationID(ctx context.Context, parentID int64) string {
	if parentID != 0 {
		parent, err := g.journal.GetOrderByOrderID(ctx, parentID)
		switch {
		case err == nil && parent.CorrelationID != "":
			return parent.CorrelationID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			g.log.Warn("looking up parent order", "parent_id", parentID, "error", err)
		default:
			g.log.Debug("parent order not journaled, using fresh correlation id", "parent_id", parentID)
		}
	}
	return store.NewCorrelationID()
}

// insertOptimistic writes the journal row before the order is sent. The
// broker is authoritative, so a failed write is logged and submission goes on.
func (g *Gateway) insertOptimistic(ctx context.Context, row *domain.Order) {
	if err := g.journal.InsertOrder(ctx, row); err != nil {
		g.log.Error("journal insert failed, submitting anyway", "order_id", row.OrderID, "error", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
