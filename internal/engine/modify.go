package engine

import (
	"context"
	"fmt"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/store"
)

// ModifyParams lists the fields of a working order to amend. Nil fields keep
// their current broker value.
type ModifyParams struct {
	OrderID         int64    `json:"order_id"`
	LmtPrice        *float64 `json:"lmt_price,omitempty"`
	AuxPrice        *float64 `json:"aux_price,omitempty"`
	TotalQuantity   *float64 `json:"total_quantity,omitempty"`
	OrderType       *string  `json:"order_type,omitempty"`
	TIF             *string  `json:"tif,omitempty"`
	TrailingPercent *float64 `json:"trailing_percent,omitempty"`
	TrailStopPrice  *float64 `json:"trail_stop_price,omitempty"`
}

func (p ModifyParams) patch() store.OrderPatch {
	return store.OrderPatch{
		OrderType:       p.OrderType,
		TotalQuantity:   p.TotalQuantity,
		LmtPrice:        p.LmtPrice,
		AuxPrice:        p.AuxPrice,
		TrailingPercent: p.TrailingPercent,
		TrailStopPrice:  p.TrailStopPrice,
		TIF:             p.TIF,
	}
}

// apply returns o with every set field overridden. Action, parent and OCA
// group are carried over so the broker amends the order in place.
func (p ModifyParams) apply(o broker.Order) broker.Order {
	if p.LmtPrice != nil {
		o.LmtPrice = p.LmtPrice
	}
	if p.AuxPrice != nil {
		o.AuxPrice = p.AuxPrice
	}
	if p.TotalQuantity != nil {
		o.TotalQuantity = *p.TotalQuantity
	}
	if p.OrderType != nil {
		o.OrderType = *p.OrderType
	}
	if p.TIF != nil {
		o.TIF = *p.TIF
	}
	if p.TrailingPercent != nil {
		o.TrailingPercent = p.TrailingPercent
	}
	if p.TrailStopPrice != nil {
		o.TrailStopPrice = p.TrailStopPrice
	}
	o.Transmit = true
	return o
}

// ModifyOrder amends a working order in place. The target must appear in a
// freshly fetched broker open-order list with status PreSubmitted or
// Submitted; otherwise an error wrapping ErrNotModifiable is returned and
// nothing is sent. On settlement only the amended journal columns are
// updated.
func (g *Gateway) ModifyOrder(ctx context.Context, p ModifyParams) (*PlaceResult, error) {
	patch := p.patch()
	if patch.Empty() {
		return nil, ErrNoFieldsToModify
	}

	open, err := g.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}
	var target *broker.OpenOrder
	for i := range open {
		if open[i].OrderID == p.OrderID {
			target = &open[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("order %d is not open at the broker: %w", p.OrderID, ErrNotModifiable)
	}
	if !domain.IsModifiableStatus(target.Status) {
		return nil, fmt.Errorf("order %d has status %s: %w", p.OrderID, target.Status, ErrNotModifiable)
	}

	replacement := p.apply(target.Order)
	req := OrderRequest{
		Symbol:          target.Contract.Symbol,
		Action:          replacement.Action,
		OrderType:       replacement.OrderType,
		TotalQuantity:   replacement.TotalQuantity,
		LmtPrice:        replacement.LmtPrice,
		AuxPrice:        replacement.AuxPrice,
		TrailingPercent: replacement.TrailingPercent,
		TrailStopPrice:  replacement.TrailStopPrice,
		OCAType:         replacement.OCAType,
	}
	if err := g.check(req); err != nil {
		return nil, err
	}

	status, timedOut, err := g.awaitOrder(ctx, p.OrderID, StatusModifyTimeout, func() error {
		return g.client.PlaceOrder(p.OrderID, target.Contract, replacement)
	})
	if err != nil {
		return nil, fmt.Errorf("modifying order %d: %w", p.OrderID, err)
	}

	if err := g.journal.UpdateOrderFields(ctx, p.OrderID, patch); err != nil {
		g.log.Error("journal update after modify failed", "order_id", p.OrderID, "error", err)
	}
	g.log.Info("order modified", "order_id", p.OrderID, "status", status, "timed_out", timedOut)
	return &PlaceResult{OrderID: p.OrderID, Status: status, TimedOut: timedOut}, nil
}

// CancelOrder requests cancellation of one order and waits for the broker to
// report its status. A timeout yields an informational status, not an error.
func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) (*PlaceResult, error) {
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}
	status, timedOut, err := g.awaitOrder(ctx, orderID, StatusCancelTimeout, func() error {
		return g.client.CancelOrder(orderID)
	})
	if err != nil {
		return nil, fmt.Errorf("cancelling order %d: %w", orderID, err)
	}
	g.log.Info("order cancel requested", "order_id", orderID, "status", status, "timed_out", timedOut)
	return &PlaceResult{OrderID: orderID, Status: status, TimedOut: timedOut}, nil
}

// CancelAllOrders issues a global cancel. The broker sends no acknowledgement
// for it, so nothing is awaited.
func (g *Gateway) CancelAllOrders(_ context.Context) error {
	if !g.client.IsConnected() {
		return ErrNotConnected
	}
	if err := g.client.ReqGlobalCancel(); err != nil {
		return fmt.Errorf("global cancel: %w", err)
	}
	g.log.Info("global cancel requested")
	return nil
}
