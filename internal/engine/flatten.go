package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradebridge/internal/domain"
)

// FlattenedPosition is a position a closing order was sent for.
type FlattenedPosition struct {
	Symbol   string        `json:"symbol"`
	Quantity float64       `json:"quantity"`
	Action   domain.Action `json:"action"`
	OrderID  int64         `json:"order_id"`
	Status   string        `json:"status"`
}

// SkippedPosition is a position whose closing order could not be placed.
type SkippedPosition struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason"`
}

// FlattenResult reports a FlattenAllPositions run.
type FlattenResult struct {
	Flattened []FlattenedPosition `json:"flattened"`
	Skipped   []SkippedPosition   `json:"skipped"`
}

// FlattenAllPositions closes every open position with an opposing market
// order tagged as an end-of-day flatten. Resting orders are cancelled first
// so they cannot reopen a position. A failure on one position is recorded in
// Skipped and the remaining positions are still attempted.
func (g *Gateway) FlattenAllPositions(ctx context.Context) (*FlattenResult, error) {
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}
	positions, err := g.client.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	if err := g.journal.InsertPositionSnapshots(ctx, domain.SnapshotSourceFlatten, positions); err != nil {
		g.log.Error("writing flatten position snapshot", "error", err)
	}

	if err := g.CancelAllOrders(ctx); err != nil {
		g.log.Warn("global cancel before flatten failed", "error", err)
	}
	if g.opts.FlattenPause > 0 {
		select {
		case <-time.After(g.opts.FlattenPause):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &FlattenResult{Flattened: []FlattenedPosition{}, Skipped: []SkippedPosition{}}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		action := domain.ActionSell
		if p.Quantity < 0 {
			action = domain.ActionBuy
		}
		placed, err := g.flattenOne(ctx, p, action)
		if err != nil {
			g.log.Error("flatten order failed", "symbol", p.Symbol, "quantity", p.Quantity, "error", err)
			res.Skipped = append(res.Skipped, SkippedPosition{Symbol: p.Symbol, Quantity: p.Quantity, Reason: err.Error()})
			continue
		}
		res.Flattened = append(res.Flattened, FlattenedPosition{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			Action:   action,
			OrderID:  placed.OrderID,
			Status:   placed.Status,
		})
	}
	g.log.Info("flatten complete", "flattened", len(res.Flattened), "skipped", len(res.Skipped))
	return res, nil
}

// flattenOne places the closing order for p. A panic in the broker adapter
// is reported as an error for this position only.
func (g *Gateway) flattenOne(ctx context.Context, p domain.Position, action domain.Action) (res *PlaceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic placing flatten order: %v", r)
		}
	}()
	return g.PlaceOrder(ctx, PlaceOrderParams{
		Symbol:        p.Symbol,
		Action:        action,
		OrderType:     domain.OrderTypeMarket,
		TotalQuantity: math.Abs(p.Quantity),
		SecType:       p.SecType,
		Currency:      p.Currency,
		OrderSource:   domain.OrderSourceFlatten,
	})
}
