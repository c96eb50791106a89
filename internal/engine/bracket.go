package engine

import (
	"context"
	"fmt"

	"tradebridge/internal/domain"
	"tradebridge/internal/store"
)

// BracketParams describes an entry order with a take-profit limit leg and a
// stop-loss leg. EntryType defaults to LMT when EntryPrice is set, MKT
// otherwise.
type BracketParams struct {
	Symbol          string        `json:"symbol"`
	Action          domain.Action `json:"action"`
	TotalQuantity   float64       `json:"total_quantity"`
	EntryType       string        `json:"entry_type,omitempty"`
	EntryPrice      *float64      `json:"entry_price,omitempty"`
	TakeProfitPrice *float64      `json:"take_profit_price"`
	StopLossPrice   *float64      `json:"stop_loss_price"`
	TIF             string        `json:"tif,omitempty"`
	SecType         string        `json:"sec_type,omitempty"`
	Exchange        string        `json:"exchange,omitempty"`
	Currency        string        `json:"currency,omitempty"`
	StrategyVersion string        `json:"strategy_version,omitempty"`
	OrderSource     string        `json:"order_source,omitempty"`
	AIConfidence    *float64      `json:"ai_confidence,omitempty"`
	JournalID       *int64        `json:"journal_id,omitempty"`
}

// AdvancedBracketParams extends BracketParams with a choice of stop leg type
// and a broker-side one-cancels-all group across both exit legs.
//
//	STP          aux = StopLossPrice
//	STP LMT      aux = StopLossPrice, lmt = StopLimitPrice
//	TRAIL        aux = TrailingAmount or TrailingPercent, initial stop TrailStopPrice
//	TRAIL LIMIT  as TRAIL, plus lmt = StopLimitPrice
//
// OCAGroup defaults to "OCA-<parent id>" and OCAType to 1.
type AdvancedBracketParams struct {
	BracketParams
	StopLossType    string   `json:"stop_loss_type,omitempty"`
	StopLimitPrice  *float64 `json:"stop_limit_price,omitempty"`
	TrailingAmount  *float64 `json:"trailing_amount,omitempty"`
	TrailingPercent *float64 `json:"trailing_percent,omitempty"`
	TrailStopPrice  *float64 `json:"trail_stop_price,omitempty"`
	OCAGroup        string   `json:"oca_group,omitempty"`
	OCAType         int      `json:"oca_type,omitempty"`
}

// BracketResult reports a placed bracket. The embedded result describes the
// parent, the only leg whose confirmation is awaited.
type BracketResult struct {
	PlaceResult
	TakeProfitOrderID int64  `json:"take_profit_order_id"`
	StopLossOrderID   int64  `json:"stop_loss_order_id"`
	OCAGroup          string `json:"oca_group,omitempty"`
}

// bracketLegs holds the three legs of a bracket, in dispatch order.
type bracketLegs [3]PlaceOrderParams

var legNames = [3]string{"parent", "take_profit", "stop_loss"}

// legs builds the parent, take-profit and stop-loss params. Ids, parent links
// and OCA defaults are filled in after allocation.
func (p BracketParams) legs() bracketLegs {
	entryType := p.EntryType
	if entryType == "" {
		entryType = domain.OrderTypeMarket
		if p.EntryPrice != nil {
			entryType = domain.OrderTypeLimit
		}
	}
	base := PlaceOrderParams{
		Symbol:          p.Symbol,
		TotalQuantity:   p.TotalQuantity,
		TIF:             p.TIF,
		SecType:         p.SecType,
		Exchange:        p.Exchange,
		Currency:        p.Currency,
		StrategyVersion: p.StrategyVersion,
		OrderSource:     p.OrderSource,
		AIConfidence:    p.AIConfidence,
		JournalID:       p.JournalID,
	}

	parent := base
	parent.Action = p.Action
	parent.OrderType = entryType
	switch entryType {
	case domain.OrderTypeStop:
		parent.AuxPrice = p.EntryPrice
	default:
		parent.LmtPrice = p.EntryPrice
	}

	tp := base
	tp.Action = p.Action.Opposite()
	tp.OrderType = domain.OrderTypeLimit
	tp.LmtPrice = p.TakeProfitPrice

	sl := base
	sl.Action = p.Action.Opposite()
	sl.OrderType = domain.OrderTypeStop
	sl.AuxPrice = p.StopLossPrice

	return bracketLegs{parent, tp, sl}
}

func (p AdvancedBracketParams) legs() (bracketLegs, []string) {
	legs := p.BracketParams.legs()
	sl := &legs[2]
	stopType := p.StopLossType
	if stopType == "" {
		stopType = domain.OrderTypeStop
	}
	sl.OrderType = stopType
	sl.AuxPrice = nil

	var errs []string
	switch stopType {
	case domain.OrderTypeStop:
		sl.AuxPrice = p.StopLossPrice
	case domain.OrderTypeStopLimit:
		sl.AuxPrice = p.StopLossPrice
		sl.LmtPrice = p.StopLimitPrice
	case domain.OrderTypeTrail, domain.OrderTypeTrailLimit:
		sl.AuxPrice = p.TrailingAmount
		sl.TrailingPercent = p.TrailingPercent
		sl.TrailStopPrice = p.TrailStopPrice
		if sl.TrailStopPrice == nil {
			sl.TrailStopPrice = p.StopLossPrice
		}
		if stopType == domain.OrderTypeTrailLimit {
			sl.LmtPrice = p.StopLimitPrice
			if sl.LmtPrice == nil {
				errs = append(errs, "stop_loss: TRAIL LIMIT orders require stop_limit_price")
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("stop_loss_type must be one of STP, STP LMT, TRAIL, TRAIL LIMIT, got %q", stopType))
	}

	legs[1].OCAType = p.OCAType
	legs[2].OCAType = p.OCAType
	return legs, errs
}

// validateLegs checks every leg and returns all violations, prefixed with the
// leg name for the exit legs.
func (g *Gateway) validateLegs(legs bracketLegs, extra []string) error {
	var errs []string
	for i, leg := range legs {
		res := Validate(leg.request())
		for _, w := range res.Warnings {
			g.log.Warn("order validation warning", "symbol", leg.Symbol, "leg", legNames[i], "warning", w)
		}
		for _, e := range res.Errors {
			if i > 0 {
				e = legNames[i] + ": " + e
			}
			errs = append(errs, e)
		}
	}
	errs = append(errs, extra...)
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PlaceBracketOrder places an entry order with take-profit LMT and
// stop-loss STP exit legs. The legs are dispatched parent, take-profit,
// stop-loss; only the last is transmitted, so the broker activates the group
// as a unit. Only the parent's confirmation is awaited.
func (g *Gateway) PlaceBracketOrder(ctx context.Context, p BracketParams) (*BracketResult, error) {
	legs := p.legs()
	if err := g.validateLegs(legs, nil); err != nil {
		return nil, err
	}
	return g.placeBracket(ctx, legs, false)
}

// PlaceAdvancedBracket places a bracket whose stop leg may be STP, STP LMT,
// TRAIL or TRAIL LIMIT, with both exit legs in one OCA group so the broker
// cancels the sibling when either fills.
func (g *Gateway) PlaceAdvancedBracket(ctx context.Context, p AdvancedBracketParams) (*BracketResult, error) {
	legs, extra := p.legs()
	if err := g.validateLegs(legs, extra); err != nil {
		return nil, err
	}
	for i := 1; i < 3; i++ {
		legs[i].OCAGroup = p.OCAGroup
		if legs[i].OCAType == 0 {
			legs[i].OCAType = domain.OCACancelWithBlock
		}
	}
	return g.placeBracket(ctx, legs, true)
}

func (g *Gateway) placeBracket(ctx context.Context, legs bracketLegs, oca bool) (*BracketResult, error) {
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}

	ids := g.allocateIDs(3)
	parentID := ids[0]
	correlationID := store.NewCorrelationID()
	for i := 1; i < 3; i++ {
		legs[i].ParentID = parentID
		if oca && legs[i].OCAGroup == "" {
			legs[i].OCAGroup = fmt.Sprintf("OCA-%d", parentID)
		}
	}
	for i, leg := range legs {
		g.insertOptimistic(ctx, leg.journalRow(ids[i], correlationID))
	}

	status, timedOut, err := g.awaitOrder(ctx, parentID, StatusPlaceTimeout, func() error {
		return g.dispatchLegs(ids, legs)
	})
	if err != nil {
		return nil, fmt.Errorf("placing bracket %d: %w", parentID, err)
	}
	g.log.Info("bracket placed",
		"parent_id", parentID, "take_profit_id", ids[1], "stop_loss_id", ids[2],
		"symbol", legs[0].Symbol, "stop_type", legs[2].OrderType, "oca_group", legs[2].OCAGroup,
		"status", status,
	)
	return &BracketResult{
		PlaceResult:       PlaceResult{OrderID: parentID, Status: status, CorrelationID: correlationID, TimedOut: timedOut},
		TakeProfitOrderID: ids[1],
		StopLossOrderID:   ids[2],
		OCAGroup:          legs[2].OCAGroup,
	}, nil
}

// dispatchLegs sends the legs strictly in order with transmit set only on
// the last. If a leg fails, legs already held at the broker are cancelled so
// nothing is left dangling.
func (g *Gateway) dispatchLegs(ids []int64, legs bracketLegs) error {
	for i, leg := range legs {
		transmit := i == len(legs)-1
		if err := g.client.PlaceOrder(ids[i], leg.contract(), leg.wireOrder(transmit)); err != nil {
			for j := 0; j < i; j++ {
				if cerr := g.client.CancelOrder(ids[j]); cerr != nil {
					g.log.Warn("cancelling held bracket leg", "order_id", ids[j], "error", cerr)
				}
			}
			return fmt.Errorf("dispatching %s leg %d: %w", legNames[i], ids[i], err)
		}
	}
	return nil
}
