package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/store"
)

func TestPlaceOrderConfirmed(t *testing.T) {
	h := newHarness(t)
	h.engine.Start()

	res, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.OrderID)
	assert.Equal(t, domain.OrderStatusSubmitted, res.Status)
	assert.False(t, res.TimedOut)
	assert.NotEmpty(t, res.CorrelationID)

	row := h.order(t, res.OrderID)
	assert.Equal(t, domain.OrderStatusSubmitted, row.Status)
	assert.Equal(t, res.CorrelationID, row.CorrelationID)
	assert.Equal(t, domain.OrderSourceManual, row.OrderSource)
	assert.Equal(t, "SMART", row.Exchange)
}

func TestPlaceOrderWithoutCorrelatorLeavesPendingLocalWrite(t *testing.T) {
	h := newHarness(t)

	res, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, res.Status)
	assert.Equal(t, domain.OrderStatusPendingLocalWrite, h.order(t, res.OrderID).Status)
}

func TestPlaceOrderTimeoutResolvesSubmitted(t *testing.T) {
	h := newHarness(t)
	h.sim.Silent = true
	before := h.sim.Len()

	res, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, StatusPlaceTimeout, res.Status)
	assert.Contains(t, res.Status, "timeout")
	assert.Equal(t, before, h.sim.Len(), "transient listener must be removed")
}

func TestPlaceOrderFatalErrorRejects(t *testing.T) {
	h := newHarness(t)
	h.sim.PlaceHook = func(id int64, _ broker.Contract, _ broker.Order) error {
		h.sim.Emit(broker.ErrorEvent{ID: id, Code: broker.CodeOrderRejected, Message: "Order rejected"})
		return nil
	}
	before := h.sim.Len()

	_, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	var be *BrokerError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, broker.CodeOrderRejected, be.Code)
	assert.Equal(t, int64(500), be.OrderID)
	assert.Contains(t, err.Error(), "201")
	assert.Equal(t, before, h.sim.Len())
}

func TestPlaceOrderConnectionWideFatalError(t *testing.T) {
	h := newHarness(t)
	h.sim.PlaceHook = func(int64, broker.Contract, broker.Order) error {
		h.sim.Emit(broker.ErrorEvent{ID: -1, Code: broker.CodeNotConnected, Message: "Not connected"})
		return nil
	}
	_, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	var be *BrokerError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, int64(-1), be.OrderID)
}

func TestPlaceOrderIgnoresNonFatalErrors(t *testing.T) {
	h := newHarness(t)
	h.sim.PlaceHook = func(id int64, _ broker.Contract, _ broker.Order) error {
		h.sim.Emit(broker.ErrorEvent{ID: -1, Code: 2104, Message: "Market data farm connection is OK"})
		h.sim.Emit(broker.ErrorEvent{ID: id, Code: broker.CodeOrderMsgWarning, Message: "Order message warning"})
		return nil
	}
	res, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, res.Status)
}

func TestPlaceOrderValidationNeverDispatches(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.PlaceOrder(t.Context(), PlaceOrderParams{Action: domain.ActionBuy, OrderType: "LMT"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)
	assert.Empty(t, h.sim.Dispatched())
}

func TestPlaceOrderDisconnected(t *testing.T) {
	h := newHarness(t)
	h.sim.SetConnected(false)
	_, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 1, 1))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPlaceOrderSlowSendStaysBounded(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.sim.PlaceHook = func(int64, broker.Contract, broker.Order) error {
		<-release
		return nil
	}

	start := time.Now()
	res, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, StatusPlaceTimeout, res.Status)
	assert.Less(t, elapsed, 500*time.Millisecond, "confirmation timeout must cover the wire write")
}

func TestPlaceOrderSendErrorWinsOverEarlyStatus(t *testing.T) {
	h := newHarness(t)
	h.sim.PlaceHook = func(id int64, _ broker.Contract, _ broker.Order) error {
		h.sim.Emit(broker.OrderStatusEvent{OrderID: id, Status: domain.OrderStatusSubmitted})
		return errors.New("socket closed")
	}
	_, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket closed")
}

func TestChildInheritsParentCorrelation(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	parent, err := h.gw.PlaceOrder(ctx, limitBuy("AAPL", 10, 150))
	require.NoError(t, err)

	child := limitBuy("AAPL", 10, 160)
	child.Action = domain.ActionSell
	child.ParentID = parent.OrderID
	res, err := h.gw.PlaceOrder(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, parent.CorrelationID, res.CorrelationID)

	row := h.order(t, res.OrderID)
	assert.Equal(t, parent.CorrelationID, row.CorrelationID)
	require.NotNil(t, row.ParentOrderID)
	assert.Equal(t, parent.OrderID, *row.ParentOrderID)

	orphan := limitBuy("AAPL", 1, 100)
	orphan.ParentID = 9999
	res, err = h.gw.PlaceOrder(ctx, orphan)
	require.NoError(t, err)
	assert.NotEmpty(t, res.CorrelationID)
	assert.NotEqual(t, parent.CorrelationID, res.CorrelationID)
}

// failingJournal fails every order insert.
type failingJournal struct {
	store.Journal
}

func (failingJournal) InsertOrder(context.Context, *domain.Order) error {
	return errors.New("disk full")
}

func TestJournalFailureDoesNotAbortPlacement(t *testing.T) {
	sim := broker.NewSimulatorBroker(1)
	gw := NewGateway(sim, failingJournal{Journal: newJournal(t)}, Options{}, discardLogger())

	res, err := gw.PlaceOrder(t.Context(), limitBuy("AAPL", 1, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, res.Status)
	assert.Len(t, sim.Dispatched(), 1)
}

func bracket(symbol string) BracketParams {
	return BracketParams{
		Symbol:          symbol,
		Action:          domain.ActionBuy,
		TotalQuantity:   10,
		EntryPrice:      domain.Float(150),
		TakeProfitPrice: domain.Float(160),
		StopLossPrice:   domain.Float(145),
	}
}

func TestBracketDispatchOrder(t *testing.T) {
	h := newHarness(t)
	h.engine.Start()

	res, err := h.gw.PlaceBracketOrder(t.Context(), bracket("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, res.Status)
	assert.Equal(t, res.OrderID+1, res.TakeProfitOrderID)
	assert.Equal(t, res.OrderID+2, res.StopLossOrderID)

	d := h.sim.Dispatched()
	require.Len(t, d, 3)
	assert.Equal(t, []int64{res.OrderID, res.TakeProfitOrderID, res.StopLossOrderID},
		[]int64{d[0].OrderID, d[1].OrderID, d[2].OrderID})
	assert.Equal(t, []bool{false, false, true},
		[]bool{d[0].Order.Transmit, d[1].Order.Transmit, d[2].Order.Transmit})

	assert.Equal(t, domain.OrderTypeLimit, d[0].Order.OrderType)
	assert.Equal(t, domain.ActionBuy, d[0].Order.Action)
	assert.Zero(t, d[0].Order.ParentID)

	assert.Equal(t, domain.OrderTypeLimit, d[1].Order.OrderType)
	assert.Equal(t, domain.ActionSell, d[1].Order.Action)
	assert.Equal(t, 160.0, *d[1].Order.LmtPrice)
	assert.Equal(t, res.OrderID, d[1].Order.ParentID)

	assert.Equal(t, domain.OrderTypeStop, d[2].Order.OrderType)
	assert.Equal(t, domain.ActionSell, d[2].Order.Action)
	assert.Equal(t, 145.0, *d[2].Order.AuxPrice)
	assert.Equal(t, res.OrderID, d[2].Order.ParentID)
	assert.Empty(t, d[2].Order.OCAGroup)

	for _, id := range []int64{res.OrderID, res.TakeProfitOrderID, res.StopLossOrderID} {
		row := h.order(t, id)
		assert.Equal(t, res.CorrelationID, row.CorrelationID)
		assert.Equal(t, domain.OrderStatusSubmitted, row.Status)
	}
	assert.Equal(t, res.OrderID, *h.order(t, res.StopLossOrderID).ParentOrderID)
}

func TestBracketDispatchOrderProperty(t *testing.T) {
	sim := broker.NewSimulatorBroker(1)
	gw := NewGateway(sim, newJournal(t), Options{}, discardLogger())

	rapid.Check(t, func(rt *rapid.T) {
		action := rapid.SampledFrom([]domain.Action{domain.ActionBuy, domain.ActionSell}).Draw(rt, "action")
		qty := float64(rapid.IntRange(1, 10000).Draw(rt, "qty"))
		entry := rapid.Float64Range(1, 1000).Draw(rt, "entry")
		p := BracketParams{
			Symbol:          rapid.StringMatching(`[A-Z]{1,5}`).Draw(rt, "symbol"),
			Action:          action,
			TotalQuantity:   qty,
			TakeProfitPrice: domain.Float(entry * 1.1),
			StopLossPrice:   domain.Float(entry * 0.9),
		}
		if rapid.Bool().Draw(rt, "limit_entry") {
			p.EntryPrice = domain.Float(entry)
		}

		res, err := gw.PlaceBracketOrder(context.Background(), p)
		if err != nil {
			rt.Fatalf("PlaceBracketOrder: %v", err)
		}
		all := sim.Dispatched()
		d := all[len(all)-3:]
		want := []int64{res.OrderID, res.TakeProfitOrderID, res.StopLossOrderID}
		for i := range d {
			if d[i].OrderID != want[i] {
				rt.Fatalf("dispatch %d went to order %d, want %d", i, d[i].OrderID, want[i])
			}
			if d[i].Order.Transmit != (i == 2) {
				rt.Fatalf("dispatch %d transmit=%v", i, d[i].Order.Transmit)
			}
			if i > 0 && d[i].Order.Action != action.Opposite() {
				rt.Fatalf("exit leg %d action %s", i, d[i].Order.Action)
			}
		}
	})
}

func TestBracketTimeoutResolves(t *testing.T) {
	h := newHarness(t)
	h.sim.Silent = true
	res, err := h.gw.PlaceBracketOrder(t.Context(), bracket("AAPL"))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.True(t, strings.Contains(res.Status, "timeout"))
}

func TestBracketValidationCoversEveryLeg(t *testing.T) {
	h := newHarness(t)
	p := bracket("")
	p.TakeProfitPrice = nil
	_, err := h.gw.PlaceBracketOrder(t.Context(), p)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Errors, "take_profit: LMT orders require lmt_price")
	assert.Contains(t, ve.Errors, "symbol is required")
	assert.Empty(t, h.sim.Dispatched())
}

func TestBracketLegFailureCancelsHeldLegs(t *testing.T) {
	h := newHarness(t)
	h.sim.PlaceHook = func(_ int64, _ broker.Contract, o broker.Order) error {
		if o.OrderType == domain.OrderTypeStop {
			return fmt.Errorf("stop rejected")
		}
		return nil
	}
	_, err := h.gw.PlaceBracketOrder(t.Context(), bracket("AAPL"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_loss")
	assert.Empty(t, h.sim.OpenOrders(), "held legs must be cancelled")
}

func TestAdvancedBracketOCA(t *testing.T) {
	h := newHarness(t)
	p := AdvancedBracketParams{
		BracketParams:  bracket("MSFT"),
		StopLossType:   domain.OrderTypeStopLimit,
		StopLimitPrice: domain.Float(144),
	}
	res, err := h.gw.PlaceAdvancedBracket(t.Context(), p)
	require.NoError(t, err)
	wantGroup := fmt.Sprintf("OCA-%d", res.OrderID)
	assert.Equal(t, wantGroup, res.OCAGroup)

	d := h.sim.Dispatched()
	require.Len(t, d, 3)
	assert.Empty(t, d[0].Order.OCAGroup)
	for _, leg := range d[1:] {
		assert.Equal(t, wantGroup, leg.Order.OCAGroup)
		assert.Equal(t, domain.OCACancelWithBlock, leg.Order.OCAType)
	}
	assert.Equal(t, domain.OrderTypeStopLimit, d[2].Order.OrderType)
	assert.Equal(t, 145.0, *d[2].Order.AuxPrice)
	assert.Equal(t, 144.0, *d[2].Order.LmtPrice)
	assert.Equal(t, wantGroup, h.order(t, res.StopLossOrderID).OCAGroup)
}

func TestAdvancedBracketTrailingStop(t *testing.T) {
	h := newHarness(t)
	p := AdvancedBracketParams{
		BracketParams:   bracket("TSLA"),
		StopLossType:    domain.OrderTypeTrail,
		TrailingPercent: domain.Float(2),
		OCAGroup:        "exit-tsla",
		OCAType:         domain.OCAReduceWithBlock,
	}
	res, err := h.gw.PlaceAdvancedBracket(t.Context(), p)
	require.NoError(t, err)
	assert.Equal(t, "exit-tsla", res.OCAGroup)

	sl := h.sim.Dispatched()[2].Order
	assert.Equal(t, domain.OrderTypeTrail, sl.OrderType)
	assert.Nil(t, sl.AuxPrice)
	assert.Equal(t, 2.0, *sl.TrailingPercent)
	assert.Equal(t, 145.0, *sl.TrailStopPrice)
	assert.Equal(t, domain.OCAReduceWithBlock, sl.OCAType)
	assert.True(t, sl.Transmit)
}

func TestAdvancedBracketRejectsBadStopLeg(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.PlaceAdvancedBracket(t.Context(), AdvancedBracketParams{BracketParams: bracket("X"), StopLossType: "MIT"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	_, err = h.gw.PlaceAdvancedBracket(t.Context(), AdvancedBracketParams{
		BracketParams:  bracket("X"),
		StopLossType:   domain.OrderTypeTrailLimit,
		TrailingAmount: domain.Float(1),
	})
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Errors, "stop_loss: TRAIL LIMIT orders require stop_limit_price")

	_, err = h.gw.PlaceAdvancedBracket(t.Context(), AdvancedBracketParams{BracketParams: bracket("X"), OCAType: 9})
	require.True(t, errors.As(err, &ve))
	assert.Empty(t, h.sim.Dispatched())
}

func TestModifyOrder(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	placed, err := h.gw.PlaceOrder(ctx, limitBuy("AAPL", 10, 150))
	require.NoError(t, err)

	res, err := h.gw.ModifyOrder(ctx, ModifyParams{OrderID: placed.OrderID, LmtPrice: domain.Float(151)})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, res.Status)

	d := h.sim.Dispatched()
	require.Len(t, d, 2)
	amend := d[1]
	assert.Equal(t, placed.OrderID, amend.OrderID)
	assert.Equal(t, domain.ActionBuy, amend.Order.Action)
	assert.Equal(t, 10.0, amend.Order.TotalQuantity)
	assert.Equal(t, 151.0, *amend.Order.LmtPrice)

	row := h.order(t, placed.OrderID)
	assert.Equal(t, 151.0, *row.LmtPrice)
	assert.Equal(t, 10.0, row.TotalQuantity)
	assert.Equal(t, placed.CorrelationID, row.CorrelationID)
}

func TestModifyPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.gw.ModifyOrder(ctx, ModifyParams{OrderID: 1})
	assert.ErrorIs(t, err, ErrNoFieldsToModify)
	assert.EqualError(t, ErrNoFieldsToModify, "No fields to modify.")

	_, err = h.gw.ModifyOrder(ctx, ModifyParams{OrderID: 42, LmtPrice: domain.Float(1)})
	assert.ErrorIs(t, err, ErrNotModifiable)

	h.sim.SetOpenOrder(broker.OpenOrder{
		OrderID:  77,
		Contract: broker.Contract{Symbol: "AAPL"},
		Order:    broker.Order{Action: domain.ActionBuy, OrderType: "LMT", TotalQuantity: 1, LmtPrice: domain.Float(1)},
		Status:   domain.OrderStatusPendingCancel,
	})
	_, err = h.gw.ModifyOrder(ctx, ModifyParams{OrderID: 77, LmtPrice: domain.Float(2)})
	assert.ErrorIs(t, err, ErrNotModifiable)
	assert.Contains(t, err.Error(), domain.OrderStatusPendingCancel)

	assert.Empty(t, h.sim.Dispatched(), "no broker mutation may be attempted")
}

func TestModifyTimeoutIsInformational(t *testing.T) {
	h := newHarness(t)
	placed, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.NoError(t, err)

	h.sim.Silent = true
	qty := 5.0
	res, err := h.gw.ModifyOrder(t.Context(), ModifyParams{OrderID: placed.OrderID, TotalQuantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, StatusModifyTimeout, res.Status)
	assert.Equal(t, 5.0, h.order(t, placed.OrderID).TotalQuantity)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	placed, err := h.gw.PlaceOrder(ctx, limitBuy("AAPL", 10, 150))
	require.NoError(t, err)

	res, err := h.gw.CancelOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)

	_, err = h.gw.CancelOrder(ctx, 12345)
	var be *BrokerError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, broker.CodeOrderNotFound, be.Code)
}

func TestCancelOrderTimeout(t *testing.T) {
	h := newHarness(t)
	placed, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 10, 150))
	require.NoError(t, err)

	h.sim.Silent = true
	res, err := h.gw.CancelOrder(t.Context(), placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelTimeout, res.Status)
	assert.True(t, res.TimedOut)
}

func TestCancelAllOrders(t *testing.T) {
	h := newHarness(t)
	for _, sym := range []string{"AAPL", "MSFT"} {
		_, err := h.gw.PlaceOrder(t.Context(), limitBuy(sym, 1, 100))
		require.NoError(t, err)
	}
	require.NoError(t, h.gw.CancelAllOrders(t.Context()))
	assert.Empty(t, h.sim.OpenOrders())
}

func TestFlattenBestEffort(t *testing.T) {
	h := newHarness(t)
	h.engine.Start()
	h.sim.SetPosition(domain.Position{Symbol: "AAPL", Quantity: 10, AvgCost: 150, SecType: "STK", Currency: "USD"})
	h.sim.SetPosition(domain.Position{Symbol: "MSFT", Quantity: -5, AvgCost: 400, SecType: "STK", Currency: "USD"})
	h.sim.SetPosition(domain.Position{Symbol: "TSLA", Quantity: 3, AvgCost: 250, SecType: "STK", Currency: "USD"})
	resting, err := h.gw.PlaceOrder(t.Context(), limitBuy("AAPL", 1, 100))
	require.NoError(t, err)

	h.sim.PlaceHook = func(_ int64, c broker.Contract, _ broker.Order) error {
		if c.Symbol == "MSFT" {
			return errors.New("no shortable shares")
		}
		return nil
	}

	res, err := h.gw.FlattenAllPositions(t.Context())
	require.NoError(t, err)

	require.Len(t, res.Flattened, 2)
	assert.Equal(t, "AAPL", res.Flattened[0].Symbol)
	assert.Equal(t, domain.ActionSell, res.Flattened[0].Action)
	assert.Equal(t, "TSLA", res.Flattened[1].Symbol)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "MSFT", res.Skipped[0].Symbol)
	assert.Contains(t, res.Skipped[0].Reason, "no shortable shares")

	assert.Equal(t, domain.OrderStatusCancelled, h.order(t, resting.OrderID).Status)
	for _, f := range res.Flattened {
		row := h.order(t, f.OrderID)
		assert.Equal(t, domain.OrderSourceFlatten, row.OrderSource)
		assert.Equal(t, domain.OrderTypeMarket, row.OrderType)
	}

	d := h.sim.Dispatched()
	last := d[len(d)-1]
	assert.Equal(t, "TSLA", last.Contract.Symbol)
	assert.Equal(t, 3.0, last.Order.TotalQuantity)

	snap, err := h.journal.LatestPositionSnapshots(t.Context(), domain.SnapshotSourceFlatten)
	require.NoError(t, err)
	assert.Len(t, snap, 3)
}

func TestFlattenShortPositionBuysBack(t *testing.T) {
	h := newHarness(t)
	h.sim.SetPosition(domain.Position{Symbol: "MSFT", Quantity: -5})
	res, err := h.gw.FlattenAllPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, res.Flattened, 1)
	assert.Equal(t, domain.ActionBuy, res.Flattened[0].Action)
	assert.Equal(t, 5.0, h.sim.Dispatched()[0].Order.TotalQuantity)
}
