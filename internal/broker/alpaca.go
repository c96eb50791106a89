package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradebridge/internal/domain"
	"tradebridge/internal/util"
)

// Compile-time interface check.
var _ Client = (*AlpacaBroker)(nil)

// clientOrderPrefix marks Alpaca orders created by the bridge; the suffix is
// the bridge order id, followed by "-r..." on replacements.
const clientOrderPrefix = "tb-"

// alpacaBurst lets a bracket submission and its follow-up cancel go out
// back to back.
const alpacaBurst = 3

// heartbeatInterval is how often Connect's account check is repeated to
// track session health.
const heartbeatInterval = 30 * time.Second

// outboxSize bounds the order requests waiting for the rate limiter.
const outboxSize = 256

// maxRecentFills bounds the in-session fill history replayed by ReqExecutions.
const maxRecentFills = 5000

// AlpacaBroker implements the Client interface on top of the Alpaca trading
// API. REST responses and trade-update stream messages are translated into
// broker events so the engine sees the same protocol as any other session.
//
// Alpaca brackets are a single request, so bracket legs placed with
// Transmit=false are held locally and submitted together as one bracket
// order when the transmitting leg arrives.
//
// Order writes (place, replace, cancel, global cancel) are queued and sent
// in order by one worker bound to the Connect context, so callers never
// block on the rate limiter or the REST round trip. Failures come back as
// ErrorEvents tagged with the order id.
type AlpacaBroker struct {
	*Dispatcher

	client  *alpaca.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	nextID    atomic.Int64
	connected atomic.Bool

	mu       sync.Mutex
	toRemote map[int64]string // bridge id -> alpaca order id
	toLocal  map[string]int64 // alpaca order id -> bridge id
	held     map[int64]heldOrder
	retired  map[string]bool // alpaca ids superseded by a replacement
	fills    []ExecDetailsEvent

	session context.Context
	outbox  chan outboundRequest
}

// outboundRequest is one queued order write. id is -1 for account-wide
// requests.
type outboundRequest struct {
	id   int64
	name string
	do   func(ctx context.Context) error
}

type heldOrder struct {
	contract Contract
	order    Order
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint. Call Connect before use.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, ratePerMin int, log *slog.Logger) *AlpacaBroker {
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	b := &AlpacaBroker{
		Dispatcher: NewDispatcher(),
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		limiter:  util.NewBurstRateLimiter(ratePerMin, alpacaBurst),
		log:      log.With("broker", "alpaca"),
		toRemote: make(map[int64]string),
		toLocal:  make(map[string]int64),
		held:     make(map[int64]heldOrder),
		retired:  make(map[string]bool),
		session:  context.Background(),
		outbox:   make(chan outboundRequest, outboxSize),
	}
	// Millisecond seed keeps ids unique across restarts of the process.
	b.nextID.Store(time.Now().UnixMilli())
	return b
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Connect verifies the credentials and starts the trade-update stream. The
// stream stops when ctx is cancelled.
func (b *AlpacaBroker) Connect(ctx context.Context) error {
	err := util.Retry(ctx, 3, time.Second, func() error {
		_, err := b.client.GetAccount()
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("alpaca account check: %w", err)
	}
	b.mu.Lock()
	b.session = ctx
	b.mu.Unlock()
	go b.drain(ctx)
	b.client.StreamTradeUpdatesInBackground(ctx, b.onTradeUpdate)
	b.connected.Store(true)
	go b.heartbeat(ctx, heartbeatInterval)
	b.log.Info("connected")
	return nil
}

// heartbeat re-checks the account every interval and flips IsConnected on
// failures and recoveries. The trade-update stream reconnects on its own and
// keeps delivering to the same Dispatcher.
func (b *AlpacaBroker) heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer b.connected.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		_, err := b.client.GetAccount()
		switch {
		case err != nil && b.connected.Swap(false):
			b.log.Warn("alpaca session unhealthy", "error", err)
		case err == nil && !b.connected.Swap(true):
			b.log.Info("alpaca session restored")
		}
	}
}

// drain sends queued order writes one at a time until ctx is done.
func (b *AlpacaBroker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.outbox:
			b.send(ctx, req)
		}
	}
}

func (b *AlpacaBroker) send(ctx context.Context, req outboundRequest) {
	err := b.limiter.Wait(ctx)
	if err == nil {
		err = req.do(ctx)
	}
	if err == nil {
		return
	}
	if req.id == -1 {
		b.log.Error("alpaca request failed", "request", req.name, "error", err)
		return
	}
	b.Emit(ErrorEvent{ID: req.id, Code: CodeOrderRejected, Message: err.Error()})
}

// enqueue hands req to the worker without blocking.
func (b *AlpacaBroker) enqueue(req outboundRequest) error {
	select {
	case b.outbox <- req:
		return nil
	default:
		return fmt.Errorf("alpaca: %s for order %d: outbound queue full", req.name, req.id)
	}
}

func (b *AlpacaBroker) sessionContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// IsConnected reports whether Connect succeeded and the stream is running.
func (b *AlpacaBroker) IsConnected() bool { return b.connected.Load() }

// NextOrderID allocates the next bridge order id.
func (b *AlpacaBroker) NextOrderID() int64 { return b.nextID.Add(1) }

// PlaceOrder submits, holds, or replaces an order. Submission failures are
// reported as fatal ErrorEvents tagged with id.
func (b *AlpacaBroker) PlaceOrder(id int64, c Contract, o Order) error {
	if !b.IsConnected() {
		return fmt.Errorf("alpaca: not connected")
	}

	b.mu.Lock()
	remoteID, known := b.toRemote[id]
	if !known && !o.Transmit {
		b.held[id] = heldOrder{contract: c, order: o}
		b.mu.Unlock()
		return nil
	}
	var parent *heldOrder
	var legs []heldOrder
	var legIDs []int64
	if !known && o.ParentID != 0 {
		if p, ok := b.held[o.ParentID]; ok {
			parent = &p
			delete(b.held, o.ParentID)
			for hid, h := range b.held {
				if h.order.ParentID == o.ParentID {
					legs = append(legs, h)
					legIDs = append(legIDs, hid)
					delete(b.held, hid)
				}
			}
		}
	}
	b.mu.Unlock()

	switch {
	case known:
		return b.enqueue(outboundRequest{id: id, name: "replace", do: func(context.Context) error {
			b.replace(id, remoteID, o)
			return nil
		}})
	case parent != nil:
		legs = append(legs, heldOrder{contract: c, order: o})
		legIDs = append(legIDs, id)
		return b.enqueue(outboundRequest{id: o.ParentID, name: "bracket", do: func(context.Context) error {
			b.submitBracket(o.ParentID, *parent, legIDs, legs)
			return nil
		}})
	default:
		return b.enqueue(outboundRequest{id: id, name: "place", do: func(context.Context) error {
			b.submit(id, c, o)
			return nil
		}})
	}
}

func (b *AlpacaBroker) submit(id int64, c Contract, o Order) {
	req, err := placeRequest(id, c, o)
	if err != nil {
		b.Emit(ErrorEvent{ID: id, Code: CodeOrderRejected, Message: err.Error()})
		return
	}
	ord, err := b.client.PlaceOrder(req)
	if err != nil {
		b.Emit(ErrorEvent{ID: id, Code: CodeOrderRejected, Message: err.Error()})
		return
	}
	b.track(id, ord.ID)
	b.Emit(OrderStatusEvent{OrderID: id, Status: mapStatus(ord.Status), Remaining: o.TotalQuantity})
}

// submitBracket sends a held parent plus its take-profit and stop-loss legs as
// one Alpaca bracket order.
func (b *AlpacaBroker) submitBracket(parentID int64, parent heldOrder, legIDs []int64, legs []heldOrder) {
	req, err := placeRequest(parentID, parent.contract, parent.order)
	if err != nil {
		b.Emit(ErrorEvent{ID: parentID, Code: CodeOrderRejected, Message: err.Error()})
		return
	}
	req.OrderClass = alpaca.Bracket
	for _, l := range legs {
		switch l.order.OrderType {
		case domain.OrderTypeLimit:
			req.TakeProfit = &alpaca.TakeProfit{LimitPrice: dec(l.order.LmtPrice)}
		case domain.OrderTypeStop:
			req.StopLoss = &alpaca.StopLoss{StopPrice: dec(l.order.AuxPrice)}
		case domain.OrderTypeStopLimit:
			req.StopLoss = &alpaca.StopLoss{StopPrice: dec(l.order.AuxPrice), LimitPrice: dec(l.order.LmtPrice)}
		default:
			b.Emit(ErrorEvent{ID: parentID, Code: CodeOrderRejected,
				Message: fmt.Sprintf("bracket leg type %q is not supported by alpaca", l.order.OrderType)})
			return
		}
	}
	if req.TakeProfit == nil || req.StopLoss == nil {
		b.Emit(ErrorEvent{ID: parentID, Code: CodeOrderRejected, Message: "bracket requires take-profit and stop-loss legs"})
		return
	}

	ord, err := b.client.PlaceOrder(req)
	if err != nil {
		b.Emit(ErrorEvent{ID: parentID, Code: CodeOrderRejected, Message: err.Error()})
		return
	}
	b.track(parentID, ord.ID)
	for _, leg := range ord.Legs {
		for i, l := range legs {
			if legMatches(leg, l.order) {
				b.track(legIDs[i], leg.ID)
			}
		}
	}
	b.Emit(OrderStatusEvent{OrderID: parentID, Status: mapStatus(ord.Status), Remaining: parent.order.TotalQuantity})
}

func (b *AlpacaBroker) replace(id int64, remoteID string, o Order) {
	req := replaceRequest(id, o, time.Now())
	ord, err := b.client.ReplaceOrder(remoteID, req)
	if err != nil {
		b.Emit(ErrorEvent{ID: id, Code: CodeOrderRejected, Message: err.Error()})
		return
	}
	// Alpaca assigns a new order id to the replacement; updates for the old
	// one still carry our client order id and must not win it back.
	b.mu.Lock()
	b.retired[remoteID] = true
	b.mu.Unlock()
	b.track(id, ord.ID)
	b.Emit(OrderStatusEvent{OrderID: id, Status: mapStatus(ord.Status), Remaining: o.TotalQuantity})
}

// CancelOrder requests cancellation; the Cancelled status arrives on the stream.
func (b *AlpacaBroker) CancelOrder(id int64) error {
	b.mu.Lock()
	remoteID, ok := b.toRemote[id]
	b.mu.Unlock()
	if !ok {
		b.Emit(ErrorEvent{ID: id, Code: CodeOrderNotFound, Message: fmt.Sprintf("OrderId %d that needs to be cancelled is not found.", id)})
		return nil
	}
	return b.enqueue(outboundRequest{id: id, name: "cancel", do: func(context.Context) error {
		if err := b.client.CancelOrder(remoteID); err != nil {
			b.Emit(ErrorEvent{ID: id, Code: CodeOrderNotFound, Message: err.Error()})
		}
		return nil
	}})
}

// ReqGlobalCancel cancels every open order on the account.
func (b *AlpacaBroker) ReqGlobalCancel() error {
	return b.enqueue(outboundRequest{id: -1, name: "cancel all", do: func(context.Context) error {
		return b.client.CancelAllOrders()
	}})
}

// ReqOpenOrders lists open orders (legs included) and emits them.
func (b *AlpacaBroker) ReqOpenOrders() error {
	orders, err := b.listOrders("open")
	if err != nil {
		return err
	}
	for _, oo := range orders {
		b.Emit(OpenOrderEvent{OpenOrder: oo})
	}
	b.Emit(OpenOrderEndEvent{})
	return nil
}

// ReqCompletedOrders lists closed orders and emits them.
func (b *AlpacaBroker) ReqCompletedOrders() error {
	orders, err := b.listOrders("closed")
	if err != nil {
		return err
	}
	for _, oo := range orders {
		b.Emit(CompletedOrderEvent{OpenOrder: oo})
	}
	b.Emit(CompletedOrderEndEvent{})
	return nil
}

// ReqExecutions replays fills seen on the trade-update stream this session.
func (b *AlpacaBroker) ReqExecutions(reqID int64, f ExecutionFilter) error {
	var since time.Time
	if f.Time != "" {
		t, err := time.Parse("20060102-15:04:05", f.Time)
		if err != nil {
			return fmt.Errorf("parsing execution filter time %q: %w", f.Time, err)
		}
		since = t
	}
	b.mu.Lock()
	fills := append([]ExecDetailsEvent(nil), b.fills...)
	b.mu.Unlock()
	for _, ev := range fills {
		if f.Symbol != "" && ev.Contract.Symbol != f.Symbol {
			continue
		}
		if !since.IsZero() && ev.Execution.Time.Before(since) {
			continue
		}
		ev.ReqID = reqID
		b.Emit(ev)
	}
	b.Emit(ExecDetailsEndEvent{ReqID: reqID})
	return nil
}

// Positions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) Positions(ctx context.Context) ([]domain.Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ps, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}
	out := make([]domain.Position, 0, len(ps))
	for _, p := range ps {
		qty := p.Qty.InexactFloat64()
		if p.Side == "short" && qty > 0 {
			qty = -qty
		}
		out = append(out, domain.Position{
			Symbol:   p.Symbol,
			Quantity: qty,
			AvgCost:  p.AvgEntryPrice.InexactFloat64(),
			SecType:  "STK",
			Currency: "USD",
		})
	}
	return out, nil
}

func (b *AlpacaBroker) listOrders(status string) ([]OpenOrder, error) {
	if err := b.limiter.Wait(b.sessionContext()); err != nil {
		return nil, err
	}
	orders, err := b.client.GetOrders(alpaca.GetOrdersRequest{
		Status: status,
		Limit:  500,
		Nested: true,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca %s orders: %w", status, err)
	}
	var out []OpenOrder
	var walk func(o alpaca.Order, parent int64)
	walk = func(o alpaca.Order, parent int64) {
		id, current := b.localID(o)
		if !current {
			return
		}
		out = append(out, toOpenOrder(id, parent, o))
		for _, leg := range o.Legs {
			walk(leg, id)
		}
	}
	for _, o := range orders {
		walk(o, 0)
	}
	return out, nil
}

// localID resolves the bridge id of an Alpaca order, allocating one for
// orders placed outside the bridge. current is false for an order that was
// replaced: its bridge id now belongs to the replacement.
func (b *AlpacaBroker) localID(o alpaca.Order) (id int64, current bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.toLocal[o.ID]; ok {
		return id, true
	}
	if n, ok := parseClientOrderID(o.ClientOrderID); ok {
		if b.retired[o.ID] || o.ReplacedBy != nil {
			return n, false
		}
		if remote, ok := b.toRemote[n]; ok && remote != o.ID {
			if o.Replaces == nil || *o.Replaces != remote {
				return n, false
			}
			// The replacement streamed in before ReplaceOrder returned.
			b.retired[remote] = true
		}
		b.trackLocked(n, o.ID)
		return n, true
	}
	id = b.nextID.Add(1)
	b.trackLocked(id, o.ID)
	return id, true
}

// replaceClientOrderID keeps the bridge id recognisable on a replacement;
// Alpaca requires client order ids to be unique.
func replaceClientOrderID(id int64, now time.Time) string {
	return clientOrderPrefix + strconv.FormatInt(id, 10) + "-r" + strconv.FormatInt(now.UnixNano(), 36)
}

func parseClientOrderID(s string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, clientOrderPrefix)
	if !ok {
		return 0, false
	}
	rest, _, _ = strings.Cut(rest, "-")
	n, err := strconv.ParseInt(rest, 10, 64)
	return n, err == nil
}

func (b *AlpacaBroker) track(id int64, remoteID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trackLocked(id, remoteID)
}

func (b *AlpacaBroker) trackLocked(id int64, remoteID string) {
	if old, ok := b.toRemote[id]; ok {
		delete(b.toLocal, old)
	}
	b.toRemote[id] = remoteID
	b.toLocal[remoteID] = id
}

func (b *AlpacaBroker) onTradeUpdate(tu alpaca.TradeUpdate) {
	id, current := b.localID(tu.Order)
	if !current {
		b.log.Debug("ignoring update for replaced order", "order_id", id, "alpaca_id", tu.Order.ID, "event", tu.Event)
		return
	}
	status := mapStatus(tu.Order.Status)

	if (tu.Event == "fill" || tu.Event == "partial_fill") && tu.Qty != nil && tu.Price != nil {
		ts := time.Now().UTC()
		if tu.Timestamp != nil {
			ts = tu.Timestamp.UTC()
		}
		side := "BOT"
		if tu.Order.Side == alpaca.Sell {
			side = "SLD"
		}
		ev := ExecDetailsEvent{
			ReqID:    -1,
			Contract: Contract{Symbol: tu.Order.Symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"},
			Execution: ExecutionDetail{
				ExecID:   fmt.Sprintf("%s.%d", tu.Order.ID, ts.UnixNano()),
				OrderID:  id,
				Side:     side,
				Shares:   tu.Qty.InexactFloat64(),
				Price:    tu.Price.InexactFloat64(),
				CumQty:   tu.Order.FilledQty.InexactFloat64(),
				AvgPrice: decFloat(tu.Order.FilledAvgPrice),
				Time:     ts,
			},
		}
		b.mu.Lock()
		b.fills = append(b.fills, ev)
		if len(b.fills) > maxRecentFills {
			b.fills = b.fills[len(b.fills)-maxRecentFills:]
		}
		b.mu.Unlock()
		b.Emit(ev)
		// Alpaca equities are commission free and report no realized PnL per fill.
		b.Emit(CommissionReportEvent{ExecID: ev.Execution.ExecID, Currency: "USD", RealizedPnL: UnsetRealizedPnL})
	}

	filled := tu.Order.FilledQty.InexactFloat64()
	b.Emit(OrderStatusEvent{
		OrderID:      id,
		Status:       status,
		Filled:       filled,
		Remaining:    decFloat(tu.Order.Qty) - filled,
		AvgFillPrice: decFloat(tu.Order.FilledAvgPrice),
	})
}

func placeRequest(id int64, c Contract, o Order) (alpaca.PlaceOrderRequest, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:        c.Symbol,
		Qty:           dec(&o.TotalQuantity),
		Side:          alpaca.Buy,
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientOrderPrefix + strconv.FormatInt(id, 10),
	}
	if o.Action == domain.ActionSell {
		req.Side = alpaca.Sell
	}
	if tif, ok := mapTIF(o.TIF); ok {
		req.TimeInForce = tif
	}
	switch o.OrderType {
	case domain.OrderTypeMarket:
		req.Type = alpaca.Market
	case domain.OrderTypeLimit:
		req.Type = alpaca.Limit
		req.LimitPrice = dec(o.LmtPrice)
	case domain.OrderTypeStop:
		req.Type = alpaca.Stop
		req.StopPrice = dec(o.AuxPrice)
	case domain.OrderTypeStopLimit:
		req.Type = alpaca.StopLimit
		req.StopPrice = dec(o.AuxPrice)
		req.LimitPrice = dec(o.LmtPrice)
	case domain.OrderTypeTrail:
		req.Type = alpaca.TrailingStop
		if o.TrailingPercent != nil {
			req.TrailPercent = dec(o.TrailingPercent)
		} else {
			req.TrailPrice = dec(o.AuxPrice)
		}
	default:
		return req, fmt.Errorf("order type %q is not supported by alpaca", o.OrderType)
	}
	return req, nil
}

// replaceRequest builds the amend for o. Trailing stops resend the trail,
// as a percent when set and as a price amount otherwise.
func replaceRequest(id int64, o Order, now time.Time) alpaca.ReplaceOrderRequest {
	req := alpaca.ReplaceOrderRequest{
		Qty:           dec(&o.TotalQuantity),
		LimitPrice:    dec(o.LmtPrice),
		StopPrice:     dec(o.AuxPrice),
		ClientOrderID: replaceClientOrderID(id, now),
	}
	if o.OrderType == domain.OrderTypeTrail || o.OrderType == domain.OrderTypeTrailLimit {
		req.StopPrice = nil
		req.Trail = dec(o.AuxPrice)
		if o.TrailingPercent != nil {
			req.Trail = dec(o.TrailingPercent)
		}
	}
	if tif, ok := mapTIF(o.TIF); ok {
		req.TimeInForce = tif
	}
	return req
}

func legMatches(leg alpaca.Order, o Order) bool {
	switch o.OrderType {
	case domain.OrderTypeLimit:
		return leg.Type == alpaca.Limit
	case domain.OrderTypeStop, domain.OrderTypeStopLimit:
		return leg.Type == alpaca.Stop || leg.Type == alpaca.StopLimit
	}
	return false
}

func toOpenOrder(id, parent int64, o alpaca.Order) OpenOrder {
	action := domain.ActionBuy
	if o.Side == alpaca.Sell {
		action = domain.ActionSell
	}
	ot := string(o.Type)
	switch o.Type {
	case alpaca.Market:
		ot = domain.OrderTypeMarket
	case alpaca.Limit:
		ot = domain.OrderTypeLimit
	case alpaca.Stop:
		ot = domain.OrderTypeStop
	case alpaca.StopLimit:
		ot = domain.OrderTypeStopLimit
	case alpaca.TrailingStop:
		ot = domain.OrderTypeTrail
	}
	aux := decPtr(o.StopPrice)
	var trailPct, trailStop *float64
	if o.Type == alpaca.TrailingStop {
		// StopPrice is the current stop; an amend must resend the trail.
		trailPct = decPtr(o.TrailPercent)
		trailStop = aux
		aux = decPtr(o.TrailPrice)
	}
	return OpenOrder{
		OrderID:  id,
		Contract: Contract{Symbol: o.Symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"},
		Order: Order{
			Action:          action,
			OrderType:       ot,
			TotalQuantity:   decFloat(o.Qty),
			LmtPrice:        decPtr(o.LimitPrice),
			AuxPrice:        aux,
			TrailingPercent: trailPct,
			TrailStopPrice:  trailStop,
			TIF:             strings.ToUpper(string(o.TimeInForce)),
			ParentID:        parent,
			Transmit:        true,
		},
		Status: mapStatus(o.Status),
	}
}

// mapStatus translates Alpaca order statuses to the broker status vocabulary.
func mapStatus(s string) string {
	switch s {
	case "new", "accepted", "partially_filled", "pending_replace", "replaced", "accepted_for_bidding", "calculated":
		return domain.OrderStatusSubmitted
	case "pending_new", "held", "stopped":
		return domain.OrderStatusPreSubmitted
	case "filled":
		return domain.OrderStatusFilled
	case "pending_cancel":
		return domain.OrderStatusPendingCancel
	case "canceled", "expired", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "suspended":
		return domain.OrderStatusInactive
	}
	return s
}

func mapTIF(tif string) (alpaca.TimeInForce, bool) {
	switch strings.ToUpper(tif) {
	case "DAY":
		return alpaca.Day, true
	case "GTC":
		return alpaca.GTC, true
	case "IOC":
		return alpaca.IOC, true
	case "FOK":
		return alpaca.FOK, true
	case "OPG":
		return alpaca.OPG, true
	}
	return "", false
}

func dec(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func decFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func decPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
