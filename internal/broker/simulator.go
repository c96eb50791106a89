package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tradebridge/internal/domain"
)

// Compile-time interface check.
var _ Client = (*SimulatorBroker)(nil)

// Dispatch records one PlaceOrder call as the simulator saw it.
type Dispatch struct {
	OrderID  int64
	Contract Contract
	Order    Order
}

type simFill struct {
	exec       ExecDetailsEvent
	commission CommissionReportEvent
}

// SimulatorBroker implements the Client interface for paper trading and
// tests. It keeps orders, fills and positions in memory and emits the same
// event sequence a real session would, synchronously on the caller's
// goroutine.
type SimulatorBroker struct {
	*Dispatcher

	nextID    atomic.Int64
	connected atomic.Bool

	mu         sync.Mutex
	open       map[int64]*OpenOrder
	openSeq    []int64
	held       map[int64]bool // placed with transmit=false, not yet released
	completed  []OpenOrder
	fills      []simFill
	positions  map[string]*domain.Position
	dispatched []Dispatch
	execSeq    int

	// Silent suppresses all order status events, so callers awaiting a
	// confirmation hit their timeout.
	Silent bool

	// AutoFill fills transmitted market orders immediately at FillPrice.
	AutoFill  bool
	FillPrice float64

	// PlaceHook, when set, runs before an order is accepted. A non-nil error
	// is returned from PlaceOrder and the order is dropped.
	PlaceHook func(id int64, c Contract, o Order) error

	// OpenOrdersErr, when set, fails ReqOpenOrders.
	OpenOrdersErr error

	// PositionsErr, when set, fails Positions.
	PositionsErr error
}

// NewSimulatorBroker creates a connected SimulatorBroker whose ids start at
// firstID.
func NewSimulatorBroker(firstID int64) *SimulatorBroker {
	b := &SimulatorBroker{
		Dispatcher: NewDispatcher(),
		open:       make(map[int64]*OpenOrder),
		held:       make(map[int64]bool),
		positions:  make(map[string]*domain.Position),
		FillPrice:  100,
	}
	b.nextID.Store(firstID - 1)
	b.connected.Store(true)
	return b
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// IsConnected reports the simulated connection state.
func (b *SimulatorBroker) IsConnected() bool { return b.connected.Load() }

// SetConnected flips the simulated connection state.
func (b *SimulatorBroker) SetConnected(v bool) { b.connected.Store(v) }

// NextOrderID allocates the next id.
func (b *SimulatorBroker) NextOrderID() int64 { return b.nextID.Add(1) }

// PlaceOrder records the order. Orders with Transmit=false are held until an
// order whose ParentID points at them is transmitted; the whole group is then
// released parent first.
func (b *SimulatorBroker) PlaceOrder(id int64, c Contract, o Order) error {
	if !b.IsConnected() {
		return fmt.Errorf("simulator: not connected")
	}
	if b.PlaceHook != nil {
		if err := b.PlaceHook(id, c, o); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.dispatched = append(b.dispatched, Dispatch{OrderID: id, Contract: c, Order: o})
	if existing, ok := b.open[id]; ok {
		// Amendment of a working order.
		existing.Order = o
		status := existing.Status
		b.mu.Unlock()
		b.emitStatus(id, status, o.ParentID, 0, o.TotalQuantity, 0)
		return nil
	}
	b.open[id] = &OpenOrder{OrderID: id, Contract: c, Order: o, Status: domain.OrderStatusPreSubmitted}
	b.openSeq = append(b.openSeq, id)
	if !o.Transmit {
		b.held[id] = true
		b.mu.Unlock()
		return nil
	}

	// Release the held group this order closes, parent first.
	var release []int64
	if o.ParentID != 0 && b.held[o.ParentID] {
		release = append(release, o.ParentID)
		for _, oid := range b.openSeq {
			if b.held[oid] && oid != o.ParentID && b.open[oid].Order.ParentID == o.ParentID {
				release = append(release, oid)
			}
		}
	}
	release = append(release, id)
	for _, oid := range release {
		delete(b.held, oid)
		b.open[oid].Status = domain.OrderStatusSubmitted
	}
	b.mu.Unlock()

	for _, oid := range release {
		b.mu.Lock()
		oo := *b.open[oid]
		b.mu.Unlock()
		b.emitStatus(oid, domain.OrderStatusSubmitted, oo.Order.ParentID, 0, oo.Order.TotalQuantity, 0)
		if b.AutoFill && oo.Order.OrderType == domain.OrderTypeMarket {
			b.Fill(oid, b.FillPrice)
		}
	}
	return nil
}

// CancelOrder cancels a working order, or emits a fatal error for an unknown id.
func (b *SimulatorBroker) CancelOrder(id int64) error {
	if !b.IsConnected() {
		return fmt.Errorf("simulator: not connected")
	}
	b.mu.Lock()
	oo, ok := b.open[id]
	if !ok {
		b.mu.Unlock()
		b.Emit(ErrorEvent{ID: id, Code: CodeOrderNotFound, Message: fmt.Sprintf("OrderId %d that needs to be cancelled is not found.", id)})
		return nil
	}
	b.closeLocked(id, domain.OrderStatusCancelled)
	parent := oo.Order.ParentID
	qty := oo.Order.TotalQuantity
	b.mu.Unlock()

	b.emitStatus(id, domain.OrderStatusCancelled, parent, 0, qty, 0)
	return nil
}

// ReqGlobalCancel cancels every open order.
func (b *SimulatorBroker) ReqGlobalCancel() error {
	if !b.IsConnected() {
		return fmt.Errorf("simulator: not connected")
	}
	b.mu.Lock()
	ids := append([]int64(nil), b.openSeq...)
	b.mu.Unlock()
	for _, id := range ids {
		if err := b.CancelOrder(id); err != nil {
			return err
		}
	}
	return nil
}

// ReqOpenOrders emits the open-order enumeration.
func (b *SimulatorBroker) ReqOpenOrders() error {
	if b.OpenOrdersErr != nil {
		return b.OpenOrdersErr
	}
	if !b.IsConnected() {
		return fmt.Errorf("simulator: not connected")
	}
	for _, oo := range b.OpenOrders() {
		b.Emit(OpenOrderEvent{OpenOrder: oo})
	}
	b.Emit(OpenOrderEndEvent{})
	return nil
}

// ReqCompletedOrders emits the completed-order enumeration.
func (b *SimulatorBroker) ReqCompletedOrders() error {
	if !b.IsConnected() {
		return fmt.Errorf("simulator: not connected")
	}
	b.mu.Lock()
	done := append([]OpenOrder(nil), b.completed...)
	b.mu.Unlock()
	for _, oo := range done {
		b.Emit(CompletedOrderEvent{OpenOrder: oo})
	}
	b.Emit(CompletedOrderEndEvent{})
	return nil
}

// ReqExecutions replays recorded fills matching f, tagged with reqID. Each
// fill is followed by its commission report, which carries no request id.
func (b *SimulatorBroker) ReqExecutions(reqID int64, f ExecutionFilter) error {
	if !b.IsConnected() {
		return fmt.Errorf("simulator: not connected")
	}
	var since time.Time
	if f.Time != "" {
		t, err := time.Parse("20060102-15:04:05", f.Time)
		if err != nil {
			b.Emit(ErrorEvent{ID: reqID, Code: 321, Message: "invalid execution filter time: " + f.Time})
			return nil
		}
		since = t
	}
	b.mu.Lock()
	fills := append([]simFill(nil), b.fills...)
	b.mu.Unlock()
	for _, fl := range fills {
		ev := fl.exec
		if f.Symbol != "" && ev.Contract.Symbol != f.Symbol {
			continue
		}
		if !since.IsZero() && ev.Execution.Time.Before(since) {
			continue
		}
		ev.ReqID = reqID
		b.Emit(ev)
		b.Emit(fl.commission)
	}
	b.Emit(ExecDetailsEndEvent{ReqID: reqID})
	return nil
}

// Positions returns the simulated positions with non-zero quantity, ordered
// by symbol.
func (b *SimulatorBroker) Positions(_ context.Context) ([]domain.Position, error) {
	if b.PositionsErr != nil {
		return nil, b.PositionsErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Quantity != 0 {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// SetPosition overwrites the simulated position for symbol.
func (b *SimulatorBroker) SetPosition(p domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := p
	b.positions[p.Symbol] = &cp
}

// SetOpenOrder inserts or replaces a working order without emitting events.
func (b *SimulatorBroker) SetOpenOrder(oo OpenOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.open[oo.OrderID]; !ok {
		b.openSeq = append(b.openSeq, oo.OrderID)
	}
	cp := oo
	b.open[oo.OrderID] = &cp
}

// OpenOrders returns a copy of the working orders in placement order.
func (b *SimulatorBroker) OpenOrders() []OpenOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OpenOrder, 0, len(b.openSeq))
	for _, id := range b.openSeq {
		out = append(out, *b.open[id])
	}
	return out
}

// Dispatched returns every PlaceOrder call in call order.
func (b *SimulatorBroker) Dispatched() []Dispatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Dispatch(nil), b.dispatched...)
}

// Fill fully fills a working order at price, emitting execution, commission
// and status events, and adjusts the simulated position.
func (b *SimulatorBroker) Fill(id int64, price float64) {
	b.mu.Lock()
	oo, ok := b.open[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	b.execSeq++
	qty := oo.Order.TotalQuantity
	side := "BOT"
	signed := qty
	if oo.Order.Action == domain.ActionSell {
		side = "SLD"
		signed = -qty
	}
	detail := ExecutionDetail{
		ExecID:   fmt.Sprintf("sim.%d.%d", id, b.execSeq),
		OrderID:  id,
		Side:     side,
		Shares:   qty,
		Price:    price,
		CumQty:   qty,
		AvgPrice: price,
		Time:     time.Now().UTC(),
	}
	ev := ExecDetailsEvent{ReqID: -1, Contract: oo.Contract, Execution: detail}

	realized := UnsetRealizedPnL
	pos := b.positions[oo.Contract.Symbol]
	if pos == nil {
		pos = &domain.Position{Symbol: oo.Contract.Symbol, SecType: oo.Contract.SecType, Currency: oo.Contract.Currency}
		b.positions[oo.Contract.Symbol] = pos
	}
	if pos.Quantity != 0 && (pos.Quantity > 0) != (signed > 0) {
		realized = (price - pos.AvgCost) * qty
		if pos.Quantity < 0 {
			realized = -realized
		}
	} else {
		total := pos.Quantity + signed
		if total != 0 {
			pos.AvgCost = (pos.AvgCost*pos.Quantity + price*signed) / total
		}
	}
	pos.Quantity += signed
	commission := CommissionReportEvent{ExecID: detail.ExecID, Commission: 1.0, Currency: "USD", RealizedPnL: realized}
	b.fills = append(b.fills, simFill{exec: ev, commission: commission})
	parent := oo.Order.ParentID
	b.closeLocked(id, domain.OrderStatusFilled)
	b.mu.Unlock()

	b.Emit(ev)
	b.Emit(commission)
	b.emitStatus(id, domain.OrderStatusFilled, parent, qty, 0, price)
}

// closeLocked moves an order from open to completed. Must be called with mu held.
func (b *SimulatorBroker) closeLocked(id int64, status string) {
	oo := b.open[id]
	oo.Status = status
	b.completed = append(b.completed, *oo)
	delete(b.open, id)
	delete(b.held, id)
	for i, oid := range b.openSeq {
		if oid == id {
			b.openSeq = append(b.openSeq[:i], b.openSeq[i+1:]...)
			break
		}
	}
}

func (b *SimulatorBroker) emitStatus(id int64, status string, parent int64, filled, remaining, avg float64) {
	if b.Silent {
		return
	}
	b.Emit(OrderStatusEvent{
		OrderID:      id,
		Status:       status,
		Filled:       filled,
		Remaining:    remaining,
		AvgFillPrice: avg,
		ParentID:     parent,
	})
}
