package broker

import (
	"sort"
	"sync"
	"time"
)

// Event is any inbound message from the broker.
type Event interface {
	EventName() string
}

// Listener receives broker events. Listeners run on the connection's event
// goroutine and must not block.
type Listener func(Event)

// OrderStatusEvent reports a status change for an order.
type OrderStatusEvent struct {
	OrderID      int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
	ParentID     int64
}

// OpenOrderEvent is one order of an open-order enumeration. It carries no
// request id.
type OpenOrderEvent struct{ OpenOrder }

// OpenOrderEndEvent terminates an open-order enumeration.
type OpenOrderEndEvent struct{}

// CompletedOrderEvent is one order of a completed-order enumeration.
type CompletedOrderEvent struct{ OpenOrder }

// CompletedOrderEndEvent terminates a completed-order enumeration.
type CompletedOrderEndEvent struct{}

// ExecutionDetail describes a single fill. Side is "BOT" or "SLD".
type ExecutionDetail struct {
	ExecID   string
	OrderID  int64
	Side     string
	Shares   float64
	Price    float64
	CumQty   float64
	AvgPrice float64
	Time     time.Time
}

// ExecDetailsEvent reports a fill. ReqID is -1 for unsolicited fills.
type ExecDetailsEvent struct {
	ReqID     int64
	Contract  Contract
	Execution ExecutionDetail
}

// ExecDetailsEndEvent terminates an execution request.
type ExecDetailsEndEvent struct {
	ReqID int64
}

// UnsetRealizedPnL is the value the broker sends when realized PnL does not
// apply to a fill (opening trades).
const UnsetRealizedPnL = 1.7976931348623157e308

// CommissionReportEvent carries the commission for a fill, keyed by exec id.
type CommissionReportEvent struct {
	ExecID      string
	Commission  float64
	Currency    string
	RealizedPnL float64
}

// HasRealizedPnL reports whether RealizedPnL carries a real value.
func (e CommissionReportEvent) HasRealizedPnL() bool {
	return e.RealizedPnL < UnsetRealizedPnL/2 && e.RealizedPnL > -UnsetRealizedPnL/2
}

// ErrorEvent is an error or informational message. ID is the order or
// request id it refers to, or -1 for connection-wide messages.
type ErrorEvent struct {
	ID      int64
	Code    int
	Message string
}

// Fatal reports whether the error aborts the request it is tagged to.
func (e ErrorEvent) Fatal() bool { return IsFatal(e.Code) }

func (OrderStatusEvent) EventName() string       { return "orderStatus" }
func (OpenOrderEvent) EventName() string         { return "openOrder" }
func (OpenOrderEndEvent) EventName() string      { return "openOrderEnd" }
func (CompletedOrderEvent) EventName() string    { return "completedOrder" }
func (CompletedOrderEndEvent) EventName() string { return "completedOrdersEnd" }
func (ExecDetailsEvent) EventName() string       { return "execDetails" }
func (ExecDetailsEndEvent) EventName() string    { return "execDetailsEnd" }
func (CommissionReportEvent) EventName() string  { return "commissionReport" }
func (ErrorEvent) EventName() string             { return "error" }

// Dispatcher fans broker events out to registered listeners. Broker
// implementations embed it to satisfy Subscribe and Unsubscribe.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns its handle.
func (d *Dispatcher) Subscribe(l Listener) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners[d.nextID] = l
	return d.nextID
}

// Unsubscribe removes the listener with the given handle.
func (d *Dispatcher) Unsubscribe(id int) {
	d.mu.Lock()
	delete(d.listeners, id)
	d.mu.Unlock()
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Emit delivers ev to every listener in registration order. Listeners are
// invoked outside the lock so they may unsubscribe themselves.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, d.listeners[id])
	}
	d.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}
