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

// Broadcaster fans real-time events out to connected clients. Sequence ids
// come from one counter shared by every emitter.
type Broadcaster interface {
	NextSequenceID() int64
	BroadcastWithSequence(topic string, payload any, seq int64)
}

// Linker receives fills for downstream correlation with trade signals.
// Both calls are fire-and-forget.
type Linker interface {
	TryLinkExecution(exec domain.Execution)
	SchedulePositionCloseCheck(execID string, realizedPnL float64)
}

// LogLinker is a Linker that only logs. It is used when no signal
// correlation is wired in.
type LogLinker struct {
	Log *slog.Logger
}

func (l LogLinker) logger() *slog.Logger {
	if l.Log == nil {
		return slog.Default()
	}
	return l.Log
}

// TryLinkExecution logs the fill.
func (l LogLinker) TryLinkExecution(exec domain.Execution) {
	l.logger().Debug("execution ready for linking", "exec_id", exec.ExecID, "order_id", exec.OrderID, "correlation_id", exec.CorrelationID)
}

// SchedulePositionCloseCheck logs the realized PnL.
func (l LogLinker) SchedulePositionCloseCheck(execID string, realizedPnL float64) {
	l.logger().Debug("position close check", "exec_id", execID, "realized_pnl", realizedPnL)
}

// Topics broadcast by the correlator.
const (
	TopicFill        = "fill"
	TopicOrderStatus = "order_status"
)

const handlerTimeout = 5 * time.Second

// Correlator keeps the journal current from broker events that are not tied
// to an in-flight call: status changes, fills and commission reports. It is
// attached at most once per broker connection.
type Correlator struct {
	journal store.Journal
	fanout  Broadcaster
	linker  Linker
	log     *slog.Logger

	mu       sync.Mutex
	attached map[broker.Client][]int
}

// NewCorrelator creates a Correlator. fanout may be nil; a nil linker is
// replaced by a LogLinker.
func NewCorrelator(j store.Journal, fanout Broadcaster, linker Linker, log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "correlator")
	if linker == nil {
		linker = LogLinker{Log: log}
	}
	return &Correlator{
		journal:  j,
		fanout:   fanout,
		linker:   linker,
		log:      log,
		attached: make(map[broker.Client][]int),
	}
}

// Attach subscribes the correlator's handlers on c. Calling it again for the
// same connection is a no-op until ResetForReconnect is called. It reports
// whether handlers were installed.
func (k *Correlator) Attach(c broker.Client) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.attached[c]; ok {
		return false
	}
	k.attached[c] = []int{
		c.Subscribe(k.guard("orderStatus", k.onOrderStatus)),
		c.Subscribe(k.guard("execDetails", k.onExecDetails)),
		c.Subscribe(k.guard("commissionReport", k.onCommissionReport)),
	}
	k.log.Info("correlator attached", "broker", c.Name())
	return true
}

// ResetForReconnect removes the handlers installed on c so the next Attach,
// typically on a fresh session, installs new ones.
func (k *Correlator) ResetForReconnect(c broker.Client) {
	k.mu.Lock()
	defer k.mu.Unlock()
	subs, ok := k.attached[c]
	if !ok {
		return
	}
	for _, id := range subs {
		c.Unsubscribe(id)
	}
	delete(k.attached, c)
	k.log.Info("correlator reset for reconnect", "broker", c.Name())
}

// Attached reports whether handlers are installed on c.
func (k *Correlator) Attached(c broker.Client) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.attached[c]
	return ok
}

// guard wraps a handler so neither a returned error nor a panic escapes into
// the broker's event loop.
func (k *Correlator) guard(name string, h func(context.Context, broker.Event) error) broker.Listener {
	return func(ev broker.Event) {
		defer func() {
			if r := recover(); r != nil {
				k.log.Error("correlator handler panicked", "handler", name, "event", ev.EventName(), "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := h(ctx, ev); err != nil {
			k.log.Error("correlator handler failed", "handler", name, "event", ev.EventName(), "error", err)
		}
	}
}

// lookup returns the journaled order, or nil if the bridge did not place it.
func (k *Correlator) lookup(ctx context.Context, orderID int64) (*domain.Order, error) {
	o, err := k.journal.GetOrderByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up order %d: %w", orderID, err)
	}
	return o, nil
}

func (k *Correlator) onOrderStatus(ctx context.Context, ev broker.Event) error {
	e, ok := ev.(broker.OrderStatusEvent)
	if !ok {
		return nil
	}
	o, err := k.lookup(ctx, e.OrderID)
	if err != nil || o == nil {
		return err
	}
	if err := k.journal.UpdateOrderStatus(ctx, e.OrderID, e.Status, e.Filled, e.AvgFillPrice); err != nil {
		return fmt.Errorf("updating order %d: %w", e.OrderID, err)
	}
	k.broadcast(TopicOrderStatus, map[string]any{
		"order_id":       e.OrderID,
		"symbol":         o.Symbol,
		"status":         e.Status,
		"filled":         e.Filled,
		"remaining":      e.Remaining,
		"avg_fill_price": e.AvgFillPrice,
		"correlation_id": o.CorrelationID,
	})

	if domain.IsTerminalStatus(e.Status) && o.Status != e.Status {
		body := fmt.Sprintf("%s %g %s %s", o.Action, o.TotalQuantity, o.Symbol, o.OrderType)
		if e.Status == domain.OrderStatusFilled {
			body = fmt.Sprintf("%s filled %g @ %.4f", body, e.Filled, e.AvgFillPrice)
		}
		k.notify(ctx, domain.Notification{
			Type:   "order",
			Symbol: o.Symbol,
			Title:  fmt.Sprintf("Order %d %s", e.OrderID, e.Status),
			Body:   body,
		})
	}
	return nil
}

func (k *Correlator) onExecDetails(ctx context.Context, ev broker.Event) error {
	e, ok := ev.(broker.ExecDetailsEvent)
	if !ok {
		return nil
	}
	o, err := k.lookup(ctx, e.Execution.OrderID)
	if err != nil || o == nil {
		return err
	}
	// Replays from an execution request repeat fills already journaled.
	if _, err := k.journal.GetExecution(ctx, e.Execution.ExecID); err == nil {
		return nil
	}

	exec := domain.Execution{
		ExecID:        e.Execution.ExecID,
		OrderID:       e.Execution.OrderID,
		Symbol:        e.Contract.Symbol,
		Side:          e.Execution.Side,
		Shares:        e.Execution.Shares,
		Price:         e.Execution.Price,
		CumQty:        domain.Float(e.Execution.CumQty),
		AvgPrice:      domain.Float(e.Execution.AvgPrice),
		CorrelationID: o.CorrelationID,
		Timestamp:     e.Execution.Time,
	}
	if err := k.journal.InsertExecution(ctx, &exec); err != nil {
		return fmt.Errorf("inserting execution %s: %w", exec.ExecID, err)
	}
	k.broadcast(TopicFill, exec)
	k.linker.TryLinkExecution(exec)
	k.log.Info("fill recorded", "exec_id", exec.ExecID, "order_id", exec.OrderID, "symbol", exec.Symbol,
		"side", exec.Side, "shares", exec.Shares, "price", exec.Price)
	return nil
}

func (k *Correlator) onCommissionReport(ctx context.Context, ev broker.Event) error {
	e, ok := ev.(broker.CommissionReportEvent)
	if !ok {
		return nil
	}
	exec, err := k.journal.GetExecution(ctx, e.ExecID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up execution %s: %w", e.ExecID, err)
	}
	first := exec.CommissionPending()

	var pnl *float64
	if e.HasRealizedPnL() {
		pnl = domain.Float(e.RealizedPnL)
	}
	if err := k.journal.UpdateExecutionCommission(ctx, e.ExecID, e.Commission, pnl); err != nil {
		return fmt.Errorf("merging commission for %s: %w", e.ExecID, err)
	}
	if pnl == nil || !first {
		return nil
	}

	k.linker.SchedulePositionCloseCheck(e.ExecID, *pnl)
	k.notify(ctx, domain.Notification{
		Type:   "pnl",
		Symbol: exec.Symbol,
		Title:  fmt.Sprintf("Realized P&L on %s", exec.Symbol),
		Body:   fmt.Sprintf("%+.2f %s (commission %.2f)", *pnl, e.Currency, e.Commission),
	})
	return nil
}

func (k *Correlator) broadcast(topic string, payload any) {
	if k.fanout == nil {
		return
	}
	k.fanout.BroadcastWithSequence(topic, payload, k.fanout.NextSequenceID())
}

// notify appends an operator notification. Failures are logged and dropped.
func (k *Correlator) notify(ctx context.Context, n domain.Notification) {
	if err := k.journal.AppendNotification(ctx, n); err != nil {
		k.log.Warn("appending notification", "title", n.Title, "error", err)
	}
}
