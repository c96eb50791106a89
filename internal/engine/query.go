package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebridge/internal/broker"
)

// stream describes one broker enumeration protocol for collectUntil.
type stream[T any] struct {
	name string
	// matches is the request predicate applied to the id carried by items,
	// end markers and errors. Unscoped streams match everything.
	matches func(id int64) bool
	// scoped streams fail on a fatal error tagged with a matching id.
	scoped bool
	// item extracts an element to accumulate from ev.
	item func(ev broker.Event) (id int64, v T, ok bool)
	// end recognises the end marker.
	end func(ev broker.Event) (id int64, ok bool)
	// side handles other events that update already accumulated items.
	side func(ev broker.Event, items []T)
	// request asks the broker to start the enumeration.
	request func() error
}

type collected[T any] struct {
	items []T
	err   error
}

// collectUntil accumulates the events of one enumeration until its end
// marker, bounded by timeout and ctx. The listener is removed on return.
func collectUntil[T any](ctx context.Context, c broker.Client, timeout time.Duration, s stream[T]) ([]T, error) {
	var (
		mu    sync.Mutex
		items = []T{}
		done  bool
		once  sync.Once
		out   = make(chan collected[T], 1)
	)
	finish := func(r collected[T]) {
		done = true
		once.Do(func() { out <- r })
	}

	sub := c.Subscribe(func(ev broker.Event) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		if id, v, ok := s.item(ev); ok {
			if s.matches(id) {
				items = append(items, v)
			}
			return
		}
		if id, ok := s.end(ev); ok {
			if s.matches(id) {
				finish(collected[T]{items: append([]T(nil), items...)})
			}
			return
		}
		if e, ok := ev.(broker.ErrorEvent); ok {
			if s.scoped && e.ID != -1 && s.matches(e.ID) && e.Fatal() {
				finish(collected[T]{err: &BrokerError{Code: e.Code, OrderID: e.ID, Message: e.Message}})
			}
			return
		}
		if s.side != nil {
			s.side(ev, items)
		}
	})
	defer c.Unsubscribe(sub)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sent := dispatch(s.request)
	var result *collected[T]
	for {
		select {
		case err := <-sent:
			if err != nil {
				return nil, fmt.Errorf("requesting %s: %w", s.name, err)
			}
			if result != nil {
				return result.items, result.err
			}
			sent = nil
		case r := <-out:
			if r.items == nil && r.err == nil {
				r.items = []T{}
			}
			if sent == nil {
				return r.items, r.err
			}
			result = &r
		case <-timer.C:
			if result != nil {
				return result.items, result.err
			}
			return nil, fmt.Errorf("%s: %w", s.name, ErrQueryTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func matchAll(int64) bool { return true }

// GetOpenOrders enumerates the orders currently working at the broker.
// The enumeration carries no request id, so concurrent calls are serialised.
func (g *Gateway) GetOpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}
	g.openMu.Lock()
	defer g.openMu.Unlock()
	return collectUntil(ctx, g.client, g.opts.ConfirmTimeout, stream[broker.OpenOrder]{
		name:    "open orders",
		matches: matchAll,
		item: func(ev broker.Event) (int64, broker.OpenOrder, bool) {
			e, ok := ev.(broker.OpenOrderEvent)
			return 0, e.OpenOrder, ok
		},
		end: func(ev broker.Event) (int64, bool) {
			_, ok := ev.(broker.OpenOrderEndEvent)
			return 0, ok
		},
		request: g.client.ReqOpenOrders,
	})
}

// GetCompletedOrders enumerates filled and cancelled orders known to the
// broker for the current session.
func (g *Gateway) GetCompletedOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}
	g.completedMu.Lock()
	defer g.completedMu.Unlock()
	return collectUntil(ctx, g.client, g.opts.ConfirmTimeout, stream[broker.OpenOrder]{
		name:    "completed orders",
		matches: matchAll,
		item: func(ev broker.Event) (int64, broker.OpenOrder, bool) {
			e, ok := ev.(broker.CompletedOrderEvent)
			return 0, e.OpenOrder, ok
		},
		end: func(ev broker.Event) (int64, bool) {
			_, ok := ev.(broker.CompletedOrderEndEvent)
			return 0, ok
		},
		request: g.client.ReqCompletedOrders,
	})
}

// ExecutionReport is one fill returned by GetExecutions, with its commission
// merged in when the report arrived before the enumeration ended.
type ExecutionReport struct {
	ExecID      string    `json:"exec_id"`
	OrderID     int64     `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Shares      float64   `json:"shares"`
	Price       float64   `json:"price"`
	CumQty      float64   `json:"cum_qty"`
	AvgPrice    float64   `json:"avg_price"`
	Time        time.Time `json:"time"`
	Commission  *float64  `json:"commission,omitempty"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
}

func (r *ExecutionReport) merge(c broker.CommissionReportEvent) {
	commission := c.Commission
	r.Commission = &commission
	if c.HasRealizedPnL() {
		pnl := c.RealizedPnL
		r.RealizedPnL = &pnl
	}
}

// GetExecutions requests the fills matching f. Only events tagged with this
// call's request id are collected; commission reports, which carry no
// request id, are merged by exec id.
func (g *Gateway) GetExecutions(ctx context.Context, f broker.ExecutionFilter) ([]ExecutionReport, error) {
	if !g.client.IsConnected() {
		return nil, ErrNotConnected
	}
	reqID := g.allocateIDs(1)[0]
	pending := make(map[string]broker.CommissionReportEvent)

	reports, err := collectUntil(ctx, g.client, g.opts.ConfirmTimeout, stream[ExecutionReport]{
		name:    "executions",
		matches: func(id int64) bool { return id == reqID },
		scoped:  true,
		item: func(ev broker.Event) (int64, ExecutionReport, bool) {
			e, ok := ev.(broker.ExecDetailsEvent)
			if !ok {
				return 0, ExecutionReport{}, false
			}
			r := ExecutionReport{
				ExecID:   e.Execution.ExecID,
				OrderID:  e.Execution.OrderID,
				Symbol:   e.Contract.Symbol,
				Side:     e.Execution.Side,
				Shares:   e.Execution.Shares,
				Price:    e.Execution.Price,
				CumQty:   e.Execution.CumQty,
				AvgPrice: e.Execution.AvgPrice,
				Time:     e.Execution.Time,
			}
			if c, ok := pending[r.ExecID]; ok && e.ReqID == reqID {
				r.merge(c)
				delete(pending, r.ExecID)
			}
			return e.ReqID, r, true
		},
		end: func(ev broker.Event) (int64, bool) {
			e, ok := ev.(broker.ExecDetailsEndEvent)
			return e.ReqID, ok
		},
		side: func(ev broker.Event, items []ExecutionReport) {
			c, ok := ev.(broker.CommissionReportEvent)
			if !ok {
				return
			}
			for i := range items {
				if items[i].ExecID == c.ExecID {
					items[i].merge(c)
					return
				}
			}
			pending[c.ExecID] = c
		},
		request: func() error { return g.client.ReqExecutions(reqID, f) },
	})
	if err != nil {
		return nil, err
	}
	g.log.Debug("executions collected", "req_id", reqID, "count", len(reports))
	return reports, nil
}
