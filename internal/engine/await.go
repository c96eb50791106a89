package engine

import (
	"context"
	"sync"
	"time"

	"tradebridge/internal/broker"
)

// settlement is the single outcome of an awaited request.
type settlement struct {
	status string
	err    error
}

// outcome is a single-shot completion: the first settle wins and later ones
// are dropped, so listeners may race the timer freely.
type outcome struct {
	once sync.Once
	ch   chan settlement
}

func newOutcome() *outcome {
	return &outcome{ch: make(chan settlement, 1)}
}

func (o *outcome) settle(s settlement) {
	o.once.Do(func() { o.ch <- s })
}

// awaitOrder registers a transient listener for orderID, starts send, and
// waits for the first status event for the order, a fatal error tagged to
// the order or to the whole connection, the confirmation timeout, or ctx.
// On timeout it returns timeoutStatus with timedOut set and no error. The
// listener is removed exactly once on every path.
func (g *Gateway) awaitOrder(ctx context.Context, orderID int64, timeoutStatus string, send func() error) (status string, timedOut bool, err error) {
	out := newOutcome()
	sub := g.client.Subscribe(func(ev broker.Event) {
		switch e := ev.(type) {
		case broker.OrderStatusEvent:
			if e.OrderID == orderID {
				out.settle(settlement{status: e.Status})
			}
		case broker.ErrorEvent:
			if (e.ID == orderID || e.ID == -1) && e.Fatal() {
				out.settle(settlement{err: &BrokerError{Code: e.Code, OrderID: e.ID, Message: e.Message}})
			}
		}
	})
	defer g.client.Unsubscribe(sub)

	timer := time.NewTimer(g.opts.ConfirmTimeout)
	defer timer.Stop()

	sent := dispatch(send)
	var settled *settlement
	for {
		select {
		case err := <-sent:
			if err != nil {
				return "", false, err
			}
			if settled != nil {
				return settled.status, false, settled.err
			}
			sent = nil
		case s := <-out.ch:
			if sent == nil {
				return s.status, false, s.err
			}
			settled = &s
		case <-timer.C:
			if settled != nil {
				return settled.status, false, settled.err
			}
			g.log.Warn("no broker confirmation before timeout",
				"order_id", orderID, "timeout", g.opts.ConfirmTimeout, "status", timeoutStatus,
				"sending", sent != nil)
			return timeoutStatus, true, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// dispatch runs send in the background so the confirmation deadline also
// covers a slow wire write. A send error still wins over an answer that
// arrived while the write was in flight.
func dispatch(send func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- send() }()
	return ch
}
