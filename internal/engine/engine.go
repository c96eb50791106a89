// Package engine submits orders to the broker and keeps the local journal in
// step with the broker's view of them.
//
// The Gateway turns the broker's event stream into bounded request/response
// calls, the Correlator journals the events no call is waiting for, and the
// Reconciler periodically repairs whatever drift remains.
package engine

import (
	"log/slog"

	"tradebridge/internal/broker"
	"tradebridge/internal/store"
)

// Engine wires the gateway, correlator and reconciler around one broker
// session and one journal.
type Engine struct {
	Gateway    *Gateway
	Correlator *Correlator
	Reconciler *Reconciler

	client broker.Client
}

// NewEngine creates an Engine wired with the given dependencies. fanout and
// linker may be nil.
func NewEngine(
	client broker.Client,
	journal store.Journal,
	fanout Broadcaster,
	linker Linker,
	opts Options,
	log *slog.Logger,
) *Engine {
	gw := NewGateway(client, journal, opts, log)
	return &Engine{
		Gateway:    gw,
		Correlator: NewCorrelator(journal, fanout, linker, log),
		Reconciler: NewReconciler(client, journal, gw, log),
		client:     client,
	}
}

// Start attaches the correlator to the broker session. It is safe to call
// more than once.
func (e *Engine) Start() {
	e.Correlator.Attach(e.client)
}

// Reconnected drops the correlator's handlers from the previous session and
// attaches fresh ones.
func (e *Engine) Reconnected() {
	e.Correlator.ResetForReconnect(e.client)
	e.Correlator.Attach(e.client)
}

// Client returns the broker session the engine drives.
func (e *Engine) Client() broker.Client { return e.client }
