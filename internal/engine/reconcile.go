package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/store"
)

// StatusChange records one order status rewritten by reconciliation.
type StatusChange struct {
	OrderID int64  `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	StartedAt time.Time      `json:"started_at"`
	Skipped   bool           `json:"skipped,omitempty"`
	Checked   int            `json:"checked"`
	Changes   []StatusChange `json:"changes"`
	Positions int            `json:"positions"`
}

// Reconciler repairs drift between the journal's live orders and the
// broker's open orders. Passes never overlap.
type Reconciler struct {
	client  broker.Client
	journal store.Journal
	gw      *Gateway
	log     *slog.Logger

	running atomic.Bool
}

// NewReconciler creates a Reconciler that fetches broker state through gw.
func NewReconciler(client broker.Client, j store.Journal, gw *Gateway, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		client:  client,
		journal: j,
		gw:      gw,
		log:     log.With("component", "reconciler"),
	}
}

type markedOrder struct {
	id   int64
	prev string
}

// Run performs one pass. Every live journal order is marked RECONCILING,
// then set to the broker-reported status if the broker still has it open,
// or Inactive if not. If the broker snapshot cannot be fetched, marked
// orders are restored to their previous status and the error is returned.
// A position snapshot is written on every completed pass.
//
// When the broker is disconnected Run returns a skipped report. When another
// pass is running it returns ErrReconcileInProgress.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: time.Now().UTC(), Changes: []StatusChange{}}
	if !r.client.IsConnected() {
		r.log.Warn("broker disconnected, skipping reconciliation")
		report.Skipped = true
		return report, nil
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrReconcileInProgress
	}
	defer r.running.Store(false)

	live, err := r.journal.GetLiveOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading live orders: %w", err)
	}
	report.Checked = len(live)

	var marked []markedOrder
	for _, o := range live {
		if o.Status == domain.OrderStatusReconciling {
			continue
		}
		if err := r.journal.UpdateOrderStatus(ctx, o.OrderID, domain.OrderStatusReconciling, 0, 0); err != nil {
			r.log.Error("marking order reconciling", "order_id", o.OrderID, "error", err)
			continue
		}
		marked = append(marked, markedOrder{id: o.OrderID, prev: o.Status})
	}

	open, err := r.gw.GetOpenOrders(ctx)
	if err != nil {
		r.revert(ctx, marked)
		r.log.Error("reconciliation aborted, broker snapshot failed", "reverted", len(marked), "error", err)
		return nil, fmt.Errorf("fetching broker open orders: %w", err)
	}
	byID := make(map[int64]broker.OpenOrder, len(open))
	for _, oo := range open {
		byID[oo.OrderID] = oo
	}

	for _, o := range live {
		next := domain.OrderStatusInactive
		if oo, ok := byID[o.OrderID]; ok && oo.Status != "" {
			next = oo.Status
		}
		if err := r.journal.UpdateOrderStatus(ctx, o.OrderID, next, 0, 0); err != nil {
			r.log.Error("writing reconciled status", "order_id", o.OrderID, "status", next, "error", err)
			continue
		}
		if next != o.Status {
			report.Changes = append(report.Changes, StatusChange{OrderID: o.OrderID, From: o.Status, To: next})
		}
	}

	positions, err := r.client.Positions(ctx)
	if err != nil {
		r.log.Error("reading positions for snapshot", "error", err)
	} else {
		report.Positions = len(positions)
		if err := r.journal.InsertPositionSnapshots(ctx, domain.SnapshotSourceReconcile, positions); err != nil {
			r.log.Error("writing reconcile position snapshot", "error", err)
		}
	}

	r.log.Info("reconciliation complete",
		"checked", report.Checked, "changed", len(report.Changes), "positions", report.Positions)
	return report, nil
}

// revert restores every marked order to its pre-pass status.
func (r *Reconciler) revert(ctx context.Context, marked []markedOrder) {
	ctx = context.WithoutCancel(ctx)
	for _, m := range marked {
		if err := r.journal.UpdateOrderStatus(ctx, m.id, m.prev, 0, 0); err != nil {
			r.log.Error("reverting reconciling order", "order_id", m.id, "status", m.prev, "error", err)
		}
	}
}
