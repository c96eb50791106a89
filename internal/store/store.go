// Package store defines the journal the bridge keeps of orders, executions,
// position snapshots and operator notifications, and implements it on SQLite.
// Every write path is keyed by a single primary key; nothing is ever deleted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tradebridge/internal/domain"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// OrderPatch lists the columns an amendment changes. Nil fields are left
// untouched.
type OrderPatch struct {
	OrderType       *string
	TotalQuantity   *float64
	LmtPrice        *float64
	AuxPrice        *float64
	TrailingPercent *float64
	TrailStopPrice  *float64
	TIF             *string
	Status          *string
}

// Empty reports whether the patch changes nothing.
func (p OrderPatch) Empty() bool {
	return p.OrderType == nil && p.TotalQuantity == nil && p.LmtPrice == nil &&
		p.AuxPrice == nil && p.TrailingPercent == nil && p.TrailStopPrice == nil &&
		p.TIF == nil && p.Status == nil
}

// OrderStore persists and retrieves order journal rows.
type OrderStore interface {
	// InsertOrder inserts a new order row.
	InsertOrder(ctx context.Context, order *domain.Order) error

	// GetOrderByOrderID retrieves a single order by its broker id. It returns
	// ErrNotFound when the order was not placed through the bridge.
	GetOrderByOrderID(ctx context.Context, orderID int64) (*domain.Order, error)

	// UpdateOrderStatus sets status and, when filled > 0, fill progress.
	UpdateOrderStatus(ctx context.Context, orderID int64, status string, filled, avgFillPrice float64) error

	// UpdateOrderFields writes only the columns set in patch.
	UpdateOrderFields(ctx context.Context, orderID int64, patch OrderPatch) error

	// GetLiveOrders returns every order whose status is not terminal.
	GetLiveOrders(ctx context.Context) ([]domain.Order, error)

	// ListOrders returns the most recent orders, newest first, up to limit.
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
}

// ExecutionStore persists fills and their commission reports.
type ExecutionStore interface {
	// InsertExecution inserts a fill. A duplicate exec id is ignored.
	InsertExecution(ctx context.Context, exec *domain.Execution) error

	// UpdateExecutionCommission merges a commission report by exec id.
	// realizedPnL is nil when the broker reported no value.
	UpdateExecutionCommission(ctx context.Context, execID string, commission float64, realizedPnL *float64) error

	// GetExecution retrieves one execution by exec id.
	GetExecution(ctx context.Context, execID string) (*domain.Execution, error)

	// ListExecutions returns fills with timestamps in [start, end).
	ListExecutions(ctx context.Context, start, end time.Time) ([]domain.Execution, error)
}

// PositionStore persists append-only position snapshots.
type PositionStore interface {
	// InsertPositionSnapshots writes one row per position, all tagged with source.
	InsertPositionSnapshots(ctx context.Context, source string, positions []domain.Position) error

	// LatestPositionSnapshots returns the rows of the most recent snapshot for source.
	LatestPositionSnapshots(ctx context.Context, source string) ([]domain.PositionSnapshot, error)
}

// NotificationStore persists operator notifications.
type NotificationStore interface {
	// AppendNotification stores n.
	AppendNotification(ctx context.Context, n domain.Notification) error

	// ListNotifications returns the most recent notifications, newest first.
	ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
}

// Journal is the full persistence surface the engine writes to.
type Journal interface {
	OrderStore
	ExecutionStore
	PositionStore
	NotificationStore
}

// NewCorrelationID returns a fresh correlation id for a new order family.
func NewCorrelationID() string {
	return uuid.NewString()
}
