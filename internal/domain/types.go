// Package domain defines the core types shared across the bridge: journaled
// orders and executions, positions, and operator notifications.
package domain

import "time"

// Action is the side of an order as the broker protocol spells it.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Opposite returns the closing side for a position opened with a.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Order types understood by the validator. Anything else is passed through to
// the broker untouched.
const (
	OrderTypeMarket     = "MKT"
	OrderTypeLimit      = "LMT"
	OrderTypeStop       = "STP"
	OrderTypeStopLimit  = "STP LMT"
	OrderTypeTrail      = "TRAIL"
	OrderTypeTrailLimit = "TRAIL LIMIT"
)

// KnownOrderType reports whether t is one of the order types with explicit
// validation rules.
func KnownOrderType(t string) bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit,
		OrderTypeTrail, OrderTypeTrailLimit:
		return true
	}
	return false
}

// OCA group types defined by the broker.
const (
	OCACancelWithBlock    = 1
	OCAReduceWithBlock    = 2
	OCAReduceWithoutBlock = 3
)

// Order statuses as mirrored in the journal. Broker-reported values are
// stored verbatim, so the status column is free text; these are the values
// the bridge itself reasons about.
const (
	OrderStatusPendingLocalWrite = "PendingLocalWrite"
	OrderStatusPendingSubmit     = "PendingSubmit"
	OrderStatusPreSubmitted      = "PreSubmitted"
	OrderStatusSubmitted         = "Submitted"
	OrderStatusApiPending        = "ApiPending"
	OrderStatusPendingCancel     = "PendingCancel"
	OrderStatusFilled            = "Filled"
	OrderStatusCancelled         = "Cancelled"
	OrderStatusApiCancelled      = "ApiCancelled"
	OrderStatusInactive          = "Inactive"
	OrderStatusReconciling       = "RECONCILING"
)

// TerminalStatuses lists the statuses an order never leaves.
var TerminalStatuses = []string{
	OrderStatusFilled,
	OrderStatusCancelled,
	OrderStatusApiCancelled,
	OrderStatusInactive,
}

// IsTerminalStatus reports whether s is a terminal order status.
func IsTerminalStatus(s string) bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// IsModifiableStatus reports whether the broker accepts an in-place amendment
// for an order in status s.
func IsModifiableStatus(s string) bool {
	return s == OrderStatusPreSubmitted || s == OrderStatusSubmitted
}

// Order sources recorded on journal rows.
const (
	OrderSourceManual  = "manual"
	OrderSourceSignal  = "signal"
	OrderSourceFlatten = "eod-flatten"
)

// Order is a journal row describing one broker order. OrderID is the broker
// id allocated by the bridge; CorrelationID ties a bracket family together
// and is never rewritten once stored.
type Order struct {
	OrderID         int64     `json:"order_id"`
	Symbol          string    `json:"symbol"`
	Action          Action    `json:"action"`
	OrderType       string    `json:"order_type"`
	TotalQuantity   float64   `json:"total_quantity"`
	LmtPrice        *float64  `json:"lmt_price,omitempty"`
	AuxPrice        *float64  `json:"aux_price,omitempty"`
	TrailingPercent *float64  `json:"trailing_percent,omitempty"`
	TrailStopPrice  *float64  `json:"trail_stop_price,omitempty"`
	TIF             string    `json:"tif"`
	SecType         string    `json:"sec_type"`
	Exchange        string    `json:"exchange"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	FilledQuantity  float64   `json:"filled_quantity"`
	AvgFillPrice    float64   `json:"avg_fill_price"`
	CorrelationID   string    `json:"correlation_id"`
	ParentOrderID   *int64    `json:"parent_order_id,omitempty"`
	OCAGroup        string    `json:"oca_group,omitempty"`
	StrategyVersion string    `json:"strategy_version,omitempty"`
	OrderSource     string    `json:"order_source,omitempty"`
	AIConfidence    *float64  `json:"ai_confidence,omitempty"`
	JournalID       *int64    `json:"journal_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Execution is a single fill. Commission and RealizedPnL stay nil until the
// matching commission report arrives.
type Execution struct {
	ExecID        string    `json:"exec_id"`
	OrderID       int64     `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Shares        float64   `json:"shares"`
	Price         float64   `json:"price"`
	CumQty        *float64  `json:"cum_qty,omitempty"`
	AvgPrice      *float64  `json:"avg_price,omitempty"`
	Commission    *float64  `json:"commission,omitempty"`
	RealizedPnL   *float64  `json:"realized_pnl,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CommissionPending reports whether the commission report has not been merged yet.
func (e *Execution) CommissionPending() bool {
	return e.Commission == nil
}

// Position is a broker-reported holding. Quantity is signed: negative for shorts.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
	SecType  string  `json:"sec_type"`
	Currency string  `json:"currency"`
}

// PositionSnapshot is an append-only record of a position observed at a point
// in time.
type PositionSnapshot struct {
	Position
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Position snapshot sources.
const (
	SnapshotSourceReconcile = "reconcile"
	SnapshotSourceFlatten   = "flatten"
)

// Notification is an operator-facing message.
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Float returns a pointer to v, for optional price fields.
func Float(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
