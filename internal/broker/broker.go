// Package broker defines the event-driven broker connection the bridge talks
// to, and provides implementations for a paper simulator and for Alpaca.
//
// The protocol has no synchronous acknowledgements: every request method
// returns as soon as the request is on the wire, and all outcomes arrive as
// events delivered to listeners registered with Subscribe.
package broker

import (
	"context"

	"tradebridge/internal/domain"
)

// Contract identifies the instrument an order trades.
type Contract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// Order is the wire representation of an order. ParentID links bracket
// children to their entry order; Transmit=false holds the order at the broker
// until a later order in the same group is transmitted.
type Order struct {
	Action          domain.Action `json:"action"`
	OrderType       string        `json:"order_type"`
	TotalQuantity   float64       `json:"total_quantity"`
	LmtPrice        *float64      `json:"lmt_price,omitempty"`
	AuxPrice        *float64      `json:"aux_price,omitempty"`
	TrailingPercent *float64      `json:"trailing_percent,omitempty"`
	TrailStopPrice  *float64      `json:"trail_stop_price,omitempty"`
	TIF             string        `json:"tif"`
	ParentID        int64         `json:"parent_id,omitempty"`
	Transmit        bool          `json:"transmit"`
	OCAGroup        string        `json:"oca_group,omitempty"`
	OCAType         int           `json:"oca_type,omitempty"`
	OrderRef        string        `json:"order_ref,omitempty"`
}

// OpenOrder is one entry of an open- or completed-order enumeration.
type OpenOrder struct {
	OrderID  int64    `json:"order_id"`
	Contract Contract `json:"contract"`
	Order    Order    `json:"order"`
	Status   string   `json:"status"`
}

// ExecutionFilter narrows an execution request. Time uses the broker format
// "yyyymmdd-hh:mm:ss"; empty fields do not filter.
type ExecutionFilter struct {
	Symbol string `json:"symbol,omitempty"`
	Time   string `json:"time,omitempty"`
}

// Client is a live broker session. Request methods are safe for concurrent
// use; requests are multiplexed by order or request id.
type Client interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// IsConnected reports whether the session is currently usable.
	IsConnected() bool

	// NextOrderID allocates the next order/request id. Ids are monotonic and
	// unique for the life of the process.
	NextOrderID() int64

	// PlaceOrder sends a new order, or amends an existing one when id is
	// already known to the broker.
	PlaceOrder(id int64, c Contract, o Order) error

	// CancelOrder requests cancellation of a single order.
	CancelOrder(id int64) error

	// ReqGlobalCancel cancels every open order. No acknowledgement follows.
	ReqGlobalCancel() error

	// ReqOpenOrders emits one OpenOrderEvent per open order, then OpenOrderEndEvent.
	ReqOpenOrders() error

	// ReqCompletedOrders emits one CompletedOrderEvent per completed order,
	// then CompletedOrderEndEvent.
	ReqCompletedOrders() error

	// ReqExecutions emits ExecDetailsEvent tagged with reqID for each matching
	// fill, then ExecDetailsEndEvent with the same reqID.
	ReqExecutions(reqID int64, f ExecutionFilter) error

	// Positions returns the current account positions.
	Positions(ctx context.Context) ([]domain.Position, error)

	// Subscribe registers l for every inbound event and returns a handle for
	// Unsubscribe.
	Subscribe(l Listener) int

	// Unsubscribe removes a listener. Unknown ids are ignored.
	Unsubscribe(id int)
}
