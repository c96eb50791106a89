package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotModifiable is returned by ModifyOrder when the target order is
	// not open at the broker or is not in a status that accepts amendments.
	ErrNotModifiable = errors.New("order is not modifiable")

	// ErrNoFieldsToModify is returned by ModifyOrder when no field is set.
	ErrNoFieldsToModify = errors.New("No fields to modify.")

	// ErrQueryTimeout is returned when a broker enumeration does not reach
	// its end marker in time.
	ErrQueryTimeout = errors.New("timed out waiting for broker")

	// ErrNotConnected is returned when the broker session is down.
	ErrNotConnected = errors.New("broker not connected")

	// ErrReconcileInProgress is returned when a reconciliation pass starts
	// while another one is still running.
	ErrReconcileInProgress = errors.New("reconciliation already in progress")
)

// ValidationError lists every pre-flight violation of an order request.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid order: " + strings.Join(e.Errors, "; ")
}

// BrokerError is a fatal error the broker reported for an in-flight request.
// OrderID is -1 for connection-wide errors.
type BrokerError struct {
	Code    int
	OrderID int64
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %d for order %d: %s", e.Code, e.OrderID, e.Message)
}
