// Package httpapi exposes the bridge's order gateway, reconciliation and
// journal over a JSON REST API.
package httpapi

import (
	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/engine"
)

// ErrorResponse is the body of every non-2xx response. Errors lists each
// violation when the request failed validation.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

// HealthResponse reports the broker session state.
type HealthResponse struct {
	Status    string `json:"status"`
	Broker    string `json:"broker"`
	Connected bool   `json:"connected"`
}

// StatusResponse acknowledges a request that has no other result.
type StatusResponse struct {
	Status string `json:"status"`
}

// OpenOrdersResponse lists broker-side orders.
type OpenOrdersResponse struct {
	Orders []broker.OpenOrder `json:"orders"`
}

// ExecutionsResponse lists fills reported by the broker.
type ExecutionsResponse struct {
	Executions []engine.ExecutionReport `json:"executions"`
}

// JournalOrdersResponse lists journaled orders.
type JournalOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// JournalExecutionsResponse lists journaled fills for a day.
type JournalExecutionsResponse struct {
	Date       string             `json:"date"`
	Executions []domain.Execution `json:"executions"`
}

// PositionsResponse lists broker positions.
type PositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// SnapshotsResponse lists the latest position snapshot for a source.
type SnapshotsResponse struct {
	Source    string                    `json:"source"`
	Snapshots []domain.PositionSnapshot `json:"snapshots"`
}

// NotificationsResponse lists recent operator notifications.
type NotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// ArchiveResponse lists archived fills for a day.
type ArchiveResponse struct {
	Date       string             `json:"date"`
	Executions []domain.Execution `json:"executions"`
}
