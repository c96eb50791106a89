// Package bridge is a Go client for the bridge REST API.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/engine"
	"tradebridge/internal/httpapi"
)

// Request and response types shared with the server.
type (
	PlaceOrderParams      = engine.PlaceOrderParams
	BracketParams         = engine.BracketParams
	AdvancedBracketParams = engine.AdvancedBracketParams
	ModifyParams          = engine.ModifyParams
	PlaceResult           = engine.PlaceResult
	BracketResult         = engine.BracketResult
	FlattenResult         = engine.FlattenResult
	ReconcileReport       = engine.ReconcileReport
	ExecutionReport       = engine.ExecutionReport
	OpenOrder             = broker.OpenOrder
	Order                 = domain.Order
	Position              = domain.Position
	Notification          = domain.Notification
	Health                = httpapi.HealthResponse
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Errors     []string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("bridge: %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("bridge: %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the bridge server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new bridge API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health returns the broker session state.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceOrder submits a single order.
func (c *Client) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*PlaceResult, error) {
	var out PlaceResult
	if err := c.do(ctx, http.MethodPost, "/api/orders", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceBracket submits an entry order with take-profit and stop-loss legs.
func (c *Client) PlaceBracket(ctx context.Context, p BracketParams) (*BracketResult, error) {
	var out BracketResult
	if err := c.do(ctx, http.MethodPost, "/api/orders/bracket", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceAdvancedBracket submits a bracket with a configurable stop leg and OCA group.
func (c *Client) PlaceAdvancedBracket(ctx context.Context, p AdvancedBracketParams) (*BracketResult, error) {
	var out BracketResult
	if err := c.do(ctx, http.MethodPost, "/api/orders/advanced-bracket", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ModifyOrder amends a working order.
func (c *Client) ModifyOrder(ctx context.Context, p ModifyParams) (*PlaceResult, error) {
	var out PlaceResult
	if err := c.do(ctx, http.MethodPatch, "/api/orders/"+strconv.FormatInt(p.OrderID, 10), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels one order.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*PlaceResult, error) {
	var out PlaceResult
	if err := c.do(ctx, http.MethodDelete, "/api/orders/"+strconv.FormatInt(orderID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAllOrders issues a global cancel.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/orders", nil, nil)
}

// Flatten closes every open position.
func (c *Client) Flatten(ctx context.Context) (*FlattenResult, error) {
	var out FlattenResult
	if err := c.do(ctx, http.MethodPost, "/api/flatten", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconcile runs a reconciliation pass.
func (c *Client) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	var out ReconcileReport
	if err := c.do(ctx, http.MethodPost, "/api/reconcile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenOrders lists the orders working at the broker.
func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var out httpapi.OpenOrdersResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders/open", nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// CompletedOrders lists the orders the broker reports as done.
func (c *Client) CompletedOrders(ctx context.Context) ([]OpenOrder, error) {
	var out httpapi.OpenOrdersResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders/completed", nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// Order returns a journaled order.
func (c *Client) Order(ctx context.Context, orderID int64) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+strconv.FormatInt(orderID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Executions lists broker fills, optionally filtered by symbol and by time
// in the broker format "yyyymmdd-hh:mm:ss".
func (c *Client) Executions(ctx context.Context, symbol, since string) ([]ExecutionReport, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if since != "" {
		q.Set("since", since)
	}
	path := "/api/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out httpapi.ExecutionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// Positions lists broker positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out httpapi.PositionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/positions", nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// Notifications lists recent operator notifications.
func (c *Client) Notifications(ctx context.Context, limit int) ([]Notification, error) {
	var out httpapi.NotificationsResponse
	path := "/api/notifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var e httpapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Errors = e.Errors
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
