package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/engine"
	"tradebridge/internal/store"
)

const maxBodyBytes = 1 << 20

// Server serves the bridge REST API.
type Server struct {
	eng     *engine.Engine
	journal store.Journal
	archive *store.ExecutionArchive // nil if not configured
	stream  http.Handler            // real-time stream, nil if not configured
	log     *slog.Logger
}

// NewServer creates a new REST server. archive and stream may be nil.
func NewServer(
	eng *engine.Engine,
	journal store.Journal,
	archive *store.ExecutionArchive,
	stream http.Handler,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		eng:     eng,
		journal: journal,
		archive: archive,
		stream:  stream,
		log:     log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	mux.HandleFunc("POST /api/orders/bracket", s.handlePlaceBracket)
	mux.HandleFunc("POST /api/orders/advanced-bracket", s.handlePlaceAdvancedBracket)
	mux.HandleFunc("PATCH /api/orders/{id}", s.handleModifyOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("DELETE /api/orders", s.handleCancelAll)
	mux.HandleFunc("POST /api/flatten", s.handleFlatten)
	mux.HandleFunc("POST /api/reconcile", s.handleReconcile)

	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/open", s.handleOpenOrders)
	mux.HandleFunc("GET /api/orders/completed", s.handleCompletedOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /api/executions", s.handleExecutions)
	mux.HandleFunc("GET /api/journal/executions", s.handleJournalExecutions)
	mux.HandleFunc("GET /api/archive/executions", s.handleArchivedExecutions)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/positions/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)

	if s.stream != nil {
		mux.Handle("GET /api/stream", s.stream)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeStatusJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeStatusJSON(w, status, ErrorResponse{Error: msg})
}

// writeEngineError maps gateway and journal errors to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *engine.ValidationError
		berr *engine.BrokerError
	)
	switch {
	case errors.As(err, &verr):
		writeStatusJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Errors: verr.Errors})
		return
	case errors.Is(err, engine.ErrNoFieldsToModify):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrNotModifiable), errors.Is(err, engine.ErrReconcileInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, engine.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, engine.ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.As(err, &berr):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathOrderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

// queryLimit parses the "limit" query param, returning def when absent.
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// queryDate parses the "date" query param (YYYY-MM-DD, UTC), defaulting to today.
func queryDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	d := r.URL.Query().Get("date")
	if d == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), true
	}
	t, err := time.Parse("2006-01-02", d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	c := s.eng.Client()
	resp := HealthResponse{Status: "ok", Broker: c.Name(), Connected: c.IsConnected()}
	if !resp.Connected {
		resp.Status = "degraded"
	}
	writeJSON(w, resp)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var p engine.PlaceOrderParams
	if !decodeBody(w, r, &p) {
		return
	}
	res, err := s.eng.Gateway.PlaceOrder(r.Context(), p)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handlePlaceBracket(w http.ResponseWriter, r *http.Request) {
	var p engine.BracketParams
	if !decodeBody(w, r, &p) {
		return
	}
	res, err := s.eng.Gateway.PlaceBracketOrder(r.Context(), p)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handlePlaceAdvancedBracket(w http.ResponseWriter, r *http.Request) {
	var p engine.AdvancedBracketParams
	if !decodeBody(w, r, &p) {
		return
	}
	res, err := s.eng.Gateway.PlaceAdvancedBracket(r.Context(), p)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	var p engine.ModifyParams
	if !decodeBody(w, r, &p) {
		return
	}
	p.OrderID = id
	res, err := s.eng.Gateway.ModifyOrder(r.Context(), p)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	res, err := s.eng.Gateway.CancelOrder(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Gateway.CancelAllOrders(r.Context()); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusAccepted, StatusResponse{Status: "global cancel requested"})
}

func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Gateway.FlattenAllPositions(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.eng.Reconciler.Run(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []domain.Order
		err    error
	)
	if r.URL.Query().Get("live") == "true" {
		orders, err = s.journal.GetLiveOrders(r.Context())
	} else {
		orders, err = s.journal.ListOrders(r.Context(), queryLimit(r, 100))
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, JournalOrdersResponse{Orders: orders})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.eng.Gateway.GetOpenOrders(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, OpenOrdersResponse{Orders: orders})
}

func (s *Server) handleCompletedOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.eng.Gateway.GetCompletedOrders(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, OpenOrdersResponse{Orders: orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	o, err := s.journal.GetOrderByOrderID(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, o)
}

// handleExecutions asks the broker for fills. Query params: symbol, since
// (broker time format "yyyymmdd-hh:mm:ss").
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := broker.ExecutionFilter{
		Symbol: strings.ToUpper(q.Get("symbol")),
		Time:   q.Get("since"),
	}
	execs, err := s.eng.Gateway.GetExecutions(r.Context(), f)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, ExecutionsResponse{Executions: execs})
}

func (s *Server) handleJournalExecutions(w http.ResponseWriter, r *http.Request) {
	day, ok := queryDate(w, r)
	if !ok {
		return
	}
	execs, err := s.journal.ListExecutions(r.Context(), day, day.AddDate(0, 0, 1))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, JournalExecutionsResponse{Date: day.Format("2006-01-02"), Executions: execs})
}

func (s *Server) handleArchivedExecutions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "execution archive not configured")
		return
	}
	day, ok := queryDate(w, r)
	if !ok {
		return
	}
	execs, err := s.archive.ReadExecutions(r.Context(), day)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, ArchiveResponse{Date: day.Format("2006-01-02"), Executions: execs})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	c := s.eng.Client()
	if !c.IsConnected() {
		s.writeEngineError(w, r, engine.ErrNotConnected)
		return
	}
	positions, err := c.Positions(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, PositionsResponse{Positions: positions})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = domain.SnapshotSourceReconcile
	}
	snaps, err := s.journal.LatestPositionSnapshots(r.Context(), source)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []domain.PositionSnapshot{}
	}
	writeJSON(w, SnapshotsResponse{Source: source, Snapshots: snaps})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := s.journal.ListNotifications(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	writeJSON(w, NotificationsResponse{Notifications: ns})
}
