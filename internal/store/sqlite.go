package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradebridge/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ ExecutionStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)
var _ NotificationStore = (*SQLiteStore)(nil)

// SQLiteStore implements Journal backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id         INTEGER PRIMARY KEY,
	symbol           TEXT    NOT NULL,
	action           TEXT    NOT NULL,
	order_type       TEXT    NOT NULL,
	total_quantity   REAL    NOT NULL,
	lmt_price        REAL,
	aux_price        REAL,
	trailing_percent REAL,
	trail_stop_price REAL,
	tif              TEXT    NOT NULL DEFAULT '',
	sec_type         TEXT    NOT NULL DEFAULT '',
	exchange         TEXT    NOT NULL DEFAULT '',
	currency         TEXT    NOT NULL DEFAULT '',
	status           TEXT    NOT NULL,
	filled_quantity  REAL    NOT NULL DEFAULT 0,
	avg_fill_price   REAL    NOT NULL DEFAULT 0,
	correlation_id   TEXT    NOT NULL,
	parent_order_id  INTEGER,
	oca_group        TEXT    NOT NULL DEFAULT '',
	strategy_version TEXT    NOT NULL DEFAULT '',
	order_source     TEXT    NOT NULL DEFAULT '',
	ai_confidence    REAL,
	journal_id       INTEGER,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_correlation ON orders(correlation_id);

CREATE TABLE IF NOT EXISTS executions (
	exec_id        TEXT    PRIMARY KEY,
	order_id       INTEGER NOT NULL,
	symbol         TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	shares         REAL    NOT NULL,
	price          REAL    NOT NULL,
	cum_qty        REAL,
	avg_price      REAL,
	commission     REAL,
	realized_pnl   REAL,
	correlation_id TEXT    NOT NULL DEFAULT '',
	ts             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_order ON executions(order_id);
CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(ts);

CREATE TABLE IF NOT EXISTS position_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch      INTEGER NOT NULL,
	symbol     TEXT    NOT NULL,
	quantity   REAL    NOT NULL,
	avg_cost   REAL    NOT NULL,
	sec_type   TEXT    NOT NULL DEFAULT '',
	currency   TEXT    NOT NULL DEFAULT '',
	source     TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_position_snapshots_source ON position_snapshots(source, batch);

CREATE TABLE IF NOT EXISTS notifications (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT    NOT NULL,
	symbol     TEXT    NOT NULL DEFAULT '',
	title      TEXT    NOT NULL,
	body       TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers from the gateway, correlator and
	// reconciler; SQLite would otherwise report SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `order_id, symbol, action, order_type, total_quantity, lmt_price, aux_price,
	trailing_percent, trail_stop_price, tif, sec_type, exchange, currency, status,
	filled_quantity, avg_fill_price, correlation_id, parent_order_id, oca_group,
	strategy_version, order_source, ai_confidence, journal_id, created_at, updated_at`

// InsertOrder inserts a new order row.
func (s *SQLiteStore) InsertOrder(ctx context.Context, o *domain.Order) error {
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Symbol, string(o.Action), o.OrderType, o.TotalQuantity,
		nullFloat(o.LmtPrice), nullFloat(o.AuxPrice), nullFloat(o.TrailingPercent), nullFloat(o.TrailStopPrice),
		o.TIF, o.SecType, o.Exchange, o.Currency, o.Status,
		o.FilledQuantity, o.AvgFillPrice, o.CorrelationID, nullInt(o.ParentOrderID), o.OCAGroup,
		o.StrategyVersion, o.OrderSource, nullFloat(o.AIConfidence), nullInt(o.JournalID),
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting order %d: %w", o.OrderID, err)
	}
	return nil
}

// GetOrderByOrderID retrieves a single order by its broker id.
func (s *SQLiteStore) GetOrderByOrderID(ctx context.Context, orderID int64) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading order %d: %w", orderID, err)
	}
	return o, nil
}

// UpdateOrderStatus sets the status and, when filled > 0, the fill progress.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID int64, status string, filled, avgFillPrice float64) error {
	now := s.now().UTC().UnixMilli()
	var err error
	if filled > 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE orders SET status = ?, filled_quantity = ?, avg_fill_price = ?, updated_at = ? WHERE order_id = ?`,
			status, filled, avgFillPrice, now, orderID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ?`,
			status, now, orderID)
	}
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", orderID, err)
	}
	return nil
}

// UpdateOrderFields writes only the columns set in patch. correlation_id is
// never part of a patch.
func (s *SQLiteStore) UpdateOrderFields(ctx context.Context, orderID int64, p OrderPatch) error {
	if p.Empty() {
		return nil
	}
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.OrderType != nil {
		add("order_type", *p.OrderType)
	}
	if p.TotalQuantity != nil {
		add("total_quantity", *p.TotalQuantity)
	}
	if p.LmtPrice != nil {
		add("lmt_price", *p.LmtPrice)
	}
	if p.AuxPrice != nil {
		add("aux_price", *p.AuxPrice)
	}
	if p.TrailingPercent != nil {
		add("trailing_percent", *p.TrailingPercent)
	}
	if p.TrailStopPrice != nil {
		add("trail_stop_price", *p.TrailStopPrice)
	}
	if p.TIF != nil {
		add("tif", *p.TIF)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	add("updated_at", s.now().UTC().UnixMilli())
	args = append(args, orderID)

	_, err := s.db.ExecContext(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE order_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating fields of order %d: %w", orderID, err)
	}
	return nil
}

// GetLiveOrders returns every order whose status is not terminal, oldest first.
func (s *SQLiteStore) GetLiveOrders(ctx context.Context) ([]domain.Order, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(domain.TerminalStatuses)), ", ")
	args := make([]any, len(domain.TerminalStatuses))
	for i, st := range domain.TerminalStatuses {
		args[i] = st
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status NOT IN (`+placeholders+`) ORDER BY order_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing live orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrders returns the most recent orders, newest first, up to limit.
func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, order_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return collectOrders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var (
		o                                           domain.Order
		action                                      string
		lmt, aux, trailPct, trailStop, aiConfidence sql.NullFloat64
		parent, journal                             sql.NullInt64
		created, updated                            int64
	)
	err := r.Scan(&o.OrderID, &o.Symbol, &action, &o.OrderType, &o.TotalQuantity, &lmt, &aux,
		&trailPct, &trailStop, &o.TIF, &o.SecType, &o.Exchange, &o.Currency, &o.Status,
		&o.FilledQuantity, &o.AvgFillPrice, &o.CorrelationID, &parent, &o.OCAGroup,
		&o.StrategyVersion, &o.OrderSource, &aiConfidence, &journal, &created, &updated)
	if err != nil {
		return nil, err
	}
	o.Action = domain.Action(action)
	o.LmtPrice = floatPtr(lmt)
	o.AuxPrice = floatPtr(aux)
	o.TrailingPercent = floatPtr(trailPct)
	o.TrailStopPrice = floatPtr(trailStop)
	o.AIConfidence = floatPtr(aiConfidence)
	o.ParentOrderID = intPtr(parent)
	o.JournalID = intPtr(journal)
	o.CreatedAt = time.UnixMilli(created).UTC()
	o.UpdatedAt = time.UnixMilli(updated).UTC()
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// ExecutionStore implementation
// ---------------------------------------------------------------------------

const executionColumns = `exec_id, order_id, symbol, side, shares, price, cum_qty, avg_price,
	commission, realized_pnl, correlation_id, ts`

// InsertExecution inserts a fill; replays of a known exec id are ignored.
func (s *SQLiteStore) InsertExecution(ctx context.Context, e *domain.Execution) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecID, e.OrderID, e.Symbol, e.Side, e.Shares, e.Price,
		nullFloat(e.CumQty), nullFloat(e.AvgPrice), nullFloat(e.Commission), nullFloat(e.RealizedPnL),
		e.CorrelationID, e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting execution %s: %w", e.ExecID, err)
	}
	return nil
}

// UpdateExecutionCommission merges a commission report by exec id. It
// returns ErrNotFound when the fill has not been journaled.
func (s *SQLiteStore) UpdateExecutionCommission(ctx context.Context, execID string, commission float64, realizedPnL *float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET commission = ?, realized_pnl = ? WHERE exec_id = ?`,
		commission, nullFloat(realizedPnL), execID)
	if err != nil {
		return fmt.Errorf("updating commission of %s: %w", execID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution retrieves one execution by exec id.
func (s *SQLiteStore) GetExecution(ctx context.Context, execID string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE exec_id = ?`, execID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading execution %s: %w", execID, err)
	}
	return e, nil
}

// ListExecutions returns fills with timestamps in [start, end), oldest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, start, end time.Time) ([]domain.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE ts >= ? AND ts < ? ORDER BY ts, exec_id`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()
	var out []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExecution(r rowScanner) (*domain.Execution, error) {
	var (
		e                              domain.Execution
		cum, avg, commission, realized sql.NullFloat64
		ts                             int64
	)
	err := r.Scan(&e.ExecID, &e.OrderID, &e.Symbol, &e.Side, &e.Shares, &e.Price,
		&cum, &avg, &commission, &realized, &e.CorrelationID, &ts)
	if err != nil {
		return nil, err
	}
	e.CumQty = floatPtr(cum)
	e.AvgPrice = floatPtr(avg)
	e.Commission = floatPtr(commission)
	e.RealizedPnL = floatPtr(realized)
	e.Timestamp = time.UnixMilli(ts).UTC()
	return &e, nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// InsertPositionSnapshots writes one row per position. Rows written by one
// call share a batch number so the latest snapshot can be read back whole,
// including the empty snapshot.
func (s *SQLiteStore) InsertPositionSnapshots(ctx context.Context, source string, positions []domain.Position) error {
	now := s.now().UTC()
	if len(positions) == 0 {
		// An empty marker row records that the account was flat.
		positions = []domain.Position{{}}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot: %w", err)
	}
	defer tx.Rollback()

	var batch int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(batch), 0) + 1 FROM position_snapshots`).Scan(&batch); err != nil {
		return fmt.Errorf("allocating snapshot batch: %w", err)
	}
	for _, p := range positions {
		_, err := tx.ExecContext(ctx, `INSERT INTO position_snapshots
			(batch, symbol, quantity, avg_cost, sec_type, currency, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			batch, p.Symbol, p.Quantity, p.AvgCost, p.SecType, p.Currency, source, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("inserting snapshot for %s: %w", p.Symbol, err)
		}
	}
	return tx.Commit()
}

// LatestPositionSnapshots returns the rows of the most recent snapshot for source.
func (s *SQLiteStore) LatestPositionSnapshots(ctx context.Context, source string) ([]domain.PositionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, quantity, avg_cost, sec_type, currency, source, created_at
		FROM position_snapshots
		WHERE source = ? AND symbol != '' AND batch = (SELECT MAX(batch) FROM position_snapshots WHERE source = ?)
		ORDER BY symbol`, source, source)
	if err != nil {
		return nil, fmt.Errorf("reading position snapshot: %w", err)
	}
	defer rows.Close()
	var out []domain.PositionSnapshot
	for rows.Next() {
		var ps domain.PositionSnapshot
		var created int64
		if err := rows.Scan(&ps.Symbol, &ps.Quantity, &ps.AvgCost, &ps.SecType, &ps.Currency, &ps.Source, &created); err != nil {
			return nil, fmt.Errorf("scanning position snapshot: %w", err)
		}
		ps.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, ps)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// NotificationStore implementation
// ---------------------------------------------------------------------------

// AppendNotification stores n.
func (s *SQLiteStore) AppendNotification(ctx context.Context, n domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (type, symbol, title, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.Type, n.Symbol, n.Title, n.Body, n.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("appending notification: %w", err)
	}
	return nil
}

// ListNotifications returns the most recent notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, symbol, title, body, created_at FROM notifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var created int64
		if err := rows.Scan(&n.ID, &n.Type, &n.Symbol, &n.Title, &n.Body, &created); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
