package engine

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradebridge/internal/broker"
	"tradebridge/internal/domain"
	"tradebridge/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJournal(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type harness struct {
	sim     *broker.SimulatorBroker
	journal *store.SQLiteStore
	fanout  *recordingFanout
	linker  *recordingLinker
	engine  *Engine
	gw      *Gateway
}

// newHarness wires an engine around a fresh simulator and journal. The
// confirmation timeout is short so timeout paths finish quickly.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, broker.NewSimulatorBroker(500), nil)
}

func newHarnessWith(t *testing.T, sim *broker.SimulatorBroker, client broker.Client) *harness {
	t.Helper()
	if client == nil {
		client = sim
	}
	h := &harness{
		sim:     sim,
		journal: newJournal(t),
		fanout:  &recordingFanout{},
		linker:  &recordingLinker{},
	}
	h.engine = NewEngine(client, h.journal, h.fanout, h.linker,
		Options{ConfirmTimeout: 100 * time.Millisecond, FlattenPause: -1}, discardLogger())
	h.gw = h.engine.Gateway
	return h
}

func (h *harness) order(t *testing.T, id int64) *domain.Order {
	t.Helper()
	o, err := h.journal.GetOrderByOrderID(t.Context(), id)
	require.NoError(t, err)
	return o
}

type broadcastRecord struct {
	topic   string
	payload any
	seq     int64
}

type recordingFanout struct {
	seq atomic.Int64

	mu     sync.Mutex
	events []broadcastRecord
}

func (f *recordingFanout) NextSequenceID() int64 { return f.seq.Add(1) }

func (f *recordingFanout) BroadcastWithSequence(topic string, payload any, seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, broadcastRecord{topic: topic, payload: payload, seq: seq})
}

func (f *recordingFanout) topic(name string) []broadcastRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastRecord
	for _, e := range f.events {
		if e.topic == name {
			out = append(out, e)
		}
	}
	return out
}

type closeCheck struct {
	execID string
	pnl    float64
}

type recordingLinker struct {
	mu     sync.Mutex
	linked []domain.Execution
	checks []closeCheck
	panics bool
}

func (l *recordingLinker) TryLinkExecution(exec domain.Execution) {
	l.mu.Lock()
	l.linked = append(l.linked, exec)
	panics := l.panics
	l.mu.Unlock()
	if panics {
		panic("linker exploded")
	}
}

func (l *recordingLinker) SchedulePositionCloseCheck(execID string, pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks = append(l.checks, closeCheck{execID: execID, pnl: pnl})
}

// hookedClient overrides selected requests of a simulator.
type hookedClient struct {
	*broker.SimulatorBroker
	reqOpenOrders func() error
	reqExecutions func(reqID int64, f broker.ExecutionFilter) error
}

func (c *hookedClient) ReqOpenOrders() error {
	if c.reqOpenOrders != nil {
		return c.reqOpenOrders()
	}
	return c.SimulatorBroker.ReqOpenOrders()
}

func (c *hookedClient) ReqExecutions(reqID int64, f broker.ExecutionFilter) error {
	if c.reqExecutions != nil {
		return c.reqExecutions(reqID, f)
	}
	return c.SimulatorBroker.ReqExecutions(reqID, f)
}

func limitBuy(symbol string, qty, price float64) PlaceOrderParams {
	return PlaceOrderParams{
		Symbol:        symbol,
		Action:        domain.ActionBuy,
		OrderType:     domain.OrderTypeLimit,
		TotalQuantity: qty,
		LmtPrice:      domain.Float(price),
	}
}
