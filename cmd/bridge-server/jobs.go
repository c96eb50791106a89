package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tradebridge/internal/engine"
	"tradebridge/internal/store"
	"tradebridge/internal/util"
)

// runReconcileLoop runs a reconciliation pass every interval until ctx is done.
func runReconcileLoop(ctx context.Context, r *engine.Reconciler, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := r.Run(ctx)
			switch {
			case errors.Is(err, engine.ErrReconcileInProgress):
				log.Debug("reconciliation still running, tick skipped")
			case err != nil:
				log.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

// superviseConnection polls the broker session. When it comes back after a
// drop, the correlator is re-attached and a reconciliation pass repairs any
// status changes missed while it was down.
func superviseConnection(ctx context.Context, eng *engine.Engine, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	client := eng.Client()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	up := client.IsConnected()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := client.IsConnected()
		switch {
		case up && !now:
			log.Warn("broker session lost", "broker", client.Name())
		case !up && now:
			log.Info("broker session restored", "broker", client.Name())
			eng.Reconnected()
			_, err := eng.Reconciler.Run(ctx)
			if err != nil && !errors.Is(err, engine.ErrReconcileInProgress) {
				log.Error("reconciliation after reconnect failed", "error", err)
			}
		}
		up = now
	}
}

// nextFlatten returns when the end-of-day flatten for the session closing at
// or after from should run, and that close. Inside the flatten window the
// flatten is due immediately.
func nextFlatten(cal *util.TradingCalendar, from time.Time, before time.Duration) (at, closeT time.Time) {
	closeT = cal.NextClose(from)
	at = closeT.Add(-before)
	if at.Before(from) {
		at = from
	}
	return at, closeT
}

// endOfDay flattens every position shortly before each session close and
// then archives the session's executions to Parquet.
type endOfDay struct {
	gw      *engine.Gateway
	journal store.Journal
	archive *store.ExecutionArchive
	cal     *util.TradingCalendar
	before  time.Duration
	log     *slog.Logger
}

func (e *endOfDay) run(ctx context.Context) {
	if e.before <= 0 {
		e.log.Info("end-of-day flatten disabled")
		return
	}
	from := time.Now()
	for {
		at, closeT := nextFlatten(e.cal, from, e.before)
		e.log.Info("end-of-day flatten scheduled", "at", at.In(e.cal.Location()).Format(time.DateTime))

		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		e.flattenAndArchive(ctx, closeT)
		from = closeT.Add(time.Second)
	}
}

func (e *endOfDay) flattenAndArchive(ctx context.Context, closeT time.Time) {
	res, err := e.gw.FlattenAllPositions(ctx)
	if err != nil {
		e.log.Error("end-of-day flatten failed", "error", err)
	} else {
		for _, s := range res.Skipped {
			e.log.Warn("position not flattened", "symbol", s.Symbol, "quantity", s.Quantity, "reason", s.Reason)
		}
	}
	if err := e.archiveSession(ctx, closeT); err != nil {
		e.log.Error("archiving executions", "error", err)
	}
}

// archiveSession writes the executions of the UTC day containing closeT,
// and of the day before so late commission reports are picked up.
func (e *endOfDay) archiveSession(ctx context.Context, closeT time.Time) error {
	u := closeT.UTC()
	dayEnd := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	execs, err := e.journal.ListExecutions(ctx, dayEnd.AddDate(0, 0, -2), dayEnd)
	if err != nil {
		return err
	}
	if err := e.archive.WriteExecutions(ctx, execs); err != nil {
		return err
	}
	e.log.Info("executions archived", "count", len(execs), "through", dayEnd.AddDate(0, 0, -1).Format(time.DateOnly))
	return nil
}
