// Package journal persists hedge lifecycle events and funding evaluations to
// Postgres for offline analysis. Writes are queued and best-effort: a slow or
// down database drops rows, it never blocks an order path.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"funding-hedge-bot/internal/events"
	"funding-hedge-bot/internal/funding"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Config struct {
	Enabled         bool
	DSN             string
	Schema          string
	QueueSize       int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type eventRow struct {
	At      time.Time
	Kind    string
	Symbol  string
	Venue   string
	Payload []byte
}

type evaluationRow struct {
	At        time.Time
	Symbol    string
	Outcome   string
	RateA     float64
	RateB     float64
	Diff      float64
	Threshold float64
}

// Writer implements events.Sink. A nil *Writer is safe to use everywhere and
// does nothing, matching the disabled-journal configuration.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	eventQueue  chan eventRow
	evalQueue   chan evaluationRow
	started     atomic.Bool
	dropEvents  atomic.Uint64
	dropEvals   atomic.Uint64
}

func New(cfg Config, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		eventQueue: make(chan eventRow, queueSize),
		evalQueue:  make(chan evaluationRow, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Publish queues a hedge event row. Satisfies events.Sink.
func (w *Writer) Publish(_ context.Context, ev events.Event) {
	if w == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		if w.log != nil {
			w.log.Warn("journal event marshal failed", zap.String("kind", ev.Kind()), zap.Error(err))
		}
		return
	}
	symbol, venueName := eventScope(ev)
	row := eventRow{
		At:      time.Now().UTC(),
		Kind:    ev.Kind(),
		Symbol:  symbol,
		Venue:   venueName,
		Payload: payload,
	}
	select {
	case w.eventQueue <- row:
	default:
		if w.dropEvents.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal event queue full")
		}
	}
}

func (w *Writer) EnqueueEvaluation(eval funding.Evaluation) {
	if w == nil {
		return
	}
	row := evaluationRow{
		At:        time.Now().UTC(),
		Symbol:    eval.Symbol,
		Outcome:   string(eval.Outcome),
		RateA:     eval.RateA.RatePercent,
		RateB:     eval.RateB.RatePercent,
		Diff:      eval.DiffPercent,
		Threshold: eval.ThresholdPercent,
	}
	select {
	case w.evalQueue <- row:
	default:
		if w.dropEvals.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal evaluation queue full")
		}
	}
}

func eventScope(ev events.Event) (symbol, venueName string) {
	switch e := ev.(type) {
	case events.LegFilled:
		return e.Symbol, e.Venue
	case events.LegFailed:
		return e.Symbol, e.Venue
	case events.HedgeOpened:
		return e.Symbol, ""
	case events.PartialOpen:
		return e.Symbol, e.FilledVenue
	case events.OpenAborted:
		return e.Symbol, ""
	case events.VenueClosed:
		return e.Symbol, e.Venue
	case events.HedgeClosed:
		return e.Symbol, ""
	case events.PartialClose:
		return e.Symbol, ""
	default:
		return "", ""
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.eventQueue:
			w.writeEvent(ctx, row)
		case row := <-w.evalQueue:
			w.writeEvaluation(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("journal db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		symbol TEXT NOT NULL,
		venue TEXT NOT NULL,
		payload JSONB NOT NULL
	)`, w.table("hedge_events"))); err != nil {
		return err
	}
	return w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		outcome TEXT NOT NULL,
		rate_a_percent DOUBLE PRECISION NOT NULL,
		rate_b_percent DOUBLE PRECISION NOT NULL,
		diff_percent DOUBLE PRECISION NOT NULL,
		threshold_percent DOUBLE PRECISION NOT NULL
	)`, w.table("funding_evaluations")))
}

func (w *Writer) writeEvent(ctx context.Context, row eventRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, kind, symbol, venue, payload) VALUES ($1,$2,$3,$4,$5)`, w.table("hedge_events"))
	if _, err := w.db.ExecContext(ctx, query, row.At, row.Kind, row.Symbol, row.Venue, row.Payload); err != nil && w.log != nil {
		w.log.Warn("journal event insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEvaluation(ctx context.Context, row evaluationRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, outcome, rate_a_percent, rate_b_percent, diff_percent, threshold_percent
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("funding_evaluations"))
	if _, err := w.db.ExecContext(ctx, query,
		row.At, row.Symbol, row.Outcome, row.RateA, row.RateB, row.Diff, row.Threshold,
	); err != nil && w.log != nil {
		w.log.Warn("journal evaluation insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
