package sql

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/gqlcache/dialect"
)

// DefaultSlowThreshold is the duration above which a statement counts as slow.
const DefaultSlowThreshold = 100 * time.Millisecond

// StatsSnapshot is a point-in-time copy of the counters of a StatsDriver.
type StatsSnapshot struct {
	Queries int64
	Execs   int64
	Errors  int64
	Slow    int64
	Elapsed time.Duration
}

// LogValue implements slog.LogValuer.
func (s StatsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("queries", s.Queries),
		slog.Int64("execs", s.Execs),
		slog.Int64("errors", s.Errors),
		slog.Int64("slow", s.Slow),
		slog.Duration("elapsed", s.Elapsed),
	)
}

type counters struct {
	queries, execs, errors, slow, elapsed atomic.Int64
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, took time.Duration)

// StatsDriver counts the statements run through a Driver, inside and
// outside transactions, and reports slow ones.
type StatsDriver struct {
	*Driver
	counters  counters
	threshold time.Duration
	onSlow    SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the slow statement threshold. The default is
// DefaultSlowThreshold.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowQueryHook sets the callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.onSlow = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level to logger, or to the
// default logger when logger is nil.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, took time.Duration) {
		logger.WarnContext(ctx, "slow query detected", "duration", took, "query", query, "args", args)
	})
}

// NewStatsDriver wraps drv.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, threshold: DefaultSlowThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the current counters.
func (d *StatsDriver) Stats() StatsSnapshot {
	c := &d.counters
	return StatsSnapshot{
		Queries: c.queries.Load(),
		Execs:   c.execs.Load(),
		Errors:  c.errors.Load(),
		Slow:    c.slow.Load(),
		Elapsed: time.Duration(c.elapsed.Load()),
	}
}

// Query implements dialect.ExecQuerier.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, &d.counters.queries, query, args, func() error {
		return d.Driver.Query(ctx, query, args, v)
	})
}

// Exec implements dialect.ExecQuerier.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, &d.counters.execs, query, args, func() error {
		return d.Driver.Exec(ctx, query, args, v)
	})
}

// Tx starts a transaction whose statements are counted as well.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, drv: d}, nil
}

func (d *StatsDriver) observe(ctx context.Context, kind *atomic.Int64, query string, args any, run func() error) error {
	start := time.Now()
	err := run()
	took := time.Since(start)

	kind.Add(1)
	d.counters.elapsed.Add(int64(took))
	if err != nil {
		d.counters.errors.Add(1)
	}
	if took > d.threshold {
		d.counters.slow.Add(1)
		if d.onSlow != nil {
			list, _ := args.([]any)
			d.onSlow(ctx, query, list, took)
		}
	}
	return err
}

type statsTx struct {
	dialect.Tx
	drv *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.observe(ctx, &tx.drv.counters.queries, query, args, func() error {
		return tx.Tx.Query(ctx, query, args, v)
	})
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.drv.observe(ctx, &tx.drv.counters.execs, query, args, func() error {
		return tx.Tx.Exec(ctx, query, args, v)
	})
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
)
