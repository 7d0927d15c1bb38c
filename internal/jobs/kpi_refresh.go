package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/metrics"
	"semaphore/badging/internal/period"
)

type summaryComputer interface {
	Compute(ctx context.Context, sel period.Selector, f kpi.Filter) (kpi.Summary, error)
}

type summaryStore interface {
	Store(ctx context.Context, summary kpi.Summary) error
}

type options struct {
	Logger   *log.Logger
	Cron     *cron.Cron
	Location *time.Location
	Timeout  time.Duration
}

type Option func(*options)

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) { o.Cron = c }
}

func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.Location = loc }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.Timeout = d }
}

// KpiRefresher recomputes the day bundle on a cron schedule and caches it.
type KpiRefresher struct {
	computer summaryComputer
	cache    summaryStore
	opts     options
}

func NewKpiRefresher(computer summaryComputer, cache summaryStore, opts ...Option) *KpiRefresher {
	o := options{Logger: log.Default(), Location: time.UTC, Timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Cron == nil {
		o.Cron = cron.New(cron.WithLocation(o.Location))
	}
	return &KpiRefresher{computer: computer, cache: cache, opts: o}
}

// Start schedules the refresh and runs it once immediately. The schedule
// stops when ctx is done.
func (r *KpiRefresher) Start(ctx context.Context, spec string) error {
	if _, err := r.opts.Cron.AddFunc(spec, func() { r.run(ctx) }); err != nil {
		return err
	}
	r.opts.Cron.Start()
	go r.run(ctx)
	go func() {
		<-ctx.Done()
		<-r.opts.Cron.Stop().Done()
	}()
	return nil
}

func (r *KpiRefresher) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	done := metrics.Global().RecordJob("kpi_refresh")
	err := r.Refresh(ctx)
	done(err)
	if err != nil {
		r.opts.Logger.Printf("kpi refresh job error: %v", err)
	}
}

func (r *KpiRefresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	summary, err := r.computer.Compute(ctx, period.Selector{Kind: period.Day}, kpi.Filter{})
	if err != nil {
		return err
	}
	return r.cache.Store(ctx, summary)
}
