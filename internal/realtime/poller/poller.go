// Package poller runs the fetch, archive, extract and persist cycle for every
// configured feed on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/subway-rt/poller/internal/config"
	"github.com/subway-rt/poller/internal/db"
	"github.com/subway-rt/poller/internal/metrics"
	"github.com/subway-rt/poller/internal/realtime/feed"
	"github.com/subway-rt/poller/internal/realtime/fetcher"
)

// Store persists snapshots and records
type Store interface {
	EnsureSchema(ctx context.Context) error
	InsertSnapshot(ctx context.Context, snap feed.Snapshot) error
	InsertTripUpdates(ctx context.Context, updates []feed.TripUpdate) (int, error)
	InsertVehiclePositions(ctx context.Context, positions []feed.VehiclePosition) (int, error)
	InsertAlerts(ctx context.Context, alerts []feed.Alert) (int, error)
}

// Fetcher downloads one feed payload
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Processor decodes a payload into records
type Processor interface {
	Process(source string, payload []byte) (*feed.Batch, error)
}

// FeedResult is the outcome of one feed within a tick
type FeedResult struct {
	Feed     string
	Records  int // rows committed
	Entities int
	Err      error
}

// Summary describes one tick
type Summary struct {
	TickID   string
	Feeds    []FeedResult
	Duration time.Duration
}

// Failed returns the number of feeds that reported an error
func (s Summary) Failed() int {
	n := 0
	for _, f := range s.Feeds {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Poller drives the polling loop
type Poller struct {
	feeds     []config.Feed
	interval  time.Duration
	store     Store
	fetcher   Fetcher
	processor Processor
	logger    *zap.Logger
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	ready     atomic.Bool
}

// Option configures a Poller
type Option func(*Poller)

// WithClock replaces the wall clock, for tests
func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

// New creates a poller over cfg.Feeds, ticking every cfg.PollInterval
func New(cfg *config.Config, store Store, f Fetcher, proc Processor, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewForTesting()
	}

	p := &Poller{
		feeds:     cfg.Feeds,
		interval:  cfg.PollInterval,
		store:     store,
		fetcher:   f,
		processor: proc,
		logger:    logger.With(zap.String("component", "poller")),
		metrics:   m,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once any feed has been fully processed
func (p *Poller) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no feed has been processed yet")
	}
	return nil
}

// Run polls immediately and then on every tick until ctx is cancelled.
// Cancellation is observed between ticks; a running tick always completes.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		zap.Duration("interval", p.interval),
		zap.Int("feeds", len(p.feeds)),
	)
	p.metrics.PollerRunning.Set(1)
	defer p.metrics.PollerRunning.Set(0)

	tickCtx := context.WithoutCancel(ctx)

	p.Poll(tickCtx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", zap.Error(ctx.Err()))
			return nil
		case <-ticker.Chan():
			p.Poll(tickCtx)
		}
	}
}

// Poll runs one tick over every feed in configured order
func (p *Poller) Poll(ctx context.Context) Summary {
	start := p.clock.Now()
	summary := Summary{TickID: uuid.NewString()}
	logger := p.logger.With(zap.String("tick_id", summary.TickID))

	p.metrics.Ticks.Inc()

	if err := p.store.EnsureSchema(ctx); err != nil {
		logger.Warn("schema ensure failed, continuing", zap.Error(err))
	}

	for _, f := range p.feeds {
		result := p.pollFeed(ctx, logger.With(zap.String("feed", f.Name), zap.String("feed_url", f.URL)), f)
		summary.Feeds = append(summary.Feeds, result)
	}

	summary.Duration = p.clock.Since(start)
	p.metrics.TickDuration.Observe(summary.Duration.Seconds())

	logger.Info("poll complete",
		zap.Int("feeds", len(summary.Feeds)),
		zap.Int("failed", summary.Failed()),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

// pollFeed runs fetch, snapshot, extraction and persistence for one feed.
// Every failure is contained here.
func (p *Poller) pollFeed(ctx context.Context, logger *zap.Logger, f config.Feed) (result FeedResult) {
	result.Feed = f.Name

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic: %v", r)
			logger.Error("feed poll panicked", zap.Error(result.Err))
		}
	}()

	payload, err := p.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		kind := fetcher.KindNetwork
		var fetchErr *fetcher.Error
		if errors.As(err, &fetchErr) {
			kind = fetchErr.Kind
		}
		p.metrics.FetchFailures.WithLabelValues(f.Name, string(kind)).Inc()
		logger.Error("failed to fetch feed", zap.String("kind", string(kind)), zap.Error(err))
		result.Err = err
		return result
	}
	p.metrics.PayloadBytes.WithLabelValues(f.Name).Observe(float64(len(payload)))

	// Raw bytes are archived before decoding so undecodable payloads are kept
	snap := feed.Snapshot{FeedURL: f.URL, Payload: payload, ReceivedAt: p.clock.Now().UTC()}
	if err := p.store.InsertSnapshot(ctx, snap); err != nil {
		p.metrics.StorageFailures.WithLabelValues(db.TableSnapshots).Inc()
		logger.Error("failed to store snapshot", zap.Error(err))
		result.Err = err
		return result
	}
	p.metrics.RecordsWritten.WithLabelValues("snapshot").Inc()

	batch, err := p.processor.Process(f.Name, payload)
	if err != nil {
		p.metrics.DecodeFailures.WithLabelValues(f.Name).Inc()
		logger.Error("failed to decode feed", zap.Int("bytes", len(payload)), zap.Error(err))
		result.Err = err
		return result
	}
	result.Entities = batch.Entities
	if batch.Failed > 0 {
		p.metrics.ExtractionFailures.WithLabelValues(f.Name).Add(float64(batch.Failed))
	}

	var errs error
	record := func(kind, table string, n int, err error) {
		result.Records += n
		p.metrics.RecordsWritten.WithLabelValues(kind).Add(float64(n))
		if err != nil {
			p.metrics.StorageFailures.WithLabelValues(table).Add(float64(len(multierr.Errors(err))))
			errs = multierr.Append(errs, err)
		}
	}

	n, err := p.store.InsertTripUpdates(ctx, batch.TripUpdates)
	record(string(feed.KindTripUpdate), db.TableTripUpdates, n, err)
	n, err = p.store.InsertVehiclePositions(ctx, batch.VehiclePositions)
	record(string(feed.KindVehicle), db.TableVehiclePositions, n, err)
	n, err = p.store.InsertAlerts(ctx, batch.Alerts)
	record(string(feed.KindAlert), db.TableAlerts, n, err)

	logger.Info("feed processed",
		zap.Int("bytes", len(payload)),
		zap.Int("entities", batch.Entities),
		zap.Int("trip_updates", len(batch.TripUpdates)),
		zap.Int("vehicle_positions", len(batch.VehiclePositions)),
		zap.Int("alerts", len(batch.Alerts)),
		zap.Int("unrecognized", batch.Unrecognized),
		zap.Int("extraction_failures", batch.Failed),
		zap.Int("rows_written", result.Records),
	)

	if errs != nil {
		logger.Error("some records failed to persist",
			zap.Int("failed_rows", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
		result.Err = errs
		return result
	}

	p.metrics.LastSuccess.WithLabelValues(f.Name).Set(float64(p.clock.Now().Unix()))
	p.ready.Store(true)
	return result
}
