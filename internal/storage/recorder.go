package storage

import (
	"context"
	"sync"
	"time"

	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/internal/monitoring"
	"go.uber.org/zap"
)

// HistoryStore persists extraction outcomes.
type HistoryStore interface {
	SaveExtraction(ctx context.Context, page *domain.PageData) error
	RecordFailure(ctx context.Context, path string, failure *domain.Error) error
}

// FailureStore counts consecutive origin failures.
type FailureStore interface {
	IncrementFailureCount(ctx context.Context, path string, ttl time.Duration) (int64, error)
	ResetFailures(ctx context.Context, path string) error
}

// RecorderConfig configures a Recorder. Nil stores are skipped.
type RecorderConfig struct {
	History     HistoryStore
	Failures    FailureStore
	FailureTTL  time.Duration
	Concurrency int
	Timeout     time.Duration
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// Recorder writes pipeline outcomes to the configured stores in the
// background. When Concurrency writes are already in flight new events are
// dropped rather than queued, so request latency never depends on storage.
type Recorder struct {
	history    HistoryStore
	failures   FailureStore
	failureTTL time.Duration
	timeout    time.Duration
	sem        chan struct{}
	wg         sync.WaitGroup
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Recorder{
		history:    cfg.History,
		failures:   cfg.Failures,
		failureTTL: cfg.FailureTTL,
		timeout:    cfg.Timeout,
		sem:        make(chan struct{}, cfg.Concurrency),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

func (r *Recorder) RecordSuccess(page *domain.PageData) {
	r.dispatch(page.Path, func(ctx context.Context) {
		if r.history != nil {
			if err := r.history.SaveExtraction(ctx, page); err != nil {
				r.logger.Error("error saving extraction", zap.String("path", page.Path), zap.Error(err))
			}
		}
		if r.failures != nil {
			if err := r.failures.ResetFailures(ctx, page.Path); err != nil {
				r.logger.Error("failed to reset failure count", zap.String("path", page.Path), zap.Error(err))
			}
		}
	})
}

func (r *Recorder) RecordFailure(path string, failure *domain.Error) {
	r.dispatch(path, func(ctx context.Context) {
		if r.history != nil {
			if err := r.history.RecordFailure(ctx, path, failure); err != nil {
				r.logger.Error("error saving failure", zap.String("path", path), zap.Error(err))
			}
		}
		if r.failures != nil {
			count, err := r.failures.IncrementFailureCount(ctx, path, r.failureTTL)
			if err != nil {
				r.logger.Error("failed to increment failure count", zap.String("path", path), zap.Error(err))
				return
			}
			r.logger.Debug("origin failure recorded", zap.String("path", path), zap.Int64("consecutive", count))
		}
	})
}

// Close waits for in-flight writes to finish.
func (r *Recorder) Close() {
	r.wg.Wait()
}

func (r *Recorder) dispatch(path string, fn func(ctx context.Context)) {
	if r.history == nil && r.failures == nil {
		return
	}
	select {
	case r.sem <- struct{}{}:
	default:
		r.metrics.IncRecorderDropped()
		r.logger.Warn("recorder saturated, dropping event", zap.String("path", path))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		fn(ctx)
	}()
}
