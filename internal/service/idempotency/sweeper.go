// Package idempotency удаляет просроченные ключи Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const (
	defaultSweepInterval   = 10 * time.Minute
	defaultSweepBatchSize  = 500
	defaultMaxBatchesInRun = 100
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyhub_idempotency_sweep_runs_total",
		Help: "Total number of idempotency sweeps grouped by result.",
	}, []string{"result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policyhub_idempotency_sweep_deleted_total",
		Help: "Total number of deleted expired idempotency keys.",
	})
)

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(batchSize int) Option {
	return func(s *Sweeper) {
		if batchSize > 0 {
			s.batchSize = batchSize
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper периодически удаляет ключи с истёкшим TTL.
// За один проход удаляется не больше defaultMaxBatchesInRun порций,
// остаток доберёт следующий проход.
type Sweeper struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewSweeper создаёт Sweeper.
func NewSweeper(repo domain.IdempotencyRepository, opts ...Option) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-sweeper"),
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run выполняет проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		deleted, err := s.Sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			sweepRuns.WithLabelValues("error").Inc()
			s.logger.WithError(err).Warn("idempotency sweep failed")
		default:
			sweepRuns.WithLabelValues("ok").Inc()
			if deleted > 0 {
				s.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep удаляет ключи, просроченные к текущему моменту, и возвращает их число.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now()
	total := 0
	for batch := 0; batch < defaultMaxBatchesInRun; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := s.repo.DeleteExpired(before, s.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		sweepDeleted.Add(float64(deleted))

		if deleted < s.batchSize {
			break
		}
	}
	return total, nil
}
