package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/config"
	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/memory"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/postgres"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/redisstore"
)

// Stores объединяет репозитории выбранного драйвера хранения.
type Stores struct {
	Subscriptions domain.SubscriptionRepository
	Transactions  domain.TransactionRepository
	Sequences     domain.SequenceRepository
	Otp           domain.OtpStore
	Commissions   domain.CommissionRepository
	Notifications domain.NotificationRepository
	Outbox        domain.OutboxRepository
	Timeline      domain.TimelineRepository
	Idempotency   domain.IdempotencyRepository

	Postgres *postgres.Store
	Redis    *redisstore.Client
}

// initStores открывает хранилища согласно storage.driver, otp.backend и sequence.backend.
func initStores(ctx context.Context, cfg config.Config, logger *log.Entry) (*Stores, error) {
	s := &Stores{}

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		pg, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := pg.MigrateUp(ctx, 0); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		s.Postgres = pg
		s.Subscriptions = postgres.NewSubscriptionRepository(pg)
		s.Transactions = postgres.NewTransactionRepository(pg)
		s.Sequences = postgres.NewSequenceRepository(pg)
		s.Commissions = postgres.NewCommissionRepository(pg)
		s.Notifications = postgres.NewNotificationRepository(pg)
		s.Outbox = postgres.NewOutboxRepository(pg)
		s.Timeline = postgres.NewTimelineRepository(pg)
		s.Idempotency = postgres.NewIdempotencyRepository(pg)
		logger.Info("using postgres storage")
	default:
		s.Subscriptions = memory.NewSubscriptionRepository()
		s.Transactions = memory.NewTransactionRepository()
		s.Sequences = memory.NewSequenceRepository()
		s.Commissions = memory.NewCommissionRepository()
		s.Notifications = memory.NewNotificationRepository()
		s.Outbox = memory.NewOutboxRepository()
		s.Timeline = memory.NewTimelineRepository()
		s.Idempotency = memory.NewIdempotencyRepository()
		logger.Warn("using in-memory storage, data is lost on restart")
	}

	if cfg.Redis.Enabled() {
		client, err := redisstore.Open(ctx, redisstore.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			s.Close(logger)
			return nil, err
		}
		s.Redis = client
	}

	if cfg.Sequence.Backend == config.BackendRedis {
		if s.Redis == nil {
			s.Close(logger)
			return nil, fmt.Errorf("sequence backend redis: redis is not configured")
		}
		s.Sequences = redisstore.NewSequenceRepository(s.Redis)
	}

	switch {
	case cfg.OTP.Backend == config.BackendRedis && s.Redis != nil:
		s.Otp = redisstore.NewOtpStore(s.Redis)
	case cfg.OTP.Backend == config.BackendRedis:
		logger.Warn("redis is not configured, otp challenges are kept in process memory")
		s.Otp = memory.NewOtpStore()
	default:
		s.Otp = memory.NewOtpStore()
	}

	return s, nil
}

// Close закрывает открытые подключения.
func (s *Stores) Close(logger *log.Entry) {
	if s == nil {
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Close(); err != nil {
			logger.WithError(err).Warn("failed to close postgres pool")
		}
	}
}
