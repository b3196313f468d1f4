package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/config"
	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/policyhub/internal/health"
	"github.com/vladislavdragonenkov/policyhub/internal/httpapi"
	"github.com/vladislavdragonenkov/policyhub/internal/metrics"
	"github.com/vladislavdragonenkov/policyhub/internal/notify"
	"github.com/vladislavdragonenkov/policyhub/internal/otp"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
	"github.com/vladislavdragonenkov/policyhub/internal/payment/checkout"
	"github.com/vladislavdragonenkov/policyhub/internal/payment/mobilemoney"
	"github.com/vladislavdragonenkov/policyhub/internal/sequence"
	"github.com/vladislavdragonenkov/policyhub/internal/service/idempotency"
	"github.com/vladislavdragonenkov/policyhub/internal/service/outbox"
	"github.com/vladislavdragonenkov/policyhub/internal/sideeffect"
	"github.com/vladislavdragonenkov/policyhub/internal/subscription"
	"github.com/vladislavdragonenkov/policyhub/internal/version"
)

// Dependencies содержит собранный граф компонентов сервиса.
type Dependencies struct {
	Stores        *Stores
	Orchestrator  *payment.Orchestrator
	Subscriptions *subscription.Service
	Dispatcher    *sideeffect.Dispatcher
	OutboxWorker  *outbox.Worker
	Sweeper       *idempotency.Sweeper
	API           *httpapi.Server
	Health        *healthcheck.Handler
	Logger        *log.Entry

	kafka kafkaSinks
}

// Option переопределяет части графа (используется в тестах).
type Option func(*buildOptions)

type buildOptions struct {
	providers  []domain.PaymentProvider
	sender     domain.NotificationSender
	registerer prometheus.Registerer
}

// WithProviders подменяет адаптеры из конфигурации.
func WithProviders(providers ...domain.PaymentProvider) Option {
	return func(o *buildOptions) { o.providers = providers }
}

// WithNotificationSender подменяет отправителя SMS.
func WithNotificationSender(sender domain.NotificationSender) Option {
	return func(o *buildOptions) { o.sender = sender }
}

// WithRegisterer задаёт Prometheus registerer для метрик конвейера.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// NewDependencies открывает хранилища и собирает конвейер
// оплата → подписка → outbox → побочные эффекты.
func NewDependencies(ctx context.Context, cfg config.Config, logger *log.Entry, opts ...Option) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	build := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&build)
	}

	stores, err := initStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	deps := &Dependencies{Stores: stores, Logger: logger}
	pipelineMetrics := metrics.NewPipelineMetricsWithRegisterer(build.registerer)

	providers := build.providers
	if providers == nil {
		providers, err = initProviders(cfg.Providers)
		if err != nil {
			stores.Close(logger)
			return nil, err
		}
	}
	if len(providers) == 0 {
		logger.Warn("no payment providers configured")
	}
	providers = guardProviders(providers, cfg.Providers.Resilience, logger)

	codes := otp.NewService(stores.Otp, otp.Config{
		CodeLength:  cfg.OTP.CodeLength,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, otp.WithLogger(logger.WithField("component", "otp")))

	deps.Orchestrator = payment.NewOrchestrator(payment.NewRegistry(providers...), stores.Transactions, codes,
		payment.WithLogger(logger.WithField("component", "payment-orchestrator")),
		payment.WithMetrics(pipelineMetrics),
	)

	rates, err := sideeffect.ParseCommissionRates(cfg.Commission.Default, cfg.Commission.ByCategory)
	if err != nil {
		stores.Close(logger)
		return nil, fmt.Errorf("commission rates: %w", err)
	}

	sender := build.sender
	if sender == nil {
		sender, err = initNotificationSender(ctx, cfg.Notifications.SNS, logger)
		if err != nil {
			stores.Close(logger)
			return nil, err
		}
	}

	handler := sideeffect.NewHandler(stores.Notifications, stores.Commissions, rates,
		sideeffect.WithSender(sender),
		sideeffect.WithHandlerLogger(logger.WithField("component", "side-effects")),
		sideeffect.WithHandlerMetrics(pipelineMetrics),
		sideeffect.WithTimeout(cfg.Outbox.EffectTimeout),
	)

	deps.kafka = initKafka(cfg.Kafka, logger)

	var publisher domain.OutboxPublisher = handler
	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryBaseDelay),
	}
	if deps.kafka.events != nil {
		publisher = sideeffect.NewFanout(handler, deps.kafka.events)
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(deps.kafka.deadLetters))
	}
	deps.OutboxWorker = outbox.NewWorker(stores.Outbox, publisher, workerOpts...)

	deps.Dispatcher = sideeffect.NewDispatcher(stores.Outbox,
		sideeffect.WithWake(deps.OutboxWorker.Wake),
		sideeffect.WithFallback(handler),
		sideeffect.WithDispatcherLogger(logger.WithField("component", "side-effect-dispatcher")),
		sideeffect.WithDispatcherMetrics(pipelineMetrics),
	)

	numbers := sequence.NewAllocator(stores.Sequences, cfg.Sequence.Prefixes, cfg.Sequence.DefaultPrefix)
	deps.Subscriptions = subscription.NewService(stores.Subscriptions, deps.Orchestrator, numbers,
		subscription.WithLogger(logger.WithField("component", "subscription")),
		subscription.WithMetrics(pipelineMetrics),
		subscription.WithTimeline(stores.Timeline),
		subscription.WithContractListener(deps.Dispatcher),
		subscription.WithPaymentListener(deps.Dispatcher),
		subscription.WithAutoPromote(cfg.Subscription.AutoPromote),
	)

	deps.Sweeper = idempotency.NewSweeper(stores.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
		idempotency.WithBatchSize(cfg.Idempotency.CleanupBatch),
	)

	deps.API = httpapi.NewServer(deps.Subscriptions, deps.Orchestrator,
		httpapi.WithIdempotency(stores.Idempotency, cfg.Idempotency.TTL),
		httpapi.WithLogger(logger.WithField("component", "http-api")),
	)

	deps.Health = healthcheck.NewHandler(version.GetVersion())
	if stores.Postgres != nil {
		deps.Health.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", stores.Postgres, true))
	}
	if stores.Redis != nil {
		critical := cfg.Sequence.Backend == config.BackendRedis || cfg.OTP.Backend == config.BackendRedis
		deps.Health.RegisterChecker("redis", healthcheck.NewPingChecker("redis", stores.Redis, critical))
	}

	return deps, nil
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	d.kafka.close(d.Logger)
	d.Stores.Close(d.Logger)
}

// initProviders создаёт включённые в конфигурации адаптеры.
func initProviders(cfg config.ProvidersConfig) ([]domain.PaymentProvider, error) {
	var providers []domain.PaymentProvider

	if cfg.MobileMoney.Enabled {
		mm := mobilemoney.Config{
			BaseURL:     cfg.MobileMoney.BaseURL,
			APIKey:      cfg.MobileMoney.APIKey,
			Secret:      cfg.MobileMoney.Secret,
			Timeout:     cfg.MobileMoney.Timeout,
			SMSTemplate: cfg.MobileMoney.SMSTemplate,
		}
		if err := mm.Validate(); err != nil {
			return nil, err
		}
		providers = append(providers, mobilemoney.New(mm))
	}

	if cfg.Checkout.Enabled {
		co := checkout.Config{
			BaseURL:          cfg.Checkout.BaseURL,
			APIKey:           cfg.Checkout.APIKey,
			WebhookSecret:    cfg.Checkout.WebhookSecret,
			WebhookTolerance: cfg.Checkout.WebhookTolerance,
			Timeout:          cfg.Checkout.Timeout,
		}
		if err := co.Validate(); err != nil {
			return nil, err
		}
		providers = append(providers, checkout.New(co))
	}

	return providers, nil
}

// guardProviders оборачивает адаптеры circuit breaker-ом и повторами опроса статуса.
func guardProviders(providers []domain.PaymentProvider, cfg config.ProviderResilienceConfig, logger *log.Entry) []domain.PaymentProvider {
	resilience := payment.ResilienceConfig{
		MaxFailures:   cfg.MaxFailures,
		ResetTimeout:  cfg.ResetTimeout,
		StatusRetries: cfg.StatusRetries,
		RetryDelay:    cfg.RetryDelay,
		MaxRetryDelay: payment.DefaultResilienceConfig().MaxRetryDelay,
	}
	guarded := make([]domain.PaymentProvider, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		guarded = append(guarded, payment.Guard(p, resilience, logger.WithField("component", "provider-guard")))
	}
	return guarded
}

// initNotificationSender выбирает SNS или запись в лог.
func initNotificationSender(ctx context.Context, cfg config.SNSConfig, logger *log.Entry) (domain.NotificationSender, error) {
	if !cfg.Enabled {
		return notify.NewLogSender(logger.WithField("component", "notifications")), nil
	}
	client, err := notify.NewSNSClient(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("init sns: %w", err)
	}
	logger.WithField("region", cfg.Region).Info("sns sms notifications enabled")
	return notify.NewSMSSender(client, cfg.SenderID, logger.WithField("component", "sms-sender")), nil
}
