package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"stream-orchestrator/config"
	"stream-orchestrator/pkg/archive"
	"stream-orchestrator/pkg/authz"
	"stream-orchestrator/pkg/lock"
	"stream-orchestrator/pkg/metrics"
	"stream-orchestrator/pkg/notify"
	"stream-orchestrator/pkg/provider"
	"stream-orchestrator/pkg/provider/bridge"
	"stream-orchestrator/pkg/provider/primary"
	"stream-orchestrator/repository"
	"stream-orchestrator/service"
)

// App is the wired orchestrator shared by the HTTP server and the one-shot
// CLI commands.
type App struct {
	Service *service.Service
	Metrics *metrics.Metrics
	Store   repository.SessionStore
	closers []func() error
}

// NewApp builds the service graph from configuration. Optional integrations
// (Redis, Kafka, MinIO, the bridge provider) are left out when unconfigured.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Metrics: metrics.New()}
	logger := zerolog.Ctx(ctx)

	if cfg.DB != nil {
		store, err := repository.NewRepo(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("open repository: %w", err)
		}
		app.Store = store
		app.closers = append(app.closers, cfg.DB.Close)
	} else {
		logger.Warn().Msg("no database configured, sessions are kept in memory")
		app.Store = repository.NewMemoryStore()
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if len(cfg.Redis.Addrs) > 0 {
		redisLocker, err := lock.NewRedisLocker(lock.RedisConfig{
			Addrs:      cfg.Redis.Addrs,
			Username:   cfg.Redis.Username,
			Password:   cfg.Redis.Password,
			MasterName: cfg.Redis.MasterName,
			Prefix:     "stream-orchestrator:lock:",
			TTL:        cfg.Redis.LockTTL,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("redis locker: %w", err)
		}
		locker = redisLocker
		app.closers = append(app.closers, redisLocker.Close)
	}

	observer := provider.WithObserver(app.Metrics)
	primaryClient := primary.NewClient(primary.Config{
		BaseURL:          cfg.Primary.BaseURL,
		AccountID:        cfg.Primary.AccountID,
		APIToken:         cfg.Primary.APIToken,
		PlaybackBaseURL:  cfg.Primary.PlaybackBaseURL,
		RecordingTimeout: cfg.Primary.RecordingTimeout,
	}, observer)

	deps := service.Dependencies{
		Store:      app.Store,
		Primary:    primaryClient,
		Authorizer: authz.NewStoreAuthorizer(app.Store),
		Locker:     locker,
		Metrics:    app.Metrics,
	}
	if cfg.Bridge.Enabled() {
		deps.Bridge = bridge.NewClient(bridge.Config{
			BaseURL:                cfg.Bridge.BaseURL,
			TokenID:                cfg.Bridge.TokenID,
			TokenSecret:            cfg.Bridge.TokenSecret,
			IngestURL:              cfg.Bridge.IngestURL,
			ReconnectWindowSeconds: int(cfg.Bridge.ReconnectWindow.Seconds()),
		}, observer)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		notifier := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Username: cfg.Kafka.Username,
			Password: cfg.Kafka.Password,
		}, *logger)
		deps.Notifier = notifier
		app.closers = append(app.closers, notifier.Close)
	}
	if cfg.Storage != nil {
		deps.Archiver = archive.NewMinioArchiver(cfg.Storage, cfg.MinIOBucket, "sessions")
	}

	app.Service = service.NewService(deps, service.Options{
		ProviderTimeout: cfg.Reconcile.ProviderTimeout,
		RecordingGrace:  cfg.Reconcile.RecordingGrace,
		PollConcurrency: cfg.Reconcile.PollConcurrency,
	})
	return app, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
