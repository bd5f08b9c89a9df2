package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"stream-orchestrator/config"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/handler"
	"stream-orchestrator/pkg/queue"
	"stream-orchestrator/pkg/rabbitmq"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to build application")
		return
	}
	defer app.Close()

	serviceDeps := handler.ServiceDependencies{Reconciler: app.Service.Reconciler}
	g, gctx := errgroup.WithContext(ctx)

	webhookQueue, err := startWebhookQueue(gctx, g, cfg, serviceDeps)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to start webhook queue")
		return
	}

	poller := NewPoller(app.Service.Reconciler, cfg.Reconcile.PollInterval)
	g.Go(func() error {
		return poller.Run(gctx)
	})

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(*zerolog.Ctx(ctx)), requestMetrics(app.Metrics))
	addHealth(r)
	r.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	warnUnsignedWebhooks(ctx, cfg)
	intake := handler.NewWebhookIntake(webhookQueue, handler.WebhookSecrets{
		Intake:  cfg.Webhooks.IntakeToken,
		Primary: cfg.Webhooks.PrimarySecret,
		Bridge:  cfg.Webhooks.BridgeSecret,
	}, app.Metrics)
	handler.NewHandler(app.Service, intake).Register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zerolog.Ctx(ctx).Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		zerolog.Ctx(ctx).Error().Err(err).Str("env", cfg.App.Environment).Msg("server stopped with error")
	}
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// startWebhookQueue publishes webhooks through RabbitMQ when a broker is
// configured, and through an in-process worker pool otherwise.
func startWebhookQueue(ctx context.Context, g *errgroup.Group, cfg *config.Config, deps handler.ServiceDependencies) (handler.WebhookQueue, error) {
	if !cfg.Queue.Enabled() {
		zerolog.Ctx(ctx).Warn().Msg("no RabbitMQ configured, webhooks are processed in-process")
		local := queue.NewLocal[dto.WebhookMessage](cfg.Server.QueueSize, cfg.Server.Workers, func(ctx context.Context, msg dto.WebhookMessage) error {
			return handler.ProcessWebhook(ctx, msg, deps)
		})
		g.Go(func() error {
			return local.Run(ctx)
		})
		return local, nil
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	topology := rabbitmq.WebhookTopology(cfg.Queue)
	publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue, topology)
	if err != nil {
		return nil, err
	}
	consumer := rabbitmq.NewConsumer(conn, cfg.Queue, topology, cfg.Server.Workers, handler.WebhookHandler)
	g.Go(func() error {
		defer publisher.Close()
		return consumer.Consume(ctx, deps)
	})
	return handler.BrokerQueue{Publisher: publisher}, nil
}

// warnUnsignedWebhooks flags production deployments where an empty secret
// turns off verification for a webhook source.
func warnUnsignedWebhooks(ctx context.Context, cfg *config.Config) {
	if cfg.App.Environment != constant.EnvironmentProduction.String() {
		return
	}
	secrets := []struct {
		name  string
		value string
	}{
		{"webhooks.intake_token", cfg.Webhooks.IntakeToken},
		{"webhooks.primary_secret", cfg.Webhooks.PrimarySecret},
		{"webhooks.bridge_secret", cfg.Webhooks.BridgeSecret},
	}
	for _, s := range secrets {
		if s.value == "" {
			zerolog.Ctx(ctx).Warn().Str("setting", s.name).Msg("webhook secret is empty, requests from this source are not verified")
		}
	}
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "stream-orchestrator").Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
