package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"meetkit/internal/core/services"
	httphandlers "meetkit/internal/handlers/http"
	"meetkit/internal/infrastructure/distributed"
	"meetkit/internal/infrastructure/livefeed"
	"meetkit/internal/infrastructure/monitoring"
	"meetkit/internal/infrastructure/simulator"
	"meetkit/pkg/circuitbreaker"
	"meetkit/pkg/config"
	"meetkit/pkg/logger"
	"meetkit/pkg/retry"
	"meetkit/pkg/tracing"
)

const checkTimeout = 2 * time.Second

var (
	serveAddress    string
	serveInstanceID string
	serveNoSim      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meetkit client runtime",
	Long: "Start the metrics collector and tile tracker, drive them from the media\n" +
		"simulator and serve the HTTP control API, the websocket live feed and\n" +
		"prometheus metrics until SIGINT or SIGTERM.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveInstanceID, "instance-id", "", "instance id stamped on published events (default random)")
	serveCmd.Flags().BoolVar(&serveNoSim, "no-simulator", false, "do not start the media simulator")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("meetkit serve: %w", err)
	}
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}
	if serveNoSim {
		cfg.Simulator.Enabled = false
	}
	instanceID := serveInstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync() //nolint:errcheck
	log := zapLogger.Sugar()

	log.Infow("starting meetkit",
		"version", buildVersion,
		"instance_id", instanceID,
		"address", cfg.Server.Address,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "meetkit",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("meetkit serve: init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry := monitoring.NewPrometheusCollector(reg)
	gauge := monitoring.NewSnapshotGaugeObserver(reg)

	devices := simulator.NewDeviceManager(log.Named("devices"))
	videoClient := simulator.NewVideoClient(log.Named("video_client"))

	facade := services.NewAudioVideoFacade(services.FacadeConfig{
		MetricsInterval:  cfg.Client.MetricsInterval,
		TranslationTable: services.DefaultTranslationTable(),
		Telemetry:        telemetry,
		VideoClient:      videoClient,
		Devices:          devices,
	}, log.Named("facade"))
	if err := facade.Start(ctx); err != nil {
		return fmt.Errorf("meetkit serve: %w", err)
	}
	// Runs after every producer below has returned.
	defer facade.Stop()

	facade.Metrics().Subscribe(gauge)

	health := monitoring.NewHealthChecker()
	health.AddPingCheck("facade", facade, checkTimeout)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Enabled {
		client, err := distributed.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log.Named("redis"))
		if err != nil {
			return fmt.Errorf("meetkit serve: %w", err)
		}
		defer client.Close()
		health.AddRedisCheck(client, checkTimeout)

		publisher := newEventPublisher(client, cfg, instanceID, log)
		facade.Metrics().Subscribe(publisher)
		facade.Tiles().AddObserver(publisher)
		facade.Events().AddObserver(publisher)
		g.Go(func() error { return publisher.Run(gctx) })
	}

	var liveFeed http.HandlerFunc
	if cfg.LiveFeed.Enabled {
		feed := livefeed.NewServer(facade.Metrics(), facade.Tiles(), facade.Events(), livefeed.Options{
			PingInterval:   cfg.LiveFeed.PingInterval,
			PongTimeout:    cfg.LiveFeed.PongTimeout,
			WriteTimeout:   cfg.LiveFeed.WriteTimeout,
			SendBuffer:     cfg.LiveFeed.SendBuffer,
			AllowedOrigins: cfg.LiveFeed.AllowedOrigins,
		}, log.Named("livefeed"))
		defer feed.Close()
		liveFeed = feed.HandleWebSocket
	}

	if cfg.Simulator.Enabled {
		engine, err := simulator.NewEngine(simulator.Config{
			RemoteStreams:  cfg.Simulator.RemoteStreams,
			LocalStream:    cfg.Simulator.LocalStream,
			FrameRate:      cfg.Simulator.FrameRate,
			ReportInterval: cfg.Simulator.ReportInterval,
			ChurnInterval:  cfg.Simulator.ChurnInterval,
			Seed:           cfg.Simulator.Seed,
		}, facade, facade.Events(), videoClient, log.Named("simulator"))
		if err != nil {
			return fmt.Errorf("meetkit serve: %w", err)
		}
		g.Go(func() error { return engine.Run(gctx) })
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := httphandlers.RouterDeps{
		Config:   cfg,
		Logger:   zapLogger.Named("http"),
		Auth:     services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Client:   httphandlers.NewClientHandler(facade.Tiles(), gauge, devices),
		Health:   httphandlers.NewHealthHandler(health),
		LiveFeed: liveFeed,
	}
	if cfg.Monitoring.PrometheusEnabled {
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      httphandlers.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		log.Infow("http server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("graceful shutdown failed", "error", err)
			return srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorw("meetkit stopped with error", "error", err)
		return err
	}
	log.Infow("meetkit stopped")
	return nil
}

// newEventPublisher mirrors observer callbacks to redis behind a circuit
// breaker so an unreachable redis costs one failed call per timeout window.
func newEventPublisher(client distributed.Publisher, cfg *config.Config, instanceID string, log *zap.SugaredLogger) *distributed.EventPublisher {
	publog := log.Named("publisher")

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		publog.Warnw("redis circuit breaker changed state", "from", from.String(), "to", to.String())
	})

	return distributed.NewEventPublisher(client, cfg.Redis.Channel, instanceID, 0, publog,
		distributed.WithPublishRetry(retry.DefaultConfig()),
		distributed.WithCircuitBreaker(breaker),
	)
}
