package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warden-mod/warden/bypass"
	"github.com/warden-mod/warden/engine"
	"github.com/warden-mod/warden/escalator"
	"github.com/warden-mod/warden/ledger"
	"github.com/warden-mod/warden/models"
	"github.com/warden-mod/warden/notify"
	"github.com/warden-mod/warden/ratelimit"
	"github.com/warden-mod/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "moderation safety engine daemon",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "optional redis for rate-limit window counting (falls back to the database)",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "optional slack incoming webhook for admin alerts",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "admin-bind",
			Usage:   "IP or address, and port, to listen on for the admin API",
			Value:   ":3899",
			EnvVars: []string{"WARDEN_ADMIN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3898",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "cleanup-interval",
			Value:   engine.DefaultCleanupInterval,
			EnvVars: []string{"WARDEN_CLEANUP_INTERVAL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Trap SIGINT to trigger a shutdown.
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("warden"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),
					attribute.String("environment", os.Getenv("ENVIRONMENT")),
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(models.AllTables()...); err != nil {
			return err
		}

		var notifier notify.Notifier
		if url := cctx.String("slack-webhook-url"); url != "" {
			notifier = notify.NewSlackNotifier(url, logger)
		} else {
			notifier = notify.NewLogNotifier(logger)
		}

		var events ratelimit.EventStore
		if rurl := cctx.String("redis-url"); rurl != "" {
			events, err = ratelimit.NewRedisEventStore(rurl)
			if err != nil {
				return err
			}
		}

		registry, err := bypass.NewRegistry(db, logger)
		if err != nil {
			return err
		}
		limiter := ratelimit.NewLimiter(db, events, notifier, logger)
		eng := &engine.Engine{
			Logger:      logger,
			Ledger:      ledger.NewService(db, notifier, logger),
			RateLimiter: limiter,
			Escalator:   escalator.NewEscalator(db, registry, limiter, notifier, logger),
			Bypass:      registry,
		}

		srv := NewServer(db, eng, logger)

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				os.Exit(-1)
			}
		}()
		go eng.RunCleanup(ctx, cctx.Duration("cleanup-interval"))

		srvErr := make(chan error, 1)
		go func() {
			srvErr <- srv.RunAPI(cctx.String("admin-bind"))
		}()

		logger.Info("startup complete")
		select {
		case <-signals:
			logger.Info("received shutdown signal")
		case err := <-srvErr:
			if err != nil {
				logger.Error("error during startup", "err", err)
			}
			logger.Info("shutting down")
		}
		cancel()

		// drains in-flight post-commit escalations before closing the API
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*30)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "err", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}
