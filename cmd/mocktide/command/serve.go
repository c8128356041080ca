package command

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mocktide/database"
	"mocktide/internal/admin"
	"mocktide/internal/config"
	"mocktide/internal/mapping"
	"mocktide/internal/report"
	"mocktide/internal/tcp"
)

// forcedCloseGrace bounds the wait after sockets were force-closed.
const forcedCloseGrace = 2 * time.Second

type serveOptions struct {
	cfg    *config.Config
	script *mapping.Script
	logger *slog.Logger
	// called once the listener is bound
	onListen func(addr net.Addr)
}

// serve runs one mock session: bind, accept until shutdown, drain in-flight
// scripts, write the final report. Only a fatal listener error is returned.
func serve(ctx context.Context, opts serveOptions) error {
	cfg, logger := opts.cfg, opts.logger

	policy, err := tcp.ParseRecvFailurePolicy(cfg.RecvFailurePolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks := buildSinks(ctx, cfg, logger)
	defer closeSinks()

	collector := report.NewCollector(cfg.ReportPath, sinks...)
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn("collector_close_failed", "error", err)
		}
	}()

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		logger.Error("bind_failed", "addr", cfg.ListenAddr(), "error", err)
		return fmt.Errorf("failed to bind %s: %w", cfg.ListenAddr(), err)
	}
	if opts.onListen != nil {
		opts.onListen(listener.Addr())
	}

	server := tcp.NewServer(listener, opts.script, collector, tcp.Options{
		MaxConnections:    cfg.MaxConnections,
		BackoffUnit:       cfg.AcceptBackoffUnit,
		BackoffMax:        cfg.AcceptBackoffMax,
		RecvFailurePolicy: policy,
		Connection: tcp.ConnectionOptions{
			MaxBufferBytes: cfg.MaxBufferBytes,
			IdleTimeout:    cfg.ConnIdleTimeout,
		},
		Logger: logger,
	})

	if cfg.AdminEnabled() {
		api := admin.NewServer(server, collector, admin.Options{
			JWTSecret: cfg.AdminJWTSecret,
			RateLimit: cfg.AdminRateLimit,
			Logger:    logger,
		})
		if _, err := api.Start(cfg.AdminAddr); err != nil {
			listener.Close()
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.Stop(stopCtx); err != nil {
				logger.Warn("admin_stop_failed", "error", err)
			}
		}()
	}

	serveErr := server.Serve(ctx)
	if serveErr != nil {
		logger.Error("listener_failed", "error", serveErr)
	}

	drain(server, cfg.ShutdownGrace, logger)

	if err := collector.WriteReport(); err != nil {
		logger.Error("report_write_failed", "path", cfg.ReportPath, "error", err)
	}
	logSummary(logger, collector.Suites(), cfg.ReportPath)
	return serveErr
}

// drain waits for in-flight scripts, then force-closes whatever is left.
func drain(server *tcp.TCPServer, grace time.Duration, logger *slog.Logger) {
	if active := server.Manager.ActiveCount(); active > 0 {
		logger.Info("draining_connections", "active", active, "grace", grace)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Wait(waitCtx); err == nil {
		return
	}

	logger.Warn("drain_timeout", "active", server.Manager.ActiveCount())
	server.Close()

	forceCtx, cancel := context.WithTimeout(context.Background(), forcedCloseGrace)
	defer cancel()
	if err := server.Wait(forceCtx); err != nil {
		logger.Error("connections_still_running", "active", server.Manager.ActiveCount())
	}
}

// buildSinks connects the optional result sinks. A sink that cannot be
// reached is skipped with a warning.
func buildSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]report.Sink, func()) {
	var (
		sinks   []report.Sink
		closers []func()
	)

	if cfg.RedisURL != "" {
		sink, err := report.NewRedisSink(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis_sink_disabled", "error", err)
		} else {
			logger.Info("redis_sink_enabled", "channel", report.RedisChannel)
			sinks = append(sinks, sink)
		}
	}

	if cfg.DatabaseURL != "" {
		sink, closePool, err := newPostgresSink(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("postgres_sink_disabled", "error", err)
		} else {
			logger.Info("postgres_sink_enabled")
			sinks = append(sinks, sink)
			closers = append(closers, closePool)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func newPostgresSink(ctx context.Context, databaseURL string, logger *slog.Logger) (*report.PostgresSink, func(), error) {
	pool, err := database.Connect(ctx, databaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.OpenGorm(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	sink, err := report.NewPostgresSink(db)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return sink, pool.Close, nil
}

func logSummary(logger *slog.Logger, suites []report.SuiteResult, path string) {
	passed := 0
	for _, s := range suites {
		if s.Passed() {
			passed++
		}
	}
	logger.Info("run_finished",
		"suites", len(suites),
		"passed", passed,
		"failed", len(suites)-passed,
		"report", path,
	)
}
