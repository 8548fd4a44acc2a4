package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"gopkg.in/natefinch/lumberjack.v2"

	"wssession/internal/admin"
	"wssession/internal/config"
	"wssession/internal/connection"
	"wssession/internal/endpoint"
	"wssession/internal/lifecycle"
	"wssession/internal/metrics"
	"wssession/internal/reachability"
	"wssession/internal/script"
	"wssession/internal/session"
	"wssession/internal/transport"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.json", "path to config file (.json or .toml)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger, closeLog := setupLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()

	logger.Info().
		Str("config", *configPath).
		Str("url", cfg.URL).
		Int("endpoints", len(cfg.Endpoints)).
		Msg("starting wssession")

	m := metrics.New()

	var monitor reachability.Monitor
	if cfg.IsReachabilityEnabled() {
		prober := reachability.NewProber(reachability.ProberOptions{
			Host:     cfg.Reachability.Host,
			Interval: cfg.GetReachabilityIntervalDuration(),
			Timeout:  cfg.GetReachabilityTimeoutDuration(),
		}, logger)
		prober.Start()
		defer prober.Stop()
		monitor = prober
	}

	signals := lifecycle.FromSignals(logger)
	defer signals.Stop()

	s := session.New(session.Options{
		URL: cfg.URL,
		Dialer: &transport.WebSocketDialer{
			HandshakeTimeout: cfg.GetConnectTimeoutDuration(),
			WriteTimeout:     cfg.GetWriteTimeoutDuration(),
			ReadLimit:        cfg.ReadLimit,
		},
		Connection: connection.Options{
			ConnectTimeout:    cfg.GetConnectTimeoutDuration(),
			HeartbeatInterval: cfg.GetHeartbeatIntervalDuration(),
			PingMessage:       cfg.PingMessage,
		},
		FailureThreshold:      cfg.FailureThreshold,
		CriticalRetryInterval: cfg.GetCriticalRetryIntervalDuration(),
		DedupCacheSize:        cfg.DedupCacheSize,
		Reachability:          monitor,
		Lifecycle:             signals,
		Metrics:               m,
	}, logger)
	defer s.Close()

	values := logger.With().Str("component", "values").Logger()
	var subs []*session.Subscription

	for _, epCfg := range cfg.Endpoints {
		rule := newRule(epCfg)
		subs = append(subs, session.Subscribe(s, rule, func(v gjson.Result) {
			values.Info().Str("endpoint", rule.Key()).RawJSON("value", []byte(v.Raw)).Msg("value")
		}))
	}

	if cfg.IsScriptsEnabled() {
		endpoints, err := script.LoadDirectory(cfg.GetScriptDirectory(), cfg.GetScriptTimeoutDuration(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load scripts")
		}
		for _, ep := range endpoints {
			key := ep.Key()
			subs = append(subs, session.Subscribe[any](s, ep, func(v any) {
				values.Info().Str("endpoint", key).Interface("value", v).Msg("value")
			}))
		}
	}

	var adminServer *admin.Server
	if cfg.AdminAddr != "" {
		adminServer = admin.New(cfg.AdminAddr, s, m, logger)
		if err := adminServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start admin server")
		}
	}

	s.Connect()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.Disconnect()
	if adminServer != nil {
		if err := adminServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("error during shutdown")
		}
	}
}

func newRule(c config.EndpointConfig) *endpoint.Rule {
	match := make([]endpoint.Match, 0, len(c.Match))
	for _, m := range c.Match {
		match = append(match, endpoint.Match{Path: m.Path, Equals: m.Equals})
	}
	return &endpoint.Rule{
		Name:        c.Name,
		Subscribe:   c.Subscribe,
		Unsubscribe: c.Unsubscribe,
		Match:       match,
		ValuePath:   c.ValuePath,
		DedupPath:   c.DedupPath,
	}
}

// setupLogger configures the zerolog logger. With a log file the output is JSON on a rotating
// file; otherwise it is a console writer on stdout.
func setupLogger(level, file string) (zerolog.Logger, func()) {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			LocalTime:  true,
			Compress:   true,
		}
		return zerolog.New(rotator).With().Timestamp().Logger(), func() { _ = rotator.Close() }
	}

	// Configure output
	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger(), func() {}
}
