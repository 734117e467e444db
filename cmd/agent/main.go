// Agent entry point.
//
//	agent                        # connect and serve (same as "agent run")
//	agent run --config agent.yaml --log-level debug
//	agent agents                 # list agents announced in etcd
//	agent version
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"remote-agent/browser"
	"remote-agent/capture"
	"remote-agent/config"
	"remote-agent/dispatcher"
	"remote-agent/gateway"
	"remote-agent/metrics"
	"remote-agent/middleware"
	"remote-agent/registry"
	"remote-agent/replay"
	"remote-agent/runctx"
	"remote-agent/streamer"
	"remote-agent/transport"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runAgent(args)
	case "agents":
		err = runAgents(args)
	case "version":
		fmt.Printf("agent %s (%s)\n", Version, GitCommit)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  agent [run] [--config file] [--log-level level]   connect to the control plane and serve
  agent agents [--config file]                       list agents announced in etcd
  agent version                                      print the version`)
}

func loadConfig(fs *pflag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "path to a YAML config file")
	logLevel := fs.String("log-level", "", "override the log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return nil, err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	return cfg, nil
}

func runAgent(args []string) error {
	cfg, err := loadConfig(pflag.NewFlagSet("run", pflag.ContinueOnError), args)
	if err != nil {
		return err
	}
	if len(cfg.Backend.Endpoints()) == 0 {
		addr, err := promptAddress()
		if err != nil {
			return err
		}
		cfg.Backend.Address = addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	endpoints, err := gateway.ResolveEndpoints(cfg.Backend.Address, cfg.Backend.DefaultBase)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting agent",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.Strings("endpoints", endpoints))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.Metrics.Addr != "" {
		collector = metrics.NewCollector("remote_agent", logger)
	}

	vars, err := newVariableStore(cfg.RunContext, logger)
	if err != nil {
		return err
	}
	runs := runctx.NewStore(vars, logger)
	defer func() {
		if err := runs.Close(); err != nil {
			logger.Warn("closing run contexts", zap.Error(err))
		}
	}()

	hub := capture.NewHub(logger)
	defer hub.StopAll()

	chrome := browser.DefaultChromeOptions()
	chrome.Headless = cfg.Browser.Headless
	chrome.StartURL = cfg.Browser.StartURL
	chrome.JPEGQuality = cfg.Capture.JPEGQuality

	captureFPS := cfg.Capture.FPS
	if !cfg.Streaming.Enabled {
		captureFPS = 0
	}
	provider := browser.NewProvider(runs, hub, browser.NewChromeFactory(chrome, logger),
		browser.Options{CaptureFPS: captureFPS}, logger)

	caps := append(provider.Capabilities(), runs.Capabilities()...)
	reg, err := registry.New(caps...)
	if err != nil {
		return err
	}

	d := dispatcher.New(reg, dispatcher.Options{
		ConcurrencyLimit: cfg.Dispatch.ConcurrencyLimit,
		Metrics:          collector,
	}, logger)
	d.Use(middleware.LoggingMiddleware(logger))
	if collector != nil {
		d.Use(middleware.MetricsMiddleware(collector))
	}
	if cfg.Dispatch.RateLimit > 0 {
		d.Use(middleware.RateLimitMiddleware(cfg.Dispatch.RateLimit, cfg.Dispatch.RateBurst))
	}
	if cfg.Dispatch.CallTimeout > 0 {
		d.Use(middleware.TimeOutMiddleware(cfg.Dispatch.CallTimeout))
	}
	if cfg.Replay.Dir != "" {
		rec, err := replay.NewRecorder(cfg.Replay.Dir, logger)
		if err != nil {
			return err
		}
		d.Use(middleware.ReplayMiddleware(rec, reg, logger))
	}

	manager, err := gateway.New(d, hub, gateway.Options{
		Endpoints:         endpoints,
		ReconnectDelay:    cfg.Backend.ReconnectDelay,
		KeepAliveInterval: cfg.Backend.KeepAliveInterval,
		Transport: transport.Options{
			WriteTimeout: cfg.Backend.WriteTimeout,
			ReadLimit:    cfg.Backend.ReadLimit,
		},
		Streaming:    cfg.Streaming.Enabled,
		StreamRunIDs: cfg.Streaming.RunIDs,
		Stream: streamer.Options{
			Interval:    cfg.Streaming.IntervalDuration(),
			IdleTimeout: cfg.Streaming.IdleTimeout,
			Metrics:     collector,
		},
		Metrics: collector,
	}, logger)
	if err != nil {
		return err
	}

	if len(cfg.Presence.Endpoints) > 0 {
		withdraw, err := announce(ctx, cfg, endpoints[0], reg, logger)
		if err != nil {
			// Presence is informational; the agent still serves.
			logger.Warn("presence announce failed", zap.Error(err))
		} else {
			defer withdraw()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if collector != nil {
		g.Go(func() error { return collector.Serve(gctx, cfg.Metrics.Addr) })
	}
	g.Go(func() error { return manager.Run(gctx) })

	err = g.Wait()
	logger.Info("agent stopped")
	return err
}

func newVariableStore(cfg config.RunContextConfig, logger *zap.Logger) (runctx.VariableStore, error) {
	if cfg.RedisAddr == "" {
		return runctx.NewMemoryVariables(), nil
	}
	return runctx.NewRedisVariables(runctx.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
}

// announce registers this agent in etcd and returns the cleanup.
func announce(ctx context.Context, cfg *config.Config, endpoint string, reg *registry.Registry, logger *zap.Logger) (func(), error) {
	presence, err := registry.NewEtcdPresence(cfg.Presence.Endpoints, logger)
	if err != nil {
		return nil, err
	}

	id := cfg.Presence.AgentID
	if id == "" {
		id = uuid.NewString()
	}
	instance := registry.AgentInstance{
		ID:          id,
		Endpoint:    endpoint,
		Methods:     reg.Names(),
		Concurrency: cfg.Dispatch.ConcurrencyLimit,
		StartedAt:   time.Now(),
	}
	if err := presence.Announce(ctx, instance, cfg.Presence.TTL); err != nil {
		presence.Close()
		return nil, err
	}

	return func() {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := presence.Withdraw(wctx, id); err != nil {
			logger.Warn("presence withdraw failed", zap.Error(err))
		}
		presence.Close()
	}, nil
}

func runAgents(args []string) error {
	cfg, err := loadConfig(pflag.NewFlagSet("agents", pflag.ContinueOnError), args)
	if err != nil {
		return err
	}
	if len(cfg.Presence.Endpoints) == 0 {
		return errors.New("no etcd endpoints configured (set ETCD_ENDPOINTS)")
	}

	presence, err := registry.NewEtcdPresence(cfg.Presence.Endpoints, zap.NewNop())
	if err != nil {
		return err
	}
	defer presence.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	agents, err := presence.Discover(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENDPOINT\tCONCURRENCY\tMETHODS\tSTARTED")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			a.ID, a.Endpoint, a.Concurrency, len(a.Methods), a.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// promptAddress asks for the backend address when stdin is a terminal.
func promptAddress() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", config.ErrMissingAddress
	}
	fmt.Fprint(os.Stderr, "Backend address (agent id or ws:// URL): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading backend address: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", config.ErrMissingAddress
	}
	return line, nil
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build()
}
