// HemoStat container-health control loop — runs one or more of the
// Observer, Decider, Actuator, Notifier, Scanner, and Dashboard agents
// in a single process, selected by the -agent flag.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hemostat/hemostat/pkg/actuator"
	"github.com/hemostat/hemostat/pkg/bus"
	"github.com/hemostat/hemostat/pkg/clock"
	"github.com/hemostat/hemostat/pkg/config"
	"github.com/hemostat/hemostat/pkg/dashboard"
	"github.com/hemostat/hemostat/pkg/decider"
	"github.com/hemostat/hemostat/pkg/docker"
	"github.com/hemostat/hemostat/pkg/llm"
	"github.com/hemostat/hemostat/pkg/models"
	"github.com/hemostat/hemostat/pkg/notifier"
	"github.com/hemostat/hemostat/pkg/observer"
	"github.com/hemostat/hemostat/pkg/scanner"
	"github.com/hemostat/hemostat/pkg/version"
)

var allAgents = []string{
	models.AgentObserver, models.AgentDecider, models.AgentActuator,
	models.AgentNotifier, models.AgentScanner, "dashboard",
}

func main() {
	agentFlag := flag.String("agent", "all",
		"comma-separated agents to run (observer,decider,actuator,notifier,scanner,dashboard) or 'all'")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}
	setupLogging(config.LoggingFromEnv())

	agents, err := parseAgents(*agentFlag)
	if err != nil {
		slog.Error("Invalid -agent flag", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting HemoStat", "version", version.Full(), "agents", agents)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, agents); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("HemoStat terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(ctx context.Context, agents []string) error {
	busCfg := config.Bus()
	clk := clock.Real{}

	// The daemon connection is lazy so agents start (degraded) while
	// Docker is down; the bus connection is not — without the bus
	// nothing works, so a connect failure is fatal.
	observerCfg := config.ObserverFromEnv()
	dialDocker := func(ctx context.Context) (docker.Runtime, error) {
		return docker.Connect(ctx, observerCfg.RetryMax, observerCfg.RetryDelay)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range agents {
		busClient, err := bus.Connect(ctx, name, busCfg)
		if err != nil {
			return err
		}
		defer busClient.Close()

		switch name {
		case models.AgentObserver:
			a := observer.New(busClient, observerCfg, clk, dialDocker)
			g.Go(func() error { return a.Run(ctx) })
		case models.AgentDecider:
			cfg := config.DeciderFromEnv()
			backend := llm.FromEnv(cfg.AIModel)
			a := decider.New(busClient, cfg, backend)
			g.Go(func() error { return a.Run(ctx) })
		case models.AgentActuator:
			cfg := config.ActuatorFromEnv()
			a := actuator.New(busClient, cfg, docker.NewLazy(dialDocker), clk)
			g.Go(func() error { return a.Run(ctx) })
		case models.AgentNotifier:
			a := notifier.New(busClient, config.NotifierFromEnv(), clk)
			g.Go(func() error { return a.Run(ctx) })
		case models.AgentScanner:
			cfg := config.ScannerFromEnv()
			a := scanner.New(busClient, cfg, scanner.NewZapClient(cfg.ZapHost, cfg.ZapPort), clk)
			g.Go(func() error { return a.Run(ctx) })
		case "dashboard":
			s := dashboard.New(busClient, config.DashboardFromEnv())
			g.Go(func() error { return s.Run(ctx) })
		}
	}

	return g.Wait()
}

func parseAgents(flagValue string) ([]string, error) {
	if flagValue == "all" {
		return allAgents, nil
	}
	var agents []string
	for _, name := range strings.Split(flagValue, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		known := false
		for _, a := range allAgents {
			if a == name {
				known = true
				break
			}
		}
		if !known {
			return nil, errors.New("unknown agent " + name)
		}
		agents = append(agents, name)
	}
	if len(agents) == 0 {
		return nil, errors.New("no agents selected")
	}
	return agents, nil
}

func setupLogging(cfg config.Logging) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
