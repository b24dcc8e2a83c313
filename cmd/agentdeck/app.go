package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/agents"
	"agentdeck/internal/config"
	"agentdeck/internal/events"
	"agentdeck/internal/gatewayws"
	"agentdeck/internal/panellog"
	"agentdeck/internal/prune"
	"agentdeck/internal/registry"
)

// appState is the shared wiring every subcommand builds on.
type appState struct {
	cfg       config.Config
	log       *panellog.Logger
	bus       *events.Bus
	catalog   *agents.Catalog
	manager   *agentproc.Manager
	store     *registry.Store
	pruner    *prune.Pruner
	redis     *events.RedisBridge
	pollEvery time.Duration

	redisStop context.CancelFunc
}

func newApp(configPath string) (*appState, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	var logFile *os.File
	if strings.TrimSpace(cfg.LogFile) != "" {
		logFile, err = os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
	}
	log := panellog.New(panellog.Options{
		File:        logFile,
		Term:        os.Stderr,
		TermEnabled: logFile == nil,
		TermColor:   panellog.TermColorEnabled(os.Stderr),
		Debug:       os.Getenv("AGENTDECK_DEBUG") != "",
	})

	catalog, err := agents.LoadCatalog(cfg.AgentsDir)
	if err != nil {
		return nil, err
	}

	pollEvery, err := time.ParseDuration(cfg.PollEvery)
	if err != nil || pollEvery <= 0 {
		pollEvery = registry.DefaultPollPeriod
	}
	retention, err := time.ParseDuration(cfg.Prune.Retention)
	if err != nil {
		retention = 0
	}

	bus := events.NewBus()
	manager := agentproc.NewManager(bus, log, catalog, cfg.StateRoot)
	store := registry.NewStore(manager, log)
	pruner := prune.New(manager, log, retention)

	app := &appState{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		catalog:   catalog,
		manager:   manager,
		store:     store,
		pruner:    pruner,
		pollEvery: pollEvery,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		host, _ := os.Hostname()
		origin := agentproc.SanitizeID(fmt.Sprintf("%s-%d", host, os.Getpid()), "panel")
		bridge, err := events.NewRedisBridge(cfg.RedisURL, bus, origin, func(format string, args ...any) {
			log.Logf(panellog.KindWarn, format, args...)
		})
		if err != nil {
			log.Logf(panellog.KindWarn, "redis mirror disabled: %v", err)
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			app.redis = bridge
			app.redisStop = cancel
			go bridge.Run(ctx)
		}
	}

	if cfg.Prune.Enabled != nil && *cfg.Prune.Enabled {
		if err := pruner.Start(cfg.Prune.Schedule); err != nil {
			log.Logf(panellog.KindWarn, "prune schedule invalid: %v", err)
		}
	}

	return app, nil
}

func (a *appState) Close() {
	if a == nil {
		return
	}
	a.pruner.Stop()
	if a.redisStop != nil {
		a.redisStop()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.log.Close()
}

// serveGateway blocks until ctx is done or the listener fails.
func serveGateway(ctx context.Context, app *appState, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: gatewayws.NewServer(app.bus, app.log).Handler(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	app.log.Logf(panellog.KindInfo, "gateway listening on %s", addr)
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func splitLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
