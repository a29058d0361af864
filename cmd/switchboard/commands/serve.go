package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/einobridge"
	"github.com/switchboard-ai/switchboard/internal/event"
	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/notify"
	"github.com/switchboard-ai/switchboard/internal/orchestrator"
	"github.com/switchboard-ai/switchboard/internal/prefs"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/server"
	"github.com/switchboard-ai/switchboard/internal/storage"
	"github.com/switchboard-ai/switchboard/internal/toolindex"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the configured servers and run the HTTP API",
	Long: `Connect to every enabled server from the config file, keep the
sessions alive, and expose session status, the tool catalog, and a live
event stream over HTTP. Edits to the config file trigger a reconnect.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Wire the stack: storage-backed preferences, session registry, SDK
	// dialer, event bus, tool index, consumer notifier, orchestrator.
	store := storage.New(filepath.Join(cfg.DataDir, "preferences"))
	reg := registry.New()
	bus := event.NewBus()
	defer bus.Close()

	bridge := prefs.NewBridge(store, reg)
	index := toolindex.New()
	notifier := notify.New(reg)

	orch := orchestrator.New(reg, transport.NewSDKDialer(), bus, bridge, index, notifier, orchestrator.Options{
		ConnectRetries:  cfg.ConnectRetries,
		DisconnectGrace: time.Duration(cfg.DisconnectGrace) * time.Millisecond,
	})

	tools := einobridge.NewRegistry(orch)
	notifier.Register(tools)

	result := orch.ConnectMany(ctx, cfg.Servers)
	logging.Info().
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("operations", len(index.Operations())).
		Msg("initial connect finished")

	if cfg.ReconcileInterval > 0 {
		go notifier.RunReconciler(ctx, time.Duration(cfg.ReconcileInterval)*time.Second)
	}

	// Reconnect with the new server set whenever the config file changes.
	watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
		res := orch.ReconnectMany(ctx, next.Servers, true)
		logging.Info().
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Int("disconnected", res.Disconnected).
			Msg("reconnected after config change")
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher disabled")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.HTTP.Port
	if servePort != 0 {
		srvCfg.Port = servePort
	}
	srvCfg.EnableCORS = cfg.HTTP.EnableCORS

	srv := server.New(srvCfg, orch, bus, cfg.Servers)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	closed := orch.DisconnectAll()
	logging.Info().Int("sessions", closed).Msg("server stopped")
	return nil
}
