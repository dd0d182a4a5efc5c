// Package serve implements the serve command: it wires the datastore, the
// live distribution hub, replay sessions, species enrichment and the alert
// relay into the HTTP API server and runs it until interrupted.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/seawatch/seawatch-go/internal/alerts"
	api "github.com/seawatch/seawatch-go/internal/api/v2"
	"github.com/seawatch/seawatch-go/internal/conf"
	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/hub"
	"github.com/seawatch/seawatch-go/internal/imageprovider"
	"github.com/seawatch/seawatch-go/internal/logging"
	"github.com/seawatch/seawatch-go/internal/mqtt"
	"github.com/seawatch/seawatch-go/internal/observability"
	"github.com/seawatch/seawatch-go/internal/replay"
	"github.com/seawatch/seawatch-go/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Command returns the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServer(cmd.Context(), settings)
		},
	}
}

// RunServer assembles all components and serves until the context ends or
// an interrupt arrives.
func RunServer(ctx context.Context, settings *conf.Settings) error {
	logging.Init()
	logger := logging.ForService("server")

	if err := telemetry.InitSentry(settings); err != nil {
		logger.Warn("telemetry initialization failed", "error", err)
	}

	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("failed to close datastore", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	liveHub := hub.New(ds, settings.Hub.QueueSize, metrics.Hub)

	replayManager := replay.NewManager(ds, settings.Replay.DefaultSpeed, metrics.Replay)
	stopEviction := startIdleEviction(replayManager, settings.Replay.IdleTimeout)
	defer stopEviction()

	var images *imageprovider.SpeciesImageCache
	if settings.Enrichment.Provider == "oceanlife" {
		provider := imageprovider.NewOceanLifeProvider(&settings.Enrichment)
		images = imageprovider.New(provider, &settings.Enrichment, ds, metrics.ImageProvider)
	} else {
		logger.Info("species enrichment disabled", "provider", settings.Enrichment.Provider)
	}

	var publisher mqtt.Client
	if settings.MQTT.Enabled {
		publisher, err = mqtt.New(settings, metrics.MQTT)
		if err != nil {
			return fmt.Errorf("configuring mqtt: %w", err)
		}
		if err := publisher.Connect(ctx); err != nil {
			// The broker may come up later; alerts are still delivered to
			// stream consumers meanwhile.
			logger.Warn("mqtt broker unavailable at startup", "error", err)
		}
		defer publisher.Disconnect()
	}

	relay := alerts.NewRelay(images, publisher, settings.MQTT.Topic, settings.Main.Name)
	defer relay.Wait()

	// Replayed detections and violations alert just like live ones.
	replayManager.SetObserver(relay.Process)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.New(e, ds, settings, liveHub, replayManager, images, relay, metrics)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + settings.WebServer.Port
		logger.Info("http server listening", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	telemetry.Flush(2 * time.Second)
	return nil
}

// startIdleEviction periodically evicts replay sessions that have seen no
// activity for idleTimeout. Returns a stop function.
func startIdleEviction(manager *replay.Manager, idleTimeout time.Duration) func() {
	if idleTimeout <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				manager.EvictIdle(idleTimeout)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
