package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/config"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/hubspot"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/metrics"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/service"
)

// Usage example on the command line:
// > PORT=8080 HUBSPOT_PRIVATE_APP_TOKEN=pat-na1-... GIN_MODE=release GIN_LOGGING=OFF go run main.go
func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("invalid log level")
	}
	log.Logger = log.Level(level)

	if !cfg.Configured() {
		log.Warn().Msg("HUBSPOT_PRIVATE_APP_TOKEN is not set, all contact operations will fail")
	}

	client := hubspot.New(hubspot.Config{
		BaseURL: cfg.HubSpotBaseURL,
		Token:   cfg.HubSpotToken,
		Timeout: cfg.HubSpotTimeout,
		Metrics: metrics.NewCRMMetrics(prometheus.DefaultRegisterer),
	})
	proxy := service.NewContactProxy(cfg, client)
	router := service.SetupHttpRouter(cfg, proxy, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("hubspot", cfg.HubSpotBaseURL).
			Msg("starting contacts proxy")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	waitForShutdown(server, cfg.ShutdownTimeout)
}

// waitForShutdown blocks until SIGINT or SIGTERM, then gives in-flight requests the timeout to
// finish.
func waitForShutdown(server *http.Server, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down contacts proxy")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed, forcing close")
		server.Close()
	}
	log.Info().Msg("contacts proxy stopped")
}
