package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/auth"
	"github.com/AlexKimmel/RoleGate/internal/config"
	"github.com/AlexKimmel/RoleGate/internal/gateway"
	"github.com/AlexKimmel/RoleGate/internal/obs"
	"github.com/AlexKimmel/RoleGate/internal/ratelimit/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a rate limited sample resource over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type resourceBody struct {
	OK       bool   `json:"ok"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

func newHandler(cfg *config.Root, lim *memory.Limiter, logger zerolog.Logger, metrics *obs.Metrics, reg prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(Version))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/v1/resource", func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFrom(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resourceBody{OK: true, Identity: p.ID, Role: p.Role})
	})

	principals := map[string]auth.Principal{} // secret -> principal
	for _, k := range cfg.Auth.Keys {
		principals[k.Secret] = auth.Principal{ID: k.ID, Role: k.Role}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, principals)

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
	}
	skip[cfg.Observability.PrometheusPath] = struct{}{}

	return gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		authStore.Middleware(skip),
		gateway.RateLimit(lim, skip),
	)
}

func serve(cfg *config.Root) error {
	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	lim, err := memory.New(cfg.BucketConfigs(),
		memory.WithLogger(logger),
		memory.WithObserver(metrics),
	)
	if err != nil {
		return fmt.Errorf("build limiter: %w", err)
	}
	defer lim.Close()
	lim.StartJanitor(cfg.Janitor.Interval(), cfg.Janitor.MaxIdle())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(cfg, lim, logger, metrics, reg),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Int("roles", len(cfg.Roles)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("bye")
	return nil
}
