package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/config"
	"accessmatrix.org/internal/entityschema"
	"accessmatrix.org/internal/httpapi"
	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/store/memory"
	"accessmatrix.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Error("accessmatrix-api exited", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	registry := entityschema.Default()
	if cfg.SchemaPath != "" {
		registry, err = entityschema.Load(cfg.SchemaPath)
		if err != nil {
			return err
		}
	}

	var (
		store auth.GrantStore
		probe = httpapi.ReadyProbe{}
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe.DB = pgStore.DB()
	} else {
		obs.Warn("no database configured, grants are kept in memory", nil)
		store = memory.New()
	}

	grants, err := auth.NewGrantService(store, registry)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	api, err := httpapi.New(httpapi.Options{
		Version:        version,
		Grants:         grants,
		Tokens:         tokens,
		Ready:          probe,
		AllowDevTokens: cfg.AllowDevTokens,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Watch(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	obs.Info("accessmatrix-api started", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"entities":  len(registry.Codes()),
	})

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	obs.Info("shutting down", nil)

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	grpcSrv.GracefulStop()
	obs.Info("stopped", nil)
	return err
}
