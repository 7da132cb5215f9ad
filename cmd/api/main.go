package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"neon.nuty.works/internal/audit"
	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/config"
	"neon.nuty.works/internal/httpapi"
	"neon.nuty.works/internal/oauthlink"
	"neon.nuty.works/internal/obs"
	"neon.nuty.works/internal/store/memory"
	"neon.nuty.works/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = ""
)

// backend is what the API needs from either store.
type backend interface {
	auth.Store
	oauthlink.Store
	audit.Sink
	httpapi.Pinger
}

type pgBackend struct {
	*auth.PGStore
	*pg.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var store backend
	if cfg.DatabaseURL != "" {
		pgs, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgs.Close()
		store = pgBackend{PGStore: pgs.Auth(), Store: pgs}
	} else {
		obs.Info("DATABASE_URL not set, using in-memory store", nil)
		store = memory.New()
	}

	svc, err := auth.NewService(store, auth.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	var flow *oauthlink.Flow
	if cfg.OAuth.Enabled() {
		provider, err := oauthlink.NewOAuth2Provider(oauthlink.ProviderConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			AuthURL:      cfg.OAuth.AuthURL,
			TokenURL:     cfg.OAuth.TokenURL,
			UserInfoURL:  cfg.OAuth.UserInfoURL,
			RedirectURL:  cfg.RedirectURL(),
			Scopes:       cfg.OAuth.Scopes,
			HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		})
		if err != nil {
			log.Fatalf("oauth provider: %v", err)
		}
		flow, err = oauthlink.NewFlow(store, provider, oauthlink.WithAttemptTTL(cfg.OAuth.AttemptTTL))
		if err != nil {
			log.Fatalf("oauth flow: %v", err)
		}
	} else {
		obs.Info("OAUTH_CLIENT_ID not set, account linking disabled", nil)
	}

	ready := httpapi.ReadyProbe{Store: store}
	api, err := httpapi.New(httpapi.Config{
		Version: version,
		Ready:   ready,
		Auth:    svc,
		Link:    flow,
		Audit:   audit.NewRecorder(store),
		Cookie: httpapi.CookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
		LinkLandingPath: cfg.OAuth.LandingPath,
		LoginRatePerSec: cfg.LoginRateLimit,
		LoginRateBurst:  cfg.LoginRateBurst,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		TrustedProxies:  cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// gRPC health mirrors /readyz
	grpcSrv := grpc.NewServer()
	health := httpapi.NewHealthServer(ready)
	health.Register(grpcSrv)
	go health.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	obs.Info("starting", map[string]any{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	obs.Info("stopped", nil)
}
