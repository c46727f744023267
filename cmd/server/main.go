package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kyc-service/internal/config"
	"kyc-service/internal/factory"
	"kyc-service/internal/handler"
	"kyc-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}

	cfg := f.Config()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := handler.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, util.Named("ratelimit"))
	go limiter.Cleanup(ctx)

	router := setupRouter(f, limiter)
	f.StartReconciler()

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	// WriteTimeout stays zero for the event stream; handlers set deadlines.
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().GetTLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			startProductionServerWithAutoCert(f, server, cfg)
			return
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	startServer(f, server, cfg)
}

// setupRouter builds the handlers from the service factory.
func setupRouter(f *factory.Factory, limiter *handler.IPRateLimiter) http.Handler {
	cfg := f.Config()
	services := f.ServiceFactory()

	kycHandler := handler.NewKYCHandler(services.KYCService(), f.ChangeSubscriber(), cfg.Server.MaxBodyBytes, util.Named("kyc-http"))
	if audit := f.AuditLog(); audit != nil {
		kycHandler.WithAudit(audit)
	}
	userHandler := handler.NewUserHandler(services.UserService(), util.Named("user-http"))

	var presenceHandler *handler.PresenceHandler
	if f.PresenceAvailable() {
		presenceHandler = handler.NewPresenceHandler(services.PresenceService(), util.Named("presence-http"))
	}

	if cfg.Security.ServiceKey == "" {
		util.Warn("SERVICE_ROLE_KEY is empty, service-role routes will reject every request")
	}
	tokens := handler.NewUserTokens(cfg.Security.UserTokenSecret, cfg.Security.UserTokenTTL)
	if tokens == nil {
		util.Warn("USER_TOKEN_SECRET is empty, per-user routes accept the service key only")
	}

	return handler.NewRouter(handler.RouterConfig{
		RequireTLS:     cfg.Server.EnableTLS && cfg.IsProduction(),
		ServiceKey:     cfg.Security.ServiceKey,
		Tokens:         tokens,
		RequestTimeout: cfg.Server.WriteTimeout,
		Limiter:        limiter,
		Health:         f.HealthChecks(),
	}, kycHandler, userHandler, presenceHandler, util.Get())
}

func startProductionServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config) {
	autoCertManager := f.TLSManager().GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// ACME challenges and redirects only
	httpServer := &http.Server{
		Addr:              ":80",
		Handler:           autoCertManager.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.Addr = ":443"

	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("HTTP redirect server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443", util.String("domain", cfg.Server.Domain))
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, server, httpServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// certificates come from TLSConfig.GetCertificate
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		}
	}
	f.Close()
}
