package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/journey"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
	"github.com/frahmantamala/purchase-approval/internal/transport/rest"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP API together with the receipt fetch workers`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	lg := deps.Logger

	router := chi.NewRouter()
	setupRoutes(router, deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	lg.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("server shutdown error", "error", err)
		}
		if !deps.Verification.Drain(ctx) {
			lg.Warn("background receipt verifications still running at shutdown")
		}
		deps.Close()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	lg.Info("server stopped")
}

func setupRoutes(router *chi.Mux, deps *Dependencies) {
	health := rest.NewHealthHandler(deps.DB, map[string]rest.Checker{
		"object_storage": rest.CheckerFunc(deps.Store.Ping),
	})
	verifier := auth.NewTokenVerifier(deps.Config.Security.JWTSecret, deps.Config.Security.Issuer)

	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:         health,
		Auth:           auth.NewHandler(verifier),
		RBAC:           auth.NewRBACAuthorization(deps.Logger),
		Purchase:       purchase.NewHandler(deps.Purchases),
		Receipt:        receipt.NewHandler(deps.Receipts),
		Verification:   verification.NewHandler(deps.Verification),
		Reconciliation: reconciliation.NewHandler(deps.Reconciliation),
		Journey:        journey.NewHandler(deps.Journey),
	}, rest.RouterConfig{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
	}, deps.Logger)
}
