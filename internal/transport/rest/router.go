package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/journey"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
	"github.com/frahmantamala/purchase-approval/internal/transport/middleware"
	"github.com/frahmantamala/purchase-approval/internal/transport/swagger"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

const OpenAPIPath = "./api/openapi.yml"

// Handlers groups the HTTP handlers mounted under /api/v1. A nil handler
// leaves its routes unregistered.
type Handlers struct {
	Health         *HealthHandler
	Auth           *auth.Handler
	RBAC           *auth.RBACAuthorization
	Purchase       *purchase.Handler
	Receipt        *receipt.Handler
	Verification   *verification.Handler
	Reconciliation *reconciliation.Handler
	Journey        *journey.Handler
}

type RouterConfig struct {
	AllowedOrigins string
	OpenAPIPath    string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, config RouterConfig, logger *slog.Logger) {
	rbac := h.RBAC
	if rbac == nil {
		rbac = auth.NewRBACAuthorization(logger)
	}
	specPath := config.OpenAPIPath
	if specPath == "" {
		specPath = OpenAPIPath
	}

	router.Use(middleware.CORS(config.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, specPath)
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		if h.Auth == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			pr.Route("/requests", func(rr chi.Router) {
				if h.Purchase != nil {
					rr.Post("/", h.Purchase.CreateRequest)
					rr.Get("/", h.Purchase.ListRequests)
					rr.Get("/{id}", h.Purchase.GetRequest)
					rr.Post("/{id}/submit", h.Purchase.SubmitRequest)
					rr.Get("/{id}/signatures", h.Purchase.GetSignatures)

					rr.Group(func(ar chi.Router) {
						ar.Use(rbac.RequireApprover())
						ar.Patch("/{id}/approve", h.Purchase.ApproveRequest)
						ar.Patch("/{id}/reject", h.Purchase.RejectRequest)
					})
				}
				if h.Receipt != nil {
					rr.Post("/{id}/receipts", h.Receipt.Upload)
					rr.Get("/{id}/receipts", h.Receipt.List)
				}
				if h.Journey != nil {
					rr.Get("/{id}/journey", h.Journey.GetJourney)
				}
			})

			pr.Route("/receipts", func(rr chi.Router) {
				if h.Receipt != nil {
					rr.With(rbac.RequireApprover()).Patch("/{id}/status", h.Receipt.SetStatus)
				}
				if h.Verification != nil {
					rr.Post("/{id}/verify", h.Verification.VerifyReceipt)
					rr.Get("/{id}/analysis", h.Verification.GetAnalysis)
				}
			})

			if h.Reconciliation != nil {
				pr.Route("/orders", func(or chi.Router) {
					or.Use(rbac.RequireApprover())
					or.Get("/", h.Reconciliation.ListOrders)
					or.Post("/sync", h.Reconciliation.SyncOrders)
					or.Get("/sync-runs/latest", h.Reconciliation.LatestSyncRun)
				})
			}
		})
	})
}
