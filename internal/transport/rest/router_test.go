package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/journey"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
	"github.com/frahmantamala/purchase-approval/internal/transport/rest"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

func TestRest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rest Suite")
}

const (
	specFile   = "../../../api/openapi.yml"
	testSecret = "router-test-secret-with-32-characters!!"
)

type stubReconciliation struct{}

func (stubReconciliation) SyncOrders(ctx context.Context, opts reconciliation.SyncOptions) (*reconciliation.SyncRun, error) {
	return nil, errors.New("not used")
}

func (stubReconciliation) ListOrders(ctx context.Context, filter reconciliation.OrderFilter) ([]*reconciliation.ExternalOrder, error) {
	return nil, nil
}

func (stubReconciliation) LatestSyncRun(ctx context.Context) (*reconciliation.SyncRun, error) {
	finished := time.Date(2024, 3, 12, 9, 5, 0, 0, time.UTC)
	return &reconciliation.SyncRun{
		ID:         "run-1",
		Trigger:    string(reconciliation.TriggerManual),
		Since:      time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC),
		Status:     reconciliation.RunStatusCompleted,
		Processed:  3,
		Matched:    1,
		StartedAt:  time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
	}, nil
}

func token(roles ...string) string {
	claims := &auth.Claims{
		UserID: "u-1",
		Name:   "Sam",
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	Expect(err).NotTo(HaveOccurred())
	return s
}

var _ = Describe("Router", func() {
	var (
		doc    *openapi3.T
		router *chi.Mux
		dbErr  error
	)

	BeforeEach(func() {
		loader := openapi3.NewLoader()
		var err error
		doc, err = loader.LoadFromFile(specFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Validate(loader.Context)).To(Succeed())

		dbErr = nil
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		db := rest.CheckerFunc(func(ctx context.Context) error { return dbErr })

		router = chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Handlers{
			Health:         rest.NewHealthHandler(db, nil),
			Auth:           auth.NewHandler(auth.NewTokenVerifier(testSecret, "")),
			RBAC:           auth.NewRBACAuthorization(logger),
			Purchase:       purchase.NewHandler(nil),
			Receipt:        receipt.NewHandler(nil),
			Verification:   verification.NewHandler(nil),
			Reconciliation: reconciliation.NewHandler(stubReconciliation{}),
			Journey:        journey.NewHandler(nil),
		}, rest.RouterConfig{OpenAPIPath: specFile}, logger)
	})

	serve := func(method, target, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	It("documents every mounted API route", func() {
		var missing []string
		err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if !strings.HasPrefix(route, "/api/v1") {
				return nil
			}
			p := strings.TrimSuffix(strings.TrimPrefix(route, "/api/v1"), "/")
			item := doc.Paths.Value(p)
			if item == nil || item.GetOperation(method) == nil {
				missing = append(missing, method+" "+p)
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeEmpty())
	})

	It("serves the OpenAPI document", func() {
		rec := serve(http.MethodGet, "/openapi.yml", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Purchase Approval API"))
	})

	Describe("health", func() {
		It("answers ping without a token", func() {
			rec := serve(http.MethodGet, "/api/v1/ping", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("reports an unhealthy database with 503", func() {
			dbErr = errors.New("connection refused")

			rec := serve(http.MethodGet, "/api/v1/health", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

			var body rest.HealthResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Status).To(Equal(rest.HealthUnhealthy))
			Expect(body.Components["postgres"].Message).To(Equal("connection refused"))
		})

		It("returns a healthy body matching the documented schema", func() {
			rec := serve(http.MethodGet, "/api/v1/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(doc.Components.Schemas["Health"].Value.VisitJSON(body)).To(Succeed())
		})
	})

	Describe("authentication and roles", func() {
		It("requires a bearer token on API routes", func() {
			rec := serve(http.MethodGet, "/api/v1/requests", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("keeps reconciliation to approvers", func() {
			rec := serve(http.MethodGet, "/api/v1/orders/sync-runs/latest", token(auth.RoleEmployee))
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("lets approvers read the latest sync run in the documented shape", func() {
			rec := serve(http.MethodGet, "/api/v1/orders/sync-runs/latest", token(auth.RoleApprover))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(doc.Components.Schemas["SyncRun"].Value.VisitJSON(body)).To(Succeed())
		})

		It("keeps request decisions to approvers", func() {
			rec := serve(http.MethodPatch, "/api/v1/requests/1/approve", token(auth.RoleEmployee))
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})
})
