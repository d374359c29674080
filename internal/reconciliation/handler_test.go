package reconciliation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
)

type stubReconciliationService struct {
	lastOpts   reconciliation.SyncOptions
	lastFilter reconciliation.OrderFilter
	run        *reconciliation.SyncRun
	err        error
}

func (s *stubReconciliationService) SyncOrders(ctx context.Context, opts reconciliation.SyncOptions) (*reconciliation.SyncRun, error) {
	s.lastOpts = opts
	return s.run, s.err
}

func (s *stubReconciliationService) ListOrders(ctx context.Context, filter reconciliation.OrderFilter) ([]*reconciliation.ExternalOrder, error) {
	s.lastFilter = filter
	return []*reconciliation.ExternalOrder{{ID: "o-1", SyncStatus: reconciliation.SyncStatusMatched}}, nil
}

func (s *stubReconciliationService) LatestSyncRun(ctx context.Context) (*reconciliation.SyncRun, error) {
	if s.run == nil {
		return nil, reconciliation.ErrSyncRunNotFound
	}
	return s.run, nil
}

var _ = Describe("Reconciliation Handler", func() {
	var (
		stub    *stubReconciliationService
		handler *reconciliation.Handler
		admin   *auth.User
	)

	BeforeEach(func() {
		stub = &stubReconciliationService{run: &reconciliation.SyncRun{ID: "run-1", Status: reconciliation.RunStatusCompleted}}
		handler = reconciliation.NewHandler(stub)
		admin = &auth.User{ID: "adm-1", Roles: []string{auth.RoleAdmin}}
	})

	withUser := func(r *http.Request) *http.Request {
		return r.WithContext(auth.ContextWithUser(r.Context(), admin))
	}

	It("should pass force and since through to the service", func() {
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/orders/sync?force=true&since=2024-02-01", nil))
		rec := httptest.NewRecorder()

		handler.SyncOrders(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(stub.lastOpts.Force).To(BeTrue())
		Expect(*stub.lastOpts.Since).To(Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["id"]).To(Equal("run-1"))
	})

	It("should reject a malformed since date", func() {
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/orders/sync?since=yesterday", nil))
		rec := httptest.NewRecorder()
		handler.SyncOrders(rec, req)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should require an authenticated caller", func() {
		rec := httptest.NewRecorder()
		handler.SyncOrders(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/sync", nil))
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("should validate the status filter", func() {
		rec := httptest.NewRecorder()
		handler.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=lost", nil))
		Expect(rec.Code).To(Equal(http.StatusBadRequest))

		rec = httptest.NewRecorder()
		handler.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=matched&limit=10", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(stub.lastFilter.Status).To(Equal(reconciliation.SyncStatusMatched))
		Expect(stub.lastFilter.Limit).To(Equal(10))
	})

	It("should return 404 before the first sync", func() {
		stub.run = nil
		rec := httptest.NewRecorder()
		handler.LatestSyncRun(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/sync-runs/latest", nil))
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
