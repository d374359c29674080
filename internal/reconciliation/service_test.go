package reconciliation_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	vendororderDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/vendororder"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
	"github.com/frahmantamala/purchase-approval/internal/vendorapi"
)

type mockOrderRepository struct {
	orders     map[string]*vendororderDatamodel.ExternalOrder
	runs       map[string]*vendororderDatamodel.SyncRun
	saveError  error
	saves      int
	staleReads bool
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{
		orders: make(map[string]*vendororderDatamodel.ExternalOrder),
		runs:   make(map[string]*vendororderDatamodel.SyncRun),
	}
}

func (m *mockOrderRepository) GetOrder(ctx context.Context, id string) (*vendororderDatamodel.ExternalOrder, error) {
	o, ok := m.orders[id]
	if !ok || m.staleReads {
		return nil, reconciliation.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepository) SaveOrder(ctx context.Context, o *vendororderDatamodel.ExternalOrder) (bool, error) {
	if m.saveError != nil {
		return false, m.saveError
	}
	if cur, ok := m.orders[o.ID]; ok && cur.SyncStatus == "matched" && o.SyncStatus != "matched" {
		return false, nil
	}
	m.saves++
	cp := *o
	m.orders[o.ID] = &cp
	return true, nil
}

func (m *mockOrderRepository) ReplaceOrder(ctx context.Context, o *vendororderDatamodel.ExternalOrder) error {
	if m.saveError != nil {
		return m.saveError
	}
	m.saves++
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepository) ListOrders(ctx context.Context, filter reconciliation.OrderFilter) ([]*vendororderDatamodel.ExternalOrder, error) {
	var rows []*vendororderDatamodel.ExternalOrder
	for _, o := range m.orders {
		if filter.Status == "" || o.SyncStatus == string(filter.Status) {
			rows = append(rows, o)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *mockOrderRepository) CreateSyncRun(ctx context.Context, r *vendororderDatamodel.SyncRun) error {
	m.runs[r.ID] = r
	return nil
}

func (m *mockOrderRepository) UpdateSyncRun(ctx context.Context, r *vendororderDatamodel.SyncRun) error {
	m.runs[r.ID] = r
	return nil
}

func (m *mockOrderRepository) LatestSyncRun(ctx context.Context) (*vendororderDatamodel.SyncRun, error) {
	var latest *vendororderDatamodel.SyncRun
	for _, r := range m.runs {
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, reconciliation.ErrSyncRunNotFound
	}
	return latest, nil
}

type fakeOrderSource struct {
	configured bool
	orders     []vendorapi.Order
	err        error
	calls      int
}

func (f *fakeOrderSource) Configured() bool { return f.configured }

func (f *fakeOrderSource) ListOrders(ctx context.Context, since time.Time) ([]vendorapi.Order, error) {
	f.calls++
	return f.orders, f.err
}

type fakePurchases struct {
	requests   map[int64]*purchase.PurchaseRequest
	order      []int64
	linkErrors map[int64]error
	statuses   map[int64]purchase.ExternalReceiptStatus
	snapshot   []*purchase.PurchaseRequest
}

func newFakePurchases(reqs ...*purchase.PurchaseRequest) *fakePurchases {
	f := &fakePurchases{
		requests:   make(map[int64]*purchase.PurchaseRequest),
		linkErrors: make(map[int64]error),
		statuses:   make(map[int64]purchase.ExternalReceiptStatus),
	}
	for _, r := range reqs {
		f.requests[r.ID] = r
		f.order = append(f.order, r.ID)
	}
	return f
}

func (f *fakePurchases) ListEligibleForMatching(ctx context.Context, family string) ([]*purchase.PurchaseRequest, error) {
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	var out []*purchase.PurchaseRequest
	for _, id := range f.order {
		if r := f.requests[id]; r.EligibleForOrderMatch(family) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePurchases) FindByID(ctx context.Context, id int64) (*purchase.PurchaseRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, purchase.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakePurchases) LinkExternalOrder(ctx context.Context, id int64, orderID string) error {
	if err := f.linkErrors[id]; err != nil {
		return err
	}
	r := f.requests[id]
	if r.ExternalOrderID != nil {
		return purchase.ErrAlreadyLinked
	}
	r.ExternalOrderID = &orderID
	r.ExternalReceiptStatus = purchase.ExternalReceiptPending
	return nil
}

func (f *fakePurchases) SetExternalReceiptStatus(ctx context.Context, id int64, status purchase.ExternalReceiptStatus) error {
	f.statuses[id] = status
	return nil
}

type fakeFetcher struct {
	jobs []string
	err  error
}

func (f *fakeFetcher) TriggerReceiptFetch(orderID string, requestID int64) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, orderID)
	return nil
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

func vendorOrder(id string, micro int64, created time.Time) vendorapi.Order {
	return vendorapi.Order{
		ID:        id,
		CreatedAt: created,
		Currency:  "USD",
		Pricing:   vendorapi.Pricing{Total: decimal.NewFromInt(micro)},
		Raw:       []byte(`{"orderId":"` + id + `"}`),
	}
}

var _ = Describe("Reconciliation Service", func() {
	var (
		repo      *mockOrderRepository
		source    *fakeOrderSource
		purchases *fakePurchases
		fetcher   *fakeFetcher
		publisher *recordingPublisher
		service   *reconciliation.Service
		ctx       context.Context
		day       time.Time
	)

	build := func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = reconciliation.NewService(repo, source, purchases, fetcher, publisher, reconciliation.Config{
			VendorFamily: "GoDaddy",
		}, logger)
	}

	BeforeEach(func() {
		ctx = context.Background()
		day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		repo = newMockOrderRepository()
		source = &fakeOrderSource{configured: true}
		fetcher = &fakeFetcher{}
		publisher = &recordingPublisher{}
		purchases = newFakePurchases(
			&purchase.PurchaseRequest{ID: 1, VendorName: "GoDaddy", TotalAmount: decimal.RequireFromString("75.00"), ExpenseDate: day, Status: purchase.StatusApproved},
			&purchase.PurchaseRequest{ID: 2, VendorName: "Staples", TotalAmount: decimal.RequireFromString("75.00"), ExpenseDate: day, Status: purchase.StatusApproved},
			&purchase.PurchaseRequest{ID: 3, VendorName: "Go Daddy", TotalAmount: decimal.RequireFromString("68.50"), ExpenseDate: day.AddDate(0, 0, -10), Status: purchase.StatusApproved},
		)
		build()
	})

	It("should auto-link a strong match and queue the receipt fetch", func() {
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day.Add(9*time.Hour))}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(reconciliation.RunStatusCompleted))
		Expect(run.Processed).To(Equal(1))
		Expect(run.Matched).To(Equal(1))
		Expect(run.FinishedAt).NotTo(BeNil())

		saved := repo.orders["o-1"]
		Expect(saved.SyncStatus).To(Equal("matched"))
		Expect(*saved.MatchRequestID).To(Equal(int64(1)))
		Expect(saved.MatchConfidence).To(Equal(100))
		Expect(saved.TotalAmount.Equal(decimal.NewFromInt(75))).To(BeTrue())
		Expect(saved.RawPayload).To(ContainSubstring("o-1"))

		Expect(*purchases.requests[1].ExternalOrderID).To(Equal("o-1"))
		Expect(fetcher.jobs).To(Equal([]string{"o-1"}))
		Expect(publisher.events).To(HaveLen(1))
		Expect(publisher.events[0].EventType()).To(Equal(events.EventTypeOrderMatched))
	})

	It("should record weak matches as pending without linking", func() {
		purchases = newFakePurchases(purchases.requests[3])
		build()
		source.orders = []vendorapi.Order{vendorOrder("o-2", 75000000, day)}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Pending).To(Equal(1))

		saved := repo.orders["o-2"]
		Expect(saved.SyncStatus).To(Equal("pending"))
		Expect(saved.MatchConfidence).To(Equal(60))
		Expect(purchases.requests[3].ExternalOrderID).To(BeNil())
		Expect(fetcher.jobs).To(BeEmpty())
	})

	It("should record orders without a candidate as unmatched", func() {
		source.orders = []vendorapi.Order{vendorOrder("o-3", 999000000, day.AddDate(0, 1, 0))}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Unmatched).To(Equal(1))
		Expect(repo.orders["o-3"].SyncStatus).To(Equal("unmatched"))
		Expect(repo.orders["o-3"].MatchRequestID).To(BeNil())
	})

	It("should never link one request to two orders in a pass", func() {
		source.orders = []vendorapi.Order{
			vendorOrder("o-1", 75000000, day),
			vendorOrder("o-1b", 75000000, day),
		}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Matched).To(Equal(1))
		Expect(repo.orders["o-1"].SyncStatus).To(Equal("matched"))
		// request 1 is gone; request 3 is the only family candidate left
		Expect(repo.orders["o-1b"].SyncStatus).To(Equal("pending"))
		Expect(*repo.orders["o-1b"].MatchRequestID).To(Equal(int64(3)))
	})

	It("should leave a matched order untouched on a normal re-sync", func() {
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day)}
		_, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		before := *repo.orders["o-1"]
		saves := repo.saves

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Skipped).To(Equal(1))
		Expect(run.Processed).To(Equal(0))
		Expect(repo.saves).To(Equal(saves))
		Expect(*repo.orders["o-1"]).To(Equal(before))
	})

	It("should rescore a matched order on a forced re-sync and keep the link", func() {
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day)}
		_, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{Force: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Matched).To(Equal(1))
		Expect(run.Force).To(BeTrue())
		Expect(*repo.orders["o-1"].MatchRequestID).To(Equal(int64(1)))
		Expect(repo.orders["o-1"].SyncStatus).To(Equal("matched"))
		Expect(fetcher.jobs).To(HaveLen(1))
	})

	It("should flag a forced re-sync that prefers another request", func() {
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day)}
		_, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		// the linked request has since been edited away from the order
		purchases.requests[1].TotalAmount = decimal.RequireFromString("300.00")
		purchases.requests[1].ExpenseDate = day.AddDate(0, 0, -20)
		purchases.requests[3].TotalAmount = decimal.RequireFromString("75.00")
		purchases.requests[3].ExpenseDate = day

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{Force: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Pending).To(Equal(1))

		saved := repo.orders["o-1"]
		Expect(saved.SyncStatus).To(Equal("pending"))
		Expect(*saved.MatchRequestID).To(Equal(int64(1)))
		Expect(saved.MatchReasons[len(saved.MatchReasons)-1]).To(ContainSubstring("link kept"))
		Expect(purchases.requests[3].ExternalOrderID).To(BeNil())
	})

	It("should downgrade to pending when another writer linked the request first", func() {
		purchases.linkErrors[1] = purchase.ErrAlreadyLinked
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day)}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Pending).To(Equal(1))
		Expect(repo.orders["o-1"].SyncStatus).To(Equal("pending"))
		Expect(fetcher.jobs).To(BeEmpty())
	})

	It("should keep an order matched by a concurrent pass that read it first", func() {
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day)}
		// the second pass loads its candidates and the order before the first one writes
		stale, err := purchases.ListEligibleForMatching(ctx, "GoDaddy")
		Expect(err).NotTo(HaveOccurred())

		first, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Matched).To(Equal(1))

		purchases.snapshot = stale
		repo.staleReads = true
		second, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Skipped).To(Equal(1))
		Expect(second.Pending).To(Equal(0))

		saved := repo.orders["o-1"]
		Expect(saved.SyncStatus).To(Equal("matched"))
		Expect(*saved.MatchRequestID).To(Equal(int64(1)))
		Expect(saved.MatchReasons).NotTo(ContainElement(ContainSubstring("needs review")))
		Expect(*purchases.requests[1].ExternalOrderID).To(Equal("o-1"))
		Expect(fetcher.jobs).To(Equal([]string{"o-1"}))
	})

	It("should isolate per-order failures", func() {
		purchases.linkErrors[1] = errors.New("db down")
		source.orders = []vendorapi.Order{
			vendorOrder("o-1", 75000000, day),
			vendorOrder("o-3", 999000000, day.AddDate(0, 1, 0)),
		}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(reconciliation.RunStatusCompleted))
		Expect(run.Failed).To(Equal(1))
		Expect(run.Unmatched).To(Equal(1))
		Expect(*repo.orders["o-1"].FailureReason).To(ContainSubstring("db down"))
	})

	It("should record an undecodable order as failed and keep going", func() {
		source.orders = []vendorapi.Order{
			{ID: "o-bad", Raw: []byte(`{"orderId":"o-bad"}`), DecodeErr: errors.New("failed to decode vendor order: bad date")},
			{DecodeErr: errors.New("failed to decode vendor order: not an object")},
			vendorOrder("o-1", 75000000, day),
		}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(reconciliation.RunStatusCompleted))
		Expect(run.Failed).To(Equal(2))
		Expect(run.Matched).To(Equal(1))

		bad := repo.orders["o-bad"]
		Expect(bad.SyncStatus).To(Equal("failed"))
		Expect(*bad.FailureReason).To(ContainSubstring("bad date"))
		Expect(bad.MatchRequestID).To(BeNil())
		Expect(repo.orders["o-1"].SyncStatus).To(Equal("matched"))
	})

	It("should count orders that cannot be saved as failed", func() {
		repo.saveError = errors.New("disk full")
		source.orders = []vendorapi.Order{vendorOrder("o-3", 999000000, day)}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Failed).To(Equal(1))
	})

	It("should mark the receipt fetch failed when the queue refuses it", func() {
		fetcher.err = errors.New("queue full")
		source.orders = []vendorapi.Order{vendorOrder("o-1", 75000000, day)}

		_, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(purchases.statuses[1]).To(Equal(purchase.ExternalReceiptFailed))
	})

	It("should report an unconfigured vendor without calling it", func() {
		source.configured = false

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(reconciliation.RunStatusNotConfigured))
		Expect(source.calls).To(Equal(0))
	})

	It("should record upstream failures on the run", func() {
		source.err = &vendorapi.APIError{StatusCode: 500, Body: "boom"}

		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(reconciliation.RunStatusFailed))
		Expect(*run.ErrorDetail).To(ContainSubstring("boom"))

		latest, err := service.LatestSyncRun(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.ID).To(Equal(run.ID))
	})

	It("should honor an explicit since date", func() {
		since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		run, err := service.SyncOrders(ctx, reconciliation.SyncOptions{Since: &since, Trigger: reconciliation.TriggerCLI})
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Since).To(Equal(since))
		Expect(run.Trigger).To(Equal("cli"))
	})

	It("should report when no sync has run", func() {
		_, err := service.LatestSyncRun(ctx)
		Expect(err).To(Equal(reconciliation.ErrSyncRunNotFound))
	})
})
