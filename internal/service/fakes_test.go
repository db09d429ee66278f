package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zeroxmods/certmint/internal/ledger"
	"github.com/zeroxmods/certmint/internal/lock"
	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/payment"
	"github.com/zeroxmods/certmint/internal/pinning"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/internal/testutil"
	"github.com/zeroxmods/certmint/pkg/errs"
)

const (
	authTokenID  = "0.0.7001"
	ownTokenID   = "0.0.7002"
	webhookKey   = "sk_test_hook"
	unavailable  = errs.ServiceUnavailable
	invalidInput = errs.InvalidInput
)

type fakeLedger struct {
	mu        sync.Mutex
	serials   map[string]int64
	calls     map[string]int
	failures  map[string][]error
	always    map[string]error
	frozen    map[string]bool
	unfrozen  []string
	created   []ledger.TokenSpec
	nextToken int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		serials:  map[string]int64{},
		calls:    map[string]int{},
		failures: map[string][]error{},
		always:   map[string]error{},
		frozen:   map[string]bool{},
	}
}

func (f *fakeLedger) failNext(tokenID string, errList ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[tokenID] = append(f.failures[tokenID], errList...)
}

func (f *fakeLedger) failAlways(tokenID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.always, tokenID)
		return
	}
	f.always[tokenID] = err
}

func (f *fakeLedger) mintCalls(tokenID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tokenID]
}

func (f *fakeLedger) CreateToken(_ context.Context, spec ledger.TokenSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextToken++
	f.created = append(f.created, spec)
	return fmt.Sprintf("0.0.%d", 9000+f.nextToken), nil
}

func (f *fakeLedger) Mint(_ context.Context, req ledger.MintRequest) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.TokenID]++
	if err := f.always[req.TokenID]; err != nil {
		return nil, err
	}
	if q := f.failures[req.TokenID]; len(q) > 0 {
		f.failures[req.TokenID] = q[1:]
		return nil, q[0]
	}
	f.serials[req.TokenID]++
	serial := f.serials[req.TokenID]
	key := fmt.Sprintf("%s/%d", req.TokenID, serial)
	f.frozen[key] = req.Frozen
	return &ledger.Receipt{
		Status:        "SUCCESS",
		TokenID:       req.TokenID,
		TransactionID: fmt.Sprintf("0.0.1234@1700000000.%09d", f.calls[req.TokenID]),
		SerialNumbers: []int64{serial},
	}, nil
}

func (f *fakeLedger) Freeze(_ context.Context, tokenID, accountID string) (*ledger.Receipt, error) {
	return &ledger.Receipt{Status: "SUCCESS", TokenID: tokenID, TransactionID: "freeze-" + accountID}, nil
}

func (f *fakeLedger) Unfreeze(_ context.Context, tokenID, accountID string) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unfrozen = append(f.unfrozen, tokenID+":"+accountID)
	return &ledger.Receipt{Status: "SUCCESS", TokenID: tokenID, TransactionID: "unfreeze-" + accountID}, nil
}

func (f *fakeLedger) GetReceipt(_ context.Context, transactionID string) (*ledger.Receipt, error) {
	return &ledger.Receipt{Status: "SUCCESS", TransactionID: transactionID}, nil
}

type fakePinner struct {
	mu       sync.Mutex
	calls    map[string]int
	failures []error
	docs     map[string]any
}

func newFakePinner() *fakePinner {
	return &fakePinner{calls: map[string]int{}, docs: map[string]any{}}
}

func (f *fakePinner) failNext(errList ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errList...)
}

func (f *fakePinner) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakePinner) PinJSON(_ context.Context, name string, doc any) (*pinning.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	f.docs[name] = doc
	cid := fmt.Sprintf("bafy%s%d", name, f.calls[name])
	return &pinning.Pin{CID: cid, URI: pinning.URI(cid), Size: 256}, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	initErr error
	tx      *payment.Transaction
	inits   []payment.InitRequest
}

func (f *fakeGateway) InitializeTransaction(_ context.Context, req payment.InitRequest) (*payment.InitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &payment.InitResult{AuthorizationURL: "https://checkout.paystack.test/" + req.Reference, Reference: req.Reference}, nil
}

func (f *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*payment.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tx == nil {
		return nil, errs.Ef(errs.InvalidInput, "fake.VerifyTransaction", "unknown %s", reference)
	}
	tx := *f.tx
	tx.Reference = reference
	return &tx, nil
}

func (f *fakeGateway) VerifyWebhookSignature(signature string, rawBody []byte) bool {
	return payment.VerifySignature(webhookKey, signature, rawBody)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []MintEvent
}

func (r *eventRecorder) Notify(_ context.Context, evt MintEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *eventRecorder) statuses() []model.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.OrderStatus, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.OrderStatus)
	}
	return out
}

type reporterRecorder struct {
	mu     sync.Mutex
	orders []string
}

func (r *reporterRecorder) ReportMintFailure(_ context.Context, orderID string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, orderID)
}

type harness struct {
	db       *gorm.DB
	store    repository.OrderStore
	catalog  repository.CatalogRepository
	jobs     repository.MintJobRepository
	ledger   *fakeLedger
	pinner   *fakePinner
	gateway  *fakeGateway
	locker   *lock.MemoryLocker
	events   *eventRecorder
	reporter *reporterRecorder
	minter   *MintOrchestrator
	checkout *CheckoutService
	certs    *CertificateService
	worker   *MintWorker
	artwork  *model.Artwork
	buyer    *model.User
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     5 * time.Millisecond,
		MaxAttempts:     4,
		CallTimeout:     time.Second,
	}
}

func newHarness(t *testing.T, stock int) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	h := &harness{
		db:       db,
		store:    repository.NewOrderStore(db),
		catalog:  repository.NewCatalogRepository(db),
		jobs:     repository.NewMintJobRepository(db),
		ledger:   newFakeLedger(),
		pinner:   newFakePinner(),
		gateway:  &fakeGateway{},
		locker:   lock.NewMemoryLocker(),
		events:   &eventRecorder{},
		reporter: &reporterRecorder{},
	}
	h.artwork, h.buyer = testutil.SeedArtwork(t, db, stock)
	h.certs = NewCertificateService(h.store, h.catalog, h.ledger, nil, time.Minute, "https://ipfs.zeroxmods.test")
	h.minter = NewMintOrchestrator(OrchestratorDeps{
		Store:       h.store,
		Catalog:     h.catalog,
		Ledger:      h.ledger,
		Pinner:      h.pinner,
		Locker:      h.locker,
		Collections: Collections{AuthenticityTokenID: authTokenID, OwnershipTokenID: ownTokenID},
		Policy:      fastPolicy(),
		LockTTL:     time.Minute,
		Notifier:    h.events,
		Reporter:    h.reporter,
		Cache:       h.certs,
	})
	h.worker = NewMintWorker(h.jobs, h.store, h.minter, MintWorkerConfig{
		Workers: 1, PollInterval: 10 * time.Millisecond, ClaimLimit: 8,
		Lease: time.Minute, MaxAttempts: 3, RetryDelay: time.Millisecond,
	})
	// jobs are enqueued with next_run_at = now; claim slightly ahead so they are due
	h.worker.now = func() time.Time { return time.Now().Add(time.Second) }
	h.checkout = NewCheckoutService(h.store, h.catalog, h.gateway, h.worker)
	return h
}

// paidOrder creates and pays an order directly through the store.
func (h *harness) paidOrder(t *testing.T) *model.Order {
	t.Helper()
	ctx := context.Background()
	order := testutil.NewOrder(h.artwork, h.buyer)
	require.NoError(t, h.store.CreateOrder(ctx, order))
	_, err := h.store.MarkPaid(ctx, order.ID, time.Now())
	require.NoError(t, err)
	return order
}

func (h *harness) count(t *testing.T, m any, orderID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(m).Where("order_id = ?", orderID).Count(&n).Error)
	return n
}

func svcErr(kind errs.Kind) error {
	return errs.Ef(kind, "fake", "scripted %s", kind)
}
