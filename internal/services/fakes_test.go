package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/swiftride/ridepay/internal/dispatch"
	"github.com/swiftride/ridepay/internal/errs"
	"github.com/swiftride/ridepay/internal/gateway"
	"github.com/swiftride/ridepay/internal/models"
	repo "github.com/swiftride/ridepay/internal/repository"
	"github.com/swiftride/ridepay/internal/worker"
)

var errMockGateway = errors.New("mock gateway error")

// fakeStore is an in-memory Transactions implementation with the same
// conditional-update semantics as the postgres repo.
type fakeStore struct {
	mu    sync.Mutex
	byID  map[string]models.Transaction
	byRef map[string]string // gateway reference -> id

	failApplyRefund bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]models.Transaction{}, byRef: map[string]string{}}
}

func (f *fakeStore) put(tx models.Transaction) models.Transaction {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	f.byID[tx.ID] = tx
	if tx.GatewayReference != nil {
		f.byRef[*tx.GatewayReference] = tx.ID
	}
	return tx
}

// seed inserts a transaction directly, bypassing invariant checks.
func (f *fakeStore) seed(tx models.Transaction) models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(tx)
}

func (f *fakeStore) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(tx), nil
}

func (f *fakeStore) CreateIfAbsent(_ context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx.GatewayReference == nil {
		return models.Transaction{}, false, errs.Validation("gateway reference required")
	}
	if id, ok := f.byRef[*tx.GatewayReference]; ok {
		return f.byID[id], false, nil
	}
	return f.put(tx), true, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return models.Transaction{}, errs.NotFound("transaction %s", id)
	}
	return t, nil
}

func (f *fakeStore) GetByGatewayReference(_ context.Context, ref string) (models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byRef[ref]
	if !ok {
		return models.Transaction{}, errs.NotFound("transaction with gateway reference %s", ref)
	}
	return f.byID[id], nil
}

func (f *fakeStore) GetByReference(ctx context.Context, ref string) (models.Transaction, error) {
	if t, err := f.GetByID(ctx, ref); err == nil {
		return t, nil
	}
	return f.GetByGatewayReference(ctx, ref)
}

func (f *fakeStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.byID {
		if t.UserID != nil && *t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, id string, from []models.TransactionStatus, upd repo.StatusUpdate) (models.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return models.Transaction{}, false, errs.NotFound("transaction %s", id)
	}
	eligible := false
	for _, s := range from {
		if t.Status == s {
			eligible = true
			break
		}
	}
	if !eligible {
		return models.Transaction{}, false, nil
	}
	t.Status = upd.Status
	if upd.GatewayReference != nil && t.GatewayReference == nil {
		t.GatewayReference = upd.GatewayReference
		f.byRef[*upd.GatewayReference] = t.ID
	}
	if upd.GatewayResponse != nil {
		t.GatewayResponse = upd.GatewayResponse
	}
	if upd.FailureReason != nil {
		t.FailureReason = upd.FailureReason
	}
	if upd.ProcessedAt != nil {
		t.ProcessedAt = upd.ProcessedAt
	}
	t.UpdatedAt = time.Now()
	f.byID[id] = t
	return t, true, nil
}

func (f *fakeStore) ApplyRefund(_ context.Context, originalID string, refundTx models.Transaction, newStatus models.TransactionStatus) (models.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApplyRefund {
		return models.Transaction{}, false, errors.New("mock store write error")
	}
	t, ok := f.byID[originalID]
	if !ok {
		return models.Transaction{}, false, errs.NotFound("transaction %s", originalID)
	}
	if t.Status != models.TxnCompleted && t.Status != models.TxnPartiallyRefunded {
		return models.Transaction{}, false, nil
	}
	if t.RefundedAmount+refundTx.Amount > t.Amount {
		return models.Transaction{}, false, nil
	}
	t.RefundedAmount += refundTx.Amount
	t.Status = newStatus
	t.RefundDetails = refundTx.RefundDetails
	t.UpdatedAt = time.Now()
	f.byID[originalID] = t
	f.put(refundTx)
	return t, true, nil
}

func (f *fakeStore) balanceLocked(userID string) int64 {
	var balance int64
	for _, t := range f.byID {
		if t.UserID == nil || *t.UserID != userID {
			continue
		}
		switch {
		case (t.Type == models.TxnRidePayment || t.Type == models.TxnFee) &&
			(t.Status == models.TxnCompleted || t.Status == models.TxnPartiallyRefunded):
			balance += t.Amount - t.RefundedAmount
		case t.Type == models.TxnCommission && t.Status == models.TxnCompleted:
			balance -= t.Amount
		case t.Type == models.TxnCashout && (t.Status == models.TxnPending || t.Status == models.TxnProcessing || t.Status == models.TxnCompleted):
			balance -= t.Amount
		}
	}
	return balance
}

func (f *fakeStore) AvailableBalance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceLocked(userID), nil
}

func (f *fakeStore) CreateCashout(_ context.Context, userID string, amount int64, currency string) (models.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceLocked(userID) < amount {
		return models.Transaction{}, false, nil
	}
	tx := f.put(models.Transaction{
		UserID:   &userID,
		Amount:   amount,
		Currency: currency,
		Type:     models.TxnCashout,
		Status:   models.TxnPending,
	})
	return tx, true, nil
}

func (f *fakeStore) WithTx(_ context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

type fakeAuditLogs struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (f *fakeAuditLogs) Create(_ context.Context, l models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	return nil
}

type fakeGaps struct {
	mu   sync.Mutex
	gaps []models.ReconciliationGap
}

func (f *fakeGaps) Record(_ context.Context, g models.ReconciliationGap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gaps = append(f.gaps, g)
	return nil
}

func (f *fakeGaps) ListOpen(context.Context, int) ([]models.ReconciliationGap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gaps, nil
}

// fakeAdapter implements gateway.Adapter with pluggable behaviour and
// call counting.
type fakeAdapter struct {
	mu sync.Mutex

	InitiateFunc func(amount int64, currency string, metadata map[string]string) (gateway.InitiateResult, error)
	VerifyFunc   func(ref string) (gateway.VerifyResult, error)
	RefundFunc   func(ref string, amount int64) (gateway.RefundResult, error)
	WebhookFunc  func(payload []byte) (gateway.WebhookEvent, error)

	verifyCalls   int
	refundCalls   int
	initiateCalls int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Initiate(_ context.Context, amount int64, currency, _ string, metadata map[string]string) (gateway.InitiateResult, error) {
	f.mu.Lock()
	f.initiateCalls++
	f.mu.Unlock()
	if f.InitiateFunc != nil {
		return f.InitiateFunc(amount, currency, metadata)
	}
	return gateway.InitiateResult{Success: true, GatewayReference: "ref-" + uuid.NewString()[:8], Status: "pending"}, nil
}

func (f *fakeAdapter) Verify(_ context.Context, ref string) (gateway.VerifyResult, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ref)
	}
	return gateway.VerifyResult{Success: true, Final: true, Status: "success"}, nil
}

func (f *fakeAdapter) Refund(_ context.Context, ref string, amount int64, _ string) (gateway.RefundResult, error) {
	f.mu.Lock()
	f.refundCalls++
	f.mu.Unlock()
	if f.RefundFunc != nil {
		return f.RefundFunc(ref, amount)
	}
	return gateway.RefundResult{Success: true, RefundID: "12345"}, nil
}

func (f *fakeAdapter) ParseWebhook(payload []byte, _ map[string]string) (gateway.WebhookEvent, error) {
	if f.WebhookFunc != nil {
		return f.WebhookFunc(payload)
	}
	return gateway.WebhookEvent{}, errors.New("no webhook func")
}

func (f *fakeAdapter) calls() (initiate, verify, refund int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initiateCalls, f.verifyCalls, f.refundCalls
}

// fakeNotifier records every notification sent.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []dispatch.Notification
}

func (f *fakeNotifier) Send(_ context.Context, n dispatch.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) byKind(kind string) []dispatch.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispatch.Notification
	for _, n := range f.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeRideUpdater struct {
	mu      sync.Mutex
	updates []string
}

func (f *fakeRideUpdater) UpdateRideStatus(_ context.Context, rideID string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, rideID)
	return nil
}

// testEngine bundles an engine with all its fakes. drain stops the
// worker pool so queued side effects are fully flushed before asserts.
type testEngine struct {
	svc      *PaymentService
	balances *BalanceService
	store    *fakeStore
	adapter  *fakeAdapter
	notifier *fakeNotifier
	rides    *fakeRideUpdater
	gaps     *fakeGaps
	audit    *fakeAuditLogs
	pool     *worker.Pool
}

func newTestEngine() *testEngine {
	store := newFakeStore()
	adapter := &fakeAdapter{}
	notifier := &fakeNotifier{}
	rides := &fakeRideUpdater{}
	gaps := &fakeGaps{}
	audit := &fakeAuditLogs{}
	pool := worker.NewPool(2)
	disp := dispatch.NewDispatcher(pool, notifier, rides)

	reg := gateway.NewRegistry()
	reg.Register("fake", func() (gateway.Adapter, error) { return adapter, nil })

	return &testEngine{
		svc:      NewPaymentService(store, audit, gaps, reg, "fake", disp),
		balances: NewBalanceService(store, disp),
		store:    store,
		adapter:  adapter,
		notifier: notifier,
		rides:    rides,
		gaps:     gaps,
		audit:    audit,
		pool:     pool,
	}
}

func (e *testEngine) drain() { e.pool.Stop() }
