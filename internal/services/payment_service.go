package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/swiftride/ridepay/internal/dispatch"
	"github.com/swiftride/ridepay/internal/errs"
	"github.com/swiftride/ridepay/internal/gateway"
	"github.com/swiftride/ridepay/internal/metrics"
	"github.com/swiftride/ridepay/internal/models"
	repo "github.com/swiftride/ridepay/internal/repository"
)

// PaymentService reconciles the three entry points (Initiate, Verify,
// HandleWebhook) plus Refund onto the transaction store. All status
// moves go through the store's conditional update, so concurrent paths
// converging on one gateway reference apply exactly one transition and
// fire side effects once.
type PaymentService struct {
	trx         repo.Transactions
	audit       repo.AuditLogs
	gaps        repo.ReconciliationGaps
	gateways    *gateway.Registry
	gatewayName string
	disp        *dispatch.Dispatcher
	callTimeout time.Duration
}

func NewPaymentService(trx repo.Transactions, audit repo.AuditLogs, gaps repo.ReconciliationGaps,
	gateways *gateway.Registry, gatewayName string, disp *dispatch.Dispatcher) *PaymentService {
	return &PaymentService{
		trx:         trx,
		audit:       audit,
		gaps:        gaps,
		gateways:    gateways,
		gatewayName: gatewayName,
		disp:        disp,
		callTimeout: 30 * time.Second,
	}
}

type InitiateInput struct {
	UserID        string
	RideID        string
	Amount        int64
	Currency      string
	Email         string
	PaymentMethod string
	Metadata      map[string]string
}

type RefundInput struct {
	Reference string
	Amount    int64 // 0 means full remaining
	Reason    string
}

// RefundOutcome reports a refund. PersistenceGap is true when the
// provider moved the money but local bookkeeping failed; the refund is
// still a success and the gap is queued for manual reconciliation.
type RefundOutcome struct {
	Original        models.Transaction
	RefundTxID      string
	GatewayRefundID string
	Amount          int64
	PersistenceGap  bool
}

var nonTerminal = []models.TransactionStatus{models.TxnPending, models.TxnProcessing}

func (s *PaymentService) adapter() (gateway.Adapter, error) {
	return s.gateways.Get(s.gatewayName)
}

func (s *PaymentService) auditTransition(txID string, status models.TransactionStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.audit.Create(ctx, models.AuditLog{
		EntityType: "transaction",
		EntityID:   &txID,
		Action:     "status_change",
		Details:    map[string]any{"status": string(status), "reason": reason},
	})
}

// gatewayCtx bounds adapter calls. A scoped store transaction is never
// held open across these calls.
func (s *PaymentService) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

// Initiate creates a durable pending record, then asks the gateway to
// start the payment. Every call produces exactly one record: gateway
// failure is recorded on the transaction, not thrown past it.
func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput) (models.Transaction, error) {
	if in.Amount <= 0 {
		return models.Transaction{}, errs.Validation("amount must be positive")
	}
	if in.Currency == "" {
		return models.Transaction{}, errs.Validation("currency required")
	}
	if in.UserID == "" {
		return models.Transaction{}, errs.Validation("user required")
	}

	tx := models.Transaction{
		UserID:        &in.UserID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Type:          models.TxnRidePayment,
		Status:        models.TxnPending,
		PaymentMethod: in.PaymentMethod,
	}
	if in.RideID != "" {
		tx.RideID = &in.RideID
	}
	tx, err := s.trx.Create(ctx, tx)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	s.auditTransition(tx.ID, models.TxnPending, "payment initiated")

	ad, err := s.adapter()
	if err != nil {
		return s.recordInitiateFailure(ctx, tx, err)
	}

	// The internal id rides along in gateway metadata so callbacks can
	// be correlated before a gateway reference exists locally.
	meta := map[string]string{"transaction_id": tx.ID}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	gctx, cancel := s.gatewayCtx(ctx)
	res, err := ad.Initiate(gctx, in.Amount, in.Currency, in.Email, meta)
	cancel()
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues("failed").Inc()
		return s.recordInitiateFailure(ctx, tx, err)
	}

	if res.Status == "completed" || res.Status == "success" {
		now := time.Now()
		upd := repo.StatusUpdate{
			Status:           models.TxnCompleted,
			GatewayReference: &res.GatewayReference,
			GatewayResponse:  res.Raw,
			ProcessedAt:      &now,
		}
		updated, won, err := s.trx.TransitionStatus(ctx, tx.ID, nonTerminal, upd)
		if err != nil {
			return tx, fmt.Errorf("record completion: %w", err)
		}
		if won {
			metrics.PaymentsInitiated.WithLabelValues("completed").Inc()
			metrics.PaymentsSettled.WithLabelValues("initiate", "completed").Inc()
			s.auditTransition(tx.ID, models.TxnCompleted, "gateway reported immediate completion")
			s.fireCompletionEffects(updated)
			return updated, nil
		}
		metrics.ReconciliationConflicts.Inc()
		return s.trx.GetByID(ctx, tx.ID)
	}

	upd := repo.StatusUpdate{
		Status:           models.TxnPending,
		GatewayReference: &res.GatewayReference,
		GatewayResponse:  res.Raw,
	}
	updated, won, err := s.trx.TransitionStatus(ctx, tx.ID, nonTerminal, upd)
	if err != nil {
		return tx, fmt.Errorf("store gateway reference: %w", err)
	}
	if !won {
		// A webhook raced us past pending already; its state stands.
		metrics.ReconciliationConflicts.Inc()
		return s.trx.GetByID(ctx, tx.ID)
	}
	metrics.PaymentsInitiated.WithLabelValues("pending").Inc()
	return updated, nil
}

func (s *PaymentService) recordInitiateFailure(ctx context.Context, tx models.Transaction, cause error) (models.Transaction, error) {
	reason := cause.Error()
	now := time.Now()
	upd := repo.StatusUpdate{
		Status:        models.TxnFailed,
		FailureReason: &reason,
		ProcessedAt:   &now,
	}
	updated, won, err := s.trx.TransitionStatus(ctx, tx.ID, nonTerminal, upd)
	if err != nil {
		slog.Error("record initiate failure", "transaction_id", tx.ID, "err", err)
		return tx, nil
	}
	if !won {
		// Somebody (a webhook, most likely) settled it first.
		metrics.ReconciliationConflicts.Inc()
		return s.trx.GetByID(ctx, tx.ID)
	}
	s.auditTransition(tx.ID, models.TxnFailed, reason)
	metrics.PaymentsSettled.WithLabelValues("initiate", "failed").Inc()
	if updated.UserID != nil {
		s.disp.Notify(*updated.UserID, dispatch.NotifyPaymentFailed, map[string]any{
			"transaction_id": updated.ID,
			"amount":         updated.Amount,
			"currency":       updated.Currency,
		})
	}
	return updated, nil
}

// Verify resolves ref (internal id or gateway reference) against the
// gateway. Terminal records short-circuit without a gateway call; a
// verified payment unknown to the store becomes a gateway-first record.
func (s *PaymentService) Verify(ctx context.Context, ref string) (models.Transaction, error) {
	if ref == "" {
		return models.Transaction{}, errs.Validation("reference required")
	}

	tx, err := s.trx.GetByReference(ctx, ref)
	if err != nil {
		if !errs.IsNotFound(err) {
			return models.Transaction{}, err
		}
		return s.verifyUnknown(ctx, ref)
	}

	// Idempotency fast path: settled with a recorded processing time
	// means side effects already fired. Do not touch the gateway.
	if models.SettledForPayment(tx.Status) && tx.ProcessedAt != nil {
		return tx, nil
	}

	if tx.GatewayReference == nil {
		// Gateway never assigned a reference; nothing to verify yet.
		return tx, nil
	}

	ad, err := s.adapter()
	if err != nil {
		return tx, errs.Gateway(err)
	}
	gctx, cancel := s.gatewayCtx(ctx)
	res, err := ad.Verify(gctx, *tx.GatewayReference)
	cancel()
	if err != nil {
		// Transport failure or timeout: leave the record as is, the
		// next Verify or webhook resolves it.
		return tx, errs.Gateway(err)
	}

	if res.Success {
		return s.settle(ctx, tx.ID, "verify", repo.StatusUpdate{
			Status:          models.TxnCompleted,
			GatewayResponse: res.Raw,
		})
	}
	if !res.Final {
		// The customer is still mid checkout; the charge may yet
		// succeed. Stay pending, the next Verify or webhook settles it.
		return tx, nil
	}
	reason := "gateway verification returned status " + res.Status
	return s.settle(ctx, tx.ID, "verify", repo.StatusUpdate{
		Status:          models.TxnFailed,
		GatewayResponse: res.Raw,
		FailureReason:   &reason,
	})
}

func (s *PaymentService) verifyUnknown(ctx context.Context, ref string) (models.Transaction, error) {
	ad, err := s.adapter()
	if err != nil {
		return models.Transaction{}, errs.Gateway(err)
	}
	gctx, cancel := s.gatewayCtx(ctx)
	res, err := ad.Verify(gctx, ref)
	cancel()
	if err != nil {
		return models.Transaction{}, errs.Gateway(err)
	}
	if !res.Success {
		// Nothing locally and the gateway does not vouch for it either:
		// nothing to reconcile, no record created.
		return models.Transaction{}, errs.NotFound("no transaction for reference %s", ref)
	}
	return s.createGatewayFirst(ctx, ref, res.Amount, res.Currency, res.PaymentMethod, res.Raw, "verify")
}

// createGatewayFirst records a payment the gateway confirmed before any
// local record existed. Insert-if-absent keyed on the gateway reference
// keeps concurrent creators down to one row.
func (s *PaymentService) createGatewayFirst(ctx context.Context, ref string, amount int64, currency, method string, raw []byte, path string) (models.Transaction, error) {
	now := time.Now()
	if currency == "" {
		currency = "NGN"
	}
	tx := models.Transaction{
		GatewayReference: &ref,
		Amount:           amount,
		Currency:         currency,
		Type:             models.TxnRidePayment,
		Status:           models.TxnCompleted,
		PaymentMethod:    method,
		GatewayResponse:  raw,
		ProcessedAt:      &now,
	}
	created, inserted, err := s.trx.CreateIfAbsent(ctx, tx)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("create gateway-first transaction: %w", err)
	}
	if inserted {
		slog.Info("gateway-first transaction created", "transaction_id", created.ID, "gateway_reference", ref, "path", path)
		s.auditTransition(created.ID, models.TxnCompleted, "gateway-first record from "+path)
		metrics.PaymentsSettled.WithLabelValues(path, "completed").Inc()
		s.fireCompletionEffects(created)
	}
	return created, nil
}

// HandleWebhook applies an authenticated gateway event. Parsing and
// signature checks live in the adapter; this only maps the normalized
// action onto the same transition rules Verify uses.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, headers map[string]string) error {
	ad, err := s.adapter()
	if err != nil {
		return errs.Gateway(err)
	}
	event, err := ad.ParseWebhook(payload, headers)
	if err != nil || !event.Valid {
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		return errs.Validation("webhook rejected: %v", err)
	}

	tx, err := s.trx.GetByGatewayReference(ctx, event.GatewayReference)
	if err != nil && errs.IsNotFound(err) && event.TransactionID != "" {
		// The webhook can outrun Initiate storing the reference; the
		// internal id echoed through gateway metadata still finds it.
		tx, err = s.trx.GetByID(ctx, event.TransactionID)
	}
	if err != nil {
		if !errs.IsNotFound(err) {
			return err
		}
		if event.Action == gateway.ActionPaymentCompleted {
			_, err := s.createGatewayFirst(ctx, event.GatewayReference, event.Amount, event.Currency, "", event.Raw, "webhook")
			if err != nil {
				return err
			}
			metrics.WebhooksReceived.WithLabelValues("applied").Inc()
			return nil
		}
		// Unknown reference and not a completion: acknowledge without
		// creating a meaningless failure record.
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		return nil
	}

	if models.SettledForPayment(tx.Status) && tx.ProcessedAt != nil {
		metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
		return nil
	}

	switch event.Action {
	case gateway.ActionPaymentCompleted:
		_, err = s.settle(ctx, tx.ID, "webhook", repo.StatusUpdate{
			Status:           models.TxnCompleted,
			GatewayReference: &event.GatewayReference,
			GatewayResponse:  event.Raw,
		})
	case gateway.ActionPaymentFailed:
		reason := "gateway reported failure"
		_, err = s.settle(ctx, tx.ID, "webhook", repo.StatusUpdate{
			Status:           models.TxnFailed,
			GatewayReference: &event.GatewayReference,
			GatewayResponse:  event.Raw,
			FailureReason:    &reason,
		})
	default:
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	metrics.WebhooksReceived.WithLabelValues("applied").Inc()
	return nil
}

// settle performs the single winning transition to a terminal payment
// status and fires side effects only on the winning path. Losing the
// conditional update is success by idempotency: someone else settled
// it, their state is returned.
func (s *PaymentService) settle(ctx context.Context, txID, path string, upd repo.StatusUpdate) (models.Transaction, error) {
	now := time.Now()
	upd.ProcessedAt = &now
	updated, won, err := s.trx.TransitionStatus(ctx, txID, nonTerminal, upd)
	if err != nil {
		return models.Transaction{}, err
	}
	if !won {
		metrics.ReconciliationConflicts.Inc()
		return s.trx.GetByID(ctx, txID)
	}
	reason := "settled via " + path
	if upd.FailureReason != nil {
		reason = *upd.FailureReason
	}
	s.auditTransition(txID, upd.Status, reason)
	metrics.PaymentsSettled.WithLabelValues(path, string(upd.Status)).Inc()

	if upd.Status == models.TxnCompleted {
		s.fireCompletionEffects(updated)
	} else if updated.UserID != nil {
		s.disp.Notify(*updated.UserID, dispatch.NotifyPaymentFailed, map[string]any{
			"transaction_id": updated.ID,
			"amount":         updated.Amount,
			"currency":       updated.Currency,
		})
	}
	return updated, nil
}

func (s *PaymentService) fireCompletionEffects(tx models.Transaction) {
	if tx.UserID != nil {
		s.disp.Notify(*tx.UserID, dispatch.NotifyPaymentSuccess, map[string]any{
			"transaction_id": tx.ID,
			"amount":         tx.Amount,
			"currency":       tx.Currency,
		})
	}
	if tx.RideID != nil {
		s.disp.UpdateRideStatus(*tx.RideID, map[string]any{
			"payment_status": "paid",
			"transaction_id": tx.ID,
			"amount":         tx.Amount,
		})
	}
}

// Refund refunds part or all of a completed payment. The gateway call
// happens first; if it succeeds but the local bookkeeping fails, the
// refund is still reported successful and the gap is queued for manual
// reconciliation. Money that moved is never reported as a failure.
func (s *PaymentService) Refund(ctx context.Context, in RefundInput) (RefundOutcome, error) {
	if in.Reference == "" {
		return RefundOutcome{}, errs.Validation("reference required")
	}
	original, err := s.trx.GetByReference(ctx, in.Reference)
	if err != nil {
		return RefundOutcome{}, err
	}

	amount := in.Amount
	if amount == 0 {
		amount = original.RemainingRefundable()
	}
	if !original.Refundable(amount) {
		return RefundOutcome{}, fmt.Errorf("%w: status %s, %d of %d already refunded",
			errs.ErrNotRefundable, original.Status, original.RefundedAmount, original.Amount)
	}
	if original.GatewayReference == nil {
		return RefundOutcome{}, errs.Validation("transaction has no gateway reference to refund against")
	}

	ad, err := s.adapter()
	if err != nil {
		return RefundOutcome{}, errs.Gateway(err)
	}
	gctx, cancel := s.gatewayCtx(ctx)
	res, err := ad.Refund(gctx, *original.GatewayReference, amount, in.Reason)
	cancel()
	if err != nil {
		// No money moved, nothing local changes.
		metrics.RefundsTotal.WithLabelValues("failed").Inc()
		return RefundOutcome{}, errs.Gateway(err)
	}

	newStatus := models.TxnPartiallyRefunded
	outcome := "partial"
	if amount == original.RemainingRefundable() {
		newStatus = models.TxnRefunded
		outcome = "full"
	}
	refundRef := "refund_" + res.RefundID
	refundTx := models.Transaction{
		ID:               uuid.NewString(),
		GatewayReference: &refundRef,
		UserID:           original.UserID,
		RideID:           original.RideID,
		Amount:           amount,
		Currency:         original.Currency,
		Type:             models.TxnRefund,
		Status:           models.TxnCompleted,
		PaymentMethod:    original.PaymentMethod,
		GatewayResponse:  res.Raw,
	}
	refundTx.RefundDetails = &models.RefundDetails{
		RefundTxID:   refundTx.ID,
		OriginalTxID: original.ID,
		Amount:       amount,
		Reason:       in.Reason,
		RefundedAt:   time.Now(),
	}

	updated, applied, err := s.trx.ApplyRefund(ctx, original.ID, refundTx, newStatus)
	if err != nil || !applied {
		// Deliberate asymmetry: the provider moved the money, so this
		// is a success with a bookkeeping gap, not a failed refund.
		cause := err
		if cause == nil {
			cause = errs.ErrConflict
		}
		slog.Error("refund persisted at gateway but not locally",
			"transaction_id", original.ID, "gateway_refund_id", res.RefundID, "err", cause)
		metrics.PersistenceGaps.Inc()
		gapCtx, gapCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer gapCancel()
		if gapErr := s.gaps.Record(gapCtx, models.ReconciliationGap{
			GatewayReference: *original.GatewayReference,
			Operation:        "refund",
			Amount:           amount,
			Currency:         original.Currency,
			Detail:           fmt.Sprintf("gateway refund %s applied, local write failed: %v", res.RefundID, cause),
		}); gapErr != nil {
			slog.Error("recording reconciliation gap failed", "transaction_id", original.ID, "err", gapErr)
		}
		return RefundOutcome{
			Original:        original,
			GatewayRefundID: res.RefundID,
			Amount:          amount,
			PersistenceGap:  true,
		}, nil
	}

	s.auditTransition(original.ID, newStatus, fmt.Sprintf("refunded %d: %s", amount, in.Reason))
	metrics.RefundsTotal.WithLabelValues(outcome).Inc()
	if updated.UserID != nil {
		s.disp.Notify(*updated.UserID, dispatch.NotifyRefundIssued, map[string]any{
			"transaction_id": updated.ID,
			"refund_tx_id":   refundTx.ID,
			"amount":         amount,
			"currency":       updated.Currency,
		})
	}
	return RefundOutcome{
		Original:        updated,
		RefundTxID:      refundTx.ID,
		GatewayRefundID: res.RefundID,
		Amount:          amount,
	}, nil
}

func (s *PaymentService) GetTransaction(ctx context.Context, ref string) (models.Transaction, error) {
	return s.trx.GetByReference(ctx, ref)
}

func (s *PaymentService) ListUserTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.trx.ListByUser(ctx, userID, limit, offset)
}
