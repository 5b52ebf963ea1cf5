package models

import "time"

type TransactionType string

const (
	TxnRidePayment TransactionType = "ride_payment"
	TxnFee         TransactionType = "fee"
	TxnCommission  TransactionType = "commission"
	TxnRefund      TransactionType = "refund"
	TxnCashout     TransactionType = "cashout"
)

type TransactionStatus string

const (
	TxnPending           TransactionStatus = "pending"
	TxnProcessing        TransactionStatus = "processing"
	TxnCompleted         TransactionStatus = "completed"
	TxnFailed            TransactionStatus = "failed"
	TxnRefunded          TransactionStatus = "refunded"
	TxnPartiallyRefunded TransactionStatus = "partially_refunded"
)

// RefundDetails links a refund transaction and its original in both
// directions; the same details live on both rows.
type RefundDetails struct {
	RefundTxID   string    `json:"refund_tx_id"`
	OriginalTxID string    `json:"original_tx_id"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason,omitempty"`
	RefundedAt   time.Time `json:"refunded_at"`
}

// Transaction is the canonical money-movement record. Amount is in
// minor units (kobo for NGN). GatewayReference is set at most once and
// is unique across transactions when present. UserID may be nil for a
// gateway-first record until the owner is resolved.
type Transaction struct {
	ID               string            `json:"id"`
	GatewayReference *string           `json:"gateway_reference,omitempty"`
	UserID           *string           `json:"user_id,omitempty"`
	RideID           *string           `json:"ride_id,omitempty"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	GatewayResponse  []byte            `json:"-"`
	FailureReason    *string           `json:"failure_reason,omitempty"`
	RefundDetails    *RefundDetails    `json:"refund_details,omitempty"`
	RefundedAmount   int64             `json:"refunded_amount,omitempty"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

var validTransitions = map[TransactionStatus][]TransactionStatus{
	TxnPending:           {TxnProcessing, TxnCompleted, TxnFailed},
	TxnProcessing:        {TxnCompleted, TxnFailed},
	TxnCompleted:         {TxnPartiallyRefunded, TxnRefunded},
	TxnPartiallyRefunded: {TxnPartiallyRefunded, TxnRefunded},
	TxnFailed:            {},
	TxnRefunded:          {},
}

// CanTransition reports whether from -> to is a legal status move.
// failed and refunded are terminal; completed only moves toward refund.
func CanTransition(from, to TransactionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SettledForPayment reports whether payment reconciliation is done for
// this status: no Verify or webhook may move it any further. Refund
// transitions out of completed are handled separately.
func SettledForPayment(s TransactionStatus) bool {
	switch s {
	case TxnCompleted, TxnFailed, TxnRefunded, TxnPartiallyRefunded:
		return true
	}
	return false
}

// Refundable reports whether the transaction can accept a further
// refund of amt without exceeding the original amount.
func (t *Transaction) Refundable(amt int64) bool {
	if t.Status != TxnCompleted && t.Status != TxnPartiallyRefunded {
		return false
	}
	return amt > 0 && t.RefundedAmount+amt <= t.Amount
}

// RemainingRefundable is the amount still open to refund.
func (t *Transaction) RemainingRefundable() int64 {
	return t.Amount - t.RefundedAmount
}
