package models

import "time"

// ReconciliationGap is a money movement the gateway confirmed but the
// local store failed to record. Gaps are replayed manually; they are
// never surfaced to the caller as a failed payment.
type ReconciliationGap struct {
	ID               string    `json:"id"`
	GatewayReference string    `json:"gateway_reference"`
	Operation        string    `json:"operation"` // refund | verify | webhook
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Detail           string    `json:"detail"`
	Resolved         bool      `json:"resolved"`
	CreatedAt        time.Time `json:"created_at"`
}
