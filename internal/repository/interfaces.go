package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/swiftride/ridepay/internal/models"
)

// StatusUpdate carries the fields a status transition may set alongside
// the new status. Nil fields are left untouched.
type StatusUpdate struct {
	Status           models.TransactionStatus
	GatewayReference *string // set only if currently NULL
	GatewayResponse  []byte
	FailureReason    *string
	ProcessedAt      *time.Time
}

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)

	// CreateIfAbsent inserts keyed on gateway_reference. If a record
	// with the same reference already exists the existing row is
	// returned and created is false. This is the insert-if-absent
	// primitive behind gateway-first records.
	CreateIfAbsent(ctx context.Context, tx models.Transaction) (created models.Transaction, inserted bool, err error)

	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByGatewayReference(ctx context.Context, ref string) (models.Transaction, error)
	// GetByReference resolves ref as an internal id first, then as a
	// gateway reference.
	GetByReference(ctx context.Context, ref string) (models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)

	// TransitionStatus performs a compare-and-swap: the row is updated
	// only while its status is one of from. ok is false when the race
	// was lost; callers treat that as someone else already handled it.
	TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, upd StatusUpdate) (models.Transaction, bool, error)

	// ApplyRefund atomically inserts the refund transaction and moves
	// the original to newStatus while bumping its cumulative refunded
	// amount. ok is false when the original no longer accepts the
	// refund (already fully refunded or concurrently changed).
	ApplyRefund(ctx context.Context, originalID string, refundTx models.Transaction, newStatus models.TransactionStatus) (models.Transaction, bool, error)

	// AvailableBalance is completed credits minus completed debits
	// minus pending cashouts for the user.
	AvailableBalance(ctx context.Context, userID string) (int64, error)

	// CreateCashout inserts a pending cashout only if the user's
	// available balance covers amount, in one atomic statement. ok is
	// false when the balance check fails.
	CreateCashout(ctx context.Context, userID string, amount int64, currency string) (models.Transaction, bool, error)

	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

// ReconciliationGaps records money movements the provider confirmed but
// the local store failed to persist, for manual replay.
type ReconciliationGaps interface {
	Record(ctx context.Context, gap models.ReconciliationGap) error
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationGap, error)
}
