package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swiftride/ridepay/internal/errs"
	"github.com/swiftride/ridepay/internal/models"
	repo "github.com/swiftride/ridepay/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txnColumns = `id, gateway_reference, user_id, ride_id, amount, currency, type, status,
payment_method, gateway_response, failure_reason, refund_details, refunded_amount,
processed_at, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanTxn(row rowScanner) (models.Transaction, error) {
	var t models.Transaction
	var refundDetails []byte
	err := row.Scan(
		&t.ID, &t.GatewayReference, &t.UserID, &t.RideID, &t.Amount, &t.Currency,
		&t.Type, &t.Status, &t.PaymentMethod, &t.GatewayResponse, &t.FailureReason,
		&refundDetails, &t.RefundedAmount, &t.ProcessedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return models.Transaction{}, err
	}
	if len(refundDetails) > 0 {
		var rd models.RefundDetails
		if err := json.Unmarshal(refundDetails, &rd); err == nil {
			t.RefundDetails = &rd
		}
	}
	return t, nil
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO transactions (
  id, gateway_reference, user_id, ride_id, amount, currency, type, status,
  payment_method, gateway_response, failure_reason, refunded_amount, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING `+txnColumns,
		tx.ID, tx.GatewayReference, tx.UserID, tx.RideID, tx.Amount, tx.Currency,
		tx.Type, tx.Status, tx.PaymentMethod, tx.GatewayResponse, tx.FailureReason,
		tx.RefundedAmount, tx.ProcessedAt,
	)
	return scanTxn(row)
}

func (r *transactionsRepo) CreateIfAbsent(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	if tx.GatewayReference == nil || *tx.GatewayReference == "" {
		return models.Transaction{}, false, errs.Validation("gateway reference required for insert-if-absent")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO transactions (
  id, gateway_reference, user_id, ride_id, amount, currency, type, status,
  payment_method, gateway_response, failure_reason, refunded_amount, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (gateway_reference) WHERE gateway_reference IS NOT NULL DO NOTHING
RETURNING `+txnColumns,
		tx.ID, tx.GatewayReference, tx.UserID, tx.RideID, tx.Amount, tx.Currency,
		tx.Type, tx.Status, tx.PaymentMethod, tx.GatewayResponse, tx.FailureReason,
		tx.RefundedAmount, tx.ProcessedAt,
	)
	created, err := scanTxn(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, false, err
	}
	// Lost the insert race: another writer owns this reference.
	existing, err := r.GetByGatewayReference(ctx, *tx.GatewayReference)
	if err != nil {
		return models.Transaction{}, false, err
	}
	return existing, false, nil
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id=$1`, id)
	t, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, errs.NotFound("transaction %s", id)
	}
	return t, err
}

func (r *transactionsRepo) GetByGatewayReference(ctx context.Context, ref string) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE gateway_reference=$1`, ref)
	t, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, errs.NotFound("transaction with gateway reference %s", ref)
	}
	return t, err
}

func (r *transactionsRepo) GetByReference(ctx context.Context, ref string) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE id=$1 OR gateway_reference=$1 LIMIT 1`, ref)
	t, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, errs.NotFound("transaction %s", ref)
	}
	return t, err
}

func (r *transactionsRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+txnColumns+`
  FROM transactions
 WHERE user_id=$1
 ORDER BY created_at DESC
 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionStatus is the single conditional write every reconciliation
// path funnels through. The row only moves while its status is one of
// from; a false result means another caller already applied the
// transition.
func (r *transactionsRepo) TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, upd repo.StatusUpdate) (models.Transaction, bool, error) {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	row := r.pool.QueryRow(ctx, `
UPDATE transactions
   SET status            = $2,
       gateway_reference = COALESCE(gateway_reference, $3),
       gateway_response  = COALESCE($4, gateway_response),
       failure_reason    = COALESCE($5, failure_reason),
       processed_at      = COALESCE($6, processed_at),
       updated_at        = now()
 WHERE id = $1 AND status = ANY($7)
RETURNING `+txnColumns,
		id, upd.Status, upd.GatewayReference, upd.GatewayResponse,
		upd.FailureReason, upd.ProcessedAt, fromStr)
	t, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, err
	}
	return t, true, nil
}

func (r *transactionsRepo) ApplyRefund(ctx context.Context, originalID string, refundTx models.Transaction, newStatus models.TransactionStatus) (models.Transaction, bool, error) {
	if refundTx.ID == "" {
		refundTx.ID = uuid.NewString()
	}
	details, err := json.Marshal(refundTx.RefundDetails)
	if err != nil {
		return models.Transaction{}, false, fmt.Errorf("marshal refund details: %w", err)
	}

	var updated models.Transaction
	applied := false
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE transactions
   SET status          = $2,
       refunded_amount = refunded_amount + $3,
       refund_details  = $4,
       updated_at      = now()
 WHERE id = $1
   AND status IN ('completed','partially_refunded')
   AND refunded_amount + $3 <= amount
RETURNING `+txnColumns,
			originalID, newStatus, refundTx.Amount, details)
		upd, err := scanTxn(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotRefundable
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
INSERT INTO transactions (
  id, gateway_reference, user_id, ride_id, amount, currency, type, status,
  payment_method, gateway_response, refund_details, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,'refund','completed',$7,$8,$9,now())`,
			refundTx.ID, refundTx.GatewayReference, refundTx.UserID, refundTx.RideID,
			refundTx.Amount, refundTx.Currency, refundTx.PaymentMethod,
			refundTx.GatewayResponse, details)
		if err != nil {
			return err
		}
		updated = upd
		applied = true
		return nil
	})
	if errors.Is(err, errs.ErrNotRefundable) {
		return models.Transaction{}, false, nil
	}
	return updated, applied, err
}

// AvailableBalance nets settled credits against completed debits and
// holds back any cashout that has not failed. Partially refunded
// payments still credit their unrefunded remainder.
func (r *transactionsRepo) AvailableBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(CASE
    WHEN type IN ('ride_payment','fee') AND status IN ('completed','partially_refunded') THEN amount - refunded_amount
    WHEN type = 'commission'            AND status = 'completed'            THEN -amount
    WHEN type = 'cashout'               AND status IN ('pending','processing','completed') THEN -amount
    ELSE 0 END), 0)
  FROM transactions
 WHERE user_id = $1`, userID).Scan(&balance)
	return balance, err
}

func (r *transactionsRepo) CreateCashout(ctx context.Context, userID string, amount int64, currency string) (models.Transaction, bool, error) {
	var out models.Transaction
	ok := false
	// Balance check and insert share one serializable transaction so
	// two concurrent cashouts cannot both pass against a stale read.
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(CASE
    WHEN type IN ('ride_payment','fee') AND status IN ('completed','partially_refunded') THEN amount - refunded_amount
    WHEN type = 'commission'            AND status = 'completed'            THEN -amount
    WHEN type = 'cashout'               AND status IN ('pending','processing','completed') THEN -amount
    ELSE 0 END), 0)
  FROM transactions
 WHERE user_id = $1`, userID).Scan(&balance)
		if err != nil {
			return err
		}
		if balance < amount {
			return errs.ErrInsufficientBalance
		}
		row := tx.QueryRow(ctx, `
INSERT INTO transactions (id, user_id, amount, currency, type, status)
VALUES ($1,$2,$3,$4,'cashout','pending')
RETURNING `+txnColumns,
			uuid.NewString(), userID, amount, currency)
		created, err := scanTxn(row)
		if err != nil {
			return err
		}
		out = created
		ok = true
		return nil
	})
	if errors.Is(err, errs.ErrInsufficientBalance) {
		return models.Transaction{}, false, nil
	}
	return out, ok, err
}

func (r *transactionsRepo) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
