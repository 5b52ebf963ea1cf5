package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swiftride/ridepay/internal/models"
)

type reconciliationGapsRepo struct{ pool *pgxpool.Pool }

func (r *reconciliationGapsRepo) Record(ctx context.Context, gap models.ReconciliationGap) error {
	if gap.ID == "" {
		gap.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO reconciliation_gaps(id, gateway_reference, operation, amount, currency, detail)
VALUES ($1,$2,$3,$4,$5,$6)`,
		gap.ID, gap.GatewayReference, gap.Operation, gap.Amount, gap.Currency, gap.Detail)
	return err
}

func (r *reconciliationGapsRepo) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationGap, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, gateway_reference, operation, amount, currency, detail, resolved, created_at
  FROM reconciliation_gaps
 WHERE NOT resolved
 ORDER BY created_at
 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReconciliationGap
	for rows.Next() {
		var g models.ReconciliationGap
		if err := rows.Scan(&g.ID, &g.GatewayReference, &g.Operation, &g.Amount,
			&g.Currency, &g.Detail, &g.Resolved, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
