package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	repo "github.com/swiftride/ridepay/internal/repository"
)

type Repositories struct {
	Transactions repo.Transactions
	AuditLogs    repo.AuditLogs
	Gaps         repo.ReconciliationGaps
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
		Gaps:         &reconciliationGapsRepo{pool},
	}
}
