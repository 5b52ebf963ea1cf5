package services

import (
	"context"

	"github.com/swiftride/ridepay/internal/dispatch"
	"github.com/swiftride/ridepay/internal/errs"
	"github.com/swiftride/ridepay/internal/models"
	repo "github.com/swiftride/ridepay/internal/repository"
)

// BalanceService derives available balance from the transaction store
// and gates cashouts on it. There is no separate ledger.
type BalanceService struct {
	trx  repo.Transactions
	disp *dispatch.Dispatcher
}

func NewBalanceService(trx repo.Transactions, disp *dispatch.Dispatcher) *BalanceService {
	return &BalanceService{trx: trx, disp: disp}
}

func (s *BalanceService) Available(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errs.Validation("user required")
	}
	return s.trx.AvailableBalance(ctx, userID)
}

// InitiateCashout creates a pending cashout only when the computed
// balance covers the amount. Check and creation share one scoped store
// transaction, so two concurrent requests near the limit cannot both
// pass against a stale read.
func (s *BalanceService) InitiateCashout(ctx context.Context, userID string, amount int64, currency string) (models.Transaction, error) {
	if userID == "" {
		return models.Transaction{}, errs.Validation("user required")
	}
	if amount <= 0 {
		return models.Transaction{}, errs.Validation("amount must be positive")
	}
	if currency == "" {
		currency = "NGN"
	}
	tx, ok, err := s.trx.CreateCashout(ctx, userID, amount, currency)
	if err != nil {
		return models.Transaction{}, err
	}
	if !ok {
		return models.Transaction{}, errs.ErrInsufficientBalance
	}
	s.disp.Notify(userID, dispatch.NotifyCashoutCreated, map[string]any{
		"transaction_id": tx.ID,
		"amount":         amount,
		"currency":       currency,
	})
	return tx, nil
}
