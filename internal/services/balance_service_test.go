package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/swiftride/ridepay/internal/errs"
	"github.com/swiftride/ridepay/internal/models"
)

func seedEarnings(e *testEngine, userID string, amount int64) {
	e.store.seed(models.Transaction{
		UserID: &userID, Amount: amount, Currency: "NGN",
		Type: models.TxnRidePayment, Status: models.TxnCompleted,
	})
}

func TestAvailableBalanceNetsDebitsAndHolds(t *testing.T) {
	e := newTestEngine()
	user := "driver-1"
	seedEarnings(e, user, 10000)
	e.store.seed(models.Transaction{
		UserID: &user, Amount: 1500, Currency: "NGN",
		Type: models.TxnCommission, Status: models.TxnCompleted,
	})
	e.store.seed(models.Transaction{
		UserID: &user, Amount: 2000, Currency: "NGN",
		Type: models.TxnCashout, Status: models.TxnPending,
	})
	// failed transactions never count
	e.store.seed(models.Transaction{
		UserID: &user, Amount: 9999, Currency: "NGN",
		Type: models.TxnRidePayment, Status: models.TxnFailed,
	})

	balance, err := e.balances.Available(context.Background(), user)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if balance != 6500 {
		t.Fatalf("balance = %d, want 6500", balance)
	}
}

func TestBalanceKeepsRemainderAfterPartialRefund(t *testing.T) {
	e := newTestEngine()
	user := "driver-4"
	e.store.seed(models.Transaction{
		UserID: &user, Amount: 5000, Currency: "NGN",
		Type: models.TxnRidePayment, Status: models.TxnCompleted,
		GatewayReference: strPtr("ps_partial"),
	})

	if _, err := e.svc.Refund(context.Background(), RefundInput{Reference: "ps_partial", Amount: 2000, Reason: "overcharge"}); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	balance, err := e.balances.Available(context.Background(), user)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if balance != 3000 {
		t.Fatalf("balance after refunding 2000 of 5000 = %d, want 3000", balance)
	}

	// Fully refunded payments contribute nothing.
	if _, err := e.svc.Refund(context.Background(), RefundInput{Reference: "ps_partial"}); err != nil {
		t.Fatalf("full refund: %v", err)
	}
	balance, _ = e.balances.Available(context.Background(), user)
	if balance != 0 {
		t.Fatalf("balance after full refund = %d, want 0", balance)
	}
}

func TestCashoutRejectedOverBalance(t *testing.T) {
	e := newTestEngine()
	user := "driver-2"
	seedEarnings(e, user, 3000)

	_, err := e.balances.InitiateCashout(context.Background(), user, 5000, "NGN")
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}

	tx, err := e.balances.InitiateCashout(context.Background(), user, 3000, "NGN")
	if err != nil {
		t.Fatalf("cashout within balance: %v", err)
	}
	if tx.Type != models.TxnCashout || tx.Status != models.TxnPending {
		t.Fatalf("cashout tx = %+v", tx)
	}

	e.drain()
	if n := len(e.notifier.byKind("cashout_created")); n != 1 {
		t.Fatalf("cashout_created notifications = %d, want 1", n)
	}
}

func TestConcurrentCashoutsCannotBothExceedBalance(t *testing.T) {
	e := newTestEngine()
	user := "driver-3"
	seedEarnings(e, user, 5000)

	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = e.balances.InitiateCashout(context.Background(), user, 3000, "NGN")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range outcomes {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, errs.ErrInsufficientBalance) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d cashouts succeeded, want exactly 1 (combined total exceeds balance)", succeeded)
	}

	balance, _ := e.balances.Available(context.Background(), user)
	if balance != 2000 {
		t.Fatalf("balance after cashout = %d, want 2000", balance)
	}
}

func TestCashoutValidation(t *testing.T) {
	e := newTestEngine()
	if _, err := e.balances.InitiateCashout(context.Background(), "", 100, "NGN"); !errs.IsValidation(err) {
		t.Fatalf("missing user: err = %v", err)
	}
	if _, err := e.balances.InitiateCashout(context.Background(), "driver", 0, "NGN"); !errs.IsValidation(err) {
		t.Fatalf("zero amount: err = %v", err)
	}
}
