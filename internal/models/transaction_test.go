package models

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TxnPending, TxnProcessing, true},
		{TxnPending, TxnCompleted, true},
		{TxnPending, TxnFailed, true},
		{TxnProcessing, TxnCompleted, true},
		{TxnProcessing, TxnFailed, true},
		{TxnCompleted, TxnPartiallyRefunded, true},
		{TxnCompleted, TxnRefunded, true},
		{TxnPartiallyRefunded, TxnRefunded, true},
		{TxnPartiallyRefunded, TxnPartiallyRefunded, true},

		// terminal states never move backward
		{TxnFailed, TxnCompleted, false},
		{TxnFailed, TxnPending, false},
		{TxnRefunded, TxnCompleted, false},
		{TxnCompleted, TxnPending, false},
		{TxnCompleted, TxnFailed, false},
		{TxnProcessing, TxnPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestRefundable(t *testing.T) {
	tx := &Transaction{Amount: 5000, Status: TxnCompleted}
	if !tx.Refundable(5000) {
		t.Error("full refund of completed transaction must be allowed")
	}
	if tx.Refundable(5001) {
		t.Error("refund above amount must be rejected")
	}
	if tx.Refundable(0) {
		t.Error("zero refund must be rejected")
	}

	tx = &Transaction{Amount: 5000, Status: TxnPartiallyRefunded, RefundedAmount: 4000}
	if !tx.Refundable(1000) {
		t.Error("refund of exact remainder must be allowed")
	}
	if tx.Refundable(1001) {
		t.Error("cumulative refunds must never exceed the original amount")
	}
	if got := tx.RemainingRefundable(); got != 1000 {
		t.Errorf("RemainingRefundable = %d, want 1000", got)
	}

	tx = &Transaction{Amount: 5000, Status: TxnPending}
	if tx.Refundable(100) {
		t.Error("pending transaction is not refundable")
	}
}
