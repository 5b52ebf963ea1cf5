package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/swiftride/ridepay/internal/worker"
)

// Notification kinds sent after payment state changes.
const (
	NotifyPaymentSuccess = "payment_success"
	NotifyPaymentFailed  = "payment_failed"
	NotifyRefundIssued   = "refund_issued"
	NotifyCashoutCreated = "cashout_created"
)

// Notification is the message handed to the notification transport.
// NotificationID is an idempotency key: consumers drop duplicates, so
// at-least-once delivery is safe.
type Notification struct {
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NoopNotifier drops notifications; used when no transport is
// configured.
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }

// RideUpdater pushes payment fields onto a ride record. The ride
// service is an external collaborator; failures here never affect the
// financial state.
type RideUpdater interface {
	UpdateRideStatus(ctx context.Context, rideID string, fields map[string]any) error
}

// Dispatcher fires side effects off the request path. Every method is
// fire-and-forget: errors are logged and counted, never returned.
type Dispatcher struct {
	pool     *worker.Pool
	notifier Notifier
	rides    RideUpdater
	timeout  time.Duration
}

func NewDispatcher(pool *worker.Pool, notifier Notifier, rides RideUpdater) *Dispatcher {
	return &Dispatcher{pool: pool, notifier: notifier, rides: rides, timeout: 10 * time.Second}
}

func (d *Dispatcher) Notify(userID, kind string, payload map[string]any) {
	if userID == "" {
		return
	}
	n := Notification{
		NotificationID: uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		Payload:        payload,
		SentAt:         time.Now(),
	}
	d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, n); err != nil {
			slog.Error("notification dispatch failed", "user_id", userID, "kind", kind, "err", err)
		}
	})
}

func (d *Dispatcher) UpdateRideStatus(rideID string, fields map[string]any) {
	if rideID == "" || d.rides == nil {
		return
	}
	d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.rides.UpdateRideStatus(ctx, rideID, fields); err != nil {
			slog.Error("ride status update failed", "ride_id", rideID, "err", err)
		}
	})
}
