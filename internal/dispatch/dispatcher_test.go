package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/swiftride/ridepay/internal/worker"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

type recordingRides struct {
	mu      sync.Mutex
	updates map[string]map[string]any
}

func (r *recordingRides) UpdateRideStatus(_ context.Context, rideID string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = map[string]map[string]any{}
	}
	r.updates[rideID] = fields
	return nil
}

// Everything queued before the pool stops must reach the transport;
// shutdown drains, it does not drop.
func TestQueuedEffectsDeliveredOnPoolStop(t *testing.T) {
	pool := worker.NewPool(2)
	notifier := &recordingNotifier{}
	rides := &recordingRides{}
	d := NewDispatcher(pool, notifier, rides)

	for i := 0; i < 20; i++ {
		d.Notify(fmt.Sprintf("user-%d", i), NotifyPaymentSuccess, map[string]any{"n": i})
	}
	d.UpdateRideStatus("ride-1", map[string]any{"payment_status": "paid"})

	pool.Stop()

	if len(notifier.sent) != 20 {
		t.Fatalf("delivered %d notifications, want 20", len(notifier.sent))
	}
	seen := map[string]bool{}
	for _, n := range notifier.sent {
		if n.NotificationID == "" {
			t.Fatal("notification missing idempotency key")
		}
		seen[n.UserID] = true
	}
	if len(seen) != 20 {
		t.Fatalf("distinct users notified = %d, want 20", len(seen))
	}
	if rides.updates["ride-1"] == nil {
		t.Fatal("queued ride update dropped at shutdown")
	}
}

func TestNotifySkipsEmptyUser(t *testing.T) {
	pool := worker.NewPool(1)
	notifier := &recordingNotifier{}
	d := NewDispatcher(pool, notifier, nil)

	d.Notify("", NotifyPaymentFailed, nil)
	d.UpdateRideStatus("", nil)
	pool.Stop()

	if len(notifier.sent) != 0 {
		t.Fatalf("sent %d notifications for empty user, want 0", len(notifier.sent))
	}
}
