package gateway

import (
	"context"
	"fmt"
	"sync"
)

// WebhookAction is the normalized action tag of an inbound event.
type WebhookAction string

const (
	ActionPaymentCompleted WebhookAction = "PAYMENT_COMPLETED"
	ActionPaymentFailed    WebhookAction = "PAYMENT_FAILED"
	ActionOther            WebhookAction = "OTHER"
)

type InitiateResult struct {
	Success          bool
	GatewayReference string
	Status           string // pending | completed per provider
	AuthorizationURL string
	Raw              []byte
}

type VerifyResult struct {
	Success bool
	// Final reports whether the provider considers the charge settled.
	// Success=false with Final=false means the customer has not
	// finished checkout yet, not that the payment failed.
	Final         bool
	Status        string
	Amount        int64
	Currency      string
	PaymentMethod string
	Raw           []byte
}

type RefundResult struct {
	Success  bool
	RefundID string
	Raw      []byte
}

type WebhookEvent struct {
	Valid            bool
	Action           WebhookAction
	GatewayReference string
	// TransactionID is the internal id echoed back through gateway
	// metadata, when the charge was initiated with one. It lets a
	// webhook that outruns the local reference write find its record.
	TransactionID string
	Amount        int64
	Currency      string
	Raw           []byte
}

// Adapter is the narrow contract every payment provider implements.
// Implementations own authentication, signing and provider retries;
// the reconciliation engine only sees these normalized shapes.
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, amount int64, currency, email string, metadata map[string]string) (InitiateResult, error)
	Verify(ctx context.Context, gatewayReference string) (VerifyResult, error)
	Refund(ctx context.Context, gatewayReference string, amount int64, reason string) (RefundResult, error)
	ParseWebhook(payload []byte, headers map[string]string) (WebhookEvent, error)
}

// Registry hands out one shared adapter instance per gateway name,
// built lazily from a registered constructor. It replaces a global
// provider singleton: construct one, pass it into the engine.
type Registry struct {
	mu        sync.Mutex
	builders  map[string]func() (Adapter, error)
	instances map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		builders:  map[string]func() (Adapter, error){},
		instances: map[string]Adapter{},
	}
}

func (r *Registry) Register(name string, build func() (Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = build
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.instances[name]; ok {
		return a, nil
	}
	build, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown gateway %q", name)
	}
	a, err := build()
	if err != nil {
		return nil, fmt.Errorf("init gateway %q: %w", name, err)
	}
	r.instances[name] = a
	return a, nil
}
