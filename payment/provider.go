// Package payment hides the x402 protocol behind a two-step provider contract:
// create a challenge for an amount, then process the buyer's payment against it.
// Providers are looked up by name so the serving application can switch between
// the mock provider and the facilitator-backed provider by configuration.
package payment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	x402 "github.com/boorich/naveens"
)

// Provider names registered by the demo binary
const (
	ProviderMock         = "mock"
	ProviderX402Coinbase = "x402-coinbase"
	ProviderCoinbase     = "coinbase"
)

// DefaultLabel describes a payment when the caller gives no label
const DefaultLabel = "ride_payment"

// Provider creates payment challenges and turns a buyer's payment into a
// settlement proof. Verification is an internal step of ProcessPayment.
type Provider interface {
	CreateChallenge(ctx context.Context, amount decimal.Decimal, label string, cfg Config) (*Challenge, error)
	ProcessPayment(ctx context.Context, challenge *Challenge, payload x402.PaymentPayload, cfg Config) (*Proof, error)
}

// Config is the per-request provider configuration
type Config struct {
	// Mode selects the provider by registry name
	Mode string

	// BaseURL of the serving application; the resource URL defaults to BaseURL/api/pay
	BaseURL string

	// ResourceURL overrides the resource URL placed in challenges
	ResourceURL string

	// PayTo is the recipient wallet
	PayTo string

	// FacilitatorURL is required by the facilitator-backed provider
	FacilitatorURL string

	// Network the facilitator-backed provider charges on
	Network x402.Network
}

func (c Config) resourceURL() string {
	if c.ResourceURL != "" {
		return c.ResourceURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/api/pay"
}

// Challenge is a PAYMENT-REQUIRED response together with its identity
type Challenge struct {
	ID        string               `json:"id"`
	Required  x402.PaymentRequired `json:"required"`
	CreatedAt time.Time            `json:"createdAt"`
}

func newChallenge(required x402.PaymentRequired) *Challenge {
	return &Challenge{
		ID:        uuid.NewString(),
		Required:  required,
		CreatedAt: time.Now(),
	}
}

// Requirements returns the accepted requirement payload was built for
func (c *Challenge) Requirements(payload x402.PaymentPayload) (x402.PaymentRequirements, error) {
	if c == nil || len(c.Required.Accepts) == 0 {
		return x402.PaymentRequirements{}, fmt.Errorf("%w: missing requirements", ErrInvalidChallenge)
	}
	match, err := x402.MatchRequirements(c.Required.Accepts, payload)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	if match == nil {
		return x402.PaymentRequirements{}, ErrNoMatchingRequirements
	}
	return *match, nil
}

// Proof is the settlement proof returned to the application
type Proof struct {
	Transaction string       `json:"transaction"`
	Network     x402.Network `json:"network"`
	Payer       string       `json:"payer,omitempty"`
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return nil
}

func labelOrDefault(label string) string {
	if label == "" {
		return DefaultLabel
	}
	return label
}

// ============================================================================
// Registry
// ============================================================================

// Registry maps case-insensitive names to providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider under name
func (r *Registry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(name)] = provider
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	provider, ok := r.providers[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrProviderNotFound, name, strings.Join(r.List(), ", "))
	}
	return provider, nil
}

// List returns the registered names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterProvider registers a provider in the process-wide registry
func RegisterProvider(name string, provider Provider) {
	defaultRegistry.Register(name, provider)
}

// GetProvider looks up a provider in the process-wide registry
func GetProvider(name string) (Provider, error) {
	return defaultRegistry.Get(name)
}

// ListProviders lists the process-wide registry
func ListProviders() []string {
	return defaultRegistry.List()
}
