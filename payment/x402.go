package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402 "github.com/boorich/naveens"
	x402http "github.com/boorich/naveens/http"
	"github.com/boorich/naveens/mechanisms/evm"
	evmserver "github.com/boorich/naveens/mechanisms/evm/exact/server"
	"github.com/boorich/naveens/mechanisms/svm"
	svmserver "github.com/boorich/naveens/mechanisms/svm/exact/server"
)

// DefaultNetwork is charged on when the configuration names no network
const DefaultNetwork x402.Network = "eip155:84532"

// ServerFactory builds an uninitialized resource server for a facilitator and network
type ServerFactory func(facilitatorURL string, network x402.Network) *x402.X402ResourceServer

// Ensure X402Provider implements Provider
var _ Provider = (*X402Provider)(nil)

// X402Provider charges through a real facilitator using the resource server.
// One initialized server is kept per (facilitator URL, network) and rebuilt
// when either changes.
type X402Provider struct {
	mu        sync.Mutex
	server    *x402.X402ResourceServer
	serverKey serverKey

	factory       ServerFactory
	serverOptions []x402.ResourceServerOption
	logger        *zap.Logger
}

type serverKey struct {
	facilitatorURL string
	network        x402.Network
}

// X402Option configures an X402Provider
type X402Option func(*X402Provider)

// WithServerFactory replaces how resource servers are built
func WithServerFactory(factory ServerFactory) X402Option {
	return func(p *X402Provider) {
		p.factory = factory
	}
}

// WithServerOptions passes options to every resource server the default factory builds
func WithServerOptions(opts ...x402.ResourceServerOption) X402Option {
	return func(p *X402Provider) {
		p.serverOptions = append(p.serverOptions, opts...)
	}
}

// WithX402Logger sets the logger
func WithX402Logger(logger *zap.Logger) X402Option {
	return func(p *X402Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewX402Provider(opts ...X402Option) *X402Provider {
	p := &X402Provider{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		p.factory = p.defaultServer
	}
	p.logger = p.logger.With(zap.String("provider", ProviderX402Coinbase))
	return p
}

// defaultServer registers the exact scheme for the network's family
func (p *X402Provider) defaultServer(facilitatorURL string, network x402.Network) *x402.X402ResourceServer {
	facilitator := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL:    facilitatorURL,
		Logger: p.logger,
	})

	opts := []x402.ResourceServerOption{
		x402.WithFacilitatorClient(facilitator),
		x402.WithLogger(p.logger),
	}
	if svm.IsSolanaNetwork(string(network)) {
		opts = append(opts, x402.WithSchemeServer(svm.NetworkPattern, svmserver.NewExactSvmScheme()))
	} else {
		opts = append(opts, x402.WithSchemeServer(evm.NetworkPattern, evmserver.NewExactEvmScheme()))
	}
	opts = append(opts, p.serverOptions...)

	return x402http.NewResourceServer(opts...)
}

// resourceServer returns the initialized server for cfg, building it on first
// use or when the facilitator or network changed.
func (p *X402Provider) resourceServer(ctx context.Context, cfg Config) (*x402.X402ResourceServer, error) {
	key := serverKey{facilitatorURL: cfg.FacilitatorURL, network: networkOrDefault(cfg.Network)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil && p.serverKey == key {
		return p.server, nil
	}

	server := p.factory(key.facilitatorURL, key.network)
	if err := server.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize resource server: %w", err)
	}

	p.logger.Info("resource server initialized",
		zap.String("facilitatorUrl", key.facilitatorURL),
		zap.String("network", string(key.network)))
	p.server = server
	p.serverKey = key
	return server, nil
}

// CreateChallenge prices amount as a dollar string and builds requirements
// through the facilitator-backed resource server.
func (p *X402Provider) CreateChallenge(ctx context.Context, amount decimal.Decimal, label string, cfg Config) (*Challenge, error) {
	if cfg.FacilitatorURL == "" {
		return nil, fmt.Errorf("%w: FACILITATOR_URL must be configured for %s payments", ErrMissingConfig, ProviderX402Coinbase)
	}
	if cfg.PayTo == "" {
		return nil, fmt.Errorf("%w: DRIVER_USDC_WALLET must be configured", ErrMissingConfig)
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	server, err := p.resourceServer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment challenge: %w", err)
	}

	requirements, err := server.BuildPaymentRequirements(ctx, x402.ResourceConfig{
		Scheme:  evm.SchemeExact,
		Price:   "$" + amount.StringFixed(6),
		Network: networkOrDefault(cfg.Network),
		PayTo:   cfg.PayTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment challenge: %w", err)
	}
	if len(requirements) == 0 {
		return nil, errors.New("failed to create payment challenge: facilitator produced no payment requirements")
	}

	required := server.CreatePaymentRequiredResponse(requirements[:1], x402.ResourceInfo{
		URL:         cfg.resourceURL(),
		Description: labelOrDefault(label),
		MimeType:    "application/json",
	}, "", nil)

	return newChallenge(required), nil
}

// ProcessPayment matches payload against the challenge, verifies it and settles it
func (p *X402Provider) ProcessPayment(ctx context.Context, challenge *Challenge, payload x402.PaymentPayload, cfg Config) (*Proof, error) {
	requirements, err := challenge.Requirements(payload)
	if err != nil {
		return nil, err
	}

	server, err := p.resourceServer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	verification, err := server.VerifyPayment(ctx, payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}
	if !verification.IsValid {
		reason := verification.InvalidReason
		if reason == "" {
			reason = "Payment verification failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, reason)
	}

	settlement, err := server.SettlePayment(ctx, payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("payment settlement failed: %w", err)
	}

	proof := &Proof{
		Transaction: settlement.Transaction,
		Network:     settlement.Network,
		Payer:       settlement.Payer,
	}
	if proof.Network == "" {
		proof.Network = requirements.Network
	}
	if proof.Payer == "" {
		proof.Payer = verification.Payer
	}
	return proof, nil
}

func networkOrDefault(network x402.Network) x402.Network {
	if network == "" {
		return DefaultNetwork
	}
	return network
}
