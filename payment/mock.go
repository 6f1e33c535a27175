package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402 "github.com/boorich/naveens"
	"github.com/boorich/naveens/mechanisms/evm"
)

// MockNetwork is the network mock challenges are issued on (Base Sepolia)
const MockNetwork x402.Network = "eip155:84532"

const (
	DefaultMockVerifyDelay = 800 * time.Millisecond
	DefaultMockSettleDelay = 1200 * time.Millisecond
)

// Ensure MockProvider implements Provider
var _ Provider = (*MockProvider)(nil)

// MockProvider simulates a facilitator: verification always succeeds and
// settlement returns a random transaction hash after a realistic delay.
type MockProvider struct {
	verifyDelay time.Duration
	settleDelay time.Duration
	logger      *zap.Logger
}

// MockOption configures a MockProvider
type MockOption func(*MockProvider)

// WithMockDelays sets the simulated verify and settle latency
func WithMockDelays(verify, settle time.Duration) MockOption {
	return func(p *MockProvider) {
		p.verifyDelay = verify
		p.settleDelay = settle
	}
}

// WithMockLogger sets the logger
func WithMockLogger(logger *zap.Logger) MockOption {
	return func(p *MockProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewMockProvider(opts ...MockOption) *MockProvider {
	p := &MockProvider{
		verifyDelay: DefaultMockVerifyDelay,
		settleDelay: DefaultMockSettleDelay,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("provider", ProviderMock))
	return p
}

// CreateChallenge issues a USDC challenge on MockNetwork
func (p *MockProvider) CreateChallenge(ctx context.Context, amount decimal.Decimal, label string, cfg Config) (*Challenge, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	asset := evm.NetworkConfigs[string(MockNetwork)].DefaultAsset
	atomic, err := x402.ConvertToTokenAmount(amount.String(), asset.Decimals)
	if err != nil {
		return nil, err
	}

	payTo := cfg.PayTo
	if payTo == "" {
		payTo = evm.ZeroAddress
	}

	resourceURL := cfg.resourceURL()
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       "Payment required",
		Resource: &x402.ResourceInfo{
			URL:         resourceURL,
			Description: labelOrDefault(label),
			MimeType:    "application/json",
		},
		Accepts: []x402.PaymentRequirements{{
			Scheme:            evm.SchemeExact,
			Network:           MockNetwork,
			Asset:             asset.Address,
			Amount:            atomic,
			PayTo:             payTo,
			MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
			Extra: map[string]interface{}{
				"name":        asset.Name,
				"version":     asset.Version,
				"resourceUrl": resourceURL,
			},
		}},
	}

	challenge := newChallenge(required)
	p.logger.Debug("challenge created", zap.String("challenge", challenge.ID), zap.String("amount", atomic))
	return challenge, nil
}

// ProcessPayment waits out the simulated verify and settle delays and returns
// a random transaction on the challenge's network.
func (p *MockProvider) ProcessPayment(ctx context.Context, challenge *Challenge, payload x402.PaymentPayload, cfg Config) (*Proof, error) {
	requirements, err := challenge.Requirements(payload)
	if err != nil {
		return nil, err
	}

	if err := sleep(ctx, p.verifyDelay); err != nil {
		return nil, err
	}
	if err := sleep(ctx, p.settleDelay); err != nil {
		return nil, err
	}

	tx, err := randomHash()
	if err != nil {
		return nil, err
	}
	payer, err := randomAddress()
	if err != nil {
		return nil, err
	}

	p.logger.Info("mock payment settled", zap.String("challenge", challenge.ID), zap.String("transaction", tx.Hex()))
	return &Proof{
		Transaction: tx.Hex(),
		Network:     requirements.Network,
		Payer:       payer.Hex(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomHash() (common.Hash, error) {
	var b [common.HashLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		return common.Hash{}, fmt.Errorf("generate transaction hash: %w", err)
	}
	return common.BytesToHash(b[:]), nil
}

func randomAddress() (common.Address, error) {
	var b [common.AddressLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		return common.Address{}, fmt.Errorf("generate payer address: %w", err)
	}
	return common.BytesToAddress(b[:]), nil
}
