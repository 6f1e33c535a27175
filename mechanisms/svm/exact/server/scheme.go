package server

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	x402 "github.com/boorich/naveens"
	"github.com/boorich/naveens/mechanisms/svm"
)

// Ensure ExactSvmScheme implements SchemeNetworkServer
var _ x402.SchemeNetworkServer = (*ExactSvmScheme)(nil)

// ExactSvmScheme prices resources for the "exact" scheme on Solana clusters
type ExactSvmScheme struct {
	moneyParsers x402.MoneyParserChain
}

func NewExactSvmScheme() *ExactSvmScheme {
	return &ExactSvmScheme{}
}

// RegisterMoneyParser adds a custom parser ahead of the default USDC conversion
func (s *ExactSvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactSvmScheme {
	s.moneyParsers.Register(parser)
	return s
}

func (s *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

func (s *ExactSvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return s.moneyParsers.ParsePrice(price, network, s.defaultMoneyConversion)
}

func (s *ExactSvmScheme) defaultMoneyConversion(amount decimal.Decimal, network x402.Network) (x402.AssetAmount, error) {
	config, err := svm.GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	tokenAmount, err := x402.ConvertToTokenAmount(amount.String(), config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	return x402.AssetAmount{
		Amount: tokenAmount,
		Asset:  config.DefaultAsset.Address,
		Extra:  map[string]interface{}{},
	}, nil
}

// EnhancePaymentRequirements validates the recipient and mint and adds the
// facilitator's feePayer, which pays transaction fees on Solana.
func (s *ExactSvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	facilitatorExtensions []string,
) (x402.PaymentRequirements, error) {
	if err := svm.ValidateSolanaAddress(requirements.PayTo); err != nil {
		return requirements, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, fmt.Sprintf("payTo: %v", err), nil)
	}
	if err := svm.ValidateSolanaAddress(requirements.Asset); err != nil {
		return requirements, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, fmt.Sprintf("asset: %v", err), nil)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	if feePayer, ok := supportedKind.Extra["feePayer"].(string); ok {
		if err := svm.ValidateSolanaAddress(feePayer); err != nil {
			return requirements, fmt.Errorf("facilitator feePayer: %w", err)
		}
		requirements.Extra["feePayer"] = feePayer
	}

	for _, key := range facilitatorExtensions {
		if val, ok := supportedKind.Extra[key]; ok {
			requirements.Extra[key] = val
		}
	}

	return requirements, nil
}
