package x402

import (
	"context"

	"github.com/shopspring/decimal"
)

// MoneyParser is a function that converts a decimal amount to an AssetAmount
// If the parser cannot handle the conversion, it should return nil
// Multiple parsers can be registered and will be tried in order
// The default parser is always used as a fallback
//
// Args:
//
//	amount: Decimal amount (e.g., 1.50 for $1.50)
//	network: Network identifier
//
// Returns:
//
//	AssetAmount or nil if this parser cannot handle the conversion
type MoneyParser func(amount decimal.Decimal, network Network) (*AssetAmount, error)

// SchemeNetworkServer is implemented by server-side payment mechanisms.
// It knows how to price a resource and enrich requirements for one scheme.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhancePaymentRequirements may add scheme-specific metadata to Extra.
	// The base fields (scheme, network, amount, asset, payTo, maxTimeoutSeconds)
	// must be returned unchanged.
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensions []string,
	) (PaymentRequirements, error)
}

// FacilitatorClient verifies and settles payments through a facilitator service.
// Implementations return *VerifyError / *SettleError when the facilitator rejects
// a payment and *FacilitatorError when the facilitator cannot be used.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
