package x402

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMoneyConversion converts a decimal amount into the default asset of a network
type DefaultMoneyConversion func(amount decimal.Decimal, network Network) (AssetAmount, error)

// MoneyParserChain holds custom money parsers shared by scheme servers.
// Parsers run in registration order; the first non-nil result wins and the
// scheme's default conversion is the final fallback.
type MoneyParserChain struct {
	parsers []MoneyParser
}

// Register appends a parser to the chain
func (c *MoneyParserChain) Register(parser MoneyParser) {
	c.parsers = append(c.parsers, parser)
}

// Len returns the number of registered parsers
func (c *MoneyParserChain) Len() int {
	return len(c.parsers)
}

// ParsePrice resolves a price for network.
//
// An AssetAmount passes through unchanged (its asset must be set). Anything else
// is treated as Money, parsed to a decimal and offered to each custom parser
// before falling back to fallback.
func (c *MoneyParserChain) ParsePrice(price Price, network Network, fallback DefaultMoneyConversion) (AssetAmount, error) {
	switch p := price.(type) {
	case AssetAmount:
		return checkAssetAmount(p, network)
	case *AssetAmount:
		if p == nil {
			return AssetAmount{}, NewPaymentError(ErrCodeInvalidMoneyFormat, "price is nil", nil)
		}
		return checkAssetAmount(*p, network)
	}

	amount, err := ParseMoneyToDecimal(price)
	if err != nil {
		return AssetAmount{}, err
	}

	for _, parser := range c.parsers {
		result, err := parser(amount, network)
		if err != nil {
			return AssetAmount{}, fmt.Errorf("money parser failed: %w", err)
		}
		if result != nil {
			return checkAssetAmount(*result, network)
		}
	}

	return fallback(amount, network)
}

func checkAssetAmount(a AssetAmount, network Network) (AssetAmount, error) {
	if a.Asset == "" {
		return AssetAmount{}, NewPaymentError(
			ErrCodeMissingAsset,
			fmt.Sprintf("asset address must be specified for AssetAmount on network %s", network),
			nil,
		)
	}
	amount, ok := new(big.Int).SetString(a.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return AssetAmount{}, NewPaymentError(
			ErrCodeInvalidMoneyFormat,
			fmt.Sprintf("asset amount must be a non-negative integer in atomic units, got %q", a.Amount),
			nil,
		)
	}

	extra := make(map[string]interface{}, len(a.Extra))
	for k, v := range a.Extra {
		extra[k] = v
	}
	return AssetAmount{Asset: a.Asset, Amount: a.Amount, Extra: extra}, nil
}

// ParseMoneyToDecimal parses Money (a string such as "$1.50" or "1.50", or a number)
// into an exact decimal.
func ParseMoneyToDecimal(money Price) (decimal.Decimal, error) {
	var amount decimal.Decimal

	switch m := money.(type) {
	case string:
		clean := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m), "$"))
		d, err := decimal.NewFromString(clean)
		if err != nil {
			return decimal.Decimal{}, NewPaymentError(ErrCodeInvalidMoneyFormat, fmt.Sprintf("invalid money format: %s", m), nil)
		}
		amount = d
	case decimal.Decimal:
		amount = m
	case *decimal.Decimal:
		if m == nil {
			return decimal.Decimal{}, NewPaymentError(ErrCodeInvalidMoneyFormat, "price is nil", nil)
		}
		amount = *m
	case json.Number:
		d, err := decimal.NewFromString(m.String())
		if err != nil {
			return decimal.Decimal{}, NewPaymentError(ErrCodeInvalidMoneyFormat, fmt.Sprintf("invalid money format: %s", m), nil)
		}
		amount = d
	default:
		d, ok := toDecimal(money)
		if !ok {
			return decimal.Decimal{}, NewPaymentError(ErrCodeInvalidMoneyFormat, fmt.Sprintf("invalid money format: %v", money), nil)
		}
		amount = d
	}

	if amount.IsNegative() {
		return decimal.Decimal{}, NewPaymentError(ErrCodeInvalidMoneyFormat, fmt.Sprintf("negative amount: %s", amount), nil)
	}
	return amount, nil
}

// ConvertToTokenAmount converts a decimal amount string to atomic units for a
// token with the given decimals, e.g. "0.10" -> "100000" for 6 decimals.
// The fractional part is right-padded or truncated to decimals digits; no
// floating point arithmetic is involved.
func ConvertToTokenAmount(decimalAmount string, decimals int) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(decimalAmount))
	if err != nil {
		return "", NewPaymentError(ErrCodeInvalidMoneyFormat, fmt.Sprintf("invalid amount: %s", decimalAmount), nil)
	}
	if d.IsNegative() {
		return "", NewPaymentError(ErrCodeInvalidMoneyFormat, fmt.Sprintf("negative amount: %s", decimalAmount), nil)
	}
	if decimals < 0 {
		return "", fmt.Errorf("invalid token decimals: %d", decimals)
	}

	intPart, fracPart, _ := strings.Cut(d.String(), ".")
	if len(fracPart) < decimals {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	}
	fracPart = fracPart[:decimals]

	tokenAmount := strings.TrimLeft(intPart+fracPart, "0")
	if tokenAmount == "" {
		tokenAmount = "0"
	}
	return tokenAmount, nil
}

// FormatTokenAmount converts atomic units back to a decimal string
func FormatTokenAmount(tokenAmount string, decimals int) (string, error) {
	amount, ok := new(big.Int).SetString(tokenAmount, 10)
	if !ok {
		return "", fmt.Errorf("invalid token amount: %s", tokenAmount)
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String(), nil
}
