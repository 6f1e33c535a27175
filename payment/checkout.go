package payment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	x402 "github.com/boorich/naveens"
)

// PayRequest is the body of a pay request
type PayRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Label  string           `json:"label"`
}

// Validate checks that an amount is present and positive
func (r PayRequest) Validate() error {
	if r.Amount == nil {
		return ErrInvalidAmount
	}
	return validateAmount(*r.Amount)
}

// PayResponse is the body returned once a payment settled
type PayResponse struct {
	Success     bool         `json:"success"`
	Transaction string       `json:"transaction"`
	Network     x402.Network `json:"network"`
	Amount      json.Number  `json:"amount"`
}

// PublicConfig is the non-sensitive configuration shown to buyers
type PublicConfig struct {
	Mode          string       `json:"mode"`
	Network       x402.Network `json:"network"`
	DriverWallet  string       `json:"driverWallet"`
	LkrPerUsdc    float64      `json:"lkrPerUsdc"`
	DriverName    string       `json:"driverName"`
	DriverCity    string       `json:"driverCity"`
	DriverCountry string       `json:"driverCountry"`
}

// Checkout is the outcome of one pay request. Exactly one of Challenge and
// Proof is set.
type Checkout struct {
	Challenge *Challenge
	Proof     *Proof
}

// PaymentRequired reports whether the buyer still has to pay
func (c *Checkout) PaymentRequired() bool {
	return c.Proof == nil
}

// SettleResponse renders the proof for the PAYMENT-RESPONSE header
func (c *Checkout) SettleResponse() x402.SettleResponse {
	if c.Proof == nil {
		return x402.SettleResponse{}
	}
	return x402.SettleResponse{
		Success:     true,
		Transaction: c.Proof.Transaction,
		Network:     c.Proof.Network,
		Payer:       c.Proof.Payer,
	}
}

// Response renders a settled checkout for amount
func (c *Checkout) Response(amount decimal.Decimal) PayResponse {
	settled := c.SettleResponse()
	return PayResponse{
		Success:     settled.Success,
		Transaction: settled.Transaction,
		Network:     settled.Network,
		Amount:      json.Number(amount.String()),
	}
}

// Checkout runs one round of the pay endpoint. Without a payload it issues a
// challenge. With one, the challenge is rebuilt from the same inputs and the
// payment is processed against it, so no challenge state is kept between the
// two requests.
func (s *Service) Checkout(ctx context.Context, amount decimal.Decimal, label string, payload *x402.PaymentPayload, cfg Config) (*Checkout, error) {
	challenge, err := s.RequestPayment(ctx, amount, label, cfg)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return &Checkout{Challenge: challenge}, nil
	}

	proof, err := s.ProcessPayment(ctx, amount, label, challenge, *payload, cfg)
	if err != nil {
		return nil, err
	}
	return &Checkout{Proof: proof}, nil
}
