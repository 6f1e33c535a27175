package x402

import (
	"context"
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 version this server builds requirements and challenges for
const ProtocolVersion = 2

// DefaultMaxTimeoutSeconds is applied when a resource config leaves the timeout unset
const DefaultMaxTimeoutSeconds = 300

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:8453" for Base mainnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// IsPattern reports whether the network contains a wildcard
func (n Network) IsPattern() bool {
	return strings.Contains(string(n), "*")
}

// Price represents a price that can be specified in various formats:
// a Money value (string such as "$0.50", or a number), an AssetAmount,
// or a DynamicPrice resolved per request.
type Price interface{}

// DynamicPrice resolves a price from the request being served
type DynamicPrice func(ctx context.Context, reqCtx RequestContext) (Price, error)

// DynamicPayTo resolves a recipient address from the request being served
type DynamicPayTo func(ctx context.Context, reqCtx RequestContext) (string, error)

// RequestContext is the transport data available when resolving dynamic options
type RequestContext struct {
	Method  string
	Path    string
	Headers map[string]string
	Params  map[string]string
}

// AssetAmount represents an amount of a specific asset in atomic units
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements defines what payment is acceptable for a resource
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload contains the signed payment authorization from a buyer
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Scheme      string                 `json:"scheme,omitempty"`  // v1: scheme at top level
	Network     string                 `json:"network,omitempty"` // v1: network at top level
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// SchemeAndNetwork returns the scheme and network the payload was built for.
// Legacy v1 payloads may carry them at the top level instead of in Accepted.
func (p PaymentPayload) SchemeAndNetwork() (string, Network) {
	scheme, network := p.Accepted.Scheme, p.Accepted.Network
	if scheme == "" {
		scheme = p.Scheme
	}
	if network == "" {
		network = Network(p.Network)
	}
	return scheme, network
}

// ResourceInfo describes the resource being accessed
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentRequired is the 402 challenge sent to buyers
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse contains the settlement result
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what payment kinds a facilitator supports
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions"`
}

// ResourceConfig defines payment configuration for a protected resource
type ResourceConfig struct {
	Scheme            string  `json:"scheme" validate:"required"`
	PayTo             string  `json:"payTo" validate:"required"`
	Price             Price   `json:"price"`
	Network           Network `json:"network" validate:"required"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty" validate:"gte=0"`
}

// PaymentOption is one accepted way to pay for a resource.
// PayToFunc and a DynamicPrice held in Price are resolved per request.
type PaymentOption struct {
	Scheme            string
	Network           Network
	PayTo             string
	PayToFunc         DynamicPayTo
	Price             Price
	MaxTimeoutSeconds int
}

// ProcessResult contains the result of processing a payment request
type ProcessResult struct {
	Success            bool
	RequiresPayment    *PaymentRequired
	VerificationResult *VerifyResponse
	Error              string
}
