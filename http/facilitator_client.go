package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/boorich/naveens"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient communicates with remote facilitator services over HTTP
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
	logger       *zap.Logger
}

// Ensure HTTPFacilitatorClient implements FacilitatorClient
var _ x402.FacilitatorClient = (*HTTPFacilitatorClient)(nil)

// AuthProvider generates authentication headers for facilitator requests.
// It is called for every request; headers are never cached by the client.
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthProviderFunc adapts a function to AuthProvider
type AuthProviderFunc func(ctx context.Context) (AuthHeaders, error)

func (f AuthProviderFunc) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return f(ctx)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string

	// Logger (optional)
	Logger *zap.Logger
}

// DefaultFacilitatorURL is the default public facilitator
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// getSupportedRetries is the number of attempts for GetSupported when rate limited
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
var getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
		logger:       logger.With(zap.String("facilitator", identifier)),
	}
}

// URL returns the facilitator base URL
func (c *HTTPFacilitatorClient) URL() string {
	return c.url
}

// Identifier returns the facilitator identifier
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Verify asks the facilitator whether payload satisfies requirements.
// A non-2xx answer carrying a verify response becomes *x402.VerifyError;
// anything else unexpected becomes *x402.FacilitatorError.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	status, body, err := c.post(ctx, "verify", payload, requirements)
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	var response x402.VerifyResponse
	recognized := decodeEnvelope(body, "isValid", &response)

	switch {
	case isSuccess(status) && recognized:
		return response, nil
	case recognized:
		return x402.VerifyResponse{}, x402.NewVerifyError(status, response)
	default:
		return x402.VerifyResponse{}, &x402.FacilitatorError{Operation: "verify", StatusCode: status, Body: string(body)}
	}
}

// Settle asks the facilitator to execute the payment on-chain.
// A non-2xx answer carrying a settle response becomes *x402.SettleError.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	status, body, err := c.post(ctx, "settle", payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	var response x402.SettleResponse
	recognized := decodeEnvelope(body, "success", &response)

	switch {
	case isSuccess(status) && recognized:
		return response, nil
	case recognized:
		return x402.SettleResponse{}, x402.NewSettleError(status, response)
	default:
		return x402.SettleResponse{}, &x402.FacilitatorError{Operation: "settle", StatusCode: status, Body: string(body)}
	}
}

// GetSupported gets supported payment kinds.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		status, responseBody, err := c.do(req, "supported")
		if err != nil {
			return x402.SupportedResponse{}, err
		}

		if isSuccess(status) {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return x402.SupportedResponse{}, &x402.FacilitatorError{Operation: "supported", StatusCode: status, Body: string(responseBody), Err: err}
			}
			return supported, nil
		}

		lastErr = &x402.FacilitatorError{Operation: "supported", StatusCode: status, Body: string(responseBody)}

		// Retry on 429 with exponential backoff, except on the last attempt
		if status == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			c.logger.Debug("facilitator rate limited, retrying", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

// facilitatorRequest is the body of /verify and /settle
type facilitatorRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

func (c *HTTPFacilitatorClient) post(ctx context.Context, operation string, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (int, []byte, error) {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      jsonSafePayload(payload),
		PaymentRequirements: jsonSafeRequirements(requirements),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+operation, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	pick := func(h AuthHeaders) map[string]string { return h.Verify }
	if operation == "settle" {
		pick = func(h AuthHeaders) map[string]string { return h.Settle }
	}
	if err := c.applyAuth(ctx, req, pick); err != nil {
		return 0, nil, err
	}

	return c.do(req, operation)
}

func (c *HTTPFacilitatorClient) do(req *http.Request, operation string) (int, []byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &x402.FacilitatorError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &x402.FacilitatorError{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("facilitator response",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return resp.StatusCode, responseBody, nil
}

func (c *HTTPFacilitatorClient) applyAuth(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(headers) {
		req.Header.Set(k, v)
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// decodeEnvelope decodes body into out when it is a JSON object containing
// the discriminating key. Reports whether the body is a recognized response.
func decodeEnvelope(body []byte, key string, out interface{}) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	if _, ok := fields[key]; !ok {
		return false
	}
	return json.Unmarshal(body, out) == nil
}

// maxSafeInteger is the largest integer a JSON number can carry without loss
// in JavaScript-based facilitators.
const maxSafeInteger = 1<<53 - 1

func jsonSafePayload(p x402.PaymentPayload) x402.PaymentPayload {
	p.Payload = jsonSafeMap(p.Payload)
	p.Extensions = jsonSafeMap(p.Extensions)
	p.Accepted = jsonSafeRequirements(p.Accepted)
	return p
}

func jsonSafeRequirements(r x402.PaymentRequirements) x402.PaymentRequirements {
	r.Extra = jsonSafeMap(r.Extra)
	return r
}

func jsonSafeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = jsonSafe(v)
	}
	return out
}

// jsonSafe stringifies big and 64-bit integers so they survive JSON transport
func jsonSafe(v interface{}) interface{} {
	switch n := v.(type) {
	case map[string]interface{}:
		return jsonSafeMap(n)
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, item := range n {
			out[i] = jsonSafe(item)
		}
		return out
	case *big.Int:
		if n == nil {
			return nil
		}
		return n.String()
	case int64:
		if n > maxSafeInteger || n < -maxSafeInteger {
			return fmt.Sprintf("%d", n)
		}
	case uint64:
		if n > maxSafeInteger {
			return fmt.Sprintf("%d", n)
		}
	}
	return v
}
