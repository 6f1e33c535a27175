package x402

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/boorich/naveens/metrics"
)

// X402ResourceServer builds payment requirements for protected resources and
// drives verification and settlement through the configured facilitators.
type X402ResourceServer struct {
	mu                 sync.RWMutex
	schemes            *NetworkRegistry[SchemeNetworkServer]
	facilitatorClients []FacilitatorClient
	// generation changes whenever facilitatorClients is replaced
	generation uint64

	// supported is nil until Initialize has run for the current facilitator set
	supported atomic.Pointer[capabilities]

	settlementCache *SettlementCache
	logger          *zap.Logger
	metrics         metrics.Recorder

	// Lifecycle hooks
	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// ResourceServerOption configures the server
type ResourceServerOption func(*X402ResourceServer)

// WithFacilitatorClient adds a facilitator client. Clients added earlier take
// precedence when several support the same (version, network, scheme).
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.facilitatorClients = append(s.facilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server implementation
func WithSchemeServer(network Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.registerScheme(network, schemeServer)
	}
}

// WithLogger sets the logger used by the server
func WithLogger(logger *zap.Logger) ResourceServerOption {
	return func(s *X402ResourceServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the recorder for verify/settle counters and latencies
func WithMetrics(recorder metrics.Recorder) ResourceServerOption {
	return func(s *X402ResourceServer) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithSettlementCache makes SettlePayment idempotent for identical payloads within ttl
func WithSettlementCache(ttl time.Duration) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.settlementCache = NewSettlementCache(ttl)
	}
}

func Newx402ResourceServer(opts ...ResourceServerOption) *X402ResourceServer {
	s := &X402ResourceServer{
		schemes: NewNetworkRegistry[SchemeNetworkServer](),
		logger:  zap.NewNop(),
		metrics: metrics.NoopRecorder{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register adds a scheme server for network (which may be a pattern such as "eip155:*").
// The first registration for a (network, scheme) pair is kept.
func (s *X402ResourceServer) Register(network Network, schemeServer SchemeNetworkServer) *X402ResourceServer {
	return s.registerScheme(network, schemeServer)
}

func (s *X402ResourceServer) registerScheme(network Network, schemeServer SchemeNetworkServer) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.schemes.Register(network, schemeServer.Scheme(), schemeServer) {
		s.logger.Warn("scheme already registered, keeping first registration",
			zap.String("network", string(network)),
			zap.String("scheme", schemeServer.Scheme()))
	}
	return s
}

// HasRegisteredScheme reports whether a scheme server resolves for (network, scheme)
func (s *X402ResourceServer) HasRegisteredScheme(network Network, scheme string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.schemes.Find(scheme, network)
	return ok
}

// SetFacilitatorClients replaces the facilitator list. The capability snapshot
// is dropped; Initialize must run again before requirements can be built.
func (s *X402ResourceServer) SetFacilitatorClients(clients ...FacilitatorClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facilitatorClients = append([]FacilitatorClient(nil), clients...)
	s.generation++
	s.supported.Store(nil)
}

// FacilitatorClients returns the configured facilitators in precedence order
func (s *X402ResourceServer) FacilitatorClients() []FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]FacilitatorClient(nil), s.facilitatorClients...)
}

// Initialize fetches supported payment kinds from every facilitator and swaps
// in a freshly built capability snapshot. A facilitator that fails is skipped;
// an error is returned only when none answered. If SetFacilitatorClients runs
// meanwhile the snapshot is discarded and ErrFacilitatorsChanged is returned.
func (s *X402ResourceServer) Initialize(ctx context.Context) error {
	s.mu.RLock()
	clients := append([]FacilitatorClient(nil), s.facilitatorClients...)
	generation := s.generation
	s.mu.RUnlock()

	if len(clients) == 0 {
		return NewPaymentError(ErrCodeNoFacilitator, "no facilitator clients configured", nil)
	}

	snapshot := newCapabilities()
	var lastErr error
	successCount := 0

	// Process facilitators in order (earlier ones get precedence)
	for i, client := range clients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = fmt.Errorf("facilitator %d: %w", i, err)
			s.logger.Warn("failed to fetch supported kinds from facilitator",
				zap.Int("facilitator", i), zap.Error(err))
			continue
		}
		successCount++

		added := snapshot.add(client, supported)
		s.logger.Debug("facilitator capabilities loaded",
			zap.Int("facilitator", i),
			zap.Int("kinds", len(supported.Kinds)),
			zap.Int("assigned", added))
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		s.logger.Warn("facilitator set changed during initialization, discarding capabilities")
		return NewPaymentError(ErrCodeFacilitatorsChanged, "facilitator set changed during initialization", nil)
	}
	s.supported.Store(snapshot)
	s.mu.Unlock()

	if successCount == 0 {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}
	return nil
}

// GetSupportedKind returns the kind declared for (version, network, scheme), or nil
func (s *X402ResourceServer) GetSupportedKind(version int, network Network, scheme string) *SupportedKind {
	entry, ok := s.supported.Load().lookup(version, network, scheme)
	if !ok {
		return nil
	}
	kind := entry.kind
	return &kind
}

// GetFacilitatorExtensions returns the extensions advertised by the facilitator
// assigned to (version, network, scheme)
func (s *X402ResourceServer) GetFacilitatorExtensions(version int, network Network, scheme string) []string {
	entry, ok := s.supported.Load().lookup(version, network, scheme)
	if !ok || entry.extensions == nil {
		return []string{}
	}
	return append([]string(nil), entry.extensions...)
}

// GetFacilitatorClient returns the facilitator assigned to (version, network, scheme), or nil
func (s *X402ResourceServer) GetFacilitatorClient(version int, network Network, scheme string) FacilitatorClient {
	entry, ok := s.supported.Load().lookup(version, network, scheme)
	if !ok {
		return nil
	}
	return entry.client
}

// ============================================================================
// Hook Registration Methods (Chainable)
// ============================================================================

// OnBeforeVerify registers a hook to execute before payment verification
func (s *X402ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

// OnAfterVerify registers a hook to execute after successful payment verification
func (s *X402ResourceServer) OnAfterVerify(hook AfterVerifyHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

// OnVerifyFailure registers a hook to execute when payment verification fails
func (s *X402ResourceServer) OnVerifyFailure(hook OnVerifyFailureHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

// OnBeforeSettle registers a hook to execute before payment settlement
func (s *X402ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

// OnAfterSettle registers a hook to execute after successful payment settlement
func (s *X402ResourceServer) OnAfterSettle(hook AfterSettleHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

// OnSettleFailure registers a hook to execute when payment settlement fails
func (s *X402ResourceServer) OnSettleFailure(hook OnSettleFailureHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// ============================================================================
// Requirements
// ============================================================================

// BuildPaymentRequirements creates payment requirements for a resource.
//
// A resource whose (scheme, network) has no registered scheme server yields an
// empty list. A missing facilitator capability is an error, as is any attempt
// by the scheme's enhance step to alter the base fields. The enhanced
// requirement must carry an asset and an integer amount.
func (s *X402ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	if err := ValidateResourceConfig(config); err != nil {
		return nil, err
	}

	s.mu.RLock()
	schemeServer, ok := s.schemes.Find(config.Scheme, config.Network)
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("no scheme server registered, resource has no payment options",
			zap.String("scheme", config.Scheme),
			zap.String("network", string(config.Network)))
		return []PaymentRequirements{}, nil
	}

	supportedKind := s.GetSupportedKind(ProtocolVersion, config.Network, schemeServer.Scheme())
	if supportedKind == nil {
		return nil, NewPaymentError(
			ErrCodeFacilitatorUnsupported,
			fmt.Sprintf("facilitator does not support %s on %s", schemeServer.Scheme(), config.Network),
			map[string]interface{}{
				"hint": "call Initialize() to fetch supported kinds from facilitators",
			},
		)
	}
	extensions := s.GetFacilitatorExtensions(ProtocolVersion, config.Network, schemeServer.Scheme())

	assetAmount, err := schemeServer.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	base := PaymentRequirements{
		Scheme:            schemeServer.Scheme(),
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             make(map[string]interface{}, len(assetAmount.Extra)),
	}
	if base.MaxTimeoutSeconds == 0 {
		base.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	for k, v := range assetAmount.Extra {
		base.Extra[k] = v
	}

	kind := *supportedKind
	kind.X402Version = ProtocolVersion
	enhanced, err := schemeServer.EnhancePaymentRequirements(ctx, clonedRequirements(base), kind, extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}
	if !baseFieldsEqual(base, enhanced) {
		return nil, NewPaymentError(
			ErrCodeInvalidRequirements,
			fmt.Sprintf("scheme %s altered base requirement fields while enhancing", schemeServer.Scheme()),
			nil,
		)
	}
	if err := ValidatePaymentRequirements(enhanced); err != nil {
		return nil, err
	}

	return []PaymentRequirements{enhanced}, nil
}

// BuildPaymentRequirementsFromOptions resolves dynamic payTo and price for each
// option against reqCtx and builds requirements for all of them, in order.
func (s *X402ResourceServer) BuildPaymentRequirementsFromOptions(
	ctx context.Context,
	options []PaymentOption,
	reqCtx RequestContext,
) ([]PaymentRequirements, error) {
	all := []PaymentRequirements{}

	for i, option := range options {
		payTo := option.PayTo
		if option.PayToFunc != nil {
			resolved, err := option.PayToFunc(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("option %d: failed to resolve payTo: %w", i, err)
			}
			payTo = resolved
		}

		price := option.Price
		if dynamic, ok := price.(DynamicPrice); ok {
			resolved, err := dynamic(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("option %d: failed to resolve price: %w", i, err)
			}
			price = resolved
		}

		requirements, err := s.BuildPaymentRequirements(ctx, ResourceConfig{
			Scheme:            option.Scheme,
			PayTo:             payTo,
			Price:             price,
			Network:           option.Network,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("option %d: %w", i, err)
		}
		all = append(all, requirements...)
	}

	return all, nil
}

// CreatePaymentRequiredResponse creates a 402 response
func (s *X402ResourceServer) CreatePaymentRequiredResponse(
	requirements []PaymentRequirements,
	info ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) PaymentRequired {
	if requirements == nil {
		requirements = []PaymentRequirements{}
	}
	if errorMsg == "" {
		errorMsg = "Payment required"
	}

	response := PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    &info,
		Accepts:     requirements,
	}
	if len(extensions) > 0 {
		response.Extensions = extensions
	}
	return response
}

// FindMatchingRequirements returns the requirement the payload was built for.
// See MatchRequirements.
func (s *X402ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) (*PaymentRequirements, error) {
	return MatchRequirements(available, payload)
}

// MatchRequirements returns the requirement the payload was built for, or nil.
//
// Version 2 payloads must carry a structurally equal copy in Accepted. Version 1
// payloads match on (scheme, network) alone. Any other version is an error.
func MatchRequirements(available []PaymentRequirements, payload PaymentPayload) (*PaymentRequirements, error) {
	switch payload.X402Version {
	case 2:
		for i := range available {
			if RequirementsEqual(available[i], payload.Accepted) {
				match := available[i]
				return &match, nil
			}
		}
	case 1:
		scheme, network := payload.SchemeAndNetwork()
		for i := range available {
			if available[i].Scheme == scheme && available[i].Network == network {
				match := available[i]
				return &match, nil
			}
		}
	default:
		return nil, NewPaymentError(
			ErrCodeUnsupportedProtocolVersion,
			fmt.Sprintf("unsupported x402 version: %d", payload.X402Version),
			nil,
		)
	}
	return nil, nil
}

// ============================================================================
// Verify / Settle
// ============================================================================

// VerifyPayment verifies a payment against requirements.
//
// An invalid payment is reported as a VerifyResponse with IsValid=false, not as
// an error. Errors mean no facilitator produced a verdict.
func (s *X402ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	s.mu.RLock()
	beforeHooks := append([]BeforeVerifyHook(nil), s.beforeVerifyHooks...)
	afterHooks := append([]AfterVerifyHook(nil), s.afterVerifyHooks...)
	failureHooks := append([]OnVerifyFailureHook(nil), s.onVerifyFailureHooks...)
	s.mu.RUnlock()

	start := time.Now()
	hookCtx := VerifyContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Timestamp:    start,
	}
	log := s.logger.With(
		zap.String("scheme", requirements.Scheme),
		zap.String("network", string(requirements.Network)))

	for _, hook := range beforeHooks {
		outcome, err := hook(hookCtx)
		if err != nil {
			log.Warn("before verify hook failed", zap.Error(err))
			continue
		}
		if outcome.Action == HookAbort {
			log.Debug("verification aborted by hook", zap.String("reason", outcome.Reason))
			s.recordOutcome("verify", "aborted", requirements.Network, start)
			return VerifyResponse{IsValid: false, InvalidReason: outcome.Reason}, nil
		}
	}

	result, verifyErr := withFacilitators(s, payload, requirements,
		func(client FacilitatorClient) (VerifyResponse, error) {
			return client.Verify(ctx, payload, requirements)
		})

	if verifyErr == nil {
		resultCtx := VerifyResultContext{
			VerifyContext: hookCtx,
			Result:        result,
			Duration:      time.Since(start),
		}
		for _, hook := range afterHooks {
			if err := hook(resultCtx); err != nil {
				log.Warn("after verify hook failed", zap.Error(err))
			}
		}

		if result.IsValid {
			s.recordOutcome("verify", "valid", requirements.Network, start)
		} else {
			log.Debug("payment invalid", zap.String("reason", result.InvalidReason), zap.String("payer", result.Payer))
			s.recordOutcome("verify", "invalid", requirements.Network, start)
		}
		return result, nil
	}

	failureCtx := VerifyFailureContext{
		VerifyContext: hookCtx,
		Error:         verifyErr,
		Duration:      time.Since(start),
	}
	for _, hook := range failureHooks {
		outcome, err := hook(failureCtx)
		if err != nil {
			log.Warn("verify failure hook failed", zap.Error(err))
			continue
		}
		if outcome.Action == HookRecovered {
			log.Info("verification failure recovered by hook", zap.Error(verifyErr))
			s.recordOutcome("verify", "recovered", requirements.Network, start)
			return outcome.Result, nil
		}
	}

	log.Warn("verification failed", zap.Error(verifyErr))
	s.recordOutcome("verify", "error", requirements.Network, start)
	return VerifyResponse{}, verifyErr
}

// SettlePayment settles a verified payment.
//
// Settlement has no declined value: a facilitator answering success=false is
// turned into a *SettleError, and a before-settle abort returns ErrSettlementAborted.
func (s *X402ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	s.mu.RLock()
	beforeHooks := append([]BeforeSettleHook(nil), s.beforeSettleHooks...)
	afterHooks := append([]AfterSettleHook(nil), s.afterSettleHooks...)
	failureHooks := append([]OnSettleFailureHook(nil), s.onSettleFailureHooks...)
	cache := s.settlementCache
	s.mu.RUnlock()

	start := time.Now()
	hookCtx := SettleContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Timestamp:    start,
	}
	log := s.logger.With(
		zap.String("scheme", requirements.Scheme),
		zap.String("network", string(requirements.Network)))

	for _, hook := range beforeHooks {
		outcome, err := hook(hookCtx)
		if err != nil {
			log.Warn("before settle hook failed", zap.Error(err))
			continue
		}
		if outcome.Action == HookAbort {
			s.recordOutcome("settle", "aborted", requirements.Network, start)
			return SettleResponse{}, NewPaymentError(
				ErrCodeSettlementAborted,
				fmt.Sprintf("settlement aborted: %s", outcome.Reason),
				map[string]interface{}{"reason": outcome.Reason},
			)
		}
	}

	var release func(*SettleResponse)
	if cache != nil {
		key, err := SettlementKey(payload, requirements)
		if err != nil {
			return SettleResponse{}, fmt.Errorf("failed to derive settlement key: %w", err)
		}
		cached, done, err := cache.Acquire(ctx, key)
		if err != nil {
			return SettleResponse{}, err
		}
		if cached != nil {
			log.Debug("returning cached settlement", zap.String("transaction", cached.Transaction))
			s.recordOutcome("settle", "cached", requirements.Network, start)
			return *cached, nil
		}
		release = done
	}

	result, settleErr := withFacilitators(s, payload, requirements,
		func(client FacilitatorClient) (SettleResponse, error) {
			resp, err := client.Settle(ctx, payload, requirements)
			if err == nil && !resp.Success {
				return resp, NewSettleError(200, resp)
			}
			return resp, err
		})

	if release != nil {
		if settleErr == nil {
			release(&result)
		} else {
			release(nil)
		}
	}

	if settleErr == nil {
		resultCtx := SettleResultContext{
			SettleContext: hookCtx,
			Result:        result,
			Duration:      time.Since(start),
		}
		for _, hook := range afterHooks {
			if err := hook(resultCtx); err != nil {
				log.Warn("after settle hook failed", zap.Error(err))
			}
		}

		log.Info("payment settled", zap.String("transaction", result.Transaction), zap.String("payer", result.Payer))
		s.recordOutcome("settle", "success", requirements.Network, start)
		return result, nil
	}

	failureCtx := SettleFailureContext{
		SettleContext: hookCtx,
		Error:         settleErr,
		Duration:      time.Since(start),
	}
	for _, hook := range failureHooks {
		outcome, err := hook(failureCtx)
		if err != nil {
			log.Warn("settle failure hook failed", zap.Error(err))
			continue
		}
		if outcome.Action == HookRecovered {
			log.Info("settlement failure recovered by hook", zap.Error(settleErr))
			s.recordOutcome("settle", "recovered", requirements.Network, start)
			return outcome.Result, nil
		}
	}

	log.Error("settlement failed", zap.Error(settleErr))
	s.recordOutcome("settle", "error", requirements.Network, start)
	return SettleResponse{}, settleErr
}

// ProcessPaymentRequest builds requirements for config and, when a payload is
// present, matches and verifies it. Settlement is left to the caller.
func (s *X402ResourceServer) ProcessPaymentRequest(
	ctx context.Context,
	paymentPayload *PaymentPayload,
	resourceConfig ResourceConfig,
	resourceInfo ResourceInfo,
	extensions map[string]interface{},
) (*ProcessResult, error) {
	requirements, err := s.BuildPaymentRequirements(ctx, resourceConfig)
	if err != nil {
		return nil, err
	}

	if paymentPayload == nil {
		challenge := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "Payment required", extensions)
		return &ProcessResult{RequiresPayment: &challenge}, nil
	}

	if err := ValidatePaymentPayload(*paymentPayload); err != nil {
		return nil, err
	}

	matching, err := s.FindMatchingRequirements(requirements, *paymentPayload)
	if err != nil {
		return nil, err
	}
	if matching == nil {
		challenge := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "No matching payment requirements found", extensions)
		return &ProcessResult{RequiresPayment: &challenge}, nil
	}

	verification, err := s.VerifyPayment(ctx, *paymentPayload, *matching)
	if err != nil {
		return nil, err
	}

	if !verification.IsValid {
		return &ProcessResult{
			Success:            false,
			Error:              verification.InvalidReason,
			VerificationResult: &verification,
		}, nil
	}

	// Payment verified, ready for settlement
	return &ProcessResult{
		Success:            true,
		VerificationResult: &verification,
	}, nil
}

// Helper methods

// withFacilitators runs call against the facilitator assigned to the payment,
// then against the remaining facilitators in configured order until one
// succeeds. A rejection (*VerifyError or *SettleError) from the assigned
// facilitator is final.
func withFacilitators[R any](
	s *X402ResourceServer,
	payload PaymentPayload,
	requirements PaymentRequirements,
	call func(FacilitatorClient) (R, error),
) (R, error) {
	var zero R

	assigned := s.GetFacilitatorClient(payload.X402Version, requirements.Network, requirements.Scheme)
	candidates := s.FacilitatorClients()
	if assigned != nil {
		ordered := []FacilitatorClient{assigned}
		for _, client := range candidates {
			if client != assigned {
				ordered = append(ordered, client)
			}
		}
		candidates = ordered
	}

	var lastErr error
	for i, client := range candidates {
		result, err := call(client)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i == 0 && assigned != nil && isRejection(err) {
			return zero, err
		}
		s.logger.Debug("facilitator call failed, trying next", zap.Int("candidate", i), zap.Error(err))
	}

	if lastErr == nil {
		lastErr = NewPaymentError(
			ErrCodeNoFacilitator,
			fmt.Sprintf("no facilitator supports %s on %s for v%d", requirements.Scheme, requirements.Network, payload.X402Version),
			nil,
		)
	}
	return zero, lastErr
}

func isRejection(err error) bool {
	var verifyErr *VerifyError
	var settleErr *SettleError
	return errors.As(err, &verifyErr) || errors.As(err, &settleErr)
}

func (s *X402ResourceServer) recordOutcome(operation, outcome string, network Network, start time.Time) {
	labels := map[string]string{
		metrics.LabelOutcome: outcome,
		metrics.LabelNetwork: string(network),
	}
	s.metrics.IncCounter(operation, labels)
	s.metrics.ObserveLatency(operation, time.Since(start), map[string]string{metrics.LabelNetwork: string(network)})
}

func baseFieldsEqual(a, b PaymentRequirements) bool {
	return a.Scheme == b.Scheme &&
		a.Network == b.Network &&
		a.Asset == b.Asset &&
		a.Amount == b.Amount &&
		a.PayTo == b.PayTo &&
		a.MaxTimeoutSeconds == b.MaxTimeoutSeconds
}

func clonedRequirements(r PaymentRequirements) PaymentRequirements {
	out := r
	out.Extra = make(map[string]interface{}, len(r.Extra))
	for k, v := range r.Extra {
		out.Extra[k] = v
	}
	return out
}
