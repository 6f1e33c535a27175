package x402

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Mock server for testing
type mockSchemeNetworkServer struct {
	scheme      string
	parsePrice  func(price Price, network Network) (AssetAmount, error)
	enhanceReqs func(ctx context.Context, base PaymentRequirements, supported SupportedKind, extensions []string) (PaymentRequirements, error)
}

func (m *mockSchemeNetworkServer) Scheme() string {
	return m.scheme
}

func (m *mockSchemeNetworkServer) ParsePrice(price Price, network Network) (AssetAmount, error) {
	if m.parsePrice != nil {
		return m.parsePrice(price, network)
	}
	return AssetAmount{
		Asset:  "0xusdc",
		Amount: "1000000",
		Extra:  map[string]interface{}{},
	}, nil
}

func (m *mockSchemeNetworkServer) EnhancePaymentRequirements(ctx context.Context, base PaymentRequirements, supported SupportedKind, extensions []string) (PaymentRequirements, error) {
	if m.enhanceReqs != nil {
		return m.enhanceReqs(ctx, base, supported, extensions)
	}
	enhanced := base
	enhanced.Extra["enhanced"] = true
	return enhanced, nil
}

// Mock facilitator client for testing
type mockFacilitatorClient struct {
	verify    func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	settle    func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	supported func(ctx context.Context) (SupportedResponse, error)

	verifyCalls atomic.Int32
	settleCalls atomic.Int32
}

func (m *mockFacilitatorClient) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	m.verifyCalls.Add(1)
	if m.verify != nil {
		return m.verify(ctx, payload, requirements)
	}
	return VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (m *mockFacilitatorClient) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	m.settleCalls.Add(1)
	if m.settle != nil {
		return m.settle(ctx, payload, requirements)
	}
	return SettleResponse{Success: true, Transaction: "0xtx", Network: requirements.Network, Payer: "0xpayer"}, nil
}

func (m *mockFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	if m.supported != nil {
		return m.supported(ctx)
	}
	return supportedFor(2, "exact", "eip155:84532"), nil
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recordingMetrics) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[name+"/"+labels["outcome"]]++
}

func (r *recordingMetrics) ObserveLatency(string, time.Duration, map[string]string) {}

func supportedFor(version int, scheme string, network Network) SupportedResponse {
	return SupportedResponse{
		Kinds: []SupportedKind{
			{X402Version: version, Scheme: scheme, Network: network},
		},
		Extensions: []string{},
	}
}

func testRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:84532",
		Asset:             "0xusdc",
		Amount:            "1000000",
		PayTo:             "0xrecipient",
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func testPayload(accepted PaymentRequirements) PaymentPayload {
	return PaymentPayload{
		X402Version: 2,
		Accepted:    accepted,
		Payload:     map[string]interface{}{"signature": "0xsig", "nonce": "0x01"},
	}
}

func newInitializedServer(t *testing.T, clients ...FacilitatorClient) *X402ResourceServer {
	t.Helper()
	opts := []ResourceServerOption{WithSchemeServer("eip155:*", &mockSchemeNetworkServer{scheme: "exact"})}
	for _, c := range clients {
		opts = append(opts, WithFacilitatorClient(c))
	}
	server := Newx402ResourceServer(opts...)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return server
}

func TestServerWithOptions(t *testing.T) {
	mockClient := &mockFacilitatorClient{}
	mockServer := &mockSchemeNetworkServer{scheme: "exact"}

	server := Newx402ResourceServer(
		WithFacilitatorClient(mockClient),
		WithSchemeServer("eip155:1", mockServer),
		WithLogger(nil),
		WithMetrics(nil),
	)

	if len(server.FacilitatorClients()) != 1 {
		t.Fatal("Expected 1 facilitator client")
	}
	if !server.HasRegisteredScheme("eip155:1", "exact") {
		t.Fatal("Expected scheme server to be registered")
	}
	if server.HasRegisteredScheme("eip155:8453", "exact") {
		t.Fatal("Expected no scheme server for eip155:8453")
	}
	if server.logger == nil || server.metrics == nil {
		t.Fatal("Expected nil logger and metrics to keep defaults")
	}
}

func TestServerRegisterFirstWins(t *testing.T) {
	first := &mockSchemeNetworkServer{scheme: "exact"}
	second := &mockSchemeNetworkServer{scheme: "exact"}

	server := Newx402ResourceServer().Register("eip155:*", first).Register("eip155:*", second)

	got, ok := server.schemes.Find("exact", "eip155:8453")
	if !ok || got != first {
		t.Fatal("Expected the first registration to be kept")
	}
}

func TestServerInitializeWithoutFacilitators(t *testing.T) {
	server := Newx402ResourceServer()
	err := server.Initialize(context.Background())
	if !errors.Is(err, ErrNoFacilitator) {
		t.Fatalf("Expected ErrNoFacilitator, got %v", err)
	}
}

func TestServerInitializeSkipsFailingFacilitator(t *testing.T) {
	broken := &mockFacilitatorClient{
		supported: func(ctx context.Context) (SupportedResponse, error) {
			return SupportedResponse{}, errors.New("connection refused")
		},
	}
	healthy := &mockFacilitatorClient{}

	server := newInitializedServer(t, broken, healthy)

	if got := server.GetFacilitatorClient(2, "eip155:84532", "exact"); got != healthy {
		t.Fatal("Expected the healthy facilitator to be assigned")
	}
}

func TestServerInitializeAllFail(t *testing.T) {
	broken := &mockFacilitatorClient{
		supported: func(ctx context.Context) (SupportedResponse, error) {
			return SupportedResponse{}, errors.New("boom")
		},
	}
	server := Newx402ResourceServer(WithFacilitatorClient(broken))

	if err := server.Initialize(context.Background()); err == nil {
		t.Fatal("Expected error when no facilitator answers")
	}
	if server.GetSupportedKind(2, "eip155:84532", "exact") != nil {
		t.Fatal("Expected no supported kinds")
	}
}

func TestServerFacilitatorPrecedence(t *testing.T) {
	first := &mockFacilitatorClient{}
	second := &mockFacilitatorClient{
		supported: func(ctx context.Context) (SupportedResponse, error) {
			resp := supportedFor(2, "exact", "eip155:84532")
			resp.Extensions = []string{"bazaar"}
			return resp, nil
		},
	}

	server := newInitializedServer(t, first, second)

	if got := server.GetFacilitatorClient(2, "eip155:84532", "exact"); got != first {
		t.Fatal("Expected the first configured facilitator to stay authoritative")
	}
	if ext := server.GetFacilitatorExtensions(2, "eip155:84532", "exact"); len(ext) != 0 {
		t.Fatalf("Expected extensions of the first facilitator, got %v", ext)
	}
	if server.GetFacilitatorClient(1, "eip155:84532", "exact") != nil {
		t.Fatal("Expected no facilitator for v1")
	}
}

func TestServerWildcardSupportedKind(t *testing.T) {
	client := &mockFacilitatorClient{
		supported: func(ctx context.Context) (SupportedResponse, error) {
			return supportedFor(2, "exact", "eip155:*"), nil
		},
	}
	server := newInitializedServer(t, client)

	for _, network := range []Network{"eip155:8453", "eip155:84532"} {
		if server.GetFacilitatorClient(2, network, "exact") != client {
			t.Fatalf("Expected wildcard facilitator for %s", network)
		}
	}
	if server.GetFacilitatorClient(2, "solana:mainnet", "exact") != nil {
		t.Fatal("Expected no facilitator for solana")
	}
}

func TestServerSetFacilitatorClientsDropsSnapshot(t *testing.T) {
	server := newInitializedServer(t, &mockFacilitatorClient{})

	replacement := &mockFacilitatorClient{}
	server.SetFacilitatorClients(replacement)

	_, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme: "exact", PayTo: "0xrecipient", Price: "$1.00", Network: "eip155:84532",
	})
	if !errors.Is(err, ErrFacilitatorUnsupported) {
		t.Fatalf("Expected ErrFacilitatorUnsupported before re-initialize, got %v", err)
	}

	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if server.GetFacilitatorClient(2, "eip155:84532", "exact") != replacement {
		t.Fatal("Expected replacement facilitator after re-initialize")
	}
}

func TestServerInitializeDiscardsSnapshotWhenFacilitatorsChange(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	old := &mockFacilitatorClient{
		supported: func(ctx context.Context) (SupportedResponse, error) {
			close(started)
			<-release
			return supportedFor(2, "exact", "eip155:84532"), nil
		},
	}
	fresh := &mockFacilitatorClient{}
	server := Newx402ResourceServer(
		WithFacilitatorClient(old),
		WithSchemeServer("eip155:*", &mockSchemeNetworkServer{scheme: "exact"}),
	)

	done := make(chan error, 1)
	go func() { done <- server.Initialize(context.Background()) }()

	<-started
	server.SetFacilitatorClients(fresh)
	close(release)

	if err := <-done; !errors.Is(err, ErrFacilitatorsChanged) {
		t.Fatalf("Expected ErrFacilitatorsChanged, got %v", err)
	}
	if server.GetFacilitatorClient(2, "eip155:84532", "exact") != nil {
		t.Fatal("Expected no capabilities from the replaced facilitator set")
	}

	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	requirements := testRequirements()
	if _, err := server.VerifyPayment(context.Background(), testPayload(requirements), requirements); err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if old.verifyCalls.Load() != 0 || fresh.verifyCalls.Load() != 1 {
		t.Fatalf("Expected only the fresh facilitator to verify, old=%d fresh=%d",
			old.verifyCalls.Load(), fresh.verifyCalls.Load())
	}
}

func TestServerBuildPaymentRequirements(t *testing.T) {
	var gotKind SupportedKind
	schemeServer := &mockSchemeNetworkServer{
		scheme: "exact",
		enhanceReqs: func(ctx context.Context, base PaymentRequirements, supported SupportedKind, extensions []string) (PaymentRequirements, error) {
			gotKind = supported
			base.Extra["name"] = "USDC"
			return base, nil
		},
	}
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{}),
		WithSchemeServer("eip155:*", schemeServer),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	requirements, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme:  "exact",
		PayTo:   "0xrecipient",
		Price:   "$1.00",
		Network: "eip155:84532",
	})
	if err != nil {
		t.Fatalf("Failed to build requirements: %v", err)
	}
	if len(requirements) != 1 {
		t.Fatalf("Expected 1 requirement, got %d", len(requirements))
	}

	req := requirements[0]
	if req.Amount != "1000000" || req.Asset != "0xusdc" || req.PayTo != "0xrecipient" {
		t.Fatalf("Unexpected requirement: %+v", req)
	}
	if req.MaxTimeoutSeconds != DefaultMaxTimeoutSeconds {
		t.Fatalf("Expected default timeout, got %d", req.MaxTimeoutSeconds)
	}
	if req.Extra["name"] != "USDC" {
		t.Fatal("Expected enhance step to add extra metadata")
	}
	if gotKind.X402Version != ProtocolVersion || gotKind.Scheme != "exact" {
		t.Fatalf("Unexpected supported kind passed to enhance: %+v", gotKind)
	}
}

func TestServerBuildPaymentRequirementsNoScheme(t *testing.T) {
	server := Newx402ResourceServer(WithFacilitatorClient(&mockFacilitatorClient{}))
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	requirements, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme: "exact", PayTo: "0xrecipient", Price: "$1.00", Network: "eip155:84532",
	})
	if err != nil {
		t.Fatalf("Expected no error for an unpriceable resource, got %v", err)
	}
	if len(requirements) != 0 {
		t.Fatalf("Expected no requirements, got %d", len(requirements))
	}
}

func TestServerBuildPaymentRequirementsBeforeInitialize(t *testing.T) {
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{}),
		WithSchemeServer("eip155:*", &mockSchemeNetworkServer{scheme: "exact"}),
	)

	_, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme: "exact", PayTo: "0xrecipient", Price: "$1.00", Network: "eip155:84532",
	})
	if !errors.Is(err, ErrFacilitatorUnsupported) {
		t.Fatalf("Expected ErrFacilitatorUnsupported, got %v", err)
	}
}

func TestServerBuildPaymentRequirementsInvalidConfig(t *testing.T) {
	server := newInitializedServer(t, &mockFacilitatorClient{})

	_, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme: "exact", Price: "$1.00", Network: "eip155:84532",
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig for missing payTo, got %v", err)
	}
}

func TestServerBuildPaymentRequirementsEnhanceMustKeepBase(t *testing.T) {
	schemeServer := &mockSchemeNetworkServer{
		scheme: "exact",
		enhanceReqs: func(ctx context.Context, base PaymentRequirements, supported SupportedKind, extensions []string) (PaymentRequirements, error) {
			base.Amount = "1"
			return base, nil
		},
	}
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{}),
		WithSchemeServer("eip155:84532", schemeServer),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme: "exact", PayTo: "0xrecipient", Price: "$1.00", Network: "eip155:84532",
	})
	if !errors.Is(err, ErrInvalidRequirements) {
		t.Fatalf("Expected ErrInvalidRequirements, got %v", err)
	}
}

func TestServerBuildPaymentRequirementsRejectsMalformedAmounts(t *testing.T) {
	tests := map[string]AssetAmount{
		"fractional amount": {Asset: "0xusdc", Amount: "1.5"},
		"negative amount":   {Asset: "0xusdc", Amount: "-1"},
		"empty amount":      {Asset: "0xusdc"},
		"missing asset":     {Amount: "100"},
	}

	for name, amount := range tests {
		t.Run(name, func(t *testing.T) {
			schemeServer := &mockSchemeNetworkServer{
				scheme: "exact",
				parsePrice: func(Price, Network) (AssetAmount, error) {
					return amount, nil
				},
			}
			server := Newx402ResourceServer(
				WithFacilitatorClient(&mockFacilitatorClient{}),
				WithSchemeServer("eip155:84532", schemeServer),
			)
			if err := server.Initialize(context.Background()); err != nil {
				t.Fatal(err)
			}

			_, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
				Scheme: "exact", PayTo: "0xrecipient", Price: "$1.00", Network: "eip155:84532",
			})
			if !errors.Is(err, ErrInvalidRequirements) {
				t.Fatalf("Expected ErrInvalidRequirements, got %v", err)
			}
		})
	}
}

func TestServerBuildPaymentRequirementsFromOptions(t *testing.T) {
	server := newInitializedServer(t, &mockFacilitatorClient{})

	var seenPath string
	options := []PaymentOption{
		{Scheme: "exact", Network: "eip155:84532", PayTo: "0xstatic", Price: "$1.00"},
		{
			Scheme:  "exact",
			Network: "eip155:84532",
			PayToFunc: func(ctx context.Context, reqCtx RequestContext) (string, error) {
				seenPath = reqCtx.Path
				return reqCtx.Headers["X-Driver"], nil
			},
			Price: DynamicPrice(func(ctx context.Context, reqCtx RequestContext) (Price, error) {
				return "$2.00", nil
			}),
			MaxTimeoutSeconds: 60,
		},
	}

	requirements, err := server.BuildPaymentRequirementsFromOptions(context.Background(), options, RequestContext{
		Method:  "POST",
		Path:    "/api/pay",
		Headers: map[string]string{"X-Driver": "0xdriver"},
	})
	if err != nil {
		t.Fatalf("Failed to build requirements: %v", err)
	}
	if len(requirements) != 2 {
		t.Fatalf("Expected 2 requirements, got %d", len(requirements))
	}
	if requirements[0].PayTo != "0xstatic" || requirements[1].PayTo != "0xdriver" {
		t.Fatalf("Unexpected payTo values: %s, %s", requirements[0].PayTo, requirements[1].PayTo)
	}
	if requirements[1].MaxTimeoutSeconds != 60 {
		t.Fatalf("Expected timeout 60, got %d", requirements[1].MaxTimeoutSeconds)
	}
	if seenPath != "/api/pay" {
		t.Fatalf("Expected request context to reach payTo resolver, got %q", seenPath)
	}

	failing := []PaymentOption{{
		Scheme:  "exact",
		Network: "eip155:84532",
		PayToFunc: func(ctx context.Context, reqCtx RequestContext) (string, error) {
			return "", errors.New("unknown driver")
		},
		Price: "$1.00",
	}}
	if _, err := server.BuildPaymentRequirementsFromOptions(context.Background(), failing, RequestContext{}); err == nil {
		t.Fatal("Expected resolver error to propagate")
	}
}

func TestServerCreatePaymentRequiredResponse(t *testing.T) {
	server := Newx402ResourceServer()
	info := ResourceInfo{URL: "https://example.com/api/pay", Description: "ride", MimeType: "application/json"}

	response := server.CreatePaymentRequiredResponse(nil, info, "", map[string]interface{}{})
	if response.X402Version != 2 {
		t.Fatalf("Expected version 2, got %d", response.X402Version)
	}
	if response.Error != "Payment required" {
		t.Fatalf("Expected default error message, got %q", response.Error)
	}
	if response.Accepts == nil || len(response.Accepts) != 0 {
		t.Fatal("Expected empty, non-nil accepts")
	}
	if response.Extensions != nil {
		t.Fatal("Expected empty extensions to be omitted")
	}
	if response.Resource == nil || response.Resource.URL != info.URL {
		t.Fatal("Expected resource info to be carried")
	}

	withExt := server.CreatePaymentRequiredResponse([]PaymentRequirements{testRequirements()}, info, "custom", map[string]interface{}{"bazaar": true})
	if withExt.Error != "custom" || withExt.Extensions["bazaar"] != true || len(withExt.Accepts) != 1 {
		t.Fatalf("Unexpected response: %+v", withExt)
	}
}

func TestServerFindMatchingRequirements(t *testing.T) {
	server := Newx402ResourceServer()
	base := testRequirements()
	other := testRequirements()
	other.Amount = "2000000"
	available := []PaymentRequirements{other, base}

	t.Run("v2 structural match", func(t *testing.T) {
		accepted := testRequirements()
		accepted.Extra = map[string]interface{}{"version": "2", "name": "USDC"}

		match, err := server.FindMatchingRequirements(available, testPayload(accepted))
		if err != nil {
			t.Fatal(err)
		}
		if match == nil || match.Amount != "1000000" {
			t.Fatalf("Expected match on 1000000, got %+v", match)
		}
	})

	t.Run("v2 amount differs", func(t *testing.T) {
		accepted := testRequirements()
		accepted.Amount = "999"

		match, err := server.FindMatchingRequirements(available, testPayload(accepted))
		if err != nil {
			t.Fatal(err)
		}
		if match != nil {
			t.Fatal("Expected no match for a different amount")
		}
	})

	t.Run("v1 loose match", func(t *testing.T) {
		accepted := testRequirements()
		accepted.Amount = "999"
		payload := testPayload(accepted)
		payload.X402Version = 1

		match, err := server.FindMatchingRequirements(available, payload)
		if err != nil {
			t.Fatal(err)
		}
		if match == nil || match.Amount != "2000000" {
			t.Fatalf("Expected first scheme/network match, got %+v", match)
		}
	})

	t.Run("v1 top level fields", func(t *testing.T) {
		payload := PaymentPayload{X402Version: 1, Scheme: "exact", Network: "eip155:84532"}

		match, err := server.FindMatchingRequirements(available, payload)
		if err != nil || match == nil {
			t.Fatalf("Expected legacy payload to match, got %v, %v", match, err)
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		payload := testPayload(testRequirements())
		payload.X402Version = 3

		_, err := server.FindMatchingRequirements(available, payload)
		if !errors.Is(err, ErrUnsupportedProtocolVersion) {
			t.Fatalf("Expected ErrUnsupportedProtocolVersion, got %v", err)
		}
	})
}

func TestServerVerifyPayment(t *testing.T) {
	client := &mockFacilitatorClient{}
	rec := &recordingMetrics{}
	server := newInitializedServer(t, client)
	server.metrics = rec

	var afterCalled bool
	server.OnAfterVerify(func(ctx VerifyResultContext) error {
		afterCalled = ctx.Result.IsValid
		return nil
	})

	result, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.IsValid || result.Payer != "0xpayer" {
		t.Fatalf("Unexpected verify result: %+v", result)
	}
	if !afterCalled {
		t.Fatal("Expected after verify hook to observe the result")
	}
	if rec.counts["verify/valid"] != 1 {
		t.Fatalf("Expected one valid verify metric, got %v", rec.counts)
	}
}

func TestServerVerifyInvalidIsNotAnError(t *testing.T) {
	client := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
			return VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"}, nil
		},
	}
	server := newInitializedServer(t, client)

	result, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.IsValid || result.InvalidReason != "insufficient_funds" {
		t.Fatalf("Unexpected result: %+v", result)
	}
}

func TestServerBeforeVerifyAbortSkipsFacilitator(t *testing.T) {
	client := &mockFacilitatorClient{}
	server := newInitializedServer(t, client)

	var secondHookCalled bool
	server.OnBeforeVerify(func(ctx VerifyContext) (HookOutcome[VerifyResponse], error) {
		return Abort[VerifyResponse]("blocked_payer"), nil
	})
	server.OnBeforeVerify(func(ctx VerifyContext) (HookOutcome[VerifyResponse], error) {
		secondHookCalled = true
		return Continue[VerifyResponse](), nil
	})

	result, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil {
		t.Fatal(err)
	}
	if result.IsValid || result.InvalidReason != "blocked_payer" {
		t.Fatalf("Unexpected result: %+v", result)
	}
	if client.verifyCalls.Load() != 0 {
		t.Fatal("Expected no facilitator calls after abort")
	}
	if secondHookCalled {
		t.Fatal("Expected remaining before hooks to be skipped")
	}
}

func TestServerBeforeHookErrorContinues(t *testing.T) {
	client := &mockFacilitatorClient{}
	server := newInitializedServer(t, client)
	server.OnBeforeVerify(func(ctx VerifyContext) (HookOutcome[VerifyResponse], error) {
		return Abort[VerifyResponse]("ignored"), errors.New("hook broke")
	})

	result, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil || !result.IsValid {
		t.Fatalf("Expected hook error to be ignored, got %+v, %v", result, err)
	}
	if client.verifyCalls.Load() != 1 {
		t.Fatal("Expected facilitator to be called")
	}
}

func TestServerAfterHookErrorDoesNotMaskResult(t *testing.T) {
	server := newInitializedServer(t, &mockFacilitatorClient{})
	server.OnAfterVerify(func(ctx VerifyResultContext) error {
		return errors.New("audit log unavailable")
	})
	server.OnAfterSettle(func(ctx SettleResultContext) error {
		return errors.New("audit log unavailable")
	})

	verify, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil || !verify.IsValid {
		t.Fatalf("Expected valid verification, got %+v, %v", verify, err)
	}

	settle, err := server.SettlePayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil || !settle.Success {
		t.Fatalf("Expected successful settlement, got %+v, %v", settle, err)
	}
}

func TestServerVerifyFallback(t *testing.T) {
	failing := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
			return VerifyResponse{}, &FacilitatorError{Operation: "verify", StatusCode: 502, Body: "bad gateway"}
		},
	}
	backup := &mockFacilitatorClient{
		supported: func(ctx context.Context) (SupportedResponse, error) {
			return supportedFor(2, "exact", "solana:*"), nil
		},
	}
	server := newInitializedServer(t, failing, backup)

	result, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil {
		t.Fatalf("Expected fallback to succeed, got %v", err)
	}
	if !result.IsValid {
		t.Fatal("Expected valid result from backup")
	}
	if failing.verifyCalls.Load() != 1 || backup.verifyCalls.Load() != 1 {
		t.Fatal("Expected both facilitators to be tried once")
	}
}

func TestServerVerifyAllFacilitatorsFail(t *testing.T) {
	lastErr := errors.New("second down")
	first := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
			return VerifyResponse{}, errors.New("first down")
		},
	}
	second := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
			return VerifyResponse{}, lastErr
		},
	}
	server := newInitializedServer(t, first, second)

	_, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if !errors.Is(err, lastErr) {
		t.Fatalf("Expected last error to surface, got %v", err)
	}
}

func TestServerVerifyRejectionFromAssignedIsFinal(t *testing.T) {
	assigned := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
			return VerifyResponse{}, NewVerifyError(400, VerifyResponse{InvalidReason: "invalid_signature"})
		},
	}
	other := &mockFacilitatorClient{}
	server := newInitializedServer(t, assigned, other)

	_, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	var verifyErr *VerifyError
	if !errors.As(err, &verifyErr) || verifyErr.InvalidReason != "invalid_signature" {
		t.Fatalf("Expected VerifyError, got %v", err)
	}
	if other.verifyCalls.Load() != 0 {
		t.Fatal("Expected no fallback after a rejection")
	}
}

func TestServerVerifyFailureRecovered(t *testing.T) {
	client := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
			return VerifyResponse{}, errors.New("timeout")
		},
	}
	server := newInitializedServer(t, client)

	var failureSeen error
	server.OnVerifyFailure(func(ctx VerifyFailureContext) (HookOutcome[VerifyResponse], error) {
		failureSeen = ctx.Error
		return Continue[VerifyResponse](), nil
	})
	server.OnVerifyFailure(func(ctx VerifyFailureContext) (HookOutcome[VerifyResponse], error) {
		return Recover(VerifyResponse{IsValid: true, Payer: "0xcached"}), nil
	})

	result, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
	if result.Payer != "0xcached" {
		t.Fatalf("Expected recovered result, got %+v", result)
	}
	if failureSeen == nil {
		t.Fatal("Expected first failure hook to see the error")
	}
}

func TestServerVerifyNoFacilitatorForNetwork(t *testing.T) {
	server := Newx402ResourceServer()
	_, err := server.VerifyPayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if !errors.Is(err, ErrNoFacilitator) {
		t.Fatalf("Expected ErrNoFacilitator, got %v", err)
	}
}

func TestServerSettlePayment(t *testing.T) {
	server := newInitializedServer(t, &mockFacilitatorClient{})

	var duration time.Duration = -1
	server.OnAfterSettle(func(ctx SettleResultContext) error {
		duration = ctx.Duration
		return nil
	})

	result, err := server.SettlePayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !result.Success || result.Transaction != "0xtx" || result.Network != "eip155:84532" {
		t.Fatalf("Unexpected settle result: %+v", result)
	}
	if duration < 0 {
		t.Fatal("Expected after settle hook to run")
	}
}

func TestServerSettleAbort(t *testing.T) {
	client := &mockFacilitatorClient{}
	server := newInitializedServer(t, client)
	server.OnBeforeSettle(func(ctx SettleContext) (HookOutcome[SettleResponse], error) {
		return Abort[SettleResponse]("ride cancelled"), nil
	})

	_, err := server.SettlePayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if !errors.Is(err, ErrSettlementAborted) {
		t.Fatalf("Expected ErrSettlementAborted, got %v", err)
	}
	if client.settleCalls.Load() != 0 {
		t.Fatal("Expected no settle call after abort")
	}
}

func TestServerSettleUnsuccessfulResponseIsError(t *testing.T) {
	client := &mockFacilitatorClient{
		settle: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
			return SettleResponse{Success: false, ErrorReason: "transaction_reverted", Transaction: "0xdead"}, nil
		},
	}
	server := newInitializedServer(t, client)

	var recoveredFrom error
	server.OnSettleFailure(func(ctx SettleFailureContext) (HookOutcome[SettleResponse], error) {
		recoveredFrom = ctx.Error
		return Continue[SettleResponse](), nil
	})

	_, err := server.SettlePayment(context.Background(), testPayload(testRequirements()), testRequirements())
	var settleErr *SettleError
	if !errors.As(err, &settleErr) {
		t.Fatalf("Expected SettleError, got %v", err)
	}
	if settleErr.ErrorReason != "transaction_reverted" || settleErr.Transaction != "0xdead" {
		t.Fatalf("Unexpected settle error: %+v", settleErr)
	}
	if recoveredFrom == nil {
		t.Fatal("Expected failure hook to run")
	}
}

func TestServerSettleFailureRecovered(t *testing.T) {
	client := &mockFacilitatorClient{
		settle: func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
			return SettleResponse{}, errors.New("rpc unavailable")
		},
	}
	server := newInitializedServer(t, client)
	server.OnSettleFailure(func(ctx SettleFailureContext) (HookOutcome[SettleResponse], error) {
		return Recover(SettleResponse{Success: true, Transaction: "0xqueued"}), nil
	})

	result, err := server.SettlePayment(context.Background(), testPayload(testRequirements()), testRequirements())
	if err != nil || result.Transaction != "0xqueued" {
		t.Fatalf("Expected recovered settlement, got %+v, %v", result, err)
	}
}

func TestServerSettlementCache(t *testing.T) {
	client := &mockFacilitatorClient{}
	rec := &recordingMetrics{}
	server := Newx402ResourceServer(
		WithFacilitatorClient(client),
		WithSchemeServer("eip155:*", &mockSchemeNetworkServer{scheme: "exact"}),
		WithSettlementCache(time.Minute),
		WithMetrics(rec),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	payload := testPayload(testRequirements())
	first, err := server.SettlePayment(context.Background(), payload, testRequirements())
	if err != nil {
		t.Fatal(err)
	}
	second, err := server.SettlePayment(context.Background(), payload, testRequirements())
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Fatalf("Expected cached response, got %+v and %+v", first, second)
	}
	if client.settleCalls.Load() != 1 {
		t.Fatalf("Expected one facilitator settle, got %d", client.settleCalls.Load())
	}
	if rec.counts["settle/cached"] != 1 {
		t.Fatalf("Expected one cached settle metric, got %v", rec.counts)
	}
}

func TestServerProcessPaymentRequest(t *testing.T) {
	server := newInitializedServer(t, &mockFacilitatorClient{})
	config := ResourceConfig{Scheme: "exact", PayTo: "0xrecipient", Price: "$1.00", Network: "eip155:84532"}
	info := ResourceInfo{URL: "https://example.com/api/pay", Description: "ride", MimeType: "application/json"}

	t.Run("no payload returns challenge", func(t *testing.T) {
		result, err := server.ProcessPaymentRequest(context.Background(), nil, config, info, nil)
		if err != nil {
			t.Fatal(err)
		}
		if result.Success || result.RequiresPayment == nil {
			t.Fatal("Expected challenge")
		}
		if result.RequiresPayment.Error != "Payment required" || len(result.RequiresPayment.Accepts) != 1 {
			t.Fatalf("Unexpected challenge: %+v", result.RequiresPayment)
		}
	})

	t.Run("matching payload verifies", func(t *testing.T) {
		requirements, err := server.BuildPaymentRequirements(context.Background(), config)
		if err != nil {
			t.Fatal(err)
		}
		payload := testPayload(requirements[0])

		result, err := server.ProcessPaymentRequest(context.Background(), &payload, config, info, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !result.Success || result.VerificationResult == nil || !result.VerificationResult.IsValid {
			t.Fatalf("Expected verified payment, got %+v", result)
		}
	})

	t.Run("mismatched payload returns challenge", func(t *testing.T) {
		accepted := testRequirements()
		accepted.Amount = "1"
		payload := testPayload(accepted)

		result, err := server.ProcessPaymentRequest(context.Background(), &payload, config, info, nil)
		if err != nil {
			t.Fatal(err)
		}
		if result.RequiresPayment == nil || result.RequiresPayment.Error != "No matching payment requirements found" {
			t.Fatalf("Expected no-match challenge, got %+v", result)
		}
	})

	t.Run("payload without signature data is rejected", func(t *testing.T) {
		requirements, err := server.BuildPaymentRequirements(context.Background(), config)
		if err != nil {
			t.Fatal(err)
		}
		payload := testPayload(requirements[0])
		payload.Payload = nil

		_, err = server.ProcessPaymentRequest(context.Background(), &payload, config, info, nil)
		if !errors.Is(err, ErrInvalidPayment) {
			t.Fatalf("Expected ErrInvalidPayment, got %v", err)
		}
	})

	t.Run("unknown version fails", func(t *testing.T) {
		payload := testPayload(testRequirements())
		payload.X402Version = 7

		_, err := server.ProcessPaymentRequest(context.Background(), &payload, config, info, nil)
		if !errors.Is(err, ErrUnsupportedProtocolVersion) {
			t.Fatalf("Expected ErrUnsupportedProtocolVersion, got %v", err)
		}
	})
}
