package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402 "github.com/boorich/naveens"
	"github.com/boorich/naveens/metrics"
	"github.com/boorich/naveens/payment/ledger"
)

// Service runs the challenge → settlement flow against the provider selected
// by Config.Mode, emitting events and optionally recording settlements.
type Service struct {
	registry *Registry
	ledger   ledger.Store
	logger   *zap.Logger
	metrics  metrics.Recorder

	mu          sync.RWMutex
	subscribers []Subscriber
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithRegistry selects the provider registry; defaults to the process-wide one
func WithRegistry(registry *Registry) ServiceOption {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithLedger records every settlement in store
func WithLedger(store ledger.Store) ServiceOption {
	return func(s *Service) {
		s.ledger = store
	}
}

func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceMetrics(recorder metrics.Recorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		registry: DefaultRegistry(),
		logger:   zap.NewNop(),
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every subsequent event
func (s *Service) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// RequestPayment creates a challenge for amount
func (s *Service) RequestPayment(ctx context.Context, amount decimal.Decimal, label string, cfg Config) (*Challenge, error) {
	provider, err := s.registry.Get(cfg.Mode)
	if err != nil {
		return nil, err
	}

	challenge, err := provider.CreateChallenge(ctx, amount, labelOrDefault(label), cfg)
	if err != nil {
		s.logger.Error("failed to create challenge", zap.String("mode", cfg.Mode), zap.Error(err))
		return nil, err
	}

	event := s.newEvent(EventChallenge, cfg, challenge, amount, label)
	s.record(event, time.Time{})
	s.emit(event)
	return challenge, nil
}

// ProcessPayment verifies and settles payload against challenge
func (s *Service) ProcessPayment(
	ctx context.Context,
	amount decimal.Decimal,
	label string,
	challenge *Challenge,
	payload x402.PaymentPayload,
	cfg Config,
) (*Proof, error) {
	start := time.Now()

	provider, err := s.registry.Get(cfg.Mode)
	if err != nil {
		return nil, err
	}

	event := s.newEvent(EventFailed, cfg, challenge, amount, label)

	proof, err := provider.ProcessPayment(ctx, challenge, payload, cfg)
	if err != nil {
		event.Error = err
		event.Duration = time.Since(start)
		if errors.Is(err, ErrVerificationFailed) || errors.Is(err, ErrNoMatchingRequirements) {
			s.logger.Warn("payment rejected", zap.String("challenge", event.ChallengeID), zap.Error(err))
		} else {
			s.logger.Error("payment processing failed", zap.String("challenge", event.ChallengeID), zap.Error(err))
		}
		s.record(event, start)
		s.emit(event)
		return nil, err
	}

	event.Type = EventSettled
	event.Transaction = proof.Transaction
	event.Network = string(proof.Network)
	event.Payer = proof.Payer
	event.Duration = time.Since(start)

	if s.ledger != nil {
		event.FirstForResource = s.recordSettlement(ctx, challenge, payload, proof)
	}

	s.logger.Info("payment settled",
		zap.String("challenge", event.ChallengeID),
		zap.String("transaction", proof.Transaction),
		zap.String("network", string(proof.Network)),
		zap.Bool("firstForResource", event.FirstForResource))
	s.record(event, start)
	s.emit(event)
	return proof, nil
}

// recordSettlement stores the settlement. Ledger failures are logged and do
// not fail a payment that has already settled on-chain.
func (s *Service) recordSettlement(ctx context.Context, challenge *Challenge, payload x402.PaymentPayload, proof *Proof) bool {
	entry := ledger.Settlement{
		ID:          challenge.ID,
		Resource:    resourceOf(challenge),
		Network:     string(proof.Network),
		Transaction: proof.Transaction,
		Payer:       proof.Payer,
	}
	if requirements, err := challenge.Requirements(payload); err == nil {
		entry.Amount = requirements.Amount
		entry.Asset = requirements.Asset
		entry.PayTo = requirements.PayTo
	}

	first, err := s.ledger.Record(ctx, entry)
	if err != nil {
		s.logger.Error("failed to record settlement",
			zap.String("transaction", proof.Transaction),
			zap.Error(err))
		return false
	}
	return first
}

func (s *Service) newEvent(eventType EventType, cfg Config, challenge *Challenge, amount decimal.Decimal, label string) Event {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Provider:  cfg.Mode,
		Label:     labelOrDefault(label),
		Amount:    amount,
	}
	if challenge != nil {
		event.ChallengeID = challenge.ID
		event.Resource = resourceOf(challenge)
		if len(challenge.Required.Accepts) > 0 {
			event.Network = string(challenge.Required.Accepts[0].Network)
		}
	}
	return event
}

func (s *Service) record(event Event, start time.Time) {
	labels := map[string]string{
		metrics.LabelOutcome: string(event.Type),
		metrics.LabelNetwork: event.Network,
	}
	s.metrics.IncCounter("payment", labels)
	if !start.IsZero() {
		s.metrics.ObserveLatency("payment", event.Duration, map[string]string{metrics.LabelNetwork: event.Network})
	}
}

func (s *Service) emit(event Event) {
	s.mu.RLock()
	subscribers := make([]Subscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, fn := range subscribers {
		fn(event)
	}
}

func resourceOf(challenge *Challenge) string {
	if challenge == nil || challenge.Required.Resource == nil {
		return ""
	}
	return challenge.Required.Resource.URL
}
