package x402

import (
	"context"
	"time"
)

// ============================================================================
// Resource Server Hook Context Types
// ============================================================================

// VerifyContext contains information passed to verify hooks
type VerifyContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
}

// VerifyResultContext contains verify operation result and context
type VerifyResultContext struct {
	VerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// VerifyFailureContext contains verify operation failure and context
type VerifyFailureContext struct {
	VerifyContext
	Error    error
	Duration time.Duration
}

// SettleContext contains information passed to settle hooks
type SettleContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
}

// SettleResultContext contains settle operation result and context
type SettleResultContext struct {
	SettleContext
	Result   SettleResponse
	Duration time.Duration
}

// SettleFailureContext contains settle operation failure and context
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Hook Outcome
// ============================================================================

// HookAction tags a HookOutcome
type HookAction int

const (
	// HookContinue lets the pipeline proceed
	HookContinue HookAction = iota
	// HookAbort stops a before-hook chain and skips the facilitator call
	HookAbort
	// HookRecovered replaces a failure with Result
	HookRecovered
)

func (a HookAction) String() string {
	switch a {
	case HookAbort:
		return "abort"
	case HookRecovered:
		return "recovered"
	default:
		return "continue"
	}
}

// HookOutcome is what before-hooks and failure-hooks return.
// Before-hooks only act on HookAbort; failure-hooks only act on HookRecovered.
type HookOutcome[R any] struct {
	Action HookAction
	Reason string
	Result R
}

// Continue returns an outcome that lets the pipeline proceed
func Continue[R any]() HookOutcome[R] {
	return HookOutcome[R]{Action: HookContinue}
}

// Abort returns an outcome that stops the operation with reason
func Abort[R any](reason string) HookOutcome[R] {
	return HookOutcome[R]{Action: HookAbort, Reason: reason}
}

// Recover returns an outcome that substitutes result for a failure
func Recover[R any](result R) HookOutcome[R] {
	return HookOutcome[R]{Action: HookRecovered, Result: result}
}

// ============================================================================
// Resource Server Hook Function Types
// ============================================================================

// BeforeVerifyHook is called before payment verification.
// Returning Abort skips verification; the reason becomes an invalid VerifyResponse.
type BeforeVerifyHook func(VerifyContext) (HookOutcome[VerifyResponse], error)

// AfterVerifyHook is called after successful payment verification.
// Any error returned is logged and does not affect the verification result.
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook is called when payment verification fails.
// Returning Recover replaces the error with the supplied VerifyResponse.
type OnVerifyFailureHook func(VerifyFailureContext) (HookOutcome[VerifyResponse], error)

// BeforeSettleHook is called before payment settlement.
// Returning Abort makes SettlePayment fail with ErrSettlementAborted.
type BeforeSettleHook func(SettleContext) (HookOutcome[SettleResponse], error)

// AfterSettleHook is called after successful payment settlement.
// Any error returned is logged and does not affect the settlement result.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when payment settlement fails.
// Returning Recover replaces the error with the supplied SettleResponse.
type OnSettleFailureHook func(SettleFailureContext) (HookOutcome[SettleResponse], error)

// ============================================================================
// Hook Registration Options
// ============================================================================

// WithBeforeVerifyHook registers a hook to execute before payment verification
func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers a hook to execute after successful payment verification
func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	}
}

// WithOnVerifyFailureHook registers a hook to execute when payment verification fails
func WithOnVerifyFailureHook(hook OnVerifyFailureHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	}
}

// WithBeforeSettleHook registers a hook to execute before payment settlement
func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers a hook to execute after successful payment settlement
func WithAfterSettleHook(hook AfterSettleHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers a hook to execute when payment settlement fails
func WithOnSettleFailureHook(hook OnSettleFailureHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}
