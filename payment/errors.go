package payment

import "errors"

var (
	// ErrProviderNotFound indicates no provider is registered under the requested name.
	ErrProviderNotFound = errors.New("payment: provider not found")

	// ErrInvalidAmount indicates the amount to charge is not a positive number.
	ErrInvalidAmount = errors.New("payment: invalid amount")

	// ErrInvalidChallenge indicates a challenge carries no payment requirements.
	ErrInvalidChallenge = errors.New("payment: invalid challenge")

	// ErrNoMatchingRequirements indicates the payload was not built for the challenge.
	ErrNoMatchingRequirements = errors.New("payment: payload does not match challenge")

	// ErrVerificationFailed indicates the facilitator declared the payment invalid.
	ErrVerificationFailed = errors.New("payment: verification failed")

	// ErrMissingConfig indicates a provider setting required for this mode is empty.
	ErrMissingConfig = errors.New("payment: missing configuration")
)
