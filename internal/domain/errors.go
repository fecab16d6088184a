package domain

import (
	"errors"
	"fmt"
)

// Generic
var (
	ErrValidation     = errors.New("invalid request")
	ErrAuthentication = errors.New("authentication failed")
	ErrNotFound       = errors.New("not found")
)

// Rate oracle
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Mobile-money gateway
var (
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrGatewayTimeout     = errors.New("gateway confirmation timed out")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Token chain
var (
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferRejected  = errors.New("transfer rejected")
	ErrChainUnavailable  = errors.New("chain rpc unavailable")
)

// OTP
var (
	ErrOTPInvalid = errors.New("invalid otp")
	ErrOTPExpired = errors.New("expired otp")
)

// Flow legs. A FlowError pins a failure to the leg that produced it so
// the reconciliation path knows what actually happened.
const (
	LegCollection = "collection"
	LegRate       = "rate"
	LegChain      = "chain"
	LegPayout     = "payout"
)

type FlowError struct {
	State string
	Leg   string
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow failed at %s (%s leg): %v", e.State, e.Leg, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func NewFlowError(state, leg string, err error) *FlowError {
	return &FlowError{State: state, Leg: leg, Err: err}
}

// Retryable reports whether the whole flow is safe to retry from the
// start. Only unavailability errors qualify; explicit provider
// rejections and validation failures are not retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrChainUnavailable) ||
		errors.Is(err, ErrRateUnavailable)
}
