package domain

import "errors"

var (
	// Validation errors: the caller's input cannot be served, nothing was mutated.
	ErrNotFound               = errors.New("entity not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrPlanNotFound           = errors.New("plan not found")
	ErrPlanInactive           = errors.New("plan is not available")
	ErrPlanNotFree            = errors.New("plan is not free")
	ErrInvalidDowngrade       = errors.New("target plan is not a downgrade")
	ErrNoActiveSubscription   = errors.New("no active subscription")
	ErrPaidSubscriptionActive = errors.New("user has an active paid subscription")
	ErrUnsupportedGateway     = errors.New("unsupported payment gateway")
	ErrFeatureNotInPlan       = errors.New("feature is not part of the plan")
	ErrFeatureDisabled        = errors.New("feature is disabled for the plan")
	ErrFeatureLimitReached    = errors.New("feature usage limit reached")

	// Payment errors: hard abort, the payment could not be confirmed.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")

	// Dependency errors: safe to retry later.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrStoreUnavailable   = errors.New("storage unavailable")

	// Integrity errors: require manual reconciliation, never retried silently.
	ErrInvalidTransition           = errors.New("invalid subscription state transition")
	ErrMultipleActiveSubscriptions = errors.New("multiple active subscriptions for user")
	ErrInvalidExecContext          = errors.New("invalid execution context")
	ErrReadDatabaseRow             = errors.New("failed to read database row")
)

// ErrorKind tells callers whether to fix input, stop, or retry.
type ErrorKind string

const (
	KindUnknown     ErrorKind = "unknown"
	KindValidation  ErrorKind = "validation"
	KindPayment     ErrorKind = "payment"
	KindUnavailable ErrorKind = "unavailable"
	KindIntegrity   ErrorKind = "integrity"
)

// classified in precedence order; an integrity problem outranks everything else.
var kinds = []struct {
	kind      ErrorKind
	sentinels []error
}{
	{KindIntegrity, []error{ErrInvalidTransition, ErrMultipleActiveSubscriptions, ErrInvalidExecContext, ErrReadDatabaseRow}},
	{KindPayment, []error{ErrPaymentVerificationFailed}},
	{KindUnavailable, []error{ErrGatewayUnavailable, ErrStoreUnavailable}},
	{KindValidation, []error{
		ErrNotFound, ErrInvalidArgument, ErrPlanNotFound, ErrPlanInactive, ErrPlanNotFree,
		ErrInvalidDowngrade, ErrNoActiveSubscription, ErrPaidSubscriptionActive, ErrUnsupportedGateway,
		ErrFeatureNotInPlan, ErrFeatureDisabled, ErrFeatureLimitReached,
	}},
}

// KindOf classifies err by the first known sentinel in its chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		for _, sentinel := range k.sentinels {
			if errors.Is(err, sentinel) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

func IsRetryable(err error) bool { return KindOf(err) == KindUnavailable }
