package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Venue Specific Errors
	ErrVenueNotRegistered   = errors.New("venue is not registered")
	ErrVenueNotInitialized  = errors.New("venue adapter is not initialized")
	ErrVenueUnavailable     = errors.New("venue API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the venue")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrNoQuotes             = errors.New("no usable quote from any venue")
	ErrStrategyNotSupported = errors.New("routing strategy is not supported")

	// Copy-Trading Errors
	ErrNoCredentials    = errors.New("no stored credentials for this venue")
	ErrAlreadyFollowing = errors.New("follower already copies this trader")
	ErrNotFollowing     = errors.New("no active copy relationship found")
	ErrSessionExists    = errors.New("monitoring session already exists for this trader and venue")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrDeleteFailed   = errors.New("database delete failed")
)
