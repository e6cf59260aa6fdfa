package ierr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrInternalServer = errors.New("internal server error")
	ErrRateLimited    = errors.New("rate limit exceeded")

	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrClientKeyNotFound  = errors.New("client key not found or disabled")

	ErrKeyGenerationFailed = errors.New("no license keys could be generated")
)

// Redemption outcomes. The message is the code returned to callers.
var (
	ErrInvalidKey         = errors.New("invalid_key")
	ErrKeyExpired         = errors.New("key_expired")
	ErrKeyAlreadyUsed     = errors.New("key_already_used")
	ErrInvalidKeyDuration = errors.New("invalid_key_duration")
)

var redemptionErrors = []error{ErrInvalidKey, ErrKeyExpired, ErrKeyAlreadyUsed, ErrInvalidKeyDuration}

// RedemptionError returns the redemption outcome wrapped in err, if any.
func RedemptionError(err error) (error, bool) {
	for _, target := range redemptionErrors {
		if errors.Is(err, target) {
			return target, true
		}
	}
	return nil, false
}

// IsRedemptionError reports whether err carries one of the redemption outcomes.
func IsRedemptionError(err error) bool {
	_, ok := RedemptionError(err)
	return ok
}
