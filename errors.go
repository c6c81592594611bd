package csrfguard

import "errors"

var (
	ErrMissingHeaderToken  = errors.New("CSRF Token missing in header (X-CSRF-Token)")
	ErrMissingCookieToken  = errors.New("CSRF Token missing in cookie (csrf-token)")
	ErrTokenMismatch       = errors.New("CSRF Token validation failed (token mismatch)")
	ErrInvalidTokenFormat  = errors.New("CSRF Token invalid format")
	ErrSignatureInvalid    = errors.New("CSRF Token signature invalid")
	ErrMissingSessionToken = errors.New("CSRF Token missing in session")

	// ErrMissingSecret is a configuration error of the signed strategy.
	ErrMissingSecret = errors.New("csrf secret is required for the signed strategy")
)

// GenericMessage replaces every cause in production.
const GenericMessage = "CSRF validation failed"

var reasons = []struct {
	err    error
	reason string
}{
	{ErrMissingHeaderToken, "missing_header"},
	{ErrMissingCookieToken, "missing_cookie"},
	{ErrTokenMismatch, "mismatch"},
	{ErrInvalidTokenFormat, "invalid_format"},
	{ErrSignatureInvalid, "invalid_signature"},
	{ErrMissingSessionToken, "missing_session"},
}

// IsValidationError reports whether err is one of the CSRF validation errors
// above, as opposed to an infrastructure failure such as an unreachable store.
func IsValidationError(err error) bool {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return true
		}
	}
	return false
}

// Reason returns a short label for a validation error, or "error" for
// anything outside the taxonomy.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "error"
}
