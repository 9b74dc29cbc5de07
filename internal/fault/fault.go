package fault

import "errors"

const (
	CodeValidation        = "validation_error"
	CodeConflict          = "conflict"
	CodeNotFound          = "not_found"
	CodeTenantNotFound    = "tenant_not_found"
	CodeInvalidCredential = "invalid_credentials"
	CodeIntegrity         = "integrity_error"
	CodeServerError       = "server_error"
)

// Error is the only error type that crosses the registry and directory
// boundaries. Store and hashing failures are folded into one of the
// codes above before they reach a caller.
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func New(code string) *Error {
	return &Error{Code: code}
}

// CodeOf extracts the taxonomy code from err, defaulting to
// server_error for anything untyped.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeServerError
}

func Is(err error, code string) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}
