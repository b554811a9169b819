package auth

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeUserNotFound          = "USER_NOT_FOUND"
	TextCodeEmailAlreadyExists    = "EMAIL_ALREADY_EXISTS"
	TextCodeOldPasswordRequired   = "OLD_PASSWORD_REQUIRED"
	TextCodeOldPasswordIncorrect  = "OLD_PASSWORD_INCORRECT"
	TextCodeImageNotExists        = "IMAGE_NOT_EXISTS"
	TextCodeRoleNotExists         = "ROLE_NOT_EXISTS"
	TextCodeStatusNotExists       = "STATUS_NOT_EXISTS"
	TextCodeEmailNotConfirmed     = "EMAIL_NOT_CONFIRMED"
	TextCodeConfirmationNotFound  = "CONFIRMATION_NOT_FOUND"
	TextCodeSessionNotFound       = "SESSION_NOT_FOUND"
	TextCodeHashMismatch          = "SESSION_HASH_MISMATCH"
	TextCodeUnresolvedRole        = "UNRESOLVED_ROLE"
	TextCodeUnauthorized          = "UNAUTHORIZED"
	TextCodeTooManyAttempts       = "TOO_MANY_ATTEMPTS"
	TextCodeRecordNotFound        = "RECORD_NOT_FOUND"
	TextCodeDuplicateUserID       = "DUPLICATE_USER_ID"
)

func unprocessable(message, textCode, field, code string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(textCode).
		WithCode(http.StatusUnprocessableEntity).
		WithMetadata(map[string]any{
			"field": field,
			"error": code,
		})
}

func unauthorized(message, textCode string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(textCode).
		WithCode(goerrors.CodeUnauthorized)
}

var (
	// ErrInvalidCredentials is returned for any failed login, it never tells
	// an unknown email apart from a wrong password.
	ErrInvalidCredentials = unprocessable("invalid credentials", TextCodeInvalidCredentials, "email", "invalidCredentials")
	// ErrInvalidOrExpiredToken is returned for every token verification failure.
	ErrInvalidOrExpiredToken = unprocessable("invalid or expired token", TextCodeInvalidOrExpiredToken, "hash", "invalidHash")
	ErrUserNotFound          = unprocessable("user not found", TextCodeUserNotFound, "email", "emailNotExists")
	ErrEmailAlreadyExists    = unprocessable("email already exists", TextCodeEmailAlreadyExists, "email", "emailAlreadyExists")
	ErrOldPasswordRequired   = unprocessable("old password is required", TextCodeOldPasswordRequired, "oldPassword", "missingOldPassword")
	ErrOldPasswordIncorrect  = unprocessable("old password is incorrect", TextCodeOldPasswordIncorrect, "oldPassword", "incorrectOldPassword")
	ErrImageNotExists        = unprocessable("image does not exist", TextCodeImageNotExists, "photo", "imageNotExists")
	ErrRoleNotExists         = unprocessable("role does not exist", TextCodeRoleNotExists, "role", "roleNotExists")
	ErrStatusNotExists       = unprocessable("status does not exist", TextCodeStatusNotExists, "status", "statusNotExists")
	// ErrEmailNotConfirmed is only returned when login requires an active status.
	ErrEmailNotConfirmed = unprocessable("email not confirmed", TextCodeEmailNotConfirmed, "email", "emailNotConfirmed")
)

// ErrConfirmationNotFound is returned when a confirmation has nothing to
// confirm: the user is gone or no longer inactive.
var ErrConfirmationNotFound = goerrors.New("confirmation not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeConfirmationNotFound).
	WithCode(goerrors.CodeNotFound).
	WithMetadata(map[string]any{
		"field": "hash",
		"error": "notFound",
	})

var (
	ErrSessionNotFound = unauthorized("session not found", TextCodeSessionNotFound)
	ErrHashMismatch    = unauthorized("session hash mismatch", TextCodeHashMismatch)
	ErrUnresolvedRole  = unauthorized("user role could not be resolved", TextCodeUnresolvedRole)
	// ErrUnauthorized is returned for a missing or invalid access or refresh token.
	ErrUnauthorized = unauthorized("unauthorized", TextCodeUnauthorized)
)

// ErrTooManyAttempts is returned when a limiter rejects an attempt.
var ErrTooManyAttempts = goerrors.New("too many attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrRecordNotFound is the sentinel stores return when a lookup has no match.
var ErrRecordNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRecordNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateUserID is the sentinel stores return when an insert collides
// on the user primary key. It is not an email conflict.
var ErrDuplicateUserID = goerrors.New("user id already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateUserID).
	WithCode(goerrors.CodeConflict)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can not be an empty string")

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = errors.New("password does not match hash")

// IsNotFound reports whether a store error means the record does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRecordNotFound) || goerrors.IsNotFound(err)
}

// IsUnauthorized reports whether err belongs to the 401 class.
func IsUnauthorized(err error) bool {
	return HTTPStatus(err) == http.StatusUnauthorized
}

// IsUnprocessable reports whether err belongs to the 422 class.
func IsUnprocessable(err error) bool {
	return HTTPStatus(err) == http.StatusUnprocessableEntity
}

// HTTPStatus maps err to the status a transport should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}

	return http.StatusInternalServerError
}

// ErrorKind returns the text code of err, or an empty string for errors
// that are not part of the taxonomy.
func ErrorKind(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// errorFields returns the field/error metadata carried by err.
func errorFields(err error) map[string]string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return nil
	}

	field, _ := richErr.Metadata["field"].(string)
	code, _ := richErr.Metadata["error"].(string)
	if field == "" || code == "" {
		return nil
	}

	return map[string]string{field: code}
}

// internalError wraps infrastructure failures so callers only see a generic
// message. Errors already in the taxonomy pass through untouched.
func internalError(err error, message string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category != goerrors.CategoryNotFound && richErr.Category != goerrors.CategoryInternal {
		return err
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal)
}
