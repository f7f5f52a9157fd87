package auth

import (
	"database/sql"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeSignatureInvalid       = "TOKEN_SIGNATURE_INVALID"
	TextCodeClaimExpired           = "TOKEN_CLAIM_EXPIRED"
	TextCodeAudienceIssuerMismatch = "TOKEN_AUDIENCE_ISSUER_MISMATCH"
	TextCodeKeyRetrievalFailed     = "KEY_RETRIEVAL_FAILED"
	TextCodeIdentityMapping        = "IDENTITY_MAPPING_FAILED"
	TextCodeInvalidTTL             = "INVALID_TTL"
	TextCodeStoreError             = "STORE_ERROR"
	TextCodeDuplicateIdentity      = "DUPLICATE_IDENTITY"
	TextCodeUserNotFound           = "USER_NOT_FOUND"
	TextCodeSessionNotFound        = "SESSION_NOT_FOUND"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeEmptyCredential        = "EMPTY_CREDENTIAL"
	TextCodeInvalidConfig          = "INVALID_CONFIG"
)

// ErrMalformedToken is returned when the bearer token cannot be parsed
var ErrMalformedToken = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrSignatureInvalid is returned when the token signature does not verify
var ErrSignatureInvalid = errors.New("token signature is invalid", errors.CategoryAuth).
	WithTextCode(TextCodeSignatureInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrClaimExpired is returned when the token exp claim is in the past
var ErrClaimExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeClaimExpired).
	WithCode(errors.CodeUnauthorized)

// ErrAudienceOrIssuerMismatch is returned when aud or iss do not match the configuration
var ErrAudienceOrIssuerMismatch = errors.New("token audience or issuer mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeAudienceIssuerMismatch).
	WithCode(errors.CodeUnauthorized)

// ErrKeyRetrievalFailed is returned when signing keys could not be fetched.
// It is transient: callers may retry the request, the reconciler never does.
var ErrKeyRetrievalFailed = errors.New("unable to retrieve signing keys", errors.CategoryAuth).
	WithTextCode(TextCodeKeyRetrievalFailed).
	WithCode(errors.CodeUnauthorized)

// ErrIdentityMapping is returned when a claim cannot be mapped to a local identity
var ErrIdentityMapping = errors.New("unable to map claim to local identity", errors.CategoryAuth).
	WithTextCode(TextCodeIdentityMapping).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidTTL is returned when a claim expires before a session could be minted
var ErrInvalidTTL = errors.New("claim expiration yields a non positive session ttl", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidTTL).
	WithCode(errors.CodeUnauthorized)

// ErrStore wraps every user store failure
var ErrStore = errors.New("user store operation failed", errors.CategoryInternal).
	WithTextCode(TextCodeStoreError).
	WithCode(errors.CodeInternal)

// ErrDuplicateIdentity is returned by the store when the identifying attribute already exists
var ErrDuplicateIdentity = errors.New("identity already exists", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(errors.CodeConflict)

// ErrUserNotFound is returned by the store when no user matches the identity
var ErrUserNotFound = errors.New("user not found", errors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(errors.CodeNotFound)

// ErrSessionNotFound is returned when a session is missing
var ErrSessionNotFound = errors.New("session not found", errors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(errors.CodeNotFound)

// ErrMismatchedHashAndPassword is returned when the local credential does not match
var ErrMismatchedHashAndPassword = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty credential
var ErrNoEmptyString = errors.New("credential can not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyCredential).
	WithCode(errors.CodeBadRequest)

// ErrInvalidConfig is returned when configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(errors.CodeBadRequest)

var verificationTextCodes = map[string]struct{}{
	TextCodeTokenMalformed:         {},
	TextCodeSignatureInvalid:       {},
	TextCodeClaimExpired:           {},
	TextCodeAudienceIssuerMismatch: {},
	TextCodeKeyRetrievalFailed:     {},
}

// WrapError clones base, attaches cause as its source and merges metadata.
func WrapError(base *errors.Error, cause error, metadata map[string]any) error {
	clone := base.Clone()
	clone.Source = cause
	if len(metadata) > 0 {
		clone = clone.WithMetadata(metadata)
	}
	return clone
}

// storeError wraps a store failure for the given operation.
func storeError(op string, cause error) error {
	return WrapError(ErrStore, cause, map[string]any{
		"operation": op,
	})
}

func textCode(err error) string {
	var rich *errors.Error
	if stderrors.As(err, &rich) && rich != nil {
		return rich.TextCode
	}
	return ""
}

// causes returns err followed by every Source in its chain
func causes(err error) []error {
	out := []error{}
	for depth := 0; err != nil && depth < 16; depth++ {
		out = append(out, err)
		var rich *errors.Error
		if !stderrors.As(err, &rich) || rich == nil {
			break
		}
		err = rich.Source
	}
	return out
}

func hasTextCode(err error, code string) bool {
	for _, cause := range causes(err) {
		if textCode(cause) == code {
			return true
		}
	}
	return false
}

// IsVerificationError reports whether err rejects the bearer token itself
func IsVerificationError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := verificationTextCodes[textCode(err)]
	return ok
}

// IsTransientVerificationError reports whether the verification failure was
// caused by the key endpoint being unavailable
func IsTransientVerificationError(err error) bool {
	return textCode(err) == TextCodeKeyRetrievalFailed
}

// IsStoreError reports whether err originated in the user store
func IsStoreError(err error) bool {
	return textCode(err) == TextCodeStoreError
}

// IsInvalidTTL reports whether err is an expired claim caught by the reconciler
func IsInvalidTTL(err error) bool {
	return hasTextCode(err, TextCodeInvalidTTL)
}

// IsIdentityMappingError reports whether the claim could not be mapped
func IsIdentityMappingError(err error) bool {
	return textCode(err) == TextCodeIdentityMapping
}

// IsDuplicateIdentity reports whether err is a uniqueness violation on the
// identifying attribute. Driver errors are matched on their message.
func IsDuplicateIdentity(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeDuplicateIdentity) {
		return true
	}
	for _, cause := range causes(err) {
		msg := strings.ToLower(cause.Error())
		if strings.Contains(msg, "unique constraint") ||
			strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "duplicate entry") ||
			strings.Contains(msg, "sqlstate 23505") {
			return true
		}
	}
	return false
}

// IsUserNotFound reports whether err means the identity has no local user
func IsUserNotFound(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeUserNotFound) {
		return true
	}
	for _, cause := range causes(err) {
		if stderrors.Is(cause, sql.ErrNoRows) || repository.IsRecordNotFound(cause) {
			return true
		}
	}
	return false
}

// IsSessionNotFound reports whether err means the session does not exist
func IsSessionNotFound(err error) bool {
	return hasTextCode(err, TextCodeSessionNotFound)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if textCode(err) == TextCodeClaimExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if textCode(err) == TextCodeTokenMalformed {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// HTTPStatus maps an error to the response status the pipeline sends
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsVerificationError(err), IsInvalidTTL(err), IsIdentityMappingError(err):
		return http.StatusUnauthorized
	case IsSessionNotFound(err):
		return http.StatusUnauthorized
	case IsStoreError(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
