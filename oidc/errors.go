package oidc

import (
	"errors"
	"fmt"
	"time"
)

// ErrFlowConsumed is returned when a FlowState is used for more than one
// callback. Correlation values are single use.
var ErrFlowConsumed = errors.New("oidc: flow state has already been consumed")

// DiscoveryFetchError is returned when the provider's discovery document
// can't be fetched or decoded.
type DiscoveryFetchError struct {
	Err error
}

// Error interface
func (e *DiscoveryFetchError) Error() string {
	return fmt.Sprintf("oidc: failed to fetch discovery document: %v", e.Err)
}

// Unwrap returns the underlying transport or decode error.
func (e *DiscoveryFetchError) Unwrap() error { return e.Err }

// IssuerMismatchError is returned when the issuer reported inside a discovery
// document does not exactly match the URL it was fetched from. The document
// is rejected, never corrected.
type IssuerMismatchError struct {
	Configured string
	Reported   string
}

// Error interface
func (e *IssuerMismatchError) Error() string {
	return fmt.Sprintf("oidc: issuer did not match the issuer returned by provider, expected %q got %q", e.Configured, e.Reported)
}

// MalformedDiscoveryError is returned when a discovery document parses but
// lacks a required field.
type MalformedDiscoveryError struct {
	Field string
}

// Error interface
func (e *MalformedDiscoveryError) Error() string {
	return fmt.Sprintf("oidc: discovery document is missing required field %q", e.Field)
}

// KeysFetchError is returned when the provider's JWKS document can't be
// fetched or decoded.
type KeysFetchError struct {
	Err error
}

// Error interface
func (e *KeysFetchError) Error() string {
	return fmt.Sprintf("oidc: failed to fetch keys: %v", e.Err)
}

// Unwrap returns the underlying transport or decode error.
func (e *KeysFetchError) Unwrap() error { return e.Err }

// KeyNotFoundError is returned when no key in the set can be matched against
// the token's header, even after refreshing the set once.
type KeyNotFoundError struct {
	KeyID string
}

// Error interface
func (e *KeyNotFoundError) Error() string {
	if e.KeyID == "" {
		return "oidc: no keys in the key set match the id token header"
	}
	return fmt.Sprintf("oidc: no key with id %q was found in the key set", e.KeyID)
}

// MalformedJWTError is returned when the JWT can't be parsed
type MalformedJWTError struct {
	ParseError error
}

// Error interface
func (e *MalformedJWTError) Error() string {
	return fmt.Sprintf("oidc: malformed jwt: %v", e.ParseError)
}

// MalformedPayloadError is returned when it's impossible to unmarshal the
// JWT payload
type MalformedPayloadError struct {
	UnmarshalError error
}

// Error interface
func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("oidc: failed to unmarshal claims: %v", e.UnmarshalError)
}

// InvalidIssuerError is returned when the JWT issuer is incorrect
type InvalidIssuerError struct {
	Expected string
	Actual   string
}

// Error interface
func (e *InvalidIssuerError) Error() string {
	return fmt.Sprintf("oidc: id token issued by a different provider, expected %q got %q", e.Expected, e.Actual)
}

// InvalidAudienceError is returned when the audience is different from what
// was expected
type InvalidAudienceError struct {
	Expected string
	Actual   []string
}

// Error interface
func (e *InvalidAudienceError) Error() string {
	return fmt.Sprintf("oidc: expected audience %q got %q", e.Expected, e.Actual)
}

// InvalidAuthorizedPartyError is returned when the azp claim is absent from a
// multi-audience token while required, or names a different client.
type InvalidAuthorizedPartyError struct {
	Expected string
	Actual   string
}

// Error interface
func (e *InvalidAuthorizedPartyError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("oidc: id token has multiple audiences but no azp claim, expected %q", e.Expected)
	}
	return fmt.Sprintf("oidc: expected authorized party %q got %q", e.Expected, e.Actual)
}

// InvalidClientIDConfigurationError is returned if no client_id is specified
// when needed or vice-versa
type InvalidClientIDConfigurationError struct{}

// Error interface
func (e *InvalidClientIDConfigurationError) Error() string {
	return "oidc: invalid configuration, clientID must be provided or SkipClientIDCheck must be set"
}

// TokenExpiredError is returned when a token is expired
type TokenExpiredError struct {
	Expiry time.Time
}

// Error interface
func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("oidc: token is expired (Token Expiry: %v)", e.Expiry)
}

// TokenNotYetValidError is returned when a token supplies NotBefore but is
// dated after it
type TokenNotYetValidError struct {
	NowTime time.Time
	NbfTime time.Time
}

// Error interface
func (e *TokenNotYetValidError) Error() string {
	return fmt.Sprintf("oidc: current time %v before the nbf (not before) time: %v", e.NowTime, e.NbfTime)
}

// IssuedInFutureError is returned when a token's iat claim is ahead of the
// current time by more than the configured skew
type IssuedInFutureError struct {
	NowTime time.Time
	IatTime time.Time
}

// Error interface
func (e *IssuedInFutureError) Error() string {
	return fmt.Sprintf("oidc: current time %v before the iat (issued at) time: %v", e.NowTime, e.IatTime)
}

// NonceMismatchError is returned when the nonce claim does not match the
// value generated for the flow. The compared values are deliberately not
// included.
type NonceMismatchError struct{}

// Error interface
func (e *NonceMismatchError) Error() string {
	return "oidc: nonce did not match the value from the authorization request"
}

// UnsupportedSigningError is returned when a token declares a signing
// algorithm outside the caller's allow-list
type UnsupportedSigningError struct {
	Supported []string
	Provided  string
}

// Error interface
func (e *UnsupportedSigningError) Error() string {
	return fmt.Sprintf("oidc: id token signed with unsupported algorithm, expected %q got %q", e.Supported, e.Provided)
}

// InvalidSignatureError is returned when no key in the set confirms the
// token's signature. It carries no detail about individual candidate keys.
type InvalidSignatureError struct{}

// Error interface
func (e *InvalidSignatureError) Error() string {
	return "oidc: failed to verify id token signature"
}

// PayloadMismatchError is returned when there is a mismatch between original
// payload and verified payload
type PayloadMismatchError struct{}

// Error interface
func (e *PayloadMismatchError) Error() string {
	return "oidc: internal error, payload parsed did not match previous payload"
}

// MissingHashError is returned when a hash binding is requested but the id
// token does not carry the corresponding claim
type MissingHashError struct {
	Claim string
}

// Error interface
func (e *MissingHashError) Error() string {
	switch e.Claim {
	case "at_hash":
		return "id token did not have an access token hash"
	case "c_hash":
		return "id token did not have an authorization code hash"
	}
	return fmt.Sprintf("id token did not have a %s claim", e.Claim)
}

// HashMismatchError is returned when a hash binding claim does not match the
// left-half hash of the presented artifact
type HashMismatchError struct {
	Claim string
}

// Error interface
func (e *HashMismatchError) Error() string {
	switch e.Claim {
	case "at_hash":
		return "access token hash does not match value in ID token"
	case "c_hash":
		return "authorization code hash does not match value in ID token"
	}
	return fmt.Sprintf("%s does not match value in ID token", e.Claim)
}

// StateMismatchError is returned when the state parameter returned on the
// callback differs from the one issued for the flow
type StateMismatchError struct{}

// Error interface
func (e *StateMismatchError) Error() string {
	return "oidc: state parameter did not match the value from the authorization request"
}
