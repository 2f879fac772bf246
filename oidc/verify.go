package oidc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Config is the configuration for an IDTokenVerifier.
type Config struct {
	// Expected audience of the token. For a majority of the cases this is expected to be
	// the ID of the client that initialized the login flow. It may occasionally differ if
	// the provider supports the authorizing party (azp) claim.
	//
	// If not provided, users must explicitly set SkipClientIDCheck.
	ClientID string

	// If specified, only this set of algorithms may be used to sign the JWT.
	//
	// If the IDTokenVerifier is created from a provider with (*Provider).Verifier, this
	// defaults to the set of algorithms the provider supports. Otherwise to a default
	// of ["RS256"].
	SupportedSigningAlgs []string

	// Expected nonce claim. Set this from the FlowState that started the
	// login flow. If empty, a nonce carried by the token is ignored.
	Nonce string

	// ClockSkew is the tolerance applied to the exp, iat, and nbf claims to
	// absorb clock drift between this process and the provider.
	ClockSkew time.Duration

	// RequireAuthorizedParty makes tokens with multiple audiences fail
	// unless they carry an azp claim matching ClientID. When false, a
	// multi-audience token without azp is accepted as long as ClientID is
	// among the audiences. The OpenID Connect profiles are ambiguous here,
	// so the strictness is a policy choice left to the caller.
	RequireAuthorizedParty bool

	// AccessToken, if set, is checked against the token's at_hash claim
	// using the left-half hash of the verification algorithm.
	AccessToken string

	// AuthorizationCode, if set, is checked against the token's c_hash
	// claim the same way.
	AuthorizationCode string

	// If true, no ClientID check performed. Must be true if ClientID field is empty.
	SkipClientIDCheck bool
	// If true, token expiry is not checked.
	SkipExpiryCheck bool
	// SkipIssuerCheck is intended for specialized cases where the the caller wishes to
	// defer issuer validation. When enabled, callers MUST independently verify the Token's
	// Issuer is a known good value.
	SkipIssuerCheck bool

	// Time function to check Token expiry. Defaults to time.Now
	Now func() time.Time

	// InsecureSkipSignatureCheck causes this package to skip JWT signature validation.
	// It's intended for special cases where providers (such as legacy systems) don't sign
	// tokens, including with the "none" algorithm. The claims returned by Verify are NOT
	// cryptographically trustworthy when this is set.
	InsecureSkipSignatureCheck bool
}

// IDTokenVerifier provides verification for ID Tokens.
type IDTokenVerifier struct {
	keySet KeySet
	config *Config
	issuer string
}

// NewVerifier returns a verifier manually constructed from a key set and issuer URL.
//
// It's easier to use provider discovery to construct an IDTokenVerifier than creating
// one directly. This method is intended to be used with provider that don't support
// metadata discovery, or avoiding round trips when the JWKS URL is already known.
func NewVerifier(issuerURL string, keySet KeySet, config *Config) *IDTokenVerifier {
	return &IDTokenVerifier{keySet: keySet, config: config, issuer: issuerURL}
}

// IDToken is an OpenID Connect extension that provides a predictable representation
// of an authorization event.
//
// The ID Token only holds fields OpenID Connect requires. To access additional
// claims returned by the server, use the Claims method.
type IDToken struct {
	// The URL of the server which issued this token. OpenID Connect
	// requires this value always be identical to the URL used for
	// initial discovery.
	Issuer string

	// The client ID, or set of client IDs, that this token is issued for. For
	// common uses, this is the client that initialized the auth flow.
	//
	// This package ensures the audience contains an expected value.
	Audience []string

	// A unique string which identifies the end user.
	Subject string

	// Expiry of the token. Ths package will not process tokens that have
	// expired unless that validation is explicitly turned off.
	Expiry time.Time

	// When the token was issued by the provider.
	IssuedAt time.Time

	// NotBefore is the optional nbf claim. Zero if the token doesn't carry
	// one.
	NotBefore time.Time

	// Initial nonce provided during the authentication redirect.
	//
	// This package does NOT provide verification on the value of this field
	// and it's the user's responsibility to ensure it contains a valid value
	// when a nonce-bound flow isn't configured through Config.Nonce.
	Nonce string

	// AuthorizedParty is the optional azp claim, naming the client the
	// token was issued to when the audience has multiple entries.
	AuthorizedParty string

	// at_hash claim, if set in the token. Callers can verify an access token
	// that corresponds to the ID token using the VerifyAccessToken method.
	AccessTokenHash string

	// c_hash claim, if set in the token. Callers can verify the authorization
	// code that was issued alongside the ID token using the
	// VerifyAuthorizationCode method.
	CodeHash string

	// raw claims of the verified payload
	claims []byte

	// signature algorithm and key id used for the verification
	sigAlgorithm string
	sigKeyID     string
}

// SignatureAlgorithm returns the JOSE algorithm that verified the token.
func (i *IDToken) SignatureAlgorithm() string { return i.sigAlgorithm }

// SignatureKeyID returns the key id named by the token's header, if any.
func (i *IDToken) SignatureKeyID() string { return i.sigKeyID }

// Claims unmarshals the raw JSON payload of the ID Token into a provided struct.
//
//	idToken, err := idTokenVerifier.Verify(rawIDToken)
//	if err != nil {
//		// handle error
//	}
//	var claims struct {
//		Email         string `json:"email"`
//		EmailVerified bool   `json:"email_verified"`
//	}
//	if err := idToken.Claims(&claims); err != nil {
//		// handle error
//	}
func (i *IDToken) Claims(v interface{}) error {
	if i.claims == nil {
		return fmt.Errorf("oidc: claims not set")
	}
	return json.Unmarshal(i.claims, v)
}

// VerifyAccessToken verifies that the hash of the access token that corresponds to the iD token
// matches the hash in the id token. It returns an error if the hashes don't match.
// It is the caller's responsibility to ensure that the optional access token hash is present for the ID token
// before calling this method. See https://openid.net/specs/openid-connect-core-1_0.html#CodeIDToken
func (i *IDToken) VerifyAccessToken(accessToken string) error {
	if i.AccessTokenHash == "" {
		return &MissingHashError{Claim: "at_hash"}
	}
	return verifyHash(i.sigAlgorithm, i.AccessTokenHash, accessToken, "at_hash")
}

// VerifyAuthorizationCode verifies that the hash of the authorization code issued alongside the
// id token matches the c_hash claim.
func (i *IDToken) VerifyAuthorizationCode(code string) error {
	if i.CodeHash == "" {
		return &MissingHashError{Claim: "c_hash"}
	}
	return verifyHash(i.sigAlgorithm, i.CodeHash, code, "c_hash")
}

// verifyHash checks a left-half hash binding claim. The artifact's raw bytes
// are hashed with the verification algorithm's hash function, and the left
// half, base64url encoded, must equal the claim.
func verifyHash(sigAlgorithm, expected, artifact, claim string) error {
	hash, err := hashForAlg(sigAlgorithm)
	if err != nil {
		return err
	}
	h := hash.New()
	h.Write([]byte(artifact))
	sum := h.Sum(nil)
	got := base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return &HashMismatchError{Claim: claim}
	}
	return nil
}

type idToken struct {
	Issuer          string    `json:"iss"`
	Subject         string    `json:"sub"`
	Audience        audience  `json:"aud"`
	Expiry          jsonTime  `json:"exp"`
	IssuedAt        jsonTime  `json:"iat"`
	NotBefore       *jsonTime `json:"nbf"`
	Nonce           string    `json:"nonce"`
	AuthorizedParty string    `json:"azp"`
	AtHash          string    `json:"at_hash"`
	CHash           string    `json:"c_hash"`
}

// Verify parses a raw ID Token, verifies it's been signed by the provider, performs
// any additional checks depending on the Config, and returns the payload.
//
// Verify does NOT do state validation, which is the callers responsibility
// through FlowState.VerifyState.
//
//	oauth2Token, err := oauth2Config.Exchange(ctx, r.URL.Query().Get("code"))
//	if err != nil {
//		// handle error
//	}
//
//	// Extract the ID Token from oauth2 token.
//	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
//	if !ok {
//		// handle error
//	}
//
//	token, err := verifier.Verify(ctx, rawIDToken)
func (v *IDTokenVerifier) Verify(ctx context.Context, rawIDToken string) (*IDToken, error) {
	// Throw out tokens with invalid claims before trying to verify the token. This lets
	// us do cheap checks before possibly re-syncing keys.
	jws, err := parseSigned(rawIDToken)
	if err != nil {
		return nil, err
	}
	payload := jws.payload

	var token idToken
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, &MalformedPayloadError{UnmarshalError: err}
	}

	t := &IDToken{
		Issuer:          token.Issuer,
		Subject:         token.Subject,
		Audience:        []string(token.Audience),
		Expiry:          time.Time(token.Expiry),
		IssuedAt:        time.Time(token.IssuedAt),
		Nonce:           token.Nonce,
		AuthorizedParty: token.AuthorizedParty,
		AccessTokenHash: token.AtHash,
		CodeHash:        token.CHash,
		claims:          payload,
		sigAlgorithm:    jws.header.Algorithm,
		sigKeyID:        jws.header.KeyID,
	}
	if token.NotBefore != nil {
		t.NotBefore = time.Time(*token.NotBefore)
	}

	// Check issuer.
	if !v.config.SkipIssuerCheck && t.Issuer != v.issuer {
		return nil, &InvalidIssuerError{Expected: v.issuer, Actual: t.Issuer}
	}

	// If a client ID has been provided, make sure it's part of the audience. SkipClientIDCheck must be true if ClientID is empty.
	if !v.config.SkipClientIDCheck {
		if v.config.ClientID == "" {
			return nil, &InvalidClientIDConfigurationError{}
		}
		if !contains(t.Audience, v.config.ClientID) {
			return nil, &InvalidAudienceError{Expected: v.config.ClientID, Actual: t.Audience}
		}
		// An azp claim, when present, must name this client.
		if t.AuthorizedParty != "" && t.AuthorizedParty != v.config.ClientID {
			return nil, &InvalidAuthorizedPartyError{Expected: v.config.ClientID, Actual: t.AuthorizedParty}
		}
		if v.config.RequireAuthorizedParty && len(t.Audience) > 1 && t.AuthorizedParty == "" {
			return nil, &InvalidAuthorizedPartyError{Expected: v.config.ClientID}
		}
	}

	now := time.Now
	if v.config.Now != nil {
		now = v.config.Now
	}
	nowTime := now()
	skew := v.config.ClockSkew

	if !v.config.SkipExpiryCheck {
		if t.Expiry.Add(skew).Before(nowTime) {
			return nil, &TokenExpiredError{Expiry: t.Expiry}
		}
		// If iat is in the future beyond the allowed skew the token was
		// minted by a badly skewed or malicious party.
		if !t.IssuedAt.IsZero() && t.IssuedAt.After(nowTime.Add(skew)) {
			return nil, &IssuedInFutureError{NowTime: nowTime, IatTime: t.IssuedAt}
		}
		if !t.NotBefore.IsZero() && t.NotBefore.After(nowTime.Add(skew)) {
			return nil, &TokenNotYetValidError{NowTime: nowTime, NbfTime: t.NotBefore}
		}
	}

	// Nonce binding is opt-in per flow: a token nonce is only checked when
	// the caller expected one.
	if v.config.Nonce != "" {
		if subtle.ConstantTimeCompare([]byte(t.Nonce), []byte(v.config.Nonce)) != 1 {
			return nil, &NonceMismatchError{}
		}
	}

	if v.config.InsecureSkipSignatureCheck {
		return t, nil
	}

	// The token never chooses its own algorithm class. Enforce the
	// caller's allow-list before any key lookup.
	supportedSigAlgs := v.config.SupportedSigningAlgs
	if len(supportedSigAlgs) == 0 {
		supportedSigAlgs = []string{RS256}
	}
	if !contains(supportedSigAlgs, jws.header.Algorithm) {
		return nil, &UnsupportedSigningError{Supported: supportedSigAlgs, Provided: jws.header.Algorithm}
	}

	gotPayload, err := v.keySet.VerifySignature(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	// Ensure that the payload returned by the key set actually matches the payload parsed earlier.
	if !bytes.Equal(gotPayload, payload) {
		return nil, &PayloadMismatchError{}
	}

	if v.config.AccessToken != "" {
		if err := t.VerifyAccessToken(v.config.AccessToken); err != nil {
			return nil, err
		}
	}
	if v.config.AuthorizationCode != "" {
		if err := t.VerifyAuthorizationCode(v.config.AuthorizationCode); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func contains(sli []string, ele string) bool {
	for _, s := range sli {
		if s == ele {
			return true
		}
	}
	return false
}

type audience []string

func (a *audience) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		*a = audience{s}
		return nil
	}
	var auds []string
	if err := json.Unmarshal(b, &auds); err != nil {
		return err
	}
	*a = auds
	return nil
}

type jsonTime time.Time

func (j *jsonTime) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	var unix int64

	if t, err := n.Int64(); err == nil {
		unix = t
	} else {
		f, err := n.Float64()
		if err != nil {
			return err
		}
		unix = int64(f)
	}
	*j = jsonTime(time.Unix(unix, 0))
	return nil
}
