package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

// ChallengeMethodS256 is the only PKCE challenge method this package emits.
// The "plain" method defeats the purpose of PKCE and is not supported.
const ChallengeMethodS256 = "S256"

// FlowState carries the correlation values that tie an authorization request
// to its callback and token response: the nonce embedded in the ID token, the
// PKCE verifier/challenge pair, and the state parameter.
//
// A FlowState is created by BeginFlow at authorization-request time and must
// be held by the caller across the redirect, typically in session storage.
// It is consumed exactly once at callback time.
type FlowState struct {
	// State is the value for the state parameter of the authorization
	// request. Compare it against the callback's state with VerifyState.
	State string

	// Nonce binds the ID token to this flow. Pass it to the verifier
	// through VerifierConfig.
	Nonce string

	// CodeVerifier is the PKCE verifier sent with the code exchange.
	CodeVerifier string

	// CodeChallenge is the S256 derivation of CodeVerifier sent with the
	// authorization request.
	CodeChallenge string

	// ChallengeMethod is always "S256".
	ChallengeMethod string

	mu       sync.Mutex
	consumed bool
}

// BeginFlow generates a fresh set of correlation values from a
// cryptographically secure random source. The nonce and state carry 256 bits
// of entropy each; the code verifier is 43 URL-safe characters.
func BeginFlow() (*FlowState, error) {
	state, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	verifier, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(verifier))
	return &FlowState{
		State:           state,
		Nonce:           nonce,
		CodeVerifier:    verifier,
		CodeChallenge:   base64.RawURLEncoding.EncodeToString(sum[:]),
		ChallengeMethod: ChallengeMethodS256,
	}, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return "", err
	} else if got != n {
		return "", errors.New("oidc: unable to generate enough random data")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeOptions returns the parameters to append to the authorization
// request. Use with oauth2.Config.AuthCodeURL:
//
//	url := oauth2Config.AuthCodeURL(flow.State, flow.AuthCodeOptions()...)
func (s *FlowState) AuthCodeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", s.Nonce),
		oauth2.SetAuthURLParam("code_challenge", s.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", s.ChallengeMethod),
	}
}

// ExchangeOptions returns the parameters to append to the code exchange. Use
// with oauth2.Config.Exchange:
//
//	tok, err := oauth2Config.Exchange(ctx, code, flow.ExchangeOptions()...)
func (s *FlowState) ExchangeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", s.CodeVerifier),
	}
}

// VerifyState compares the state parameter returned on the callback against
// the generated value in constant time, and marks the flow as consumed. A
// second call returns ErrFlowConsumed regardless of the value.
func (s *FlowState) VerifyState(got string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return ErrFlowConsumed
	}
	s.consumed = true
	if subtle.ConstantTimeCompare([]byte(s.State), []byte(got)) != 1 {
		return &StateMismatchError{}
	}
	return nil
}

// VerifierConfig copies base and binds the flow's nonce to it, producing the
// Config to verify the ID token returned for this flow. A nil base starts
// from an empty Config.
func (s *FlowState) VerifierConfig(base *Config) *Config {
	cp := &Config{}
	if base != nil {
		*cp = *base
	}
	cp.Nonce = s.Nonce
	return cp
}
