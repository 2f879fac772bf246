package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// ScopeOpenID is the mandatory scope for all OpenID Connect OAuth2 requests.
	ScopeOpenID = "openid"

	// ScopeOfflineAccess is an optional scope defined by OpenID Connect for requesting
	// OAuth2 refresh tokens.
	//
	// Support for this scope differs between OpenID Connect providers. For instance
	// Google rejects it, favoring appending "access_type=offline" as part of the
	// authorization request instead.
	//
	// See: https://openid.net/specs/openid-connect-core-1_0.html#OfflineAccess
	ScopeOfflineAccess = "offline_access"
)

// supportedAlgorithms are the signing algorithms accepted from a discovery
// document's id_token_signing_alg_values_supported list. Symmetric
// algorithms are excluded because providers don't publish shared secrets
// through a JWKS endpoint.
var supportedAlgorithms = map[string]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// Provider represents an OpenID Connect server's configuration as obtained
// through discovery. A Provider is immutable once constructed.
type Provider struct {
	issuer      string
	authURL     string
	tokenURL    string
	userInfoURL string
	jwksURL     string
	algorithms  []string

	// Raw claims returned by the server.
	rawClaims []byte

	remoteKeySet KeySet
}

type providerJSON struct {
	Issuer      string   `json:"issuer"`
	AuthURL     string   `json:"authorization_endpoint"`
	TokenURL    string   `json:"token_endpoint"`
	JWKSURL     string   `json:"jwks_uri"`
	UserInfoURL string   `json:"userinfo_endpoint"`
	Algorithms  []string `json:"id_token_signing_alg_values_supported"`
}

// NewProvider uses the OpenID Connect discovery mechanism to construct a Provider.
//
// The issuer is the URL identifier for the service. For example: "https://accounts.google.com"
// or "https://login.salesforce.com".
func NewProvider(ctx context.Context, issuer string, opts ...KeySetOption) (*Provider, error) {
	return newProvider(ctx, issuer, zap.NewNop(), clockwork.NewRealClock(), opts...)
}

func newProvider(ctx context.Context, issuer string, logger *zap.Logger, clock clockwork.Clock, opts ...KeySetOption) (*Provider, error) {
	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequest("GET", wellKnown, nil)
	if err != nil {
		return nil, &DiscoveryFetchError{Err: err}
	}
	resp, err := doRequest(ctx, req)
	if err != nil {
		return nil, &DiscoveryFetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DiscoveryFetchError{Err: fmt.Errorf("unable to read response body: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryFetchError{Err: fmt.Errorf("%s: %s", resp.Status, body)}
	}

	var p providerJSON
	if err := unmarshalResp(resp, body, &p); err != nil {
		return nil, &DiscoveryFetchError{Err: fmt.Errorf("failed to decode provider discovery object: %v", err)}
	}

	// The issuer inside the document must exactly match the URL the
	// document was fetched from. A mismatch is rejected, never corrected.
	if p.Issuer != issuer {
		return nil, &IssuerMismatchError{Configured: issuer, Reported: p.Issuer}
	}
	for field, val := range map[string]string{
		"issuer":                 p.Issuer,
		"authorization_endpoint": p.AuthURL,
		"token_endpoint":         p.TokenURL,
		"jwks_uri":               p.JWKSURL,
	} {
		if val == "" {
			return nil, &MalformedDiscoveryError{Field: field}
		}
	}

	var algs []string
	for _, a := range p.Algorithms {
		if supportedAlgorithms[a] {
			algs = append(algs, a)
		}
	}

	keySetOpts := append([]KeySetOption{
		WithKeySetLogger(logger),
		WithKeySetClock(clock),
	}, opts...)

	return &Provider{
		issuer:       p.Issuer,
		authURL:      p.AuthURL,
		tokenURL:     p.TokenURL,
		userInfoURL:  p.UserInfoURL,
		jwksURL:      p.JWKSURL,
		algorithms:   algs,
		rawClaims:    body,
		remoteKeySet: NewRemoteKeySet(ctx, p.JWKSURL, keySetOpts...),
	}, nil
}

// Issuer returns the issuer URL the provider was resolved from.
func (p *Provider) Issuer() string { return p.issuer }

// Claims unmarshals raw fields returned by the server during discovery.
//
//	var claims struct {
//		ScopesSupported []string `json:"scopes_supported"`
//		ClaimsSupported []string `json:"claims_supported"`
//	}
//
//	if err := provider.Claims(&claims); err != nil {
//		// handle unmarshaling error
//	}
//
// For a list of fields defined by the OpenID spec see:
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
func (p *Provider) Claims(v interface{}) error {
	if p.rawClaims == nil {
		return fmt.Errorf("oidc: claims not set")
	}
	return json.Unmarshal(p.rawClaims, v)
}

// Endpoint returns the OAuth2 auth and token endpoints for the given provider.
func (p *Provider) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: p.authURL, TokenURL: p.tokenURL}
}

// KeySet returns the provider's remote key set.
func (p *Provider) KeySet() KeySet {
	return p.remoteKeySet
}

// Verifier returns an IDTokenVerifier that uses the provider's key set to verify JWTs.
func (p *Provider) Verifier(config *Config) *IDTokenVerifier {
	if len(config.SupportedSigningAlgs) == 0 && len(p.algorithms) > 0 {
		// Make a copy so we don't modify the config values.
		cp := &Config{}
		*cp = *config
		cp.SupportedSigningAlgs = p.algorithms
		config = cp
	}
	return NewVerifier(p.issuer, p.remoteKeySet, config)
}

// VerifierContext returns an IDTokenVerifier tied to the given context with
// its own remote key set. Most callers should prefer Verifier, which shares
// the provider's key set.
func (p *Provider) VerifierContext(ctx context.Context, config *Config) *IDTokenVerifier {
	if len(config.SupportedSigningAlgs) == 0 && len(p.algorithms) > 0 {
		cp := &Config{}
		*cp = *config
		cp.SupportedSigningAlgs = p.algorithms
		config = cp
	}
	return NewVerifier(p.issuer, NewRemoteKeySet(ctx, p.jwksURL), config)
}
