package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KeySet is a set of public JSON Web Keys that can be used to validate the signature
// of JSON web tokens. This is expected to be backed by a remote key set through
// provider metadata discovery or an in-memory set of keys delivered out-of-band.
type KeySet interface {
	// VerifySignature parses the JSON web token, verifies the signature, and returns
	// the raw payload. The parsed, unverified payload is never returned.
	VerifySignature(ctx context.Context, jwt string) (payload []byte, err error)
}

// KeySetOption configures optional key set behavior.
type KeySetOption func(*keySetOptions)

type keySetOptions struct {
	logger *zap.Logger
	clock  clockwork.Clock
}

// WithKeySetLogger sets the logger used to report skipped malformed key
// entries. Defaults to a no-op logger.
func WithKeySetLogger(logger *zap.Logger) KeySetOption {
	return func(o *keySetOptions) { o.logger = logger }
}

// WithKeySetClock sets the clock used to record fetch timestamps. Useful for
// tests.
func WithKeySetClock(clock clockwork.Clock) KeySetOption {
	return func(o *keySetOptions) { o.clock = clock }
}

// NewRemoteKeySet returns a KeySet that can validate JSON web tokens by using HTTP
// GETs to fetch JSON web token sets hosted at a remote URL. This is automatically
// used by NewProvider using the URLs returned by OpenID Connect discovery, but is
// exposed for providers that don't support discovery or to prevent round trips to the
// discovery URL.
//
// The returned KeySet is a long lived verifier that caches keys based on any
// keys change. Reuse a common remote key set instead of creating new ones as needed.
func NewRemoteKeySet(ctx context.Context, jwksURL string, opts ...KeySetOption) *RemoteKeySet {
	o := keySetOptions{logger: zap.NewNop(), clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &RemoteKeySet{
		jwksURL: jwksURL,
		ctx:     ctx,
		logger:  o.logger,
		clock:   o.clock,
	}
}

// RemoteKeySet is a KeySet implementation that validates JSON web tokens against
// a jwks_uri endpoint.
type RemoteKeySet struct {
	jwksURL string
	// ctx owns in-flight fetches. Cancellation of an individual
	// verification does not abort a refresh other callers are waiting on.
	ctx    context.Context
	logger *zap.Logger
	clock  clockwork.Clock

	// group collapses concurrent refreshes into a single fetch.
	group singleflight.Group

	// current is replaced wholesale on refresh. Readers always operate on
	// the snapshot they loaded, never on a partially updated set.
	current atomic.Pointer[keySnapshot]
}

type keySnapshot struct {
	keys      []jose.JSONWebKey
	fetchedAt time.Time
}

// Keys returns the currently cached key set. The returned slice must not be
// modified.
func (r *RemoteKeySet) Keys() []jose.JSONWebKey {
	if snap := r.current.Load(); snap != nil {
		return snap.keys
	}
	return nil
}

// FetchedAt returns the time the current key set was retrieved, or the zero
// time if no fetch has happened yet.
func (r *RemoteKeySet) FetchedAt() time.Time {
	if snap := r.current.Load(); snap != nil {
		return snap.fetchedAt
	}
	return time.Time{}
}

// VerifySignature validates a payload against a signature from the jwks_uri.
//
// Users MUST NOT call this method directly and should use an IDTokenVerifier
// instead. This method skips critical validations such as 'alg' values and is
// only exported to implement the KeySet interface.
func (r *RemoteKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	token, err := parseSigned(jwt)
	if err != nil {
		return nil, err
	}
	return r.verify(ctx, token)
}

func (r *RemoteKeySet) verify(ctx context.Context, token *jws) ([]byte, error) {
	var cached []jose.JSONWebKey
	if snap := r.current.Load(); snap != nil {
		cached = snap.keys
	}

	candidates := candidateKeys(cached, token.header)
	if len(candidates) != 0 {
		// A matching key was cached. A failure here is final: retrying
		// against a refreshed set would let a malicious kid force
		// unbounded fetches.
		return verifyWithKeys(token, candidates)
	}

	// No cached key matched the header. Refresh the set exactly once and
	// retry. Concurrent verifications awaiting the same refresh share it.
	keys, err := r.keysFromRemote(ctx)
	if err != nil {
		return nil, err
	}

	candidates = candidateKeys(keys, token.header)
	if len(candidates) == 0 {
		return nil, &KeyNotFoundError{KeyID: token.header.KeyID}
	}
	return verifyWithKeys(token, candidates)
}

// candidateKeys selects the keys that may verify a token with the given
// header. A key id in the header restricts candidates to keys with that id.
// Without a key id, all keys compatible with the algorithm family are
// candidates, honoring any use or alg restriction the key declares.
func candidateKeys(keys []jose.JSONWebKey, header tokenHeader) []jose.JSONWebKey {
	var out []jose.JSONWebKey
	for _, key := range keys {
		if !keyMatchesAlg(header.Algorithm, key.Key) {
			continue
		}
		if header.KeyID != "" {
			if key.KeyID == header.KeyID {
				out = append(out, key)
			}
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		if key.Algorithm != "" && key.Algorithm != header.Algorithm {
			continue
		}
		out = append(out, key)
	}
	return out
}

// verifyWithKeys tries candidates in listed order. The first key that
// verifies wins. On failure no information about individual candidates is
// returned.
func verifyWithKeys(token *jws, keys []jose.JSONWebKey) ([]byte, error) {
	for _, key := range keys {
		if err := verifySignature(token.header.Algorithm, key.Key, token.signedInput, token.signature); err == nil {
			return token.payload, nil
		}
	}
	return nil, &InvalidSignatureError{}
}

// keysFromRemote syncs the key set from the remote set, records the values in the
// cache, and returns the key set.
func (r *RemoteKeySet) keysFromRemote(ctx context.Context) ([]jose.JSONWebKey, error) {
	ch := r.group.DoChan("updateKeys", func() (interface{}, error) {
		// The fetch runs against the key set's own context so that it
		// survives cancellation of the verification that triggered it.
		return r.updateKeys(r.ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]jose.JSONWebKey), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RemoteKeySet) updateKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	req, err := http.NewRequest("GET", r.jwksURL, nil)
	if err != nil {
		return nil, &KeysFetchError{Err: fmt.Errorf("can't create request: %v", err)}
	}

	resp, err := doRequest(ctx, req)
	if err != nil {
		return nil, &KeysFetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &KeysFetchError{Err: fmt.Errorf("unable to read response body: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &KeysFetchError{Err: fmt.Errorf("%s %s", resp.Status, body)}
	}

	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := unmarshalResp(resp, body, &raw); err != nil {
		return nil, &KeysFetchError{Err: fmt.Errorf("failed to decode keys: %v", err)}
	}

	// Individual malformed entries are skipped rather than failing the
	// whole set. A provider rotating in a key type we don't support must
	// not take down verification of tokens signed with keys we do.
	keys := make([]jose.JSONWebKey, 0, len(raw.Keys))
	for i, rawKey := range raw.Keys {
		var key jose.JSONWebKey
		if err := json.Unmarshal(rawKey, &key); err != nil {
			r.logger.Warn("oidc: skipping malformed key in JWKS document",
				zap.String("jwks_url", r.jwksURL),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}

	r.current.Store(&keySnapshot{keys: keys, fetchedAt: r.clock.Now()})
	return keys, nil
}

// NewStaticKeySet returns a KeySet that validates JSON web tokens using a
// fixed set of trusted public keys. This is useful when the set of keys is
// delivered out-of-band, and for tests.
func NewStaticKeySet(keys []jose.JSONWebKey) *StaticKeySet {
	return &StaticKeySet{keys: keys}
}

// StaticKeySet is a KeySet backed by a predefined set of keys. It never
// refreshes: a header naming an unknown key id fails immediately.
type StaticKeySet struct {
	keys []jose.JSONWebKey
}

// VerifySignature verifies a JWT against the static key set.
func (s *StaticKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	token, err := parseSigned(jwt)
	if err != nil {
		return nil, err
	}
	candidates := candidateKeys(s.keys, token.header)
	if len(candidates) == 0 {
		return nil, &KeyNotFoundError{KeyID: token.header.KeyID}
	}
	return verifyWithKeys(token, candidates)
}
