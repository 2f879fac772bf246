package oidc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type keyServer struct {
	mu   sync.Mutex
	keys jose.JSONWebKeySet
}

func (k *keyServer) setKeys(keys jose.JSONWebKeySet) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = keys
}

func (k *keyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	keys := k.keys
	k.mu.Unlock()
	if err := json.NewEncoder(w).Encode(keys); err != nil {
		panic(err)
	}
}

type signingKey struct {
	keyID string // optional
	priv  interface{}
	pub   interface{}
	alg   jose.SignatureAlgorithm
}

// sign creates a JWS using the private key from the provided payload.
func (s *signingKey) sign(t testing.TB, payload []byte) string {
	privKey := &jose.JSONWebKey{Key: s.priv, Algorithm: string(s.alg), KeyID: s.keyID}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: s.alg, Key: privKey}, nil)
	if err != nil {
		t.Fatal(err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatal(err)
	}

	data, err := jws.CompactSerialize()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func (s *signingKey) jwk() jose.JSONWebKey {
	return jose.JSONWebKey{Key: s.pub, Use: "sig", Algorithm: string(s.alg), KeyID: s.keyID}
}

func newRSAKey(t testing.TB) *signingKey {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return &signingKey{"", priv, priv.Public(), jose.RS256}
}

func newECDSAKey(t testing.TB) *signingKey {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &signingKey{"", priv, priv.Public(), jose.ES256}
}

func newEdDSAKey(t testing.TB) *signingKey {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &signingKey{"", privateKey, publicKey, jose.EdDSA}
}

func TestRSAVerify(t *testing.T) {
	good := newRSAKey(t)
	bad := newRSAKey(t)

	testKeyVerify(t, good, bad, good)
}

func TestECDSAVerify(t *testing.T) {
	good := newECDSAKey(t)
	bad := newECDSAKey(t)
	testKeyVerify(t, good, bad, good)
}

func TestEdDSAVerify(t *testing.T) {
	good := newEdDSAKey(t)
	bad := newEdDSAKey(t)
	testKeyVerify(t, good, bad, good)
}

func TestMultipleKeysVerify(t *testing.T) {
	key1 := newRSAKey(t)
	key2 := newRSAKey(t)
	bad := newECDSAKey(t)

	key1.keyID = "key1"
	key2.keyID = "key2"
	bad.keyID = "key3"

	testKeyVerify(t, key2, bad, key1, key2)
}

func TestMismatchedKeyID(t *testing.T) {
	key1 := newRSAKey(t)
	key2 := newRSAKey(t)

	// shallow copy
	bad := new(signingKey)
	*bad = *key1

	// The bad key is a valid key this time, but has a different Key ID.
	// It shouldn't match key1 because of the mismatched ID, even though
	// it would confirm the signature just fine.
	bad.keyID = "key3"

	key1.keyID = "key1"
	key2.keyID = "key2"

	testKeyVerify(t, key2, bad, key1, key2)
}

func testKeyVerify(t *testing.T, good, bad *signingKey, verification ...*signingKey) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keySet := jose.JSONWebKeySet{}
	for _, v := range verification {
		keySet.Keys = append(keySet.Keys, v.jwk())
	}

	payload := []byte("a secret")

	jwt := good.sign(t, payload)
	badJWT := bad.sign(t, payload)

	server := &keyServer{keys: keySet}
	s := httptest.NewServer(server)
	defer s.Close()

	rks := NewRemoteKeySet(ctx, s.URL)

	// Ensure the token verifies.
	gotPayload, err := rks.VerifySignature(ctx, jwt)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("expected payload %s got %s", payload, gotPayload)
	}

	// Ensure the token verifies from the cache.
	gotPayload, err = rks.VerifySignature(ctx, jwt)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("expected payload %s got %s", payload, gotPayload)
	}

	// Ensure item signed by wrong token doesn't verify.
	if _, err := rks.VerifySignature(context.Background(), badJWT); err == nil {
		t.Errorf("incorrectly verified signature")
	}
}

func TestKeyVerifyContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good := newECDSAKey(t)
	jwt := good.sign(t, []byte("a secret"))

	ch := make(chan struct{})
	defer close(ch)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-ch
	}))
	defer s.Close()

	rks := NewRemoteKeySet(ctx, s.URL)

	cancel()

	_, err := rks.VerifySignature(ctx, jwt)
	if err == nil {
		t.Fatal("expected context canceled, got nil error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to be %q got %q", context.Canceled, err)
	}
}

func TestRotation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key1 := newRSAKey(t)
	key2 := newRSAKey(t)

	key1.keyID = "key1"
	key2.keyID = "key2"

	payload := []byte("a secret")
	jwt1 := key1.sign(t, payload)
	jwt2 := key2.sign(t, payload)

	server := &keyServer{
		keys: jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{key1.jwk()},
		},
	}
	s := httptest.NewServer(server)
	defer s.Close()

	now := time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	rks := NewRemoteKeySet(ctx, s.URL, WithKeySetClock(clock))

	if _, err := rks.VerifySignature(ctx, jwt1); err != nil {
		t.Errorf("failed to verify valid signature: %v", err)
	}
	if got := rks.FetchedAt(); !got.Equal(now) {
		t.Errorf("expected fetch timestamp %v got %v", now, got)
	}

	// key2 hasn't been published yet: its unknown kid triggers exactly one
	// refresh and then fails.
	var notFound *KeyNotFoundError
	if _, err := rks.VerifySignature(ctx, jwt2); !errors.As(err, &notFound) {
		t.Errorf("expected KeyNotFoundError got %v", err)
	}

	// Rotate the second key in.
	server.setKeys(jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{key1.jwk(), key2.jwk()},
	})

	if _, err := rks.VerifySignature(ctx, jwt1); err != nil {
		t.Errorf("failed to verify valid signature: %v", err)
	}
	if _, err := rks.VerifySignature(ctx, jwt2); err != nil {
		t.Errorf("failed to verify valid signature: %v", err)
	}

	// Kill server. Keys should still be cached.
	s.Close()

	if _, err := rks.VerifySignature(ctx, jwt1); err != nil {
		t.Errorf("failed to verify valid signature: %v", err)
	}
	if _, err := rks.VerifySignature(ctx, jwt2); err != nil {
		t.Errorf("failed to verify valid signature: %v", err)
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := newRSAKey(t)
	key.keyID = "published"

	unknown := newRSAKey(t)
	unknown.keyID = "unknown"
	jwt := unknown.sign(t, []byte("a secret"))

	var hits int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		once.Do(func() { close(started) })
		<-release
		json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.jwk()}})
	}))
	defer s.Close()

	rks := NewRemoteKeySet(ctx, s.URL)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rks.VerifySignature(ctx, jwt)
		}(i)
	}

	// Wait until the first fetch is in flight, give the remaining workers
	// a moment to queue up behind it, then let it complete.
	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	var notFound *KeyNotFoundError
	for i, err := range errs {
		if !errors.As(err, &notFound) {
			t.Errorf("worker %d: expected KeyNotFoundError got %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected concurrent lookups to share a single fetch, got %d fetches", got)
	}
}

func TestMalformedKeysSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := newRSAKey(t)
	key.keyID = "good"
	jwt := key.sign(t, []byte("a secret"))

	goodKey, err := json.Marshal(key.jwk())
	if err != nil {
		t.Fatal(err)
	}

	// One unparseable entry among valid ones must not fail the set.
	doc := fmt.Sprintf(`{"keys":[{"kty":"oct"},%s]}`, goodKey)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, doc)
	}))
	defer s.Close()

	core, logs := observer.New(zap.WarnLevel)
	rks := NewRemoteKeySet(ctx, s.URL, WithKeySetLogger(zap.New(core)))

	if _, err := rks.VerifySignature(ctx, jwt); err != nil {
		t.Fatalf("failed to verify valid signature: %v", err)
	}

	warnings := logs.FilterMessage("oidc: skipping malformed key in JWKS document").All()
	if len(warnings) != 1 {
		t.Errorf("expected 1 skipped-key warning, got %d", len(warnings))
	}
}

func TestSnapshotConsistency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setA := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		mustKey(t, "a1"), mustKey(t, "a2"),
	}}
	setB := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		mustKey(t, "b1"), mustKey(t, "b2"),
	}}

	var flip int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&flip, 1)%2 == 0 {
			json.NewEncoder(w).Encode(setB)
		} else {
			json.NewEncoder(w).Encode(setA)
		}
	}))
	defer s.Close()

	rks := NewRemoteKeySet(ctx, s.URL)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := rks.updateKeys(ctx); err != nil {
				t.Errorf("refresh failed: %v", err)
				return
			}
		}
		close(done)
	}()

	// Readers must observe either set A or set B in full, never a mix of
	// key generations.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				keys := rks.Keys()
				if keys == nil {
					continue
				}
				gen := keys[0].KeyID[0]
				for _, k := range keys {
					if k.KeyID[0] != gen {
						t.Errorf("observed mixed key generations: %q and %q", keys[0].KeyID, k.KeyID)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func mustKey(t *testing.T, kid string) jose.JSONWebKey {
	t.Helper()
	k := newRSAKey(t)
	k.keyID = kid
	return k.jwk()
}

func TestStaticKeySet(t *testing.T) {
	key := newECDSAKey(t)
	other := newECDSAKey(t)
	other.keyID = "elsewhere"

	payload := []byte("a secret")
	jwt := key.sign(t, payload)

	ctx := context.Background()
	ks := NewStaticKeySet([]jose.JSONWebKey{key.jwk()})

	gotPayload, err := ks.VerifySignature(ctx, jwt)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("expected payload %s got %s", payload, gotPayload)
	}

	// Unknown key ids fail immediately, there's nothing to refresh.
	var notFound *KeyNotFoundError
	if _, err := ks.VerifySignature(ctx, other.sign(t, payload)); !errors.As(err, &notFound) {
		t.Errorf("expected KeyNotFoundError got %v", err)
	}
}
