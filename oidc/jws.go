package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"math/big"
	"strings"
)

// JOSE asymmetric and symmetric signing algorithms supported by this package.
const (
	RS256 = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 = "ES256" // ECDSA using P-256 and SHA-256
	ES384 = "ES384" // ECDSA using P-384 and SHA-384
	ES512 = "ES512" // ECDSA using P-521 and SHA-512
	PS256 = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	EdDSA = "EdDSA" // Ed25519 using SHA-512
	HS256 = "HS256" // HMAC using SHA-256
	HS384 = "HS384" // HMAC using SHA-384
	HS512 = "HS512" // HMAC using SHA-512
)

// tokenHeader is the decoded JOSE header of a compact serialized token.
type tokenHeader struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Type      string `json:"typ"`
}

// jws holds the three decoded segments of a compact serialized token along
// with the exact bytes the signature was computed over. Verification always
// runs over signedInput, never over a re-encoding, because re-encoding is not
// guaranteed to be byte identical.
type jws struct {
	header      tokenHeader
	payload     []byte
	signature   []byte
	signedInput []byte
}

func parseSigned(raw string) (*jws, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, &MalformedJWTError{ParseError: fmt.Errorf("expected 3 parts got %d", len(parts))}
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, &MalformedJWTError{ParseError: fmt.Errorf("decoding header: %v", err)}
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, &MalformedJWTError{ParseError: fmt.Errorf("unmarshaling header: %v", err)}
	}
	if header.Algorithm == "" {
		return nil, &MalformedJWTError{ParseError: fmt.Errorf("header is missing alg")}
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &MalformedJWTError{ParseError: fmt.Errorf("decoding payload: %v", err)}
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, &MalformedJWTError{ParseError: fmt.Errorf("decoding signature: %v", err)}
	}
	return &jws{
		header:      header,
		payload:     payload,
		signature:   signature,
		signedInput: []byte(raw[:len(parts[0])+1+len(parts[1])]),
	}, nil
}

func hashForAlg(alg string) (crypto.Hash, error) {
	switch alg {
	case RS256, ES256, PS256, HS256:
		return crypto.SHA256, nil
	case RS384, ES384, PS384, HS384:
		return crypto.SHA384, nil
	case RS512, ES512, PS512, HS512, EdDSA:
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("oidc: unsupported signing algorithm %q", alg)
}

func curveForAlg(alg string) string {
	switch alg {
	case ES256:
		return "P-256"
	case ES384:
		return "P-384"
	case ES512:
		return "P-521"
	}
	return ""
}

// keyMatchesAlg reports whether the key material is of the type the
// algorithm operates on. An RSA algorithm only ever matches RSA keys, and an
// ECDSA algorithm only matches keys on its exact curve.
func keyMatchesAlg(alg string, key interface{}) bool {
	switch alg {
	case RS256, RS384, RS512, PS256, PS384, PS512:
		_, ok := key.(*rsa.PublicKey)
		return ok
	case ES256, ES384, ES512:
		pub, ok := key.(*ecdsa.PublicKey)
		return ok && pub.Curve.Params().Name == curveForAlg(alg)
	case EdDSA:
		_, ok := key.(ed25519.PublicKey)
		return ok
	case HS256, HS384, HS512:
		_, ok := key.([]byte)
		return ok
	}
	return false
}

// verifySignature checks signature over signedInput using the named
// algorithm. key must be the Go key material for the algorithm's family.
func verifySignature(alg string, key interface{}, signedInput, signature []byte) error {
	switch alg {
	case RS256, RS384, RS512:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("oidc: algorithm %q requires an RSA key, got %T", alg, key)
		}
		hashed, hash, err := digest(alg, signedInput)
		if err != nil {
			return err
		}
		return rsa.VerifyPKCS1v15(pub, hash, hashed, signature)

	case PS256, PS384, PS512:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("oidc: algorithm %q requires an RSA key, got %T", alg, key)
		}
		hashed, hash, err := digest(alg, signedInput)
		if err != nil {
			return err
		}
		return rsa.VerifyPSS(pub, hash, hashed, signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})

	case ES256, ES384, ES512:
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("oidc: algorithm %q requires an ECDSA key, got %T", alg, key)
		}
		if name := pub.Curve.Params().Name; name != curveForAlg(alg) {
			return fmt.Errorf("oidc: algorithm %q requires curve %s, key uses %s", alg, curveForAlg(alg), name)
		}
		keySize := (pub.Curve.Params().BitSize + 7) / 8
		if len(signature) != 2*keySize {
			return fmt.Errorf("oidc: invalid signature length for %q", alg)
		}
		hashed, _, err := digest(alg, signedInput)
		if err != nil {
			return err
		}
		r := new(big.Int).SetBytes(signature[:keySize])
		s := new(big.Int).SetBytes(signature[keySize:])
		if !ecdsa.Verify(pub, hashed, r, s) {
			return fmt.Errorf("oidc: invalid ECDSA signature")
		}
		return nil

	case EdDSA:
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("oidc: algorithm %q requires an Ed25519 key, got %T", alg, key)
		}
		if !ed25519.Verify(pub, signedInput, signature) {
			return fmt.Errorf("oidc: invalid Ed25519 signature")
		}
		return nil

	case HS256, HS384, HS512:
		secret, ok := key.([]byte)
		if !ok {
			return fmt.Errorf("oidc: algorithm %q requires a shared secret, got %T", alg, key)
		}
		mac, err := computeHMAC(alg, secret, signedInput)
		if err != nil {
			return err
		}
		if !hmac.Equal(mac, signature) {
			return fmt.Errorf("oidc: invalid HMAC")
		}
		return nil
	}
	return fmt.Errorf("oidc: unsupported signing algorithm %q", alg)
}

func digest(alg string, data []byte) ([]byte, crypto.Hash, error) {
	hash, err := hashForAlg(alg)
	if err != nil {
		return nil, 0, err
	}
	h := hash.New()
	h.Write(data)
	return h.Sum(nil), hash, nil
}

func computeHMAC(alg string, secret, data []byte) ([]byte, error) {
	var fn func() hash.Hash
	switch alg {
	case HS256:
		fn = sha256.New
	case HS384:
		fn = sha512.New384
	case HS512:
		fn = sha512.New
	default:
		return nil, fmt.Errorf("oidc: unsupported HMAC algorithm %q", alg)
	}
	m := hmac.New(fn, secret)
	m.Write(data)
	return m.Sum(nil), nil
}
