package keyforge

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	jose "gopkg.in/square/go-jose.v2"
)

// PublicKey is the public half of a JSON Web Key used to verify license
// tokens. It is never used to sign.
type PublicKey struct {
	jwk jose.JSONWebKey
}

// ParsePublicKeyJWK parses a JSON Web Key from its serialized form. Private
// keys are accepted and reduced to their public half; symmetric keys are
// rejected.
func ParsePublicKeyJWK(data []byte) (*PublicKey, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("failed to parse JWK: %w", err)
	}
	return PublicKeyFromJWK(jwk)
}

// MustParsePublicKeyJWK is like ParsePublicKeyJWK but panics on error. It is
// meant for keys embedded in the application at build time.
func MustParsePublicKeyJWK(data string) *PublicKey {
	key, err := ParsePublicKeyJWK([]byte(data))
	if err != nil {
		panic(fmt.Sprintf("keyforge: invalid public key: %v", err))
	}
	return key
}

// PublicKeyFromJWK builds a PublicKey from an already decoded JSON Web Key.
func PublicKeyFromJWK(jwk jose.JSONWebKey) (*PublicKey, error) {
	public := jwk.Public()
	if public.Key == nil || !public.Valid() {
		return nil, fmt.Errorf("JWK is not an asymmetric key")
	}

	switch public.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return nil, fmt.Errorf("unsupported JWK key type: %T", public.Key)
	}

	key := &PublicKey{jwk: public}
	if len(key.algorithms()) == 0 {
		return nil, fmt.Errorf("no signing algorithm matches the JWK")
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PEM encoded RSA, ECDSA or Ed25519 public key or
// certificate.
func ParsePublicKeyPEM(pemBytes []byte) (*PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the public key")
	}

	var pub interface{}
	var err error
	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		var cert *x509.Certificate
		cert, err = x509.ParseCertificate(block.Bytes)
		if err == nil {
			pub = cert.PublicKey
		}
	default:
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return PublicKeyFromJWK(jose.JSONWebKey{Key: pub, Use: "sig"})
}

// LoadPublicKey reads a public key file in either JWK or PEM form.
func LoadPublicKey(path string) (*PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if block, _ := pem.Decode(data); block != nil {
		return ParsePublicKeyPEM(data)
	}
	return ParsePublicKeyJWK(data)
}

// KeyID returns the kid of the key, if any.
func (k *PublicKey) KeyID() string {
	return k.jwk.KeyID
}

// MarshalJSON encodes the key as a public JWK.
func (k *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.jwk)
}

// cryptoKey returns the key in the form golang-jwt expects.
func (k *PublicKey) cryptoKey() interface{} {
	return k.jwk.Key
}

// algorithms lists the JWS algorithms a token may be signed with to be
// verified by this key. An explicit alg on the JWK wins.
func (k *PublicKey) algorithms() []string {
	if k.jwk.Algorithm != "" {
		return []string{k.jwk.Algorithm}
	}

	switch pub := k.jwk.Key.(type) {
	case *rsa.PublicKey:
		return []string{
			jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg(),
			jwt.SigningMethodPS256.Alg(), jwt.SigningMethodPS384.Alg(), jwt.SigningMethodPS512.Alg(),
		}
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P256():
			return []string{jwt.SigningMethodES256.Alg()}
		case elliptic.P384():
			return []string{jwt.SigningMethodES384.Alg()}
		case elliptic.P521():
			return []string{jwt.SigningMethodES512.Alg()}
		}
	case ed25519.PublicKey:
		return []string{jwt.SigningMethodEdDSA.Alg()}
	}
	return nil
}

func (k *PublicKey) allows(alg string) bool {
	for _, allowed := range k.algorithms() {
		if allowed == alg {
			return true
		}
	}
	return false
}
