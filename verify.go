package keyforge

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jose "gopkg.in/square/go-jose.v2"
)

// VerifyOptions constrains which tokens VerifyToken accepts. Zero values leave
// the corresponding check out.
//
// Fields:
//   - ProductIDs: Acceptable product IDs; the license must belong to one of them
//   - DeviceIdentifier: The device the token must be bound to
type VerifyOptions struct {
	ProductIDs       []string
	DeviceIdentifier string
}

// VerifyToken verifies a license token and returns its claims. It does not
// need network access.
//
// The checks run in a fixed order and stop at the first failure:
//  1. signature, registered time claims and payload shape (invalid_token)
//  2. product (product_mismatch)
//  3. device (device_mismatch)
//  4. license expiry (expired_license)
//
// Failures are returned as *Error values.
func VerifyToken(token string, key *PublicKey, opts VerifyOptions) (*VerifiedToken, error) {
	return verifyToken(token, key, opts, time.Now)
}

func verifyToken(token string, key *PublicKey, opts VerifyOptions, now func() time.Time) (*VerifiedToken, error) {
	if key == nil {
		return nil, newVerifyError(ErrCodeInvalidToken, fmt.Errorf("public key is required"))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(key.algorithms()),
		jwt.WithTimeFunc(now),
	)

	mapClaims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, mapClaims, func(*jwt.Token) (interface{}, error) {
		return key.cryptoKey(), nil
	})
	if err != nil {
		return nil, newVerifyError(ErrCodeInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, newVerifyError(ErrCodeInvalidToken, fmt.Errorf("token is not valid"))
	}

	raw, err := toRawClaims(mapClaims)
	if err != nil {
		return nil, newVerifyError(ErrCodeInvalidToken, err)
	}
	if raw.License == nil || raw.Device == nil {
		return nil, newVerifyError(ErrCodeInvalidToken, fmt.Errorf("missing license or device claims"))
	}

	if len(opts.ProductIDs) > 0 && !containsString(opts.ProductIDs, raw.License.ProductID) {
		return nil, newVerifyError(ErrCodeProductMismatch, nil)
	}

	if opts.DeviceIdentifier != "" && raw.Device.Identifier != opts.DeviceIdentifier {
		return nil, newVerifyError(ErrCodeDeviceMismatch, nil)
	}

	if raw.License.ExpiresAt != nil && *raw.License.ExpiresAt < float64(now().Unix()) {
		return nil, newVerifyError(ErrCodeExpiredLicense, nil)
	}

	return &VerifiedToken{
		TokenClaims: normalizeClaims(raw),
		Claims:      stripBusinessClaims(mapClaims),
	}, nil
}

// VerifyTokenSignature reports whether the token carries a valid signature for
// key. It ignores every claim, including exp.
//
// Warning: a valid signature does not make a token usable. Use VerifyToken to
// decide whether a license is valid.
func VerifyTokenSignature(token string, key *PublicKey) bool {
	if key == nil || strings.Count(token, ".") != 2 {
		return false
	}

	jws, err := jose.ParseSigned(token)
	if err != nil || len(jws.Signatures) != 1 {
		return false
	}
	if !key.allows(jws.Signatures[0].Header.Algorithm) {
		return false
	}

	_, err = jws.Verify(key.jwk)
	return err == nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
