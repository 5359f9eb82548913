package keyforge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeTokenUnsafe decodes the payload of a token without verifying its
// signature.
//
// Warning: the result is attacker-controlled. Use it only to read hints such as
// the license key; use VerifyToken for any trust decision.
func DecodeTokenUnsafe(token string) (*UnverifiedClaims, error) {
	mapClaims, err := decodePayload(token)
	if err != nil {
		return nil, newVerifyError(ErrCodeMalformedToken, err)
	}

	raw, err := toRawClaims(mapClaims)
	if err != nil {
		return nil, newVerifyError(ErrCodeMalformedToken, err)
	}

	claims := TokenClaims{}
	if raw.License != nil && raw.Device != nil {
		claims = normalizeClaims(raw)
	} else {
		// Partial payloads are still worth exposing to the caller.
		if raw.License != nil {
			claims.License = normalizeLicense(raw.License)
		}
		if raw.Device != nil {
			claims.Device = normalizeDevice(raw.Device)
		}
	}

	return &UnverifiedClaims{
		TokenClaims: claims,
		Claims:      stripBusinessClaims(mapClaims),
	}, nil
}

// decodePayload reads the claims segment of a compact JWS. The header and the
// signature are not looked at.
func decodePayload(token string) (jwt.MapClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token contains an invalid number of segments")
	}

	data, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("could not base64 decode claims: %w", err)
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("could not JSON decode claims: %w", err)
	}
	if claims == nil {
		return nil, fmt.Errorf("claims must be a JSON object")
	}
	return claims, nil
}

// toRawClaims converts parsed JWT claims to the wire representation of the
// license payload.
func toRawClaims(claims jwt.MapClaims) (*rawTokenClaims, error) {
	data, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode claims: %w", err)
	}

	var raw rawTokenClaims
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid claims shape: %w", err)
	}
	return &raw, nil
}

// normalizeClaims converts Unix-second timestamps to time.Time values. A nil
// license expiry stays nil. Both license and device must be present.
func normalizeClaims(raw *rawTokenClaims) TokenClaims {
	return TokenClaims{
		License: normalizeLicense(raw.License),
		Device:  normalizeDevice(raw.Device),
	}
}

func normalizeLicense(raw *rawLicenseClaims) LicenseClaims {
	license := LicenseClaims{
		ProductID:  raw.ProductID,
		Key:        raw.Key,
		Type:       raw.Type,
		MaxDevices: raw.MaxDevices,
		Email:      raw.Email,
	}
	if raw.ExpiresAt != nil {
		expiresAt := unixTime(*raw.ExpiresAt)
		license.ExpiresAt = &expiresAt
	}
	return license
}

func normalizeDevice(raw *rawDeviceClaims) DeviceClaims {
	return DeviceClaims{
		Identifier:     raw.Identifier,
		Name:           raw.Name,
		ActivationDate: unixTime(raw.ActivationDate),
	}
}

// unixTime converts Unix seconds to UTC, keeping millisecond precision.
func unixTime(seconds float64) time.Time {
	return time.UnixMilli(int64(math.Round(seconds * 1000))).UTC()
}

// stripBusinessClaims copies every claim except license and device.
func stripBusinessClaims(claims jwt.MapClaims) map[string]interface{} {
	rest := make(map[string]interface{}, len(claims))
	for name, value := range claims {
		if name == "license" || name == "device" {
			continue
		}
		rest[name] = value
	}
	return rest
}

// refreshDeadline returns the earliest of the token expiry (exp) and the
// license expiry, or nil when neither is set.
func (v *VerifiedToken) refreshDeadline() *time.Time {
	var deadline *time.Time
	if exp, err := jwt.MapClaims(v.Claims).GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		deadline = &t
	}
	if v.License.ExpiresAt != nil && (deadline == nil || v.License.ExpiresAt.Before(*deadline)) {
		t := *v.License.ExpiresAt
		deadline = &t
	}
	return deadline
}

// ExpiresAt returns the token expiry (the registered exp claim), if any.
func (v *VerifiedToken) ExpiresAt() *time.Time {
	exp, err := jwt.MapClaims(v.Claims).GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

// tokenFingerprint identifies a token in logs without revealing it.
func tokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// productIDs encodes as a plain string when it holds exactly one ID, matching
// what the license API accepts for single-product requests.
type productIDs []string

func (p productIDs) MarshalJSON() ([]byte, error) {
	if len(p) == 1 {
		return json.Marshal(p[0])
	}
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(p))
}
