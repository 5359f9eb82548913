package keyforge

import (
	"time"
)

// LicenseType distinguishes licenses that never expire from time-limited ones.
type LicenseType string

const (
	Perpetual LicenseType = "perpetual" // Perpetual licenses carry no expiry
	Timed     LicenseType = "timed"     // Timed licenses always carry an expiry
)

// LicenseClaims describes the license a token was issued for.
//
// Fields:
//   - ProductID: Product the license belongs to
//   - Key: The license key
//   - Type: Perpetual or Timed
//   - ExpiresAt: License expiry, nil for perpetual licenses
//   - MaxDevices: Maximum number of devices the license may be activated on
//   - Email: Licensee email, nil when unknown
type LicenseClaims struct {
	ProductID  string      `json:"productId"`
	Key        string      `json:"key"`
	Type       LicenseType `json:"type"`
	ExpiresAt  *time.Time  `json:"expiresAt"`
	MaxDevices int         `json:"maxDevices"`
	Email      *string     `json:"email"`
}

// IsPerpetual reports whether the license never expires.
func (l LicenseClaims) IsPerpetual() bool {
	return l.Type == Perpetual
}

// DeviceClaims describes the device a token is bound to.
type DeviceClaims struct {
	Identifier     string    `json:"identifier"`
	Name           string    `json:"name"`
	ActivationDate time.Time `json:"activationDate"`
}

// TokenClaims is the business payload carried by a license token.
type TokenClaims struct {
	License LicenseClaims `json:"license"`
	Device  DeviceClaims  `json:"device"`
}

// VerifiedToken is the result of a successful VerifyToken call. Claims holds
// every other claim of the payload (iat, exp, iss, ...) with the license and
// device entries removed.
type VerifiedToken struct {
	TokenClaims
	Claims map[string]interface{} `json:"claims"`
}

// UnverifiedClaims is the payload of a token decoded without any signature
// check. It is deliberately a distinct type: nothing in this package accepts it
// as proof of a valid license.
type UnverifiedClaims struct {
	TokenClaims
	Claims map[string]interface{} `json:"claims"`
}

// rawLicenseClaims mirrors the wire format, where timestamps are Unix seconds
// and may carry a fractional part.
type rawLicenseClaims struct {
	ProductID  string      `json:"productId"`
	Key        string      `json:"key"`
	Type       LicenseType `json:"type"`
	ExpiresAt  *float64    `json:"expiresAt"`
	MaxDevices int         `json:"maxDevices"`
	Email      *string     `json:"email"`
}

type rawDeviceClaims struct {
	Identifier     string  `json:"identifier"`
	Name           string  `json:"name"`
	ActivationDate float64 `json:"activationDate"`
}

type rawTokenClaims struct {
	License *rawLicenseClaims `json:"license"`
	Device  *rawDeviceClaims  `json:"device"`
}
