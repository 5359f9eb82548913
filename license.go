package keyforge

import (
	"context"
	"net/http"
	"time"
)

// License is a license as reported by the public license API.
type License struct {
	Key        string      `json:"key"`
	ProductID  string      `json:"productId"`
	Type       LicenseType `json:"type"`
	Revoked    bool        `json:"revoked"`
	MaxDevices int         `json:"maxDevices"`
	ExpiresAt  *time.Time  `json:"expiresAt"` // nil for perpetual licenses
	CreatedAt  time.Time   `json:"createdAt"`
}

// ActiveDevice is a device a license is activated on.
type ActiveDevice struct {
	Identifier     string    `json:"identifier"`
	Name           string    `json:"name"`
	ActivationDate time.Time `json:"activationDate"`
}

// FetchTokenParams identify the license and device a token is requested for.
type FetchTokenParams struct {
	LicenseKey       string
	ProductIDs       []string
	DeviceIdentifier string
}

// ValidateLicenseParams are the inputs of ValidateLicense.
type ValidateLicenseParams struct {
	LicenseKey       string
	ProductIDs       []string
	DeviceIdentifier string
}

// LicenseValidation is the outcome of ValidateLicense. License and Device are
// nil when IsValid is false.
type LicenseValidation struct {
	IsValid bool
	License *License
	Device  *ActiveDevice
}

// ActivateLicenseParams are the inputs of ActivateLicense.
type ActivateLicenseParams struct {
	LicenseKey       string
	ProductIDs       []string
	DeviceIdentifier string
	DeviceName       string
}

// Activation is the outcome of a successful ActivateLicense call. Token is
// empty when license tokens are not configured for the product.
type Activation struct {
	Token   string
	License License
	Device  ActiveDevice
}

type licenseRequest struct {
	LicenseKey       string     `json:"licenseKey"`
	ProductID        productIDs `json:"productId"`
	DeviceIdentifier string     `json:"deviceIdentifier"`
	DeviceName       string     `json:"deviceName,omitempty"`
}

type licenseResponse struct {
	IsValid bool          `json:"isValid"`
	Token   string        `json:"token"`
	License *License      `json:"license"`
	Device  *ActiveDevice `json:"device"`
}

// FetchToken requests a new signed token for a license and device. It makes
// exactly one request and never retries.
//
// Errors are *Error values; typical codes are network_error, unknown_error,
// invalid_license, license_revoked and license_expired.
func (c *Client) FetchToken(ctx context.Context, params FetchTokenParams) (string, error) {
	var resp licenseResponse
	err := c.transport.do(ctx, http.MethodPost, "/v1/public/licenses/token", licenseRequest{
		LicenseKey:       params.LicenseKey,
		ProductID:        productIDs(params.ProductIDs),
		DeviceIdentifier: params.DeviceIdentifier,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Code: ErrCodeUnknown, Message: "The license API returned no token"}
	}
	return resp.Token, nil
}

// ValidateLicense asks the license API whether a license is valid on a
// device. A license the API reports as invalid yields IsValid false and a nil
// error; failures to reach the API or to read its answer are returned as
// *Error values.
func (c *Client) ValidateLicense(ctx context.Context, params ValidateLicenseParams) (*LicenseValidation, error) {
	var resp licenseResponse
	err := c.transport.do(ctx, http.MethodPost, "/v1/public/licenses/validate", licenseRequest{
		LicenseKey:       params.LicenseKey,
		ProductID:        productIDs(params.ProductIDs),
		DeviceIdentifier: params.DeviceIdentifier,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.IsValid || resp.License == nil || resp.Device == nil {
		return &LicenseValidation{}, nil
	}
	return &LicenseValidation{IsValid: true, License: resp.License, Device: resp.Device}, nil
}

// ActivateLicense activates a license on a device. Besides the transport
// codes, the API may answer invalid_license, license_revoked,
// license_expired, device_already_activated or max_devices_reached.
func (c *Client) ActivateLicense(ctx context.Context, params ActivateLicenseParams) (*Activation, error) {
	var resp licenseResponse
	err := c.transport.do(ctx, http.MethodPost, "/v1/public/licenses/activate", licenseRequest{
		LicenseKey:       params.LicenseKey,
		ProductID:        productIDs(params.ProductIDs),
		DeviceIdentifier: params.DeviceIdentifier,
		DeviceName:       params.DeviceName,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.License == nil || resp.Device == nil {
		return nil, &Error{Code: ErrCodeUnknown, Message: "Unexpected response from the license API"}
	}
	return &Activation{Token: resp.Token, License: *resp.License, Device: *resp.Device}, nil
}
