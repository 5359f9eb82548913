package keyforge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMissingAPIKey is returned by NewAdmin when the configuration carries no
// API key.
var ErrMissingAPIKey = errors.New("keyforge: missing API key, set Config.APIKey or KEYFORGE_API_KEY")

// Admin manages products and licenses with a secret API key. It must only be
// used server-side.
type Admin struct {
	transport *transport

	Products *ProductService
	Licenses *LicenseService
	Portal   *PortalService
}

// NewAdmin creates an Admin from cfg. cfg.APIKey is required.
func NewAdmin(cfg Config) (*Admin, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Admin{transport: newTransport(cfg, decodeAdminError)}
	a.Products = &ProductService{admin: a}
	a.Licenses = &LicenseService{admin: a}
	a.Portal = &PortalService{products: a.Products}
	return a, nil
}

// Product is a product as managed through the admin API.
type Product struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"userId"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	SupportEmail           string    `json:"supportEmail"`
	CreatedAt              time.Time `json:"createdAt"`
	PortalShow             bool      `json:"portalShow"`
	PortalAllowDeviceReset bool      `json:"portalAllowDeviceReset"`
}

// CreateProductParams are the inputs of ProductService.Create.
type CreateProductParams struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SupportEmail string `json:"supportEmail,omitempty"`
}

// UpdateProductParams are the inputs of ProductService.Update. Nil fields are
// left unchanged.
type UpdateProductParams struct {
	Name                   *string `json:"name,omitempty"`
	Description            *string `json:"description,omitempty"`
	SupportEmail           *string `json:"supportEmail,omitempty"`
	PortalShow             *bool   `json:"portalShow,omitempty"`
	PortalAllowDeviceReset *bool   `json:"portalAllowDeviceReset,omitempty"`
}

// ProductService wraps the /v1/products endpoints.
type ProductService struct {
	admin *Admin
}

func (s *ProductService) List(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := s.admin.transport.do(ctx, http.MethodGet, "/v1/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *ProductService) Get(ctx context.Context, id string) (*Product, error) {
	var product Product
	if err := s.admin.transport.do(ctx, http.MethodGet, "/v1/products/"+pathSegment(id), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *ProductService) Create(ctx context.Context, params CreateProductParams) (*Product, error) {
	var product Product
	if err := s.admin.transport.do(ctx, http.MethodPost, "/v1/products", params, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *ProductService) Update(ctx context.Context, id string, params UpdateProductParams) (*Product, error) {
	var product Product
	if err := s.admin.transport.do(ctx, http.MethodPatch, "/v1/products/"+pathSegment(id), params, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *ProductService) Delete(ctx context.Context, id string) error {
	return s.admin.transport.do(ctx, http.MethodDelete, "/v1/products/"+pathSegment(id), nil, nil)
}

// AdminLicense is a license as managed through the admin API.
type AdminLicense struct {
	UserID        string         `json:"userId"`
	ProductID     string         `json:"productId"`
	Key           string         `json:"key"`
	Type          LicenseType    `json:"type"`
	ExpiresAt     *time.Time     `json:"expiresAt"`
	Revoked       bool           `json:"revoked"`
	MaxDevices    int            `json:"maxDevices"`
	ActiveDevices []ActiveDevice `json:"activeDevices"`
	Email         *string        `json:"email"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Status summarizes the license as active, expired or revoked at now.
func (l *AdminLicense) Status(now time.Time) string {
	switch {
	case l.Revoked:
		return "revoked"
	case l.ExpiresAt != nil && l.ExpiresAt.Before(now):
		return "expired"
	default:
		return "active"
	}
}

// CreateLicenseParams are the inputs of LicenseService.Create.
type CreateLicenseParams struct {
	ProductID  string      `json:"productId"`
	Type       LicenseType `json:"type"`
	MaxDevices int         `json:"maxDevices"`
	Email      string      `json:"email,omitempty"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
}

// UpdateLicenseParams are the inputs of LicenseService.Update. Nil fields are
// left unchanged.
type UpdateLicenseParams struct {
	Type       *LicenseType `json:"type,omitempty"`
	MaxDevices *int         `json:"maxDevices,omitempty"`
	Email      *string      `json:"email,omitempty"`
	ExpiresAt  *time.Time   `json:"expiresAt,omitempty"`
	Revoked    *bool        `json:"revoked,omitempty"`
}

// LicenseService wraps the /v1/licenses endpoints.
type LicenseService struct {
	admin *Admin
}

func (s *LicenseService) Get(ctx context.Context, key string) (*AdminLicense, error) {
	return s.call(ctx, http.MethodGet, "/v1/licenses/"+pathSegment(key), nil)
}

func (s *LicenseService) Create(ctx context.Context, params CreateLicenseParams) (*AdminLicense, error) {
	if params.Type == Timed && params.ExpiresAt == nil {
		return nil, &Error{Code: ErrCodeInvalidParameters, Message: "timed licenses require an expiry"}
	}
	return s.call(ctx, http.MethodPost, "/v1/licenses", params)
}

func (s *LicenseService) Update(ctx context.Context, key string, params UpdateLicenseParams) (*AdminLicense, error) {
	return s.call(ctx, http.MethodPatch, "/v1/licenses/"+pathSegment(key), params)
}

func (s *LicenseService) Delete(ctx context.Context, key string) error {
	return s.admin.transport.do(ctx, http.MethodDelete, "/v1/licenses/"+pathSegment(key), nil, nil)
}

// ResetDevices deactivates every device of the license.
func (s *LicenseService) ResetDevices(ctx context.Context, key string) (*AdminLicense, error) {
	return s.call(ctx, http.MethodPost, "/v1/licenses/"+pathSegment(key)+"/reset-devices", nil)
}

func (s *LicenseService) call(ctx context.Context, method, path string, payload interface{}) (*AdminLicense, error) {
	var license AdminLicense
	if err := s.admin.transport.do(ctx, method, path, payload, &license); err != nil {
		return nil, err
	}
	return &license, nil
}

// UpdatePortalProductParams control how a product appears in the customer
// portal. Nil fields are left unchanged.
type UpdatePortalProductParams struct {
	Show             *bool
	AllowDeviceReset *bool
}

// PortalService manages customer portal settings.
type PortalService struct {
	products *ProductService
}

// UpdateProduct changes the portal settings of a product.
func (s *PortalService) UpdateProduct(ctx context.Context, id string, params UpdatePortalProductParams) (*Product, error) {
	return s.products.Update(ctx, id, UpdateProductParams{
		PortalShow:             params.Show,
		PortalAllowDeviceReset: params.AllowDeviceReset,
	})
}
