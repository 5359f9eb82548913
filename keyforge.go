package keyforge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client talks to the public license endpoints and runs the validate and
// refresh flow. A Client is immutable after construction and safe for
// concurrent use.
type Client struct {
	cfg       Config
	transport *transport
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewClient creates a Client from cfg. Zero fields in cfg take their defaults.
//
// Example:
//
//	client, err := keyforge.NewClient(keyforge.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// The public endpoints are keyless.
	publicCfg := cfg
	publicCfg.APIKey = ""

	c := &Client{
		cfg:       cfg,
		transport: newTransport(publicCfg, decodePublicError),
		logger:    cfg.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// VerifyToken is VerifyToken using the client's clock.
func (c *Client) VerifyToken(token string, key *PublicKey, opts VerifyOptions) (*VerifiedToken, error) {
	return verifyToken(token, key, opts, c.now)
}

// ValidateAndRefreshParams are the inputs of ValidateAndRefreshToken.
//
// Fields:
//   - Token: The stored license token
//   - PublicKey: Key the tokens are verified with
//   - ProductIDs: Acceptable product IDs
//   - DeviceIdentifier: The current device
//   - Policy: When to contact the API; the zero value refreshes 3 days before expiry
type ValidateAndRefreshParams struct {
	Token            string
	PublicKey        *PublicKey
	ProductIDs       []string
	DeviceIdentifier string
	Policy           RefreshPolicy
}

// RefreshResult is the outcome of a successful ValidateAndRefreshToken call.
// Token is the token the caller should keep; it differs from the input only
// when DidRefresh is true.
type RefreshResult struct {
	Claims     *VerifiedToken
	Token      string
	DidRefresh bool
}

// ValidateAndRefreshToken verifies a stored token and fetches a replacement
// from the license API when needed.
//
// When the token fails verification, a replacement is fetched only if the
// failure is invalid_token, the signature itself is genuine and the token
// names a license key. Every other failure is returned unchanged.
//
// When the token verifies but expires within Policy.RefreshBefore, a
// replacement is fetched. If that fails, the still-valid original is returned.
//
// Failures are returned as *RefreshError wrapping an *Error.
func (c *Client) ValidateAndRefreshToken(ctx context.Context, params ValidateAndRefreshParams) (*RefreshResult, error) {
	opts := VerifyOptions{ProductIDs: params.ProductIDs, DeviceIdentifier: params.DeviceIdentifier}
	logger := c.logger.WithFields(logrus.Fields{
		"product": strings.Join(params.ProductIDs, ","),
		"device":  params.DeviceIdentifier,
		"token":   tokenFingerprint(params.Token),
	})

	verified, err := c.VerifyToken(params.Token, params.PublicKey, opts)
	if err != nil {
		return c.recoverInvalidToken(ctx, logger, params, opts, err)
	}
	return c.refreshIfExpiring(ctx, logger, params, opts, verified), nil
}

func (c *Client) recoverInvalidToken(ctx context.Context, logger logrus.FieldLogger, params ValidateAndRefreshParams, opts VerifyOptions, verifyErr error) (*RefreshResult, error) {
	licenseKey := licenseKeyHint(params.Token)
	signatureValid := VerifyTokenSignature(params.Token, params.PublicKey)

	code := CodeOf(verifyErr)
	if params.Policy.DisableRefresh || code != ErrCodeInvalidToken || !signatureValid || licenseKey == "" {
		logger.WithFields(logrus.Fields{
			"code":            code,
			"signature_valid": signatureValid,
		}).Debug("token rejected without refresh")
		return nil, &RefreshError{Err: verifyErr}
	}

	logger.Debug("token invalid but genuinely signed, fetching a replacement")
	token, err := c.FetchToken(ctx, FetchTokenParams{
		LicenseKey:       licenseKey,
		ProductIDs:       params.ProductIDs,
		DeviceIdentifier: params.DeviceIdentifier,
	})
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	verified, err := c.VerifyToken(token, params.PublicKey, opts)
	if err != nil {
		return nil, &RefreshError{DidRefresh: true, Err: err}
	}
	return &RefreshResult{Claims: verified, Token: token, DidRefresh: true}, nil
}

func (c *Client) refreshIfExpiring(ctx context.Context, logger logrus.FieldLogger, params ValidateAndRefreshParams, opts VerifyOptions, verified *VerifiedToken) *RefreshResult {
	current := &RefreshResult{Claims: verified, Token: params.Token}
	if params.Policy.DisableRefresh {
		return current
	}

	deadline := verified.refreshDeadline()
	if deadline == nil {
		return current
	}
	window := params.Policy.refreshBefore()
	if window < 0 || deadline.Sub(c.now()) >= window {
		return current
	}

	logger = logger.WithField("deadline", deadline.Format(time.RFC3339))
	logger.Debug("token close to expiry, fetching a replacement")

	token, err := c.FetchToken(ctx, FetchTokenParams{
		LicenseKey:       verified.License.Key,
		ProductIDs:       params.ProductIDs,
		DeviceIdentifier: params.DeviceIdentifier,
	})
	if err != nil {
		logger.WithError(err).Warn("proactive token refresh failed, keeping current token")
		return current
	}

	refreshed, err := c.VerifyToken(token, params.PublicKey, opts)
	if err != nil {
		logger.WithError(err).Warn("refreshed token rejected, keeping current token")
		return current
	}
	return &RefreshResult{Claims: refreshed, Token: token, DidRefresh: true}
}

// licenseKeyHint reads license.key from the unverified payload. The rest of
// the payload may be malformed.
func licenseKeyHint(token string) string {
	claims, err := decodePayload(token)
	if err != nil {
		return ""
	}
	license, ok := claims["license"].(map[string]interface{})
	if !ok {
		return ""
	}
	key, _ := license["key"].(string)
	return key
}

// IsRefreshError reports whether err came out of ValidateAndRefreshToken and
// whether a replacement token had been fetched.
func IsRefreshError(err error) (didRefresh bool, ok bool) {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.DidRefresh, true
	}
	return false, false
}
