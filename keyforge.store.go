package keyforge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrTokenNotFound is returned by a TokenStore when no token is stored under
// the requested key.
var ErrTokenNotFound = errors.New("keyforge: token not found")

// TokenStore persists license tokens between runs. Keys are chosen by the
// caller, typically one per product and license.
//
// Implementations must be safe for concurrent use.
type TokenStore interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, token string) error
	Delete(ctx context.Context, key string) error
}

// StoreKey builds the conventional store key for a product and license key.
func StoreKey(productID, licenseKey string) string {
	return strings.TrimSpace(productID) + ":" + strings.TrimSpace(licenseKey)
}

// TokenKeeper combines a Client with a TokenStore: it loads the stored token,
// validates and refreshes it, and saves any replacement.
//
// Concurrent Validate calls for the same key within one process share a single
// validate-and-refresh run.
type TokenKeeper struct {
	client *Client
	store  TokenStore
	key    *PublicKey
	policy RefreshPolicy
	group  singleflight.Group
}

// NewTokenKeeper creates a TokenKeeper verifying tokens with key.
func NewTokenKeeper(client *Client, store TokenStore, key *PublicKey, policy RefreshPolicy) (*TokenKeeper, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("token store cannot be nil")
	}
	if key == nil {
		return nil, fmt.Errorf("public key cannot be nil")
	}
	return &TokenKeeper{client: client, store: store, key: key, policy: policy}, nil
}

// KeeperParams identify the stored token and the constraints it must meet.
type KeeperParams struct {
	StoreKey         string
	ProductIDs       []string
	DeviceIdentifier string
}

// Validate loads the token stored under params.StoreKey, runs
// ValidateAndRefreshToken on it and stores the replacement, if any. It returns
// ErrTokenNotFound when nothing is stored.
//
// The shared run is not tied to any one caller's context: a caller whose ctx
// ends gets ctx.Err() while the others keep waiting for the result.
func (k *TokenKeeper) Validate(ctx context.Context, params KeeperParams) (*RefreshResult, error) {
	ch := k.group.DoChan(params.StoreKey, func() (interface{}, error) {
		return k.validate(context.WithoutCancel(ctx), params)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			k.client.logger.WithField("store_key", params.StoreKey).Debug("joined in-flight token validation")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RefreshResult), nil
	}
}

func (k *TokenKeeper) validate(ctx context.Context, params KeeperParams) (*RefreshResult, error) {
	token, err := k.store.Load(ctx, params.StoreKey)
	if err != nil {
		return nil, err
	}

	result, err := k.client.ValidateAndRefreshToken(ctx, ValidateAndRefreshParams{
		Token:            token,
		PublicKey:        k.key,
		ProductIDs:       params.ProductIDs,
		DeviceIdentifier: params.DeviceIdentifier,
		Policy:           k.policy,
	})
	if err != nil {
		return nil, err
	}

	if result.DidRefresh {
		if err := k.store.Save(ctx, params.StoreKey, result.Token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		k.client.logger.WithFields(logrus.Fields{
			"store_key": params.StoreKey,
			"token":     tokenFingerprint(result.Token),
		}).Debug("stored refreshed token")
	}
	return result, nil
}

// Put verifies token and stores it under params.StoreKey. Tokens that fail
// verification are not stored.
func (k *TokenKeeper) Put(ctx context.Context, params KeeperParams, token string) (*VerifiedToken, error) {
	verified, err := k.client.VerifyToken(token, k.key, VerifyOptions{
		ProductIDs:       params.ProductIDs,
		DeviceIdentifier: params.DeviceIdentifier,
	})
	if err != nil {
		return nil, err
	}
	if err := k.store.Save(ctx, params.StoreKey, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return verified, nil
}

// Activate activates the license on this device and stores the token the API
// issues. It fails with an unknown_error *Error when the product does not issue
// tokens.
func (k *TokenKeeper) Activate(ctx context.Context, params KeeperParams, licenseKey, deviceName string) (*Activation, *VerifiedToken, error) {
	activation, err := k.client.ActivateLicense(ctx, ActivateLicenseParams{
		LicenseKey:       licenseKey,
		ProductIDs:       params.ProductIDs,
		DeviceIdentifier: params.DeviceIdentifier,
		DeviceName:       deviceName,
	})
	if err != nil {
		return nil, nil, err
	}
	if activation.Token == "" {
		return activation, nil, &Error{Code: ErrCodeUnknown, Message: "License tokens are not enabled for this product"}
	}

	verified, err := k.Put(ctx, params, activation.Token)
	if err != nil {
		return activation, nil, err
	}
	return activation, verified, nil
}

// Forget removes the token stored under key.
func (k *TokenKeeper) Forget(ctx context.Context, key string) error {
	return k.store.Delete(ctx, key)
}
