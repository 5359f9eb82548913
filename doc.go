// Package keyforge verifies and refreshes signed license tokens issued by the
// Keyforge license API, and wraps the public and admin HTTP endpoints.
//
// # Overview
//
// A license token is a compact JWS whose payload carries the license (product,
// key, type, expiry, device limit) and the device it is bound to. Applications
// ship the issuer's public key and verify tokens offline; the network is only
// needed to obtain or refresh a token.
//
// The package provides:
//   - Offline verification of tokens against a JWK or PEM public key
//   - Product, device and license expiry checks with typed errors
//   - A validate-and-refresh flow that replaces tokens before they expire
//   - Public license validation and activation
//   - Admin management of products and licenses with a secret API key
//   - Token stores for memory, Redis, SQL (GORM) and MongoDB
//
// # Usage Example
//
//	key := keyforge.MustParsePublicKeyJWK(`{"kty":"EC","crv":"P-256","x":"...","y":"..."}`)
//
//	client, err := keyforge.NewClient(keyforge.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.ValidateAndRefreshToken(ctx, keyforge.ValidateAndRefreshParams{
//	    Token:            storedToken,
//	    PublicKey:        key,
//	    ProductIDs:       []string{"p_123"},
//	    DeviceIdentifier: deviceID,
//	})
//	if err != nil {
//	    // errors.Is(err, keyforge.ErrDeviceMismatch), keyforge.CodeOf(err), ...
//	    log.Fatal(err)
//	}
//	if result.DidRefresh {
//	    save(result.Token)
//	}
//
// # Trust
//
// DecodeTokenUnsafe returns UnverifiedClaims, which are attacker-controlled and
// only useful as hints. VerifyToken returns a VerifiedToken. Only the latter
// says anything about the validity of a license.
//
// # Refreshing
//
// ValidateAndRefreshToken never makes more than one fetch per call. A token that
// verifies but expires within RefreshPolicy.RefreshBefore (3 days by default) is
// replaced when the API answers, and kept otherwise. A token that fails with
// invalid_token, typically because its exp passed, is replaced only when its
// signature is genuine. Product, device and license expiry failures are
// returned as is.
//
// # Errors
//
// Expected failures are *Error values carrying an ErrorCode. They compare equal
// to the exported sentinels under errors.Is. ValidateAndRefreshToken wraps them
// in a *RefreshError that records whether a replacement had been fetched.
package keyforge
