package keyforge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func keeperParams() KeeperParams {
	return KeeperParams{
		StoreKey:         StoreKey(testProductID, "ABCDE-FGHIJ-KLMNO-PQRST"),
		ProductIDs:       []string{testProductID},
		DeviceIdentifier: testDeviceID,
	}
}

func TestNewTokenKeeper(t *testing.T) {
	issuer := newTestIssuer(t, "ec")
	client := newFakeAPI(t, unreachable(t)).client(t)
	store := NewMemoryTokenStore()

	_, err := NewTokenKeeper(nil, store, issuer.public, RefreshPolicy{})
	require.Error(t, err)
	_, err = NewTokenKeeper(client, nil, issuer.public, RefreshPolicy{})
	require.Error(t, err)
	_, err = NewTokenKeeper(client, store, nil, RefreshPolicy{})
	require.Error(t, err)
}

func TestTokenKeeperValidate(t *testing.T) {
	issuer := newTestIssuer(t, "ec")
	ctx := context.Background()

	t.Run("Not Found", func(t *testing.T) {
		keeper, err := NewTokenKeeper(newFakeAPI(t, unreachable(t)).client(t), NewMemoryTokenStore(), issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		_, err = keeper.Validate(ctx, keeperParams())
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("Saves Refreshed Token", func(t *testing.T) {
		expiring := defaultTokenSpec()
		expiring.tokenExpires = day

		api := newFakeAPI(t, tokenHandler(t, issuer, defaultTokenSpec()))
		store := NewMemoryTokenStore()
		original := issuer.issue(t, expiring)
		require.NoError(t, store.Save(ctx, keeperParams().StoreKey, original))

		keeper, err := NewTokenKeeper(api.client(t), store, issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		result, err := keeper.Validate(ctx, keeperParams())
		require.NoError(t, err)
		require.True(t, result.DidRefresh)

		stored, err := store.Load(ctx, keeperParams().StoreKey)
		require.NoError(t, err)
		require.Equal(t, result.Token, stored)
		require.NotEqual(t, original, stored)
	})

	t.Run("Leaves Store Alone Without Refresh", func(t *testing.T) {
		store := NewMemoryTokenStore()
		original := issuer.issue(t, defaultTokenSpec())
		require.NoError(t, store.Save(ctx, keeperParams().StoreKey, original))

		keeper, err := NewTokenKeeper(newFakeAPI(t, unreachable(t)).client(t), store, issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		result, err := keeper.Validate(ctx, keeperParams())
		require.NoError(t, err)
		require.False(t, result.DidRefresh)

		stored, err := store.Load(ctx, keeperParams().StoreKey)
		require.NoError(t, err)
		require.Equal(t, original, stored)
	})

	t.Run("Propagates Verification Errors", func(t *testing.T) {
		spec := defaultTokenSpec()
		spec.deviceID = "device-2"

		store := NewMemoryTokenStore()
		require.NoError(t, store.Save(ctx, keeperParams().StoreKey, issuer.issue(t, spec)))

		keeper, err := NewTokenKeeper(newFakeAPI(t, unreachable(t)).client(t), store, issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		_, err = keeper.Validate(ctx, keeperParams())
		require.ErrorIs(t, err, ErrDeviceMismatch)
	})
}

func TestTokenKeeperCoalescesRefreshes(t *testing.T) {
	issuer := newTestIssuer(t, "rsa")
	ctx := context.Background()

	expiring := defaultTokenSpec()
	expiring.tokenExpires = day

	release := make(chan struct{})
	refreshed := tokenHandler(t, issuer, defaultTokenSpec())
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		refreshed(w, r)
	})

	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(ctx, keeperParams().StoreKey, issuer.issue(t, expiring)))

	keeper, err := NewTokenKeeper(api.client(t), store, issuer.public, RefreshPolicy{})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*RefreshResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = keeper.Validate(ctx, keeperParams())
		}(i)
	}

	// Let every caller reach the in-flight request before answering it.
	require.Eventually(t, func() bool { return api.calls.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Token, results[i].Token)
	}
	// Late callers load the already refreshed token instead of fetching.
	require.EqualValues(t, 1, api.calls.Load())
}

func TestTokenKeeperActivate(t *testing.T) {
	issuer := newTestIssuer(t, "ed25519")
	ctx := context.Background()

	activateHandler := func(token string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			body := map[string]interface{}{
				"isValid": true,
				"license": testLicenseJSON,
				"device":  testDeviceJSON,
			}
			if token != "" {
				body["token"] = token
			}
			writeJSON(w, http.StatusOK, body)
		}
	}

	t.Run("Stores Token", func(t *testing.T) {
		token := issuer.issue(t, defaultTokenSpec())
		store := NewMemoryTokenStore()
		keeper, err := NewTokenKeeper(newFakeAPI(t, activateHandler(token)).client(t), store, issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		activation, verified, err := keeper.Activate(ctx, keeperParams(), "ABCDE-FGHIJ-KLMNO-PQRST", "Test Machine")
		require.NoError(t, err)
		require.Equal(t, token, activation.Token)
		require.Equal(t, testDeviceID, verified.Device.Identifier)

		stored, err := store.Load(ctx, keeperParams().StoreKey)
		require.NoError(t, err)
		require.Equal(t, token, stored)

		require.NoError(t, keeper.Forget(ctx, keeperParams().StoreKey))
		_, err = store.Load(ctx, keeperParams().StoreKey)
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("No Token Issued", func(t *testing.T) {
		store := NewMemoryTokenStore()
		keeper, err := NewTokenKeeper(newFakeAPI(t, activateHandler("")).client(t), store, issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		activation, _, err := keeper.Activate(ctx, keeperParams(), "ABCDE-FGHIJ-KLMNO-PQRST", "Test Machine")
		require.Equal(t, ErrCodeUnknown, CodeOf(err))
		require.NotNil(t, activation)
		require.Zero(t, store.Len())
	})

	t.Run("Rejects Foreign Token", func(t *testing.T) {
		other := newTestIssuer(t, "ed25519")
		store := NewMemoryTokenStore()
		keeper, err := NewTokenKeeper(newFakeAPI(t, activateHandler(other.issue(t, defaultTokenSpec()))).client(t), store, issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		_, _, err = keeper.Activate(ctx, keeperParams(), "ABCDE-FGHIJ-KLMNO-PQRST", "Test Machine")
		require.ErrorIs(t, err, ErrInvalidToken)
		require.Zero(t, store.Len())
	})

	t.Run("API Error", func(t *testing.T) {
		api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": map[string]string{"code": "max_devices_reached", "message": "Maximum number of devices reached."},
			})
		})
		keeper, err := NewTokenKeeper(api.client(t), NewMemoryTokenStore(), issuer.public, RefreshPolicy{})
		require.NoError(t, err)

		_, _, err = keeper.Activate(ctx, keeperParams(), "ABCDE-FGHIJ-KLMNO-PQRST", "Test Machine")
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, ErrCodeMaxDevicesReached, apiErr.Code)
	})
}

func TestTokenKeeperCallerCancellation(t *testing.T) {
	issuer := newTestIssuer(t, "ec")

	expiring := defaultTokenSpec()
	expiring.tokenExpires = day

	release := make(chan struct{})
	refreshed := tokenHandler(t, issuer, defaultTokenSpec())
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		refreshed(w, r)
	})

	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), keeperParams().StoreKey, issuer.issue(t, expiring)))

	keeper, err := NewTokenKeeper(api.client(t), store, issuer.public, RefreshPolicy{})
	require.NoError(t, err)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := keeper.Validate(leaderCtx, keeperParams())
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	type outcome struct {
		result *RefreshResult
		err    error
	}
	followerDone := make(chan outcome, 1)
	go func() {
		result, err := keeper.Validate(context.Background(), keeperParams())
		followerDone <- outcome{result, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	follower := <-followerDone
	require.NoError(t, follower.err)
	require.True(t, follower.result.DidRefresh)
	require.EqualValues(t, 1, api.calls.Load())

	stored, err := store.Load(context.Background(), keeperParams().StoreKey)
	require.NoError(t, err)
	require.Equal(t, follower.result.Token, stored)
}
