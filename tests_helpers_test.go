package keyforge

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/square/go-jose.v2"
)

// Test Helper Functions

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

const (
	testProductID = "p_test"
	testDeviceID  = "device-1"
)

func testClock() time.Time { return testNow }

// testIssuer signs license tokens the way the license API does.
type testIssuer struct {
	method  jwt.SigningMethod
	private interface{}
	public  *PublicKey
	jwkJSON []byte
}

func newTestIssuer(t testing.TB, kind string) *testIssuer {
	t.Helper()

	var (
		method  jwt.SigningMethod
		private interface{}
		public  interface{}
	)
	switch kind {
	case "rsa":
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		method, private, public = jwt.SigningMethodRS256, key, &key.PublicKey
	case "ec":
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		method, private, public = jwt.SigningMethodES256, key, &key.PublicKey
	case "ed25519":
		pub, key, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		method, private, public = jwt.SigningMethodEdDSA, key, pub
	default:
		t.Fatalf("unknown key kind %q", kind)
	}

	jwk := jose.JSONWebKey{Key: public, KeyID: uuid.NewString(), Use: "sig"}
	jwkJSON, err := json.Marshal(jwk)
	require.NoError(t, err)

	parsed, err := ParsePublicKeyJWK(jwkJSON)
	require.NoError(t, err)

	return &testIssuer{method: method, private: private, public: parsed, jwkJSON: jwkJSON}
}

func (i *testIssuer) sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(i.method, claims).SignedString(i.private)
	require.NoError(t, err)
	return token
}

// tokenSpec describes the payload of a test token. Zero durations leave the
// corresponding expiry out.
type tokenSpec struct {
	productID      string
	licenseKey     string
	deviceID       string
	licenseExpires time.Duration
	tokenExpires   time.Duration
	extra          jwt.MapClaims
}

func defaultTokenSpec() tokenSpec {
	return tokenSpec{
		productID:    testProductID,
		licenseKey:   "ABCDE-FGHIJ-KLMNO-PQRST",
		deviceID:     testDeviceID,
		tokenExpires: 30 * 24 * time.Hour,
	}
}

func (s tokenSpec) claims() jwt.MapClaims {
	license := map[string]interface{}{
		"productId":  s.productID,
		"key":        s.licenseKey,
		"type":       string(Perpetual),
		"expiresAt":  nil,
		"maxDevices": 3,
		"email":      "user@example.com",
	}
	if s.licenseExpires != 0 {
		license["type"] = string(Timed)
		license["expiresAt"] = testNow.Add(s.licenseExpires).Unix()
	}

	claims := jwt.MapClaims{
		"license": license,
		"device": map[string]interface{}{
			"identifier":     s.deviceID,
			"name":           "Test Machine",
			"activationDate": testNow.Add(-24 * time.Hour).Unix(),
		},
		"iat": testNow.Add(-time.Hour).Unix(),
		"iss": "keyforge",
	}
	if s.tokenExpires != 0 {
		claims["exp"] = testNow.Add(s.tokenExpires).Unix()
	}
	for k, v := range s.extra {
		claims[k] = v
	}
	return claims
}

func (i *testIssuer) issue(t testing.TB, s tokenSpec) string {
	t.Helper()
	return i.sign(t, s.claims())
}

// fakeAPI is an httptest license API that records the requests it serves.
type fakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	handler  http.HandlerFunc
	requests []recordedRequest
	calls    atomic.Int32
}

type recordedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]interface{}
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *fakeAPI {
	t.Helper()

	api := &fakeAPI{handler: handler}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.calls.Add(1)

		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		if len(strings.TrimSpace(string(data))) > 0 {
			_ = json.Unmarshal(data, &body)
		}

		api.mu.Lock()
		api.requests = append(api.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			header: r.Header.Clone(),
			body:   body,
		})
		h := api.handler
		api.mu.Unlock()

		h(w, r)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) lastRequest(t *testing.T) recordedRequest {
	t.Helper()

	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.requests, "no request recorded")
	return a.requests[len(a.requests)-1]
}

func (a *fakeAPI) client(t *testing.T) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = a.server.URL
	cfg.Logger = testLogger()
	client, err := NewClient(cfg, WithClock(testClock))
	require.NoError(t, err)
	return client
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// tokenHandler answers /v1/public/licenses/token with a token from issuer
// built from spec. The token is signed up front, on the test goroutine.
func tokenHandler(t *testing.T, issuer *testIssuer, spec tokenSpec) http.HandlerFunc {
	t.Helper()

	token := issuer.issue(t, spec)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/public/licenses/token" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"isValid": true,
			"token":   token,
		})
	}
}

func unreachable(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}
}

// tamperPayload swaps the payload segment of token for one carrying claims,
// keeping the original signature.
func tamperPayload(t *testing.T, token string, claims jwt.MapClaims) string {
	t.Helper()

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	data, err := json.Marshal(claims)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(data)
	return strings.Join(parts, ".")
}
