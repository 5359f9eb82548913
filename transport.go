package keyforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

var publicErrorCodes = map[int]ErrorCode{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusUnauthorized:        ErrCodeUnauthorized,
	http.StatusForbidden:           ErrCodeForbidden,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusTooManyRequests:     ErrCodeTooManyRequests,
	http.StatusInternalServerError: ErrCodeInternalServerError,
}

var adminErrorCodes = map[int]ErrorCode{
	http.StatusBadRequest:          ErrCodeInvalidParameters,
	http.StatusUnauthorized:        ErrCodeMissingAPIKey,
	http.StatusForbidden:           ErrCodeInvalidAPIKey,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusMethodNotAllowed:    ErrCodeMethodNotAllowed,
	http.StatusTooManyRequests:     ErrCodeRateLimitExceeded,
	http.StatusInternalServerError: ErrCodeInternalServerError,
}

// errorDecoder turns a non-2xx response into an *Error.
type errorDecoder func(status int, body []byte) *Error

// transport performs JSON requests against the license API.
type transport struct {
	baseURL     string
	httpClient  *http.Client
	headers     http.Header
	logger      logrus.FieldLogger
	decodeError errorDecoder
}

func newTransport(cfg Config, decodeError errorDecoder) *transport {
	headers := http.Header{}
	headers.Set("User-Agent", cfg.UserAgent)
	headers.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return &transport{
		baseURL:     cfg.BaseURL,
		httpClient:  cfg.HTTPClient,
		headers:     headers,
		logger:      cfg.Logger,
		decodeError: decodeError,
	}
}

// do sends payload (when non-nil) as JSON and decodes a successful response
// into out (when non-nil). Extra headers override the defaults.
func (t *transport) do(ctx context.Context, method, path string, payload, out interface{}, extra ...http.Header) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = mergeHeaders(append([]http.Header{t.headers}, extra...)...)

	logger := t.logger.WithFields(logrus.Fields{"method": method, "path": path})

	resp, err := t.httpClient.Do(req)
	if err != nil {
		logger.WithError(err).Debug("license API request failed")
		return &Error{Code: ErrCodeNetwork, Message: ErrNetwork.Message, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.WithError(err).Debug("reading license API response failed")
		return &Error{Code: ErrCodeNetwork, Message: ErrNetwork.Message, Status: resp.StatusCode, Err: err}
	}

	logger.WithField("status", resp.StatusCode).Debug("license API request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.decodeError(resp.StatusCode, respBody)
	}

	if out == nil || resp.ContentLength == 0 || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{
			Code:    ErrCodeUnknown,
			Message: "Unexpected response from the license API",
			Status:  resp.StatusCode,
			Err:     err,
		}
	}
	return nil
}

// decodePublicError maps the {"error": {"code", "message"}} envelope of the
// public endpoints, falling back to the HTTP status.
func decodePublicError(status int, body []byte) *Error {
	e := &Error{Code: ErrCodeUnknown, Message: "An error occurred", Status: status}
	if code, ok := publicErrorCodes[status]; ok {
		e.Code = code
	}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return e
	}
	if envelope.Error.Code != "" {
		e.Code = ErrorCode(envelope.Error.Code)
	}
	if envelope.Error.Message != "" {
		e.Message = envelope.Error.Message
	}
	return e
}

// decodeAdminError maps the {"name", "message"} body of the admin endpoints.
func decodeAdminError(status int, body []byte) *Error {
	e := &Error{Code: ErrCodeApplication, Message: http.StatusText(status), Status: status}
	if code, ok := adminErrorCodes[status]; ok {
		e.Code = code
	}

	var payload struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return e
	}
	if payload.Name != "" {
		e.Code = ErrorCode(payload.Name)
	}
	if payload.Message != "" {
		e.Message = payload.Message
	}
	return e
}

// mergeHeaders combines header sets; later sources override earlier ones,
// comparing names case-insensitively.
func mergeHeaders(sources ...http.Header) http.Header {
	result := http.Header{}
	for _, source := range sources {
		for name, values := range source {
			result.Del(name)
			for _, value := range values {
				result.Add(name, value)
			}
		}
	}
	return result
}

// pathSegment escapes a caller-supplied value for use as one path segment.
func pathSegment(value string) string {
	return url.PathEscape(strings.TrimSpace(value))
}
