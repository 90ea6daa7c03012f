// Package providerhttp holds the HTTP plumbing shared by the embedding and
// LLM provider adapters: status classification into domain errors,
// Retry-After parsing and line-oriented response streams.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// Classify turns a non-2xx provider response into a domain error.
// Rate limits and server faults are transient, auth and quota failures are
// fatal and malformed requests are validation errors.
func Classify(op string, status int, header http.Header, body []byte) error {
	cause := fmt.Errorf("status %d: %s", status, errorMessage(body))

	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewProviderError(op, cause, RetryAfter(header.Get("Retry-After"), time.Now()))
	case status == http.StatusRequestTimeout || status >= 500:
		return domain.NewProviderError(op, cause, RetryAfter(header.Get("Retry-After"), time.Now()))
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusPaymentRequired:
		return domain.NewProviderFatalError(op, cause)
	case status == http.StatusNotFound:
		// Unknown model or endpoint. Retrying cannot help.
		return domain.NewProviderFatalError(op, cause)
	default:
		return &domain.Error{Kind: domain.KindValidation, Op: op, Err: cause}
	}
}

// Transport classifies a failure to reach the provider at all.
func Transport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &domain.Error{Kind: domain.KindCancelled, Op: op, Err: err}
	}
	return domain.NewProviderError(op, err, 0)
}

// Malformed reports a 2xx response the adapter could not decode. Treated as
// transient since proxies and overloaded servers produce truncated bodies.
func Malformed(op string, err error) error {
	return domain.NewProviderError(op, fmt.Errorf("malformed response: %w", err), 0)
}

// RetryAfter parses a Retry-After header given as seconds or an HTTP date.
// It returns zero when the header is absent or unparseable.
func RetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Do sends req and returns the response when the status is 2xx. Any other
// status is read, closed and classified.
func Do(client *http.Client, op string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, Transport(op, ctxErr)
		}
		return nil, Transport(op, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return nil, Classify(op, resp.StatusCode, resp.Header, body)
}

// PostJSON marshals payload and sends it with the given headers.
func PostJSON(ctx context.Context, client *http.Client, op, url string, headers map[string]string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return Do(client, op, req)
}

// DecodeJSON reads a 2xx response body into out and closes it.
func DecodeJSON(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Malformed(op, err)
	}
	return nil
}

// errorMessage pulls the message out of the common provider error shapes:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func errorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if json.Unmarshal(shaped.Error, &plain) == nil && plain != "" {
				return plain
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return "empty response"
	}
	return text
}
