package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxRetryDelay caps the doubling backoff.
const maxRetryDelay = 30 * time.Second

type attemptFunc func() (status int, body []byte, err error)

// doWithRetry runs fn up to attempts times. It retries transport errors, 429
// and 5xx responses with a doubling delay, and stops early when ctx is done.
func doWithRetry(ctx context.Context, attempts int, delay time.Duration, fn attemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var (
		status int
		body   []byte
		err    error
	)
	for i := 0; i < attempts; i++ {
		status, body, err = fn()
		if err == nil && status != http.StatusTooManyRequests && status < 500 {
			return status, body, nil
		}
		if ctx.Err() != nil || i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return status, body, err
}

// postJSON sends payload and returns the 2xx response body. Anything else
// becomes a *ServiceError.
func postJSON(ctx context.Context, cfg Config, headers map[string]string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &ServiceError{Provider: cfg.Provider, Message: "encode request", Err: err}
	}

	status, body, err := doWithRetry(ctx, cfg.Attempts, cfg.RetryDelay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := cfg.HTTPClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return nil, &ServiceError{Provider: cfg.Provider, StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &ServiceError{Provider: cfg.Provider, StatusCode: status, Message: errorMessage(status, body)}
	}
	return body, nil
}

// errorMessage extracts {"error":{"message":...}} which both supported APIs
// use, falling back to the raw body.
func errorMessage(status int, body []byte) string {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return http.StatusText(status)
	}
	return text
}

func decodeResponse(provider string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &ServiceError{Provider: provider, Message: "decode response", Err: err}
	}
	return nil
}

func emptyResponse(provider string) error {
	return &ServiceError{Provider: provider, Message: "empty response"}
}
