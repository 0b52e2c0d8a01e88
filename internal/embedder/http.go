package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrEmbed wraps every failure to embed a batch.
var ErrEmbed = errors.New("embedder: embedding failed")

// StatusError is a non-2xx answer from an embedding backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

// jsonClient posts JSON to an embedding endpoint. Rate limiting and server
// errors are retried with exponential backoff; an indexing run sends many
// batches in a row and a single 429 should not fail the whole upload.
type jsonClient struct {
	backend  string
	http     *http.Client
	header   http.Header
	attempts int
	backoff  time.Duration
}

func newJSONClient(backend string, timeout time.Duration, header http.Header) *jsonClient {
	return &jsonClient{
		backend:  backend,
		http:     &http.Client{Timeout: timeout},
		header:   header,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

// post sends in to url and decodes a 2xx response into out.
func (c *jsonClient) post(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return c.wrap(fmt.Errorf("marshal request: %w", err))
	}

	wait := c.backoff
	for attempt := 1; ; attempt++ {
		retry, err := c.once(ctx, url, payload, out)
		if err == nil {
			return nil
		}
		if !retry || attempt >= c.attempts || ctx.Err() != nil {
			return c.wrap(err)
		}
		select {
		case <-ctx.Done():
			return c.wrap(ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// once performs a single request. The boolean reports whether the failure
// is worth retrying: transport errors, 429 and 5xx.
func (c *jsonClient) once(ctx context.Context, url string, payload []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode, Message: errorMessage(body, resp.Status)}
		return se.Temporary(), se
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

func (c *jsonClient) wrap(err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEmbed, c.backend, err)
}

// errorMessage extracts the backend's error text. Ollama answers
// {"error":"..."}, OpenAI and Azure answer {"error":{"message":"..."}}.
func errorMessage(body []byte, fallback string) string {
	var e struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || len(e.Error) == 0 {
		return fallback
	}
	var s string
	if json.Unmarshal(e.Error, &s) == nil && s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return fallback
}

// checkCount rejects responses that do not carry one vector per input.
func checkCount(backend string, want int, got [][]float32) ([][]float32, error) {
	if len(got) != want {
		return nil, fmt.Errorf("%w: %s: expected %d embeddings, got %d", ErrEmbed, backend, want, len(got))
	}
	for i, v := range got {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: %s: empty embedding at position %d", ErrEmbed, backend, i)
		}
	}
	return got, nil
}
