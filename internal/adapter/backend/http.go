// Package backend provides classification backend adapters implementing the
// domain.Backend contract: an HTTP client for remote model servers and a
// deterministic stub for local runs and tests.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

// HTTPClient calls a remote classification backend over JSON HTTP. The
// per-call deadline arrives on the context; the backend must answer within it
// or the call counts as a timeout failure.
type HTTPClient struct {
	desc          domain.BackendDescriptor
	hc            *http.Client
	retryMax      uint64
	retryInterval time.Duration
}

// NewHTTP constructs an HTTP backend client for the descriptor. Transient
// failures (connect errors, 5xx, 429) are retried with a short constant
// backoff while the context allows.
func NewHTTP(desc domain.BackendDescriptor, retryMax int, retryInterval time.Duration) *HTTPClient {
	if retryMax < 0 {
		retryMax = 0
	}
	return &HTTPClient{
		desc: desc,
		hc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retryMax:      uint64(retryMax),
		retryInterval: retryInterval,
	}
}

// Name returns the backend name from its descriptor.
func (c *HTTPClient) Name() string { return c.desc.Name }

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence"`
	Attributes domain.Attributes `json:"attributes"`
}

// Classify posts the text and decodes the backend's classification. Deadline
// expiry maps to ErrBackendTimeout, everything else transport-shaped to
// ErrBackendUnavailable, so the router can record the right failure mode.
func (c *HTTPClient) Classify(ctx domain.Context, text string) (domain.ClassificationResult, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("%w: marshal request: %v", domain.ErrInternal, err)
	}

	var decoded classifyResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.desc.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			// Retryable: network errors, unless the context is done.
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("backend %s status %d", c.desc.Name, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("backend %s status %d", c.desc.Name, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("backend %s decode: %w", c.desc.Name, err))
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), c.retryMax), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ClassificationResult{}, fmt.Errorf("%w: %s: %v", domain.ErrBackendTimeout, c.desc.Name, err)
		}
		if errors.Is(err, context.Canceled) {
			return domain.ClassificationResult{}, err
		}
		return domain.ClassificationResult{}, fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, c.desc.Name, err)
	}

	return normalize(c.desc.Name, decoded)
}

// normalize validates and clamps a raw backend response into a result the
// router may serve.
func normalize(name string, raw classifyResponse) (domain.ClassificationResult, error) {
	if raw.Label == "" {
		return domain.ClassificationResult{}, fmt.Errorf("%w: %s returned empty label", domain.ErrBackendUnavailable, name)
	}
	conf := raw.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return domain.ClassificationResult{
		Label:      raw.Label,
		Confidence: conf,
		Attributes: raw.Attributes,
		Backend:    name,
	}, nil
}
