// Package adapters implements the uniform request/response contracts to
// the four external services the pipeline consumes (C3): quality
// assessment, reconstruction, answer-key verification, and AI question
// solving. Each adapter is a thin typed wrapper over one shared retrying
// HTTP core, generalizing the teacher's bare http.Client L1Client into the
// timeout/backoff/budget contract of §4.3.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cockroachdb/tokenbucket"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/metrics"
)

// FailureClass distinguishes retryable from terminal upstream failures.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureTransient
	FailurePermanent
	FailureTimeout
)

// AdapterError carries the failure class alongside the underlying error,
// so the orchestrator can decide whether to retry or open an intervention.
type AdapterError struct {
	Class FailureClass
	Err   error
}

func (e *AdapterError) Error() string { return e.Err.Error() }
func (e *AdapterError) Unwrap() error { return e.Err }

func transientErr(err error) error  { return &AdapterError{Class: FailureTransient, Err: err} }
func permanentErr(err error) error  { return &AdapterError{Class: FailurePermanent, Err: err} }
func timeoutErr(err error) error    { return &AdapterError{Class: FailureTimeout, Err: err} }

// ClassOf extracts the FailureClass from err, or FailureNone if err does
// not wrap an *AdapterError.
func ClassOf(err error) FailureClass {
	var ae *AdapterError
	if err == nil {
		return FailureNone
	}
	if ok := asAdapterError(err, &ae); ok {
		return ae.Class
	}
	return FailureNone
}

func asAdapterError(err error, target **AdapterError) bool {
	type unwrapper interface{ Unwrap() error }
	for {
		if ae, ok := err.(*AdapterError); ok {
			*target = ae
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}

// Config is the shared retry/timeout/rate-limit policy for every adapter.
type Config struct {
	Timeout            time.Duration
	MaxAttempts         int
	TotalBudget         time.Duration
	RateLimitPerSecond float64
}

// client is the shared retrying HTTP core every adapter wraps. It retries
// on FailureTransient with exponential backoff, capped at MaxAttempts and
// TotalBudget. FailurePermanent and FailureTimeout failures surface
// immediately, and transient failures surface once MaxAttempts or
// TotalBudget is spent; all of these carry apperrors.KindAdapterUnavailable.
type client struct {
	name    string
	baseURL string
	http    *http.Client
	cfg     Config
	bucket  *tokenbucket.TokenBucket
	logger  logging.Logger
}

func newClient(name, baseURL string, cfg Config, logger logging.Logger) *client {
	c := &client{
		name:    name,
		baseURL: baseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		logger:  logger,
	}
	if cfg.RateLimitPerSecond > 0 {
		c.bucket = &tokenbucket.TokenBucket{}
		c.bucket.Init(tokenbucket.TokensPerSecond(cfg.RateLimitPerSecond), tokenbucket.Tokens(cfg.RateLimitPerSecond))
	}
	return c
}

// doJSON posts req as JSON to path, retrying per policy, and decodes the
// response into out. Adapters are stateless and safe for concurrent use:
// every call builds its own request/response pair off the shared client.
func (c *client) doJSON(ctx context.Context, path string, req, out interface{}) error {
	if c.bucket != nil {
		if err := c.bucket.WaitCtx(ctx, tokenbucket.Tokens(1)); err != nil {
			return apperrors.Wrap(apperrors.KindCancelled, err, fmt.Sprintf("%s: rate limit wait cancelled", c.name))
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, fmt.Sprintf("%s: marshal request", c.name))
	}

	budgetCtx, cancel := context.WithTimeout(ctx, c.cfg.TotalBudget)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-budgetCtx.Done():
			return apperrors.Wrap(apperrors.KindAdapterUnavailable, budgetCtx.Err(),
				fmt.Sprintf("%s: total budget exhausted", c.name))
		default:
		}

		respErr := c.attempt(budgetCtx, path, body, out)
		if respErr == nil {
			metrics.AdapterCalls.WithLabelValues(c.name, "ok").Inc()
			return nil
		}
		lastErr = respErr

		if ClassOf(respErr) != FailureTransient {
			metrics.AdapterCalls.WithLabelValues(c.name, classLabel(respErr)).Inc()
			return apperrors.Wrap(apperrors.KindAdapterUnavailable, respErr,
				fmt.Sprintf("%s: non-retryable failure", c.name))
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
		c.logger.Info(fmt.Sprintf("%s: retrying", c.name), "attempt", attempt, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-budgetCtx.Done():
			return apperrors.Wrap(apperrors.KindAdapterUnavailable, budgetCtx.Err(),
				fmt.Sprintf("%s: total budget exhausted during backoff", c.name))
		}
	}
	metrics.AdapterCalls.WithLabelValues(c.name, "transient").Inc()
	return apperrors.Wrap(apperrors.KindAdapterUnavailable, lastErr,
		fmt.Sprintf("%s: attempts exhausted", c.name))
}

// classLabel renders a FailureClass as the adapter_calls_total "result"
// label value.
func classLabel(err error) string {
	switch ClassOf(err) {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	case FailureTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

func (c *client) attempt(ctx context.Context, path string, body []byte, out interface{}) error {
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return permanentErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return timeoutErr(err)
		}
		return transientErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transientErr(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return permanentErr(fmt.Errorf("%s: decode response: %w", c.name, err))
			}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return transientErr(fmt.Errorf("%s: upstream status %d: %s", c.name, resp.StatusCode, string(respBody)))
	default:
		return permanentErr(fmt.Errorf("%s: upstream status %d: %s", c.name, resp.StatusCode, string(respBody)))
	}
}
