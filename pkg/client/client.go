// Package client implements the authenticated HTTP layer for the ADP API:
// token attachment, rate limiting, retry with backoff, response
// classification, and windowed pagination over stream endpoints.
package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-adp/pkg/auth"
	"github.com/ajitpratap0/tap-adp/pkg/catalog"
	"github.com/ajitpratap0/tap-adp/pkg/config"
	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
	"github.com/ajitpratap0/tap-adp/pkg/logger"
	"github.com/ajitpratap0/tap-adp/pkg/metrics"
)

// maxResponseBytes bounds a single response body read
const maxResponseBytes = 64 << 20

// Client is the authenticated API client shared by all stream workers
type Client struct {
	http      *http.Client
	auth      *auth.Authenticator
	limiter   *RateLimiter
	retry     *RetryPolicy
	baseURL   string
	userAgent string
}

// New builds the API client from validated configuration
func New(cfg *config.Config, authenticator *auth.Authenticator) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Get().Warn("http/2 unavailable, falling back to http/1.1", zap.Error(err))
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Reliability.RequestTimeout,
		},
		auth: authenticator,
		limiter: NewRateLimiter(
			cfg.Reliability.RateLimitPerSec,
			cfg.Reliability.RateLimitPerSec,
		),
		retry: NewRetryPolicy(
			cfg.Reliability.RetryAttempts,
			cfg.Reliability.RetryDelay,
			cfg.Reliability.MaxRetryDelay,
		),
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		userAgent: cfg.UserAgent,
	}
}

// RequestSpec describes one API request plus the stream-specific response
// conditions the client must recognize before classifying a failure.
type RequestSpec struct {
	Path    string
	Params  url.Values
	Headers map[string]string

	// EmptyOnStatus statuses yield an empty result instead of an error
	EmptyOnStatus []int
	// Skippable conditions mark the resource unavailable rather than failed
	Skippable []catalog.SkippableCondition
}

// Response is a classified API response
type Response struct {
	Status int
	Body   []byte
	// Empty marks a response the stream treats as "no data here"
	Empty bool
	// Skipped marks a resource the upstream reported as unavailable
	Skipped bool
}

// Get performs an authenticated GET with retry. A 401 on a token the cache
// considered valid invalidates it and replays the request exactly once at
// the same cursor; a second rejection is an authentication failure.
func (c *Client) Get(ctx context.Context, spec RequestSpec) (*Response, error) {
	resp, err := c.getWithRetry(ctx, spec)
	if err != nil && errors.IsType(err, errors.ErrorTypeAuthentication) {
		if v, ok := errors.Detail(err, "status"); ok && v == http.StatusUnauthorized {
			logger.Get().Debug("access token rejected, renewing and replaying request",
				zap.String("path", spec.Path))
			c.auth.Invalidate()
			return c.getWithRetry(ctx, spec)
		}
	}
	return resp, err
}

func (c *Client) getWithRetry(ctx context.Context, spec RequestSpec) (*Response, error) {
	var out *Response
	err := c.retry.Execute(ctx, func() error {
		resp, err := c.do(ctx, spec)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *Client) do(ctx context.Context, spec RequestSpec) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + spec.Path
	if len(spec.Params) > 0 {
		u += "?" + spec.Params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		metrics.HTTPRetries.WithLabelValues("connection").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("path", spec.Path)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		metrics.HTTPRetries.WithLabelValues("connection").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body").
			WithDetail("path", spec.Path)
	}

	return c.classify(spec, httpResp, body)
}

// classify maps an HTTP response onto the error taxonomy, checking the
// stream's tolerated conditions before the generic status rules.
func (c *Client) classify(spec RequestSpec, httpResp *http.Response, body []byte) (*Response, error) {
	status := httpResp.StatusCode

	if status >= 200 && status < 300 {
		return &Response{Status: status, Body: body}, nil
	}

	if matchSkippable(spec.Skippable, status, body) {
		logger.Get().Warn("upstream reported resource unavailable, skipping",
			zap.String("path", spec.Path),
			zap.Int("status", status))
		return &Response{Status: status, Body: body, Skipped: true}, nil
	}
	for _, s := range spec.EmptyOnStatus {
		if s == status {
			logger.Get().Warn("no data for resource",
				zap.String("path", spec.Path),
				zap.Int("status", status))
			return &Response{Status: status, Body: body, Empty: true}, nil
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, errors.New(errors.ErrorTypeAuthentication, "API rejected the access token").
			WithDetail("status", status).
			WithDetail("path", spec.Path)

	case status == http.StatusForbidden:
		return nil, errors.New(errors.ErrorTypePermission, "credentials lack entitlement for this resource").
			WithDetail("status", status).
			WithDetail("path", spec.Path)

	case status == http.StatusTooManyRequests:
		metrics.HTTPRetries.WithLabelValues("rate_limit").Inc()
		e := errors.New(errors.ErrorTypeRateLimit, "API rate limit exceeded").
			WithDetail("status", status).
			WithDetail("path", spec.Path)
		if after, ok := parseRetryAfter(httpResp.Header.Get("Retry-After")); ok {
			e = e.WithDetail("retry_after", after)
		}
		return nil, e

	case status >= 500:
		metrics.HTTPRetries.WithLabelValues("server_error").Inc()
		return nil, errors.Newf(errors.ErrorTypeTransient, "API returned status %d", status).
			WithDetail("status", status).
			WithDetail("path", spec.Path)

	default:
		return nil, errors.Newf(errors.ErrorTypeData, "API returned unexpected status %d", status).
			WithDetail("status", status).
			WithDetail("path", spec.Path).
			WithDetail("body", truncate(string(body), 2048))
	}
}

// parseRetryAfter reads a Retry-After header as either delta-seconds or an
// HTTP date
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// confirmMessage mirrors the error envelope ADP wraps failures in
type confirmMessage struct {
	ConfirmMessage struct {
		ProcessMessages  []processMessage `json:"processMessages"`
		ResourceMessages []struct {
			ProcessMessages []processMessage `json:"processMessages"`
		} `json:"resourceMessages"`
	} `json:"confirmMessage"`
}

type processMessage struct {
	ProcessMessageID struct {
		IDValue string `json:"idValue"`
	} `json:"processMessageID"`
	DeveloperMessage struct {
		CodeValue  string `json:"codeValue"`
		MessageTxt string `json:"messageTxt"`
	} `json:"developerMessage"`
	UserMessage struct {
		CodeValue  string `json:"codeValue"`
		MessageTxt string `json:"messageTxt"`
	} `json:"userMessage"`
}

// matchSkippable checks the response against the stream's skippable
// conditions by scanning the upstream error envelope's message texts and
// code values.
func matchSkippable(conds []catalog.SkippableCondition, status int, body []byte) bool {
	if len(conds) == 0 {
		return false
	}

	var envelope confirmMessage
	if err := jsonutil.Unmarshal(body, &envelope); err != nil {
		return false
	}

	all := envelope.ConfirmMessage.ProcessMessages
	for _, rm := range envelope.ConfirmMessage.ResourceMessages {
		all = append(all, rm.ProcessMessages...)
	}

	for _, cond := range conds {
		if cond.Status != status {
			continue
		}
		for _, pm := range all {
			if cond.CodeValue != "" &&
				(pm.DeveloperMessage.CodeValue == cond.CodeValue ||
					pm.UserMessage.CodeValue == cond.CodeValue) {
				return true
			}
			if cond.MessageContains != "" &&
				(strings.Contains(pm.DeveloperMessage.MessageTxt, cond.MessageContains) ||
					strings.Contains(pm.UserMessage.MessageTxt, cond.MessageContains) ||
					strings.Contains(pm.ProcessMessageID.IDValue, cond.MessageContains)) {
				return true
			}
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
