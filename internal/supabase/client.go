// Package supabase talks to a Supabase-compatible hosted backend: GoTrue for
// authentication, PostgREST for the catalogue, and the Realtime websocket for
// change notifications.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kdbuddy/kdbuddy/internal/logger"
)

// Options configures the hosted API clients.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Logger    *logrus.Logger
	// HTTPClient overrides the tuned default client, mainly for tests.
	HTTPClient *http.Client
}

// TokenSource yields the bearer token of the signed-in identity. An empty
// token means guest and the public API key is sent instead.
type TokenSource interface {
	AccessToken() string
}

// responseError is a non-2xx answer from the hosted API.
type responseError struct {
	Status  int
	Message string
}

func (e *responseError) Error() string { return e.Message }

type base struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

func newBase(opts Options) (*base, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("supabase: base url is required")
	}
	parsed, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = newHTTPClient(timeout)
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &base{
		baseURL: parsed,
		apiKey:  opts.APIKey,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.OrDefault(opts.Logger),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConnsPerHost:   8,
		},
	}
}

func (b *base) endpoint(path string, query url.Values) string {
	rel := &url.URL{Path: b.baseURL.Path + path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	return b.baseURL.ResolveReference(rel).String()
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	bearer string
	header http.Header
}

// do executes c and decodes a JSON answer into out when out is non-nil. A
// non-2xx answer is returned as *responseError.
func (b *base) do(ctx context.Context, c call, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, b.endpoint(c.path, c.query), body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", b.apiKey)
	bearer := c.bearer
	if bearer == "" {
		bearer = b.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := errorMessage(raw)
		if msg == "" {
			msg = fmt.Sprintf("%s %s returned %d", c.method, c.path, resp.StatusCode)
		}
		b.logger.WithFields(logrus.Fields{
			"method": c.method,
			"path":   c.path,
			"status": resp.StatusCode,
		}).Debug("supabase: request rejected")
		return &responseError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.path, err)
	}
	return nil
}

// errorMessage extracts the human-readable message from the error bodies used
// by PostgREST ("message") and GoTrue ("error_description", "msg").
func errorMessage(raw []byte) string {
	var payload struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, candidate := range []string{payload.ErrorDescription, payload.Msg, payload.Message, payload.Error} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
