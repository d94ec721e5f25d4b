// Package provider is the HTTPS client of the fiscal document provider (Nuvem Fiscal).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/pkg/logger"
)

var tracer = otel.Tracer("hotelfiscal/provider")

// Config configures the provider client.
type Config struct {
	AuthURL    string
	BaseURL    string
	SandboxURL string

	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// RatePerSec caps outgoing requests; <= 0 disables limiting.
	RatePerSec float64

	PollAttempts int
	PollInterval time.Duration

	// TokenSafety renews tokens this long before they expire.
	TokenSafety time.Duration
}

// DefaultConfig returns production endpoints and conservative timeouts.
func DefaultConfig() Config {
	return Config{
		AuthURL:        "https://auth.nuvemfiscal.com.br/oauth/token",
		BaseURL:        "https://api.nuvemfiscal.com.br",
		SandboxURL:     "https://api.sandbox.nuvemfiscal.com.br",
		DialTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		RatePerSec:     5,
		PollAttempts:   5,
		PollInterval:   2 * time.Second,
		TokenSafety:    60 * time.Second,
	}
}

// Credentials select the provider account and API environment.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Production   bool
}

type tokenKey struct {
	clientID string
	scope    string
	audience string
}

// Client talks to the provider API. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger

	mu     sync.RWMutex
	tokens map[tokenKey]oauth2.TokenSource
}

// New creates a provider client.
func New(cfg Config, log *logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.TokenSafety <= 0 {
		cfg.TokenSafety = def.TokenSafety
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = int(cfg.RatePerSec) + 1
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
		TLSHandshakeTimeout: cfg.DialTimeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if log == nil {
		log = logger.Default()
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.WithComponent("provider"),
		tokens:  make(map[tokenKey]oauth2.TokenSource),
	}
}

// baseURL returns the API root for the credentials' environment.
func (c *Client) baseURL(creds Credentials) string {
	if creds.Production {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return strings.TrimRight(c.cfg.SandboxURL, "/")
}

// Authenticate returns a valid access token for scope. Tokens are cached per
// (client_id, scope, audience) and renewed TokenSafety before expiry.
func (c *Client) Authenticate(ctx context.Context, creds Credentials, scope string) (*oauth2.Token, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, apperror.NewConfigIncomplete("provider credentials missing")
	}
	audience := c.baseURL(creds)
	key := tokenKey{clientID: creds.ClientID, scope: scope, audience: audience}

	c.mu.RLock()
	ts, ok := c.tokens[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if ts, ok = c.tokens[key]; !ok {
			cc := &clientcredentials.Config{
				ClientID:       creds.ClientID,
				ClientSecret:   creds.ClientSecret,
				TokenURL:       c.cfg.AuthURL,
				Scopes:         strings.Fields(scope),
				EndpointParams: url.Values{"audience": {audience}},
				AuthStyle:      oauth2.AuthStyleInParams,
			}
			// The token source outlives this request; it refreshes with its own context.
			tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
			ts = oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tokenCtx), c.cfg.TokenSafety)
			c.tokens[key] = ts
		}
		c.mu.Unlock()
	}

	_, span := tracer.Start(ctx, "provider.authenticate", trace.WithAttributes(attribute.String("provider.scope", scope)))
	defer span.End()

	tok, err := ts.Token()
	if err != nil {
		c.forget(key)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")

		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil && rErr.Response.StatusCode >= 500 {
			return nil, apperror.NewTransport("token endpoint unavailable", err)
		}
		return nil, apperror.NewProviderAuth("failed to authenticate with provider", err)
	}
	return tok, nil
}

func (c *Client) forget(key tokenKey) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}

// invalidate drops cached tokens of creds, e.g. after a 401.
func (c *Client) invalidate(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.tokens {
		if k.clientID == creds.ClientID {
			delete(c.tokens, k)
		}
	}
}

// response is a raw provider response.
type response struct {
	status int
	body   []byte
	header http.Header
}

// do sends one authenticated request. Network failures come back as Transport errors;
// HTTP statuses are returned untouched for the caller to classify.
func (c *Client) do(ctx context.Context, creds Credentials, scope, method, path string, payload any) (*response, error) {
	tok, err := c.Authenticate(ctx, creds, scope)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperror.NewTransport("rate limiter wait cancelled", err)
	}

	ctx, span := tracer.Start(ctx, "provider."+strings.ToLower(method), trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("provider.path", path),
	))
	defer span.End()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("provider: marshal payload: %w", err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(creds)+path, body)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("provider: create request: %w", err))
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.log.Warnw("provider request failed", "method", method, "path", path, "error", err)
		return nil, apperror.NewTransport("provider unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		span.RecordError(err)
		return nil, apperror.NewTransport("reading provider response", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	c.log.Debugw("provider request", "method", method, "path", path, "status", resp.StatusCode, "latency", time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidate(creds)
	}
	return &response{status: resp.StatusCode, body: raw, header: resp.Header}, nil
}
