package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"janus/gateway/middleware"
)

const (
	gatewayEnv = "JANUS_GATEWAY_URL"
	tokenEnv   = "JANUS_TOKEN"
	callerEnv  = "JANUS_CALLER"

	defaultGateway = "http://127.0.0.1:8080"
	requestTimeout = 30 * time.Second
)

// apiError is the gateway's error body.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("gateway error %d %s: %s", e.Status, e.Code, e.Message)
}

// clientFlags are shared by every command that talks to the gateway.
type clientFlags struct {
	gateway     string
	token       string
	caller      string
	idempotency string
}

func (c *clientFlags) register(fs *flag.FlagSet, mutating bool) {
	fs.StringVar(&c.gateway, "gateway", envOr(gatewayEnv, defaultGateway), "gateway base URL")
	fs.StringVar(&c.token, "token", os.Getenv(tokenEnv), "bearer token (see escrowctl token)")
	fs.StringVar(&c.caller, "as", os.Getenv(callerEnv), "caller address sent when gateway auth is disabled")
	if mutating {
		fs.StringVar(&c.idempotency, "idempotency-key", "", "replay key; generated when empty")
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

type gatewayClient struct {
	base   *url.URL
	token  string
	caller string
	http   *http.Client
}

func (c *clientFlags) client() (*gatewayClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(c.gateway), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", c.gateway)
	}
	return &gatewayClient{
		base:   base,
		token:  strings.TrimSpace(c.token),
		caller: strings.TrimSpace(c.caller),
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (g *gatewayClient) endpoint(path string, query url.Values) string {
	u := *g.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (g *gatewayClient) authorize(header http.Header) {
	if g.token != "" {
		header.Set("Authorization", "Bearer "+g.token)
	}
	if g.caller != "" {
		header.Set(middleware.CallerHeader, g.caller)
	}
}

// call issues a JSON request and returns the raw response body. Non-2xx
// responses are returned as *apiError.
func (g *gatewayClient) call(ctx context.Context, method, path string, query url.Values, body any, idempotencyKey string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if idempotencyKey == "" {
			idempotencyKey = uuid.NewString()
		}
		req.Header.Set(middleware.IdempotencyHeader, idempotencyKey)
	}
	g.authorize(req.Header)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// download fetches a raw body along with its response headers.
func (g *gatewayClient) download(ctx context.Context, path string, query url.Values) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint(path, query), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	g.authorize(req.Header)
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, resp.Header, nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &apiError{Status: status}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
