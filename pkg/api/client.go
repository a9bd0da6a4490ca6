// Package api is the REST client for the social backend. Every response is
// wrapped in an envelope whose data field carries the payload; writes carry an
// Idempotency-Key so a retried request is not applied twice.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JordyChamba/feedsync/internal/codec"
	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

const (
	HeaderAuthorization  = "Authorization"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// TokenSource returns the access token to send with a request. An empty token
// sends the request anonymously.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	codec      codec.Codec
	token      TokenSource
	newKey     func() string
	logger     logger.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.token = ts
	}
}

// WithCodec sets the encoding of request bodies and the preferred encoding
// of responses. JSON is the default.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) {
		c.codec = cd
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New returns a client for the API rooted at baseURL, for example
// http://localhost:8080/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	if u.Scheme != constants.HTTPScheme && u.Scheme != constants.HTTPSecureScheme {
		return nil, fmt.Errorf("api base url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: constants.DefaultHTTPTimeout},
		codec:      codec.JSON{},
		newKey:     uuid.NewString,
		logger:     logger.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := c.codec.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", c.codec.ContentType())
	if body != nil {
		req.Header.Set("Content-Type", c.codec.ContentType())
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.Header.Set(HeaderIdempotencyKey, c.newKey())
	}

	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set(HeaderAuthorization, "Bearer "+token)
		}
	}
	return req, nil
}

// makeRequest sends req and returns the raw body of a 2xx answer. Anything
// else becomes a *RemoteError.
func (c *Client) makeRequest(req *http.Request) ([]byte, string, error) {
	path := strings.TrimPrefix(req.URL.Path, c.baseURL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &RemoteError{Method: req.Method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &RemoteError{Method: req.Method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBytes, contentType, nil
	}

	rerr := &RemoteError{Method: req.Method, Path: path, StatusCode: resp.StatusCode}
	if cd, ok := codec.ForContentType(contentType); ok && len(respBytes) > 0 && strings.TrimSpace(contentType) != "" {
		var env wire.Envelope[any]
		if err := cd.Unmarshal(respBytes, &env); err == nil {
			rerr.Message = env.Message
		}
	}
	if rerr.Message == "" && len(respBytes) > 0 && !bytes.HasPrefix(bytes.TrimSpace(respBytes), []byte("{")) {
		rerr.Message = strings.TrimSpace(string(respBytes))
	}

	c.logger.Warn("api: request failed", "method", req.Method, "path", path, "status", resp.StatusCode, "message", rerr.Message)
	return nil, "", rerr
}

// call performs one request and unwraps the envelope into T. An empty body is
// a zero T.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var zero T

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return zero, err
	}
	respBytes, contentType, err := c.makeRequest(req)
	if err != nil {
		return zero, err
	}
	if len(bytes.TrimSpace(respBytes)) == 0 {
		return zero, nil
	}

	cd, ok := codec.ForContentType(contentType)
	if !ok {
		cd = c.codec
	}
	var env wire.Envelope[T]
	if err := cd.Unmarshal(respBytes, &env); err != nil {
		return zero, &RemoteError{
			Method:     method,
			Path:       path,
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	if !env.Success {
		return zero, &RemoteError{Method: method, Path: path, StatusCode: http.StatusOK, Message: env.Message}
	}
	return env.Data, nil
}

func pageQuery(page, size int) url.Values {
	if size <= 0 {
		size = constants.DefaultPageSize
	}
	return url.Values{
		"page": {fmt.Sprint(page)},
		"size": {fmt.Sprint(size)},
	}
}
