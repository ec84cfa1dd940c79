package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
)

const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses that are not auth failures.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == stdhttp.StatusTooManyRequests
}

// Client performs bearer-authenticated JSON calls against the backend API.
type Client struct {
	base    *url.URL
	hc      *stdhttp.Client
	tokens  auth.TokenProvider
	timeout time.Duration
	log     *zerolog.Logger
}

// NewClient builds an API client. timeout bounds every request.
func NewClient(baseURL string, tokens auth.TokenProvider, timeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http(s), got %q", baseURL)
	}
	if tokens == nil {
		return nil, errors.New("token provider is required")
	}
	return &Client{
		base:    base,
		hc:      &stdhttp.Client{},
		tokens:  tokens,
		timeout: timeout,
		log:     log.OrNop(logger),
	}, nil
}

// WithHTTPClient replaces the underlying transport client.
func (c *Client) WithHTTPClient(hc *stdhttp.Client) *Client {
	c.hc = hc
	return c
}

// GetJSON issues GET path and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, stdhttp.MethodGet, path, nil, out)
}

// Post issues a body-less POST with the given query parameters.
func (c *Client) Post(ctx context.Context, path string, query url.Values) error {
	return c.do(ctx, stdhttp.MethodPost, path, query, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := stdhttp.NewRequestWithContext(reqCtx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		// Caller cancellation is not a network failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.NetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api request")

	switch {
	case resp.StatusCode == stdhttp.StatusUnauthorized || resp.StatusCode == stdhttp.StatusForbidden:
		return core.AuthError(method+" "+path, &StatusError{StatusCode: resp.StatusCode})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reqCtx.Err() != nil {
			return core.NetworkError(method+" "+path, reqCtx.Err())
		}
		return core.ProtocolError("decode "+path, err)
	}
	return nil
}
