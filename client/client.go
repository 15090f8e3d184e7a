// Package client is a Go client for the admin JSON API. It keeps the session
// cookie in a jar, so a Login is followed by authenticated calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/halayachts/admin/store"
)

var (
	ErrUnauthorized = errors.New("not signed in")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	// ErrUnavailable is the server reporting its store as unreachable.
	ErrUnavailable = store.ErrUnavailable
)

// APIError is a non-2xx response. It unwraps to one of the sentinel errors
// when the status has one.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// Session describes the signed-in account.
type Session struct {
	Email     string
	Roles     []string
	ExpiresAt time.Time
}

// Client calls one admin server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a client for baseURL with its own cookie jar.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base: base,
		http: &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

type sessionPayload struct {
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"expires_at"`
}

func (p sessionPayload) session() Session {
	return Session{Email: p.Email, Roles: p.Roles, ExpiresAt: time.Unix(p.ExpiresAt, 0)}
}

// Login signs in and stores the session cookie.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out sessionPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/admin/login", nil, body, &out); err != nil {
		return Session{}, err
	}
	return out.session(), nil
}

// Logout revokes the session on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/admin/logout", nil, nil, nil)
}

// Session returns the current session.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var out sessionPayload
	if err := c.do(ctx, http.MethodGet, "/api/admin/session", nil, nil, &out); err != nil {
		return Session{}, err
	}
	return out.session(), nil
}

type envelope struct {
	Success bool               `json:"success"`
	Data    []store.Subscriber `json:"data"`
	Deleted int64              `json:"deleted"`
	Error   string             `json:"error"`
}

// Subscribers lists every subscriber.
func (c *Client) Subscribers(ctx context.Context) ([]store.Subscriber, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, "/api/subscribers", nil, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &APIError{StatusCode: http.StatusOK, Message: out.Error, kind: ErrUnavailable}
	}
	if out.Data == nil {
		out.Data = []store.Subscriber{}
	}
	return out.Data, nil
}

// DeleteSubscriber removes every subscriber with email. A missing subscriber
// is reported as ErrNotFound.
func (c *Client) DeleteSubscriber(ctx context.Context, email string) (int64, error) {
	var out envelope
	query := url.Values{"email": {email}}
	if err := c.do(ctx, http.MethodDelete, "/api/subscribers", query, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Locations lists every location document.
func (c *Client) Locations(ctx context.Context) ([]store.Location, error) {
	var out []store.Location
	if err := c.do(ctx, http.MethodGet, "/api/locations", nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Location{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := *c.base
	target.Path = c.base.Path + path
	target.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.kind = ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		apiErr.kind = ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		apiErr.kind = ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.kind = ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		apiErr.kind = ErrUnavailable
	}
	return apiErr
}
