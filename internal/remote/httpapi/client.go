// Package httpapi is a Remote backed by a REST service.
//
// Endpoints (all relative to the base URL, bearer-authenticated):
//
//	GET  /v1/me                          current user
//	PUT  /v1/records/{clientId}          upsert one record
//	GET  /v1/records?since=<RFC3339Nano> records stamped after since
//	GET  /v1/records?partition=<name>    records in the named partitions (repeatable)
//	POST /v1/logout                      end the session
//
// The session is a JWT kept in a local flag. Its claims are read without
// verification to learn the user id and expiry; the server verifies it on
// every request.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindlog/mindlog/internal/remote"
)

// FlagSession is the local flag holding the session token.
const FlagSession = "session_token"

// SessionStore persists the session token. *legacy.Store satisfies it.
type SessionStore interface {
	ReadFlag(name string) (string, bool)
	WriteFlag(name, value string) error
	RemoveFlag(name string) error
}

// Claims are the token fields the client reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Client is a remote.Remote over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    SessionStore
	logger     *log.Logger
	clock      func() time.Time
}

var _ remote.Remote = (*Client)(nil)

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client // defaults to a client with remote.DefaultTimeout
	Logger     *log.Logger
	Clock      func() time.Time // token expiry checks; defaults to time.Now
}

// New creates a Client for baseURL that keeps its session in session.
func New(baseURL string, session SessionStore, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: remote.DefaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		session:    session,
		logger:     opts.Logger,
		clock:      opts.Clock,
	}
}

// SignIn stores token as the session after checking that it parses, names a
// subject and has not expired.
func (c *Client) SignIn(token string) (remote.User, error) {
	user, err := c.userFromToken(token)
	if err != nil {
		return remote.User{}, err
	}
	if err := c.session.WriteFlag(FlagSession, token); err != nil {
		return remote.User{}, fmt.Errorf("failed to store session: %w", err)
	}
	return user, nil
}

// CurrentUser implements remote.Remote. It reads the stored token only.
func (c *Client) CurrentUser(ctx context.Context) (remote.User, error) {
	token, ok := c.session.ReadFlag(FlagSession)
	if !ok || token == "" {
		return remote.User{}, remote.ErrNoSession
	}
	return c.userFromToken(token)
}

// Verify asks the server who the session belongs to.
func (c *Client) Verify(ctx context.Context) (remote.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/me", nil)
	if err != nil {
		return remote.User{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return remote.User{}, err
	}
	var user remote.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return remote.User{}, fmt.Errorf("%w: invalid user response: %v", remote.ErrUnavailable, err)
	}
	return user, nil
}

// Upsert implements remote.Remote.
func (c *Client) Upsert(ctx context.Context, rec remote.Record) error {
	if rec.ClientID == "" {
		return errors.New("client id is required")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, "/v1/records/"+url.PathEscape(rec.ClientID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// QueryUpdatedSince implements remote.Remote. The server scopes results to
// the token's owner; owner is sent for symmetry with other backends.
func (c *Client) QueryUpdatedSince(ctx context.Context, owner string, since time.Time) ([]remote.Record, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	return c.query(ctx, q)
}

// QueryByPartitions implements remote.Remote.
func (c *Client) QueryByPartitions(ctx context.Context, owner string, partitions []string) ([]remote.Record, error) {
	q := url.Values{}
	q.Set("owner", owner)
	for _, p := range partitions {
		q.Add("partition", p)
	}
	return c.query(ctx, q)
}

// SignOut implements remote.Remote. The local session is dropped even when
// the server cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	if _, ok := c.session.ReadFlag(FlagSession); !ok {
		return nil
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/logout", nil)
	if err != nil {
		c.logger.Printf("WARNING: server logout failed: %v", err)
	} else {
		resp.Body.Close()
	}
	return c.session.RemoveFlag(FlagSession)
}

type recordsResponse struct {
	Records []remote.Record `json:"records"`
}

func (c *Client) query(ctx context.Context, q url.Values) ([]remote.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/records?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid records response: %v", remote.ErrUnavailable, err)
	}
	if out.Records == nil {
		out.Records = []remote.Record{}
	}
	return out.Records, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, ok := c.session.ReadFlag(FlagSession)
	if !ok || token == "" {
		return nil, remote.ErrNoSession
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) userFromToken(token string) (remote.User, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return remote.User{}, fmt.Errorf("%w: malformed token: %v", remote.ErrNoSession, err)
	}
	if claims.Subject == "" {
		return remote.User{}, fmt.Errorf("%w: token has no subject", remote.ErrNoSession)
	}
	if claims.ExpiresAt != nil && !c.clock().Before(claims.ExpiresAt.Time) {
		return remote.User{}, fmt.Errorf("%w: token expired", remote.ErrNoSession)
	}
	return remote.User{ID: claims.Subject, Email: claims.Email}, nil
}

func checkStatus(resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: server rejected session (%d)", remote.ErrNoSession, resp.StatusCode)
	}
	return fmt.Errorf("%w: unexpected status code: %d", remote.ErrUnavailable, resp.StatusCode)
}
