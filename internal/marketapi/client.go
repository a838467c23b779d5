// Package marketapi is a client for the marketplace REST API: login, signup and token
// validation. All requests are JSON; authenticated calls send the session token as a
// bearer token.
package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/metrics"
	"github.com/and161185/agromarket/internal/model"
)

const (
	pathLogin         = "/auth/login"
	pathSignup        = "/auth/signup"
	pathValidateToken = "/auth/validate-token"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 4 << 10
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("marketapi: status %d", e.Code)
	}
	return fmt.Sprintf("marketapi: status %d: %s", e.Code, e.Message)
}

// Unwrap maps 401/403 to errs.ErrUnauthorized and 5xx to errs.ErrUnavailable.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return errs.ErrUnauthorized
	case e.Code >= 500:
		return errs.ErrUnavailable
	default:
		return nil
	}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	UserType model.Role `json:"userType"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Phone    string     `json:"phone,omitempty"`
	Password string     `json:"password"`
	UserType model.Role `json:"userType"`
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	UserID   string     `json:"userId"`
	Token    string     `json:"token"`
	Email    string     `json:"email,omitempty"`
	Phone    string     `json:"phone,omitempty"`
	UserType model.Role `json:"userType"`
}

// Identity converts the response into a session identity.
func (r AuthResponse) Identity() model.Identity {
	return model.Identity{UserID: r.UserID, Token: r.Token, Email: r.Email, Phone: r.Phone, Role: r.UserType}
}

type validateRequest struct {
	UserID   string     `json:"userId"`
	UserType model.Role `json:"userType"`
}

// Client talks to the marketplace API.
type Client struct {
	base    *url.URL
	rt      http.RoundTripper
	timeout time.Duration
	log     *zap.Logger
	rec     *metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.rt = rt
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// New constructs a Client for baseURL, e.g. "https://api.agromarket.example/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("marketapi: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("marketapi: base url %q must be http(s)", baseURL)
	}
	c := &Client{
		base:    u,
		rt:      http.DefaultTransport,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, c.httpClient(""), pathLogin, req, &out); err != nil {
		return AuthResponse{}, err
	}
	if out.UserType == "" {
		out.UserType = req.UserType
	}
	if err := validateAuth(out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}

// Signup creates an account and returns its session token.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, c.httpClient(""), pathSignup, req, &out); err != nil {
		return AuthResponse{}, err
	}
	if out.UserType == "" {
		out.UserType = req.UserType
	}
	if out.Phone == "" {
		out.Phone = req.Phone
	}
	if err := validateAuth(out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}

// ValidateToken asks the API whether id's token is still accepted. It returns nil when it
// answers 200 and an error wrapping errs.ErrUnauthorized for any other answer.
func (c *Client) ValidateToken(ctx context.Context, id model.Identity) error {
	if id.Token == "" {
		return fmt.Errorf("marketapi: %w: empty token", errs.ErrUnauthorized)
	}
	body := validateRequest{UserID: id.UserID, UserType: id.Role}
	code, err := c.send(ctx, c.httpClient(id.Token), pathValidateToken, body, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("marketapi: %w: validate-token answered %d", errs.ErrUnauthorized, code)
	}
	return nil
}

func (c *Client) httpClient(token string) *http.Client {
	var rt http.RoundTripper = &loggingTransport{base: c.rt, log: c.log, rec: c.rec}
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   rt,
		}
	}
	return &http.Client{Transport: rt, Timeout: c.timeout}
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func (c *Client) do(ctx context.Context, hc *http.Client, path string, in, out any) error {
	_, err := c.send(ctx, hc, path, in, out)
	return err
}

// send posts in as JSON and decodes a 2xx body into out. It returns the 2xx status code.
func (c *Client) send(ctx context.Context, hc *http.Client, path string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("marketapi: %w: %v", errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("marketapi: decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		se.Message = payload.Message
		if se.Message == "" {
			se.Message = payload.Error
		}
	}
	return se
}

var errIncompleteAuth = errors.New("marketapi: response lacks userId or token")

func validateAuth(r AuthResponse) error {
	if r.UserID == "" || r.Token == "" {
		return errIncompleteAuth
	}
	return nil
}
