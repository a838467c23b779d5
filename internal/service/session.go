// Package service contains the session application service: login, signup, logout and
// auto-login from a remembered device.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/marketapi"
	"github.com/and161185/agromarket/internal/model"
	"github.com/and161185/agromarket/internal/session/envelope"
	"github.com/and161185/agromarket/internal/session/remember"
	"github.com/and161185/agromarket/internal/session/validator"
	"github.com/and161185/agromarket/internal/storage"
)

// DefaultLiveTTL is the lifetime of a live session written at login.
const DefaultLiveTTL = 12 * time.Hour

// API is the subset of the marketplace API the service needs.
type API interface {
	Login(ctx context.Context, req marketapi.LoginRequest) (marketapi.AuthResponse, error)
	Signup(ctx context.Context, req marketapi.SignupRequest) (marketapi.AuthResponse, error)
	ValidateToken(ctx context.Context, id model.Identity) error
}

// SessionService defines session lifecycle operations.
type SessionService interface {
	// Login authenticates and starts a live session; rememberMe also stores the device record.
	Login(ctx context.Context, email, password string, role model.Role, rememberMe bool) (model.Identity, error)
	// Signup creates an account and starts a live session.
	Signup(ctx context.Context, req marketapi.SignupRequest, rememberMe bool) (model.Identity, error)
	// Logout forgets the device and evicts all client storage.
	Logout(ctx context.Context) error
	// AutoLogin restores a live session from the remembered record.
	AutoLogin(ctx context.Context) (model.Identity, error)
	// Current returns the valid live session of role, or of either role for model.RoleAny.
	Current(ctx context.Context, role model.Role) (*model.LiveSession, error)
	// RememberDevice stores the live session of role as the remembered record.
	RememberDevice(ctx context.Context, role model.Role) error
}

// SessionServiceImpl implements SessionService over client storage.
type SessionServiceImpl struct {
	api      API
	live     storage.Storage
	long     storage.Storage
	env      *envelope.Codec
	remember *remember.Store
	val      *validator.Validator
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// Option configures SessionServiceImpl.
type Option func(*SessionServiceImpl)

// WithLiveTTL overrides DefaultLiveTTL.
func WithLiveTTL(d time.Duration) Option {
	return func(s *SessionServiceImpl) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SessionServiceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SessionServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSessionService constructs SessionServiceImpl. live and long are the short-lived and
// long-lived storage scopes; rem and val must use them.
func NewSessionService(
	api API,
	live, long storage.Storage,
	env *envelope.Codec,
	rem *remember.Store,
	val *validator.Validator,
	opts ...Option,
) *SessionServiceImpl {
	s := &SessionServiceImpl{
		api:      api,
		live:     live,
		long:     long,
		env:      env,
		remember: rem,
		val:      val,
		ttl:      DefaultLiveTTL,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login authenticates against the API and starts a live session.
func (s *SessionServiceImpl) Login(ctx context.Context, email, password string, role model.Role, rememberMe bool) (model.Identity, error) {
	if email == "" || password == "" {
		return model.Identity{}, errors.New("validation: email/password")
	}
	if !role.Valid() {
		return model.Identity{}, fmt.Errorf("validation: role %q", role)
	}
	resp, err := s.api.Login(ctx, marketapi.LoginRequest{Email: email, Password: password, UserType: role})
	if err != nil {
		return model.Identity{}, err
	}
	return s.begin(ctx, resp.Identity(), role, rememberMe)
}

// Signup creates an account and starts a live session.
func (s *SessionServiceImpl) Signup(ctx context.Context, req marketapi.SignupRequest, rememberMe bool) (model.Identity, error) {
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return model.Identity{}, errors.New("validation: name/email/password")
	}
	if !req.UserType.Valid() {
		return model.Identity{}, fmt.Errorf("validation: role %q", req.UserType)
	}
	resp, err := s.api.Signup(ctx, req)
	if err != nil {
		return model.Identity{}, err
	}
	return s.begin(ctx, resp.Identity(), req.UserType, rememberMe)
}

func (s *SessionServiceImpl) begin(ctx context.Context, id model.Identity, role model.Role, rememberMe bool) (model.Identity, error) {
	if id.Role != role {
		return model.Identity{}, fmt.Errorf("%w: account is %s, not %s", errs.ErrRoleMismatch, id.Role, role)
	}
	if err := s.startLive(ctx, id); err != nil {
		return model.Identity{}, err
	}
	if rememberMe {
		s.remember.Store(ctx, id)
	}
	s.log.Info("session started", zap.String("role", role.String()), zap.Bool("remember", rememberMe))
	return id, nil
}

// startLive writes the live session of id.Role. The expiry is now+ttl, capped by the
// token's own exp claim when the token is a JWT.
func (s *SessionServiceImpl) startLive(ctx context.Context, id model.Identity) error {
	key := id.Role.SessionKey()
	if key == "" {
		return fmt.Errorf("%w: identity has no role", errs.ErrCorrupt)
	}
	now := s.now()
	expiry := now.Add(s.ttl)
	if exp, ok := tokenExpiry(id.Token); ok {
		if !exp.After(now) {
			return fmt.Errorf("%w: token expired at %s", errs.ErrExpired, exp.UTC().Format(time.RFC3339))
		}
		if exp.Before(expiry) {
			expiry = exp
		}
	}
	data, err := s.env.Marshal(model.NewLiveSession(id, expiry))
	if err != nil {
		return err
	}
	return s.live.Set(ctx, key, string(data))
}

// tokenExpiry reads the exp claim without verifying the signature; the API owns the key.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Logout forgets the device and evicts all client storage.
func (s *SessionServiceImpl) Logout(ctx context.Context) error {
	s.remember.Clear(ctx)
	if err := storage.ClearAll(ctx, s.live, s.long); err != nil {
		return err
	}
	s.log.Info("logged out")
	return nil
}

// AutoLogin validates the remembered token with the API and, when accepted, starts a live
// session and restarts the remember window. A rejected token forgets the device.
func (s *SessionServiceImpl) AutoLogin(ctx context.Context) (model.Identity, error) {
	rs := s.remember.Retrieve(ctx)
	if rs == nil {
		return model.Identity{}, errs.ErrNotFound
	}
	id := rs.Identity()
	if err := s.api.ValidateToken(ctx, id); err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			s.log.Info("remembered token rejected, forgetting device", zap.String("role", id.Role.String()))
			s.remember.Clear(ctx)
		}
		return model.Identity{}, err
	}
	if err := s.startLive(ctx, id); err != nil {
		return model.Identity{}, err
	}
	s.remember.Touch(ctx)
	s.log.Info("auto-login", zap.String("role", id.Role.String()))
	return id, nil
}

// Current returns the valid live session without side effects.
func (s *SessionServiceImpl) Current(ctx context.Context, role model.Role) (*model.LiveSession, error) {
	if role != model.RoleAny {
		return s.val.Session(ctx, role)
	}
	var all []error
	for _, r := range model.Roles {
		ls, err := s.val.Session(ctx, r)
		if err == nil {
			return ls, nil
		}
		all = append(all, err)
	}
	return nil, errors.Join(all...)
}

// RememberDevice stores the current live session as the remembered record.
func (s *SessionServiceImpl) RememberDevice(ctx context.Context, role model.Role) error {
	ls, err := s.Current(ctx, role)
	if err != nil {
		return err
	}
	s.remember.Store(ctx, ls.Identity())
	return nil
}
