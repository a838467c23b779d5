// Package validator checks the live per-role session and evicts all client storage once it
// is no longer valid.
//
// A live session is valid when its userId and token are set and the current time is before
// its expiry. Validation runs once when a protected view mounts and then on a fixed
// interval until the view unmounts. An invalid session wipes every configured storage and
// navigates to ExpiredRoute. Clear and Navigate are idempotent, so validators racing on the
// same storage need no coordination.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/metrics"
	"github.com/and161185/agromarket/internal/model"
	"github.com/and161185/agromarket/internal/session/envelope"
	"github.com/and161185/agromarket/internal/storage"
)

const (
	// ExpiredRoute is where the user lands after an invalid session is evicted.
	ExpiredRoute = "/session-expired"
	// DefaultInterval is the period between background checks.
	DefaultInterval = 5 * time.Minute
	// DefaultMaxLifetime bounds how far in the future an expiry may lie. Larger values
	// can only come from an edited record.
	DefaultMaxLifetime = 24 * time.Hour
)

// Navigator moves the user to another route.
type Navigator interface {
	Navigate(ctx context.Context, route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, route string) { f(ctx, route) }

// Validator checks live sessions stored in short-lived storage.
type Validator struct {
	live        storage.Storage
	wipe        []storage.Storage
	env         *envelope.Codec
	nav         Navigator
	interval    time.Duration
	maxLifetime time.Duration
	now         func() time.Time
	log         *zap.Logger
	rec         *metrics.Recorder
}

// Option configures a Validator.
type Option func(*Validator)

// WithWipe adds storages evicted together with the live one, typically long-lived storage.
func WithWipe(stores ...storage.Storage) Option {
	return func(v *Validator) { v.wipe = append(v.wipe, stores...) }
}

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.interval = d
		}
	}
}

// WithMaxLifetime overrides DefaultMaxLifetime. Zero disables the bound.
func WithMaxLifetime(d time.Duration) Option {
	return func(v *Validator) {
		if d >= 0 {
			v.maxLifetime = d
		}
	}
}

// WithClock replaces time.Now for expiry comparisons.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(v *Validator) { v.rec = r }
}

// New constructs a Validator reading live sessions from live.
func New(live storage.Storage, env *envelope.Codec, nav Navigator, opts ...Option) *Validator {
	v := &Validator{
		live:        live,
		env:         env,
		nav:         nav,
		interval:    DefaultInterval,
		maxLifetime: DefaultMaxLifetime,
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(v)
	}
	if v.nav == nil {
		v.nav = NavigatorFunc(func(context.Context, string) {})
	}
	return v
}

// Interval returns the background check period.
func (v *Validator) Interval() time.Duration { return v.interval }

// Inspect classifies the live session of role without side effects. A nil error means
// valid. With model.RoleAny either role's session suffices.
func (v *Validator) Inspect(ctx context.Context, role model.Role) error {
	if role != model.RoleAny {
		_, err := v.session(ctx, role)
		return err
	}
	var all []error
	for _, r := range model.Roles {
		_, err := v.session(ctx, r)
		if err == nil {
			return nil
		}
		all = append(all, err)
	}
	return errors.Join(all...)
}

// Session returns the valid live session of a concrete role.
func (v *Validator) Session(ctx context.Context, role model.Role) (*model.LiveSession, error) {
	return v.session(ctx, role)
}

func (v *Validator) session(ctx context.Context, role model.Role) (*model.LiveSession, error) {
	key := role.SessionKey()
	if key == "" {
		return nil, fmt.Errorf("%w: role %q has no session slot", errs.ErrNotFound, role)
	}
	raw, ok, err := v.live.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	var s model.LiveSession
	if err := v.env.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	if s.UserType != "" && s.UserType != role {
		return nil, fmt.Errorf("%w: %s slot holds a %s session", errs.ErrRoleMismatch, role, s.UserType)
	}
	now := v.now()
	if !s.Valid(now) {
		if s.UserID == "" || s.Token == "" {
			return nil, fmt.Errorf("%w: missing credentials", errs.ErrCorrupt)
		}
		return nil, errs.ErrExpired
	}
	if v.maxLifetime > 0 && s.ExpiresAt().Sub(now) > v.maxLifetime {
		return nil, fmt.Errorf("%w: expiry %s exceeds lifetime bound", errs.ErrTampered, s.ExpiresAt().UTC().Format(time.RFC3339))
	}
	return &s, nil
}

// Validate reports whether the live session of role is valid. An invalid session evicts all
// configured storage and navigates to ExpiredRoute.
func (v *Validator) Validate(ctx context.Context, role model.Role) bool {
	return v.check(ctx, role) == nil
}

func (v *Validator) check(ctx context.Context, role model.Role) error {
	err := v.Inspect(ctx, role)
	if err == nil {
		v.rec.Validation(role.String(), "valid")
		return nil
	}
	v.rec.Validation(role.String(), outcome(err))
	v.log.Info("session invalid, evicting client storage",
		zap.String("role", role.String()),
		zap.String("reason", outcome(err)),
		zap.Error(err),
	)
	stores := append([]storage.Storage{v.live}, v.wipe...)
	if cerr := storage.ClearAll(ctx, stores...); cerr != nil {
		v.log.Warn("storage eviction incomplete", zap.Error(cerr))
	}
	v.nav.Navigate(ctx, ExpiredRoute)
	return err
}

// Run validates immediately and then every interval until ctx is done or the session turns
// invalid. It returns the reason the session was rejected, or ctx.Err().
func (v *Validator) Run(ctx context.Context, role model.Role) error {
	if err := v.check(ctx, role); err != nil {
		return err
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := v.check(ctx, role); err != nil {
				return err
			}
		}
	}
}

// Mount starts Run in the background. The returned unmount stops it and waits for the
// goroutine to exit; calling it more than once is safe.
func (v *Validator) Mount(ctx context.Context, role model.Role) (unmount func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := v.Run(ctx, role); err != nil && !errors.Is(err, context.Canceled) {
			v.log.Debug("validator stopped", zap.String("role", role.String()), zap.Error(err))
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, errs.ErrTampered):
		return "tampered"
	case errors.Is(err, errs.ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, errs.ErrExpired):
		return "expired"
	case errors.Is(err, errs.ErrCorrupt):
		return "corrupt"
	case errors.Is(err, errs.ErrNotFound):
		return "missing"
	default:
		return "error"
	}
}
