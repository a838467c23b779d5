// Package remember keeps the single "remember this device" record in long-lived storage.
//
// The record expires lazily: Retrieve clears it once more than the window has passed since
// it was stored or last touched. Write failures are logged and swallowed; a lost remember-me
// record only costs the user a fresh login.
package remember

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/metrics"
	"github.com/and161185/agromarket/internal/model"
	"github.com/and161185/agromarket/internal/session/envelope"
	"github.com/and161185/agromarket/internal/storage"
)

// DefaultWindow is the absolute lifetime of a remembered session.
const DefaultWindow = 8 * time.Hour

// Store manages the rememberedSession key.
type Store struct {
	st     storage.Storage
	env    *envelope.Codec
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
	rec    *metrics.Recorder
}

// Option configures a Store.
type Option func(*Store)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Store) { s.rec = r }
}

// New constructs a Store over long-lived storage.
func New(st storage.Storage, env *envelope.Codec, opts ...Option) *Store {
	s := &Store{
		st:     st,
		env:    env,
		window: DefaultWindow,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Window returns the configured lifetime.
func (s *Store) Window() time.Duration { return s.window }

// Store remembers id, stamped with the current time.
func (s *Store) Store(ctx context.Context, id model.Identity) {
	s.write(ctx, "store", id)
}

func (s *Store) write(ctx context.Context, op string, id model.Identity) {
	rec := model.RememberedSession{
		UserID:    id.UserID,
		Email:     id.Email,
		UserType:  id.Role,
		Token:     id.Token,
		Timestamp: s.now().UnixMilli(),
	}
	data, err := s.env.Marshal(rec)
	if err != nil {
		s.log.Warn("remember: encode failed", zap.Error(err))
		s.rec.Remember(op, "error")
		return
	}
	if err := s.st.Set(ctx, model.RememberMeKey, string(data)); err != nil {
		s.log.Warn("remember: write failed", zap.String("op", op), zap.Error(err))
		s.rec.Remember(op, "error")
		return
	}
	s.log.Debug("remember: stored", zap.String("role", id.Role.String()))
	s.rec.Remember(op, "ok")
}

// Retrieve returns the remembered session, or nil when there is none, it expired or it
// could not be read.
func (s *Store) Retrieve(ctx context.Context) *model.RememberedSession {
	rs, err := s.load(ctx)
	switch {
	case err == nil:
		s.rec.Remember("retrieve", "hit")
		return rs
	case errors.Is(err, errs.ErrNotFound):
		s.rec.Remember("retrieve", "miss")
	case errors.Is(err, errs.ErrExpired):
		s.log.Info("remember: session expired", zap.Time("stored_at", rs.StoredAt()))
		s.rec.Remember("retrieve", "expired")
		s.Clear(ctx)
	case errors.Is(err, errs.ErrCorrupt):
		s.log.Warn("remember: discarding unreadable record", zap.Error(err))
		s.rec.Remember("retrieve", "corrupt")
		s.Clear(ctx)
	default:
		s.log.Warn("remember: read failed", zap.Error(err))
		s.rec.Remember("retrieve", "error")
	}
	return nil
}

// Peek reads the record like Retrieve but never removes it. Expired records come back
// with ErrExpired.
func (s *Store) Peek(ctx context.Context) (*model.RememberedSession, error) {
	return s.load(ctx)
}

// load reads and classifies the record. On ErrExpired the stale record is returned too.
func (s *Store) load(ctx context.Context) (*model.RememberedSession, error) {
	raw, ok, err := s.st.Get(ctx, model.RememberMeKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	var rs model.RememberedSession
	if err := s.env.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, err
	}
	if rs.UserID == "" || rs.Token == "" || !rs.UserType.Valid() {
		return nil, errs.ErrCorrupt
	}
	if s.now().Sub(rs.StoredAt()) > s.window {
		return &rs, errs.ErrExpired
	}
	return &rs, nil
}

// Clear forgets the remembered session. Safe to call when nothing is stored.
func (s *Store) Clear(ctx context.Context) {
	if err := s.st.Remove(ctx, model.RememberMeKey); err != nil {
		s.log.Warn("remember: clear failed", zap.Error(err))
		s.rec.Remember("clear", "error")
		return
	}
	s.rec.Remember("clear", "ok")
}

// Touch restarts the window of an existing record. It reports whether one was refreshed.
func (s *Store) Touch(ctx context.Context) bool {
	rs := s.Retrieve(ctx)
	if rs == nil {
		return false
	}
	s.write(ctx, "touch", rs.Identity())
	return true
}
