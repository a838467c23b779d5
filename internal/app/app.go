// Package app wires configuration, storage backends and session components together.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/config"
	"github.com/and161185/agromarket/internal/crypto/obfuscate"
	"github.com/and161185/agromarket/internal/marketapi"
	"github.com/and161185/agromarket/internal/metrics"
	"github.com/and161185/agromarket/internal/migrate"
	"github.com/and161185/agromarket/internal/service"
	"github.com/and161185/agromarket/internal/session/envelope"
	"github.com/and161185/agromarket/internal/session/remember"
	"github.com/and161185/agromarket/internal/session/validator"
	"github.com/and161185/agromarket/internal/storage"
	"github.com/and161185/agromarket/internal/storage/filestore"
	"github.com/and161185/agromarket/internal/storage/postgres"
	"github.com/and161185/agromarket/internal/storage/redisstore"
)

// App holds the wired components of one storage profile.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	Obfuscator *obfuscate.Codec
	Envelope   *envelope.Codec

	// Live is short-lived storage (per-role sessions); Long is long-lived (remember-me).
	Live storage.Storage
	Long storage.Storage

	Remember  *remember.Store
	Validator *validator.Validator
	API       *marketapi.Client
	Sessions  *service.SessionServiceImpl

	closers []func()
}

// New builds an App. nav receives the expired-route navigation of the validator.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, nav validator.Navigator) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("profile", cfg.Profile))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	a := &App{Config: cfg, Log: log, Registry: reg, Metrics: rec}

	obf, err := obfuscate.New(cfg.ObfuscationKey,
		obfuscate.WithLogger(log.Named("codec")),
		obfuscate.WithRecorder(rec),
	)
	if err != nil {
		return nil, err
	}
	a.Obfuscator = obf
	a.Envelope = envelope.New(obf)

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Remember = remember.New(a.Long, a.Envelope,
		remember.WithWindow(cfg.RememberWindow),
		remember.WithLogger(log.Named("remember")),
		remember.WithRecorder(rec),
	)
	a.Validator = validator.New(a.Live, a.Envelope, nav,
		validator.WithWipe(a.Long),
		validator.WithInterval(cfg.ValidationInterval),
		validator.WithMaxLifetime(cfg.MaxLiveSessionTTL),
		validator.WithLogger(log.Named("validator")),
		validator.WithRecorder(rec),
	)

	api, err := marketapi.New(cfg.APIURL,
		marketapi.WithTimeout(cfg.APITimeout),
		marketapi.WithLogger(log.Named("api")),
		marketapi.WithRecorder(rec),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.API = api
	a.Sessions = service.NewSessionService(api, a.Live, a.Long, a.Envelope, a.Remember, a.Validator,
		service.WithLiveTTL(cfg.LiveSessionTTL),
		service.WithLogger(log.Named("session")),
	)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Backend {
	case config.BackendMemory:
		a.Live, a.Long = storage.NewMemory(), storage.NewMemory()

	case config.BackendFile:
		a.Live = filestore.New(cfg.SessionPath(), filestore.WithLogger(a.Log))
		a.Long = filestore.New(cfg.RememberPath(),
			filestore.WithPassphrase(cfg.Passphrase),
			filestore.WithLogger(a.Log),
		)

	case config.BackendRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		prefix := "agm:" + cfg.Profile
		a.Live = redisstore.New(client, prefix+":short:", cfg.LiveSessionTTL)
		a.Long = redisstore.New(client, prefix+":long:", 0)

	case config.BackendPostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN, a.Log); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.Live = postgres.NewStore(db, cfg.Profile+":short")
		a.Long = postgres.NewStore(db, cfg.Profile+":long")

	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	a.Log.Debug("storage opened", zap.String("backend", cfg.Backend))
	return nil
}

// Close releases backend connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
