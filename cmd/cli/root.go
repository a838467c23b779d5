package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/app"
	"github.com/and161185/agromarket/internal/config"
	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/logger"
	"github.com/and161185/agromarket/internal/model"
	"github.com/and161185/agromarket/internal/session/validator"
)

// exit codes
const (
	exitErr          = 1
	exitUnauthorized = 3
	exitNoSession    = 4
)

type options struct {
	envFile  string
	profile  string
	backend  string
	apiURL   string
	logLevel string
	dev      bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "agm",
		Short:         "Marketplace session client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default .env)")
	pf.StringVar(&opts.profile, "profile", "", "storage profile (AGM_PROFILE)")
	pf.StringVar(&opts.backend, "storage", "", "storage backend: file|memory|redis|postgres (AGM_STORAGE)")
	pf.StringVar(&opts.apiURL, "api-url", "", "marketplace API base URL (AGM_API_URL)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (AGM_LOG_LEVEL)")
	pf.BoolVar(&opts.dev, "dev", false, "human-readable logs")

	cmd.AddCommand(
		newVersionCommand(),
		newLoginCommand(opts),
		newSignupCommand(opts),
		newLogoutCommand(opts),
		newAutoLoginCommand(opts),
		newStatusCommand(opts),
		newWatchCommand(opts),
		newTouchCommand(opts),
		newRememberCommand(opts),
		newCodecCommand(opts),
	)
	return cmd
}

// loadConfig resolves configuration; flags override the environment.
func (o *options) loadConfig() (*config.Config, error) {
	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if o.profile != "" {
		cfg.SetProfile(o.profile)
	}
	if o.backend != "" {
		cfg.Backend = strings.ToLower(o.backend)
	}
	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.dev {
		cfg.LogDev = true
	}
	return cfg, nil
}

// open loads configuration and wires the application for one command invocation.
func (o *options) open(cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cmd.Context(), cfg, log, newNavigator(cmd.ErrOrStderr(), log))
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		_ = log.Sync()
	}, nil
}

// navigator reports the expired route on the terminal.
type navigator struct {
	w   io.Writer
	log *zap.Logger
}

func newNavigator(w io.Writer, log *zap.Logger) validator.Navigator {
	return &navigator{w: w, log: log}
}

func (n *navigator) Navigate(_ context.Context, route string) {
	n.log.Debug("navigate", zap.String("route", route))
	fmt.Fprintf(n.w, "session expired, please log in again (%s)\n", route)
}

func parseRoleFlag(s string, allowAny bool) (model.Role, error) {
	r, err := model.ParseRole(s)
	if err != nil {
		return "", err
	}
	if r == model.RoleAny && !allowAny {
		return "", errors.New("--role must be buyer or farmer")
	}
	return r, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return exitUnauthorized
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrExpired),
		errors.Is(err, errs.ErrCorrupt), errors.Is(err, errs.ErrTampered),
		errors.Is(err, errs.ErrRoleMismatch):
		return exitNoSession
	default:
		return exitErr
	}
}
