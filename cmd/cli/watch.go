package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/agromarket/internal/app"
	"github.com/and161185/agromarket/internal/model"
)

const shutdownTimeout = 5 * time.Second

func newWatchCommand(opts *options) *cobra.Command {
	var (
		roleFlag    string
		metricsAddr string
		noMetrics   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Validate the live session now and periodically until it expires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := parseRoleFlag(roleFlag, true)
			if err != nil {
				return err
			}
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			addr := a.Config.MetricsAddr
			if metricsAddr != "" {
				addr = metricsAddr
			}
			if noMetrics {
				addr = ""
			}
			return watch(cmd.Context(), a, role, addr)
		},
	}
	cmd.Flags().StringVarP(&roleFlag, "role", "r", "", "buyer, farmer or empty for either")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics and /healthz (AGM_METRICS_ADDR)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve /metrics")
	return cmd
}

// watch runs the validator until the session turns invalid or ctx is canceled. When addr
// is set it also serves metrics and a health endpoint reflecting the session state.
func watch(ctx context.Context, a *app.App, role model.Role, addr string) error {
	var ln net.Listener
	if addr != "" {
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("watching session", zap.String("role", role.String()), zap.Duration("interval", a.Validator.Interval()))
		err := a.Validator.Run(ctx, role)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if ln != nil {
		srv := &http.Server{
			Handler:           newRouter(a, role),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.Log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return g.Wait()
}

func newRouter(a *app.App, role model.Role) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.Validator.Inspect(req.Context(), role); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = printJSON(w, map[string]string{"status": "invalid", "reason": err.Error()})
			return
		}
		_ = printJSON(w, map[string]string{"status": "valid"})
	})
	return r
}
