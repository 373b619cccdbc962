package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"histclean/internal/api"
	"histclean/internal/config"
	"histclean/internal/metrics"
	"histclean/internal/middleware"
	"histclean/internal/service/cleanup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalOptions) *cobra.Command {
	f := &cleanFlags{}
	var (
		listen   string
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "serve [app.model ...]",
		Short: "Clean on a schedule and serve the HTTP API",
		Long: "Runs the cleanup job on a cron schedule and serves /healthz, /metrics and the\n" +
			"run API. Without model labels every discovered model is cleaned.\n" +
			"Use --schedule none to only serve on-demand runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := g.logger
			for _, w := range g.env.Warnings {
				logger.Warn(w)
			}

			if err := f.checkLabels(args); err != nil {
				return err
			}
			opts, err := f.options(g)
			if err != nil {
				return err
			}
			job := cleanup.Job{Labels: args, Auto: f.auto || len(args) == 0, Options: opts}

			a, err := g.open(ctx, appOptions{target: true, archiveURI: g.archiveURI(f.archive)})
			if err != nil {
				return err
			}
			defer a.Close()

			// fail fast on labels that cannot be resolved
			if _, err := job.Models(ctx, a.registry); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			a.service.SetMetrics(metrics.InitPrometheusMetrics("histclean", reg))

			validator, err := newTokenValidator(ctx, g.env)
			if err != nil {
				return err
			}

			handler := api.NewHandler(ctx, a.service, a.registry, a.runs, job, a.target.DB.PingContext, logger)
			router := api.NewRouter(ctx, handler, api.RouterConfig{
				Validator: validator,
				RateLimit: middleware.RateLimitConfig{
					RequestsPerSecond: g.env.RateLimitRPS,
					Burst:             g.env.RateLimitBurst,
				},
				AllowedOrigins: g.env.CORSAllowedOrigins,
				Gatherer:       reg,
			}, logger)

			var sched *cleanup.Scheduler
			spec := firstNonEmpty(schedule, os.Getenv("HISTCLEAN_SCHEDULE"), g.file.Schedule, g.env.Schedule)
			if !strings.EqualFold(spec, "none") {
				sched = cleanup.NewScheduler(a.service, a.registry, job, logger)
				if err := sched.Schedule(spec); err != nil {
					return err
				}
			}

			ln, err := net.Listen("tcp", firstNonEmpty(listen, g.env.ListenAddr))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			srv := &http.Server{
				Handler:           router,
				ReadHeaderTimeout: 20 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()
			logger.Info("HTTP server listening", "addr", ln.Addr().String(), "auth", validator != nil)

			if sched != nil {
				sched.Start(ctx)
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case serr := <-serveErr:
				if serr != nil {
					err = fmt.Errorf("http server: %w", serr)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("error shutting down server", "error", serr)
			}
			if sched != nil {
				sched.Stop()
			}
			handler.Wait()
			return err
		},
	}

	f.bind(cmd.Flags())
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from HISTCLEAN_LISTEN_ADDR or :8080)")
	cmd.Flags().StringVar(&schedule, "schedule", "", `Cron schedule, e.g. "@hourly" or "*/15 * * * *" (default @daily)`)
	return cmd
}

// newTokenValidator builds the bearer validator of the HTTP API from the
// HS256 secret and the OIDC settings. It returns nil when neither is set.
func newTokenValidator(ctx context.Context, cfg *config.Config) (middleware.TokenValidator, error) {
	var validators middleware.AnyValidator
	if cfg.JWTSecret != "" {
		v, err := middleware.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}
	switch {
	case cfg.OIDCJWKSURL != "":
		v, err := middleware.NewOIDCValidatorFromJWKS(ctx, cfg.OIDCJWKSURL, cfg.OIDCIssuerURL, cfg.OIDCAudience, cfg.OIDCAllowedIssuers)
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	case cfg.OIDCIssuerURL != "":
		v, err := middleware.NewOIDCValidator(ctx, cfg.OIDCIssuerURL, cfg.OIDCAudience, cfg.OIDCAllowedIssuers)
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}

	switch len(validators) {
	case 0:
		return nil, nil
	case 1:
		return validators[0], nil
	default:
		return validators, nil
	}
}
