package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"folio/internal/llm"
	"folio/internal/llm/eino"
	"folio/internal/llm/failover"
	"folio/internal/llm/gated"
	"folio/internal/llm/openai"
	memhandler "folio/internal/memory/handler"
	memmetrics "folio/internal/memory/metrics"
	memservice "folio/internal/memory/service"
	sessionstore "folio/internal/memory/store/session"
	"folio/internal/memory/workers/cleanup"
	"folio/internal/platform/config"
	"folio/internal/platform/health"
	"folio/internal/platform/tracer"
	rlhandler "folio/internal/ratelimit/handler"
	rlmetrics "folio/internal/ratelimit/metrics"
	rlservice "folio/internal/ratelimit/service"
	"folio/internal/ratelimit/store/usage"
	"folio/internal/tokens"
	"folio/pkg/platform/circuit"
	"folio/pkg/platform/middleware/admin"
	request "folio/pkg/platform/middleware/request"
	"folio/pkg/platform/middleware/throttle"
)

const requestTimeout = 30 * time.Second

// newCounter builds the token counter. Tests swap it to avoid fetching the
// BPE ranks.
var newCounter = tokens.Default

// application is everything serve owns. The rate limit manager and the
// session store are created once here and injected where they are used.
type application struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	limiter   *rlservice.Manager
	completer llm.Completer
	memory    *memservice.Service
	sweeper   *cleanup.Sweeper
	health    *health.Handler
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app := &application{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		health:   health.New(cfg.Server.Environment),
	}

	rlConfig, err := cfg.RateLimit.ToDomain()
	if err != nil {
		return nil, err
	}
	app.limiter, err = rlservice.New(usage.NewInMemoryStore(),
		rlservice.WithConfig(rlConfig),
		rlservice.WithMetrics(rlmetrics.New(registry)),
		rlservice.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limit manager: %w", err)
	}

	counter := newCounter(logger)
	otelTracer := tracer.NewOTel()

	if err := app.buildCompleter(ctx, counter, otelTracer); err != nil {
		return nil, err
	}

	memMetrics := memmetrics.New(registry)
	memConfig := cfg.Memory.ToDomain()
	store := sessionstore.New()
	app.memory, err = memservice.New(store, app.completer,
		memservice.WithConfig(memConfig),
		memservice.WithLogger(logger),
		memservice.WithCounter(counter),
		memservice.WithMetrics(memMetrics),
		memservice.WithTracer(otelTracer),
	)
	if err != nil {
		return nil, fmt.Errorf("memory service: %w", err)
	}
	app.sweeper = cleanup.New(app.memory,
		cleanup.WithLogger(logger),
		cleanup.WithInterval(memConfig.CleanupInterval),
		cleanup.WithMetrics(memMetrics),
	)

	app.health.RegisterCheck("rate_limiter", func(ctx context.Context) error {
		_, err := app.limiter.StatusAll(ctx)
		return err
	})
	app.health.RegisterCheck("llm", func(context.Context) error {
		if !cfg.LLM.Primary.Enabled() {
			return errors.New("no provider configured")
		}
		return nil
	})
	return app, nil
}

// buildCompleter assembles primary and optional secondary providers behind
// the failover breaker, then gates the result with the rate limit manager.
// Without a configured provider every completion fails as unavailable, so
// summarization degrades instead of blocking startup.
func (a *application) buildCompleter(ctx context.Context, counter tokens.Counter, t tracer.Tracer) error {
	llmCfg := a.cfg.LLM
	if !llmCfg.Primary.Enabled() {
		a.logger.Warn("llm_provider_not_configured")
		a.completer = llm.Unconfigured()
		return nil
	}

	primary, err := newProvider(ctx, "primary", llmCfg.Primary)
	if err != nil {
		return err
	}
	inner := primary
	if llmCfg.Secondary.Enabled() {
		secondary, err := newProvider(ctx, "secondary", llmCfg.Secondary)
		if err != nil {
			return err
		}
		breaker := circuit.New("llm-primary",
			circuit.WithFailureThreshold(llmCfg.FailureThreshold),
			circuit.WithSuccessThreshold(llmCfg.SuccessThreshold),
			circuit.WithProbeInterval(llmCfg.ProbeInterval),
		)
		inner, err = failover.New(primary, secondary,
			failover.WithLogger(a.logger),
			failover.WithBreaker(breaker),
		)
		if err != nil {
			return fmt.Errorf("llm failover: %w", err)
		}
	}

	a.completer, err = gated.New(inner, a.limiter, counter,
		gated.WithLogger(a.logger),
		gated.WithTracer(t),
		gated.WithMaxWait(llmCfg.MaxWait),
	)
	if err != nil {
		return fmt.Errorf("llm gate: %w", err)
	}
	a.logger.Info("llm_provider_configured",
		"primary", llmCfg.Primary.Provider,
		"secondary", llmCfg.Secondary.Provider,
	)
	return nil
}

func newProvider(ctx context.Context, name string, p config.ProviderConfig) (llm.Completer, error) {
	switch p.Provider {
	case config.ProviderOpenAI:
		return openai.New(p.BaseURL, p.APIKey,
			openai.WithName(name),
			openai.WithHTTPClient(&http.Client{Timeout: p.Timeout}),
		), nil
	case config.ProviderArk:
		c, err := eino.NewArk(ctx, eino.ArkConfig{BaseURL: p.BaseURL, APIKey: p.APIKey, Model: p.Model})
		if err != nil {
			return nil, fmt.Errorf("llm %s (ark): %w", name, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("llm %s: unknown provider %q", name, p.Provider)
}

// routes wires probes, metrics and the throttled, token-guarded admin API.
func (a *application) routes() http.Handler {
	httpMetrics := request.NewMetrics(a.registry)

	r := chi.NewRouter()
	r.Use(request.Recovery(a.logger))
	r.Use(request.RequestID)
	r.Use(request.Observe(a.logger, httpMetrics, routePattern))
	r.Use(request.Timeout(requestTimeout))
	r.Use(request.ContentTypeJSON)

	a.health.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	r.Group(func(r chi.Router) {
		r.Use(throttle.Limit(a.cfg.Admin.RequestsPerSecond, a.cfg.Admin.Burst))
		r.Use(admin.RequireToken(a.cfg.Admin.Token, a.logger))
		rlhandler.New(a.limiter, a.logger).RegisterAdmin(r)
		memhandler.New(a.memory, a.logger).RegisterAdmin(r)
	})
	return r
}

// routePattern labels latency by the matched chi pattern, not the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// run serves HTTP and sweeps idle sessions until ctx is cancelled, then
// shuts the server down within the configured timeout.
func (a *application) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting http server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
