// Command server runs the workspace subscription API and its scheduled jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/workspacekit/internal/api"
	"github.com/dmitrymomot/workspacekit/internal/auth"
	"github.com/dmitrymomot/workspacekit/internal/db"
	"github.com/dmitrymomot/workspacekit/pkg/config"
	"github.com/dmitrymomot/workspacekit/pkg/device"
	"github.com/dmitrymomot/workspacekit/pkg/downgrade"
	"github.com/dmitrymomot/workspacekit/pkg/events"
	"github.com/dmitrymomot/workspacekit/pkg/httpserver"
	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/metrics"
	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/pg"
	"github.com/dmitrymomot/workspacekit/pkg/redis"
	"github.com/dmitrymomot/workspacekit/pkg/scheduler"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
	"github.com/dmitrymomot/workspacekit/pkg/usage"
)

type appConfig struct {
	Env             string `env:"APP_ENV" envDefault:"development"`
	Name            string `env:"APP_NAME" envDefault:"workspacekit"`
	AuthTokenSecret string `env:"AUTH_TOKEN_SECRET,required"`
	AuthIssuer      string `env:"AUTH_TOKEN_ISSUER" envDefault:"identity"`
	MetricsNS       string `env:"METRICS_NAMESPACE" envDefault:"workspacekit"`
}

func main() {
	var app appConfig
	config.MustLoad(&app)

	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithContextExtractors(tenant.LoggerExtractor(), tenant.DeviceLoggerExtractor()),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, log); err != nil {
		log.Error("server stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, app appConfig, log *slog.Logger) error {
	var (
		pgCfg     pg.Config
		redisCfg  redis.Config
		httpCfg   httpserver.Config
		natsCfg   events.Config
		tenantCfg tenant.Config
		subCfg    subscription.Config
		usageCfg  usage.Config
		deviceCfg device.Config
		payCfg    payment.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&redisCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&natsCfg) },
		func() error { return config.Load(&tenantCfg) },
		func() error { return config.Load(&subCfg) },
		func() error { return config.Load(&usageCfg) },
		func() error { return config.Load(&deviceCfg) },
		func() error { return config.Load(&payCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, app.MetricsNS)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, db.Migrations, db.Dir, pgCfg, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	checks := []httpserver.Check{
		{Name: "postgres", Fn: pg.Healthcheck(pool)},
		{Name: "redis", Fn: redis.Healthcheck(rdb)},
	}

	var publisher subscription.Publisher
	if natsCfg.URL != "" {
		nc, err := events.Connect(natsCfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = events.NewPublisher(nc, natsCfg.SubjectPrefix)
		checks = append(checks, httpserver.Check{Name: "nats", Fn: events.Healthcheck(nc)})
	}

	catalog := subscription.DefaultCatalog()
	if subCfg.PlansFile != "" {
		if catalog, err = subscription.LoadCatalogFile(subCfg.PlansFile); err != nil {
			return err
		}
	}

	// Devices are revoked when a subscription ends; the registry needs the
	// service for limits, so it is bound after both exist.
	var devices *device.Registry
	revoke := subscription.PublisherFunc(func(ctx context.Context, e subscription.Event) error {
		return devices.RevokeOnCancellation().PublishSubscriptionEvent(ctx, e)
	})

	subs := subscription.NewService(subscription.NewPGStore(pool), catalog,
		subscription.WithConfig(subCfg),
		subscription.WithPublisher(subscription.Publishers(publisher, revoke)),
		subscription.WithMetrics(m),
		subscription.WithLogger(log),
	)
	devices, err = device.NewRegistry(device.NewPGStore(pool), subs, deviceCfg, device.WithLogger(log))
	if err != nil {
		return err
	}
	tracker := usage.NewTracker(usage.NewRedisStore(rdb, usageCfg.KeyPrefix), subs,
		usage.WithConfig(usageCfg),
		usage.WithActiveCounter(subscription.ResourceDevices, devices),
		usage.WithMetrics(m),
		usage.WithLogger(log),
	)

	payments := payment.NewOrchestrator(subs, payment.WithMetrics(m), payment.WithLogger(log))
	if err := registerProviders(ctx, payments, payCfg, log); err != nil {
		return err
	}

	authn, err := auth.New(app.AuthTokenSecret, app.AuthIssuer, nil)
	if err != nil {
		return err
	}

	router := api.New(api.Deps{
		Subscriptions: subs,
		Usage:         tracker,
		Devices:       devices,
		Payments:      payments,
		Authenticate:  authn.Middleware(nil, api.ErrorWriter(log)),
		Tenant:        tenantCfg,
		Liveness:      httpserver.Liveness(),
		Readiness:     httpserver.Readiness(log, 5*time.Second, checks...),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		HTTPMetrics:   m,
		Logger:        log,
	}).Router()

	jobs := scheduler.New(scheduler.WithLogger(log), scheduler.WithMetrics(m))
	engine := downgrade.NewEngine(subs, log)
	for _, j := range []struct {
		name     string
		schedule scheduler.Schedule
		fn       scheduler.Func
	}{
		{"usage.reset_monthly", scheduler.MonthlyOn(1, 0, 5), tracker.ResetMonthlyCounters},
		// The reset is guarded per workspace and period, so a missed boundary
		// is caught within the hour.
		{"usage.reset_monthly_catchup", scheduler.HourlyAt(35), tracker.ResetMonthlyCounters},
		{"usage.delete_old_periods", scheduler.MonthlyOn(2, 1, 0), tracker.DeleteOldPeriods},
		{"subscription.process_downgrades", scheduler.HourlyAt(0), engine.ProcessSubscriptionDowngrades},
		{"subscription.expire_trials", scheduler.HourlyAt(15), engine.ExpireTrials},
		{"device.sweep_inactive", scheduler.DailyAt(3, 0), devices.SweepInactive},
	} {
		if err := jobs.Register(j.name, j.schedule, j.fn); err != nil {
			return err
		}
	}

	srv := httpserver.New(httpCfg, router, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return jobs.Start(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// registerProviders enables every payment provider whose credentials are set.
func registerProviders(ctx context.Context, o *payment.Orchestrator, cfg payment.Config, log *slog.Logger) error {
	build := []struct {
		name string
		open func() (payment.Provider, error)
	}{
		{payment.ProviderStripe, func() (payment.Provider, error) { return payment.NewStripeProvider(cfg.Stripe) }},
		{payment.ProviderRazorpay, func() (payment.Provider, error) { return payment.NewRazorpayProvider(cfg.Razorpay) }},
		{payment.ProviderApple, func() (payment.Provider, error) { return payment.NewAppleProvider(cfg.Apple) }},
		{payment.ProviderGoogle, func() (payment.Provider, error) { return payment.NewGoogleProvider(ctx, cfg.Google) }},
		{payment.ProviderPaddle, func() (payment.Provider, error) { return payment.NewPaddleProvider(cfg.Paddle) }},
	}
	for _, b := range build {
		p, err := b.open()
		if errors.Is(err, payment.ErrMissingCredentials) {
			log.InfoContext(ctx, "payment provider disabled", logger.Provider(b.name))
			continue
		}
		if err != nil {
			return err
		}
		if err := o.Register(p); err != nil {
			return err
		}
	}
	return nil
}
