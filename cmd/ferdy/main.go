package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"ferdy/internal/assets"
	"ferdy/internal/calendar"
	"ferdy/internal/config"
	"ferdy/internal/copygen"
	appLog "ferdy/internal/log"
	"ferdy/internal/materialize"
	"ferdy/internal/resolver"
	"ferdy/internal/scheduler"
	"ferdy/internal/store"
	"ferdy/internal/tzproj"
	"ferdy/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	brand      string
	seed       string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if conf.LogJSON {
		appLog.SetOutput(os.Stderr, true)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("ferdy starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"default_timezone", conf.DefaultTimezone,
		"reporting_timezone", conf.ReportingTimezone,
		"window_days", conf.WindowDays,
		"run_timeout", conf.RunTimeoutDuration().String(),
		"materialize_cron", conf.MaterializeCron,
		"storage", conf.Storage.Driver,
		"copy_generation", conf.CopyGeneration.Driver,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("ferdy failed", err)
		os.Exit(1)
	}
	appLog.Info("ferdy exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := store.Open(ctx, store.Config{Driver: conf.Storage.Driver, DSN: conf.Storage.DSN})
	if err != nil {
		return err
	}
	defer st.Close()

	if flags.seed != "" {
		if err := loadSeed(ctx, st, flags.seed); err != nil {
			return err
		}
	}

	tz, err := tzproj.New(conf.DefaultTimezone, conf.ReportingTimezone)
	if err != nil {
		return err
	}
	targets := resolver.New(st, tz, conf.DefaultPostTime)

	gen, closeGen, err := newGenerator(conf.CopyGeneration)
	if err != nil {
		return err
	}
	defer closeGen()

	mat := materialize.New(st, targets, tz, assets.NewPicker(st), copygen.NewAssembler(st, gen), materialize.Options{
		WindowDays: conf.WindowDays,
		RunTimeout: conf.RunTimeoutDuration(),
	})
	sched := scheduler.New(scheduler.Config{Spec: conf.MaterializeCron, Timezone: conf.DefaultTimezone}, st, mat)

	if flags.once {
		return runOnce(ctx, mat, sched, flags.brand)
	}

	if conf.MaterializeCron != "" {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), conf.RunTimeoutDuration())
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	srv := web.NewServer(web.Options{
		Listen:       conf.Listen,
		BasicAuth:    conf.BasicAuth,
		Materializer: mat,
		Calendar:     calendar.NewProjector(st, targets, tz),
		Pinger:       st,
	})
	return srv.ListenAndServe(ctx)
}

func runOnce(ctx context.Context, mat *materialize.Materializer, sched *scheduler.Service, brandID string) error {
	if brandID == "" {
		sched.RunAll(ctx)
		return nil
	}
	res, err := mat.Materialize(ctx, brandID)
	if res.TargetsFound > 0 {
		appLog.Info("materialized",
			"brand_id", brandID,
			"targets", res.TargetsFound,
			"created", res.DraftsCreated,
			"skipped", res.DraftsSkipped,
			"failed", res.DraftsFailed,
			"interrupted", res.Interrupted,
		)
	}
	return err
}

// newGenerator builds the configured copy generator and its cleanup.
func newGenerator(cfg config.CopyGenerationConfig) (copygen.Generator, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "http":
		timeout, _ := config.ParseDurationField("copy_generation.timeout", cfg.Timeout)
		initial, _ := config.ParseDurationField("copy_generation.initial_backoff", cfg.InitialBackoff)
		g, err := copygen.NewHTTPGenerator(copygen.HTTPConfig{
			URL:            cfg.URL,
			APIKey:         cfg.APIKey,
			Timeout:        timeout,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: initial,
			RatePerSec:     cfg.RatePerSec,
		})
		return g, noop, err
	case "amqp":
		g, err := copygen.DialAMQP(copygen.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.Exchange, RoutingKey: cfg.RoutingKey})
		if err != nil {
			return nil, noop, err
		}
		return g, closeLogged("amqp", g), nil
	default:
		return copygen.Deferred{}, noop, nil
	}
}

func closeLogged(name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			appLog.Error("close failed", err, "component", name)
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/ferdy/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Materialize once and exit")
	flag.StringVar(&cfg.brand, "brand", "", "With -once, materialize only this brand id")
	flag.StringVar(&cfg.seed, "seed", "", "YAML file of brands, subcategories, rules and assets to upsert at startup")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
