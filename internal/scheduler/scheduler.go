// Package scheduler triggers materialization for every brand on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ferdy/internal/log"
	"ferdy/internal/materialize"
	"ferdy/internal/model"
)

// BrandLister lists the brands to materialize.
type BrandLister interface {
	ListBrands(ctx context.Context) ([]model.Brand, error)
}

// Runner materializes one brand.
type Runner interface {
	Materialize(ctx context.Context, brandID string) (materialize.Result, error)
}

// Config configures the Service.
type Config struct {
	Spec     string // 5-field cron spec or descriptor such as "@hourly"
	Timezone string // zone the spec is evaluated in; empty means UTC
}

// Summary reports one pass over all brands.
type Summary struct {
	Brands        int
	Failed        int
	DraftsCreated int
	DraftsSkipped int
	DraftsFailed  int
}

// Service runs materialization passes. Passes never overlap: a tick that
// fires while the previous pass is still running is skipped.
type Service struct {
	mu sync.Mutex

	cfg    Config
	brands BrandLister
	runner Runner
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, brands BrandLister, runner Runner) *Service {
	return &Service{
		cfg:    cfg,
		brands: brands,
		runner: runner,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start schedules passes until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler already started")
	}
	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		return errors.New("scheduler spec is required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler spec %q: %w", spec, err)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { s.RunAll(ctx) }); err != nil {
		return fmt.Errorf("schedule materialization: %w", err)
	}
	c.Start()
	s.c = c
	appLog.Info("scheduler started", "spec", spec, "tz", loc.String())
	return nil
}

// Stop stops scheduling and waits for a running pass, or for ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out")
	}
	appLog.Info("scheduler stopped")
}

// RunAll materializes every brand in turn. A failing brand is logged and
// does not stop the pass.
func (s *Service) RunAll(ctx context.Context) Summary {
	var sum Summary
	brands, err := s.brands.ListBrands(ctx)
	if err != nil {
		appLog.Error("scheduler list brands failed", err)
		return sum
	}
	for _, b := range brands {
		if ctx.Err() != nil {
			break
		}
		sum.Brands++
		res, err := s.runner.Materialize(ctx, b.ID)
		sum.DraftsCreated += res.DraftsCreated
		sum.DraftsSkipped += res.DraftsSkipped
		sum.DraftsFailed += res.DraftsFailed
		if err != nil {
			sum.Failed++
			appLog.Error("scheduled materialization failed", err, "brand_id", b.ID)
		}
	}
	appLog.Info("scheduled pass done",
		"brands", sum.Brands,
		"failed", sum.Failed,
		"created", sum.DraftsCreated,
		"skipped", sum.DraftsSkipped,
	)
	return sum
}
