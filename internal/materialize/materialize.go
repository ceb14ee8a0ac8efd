// Package materialize turns a brand's schedule rules into persisted drafts
// and per-channel jobs for the upcoming window.
//
// A run is idempotent: each occurrence is keyed on (brand, subcategory,
// instant, source) and the store ignores inserts that collide with an
// existing key, so re-runs and concurrent runs never duplicate work.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ferdy/internal/channel"
	appLog "ferdy/internal/log"
	"ferdy/internal/model"
	"ferdy/internal/tzproj"
)

const (
	DefaultWindowDays = 30
	DefaultRunTimeout = 2 * time.Minute
)

// ErrInvalidBrand is returned before any work when the brand id is empty.
var ErrInvalidBrand = errors.New("materialize: brand id is required")

// Store is the persistence the materializer writes to.
type Store interface {
	GetBrand(ctx context.Context, id string) (model.Brand, error)
	GetRule(ctx context.Context, id string) (model.ScheduleRule, error)
	DraftExists(ctx context.Context, key model.DraftKey) (bool, error)
	CreateDraft(ctx context.Context, d *model.Draft, jobs []model.Job) (bool, error)
}

// TargetResolver lists the occurrences a brand's rules produce in a window.
type TargetResolver interface {
	Targets(ctx context.Context, brandID string, from, to time.Time) ([]model.Target, error)
}

// AssetPicker chooses an asset for a new draft. ok is false when none exists.
type AssetPicker interface {
	Pick(ctx context.Context, ruleID string) (id string, ok bool, err error)
}

// CopyDispatcher requests copy for freshly created drafts. It returns the
// number of requests it sent.
type CopyDispatcher interface {
	Dispatch(ctx context.Context, brandID string, drafts []model.Draft) (int, error)
}

// Result summarizes one run.
type Result struct {
	TargetsFound  int `json:"targetsFound"`
	DraftsCreated int `json:"draftsCreated"`
	DraftsSkipped int `json:"draftsSkipped"`
	DraftsFailed  int `json:"draftsFailed"`

	// CopyRequested counts copy-generation requests sent after the loop.
	CopyRequested int `json:"copyRequested"`

	// Interrupted is set when the run timeout or the caller stopped the loop
	// before every target was visited.
	Interrupted bool `json:"interrupted,omitempty"`

	Created []model.Draft `json:"-"`
}

// Options configures a Materializer. Zero values take the package defaults.
type Options struct {
	WindowDays int
	RunTimeout time.Duration
	Now        func() time.Time
}

// Materializer creates drafts and jobs for a brand's upcoming occurrences.
type Materializer struct {
	store   Store
	targets TargetResolver
	assets  AssetPicker
	copy    CopyDispatcher
	tz      *tzproj.Projector
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// New returns a Materializer. assets and copier may be nil.
func New(store Store, targets TargetResolver, tz *tzproj.Projector, assets AssetPicker, copier CopyDispatcher, opts Options) *Materializer {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Materializer{
		store:   store,
		targets: targets,
		assets:  assets,
		copy:    copier,
		tz:      tz,
		window:  time.Duration(opts.WindowDays) * 24 * time.Hour,
		timeout: opts.RunTimeout,
		now:     opts.Now,
	}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeSkipped
)

// Materialize creates drafts for every target of brandID in [now, now+window].
//
// Brand lookup and target resolution failures abort the run. Failures of a
// single occurrence are logged and counted in DraftsFailed. When ctx is done
// mid-run the loop stops, the drafts created so far are still sent to copy
// generation, and the partial result is returned with the context error.
func (m *Materializer) Materialize(ctx context.Context, brandID string) (Result, error) {
	var res Result
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return res, ErrInvalidBrand
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	brand, err := m.store.GetBrand(ctx, brandID)
	if err != nil {
		return res, fmt.Errorf("materialize %s: %w", brandID, err)
	}

	from := m.now().UTC()
	to := from.Add(m.window)
	targets, err := m.targets.Targets(ctx, brandID, from, to)
	if err != nil {
		return res, fmt.Errorf("materialize %s: %w", brandID, err)
	}

	started := time.Now()
	appLog.Info("materialize start", "brand_id", brandID, "from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339))

	inWindow := targets[:0]
	for _, t := range targets {
		if t.ScheduledAt.Before(from) || t.ScheduledAt.After(to) {
			continue
		}
		inWindow = append(inWindow, t)
	}
	res.TargetsFound = len(inWindow)

	rules := make(map[string]model.ScheduleRule)
	var interrupted error
	for _, t := range inWindow {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}

		d, out, err := m.materializeOne(ctx, brand, t, rules)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				interrupted = ctxErr
				break
			}
			res.DraftsFailed++
			appLog.Error("materialize occurrence failed", err,
				"brand_id", brandID,
				"subcategory_id", t.SubcategoryID,
				"rule_id", t.ScheduleRuleID,
				"scheduled_at", t.ScheduledAt.UTC().Format(time.RFC3339),
			)
			continue
		}
		switch out {
		case outcomeCreated:
			res.DraftsCreated++
			res.Created = append(res.Created, d)
		case outcomeSkipped:
			res.DraftsSkipped++
		}
	}
	if interrupted != nil {
		res.Interrupted = true
		appLog.Warn("materialize interrupted",
			"brand_id", brandID,
			"reason", interrupted.Error(),
			"created", res.DraftsCreated,
			"remaining", res.TargetsFound-res.DraftsCreated-res.DraftsSkipped-res.DraftsFailed,
		)
	}

	if len(res.Created) > 0 && m.copy != nil {
		// Later runs skip committed drafts, so this is their only batch.
		dispatchCtx := ctx
		if interrupted != nil {
			var dispatchCancel context.CancelFunc
			dispatchCtx, dispatchCancel = context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
			defer dispatchCancel()
		}
		n, err := m.copy.Dispatch(dispatchCtx, brandID, res.Created)
		res.CopyRequested = n
		if err != nil {
			appLog.Error("copy generation failed", err, "brand_id", brandID, "drafts", len(res.Created))
		}
	}

	appLog.Info("materialize done",
		"brand_id", brandID,
		"targets", res.TargetsFound,
		"created", res.DraftsCreated,
		"skipped", res.DraftsSkipped,
		"failed", res.DraftsFailed,
		"copy_requested", res.CopyRequested,
		"elapsed", time.Since(started).String(),
	)
	return res, interrupted
}

func (m *Materializer) materializeOne(ctx context.Context, brand model.Brand, t model.Target, rules map[string]model.ScheduleRule) (model.Draft, outcome, error) {
	at := t.ScheduledAt.UTC().Truncate(time.Second)
	key := model.DraftKey{
		BrandID:        brand.ID,
		SubcategoryID:  t.SubcategoryID,
		ScheduledAtUTC: at,
		Source:         model.ScheduleSourceFramework,
	}

	exists, err := m.store.DraftExists(ctx, key)
	if err != nil {
		return model.Draft{}, 0, err
	}
	if exists {
		return model.Draft{}, outcomeSkipped, nil
	}

	rule, ok := rules[t.ScheduleRuleID]
	if !ok {
		rule, err = m.store.GetRule(ctx, t.ScheduleRuleID)
		if err != nil {
			return model.Draft{}, 0, err
		}
		rules[t.ScheduleRuleID] = rule
	}
	channels := channel.Normalize(rule.Channels)

	var assetIDs []string
	if m.assets != nil {
		id, ok, err := m.assets.Pick(ctx, rule.ID)
		switch {
		case err != nil:
			appLog.Warn("asset pick failed; continuing without asset", "rule_id", rule.ID, "reason", err.Error())
		case ok:
			assetIDs = []string{id}
		}
	}

	month := tzproj.TargetMonth(at)
	local, zone := m.tz.ToLocal(at, brand.Timezone)

	d := model.Draft{
		BrandID:            brand.ID,
		SubcategoryID:      t.SubcategoryID,
		ScheduleRuleID:     rule.ID,
		Source:             model.ScheduleSourceFramework,
		Channel:            channel.Primary(rule.Channels),
		ScheduledAtUTC:     at,
		ScheduledAtFixedTZ: m.tz.Reporting(at),
		AssetIDs:           assetIDs,
	}
	jobs := make([]model.Job, 0, len(channels))
	for _, c := range channels {
		jobs = append(jobs, model.Job{
			ScheduleRuleID:   rule.ID,
			Channel:          c,
			TargetMonth:      month,
			ScheduledAtUTC:   at,
			ScheduledAtLocal: local,
			ScheduledTZ:      zone,
			Status:           model.JobStatusPending,
		})
	}

	created, err := m.store.CreateDraft(ctx, &d, jobs)
	if err != nil {
		return model.Draft{}, 0, err
	}
	if !created {
		return model.Draft{}, outcomeSkipped, nil
	}
	return d, outcomeCreated, nil
}
