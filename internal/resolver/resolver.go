// Package resolver turns a brand's active schedule rules into framework
// targets: (subcategory, instant, rule) tuples inside a time window.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "ferdy/internal/log"
	"ferdy/internal/model"
	"ferdy/internal/recurrence"
	"ferdy/internal/tzproj"
)

// DefaultPostTime applies to rules without a time of day.
const DefaultPostTime = "10:00"

// RuleSource is the persistence the resolver reads from.
type RuleSource interface {
	GetBrand(ctx context.Context, id string) (model.Brand, error)
	ListRules(ctx context.Context, brandID string, activeOnly bool) ([]model.ScheduleRule, error)
}

// Resolver expands rules with the shared recurrence engine.
type Resolver struct {
	rules       RuleSource
	tz          *tzproj.Projector
	defaultTime string
}

// New returns a Resolver. An empty defaultPostTime uses DefaultPostTime.
func New(rules RuleSource, tz *tzproj.Projector, defaultPostTime string) *Resolver {
	if defaultPostTime == "" {
		defaultPostTime = DefaultPostTime
	}
	return &Resolver{rules: rules, tz: tz, defaultTime: defaultPostTime}
}

// Targets returns the brand's targets with instants in [from, to], ordered by
// instant, then subcategory, then rule.
//
// Malformed rules are logged and skipped; store errors abort.
func (r *Resolver) Targets(ctx context.Context, brandID string, from, to time.Time) ([]model.Target, error) {
	brand, err := r.rules.GetBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}
	rules, err := r.rules.ListRules(ctx, brandID, true)
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}

	var out []model.Target
	for _, rule := range rules {
		instants, err := r.Instants(rule, brand.Timezone, from, to)
		if err != nil {
			appLog.Warn("skipping schedule rule", "rule_id", rule.ID, "brand_id", brandID, "reason", err.Error())
			continue
		}
		for _, at := range instants {
			out = append(out, model.Target{
				SubcategoryID:  rule.SubcategoryID,
				ScheduledAt:    at,
				ScheduleRuleID: rule.ID,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if a.SubcategoryID != b.SubcategoryID {
			return a.SubcategoryID < b.SubcategoryID
		}
		return a.ScheduleRuleID < b.ScheduleRuleID
	})
	return out, nil
}

// Instants returns the UTC instants in [from, to] at which rule posts for a
// brand in zone tz. Dates are expanded on the brand's local calendar.
func (r *Resolver) Instants(rule model.ScheduleRule, tz string, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, errors.New("window end is before window start")
	}
	hour, minute, err := r.postTime(rule)
	if err != nil {
		return nil, err
	}
	_, loc := r.tz.Resolve(tz)
	days, err := recurrence.Expand(rule, from.In(loc), to.In(loc))
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(days))
	for _, day := range days {
		at := r.tz.At(day, hour, minute, tz)
		if at.Before(from) || at.After(to) {
			continue
		}
		out = append(out, at)
	}
	return out, nil
}

func (r *Resolver) postTime(rule model.ScheduleRule) (int, int, error) {
	raw := rule.TimeOfDay
	if raw == "" {
		raw = r.defaultTime
	}
	h, m, err := tzproj.ParseTimeOfDay(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return h, m, nil
}
