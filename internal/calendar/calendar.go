// Package calendar renders a brand's schedule for one month, for display and
// as an iCalendar feed.
//
// Instants come from the same resolver the materializer uses, so every
// calendar entry is an instant a materialization would produce.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"ferdy/internal/channel"
	appLog "ferdy/internal/log"
	"ferdy/internal/model"
	"ferdy/internal/tzproj"
)

// Source is the persistence the calendar reads from.
type Source interface {
	GetBrand(ctx context.Context, id string) (model.Brand, error)
	ListRules(ctx context.Context, brandID string, activeOnly bool) ([]model.ScheduleRule, error)
	ListSubcategories(ctx context.Context, brandID string) (map[string]model.Subcategory, error)
}

// InstantResolver expands one rule to UTC instants in a window.
type InstantResolver interface {
	Instants(rule model.ScheduleRule, tz string, from, to time.Time) ([]time.Time, error)
}

// Entry is one displayed occurrence.
type Entry struct {
	Date          string          `json:"date"`      // brand-local YYYY-MM-DD
	LocalTime     string          `json:"localTime"` // brand-local HH:MM
	ScheduledAt   time.Time       `json:"scheduledAt"`
	SubcategoryID string          `json:"subcategoryId"`
	Name          string          `json:"name"`
	URL           string          `json:"url,omitempty"`
	RuleID        string          `json:"ruleId"`
	Frequency     model.Frequency `json:"frequency"`
	Channels      []string        `json:"channels"`
}

// MonthView is a brand's schedule for one calendar month.
type MonthView struct {
	BrandID  string  `json:"brandId"`
	Brand    string  `json:"brand"`
	Timezone string  `json:"timezone"`
	Month    string  `json:"month"` // YYYY-MM
	Entries  []Entry `json:"entries"`
}

// Projector builds month views.
type Projector struct {
	src   Source
	rules InstantResolver
	tz    *tzproj.Projector
}

func NewProjector(src Source, rules InstantResolver, tz *tzproj.Projector) *Projector {
	return &Projector{src: src, rules: rules, tz: tz}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}

// Month returns the entries of year/month in the brand's zone. Entries for
// the same day and subcategory name collapse to the earliest one.
func (p *Projector) Month(ctx context.Context, brandID string, year int, month time.Month) (MonthView, error) {
	brand, err := p.src.GetBrand(ctx, brandID)
	if err != nil {
		return MonthView{}, err
	}
	rules, err := p.src.ListRules(ctx, brandID, true)
	if err != nil {
		return MonthView{}, fmt.Errorf("calendar rules: %w", err)
	}
	subs, err := p.src.ListSubcategories(ctx, brandID)
	if err != nil {
		return MonthView{}, fmt.Errorf("calendar subcategories: %w", err)
	}

	zone, loc := p.tz.Resolve(brand.Timezone)
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 1, 0).Add(-time.Second)

	var entries []Entry
	for _, rule := range rules {
		instants, err := p.rules.Instants(rule, brand.Timezone, from, to)
		if err != nil {
			appLog.Warn("calendar skipping rule", "rule_id", rule.ID, "reason", err.Error())
			continue
		}
		sub := subs[rule.SubcategoryID]
		name := strings.TrimSpace(sub.Name)
		if name == "" {
			name = rule.SubcategoryID
		}
		url := sub.URL
		if rule.URL != "" {
			url = rule.URL
		}
		chans := channel.Normalize(rule.Channels)
		for _, at := range instants {
			local := at.In(loc)
			entries = append(entries, Entry{
				Date:          local.Format("2006-01-02"),
				LocalTime:     local.Format("15:04"),
				ScheduledAt:   at.UTC(),
				SubcategoryID: rule.SubcategoryID,
				Name:          name,
				URL:           url,
				RuleID:        rule.ID,
				Frequency:     rule.Frequency,
				Channels:      chans,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ScheduledAt.Before(b.ScheduledAt)
	})

	out := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		k := e.Date + "\x00" + strings.ToLower(e.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}

	return MonthView{
		BrandID:  brand.ID,
		Brand:    brand.Name,
		Timezone: zone,
		Month:    from.Format("2006-01"),
		Entries:  out,
	}, nil
}

// ICS renders view as an iCalendar feed. stamp is used as DTSTAMP.
func ICS(view MonthView, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//ferdy//schedule//EN")
	name := view.Brand
	if name == "" {
		name = view.BrandID
	}
	cal.SetXWRCalName(name + " " + view.Month)
	cal.SetXWRTimezone(view.Timezone)

	for _, e := range view.Entries {
		uid := fmt.Sprintf("%s-%s@ferdy", e.RuleID, e.ScheduledAt.UTC().Format("20060102T150405Z"))
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(e.ScheduledAt)
		ev.SetEndAt(e.ScheduledAt.Add(30 * time.Minute))
		ev.SetSummary(e.Name)
		if len(e.Channels) > 0 {
			ev.SetDescription("Channels: " + strings.Join(e.Channels, ", "))
		}
		if e.URL != "" {
			ev.SetURL(e.URL)
		}
	}
	return cal.Serialize()
}
