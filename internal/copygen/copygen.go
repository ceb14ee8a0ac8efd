// Package copygen prepares copy-generation requests for new drafts and hands
// them to an external generator.
package copygen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "ferdy/internal/log"
	"ferdy/internal/model"
)

// FrequencyType classifies the cadence of the rule behind a draft.
type FrequencyType string

const (
	FrequencyDaily     FrequencyType = "daily"
	FrequencyWeekly    FrequencyType = "weekly"
	FrequencyMonthly   FrequencyType = "monthly"
	FrequencyDate      FrequencyType = "date"
	FrequencyDateRange FrequencyType = "date_range"
)

// HashtagModeAuto lets the generator pick hashtags.
const HashtagModeAuto = "auto"

const dateLayout = "2006-01-02"

// Placeholders are copy values that still count as "no copy yet".
var Placeholders = []string{
	"Post copy coming soon…",
	"Post copy coming soon...",
	"Copy pending",
}

// NeedsCopy reports whether a draft's copy is empty or a placeholder.
func NeedsCopy(copyText string) bool {
	c := strings.TrimSpace(copyText)
	if c == "" {
		return true
	}
	for _, p := range Placeholders {
		if strings.EqualFold(c, p) {
			return true
		}
	}
	return false
}

// Schedule describes the event dates of a date or date_range rule.
type Schedule struct {
	Date      string `json:"date,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// SubcategoryContext is the subject the copy is written about.
type SubcategoryContext struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Request asks for copy for one draft.
type Request struct {
	BrandID       string             `json:"brandId"`
	DraftID       string             `json:"draftId"`
	Channel       string             `json:"channel"`
	ScheduledAt   string             `json:"scheduledAt"`
	FrequencyType FrequencyType      `json:"frequencyType"`
	Schedule      *Schedule          `json:"schedule,omitempty"`
	Subcategory   SubcategoryContext `json:"subcategory"`
	HashtagMode   string             `json:"hashtagMode"`
}

// Result is the generator's answer for one draft. Error is set on failure.
type Result struct {
	DraftID string `json:"draftId"`
	Copy    string `json:"copy,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Generator sends a batch of requests. Asynchronous generators return no
// results; the copy is written back later by another process.
type Generator interface {
	Generate(ctx context.Context, batch []Request) ([]Result, error)
}

// Store is the persistence the assembler reads context from and writes
// generated copy to.
type Store interface {
	GetRule(ctx context.Context, id string) (model.ScheduleRule, error)
	GetSubcategory(ctx context.Context, id string) (model.Subcategory, error)
	UpdateDraftCopy(ctx context.Context, id, copyText string) error
}

// Assembler builds and dispatches copy requests.
type Assembler struct {
	store Store
	gen   Generator
}

// NewAssembler returns an Assembler. A nil gen makes Dispatch a no-op.
func NewAssembler(store Store, gen Generator) *Assembler {
	return &Assembler{store: store, gen: gen}
}

// Classify returns the frequency type of a rule. Specific rules are a single
// date when the end date is absent or equal to the start date.
func Classify(rule model.ScheduleRule) FrequencyType {
	switch rule.Frequency {
	case model.FrequencyDaily:
		return FrequencyDaily
	case model.FrequencyWeekly:
		return FrequencyWeekly
	case model.FrequencyMonthly:
		return FrequencyMonthly
	}
	if rule.EndDate == nil || rule.StartDate == nil || sameDay(*rule.StartDate, *rule.EndDate) {
		return FrequencyDate
	}
	return FrequencyDateRange
}

func scheduleFor(rule model.ScheduleRule, ft FrequencyType) *Schedule {
	if rule.StartDate == nil {
		return nil
	}
	switch ft {
	case FrequencyDate:
		return &Schedule{Date: rule.StartDate.Format(dateLayout)}
	case FrequencyDateRange:
		return &Schedule{
			StartDate: rule.StartDate.Format(dateLayout),
			EndDate:   rule.EndDate.Format(dateLayout),
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Assemble builds one request per draft that still needs copy. Drafts whose
// rule or subcategory cannot be loaded are logged and left out.
func (a *Assembler) Assemble(ctx context.Context, brandID string, drafts []model.Draft) ([]Request, error) {
	rules := make(map[string]model.ScheduleRule)
	subs := make(map[string]model.Subcategory)

	var out []Request
	for _, d := range drafts {
		if !NeedsCopy(d.Copy) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		rule, ok := rules[d.ScheduleRuleID]
		if !ok {
			r, err := a.store.GetRule(ctx, d.ScheduleRuleID)
			if err != nil {
				appLog.Warn("copy request skipped", "draft_id", d.ID, "reason", err.Error())
				continue
			}
			rule = r
			rules[d.ScheduleRuleID] = r
		}
		sub, ok := subs[d.SubcategoryID]
		if !ok {
			s, err := a.store.GetSubcategory(ctx, d.SubcategoryID)
			if err != nil {
				appLog.Warn("copy request skipped", "draft_id", d.ID, "reason", err.Error())
				continue
			}
			sub = s
			subs[d.SubcategoryID] = s
		}

		url := strings.TrimSpace(sub.URL)
		if u := strings.TrimSpace(rule.URL); u != "" {
			url = u
		}
		ft := Classify(rule)
		out = append(out, Request{
			BrandID:       brandID,
			DraftID:       d.ID,
			Channel:       d.Channel,
			ScheduledAt:   d.ScheduledAtUTC.UTC().Format(time.RFC3339),
			FrequencyType: ft,
			Schedule:      scheduleFor(rule, ft),
			Subcategory: SubcategoryContext{
				Name:        sub.Name,
				Description: sub.Description,
				URL:         url,
			},
			HashtagMode: HashtagModeAuto,
		})
	}
	return out, nil
}

// Dispatch assembles requests for drafts and sends them as one batch. It
// returns the number of requests sent. Returned copy is written only onto
// drafts that were part of the batch.
func (a *Assembler) Dispatch(ctx context.Context, brandID string, drafts []model.Draft) (int, error) {
	if a.gen == nil {
		return 0, nil
	}
	batch, err := a.Assemble(ctx, brandID, drafts)
	if err != nil {
		return 0, fmt.Errorf("assemble copy batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	results, err := a.gen.Generate(ctx, batch)
	if err != nil {
		return len(batch), fmt.Errorf("generate copy: %w", err)
	}

	inBatch := make(map[string]bool, len(batch))
	for _, r := range batch {
		inBatch[r.DraftID] = true
	}
	var errs []error
	updated := 0
	for _, r := range results {
		if !inBatch[r.DraftID] {
			appLog.Warn("ignoring copy for draft outside batch", "draft_id", r.DraftID)
			continue
		}
		if r.Error != "" || strings.TrimSpace(r.Copy) == "" {
			appLog.Warn("copy not generated", "draft_id", r.DraftID, "reason", r.Error)
			continue
		}
		if err := a.store.UpdateDraftCopy(ctx, r.DraftID, r.Copy); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}
	appLog.Info("copy batch done", "brand_id", brandID, "requested", len(batch), "results", len(results), "updated", updated)
	return len(batch), errors.Join(errs...)
}
