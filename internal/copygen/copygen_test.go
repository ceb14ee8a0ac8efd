package copygen

import (
	"context"
	"errors"
	"testing"
	"time"

	"ferdy/internal/model"
)

type fakeStore struct {
	rules   map[string]model.ScheduleRule
	subs    map[string]model.Subcategory
	updated map[string]string
}

func (f *fakeStore) GetRule(_ context.Context, id string) (model.ScheduleRule, error) {
	r, ok := f.rules[id]
	if !ok {
		return model.ScheduleRule{}, errors.New("no rule")
	}
	return r, nil
}

func (f *fakeStore) GetSubcategory(_ context.Context, id string) (model.Subcategory, error) {
	s, ok := f.subs[id]
	if !ok {
		return model.Subcategory{}, errors.New("no subcategory")
	}
	return s, nil
}

func (f *fakeStore) UpdateDraftCopy(_ context.Context, id, copyText string) error {
	if f.updated == nil {
		f.updated = make(map[string]string)
	}
	f.updated[id] = copyText
	return nil
}

type fakeGen struct {
	got     []Request
	results []Result
	err     error
}

func (f *fakeGen) Generate(_ context.Context, batch []Request) ([]Result, error) {
	f.got = append(f.got, batch...)
	return f.results, f.err
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rule model.ScheduleRule
		want FrequencyType
	}{
		{"daily", model.ScheduleRule{Frequency: model.FrequencyDaily}, FrequencyDaily},
		{"weekly", model.ScheduleRule{Frequency: model.FrequencyWeekly}, FrequencyWeekly},
		{"monthly", model.ScheduleRule{Frequency: model.FrequencyMonthly}, FrequencyMonthly},
		{"single date", model.ScheduleRule{Frequency: model.FrequencySpecific, StartDate: day(2024, 6, 7)}, FrequencyDate},
		{"same start and end", model.ScheduleRule{Frequency: model.FrequencySpecific, StartDate: day(2024, 6, 7), EndDate: day(2024, 6, 7)}, FrequencyDate},
		{"range", model.ScheduleRule{Frequency: model.FrequencySpecific, StartDate: day(2024, 6, 7), EndDate: day(2024, 6, 9)}, FrequencyDateRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.rule); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNeedsCopy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bool{
		"":                       true,
		"   ":                    true,
		"Post copy coming soon…": true,
		"copy pending":           true,
		"Race day is here!":      false,
	} {
		if got := NeedsCopy(in); got != want {
			t.Fatalf("NeedsCopy(%q) = %v, want %v", in, got, want)
		}
	}
}

func newFixtureStore() *fakeStore {
	event := model.ScheduleRule{
		ID:        "event",
		Frequency: model.FrequencySpecific,
		StartDate: day(2024, 6, 7),
		EndDate:   day(2024, 6, 9),
		URL:       "https://example.com/festival",
	}
	return &fakeStore{
		rules: map[string]model.ScheduleRule{
			"weekly": {ID: "weekly", Frequency: model.FrequencyWeekly, DaysOfWeek: []int{1}},
			"event":  event,
		},
		subs: map[string]model.Subcategory{
			"karts": {ID: "karts", Name: "Go Karting", Description: "Fast laps", URL: "https://example.com/karts"},
		},
	}
}

func TestAssembleBuildsRequests(t *testing.T) {
	t.Parallel()
	st := newFixtureStore()
	a := NewAssembler(st, nil)
	at := time.Date(2024, time.June, 2, 22, 0, 0, 0, time.UTC)
	drafts := []model.Draft{
		{ID: "d1", SubcategoryID: "karts", ScheduleRuleID: "weekly", Channel: "instagram_feed", ScheduledAtUTC: at},
		{ID: "d2", SubcategoryID: "karts", ScheduleRuleID: "event", Channel: "facebook", ScheduledAtUTC: at},
		{ID: "d3", SubcategoryID: "karts", ScheduleRuleID: "weekly", Copy: "Already written"},
		{ID: "d4", SubcategoryID: "karts", ScheduleRuleID: "missing"},
	}

	reqs, err := a.Assemble(context.Background(), "brand-1", drafts)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}

	weekly := reqs[0]
	if weekly.DraftID != "d1" || weekly.BrandID != "brand-1" || weekly.FrequencyType != FrequencyWeekly {
		t.Fatalf("weekly request = %+v", weekly)
	}
	if weekly.Schedule != nil {
		t.Fatalf("weekly schedule = %+v, want nil", weekly.Schedule)
	}
	if weekly.Subcategory.URL != "https://example.com/karts" || weekly.HashtagMode != HashtagModeAuto {
		t.Fatalf("weekly request = %+v", weekly)
	}
	if weekly.ScheduledAt != "2024-06-02T22:00:00Z" {
		t.Fatalf("scheduledAt = %s", weekly.ScheduledAt)
	}

	event := reqs[1]
	if event.FrequencyType != FrequencyDateRange {
		t.Fatalf("event type = %s", event.FrequencyType)
	}
	if event.Schedule == nil || event.Schedule.StartDate != "2024-06-07" || event.Schedule.EndDate != "2024-06-09" {
		t.Fatalf("event schedule = %+v", event.Schedule)
	}
	if event.Subcategory.URL != "https://example.com/festival" {
		t.Fatalf("rule url should win, got %s", event.Subcategory.URL)
	}
}

func TestDispatchWritesOnlyBatchDrafts(t *testing.T) {
	t.Parallel()
	st := newFixtureStore()
	gen := &fakeGen{results: []Result{
		{DraftID: "d1", Copy: "Lights out on Monday!"},
		{DraftID: "d2", Error: "model refused"},
		{DraftID: "stranger", Copy: "not ours"},
	}}
	a := NewAssembler(st, gen)
	drafts := []model.Draft{
		{ID: "d1", SubcategoryID: "karts", ScheduleRuleID: "weekly"},
		{ID: "d2", SubcategoryID: "karts", ScheduleRuleID: "weekly"},
	}

	n, err := a.Dispatch(context.Background(), "brand-1", drafts)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 2 || len(gen.got) != 2 {
		t.Fatalf("sent = %d (generator saw %d), want 2", n, len(gen.got))
	}
	if len(st.updated) != 1 || st.updated["d1"] != "Lights out on Monday!" {
		t.Fatalf("updated = %v", st.updated)
	}
}

func TestDispatchReportsGeneratorError(t *testing.T) {
	t.Parallel()
	st := newFixtureStore()
	a := NewAssembler(st, &fakeGen{err: errors.New("unavailable")})
	n, err := a.Dispatch(context.Background(), "brand-1", []model.Draft{{ID: "d1", SubcategoryID: "karts", ScheduleRuleID: "weekly"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
	if len(st.updated) != 0 {
		t.Fatalf("updated = %v, want none", st.updated)
	}
}

func TestDispatchWithoutGeneratorIsNoop(t *testing.T) {
	t.Parallel()
	n, err := NewAssembler(newFixtureStore(), nil).Dispatch(context.Background(), "b", []model.Draft{{ID: "d1"}})
	if err != nil || n != 0 {
		t.Fatalf("Dispatch = %d, %v; want 0, nil", n, err)
	}
}
