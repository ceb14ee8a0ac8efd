package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"ferdy/internal/model"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ferdy.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedBrand(t *testing.T, s *Store) (model.Brand, model.Subcategory) {
	t.Helper()
	ctx := context.Background()
	b := model.Brand{ID: "brand-1", Name: "Kart World", Timezone: "Pacific/Auckland"}
	if err := s.PutBrand(ctx, &b); err != nil {
		t.Fatalf("put brand: %v", err)
	}
	sc := model.Subcategory{ID: "sub-1", BrandID: b.ID, Name: "Go Karting", Description: "Laps", URL: "https://example.com/karts"}
	if err := s.PutSubcategory(ctx, &sc); err != nil {
		t.Fatalf("put subcategory: %v", err)
	}
	return b, sc
}

func newDraft(brandID, subID string, at time.Time) (model.Draft, []model.Job) {
	d := model.Draft{
		BrandID:        brandID,
		SubcategoryID:  subID,
		ScheduleRuleID: "rule-1",
		Source:         model.ScheduleSourceFramework,
		Channel:        "instagram_feed",
		ScheduledAtUTC: at,
	}
	jobs := []model.Job{
		{ScheduleRuleID: "rule-1", Channel: "instagram_feed", TargetMonth: time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC), ScheduledAtUTC: at, ScheduledAtLocal: "2024-06-10T10:00:00", ScheduledTZ: "Pacific/Auckland"},
		{ScheduleRuleID: "rule-1", Channel: "facebook", TargetMonth: time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC), ScheduledAtUTC: at, ScheduledAtLocal: "2024-06-10T10:00:00", ScheduledTZ: "Pacific/Auckland"},
	}
	return d, jobs
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo", DSN: "x"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), Config{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ferdy.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), Config{DSN: path})
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		_ = s.Close()
	}
}

func TestRuleRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	start := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 12, 0, 0, 0, 0, time.UTC)
	in := model.ScheduleRule{
		BrandID:       b.ID,
		SubcategoryID: sc.ID,
		Frequency:     model.FrequencySpecific,
		StartDate:     &start,
		EndDate:       &end,
		DaysBefore:    []int{3, 1},
		DaysDuring:    []int{15},
		TimeOfDay:     "10:30",
		URL:           "https://example.com/event",
		IsActive:      true,
		Channels:      []string{"instagram", "linkedin"},
	}
	if err := s.PutRule(ctx, &in); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	if in.ID == "" {
		t.Fatal("expected generated rule id")
	}

	got, err := s.GetRule(ctx, in.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("rule = %+v, want %+v", got, in)
	}

	inactive := model.ScheduleRule{BrandID: b.ID, SubcategoryID: sc.ID, Frequency: model.FrequencyDaily}
	if err := s.PutRule(ctx, &inactive); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	all, err := s.ListRules(ctx, b.ID, false)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	active, err := s.ListRules(ctx, b.ID, true)
	if err != nil {
		t.Fatalf("list active rules: %v", err)
	}
	if len(all) != 2 || len(active) != 1 || active[0].ID != in.ID {
		t.Fatalf("all=%d active=%d", len(all), len(active))
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()

	if _, err := s.GetBrand(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBrand error = %v", err)
	}
	if _, err := s.GetRule(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRule error = %v", err)
	}
	if _, err := s.GetSubcategory(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSubcategory error = %v", err)
	}
	if _, err := s.GetDraft(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDraft error = %v", err)
	}
	if err := s.UpdateDraftCopy(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateDraftCopy error = %v", err)
	}
}

func TestCreateDraftLinksJobs(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	at := time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC)
	d, jobs := newDraft(b.ID, sc.ID, at)
	d.AssetIDs = []string{"asset-1"}
	created, err := s.CreateDraft(ctx, &d, jobs)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if !created {
		t.Fatal("expected draft to be created")
	}
	if d.PostJobID != jobs[0].ID {
		t.Fatalf("post_job_id = %q, want %q", d.PostJobID, jobs[0].ID)
	}

	got, err := s.GetDraft(ctx, d.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.PostJobID != jobs[0].ID || !got.ScheduledAtUTC.Equal(at) || got.Copy != "" {
		t.Fatalf("draft = %+v", got)
	}
	if !reflect.DeepEqual(got.AssetIDs, []string{"asset-1"}) {
		t.Fatalf("asset ids = %v", got.AssetIDs)
	}

	stored, err := s.ListJobs(ctx, d.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("jobs = %d, want 2", len(stored))
	}
	for _, j := range stored {
		if j.DraftID != d.ID || j.Status != model.JobStatusPending || !j.ScheduledAtUTC.Equal(at) {
			t.Fatalf("job = %+v", j)
		}
		if j.TargetMonth.Format("2006-01-02") != "2024-06-01" {
			t.Fatalf("target month = %v", j.TargetMonth)
		}
	}
}

func TestCreateDraftIgnoresDuplicateKey(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	at := time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC)
	d1, j1 := newDraft(b.ID, sc.ID, at)
	if created, err := s.CreateDraft(ctx, &d1, j1); err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	// Same instant expressed in another zone is the same key.
	loc := time.FixedZone("x", 5*3600)
	d2, j2 := newDraft(b.ID, sc.ID, at.In(loc))
	created, err := s.CreateDraft(ctx, &d2, j2)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("expected duplicate to be ignored")
	}

	drafts, err := s.ListDrafts(ctx, b.ID)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(drafts))
	}
	n, err := s.CountJobs(ctx, b.ID)
	if err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if n != 2 {
		t.Fatalf("jobs = %d, want 2", n)
	}

	exists, err := s.DraftExists(ctx, d1.Key())
	if err != nil || !exists {
		t.Fatalf("DraftExists = %v, %v", exists, err)
	}
	other := d1.Key()
	other.ScheduledAtUTC = other.ScheduledAtUTC.Add(time.Hour)
	exists, err = s.DraftExists(ctx, other)
	if err != nil || exists {
		t.Fatalf("DraftExists(other) = %v, %v", exists, err)
	}
}

func TestCreateDraftConcurrentWritersProduceOneDraft(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)
	at := time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC)

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, jobs := newDraft(b.ID, sc.ID, at)
			created, err := s.CreateDraft(ctx, &d, jobs)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			results <- created
		}()
	}
	wg.Wait()
	close(results)

	createdCount := 0
	for c := range results {
		if c {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Fatalf("created = %d, want 1", createdCount)
	}
}

func TestCreateDraftRollsBackOnJobFailure(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	at := time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC)
	d, jobs := newDraft(b.ID, sc.ID, at)
	// Two jobs on one channel violate post_jobs_draft_channel.
	jobs[1].Channel = jobs[0].Channel
	if _, err := s.CreateDraft(ctx, &d, jobs); err == nil {
		t.Fatal("expected job insert error")
	}
	exists, err := s.DraftExists(ctx, d.Key())
	if err != nil {
		t.Fatalf("DraftExists: %v", err)
	}
	if exists {
		t.Fatal("draft must not survive a failed job insert")
	}
}

func TestUpdateDraftCopy(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	d, jobs := newDraft(b.ID, sc.ID, time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC))
	if _, err := s.CreateDraft(ctx, &d, jobs); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateDraftCopy(ctx, d.ID, "Time to race!"); err != nil {
		t.Fatalf("update copy: %v", err)
	}
	got, err := s.GetDraft(ctx, d.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Copy != "Time to race!" {
		t.Fatalf("copy = %q", got.Copy)
	}
}

func TestNextAssetRotatesAsDraftsClaimThem(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	clock := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	if _, ok, err := s.NextAsset(ctx, b.ID, sc.ID); err != nil || ok {
		t.Fatalf("NextAsset on empty = %v, %v", ok, err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.PutAsset(ctx, &model.Asset{ID: id, BrandID: b.ID, SubcategoryID: sc.ID}); err != nil {
			t.Fatalf("put asset: %v", err)
		}
	}

	at := time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC)
	var picks []string
	for i := 0; i < 4; i++ {
		id, ok, err := s.NextAsset(ctx, b.ID, sc.ID)
		if err != nil || !ok {
			t.Fatalf("NextAsset = %v, %v", ok, err)
		}
		picks = append(picks, id)
		d, jobs := newDraft(b.ID, sc.ID, at.AddDate(0, 0, i))
		d.AssetIDs = []string{id}
		if created, err := s.CreateDraft(ctx, &d, jobs); err != nil || !created {
			t.Fatalf("create: created=%v err=%v", created, err)
		}
	}
	if !reflect.DeepEqual(picks, []string{"a", "b", "a", "b"}) {
		t.Fatalf("picks = %v", picks)
	}
}

func TestAssetStaysUnclaimedWhenDraftIsNotStored(t *testing.T) {
	t.Parallel()
	s := openTempStore(t)
	ctx := context.Background()
	b, sc := seedBrand(t, s)

	clock := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	for _, id := range []string{"a", "b"} {
		if err := s.PutAsset(ctx, &model.Asset{ID: id, BrandID: b.ID, SubcategoryID: sc.ID}); err != nil {
			t.Fatalf("put asset: %v", err)
		}
	}

	at := time.Date(2024, time.June, 9, 22, 0, 0, 0, time.UTC)
	d1, j1 := newDraft(b.ID, sc.ID, at)
	if created, err := s.CreateDraft(ctx, &d1, j1); err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	// Losing the unique-key race leaves "a" unclaimed.
	dup, dupJobs := newDraft(b.ID, sc.ID, at)
	dup.AssetIDs = []string{"a"}
	if created, err := s.CreateDraft(ctx, &dup, dupJobs); err != nil || created {
		t.Fatalf("duplicate create: created=%v err=%v", created, err)
	}

	// So does a job insert failure.
	bad, badJobs := newDraft(b.ID, sc.ID, at.Add(24*time.Hour))
	bad.AssetIDs = []string{"a"}
	badJobs[1].Channel = badJobs[0].Channel
	if _, err := s.CreateDraft(ctx, &bad, badJobs); err == nil {
		t.Fatal("expected job insert error")
	}

	id, ok, err := s.NextAsset(ctx, b.ID, sc.ID)
	if err != nil || !ok || id != "a" {
		t.Fatalf("NextAsset = %q, %v, %v; want a still unclaimed", id, ok, err)
	}
}

func TestPostgresPlaceholderRewrite(t *testing.T) {
	t.Parallel()
	s := &Store{dialect: dialectPostgres}
	got := s.q(`SELECT a FROM t WHERE b = ? AND c = ?`)
	if got != `SELECT a FROM t WHERE b = $1 AND c = $2` {
		t.Fatalf("q = %s", got)
	}
	lite := &Store{dialect: dialectSQLite}
	if got := lite.q(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite q = %s", got)
	}
}
