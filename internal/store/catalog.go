package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ferdy/internal/model"
)

// PutBrand inserts or replaces a brand. An empty ID is generated.
func (s *Store) PutBrand(ctx context.Context, b *model.Brand) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO brands(id, name, timezone) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, timezone=excluded.timezone`),
		b.ID, b.Name, b.Timezone,
	)
	if err != nil {
		return fmt.Errorf("put brand %s: %w", b.ID, err)
	}
	return nil
}

// GetBrand returns ErrNotFound when no brand has id.
func (s *Store) GetBrand(ctx context.Context, id string) (model.Brand, error) {
	var b model.Brand
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, timezone FROM brands WHERE id = ?`), id).
		Scan(&b.ID, &b.Name, &b.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Brand{}, fmt.Errorf("brand %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Brand{}, fmt.Errorf("get brand %s: %w", id, err)
	}
	return b, nil
}

// ListBrands returns all brands ordered by id.
func (s *Store) ListBrands(ctx context.Context) ([]model.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, timezone FROM brands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	var out []model.Brand
	for rows.Next() {
		var b model.Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Timezone); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PutSubcategory inserts or replaces a subcategory. An empty ID is generated.
func (s *Store) PutSubcategory(ctx context.Context, sc *model.Subcategory) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO subcategories(id, brand_id, name, description, url) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET brand_id=excluded.brand_id, name=excluded.name,
		   description=excluded.description, url=excluded.url`),
		sc.ID, sc.BrandID, sc.Name, sc.Description, sc.URL,
	)
	if err != nil {
		return fmt.Errorf("put subcategory %s: %w", sc.ID, err)
	}
	return nil
}

// GetSubcategory returns ErrNotFound when no subcategory has id.
func (s *Store) GetSubcategory(ctx context.Context, id string) (model.Subcategory, error) {
	var sc model.Subcategory
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, brand_id, name, description, url FROM subcategories WHERE id = ?`), id).
		Scan(&sc.ID, &sc.BrandID, &sc.Name, &sc.Description, &sc.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subcategory{}, fmt.Errorf("subcategory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Subcategory{}, fmt.Errorf("get subcategory %s: %w", id, err)
	}
	return sc, nil
}

// ListSubcategories returns a brand's subcategories keyed by id.
func (s *Store) ListSubcategories(ctx context.Context, brandID string) (map[string]model.Subcategory, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, brand_id, name, description, url FROM subcategories WHERE brand_id = ?`), brandID)
	if err != nil {
		return nil, fmt.Errorf("list subcategories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Subcategory)
	for rows.Next() {
		var sc model.Subcategory
		if err := rows.Scan(&sc.ID, &sc.BrandID, &sc.Name, &sc.Description, &sc.URL); err != nil {
			return nil, err
		}
		out[sc.ID] = sc
	}
	return out, rows.Err()
}

const ruleColumns = `id, brand_id, subcategory_id, frequency, days_of_week, day_of_month, nth_week, weekday,
	start_date, end_date, days_before, days_during, time_of_day, url, is_active, channels`

// PutRule inserts or replaces a schedule rule. An empty ID is generated.
func (s *Store) PutRule(ctx context.Context, r *model.ScheduleRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO schedule_rules(`+ruleColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   brand_id=excluded.brand_id, subcategory_id=excluded.subcategory_id,
		   frequency=excluded.frequency, days_of_week=excluded.days_of_week,
		   day_of_month=excluded.day_of_month, nth_week=excluded.nth_week, weekday=excluded.weekday,
		   start_date=excluded.start_date, end_date=excluded.end_date,
		   days_before=excluded.days_before, days_during=excluded.days_during,
		   time_of_day=excluded.time_of_day, url=excluded.url,
		   is_active=excluded.is_active, channels=excluded.channels`),
		r.ID, r.BrandID, r.SubcategoryID, string(r.Frequency),
		encodeList(r.DaysOfWeek), encodeList(r.DayOfMonth), r.NthWeek, r.Weekday,
		formatDate(r.StartDate), formatDate(r.EndDate),
		encodeList(r.DaysBefore), encodeList(r.DaysDuring),
		r.TimeOfDay, r.URL, r.IsActive, encodeList(r.Channels),
	)
	if err != nil {
		return fmt.Errorf("put rule %s: %w", r.ID, err)
	}
	return nil
}

// GetRule returns ErrNotFound when no rule has id.
func (s *Store) GetRule(ctx context.Context, id string) (model.ScheduleRule, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+ruleColumns+` FROM schedule_rules WHERE id = ?`), id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ScheduleRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return r, nil
}

// ListRules returns a brand's rules ordered by id, optionally only active ones.
func (s *Store) ListRules(ctx context.Context, brandID string, activeOnly bool) ([]model.ScheduleRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM schedule_rules WHERE brand_id = ?`
	args := []any{brandID}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduleRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (model.ScheduleRule, error) {
	var r model.ScheduleRule
	var freq, daysOfWeek, dayOfMonth, daysBefore, daysDuring, chns string
	var start, end sql.NullString
	if err := sc.Scan(&r.ID, &r.BrandID, &r.SubcategoryID, &freq, &daysOfWeek, &dayOfMonth,
		&r.NthWeek, &r.Weekday, &start, &end, &daysBefore, &daysDuring,
		&r.TimeOfDay, &r.URL, &r.IsActive, &chns); err != nil {
		return model.ScheduleRule{}, err
	}
	r.Frequency = model.Frequency(strings.ToLower(freq))

	var err error
	if r.DaysOfWeek, err = decodeList[int](daysOfWeek); err != nil {
		return r, err
	}
	if r.DayOfMonth, err = decodeList[int](dayOfMonth); err != nil {
		return r, err
	}
	if r.DaysBefore, err = decodeList[int](daysBefore); err != nil {
		return r, err
	}
	if r.DaysDuring, err = decodeList[int](daysDuring); err != nil {
		return r, err
	}
	if r.Channels, err = decodeList[string](chns); err != nil {
		return r, err
	}
	if r.StartDate, err = parseDate(start); err != nil {
		return r, err
	}
	if r.EndDate, err = parseDate(end); err != nil {
		return r, err
	}
	return r, nil
}

// PutAsset inserts or replaces an asset. An empty ID is generated.
func (s *Store) PutAsset(ctx context.Context, a *model.Asset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var lastUsed any
	if a.LastUsedAt != nil {
		lastUsed = formatInstant(*a.LastUsedAt)
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO assets(id, brand_id, subcategory_id, last_used_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET brand_id=excluded.brand_id,
		   subcategory_id=excluded.subcategory_id, last_used_at=excluded.last_used_at`),
		a.ID, a.BrandID, a.SubcategoryID, lastUsed,
	)
	if err != nil {
		return fmt.Errorf("put asset %s: %w", a.ID, err)
	}
	return nil
}

// NextAsset returns the least recently used asset of a subcategory without
// claiming it. ok is false when the subcategory has no assets. CreateDraft
// marks the assets a stored draft references as used.
func (s *Store) NextAsset(ctx context.Context, brandID, subcategoryID string) (id string, ok bool, err error) {
	// Never-used assets sort first; ties break on id for determinism.
	err = s.db.QueryRowContext(ctx, s.q(
		`SELECT id FROM assets WHERE brand_id = ? AND subcategory_id = ?
		 ORDER BY CASE WHEN last_used_at IS NULL THEN 0 ELSE 1 END, last_used_at, id
		 LIMIT 1`), brandID, subcategoryID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("next asset: %w", err)
	}
	return id, true, nil
}
