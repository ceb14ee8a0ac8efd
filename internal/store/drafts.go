package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ferdy/internal/model"
)

// DraftExists reports whether a draft with key is already stored.
// It is a cheap pre-filter; CreateDraft is the authoritative check.
func (s *Store) DraftExists(ctx context.Context, key model.DraftKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT 1 FROM drafts
		 WHERE brand_id = ? AND subcategory_id = ? AND scheduled_for = ? AND schedule_source = ?
		 LIMIT 1`),
		key.BrandID, key.SubcategoryID, formatInstant(key.ScheduledAtUTC), key.Source,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("draft exists: %w", err)
	}
	return true, nil
}

// CreateDraft stores d and its jobs in one transaction.
//
// The draft insert ignores unique-key conflicts: when another writer already
// stored the same (brand, subcategory, instant, source), created is false and
// nothing is written. On success d.ID, d.PostJobID and every job's ID and
// DraftID are filled in; the first job becomes the draft's primary job, and
// the draft's assets are marked used in the same transaction.
func (s *Store) CreateDraft(ctx context.Context, d *model.Draft, jobs []model.Job) (created bool, err error) {
	if len(jobs) == 0 {
		return false, errors.New("create draft: at least one job is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil || !created {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO drafts(id, brand_id, subcategory_id, schedule_rule_id, schedule_source, channel,
		   scheduled_for, scheduled_for_secondary_tz, approved, copy, asset_ids, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(brand_id, subcategory_id, scheduled_for, schedule_source) DO NOTHING`),
		d.ID, d.BrandID, d.SubcategoryID, d.ScheduleRuleID, d.Source, d.Channel,
		formatInstant(d.ScheduledAtUTC), d.ScheduledAtFixedTZ, d.Approved, nullStr(d.Copy),
		encodeList(d.AssetIDs), formatInstant(d.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert draft: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for i := range jobs {
		j := &jobs[i]
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		j.DraftID = d.ID
		if j.Status == "" {
			j.Status = model.JobStatusPending
		}
		if _, err = tx.ExecContext(ctx, s.q(
			`INSERT INTO post_jobs(id, draft_id, schedule_rule_id, channel, target_month,
			   scheduled_at, scheduled_local, scheduled_tz, status)
			 VALUES(?,?,?,?,?,?,?,?,?)`),
			j.ID, j.DraftID, j.ScheduleRuleID, j.Channel, j.TargetMonth.Format(dateLayout),
			formatInstant(j.ScheduledAtUTC), j.ScheduledAtLocal, j.ScheduledTZ, j.Status,
		); err != nil {
			return false, fmt.Errorf("insert job %s: %w", j.Channel, err)
		}
	}

	d.PostJobID = jobs[0].ID
	if _, err = tx.ExecContext(ctx, s.q(`UPDATE drafts SET post_job_id = ? WHERE id = ?`), d.PostJobID, d.ID); err != nil {
		return false, fmt.Errorf("link primary job: %w", err)
	}
	for _, assetID := range d.AssetIDs {
		if _, err = tx.ExecContext(ctx, s.q(`UPDATE assets SET last_used_at = ? WHERE id = ? AND brand_id = ?`),
			formatInstant(d.CreatedAt), assetID, d.BrandID); err != nil {
			return false, fmt.Errorf("mark asset %s used: %w", assetID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	created = true
	return true, nil
}

const draftColumns = `id, brand_id, subcategory_id, schedule_rule_id, schedule_source, channel,
	scheduled_for, scheduled_for_secondary_tz, approved, copy, asset_ids, post_job_id, created_at`

// GetDraft returns ErrNotFound when no draft has id.
func (s *Store) GetDraft(ctx context.Context, id string) (model.Draft, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`), id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Draft{}, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Draft{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	return d, nil
}

// ListDrafts returns a brand's drafts ordered by scheduled time.
func (s *Store) ListDrafts(ctx context.Context, brandID string) ([]model.Draft, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+draftColumns+` FROM drafts WHERE brand_id = ? ORDER BY scheduled_for, subcategory_id`), brandID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var out []model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDraftCopy sets the generated copy of a draft.
func (s *Store) UpdateDraftCopy(ctx context.Context, id, copyText string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE drafts SET copy = ? WHERE id = ?`), copyText, id)
	if err != nil {
		return fmt.Errorf("update draft copy %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanDraft(sc scanner) (model.Draft, error) {
	var d model.Draft
	var scheduledFor, createdAt, assetIDs string
	var copyText, postJobID sql.NullString
	if err := sc.Scan(&d.ID, &d.BrandID, &d.SubcategoryID, &d.ScheduleRuleID, &d.Source, &d.Channel,
		&scheduledFor, &d.ScheduledAtFixedTZ, &d.Approved, &copyText, &assetIDs, &postJobID, &createdAt); err != nil {
		return model.Draft{}, err
	}
	d.Copy = copyText.String
	d.PostJobID = postJobID.String

	var err error
	if d.ScheduledAtUTC, err = parseInstant(scheduledFor); err != nil {
		return d, err
	}
	if d.CreatedAt, err = parseInstant(createdAt); err != nil {
		return d, err
	}
	if d.AssetIDs, err = decodeList[string](assetIDs); err != nil {
		return d, err
	}
	return d, nil
}

// ListJobs returns a draft's jobs ordered by channel.
func (s *Store) ListJobs(ctx context.Context, draftID string) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, draft_id, schedule_rule_id, channel, target_month, scheduled_at, scheduled_local, scheduled_tz, status
		 FROM post_jobs WHERE draft_id = ? ORDER BY channel`), draftID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		var j model.Job
		var month, scheduled string
		if err := rows.Scan(&j.ID, &j.DraftID, &j.ScheduleRuleID, &j.Channel, &month, &scheduled,
			&j.ScheduledAtLocal, &j.ScheduledTZ, &j.Status); err != nil {
			return nil, err
		}
		if j.TargetMonth, err = parseDateValue(month); err != nil {
			return nil, err
		}
		if j.ScheduledAtUTC, err = parseInstant(scheduled); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountJobs returns the number of jobs across a brand's drafts.
func (s *Store) CountJobs(ctx context.Context, brandID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM post_jobs j JOIN drafts d ON d.id = j.draft_id WHERE d.brand_id = ?`), brandID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}
