package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
	"github.com/google/uuid"
)

type RespondentRepository struct {
	db *sql.DB

	// ReserveOnQualify counts slots at qualification instead of
	// completion. Terminating a qualified respondent then releases the
	// reserved slots.
	ReserveOnQualify bool
}

func NewRespondentRepository(db *sql.DB) *RespondentRepository {
	return &RespondentRepository{db: db}
}

const respondentColumns = `id, quota_id, survey_id, vendor_respondent_id, status, answers, response_id, redirect_url_called, redirect_called_at, created_at, updated_at`

// Admit evaluates one admission attempt and persists its outcome in a
// single transaction: the quota snapshot read, the verdict, the new
// respondent row and the counter updates all commit or roll back
// together.
func (r *RespondentRepository) Admit(ctx context.Context, surveyID, vendorRespondentID string, answers []models.Answer) (*models.Respondent, *quota.Verdict, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storeFail("begin admission", err)
	}
	defer tx.Rollback()

	cfg, err := getQuotaBySurvey(tx, surveyID)
	if err != nil {
		return nil, nil, storeFail("load quota", err)
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: no quota for survey %s", quota.ErrNotFound, surveyID)
	}
	buckets, err := getBuckets(tx, cfg.ID)
	if err != nil {
		return nil, nil, storeFail("load buckets", err)
	}

	verdict, err := quota.Evaluate(cfg, buckets, answers)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	resp := &models.Respondent{
		ID:                 uuid.New().String(),
		QuotaID:            cfg.ID,
		SurveyID:           surveyID,
		VendorRespondentID: vendorRespondentID,
		Status:             verdict.Status,
		Answers:            answers,
		RedirectURLCalled:  cfg.RedirectURL(verdict.Status),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	answersJSON, err := encodeAnswers(answers)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.Exec(`
		INSERT INTO respondents (id, quota_id, survey_id, vendor_respondent_id, status, answers, redirect_url_called, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.QuotaID, resp.SurveyID, resp.VendorRespondentID, resp.Status,
		answersJSON, resp.RedirectURLCalled, resp.CreatedAt, resp.UpdatedAt,
	)
	if err != nil {
		return nil, nil, storeFail("create respondent", err)
	}

	switch verdict.Status {
	case models.StatusQualified:
		if _, err := tx.Exec("UPDATE quotas SET qualified_count = qualified_count + 1, updated_at = ? WHERE id = ?", now, cfg.ID); err != nil {
			return nil, nil, storeFail("count qualification", err)
		}
		if r.ReserveOnQualify {
			if err := applySlotIncrements(tx, cfg, verdict.Matches, now); err != nil {
				return nil, nil, err
			}
		}
	case models.StatusTerminated:
		if _, err := tx.Exec("UPDATE quotas SET terminated_count = terminated_count + 1, updated_at = ? WHERE id = ?", now, cfg.ID); err != nil {
			return nil, nil, storeFail("count termination", err)
		}
	case models.StatusQuotaFull:
		if _, err := tx.Exec("UPDATE quotas SET quota_full_count = quota_full_count + 1, updated_at = ? WHERE id = ?", now, cfg.ID); err != nil {
			return nil, nil, storeFail("count quota overflow", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storeFail("commit admission", err)
	}
	return resp, verdict, nil
}

// Complete transitions a QUALIFIED respondent to COMPLETED and applies
// the deferred counter increments, all in one transaction. A second
// completion attempt for the same respondent is rejected.
func (r *RespondentRepository) Complete(ctx context.Context, surveyID, respondentID, responseID string) (*models.Respondent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeFail("begin completion", err)
	}
	defer tx.Rollback()

	cfg, resp, err := loadForTransition(tx, surveyID, respondentID)
	if err != nil {
		return nil, err
	}
	if resp.Status == models.StatusCompleted {
		return nil, fmt.Errorf("%w: respondent %s already completed", quota.ErrConflict, respondentID)
	}
	if resp.Status != models.StatusQualified {
		return nil, fmt.Errorf("%w: respondent %s is %s, only qualified respondents can complete", quota.ErrConflict, respondentID, resp.Status)
	}

	now := time.Now()
	resp.Status = models.StatusCompleted
	resp.ResponseID = responseID
	resp.RedirectURLCalled = cfg.CompletedURL
	resp.UpdatedAt = now
	_, err = tx.Exec(`
		UPDATE respondents SET status = ?, response_id = ?, redirect_url_called = ?, updated_at = ?
		WHERE id = ?`,
		resp.Status, resp.ResponseID, resp.RedirectURLCalled, resp.UpdatedAt, resp.ID,
	)
	if err != nil {
		return nil, storeFail("update respondent", err)
	}

	if !r.ReserveOnQualify {
		matches, err := resolveRecordedMatches(tx, cfg, resp)
		if err != nil {
			return nil, err
		}
		if err := applySlotIncrements(tx, cfg, matches, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeFail("commit completion", err)
	}
	return resp, nil
}

// Terminate transitions a QUALIFIED respondent to TERMINATED. With
// reservation-at-qualification enabled the slots the respondent held
// are released.
func (r *RespondentRepository) Terminate(ctx context.Context, surveyID, respondentID string) (*models.Respondent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeFail("begin termination", err)
	}
	defer tx.Rollback()

	cfg, resp, err := loadForTransition(tx, surveyID, respondentID)
	if err != nil {
		return nil, err
	}
	if resp.Status.Terminal() {
		return nil, fmt.Errorf("%w: respondent %s is already %s", quota.ErrConflict, respondentID, resp.Status)
	}

	now := time.Now()
	resp.Status = models.StatusTerminated
	resp.RedirectURLCalled = cfg.TerminatedURL
	resp.UpdatedAt = now
	_, err = tx.Exec(`
		UPDATE respondents SET status = ?, redirect_url_called = ?, updated_at = ? WHERE id = ?`,
		resp.Status, resp.RedirectURLCalled, resp.UpdatedAt, resp.ID,
	)
	if err != nil {
		return nil, storeFail("update respondent", err)
	}

	if _, err := tx.Exec("UPDATE quotas SET terminated_count = terminated_count + 1, updated_at = ? WHERE id = ?", now, cfg.ID); err != nil {
		return nil, storeFail("count termination", err)
	}

	if r.ReserveOnQualify {
		if err := releaseSlots(tx, cfg, resp, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeFail("commit termination", err)
	}
	return resp, nil
}

// GetByID returns a respondent by ID, or nil when it does not exist.
func (r *RespondentRepository) GetByID(id string) (*models.Respondent, error) {
	return scanRespondent(r.db.QueryRow(
		"SELECT "+respondentColumns+" FROM respondents WHERE id = ?", id))
}

// List returns respondents for a survey with optional filtering.
func (r *RespondentRepository) List(surveyID string, filter models.RespondentListFilter) ([]models.Respondent, int, error) {
	where := " WHERE survey_id = ?"
	args := []any{surveyID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.VendorRespondentID != "" {
		where += " AND vendor_respondent_id = ?"
		args = append(args, filter.VendorRespondentID)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM respondents"+where, args...).Scan(&total); err != nil {
		return nil, 0, storeFail("count respondents", err)
	}

	query := "SELECT " + respondentColumns + " FROM respondents" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, storeFail("list respondents", err)
	}
	defer rows.Close()

	respondents := []models.Respondent{}
	for rows.Next() {
		var resp models.Respondent
		var vendorID, answersJSON, responseID, redirectURL sql.NullString
		var redirectAt sql.NullTime
		err := rows.Scan(&resp.ID, &resp.QuotaID, &resp.SurveyID, &vendorID, &resp.Status, &answersJSON,
			&responseID, &redirectURL, &redirectAt, &resp.CreatedAt, &resp.UpdatedAt)
		if err != nil {
			return nil, 0, storeFail("scan respondent", err)
		}
		resp.VendorRespondentID = vendorID.String
		resp.ResponseID = responseID.String
		resp.RedirectURLCalled = redirectURL.String
		if redirectAt.Valid {
			resp.RedirectCalledAt = &redirectAt.Time
		}
		if answersJSON.Valid && answersJSON.String != "" {
			if err := decodeAnswers(answersJSON.String, &resp.Answers); err != nil {
				return nil, 0, err
			}
		}
		respondents = append(respondents, resp)
	}
	return respondents, total, rows.Err()
}

// MarkRedirectCalled records the processed redirect URL handed to the
// caller and when it was issued.
func (r *RespondentRepository) MarkRedirectCalled(id, url string) error {
	now := time.Now()
	_, err := r.db.Exec(
		"UPDATE respondents SET redirect_url_called = ?, redirect_called_at = ?, updated_at = ? WHERE id = ?",
		url, now, now, id)
	if err != nil {
		return storeFail("record redirect", err)
	}
	return nil
}

// loadForTransition loads the quota and respondent for a lifecycle
// transition and verifies the caller-supplied survey correlation.
func loadForTransition(tx *sql.Tx, surveyID, respondentID string) (*models.QuotaConfig, *models.Respondent, error) {
	cfg, err := getQuotaBySurvey(tx, surveyID)
	if err != nil {
		return nil, nil, storeFail("load quota", err)
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: no quota for survey %s", quota.ErrNotFound, surveyID)
	}
	resp, err := scanRespondent(tx.QueryRow(
		"SELECT "+respondentColumns+" FROM respondents WHERE id = ?", respondentID))
	if err != nil {
		return nil, nil, storeFail("load respondent", err)
	}
	if resp == nil || resp.QuotaID != cfg.ID {
		return nil, nil, fmt.Errorf("%w: respondent %s not found for survey %s", quota.ErrNotFound, respondentID, surveyID)
	}
	return cfg, resp, nil
}

// applySlotIncrements counts one admission slot on the master quota and
// each matched bucket. The guards make the ceiling check and increment
// one atomic statement, so a row past its target is never produced even
// if a stale snapshot slipped through.
func applySlotIncrements(tx *sql.Tx, cfg *models.QuotaConfig, matches []quota.BucketMatch, now time.Time) error {
	res, err := tx.Exec(`
		UPDATE quotas SET current_count = current_count + 1, updated_at = ?
		WHERE id = ? AND current_count < total_target`,
		now, cfg.ID,
	)
	if err != nil {
		return storeFail("increment quota count", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: survey %s quota is full", quota.ErrConflict, cfg.SurveyID)
	}

	for _, m := range matches {
		res, err := tx.Exec(`
			UPDATE quota_buckets SET current_count = current_count + 1
			WHERE id = ? AND current_count < ?`,
			m.BucketID, m.Target,
		)
		if err != nil {
			return storeFail("increment bucket count", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: bucket %s for dimension %s is full", quota.ErrConflict, m.BucketID, m.DimensionKey)
		}
	}
	return nil
}

// resolveRecordedMatches rebuilds BucketMatch entries from the bucket
// refs recorded on the respondent at admission time, resolving current
// ceilings inside the same transaction.
func resolveRecordedMatches(tx *sql.Tx, cfg *models.QuotaConfig, resp *models.Respondent) ([]quota.BucketMatch, error) {
	ids := resp.MatchedBucketIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	buckets, err := getBuckets(tx, cfg.ID)
	if err != nil {
		return nil, storeFail("load buckets", err)
	}
	byID := make(map[string]*models.QuotaBucket, len(buckets))
	for i := range buckets {
		byID[buckets[i].ID] = &buckets[i]
	}

	matches := make([]quota.BucketMatch, 0, len(ids))
	for _, id := range ids {
		b, ok := byID[id]
		if !ok {
			// The bucket was removed after admission; nothing to count.
			continue
		}
		target, err := quota.ResolveTarget(b, cfg.TotalTarget)
		if err != nil {
			return nil, err
		}
		matches = append(matches, quota.BucketMatch{
			DimensionKey: b.DimensionKey,
			BucketID:     b.ID,
			Target:       target,
			Current:      b.CurrentCount,
		})
	}
	return matches, nil
}

// releaseSlots undoes the reservation a qualified respondent held.
func releaseSlots(tx *sql.Tx, cfg *models.QuotaConfig, resp *models.Respondent, now time.Time) error {
	_, err := tx.Exec(`
		UPDATE quotas SET current_count = current_count - 1, updated_at = ?
		WHERE id = ? AND current_count > 0`,
		now, cfg.ID,
	)
	if err != nil {
		return storeFail("release quota slot", err)
	}
	for _, id := range resp.MatchedBucketIDs() {
		_, err := tx.Exec(`
			UPDATE quota_buckets SET current_count = current_count - 1
			WHERE id = ? AND current_count > 0`, id,
		)
		if err != nil {
			return storeFail("release bucket slot", err)
		}
	}
	return nil
}
