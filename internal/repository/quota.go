package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fieldset/quotad/internal/metrics"
	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
	"github.com/google/uuid"
)

type QuotaRepository struct {
	db *sql.DB
}

func NewQuotaRepository(db *sql.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Upsert creates or replaces the quota definition for a survey. On
// update the definition fields and bucket rules are replaced while all
// running counters are preserved; buckets absent from the new
// definition are removed.
func (r *QuotaRepository) Upsert(cfg *models.QuotaConfig, buckets []models.QuotaBucket) error {
	tx, err := r.db.Begin()
	if err != nil {
		return storeFail("begin quota upsert", err)
	}
	defer tx.Rollback()

	now := time.Now()
	existing, err := getQuotaBySurvey(tx, cfg.SurveyID)
	if err != nil {
		return storeFail("load quota", err)
	}

	if existing == nil {
		cfg.ID = uuid.New().String()
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		_, err = tx.Exec(`
			INSERT INTO quotas (id, survey_id, total_target, is_active, vendor_managed, completed_url, terminated_url, quota_full_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.ID, cfg.SurveyID, cfg.TotalTarget, cfg.IsActive, cfg.VendorManaged,
			cfg.CompletedURL, cfg.TerminatedURL, cfg.QuotaFullURL, cfg.CreatedAt, cfg.UpdatedAt,
		)
		if err != nil {
			return storeFail("create quota", err)
		}
	} else {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
		cfg.UpdatedAt = now
		_, err = tx.Exec(`
			UPDATE quotas SET total_target = ?, is_active = ?, vendor_managed = ?,
			       completed_url = ?, terminated_url = ?, quota_full_url = ?, updated_at = ?
			WHERE id = ?`,
			cfg.TotalTarget, cfg.IsActive, cfg.VendorManaged,
			cfg.CompletedURL, cfg.TerminatedURL, cfg.QuotaFullURL, cfg.UpdatedAt, cfg.ID,
		)
		if err != nil {
			return storeFail("update quota", err)
		}
	}

	kept := make([]any, 0, len(buckets)+1)
	kept = append(kept, cfg.ID)
	for i := range buckets {
		b := &buckets[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		b.QuotaID = cfg.ID
		if b.Position == 0 {
			b.Position = i
		}

		ruleJSON, err := json.Marshal(b.Rule)
		if err != nil {
			return fmt.Errorf("failed to encode bucket rule: %w", err)
		}
		// Re-submitted buckets keep their current_count.
		_, err = tx.Exec(`
			INSERT INTO quota_buckets (id, quota_id, dimension_key, label, rule, target_count, target_percentage, is_active, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				dimension_key = excluded.dimension_key,
				label = excluded.label,
				rule = excluded.rule,
				target_count = excluded.target_count,
				target_percentage = excluded.target_percentage,
				is_active = excluded.is_active,
				position = excluded.position`,
			b.ID, b.QuotaID, b.DimensionKey, b.Label, string(ruleJSON),
			b.TargetCount, b.TargetPercentage, b.IsActive, b.Position,
		)
		if err != nil {
			return storeFail("save bucket", err)
		}
		kept = append(kept, b.ID)
	}

	deleteQuery := "DELETE FROM quota_buckets WHERE quota_id = ?"
	if len(buckets) > 0 {
		deleteQuery += " AND id NOT IN (?" + strings.Repeat(",?", len(buckets)-1) + ")"
	}
	if _, err := tx.Exec(deleteQuery, kept...); err != nil {
		return storeFail("prune buckets", err)
	}

	if err := tx.Commit(); err != nil {
		return storeFail("commit quota upsert", err)
	}
	return nil
}

// GetBySurveyID returns the quota for a survey, or nil when the survey
// has none.
func (r *QuotaRepository) GetBySurveyID(surveyID string) (*models.QuotaConfig, error) {
	return getQuotaBySurvey(r.db, surveyID)
}

// GetBuckets returns all buckets of a quota ordered by dimension and
// position.
func (r *QuotaRepository) GetBuckets(quotaID string) ([]models.QuotaBucket, error) {
	return getBuckets(r.db, quotaID)
}

// Status returns the fill summary for a survey's quota. The read is
// outside any transaction; it may trail in-flight admissions and must
// not be used to gate them.
func (r *QuotaRepository) Status(surveyID string) (*quota.StatusReport, error) {
	cfg, err := getQuotaBySurvey(r.db, surveyID)
	if err != nil {
		return nil, storeFail("load quota", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: no quota for survey %s", quota.ErrNotFound, surveyID)
	}
	buckets, err := getBuckets(r.db, cfg.ID)
	if err != nil {
		return nil, storeFail("load buckets", err)
	}
	return quota.FormatStatus(cfg, buckets)
}

// FillStats returns the fill state of every quota for gauge refresh.
func (r *QuotaRepository) FillStats(ctx context.Context) ([]metrics.FillStat, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT survey_id, current_count, total_target FROM quotas")
	if err != nil {
		return nil, storeFail("load fill stats", err)
	}
	defer rows.Close()

	var stats []metrics.FillStat
	for rows.Next() {
		var s metrics.FillStat
		if err := rows.Scan(&s.SurveyID, &s.CurrentCount, &s.TotalTarget); err != nil {
			return nil, storeFail("scan fill stats", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// SetActive flips the master switch without touching the definition.
func (r *QuotaRepository) SetActive(surveyID string, active bool) error {
	res, err := r.db.Exec("UPDATE quotas SET is_active = ?, updated_at = ? WHERE survey_id = ?",
		active, time.Now(), surveyID)
	if err != nil {
		return storeFail("update quota", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: no quota for survey %s", quota.ErrNotFound, surveyID)
	}
	return nil
}

// Delete removes a quota and, via cascade, its buckets and respondents.
func (r *QuotaRepository) Delete(surveyID string) error {
	res, err := r.db.Exec("DELETE FROM quotas WHERE survey_id = ?", surveyID)
	if err != nil {
		return storeFail("delete quota", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: no quota for survey %s", quota.ErrNotFound, surveyID)
	}
	return nil
}
