// Package repository implements SQLite persistence for quotas,
// respondents and API keys. All admission and reconciliation writes go
// through single transactions so counters and respondent rows can never
// diverge.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldset/quotad/internal/models"
	"github.com/fieldset/quotad/internal/quota"
)

// querier is satisfied by both *sql.DB and *sql.Tx so row loading can
// be shared between plain reads and transactional paths.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// storeFail wraps an infrastructure-level database error so callers can
// classify it as retryable.
func storeFail(op string, err error) error {
	return fmt.Errorf("failed to %s: %w", op, errors.Join(quota.ErrTransientStore, err))
}

func getQuotaBySurvey(q querier, surveyID string) (*models.QuotaConfig, error) {
	c := &models.QuotaConfig{}
	var completedURL, terminatedURL, quotaFullURL sql.NullString
	err := q.QueryRow(`
		SELECT id, survey_id, total_target, current_count, qualified_count, terminated_count, quota_full_count,
		       is_active, vendor_managed, completed_url, terminated_url, quota_full_url, created_at, updated_at
		FROM quotas WHERE survey_id = ?`, surveyID,
	).Scan(&c.ID, &c.SurveyID, &c.TotalTarget, &c.CurrentCount, &c.QualifiedCount, &c.TerminatedCount,
		&c.QuotaFullCount, &c.IsActive, &c.VendorManaged, &completedURL, &terminatedURL, &quotaFullURL,
		&c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CompletedURL = completedURL.String
	c.TerminatedURL = terminatedURL.String
	c.QuotaFullURL = quotaFullURL.String
	return c, nil
}

func getBuckets(q querier, quotaID string) ([]models.QuotaBucket, error) {
	rows, err := q.Query(`
		SELECT id, quota_id, dimension_key, label, rule, target_count, target_percentage, current_count, is_active, position
		FROM quota_buckets WHERE quota_id = ?
		ORDER BY dimension_key, position`, quotaID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := []models.QuotaBucket{}
	for rows.Next() {
		var b models.QuotaBucket
		var label sql.NullString
		var ruleJSON string
		var targetCount sql.NullInt64
		var targetPct sql.NullFloat64
		err := rows.Scan(&b.ID, &b.QuotaID, &b.DimensionKey, &label, &ruleJSON,
			&targetCount, &targetPct, &b.CurrentCount, &b.IsActive, &b.Position)
		if err != nil {
			return nil, err
		}
		b.Label = label.String
		if err := json.Unmarshal([]byte(ruleJSON), &b.Rule); err != nil {
			return nil, fmt.Errorf("failed to decode bucket %s rule: %w", b.ID, err)
		}
		if targetCount.Valid {
			n := int(targetCount.Int64)
			b.TargetCount = &n
		}
		if targetPct.Valid {
			p := targetPct.Float64
			b.TargetPercentage = &p
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func scanRespondent(row *sql.Row) (*models.Respondent, error) {
	r := &models.Respondent{}
	var vendorID, answersJSON, responseID, redirectURL sql.NullString
	var redirectAt sql.NullTime
	err := row.Scan(&r.ID, &r.QuotaID, &r.SurveyID, &vendorID, &r.Status, &answersJSON,
		&responseID, &redirectURL, &redirectAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.VendorRespondentID = vendorID.String
	r.ResponseID = responseID.String
	r.RedirectURLCalled = redirectURL.String
	if redirectAt.Valid {
		r.RedirectCalledAt = &redirectAt.Time
	}
	if answersJSON.Valid && answersJSON.String != "" {
		if err := json.Unmarshal([]byte(answersJSON.String), &r.Answers); err != nil {
			return nil, fmt.Errorf("failed to decode respondent %s answers: %w", r.ID, err)
		}
	}
	return r, nil
}

func decodeAnswers(raw string, answers *[]models.Answer) error {
	if err := json.Unmarshal([]byte(raw), answers); err != nil {
		return fmt.Errorf("failed to decode answers: %w", err)
	}
	return nil
}

func encodeAnswers(answers []models.Answer) (string, error) {
	if len(answers) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("failed to encode answers: %w", err)
	}
	return string(data), nil
}
