package quota

import "github.com/fieldset/quotad/internal/models"

// StatusReport is the read-only fill summary served by the status
// endpoint.
type StatusReport struct {
	SurveyID        string         `json:"survey_id"`
	IsActive        bool           `json:"is_active"`
	TotalTarget     int            `json:"total_target"`
	CurrentCount    int            `json:"current_count"`
	Remaining       int            `json:"remaining"`
	FillPercentage  float64        `json:"fill_percentage"`
	QualifiedCount  int            `json:"qualified_count"`
	TerminatedCount int            `json:"terminated_count"`
	QuotaFullCount  int            `json:"quota_full_count"`
	Buckets         []BucketStatus `json:"buckets"`
}

// BucketStatus is the fill summary of one bucket with its percentage
// target resolved to an absolute ceiling.
type BucketStatus struct {
	BucketID       string  `json:"bucket_id"`
	DimensionKey   string  `json:"dimension_key"`
	Label          string  `json:"label,omitempty"`
	Target         int     `json:"target"`
	CurrentCount   int     `json:"current_count"`
	Remaining      int     `json:"remaining"`
	FillPercentage float64 `json:"fill_percentage"`
	IsActive       bool    `json:"is_active"`
	Full           bool    `json:"full"`
}

// FormatStatus builds the fill summary for a quota snapshot.
func FormatStatus(cfg *models.QuotaConfig, buckets []models.QuotaBucket) (*StatusReport, error) {
	report := &StatusReport{
		SurveyID:        cfg.SurveyID,
		IsActive:        cfg.IsActive,
		TotalTarget:     cfg.TotalTarget,
		CurrentCount:    cfg.CurrentCount,
		Remaining:       remaining(cfg.TotalTarget, cfg.CurrentCount),
		FillPercentage:  fillPct(cfg.CurrentCount, cfg.TotalTarget),
		QualifiedCount:  cfg.QualifiedCount,
		TerminatedCount: cfg.TerminatedCount,
		QuotaFullCount:  cfg.QuotaFullCount,
		Buckets:         make([]BucketStatus, 0, len(buckets)),
	}

	for i := range buckets {
		b := &buckets[i]
		target, err := ResolveTarget(b, cfg.TotalTarget)
		if err != nil {
			return nil, err
		}
		report.Buckets = append(report.Buckets, BucketStatus{
			BucketID:       b.ID,
			DimensionKey:   b.DimensionKey,
			Label:          b.Label,
			Target:         target,
			CurrentCount:   b.CurrentCount,
			Remaining:      remaining(target, b.CurrentCount),
			FillPercentage: fillPct(b.CurrentCount, target),
			IsActive:       b.IsActive,
			Full:           b.CurrentCount >= target,
		})
	}
	return report, nil
}

func remaining(target, current int) int {
	if r := target - current; r > 0 {
		return r
	}
	return 0
}

func fillPct(current, target int) float64 {
	if target <= 0 {
		return 0
	}
	return float64(current) / float64(target) * 100
}
