package quota

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fieldset/quotad/internal/models"
)

// ValidateConfig checks a quota definition before it is persisted. It
// returns ErrConfiguration with a description of the first problem
// found.
func ValidateConfig(cfg *models.QuotaConfig, buckets []models.QuotaBucket) error {
	if cfg.SurveyID == "" {
		return fmt.Errorf("%w: survey id is required", ErrConfiguration)
	}
	if cfg.TotalTarget < 0 {
		return fmt.Errorf("%w: total target must not be negative", ErrConfiguration)
	}

	byDim := make(map[string][]*models.QuotaBucket)
	for i := range buckets {
		b := &buckets[i]
		if b.DimensionKey == "" {
			return fmt.Errorf("%w: bucket %d missing dimension key", ErrConfiguration, i)
		}
		if err := validateRule(b); err != nil {
			return err
		}
		if b.TargetCount == nil && b.TargetPercentage == nil {
			return fmt.Errorf("%w: bucket %s/%s has no target", ErrConfiguration, b.DimensionKey, b.Label)
		}
		if b.TargetCount != nil && b.TargetPercentage != nil {
			return fmt.Errorf("%w: bucket %s/%s sets both count and percentage targets", ErrConfiguration, b.DimensionKey, b.Label)
		}
		if _, err := ResolveTarget(b, cfg.TotalTarget); err != nil {
			return err
		}
		byDim[b.DimensionKey] = append(byDim[b.DimensionKey], b)
	}

	for dim, dimBuckets := range byDim {
		if err := checkOverlaps(dim, dimBuckets); err != nil {
			return err
		}
		if err := checkTargetSums(cfg, dim, dimBuckets); err != nil {
			return err
		}
	}
	return nil
}

// checkTargetSums validates bucket targets against the quota total: a
// dimension expressed entirely in counts must sum to the total target,
// and percentage targets within a dimension must sum to 100.
func checkTargetSums(cfg *models.QuotaConfig, dim string, buckets []*models.QuotaBucket) error {
	countSum, pctSum := 0, 0.0
	counts, pcts := 0, 0
	for _, b := range buckets {
		if b.TargetCount != nil {
			countSum += *b.TargetCount
			counts++
		}
		if b.TargetPercentage != nil {
			pctSum += *b.TargetPercentage
			pcts++
		}
	}
	if counts > 0 && counts == len(buckets) && countSum != cfg.TotalTarget {
		return fmt.Errorf("%w: dimension %s bucket counts sum to %d, total target is %d", ErrConfiguration, dim, countSum, cfg.TotalTarget)
	}
	if pcts > 0 && math.Abs(pctSum-100) > 0.01 {
		return fmt.Errorf("%w: dimension %s bucket percentages sum to %g, must sum to 100", ErrConfiguration, dim, pctSum)
	}
	return nil
}

func validateRule(b *models.QuotaBucket) error {
	r := b.Rule
	if r.Geo != nil {
		if r.Geo.Specificity() == 0 {
			return fmt.Errorf("%w: bucket %s/%s geo rule constrains nothing", ErrConfiguration, b.DimensionKey, b.Label)
		}
		return nil
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("%w: bucket %s/%s has unknown operator %q", ErrConfiguration, b.DimensionKey, b.Label, r.Operator)
	}
	switch r.Operator {
	case models.OpBetween:
		if r.Min == nil || r.Max == nil {
			return fmt.Errorf("%w: bucket %s/%s BETWEEN rule requires min and max", ErrConfiguration, b.DimensionKey, b.Label)
		}
		if *r.Min > *r.Max {
			return fmt.Errorf("%w: bucket %s/%s BETWEEN min exceeds max", ErrConfiguration, b.DimensionKey, b.Label)
		}
	case models.OpEq:
		if r.Value == "" {
			return fmt.Errorf("%w: bucket %s/%s EQ rule requires a value", ErrConfiguration, b.DimensionKey, b.Label)
		}
	case models.OpGte, models.OpLte:
		if _, err := strconv.ParseFloat(r.Value, 64); err != nil {
			return fmt.Errorf("%w: bucket %s/%s %s rule requires a numeric value", ErrConfiguration, b.DimensionKey, b.Label, r.Operator)
		}
	case models.OpIn, models.OpIntersects:
		if len(r.Values) == 0 {
			return fmt.Errorf("%w: bucket %s/%s %s rule requires values", ErrConfiguration, b.DimensionKey, b.Label, r.Operator)
		}
	}
	return nil
}

// checkOverlaps rejects BETWEEN buckets whose ranges overlap within one
// dimension, which would make admission order-dependent.
func checkOverlaps(dim string, buckets []*models.QuotaBucket) error {
	var ranges []*models.QuotaBucket
	for _, b := range buckets {
		if b.Rule.Geo == nil && b.Rule.Operator == models.OpBetween && b.IsActive {
			ranges = append(ranges, b)
		}
	}
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			a, b := ranges[i], ranges[j]
			if *a.Rule.Min <= *b.Rule.Max && *b.Rule.Min <= *a.Rule.Max {
				return fmt.Errorf("%w: dimension %s buckets %q and %q have overlapping ranges", ErrConfiguration, dim, a.Label, b.Label)
			}
		}
	}
	return nil
}
