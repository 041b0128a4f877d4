package quota

import (
	"fmt"
	"math"

	"github.com/fieldset/quotad/internal/models"
)

// ResolveTarget returns the effective ceiling for a bucket. Absolute
// targets win over percentages; percentage targets resolve against the
// config total and round up, so a 25% bucket of a 41-respondent survey
// admits 11.
func ResolveTarget(bucket *models.QuotaBucket, totalTarget int) (int, error) {
	if bucket.TargetCount != nil {
		if *bucket.TargetCount < 0 {
			return 0, fmt.Errorf("%w: bucket %s has negative target count", ErrConfiguration, bucket.ID)
		}
		return *bucket.TargetCount, nil
	}
	if bucket.TargetPercentage != nil {
		pct := *bucket.TargetPercentage
		if pct < 0 || pct > 100 {
			return 0, fmt.Errorf("%w: bucket %s percentage %.2f out of range", ErrConfiguration, bucket.ID, pct)
		}
		return int(math.Ceil(float64(totalTarget) * pct / 100)), nil
	}
	return 0, fmt.Errorf("%w: bucket %s has neither target count nor percentage", ErrConfiguration, bucket.ID)
}
