package quota

import (
	"fmt"

	"github.com/fieldset/quotad/internal/models"
)

// ReasonCode explains a non-qualified admission verdict.
type ReasonCode string

const (
	ReasonQuotaInactive ReasonCode = "QUOTA_INACTIVE"
	ReasonTotalFull     ReasonCode = "TOTAL_QUOTA_FULL"
	ReasonNoBucketMatch ReasonCode = "NO_BUCKET_MATCH"
	ReasonBucketFull    ReasonCode = "BUCKET_FULL"
)

// BucketMatch records which bucket an answer landed in and the ceiling
// it was evaluated against.
type BucketMatch struct {
	DimensionKey string
	BucketID     string
	Target       int
	Current      int
}

// Verdict is the outcome of evaluating one admission attempt against a
// quota snapshot.
type Verdict struct {
	Status models.RespondentStatus
	Reason ReasonCode
	// Dimension that triggered a TERMINATED / QUOTA_FULL verdict, when
	// one did.
	Dimension string
	// Matches carries one entry per answer that landed in a bucket, in
	// answer order, regardless of verdict.
	Matches []BucketMatch
}

// Evaluate runs the admission state machine against an in-transaction
// snapshot of the quota. Checks run in fixed precedence: quota active,
// total headroom, then per-dimension bucket match and bucket headroom
// in answer order. The first failing check decides the verdict; bucket
// matching still completes for every answer so failed attempts record
// where they would have counted.
func Evaluate(cfg *models.QuotaConfig, buckets []models.QuotaBucket, answers []models.Answer) (*Verdict, error) {
	v := &Verdict{Status: models.StatusQualified}

	decide := func(status models.RespondentStatus, reason ReasonCode, dim string) {
		if v.Status == models.StatusQualified {
			v.Status = status
			v.Reason = reason
			v.Dimension = dim
		}
	}

	if !cfg.IsActive {
		decide(models.StatusTerminated, ReasonQuotaInactive, "")
	}
	// A non-positive total target admits nobody: 0 >= 0 is already full.
	if cfg.CurrentCount >= cfg.TotalTarget {
		decide(models.StatusQuotaFull, ReasonTotalFull, "")
	}

	seen := make(map[string]bool, len(answers))
	for i := range answers {
		a := &answers[i]
		if a.DimensionKey == "" {
			return nil, fmt.Errorf("%w: answer %d missing dimension key", ErrConfiguration, i)
		}
		if seen[a.DimensionKey] {
			return nil, fmt.Errorf("%w: duplicate answer for dimension %q", ErrConfiguration, a.DimensionKey)
		}
		seen[a.DimensionKey] = true

		if !hasDimension(buckets, a.DimensionKey) {
			// Answers for dimensions the quota does not screen on are
			// ignored.
			continue
		}

		bucket := MatchBucket(buckets, a.DimensionKey, a.Value)
		if bucket == nil {
			decide(models.StatusTerminated, ReasonNoBucketMatch, a.DimensionKey)
			continue
		}

		target, err := ResolveTarget(bucket, cfg.TotalTarget)
		if err != nil {
			return nil, err
		}
		a.MatchedBucketID = bucket.ID
		v.Matches = append(v.Matches, BucketMatch{
			DimensionKey: a.DimensionKey,
			BucketID:     bucket.ID,
			Target:       target,
			Current:      bucket.CurrentCount,
		})
		if bucket.CurrentCount >= target {
			decide(models.StatusQuotaFull, ReasonBucketFull, a.DimensionKey)
		}
	}

	return v, nil
}

func hasDimension(buckets []models.QuotaBucket, key string) bool {
	for i := range buckets {
		if buckets[i].IsActive && buckets[i].DimensionKey == key {
			return true
		}
	}
	return false
}
