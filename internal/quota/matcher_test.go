package quota

import (
	"testing"

	"github.com/fieldset/quotad/internal/models"
)

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func ageBuckets() []models.QuotaBucket {
	return []models.QuotaBucket{
		{
			ID: "b-18-24", DimensionKey: "AGE", Label: "18-24", IsActive: true, Position: 0,
			Rule: models.BucketRule{Operator: models.OpBetween, Min: fptr(18), Max: fptr(24)},
		},
		{
			ID: "b-25-34", DimensionKey: "AGE", Label: "25-34", IsActive: true, Position: 1,
			Rule: models.BucketRule{Operator: models.OpBetween, Min: fptr(25), Max: fptr(34)},
		},
		{
			ID: "b-55-plus", DimensionKey: "AGE", Label: "55+", IsActive: true, Position: 2,
			Rule: models.BucketRule{Operator: models.OpGte, Value: "55"},
		},
	}
}

func TestMatchBucketBetween(t *testing.T) {
	buckets := ageBuckets()

	tests := []struct {
		name  string
		value models.AnswerValue
		want  string
	}{
		{"lower edge inclusive", models.Number("18"), "b-18-24"},
		{"upper edge inclusive", models.Number("24"), "b-18-24"},
		{"second range", models.Number("30"), "b-25-34"},
		{"gte rule", models.Number("61"), "b-55-plus"},
		{"gap between ranges", models.Number("40"), ""},
		{"non-numeric answer", models.AnswerValue{Single: "thirty"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchBucket(buckets, "AGE", tt.value)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected no match, got %s", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.want {
				t.Fatalf("expected bucket %s, got %v", tt.want, got)
			}
		})
	}
}

func TestMatchBucketEqAndIn(t *testing.T) {
	buckets := []models.QuotaBucket{
		{
			ID: "b-female", DimensionKey: "GENDER", IsActive: true,
			Rule: models.BucketRule{Operator: models.OpEq, Value: "female"},
		},
		{
			ID: "b-nurse", DimensionKey: "OCCUPATION", IsActive: true,
			Rule: models.BucketRule{Operator: models.OpIn, Values: []string{"nurse", "physician"}},
		},
	}

	if got := MatchBucket(buckets, "GENDER", models.AnswerValue{Single: "female"}); got == nil || got.ID != "b-female" {
		t.Fatalf("EQ should match exact value, got %v", got)
	}
	if got := MatchBucket(buckets, "GENDER", models.AnswerValue{Single: "Female"}); got != nil {
		t.Fatalf("EQ comparison is case-sensitive, %q must not match %q", "Female", "female")
	}
	if got := MatchBucket(buckets, "OCCUPATION", models.AnswerValue{Single: "physician"}); got == nil || got.ID != "b-nurse" {
		t.Fatalf("IN should match membership, got %v", got)
	}
	if got := MatchBucket(buckets, "OCCUPATION", models.AnswerValue{Single: "Physician"}); got != nil {
		t.Fatalf("IN membership is case-sensitive, got %s", got.ID)
	}
	if got := MatchBucket(buckets, "OCCUPATION", models.AnswerValue{Single: "teacher"}); got != nil {
		t.Fatalf("expected no match for non-member, got %s", got.ID)
	}
}

func TestMatchBucketIntersects(t *testing.T) {
	buckets := []models.QuotaBucket{
		{
			ID: "b-streaming", DimensionKey: "SERVICES", IsActive: true,
			Rule: models.BucketRule{Operator: models.OpIntersects, Values: []string{"netflix", "hulu"}},
		},
	}

	if got := MatchBucket(buckets, "SERVICES", models.AnswerValue{Multi: []string{"spotify", "hulu"}}); got == nil {
		t.Fatal("expected intersecting lists to match")
	}
	if got := MatchBucket(buckets, "SERVICES", models.AnswerValue{Multi: []string{"spotify", "Hulu"}}); got != nil {
		t.Fatal("set membership is case-sensitive, Hulu must not match hulu")
	}
	if got := MatchBucket(buckets, "SERVICES", models.AnswerValue{Multi: []string{"spotify"}}); got != nil {
		t.Fatal("expected disjoint lists not to match")
	}
}

func TestMatchBucketGeoMostSpecificWins(t *testing.T) {
	buckets := []models.QuotaBucket{
		{
			ID: "b-us", DimensionKey: "LOCATION", IsActive: true,
			Rule: models.BucketRule{Geo: &models.GeoRule{Country: "US"}},
		},
		{
			ID: "b-us-ca", DimensionKey: "LOCATION", IsActive: true,
			Rule: models.BucketRule{Geo: &models.GeoRule{Country: "US", State: "CA"}},
		},
		{
			ID: "b-us-ca-sf", DimensionKey: "LOCATION", IsActive: true,
			Rule: models.BucketRule{Geo: &models.GeoRule{Country: "US", State: "CA", City: "San Francisco"}},
		},
	}

	value := models.AnswerValue{Location: &models.GeoValue{Country: "us", State: "ca", City: "san francisco"}}
	if got := MatchBucket(buckets, "LOCATION", value); got == nil || got.ID != "b-us-ca-sf" {
		t.Fatalf("expected most specific geo bucket, got %v", got)
	}

	value = models.AnswerValue{Location: &models.GeoValue{Country: "US", State: "NY"}}
	if got := MatchBucket(buckets, "LOCATION", value); got == nil || got.ID != "b-us" {
		t.Fatalf("expected country-level fallback, got %v", got)
	}
}

func TestMatchBucketUnknownOperatorNeverMatches(t *testing.T) {
	buckets := []models.QuotaBucket{
		{
			ID: "b-like", DimensionKey: "AGE", IsActive: true,
			Rule: models.BucketRule{Operator: "LIKE", Value: "20"},
		},
	}
	if got := MatchBucket(buckets, "AGE", models.Number("20")); got != nil {
		t.Fatalf("unknown operator should never match, got %s", got.ID)
	}
}

func TestMatchBucketSkipsInactive(t *testing.T) {
	buckets := ageBuckets()
	buckets[0].IsActive = false

	if got := MatchBucket(buckets, "AGE", models.Number("20")); got != nil {
		t.Fatalf("inactive bucket should not match, got %s", got.ID)
	}
}
