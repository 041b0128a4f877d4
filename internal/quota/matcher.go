// Package quota implements the bucket matching rules, target
// resolution and the admission decision state machine.
package quota

import (
	"strconv"
	"strings"

	"github.com/fieldset/quotad/internal/models"
)

// MatchBucket returns the bucket whose rule matches the answer value,
// or nil when no active bucket in the dimension matches. Buckets are
// tried in position order; for geo rules all candidates are scored and
// the most specific match wins. Malformed rules never match; they are
// rejected at configuration time by ValidateConfig.
func MatchBucket(buckets []models.QuotaBucket, dimensionKey string, value models.AnswerValue) *models.QuotaBucket {
	var best *models.QuotaBucket
	bestSpec := -1

	for i := range buckets {
		b := &buckets[i]
		if !b.IsActive || b.DimensionKey != dimensionKey {
			continue
		}
		if !matchRule(b.Rule, value) {
			continue
		}
		if b.Rule.Geo == nil {
			// Non-geo dimensions take the first match in position order.
			return b
		}
		if spec := b.Rule.Geo.Specificity(); spec > bestSpec {
			best, bestSpec = b, spec
		}
	}
	return best
}

func matchRule(rule models.BucketRule, value models.AnswerValue) bool {
	if rule.Geo != nil {
		return matchGeo(*rule.Geo, value)
	}

	switch rule.Operator {
	case models.OpBetween:
		if rule.Min == nil || rule.Max == nil {
			return false
		}
		n, ok := numericValue(value)
		return ok && n >= *rule.Min && n <= *rule.Max

	case models.OpGte:
		n, ok := numericValue(value)
		if !ok {
			return false
		}
		bound, err := strconv.ParseFloat(rule.Value, 64)
		return err == nil && n >= bound

	case models.OpLte:
		n, ok := numericValue(value)
		if !ok {
			return false
		}
		bound, err := strconv.ParseFloat(rule.Value, 64)
		return err == nil && n <= bound

	case models.OpEq:
		return value.Single != "" && value.Single == rule.Value

	case models.OpIn:
		if value.Single == "" {
			return false
		}
		for _, v := range rule.Values {
			if v == value.Single {
				return true
			}
		}
		return false

	case models.OpIntersects:
		for _, rv := range rule.Values {
			for _, av := range value.Multi {
				if rv == av {
					return true
				}
			}
		}
		return false
	}

	// Unknown operators never match.
	return false
}

// matchGeo matches hierarchically: every field the rule sets must equal
// the answer's corresponding field. Unset rule fields match anything.
func matchGeo(rule models.GeoRule, value models.AnswerValue) bool {
	loc := value.Location
	if loc == nil {
		return false
	}
	if rule.Country != "" && !strings.EqualFold(rule.Country, loc.Country) {
		return false
	}
	if rule.State != "" && !strings.EqualFold(rule.State, loc.State) {
		return false
	}
	if rule.City != "" && !strings.EqualFold(rule.City, loc.City) {
		return false
	}
	if rule.PostalCode != "" && !strings.EqualFold(rule.PostalCode, loc.PostalCode) {
		return false
	}
	return true
}

func numericValue(value models.AnswerValue) (float64, bool) {
	if value.Single == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(value.Single, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
