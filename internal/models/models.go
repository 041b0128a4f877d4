// Package models defines the persistent records shared by the quota
// engine, repositories and API layer.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RespondentStatus is the lifecycle state of an admission attempt.
type RespondentStatus string

const (
	// StatusQualified is the only provisional status; a qualified
	// respondent may later transition to COMPLETED or TERMINATED.
	StatusQualified  RespondentStatus = "QUALIFIED"
	StatusTerminated RespondentStatus = "TERMINATED"
	StatusQuotaFull  RespondentStatus = "QUOTA_FULL"
	StatusCompleted  RespondentStatus = "COMPLETED"
)

// Terminal reports whether the status permits no further transition.
func (s RespondentStatus) Terminal() bool {
	return s == StatusTerminated || s == StatusQuotaFull || s == StatusCompleted
}

// Valid reports whether s is one of the known statuses.
func (s RespondentStatus) Valid() bool {
	switch s {
	case StatusQualified, StatusTerminated, StatusQuotaFull, StatusCompleted:
		return true
	}
	return false
}

// Operator identifies a bucket matching rule.
type Operator string

const (
	OpBetween    Operator = "BETWEEN"
	OpIn         Operator = "IN"
	OpEq         Operator = "EQ"
	OpGte        Operator = "GTE"
	OpLte        Operator = "LTE"
	OpIntersects Operator = "INTERSECTS"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpBetween, OpIn, OpEq, OpGte, OpLte, OpIntersects:
		return true
	}
	return false
}

// GeoRule matches a location answer hierarchically: every field set on
// the rule must equal the corresponding answer field (case-insensitive).
type GeoRule struct {
	Country    string `json:"country,omitempty"`
	State      string `json:"state,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Specificity counts the fields the rule constrains. When several geo
// buckets match one answer, the most specific one wins.
func (g GeoRule) Specificity() int {
	n := 0
	for _, f := range []string{g.Country, g.State, g.City, g.PostalCode} {
		if f != "" {
			n++
		}
	}
	return n
}

// BucketRule is the matching condition of a quota bucket, stored as a
// JSON column. Which operand fields are meaningful depends on Operator;
// Geo, when set, switches the bucket to hierarchical location matching.
type BucketRule struct {
	Operator Operator `json:"operator"`
	// BETWEEN operands, inclusive on both ends.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	// EQ / GTE / LTE operand.
	Value string `json:"value,omitempty"`
	// IN / INTERSECTS operand.
	Values []string `json:"values,omitempty"`
	Geo    *GeoRule `json:"geo,omitempty"`
}

// QuotaConfig is the per-survey master quota with its running counters.
type QuotaConfig struct {
	ID          string `json:"id"`
	SurveyID    string `json:"survey_id"`
	TotalTarget int    `json:"total_target"`

	CurrentCount    int `json:"current_count"`
	QualifiedCount  int `json:"qualified_count"`
	TerminatedCount int `json:"terminated_count"`
	QuotaFullCount  int `json:"quota_full_count"`

	IsActive      bool `json:"is_active"`
	VendorManaged bool `json:"vendor_managed"`

	// Per-status callback URLs; {respondent_id}, {survey_id}, {status}
	// and {timestamp} placeholders are substituted before the redirect
	// is handed to the caller.
	CompletedURL  string `json:"completed_url,omitempty"`
	TerminatedURL string `json:"terminated_url,omitempty"`
	QuotaFullURL  string `json:"quota_full_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedirectURL returns the configured callback URL for a terminal status,
// or "" when none applies.
func (q *QuotaConfig) RedirectURL(status RespondentStatus) string {
	switch status {
	case StatusCompleted:
		return q.CompletedURL
	case StatusTerminated:
		return q.TerminatedURL
	case StatusQuotaFull:
		return q.QuotaFullURL
	}
	return ""
}

// QuotaBucket is one sub-quota within a screening dimension. Exactly one
// of TargetCount and TargetPercentage is set; percentage targets resolve
// against the config's TotalTarget at evaluation time.
type QuotaBucket struct {
	ID           string     `json:"id"`
	QuotaID      string     `json:"quota_id"`
	DimensionKey string     `json:"dimension_key"`
	Label        string     `json:"label,omitempty"`
	Rule         BucketRule `json:"rule"`

	TargetCount      *int     `json:"target_count,omitempty"`
	TargetPercentage *float64 `json:"target_percentage,omitempty"`
	CurrentCount     int      `json:"current_count"`

	IsActive bool `json:"is_active"`
	Position int  `json:"position"`
}

// AnswerValue is one screening answer value: a scalar (string or
// number), a multi-select list, or a location composite. Exactly one
// field is populated.
type AnswerValue struct {
	Single   string    `json:"-"`
	Multi    []string  `json:"-"`
	Location *GeoValue `json:"-"`

	isNumber bool
}

// GeoValue is the location answer matched against GeoRule buckets.
type GeoValue struct {
	Country    string `json:"country,omitempty"`
	State      string `json:"state,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// UnmarshalJSON accepts a string, a number, an array of strings, or a
// location object, mirroring the inbound admission contract.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = AnswerValue{Single: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = AnswerValue{Single: n.String(), isNumber: true}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = AnswerValue{Multi: list}
		return nil
	}
	var geo GeoValue
	if err := json.Unmarshal(data, &geo); err == nil {
		*v = AnswerValue{Location: &geo}
		return nil
	}
	return fmt.Errorf("answer value must be a string, number, string array or location object")
}

// MarshalJSON writes the value back in the same shape it arrived in.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Location != nil:
		return json.Marshal(v.Location)
	case v.Multi != nil:
		return json.Marshal(v.Multi)
	case v.isNumber:
		return []byte(v.Single), nil
	default:
		return json.Marshal(v.Single)
	}
}

// Number marks the value as numeric so it round-trips as a JSON number.
func Number(s string) AnswerValue {
	return AnswerValue{Single: s, isNumber: true}
}

// Answer pairs a screening dimension with the value the respondent
// supplied. MatchedBucketID is filled at admission time so completion
// can increment the same buckets without re-running the rules.
type Answer struct {
	DimensionKey    string      `json:"dimension_key"`
	Value           AnswerValue `json:"value"`
	MatchedBucketID string      `json:"matched_bucket_id,omitempty"`
}

// Respondent is one admission attempt. Rows are created with a terminal
// status (TERMINATED / QUOTA_FULL) or the provisional QUALIFIED, which
// may later flip exactly once to COMPLETED or TERMINATED.
type Respondent struct {
	ID                 string           `json:"id"`
	QuotaID            string           `json:"quota_id"`
	SurveyID           string           `json:"survey_id"`
	VendorRespondentID string           `json:"vendor_respondent_id,omitempty"`
	Status             RespondentStatus `json:"status"`
	Answers            []Answer         `json:"answers,omitempty"`
	ResponseID         string           `json:"response_id,omitempty"`

	RedirectURLCalled string     `json:"redirect_url_called,omitempty"`
	RedirectCalledAt  *time.Time `json:"redirect_called_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchedBucketIDs returns the bucket refs recorded at admission time,
// in answer order.
func (r *Respondent) MatchedBucketIDs() []string {
	var ids []string
	for _, a := range r.Answers {
		if a.MatchedBucketID != "" {
			ids = append(ids, a.MatchedBucketID)
		}
	}
	return ids
}

// RespondentListFilter narrows respondent listings.
type RespondentListFilter struct {
	Status             RespondentStatus
	VendorRespondentID string
	Limit              int
	Offset             int
}

// APIKey is a service credential; only the SHA-256 hash of the key is
// stored.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
