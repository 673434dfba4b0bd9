package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Pattern lifecycle statuses.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusArchived    = "archived"
	StatusBlacklisted = "blacklisted"
)

// Pattern provenance.
const (
	SourceAISuggested   = "ai_suggested"
	SourceUserConfirmed = "user_confirmed"
)

// Rule kinds the validation engine understands.
const (
	RuleTypeRequired      = "required"
	RuleTypeNoDuplicates  = "no_duplicates"
	RuleTypeFormat        = "format"
	RuleTypeAllowedValues = "allowed_values"
	RuleTypeRange         = "range"
	RuleTypeDateLogic     = "date_logic"
	RuleTypeCrossField    = "cross_field"
	RuleTypeCustom        = "custom"
	RuleTypeComposite     = "composite"
)

// KnownRuleType reports whether t is one of the enumerated rule kinds.
// Unknown kinds are coerced to custom at save time.
func KnownRuleType(t string) bool {
	switch t {
	case RuleTypeRequired, RuleTypeNoDuplicates, RuleTypeFormat, RuleTypeAllowedValues,
		RuleTypeRange, RuleTypeDateLogic, RuleTypeCrossField, RuleTypeCustom, RuleTypeComposite:
		return true
	}
	return false
}

// RulePattern is one learned (rule text -> structured interpretation)
// association. Rows are never deleted; retirement is a status change. Hash
// uniqueness is scoped to non-blacklisted rows so a blacklisted pattern never
// blocks relearning the same text.
type RulePattern struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PatternHash           string         `gorm:"column:pattern_hash;size:64;not null;index:idx_rule_pattern_hash_field,unique,priority:1,where:status <> 'blacklisted'" json:"pattern_hash"`
	FieldNameHint         string         `gorm:"column:field_name_hint;not null;default:'';index:idx_rule_pattern_hash_field,unique,priority:2" json:"field_name_hint"`
	NormalizedText        string         `gorm:"column:normalized_text;not null" json:"normalized_text"`
	RuleType              string         `gorm:"column:rule_type;not null;index" json:"rule_type"`
	Parameters            datatypes.JSON `gorm:"column:parameters;type:jsonb" json:"parameters,omitempty"`
	ErrorMessageTemplate  string         `gorm:"column:error_message_template;not null" json:"error_message_template"`
	ConfidenceScore       float64        `gorm:"column:confidence_score;not null;default:0" json:"confidence_score"` // 0..1
	Status                string         `gorm:"column:status;not null;default:'active';index" json:"status"`
	TimesMatched          int64          `gorm:"column:times_matched;not null;default:0" json:"times_matched"`
	TimesConfirmedSuccess int64          `gorm:"column:times_confirmed_success;not null;default:0" json:"times_confirmed_success"`
	TimesConfirmedFailure int64          `gorm:"column:times_confirmed_failure;not null;default:0" json:"times_confirmed_failure"`
	Source                string         `gorm:"column:source;not null;default:'ai_suggested'" json:"source"`
	CreatedAt             time.Time      `gorm:"not null" json:"created_at"`
	LastMatchedAt         *time.Time     `gorm:"column:last_matched_at" json:"last_matched_at,omitempty"`
}

func (RulePattern) TableName() string { return "rule_pattern" }

// statusTransitions is the pattern lifecycle table. blacklisted is terminal
// and inactive -> active exists for the manual reactivate action only; the
// maintenance job never takes that edge.
var statusTransitions = map[string]map[string]bool{
	StatusActive: {
		StatusInactive:    true,
		StatusArchived:    true,
		StatusBlacklisted: true,
	},
	StatusInactive: {
		StatusActive:      true,
		StatusBlacklisted: true,
	},
	StatusArchived: {
		StatusBlacklisted: true,
	},
	StatusBlacklisted: {},
}

// CanTransition reports whether the lifecycle table permits from -> to.
func CanTransition(from, to string) bool {
	return statusTransitions[from][to]
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	_, ok := statusTransitions[s]
	return ok
}
