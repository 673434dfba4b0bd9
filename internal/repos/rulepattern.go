package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/rulelearn/internal/logger"
	apperrors "github.com/yungbote/rulelearn/internal/pkg/errors"
	"github.com/yungbote/rulelearn/internal/types"
)

// Counter columns that may be bumped through AtomicIncrement. Counters are
// monotone, so deltas must be positive.
var incrementableColumns = map[string]bool{
	"times_matched":           true,
	"times_confirmed_success": true,
	"times_confirmed_failure": true,
}

type RulePatternRepo interface {
	// Save upserts on (pattern_hash, field_name_hint). When a
	// non-blacklisted row already exists it is merged (counters bumped,
	// parameters unioned, confidence kept at the higher value) instead of
	// inserting a sibling.
	Save(ctx context.Context, row *types.RulePattern) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.RulePattern, error)
	ListByField(ctx context.Context, fieldName string) ([]*types.RulePattern, error)
	ListByStatus(ctx context.Context, statuses ...string) ([]*types.RulePattern, error)
	// ListMatchable returns the snapshot source for the index: active and
	// archived patterns.
	ListMatchable(ctx context.Context) ([]*types.RulePattern, error)
	// AtomicIncrement bumps a counter column by delta as a single UPDATE.
	AtomicIncrement(ctx context.Context, id uuid.UUID, column string, delta int64) error
	// AddConfidenceDelta applies a confidence delta clamped into [0,1] in
	// SQL, never read-modify-write.
	AddConfidenceDelta(ctx context.Context, id uuid.UUID, delta float64) error
	TouchLastMatched(ctx context.Context, id uuid.UUID, at time.Time) error
	// SetStatus applies a lifecycle transition, rejecting edges not in the
	// transition table.
	SetStatus(ctx context.Context, id uuid.UUID, to string) error
}

type rulePatternRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRulePatternRepo(db *gorm.DB, baseLog *logger.Logger) RulePatternRepo {
	return &rulePatternRepo{
		db:  db,
		log: baseLog.With("repo", "RulePatternRepo"),
	}
}

// storeErr maps driver failures onto the StoreUnavailable sentinel so the
// matching path can tell infrastructure failure apart from a miss.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrStoreUnavailable, err)
}

func (r *rulePatternRepo) Save(ctx context.Context, row *types.RulePattern) (uuid.UUID, error) {
	if row == nil || row.PatternHash == "" || row.NormalizedText == "" {
		return uuid.Nil, fmt.Errorf("%w: missing pattern hash or text", apperrors.ErrInvalidPattern)
	}
	if len(row.Parameters) > 0 && !json.Valid(row.Parameters) {
		return uuid.Nil, fmt.Errorf("%w: parameters are not valid JSON", apperrors.ErrInvalidPattern)
	}

	existing, err := r.findMergeTarget(ctx, row.PatternHash, row.FieldNameHint)
	if err != nil {
		return uuid.Nil, storeErr("save lookup", err)
	}
	if existing != nil {
		return r.merge(ctx, existing, row)
	}

	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = types.StatusActive
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err = r.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return row.ID, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a first-save race; the winner's row is the merge target now.
		existing, lookupErr := r.findMergeTarget(ctx, row.PatternHash, row.FieldNameHint)
		if lookupErr == nil && existing != nil {
			return r.merge(ctx, existing, row)
		}
	}
	return uuid.Nil, storeErr("save create", err)
}

// findMergeTarget returns the non-blacklisted row holding (hash, field), or
// nil when a fresh insert is due. Blacklisted rows never merge and never
// block a save; the unique index is scoped to match.
func (r *rulePatternRepo) findMergeTarget(ctx context.Context, hash, field string) (*types.RulePattern, error) {
	var existing types.RulePattern
	err := r.db.WithContext(ctx).
		Where("pattern_hash = ? AND field_name_hint = ? AND status <> ?",
			hash, field, types.StatusBlacklisted).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID == uuid.Nil {
		return nil, nil
	}
	return &existing, nil
}

// merge resolves a ConflictingDuplicate: counters reflect both saves,
// parameters are unioned with the incoming values winning on key conflicts,
// confidence keeps the higher of the two scores.
func (r *rulePatternRepo) merge(ctx context.Context, existing, incoming *types.RulePattern) (uuid.UUID, error) {
	params, err := mergeParameters(existing.Parameters, incoming.Parameters)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidPattern, err)
	}

	updates := map[string]interface{}{
		"times_matched": gorm.Expr("times_matched + ?", 1),
		"confidence_score": gorm.Expr(
			"CASE WHEN confidence_score >= ? THEN confidence_score ELSE ? END",
			incoming.ConfidenceScore, incoming.ConfidenceScore),
	}
	if params != nil {
		updates["parameters"] = datatypes.JSON(params)
	}
	if incoming.Source == types.SourceUserConfirmed {
		updates["source"] = types.SourceUserConfirmed
	}
	if incoming.ErrorMessageTemplate != "" {
		updates["error_message_template"] = incoming.ErrorMessageTemplate
	}

	if err := r.db.WithContext(ctx).
		Model(&types.RulePattern{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return uuid.Nil, storeErr("save merge", err)
	}
	r.log.Debug("merged duplicate pattern", "pattern_id", existing.ID, "pattern_hash", existing.PatternHash)
	return existing.ID, nil
}

func mergeParameters(existing, incoming []byte) ([]byte, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	if len(existing) == 0 {
		return incoming, nil
	}
	var base, overlay map[string]interface{}
	if err := json.Unmarshal(existing, &base); err != nil {
		// Existing row carries a non-object payload; keep incoming as-is.
		return incoming, nil
	}
	if err := json.Unmarshal(incoming, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

func (r *rulePatternRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.RulePattern, error) {
	if id == uuid.Nil {
		return nil, apperrors.ErrNotFound
	}
	var row types.RulePattern
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, storeErr("get", err)
	}
	if row.ID == uuid.Nil {
		return nil, apperrors.ErrNotFound
	}
	return &row, nil
}

func (r *rulePatternRepo) ListByField(ctx context.Context, fieldName string) ([]*types.RulePattern, error) {
	rows := []*types.RulePattern{}
	err := r.db.WithContext(ctx).
		Where("field_name_hint = ? AND status IN ?", fieldName,
			[]string{types.StatusActive, types.StatusArchived}).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list by field", err)
	}
	return rows, nil
}

func (r *rulePatternRepo) ListByStatus(ctx context.Context, statuses ...string) ([]*types.RulePattern, error) {
	rows := []*types.RulePattern{}
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list by status", err)
	}
	return rows, nil
}

func (r *rulePatternRepo) ListMatchable(ctx context.Context) ([]*types.RulePattern, error) {
	return r.ListByStatus(ctx, types.StatusActive, types.StatusArchived)
}

func (r *rulePatternRepo) AtomicIncrement(ctx context.Context, id uuid.UUID, column string, delta int64) error {
	if !incrementableColumns[column] {
		return fmt.Errorf("column %q is not incrementable", column)
	}
	if delta < 0 {
		return fmt.Errorf("counter %q only increases, got delta %d", column, delta)
	}
	if delta == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&types.RulePattern{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return storeErr("increment "+column, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *rulePatternRepo) AddConfidenceDelta(ctx context.Context, id uuid.UUID, delta float64) error {
	if delta == 0 {
		return nil
	}
	// CASE keeps the clamp inside a single UPDATE and works on both
	// postgres and sqlite.
	res := r.db.WithContext(ctx).
		Model(&types.RulePattern{}).
		Where("id = ?", id).
		Update("confidence_score", gorm.Expr(
			"CASE WHEN confidence_score + ? > 1.0 THEN 1.0 "+
				"WHEN confidence_score + ? < 0.0 THEN 0.0 "+
				"ELSE confidence_score + ? END",
			delta, delta, delta))
	if res.Error != nil {
		return storeErr("add confidence delta", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *rulePatternRepo) TouchLastMatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&types.RulePattern{}).
		Where("id = ?", id).
		Update("last_matched_at", at.UTC())
	if res.Error != nil {
		return storeErr("touch last matched", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *rulePatternRepo) SetStatus(ctx context.Context, id uuid.UUID, to string) error {
	if !types.ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidTransition, to)
	}
	row, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if row.Status == to {
		return nil
	}
	if !types.CanTransition(row.Status, to) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, row.Status, to)
	}
	// Guard on the observed status so a concurrent transition cannot be
	// overwritten through a stale read.
	res := r.db.WithContext(ctx).
		Model(&types.RulePattern{}).
		Where("id = ? AND status = ?", id, row.Status).
		Update("status", to)
	if res.Error != nil {
		return storeErr("set status", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s (status changed concurrently)", apperrors.ErrInvalidTransition, row.Status, to)
	}
	r.log.Debug("pattern status changed", "pattern_id", id, "from", row.Status, "to", to)
	return nil
}
