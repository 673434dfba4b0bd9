// Package learning implements the rule-interpretation learning cache: it
// matches incoming rule descriptions against learned patterns, persists
// interpreter output as new or merged patterns, folds validation outcomes
// into pattern confidence and retires or confirms patterns over time.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/rulelearn/internal/learning/index"
	"github.com/yungbote/rulelearn/internal/learning/textnorm"
	"github.com/yungbote/rulelearn/internal/logger"
	apperrors "github.com/yungbote/rulelearn/internal/pkg/errors"
	"github.com/yungbote/rulelearn/internal/repos"
	"github.com/yungbote/rulelearn/internal/types"
)

// PatternChange is broadcast on the pattern bus after every write so peer
// replicas can drop their index snapshot before the staleness bound expires.
type PatternChange struct {
	PatternID uuid.UUID `json:"pattern_id"`
	Op        string    `json:"op"` // saved|status|maintenance
}

// Bus is the optional cross-replica invalidation channel. Publishing is
// best-effort; the staleness bound already caps how long a replica can lag.
type Bus interface {
	Publish(ctx context.Context, ev PatternChange) error
}

type Config struct {
	MatchThreshold float64
	LowThreshold   float64
	HighThreshold  float64
	MinSampleSize  int64
}

func DefaultConfig() Config {
	return Config{
		MatchThreshold: 0.80,
		LowThreshold:   0.30,
		HighThreshold:  0.90,
		MinSampleSize:  10,
	}
}

type Service struct {
	repo repos.RulePatternRepo
	idx  *index.Index
	bus  Bus
	log  *logger.Logger
	cfg  Config
}

func NewService(repo repos.RulePatternRepo, idx *index.Index, bus Bus, baseLog *logger.Logger, cfg Config) *Service {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultConfig().MatchThreshold
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = DefaultConfig().LowThreshold
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = DefaultConfig().HighThreshold
	}
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = DefaultConfig().MinSampleSize
	}
	return &Service{
		repo: repo,
		idx:  idx,
		bus:  bus,
		log:  baseLog.With("service", "PatternLearningService"),
		cfg:  cfg,
	}
}

// FindMatch runs the two-stage lookup: field-scoped candidates first, the
// full corpus only when no field-scoped candidate clears the threshold. A
// miss is returned as a result, not an error; store failures wrap
// ErrStoreUnavailable so the caller can degrade to interpreting fresh.
func (s *Service) FindMatch(ctx context.Context, ruleText, fieldName string, threshold float64) (MatchResult, error) {
	if threshold <= 0 {
		threshold = s.cfg.MatchThreshold
	}
	queryNorm := textnorm.Normalize(ruleText)
	queryTokens := textnorm.Tokens(queryNorm)
	if len(queryTokens) == 0 {
		return MatchResult{}, nil
	}

	fieldName = strings.TrimSpace(fieldName)
	if fieldName != "" {
		candidates, err := s.idx.CandidatesFor(ctx, fieldName)
		if err != nil {
			return MatchResult{}, err
		}
		if best, score := bestMatch(queryTokens, queryNorm, candidates); best != nil && score >= threshold {
			return MatchResult{Matched: true, Pattern: best, Score: score, Stage: "field"}, nil
		}
	}

	candidates, err := s.idx.AllCandidates(ctx)
	if err != nil {
		return MatchResult{}, err
	}
	if best, score := bestMatch(queryTokens, queryNorm, candidates); best != nil && score >= threshold {
		return MatchResult{Matched: true, Pattern: best, Score: score, Stage: "global"}, nil
	}
	return MatchResult{}, nil
}

type SaveInput struct {
	RuleText         string
	FieldName        string
	RuleType         string
	Parameters       map[string]interface{}
	ErrorMessage     string
	Source           string
	SourceConfidence *float64
	ConfidenceBoost  float64
}

// SavePattern persists interpreter output as a learned pattern. Duplicate
// saves (same normalized text, same field) merge into the existing row.
func (s *Service) SavePattern(ctx context.Context, in SaveInput) (uuid.UUID, error) {
	normalized := textnorm.Normalize(in.RuleText)
	if normalized == "" {
		return uuid.Nil, fmt.Errorf("%w: empty rule text", apperrors.ErrInvalidPattern)
	}

	ruleType := strings.TrimSpace(in.RuleType)
	if !types.KnownRuleType(ruleType) {
		ruleType = types.RuleTypeCustom
	}
	source := in.Source
	if source != types.SourceUserConfirmed {
		source = types.SourceAISuggested
	}

	var params datatypes.JSON
	if in.Parameters != nil {
		raw, err := json.Marshal(in.Parameters)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: parameters not serializable: %v", apperrors.ErrInvalidPattern, err)
		}
		params = datatypes.JSON(raw)
	}

	row := &types.RulePattern{
		PatternHash:          textnorm.PatternHash(normalized),
		FieldNameHint:        strings.TrimSpace(in.FieldName),
		NormalizedText:       normalized,
		RuleType:             ruleType,
		Parameters:           params,
		ErrorMessageTemplate: in.ErrorMessage,
		ConfidenceScore:      InitialConfidence(in.SourceConfidence, in.ConfidenceBoost),
		Status:               types.StatusActive,
		Source:               source,
	}

	id, err := s.repo.Save(ctx, row)
	if err != nil {
		return uuid.Nil, err
	}
	s.idx.Invalidate()
	s.publish(ctx, PatternChange{PatternID: id, Op: "saved"})
	return id, nil
}

// RecordOutcome folds one completed validation run into a pattern's
// confidence and usage statistics, entirely through atomic store deltas.
func (s *Service) RecordOutcome(ctx context.Context, patternID uuid.UUID, errorCount, totalRows int64) error {
	outcome, err := ClassifyOutcome(errorCount, totalRows)
	if err != nil {
		return err
	}

	if err := s.repo.AtomicIncrement(ctx, patternID, "times_matched", 1); err != nil {
		return err
	}
	if outcome.Success {
		if err := s.repo.AtomicIncrement(ctx, patternID, "times_confirmed_success", 1); err != nil {
			return err
		}
	}
	if outcome.Failure {
		if err := s.repo.AtomicIncrement(ctx, patternID, "times_confirmed_failure", 1); err != nil {
			return err
		}
	}
	if outcome.Delta != 0 {
		if err := s.repo.AddConfidenceDelta(ctx, patternID, outcome.Delta); err != nil {
			return err
		}
	}
	if err := s.repo.TouchLastMatched(ctx, patternID, time.Now().UTC()); err != nil {
		return err
	}
	s.log.Debug("outcome recorded",
		"pattern_id", patternID,
		"bucket", outcome.Bucket,
		"error_count", errorCount,
		"total_rows", totalRows)
	return nil
}

// RunMaintenance executes one retire/confirm pass over the corpus.
func (s *Service) RunMaintenance(ctx context.Context) (MaintenanceSummary, error) {
	summary, err := RunMaintenance(ctx, MaintenanceDeps{Repo: s.repo, Log: s.log}, MaintenanceInput{
		LowThreshold:  s.cfg.LowThreshold,
		HighThreshold: s.cfg.HighThreshold,
		MinSampleSize: s.cfg.MinSampleSize,
	})
	if err != nil {
		return summary, err
	}
	if summary.Deactivated > 0 || summary.Confirmed > 0 {
		s.idx.Invalidate()
		s.publish(ctx, PatternChange{Op: "maintenance"})
	}
	return summary, nil
}

// SetPatternStatus applies a manual lifecycle action (reactivate,
// blacklist). The transition table still applies; blacklisted stays
// terminal.
func (s *Service) SetPatternStatus(ctx context.Context, patternID uuid.UUID, to string) error {
	if err := s.repo.SetStatus(ctx, patternID, to); err != nil {
		return err
	}
	s.idx.Invalidate()
	s.publish(ctx, PatternChange{PatternID: patternID, Op: "status"})
	return nil
}

func (s *Service) publish(ctx context.Context, ev PatternChange) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn("pattern bus publish failed", "op", ev.Op, "error", err)
	}
}

// OnRemoteChange is the pattern-bus callback: any remote write drops the
// local snapshot.
func (s *Service) OnRemoteChange(ev PatternChange) {
	s.idx.Invalidate()
	s.log.Debug("index invalidated by remote change", "op", ev.Op, "pattern_id", ev.PatternID)
}
