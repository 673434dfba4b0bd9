package repos

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/rulelearn/internal/learning/textnorm"
	"github.com/yungbote/rulelearn/internal/logger"
	apperrors "github.com/yungbote/rulelearn/internal/pkg/errors"
	"github.com/yungbote/rulelearn/internal/types"
)

func testRepo(t *testing.T) RulePatternRepo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrator().DropTable(&types.RulePattern{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if err := db.AutoMigrate(&types.RulePattern{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewRulePatternRepo(db, log)
}

func newRow(text, field string, params map[string]interface{}) *types.RulePattern {
	norm := textnorm.Normalize(text)
	row := &types.RulePattern{
		PatternHash:     textnorm.PatternHash(norm),
		NormalizedText:  norm,
		FieldNameHint:   field,
		RuleType:        types.RuleTypeFormat,
		ConfidenceScore: 0.8,
		Source:          types.SourceAISuggested,
	}
	if params != nil {
		raw, _ := json.Marshal(params)
		row.Parameters = datatypes.JSON(raw)
	}
	return row
}

// Saving the same normalized text for the same field twice must merge into
// one row, not insert a sibling.
func TestSaveMergesOnHashAndField(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	first, err := repo.Save(ctx, newRow("8자리 YYYYMMDD", "입사일자", map[string]interface{}{"format": "YYYYMMDD"}))
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	second, err := repo.Save(ctx, newRow("8자리, yyyymmdd!", "입사일자", map[string]interface{}{"strict": true}))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if first != second {
		t.Fatalf("duplicate save inserted a sibling: %v vs %v", first, second)
	}

	row, err := repo.GetByID(ctx, first)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.TimesMatched != 1 {
		t.Fatalf("times_matched = %d after merge, want 1", row.TimesMatched)
	}

	var params map[string]interface{}
	if err := json.Unmarshal(row.Parameters, &params); err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if params["format"] != "YYYYMMDD" || params["strict"] != true {
		t.Fatalf("parameters not unioned: %v", params)
	}
}

func TestSaveMergeKeepsHigherConfidence(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	high := newRow("값은 0 이상", "평균임금", nil)
	high.ConfidenceScore = 0.9
	id, err := repo.Save(ctx, high)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	low := newRow("값은 0 이상", "평균임금", nil)
	low.ConfidenceScore = 0.5
	if _, err := repo.Save(ctx, low); err != nil {
		t.Fatalf("merge save: %v", err)
	}

	row, _ := repo.GetByID(ctx, id)
	if row.ConfidenceScore != 0.9 {
		t.Fatalf("confidence = %v after low-confidence merge, want 0.9", row.ConfidenceScore)
	}
}

func TestSaveMergeUpgradesSource(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, err := repo.Save(ctx, newRow("값은 0 이상", "평균임금", nil))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	confirmed := newRow("값은 0 이상", "평균임금", nil)
	confirmed.Source = types.SourceUserConfirmed
	if _, err := repo.Save(ctx, confirmed); err != nil {
		t.Fatalf("merge save: %v", err)
	}

	row, _ := repo.GetByID(ctx, id)
	if row.Source != types.SourceUserConfirmed {
		t.Fatalf("source = %s, want user_confirmed after confirmation", row.Source)
	}
}

func TestSaveSameTextDifferentFieldIsDistinct(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	a, err := repo.Save(ctx, newRow("YYYYMMDD 형식", "입사일자", nil))
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	b, err := repo.Save(ctx, newRow("YYYYMMDD 형식", "퇴사일자", nil))
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	if a == b {
		t.Fatalf("distinct fields merged into one row")
	}
}

func TestSaveRejectsInvalidRow(t *testing.T) {
	repo := testRepo(t)
	if _, err := repo.Save(context.Background(), &types.RulePattern{}); !errors.Is(err, apperrors.ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
	bad := newRow("값은 0 이상", "평균임금", nil)
	bad.Parameters = datatypes.JSON(`{not json`)
	if _, err := repo.Save(context.Background(), bad); !errors.Is(err, apperrors.ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
}

// Blacklisting must not block relearning: a later save of the same text and
// field inserts a fresh active row beside the blacklisted one instead of
// tripping the uniqueness constraint.
func TestResaveAfterBlacklistCreatesFreshRow(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	first, err := repo.Save(ctx, newRow("이상한 규칙", "성명", nil))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SetStatus(ctx, first, types.StatusBlacklisted); err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	second, err := repo.Save(ctx, newRow("이상한 규칙", "성명", nil))
	if err != nil {
		t.Fatalf("re-save after blacklist: %v", err)
	}
	if second == first {
		t.Fatalf("re-save merged into the blacklisted row")
	}
	fresh, err := repo.GetByID(ctx, second)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fresh.Status != types.StatusActive {
		t.Fatalf("fresh row status = %s, want active", fresh.Status)
	}
	old, _ := repo.GetByID(ctx, first)
	if old.Status != types.StatusBlacklisted {
		t.Fatalf("blacklisted row status = %s, want blacklisted", old.Status)
	}

	// Merging resumes against the fresh row.
	third, err := repo.Save(ctx, newRow("이상한 규칙", "성명", nil))
	if err != nil {
		t.Fatalf("third save: %v", err)
	}
	if third != second {
		t.Fatalf("third save did not merge into the fresh row: %v vs %v", third, second)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo := testRepo(t)
	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByID(context.Background(), uuid.Nil); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("nil id err = %v, want ErrNotFound", err)
	}
}

func TestAddConfidenceDeltaClampsBothEnds(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	row := newRow("YYYYMMDD 형식", "입사일자", nil)
	row.ConfidenceScore = 0.99
	id, err := repo.Save(ctx, row)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.AddConfidenceDelta(ctx, id, 0.05); err != nil {
		t.Fatalf("AddConfidenceDelta: %v", err)
	}
	got, _ := repo.GetByID(ctx, id)
	if got.ConfidenceScore != 1.0 {
		t.Fatalf("confidence = %v, want clamp at 1.0", got.ConfidenceScore)
	}

	if err := repo.AddConfidenceDelta(ctx, id, -2.0); err != nil {
		t.Fatalf("AddConfidenceDelta: %v", err)
	}
	got, _ = repo.GetByID(ctx, id)
	if got.ConfidenceScore != 0.0 {
		t.Fatalf("confidence = %v, want clamp at 0.0", got.ConfidenceScore)
	}

	if err := repo.AddConfidenceDelta(ctx, uuid.New(), 0.01); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestAtomicIncrementGuards(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, err := repo.Save(ctx, newRow("값은 0 이상", "평균임금", nil))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.AtomicIncrement(ctx, id, "times_matched", 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	row, _ := repo.GetByID(ctx, id)
	if row.TimesMatched != 3 {
		t.Fatalf("times_matched = %d, want 3", row.TimesMatched)
	}

	if err := repo.AtomicIncrement(ctx, id, "times_matched", -1); err == nil {
		t.Fatalf("negative delta must be rejected")
	}
	if err := repo.AtomicIncrement(ctx, id, "confidence_score", 1); err == nil {
		t.Fatalf("non-counter column must be rejected")
	}
	if err := repo.AtomicIncrement(ctx, uuid.New(), "times_matched", 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestSetStatusEnforcesTransitionTable(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	id, err := repo.Save(ctx, newRow("이상한 규칙", "성명", nil))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.SetStatus(ctx, id, types.StatusBlacklisted); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	// Blacklisted is terminal.
	if err := repo.SetStatus(ctx, id, types.StatusActive); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if err := repo.SetStatus(ctx, id, "bogus"); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("unknown status err = %v, want ErrInvalidTransition", err)
	}
	// Same-status is a no-op, not an error.
	if err := repo.SetStatus(ctx, id, types.StatusBlacklisted); err != nil {
		t.Fatalf("same-status set: %v", err)
	}
}

func TestListMatchableIncludesArchivedOnly(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	active, _ := repo.Save(ctx, newRow("활성 규칙", "a", nil))
	archived, _ := repo.Save(ctx, newRow("확정 규칙", "b", nil))
	inactive, _ := repo.Save(ctx, newRow("퇴역 규칙", "c", nil))
	blacklisted, _ := repo.Save(ctx, newRow("차단 규칙", "d", nil))

	if err := repo.SetStatus(ctx, archived, types.StatusArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := repo.SetStatus(ctx, inactive, types.StatusInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := repo.SetStatus(ctx, blacklisted, types.StatusBlacklisted); err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	rows, err := repo.ListMatchable(ctx)
	if err != nil {
		t.Fatalf("ListMatchable: %v", err)
	}
	got := map[uuid.UUID]bool{}
	for _, row := range rows {
		got[row.ID] = true
	}
	if len(rows) != 2 || !got[active] || !got[archived] {
		t.Fatalf("matchable set wrong: %v", got)
	}
}

func TestListByFieldScopesAndFilters(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	want, _ := repo.Save(ctx, newRow("YYYYMMDD 형식", "입사일자", nil))
	if _, err := repo.Save(ctx, newRow("다른 필드 규칙", "퇴사일자", nil)); err != nil {
		t.Fatalf("save other field: %v", err)
	}
	retired, _ := repo.Save(ctx, newRow("퇴역 규칙", "입사일자", nil))
	if err := repo.SetStatus(ctx, retired, types.StatusInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	rows, err := repo.ListByField(ctx, "입사일자")
	if err != nil {
		t.Fatalf("ListByField: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != want {
		t.Fatalf("field scope wrong: got %d rows", len(rows))
	}
}
