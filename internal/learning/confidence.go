package learning

import (
	"fmt"
	"math"
)

// MaxInitialConfidence caps what any interpreter-supplied confidence can
// seed; only an explicit caller boost can push a pattern above it.
const MaxInitialConfidence = 0.95

type FeedbackBucket string

const (
	BucketExcellent  FeedbackBucket = "excellent"
	BucketSuccess    FeedbackBucket = "success"
	BucketAcceptable FeedbackBucket = "acceptable"
	BucketWarning    FeedbackBucket = "warning"
	BucketFailure    FeedbackBucket = "failure"
)

// Outcome is the classification of one completed validation run.
type Outcome struct {
	Bucket  FeedbackBucket
	Delta   float64
	Success bool
	Failure bool
}

// feedbackBuckets maps a run's error rate onto a confidence delta. Ordered;
// the first bucket whose (exclusive) bound exceeds the rate wins.
var feedbackBuckets = []struct {
	upperRate float64
	outcome   Outcome
}{
	{0.02, Outcome{BucketExcellent, 0.01, true, false}},
	{0.05, Outcome{BucketSuccess, 0.005, true, false}},
	{0.10, Outcome{BucketAcceptable, 0, false, false}},
	{0.20, Outcome{BucketWarning, -0.01, false, true}},
	{math.Inf(1), Outcome{BucketFailure, -0.02, false, true}},
}

// ClassifyOutcome buckets a completed validation run by its error rate.
func ClassifyOutcome(errorCount, totalRows int64) (Outcome, error) {
	if totalRows <= 0 {
		return Outcome{}, fmt.Errorf("total rows must be positive, got %d", totalRows)
	}
	if errorCount < 0 {
		return Outcome{}, fmt.Errorf("error count must be non-negative, got %d", errorCount)
	}
	rate := float64(errorCount) / float64(totalRows)
	for _, b := range feedbackBuckets {
		if rate < b.upperRate {
			return b.outcome, nil
		}
	}
	return feedbackBuckets[len(feedbackBuckets)-1].outcome, nil
}

// InitialConfidence seeds a new pattern's score. A nil sourceConfidence
// means the pattern is user-confirmed ground truth. The optional boost
// (user explicitly approved a suggestion) is added afterwards; the result
// stays inside [0,1].
func InitialConfidence(sourceConfidence *float64, boost float64) float64 {
	conf := MaxInitialConfidence
	if sourceConfidence != nil {
		conf = math.Min(MaxInitialConfidence, *sourceConfidence)
	}
	conf += boost
	return math.Min(1.0, math.Max(0.0, conf))
}
