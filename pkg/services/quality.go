package services

import (
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// QualityConfig holds the reliability penalties and band thresholds.
type QualityConfig struct {
	PenaltyFallback    float64
	PenaltyDroppedTerm float64
	PenaltyUnfiltered  float64
	PenaltyTruncated   float64
	HighThreshold      float64
	MediumThreshold    float64
}

// DefaultQualityConfig mirrors the heuristics defaults in config.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		PenaltyFallback:    0.3,
		PenaltyDroppedTerm: 0.1,
		PenaltyUnfiltered:  0.2,
		PenaltyTruncated:   0.35,
		HighThreshold:      0.8,
		MediumThreshold:    0.5,
	}
}

// RateCompleteness reports partial only when the validator's cap was
// applied and reached. A result that stops at the question's own
// "top N" is complete.
func RateCompleteness(rowCount int, q *ValidatedQuery) models.Completeness {
	switch {
	case rowCount == 0:
		return models.CompletenessEmpty
	case q != nil && q.RowLimitApplied() && q.Limit() > 0 && rowCount >= q.Limit():
		return models.CompletenessPartial
	default:
		return models.CompletenessComplete
	}
}

// RateReliability scores how well a result answers the question. plan may be
// nil for caller-supplied SQL.
func RateReliability(cfg QualityConfig, plan *models.QueryPlan, status models.PlanStatus, completeness models.Completeness) (models.Reliability, float64) {
	score := 1.0
	if status == models.PlanFallback {
		score -= cfg.PenaltyFallback
	}
	if plan != nil {
		score -= cfg.PenaltyDroppedTerm * float64(len(plan.DroppedTerms))
		if !plan.IsAggregate() && !plan.HasFilter() {
			score -= cfg.PenaltyUnfiltered
		}
	}
	if completeness == models.CompletenessPartial {
		score -= cfg.PenaltyTruncated
	}
	if score < 0 {
		score = 0
	}

	switch {
	case score >= cfg.HighThreshold:
		return models.ReliabilityHigh, score
	case score >= cfg.MediumThreshold:
		return models.ReliabilityMedium, score
	default:
		return models.ReliabilityLow, score
	}
}
