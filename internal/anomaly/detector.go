// Package anomaly flags unreliable extraction output before it is
// persisted: patterns that mostly fail, and well-used patterns whose
// outcomes swing.
package anomaly

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

const (
	// antiPatternThreshold is the success rate below which a pattern
	// is something to avoid rather than repeat.
	antiPatternThreshold = 0.60

	// severeThreshold grades an anti-pattern flag high.
	severeThreshold = 0.40

	// minUsesForVariance is the occurrence count a pattern needs
	// before outcome variance is meaningful.
	minUsesForVariance = 10

	// varianceThreshold is the outcome variance above which a
	// well-used pattern counts as unstable.
	varianceThreshold = 0.3
)

// Detector scans extracted patterns for anomalies and annotates them
// in place. Flags are advisory: flagged patterns still persist, and
// anti-patterns feed avoidance feedback downstream.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger.Named("anomaly")}
}

// Flag annotates the patterns and reports how many of each anomaly it
// found.
//
// A pattern is an anti-pattern when its success rate falls below 0.60,
// graded high below 0.40 and medium otherwise. A pattern is
// high-variance when it has at least 10 occurrences and its outcome
// variance exceeds 0.3. The two flags are independent; an erratic,
// mostly-failing pattern carries both.
func (d *Detector) Flag(patterns []*engram.ExtractedPattern) (antiPatterns, highVariance int) {
	for _, pattern := range patterns {
		if pattern.SuccessRate < antiPatternThreshold {
			pattern.AntiPattern = true
			pattern.AntiPatternSeverity = engram.SeverityMedium
			if pattern.SuccessRate < severeThreshold {
				pattern.AntiPatternSeverity = engram.SeverityHigh
			}
			antiPatterns++
			d.logger.Debug("flagged anti-pattern",
				zap.String("pattern_id", pattern.ID),
				zap.Float64("success_rate", pattern.SuccessRate),
				zap.String("severity", string(pattern.AntiPatternSeverity)))
		}

		variance := OutcomeVariance(pattern.SuccessRate)
		if pattern.OccurrenceCount >= minUsesForVariance && variance > varianceThreshold {
			pattern.HighVariance = true
			highVariance++
			d.logger.Debug("flagged high variance",
				zap.String("pattern_id", pattern.ID),
				zap.Int("uses", pattern.OccurrenceCount),
				zap.Float64("variance", variance))
		}
	}
	return antiPatterns, highVariance
}

// OutcomeVariance is the population variance of measurable outcomes
// coded +1 for success and −1 for failure, derived from the success
// rate: with mean m = 2p−1 the variance is 1−m². It spans [0,1],
// peaking at an even success/failure split and vanishing when
// outcomes are uniform.
func OutcomeVariance(successRate float64) float64 {
	m := 2*successRate - 1
	return 1 - m*m
}
