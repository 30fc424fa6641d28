package consolidation

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/textsvc"
)

// Feedback actions, in the consumers' vocabulary. Pattern references
// ride in the action after a colon.
const (
	actionPreferPattern    = "prefer_pattern"
	actionSecondaryPattern = "secondary_pattern"
	actionSetBudget        = "set_budget"
	actionAvoidPattern     = "avoid_pattern"
)

// feedbackReasonTokens caps how much pattern content a reason quotes.
const feedbackReasonTokens = 8

// buildFeedback proposes heuristic updates from the run's patterns:
// the strongest pattern and its runner-up as strategy recommendations
// together with the configured slot budget, and an avoidance notice
// per anti-pattern, worst first. A run whose every pattern is an
// anti-pattern recommends nothing.
func (p *Pipeline) buildFeedback(runID string, patterns []*engram.ExtractedPattern) []*engram.FeedbackUpdate {
	if len(patterns) == 0 {
		return nil
	}

	ranked := make([]*engram.ExtractedPattern, len(patterns))
	copy(ranked, patterns)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].SuccessRate != ranked[j].SuccessRate {
			return ranked[i].SuccessRate > ranked[j].SuccessRate
		}
		return ranked[i].OccurrenceCount > ranked[j].OccurrenceCount
	})

	var preferable, anti []*engram.ExtractedPattern
	for _, pat := range ranked {
		if pat.AntiPattern {
			anti = append(anti, pat)
			continue
		}
		preferable = append(preferable, pat)
	}

	var updates []*engram.FeedbackUpdate
	if len(preferable) > 0 {
		best := preferable[0]
		updates = append(updates, engram.NewFeedbackUpdate(runID, engram.TargetSkillStrategy,
			patternRef(actionPreferPattern, best), successReason(best), best.Confidence))
		if len(preferable) > 1 {
			second := preferable[1]
			updates = append(updates, engram.NewFeedbackUpdate(runID, engram.TargetSkillStrategy,
				patternRef(actionSecondaryPattern, second), successReason(second), second.Confidence))
		}
		updates = append(updates, engram.NewFeedbackUpdate(runID, engram.TargetSkillStrategy,
			actionSetBudget+":"+strconv.Itoa(p.cfg.FeedbackBudget),
			"strategy slot budget for the recommended patterns", 1.0))
	}

	for i := len(anti) - 1; i >= 0; i-- {
		pat := anti[i]
		reason := fmt.Sprintf("%s severity: %s", pat.AntiPatternSeverity, successReason(pat))
		updates = append(updates, engram.NewFeedbackUpdate(runID, engram.TargetAvoidance,
			patternRef(actionAvoidPattern, pat), reason, pat.Confidence))
	}
	return updates
}

func patternRef(action string, pat *engram.ExtractedPattern) string {
	return action + ":" + pat.ID
}

func successReason(pat *engram.ExtractedPattern) string {
	return fmt.Sprintf("%q succeeded in %.0f%% of %d occurrences",
		textsvc.Truncate(pat.Content, feedbackReasonTokens),
		pat.SuccessRate*100, pat.OccurrenceCount)
}
