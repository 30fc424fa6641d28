package engram

import "time"

// Layer identifies which memory layer an item is scored against.
// Frequency normalization is computed per layer+scope, so items only
// compete with peers from the same layer.
type Layer string

const (
	// LayerSession covers items from the current session.
	LayerSession Layer = "session"

	// LayerWorking covers items currently held in the working set.
	LayerWorking Layer = "working"

	// LayerDurable covers consolidated patterns and procedures.
	LayerDurable Layer = "durable"
)

// ValidLayer reports whether l names a known memory layer.
func ValidLayer(l Layer) bool {
	switch l {
	case LayerSession, LayerWorking, LayerDurable:
		return true
	}
	return false
}

// SaliencyScore is a point-in-time evaluation of one item's attentional
// importance. Scores are recomputed whenever ranking or consolidation
// needs them and are not persisted as history.
//
// All components and the composite are in [0,1]. A component that could
// not be computed (missing data, collaborator failure) holds its
// documented fallback value rather than aborting the evaluation.
type SaliencyScore struct {
	// ItemRef identifies the scored item (experience ID).
	ItemRef string `json:"item_ref"`

	// Layer is the memory layer the item was scored against.
	Layer Layer `json:"layer"`

	// Frequency is the access-count component, normalized against the
	// maximum observed for the same layer+scope.
	Frequency float64 `json:"frequency"`

	// Recency is the exponential-decay age component.
	Recency float64 `json:"recency"`

	// Relevance is goal similarity, stored usefulness, or neutral.
	Relevance float64 `json:"relevance"`

	// Surprise is the novelty bonus against the current context window.
	Surprise float64 `json:"surprise"`

	// Composite is the weighted sum of the four components.
	Composite float64 `json:"composite"`

	// Degraded marks scores where a collaborator failure forced a
	// fallback component value.
	Degraded bool `json:"degraded,omitempty"`
}

// FocusType buckets a composite score into an attention tier.
type FocusType string

const (
	FocusPrimary    FocusType = "primary"
	FocusSecondary  FocusType = "secondary"
	FocusBackground FocusType = "background"
)

// Recommendation is the suggested handling for a scored item.
type Recommendation string

const (
	// RecommendKeepInFocus marks items that should stay in active attention.
	RecommendKeepInFocus Recommendation = "KEEP_IN_FOCUS"

	// RecommendMonitor marks items worth re-checking on the next re-rank.
	RecommendMonitor Recommendation = "MONITOR"

	// RecommendBackground marks items to keep loaded but deprioritized.
	RecommendBackground Recommendation = "BACKGROUND"

	// RecommendInhibit marks items that should be actively suppressed.
	RecommendInhibit Recommendation = "INHIBIT"
)

// WorkingSetEntry is one item's ranked membership in the bounded
// attention window.
type WorkingSetEntry struct {
	// ItemRef identifies the member item (experience ID).
	ItemRef string `json:"item_ref"`

	// Score is the most recent saliency evaluation for the item.
	Score SaliencyScore `json:"score"`

	// Focus is the attention tier assigned at the last re-rank.
	Focus FocusType `json:"focus_type"`

	// Recommendation is the suggested handling from the last re-rank.
	Recommendation Recommendation `json:"recommendation"`

	// LastEvaluatedAt is when the entry was last re-ranked. Eviction
	// ties are broken by evicting the stalest entry first.
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`
}

// EvictionNotice reports a working-set eviction for observability.
type EvictionNotice struct {
	// ItemRef identifies the evicted item.
	ItemRef string `json:"item_ref"`

	// Reason explains the eviction ("capacity").
	Reason string `json:"reason"`

	// Composite is the score the item held when evicted.
	Composite float64 `json:"composite"`

	// EvictedAt is when the eviction happened.
	EvictedAt time.Time `json:"evicted_at"`
}
