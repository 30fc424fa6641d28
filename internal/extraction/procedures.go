package extraction

import (
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/textsvc"
)

// procedureNameTokens bounds the derived procedure name.
const procedureNameTokens = 8

// ProcedureExtractor distills candidate procedures from workflow
// patterns. A workflow pattern whose measured success rate reaches
// min_success_rate describes an action sequence worth repeating; the
// procedure carries the sequence as ordered steps.
type ProcedureExtractor struct {
	cfg    config.ConsolidationConfig
	logger *zap.Logger
}

// NewProcedureExtractor creates a procedure extractor.
func NewProcedureExtractor(cfg config.ConsolidationConfig, logger *zap.Logger) (*ProcedureExtractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcedureExtractor{cfg: cfg, logger: logger.Named("extraction")}, nil
}

// Extract emits one candidate procedure per qualifying workflow
// pattern. Steps are the source experience payloads ordered by
// timestamp; experiences the pattern cites but the caller did not
// supply are skipped.
func (e *ProcedureExtractor) Extract(runID string, patterns []*engram.ExtractedPattern, experiences []*engram.Experience) []*engram.ExtractedProcedure {
	byID := make(map[string]*engram.Experience, len(experiences))
	for _, exp := range experiences {
		byID[exp.ID] = exp
	}

	var procedures []*engram.ExtractedProcedure
	for _, pattern := range patterns {
		if pattern.Type != engram.PatternWorkflow {
			continue
		}
		if pattern.SuccessRate < e.cfg.MinSuccessRate {
			continue
		}

		sources := make([]*engram.Experience, 0, len(pattern.SourceExperienceIDs))
		for _, id := range pattern.SourceExperienceIDs {
			if exp, ok := byID[id]; ok {
				sources = append(sources, exp)
			}
		}
		if len(sources) < 2 {
			continue
		}
		sort.SliceStable(sources, func(i, j int) bool {
			return sources[i].Timestamp.Before(sources[j].Timestamp)
		})

		steps := make([]string, len(sources))
		for i, exp := range sources {
			steps[i] = exp.Payload
		}

		name := textsvc.Truncate(pattern.Content, procedureNameTokens)
		procedure := engram.NewExtractedProcedure(runID, name, steps, pattern.SuccessRate)
		procedure.SourcePatternIDs = []string{pattern.ID}
		procedures = append(procedures, procedure)
	}

	e.logger.Debug("extracted procedures",
		zap.String("run_id", runID),
		zap.Int("patterns", len(patterns)),
		zap.Int("procedures", len(procedures)))
	return procedures
}
