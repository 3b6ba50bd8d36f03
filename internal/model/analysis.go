package model

import (
	"time"
)

// AnalysisStatus is the classification outcome for one entry.
type AnalysisStatus string

const (
	AnalysisOK      AnalysisStatus = "ok"
	AnalysisError   AnalysisStatus = "error"
	AnalysisSkipped AnalysisStatus = "skipped"
)

// Level bounds.
const (
	LevelNone = 0
	LevelMax  = 3
)

// ItemResult is the classifier's finding for one rubric item.
type ItemResult struct {
	Level        int    `json:"level"`
	CurrentValue string `json:"current_value,omitempty"`
	TargetValue  string `json:"target_value,omitempty"`
	TargetYear   string `json:"target_year,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Mentioned reports whether the item was addressed at all.
func (r ItemResult) Mentioned() bool {
	return r.Level > LevelNone
}

// Usage is provider token consumption for one classification.
type Usage struct {
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	EstimatedTokens int64   `json:"estimated_tokens"`
	CostUSD         float64 `json:"cost_usd"`
}

// AnalysisResult is the per-entry classification. After Normalize, PerItem
// holds exactly one key per rubric item.
type AnalysisResult struct {
	EntryID            string                `json:"entry_id"`
	PerItem            map[string]ItemResult `json:"per_item"`
	MentionedItemCount int                   `json:"mentioned_item_count"`
	CoreMentionedCount int                   `json:"core_mentioned_count"`
	Status             AnalysisStatus        `json:"analysis_status"`
	Summary            string                `json:"summary,omitempty"`
	Provider           string                `json:"provider,omitempty"`
	Model              string                `json:"model,omitempty"`
	Truncated          bool                  `json:"truncated,omitempty"`
	Usage              Usage                 `json:"usage"`
	Error              string                `json:"error,omitempty"`
	AnalyzedAt         time.Time             `json:"analyzed_at"`
}

// Normalize forces the per-item key set to equal the rubric id set:
// unknown ids are dropped, missing ids get a zero ItemResult, levels are
// clamped to 0..3. Aggregates are recomputed.
func (a *AnalysisResult) Normalize(r *Rubric) {
	out := make(map[string]ItemResult, len(r.Items))
	mentioned, core := 0, 0
	for _, it := range r.Items {
		res := a.PerItem[it.ItemID]
		res.Level = clampLevel(res.Level)
		out[it.ItemID] = res
		if res.Mentioned() {
			mentioned++
			if it.IsCore {
				core++
			}
		}
	}
	a.PerItem = out
	a.MentionedItemCount = mentioned
	a.CoreMentionedCount = core
}

func clampLevel(l int) int {
	switch {
	case l < LevelNone:
		return LevelNone
	case l > LevelMax:
		return LevelMax
	default:
		return l
	}
}

// NewErrorResult builds a normalized result carrying an error status.
func NewErrorResult(entryID string, r *Rubric, err error) *AnalysisResult {
	res := &AnalysisResult{
		EntryID:    entryID,
		Status:     AnalysisError,
		AnalyzedAt: time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	res.Normalize(r)
	return res
}
