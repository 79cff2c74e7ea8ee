package merge

import (
	"context"
	"strings"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeAI     Mode = "ai"
)

// Paraphraser rewrites replacement text before substitution in AI mode. The
// engine treats it as a best-effort step: on error the literal ChangeTo is
// used instead.
type Paraphraser interface {
	Paraphrase(ctx context.Context, text string) (string, error)
}

type Options struct {
	Mode  Mode
	Order OrderingPolicy
}

// ItemOutcome reports what happened to one feedback item. ChangeFrom is
// echoed on conflicts so the operator can locate the text by hand.
type ItemOutcome struct {
	FeedbackID string `json:"feedbackId"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ChangeFrom string `json:"changeFrom,omitempty"`
}

// Result is the full report of one merge pass. It is produced fresh on every
// call and never persisted by the engine; committing MergedContent is the
// caller's decision.
type Result struct {
	MergedContent      string        `json:"mergedContent"`
	PerItem            []ItemOutcome `json:"perItem"`
	StructuralWarnings []string      `json:"structuralWarnings,omitempty"`
}

// Applied reports how many items landed.
func (r Result) Applied() int {
	n := 0
	for _, o := range r.PerItem {
		if o.Status == StatusApplied {
			n++
		}
	}
	return n
}

// Conflicts returns the outcomes that could not be applied.
func (r Result) Conflicts() []ItemOutcome {
	var out []ItemOutcome
	for _, o := range r.PerItem {
		if o.Status == StatusConflict {
			out = append(out, o)
		}
	}
	return out
}

type Engine struct {
	paraphraser Paraphraser
}

// NewEngine builds a merge engine. paraphraser may be nil, in which case AI
// mode degrades to literal substitution.
func NewEngine(paraphraser Paraphraser) *Engine {
	return &Engine{paraphraser: paraphraser}
}

// Merge applies the items to body in the order the policy dictates. Per-item
// failures are collected, never raised: the batch always completes and the
// caller gets a full report. Structural singleton markers are derived from
// the original body and verified once against the final content.
func (e *Engine) Merge(ctx context.Context, body string, items []FeedbackItem, opts Options) Result {
	markers := DeriveMarkers(body)
	current := body

	result := Result{PerItem: make([]ItemOutcome, 0, len(items))}
	for _, item := range sortItems(items, opts.Order) {
		outcome := ItemOutcome{FeedbackID: item.ID}

		switch {
		case item.ChangeFrom != "" && strings.Contains(current, item.ChangeFrom):
			replacement := e.replacement(ctx, item, opts.Mode)
			next := strings.Replace(current, item.ChangeFrom, replacement, 1)
			if !strings.Contains(next, item.ChangeFrom) && strings.Contains(next, replacement) {
				current = next
				outcome.Status = StatusApplied
			} else {
				outcome.Status = StatusConflict
				outcome.Reason = "verification failed"
				outcome.ChangeFrom = item.ChangeFrom
			}
		case item.ChangeTo != "" && strings.Contains(current, item.ChangeTo):
			outcome.Status = StatusSkippedCascading
			outcome.Reason = "replacement text already present"
		default:
			outcome.Status = StatusConflict
			outcome.Reason = "source text not found"
			outcome.ChangeFrom = item.ChangeFrom
		}

		result.PerItem = append(result.PerItem, outcome)
	}

	result.MergedContent = current
	result.StructuralWarnings = markers.Verify(current)
	return result
}

func (e *Engine) replacement(ctx context.Context, item FeedbackItem, mode Mode) string {
	if mode != ModeAI || e.paraphraser == nil {
		return item.ChangeTo
	}
	rewritten, err := e.paraphraser.Paraphrase(ctx, item.ChangeTo)
	if err != nil || rewritten == "" {
		return item.ChangeTo
	}
	return rewritten
}
