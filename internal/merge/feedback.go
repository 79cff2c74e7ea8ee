// Package merge applies reviewer feedback items (exact text substitutions)
// to a document body, detecting cascading changes and checking structural
// invariants on the result.
package merge

import (
	"sort"
	"strings"
)

type Severity string

const (
	SeverityCritical    Severity = "CRITICAL"
	SeverityMajor       Severity = "MAJOR"
	SeverityMinor       Severity = "MINOR"
	SeveritySubstantive Severity = "SUBSTANTIVE"
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusApplied          Status = "APPLIED"
	StatusSkippedCascading Status = "SKIPPED_CASCADING"
	StatusConflict         Status = "CONFLICT"
)

// FeedbackItem is one reviewer-proposed substitution. Location metadata
// (page, paragraph, line) is informational only; matching is by exact text.
type FeedbackItem struct {
	ID              string   `json:"id"`
	Component       string   `json:"component,omitempty"`
	POCName         string   `json:"pocName,omitempty"`
	POCPhone        string   `json:"pocPhone,omitempty"`
	POCEmail        string   `json:"pocEmail,omitempty"`
	CommentType     string   `json:"commentType,omitempty"`
	Severity        Severity `json:"severity,omitempty"`
	Page            string   `json:"page,omitempty"`
	ParagraphNumber string   `json:"paragraphNumber,omitempty"`
	LineNumber      string   `json:"lineNumber,omitempty"`
	ChangeFrom      string   `json:"changeFrom"`
	ChangeTo        string   `json:"changeTo"`
	Justification   string   `json:"justification,omitempty"`
	Status          Status   `json:"status,omitempty"`
}

// OrderingPolicy selects the deterministic order items are applied in.
type OrderingPolicy string

const (
	// BySeverity applies CRITICAL, then MAJOR, then MINOR/SUBSTANTIVE.
	BySeverity OrderingPolicy = "severity"
	// ByLength applies longer ChangeFrom spans first (by word count), so
	// sentence-level rewrites land before word-level rewrites can break
	// their match.
	ByLength OrderingPolicy = "length"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	default:
		return 2
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// sortItems returns a copy of items in the policy's total order. Ties break
// by item id so batches are reproducible.
func sortItems(items []FeedbackItem, policy OrderingPolicy) []FeedbackItem {
	sorted := make([]FeedbackItem, len(items))
	copy(sorted, items)

	switch policy {
	case BySeverity:
		sort.SliceStable(sorted, func(i, j int) bool {
			ri, rj := severityRank(sorted[i].Severity), severityRank(sorted[j].Severity)
			if ri != rj {
				return ri < rj
			}
			return sorted[i].ID < sorted[j].ID
		})
	default: // ByLength
		sort.SliceStable(sorted, func(i, j int) bool {
			wi, wj := wordCount(sorted[i].ChangeFrom), wordCount(sorted[j].ChangeFrom)
			if wi != wj {
				return wi > wj
			}
			return sorted[i].ID < sorted[j].ID
		})
	}
	return sorted
}
