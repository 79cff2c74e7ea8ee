// Package distribution tracks review rounds: the fan-out of a document to a
// set of reviewers and the collection of their reviews.
package distribution

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNoReviewers = errors.New("round needs at least one reviewer")
	ErrNotAssigned = errors.New("reviewer not assigned to this round")
)

// Round is one distribution of a document at one stage. It is complete when
// every assigned reviewer has recorded a review; a review with no feedback
// items still counts.
type Round struct {
	ID         string
	DocumentID string
	StageID    string
	Reviewers  []string
	Recorded   map[string]time.Time
	CreatedAt  time.Time
}

// NewRound assigns reviewers for one stage. Duplicate reviewer ids collapse.
func NewRound(id, documentID, stageID string, reviewerIDs []string, now time.Time) (*Round, error) {
	seen := map[string]bool{}
	var reviewers []string
	for _, reviewerID := range reviewerIDs {
		if reviewerID == "" || seen[reviewerID] {
			continue
		}
		seen[reviewerID] = true
		reviewers = append(reviewers, reviewerID)
	}
	if len(reviewers) == 0 {
		return nil, ErrNoReviewers
	}

	return &Round{
		ID:         id,
		DocumentID: documentID,
		StageID:    stageID,
		Reviewers:  reviewers,
		Recorded:   make(map[string]time.Time, len(reviewers)),
		CreatedAt:  now,
	}, nil
}

// RecordReview marks a reviewer's submission. Recording twice is harmless
// and keeps the first timestamp.
func (r *Round) RecordReview(reviewerID string, at time.Time) error {
	assigned := false
	for _, id := range r.Reviewers {
		if id == reviewerID {
			assigned = true
			break
		}
	}
	if !assigned {
		return fmt.Errorf("reviewer %s: %w", reviewerID, ErrNotAssigned)
	}

	if _, done := r.Recorded[reviewerID]; !done {
		if r.Recorded == nil {
			r.Recorded = map[string]time.Time{}
		}
		r.Recorded[reviewerID] = at
	}
	return nil
}

// Pending lists reviewers who have not recorded yet, sorted for stable
// output.
func (r *Round) Pending() []string {
	var pending []string
	for _, id := range r.Reviewers {
		if _, done := r.Recorded[id]; !done {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending
}

// Complete reports whether every assigned reviewer has recorded. Completion
// is what unlocks the review-collection stage's advance action.
func (r *Round) Complete() bool {
	return len(r.Pending()) == 0
}
