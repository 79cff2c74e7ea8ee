package distribution

import (
	"errors"
	"testing"
	"time"
)

func TestNewRound(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	round, err := NewRound("dr_1", "doc_1", "3.5", []string{"u_1", "u_2", "u_1", ""}, now)
	if err != nil {
		t.Fatalf("new round: %v", err)
	}
	if len(round.Reviewers) != 2 {
		t.Fatalf("reviewers = %v", round.Reviewers)
	}
	if round.Complete() {
		t.Fatal("fresh round should not be complete")
	}

	if _, err := NewRound("dr_2", "doc_1", "3.5", nil, now); !errors.Is(err, ErrNoReviewers) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewRound("dr_3", "doc_1", "3.5", []string{""}, now); !errors.Is(err, ErrNoReviewers) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecordReview(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	round, err := NewRound("dr_1", "doc_1", "3.5", []string{"u_1", "u_2"}, now)
	if err != nil {
		t.Fatalf("new round: %v", err)
	}

	if err := round.RecordReview("u_1", now.Add(time.Hour)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if round.Complete() {
		t.Fatal("round complete with a pending reviewer")
	}
	if pending := round.Pending(); len(pending) != 1 || pending[0] != "u_2" {
		t.Fatalf("pending = %v", pending)
	}

	// Recording again keeps the first timestamp.
	if err := round.RecordReview("u_1", now.Add(5*time.Hour)); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if got := round.Recorded["u_1"]; !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("recorded at = %v", got)
	}

	if err := round.RecordReview("u_intruder", now); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("err = %v", err)
	}

	if err := round.RecordReview("u_2", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !round.Complete() {
		t.Fatal("round should be complete")
	}
	if pending := round.Pending(); len(pending) != 0 {
		t.Fatalf("pending = %v", pending)
	}
}
