package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"pubworks/api/internal/store"
	"pubworks/api/internal/workflow"
)

func ownedDocument(ownerID string) func(context.Context, string) (store.Document, error) {
	return func(_ context.Context, documentID string) (store.Document, error) {
		return store.Document{
			ID:      documentID,
			Title:   "Squadron Operations Manual",
			Status:  "DRAFT",
			OwnerID: ownerID,
		}, nil
	}
}

func instanceAt(stageID string, version int) func(context.Context, string) (store.WorkflowInstance, error) {
	return func(_ context.Context, documentID string) (store.WorkflowInstance, error) {
		return store.WorkflowInstance{
			DocumentID:     documentID,
			DefinitionID:   "wfd_default",
			CurrentStageID: stageID,
			Version:        version,
		}, nil
	}
}

func TestApplyWorkflowActionAdvancesStage(t *testing.T) {
	var advancedTo string
	var fromVersion int
	var recorded store.TransitionRecord
	var statusSet string

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("1", 3),
		advanceStageFn: func(_ context.Context, _ string, version int, stageID string) error {
			fromVersion = version
			advancedTo = stageID
			return nil
		},
		insertTransitionFn: func(_ context.Context, record store.TransitionRecord) error {
			recorded = record
			return nil
		},
		updateDocumentStateFn: func(_ context.Context, _, _, _, status, _ string) error {
			statusSet = status
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-ao", UserName: "Avery", Role: "editor", WorkflowRole: "AO1"}

	payload, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "submit_to_pcm",
	})
	if err != nil {
		t.Fatalf("ApplyWorkflowAction() error = %v", err)
	}
	if advancedTo != "2" || fromVersion != 3 {
		t.Fatalf("advanced to %q from version %d, want stage 2 from version 3", advancedTo, fromVersion)
	}
	if recorded.ActionID != "submit_to_pcm" || recorded.ToStageID != "2" || recorded.ActorName != "Avery" {
		t.Fatalf("unexpected transition record: %+v", recorded)
	}
	if statusSet != "PCM Review (OPR Gatekeeper)" {
		t.Fatalf("document status = %q, want target stage name", statusSet)
	}
	if payload["version"] != 4 {
		t.Fatalf("payload version = %v, want 4", payload["version"])
	}
}

func TestApplyWorkflowActionVersionConflict(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("1", 3),
		advanceStageFn: func(context.Context, string, int, string) error {
			return store.ErrVersionConflict
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-ao", UserName: "Avery", Role: "editor", WorkflowRole: "AO1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "submit_to_pcm",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 409 || domainErr.Code != "CONCURRENT_MODIFICATION" {
		t.Fatalf("unexpected error mapping: %+v", domainErr)
	}
}

func TestApplyWorkflowActionHiddenGateDenied(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-other"),
		getInstanceFn: instanceAt("2", 1),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-rev", UserName: "Sam", Role: "editor", WorkflowRole: "reviewer1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "approve",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 403 || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("unexpected error mapping: %+v", domainErr)
	}
	if domainErr.Message != "This action requires PCM role" {
		t.Fatalf("unexpected denial reason: %q", domainErr.Message)
	}
}

func TestDistributeCreatesRoundWithReviewers(t *testing.T) {
	var insertedRound store.DistributionRound
	var insertedReviewers []string

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3", 5),
		insertRoundFn: func(_ context.Context, round store.DistributionRound, reviewerIDs []string) error {
			insertedRound = round
			insertedReviewers = reviewerIDs
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	payload, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID:    "distribute_to_reviewers",
		Comment:     "First coordination round",
		ReviewerIDs: []string{"usr-r1", "usr-r2", "usr-r1", ""},
	})
	if err != nil {
		t.Fatalf("ApplyWorkflowAction() error = %v", err)
	}
	if insertedRound.StageID != "3.5" || insertedRound.CreatedBy != "usr-coord" {
		t.Fatalf("unexpected round: %+v", insertedRound)
	}
	if len(insertedReviewers) != 2 {
		t.Fatalf("reviewers = %v, want duplicates and blanks dropped", insertedReviewers)
	}
	if payload["roundId"] == nil || payload["roundId"] == "" {
		t.Fatalf("expected roundId in payload, got %v", payload["roundId"])
	}
}

func TestDistributeRequiresComment(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3", 1),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID:    "distribute_to_reviewers",
		ReviewerIDs: []string{"usr-r1"},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "COMMENT_REQUIRED" {
		t.Fatalf("unexpected code %q", domainErr.Code)
	}
}

func TestDistributeRequiresReviewers(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3", 1),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "distribute_to_reviewers",
		Comment:  "round one",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "REVIEWERS_REQUIRED" {
		t.Fatalf("unexpected code %q", domainErr.Code)
	}
}

func TestCompleteReviewsBlockedWhilePending(t *testing.T) {
	advanced := false
	submitted := time.Now()

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3.5", 7),
		getOpenRoundFn: func(context.Context, string) (*store.DistributionRound, error) {
			return &store.DistributionRound{ID: "rnd-1", DocumentID: "doc-1", StageID: "3.5"}, nil
		},
		listRoundReviewersFn: func(context.Context, string) ([]store.RoundReviewer, error) {
			return []store.RoundReviewer{
				{RoundID: "rnd-1", ReviewerID: "usr-r1", ReviewerName: "Sam Okafor", SubmittedAt: &submitted},
				{RoundID: "rnd-1", ReviewerID: "usr-r2", ReviewerName: "Alex Petrov"},
			}, nil
		},
		advanceStageFn: func(context.Context, string, int, string) error {
			advanced = true
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "complete_reviews",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 409 || domainErr.Code != "ROUND_INCOMPLETE" {
		t.Fatalf("unexpected error mapping: %+v", domainErr)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", domainErr.Details)
	}
	pending, _ := details["pendingReviewers"].([]string)
	if len(pending) != 1 || pending[0] != "Alex Petrov" {
		t.Fatalf("pending reviewers = %v", details["pendingReviewers"])
	}
	if advanced {
		t.Fatal("stage must not advance while reviews are pending")
	}
}

func TestCompleteReviewsAdvancesWhenRoundDone(t *testing.T) {
	completedRound := ""
	advancedTo := ""
	submitted := time.Now()

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3.5", 7),
		getOpenRoundFn: func(context.Context, string) (*store.DistributionRound, error) {
			return &store.DistributionRound{ID: "rnd-1", DocumentID: "doc-1", StageID: "3.5"}, nil
		},
		listRoundReviewersFn: func(context.Context, string) ([]store.RoundReviewer, error) {
			return []store.RoundReviewer{
				{RoundID: "rnd-1", ReviewerID: "usr-r1", SubmittedAt: &submitted},
				{RoundID: "rnd-1", ReviewerID: "usr-r2", SubmittedAt: &submitted},
			}, nil
		},
		completeRoundFn: func(_ context.Context, roundID string) error {
			completedRound = roundID
			return nil
		},
		advanceStageFn: func(_ context.Context, _ string, _ int, stageID string) error {
			advancedTo = stageID
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "complete_reviews",
	})
	if err != nil {
		t.Fatalf("ApplyWorkflowAction() error = %v", err)
	}
	if completedRound != "rnd-1" {
		t.Fatalf("round %q not completed", completedRound)
	}
	if advancedTo != "4" {
		t.Fatalf("advanced to %q, want 4", advancedTo)
	}
}

func TestDistributeVersionConflictLeavesNoRound(t *testing.T) {
	roundInserted := false

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3", 5),
		advanceStageFn: func(context.Context, string, int, string) error {
			return store.ErrVersionConflict
		},
		insertRoundFn: func(context.Context, store.DistributionRound, []string) error {
			roundInserted = true
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID:    "distribute_to_reviewers",
		Comment:     "First coordination round",
		ReviewerIDs: []string{"usr-r1", "usr-r2"},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 409 || domainErr.Code != "CONCURRENT_MODIFICATION" {
		t.Fatalf("unexpected error mapping: %+v", domainErr)
	}
	if roundInserted {
		t.Fatal("a rejected action must not leave a distribution round behind")
	}
}

func TestCompleteReviewsVersionConflictKeepsRoundOpen(t *testing.T) {
	roundCompleted := false
	submitted := time.Now()

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("3.5", 7),
		getOpenRoundFn: func(context.Context, string) (*store.DistributionRound, error) {
			return &store.DistributionRound{ID: "rnd-1", DocumentID: "doc-1", StageID: "3.5"}, nil
		},
		listRoundReviewersFn: func(context.Context, string) ([]store.RoundReviewer, error) {
			return []store.RoundReviewer{
				{RoundID: "rnd-1", ReviewerID: "usr-r1", SubmittedAt: &submitted},
				{RoundID: "rnd-1", ReviewerID: "usr-r2", SubmittedAt: &submitted},
			}, nil
		},
		advanceStageFn: func(context.Context, string, int, string) error {
			return store.ErrVersionConflict
		},
		completeRoundFn: func(context.Context, string) error {
			roundCompleted = true
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-coord", UserName: "Jordan", Role: "editor", WorkflowRole: "coordinator1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "complete_reviews",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "CONCURRENT_MODIFICATION" {
		t.Fatalf("unexpected code %q", domainErr.Code)
	}
	if roundCompleted {
		t.Fatal("a rejected action must not close the open round")
	}
}

func TestApplyWorkflowActionUnknownAction(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("1", 1),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-ao", UserName: "Avery", Role: "editor", WorkflowRole: "AO1"}

	_, err := service.ApplyWorkflowAction(context.Background(), session, "doc-1", ApplyActionInput{
		ActionID: "teleport_to_publication",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 422 || domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("unexpected error mapping: %+v", domainErr)
	}
}

func TestSubmitReviewWithoutOpenRound(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-r1", UserName: "Sam", Role: "reviewer", WorkflowRole: "reviewer1"}

	_, err := service.SubmitReview(context.Background(), session, "doc-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 404 {
		t.Fatalf("unexpected status %d", domainErr.Status)
	}
}

func TestDocumentWorkflowViewHidesGatedActions(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-other"),
		getInstanceFn: instanceAt("2", 1),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-rev", UserName: "Sam", Role: "viewer", WorkflowRole: "reviewer1"}

	view, err := service.DocumentWorkflow(context.Background(), session, "doc-1")
	if err != nil {
		t.Fatalf("DocumentWorkflow() error = %v", err)
	}

	if view["currentStageId"] != "2" {
		t.Fatalf("currentStageId = %v, want 2", view["currentStageId"])
	}
	actions, ok := view["availableActions"].([]workflow.DisplayAction)
	if !ok {
		t.Fatalf("availableActions has type %T", view["availableActions"])
	}
	ids := map[string]workflow.DisplayAction{}
	for _, action := range actions {
		ids[action.ID] = action
	}
	if _, visible := ids["approve"]; visible {
		t.Fatal("PCM-gated approve action must be hidden from non-PCM viewers")
	}
	review, visible := ids["review"]
	if !visible {
		t.Fatal("review task should remain visible")
	}
	if !review.Disabled || review.DisabledReason != "You need edit permissions" {
		t.Fatalf("unexpected review action state: %+v", review)
	}
	ret, visible := ids["return-to-1"]
	if !visible {
		t.Fatal("synthesized return action should be present past the first stage")
	}
	if ret.Label != "Return to Draft Preparation" {
		t.Fatalf("return label = %q", ret.Label)
	}
}
