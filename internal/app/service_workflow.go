package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pubworks/api/internal/distribution"
	"pubworks/api/internal/store"
	"pubworks/api/internal/util"
	"pubworks/api/internal/workflow"
)

// ApplyActionInput is one workflow action request. ReviewerIDs is only
// consulted for distribution actions.
type ApplyActionInput struct {
	ActionID    string
	Comment     string
	ReviewerIDs []string
}

// DocumentWorkflow assembles the workflow view for one document: the current
// stage, the actions as this session sees them, and the transition history.
func (s *Service) DocumentWorkflow(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	instance, err := s.store.GetWorkflowInstance(ctx, documentID)
	if err != nil {
		return nil, err
	}
	stage, ok := s.graph.Stage(instance.CurrentStageID)
	if !ok {
		return nil, domainError(http.StatusInternalServerError, "SERVER_ERROR",
			fmt.Sprintf("instance references unknown stage %q", instance.CurrentStageID), nil)
	}

	actions := workflow.ComputeActions(s.graph, stage.ID, s.matcher,
		session.WorkflowRole, s.canEdit(session, doc), s.isAdmin(session))

	transitions, err := s.store.ListTransitions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	history := make([]map[string]any, 0, len(transitions))
	for _, record := range transitions {
		history = append(history, map[string]any{
			"actionId":    record.ActionID,
			"actionLabel": record.ActionLabel,
			"fromStageId": record.FromStageID,
			"toStageId":   record.ToStageID,
			"actorId":     record.ActorID,
			"actorName":   record.ActorName,
			"actorRole":   record.ActorRole,
			"comment":     record.Comment,
			"at":          record.CreatedAt,
		})
	}

	view := map[string]any{
		"documentId":       documentID,
		"version":          instance.Version,
		"currentStageId":   stage.ID,
		"currentStageName": stage.Name,
		"stage": map[string]any{
			"id":             stage.ID,
			"order":          stage.Order,
			"name":           stage.Name,
			"description":    stage.Description,
			"type":           stage.Type,
			"allowedRoles":   stage.AllowedRoles,
			"timeLimitHours": stage.TimeLimitHours,
		},
		"availableActions": actions,
		"history":          history,
	}

	if round, err := s.openRoundView(ctx, documentID); err != nil {
		return nil, err
	} else if round != nil {
		view["openRound"] = round
	}
	return view, nil
}

// ApplyWorkflowAction executes one action against a document's pipeline
// position. Persistence is conditional on the version the caller read: a
// concurrent action on the same document surfaces as 409
// CONCURRENT_MODIFICATION and nothing is written.
func (s *Service) ApplyWorkflowAction(ctx context.Context, session Session, documentID string, in ApplyActionInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	record, err := s.store.GetWorkflowInstance(ctx, documentID)
	if err != nil {
		return nil, err
	}
	stage, ok := s.graph.Stage(record.CurrentStageID)
	if !ok {
		return nil, domainError(http.StatusInternalServerError, "SERVER_ERROR",
			fmt.Sprintf("instance references unknown stage %q", record.CurrentStageID), nil)
	}

	instance := workflow.Instance{
		DocumentID:     documentID,
		CurrentStageID: record.CurrentStageID,
		Version:        record.Version,
	}
	transition, err := instance.Apply(s.graph, s.matcher, workflow.ApplyInput{
		ActionID:  in.ActionID,
		ActorID:   session.UserID,
		ActorRole: session.WorkflowRole,
		CanEdit:   s.canEdit(session, doc),
		IsAdmin:   s.isAdmin(session),
		Comment:   in.Comment,
		Now:       time.Now().UTC(),
	})
	if err != nil {
		return nil, mapWorkflowError(err)
	}

	isDistribute, isCoordinatorGate := classifyAction(stage, in.ActionID)

	var gateRoundID string
	if isCoordinatorGate {
		gateRoundID, err = s.checkRoundComplete(ctx, documentID)
		if err != nil {
			return nil, err
		}
	}

	var pending *distribution.Round
	if isDistribute {
		pending, err = newDistributionRound(doc, transition, in)
		if err != nil {
			return nil, err
		}
	}

	// The version check goes first: a lost race must leave nothing behind,
	// so round rows, round completion and notifications all wait for it.
	if err := s.store.AdvanceInstanceStage(ctx, documentID, record.Version, transition.ToStageID); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, domainError(http.StatusConflict, "CONCURRENT_MODIFICATION",
				"the document's workflow changed while you were working; reload and retry", nil)
		}
		return nil, err
	}

	if gateRoundID != "" {
		if err := s.store.CompleteRound(ctx, gateRoundID); err != nil {
			return nil, err
		}
	}

	var round *store.DistributionRound
	if pending != nil {
		saved, err := s.saveDistributionRound(ctx, session, doc, pending, in.Comment)
		if err != nil {
			return nil, err
		}
		round = saved
	}

	if err := s.store.InsertTransition(ctx, store.TransitionRecord{
		DocumentID:  documentID,
		ActionID:    transition.ActionID,
		ActionLabel: transition.ActionLabel,
		FromStageID: transition.FromStageID,
		ToStageID:   transition.ToStageID,
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		ActorRole:   session.WorkflowRole,
		Comment:     in.Comment,
	}); err != nil {
		return nil, err
	}

	target, _ := s.graph.Stage(transition.ToStageID)
	if transition.ToStageID != transition.FromStageID {
		if err := s.store.UpdateDocumentState(ctx, documentID, doc.Title, doc.Subtitle, target.Name, session.UserName); err != nil {
			return nil, err
		}
		s.indexDocument(store.Document{ID: doc.ID, Title: doc.Title, Subtitle: doc.Subtitle, Status: target.Name})
		s.notifyStageTransition(ctx, doc, target.Name, session.UserName, in.Comment)
	}

	response := map[string]any{
		"documentId":       documentID,
		"actionId":         transition.ActionID,
		"actionLabel":      transition.ActionLabel,
		"fromStageId":      transition.FromStageID,
		"toStageId":        transition.ToStageID,
		"currentStageId":   transition.ToStageID,
		"currentStageName": target.Name,
		"availableActions": workflow.ComputeActions(s.graph, transition.ToStageID, s.matcher,
			session.WorkflowRole, s.canEdit(session, doc), s.isAdmin(session)),
		"version": instance.Version,
	}
	if round != nil {
		response["roundId"] = round.ID
	}
	return response, nil
}

// classifyAction reports the two behaviors the service layers on top of the
// graph: distribution fan-out and the all-reviews-complete gate. Synthesized
// return actions carry neither.
func classifyAction(stage workflow.Stage, actionID string) (isDistribute, isCoordinatorGate bool) {
	for _, action := range stage.Actions {
		if action.ID == actionID {
			return action.Type == workflow.TypeDistribute, action.Semantic == workflow.SemanticCoordinatorGate
		}
	}
	return false, false
}

// checkRoundComplete blocks the review-collection advance while assigned
// reviewers are still pending. It is read-only: when the round is complete
// its ID is returned so the caller can close it once the stage advance has
// been accepted. No open round means nothing to wait on.
func (s *Service) checkRoundComplete(ctx context.Context, documentID string) (string, error) {
	open, err := s.store.GetOpenRound(ctx, documentID)
	if err != nil {
		return "", err
	}
	if open == nil {
		return "", nil
	}

	reviewers, err := s.store.ListRoundReviewers(ctx, open.ID)
	if err != nil {
		return "", err
	}
	round := roundFromRecords(open, reviewers)
	if !round.Complete() {
		pending := make([]string, 0)
		for _, reviewer := range reviewers {
			if reviewer.SubmittedAt == nil {
				pending = append(pending, reviewer.ReviewerName)
			}
		}
		return "", domainError(http.StatusConflict, "ROUND_INCOMPLETE",
			"reviews are still outstanding for this round",
			map[string]any{"roundId": open.ID, "pendingReviewers": pending})
	}
	return open.ID, nil
}

// newDistributionRound validates the fan-out without touching the store.
func newDistributionRound(doc store.Document, transition workflow.Transition, in ApplyActionInput) (*distribution.Round, error) {
	round, err := distribution.NewRound(util.NewID("rnd"), doc.ID, transition.ToStageID, in.ReviewerIDs, time.Now().UTC())
	if err != nil {
		if errors.Is(err, distribution.ErrNoReviewers) {
			return nil, domainError(http.StatusUnprocessableEntity, "REVIEWERS_REQUIRED",
				"distribution needs at least one reviewer", nil)
		}
		return nil, err
	}
	return round, nil
}

func (s *Service) saveDistributionRound(ctx context.Context, session Session, doc store.Document, round *distribution.Round, comment string) (*store.DistributionRound, error) {
	record := store.DistributionRound{
		ID:         round.ID,
		DocumentID: doc.ID,
		StageID:    round.StageID,
		Comment:    comment,
		CreatedBy:  session.UserID,
	}
	if err := s.store.InsertDistributionRound(ctx, record, round.Reviewers); err != nil {
		return nil, err
	}

	stageName := ""
	if stage, ok := s.graph.Stage(round.StageID); ok {
		stageName = stage.Name
	}
	for _, reviewerID := range round.Reviewers {
		reviewer, err := s.store.GetUserByID(ctx, reviewerID)
		if err != nil || reviewer.Email == "" {
			continue
		}
		s.sendReviewAssignment(reviewer, doc, stageName)
	}
	return &record, nil
}

// SubmitReview records one reviewer's submission against the document's open
// round. Reviewers outside the round get a 403.
func (s *Service) SubmitReview(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	open, err := s.store.GetOpenRound(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "no open distribution round for this document", nil)
	}
	if err := s.store.MarkReviewSubmitted(ctx, open.ID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "you are not assigned to this round", nil)
		}
		return nil, err
	}
	return map[string]any{"roundId": open.ID, "reviewerId": session.UserID, "submitted": true}, nil
}

// GetDistribution returns the document's open round, if any.
func (s *Service) GetDistribution(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	round, err := s.openRoundView(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return map[string]any{"documentId": documentID, "round": nil}, nil
	}
	return map[string]any{"documentId": documentID, "round": round}, nil
}

func (s *Service) openRoundView(ctx context.Context, documentID string) (map[string]any, error) {
	open, err := s.store.GetOpenRound(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, nil
	}
	reviewers, err := s.store.ListRoundReviewers(ctx, open.ID)
	if err != nil {
		return nil, err
	}

	round := roundFromRecords(open, reviewers)
	items := make([]map[string]any, 0, len(reviewers))
	for _, reviewer := range reviewers {
		item := map[string]any{
			"reviewerId":   reviewer.ReviewerID,
			"reviewerName": reviewer.ReviewerName,
			"submitted":    reviewer.SubmittedAt != nil,
		}
		if reviewer.SubmittedAt != nil {
			item["submittedAt"] = *reviewer.SubmittedAt
		}
		items = append(items, item)
	}

	return map[string]any{
		"id":        open.ID,
		"stageId":   open.StageID,
		"comment":   open.Comment,
		"createdBy": open.CreatedBy,
		"createdAt": open.CreatedAt,
		"complete":  round.Complete(),
		"pending":   round.Pending(),
		"reviewers": items,
	}, nil
}

func roundFromRecords(open *store.DistributionRound, reviewers []store.RoundReviewer) *distribution.Round {
	round := &distribution.Round{
		ID:         open.ID,
		DocumentID: open.DocumentID,
		StageID:    open.StageID,
		Recorded:   map[string]time.Time{},
		CreatedAt:  open.CreatedAt,
	}
	for _, reviewer := range reviewers {
		round.Reviewers = append(round.Reviewers, reviewer.ReviewerID)
		if reviewer.SubmittedAt != nil {
			round.Recorded[reviewer.ReviewerID] = *reviewer.SubmittedAt
		}
	}
	return round
}

func (s *Service) notifyStageTransition(ctx context.Context, doc store.Document, stageName, actorName, comment string) {
	if s.email == nil || !s.email.IsConfigured() || doc.OwnerID == "" {
		return
	}
	owner, err := s.store.GetUserByID(ctx, doc.OwnerID)
	if err != nil || owner.Email == "" {
		return
	}
	documentURL := s.cfg.BaseURL + "/documents/" + doc.ID
	go func() {
		_ = s.email.SendStageTransitionEmail(owner.Email, owner.DisplayName, doc.Title, stageName, actorName, comment, documentURL)
	}()
}

func (s *Service) sendReviewAssignment(reviewer store.User, doc store.Document, stageName string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	documentURL := s.cfg.BaseURL + "/documents/" + doc.ID
	go func() {
		_ = s.email.SendReviewAssignmentEmail(reviewer.Email, reviewer.DisplayName, doc.Title, stageName, documentURL)
	}()
}

func mapWorkflowError(err error) error {
	var perm *workflow.PermissionError
	if errors.As(err, &perm) {
		return domainError(http.StatusForbidden, "FORBIDDEN", perm.Reason, map[string]any{"actionId": perm.ActionID})
	}
	if errors.Is(err, workflow.ErrCommentRequired) {
		return domainError(http.StatusUnprocessableEntity, "COMMENT_REQUIRED", "this action requires a comment", nil)
	}
	if errors.Is(err, workflow.ErrInvalidTransition) {
		return domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error(), nil)
	}
	return err
}
