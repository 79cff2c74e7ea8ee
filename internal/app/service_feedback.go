package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pubworks/api/internal/merge"
	"pubworks/api/internal/store"
	"pubworks/api/internal/util"
)

// Merger applies feedback substitutions to a document body. The default is
// the literal merge engine; SetMerger plugs in one backed by a paraphraser.
type Merger interface {
	Merge(ctx context.Context, body string, items []merge.FeedbackItem, opts merge.Options) merge.Result
}

// CreateFeedbackInput carries one reviewer comment. Location fields are
// informational; the merge engine matches on ChangeFrom text alone.
type CreateFeedbackInput struct {
	Component       string
	POCName         string
	POCPhone        string
	POCEmail        string
	CommentType     string
	Severity        string
	Page            string
	ParagraphNumber string
	LineNumber      string
	ChangeFrom      string
	ChangeTo        string
	Justification   string
}

var validSeverities = map[string]bool{
	string(merge.SeverityCritical):    true,
	string(merge.SeverityMajor):       true,
	string(merge.SeverityMinor):       true,
	string(merge.SeveritySubstantive): true,
}

func (s *Service) CreateFeedback(ctx context.Context, session Session, documentID string, in CreateFeedbackInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	changeFrom := strings.TrimSpace(in.ChangeFrom)
	if changeFrom == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "changeFrom is required", nil)
	}
	severity := strings.ToUpper(strings.TrimSpace(in.Severity))
	if severity == "" {
		severity = string(merge.SeverityMinor)
	}
	if !validSeverities[severity] {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION",
			fmt.Sprintf("unknown severity %q", in.Severity), nil)
	}

	roundID := ""
	if open, err := s.store.GetOpenRound(ctx, documentID); err != nil {
		return nil, err
	} else if open != nil {
		roundID = open.ID
	}

	record := store.FeedbackRecord{
		ID:              util.NewID("fb"),
		DocumentID:      doc.ID,
		RoundID:         roundID,
		ReviewerID:      session.UserID,
		ReviewerName:    session.UserName,
		Component:       strings.TrimSpace(in.Component),
		POCName:         strings.TrimSpace(in.POCName),
		POCPhone:        strings.TrimSpace(in.POCPhone),
		POCEmail:        strings.TrimSpace(in.POCEmail),
		CommentType:     strings.TrimSpace(in.CommentType),
		Severity:        severity,
		Page:            strings.TrimSpace(in.Page),
		ParagraphNumber: strings.TrimSpace(in.ParagraphNumber),
		LineNumber:      strings.TrimSpace(in.LineNumber),
		ChangeFrom:      in.ChangeFrom,
		ChangeTo:        in.ChangeTo,
		Justification:   strings.TrimSpace(in.Justification),
		Status:          string(merge.StatusPending),
	}
	if err := s.store.InsertFeedback(ctx, record); err != nil {
		return nil, err
	}
	s.indexFeedback(record)
	return feedbackView(record), nil
}

func (s *Service) ListFeedback(ctx context.Context, documentID string) ([]map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	records, err := s.store.ListFeedbackByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, feedbackView(record))
	}
	return items, nil
}

// MergeFeedback applies one feedback item to the document's working draft.
// On success the merged body is committed to the working branch and the item
// is marked APPLIED; on conflict nothing is written and the caller gets the
// source text back so the change can be located by hand.
func (s *Service) MergeFeedback(ctx context.Context, session Session, documentID, feedbackID, mode string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canEdit(session, doc) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "you need edit permissions to merge feedback", nil)
	}

	record, err := s.findFeedback(ctx, documentID, feedbackID)
	if err != nil {
		return nil, err
	}

	content, _, err := s.git.GetHeadContent(documentID, workingBranch(documentID))
	if err != nil {
		return nil, err
	}

	result := s.mergeEngine().Merge(ctx, content.Body, []merge.FeedbackItem{feedbackItem(record)}, merge.Options{
		Mode:  mergeMode(mode),
		Order: merge.ByLength,
	})
	outcome := result.PerItem[0]

	if err := s.store.UpdateFeedbackStatus(ctx, record.ID, string(outcome.Status)); err != nil {
		return nil, err
	}
	record.Status = string(outcome.Status)
	s.indexFeedback(record)

	if outcome.Status == merge.StatusConflict {
		return map[string]any{
			"success": false,
			"error":   outcome.Reason,
			"details": map[string]any{"changeFrom": outcome.ChangeFrom},
		}, nil
	}

	response := map[string]any{
		"success":       true,
		"mergedContent": result.MergedContent,
		"status":        outcome.Status,
	}
	if len(result.StructuralWarnings) > 0 {
		response["structuralWarnings"] = result.StructuralWarnings
	}

	if outcome.Status == merge.StatusApplied {
		content.Body = result.MergedContent
		message := fmt.Sprintf("Merge feedback %s", record.ID)
		commit, err := s.git.CommitContent(documentID, workingBranch(documentID), content, session.UserName, message)
		if err != nil {
			return nil, err
		}
		response["commit"] = commit.Hash
	}
	return response, nil
}

// MergeAllFeedback applies every pending feedback item in one deterministic
// pass. Per-item failures never abort the batch; the merged body is committed
// once when at least one item lands.
func (s *Service) MergeAllFeedback(ctx context.Context, session Session, documentID, mode, policy string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canEdit(session, doc) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "you need edit permissions to merge feedback", nil)
	}

	records, err := s.store.ListFeedbackByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var pending []store.FeedbackRecord
	for _, record := range records {
		if record.Status == string(merge.StatusPending) {
			pending = append(pending, record)
		}
	}
	if len(pending) == 0 {
		return map[string]any{"success": true, "applied": 0, "perItem": []any{}}, nil
	}

	content, _, err := s.git.GetHeadContent(documentID, workingBranch(documentID))
	if err != nil {
		return nil, err
	}

	items := make([]merge.FeedbackItem, 0, len(pending))
	for _, record := range pending {
		items = append(items, feedbackItem(record))
	}
	result := s.mergeEngine().Merge(ctx, content.Body, items, merge.Options{
		Mode:  mergeMode(mode),
		Order: orderingPolicy(policy),
	})

	byID := make(map[string]store.FeedbackRecord, len(pending))
	for _, record := range pending {
		byID[record.ID] = record
	}
	for _, outcome := range result.PerItem {
		if err := s.store.UpdateFeedbackStatus(ctx, outcome.FeedbackID, string(outcome.Status)); err != nil {
			return nil, err
		}
		if record, ok := byID[outcome.FeedbackID]; ok {
			record.Status = string(outcome.Status)
			s.indexFeedback(record)
		}
	}

	response := map[string]any{
		"success":       true,
		"applied":       result.Applied(),
		"perItem":       result.PerItem,
		"mergedContent": result.MergedContent,
	}
	if len(result.StructuralWarnings) > 0 {
		response["structuralWarnings"] = result.StructuralWarnings
	}

	if result.Applied() > 0 {
		content.Body = result.MergedContent
		message := fmt.Sprintf("Merge %d feedback items", result.Applied())
		commit, err := s.git.CommitContent(documentID, workingBranch(documentID), content, session.UserName, message)
		if err != nil {
			return nil, err
		}
		response["commit"] = commit.Hash
	}
	return response, nil
}

// MergeContent runs the merge engine against caller-supplied content without
// touching the document store. A single conflicting item reports the failure
// shape with the source text echoed; batches always report per-item outcomes.
func (s *Service) MergeContent(ctx context.Context, content string, items []merge.FeedbackItem, mode, policy string) map[string]any {
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
	}
	result := s.mergeEngine().Merge(ctx, content, items, merge.Options{
		Mode:  mergeMode(mode),
		Order: orderingPolicy(policy),
	})

	if len(items) == 1 && result.PerItem[0].Status == merge.StatusConflict {
		outcome := result.PerItem[0]
		return map[string]any{
			"success": false,
			"error":   outcome.Reason,
			"details": map[string]any{"changeFrom": outcome.ChangeFrom},
		}
	}

	response := map[string]any{
		"success":       true,
		"mergedContent": result.MergedContent,
		"perItem":       result.PerItem,
	}
	if len(result.StructuralWarnings) > 0 {
		response["structuralWarnings"] = result.StructuralWarnings
	}
	return response
}

func (s *Service) mergeEngine() Merger {
	if s.merger != nil {
		return s.merger
	}
	return merge.NewEngine(nil)
}

func (s *Service) findFeedback(ctx context.Context, documentID, feedbackID string) (store.FeedbackRecord, error) {
	records, err := s.store.ListFeedbackByDocument(ctx, documentID)
	if err != nil {
		return store.FeedbackRecord{}, err
	}
	for _, record := range records {
		if record.ID == feedbackID {
			return record, nil
		}
	}
	return store.FeedbackRecord{}, domainError(http.StatusNotFound, "NOT_FOUND", "feedback not found", nil)
}

func mergeMode(mode string) merge.Mode {
	if strings.EqualFold(mode, string(merge.ModeAI)) {
		return merge.ModeAI
	}
	return merge.ModeManual
}

func orderingPolicy(policy string) merge.OrderingPolicy {
	if strings.EqualFold(policy, string(merge.BySeverity)) {
		return merge.BySeverity
	}
	return merge.ByLength
}

func feedbackItem(record store.FeedbackRecord) merge.FeedbackItem {
	return merge.FeedbackItem{
		ID:              record.ID,
		Component:       record.Component,
		POCName:         record.POCName,
		POCPhone:        record.POCPhone,
		POCEmail:        record.POCEmail,
		CommentType:     record.CommentType,
		Severity:        merge.Severity(record.Severity),
		Page:            record.Page,
		ParagraphNumber: record.ParagraphNumber,
		LineNumber:      record.LineNumber,
		ChangeFrom:      record.ChangeFrom,
		ChangeTo:        record.ChangeTo,
		Justification:   record.Justification,
		Status:          merge.Status(record.Status),
	}
}

func feedbackView(record store.FeedbackRecord) map[string]any {
	view := map[string]any{
		"id":            record.ID,
		"documentId":    record.DocumentID,
		"reviewerId":    record.ReviewerID,
		"reviewerName":  record.ReviewerName,
		"severity":      record.Severity,
		"changeFrom":    record.ChangeFrom,
		"changeTo":      record.ChangeTo,
		"justification": record.Justification,
		"status":        record.Status,
		"createdAt":     record.CreatedAt,
	}
	if record.RoundID != "" {
		view["roundId"] = record.RoundID
	}
	if record.Component != "" {
		view["component"] = record.Component
	}
	if record.CommentType != "" {
		view["commentType"] = record.CommentType
	}
	if record.POCName != "" {
		view["poc"] = map[string]any{
			"name":  record.POCName,
			"phone": record.POCPhone,
			"email": record.POCEmail,
		}
	}
	if record.Page != "" || record.ParagraphNumber != "" || record.LineNumber != "" {
		view["location"] = map[string]any{
			"page":      record.Page,
			"paragraph": record.ParagraphNumber,
			"line":      record.LineNumber,
		}
	}
	return view
}
