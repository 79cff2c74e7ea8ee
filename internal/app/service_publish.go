package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"pubworks/api/internal/export"
	"pubworks/api/internal/store"
	"pubworks/api/internal/util"
	"pubworks/api/internal/workflow"
)

// exportStore adapts the document store and git layer to the export
// renderer's view of the world.
type exportStore struct {
	store dataStore
	git   gitService
}

func (e *exportStore) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:        doc.ID,
		Title:     doc.Title,
		Subtitle:  doc.Subtitle,
		Status:    doc.Status,
		OwnerName: doc.OwnerName,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (e *exportStore) GetDocumentBody(ctx context.Context, documentID, version string) (string, error) {
	if version == "" || version == "working" {
		content, _, err := e.git.GetHeadContent(documentID, workingBranch(documentID))
		if err != nil {
			return "", err
		}
		return content.Body, nil
	}
	content, err := e.git.GetContentByHash(documentID, version)
	if err != nil {
		return "", err
	}
	return content.Body, nil
}

func (e *exportStore) ListFeedback(ctx context.Context, documentID string) ([]export.FeedbackInfo, error) {
	records, err := e.store.ListFeedbackByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]export.FeedbackInfo, 0, len(records))
	for _, record := range records {
		items = append(items, export.FeedbackInfo{
			ReviewerName:  record.ReviewerName,
			Severity:      record.Severity,
			Status:        record.Status,
			Page:          record.Page,
			Paragraph:     record.ParagraphNumber,
			Line:          record.LineNumber,
			ChangeFrom:    record.ChangeFrom,
			ChangeTo:      record.ChangeTo,
			Justification: record.Justification,
		})
	}
	return items, nil
}

// ExportDocument renders the document in the requested format.
func (s *Service) ExportDocument(ctx context.Context, documentID, format, version string, includeFeedback bool) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "export is not configured", nil)
	}
	result, err := s.export.Export(ctx, export.Request{
		DocumentID:      documentID,
		Version:         version,
		Format:          export.Format(strings.ToLower(format)),
		IncludeFeedback: includeFeedback,
	})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrContentUnavailable):
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "document content unavailable", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
		case strings.Contains(err.Error(), "unsupported format"):
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		}
		return nil, err
	}
	return result, nil
}

// PublishDocument executes the publication stage: the publish action runs
// through the workflow engine (which enforces the publisher role gate), the
// working draft is merged into main, and a rendered PDF is archived.
func (s *Service) PublishDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	record, err := s.store.GetWorkflowInstance(ctx, documentID)
	if err != nil {
		return nil, err
	}
	stage, ok := s.graph.Stage(record.CurrentStageID)
	if !ok || !stageHasAction(stage, "publish") {
		return nil, domainError(http.StatusUnprocessableEntity, "NOT_AT_PUBLICATION",
			"the document has not reached the publication stage", map[string]any{"stageId": record.CurrentStageID})
	}

	instance := workflow.Instance{
		DocumentID:     documentID,
		CurrentStageID: record.CurrentStageID,
		Version:        record.Version,
	}
	transition, err := instance.Apply(s.graph, s.matcher, workflow.ApplyInput{
		ActionID:  "publish",
		ActorID:   session.UserID,
		ActorRole: session.WorkflowRole,
		CanEdit:   s.canEdit(session, doc),
		IsAdmin:   s.isAdmin(session),
		Now:       time.Now().UTC(),
	})
	if err != nil {
		return nil, mapWorkflowError(err)
	}

	// The version check goes first: a conflicted publish must not have
	// touched git history.
	if err := s.store.AdvanceInstanceStage(ctx, documentID, record.Version, transition.ToStageID); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, domainError(http.StatusConflict, "CONCURRENT_MODIFICATION",
				"the document's workflow changed while you were working; reload and retry", nil)
		}
		return nil, err
	}

	mergeCommit, err := s.git.MergeIntoMain(documentID, workingBranch(documentID), session.UserName, "Publish document")
	if err != nil {
		return nil, err
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
	}); err != nil {
		return nil, err
	}

	response := map[string]any{
		"documentId": documentID,
		"status":     "PUBLISHED",
		"commit":     mergeCommit.Hash,
		"archived":   false,
	}

	if s.export != nil && s.archive != nil {
		result, err := s.export.Export(ctx, export.Request{
			DocumentID: documentID,
			Format:     export.FormatPDF,
		})
		if err == nil {
			publishedAt := time.Now().UTC()
			key, err := s.archive.Upload(ctx, documentID, result.Filename, result.MimeType, result.Data, publishedAt)
			if err == nil {
				artifact := store.PublishedArtifact{
					ID:          util.NewID("pub"),
					DocumentID:  documentID,
					ObjectKey:   key,
					ContentType: result.MimeType,
					SizeBytes:   int64(len(result.Data)),
					PublishedBy: session.UserID,
					PublishedAt: publishedAt,
				}
				if err := s.store.InsertPublishedArtifact(ctx, artifact); err != nil {
					return nil, err
				}
				response["archived"] = true
				response["artifactId"] = artifact.ID
				response["objectKey"] = key
			}
		}
	}

	if err := s.store.UpdateDocumentState(ctx, documentID, doc.Title, doc.Subtitle, "PUBLISHED", session.UserName); err != nil {
		return nil, err
	}
	s.indexDocument(store.Document{ID: doc.ID, Title: doc.Title, Subtitle: doc.Subtitle, Status: "PUBLISHED"})
	s.notifyStageTransition(ctx, doc, "Published", session.UserName, "")
	return response, nil
}

func stageHasAction(stage workflow.Stage, actionID string) bool {
	for _, action := range stage.Actions {
		if action.ID == actionID {
			return true
		}
	}
	return false
}

func (s *Service) ListArtifacts(ctx context.Context, documentID string) ([]map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListPublishedArtifacts(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		item := map[string]any{
			"id":          artifact.ID,
			"objectKey":   artifact.ObjectKey,
			"contentType": artifact.ContentType,
			"sizeBytes":   artifact.SizeBytes,
			"publishedBy": artifact.PublishedBy,
			"publishedAt": artifact.PublishedAt,
		}
		if s.archive != nil {
			if url, err := s.archive.PresignedURL(ctx, artifact.ObjectKey, 15*time.Minute); err == nil {
				item["downloadUrl"] = url
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// ImportWorkflowDefinition validates and stores a portable workflow
// definition. Imported definitions are retrievable but the built-in pipeline
// remains the execution default.
func (s *Service) ImportWorkflowDefinition(ctx context.Context, session Session, payload []byte) (map[string]any, error) {
	if !s.isAdmin(session) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only admins can import workflow definitions", nil)
	}

	graph, err := workflow.ParseDefinition(payload)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	}

	record := store.WorkflowDefinitionRecord{
		ID:        util.NewID("wfd"),
		Name:      graph.Name,
		Version:   graph.Version,
		Document:  string(payload),
		Active:    false,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertWorkflowDefinition(ctx, record); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":      record.ID,
		"name":    record.Name,
		"version": record.Version,
		"stages":  len(graph.Stages()),
	}, nil
}

func (s *Service) ListWorkflowDefinitions(ctx context.Context) ([]map[string]any, error) {
	records, err := s.store.ListWorkflowDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, map[string]any{
			"id":        record.ID,
			"name":      record.Name,
			"version":   record.Version,
			"active":    record.Active,
			"createdBy": record.CreatedBy,
			"createdAt": record.CreatedAt,
		})
	}
	return items, nil
}

// ExportWorkflowDefinition returns the portable JSON form of a stored
// definition. The built-in pipeline is rendered from the live graph.
func (s *Service) ExportWorkflowDefinition(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "wfd_default" {
		payload, err := json.Marshal(workflow.ExportDefinition(s.graph, id))
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
	record, err := s.store.GetWorkflowDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(record.Document), nil
}
