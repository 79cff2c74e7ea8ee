package app

import (
	"context"
	"net/http"
	"strings"

	"pubworks/api/internal/gitrepo"
	"pubworks/api/internal/store"
	"pubworks/api/internal/util"
)

type CreateDocumentInput struct {
	Title    string
	Subtitle string
	Body     string
}

func (s *Service) ListDocuments(ctx context.Context) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, map[string]any{
			"id":        doc.ID,
			"title":     doc.Title,
			"subtitle":  doc.Subtitle,
			"status":    doc.Status,
			"ownerId":   doc.OwnerID,
			"ownerName": doc.OwnerName,
			"updatedBy": doc.UpdatedBy,
			"updatedAt": doc.UpdatedAt,
		})
	}
	return items, nil
}

// GetDocumentDetail returns the document row plus the working draft content
// and the viewer's permissions.
func (s *Service) GetDocumentDetail(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, head, err := s.git.GetHeadContent(documentID, workingBranch(documentID))
	if err != nil {
		return nil, err
	}
	instance, err := s.store.GetWorkflowInstance(ctx, documentID)
	if err != nil {
		return nil, err
	}
	stageName := ""
	if stage, ok := s.graph.Stage(instance.CurrentStageID); ok {
		stageName = stage.Name
	}

	return map[string]any{
		"id":        doc.ID,
		"title":     content.Title,
		"subtitle":  content.Subtitle,
		"body":      content.Body,
		"status":    doc.Status,
		"ownerId":   doc.OwnerID,
		"ownerName": doc.OwnerName,
		"updatedBy": doc.UpdatedBy,
		"updatedAt": doc.UpdatedAt,
		"commit":    head.Hash,
		"stage": map[string]any{
			"id":   instance.CurrentStageID,
			"name": stageName,
		},
		"workflowVersion": instance.Version,
		"canEdit":         s.canEdit(session, doc),
	}, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, in CreateDocumentInput) (map[string]any, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "title is required", nil)
	}

	documentID := util.NewID("doc")
	doc := store.Document{
		ID:        documentID,
		Title:     title,
		Subtitle:  strings.TrimSpace(in.Subtitle),
		Status:    "DRAFT",
		OwnerID:   session.UserID,
		UpdatedBy: session.UserName,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	content := gitrepo.Content{Title: doc.Title, Subtitle: doc.Subtitle, Body: in.Body}
	if err := s.git.EnsureDocumentRepo(documentID, content, session.UserName); err != nil {
		return nil, err
	}
	if err := s.git.EnsureBranch(documentID, workingBranch(documentID), "main"); err != nil {
		return nil, err
	}

	if err := s.store.InsertWorkflowInstance(ctx, store.WorkflowInstance{
		DocumentID:     documentID,
		DefinitionID:   "wfd_default",
		CurrentStageID: s.graph.First().ID,
		Version:        1,
	}); err != nil {
		return nil, err
	}

	s.indexDocument(doc)
	return map[string]any{
		"id":       documentID,
		"title":    doc.Title,
		"subtitle": doc.Subtitle,
		"status":   doc.Status,
		"ownerId":  doc.OwnerID,
	}, nil
}

// GetContent returns the working draft, or a historical revision when ref
// names a commit hash or tag.
func (s *Service) GetContent(ctx context.Context, documentID, ref string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	if ref == "" || ref == "working" {
		content, head, err := s.git.GetHeadContent(documentID, workingBranch(documentID))
		if err != nil {
			return nil, err
		}
		return contentView(content, head.Hash), nil
	}

	content, err := s.git.GetContentByHash(documentID, ref)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "revision not found", map[string]any{"ref": ref})
	}
	return contentView(content, ref), nil
}

func contentView(content gitrepo.Content, ref string) map[string]any {
	return map[string]any{
		"title":    content.Title,
		"subtitle": content.Subtitle,
		"body":     content.Body,
		"ref":      ref,
	}
}

// SaveContent commits an edit to the document's working branch.
func (s *Service) SaveContent(ctx context.Context, session Session, documentID string, content gitrepo.Content) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canEdit(session, doc) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "you need edit permissions to modify this document", nil)
	}
	if strings.TrimSpace(content.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "title is required", nil)
	}

	commit, err := s.git.CommitContent(documentID, workingBranch(documentID), content, session.UserName, "Edit document")
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, content.Title, content.Subtitle, doc.Status, session.UserName); err != nil {
		return nil, err
	}
	s.indexDocument(store.Document{ID: documentID, Title: content.Title, Subtitle: content.Subtitle, Status: doc.Status})

	return map[string]any{"commit": commit.Hash, "committedAt": commit.CreatedAt}, nil
}

func (s *Service) DocumentHistory(ctx context.Context, documentID string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	commits, err := s.git.History(documentID, workingBranch(documentID), limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":    commit.Hash,
			"message": commit.Message,
			"author":  commit.Author,
			"at":      commit.CreatedAt,
		})
	}
	return items, nil
}

// CreateVersion tags the current working draft under a name.
func (s *Service) CreateVersion(ctx context.Context, session Session, documentID, name string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canEdit(session, doc) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "you need edit permissions to tag versions", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "version name is required", nil)
	}

	_, head, err := s.git.GetHeadContent(documentID, workingBranch(documentID))
	if err != nil {
		return nil, err
	}
	if err := s.git.CreateTag(documentID, head.Hash, name); err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "hash": head.Hash}, nil
}

func (s *Service) ListVersions(ctx context.Context, documentID string) ([]map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.git.ListTags(documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		items = append(items, map[string]any{
			"name":      version.Name,
			"hash":      version.Hash,
			"createdBy": version.CreatedBy,
			"createdAt": version.CreatedAt,
		})
	}
	return items, nil
}

// DocumentChanges compares the working draft against main, field by field.
func (s *Service) DocumentChanges(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	published, _, err := s.git.GetHeadContent(documentID, "main")
	if err != nil {
		return nil, err
	}
	working, _, err := s.git.GetHeadContent(documentID, workingBranch(documentID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"hasChanges": gitrepo.HasChanges(published, working),
		"fields":     gitrepo.DiffFields(published, working),
	}, nil
}

// TransferOwnership hands the document to another user. Only the current
// owner or an admin may do this.
func (s *Service) TransferOwnership(ctx context.Context, session Session, documentID, newOwnerID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != session.UserID && !s.isAdmin(session) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner or an admin can transfer a document", nil)
	}
	if _, err := s.store.GetUserByID(ctx, newOwnerID); err != nil {
		return err
	}
	return s.store.TransferDocumentOwner(ctx, documentID, newOwnerID, session.UserName)
}
