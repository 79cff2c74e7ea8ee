package export

import (
	"context"
	"fmt"
	"html/template"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	GetDocumentBody(ctx context.Context, documentID, version string) (string, error)
	ListFeedback(ctx context.Context, documentID string) ([]FeedbackInfo, error)
}

// Service provides document export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	docInfo, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	body, err := s.store.GetDocumentBody(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:       docInfo.Title,
		Subtitle:    docInfo.Subtitle,
		Status:      docInfo.Status,
		ContentHTML: template.HTML(body),
		Author:      docInfo.OwnerName,
		UpdatedAt:   docInfo.UpdatedAt,
		Feedback:    []TemplateFeedback{},
	}

	if req.IncludeFeedback {
		items, err := s.store.ListFeedback(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list feedback: %w", err)
		}
		for _, item := range items {
			data.Feedback = append(data.Feedback, TemplateFeedback{
				Reviewer:      item.ReviewerName,
				Severity:      item.Severity,
				Status:        item.Status,
				Location:      formatLocation(item),
				ChangeFrom:    item.ChangeFrom,
				ChangeTo:      item.ChangeTo,
				Justification: item.Justification,
			})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, docInfo.Title)
	case FormatDOCX:
		return exportDOCX(html, docInfo.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func formatLocation(item FeedbackInfo) string {
	location := ""
	if item.Page != "" {
		location += "p. " + item.Page
	}
	if item.Paragraph != "" {
		if location != "" {
			location += ", "
		}
		location += "para. " + item.Paragraph
	}
	if item.Line != "" {
		if location != "" {
			location += ", "
		}
		location += "line " + item.Line
	}
	return location
}
