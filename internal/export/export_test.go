package export

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	data := TemplateData{
		Title:       "Test Document",
		Subtitle:    "A test subtitle",
		Status:      "IN_REVIEW",
		ContentHTML: template.HTML("<p>This is the content.</p>"),
		Author:      "Test Author",
		UpdatedAt:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Feedback: []TemplateFeedback{
			{
				Reviewer:      "Reviewer One",
				Severity:      "CRITICAL",
				Status:        "APPLIED",
				Location:      "p. 3, para. 2, line 14",
				ChangeFrom:    "old wording",
				ChangeTo:      "new wording",
				Justification: "Regulation change",
			},
		},
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	if !strings.Contains(html, "Test Document") {
		t.Error("HTML missing title")
	}
	if !strings.Contains(html, "A test subtitle") {
		t.Error("HTML missing subtitle")
	}
	if !strings.Contains(html, "This is the content") {
		t.Error("HTML missing content")
	}
	if !strings.Contains(html, "Review Comments") {
		t.Error("HTML missing feedback appendix")
	}
	if !strings.Contains(html, "Regulation change") {
		t.Error("HTML missing feedback justification")
	}

	// The document body must be rendered as raw HTML, not escaped.
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped - should be rendered as raw HTML")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}

func TestRenderDocumentHTMLWithoutFeedback(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{
		Title:       "Bare",
		ContentHTML: template.HTML("<p>body</p>"),
		UpdatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	if strings.Contains(html, "Review Comments") {
		t.Error("appendix rendered without feedback items")
	}
}

type fakeExportStore struct {
	document DocumentInfo
	body     string
	feedback []FeedbackInfo
	bodyErr  error
}

func (f *fakeExportStore) GetDocument(_ context.Context, id string) (DocumentInfo, error) {
	if f.document.ID != id {
		return DocumentInfo{}, errors.New("not found")
	}
	return f.document, nil
}

func (f *fakeExportStore) GetDocumentBody(_ context.Context, _, _ string) (string, error) {
	return f.body, f.bodyErr
}

func (f *fakeExportStore) ListFeedback(_ context.Context, _ string) ([]FeedbackInfo, error) {
	return f.feedback, nil
}

func TestExportContentUnavailable(t *testing.T) {
	svc := NewService(&fakeExportStore{
		document: DocumentInfo{ID: "doc_1", Title: "Doc"},
		bodyErr:  errors.New("missing commit"),
	})

	_, err := svc.Export(context.Background(), Request{
		DocumentID: "doc_1",
		Version:    "latest",
		Format:     FormatPDF,
	})
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(&fakeExportStore{
		document: DocumentInfo{ID: "doc_1", Title: "Doc"},
		body:     "<p>body</p>",
	})

	_, err := svc.Export(context.Background(), Request{
		DocumentID: "doc_1",
		Version:    "latest",
		Format:     Format("txt"),
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestFormatLocation(t *testing.T) {
	tests := []struct {
		name string
		item FeedbackInfo
		want string
	}{
		{"all parts", FeedbackInfo{Page: "3", Paragraph: "2", Line: "14"}, "p. 3, para. 2, line 14"},
		{"page only", FeedbackInfo{Page: "7"}, "p. 7"},
		{"line only", FeedbackInfo{Line: "9"}, "line 9"},
		{"empty", FeedbackInfo{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatLocation(tt.item); got != tt.want {
				t.Errorf("formatLocation() = %q, want %q", got, tt.want)
			}
		})
	}
}
