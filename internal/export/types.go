// Package export renders documents to PDF and DOCX for publication.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID      string
	Version         string // "latest" or commit hash
	Format          Format
	IncludeFeedback bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentInfo holds document metadata for the rendered header.
type DocumentInfo struct {
	ID        string
	Title     string
	Subtitle  string
	Status    string
	OwnerName string
	UpdatedAt time.Time
}

// FeedbackInfo holds a feedback item for the appendix.
type FeedbackInfo struct {
	ReviewerName  string
	Severity      string
	Status        string
	Page          string
	Paragraph     string
	Line          string
	ChangeFrom    string
	ChangeTo      string
	Justification string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
