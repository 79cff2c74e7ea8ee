package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string // membership role: viewer, reviewer, editor, admin
	WorkflowRole          string // pipeline role as assigned, e.g. "AO1", "PCM1", "Legal Reviewer"
	IsExternal            bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Document struct {
	ID        string
	Title     string
	Subtitle  string
	Status    string
	OwnerID   string
	OwnerName string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkflowInstance is a document's position in its pipeline. Version is the
// optimistic concurrency stamp; every applied action increments it and
// updates are conditional on the version the caller read.
type WorkflowInstance struct {
	DocumentID     string
	DefinitionID   string
	CurrentStageID string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransitionRecord is one immutable row of a document's workflow history.
type TransitionRecord struct {
	ID          int64
	DocumentID  string
	ActionID    string
	ActionLabel string
	FromStageID string
	ToStageID   string
	ActorID     string
	ActorName   string
	ActorRole   string
	Comment     string
	CreatedAt   time.Time
}

type FeedbackRecord struct {
	ID              string
	DocumentID      string
	RoundID         string
	ReviewerID      string
	ReviewerName    string
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
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type DistributionRound struct {
	ID          string
	DocumentID  string
	StageID     string
	Comment     string
	CreatedBy   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type RoundReviewer struct {
	RoundID      string
	ReviewerID   string
	ReviewerName string
	SubmittedAt  *time.Time
}

// WorkflowDefinitionRecord stores an imported workflow definition. Document
// holds the portable JSON form.
type WorkflowDefinitionRecord struct {
	ID        string
	Name      string
	Version   string
	Document  string
	Active    bool
	CreatedBy string
	CreatedAt time.Time
}

// PublishedArtifact records a rendered document uploaded to the archive at
// the publication stage.
type PublishedArtifact struct {
	ID          string
	DocumentID  string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	PublishedBy string
	PublishedAt time.Time
}

type NamedVersion struct {
	Name      string
	Hash      string
	CreatedBy string
	CreatedAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
