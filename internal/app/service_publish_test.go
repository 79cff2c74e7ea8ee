package app

import (
	"context"
	"errors"
	"testing"

	"pubworks/api/internal/store"
)

func TestPublishMergesWorkingIntoMain(t *testing.T) {
	var mergedBranch string
	var statusSet string

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("11", 9),
		updateDocumentStateFn: func(_ context.Context, _, _, _, status, _ string) error {
			statusSet = status
			return nil
		},
	}
	fg := &fakeGit{
		mergeIntoMainFn: func(_ string, sourceBranch, _, _ string) (store.CommitInfo, error) {
			mergedBranch = sourceBranch
			return store.CommitInfo{Hash: "def5678"}, nil
		},
	}
	service := newTestService(fs, fg)
	session := Session{UserID: "usr-pub", UserName: "Drew", Role: "editor", WorkflowRole: "AFDPO Publisher"}

	payload, err := service.PublishDocument(context.Background(), session, "doc-1")
	if err != nil {
		t.Fatalf("PublishDocument() error = %v", err)
	}
	if mergedBranch != "working-doc-1" {
		t.Fatalf("merged branch = %q, want the working branch", mergedBranch)
	}
	if payload["status"] != "PUBLISHED" || payload["commit"] != "def5678" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload["archived"] != false {
		t.Fatalf("archived = %v, want false without export/archive wiring", payload["archived"])
	}
	if statusSet != "PUBLISHED" {
		t.Fatalf("document status = %q, want PUBLISHED", statusSet)
	}
}

func TestPublishVersionConflictLeavesGitUntouched(t *testing.T) {
	merged := false

	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("11", 9),
		advanceStageFn: func(context.Context, string, int, string) error {
			return store.ErrVersionConflict
		},
	}
	fg := &fakeGit{
		mergeIntoMainFn: func(string, string, string, string) (store.CommitInfo, error) {
			merged = true
			return store.CommitInfo{Hash: "def5678"}, nil
		},
	}
	service := newTestService(fs, fg)
	session := Session{UserID: "usr-pub", UserName: "Drew", Role: "editor", WorkflowRole: "AFDPO Publisher"}

	_, err := service.PublishDocument(context.Background(), session, "doc-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 409 || domainErr.Code != "CONCURRENT_MODIFICATION" {
		t.Fatalf("unexpected error mapping: %+v", domainErr)
	}
	if merged {
		t.Fatal("a conflicted publish must not merge into main")
	}
}

func TestPublishRejectedBeforePublicationStage(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("usr-ao"),
		getInstanceFn: instanceAt("4", 2),
	}
	service := newTestService(fs, &fakeGit{})
	session := Session{UserID: "usr-pub", UserName: "Drew", Role: "editor", WorkflowRole: "AFDPO Publisher"}

	_, err := service.PublishDocument(context.Background(), session, "doc-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "NOT_AT_PUBLICATION" {
		t.Fatalf("unexpected code %q", domainErr.Code)
	}
}
