package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:    "Operations Manual",
		Subtitle: "Volume 1",
		Body:     "<h1>Operations Manual</h1>\n<p>Baseline text.</p>",
	}

	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Re-running the import is a no-op on an existing repo.
	if err := svc.EnsureDocumentRepo("doc-1", Content{Title: "Other"}, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() second call error = %v", err)
	}

	if err := svc.EnsureBranch("doc-1", "working-doc-1", "main"); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}

	updated := initial
	updated.Body = "<h1>Operations Manual</h1>\n<p>Merged feedback text.</p>"
	commit, err := svc.CommitContent("doc-1", "working-doc-1", updated, "Avery", "Incorporate feedback")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("doc-1", "working-doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	changed, err := svc.GetContentByHash("doc-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if !strings.Contains(changed.Body, "Merged feedback text") {
		t.Fatalf("unexpected content: %+v", changed)
	}

	head, headCommit, err := svc.GetHeadContent("doc-1", "working-doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if head.Body != updated.Body {
		t.Fatalf("head body mismatch: %q", head.Body)
	}
	if headCommit.Hash != commit.Hash {
		t.Fatalf("head commit = %s, want %s", headCommit.Hash, commit.Hash)
	}
}

func TestMergeIntoMainCopiesBranchContent(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{Title: "Doc", Body: "<p>v1</p>"}
	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.EnsureBranch("doc-1", "working-doc-1", "main"); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}

	updated := initial
	updated.Body = "<p>v2</p>"
	if _, err := svc.CommitContent("doc-1", "working-doc-1", updated, "Avery", "Revise body"); err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}

	merged, err := svc.MergeIntoMain("doc-1", "working-doc-1", "Avery", "Finalize draft")
	if err != nil {
		t.Fatalf("MergeIntoMain() error = %v", err)
	}
	if !strings.Contains(merged.Message, "source=working-doc-1 target=main") {
		t.Fatalf("unexpected merge message: %q", merged.Message)
	}

	mainHead, _, err := svc.GetHeadContent("doc-1", "main")
	if err != nil {
		t.Fatalf("GetHeadContent(main) error = %v", err)
	}
	if mainHead.Body != "<p>v2</p>" {
		t.Fatalf("main body = %q, want merged content", mainHead.Body)
	}
}

func TestTagsListNewestFirst(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{Title: "Doc", Body: "<p>v1</p>"}
	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	head, commit, err := svc.GetHeadContent("doc-1", "main")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	_ = head

	if err := svc.CreateTag("doc-1", commit.Hash, "v1.0"); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	// Tagging the same name twice is idempotent.
	if err := svc.CreateTag("doc-1", commit.Hash, "v1.0"); err != nil {
		t.Fatalf("CreateTag() repeat error = %v", err)
	}

	tags, err := svc.ListTags("doc-1")
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "v1.0" {
		t.Fatalf("tags = %+v", tags)
	}
	if tags[0].Hash != commit.Hash {
		t.Fatalf("tag hash = %s, want %s", tags[0].Hash, commit.Hash)
	}
}

func TestDiffFieldsAndHasChanges(t *testing.T) {
	from := Content{Title: "Doc", Subtitle: "Sub", Body: "<p>one</p>"}
	to := Content{Title: "Doc (revised)", Subtitle: "Sub", Body: "<p>two</p>"}

	if !HasChanges(from, to) {
		t.Fatal("expected HasChanges to report a difference")
	}
	if HasChanges(from, from) {
		t.Fatal("expected identical content to report no changes")
	}

	diff := DiffFields(from, to)
	if len(diff) != 2 {
		t.Fatalf("diff = %+v", diff)
	}
	if diff[0]["field"] != "body" || diff[1]["field"] != "title" {
		t.Fatalf("unexpected diff order: %+v", diff)
	}
	if diff[1]["after"] != "Doc (revised)" {
		t.Fatalf("unexpected title diff: %+v", diff[1])
	}
}

func TestConcurrentCommitContentSameBranch(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:    "Doc",
		Subtitle: "Sub",
		Body:     "<p>baseline</p>",
	}

	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.EnsureBranch("doc-1", "working-doc-1", "main"); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Body = fmt.Sprintf("<p>revision-%02d</p>", idx)
			if _, err := svc.CommitContent("doc-1", "working-doc-1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitContent() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc-1", "working-doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.GetHeadContent("doc-1", "working-doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if !strings.HasPrefix(head.Body, "<p>revision-") {
		t.Fatalf("unexpected head content after concurrent commits: %+v", head)
	}
}
