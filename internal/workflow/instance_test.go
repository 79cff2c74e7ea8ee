package workflow

import (
	"errors"
	"testing"
	"time"

	"pubworks/api/internal/rbac"
)

func TestInstanceApplyAdvance(t *testing.T) {
	g := Default()
	m := rbac.NewMatcher(nil)
	ins := NewInstance("doc_1", g)

	if ins.CurrentStageID != "1" || ins.Version != 1 {
		t.Fatalf("new instance = %+v", ins)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr, err := ins.Apply(g, m, ApplyInput{
		ActionID: "submit_to_pcm", ActorID: "u_ao", ActorRole: "ao1", CanEdit: true, Now: now,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if tr.FromStageID != "1" || tr.ToStageID != "2" {
		t.Fatalf("transition = %+v", tr)
	}
	if ins.CurrentStageID != "2" || ins.Version != 2 {
		t.Fatalf("instance after advance = %+v", ins)
	}
	if len(ins.History) != 1 || !ins.History[0].At.Equal(now) {
		t.Fatalf("history = %+v", ins.History)
	}
}

func TestInstanceApplyTaskKeepsStage(t *testing.T) {
	g := Default()
	m := rbac.NewMatcher(nil)
	ins := NewInstance("doc_1", g)

	tr, err := ins.Apply(g, m, ApplyInput{ActionID: "create_draft", ActorID: "u_ao", ActorRole: "ao1", CanEdit: true})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if tr.ToStageID != tr.FromStageID || tr.ToStageID != "1" {
		t.Fatalf("task transition = %+v", tr)
	}
	if ins.CurrentStageID != "1" {
		t.Fatalf("stage moved on task action: %s", ins.CurrentStageID)
	}
	if ins.Version != 2 {
		t.Fatalf("task action should still bump version, got %d", ins.Version)
	}
}

func TestInstanceApplyGuards(t *testing.T) {
	g := Default()
	m := rbac.NewMatcher(nil)

	at := func(stageID string) *Instance {
		return &Instance{DocumentID: "doc_1", CurrentStageID: stageID, Version: 1}
	}

	t.Run("unknown action", func(t *testing.T) {
		_, err := at("1").Apply(g, m, ApplyInput{ActionID: "launch", ActorRole: "ao1", CanEdit: true})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("wrong role is denied with the required role", func(t *testing.T) {
		_, err := at("7").Apply(g, m, ApplyInput{ActionID: "approve", ActorRole: "ao1", CanEdit: true})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("err = %v", err)
		}
		var perr *PermissionError
		if !errors.As(err, &perr) || perr.Reason != "This action requires LEGAL role" {
			t.Fatalf("permission error = %v", err)
		}
	})

	t.Run("hidden gate is denied", func(t *testing.T) {
		_, err := at("2").Apply(g, m, ApplyInput{ActionID: "approve", ActorRole: "ao1", CanEdit: true})
		var perr *PermissionError
		if !errors.As(err, &perr) || perr.Reason != "This action requires PCM role" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("distribute needs a comment", func(t *testing.T) {
		_, err := at("3").Apply(g, m, ApplyInput{ActionID: "distribute_to_reviewers", ActorRole: "coordinator1", CanEdit: true})
		if !errors.Is(err, ErrCommentRequired) {
			t.Fatalf("err = %v", err)
		}
		ins := at("3")
		if _, err := ins.Apply(g, m, ApplyInput{ActionID: "distribute_to_reviewers", ActorRole: "coordinator1", CanEdit: true, Comment: "round one"}); err != nil {
			t.Fatalf("apply with comment: %v", err)
		}
		if ins.CurrentStageID != "3.5" {
			t.Fatalf("stage after distribute = %s", ins.CurrentStageID)
		}
	})

	t.Run("reject needs a comment", func(t *testing.T) {
		_, err := at("2").Apply(g, m, ApplyInput{ActionID: "reject", ActorRole: "pcm1", CanEdit: true})
		if !errors.Is(err, ErrCommentRequired) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("review document needs edit permission", func(t *testing.T) {
		_, err := at("2").Apply(g, m, ApplyInput{ActionID: "review", ActorRole: "pcm1", CanEdit: false})
		var perr *PermissionError
		if !errors.As(err, &perr) || perr.Reason != "You need edit permissions" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("failed apply leaves the instance untouched", func(t *testing.T) {
		ins := at("2")
		_, _ = ins.Apply(g, m, ApplyInput{ActionID: "approve", ActorRole: "ao1", CanEdit: true})
		if ins.CurrentStageID != "2" || ins.Version != 1 || len(ins.History) != 0 {
			t.Fatalf("instance mutated on failure: %+v", ins)
		}
	})
}

func TestInstanceApplyReturn(t *testing.T) {
	g := Default()
	m := rbac.NewMatcher(nil)

	ins := &Instance{DocumentID: "doc_1", CurrentStageID: "4", Version: 3}
	tr, err := ins.Apply(g, m, ApplyInput{ActionID: "return-to-3.5", ActorID: "u_ao", ActorRole: "ao1", CanEdit: true, Comment: "missing reviews"})
	if err != nil {
		t.Fatalf("apply return: %v", err)
	}
	if tr.ToStageID != "3.5" || tr.ActionLabel != "Return to Review Collection" {
		t.Fatalf("return transition = %+v", tr)
	}
	if ins.CurrentStageID != "3.5" || ins.Version != 4 {
		t.Fatalf("instance after return = %+v", ins)
	}

	// The return id must name the actual previous stage.
	_, err = ins.Apply(g, m, ApplyInput{ActionID: "return-to-1", ActorRole: "coordinator1", CanEdit: true})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
}

func TestInstanceFullPipeline(t *testing.T) {
	g := Default()
	m := rbac.NewMatcher(nil)
	ins := NewInstance("doc_1", g)

	steps := []struct {
		actionID string
		role     string
		comment  string
	}{
		{actionID: "submit_to_pcm", role: "ao1"},
		{actionID: "approve", role: "pcm1"},
		{actionID: "distribute_to_reviewers", role: "coordinator1", comment: "first round"},
		{actionID: "complete_reviews", role: "coordinator1"},
		{actionID: "submit_for_second_coordination", role: "ao1"},
		{actionID: "distribute_draft_to_reviewers", role: "coordinator1", comment: "second round"},
		{actionID: "complete_draft_reviews", role: "coordinator1"},
		{actionID: "submit_to_legal", role: "ao1"},
		{actionID: "approve", role: "legal reviewer"},
		{actionID: "submit_to_leadership", role: "ao1"},
		{actionID: "sign_and_approve", role: "opr leadership"},
		{actionID: "approve_for_publication", role: "pcm1"},
	}

	for _, step := range steps {
		if _, err := ins.Apply(g, m, ApplyInput{ActionID: step.actionID, ActorRole: step.role, CanEdit: true, Comment: step.comment}); err != nil {
			t.Fatalf("apply %s as %s at stage %s: %v", step.actionID, step.role, ins.CurrentStageID, err)
		}
	}

	if ins.CurrentStageID != "11" {
		t.Fatalf("final stage = %s", ins.CurrentStageID)
	}
	if ins.Version != len(steps)+1 {
		t.Fatalf("version = %d", ins.Version)
	}
	if len(ins.History) != len(steps) {
		t.Fatalf("history length = %d", len(ins.History))
	}
}
