package workflow

import (
	"fmt"
	"strings"
	"time"

	"pubworks/api/internal/rbac"
)

// Transition is an immutable history entry. Task actions record a transition
// whose ToStageID equals FromStageID.
type Transition struct {
	ActionID    string    `json:"actionId"`
	ActionLabel string    `json:"actionLabel"`
	FromStageID string    `json:"fromStageId"`
	ToStageID   string    `json:"toStageId"`
	ActorID     string    `json:"actorId"`
	ActorRole   string    `json:"actorRole"`
	Comment     string    `json:"comment,omitempty"`
	At          time.Time `json:"at"`
}

// Instance tracks one document's position in the pipeline. Version is an
// optimistic concurrency stamp: it increments on every applied action, and
// the store refuses to persist an instance whose stored version has moved.
type Instance struct {
	DocumentID     string
	CurrentStageID string
	Version        int
	History        []Transition
}

// NewInstance starts a document at the graph's entry stage.
func NewInstance(documentID string, g *Graph) *Instance {
	return &Instance{
		DocumentID:     documentID,
		CurrentStageID: g.First().ID,
		Version:        1,
	}
}

// ApplyInput carries everything Apply needs to know about the actor.
type ApplyInput struct {
	ActionID  string
	ActorID   string
	ActorRole string
	CanEdit   bool
	IsAdmin   bool
	Comment   string
	Now       time.Time
}

// Apply executes one action against the instance. Guards, in order: the
// action must exist on the current stage (synthesized returns included), the
// actor must be able to see it and must pass the role gate, and distribute
// or comment-required actions must carry a comment. On success the stage
// moves, the version increments, and the transition is appended to history.
func (ins *Instance) Apply(g *Graph, m *rbac.Matcher, in ApplyInput) (Transition, error) {
	stage, ok := g.Stage(ins.CurrentStageID)
	if !ok {
		return Transition{}, fmt.Errorf("instance %s: unknown current stage %q: %w", ins.DocumentID, ins.CurrentStageID, ErrInvalidTransition)
	}

	action, found := resolveAction(g, stage, in.ActionID)
	if !found {
		return Transition{}, fmt.Errorf("stage %s has no action %q: %w", stage.ID, in.ActionID, ErrInvalidTransition)
	}

	if hiddenByGate(action.Semantic, in.ActorRole, in.IsAdmin) {
		return Transition{}, &PermissionError{
			ActionID: action.ID,
			Reason:   fmt.Sprintf("This action requires %s role", gateRoleName(action.Semantic)),
		}
	}
	if action.Semantic == SemanticAlwaysIfEditable {
		if !in.CanEdit {
			return Transition{}, &PermissionError{ActionID: action.ID, Reason: "You need edit permissions"}
		}
	} else if !stageRoleSatisfied(stage, m, in.ActorRole, in.CanEdit, in.IsAdmin) {
		return Transition{}, &PermissionError{ActionID: action.ID, Reason: requiredRoleReason(stage)}
	}

	needsComment := action.RequireComment || action.Type == TypeDistribute
	if needsComment && strings.TrimSpace(in.Comment) == "" {
		return Transition{}, fmt.Errorf("action %s: %w", action.ID, ErrCommentRequired)
	}

	target := action.TargetStageID
	if target == "" {
		target = stage.ID
	}
	if _, ok := g.Stage(target); !ok {
		return Transition{}, fmt.Errorf("action %s targets unknown stage %q: %w", action.ID, target, ErrInvalidTransition)
	}

	at := in.Now
	if at.IsZero() {
		at = time.Now().UTC()
	}

	transition := Transition{
		ActionID:    action.ID,
		ActionLabel: action.Label,
		FromStageID: stage.ID,
		ToStageID:   target,
		ActorID:     in.ActorID,
		ActorRole:   in.ActorRole,
		Comment:     in.Comment,
		At:          at,
	}

	ins.CurrentStageID = target
	ins.Version++
	ins.History = append(ins.History, transition)
	return transition, nil
}

// resolveAction finds an action on the stage, including the synthesized
// return action ("return-to-<previous stage id>").
func resolveAction(g *Graph, stage Stage, actionID string) (Action, bool) {
	for _, action := range stage.Actions {
		if action.ID == actionID {
			return action, true
		}
	}
	if prev, ok := g.PreviousStage(stage.ID); ok && actionID == "return-to-"+prev.ID {
		label := stage.ReturnLabel
		if label == "" {
			label = "Return to " + prev.Name
		}
		return Action{
			ID:            actionID,
			Label:         label,
			Type:          TypeReturn,
			TargetStageID: prev.ID,
		}, true
	}
	return Action{}, false
}
