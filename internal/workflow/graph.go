// Package workflow implements the stage graph, role-gated action filtering,
// and transition engine for the document approval pipeline.
package workflow

import (
	"fmt"
	"sort"

	"pubworks/api/internal/rbac"
)

type StageType string

const (
	StageSequential StageType = "sequential"
	StageApproval   StageType = "approval"
	StageParallel   StageType = "parallel"
)

type ActionType string

const (
	// TypeTask actions complete work inside the current stage.
	TypeTask ActionType = "TASK"
	// TypeAdvance actions move the document forward to TargetStageID.
	TypeAdvance ActionType = "ADVANCE"
	// TypeDistribute actions fan the document out to reviewers and then
	// advance. They always require a comment.
	TypeDistribute ActionType = "DISTRIBUTE"
	// TypeReturn actions send the document backward.
	TypeReturn ActionType = "RETURN"
)

// ActionSemantic replaces the old label-matched visibility exceptions with a
// typed tag assigned at definition time.
type ActionSemantic string

const (
	SemanticNone ActionSemantic = ""
	// SemanticPCMGate hides the action from anyone outside the PCM family.
	SemanticPCMGate ActionSemantic = "PCM_GATE"
	// SemanticCoordinatorGate hides the action from non-coordinators.
	SemanticCoordinatorGate ActionSemantic = "COORDINATOR_GATE"
	// SemanticOfficerGate hides the action from non-action-officers.
	SemanticOfficerGate ActionSemantic = "OFFICER_GATE"
	// SemanticAlwaysIfEditable enables the action for anyone who can edit
	// the document, regardless of the stage role gate.
	SemanticAlwaysIfEditable ActionSemantic = "ALWAYS_IF_EDITABLE"
)

type Action struct {
	ID             string
	Label          string
	Type           ActionType
	Semantic       ActionSemantic
	TargetStageID  string // empty for TASK actions
	RequireComment bool
}

type Stage struct {
	ID              string
	Order           int
	Name            string
	Description     string
	Type            StageType
	AllowedRoles    []rbac.RoleTag
	Actions         []Action
	TimeLimitHours  int
	MinApprovals    int
	AllowDelegation bool
	// ReturnLabel overrides the label of the synthesized return action.
	ReturnLabel string
}

// Graph is a validated, order-sorted stage pipeline.
type Graph struct {
	Name        string
	Version     string
	Description string
	stages      []Stage
	byID        map[string]int
}

// NewGraph validates the stages and returns a graph. Orders must be unique
// and contiguous starting at 1; every action target must name a stage.
func NewGraph(name, version string, stages []Stage) (*Graph, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("workflow %q has no stages", name)
	}

	sorted := make([]Stage, len(stages))
	copy(sorted, stages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	byID := make(map[string]int, len(sorted))
	for i, stage := range sorted {
		if stage.ID == "" {
			return nil, fmt.Errorf("workflow %q: stage at order %d has empty id", name, stage.Order)
		}
		if _, dup := byID[stage.ID]; dup {
			return nil, fmt.Errorf("workflow %q: duplicate stage id %q", name, stage.ID)
		}
		if stage.Order != i+1 {
			return nil, fmt.Errorf("workflow %q: stage orders must be contiguous from 1, got %d at position %d", name, stage.Order, i+1)
		}
		byID[stage.ID] = i
	}

	for _, stage := range sorted {
		for _, action := range stage.Actions {
			if action.ID == "" {
				return nil, fmt.Errorf("workflow %q: stage %s has an action with empty id", name, stage.ID)
			}
			if action.TargetStageID != "" {
				if _, ok := byID[action.TargetStageID]; !ok {
					return nil, fmt.Errorf("workflow %q: action %s targets unknown stage %q", name, action.ID, action.TargetStageID)
				}
			}
		}
	}

	return &Graph{Name: name, Version: version, stages: sorted, byID: byID}, nil
}

// Stages returns the stages in pipeline order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

func (g *Graph) Stage(id string) (Stage, bool) {
	i, ok := g.byID[id]
	if !ok {
		return Stage{}, false
	}
	return g.stages[i], true
}

// First returns the entry stage of the pipeline.
func (g *Graph) First() Stage {
	return g.stages[0]
}

// PreviousStage returns the stage immediately before id in pipeline order.
func (g *Graph) PreviousStage(id string) (Stage, bool) {
	i, ok := g.byID[id]
	if !ok || i == 0 {
		return Stage{}, false
	}
	return g.stages[i-1], true
}
