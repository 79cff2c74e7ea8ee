package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pubworks/api/internal/rbac"
)

// DefinitionDoc is the portable JSON form of a workflow definition.
type DefinitionDoc struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Steps       []DefinitionStep `json:"steps"`
}

type DefinitionStep struct {
	StepNumber      int    `json:"stepNumber"`
	StepName        string `json:"stepName"`
	Description     string `json:"description"`
	IsRequired      bool   `json:"isRequired"`
	TimeoutHours    int    `json:"timeoutHours"`
	RequiredRole    string `json:"requiredRole"`
	MinApprovals    int    `json:"minApprovals"`
	AllowDelegation bool   `json:"allowDelegation"`
}

// ParseDefinition turns an imported definition document into a graph. Steps
// are ordered by stepNumber; each non-final stage gets a single advance
// action to the next one, and every stage past the first gets the implicit
// return action for free.
func ParseDefinition(data []byte) (*Graph, error) {
	var doc DefinitionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return BuildDefinition(doc)
}

// BuildDefinition converts an already-decoded definition document.
func BuildDefinition(doc DefinitionDoc) (*Graph, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("workflow definition has no name")
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("workflow definition %q has no steps", doc.Name)
	}

	steps := make([]DefinitionStep, len(doc.Steps))
	copy(steps, doc.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	stages := make([]Stage, 0, len(steps))
	for i, step := range steps {
		if step.StepName == "" {
			return nil, fmt.Errorf("workflow definition %q: step %d has no name", doc.Name, step.StepNumber)
		}
		stage := Stage{
			ID:              strconv.Itoa(step.StepNumber),
			Order:           i + 1,
			Name:            step.StepName,
			Description:     step.Description,
			Type:            StageSequential,
			TimeLimitHours:  step.TimeoutHours,
			MinApprovals:    step.MinApprovals,
			AllowDelegation: step.AllowDelegation,
		}
		if tag := normalizeRoleTag(step.RequiredRole); tag != "" {
			stage.AllowedRoles = []rbac.RoleTag{tag}
		}
		if i < len(steps)-1 {
			next := steps[i+1]
			stage.Actions = []Action{{
				ID:            "advance_" + strconv.Itoa(next.StepNumber),
				Label:         "Advance to " + next.StepName,
				Type:          TypeAdvance,
				TargetStageID: strconv.Itoa(next.StepNumber),
			}}
		} else {
			stage.Actions = []Action{{
				ID:    "complete",
				Label: "Complete Workflow",
				Type:  TypeTask,
			}}
		}
		stages = append(stages, stage)
	}

	return NewGraph(doc.Name, doc.Version, stages)
}

// ExportDefinition renders a graph back into the portable document form.
func ExportDefinition(g *Graph, id string) DefinitionDoc {
	doc := DefinitionDoc{
		ID:          id,
		Name:        g.Name,
		Description: g.Description,
		Version:     g.Version,
	}
	for _, stage := range g.Stages() {
		step := DefinitionStep{
			StepNumber:      stage.Order,
			StepName:        stage.Name,
			Description:     stage.Description,
			IsRequired:      true,
			TimeoutHours:    stage.TimeLimitHours,
			MinApprovals:    stage.MinApprovals,
			AllowDelegation: stage.AllowDelegation,
		}
		if len(stage.AllowedRoles) > 0 {
			step.RequiredRole = string(stage.AllowedRoles[0])
		}
		doc.Steps = append(doc.Steps, step)
	}
	return doc
}

// normalizeRoleTag folds free-form role names ("Action Officer", "legal
// reviewer") into role tags.
func normalizeRoleTag(raw string) rbac.RoleTag {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return ""
	}
	cleaned = strings.ToUpper(cleaned)
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = strings.ReplaceAll(cleaned, ".", "_")
	return rbac.RoleTag(cleaned)
}
