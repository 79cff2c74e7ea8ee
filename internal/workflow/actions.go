package workflow

import (
	"fmt"
	"strings"

	"pubworks/api/internal/rbac"
)

// DisplayAction is an action as presented to a specific actor: hidden actions
// are omitted entirely, unauthorized ones are present but disabled with a
// reason.
type DisplayAction struct {
	ID                   string     `json:"id"`
	Label                string     `json:"label"`
	TargetStageID        string     `json:"target"`
	Type                 ActionType `json:"type"`
	RequiresDistribution bool       `json:"requiresDistribution"`
	Disabled             bool       `json:"disabled"`
	DisabledReason       string     `json:"disabledReason,omitempty"`
}

// ComputeActions enumerates the actions of the instance's current stage for
// one actor. Gate semantics hide actions outright; the stage role gate only
// disables them. Every stage past the first also gets a synthesized return
// action targeting the previous stage, gated on the current stage's roles.
func ComputeActions(g *Graph, stageID string, m *rbac.Matcher, actorRole string, canEdit, isAdmin bool) []DisplayAction {
	stage, ok := g.Stage(stageID)
	if !ok {
		return nil
	}

	allowed := stageRoleSatisfied(stage, m, actorRole, canEdit, isAdmin)

	var actions []DisplayAction
	for _, action := range stage.Actions {
		if hiddenByGate(action.Semantic, actorRole, isAdmin) {
			continue
		}

		display := DisplayAction{
			ID:                   action.ID,
			Label:                action.Label,
			TargetStageID:        action.TargetStageID,
			Type:                 action.Type,
			RequiresDistribution: action.Type == TypeDistribute,
		}
		if display.TargetStageID == "" {
			display.TargetStageID = stage.ID
		}

		if action.Semantic == SemanticAlwaysIfEditable {
			if !canEdit {
				display.Disabled = true
				display.DisabledReason = "You need edit permissions"
			}
		} else if !allowed {
			display.Disabled = true
			display.DisabledReason = requiredRoleReason(stage)
		}

		actions = append(actions, display)
	}

	if prev, ok := g.PreviousStage(stage.ID); ok {
		ret := DisplayAction{
			ID:            "return-to-" + prev.ID,
			Label:         stage.ReturnLabel,
			TargetStageID: prev.ID,
			Type:          TypeReturn,
		}
		if ret.Label == "" {
			ret.Label = "Return to " + prev.Name
		}
		if !allowed {
			ret.Disabled = true
			ret.DisabledReason = requiredRoleReason(stage)
		}
		actions = append(actions, ret)
	}

	return actions
}

// stageRoleSatisfied applies the stage's role gate. A stage with no role gate
// admits anyone who can edit the document.
func stageRoleSatisfied(stage Stage, m *rbac.Matcher, actorRole string, canEdit, isAdmin bool) bool {
	ok := m.Satisfies(stage.AllowedRoles, actorRole, isAdmin)
	if ok && len(stage.AllowedRoles) == 0 && !isAdmin {
		return canEdit
	}
	return ok
}

// hiddenByGate reproduces the visibility exceptions: coordination approval is
// PCM-only, review-completion is coordinator-only, and incorporation tasks
// are action-officer-only. Admins see everything.
func hiddenByGate(sem ActionSemantic, actorRole string, isAdmin bool) bool {
	role := strings.ToLower(strings.TrimSpace(actorRole))
	if isAdmin || role == "admin" {
		return false
	}
	switch sem {
	case SemanticPCMGate:
		return !strings.Contains(role, "pcm")
	case SemanticCoordinatorGate:
		return !strings.Contains(role, "coord")
	case SemanticOfficerGate:
		return !strings.Contains(role, "action") && !strings.Contains(role, "ao")
	default:
		return false
	}
}

func requiredRoleReason(stage Stage) string {
	role := "appropriate"
	if len(stage.AllowedRoles) > 0 {
		role = string(stage.AllowedRoles[0])
	}
	return fmt.Sprintf("This action requires %s role", role)
}

func gateRoleName(sem ActionSemantic) rbac.RoleTag {
	switch sem {
	case SemanticPCMGate:
		return rbac.TagPCM
	case SemanticCoordinatorGate:
		return rbac.TagCoordinator
	case SemanticOfficerGate:
		return rbac.TagActionOfficer
	default:
		return ""
	}
}
