package workflow

import "pubworks/api/internal/rbac"

// Default returns the built-in 12-stage coordination pipeline. Stage ids are
// historical ("3.5" and "5.5" were wedged in between integer stages) and are
// kept stable because instances and return-action ids reference them.
func Default() *Graph {
	stages := []Stage{
		{
			ID: "1", Order: 1, Name: "Initial Draft Preparation",
			Description:    "Action Officer creates and refines initial draft",
			Type:           StageSequential,
			AllowedRoles:   []rbac.RoleTag{rbac.TagActionOfficer},
			TimeLimitHours: 168,
			Actions: []Action{
				{ID: "create_draft", Label: "Create Draft", Type: TypeTask},
				{ID: "transfer_ownership", Label: "Transfer to Another AO", Type: TypeTask},
				{ID: "submit_to_pcm", Label: "Submit to PCM", Type: TypeAdvance, TargetStageID: "2"},
			},
		},
		{
			ID: "2", Order: 2, Name: "PCM Review (OPR Gatekeeper)",
			Description:    "Program Control Manager reviews draft before coordination",
			Type:           StageApproval,
			AllowedRoles:   []rbac.RoleTag{rbac.TagPCM},
			TimeLimitHours: 72,
			ReturnLabel:    "Return to Draft Preparation",
			Actions: []Action{
				{ID: "review", Label: "Review Document", Type: TypeTask, Semantic: SemanticAlwaysIfEditable},
				{ID: "approve", Label: "Approve for Coordination", Type: TypeAdvance, Semantic: SemanticPCMGate, TargetStageID: "3"},
				{ID: "reject", Label: "Return to AO", Type: TypeReturn, TargetStageID: "1", RequireComment: true},
			},
		},
		{
			ID: "3", Order: 3, Name: "First Coordination - Distribution Phase",
			Description:    "Coordinator distributes the draft to reviewers",
			Type:           StageParallel,
			AllowedRoles:   []rbac.RoleTag{rbac.TagCoordinator},
			TimeLimitHours: 120,
			ReturnLabel:    "Return to PCM for Review",
			Actions: []Action{
				{ID: "distribute_to_reviewers", Label: "Distribute to Reviewers", Type: TypeDistribute, TargetStageID: "3.5"},
			},
		},
		{
			ID: "3.5", Order: 4, Name: "Review Collection Phase",
			Description:    "Reviewers submit feedback on the draft",
			Type:           StageParallel,
			AllowedRoles:   []rbac.RoleTag{rbac.TagSubReviewer, rbac.TagOPR, rbac.TagCoordinator, rbac.TagActionOfficer},
			TimeLimitHours: 240,
			ReturnLabel:    "Return to Distribution Phase",
			Actions: []Action{
				{ID: "submit_review", Label: "Submit Review", Type: TypeTask},
				{ID: "complete_reviews", Label: "All Reviews Complete", Type: TypeAdvance, Semantic: SemanticCoordinatorGate, TargetStageID: "4"},
			},
		},
		{
			ID: "4", Order: 5, Name: "OPR Feedback Incorporation & Draft Creation",
			Description:    "Action Officer incorporates feedback and creates the draft document",
			Type:           StageSequential,
			AllowedRoles:   []rbac.RoleTag{rbac.TagActionOfficer, rbac.TagLeadership},
			TimeLimitHours: 120,
			ReturnLabel:    "Return to Review Collection",
			Actions: []Action{
				{ID: "review_feedback", Label: "Review All Feedback", Type: TypeTask},
				{ID: "incorporate_changes", Label: "Incorporate Changes", Type: TypeTask, Semantic: SemanticOfficerGate},
				{ID: "create_draft_document", Label: "Create Draft Document", Type: TypeTask, Semantic: SemanticOfficerGate},
				{ID: "submit_for_second_coordination", Label: "Submit for Second Coordination", Type: TypeAdvance, TargetStageID: "5"},
			},
		},
		{
			ID: "5", Order: 6, Name: "Second Coordination - Distribution Phase",
			Description:    "Coordinator distributes the updated draft",
			Type:           StageParallel,
			AllowedRoles:   []rbac.RoleTag{rbac.TagCoordinator},
			TimeLimitHours: 120,
			ReturnLabel:    "Return to Feedback Incorporation",
			Actions: []Action{
				{ID: "distribute_draft_to_reviewers", Label: "Distribute Draft to Reviewers", Type: TypeDistribute, TargetStageID: "5.5"},
			},
		},
		{
			ID: "5.5", Order: 7, Name: "Second Review Collection Phase",
			Description:    "Reviewers, leadership, and legal submit feedback on the draft",
			Type:           StageParallel,
			AllowedRoles:   []rbac.RoleTag{rbac.TagSubReviewer, rbac.TagOPR, rbac.TagCoordinator, rbac.TagActionOfficer, rbac.TagLeadership, rbac.TagLegal, rbac.TagLegalReviewer},
			TimeLimitHours: 240,
			ReturnLabel:    "Return to Second Distribution",
			Actions: []Action{
				{ID: "submit_draft_review", Label: "Submit Draft Review", Type: TypeTask},
				{ID: "complete_draft_reviews", Label: "All Draft Reviews Complete", Type: TypeAdvance, Semantic: SemanticCoordinatorGate, TargetStageID: "6"},
			},
		},
		{
			ID: "6", Order: 8, Name: "Second OPR Feedback Incorporation",
			Description:    "Action Officer incorporates second-round feedback",
			Type:           StageSequential,
			AllowedRoles:   []rbac.RoleTag{rbac.TagActionOfficer, rbac.TagOPR, rbac.TagLeadership, rbac.TagOPRLeadership},
			TimeLimitHours: 72,
			ReturnLabel:    "Return to Second Review Collection",
			Actions: []Action{
				{ID: "review_second_feedback", Label: "Review Second Round Feedback", Type: TypeTask},
				{ID: "final_updates", Label: "Make Final Updates", Type: TypeTask},
				{ID: "submit_to_legal", Label: "Submit to Legal", Type: TypeAdvance, TargetStageID: "7"},
			},
		},
		{
			ID: "7", Order: 9, Name: "Legal Review & Approval",
			Description:    "Legal reviews and approves the document",
			Type:           StageApproval,
			AllowedRoles:   []rbac.RoleTag{rbac.TagLegal},
			TimeLimitHours: 120,
			ReturnLabel:    "Return to Draft Finalization",
			Actions: []Action{
				{ID: "legal_review", Label: "Legal Review", Type: TypeTask},
				{ID: "approve", Label: "Approve", Type: TypeAdvance, TargetStageID: "8"},
				{ID: "reject", Label: "Reject with Legal Concerns", Type: TypeReturn, TargetStageID: "6", RequireComment: true},
			},
		},
		{
			ID: "8", Order: 10, Name: "Post-Legal OPR Update",
			Description:    "Action Officer addresses legal feedback",
			Type:           StageSequential,
			AllowedRoles:   []rbac.RoleTag{rbac.TagActionOfficer, rbac.TagOPR, rbac.TagLeadership},
			TimeLimitHours: 72,
			ReturnLabel:    "Return to Legal Review",
			Actions: []Action{
				{ID: "address_legal", Label: "Address Legal Feedback", Type: TypeTask},
				{ID: "prepare_for_leadership", Label: "Prepare for Leadership Review", Type: TypeTask},
				{ID: "submit_to_leadership", Label: "Submit to OPR Leadership", Type: TypeAdvance, TargetStageID: "9"},
			},
		},
		{
			ID: "9", Order: 11, Name: "OPR Leadership Final Review & Signature",
			Description:    "Leadership performs the final review and signs",
			Type:           StageApproval,
			AllowedRoles:   []rbac.RoleTag{rbac.TagLeadership},
			TimeLimitHours: 72,
			ReturnLabel:    "Return to Final Draft Prep",
			Actions: []Action{
				{ID: "final_review", Label: "Final Leadership Review", Type: TypeTask},
				{ID: "sign_and_approve", Label: "Sign and Approve", Type: TypeAdvance, TargetStageID: "10"},
				{ID: "reject", Label: "Reject", Type: TypeReturn, TargetStageID: "8", RequireComment: true},
			},
		},
		{
			ID: "10", Order: 12, Name: "PCM Final Validation",
			Description:    "Program Control Manager validates before publication",
			Type:           StageApproval,
			AllowedRoles:   []rbac.RoleTag{rbac.TagPCM},
			TimeLimitHours: 48,
			ReturnLabel:    "Return to Leadership Review",
			Actions: []Action{
				{ID: "pcm_final_review", Label: "PCM Final Review", Type: TypeTask},
				{ID: "approve_for_publication", Label: "Approve for Publication", Type: TypeAdvance, TargetStageID: "11"},
				{ID: "return_to_leadership", Label: "Return to Leadership", Type: TypeReturn, TargetStageID: "9", RequireComment: true},
			},
		},
		{
			ID: "11", Order: 13, Name: "AFDPO Publication",
			Description:    "Publisher performs the final check and publishes",
			Type:           StageApproval,
			AllowedRoles:   []rbac.RoleTag{rbac.TagAFDPO},
			TimeLimitHours: 168,
			ReturnLabel:    "Return to PCM Validation",
			Actions: []Action{
				{ID: "final_check", Label: "Final Publication Check", Type: TypeTask},
				{ID: "publish", Label: "Publish Document", Type: TypeTask},
				{ID: "archive", Label: "Archive", Type: TypeTask},
			},
		},
	}

	graph, err := NewGraph("coordination-12-stage", "1.0.0", stages)
	if err != nil {
		// The built-in definition is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return graph
}
