package workflow

import (
	"testing"

	"pubworks/api/internal/rbac"
)

const sampleDefinition = `{
  "id": "wf_custom",
  "name": "Expedited Review",
  "description": "Three step expedited pipeline",
  "version": "2.1.0",
  "steps": [
    {"stepNumber": 3, "stepName": "Final Approval", "description": "Leadership signs off", "isRequired": true, "timeoutHours": 48, "requiredRole": "Leadership", "minApprovals": 1, "allowDelegation": false},
    {"stepNumber": 1, "stepName": "Draft", "description": "Author drafts", "isRequired": true, "timeoutHours": 96, "requiredRole": "Action Officer", "minApprovals": 1, "allowDelegation": true},
    {"stepNumber": 2, "stepName": "Legal Check", "description": "Legal reviews", "isRequired": true, "timeoutHours": 72, "requiredRole": "legal reviewer", "minApprovals": 2, "allowDelegation": false}
  ]
}`

func TestParseDefinition(t *testing.T) {
	g, err := ParseDefinition([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if g.Name != "Expedited Review" || g.Version != "2.1.0" {
		t.Fatalf("graph meta = %q %q", g.Name, g.Version)
	}

	stages := g.Stages()
	if len(stages) != 3 {
		t.Fatalf("stages = %d", len(stages))
	}

	// Steps were out of order in the document; order follows stepNumber.
	wantNames := []string{"Draft", "Legal Check", "Final Approval"}
	for i, stage := range stages {
		if stage.Name != wantNames[i] {
			t.Fatalf("stage %d = %q, want %q", i, stage.Name, wantNames[i])
		}
		if stage.Order != i+1 {
			t.Fatalf("stage %q order = %d", stage.Name, stage.Order)
		}
	}

	legal := stages[1]
	if len(legal.AllowedRoles) != 1 || legal.AllowedRoles[0] != rbac.TagLegalReviewer {
		t.Fatalf("legal roles = %v", legal.AllowedRoles)
	}
	if legal.TimeLimitHours != 72 || legal.MinApprovals != 2 {
		t.Fatalf("legal stage = %+v", legal)
	}

	// Non-final stages advance to the next step; the final stage has no
	// transition out.
	if stages[0].Actions[0].TargetStageID != "2" {
		t.Fatalf("draft advance target = %s", stages[0].Actions[0].TargetStageID)
	}
	if stages[2].Actions[0].TargetStageID != "" {
		t.Fatalf("final stage should be terminal, target = %s", stages[2].Actions[0].TargetStageID)
	}
}

func TestParseDefinitionErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{name: "garbage", doc: "{"},
		{name: "no name", doc: `{"steps":[{"stepNumber":1,"stepName":"A"}]}`},
		{name: "no steps", doc: `{"name":"Empty"}`},
		{name: "unnamed step", doc: `{"name":"Bad","steps":[{"stepNumber":1}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDefinition([]byte(tc.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	g, err := ParseDefinition([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	doc := ExportDefinition(g, "wf_custom")
	rebuilt, err := BuildDefinition(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	orig := g.Stages()
	again := rebuilt.Stages()
	if len(orig) != len(again) {
		t.Fatalf("stage count changed: %d vs %d", len(orig), len(again))
	}
	for i := range orig {
		if orig[i].Name != again[i].Name || orig[i].Order != again[i].Order || orig[i].TimeLimitHours != again[i].TimeLimitHours {
			t.Fatalf("stage %d drifted: %+v vs %+v", i, orig[i], again[i])
		}
	}
}
