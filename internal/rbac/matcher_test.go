package rbac

import "testing"

func TestMatcherMatches(t *testing.T) {
	m := NewMatcher(nil)

	cases := []struct {
		name    string
		tag     RoleTag
		rawRole string
		want    bool
	}{
		{name: "ao1 is action officer", tag: TagActionOfficer, rawRole: "AO1", want: true},
		{name: "opr is action officer", tag: TagActionOfficer, rawRole: "OPR", want: true},
		{name: "action officer spelled out", tag: TagActionOfficer, rawRole: "Action Officer", want: true},
		{name: "pcm1 is pcm", tag: TagPCM, rawRole: "PCM1", want: true},
		{name: "coordinator1 is coordinator", tag: TagCoordinator, rawRole: "coordinator1", want: true},
		{name: "legal reviewer is legal", tag: TagLegal, rawRole: "Legal Reviewer", want: true},
		{name: "legal reviewer matches legal reviewer family", tag: TagLegalReviewer, rawRole: "legal reviewer", want: true},
		{name: "opr leadership is leadership", tag: TagLeadership, rawRole: "OPR Leadership", want: true},
		{name: "dotted opr leadership", tag: TagLeadership, rawRole: "opr.leadership", want: true},
		{name: "commander is leadership", tag: TagCommander, rawRole: "Commander", want: true},
		{name: "afdpo publisher", tag: TagAFDPO, rawRole: "AFDPO Publisher", want: true},
		{name: "sub reviewer exact only", tag: TagSubReviewer, rawRole: "sub_reviewer", want: true},
		{name: "legal reviewer is not sub reviewer", tag: TagSubReviewer, rawRole: "Legal Reviewer", want: false},
		{name: "coordinator is not pcm", tag: TagPCM, rawRole: "coordinator1", want: false},
		{name: "empty role never matches", tag: TagPCM, rawRole: "", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Matches(tc.tag, tc.rawRole); got != tc.want {
				t.Fatalf("Matches(%q, %q) = %v, want %v", tc.tag, tc.rawRole, got, tc.want)
			}
		})
	}
}

func TestMatcherSatisfies(t *testing.T) {
	m := NewMatcher(nil)

	cases := []struct {
		name     string
		required []RoleTag
		rawRole  string
		isAdmin  bool
		want     bool
	}{
		{name: "admin flag always passes", required: []RoleTag{TagLegal}, rawRole: "coordinator1", isAdmin: true, want: true},
		{name: "admin role always passes", required: []RoleTag{TagLegal}, rawRole: "Admin", want: true},
		{name: "matching family passes", required: []RoleTag{TagPCM}, rawRole: "pcm1", want: true},
		{name: "any of several families", required: []RoleTag{TagSubReviewer, TagOPR, TagCoordinator}, rawRole: "coordinator1", want: true},
		{name: "non-matching family fails", required: []RoleTag{TagPCM}, rawRole: "ao1", want: false},
		{name: "no gate admits any role", required: nil, rawRole: "viewer-ish", want: true},
		{name: "no gate still needs a role", required: nil, rawRole: "", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Satisfies(tc.required, tc.rawRole, tc.isAdmin); got != tc.want {
				t.Fatalf("Satisfies(%v, %q, %v) = %v, want %v", tc.required, tc.rawRole, tc.isAdmin, got, tc.want)
			}
		})
	}
}

func TestMatcherCustomAliases(t *testing.T) {
	m := NewMatcher(map[RoleTag][]Pattern{
		TagPCM: {{Value: "gatekeeper"}},
	})

	if !m.Matches(TagPCM, "Chief Gatekeeper") {
		t.Fatal("custom alias should match")
	}
	if m.Matches(TagPCM, "pcm1") {
		t.Fatal("default alias should not apply with a custom table")
	}
	if !m.Matches(TagPCM, "PCM") {
		t.Fatal("tag name itself should always match")
	}
}
