package rbac

import "strings"

// RoleTag names a workflow role family. Stage gates and action gates are
// expressed in tags; account roles are free-form strings ("AO1", "PCM1",
// "Legal Reviewer") resolved against the alias table.
type RoleTag string

const (
	TagActionOfficer RoleTag = "ACTION_OFFICER"
	TagOPR           RoleTag = "OPR"
	TagPCM           RoleTag = "PCM"
	TagCoordinator   RoleTag = "COORDINATOR"
	TagSubReviewer   RoleTag = "SUB_REVIEWER"
	TagLegal         RoleTag = "LEGAL"
	TagLegalReviewer RoleTag = "LEGAL_REVIEWER"
	TagLeadership    RoleTag = "LEADERSHIP"
	TagOPRLeadership RoleTag = "OPR_LEADERSHIP"
	TagCommander     RoleTag = "COMMANDER"
	TagAFDPO         RoleTag = "AFDPO"
)

// Pattern matches a raw account role against a role family. Matching is
// case-insensitive and by substring unless Exact is set.
type Pattern struct {
	Value string
	Exact bool
}

func (p Pattern) matches(role string) bool {
	if p.Exact {
		return role == p.Value
	}
	return strings.Contains(role, p.Value)
}

// DefaultAliases is the built-in alias table. Tags absent from the table
// (SUB_REVIEWER) match only a raw role equal to the tag name.
func DefaultAliases() map[RoleTag][]Pattern {
	officer := []Pattern{{Value: "opr"}, {Value: "ao"}, {Value: "action"}}
	leadership := []Pattern{{Value: "leader"}, {Value: "commander"}, {Value: "opr.leadership", Exact: true}}
	return map[RoleTag][]Pattern{
		TagActionOfficer: officer,
		TagOPR:           {{Value: "opr"}, {Value: "action"}},
		TagPCM:           {{Value: "pcm"}},
		TagCoordinator:   {{Value: "coord"}},
		TagLegal:         {{Value: "legal"}},
		TagLegalReviewer: {{Value: "legal"}},
		TagLeadership:    leadership,
		TagOPRLeadership: leadership,
		TagCommander:     leadership,
		TagAFDPO:         {{Value: "publish"}},
	}
}

// Matcher resolves raw account roles against role families.
type Matcher struct {
	aliases map[RoleTag][]Pattern
}

// NewMatcher builds a matcher over the given alias table. A nil table means
// DefaultAliases.
func NewMatcher(aliases map[RoleTag][]Pattern) *Matcher {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Matcher{aliases: aliases}
}

// Matches reports whether rawRole belongs to the tag's role family. A raw
// role equal to the tag name always matches, with or without aliases.
func (m *Matcher) Matches(tag RoleTag, rawRole string) bool {
	role := strings.ToLower(strings.TrimSpace(rawRole))
	if role == "" {
		return false
	}
	if role == strings.ToLower(string(tag)) {
		return true
	}
	for _, pattern := range m.aliases[tag] {
		if pattern.matches(role) {
			return true
		}
	}
	return false
}

// Satisfies reports whether rawRole may act on a stage gated by required.
// Admins always pass. An empty required list carries no role gate at all;
// callers enforce edit permission for such stages instead.
func (m *Matcher) Satisfies(required []RoleTag, rawRole string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	role := strings.ToLower(strings.TrimSpace(rawRole))
	if role == "admin" {
		return true
	}
	if role == "" {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, tag := range required {
		if m.Matches(tag, rawRole) {
			return true
		}
	}
	return false
}
