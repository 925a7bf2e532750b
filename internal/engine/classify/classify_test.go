package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdiquest/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		facts   domain.OrgFacts
		want    domain.ProfileType
		reasons int
	}{
		{"no facts", domain.OrgFacts{UserID: "u"}, domain.ProfileIC, 0},
		{"reports", domain.OrgFacts{UserID: "u", SubordinateCount: 3}, domain.ProfileManager, 1},
		{"teams", domain.OrgFacts{UserID: "u", ManagedTeamCount: 1}, domain.ProfileManager, 1},
		{"both", domain.OrgFacts{UserID: "u", SubordinateCount: 2, ManagedTeamCount: 1}, domain.ProfileManager, 2},
		{"admin", domain.OrgFacts{UserID: "u", IsAdmin: true}, domain.ProfileManager, 1},
		{"role", domain.OrgFacts{UserID: "u", ManagerRoleTeams: 2}, domain.ProfileManager, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Classify(tc.facts)
			assert.Equal(t, tc.want, p.Type)
			assert.Len(t, p.Reasons, tc.reasons)
			assert.Equal(t, "u", p.UserID)
		})
	}
}

func TestClassifyReasonText(t *testing.T) {
	p := Classify(domain.OrgFacts{SubordinateCount: 4})
	assert.Equal(t, []string{"manages 4 direct report(s)"}, p.Reasons)
	assert.True(t, p.IsManager())
}
