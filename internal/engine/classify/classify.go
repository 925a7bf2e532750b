// Package classify decides whether an actor earns XP as an individual contributor or a manager.
package classify

import (
	"fmt"

	"pdiquest/internal/domain"
)

// Classify is total: missing facts classify as IC.
func Classify(f domain.OrgFacts) domain.ActorProfile {
	p := domain.ActorProfile{
		UserID:           f.UserID,
		Type:             domain.ProfileIC,
		Reasons:          []string{},
		SubordinateCount: f.SubordinateCount,
		ManagedTeamCount: f.ManagedTeamCount,
	}
	if f.SubordinateCount > 0 {
		p.Reasons = append(p.Reasons, fmt.Sprintf("manages %d direct report(s)", f.SubordinateCount))
	}
	if f.ManagedTeamCount > 0 {
		p.Reasons = append(p.Reasons, fmt.Sprintf("manages %d team(s)", f.ManagedTeamCount))
	}
	if f.ManagerRoleTeams > 0 {
		p.Reasons = append(p.Reasons, fmt.Sprintf("holds the manager role in %d team(s)", f.ManagerRoleTeams))
	}
	if f.IsAdmin {
		p.Reasons = append(p.Reasons, "workspace administrator")
	}
	if len(p.Reasons) > 0 {
		p.Type = domain.ProfileManager
	}
	return p
}
