package catalog

import (
	"fmt"
	"sort"

	"pdiquest/internal/domain"
)

// UnknownActionError is returned for action ids the catalog does not define.
type UnknownActionError struct {
	ActionID string
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.ActionID)
}

// Catalog is the read-only action registry. Safe for concurrent use once built.
type Catalog struct {
	byID  map[string]domain.ActionDefinition
	order []string
}

func New(defs []domain.ActionDefinition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]domain.ActionDefinition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("action id required")
		}
		if d.BasePoints <= 0 {
			return nil, fmt.Errorf("action %s base points must be positive", d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("action %s defined twice", d.ID)
		}
		if d.CooldownScope == "" {
			d.CooldownScope = domain.CooldownPerActor
		}
		d.EligibleProfiles = append([]domain.ProfileType(nil), d.EligibleProfiles...)
		if d.MinQualityRating != nil {
			v := *d.MinQualityRating
			d.MinQualityRating = &v
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	rank := map[domain.Category]int{}
	for i, cat := range domain.Categories() {
		rank[cat] = i
	}
	sort.SliceStable(c.order, func(i, j int) bool {
		a, b := c.byID[c.order[i]], c.byID[c.order[j]]
		if a.Category != b.Category {
			return rank[a.Category] < rank[b.Category]
		}
		return a.ID < b.ID
	})
	return c, nil
}

// Lookup returns a copy of the definition for actionID.
func (c *Catalog) Lookup(actionID string) (domain.ActionDefinition, error) {
	d, ok := c.byID[actionID]
	if !ok {
		return domain.ActionDefinition{}, UnknownActionError{ActionID: actionID}
	}
	return copyDef(d), nil
}

// List returns all definitions ordered by category, then id.
func (c *Catalog) List() []domain.ActionDefinition {
	out := make([]domain.ActionDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, copyDef(c.byID[id]))
	}
	return out
}

func copyDef(d domain.ActionDefinition) domain.ActionDefinition {
	d.EligibleProfiles = append([]domain.ProfileType(nil), d.EligibleProfiles...)
	if d.MinQualityRating != nil {
		v := *d.MinQualityRating
		d.MinQualityRating = &v
	}
	return d
}
