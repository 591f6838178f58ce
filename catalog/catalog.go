/*
Package catalog holds the static definitions the points engine consumes.

PURPOSE:
  Competition types with their podium point values, collection-log and
  combat-achievement tiers, and shop item definitions. The catalog is
  read-only at runtime: it is loaded once from a TOML file (or the built-in
  defaults) and handed to the award and shop services.

  Catalog data is configuration, not state. Shop stock is the one stateful
  field; SyncShopItems seeds it on first sight of an item and never touches
  it again.

SEE ALSO:
  - points/awards.go: Consumes competition types and tiers
  - engine/shop.go: Settles purchases against the synced items
*/
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// DEFINITIONS
// =============================================================================

// CompetitionType names a recurring event and the points paid per placement.
// Podium[0] is first place. Placements beyond the podium pay nothing.
type CompetitionType struct {
	Name   string  `toml:"name"`
	Podium []int64 `toml:"podium"`
}

// PointsFor returns the points for a 1-based placement, or zero when the
// placement is off the podium.
func (c CompetitionType) PointsFor(placement int) int64 {
	if placement < 1 || placement > len(c.Podium) {
		return 0
	}
	return c.Podium[placement-1]
}

// Tier is one rung of a milestone ladder. For collection-log ladders
// Requirement is the item count needed; for combat-achievement ladders the
// tiers are claimed by name and Requirement is informational.
type Tier struct {
	Name        string `toml:"name"`
	Requirement int64  `toml:"requirement"`
	Points      int64  `toml:"points"`
	Active      bool   `toml:"active"`
}

// Item is a shop item definition. Stock -1 means unlimited.
type Item struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Cost   int64  `toml:"cost"`
	Stock  int64  `toml:"stock"`
	Active bool   `toml:"active"`
}

// Catalog is the full static configuration.
type Catalog struct {
	Competitions []CompetitionType `toml:"competition"`
	ClogTiers    []Tier            `toml:"clog_tier"`
	CATiers      []Tier            `toml:"ca_tier"`
	Items        []Item            `toml:"item"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads a catalog from a TOML file and validates it.
func Load(path string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool)
	for _, comp := range c.Competitions {
		if comp.Name == "" {
			return fmt.Errorf("competition with empty name")
		}
		if len(comp.Podium) == 0 {
			return fmt.Errorf("competition %q has no podium", comp.Name)
		}
		for i, p := range comp.Podium {
			if p <= 0 {
				return fmt.Errorf("competition %q podium[%d] must be positive", comp.Name, i)
			}
		}
		key := strings.ToLower(comp.Name)
		if seen[key] {
			return fmt.Errorf("duplicate competition %q", comp.Name)
		}
		seen[key] = true
	}
	for _, t := range c.ClogTiers {
		if t.Name == "" || t.Requirement <= 0 || t.Points <= 0 {
			return fmt.Errorf("invalid clog tier %+v", t)
		}
	}
	for _, t := range c.CATiers {
		if t.Name == "" || t.Points <= 0 {
			return fmt.Errorf("invalid ca tier %+v", t)
		}
	}
	items := make(map[string]bool)
	for _, it := range c.Items {
		if it.ID == "" || it.Name == "" || it.Cost <= 0 {
			return fmt.Errorf("invalid item %+v", it)
		}
		if it.Stock < -1 {
			return fmt.Errorf("item %q has invalid stock %d", it.ID, it.Stock)
		}
		if items[it.ID] {
			return fmt.Errorf("duplicate item %q", it.ID)
		}
		items[it.ID] = true
	}
	return nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// Competition finds a competition type by name, case-insensitively.
func (c *Catalog) Competition(name string) (CompetitionType, bool) {
	for _, comp := range c.Competitions {
		if strings.EqualFold(comp.Name, name) {
			return comp, true
		}
	}
	return CompetitionType{}, false
}

// ClogTierFor returns the highest active collection-log tier whose
// requirement is at or below count.
func (c *Catalog) ClogTierFor(count int64) (Tier, bool) {
	tiers := append([]Tier(nil), c.ClogTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Requirement > tiers[j].Requirement })
	for _, t := range tiers {
		if t.Active && t.Requirement <= count {
			return t, true
		}
	}
	return Tier{}, false
}

// CATier finds an active combat-achievement tier by name.
func (c *Catalog) CATier(name string) (Tier, bool) {
	for _, t := range c.CATiers {
		if t.Active && strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Tier{}, false
}

// Item finds an item definition by id.
func (c *Catalog) Item(id string) (Item, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in catalog used when no file is supplied.
func Default() *Catalog {
	return &Catalog{
		Competitions: []CompetitionType{
			{Name: "Skill of the Week", Podium: []int64{20, 10, 5}},
			{Name: "Clue of the Month", Podium: []int64{20, 10, 5}},
			{Name: "Boss of the Week", Podium: []int64{20, 10, 5}},
			{Name: "General Bingo", Podium: []int64{20, 5}},
			{Name: "Battleship Bingo", Podium: []int64{30, 10}},
			{Name: "Mania", Podium: []int64{20, 10, 5}},
			{Name: "Bounty", Podium: []int64{10, 5}},
		},
		ClogTiers: []Tier{
			{Name: "Bronze", Requirement: 100, Points: 5, Active: true},
			{Name: "Iron", Requirement: 250, Points: 10, Active: true},
			{Name: "Steel", Requirement: 500, Points: 15, Active: true},
			{Name: "Mithril", Requirement: 750, Points: 20, Active: true},
			{Name: "Adamant", Requirement: 1000, Points: 30, Active: true},
			{Name: "Rune", Requirement: 1250, Points: 40, Active: true},
			{Name: "Dragon", Requirement: 1500, Points: 50, Active: true},
		},
		CATiers: []Tier{
			{Name: "Easy", Requirement: 33, Points: 5, Active: true},
			{Name: "Medium", Requirement: 74, Points: 10, Active: true},
			{Name: "Hard", Requirement: 137, Points: 15, Active: true},
			{Name: "Elite", Requirement: 266, Points: 25, Active: true},
			{Name: "Master", Requirement: 397, Points: 40, Active: true},
			{Name: "Grandmaster", Requirement: 502, Points: 60, Active: true},
		},
		Items: []Item{
			{ID: "bond", Name: "Old School Bond", Cost: 100, Stock: 5, Active: true},
			{ID: "rank-icon", Name: "Custom Rank Icon", Cost: 50, Stock: -1, Active: true},
			{ID: "event-pick", Name: "Pick the Next Event", Cost: 75, Stock: 3, Active: true},
			{ID: "giveaway-entry", Name: "Giveaway Entry", Cost: 10, Stock: -1, Active: true},
		},
	}
}
