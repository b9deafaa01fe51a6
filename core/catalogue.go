package core

import (
	"fmt"
)

// StatKind enumerates how an invested stat manifests on the subject once
// the host applies it.
type StatKind int

const (
	StatKindUnitModifier StatKind = iota
	StatKindCombatRating
	StatKindAura
)

func (sk StatKind) String() string {
	switch sk {
	case StatKindUnitModifier:
		return "unit-modifier"
	case StatKindCombatRating:
		return "combat-rating"
	case StatKindAura:
		return "aura"
	default:
		return fmt.Sprintf("StatKind(%d)", int(sk))
	}
}

// SourceKind enumerates the activities that can grant paragon experience.
type SourceKind int

const (
	SourceKindCreature SourceKind = iota
	SourceKindAchievement
	SourceKindSkill
	SourceKindQuest
)

func (sk SourceKind) String() string {
	switch sk {
	case SourceKindCreature:
		return "creature"
	case SourceKindAchievement:
		return "achievement"
	case SourceKindSkill:
		return "skill"
	case SourceKindQuest:
		return "quest"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(sk))
	}
}

// StatDef describes one investable stat. Factor scales invested points
// into the effective bonus magnitude; ApplicationCode is opaque to the
// engine and forwarded to the BonusApplicator verbatim.
type StatDef struct {
	ID              uint32
	CategoryID      uint32
	Kind            StatKind
	TargetCode      uint32
	Icon            string
	Factor          float64
	Limit           int // point cap per stat, 0 = unlimited
	ApplicationCode uint32
}

// Category groups stats for presentation; the engine only cares about the
// per-stat definitions.
type Category struct {
	ID    uint32
	Name  string
	Stats []StatDef
}

// ExperienceReward binds a specific source entry to a reward amount.
type ExperienceReward struct {
	Source  SourceKind
	EntryID uint32
	Amount  int
}

// Scalars holds the catalogue's tunable progression constants.
type Scalars struct {
	PointsPerLevel      int
	BaseMaxExperience   int
	LevelCap            int // 0 = unlimited
	StartingLevel       int
	StartingExperience  int
	LowLevelThreshold   int
	HighLevelThreshold  int
	LowLevelMultiplier  float64
	HighLevelMultiplier float64
}

// Catalogue is the immutable-per-process read model the engine consults:
// categories, stat definitions, experience reward tables and scalar
// settings. Construct it once at startup and share it freely; it is never
// mutated afterwards.
type Catalogue struct {
	categories     []Category
	statsByID      map[uint32]StatDef
	rewards        map[SourceKind]map[uint32]int
	defaultRewards map[SourceKind]int
	scalars        Scalars
}

// NewCatalogue validates the supplied tables and builds the read model.
// defaultRewards supplies the universal per-source-kind fallback amount;
// a source kind absent from both tables has no reward at all.
func NewCatalogue(categories []Category, rewards []ExperienceReward, defaultRewards map[SourceKind]int, scalars Scalars) (*Catalogue, error) {
	if scalars.BaseMaxExperience <= 0 {
		return nil, fmt.Errorf("baseMaxExperience must be positive, got %d", scalars.BaseMaxExperience)
	}
	if scalars.PointsPerLevel < 0 {
		return nil, fmt.Errorf("pointsPerLevel must be non-negative, got %d", scalars.PointsPerLevel)
	}
	if scalars.StartingLevel < 1 {
		return nil, fmt.Errorf("startingLevel must be at least 1, got %d", scalars.StartingLevel)
	}
	if scalars.StartingExperience < 0 {
		return nil, fmt.Errorf("startingExperience must be non-negative, got %d", scalars.StartingExperience)
	}
	if scalars.LevelCap < 0 {
		return nil, fmt.Errorf("levelCap must be non-negative, got %d", scalars.LevelCap)
	}

	cat := &Catalogue{
		categories:     categories,
		statsByID:      make(map[uint32]StatDef),
		rewards:        make(map[SourceKind]map[uint32]int),
		defaultRewards: make(map[SourceKind]int, len(defaultRewards)),
		scalars:        scalars,
	}

	categoryIDs := make(map[uint32]bool, len(categories))
	for _, c := range categories {
		if categoryIDs[c.ID] {
			return nil, fmt.Errorf("duplicate category id %d", c.ID)
		}
		categoryIDs[c.ID] = true
	}
	for _, c := range categories {
		for _, def := range c.Stats {
			if _, dup := cat.statsByID[def.ID]; dup {
				return nil, fmt.Errorf("duplicate stat id %d", def.ID)
			}
			if def.CategoryID != c.ID {
				return nil, fmt.Errorf("stat %d declares category %d but lives in category %d", def.ID, def.CategoryID, c.ID)
			}
			if def.Limit < 0 {
				return nil, fmt.Errorf("stat %d has negative limit %d", def.ID, def.Limit)
			}
			cat.statsByID[def.ID] = def
		}
	}

	for _, r := range rewards {
		if r.Amount < 0 {
			return nil, fmt.Errorf("reward for %s entry %d has negative amount %d", r.Source, r.EntryID, r.Amount)
		}
		byEntry := cat.rewards[r.Source]
		if byEntry == nil {
			byEntry = make(map[uint32]int)
			cat.rewards[r.Source] = byEntry
		}
		byEntry[r.EntryID] = r.Amount
	}
	for kind, amount := range defaultRewards {
		if amount < 0 {
			return nil, fmt.Errorf("default reward for %s has negative amount %d", kind, amount)
		}
		cat.defaultRewards[kind] = amount
	}

	return cat, nil
}

// Categories returns the catalogue's categories in declaration order.
func (c *Catalogue) Categories() []Category {
	return c.categories
}

// StatByID resolves a stat definition.
func (c *Catalogue) StatByID(id uint32) (StatDef, bool) {
	def, found := c.statsByID[id]
	return def, found
}

// RewardFor resolves the experience amount for a (source kind, entry id)
// pair, falling back to the source kind's universal default.
func (c *Catalogue) RewardFor(source SourceKind, entryID uint32) (int, bool) {
	if byEntry, found := c.rewards[source]; found {
		if amount, found := byEntry[entryID]; found {
			return amount, true
		}
	}
	amount, found := c.defaultRewards[source]
	return amount, found
}

// Scalars returns the catalogue's scalar settings.
func (c *Catalogue) Scalars() Scalars {
	return c.scalars
}
