package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/Merkerhood/paragon/core"
)

// The catalogue file is a single YAML document holding the scalar
// settings, the category/stat tables and the per-source experience reward
// tables. It is parsed once at startup into an immutable core.Catalogue.

type catalogueDoc struct {
	Scalars    scalarsDoc            `yaml:"scalars"`
	Categories []categoryDoc         `yaml:"categories"`
	Rewards    map[string]rewardsDoc `yaml:"rewards"`
}

type scalarsDoc struct {
	PointsPerLevel      int     `yaml:"pointsPerLevel"`
	BaseMaxExperience   int     `yaml:"baseMaxExperience"`
	LevelCap            int     `yaml:"levelCap"`
	StartingLevel       int     `yaml:"startingLevel"`
	StartingExperience  int     `yaml:"startingExperience"`
	LowLevelThreshold   int     `yaml:"lowLevelThreshold"`
	HighLevelThreshold  int     `yaml:"highLevelThreshold"`
	LowLevelMultiplier  float64 `yaml:"lowLevelMultiplier"`
	HighLevelMultiplier float64 `yaml:"highLevelMultiplier"`
}

type categoryDoc struct {
	ID    uint32    `yaml:"id"`
	Name  string    `yaml:"name"`
	Stats []statDoc `yaml:"stats"`
}

type statDoc struct {
	ID              uint32  `yaml:"id"`
	Kind            string  `yaml:"kind"`
	TargetCode      uint32  `yaml:"targetCode"`
	Icon            string  `yaml:"icon"`
	Factor          float64 `yaml:"factor"`
	Limit           int     `yaml:"limit"`
	ApplicationCode uint32  `yaml:"applicationCode"`
}

type rewardsDoc struct {
	Default *int           `yaml:"default"`
	Entries map[uint32]int `yaml:"entries"`
}

var statKindsByName = map[string]core.StatKind{
	"unit-modifier": core.StatKindUnitModifier,
	"combat-rating": core.StatKindCombatRating,
	"aura":          core.StatKindAura,
}

var sourceKindsByName = map[string]core.SourceKind{
	"creature":    core.SourceKindCreature,
	"achievement": core.SourceKindAchievement,
	"skill":       core.SourceKindSkill,
	"quest":       core.SourceKindQuest,
}

// LoadCatalogue reads and validates a catalogue YAML file.
func LoadCatalogue(filename string) (*core.Catalogue, error) {
	fBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%q): %w", filename, err)
	}
	return ParseCatalogue(fBytes)
}

// ParseCatalogue builds a core.Catalogue from YAML bytes.
func ParseCatalogue(fBytes []byte) (*core.Catalogue, error) {
	var doc catalogueDoc
	if err := yaml.UnmarshalStrict(fBytes, &doc); err != nil {
		return nil, fmt.Errorf("yaml.UnmarshalStrict(): %w", err)
	}

	categories := make([]core.Category, 0, len(doc.Categories))
	for _, c := range doc.Categories {
		stats := make([]core.StatDef, 0, len(c.Stats))
		for _, s := range c.Stats {
			kind, known := statKindsByName[s.Kind]
			if !known {
				return nil, fmt.Errorf("stat %d: unknown kind %q", s.ID, s.Kind)
			}
			stats = append(stats, core.StatDef{
				ID:              s.ID,
				CategoryID:      c.ID,
				Kind:            kind,
				TargetCode:      s.TargetCode,
				Icon:            s.Icon,
				Factor:          s.Factor,
				Limit:           s.Limit,
				ApplicationCode: s.ApplicationCode,
			})
		}
		categories = append(categories, core.Category{
			ID:    c.ID,
			Name:  c.Name,
			Stats: stats,
		})
	}

	var rewards []core.ExperienceReward
	defaults := make(map[core.SourceKind]int)
	for name, table := range doc.Rewards {
		source, known := sourceKindsByName[name]
		if !known {
			return nil, fmt.Errorf("unknown reward source kind %q", name)
		}
		if table.Default != nil {
			defaults[source] = *table.Default
		}
		for entryID, amount := range table.Entries {
			rewards = append(rewards, core.ExperienceReward{
				Source:  source,
				EntryID: entryID,
				Amount:  amount,
			})
		}
	}

	scalars := core.Scalars{
		PointsPerLevel:      doc.Scalars.PointsPerLevel,
		BaseMaxExperience:   doc.Scalars.BaseMaxExperience,
		LevelCap:            doc.Scalars.LevelCap,
		StartingLevel:       doc.Scalars.StartingLevel,
		StartingExperience:  doc.Scalars.StartingExperience,
		LowLevelThreshold:   doc.Scalars.LowLevelThreshold,
		HighLevelThreshold:  doc.Scalars.HighLevelThreshold,
		LowLevelMultiplier:  doc.Scalars.LowLevelMultiplier,
		HighLevelMultiplier: doc.Scalars.HighLevelMultiplier,
	}

	cat, err := core.NewCatalogue(categories, rewards, defaults, scalars)
	if err != nil {
		return nil, fmt.Errorf("invalid catalogue: %w", err)
	}
	return cat, nil
}

// WriteSampleCatalogue writes a small working catalogue, used by the
// daemon's init mode to give operators a file to start from.
func WriteSampleCatalogue(filename string) error {
	ten := 10
	five := 5
	doc := catalogueDoc{
		Scalars: scalarsDoc{
			PointsPerLevel:      1,
			BaseMaxExperience:   50,
			LevelCap:            0,
			StartingLevel:       1,
			LowLevelThreshold:   10,
			HighLevelThreshold:  100,
			LowLevelMultiplier:  2.0,
			HighLevelMultiplier: 0.5,
		},
		Categories: []categoryDoc{
			{
				ID:   1,
				Name: "Offense",
				Stats: []statDoc{
					{ID: 10, Kind: "unit-modifier", TargetCode: 4, Icon: "ability_warrior_strengthofarms", Factor: 1.5, Limit: 255, ApplicationCode: 1},
					{ID: 11, Kind: "combat-rating", TargetCode: 19, Icon: "ability_hunter_mastermarksman", Factor: 2},
				},
			},
			{
				ID:   2,
				Name: "Defense",
				Stats: []statDoc{
					{ID: 20, Kind: "unit-modifier", TargetCode: 22, Icon: "inv_shield_04", Factor: 3, Limit: 255, ApplicationCode: 1},
					{ID: 21, Kind: "aura", TargetCode: 871, Icon: "spell_holy_devotionaura", Limit: 5},
				},
			},
		},
		Rewards: map[string]rewardsDoc{
			"creature": {
				Default: &ten,
				Entries: map[uint32]int{23954: 150},
			},
			"quest": {
				Default: &five,
				Entries: map[uint32]int{13187: 100},
			},
			"achievement": {Default: &ten},
			"skill":       {Default: &five},
		},
	}

	fBytes, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yaml.Marshal(): %w", err)
	}
	if err := os.WriteFile(filename, fBytes, 0644); err != nil {
		return fmt.Errorf("os.WriteFile(%q): %w", filename, err)
	}
	return nil
}
