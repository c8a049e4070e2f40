package moderation

import (
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefaultReason is the user-facing message returned for rejected content.
const DefaultReason = "This content contains harmful or inappropriate language that violates our community guidelines."

// DefaultCollapseThreshold is the shortest run of identical letters that is
// collapsed to a single letter.
const DefaultCollapseThreshold = 3

// Category groups blocked tokens so deployments can drop a whole class of
// terms without editing the others.
type Category struct {
	Name   string   `yaml:"name"`
	Tokens []string `yaml:"tokens"`
}

// Ruleset is the data half of the classifier. It is read once by
// NewClassifier and never mutated afterwards.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Ruleset struct {
	LeetMap           map[string]string `yaml:"leet_map"`
	Categories        []Category        `yaml:"categories"`
	Patterns          []string          `yaml:"patterns"`
	CollapseThreshold int               `yaml:"collapse_threshold"`
	Reason            string            `yaml:"reason"`
}

// DefaultRuleset returns the built-in ruleset.
func DefaultRuleset() *Ruleset {
	return &Ruleset{
		LeetMap: map[string]string{
			"0": "o",
			"1": "i",
			"3": "e",
			"4": "a",
			"5": "s",
			"7": "t",
			"8": "b",
			"@": "a",
			"$": "s",
			"!": "i",
		},
		Categories: []Category{
			{Name: "hate", Tokens: []string{"ihate", "kill", "die", "hitler", "nazi", "kkk"}},
			{Name: "slur", Tokens: []string{"fag", "dyke", "tranny"}},
			{Name: "predatory", Tokens: []string{"rape", "molest", "pedo", "loli", "shota"}},
			{Name: "political", Tokens: []string{"trump", "biden", "obama", "putin"}},
		},
		Patterns: []string{
			`ihate[a-z]+`,
			`hate[a-z]+s$`,
		},
		CollapseThreshold: DefaultCollapseThreshold,
		Reason:            DefaultReason,
	}
}

// LoadRuleset reads a YAML ruleset. Sections missing from the file fall back
// to the defaults.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}

	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}

	def := DefaultRuleset()
	if rs.LeetMap == nil {
		rs.LeetMap = def.LeetMap
	}
	if rs.Categories == nil {
		rs.Categories = def.Categories
	}
	if rs.Patterns == nil {
		rs.Patterns = def.Patterns
	}
	if rs.CollapseThreshold == 0 {
		rs.CollapseThreshold = def.CollapseThreshold
	}
	if rs.Reason == "" {
		rs.Reason = def.Reason
	}

	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the ruleset for entries the classifier cannot use.
func (rs *Ruleset) Validate() error {
	for from, to := range rs.LeetMap {
		if utf8.RuneCountInString(from) != 1 || utf8.RuneCountInString(to) != 1 {
			return fmt.Errorf("leet_map entry %q -> %q: both sides must be a single character", from, to)
		}
	}
	for _, c := range rs.Categories {
		for _, tok := range c.Tokens {
			if tok == "" {
				return fmt.Errorf("category %q: empty token", c.Name)
			}
			for _, r := range tok {
				if r < 'a' || r > 'z' {
					return fmt.Errorf("category %q: token %q must be lowercase a-z", c.Name, tok)
				}
			}
		}
	}
	if rs.CollapseThreshold < 2 {
		return fmt.Errorf("collapse_threshold must be at least 2, got %d", rs.CollapseThreshold)
	}
	return nil
}
