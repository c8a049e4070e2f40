// Package moderation holds the content classifier and the visibility policy
// that gates posting and feed visibility on a user's moderation flags.
package moderation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Result is the outcome of classifying a piece of text.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	// Rule names the matched token or pattern, e.g. "hate:ihate". Internal only.
	Rule string `json:"-"`
}

type blockedToken struct {
	category string
	token    string
}

// Classifier normalizes text and matches it against a compiled Ruleset.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	leet      map[rune]rune
	tokens    []blockedToken
	patterns  []*regexp.Regexp
	threshold int
	reason    string
}

// NewClassifier compiles rs.
func NewClassifier(rs *Ruleset) (*Classifier, error) {
	if rs == nil {
		rs = DefaultRuleset()
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ruleset: %w", err)
	}

	c := &Classifier{
		leet:      make(map[rune]rune, len(rs.LeetMap)),
		threshold: rs.CollapseThreshold,
		reason:    rs.Reason,
	}
	if c.reason == "" {
		c.reason = DefaultReason
	}

	for from, to := range rs.LeetMap {
		f, _ := utf8.DecodeRuneInString(from)
		t, _ := utf8.DecodeRuneInString(to)
		c.leet[f] = t
	}

	for _, cat := range rs.Categories {
		for _, tok := range cat.Tokens {
			c.tokens = append(c.tokens, blockedToken{category: cat.Name, token: tok})
		}
	}

	for _, p := range rs.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}

	return c, nil
}

// MustNewClassifier is NewClassifier that panics on error.
func MustNewClassifier(rs *Ruleset) *Classifier {
	c, err := NewClassifier(rs)
	if err != nil {
		panic(err)
	}
	return c
}

// Normalize lowercases text, applies the leet map, strips everything that is
// not a-z and collapses runs of threshold or more identical letters to one.
// The result contains only lowercase ASCII letters and Normalize is
// idempotent on it.
func (c *Classifier) Normalize(text string) string {
	lower := strings.ToLower(text)

	letters := make([]byte, 0, len(lower))
	for _, r := range lower {
		if sub, ok := c.leet[r]; ok {
			r = sub
		}
		if r < 'a' || r > 'z' {
			continue
		}
		letters = append(letters, byte(r))
	}

	return string(collapseRuns(letters, c.threshold))
}

// collapseRuns replaces every run of at least threshold identical bytes with a
// single byte. Shorter runs are kept as they are.
func collapseRuns(in []byte, threshold int) []byte {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); {
		j := i
		for j < len(in) && in[j] == in[i] {
			j++
		}
		if j-i >= threshold {
			out = append(out, in[i])
		} else {
			out = append(out, in[i:j]...)
		}
		i = j
	}
	return out
}

// Classify normalizes text and reports whether it is acceptable.
func (c *Classifier) Classify(text string) Result {
	normalized := c.Normalize(text)
	if normalized == "" {
		return Result{Valid: true}
	}

	for _, bt := range c.tokens {
		if strings.Contains(normalized, bt.token) {
			return Result{Valid: false, Reason: c.reason, Rule: bt.category + ":" + bt.token}
		}
	}

	for _, re := range c.patterns {
		if re.MatchString(normalized) {
			return Result{Valid: false, Reason: c.reason, Rule: "pattern:" + re.String()}
		}
	}

	return Result{Valid: true}
}

// Validate classifies text and returns a *ContentRejectedError naming field
// when it is not acceptable.
func (c *Classifier) Validate(field, text string) error {
	res := c.Classify(text)
	if res.Valid {
		return nil
	}
	return &ContentRejectedError{Field: field, Reason: res.Reason, Rule: res.Rule}
}

var defaultClassifier = MustNewClassifier(DefaultRuleset())

// Normalize runs the default classifier's normalization.
func Normalize(text string) string {
	return defaultClassifier.Normalize(text)
}

// Classify runs the default classifier.
func Classify(text string) Result {
	return defaultClassifier.Classify(text)
}
