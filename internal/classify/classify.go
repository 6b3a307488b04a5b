// Package classify holds the per-source message rules: validity, text
// cleanup, sender-hint extraction and semantic typing. Rules are data,
// assembled into a static registry at startup; a default rule applies to
// sources without an entry.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/avykov/telescan/internal/store"
)

// mentionPattern captures a handle from "@name", a t.me profile link, or
// a "tg name" prefix. The zero-width non-joiner guard matches handles
// obfuscated with invisible characters.
var mentionPattern = regexp.MustCompile(`(?:^|[\s:])(?:@|tg\s+|https?://t\.me/)[\x{200C}]*([a-zA-Z0-9_]+)`)

// Rule is one source's classification record. Zero-valued fields fall
// back to default behavior.
type Rule struct {
	SourceID int64

	// FixedType, when set, is returned unconditionally by Classify.
	FixedType store.MessageType

	// Hashtag sets for type detection. Vacancy is checked before resume
	// when both are configured; first matching set wins.
	VacancyTags []string
	ResumeTags  []string

	// StripPatterns are removed from the text during cleanup, e.g. known
	// boilerplate footers.
	StripPatterns []string

	// Whitelist overrides the registry-wide validity terms.
	Whitelist []string
}

// Classifier is the compiled form of a Rule.
type Classifier struct {
	whitelist   []string
	fixedType   store.MessageType
	vacancyTags []string
	resumeTags  []string
	strip       []*regexp.Regexp
}

// IsValid accepts a message iff its lower-cased text contains at least
// one whitelist term.
func (c *Classifier) IsValid(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range c.whitelist {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Cleanup strips configured boilerplate; without strip patterns the text
// passes through unchanged.
func (c *Classifier) Cleanup(text string) string {
	if len(c.strip) == 0 {
		return text
	}
	for _, re := range c.strip {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// SenderHint extracts a mentioned handle from the text, or "" when none
// matches.
func (c *Classifier) SenderHint(text string) string {
	m := mentionPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Classify returns the message's semantic type, or nil when the rules
// produce none.
func (c *Classifier) Classify(text string) *store.MessageType {
	if c.fixedType != "" {
		t := c.fixedType
		return &t
	}
	lower := strings.ToLower(text)
	if containsAny(lower, c.vacancyTags) {
		t := store.TypeVacancy
		return &t
	}
	if containsAny(lower, c.resumeTags) {
		t := store.TypeResume
		return &t
	}
	return nil
}

func containsAny(lower string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Registry maps source ids to compiled classifiers.
type Registry struct {
	bySource map[int64]*Classifier
	def      *Classifier
}

// NewRegistry compiles the rule table. Strip patterns are validated here
// so a bad rule fails process startup instead of an ingestion path.
func NewRegistry(whitelist []string, rules []Rule) (*Registry, error) {
	r := &Registry{
		bySource: make(map[int64]*Classifier, len(rules)),
		def:      &Classifier{whitelist: lowered(whitelist)},
	}
	for _, rule := range rules {
		c := &Classifier{
			whitelist:   r.def.whitelist,
			fixedType:   rule.FixedType,
			vacancyTags: lowered(rule.VacancyTags),
			resumeTags:  lowered(rule.ResumeTags),
		}
		if len(rule.Whitelist) > 0 {
			c.whitelist = lowered(rule.Whitelist)
		}
		for _, pattern := range rule.StripPatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("rule for source %d: compile %q: %w", rule.SourceID, pattern, err)
			}
			c.strip = append(c.strip, re)
		}
		r.bySource[rule.SourceID] = c
	}
	return r, nil
}

// For returns the source's classifier, falling back to the default.
func (r *Registry) For(sourceID int64) *Classifier {
	if c, ok := r.bySource[sourceID]; ok {
		return c
	}
	return r.def
}

func lowered(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.ToLower(t)
	}
	return out
}
