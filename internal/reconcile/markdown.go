// Package reconcile turns a recording session's markdown summary into
// structured, deduplicated workspace records: a meeting-note page plus
// linked action items with inferred owner, due date, and priority.
package reconcile

import (
	"regexp"
	"strings"
	"time"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Known section headings. Anything else is preserved as plain content.
const (
	SectionSummary     = "Summary"
	SectionDecisions   = "Decisions"
	SectionActionItems = "Action Items"
	SectionNextSteps   = "Next Steps"
)

// Section is one heading-delimited slice of a markdown summary. The
// preamble before the first heading has an empty Heading.
type Section struct {
	Heading string
	Lines   []string
}

// Known reports whether the heading is one the sync understands.
func (s Section) Known() bool {
	switch s.Heading {
	case SectionSummary, SectionDecisions, SectionActionItems, SectionNextSteps:
		return true
	}
	return false
}

var headingRe = regexp.MustCompile(`^#{1,3}\s+(.+?)\s*$`)

// ParseSections splits a markdown summary on #/##/### headings.
func ParseSections(markdown string) []Section {
	var sections []Section
	current := Section{}
	flush := func() {
		if current.Heading != "" || len(current.Lines) > 0 {
			sections = append(sections, current)
		}
	}
	for _, line := range strings.Split(markdown, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			current = Section{Heading: m[1]}
			continue
		}
		if trimmed := strings.TrimRight(line, " \t"); trimmed != "" || len(current.Lines) > 0 {
			current.Lines = append(current.Lines, trimmed)
		}
	}
	flush()
	return sections
}

// FindSection returns the first section with the given heading.
func FindSection(sections []Section, heading string) (Section, bool) {
	for _, s := range sections {
		if s.Heading == heading {
			return s, true
		}
	}
	return Section{}, false
}

// =============================================================================
// Checklist extraction
// =============================================================================

// ActionLine is one extracted checklist entry.
type ActionLine struct {
	Text    string // trimmed text after the checkbox
	Checked bool
}

var checklistRe = regexp.MustCompile(`^\s*-\s*\[([ xX])\]\s+(.*\S)\s*$`)

// ExtractChecklist pulls `- [ ]` / `- [x]` lines out of a section.
func ExtractChecklist(lines []string) []ActionLine {
	var out []ActionLine
	for _, line := range lines {
		if m := checklistRe.FindStringSubmatch(line); m != nil {
			out = append(out, ActionLine{
				Text:    strings.TrimSpace(m[2]),
				Checked: m[1] != " ",
			})
		}
	}
	return out
}

// NormalizeActionText is the dedup key: identical trimmed text is the same
// logical action on re-sync.
func NormalizeActionText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// =============================================================================
// Owner inference
// =============================================================================

var mentionRe = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_-]*)`)

// InferOwner returns the first @Name mention, or "".
func InferOwner(text string) string {
	if m := mentionRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// =============================================================================
// Due-date inference
// =============================================================================

// Relative-date grammar: a small explicit table of phrase → day offsets,
// anchored to the session's start date. Unrecognized phrases infer no due
// date rather than guessing.
var fixedPhrases = []struct {
	phrase string
	days   int
}{
	{"end of day", 0},
	{"next week", 7},
	{"tomorrow", 1},
	{"tonight", 0},
	{"today", 0},
	{"eod", 0},
}

var weekdayRe = regexp.MustCompile(`(?i)\b(?:next|by|on)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// InferDueDate resolves a relative-date phrase against the anchor
// (session start, UnixMilli). ok=false means no phrase was recognized.
func InferDueDate(text string, anchor int64) (int64, bool) {
	lower := strings.ToLower(text)

	if m := weekdayRe.FindStringSubmatch(text); m != nil {
		target := weekdays[strings.ToLower(m[1])]
		anchorTime := time.UnixMilli(anchor).UTC()
		delta := (int(target) - int(anchorTime.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7 // "next monday" on a Monday means a week out
		}
		return dayStart(anchorTime.AddDate(0, 0, delta)), true
	}

	for _, p := range fixedPhrases {
		if strings.Contains(lower, p.phrase) {
			anchorTime := time.UnixMilli(anchor).UTC()
			return dayStart(anchorTime.AddDate(0, 0, p.days)), true
		}
	}
	return 0, false
}

func dayStart(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}

// =============================================================================
// Priority inference
// =============================================================================

// PriorityHigh is the only inferred priority; everything else stays unset.
const PriorityHigh = "High"

var urgencyKeywords = []string{
	"urgent",
	"asap",
	"critical",
	"immediately",
	"blocker",
	"high priority",
}

// urgencyMatcher scans action text for urgency keywords in one pass.
var urgencyMatcher = func() ahocorasick.AhoCorasick {
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	return builder.Build(urgencyKeywords)
}()

// InferPriority returns PriorityHigh when the text carries an urgency
// keyword, otherwise "".
func InferPriority(text string) string {
	if len(urgencyMatcher.FindAll(strings.ToLower(text))) > 0 {
		return PriorityHigh
	}
	return ""
}
