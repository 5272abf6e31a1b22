// Package command accepts structured mutation requests, resolves ambiguity
// through confirmation, executes against the store, and keeps an
// undo-capable audit log.
package command

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/kittclouds/workbench/internal/store"
)

// TitleIndex matches target selectors against item titles. Titles are the
// automaton patterns and the request text is scanned, so "move the ship
// deadline task to Done" finds the item titled "Ship deadline".
type TitleIndex struct {
	ac       ahocorasick.AhoCorasick
	patterns []string
	byTitle  map[string][]*store.WorkspaceItem
	items    []*store.WorkspaceItem
}

// NewTitleIndex compiles an index over the given items. Archived items are
// not addressable.
func NewTitleIndex(items []*store.WorkspaceItem) *TitleIndex {
	idx := &TitleIndex{byTitle: make(map[string][]*store.WorkspaceItem)}
	for _, item := range items {
		if item.Archived {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(item.Title))
		if key == "" {
			continue
		}
		if _, seen := idx.byTitle[key]; !seen {
			idx.patterns = append(idx.patterns, key)
		}
		idx.byTitle[key] = append(idx.byTitle[key], item)
		idx.items = append(idx.items, item)
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	idx.ac = builder.Build(idx.patterns)
	return idx
}

// Resolve returns every item whose title occurs in the query text, falling
// back to substring containment either way when the automaton finds
// nothing. Zero results means there is nothing to act on.
func (idx *TitleIndex) Resolve(query string) []*store.WorkspaceItem {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []*store.WorkspaceItem
	add := func(items []*store.WorkspaceItem) {
		for _, item := range items {
			if !seen[item.ID] {
				seen[item.ID] = true
				out = append(out, item)
			}
		}
	}

	for _, m := range idx.ac.FindAll(normalized) {
		add(idx.byTitle[idx.patterns[m.Pattern()]])
	}
	if len(out) > 0 {
		return out
	}

	// Fallback: partial title mentions ("the persistence task" for an item
	// titled "Persistence bug"), matched by substring in either direction.
	for _, item := range idx.items {
		title := strings.ToLower(item.Title)
		if strings.Contains(title, normalized) || strings.Contains(normalized, title) {
			add([]*store.WorkspaceItem{item})
		}
	}
	return out
}

// MostRecentlyUpdated picks the ambiguity-resolution default.
func MostRecentlyUpdated(items []*store.WorkspaceItem) *store.WorkspaceItem {
	var best *store.WorkspaceItem
	for _, item := range items {
		if best == nil || item.UpdatedAt > best.UpdatedAt {
			best = item
		}
	}
	return best
}
