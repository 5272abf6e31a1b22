// Package view implements the database view query engine: schema-aware,
// drift-tolerant filter, sort, and group resolution over workspace items.
package view

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kittclouds/workbench/internal/store"
)

// QueryEngine applies view configuration to an item snapshot. It is pure:
// inputs are never mutated and the result is deterministic for a given
// schema + item snapshot.
type QueryEngine struct{}

// Group is one partition of a grouped result, in encounter order.
type Group struct {
	Key   string
	Items []*store.WorkspaceItem
}

// Apply filters then sorts the items against the database schema and
// returns a new ordered slice. Filters whose property cannot be resolved
// are skipped; one stale filter must not fail the whole query.
func (QueryEngine) Apply(filters []store.ViewFilter, sorts []store.ViewSort, items []*store.WorkspaceItem, db *store.Database) []*store.WorkspaceItem {
	out := make([]*store.WorkspaceItem, 0, len(items))
	for _, item := range items {
		if matchesAll(filters, item, db) {
			out = append(out, item)
		}
	}
	applySorts(sorts, out, db)
	return out
}

// GroupBy partitions an already filtered/sorted sequence by the named
// property's display value, preserving order within each group. Items
// without the property land in the "" group.
func (QueryEngine) GroupBy(property string, items []*store.WorkspaceItem, db *store.Database) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, item := range items {
		key := ""
		if v, ok := db.PropertyValueOf(item, property, ""); ok {
			key = v.DisplayString()
		}
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// =============================================================================
// Filters
// =============================================================================

func matchesAll(filters []store.ViewFilter, item *store.WorkspaceItem, db *store.Database) bool {
	for _, f := range filters {
		if skip, ok := evaluate(f, item, db); !skip && !ok {
			return false
		}
	}
	return true
}

// evaluate returns (skip, matched). skip means the filter's property does
// not resolve against the schema at all; the filter is permissive then.
func evaluate(f store.ViewFilter, item *store.WorkspaceItem, db *store.Database) (bool, bool) {
	_, resolvable := db.ResolveProperty(f.PropertyName, f.PropertyID)
	value, hasValue := db.PropertyValueOf(item, f.PropertyName, f.PropertyID)
	if !resolvable && !hasValue {
		return true, false
	}

	switch f.Operation {
	case store.FilterEquals:
		return false, hasValue && value.MatchesLiteral(f.Value)
	case store.FilterNotEquals:
		return false, !hasValue || !value.MatchesLiteral(f.Value)
	case store.FilterContains:
		return false, hasValue && strings.Contains(
			strings.ToLower(value.DisplayString()), strings.ToLower(f.Value))
	case store.FilterBefore, store.FilterAfter:
		if !hasValue {
			return false, false
		}
		target, ok := parseComparable(f.Value, value.Kind)
		if !ok {
			return false, false
		}
		c := value.CompareTo(target)
		if f.Operation == store.FilterBefore {
			return false, c < 0
		}
		return false, c > 0
	case store.FilterIsEmpty:
		return false, !hasValue || value.IsEmpty()
	case store.FilterIsNotEmpty:
		return false, hasValue && !value.IsEmpty()
	}
	// Unknown operation behaves like an unresolved filter.
	return true, false
}

// parseComparable builds a PropertyValue of the item value's kind from the
// filter literal, so before/after compare date-to-date or number-to-number.
func parseComparable(literal string, kind store.ValueKind) (store.PropertyValue, bool) {
	literal = strings.TrimSpace(literal)
	switch kind {
	case store.ValueDate:
		if millis, ok := parseInt(literal); ok {
			return store.DateValue(millis), true
		}
		return store.PropertyValue{}, false
	case store.ValueNumber:
		if n, ok := parseFloat(literal); ok {
			return store.NumberValue(n), true
		}
		return store.PropertyValue{}, false
	}
	return store.TextValue(literal), true
}

// =============================================================================
// Sorts
// =============================================================================

// applySorts applies sorts in list order as a stable multi-key sort.
// The Title special case compares raw title strings.
func applySorts(sorts []store.ViewSort, items []*store.WorkspaceItem, db *store.Database) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, s := range sorts {
			c := compareBySort(s, items[i], items[j], db)
			if c != 0 {
				if s.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return false
	})
}

func compareBySort(s store.ViewSort, a, b *store.WorkspaceItem, db *store.Database) int {
	if s.PropertyID == "" && s.PropertyName == "Title" {
		return strings.Compare(a.Title, b.Title)
	}
	av, aok := db.PropertyValueOf(a, s.PropertyName, s.PropertyID)
	bv, bok := db.PropertyValueOf(b, s.PropertyName, s.PropertyID)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	return av.CompareTo(bv)
}

// =============================================================================
// Literal parsing
// =============================================================================

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func parseFloat(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}
