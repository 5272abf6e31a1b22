package store

import (
	"strconv"
	"strings"
)

// ValueKind tags the populated payload of a PropertyValue.
type ValueKind string

const (
	ValueEmpty     ValueKind = "empty"
	ValueText      ValueKind = "text"
	ValueNumber    ValueKind = "number"
	ValueSelect    ValueKind = "select"
	ValueDate      ValueKind = "date"
	ValueCheckbox  ValueKind = "checkbox"
	ValueRelation  ValueKind = "relation"
	ValueRelations ValueKind = "relations"
	ValuePerson    ValueKind = "person"
)

// PropertyValue is a closed variant: exactly the payload field matching Kind
// is meaningful. Relation holds a single id, Relations a list; a property
// never holds both forms concurrently.
type PropertyValue struct {
	Kind      ValueKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Number    float64   `json:"number,omitempty"`
	Select    string    `json:"select,omitempty"`
	Date      int64     `json:"date,omitempty"` // UnixMilli
	Checkbox  bool      `json:"checkbox,omitempty"`
	Relation  string    `json:"relation,omitempty"`
	Relations []string  `json:"relations,omitempty"`
	Person    string    `json:"person,omitempty"`
}

// =============================================================================
// Constructors
// =============================================================================

func EmptyValue() PropertyValue             { return PropertyValue{Kind: ValueEmpty} }
func TextValue(s string) PropertyValue      { return PropertyValue{Kind: ValueText, Text: s} }
func NumberValue(n float64) PropertyValue   { return PropertyValue{Kind: ValueNumber, Number: n} }
func SelectValue(name string) PropertyValue { return PropertyValue{Kind: ValueSelect, Select: name} }
func DateValue(millis int64) PropertyValue  { return PropertyValue{Kind: ValueDate, Date: millis} }
func CheckboxValue(b bool) PropertyValue    { return PropertyValue{Kind: ValueCheckbox, Checkbox: b} }
func RelationValue(id string) PropertyValue { return PropertyValue{Kind: ValueRelation, Relation: id} }
func PersonValue(name string) PropertyValue { return PropertyValue{Kind: ValuePerson, Person: name} }

func RelationsValue(ids []string) PropertyValue {
	out := make([]string, len(ids))
	copy(out, ids)
	return PropertyValue{Kind: ValueRelations, Relations: out}
}

// =============================================================================
// Inspection
// =============================================================================

// IsEmpty reports whether the value carries no payload.
func (v PropertyValue) IsEmpty() bool {
	switch v.Kind {
	case ValueEmpty, "":
		return true
	case ValueText:
		return v.Text == ""
	case ValueSelect:
		return v.Select == ""
	case ValueRelation:
		return v.Relation == ""
	case ValueRelations:
		return len(v.Relations) == 0
	case ValuePerson:
		return v.Person == ""
	}
	return false
}

// RelationIDs returns the linked ids for either relation form.
func (v PropertyValue) RelationIDs() []string {
	switch v.Kind {
	case ValueRelation:
		if v.Relation == "" {
			return nil
		}
		return []string{v.Relation}
	case ValueRelations:
		out := make([]string, len(v.Relations))
		copy(out, v.Relations)
		return out
	}
	return nil
}

// DisplayString renders the value the way a view cell would show it.
func (v PropertyValue) DisplayString() string {
	switch v.Kind {
	case ValueText:
		return v.Text
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ValueSelect:
		return v.Select
	case ValueDate:
		return strconv.FormatInt(v.Date, 10)
	case ValueCheckbox:
		if v.Checkbox {
			return "true"
		}
		return "false"
	case ValueRelation:
		return v.Relation
	case ValueRelations:
		return strings.Join(v.Relations, ",")
	case ValuePerson:
		return v.Person
	}
	return ""
}

// Equal compares the underlying scalar with type-aware, case-sensitive
// semantics. Values of different kinds are never equal, except that empty
// values of any kind compare equal to ValueEmpty.
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.IsEmpty() && other.IsEmpty() {
		return true
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueText:
		return v.Text == other.Text
	case ValueNumber:
		return v.Number == other.Number
	case ValueSelect:
		return v.Select == other.Select
	case ValueDate:
		return v.Date == other.Date
	case ValueCheckbox:
		return v.Checkbox == other.Checkbox
	case ValueRelation:
		return v.Relation == other.Relation
	case ValueRelations:
		if len(v.Relations) != len(other.Relations) {
			return false
		}
		for i := range v.Relations {
			if v.Relations[i] != other.Relations[i] {
				return false
			}
		}
		return true
	case ValuePerson:
		return v.Person == other.Person
	}
	return false
}

// MatchesLiteral compares the value against a filter's raw string target.
// Numbers and checkboxes parse the literal; everything else compares the
// display form case-sensitively.
func (v PropertyValue) MatchesLiteral(literal string) bool {
	switch v.Kind {
	case ValueNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		return err == nil && n == v.Number
	case ValueCheckbox:
		b, err := strconv.ParseBool(strings.TrimSpace(literal))
		return err == nil && b == v.Checkbox
	case ValueDate:
		n, err := strconv.ParseInt(strings.TrimSpace(literal), 10, 64)
		return err == nil && n == v.Date
	}
	return v.DisplayString() == literal
}

// CompareTo orders two values of the same kind: -1, 0, or +1. Mixed or
// non-orderable kinds compare by display string so sorts stay deterministic.
func (v PropertyValue) CompareTo(other PropertyValue) int {
	if v.Kind == other.Kind {
		switch v.Kind {
		case ValueNumber:
			return compareFloat(v.Number, other.Number)
		case ValueDate:
			return compareInt64(v.Date, other.Date)
		case ValueCheckbox:
			return compareBool(v.Checkbox, other.Checkbox)
		}
	}
	return strings.Compare(v.DisplayString(), other.DisplayString())
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// Clone returns a deep copy (the Relations slice is the only reference field).
func (v PropertyValue) Clone() PropertyValue {
	if v.Kind == ValueRelations && v.Relations != nil {
		out := v
		out.Relations = make([]string, len(v.Relations))
		copy(out.Relations, v.Relations)
		return out
	}
	return v
}
