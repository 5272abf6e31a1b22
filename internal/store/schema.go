package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// Storage keys & property resolution
// =============================================================================

// StorageKey returns the stable map key a property's values live under.
// It derives from the id, so renaming the property never moves the data.
func StorageKey(propertyID string) string {
	return "prop_" + propertyID
}

// LegacyKey returns the name-derived fallback key used by records written
// before identifier-based storage existed.
func LegacyKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(key, " ", "_")
}

// ResolveProperty resolves a (name, id) reference against the schema.
// Order: id first (even if the stored name is stale), then name match.
// A missing property is signaled through ok=false, never an error:
// schema drift is expected, not exceptional.
func (d *Database) ResolveProperty(name, id string) (*PropertyDefinition, bool) {
	if d == nil {
		return nil, false
	}
	if id != "" {
		for i := range d.Properties {
			if d.Properties[i].ID == id {
				return &d.Properties[i], true
			}
		}
	}
	if name != "" {
		for i := range d.Properties {
			if d.Properties[i].Name == name {
				return &d.Properties[i], true
			}
		}
	}
	return nil, false
}

// PropertyByName resolves by display name only.
func (d *Database) PropertyByName(name string) (*PropertyDefinition, bool) {
	return d.ResolveProperty(name, "")
}

// StatusProperty returns the database's status-typed property, falling
// back to one named "Status". Nil when the schema has neither.
func (d *Database) StatusProperty() *PropertyDefinition {
	for i := range d.Properties {
		if d.Properties[i].Type == PropertyStatus {
			return &d.Properties[i]
		}
	}
	if def, ok := d.PropertyByName("Status"); ok {
		return def
	}
	return nil
}

// PropertyValueOf looks up an item's value for a (name, id) reference.
// Falls through: resolved definition's storage key → definition's legacy
// key → legacy key of the raw name. ok=false means no value anywhere.
func (d *Database) PropertyValueOf(item *WorkspaceItem, name, id string) (PropertyValue, bool) {
	if item == nil || item.Properties == nil {
		return PropertyValue{}, false
	}
	if def, found := d.ResolveProperty(name, id); found {
		if v, ok := item.Properties[StorageKey(def.ID)]; ok {
			return v, true
		}
		if v, ok := item.Properties[LegacyKey(def.Name)]; ok {
			return v, true
		}
	}
	if name != "" {
		if v, ok := item.Properties[LegacyKey(name)]; ok {
			return v, true
		}
	}
	return PropertyValue{}, false
}

// SetProperty writes a value under the definition's storage key.
func (item *WorkspaceItem) SetProperty(def *PropertyDefinition, v PropertyValue) {
	if item.Properties == nil {
		item.Properties = make(map[string]PropertyValue)
	}
	item.Properties[StorageKey(def.ID)] = v
}

// =============================================================================
// Relation graph
// =============================================================================

// SetRelation configures a relation property on a database. When twoWay is
// set it guarantees, in the same mutation, that the target database holds
// exactly one reciprocal property, creating it on first configuration and
// reusing it (matched by reverse id, then by target + reverse pointer) on
// every later edit.
func (s *Store) SetRelation(databaseID, propertyID string, targetDatabaseID string, twoWay bool, reverseName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.databases[databaseID]
	if !ok {
		return fmt.Errorf("set relation: database %q not found", databaseID)
	}
	target, ok := s.databases[targetDatabaseID]
	if !ok {
		return fmt.Errorf("set relation: target database %q not found", targetDatabaseID)
	}
	def, found := db.ResolveProperty("", propertyID)
	if !found {
		return fmt.Errorf("set relation: property %q not found in %q", propertyID, db.Name)
	}
	if relationConfigured(def, target, databaseID, targetDatabaseID, twoWay, reverseName) {
		return nil
	}

	def.Type = PropertyRelation
	if def.Relation == nil {
		def.Relation = &RelationConfig{}
	}
	def.Relation.TargetDatabaseID = targetDatabaseID
	def.Relation.IsTwoWay = twoWay
	def.Relation.ReverseName = reverseName

	if twoWay {
		reverse := ensureReverseProperty(target, db.ID, def, reverseName)
		def.Relation.ReversePropertyID = reverse.ID
		target.UpdatedAt = s.clock()
	}

	db.UpdatedAt = s.clock()
	s.bumpLocked()
	return nil
}

// relationConfigured reports whether the forward property (and, for two-way
// relations, its reciprocal) already carries exactly the requested
// configuration. Re-provisioning an intact relation is then a no-op and
// does not advance the change sequence.
func relationConfigured(def *PropertyDefinition, target *Database, databaseID, targetDatabaseID string, twoWay bool, reverseName string) bool {
	rel := def.Relation
	if def.Type != PropertyRelation || rel == nil ||
		rel.TargetDatabaseID != targetDatabaseID ||
		rel.IsTwoWay != twoWay ||
		rel.ReverseName != reverseName {
		return false
	}
	if !twoWay {
		return true
	}
	rev, ok := target.ResolveProperty("", rel.ReversePropertyID)
	if !ok || rev.Type != PropertyRelation || rev.Relation == nil {
		return false
	}
	if reverseName != "" && rev.Name != reverseName {
		return false
	}
	return rev.Relation.TargetDatabaseID == databaseID && rev.Relation.ReversePropertyID == def.ID
}

// ensureReverseProperty finds or creates the reciprocal relation property on
// the target database. Match order: the forward config's recorded reverse
// id, then any property whose relation points back at (sourceDB, forward
// property). Never duplicates.
func ensureReverseProperty(target *Database, sourceDBID string, forward *PropertyDefinition, reverseName string) *PropertyDefinition {
	if forward.Relation.ReversePropertyID != "" {
		for i := range target.Properties {
			if target.Properties[i].ID == forward.Relation.ReversePropertyID {
				return configureReverse(&target.Properties[i], sourceDBID, forward, reverseName)
			}
		}
	}
	for i := range target.Properties {
		p := &target.Properties[i]
		if p.Relation != nil && p.Relation.TargetDatabaseID == sourceDBID && p.Relation.ReversePropertyID == forward.ID {
			return configureReverse(p, sourceDBID, forward, reverseName)
		}
	}

	name := reverseName
	if name == "" {
		name = "Related " + forward.Name
	}
	target.Properties = append(target.Properties, PropertyDefinition{
		ID:   uuid.NewString(),
		Name: name,
		Type: PropertyRelation,
	})
	return configureReverse(&target.Properties[len(target.Properties)-1], sourceDBID, forward, reverseName)
}

func configureReverse(p *PropertyDefinition, sourceDBID string, forward *PropertyDefinition, reverseName string) *PropertyDefinition {
	p.Type = PropertyRelation
	if reverseName != "" {
		p.Name = reverseName
	}
	p.Relation = &RelationConfig{
		TargetDatabaseID:  sourceDBID,
		IsTwoWay:          true,
		ReversePropertyID: forward.ID,
	}
	return p
}

// RemoveRelation tears down the forward config only. An orphaned reverse
// property on the target database is left untouched; RemoveReverseProperty
// is the explicit cleanup.
func (s *Store) RemoveRelation(databaseID, propertyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.databases[databaseID]
	if !ok {
		return fmt.Errorf("remove relation: database %q not found", databaseID)
	}
	def, found := db.ResolveProperty("", propertyID)
	if !found {
		return fmt.Errorf("remove relation: property %q not found in %q", propertyID, db.Name)
	}
	def.Relation = nil
	def.Type = PropertyText
	db.UpdatedAt = s.clock()
	s.bumpLocked()
	return nil
}

// RemoveReverseProperty deletes the reciprocal property a two-way relation
// provisioned on the target database.
func (s *Store) RemoveReverseProperty(targetDatabaseID, reversePropertyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.databases[targetDatabaseID]
	if !ok {
		return fmt.Errorf("remove reverse property: database %q not found", targetDatabaseID)
	}
	for i := range target.Properties {
		if target.Properties[i].ID == reversePropertyID {
			target.Properties = append(target.Properties[:i], target.Properties[i+1:]...)
			target.UpdatedAt = s.clock()
			s.bumpLocked()
			return nil
		}
	}
	return fmt.Errorf("remove reverse property: property %q not found", reversePropertyID)
}

// =============================================================================
// Rollups
// =============================================================================

// validRollup reports whether a calculation applies to the target type.
func validRollup(calc RollupCalculation, target PropertyType) bool {
	switch calc {
	case RollupCount, RollupCountValues:
		return true
	case RollupSum, RollupAverage:
		return target == PropertyNumber
	case RollupMin, RollupMax:
		return target == PropertyNumber || target == PropertyDate
	}
	return false
}

// ComputeRollup evaluates a rollup property for one item: it follows the
// relation property's linked ids and aggregates the target property across
// the related items.
func (s *Store) ComputeRollup(item *WorkspaceItem, databaseID string, def *PropertyDefinition) (PropertyValue, error) {
	if def.Rollup == nil {
		return PropertyValue{}, fmt.Errorf("compute rollup: property %q has no rollup config", def.Name)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, ok := s.databases[databaseID]
	if !ok {
		return PropertyValue{}, fmt.Errorf("compute rollup: database %q not found", databaseID)
	}
	relDef, found := db.ResolveProperty("", def.Rollup.RelationPropertyID)
	if !found || relDef.Relation == nil {
		return PropertyValue{}, fmt.Errorf("compute rollup: relation property %q not found", def.Rollup.RelationPropertyID)
	}
	targetDB, ok := s.databases[relDef.Relation.TargetDatabaseID]
	if !ok {
		return PropertyValue{}, fmt.Errorf("compute rollup: target database %q not found", relDef.Relation.TargetDatabaseID)
	}
	targetDef, found := targetDB.ResolveProperty("", def.Rollup.TargetPropertyID)
	if !found {
		return PropertyValue{}, fmt.Errorf("compute rollup: target property %q not found", def.Rollup.TargetPropertyID)
	}
	if !validRollup(def.Rollup.Calculation, targetDef.Type) {
		return PropertyValue{}, fmt.Errorf("compute rollup: %s is not valid for %s targets", def.Rollup.Calculation, targetDef.Type)
	}

	linkVal, _ := db.PropertyValueOf(item, relDef.Name, relDef.ID)
	linked := linkVal.RelationIDs()

	if def.Rollup.Calculation == RollupCount {
		return NumberValue(float64(len(linked))), nil
	}

	var values []PropertyValue
	for _, id := range linked {
		related, ok := s.items[id]
		if !ok {
			continue
		}
		if v, ok := targetDB.PropertyValueOf(related, targetDef.Name, targetDef.ID); ok && !v.IsEmpty() {
			values = append(values, v)
		}
	}

	switch def.Rollup.Calculation {
	case RollupCountValues:
		return NumberValue(float64(len(values))), nil
	case RollupSum, RollupAverage:
		var sum float64
		for _, v := range values {
			sum += v.Number
		}
		if def.Rollup.Calculation == RollupSum {
			return NumberValue(sum), nil
		}
		if len(values) == 0 {
			return EmptyValue(), nil
		}
		return NumberValue(sum / float64(len(values))), nil
	case RollupMin, RollupMax:
		if len(values) == 0 {
			return EmptyValue(), nil
		}
		best := values[0]
		for _, v := range values[1:] {
			c := v.CompareTo(best)
			if (def.Rollup.Calculation == RollupMin && c < 0) || (def.Rollup.Calculation == RollupMax && c > 0) {
				best = v
			}
		}
		return best.Clone(), nil
	}
	return PropertyValue{}, fmt.Errorf("compute rollup: unknown calculation %q", def.Rollup.Calculation)
}
