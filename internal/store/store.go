package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// VersionArchive persists page snapshots taken by CreateVersion. The store
// owns the canonical state; the archive owns history.
type VersionArchive interface {
	SaveVersion(item *WorkspaceItem, reason string) (int, error)
	Version(itemID string, version int) (*WorkspaceItem, error)
	Versions(itemID string) ([]*WorkspaceItem, error)
}

// Observer is notified with the new change sequence after every successful
// mutation. The store itself stays passive: it only increments and notifies.
type Observer func(seq int64)

// Store is the canonical in-memory workspace state. All mutations are
// serialized behind one lock (single logical writer); reads hand out deep
// copies so query engines never observe a store mid-mutation.
type Store struct {
	mu        sync.RWMutex
	items     map[string]*WorkspaceItem
	databases map[string]*Database
	sessions  map[string]*Session

	seq       atomic.Int64
	observers []Observer
	archive   VersionArchive

	// now is swappable in tests; defaults to wall clock UnixMilli.
	now func() int64
}

// NewStore creates an empty canonical store.
func NewStore() *Store {
	return &Store{
		items:     make(map[string]*WorkspaceItem),
		databases: make(map[string]*Database),
		sessions:  make(map[string]*Session),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// SetArchive attaches the version archive (dependency injection; the store
// never constructs its own collaborators).
func (s *Store) SetArchive(a VersionArchive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = a
}

// SetClock overrides the timestamp source. Test hook.
func (s *Store) SetClock(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) clock() int64 { return s.now() }

// Subscribe registers an observer invoked after every successful mutation.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// LastUpdate returns the monotonically-advancing change sequence.
func (s *Store) LastUpdate() int64 {
	return s.seq.Load()
}

// bumpLocked advances the change sequence and notifies observers.
// Callers hold s.mu.
func (s *Store) bumpLocked() {
	seq := s.seq.Add(1)
	for _, o := range s.observers {
		o(seq)
	}
}

// =============================================================================
// Item mutations
// =============================================================================

// AddItem inserts a new item. Missing id and timestamps are filled in.
func (s *Store) AddItem(item *WorkspaceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("add item: id %q already exists", item.ID)
	}
	now := s.clock()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = now
	}
	s.items[item.ID] = copyItem(item)
	s.bumpLocked()
	return nil
}

// UpdateItem replaces an existing item and bumps its update timestamp.
func (s *Store) UpdateItem(item *WorkspaceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		return fmt.Errorf("update item: id %q not found", item.ID)
	}
	item.UpdatedAt = s.clock()
	s.items[item.ID] = copyItem(item)
	s.bumpLocked()
	return nil
}

// RestoreItem writes an item verbatim, preserving every field including
// timestamps. Rollback and version restore go through here.
func (s *Store) RestoreItem(item *WorkspaceItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = copyItem(item)
	s.bumpLocked()
}

// DeleteItem archives an item (soft delete). Items are physically removed
// only via RemoveItem.
func (s *Store) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return fmt.Errorf("delete item: id %q not found", id)
	}
	item.Archived = true
	item.UpdatedAt = s.clock()
	s.bumpLocked()
	return nil
}

// RemoveItem physically removes an item.
func (s *Store) RemoveItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return fmt.Errorf("remove item: id %q not found", id)
	}
	delete(s.items, id)
	s.bumpLocked()
	return nil
}

// CreateTask adds a database row with the given title and status. The
// status lands under the database's status-typed property if one exists.
func (s *Store) CreateTask(title, databaseID, status string) (*WorkspaceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.databases[databaseID]
	if !ok {
		return nil, fmt.Errorf("create task: database %q not found", databaseID)
	}

	now := s.clock()
	task := &WorkspaceItem{
		ID:         uuid.NewString(),
		Title:      title,
		Type:       ItemTypeDatabaseRow,
		DatabaseID: databaseID,
		Properties: make(map[string]PropertyValue),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if status != "" {
		if def := db.StatusProperty(); def != nil {
			task.SetProperty(def, SelectValue(status))
		}
	}
	s.items[task.ID] = task
	s.bumpLocked()
	return copyItem(task), nil
}

// =============================================================================
// Database mutations
// =============================================================================

// AddDatabase inserts a new collection.
func (s *Store) AddDatabase(db *Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db.ID == "" {
		db.ID = uuid.NewString()
	}
	if _, exists := s.databases[db.ID]; exists {
		return fmt.Errorf("add database: id %q already exists", db.ID)
	}
	now := s.clock()
	if db.CreatedAt == 0 {
		db.CreatedAt = now
	}
	if db.UpdatedAt == 0 {
		db.UpdatedAt = now
	}
	s.databases[db.ID] = copyDatabase(db)
	s.bumpLocked()
	return nil
}

// UpdateDatabase replaces an existing collection definition.
func (s *Store) UpdateDatabase(db *Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.databases[db.ID]; !exists {
		return fmt.Errorf("update database: id %q not found", db.ID)
	}
	db.UpdatedAt = s.clock()
	s.databases[db.ID] = copyDatabase(db)
	s.bumpLocked()
	return nil
}

// =============================================================================
// Sessions
// =============================================================================

// PutSession inserts or replaces a recording session.
func (s *Store) PutSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.clock()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.bumpLocked()
	return nil
}

// Session returns a session by id, or nil.
func (s *Store) Session(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp
	}
	return nil
}

// Sessions returns all sessions.
func (s *Store) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

// =============================================================================
// Queries
// =============================================================================

// Item returns a copy of an item by id, or nil.
func (s *Store) Item(id string) *WorkspaceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[id]; ok {
		return copyItem(item)
	}
	return nil
}

// ItemBySessionID returns the item back-referencing a session, or nil.
func (s *Store) ItemBySessionID(sessionID string) *WorkspaceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.SessionID == sessionID {
			return copyItem(item)
		}
	}
	return nil
}

// Items returns copies of all non-archived items in a database,
// ordered by creation time.
func (s *Store) Items(databaseID string) []*WorkspaceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*WorkspaceItem
	for _, item := range s.items {
		if item.DatabaseID == databaseID && !item.Archived {
			out = append(out, copyItem(item))
		}
	}
	sortItemsByCreation(out)
	return out
}

// ItemsWithStatus filters Items by the database's status property value.
func (s *Store) ItemsWithStatus(databaseID, status string) []*WorkspaceItem {
	s.mu.RLock()
	db, ok := s.databases[databaseID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	def := db.StatusProperty()
	if def == nil {
		return nil
	}

	var out []*WorkspaceItem
	for _, item := range s.Items(databaseID) {
		if v, ok := db.PropertyValueOf(item, def.Name, def.ID); ok && v.Select == status {
			out = append(out, item)
		}
	}
	return out
}

// AllItems returns copies of every item, archived included. Snapshot path.
func (s *Store) AllItems() []*WorkspaceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkspaceItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, copyItem(item))
	}
	sortItemsByCreation(out)
	return out
}

// Database returns a copy of a collection by id, or nil.
func (s *Store) Database(id string) *Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if db, ok := s.databases[id]; ok {
		return copyDatabase(db)
	}
	return nil
}

// DatabaseByName returns a copy of the first collection with that name, or nil.
func (s *Store) DatabaseByName(name string) *Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, db := range s.databases {
		if db.Name == name {
			return copyDatabase(db)
		}
	}
	return nil
}

// Databases returns copies of all collections.
func (s *Store) Databases() []*Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Database, 0, len(s.databases))
	for _, db := range s.databases {
		out = append(out, copyDatabase(db))
	}
	return out
}

// =============================================================================
// Versioning
// =============================================================================

// CreateVersion snapshots an item's current state into the archive.
func (s *Store) CreateVersion(itemID, reason string) (int, error) {
	s.mu.RLock()
	archive := s.archive
	item, ok := s.items[itemID]
	var cp *WorkspaceItem
	if ok {
		cp = copyItem(item)
	}
	s.mu.RUnlock()

	if archive == nil {
		return 0, fmt.Errorf("create version: no archive attached")
	}
	if cp == nil {
		return 0, fmt.Errorf("create version: item %q not found", itemID)
	}
	return archive.SaveVersion(cp, reason)
}

// RestoreVersion puts an archived snapshot back verbatim as the current state.
func (s *Store) RestoreVersion(itemID string, version int) error {
	s.mu.RLock()
	archive := s.archive
	s.mu.RUnlock()

	if archive == nil {
		return fmt.Errorf("restore version: no archive attached")
	}
	snap, err := archive.Version(itemID, version)
	if err != nil {
		return fmt.Errorf("restore version: %w", err)
	}
	if snap == nil {
		return fmt.Errorf("restore version: item %q has no version %d", itemID, version)
	}
	s.RestoreItem(snap)
	return nil
}

// =============================================================================
// Snapshot import/export (persistence engine)
// =============================================================================

// Export hands out deep copies of the full canonical state.
func (s *Store) Export() ([]*WorkspaceItem, []*Database, []*Session) {
	return s.AllItems(), s.Databases(), s.Sessions()
}

// Import replaces the canonical state wholesale. Load path only; does not
// advance the change sequence (nothing mutated from the caller's view).
func (s *Store) Import(items []*WorkspaceItem, databases []*Database, sessions []*Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*WorkspaceItem, len(items))
	for _, item := range items {
		s.items[item.ID] = copyItem(item)
	}
	s.databases = make(map[string]*Database, len(databases))
	for _, db := range databases {
		s.databases[db.ID] = copyDatabase(db)
	}
	s.sessions = make(map[string]*Session, len(sessions))
	for _, sess := range sessions {
		cp := *sess
		s.sessions[sess.ID] = &cp
	}
}

// =============================================================================
// Deep copies
// =============================================================================

func copyItem(item *WorkspaceItem) *WorkspaceItem {
	cp := *item
	if item.Properties != nil {
		cp.Properties = make(map[string]PropertyValue, len(item.Properties))
		for k, v := range item.Properties {
			cp.Properties[k] = v.Clone()
		}
	}
	if item.Blocks != nil {
		cp.Blocks = copyBlocks(item.Blocks)
	}
	return &cp
}

func copyBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Metadata != nil {
			out[i].Metadata = make(map[string]string, len(b.Metadata))
			for k, v := range b.Metadata {
				out[i].Metadata[k] = v
			}
		}
		if b.Children != nil {
			out[i].Children = copyBlocks(b.Children)
		}
	}
	return out
}

func copyDatabase(db *Database) *Database {
	cp := *db
	cp.Properties = make([]PropertyDefinition, len(db.Properties))
	for i, p := range db.Properties {
		cp.Properties[i] = p
		if p.Options != nil {
			cp.Properties[i].Options = append([]SelectOption(nil), p.Options...)
		}
		if p.Relation != nil {
			rel := *p.Relation
			cp.Properties[i].Relation = &rel
		}
		if p.Rollup != nil {
			ru := *p.Rollup
			cp.Properties[i].Rollup = &ru
		}
	}
	if db.Views != nil {
		cp.Views = make([]DatabaseView, len(db.Views))
		for i, v := range db.Views {
			cp.Views[i] = v
			if v.Filters != nil {
				cp.Views[i].Filters = append([]ViewFilter(nil), v.Filters...)
			}
			if v.Sorts != nil {
				cp.Views[i].Sorts = append([]ViewSort(nil), v.Sorts...)
			}
			if v.VisiblePropertyIDs != nil {
				cp.Views[i].VisiblePropertyIDs = append([]string(nil), v.VisiblePropertyIDs...)
			}
		}
	}
	if db.Columns != nil {
		cp.Columns = append([]KanbanColumn(nil), db.Columns...)
	}
	return &cp
}

func sortItemsByCreation(items []*WorkspaceItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
}
