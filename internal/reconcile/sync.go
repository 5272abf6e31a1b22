package reconcile

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/workbench/internal/store"
)

// Collection and property names the sync provisions.
const (
	NotesCollection   = "Meeting Notes"
	ActionsCollection = "Actions"

	propActionCount = "Action Count"
	propActions     = "Actions"
	propStatus      = "Status"
	propOwner       = "Owner"
	propDueDate     = "Due Date"
	propPriority    = "Priority"
	propMeetingNote = "Meeting Note"
	propSession     = "Session"

	statusTodo = "Todo"
	statusDone = "Done"
)

// Syncer converts sessions into linked, deduplicated workspace records.
// All writes go through the store's serialized mutation path, so partial
// sync progress never corrupts the schema; it only leaves the action set
// incomplete until sync resumes.
type Syncer struct {
	store *store.Store
	log   *zap.Logger
}

// NewSyncer creates a reconciliation syncer over the given store.
func NewSyncer(s *store.Store, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{store: s, log: log}
}

// EnsureCollections provisions the Meeting Notes and Actions databases and
// the two-way Actions relation between them. Idempotent, and tolerant of a
// pre-existing collection with a partial schema: missing well-known
// properties are backfilled instead of assumed.
func (y *Syncer) EnsureCollections() error {
	notes, err := y.ensureCollection(NotesCollection, notesProperties(), nil)
	if err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}
	actions, err := y.ensureCollection(ActionsCollection, actionProperties(), actionColumns())
	if err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	// Two-way relation: note.Actions ↔ action."Meeting Note". SetRelation
	// reuses an existing reverse property, so re-running never duplicates.
	actionsProp, ok := notes.PropertyByName(propActions)
	if !ok {
		return fmt.Errorf("ensure collections: %q schema is missing %q", NotesCollection, propActions)
	}
	if err := y.store.SetRelation(notes.ID, actionsProp.ID, actions.ID, true, propMeetingNote); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}
	return nil
}

// ensureCollection creates the named database, or backfills any well-known
// properties a pre-existing (possibly user-created) schema is missing.
// Matching is by display name; present properties are never touched.
func (y *Syncer) ensureCollection(name string, defs []store.PropertyDefinition, columns []store.KanbanColumn) (*store.Database, error) {
	db := y.store.DatabaseByName(name)
	if db == nil {
		db = &store.Database{Name: name, Properties: defs, Columns: columns}
		if err := y.store.AddDatabase(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	var missing bool
	for _, def := range defs {
		if _, ok := db.PropertyByName(def.Name); ok {
			continue
		}
		db.Properties = append(db.Properties, def)
		missing = true
	}
	if missing {
		if err := y.store.UpdateDatabase(db); err != nil {
			return nil, err
		}
		y.log.Info("backfilled collection schema", zap.String("database", name))
	}
	return db, nil
}

func notesProperties() []store.PropertyDefinition {
	return []store.PropertyDefinition{
		{ID: uuid.NewString(), Name: propActionCount, Type: store.PropertyNumber},
		{ID: uuid.NewString(), Name: propActions, Type: store.PropertyRelation},
	}
}

func actionProperties() []store.PropertyDefinition {
	return []store.PropertyDefinition{
		{ID: uuid.NewString(), Name: propStatus, Type: store.PropertyStatus, Options: []store.SelectOption{
			{ID: uuid.NewString(), Name: statusTodo},
			{ID: uuid.NewString(), Name: "In Progress"},
			{ID: uuid.NewString(), Name: statusDone},
		}},
		{ID: uuid.NewString(), Name: propOwner, Type: store.PropertyPerson},
		{ID: uuid.NewString(), Name: propDueDate, Type: store.PropertyDate},
		{ID: uuid.NewString(), Name: propPriority, Type: store.PropertyPriority, Options: []store.SelectOption{
			{ID: uuid.NewString(), Name: PriorityHigh},
			{ID: uuid.NewString(), Name: "Medium"},
			{ID: uuid.NewString(), Name: "Low"},
		}},
		{ID: uuid.NewString(), Name: propSession, Type: store.PropertyRelation},
	}
}

func actionColumns() []store.KanbanColumn {
	return []store.KanbanColumn{
		{ID: uuid.NewString(), Name: statusTodo, Value: statusTodo},
		{ID: uuid.NewString(), Name: "In Progress", Value: "In Progress"},
		{ID: uuid.NewString(), Name: statusDone, Value: statusDone},
	}
}

// UpsertMeetingNote creates or updates the page item representing a
// recording session. Known sections become structured blocks; unrecognized
// sections are preserved as plain content, not discarded.
func (y *Syncer) UpsertMeetingNote(sess *store.Session) (*store.WorkspaceItem, error) {
	if err := y.EnsureCollections(); err != nil {
		return nil, err
	}
	notesDB := y.store.DatabaseByName(NotesCollection)

	blocks := summaryBlocks(sess.MarkdownSummary)

	if note := y.store.ItemBySessionID(sess.ID); note != nil {
		note.Title = sess.Title
		note.Blocks = blocks
		if err := y.store.UpdateItem(note); err != nil {
			return nil, fmt.Errorf("upsert meeting note: %w", err)
		}
		return y.store.Item(note.ID), nil
	}

	note := &store.WorkspaceItem{
		Title:      sess.Title,
		Type:       store.ItemTypeSession,
		DatabaseID: notesDB.ID,
		SessionID:  sess.ID,
		Blocks:     blocks,
	}
	if err := y.store.AddItem(note); err != nil {
		return nil, fmt.Errorf("upsert meeting note: %w", err)
	}
	y.log.Info("created meeting note",
		zap.String("session", sess.ID), zap.String("note", note.ID))
	return y.store.Item(note.ID), nil
}

// summaryBlocks renders the parsed summary into a block tree.
func summaryBlocks(markdown string) []store.Block {
	var blocks []store.Block
	for _, section := range ParseSections(markdown) {
		if section.Heading != "" {
			blocks = append(blocks, store.Block{
				ID:      uuid.NewString(),
				Type:    store.BlockHeading2,
				Content: section.Heading,
			})
		}
		checklist := section.Heading == SectionActionItems
		for _, line := range section.Lines {
			if line == "" {
				continue
			}
			b := store.Block{ID: uuid.NewString(), Type: store.BlockParagraph, Content: line}
			switch {
			case checklist && checklistRe.MatchString(line):
				m := checklistRe.FindStringSubmatch(line)
				b.Type = store.BlockChecklist
				b.Content = m[2]
				b.Metadata = map[string]string{"checked": fmt.Sprintf("%t", m[1] != " ")}
			case len(line) > 2 && line[0] == '-' && line[1] == ' ':
				b.Type = store.BlockBullet
				b.Content = line[2:]
			}
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// =============================================================================
// Action sync
// =============================================================================

// SyncActions extracts checklist lines from the Action Items section and
// upserts one task per line into the Actions collection, linked back to
// both the meeting note and the session.
//
// Dedup invariant: identical action text (after trimming) is the same
// logical action, so re-running against unchanged input creates zero new
// records and the returned slice is empty.
func (y *Syncer) SyncActions(sess *store.Session, note *store.WorkspaceItem) ([]*store.WorkspaceItem, error) {
	if err := y.EnsureCollections(); err != nil {
		return nil, err
	}
	actionsDB := y.store.DatabaseByName(ActionsCollection)

	var lines []ActionLine
	if section, ok := FindSection(ParseSections(sess.MarkdownSummary), SectionActionItems); ok {
		lines = ExtractChecklist(section.Lines)
	}

	existing := make(map[string]*store.WorkspaceItem)
	for _, action := range y.linkedActions(actionsDB, note.ID, sess.ID) {
		existing[NormalizeActionText(action.Title)] = action
	}

	var created []*store.WorkspaceItem
	for _, line := range lines {
		key := NormalizeActionText(line.Text)
		if action, ok := existing[key]; ok {
			// Same logical action: carry a flipped checkbox into its status.
			if err := y.syncActionStatus(actionsDB, action, line); err != nil {
				return created, err
			}
			continue
		}
		action, err := y.createAction(actionsDB, line, sess, note)
		if err != nil {
			return created, err
		}
		existing[key] = action
		created = append(created, action)
	}

	if err := y.updateNoteRollup(note.ID, actionsDB); err != nil {
		return created, err
	}
	y.log.Info("synced actions",
		zap.String("session", sess.ID),
		zap.Int("lines", len(lines)),
		zap.Int("created", len(created)))
	return created, nil
}

// syncActionStatus carries a flipped checkbox into the action's status: a
// checked line completes the action, a previously Done line that came back
// unchecked reopens it. A manual "In Progress" survives an unchecked line.
func (y *Syncer) syncActionStatus(actionsDB *store.Database, action *store.WorkspaceItem, line ActionLine) error {
	def, ok := actionsDB.PropertyByName(propStatus)
	if !ok {
		return nil
	}
	have, _ := actionsDB.PropertyValueOf(action, propStatus, def.ID)
	current := have.DisplayString()

	var want string
	switch {
	case line.Checked && current != statusDone:
		want = statusDone
	case !line.Checked && current == statusDone:
		want = statusTodo
	default:
		return nil
	}
	action.SetProperty(def, store.SelectValue(want))
	if err := y.store.UpdateItem(action); err != nil {
		return fmt.Errorf("sync actions: update status of %q: %w", action.Title, err)
	}
	return nil
}

func (y *Syncer) createAction(actionsDB *store.Database, line ActionLine, sess *store.Session, note *store.WorkspaceItem) (*store.WorkspaceItem, error) {
	action := &store.WorkspaceItem{
		Title:      NormalizeActionText(line.Text),
		Type:       store.ItemTypeDatabaseRow,
		DatabaseID: actionsDB.ID,
		Properties: make(map[string]store.PropertyValue),
	}

	set := func(name string, v store.PropertyValue) {
		if def, ok := actionsDB.PropertyByName(name); ok {
			action.SetProperty(def, v)
		}
	}
	status := statusTodo
	if line.Checked {
		status = statusDone
	}
	set(propStatus, store.SelectValue(status))
	if owner := InferOwner(line.Text); owner != "" {
		set(propOwner, store.PersonValue(owner))
	}
	if due, ok := InferDueDate(line.Text, sess.StartedAt); ok {
		set(propDueDate, store.DateValue(due))
	}
	if priority := InferPriority(line.Text); priority != "" {
		set(propPriority, store.SelectValue(priority))
	}
	set(propMeetingNote, store.RelationValue(note.ID))
	set(propSession, store.RelationValue(sess.ID))

	if err := y.store.AddItem(action); err != nil {
		return nil, fmt.Errorf("sync actions: create %q: %w", action.Title, err)
	}
	return y.store.Item(action.ID), nil
}

// linkedActions returns the actions related to a meeting note or session.
func (y *Syncer) linkedActions(actionsDB *store.Database, noteID, sessionID string) []*store.WorkspaceItem {
	var out []*store.WorkspaceItem
	for _, item := range y.store.Items(actionsDB.ID) {
		noteVal, _ := actionsDB.PropertyValueOf(item, propMeetingNote, "")
		sessVal, _ := actionsDB.PropertyValueOf(item, propSession, "")
		if containsID(noteVal.RelationIDs(), noteID) || containsID(sessVal.RelationIDs(), sessionID) {
			out = append(out, item)
		}
	}
	return out
}

// updateNoteRollup keeps the note's Action Count and Actions relation
// consistent with the current set of linked actions.
func (y *Syncer) updateNoteRollup(noteID string, actionsDB *store.Database) error {
	note := y.store.Item(noteID)
	if note == nil {
		return fmt.Errorf("sync actions: meeting note %q disappeared", noteID)
	}
	notesDB := y.store.DatabaseByName(NotesCollection)

	linked := y.linkedActions(actionsDB, note.ID, note.SessionID)
	ids := make([]string, len(linked))
	for i, a := range linked {
		ids[i] = a.ID
	}

	countDef, ok := notesDB.PropertyByName(propActionCount)
	if !ok {
		return fmt.Errorf("sync actions: %q schema is missing %q", NotesCollection, propActionCount)
	}
	actionsDef, ok := notesDB.PropertyByName(propActions)
	if !ok {
		return fmt.Errorf("sync actions: %q schema is missing %q", NotesCollection, propActions)
	}

	wantCount := store.NumberValue(float64(len(ids)))
	wantActions := store.RelationsValue(ids)
	haveCount, _ := notesDB.PropertyValueOf(note, propActionCount, "")
	haveActions, _ := notesDB.PropertyValueOf(note, propActions, "")
	if haveCount.Equal(wantCount) && haveActions.Equal(wantActions) {
		return nil // already consistent, no write
	}

	note.SetProperty(countDef, wantCount)
	note.SetProperty(actionsDef, wantActions)
	if err := y.store.UpdateItem(note); err != nil {
		return fmt.Errorf("sync actions: update note rollup: %w", err)
	}
	return nil
}

// =============================================================================
// Graph repair
// =============================================================================

// ReconcileMeetingGraph re-derives and repairs every relation link for a
// session. Idempotent: a consistent graph is read, compared, and left
// untouched.
func (y *Syncer) ReconcileMeetingGraph(sessionID string) error {
	sess := y.store.Session(sessionID)
	if sess == nil {
		return fmt.Errorf("reconcile graph: session %q not found", sessionID)
	}
	note := y.store.ItemBySessionID(sessionID)
	if note == nil {
		return fmt.Errorf("reconcile graph: session %q has no meeting note", sessionID)
	}
	if err := y.EnsureCollections(); err != nil {
		return err
	}
	actionsDB := y.store.DatabaseByName(ActionsCollection)

	for _, action := range y.linkedActions(actionsDB, note.ID, sessionID) {
		noteVal, _ := actionsDB.PropertyValueOf(action, propMeetingNote, "")
		sessVal, _ := actionsDB.PropertyValueOf(action, propSession, "")
		if containsID(noteVal.RelationIDs(), note.ID) && containsID(sessVal.RelationIDs(), sessionID) {
			continue
		}
		if def, ok := actionsDB.PropertyByName(propMeetingNote); ok {
			action.SetProperty(def, store.RelationValue(note.ID))
		}
		if def, ok := actionsDB.PropertyByName(propSession); ok {
			action.SetProperty(def, store.RelationValue(sessionID))
		}
		if err := y.store.UpdateItem(action); err != nil {
			return fmt.Errorf("reconcile graph: repair action %q: %w", action.ID, err)
		}
	}

	return y.updateNoteRollup(note.ID, actionsDB)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
