package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a store whose clock ticks one millisecond per call,
// starting at base. Deterministic timestamps for assertions.
func fixedClock(base int64) (*Store, func() int64) {
	s := NewStore()
	now := base
	tick := func() int64 {
		now++
		return now
	}
	s.SetClock(tick)
	return s, tick
}

// =============================================================================
// Item lifecycle
// =============================================================================

func TestAddAndGetItem(t *testing.T) {
	s, _ := fixedClock(1000)

	item := &WorkspaceItem{Title: "Roadmap", Type: ItemTypePage}
	require.NoError(t, s.AddItem(item))
	require.NotEmpty(t, item.ID, "id assigned on insert")

	got := s.Item(item.ID)
	require.NotNil(t, got)
	assert.Equal(t, "Roadmap", got.Title)
	assert.NotZero(t, got.CreatedAt)
	assert.Nil(t, s.Item("missing"))
}

func TestUpdateBumpsTimestampRestoreDoesNot(t *testing.T) {
	s, _ := fixedClock(1000)

	item := &WorkspaceItem{Title: "Doc", Type: ItemTypePage}
	require.NoError(t, s.AddItem(item))
	created := s.Item(item.ID)

	updated := s.Item(item.ID)
	updated.Title = "Doc v2"
	require.NoError(t, s.UpdateItem(updated))
	assert.Greater(t, s.Item(item.ID).UpdatedAt, created.UpdatedAt)

	// RestoreItem is the rollback path: verbatim, timestamps included.
	s.RestoreItem(created)
	got := s.Item(item.ID)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestDeleteIsSoftArchive(t *testing.T) {
	s, _ := fixedClock(1000)
	db := &Database{ID: "tasks", Name: "Tasks"}
	require.NoError(t, s.AddDatabase(db))

	item := &WorkspaceItem{Title: "Task", Type: ItemTypeDatabaseRow, DatabaseID: "tasks"}
	require.NoError(t, s.AddItem(item))
	require.NoError(t, s.DeleteItem(item.ID))

	got := s.Item(item.ID)
	require.NotNil(t, got, "archived items still exist")
	assert.True(t, got.Archived)
	assert.Empty(t, s.Items("tasks"), "archived items are hidden from collection queries")

	require.NoError(t, s.RemoveItem(item.ID))
	assert.Nil(t, s.Item(item.ID), "physical removal only via explicit remove")
}

func TestItemsOrderedByCreation(t *testing.T) {
	s, _ := fixedClock(1000)
	require.NoError(t, s.AddDatabase(&Database{ID: "tasks", Name: "Tasks"}))

	// Pre-set timestamps are kept, so insertion order differs from creation
	// order and two items share the same instant.
	for _, item := range []*WorkspaceItem{
		{ID: "b", Title: "B", Type: ItemTypeDatabaseRow, DatabaseID: "tasks", CreatedAt: 5, UpdatedAt: 5},
		{ID: "a", Title: "A", Type: ItemTypeDatabaseRow, DatabaseID: "tasks", CreatedAt: 5, UpdatedAt: 5},
		{ID: "c", Title: "C", Type: ItemTypeDatabaseRow, DatabaseID: "tasks", CreatedAt: 1, UpdatedAt: 1},
	} {
		require.NoError(t, s.AddItem(item))
	}

	var ids []string
	for _, item := range s.Items("tasks") {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "creation time first, id breaks ties")
}

func TestCreateTaskSetsStatus(t *testing.T) {
	s, _ := fixedClock(1000)
	db := &Database{
		ID:   "tasks",
		Name: "Tasks",
		Properties: []PropertyDefinition{
			{ID: "st", Name: "Status", Type: PropertyStatus},
		},
	}
	require.NoError(t, s.AddDatabase(db))

	task, err := s.CreateTask("Ship it", "tasks", "Todo")
	require.NoError(t, err)

	v, ok := s.Database("tasks").PropertyValueOf(task, "Status", "st")
	require.True(t, ok)
	assert.Equal(t, "Todo", v.Select)

	byStatus := s.ItemsWithStatus("tasks", "Todo")
	require.Len(t, byStatus, 1)
	assert.Equal(t, task.ID, byStatus[0].ID)
	assert.Empty(t, s.ItemsWithStatus("tasks", "Done"))
}

// =============================================================================
// Change notification
// =============================================================================

func TestChangeSequenceAdvancesOnMutation(t *testing.T) {
	s, _ := fixedClock(1000)

	var notified []int64
	s.Subscribe(func(seq int64) { notified = append(notified, seq) })

	before := s.LastUpdate()
	require.NoError(t, s.AddItem(&WorkspaceItem{Title: "a"}))
	require.NoError(t, s.AddDatabase(&Database{Name: "d"}))

	assert.Equal(t, before+2, s.LastUpdate())
	require.Len(t, notified, 2)
	assert.Less(t, notified[0], notified[1], "sequence is monotonic")

	// Reads do not advance the sequence.
	s.Item("missing")
	s.AllItems()
	assert.Equal(t, before+2, s.LastUpdate())
}

// =============================================================================
// Copy isolation
// =============================================================================

func TestReadsReturnDeepCopies(t *testing.T) {
	s, _ := fixedClock(1000)
	item := &WorkspaceItem{
		Title:      "Page",
		Properties: map[string]PropertyValue{"p": TextValue("v")},
		Blocks:     []Block{{ID: "b", Type: BlockParagraph, Content: "hello", Metadata: map[string]string{"k": "v"}}},
	}
	require.NoError(t, s.AddItem(item))

	got := s.Item(item.ID)
	got.Properties["p"] = TextValue("mutated")
	got.Blocks[0].Content = "mutated"
	got.Blocks[0].Metadata["k"] = "mutated"

	fresh := s.Item(item.ID)
	assert.Equal(t, "v", fresh.Properties["p"].Text)
	assert.Equal(t, "hello", fresh.Blocks[0].Content)
	assert.Equal(t, "v", fresh.Blocks[0].Metadata["k"])
}

func TestImportExportRoundTrip(t *testing.T) {
	s, _ := fixedClock(1000)
	require.NoError(t, s.AddDatabase(&Database{
		ID:   "d1",
		Name: "Tasks",
		Views: []DatabaseView{{
			ID:      "v1",
			Name:    "Board",
			Type:    ViewKanban,
			Filters: []ViewFilter{{PropertyName: "Status", PropertyID: "st", Operation: FilterEquals, Value: "Todo"}},
			Sorts:   []ViewSort{{PropertyName: "Title", Ascending: true}},
			GroupBy: "Status",
		}},
	}))
	require.NoError(t, s.AddItem(&WorkspaceItem{ID: "i1", Title: "A", DatabaseID: "d1"}))
	require.NoError(t, s.PutSession(&Session{ID: "s1", Title: "Sync", FolderID: "orphan"}))

	items, dbs, sessions := s.Export()

	other := NewStore()
	other.Import(items, dbs, sessions)

	// Views must round-trip with identical filters, sorts, and grouping.
	view := other.Database("d1").Views[0]
	assert.Equal(t, ViewFilter{PropertyName: "Status", PropertyID: "st", Operation: FilterEquals, Value: "Todo"}, view.Filters[0])
	assert.Equal(t, ViewSort{PropertyName: "Title", Ascending: true}, view.Sorts[0])
	assert.Equal(t, "Status", view.GroupBy)

	assert.Equal(t, "A", other.Item("i1").Title)
	assert.Equal(t, "orphan", other.Session("s1").FolderID, "orphaned folder refs preserved as-is")
}

// =============================================================================
// Versioning (archive injected as a fake)
// =============================================================================

type fakeArchive struct {
	versions map[string][]*WorkspaceItem
}

func (f *fakeArchive) SaveVersion(item *WorkspaceItem, reason string) (int, error) {
	if f.versions == nil {
		f.versions = make(map[string][]*WorkspaceItem)
	}
	f.versions[item.ID] = append(f.versions[item.ID], item)
	return len(f.versions[item.ID]), nil
}

func (f *fakeArchive) Version(itemID string, version int) (*WorkspaceItem, error) {
	vs := f.versions[itemID]
	if version < 1 || version > len(vs) {
		return nil, nil
	}
	return vs[version-1], nil
}

func (f *fakeArchive) Versions(itemID string) ([]*WorkspaceItem, error) {
	return f.versions[itemID], nil
}

func TestCreateAndRestoreVersion(t *testing.T) {
	s, _ := fixedClock(1000)
	s.SetArchive(&fakeArchive{})

	item := &WorkspaceItem{Title: "Draft", Type: ItemTypePage}
	require.NoError(t, s.AddItem(item))

	v, err := s.CreateVersion(item.ID, "before edit")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	edited := s.Item(item.ID)
	edited.Title = "Final"
	require.NoError(t, s.UpdateItem(edited))

	require.NoError(t, s.RestoreVersion(item.ID, 1))
	assert.Equal(t, "Draft", s.Item(item.ID).Title)

	err = s.RestoreVersion(item.ID, 99)
	require.Error(t, err)
}
