package archive

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/workbench/internal/store"
)

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// =============================================================================
// Version history
// =============================================================================

func TestSaveVersionNumbersSequentially(t *testing.T) {
	a := newTestArchive(t)
	item := &store.WorkspaceItem{ID: "p1", Title: "Draft", Type: store.ItemTypePage}

	v1, err := a.SaveVersion(item, "checkpoint")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	item.Title = "Draft v2"
	v2, err := a.SaveVersion(item, "checkpoint")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	current, err := a.CurrentVersion("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, current)
}

func TestVersionRoundTripsFullItem(t *testing.T) {
	a := newTestArchive(t)
	item := &store.WorkspaceItem{
		ID:    "p1",
		Title: "Spec notes",
		Type:  store.ItemTypePage,
		Properties: map[string]store.PropertyValue{
			store.StorageKey("S"): store.SelectValue("Todo"),
		},
		Blocks:    []store.Block{{ID: "b1", Type: store.BlockParagraph, Content: "hello"}},
		CreatedAt: 100,
		UpdatedAt: 200,
	}
	_, err := a.SaveVersion(item, "edit")
	require.NoError(t, err)

	got, err := a.Version("p1", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, item.Properties, got.Properties)
	assert.Equal(t, item.Blocks, got.Blocks)
	assert.Equal(t, item.UpdatedAt, got.UpdatedAt)
}

func TestVersionMissingReturnsNil(t *testing.T) {
	a := newTestArchive(t)

	got, err := a.Version("nope", 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	current, err := a.CurrentVersion("nope")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestVersionsNewestFirst(t *testing.T) {
	a := newTestArchive(t)
	item := &store.WorkspaceItem{ID: "p1", Title: "one"}
	for _, title := range []string{"one", "two", "three"} {
		item.Title = title
		_, err := a.SaveVersion(item, "edit")
		require.NoError(t, err)
	}

	versions, err := a.Versions("p1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "three", versions[0].Title)
	assert.Equal(t, "one", versions[2].Title)
}

func TestVersionsIsolatedPerItem(t *testing.T) {
	a := newTestArchive(t)
	_, err := a.SaveVersion(&store.WorkspaceItem{ID: "a", Title: "A"}, "edit")
	require.NoError(t, err)
	_, err = a.SaveVersion(&store.WorkspaceItem{ID: "b", Title: "B"}, "edit")
	require.NoError(t, err)

	versions, err := a.Versions("a")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "A", versions[0].Title)
}

// =============================================================================
// Audit trail
// =============================================================================

func TestAuditAppendAndList(t *testing.T) {
	a := newTestArchive(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.AppendAudit(AuditRow{
			ID:     fmt.Sprintf("cmd-%d", i),
			At:     int64(100 + i),
			Intent: fmt.Sprintf("move task %d", i),
			ItemID: "p1",
			Kind:   "move",
			Status: "executed",
		}))
	}

	rows, err := a.RecentAudit(2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "cmd-2", rows[0].ID, "most recent first")
	assert.Equal(t, "cmd-1", rows[1].ID)

	all, err := a.RecentAudit(0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "non-positive limit uses the default")
}

func TestAuditPreservesPreState(t *testing.T) {
	a := newTestArchive(t)
	require.NoError(t, a.AppendAudit(AuditRow{
		ID:       "cmd-1",
		At:       100,
		Intent:   "delete page",
		ItemID:   "p1",
		Kind:     "delete",
		Status:   "executed",
		PreState: `{"id":"p1","title":"Doomed"}`,
	}))
	require.NoError(t, a.AppendAudit(AuditRow{
		ID: "cmd-2", At: 200, Intent: "create task", Kind: "create-task", Status: "executed",
	}))

	rows, err := a.RecentAudit(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0].PreState)
	assert.Contains(t, rows[1].PreState, `"Doomed"`)
}
