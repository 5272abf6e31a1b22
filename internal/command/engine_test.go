package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/workbench/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := store.NewStore()
	var tick int64 = 1000
	s.SetClock(func() int64 {
		tick++
		return tick
	})
	require.NoError(t, s.AddDatabase(&store.Database{
		ID:   "tasks",
		Name: "Tasks",
		Properties: []store.PropertyDefinition{
			{ID: "st", Name: "Status", Type: store.PropertyStatus, Options: []store.SelectOption{
				{ID: "o1", Name: "Todo"}, {ID: "o2", Name: "Done"},
			}},
		},
	}))
	return NewEngine(s, nil, nil), s
}

func taskStatus(t *testing.T, s *store.Store, id string) string {
	t.Helper()
	item := s.Item(id)
	require.NotNil(t, item)
	v, ok := s.Database("tasks").PropertyValueOf(item, "Status", "st")
	require.True(t, ok)
	return v.DisplayString()
}

// =============================================================================
// Execution
// =============================================================================

func TestCreateTaskExecutesImmediately(t *testing.T) {
	e, s := newTestEngine(t)

	res := e.Execute(Request{Kind: KindCreateTask, DatabaseID: "tasks", Title: "Ship deadline", TargetStatus: "Todo"})
	require.True(t, res.Success)
	assert.False(t, res.RequiresConfirmation)
	require.NotEmpty(t, res.ItemID)
	assert.Equal(t, "Todo", taskStatus(t, s, res.ItemID))

	audit := e.RecentAudit(0)
	require.Len(t, audit, 1)
	assert.Equal(t, KindCreateTask, audit[0].Kind)
	assert.Equal(t, AuditExecuted, audit[0].Status)
	assert.Nil(t, audit[0].PreState)
}

func TestExecuteNothingToActOn(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.Execute(Request{Kind: KindMove, Query: "the quarterly budget", TargetStatus: "Done"})
	assert.False(t, res.Success)
	assert.False(t, res.RequiresConfirmation)
	assert.Contains(t, res.Message, "nothing to act on")
	assert.False(t, e.AwaitingConfirmation())
}

func TestUnambiguousMoveExecutesImmediately(t *testing.T) {
	e, s := newTestEngine(t)
	task, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindMove, Query: "move the ship deadline task to Done", TargetStatus: "Done"})
	require.True(t, res.Success)
	assert.Equal(t, task.ID, res.ItemID)
	assert.Equal(t, "Done", taskStatus(t, s, task.ID))
}

// =============================================================================
// Confirmation flow
// =============================================================================

func TestAmbiguousTargetRequiresConfirmation(t *testing.T) {
	e, s := newTestEngine(t)
	older, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)
	newer, err := s.CreateTask("Ship checklist", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindMove, Query: "ship", TargetStatus: "Done"})
	require.True(t, res.RequiresConfirmation)
	require.NotEmpty(t, res.ConfirmationToken)
	assert.Equal(t, newer.ID, res.ItemID, "most recently updated candidate is pre-selected")
	assert.True(t, e.AwaitingConfirmation())

	// Nothing mutated yet.
	assert.Equal(t, "Todo", taskStatus(t, s, older.ID))
	assert.Equal(t, "Todo", taskStatus(t, s, newer.ID))

	accepted := e.Confirm(res.ConfirmationToken, true)
	require.True(t, accepted.Success)
	assert.Equal(t, "Done", taskStatus(t, s, newer.ID))
	assert.Equal(t, "Todo", taskStatus(t, s, older.ID))
	assert.False(t, e.AwaitingConfirmation())
}

func TestConfirmRejectLeavesStateUntouched(t *testing.T) {
	e, s := newTestEngine(t)
	task, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindDelete, Query: "ship deadline"})
	require.True(t, res.RequiresConfirmation)

	canceled := e.Confirm(res.ConfirmationToken, false)
	assert.True(t, canceled.Success)
	assert.Contains(t, canceled.Message, "canceled")
	assert.False(t, e.AwaitingConfirmation())

	got := s.Item(task.ID)
	require.NotNil(t, got)
	assert.False(t, got.Archived)
	assert.Empty(t, e.RecentAudit(0), "canceled commands never reach the audit log")
}

func TestDeleteAlwaysConfirmsEvenWhenUnique(t *testing.T) {
	e, s := newTestEngine(t)
	task, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindDelete, Query: "ship deadline"})
	require.True(t, res.RequiresConfirmation)
	assert.Contains(t, res.Message, "destructive action")

	confirmed := e.Confirm(res.ConfirmationToken, true)
	require.True(t, confirmed.Success)

	got := s.Item(task.ID)
	require.NotNil(t, got, "delete archives, it does not remove")
	assert.True(t, got.Archived)
}

func TestConfirmAfterTargetRemoved(t *testing.T) {
	e, s := newTestEngine(t)
	older, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)
	newer, err := s.CreateTask("Ship checklist", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindMove, Query: "ship", TargetStatus: "Done"})
	require.True(t, res.RequiresConfirmation)
	assert.Equal(t, newer.ID, res.ItemID)

	// The pre-selected target is hard-removed while the command waits.
	require.NoError(t, s.RemoveItem(newer.ID))

	confirmed := e.Confirm(res.ConfirmationToken, true)
	assert.False(t, confirmed.Success)
	assert.Contains(t, confirmed.Message, "no longer exists")
	assert.False(t, e.AwaitingConfirmation())
	assert.Equal(t, "Todo", taskStatus(t, s, older.ID), "the surviving candidate is left alone")
}

func TestConfirmWithStaleToken(t *testing.T) {
	e, s := newTestEngine(t)
	_, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindDelete, Query: "ship deadline"})
	require.True(t, res.RequiresConfirmation)

	stale := e.Confirm("not-the-token", true)
	assert.False(t, stale.Success)
	assert.Contains(t, stale.Message, "nothing pending")
	assert.True(t, e.AwaitingConfirmation(), "wrong token leaves the pending command in place")
}

// =============================================================================
// Rollback
// =============================================================================

func TestRollbackRestoresPreStateExactly(t *testing.T) {
	e, s := newTestEngine(t)
	task, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)
	before := s.Item(task.ID)

	res := e.Execute(Request{Kind: KindMove, Query: "ship deadline", TargetStatus: "Done"})
	require.True(t, res.Success)
	moved := s.Item(task.ID)
	assert.Greater(t, moved.UpdatedAt, before.UpdatedAt)

	rb := e.RollbackLastAction()
	require.True(t, rb.Success)

	restored := s.Item(task.ID)
	assert.Equal(t, "Todo", taskStatus(t, s, task.ID))
	assert.Equal(t, before.UpdatedAt, restored.UpdatedAt, "pre-state timestamps come back verbatim")

	audit := e.RecentAudit(1)
	require.Len(t, audit, 1)
	assert.Equal(t, AuditRolledBack, audit[0].Status)
}

func TestRollbackCreateRemovesTheItem(t *testing.T) {
	e, s := newTestEngine(t)

	res := e.Execute(Request{Kind: KindCreateTask, DatabaseID: "tasks", Title: "Scratch task"})
	require.True(t, res.Success)

	rb := e.RollbackLastAction()
	require.True(t, rb.Success)
	assert.Nil(t, s.Item(res.ItemID))
}

func TestRollbackIsSingleLevel(t *testing.T) {
	e, s := newTestEngine(t)
	_, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)

	res := e.Execute(Request{Kind: KindMove, Query: "ship deadline", TargetStatus: "Done"})
	require.True(t, res.Success)

	require.True(t, e.RollbackLastAction().Success)

	again := e.RollbackLastAction()
	assert.False(t, again.Success)
	assert.Contains(t, again.Message, "already rolled back")
}

func TestRollbackWithEmptyAudit(t *testing.T) {
	e, _ := newTestEngine(t)
	res := e.RollbackLastAction()
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "nothing to roll back")
}

// =============================================================================
// Observability
// =============================================================================

func TestEventsFeedRecordsOutcomes(t *testing.T) {
	e, s := newTestEngine(t)
	_, err := s.CreateTask("Ship deadline", "tasks", "Todo")
	require.NoError(t, err)

	e.Execute(Request{Kind: KindMove, Query: "no such thing", TargetStatus: "Done"})
	e.Execute(Request{Kind: KindMove, Query: "ship deadline", TargetStatus: "Done"})

	events := e.Events()
	require.Len(t, events, 2)
	assert.False(t, events[0].Success)
	assert.Equal(t, "no matching target", events[0].Reason)
	assert.True(t, events[1].Success)
}

func TestRecentAuditNewestFirst(t *testing.T) {
	e, _ := newTestEngine(t)

	first := e.Execute(Request{Kind: KindCreateTask, DatabaseID: "tasks", Title: "First"})
	require.True(t, first.Success)
	second := e.Execute(Request{Kind: KindCreateTask, DatabaseID: "tasks", Title: "Second"})
	require.True(t, second.Success)

	audit := e.RecentAudit(0)
	require.Len(t, audit, 2)
	assert.Equal(t, second.ItemID, audit[0].ItemID)
	assert.Equal(t, first.ItemID, audit[1].ItemID)
}
