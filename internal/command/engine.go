package command

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/workbench/internal/archive"
	"github.com/kittclouds/workbench/internal/store"
)

// Kind enumerates the structured mutation requests.
type Kind string

const (
	KindCreateTask Kind = "create-task"
	KindMove       Kind = "move"
	KindRename     Kind = "rename"
	KindDelete     Kind = "delete"
)

// Request is one structured mutation request from a caller (UI or voice
// layer). Query selects targets by title mention; the remaining fields are
// kind-specific.
type Request struct {
	Kind         Kind   `json:"kind"`
	Query        string `json:"query,omitempty"`
	DatabaseID   string `json:"databaseId,omitempty"`
	Title        string `json:"title,omitempty"`
	TargetStatus string `json:"targetStatus,omitempty"`
}

// Result is the outcome of Execute or Confirm. Ambiguity and destructive
// actions surface as RequiresConfirmation, never as errors.
type Result struct {
	Success              bool   `json:"success"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	ConfirmationToken    string `json:"confirmationToken,omitempty"`
	Message              string `json:"message"`
	ItemID               string `json:"itemId,omitempty"`
}

// AuditStatus tracks an audit entry's lifecycle.
type AuditStatus string

const (
	AuditExecuted   AuditStatus = "executed"
	AuditRolledBack AuditStatus = "rolled-back"
)

// AuditEntry captures enough pre-state to reverse one executed mutation.
type AuditEntry struct {
	ID       string               `json:"id"`
	At       int64                `json:"at"`
	Kind     Kind                 `json:"kind"`
	Intent   string               `json:"intent"`
	ItemID   string               `json:"itemId"`
	PreState *store.WorkspaceItem `json:"preState,omitempty"` // nil for creates
	Status   AuditStatus          `json:"status"`
}

// Event is one observability tuple in the append-only recent-events feed.
type Event struct {
	Intent  string `json:"intent"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type state int

const (
	stateIdle state = iota
	stateAwaitingConfirmation
)

// pendingCommand is a resolved plan waiting for an explicit yes/no. It has
// no timeout; callers discard it by simply not confirming, and a newer
// pending command replaces it.
type pendingCommand struct {
	token  string
	req    Request
	target *store.WorkspaceItem
}

// Engine is the command execution state machine: Idle, AwaitingConfirmation,
// Executed (transient). Destructive actions always require confirmation;
// ambiguous selectors pre-select the most recently updated candidate.
type Engine struct {
	mu      sync.Mutex
	store   *store.Store
	archive *archive.SQLiteArchive // optional durable audit sink
	log     *zap.Logger

	state   state
	pending *pendingCommand
	audit   []AuditEntry
	events  []Event
}

// NewEngine creates a command engine over the store. The archive may be nil.
func NewEngine(s *store.Store, a *archive.SQLiteArchive, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, archive: a, log: log}
}

// Execute evaluates a request against current store state. Exactly one
// unambiguous, non-destructive target executes immediately; everything
// else comes back as a confirmation request or a "nothing to act on"
// result. Expected conditions never cross this boundary as errors.
func (e *Engine) Execute(req Request) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	intent := string(req.Kind)

	if req.Kind == KindCreateTask {
		return e.executeLocked(req, nil)
	}

	candidates := e.resolveLocked(req)
	switch {
	case len(candidates) == 0:
		e.record(intent, false, "no matching target")
		return Result{Message: fmt.Sprintf("nothing to act on: no item matches %q", req.Query)}
	case len(candidates) > 1 || req.Kind == KindDelete:
		target := MostRecentlyUpdated(candidates)
		token := uuid.NewString()
		e.pending = &pendingCommand{token: token, req: req, target: target}
		e.state = stateAwaitingConfirmation
		reason := "ambiguous target"
		if len(candidates) == 1 {
			reason = "destructive action"
		}
		e.record(intent, false, reason)
		return Result{
			RequiresConfirmation: true,
			ConfirmationToken:    token,
			ItemID:               target.ID,
			Message:              fmt.Sprintf("confirm %s of %q (%s)", req.Kind, target.Title, reason),
		}
	}
	return e.executeLocked(req, candidates[0])
}

// Confirm accepts or cancels the pending command. "yes" executes the
// pre-selected default; "no" returns to Idle without mutation.
func (e *Engine) Confirm(token string, accept bool) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateAwaitingConfirmation || e.pending == nil || e.pending.token != token {
		e.record("confirm", false, "no matching pending command")
		return Result{Message: "nothing pending for that confirmation"}
	}

	pending := e.pending
	e.pending = nil
	e.state = stateIdle

	if !accept {
		e.record(string(pending.req.Kind), false, "canceled")
		return Result{Success: true, Message: fmt.Sprintf("canceled %s of %q", pending.req.Kind, pending.target.Title)}
	}
	return e.executeLocked(pending.req, pending.target)
}

// resolveLocked finds candidate targets for a selector-carrying request.
func (e *Engine) resolveLocked(req Request) []*store.WorkspaceItem {
	var items []*store.WorkspaceItem
	if req.DatabaseID != "" {
		items = e.store.Items(req.DatabaseID)
	} else {
		items = e.store.AllItems()
	}
	return NewTitleIndex(items).Resolve(req.Query)
}

// executeLocked performs the mutation and records the audit entry.
// Transitions Idle → Executed → Idle.
func (e *Engine) executeLocked(req Request, target *store.WorkspaceItem) Result {
	intent := string(req.Kind)

	var preState *store.WorkspaceItem
	if target != nil {
		preState = e.store.Item(target.ID) // full pre-state deep copy
		if preState == nil {
			// The target vanished while the command waited on confirmation.
			e.record(intent, false, "target no longer exists")
			return Result{Message: fmt.Sprintf("nothing to act on: %q no longer exists", target.Title)}
		}
	}

	var itemID, message string
	var err error
	switch req.Kind {
	case KindCreateTask:
		var task *store.WorkspaceItem
		task, err = e.store.CreateTask(req.Title, req.DatabaseID, req.TargetStatus)
		if err == nil {
			itemID = task.ID
			message = fmt.Sprintf("created %q", task.Title)
		}
	case KindMove:
		itemID = target.ID
		err = e.moveItem(target, req.TargetStatus)
		message = fmt.Sprintf("moved %q to %s", target.Title, req.TargetStatus)
	case KindRename:
		itemID = target.ID
		renamed := e.store.Item(target.ID)
		renamed.Title = req.Title
		err = e.store.UpdateItem(renamed)
		message = fmt.Sprintf("renamed %q to %q", target.Title, req.Title)
	case KindDelete:
		itemID = target.ID
		err = e.store.DeleteItem(target.ID)
		message = fmt.Sprintf("deleted %q", target.Title)
	default:
		e.record(intent, false, "unknown kind")
		return Result{Message: fmt.Sprintf("unknown command kind %q", req.Kind)}
	}

	if err != nil {
		e.record(intent, false, err.Error())
		e.log.Error("command failed", zap.String("kind", intent), zap.Error(err))
		return Result{Message: err.Error()}
	}

	entry := AuditEntry{
		ID:       uuid.NewString(),
		At:       time.Now().UnixMilli(),
		Kind:     req.Kind,
		Intent:   intent,
		ItemID:   itemID,
		PreState: preState,
		Status:   AuditExecuted,
	}
	e.audit = append(e.audit, entry)
	e.appendDurableAudit(entry)
	e.record(intent, true, "")
	e.state = stateIdle
	return Result{Success: true, ItemID: itemID, Message: message}
}

// moveItem sets the status property on the target's database schema.
func (e *Engine) moveItem(target *store.WorkspaceItem, status string) error {
	db := e.store.Database(target.DatabaseID)
	if db == nil {
		return fmt.Errorf("move: item %q belongs to no database", target.Title)
	}
	def := db.StatusProperty()
	if def == nil {
		return fmt.Errorf("move: database %q has no status property", db.Name)
	}
	item := e.store.Item(target.ID)
	item.SetProperty(def, store.SelectValue(status))
	return e.store.UpdateItem(item)
}

// =============================================================================
// Rollback
// =============================================================================

// RollbackLastAction reverses exactly the most recent executed entry and
// marks it rolled-back. Single-level: a second call with nothing pending
// reports failure, it does not crash.
func (e *Engine) RollbackLastAction() Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.audit) == 0 {
		e.record("rollback", false, "nothing to roll back")
		return Result{Message: "nothing to roll back"}
	}
	entry := &e.audit[len(e.audit)-1]
	if entry.Status != AuditExecuted {
		e.record("rollback", false, "last action already rolled back")
		return Result{Message: "last action already rolled back"}
	}

	switch entry.Kind {
	case KindCreateTask:
		if err := e.store.RemoveItem(entry.ItemID); err != nil {
			e.record("rollback", false, err.Error())
			return Result{Message: err.Error()}
		}
	default:
		// Restore the captured pre-state verbatim, timestamps included.
		if entry.PreState == nil {
			e.record("rollback", false, "no pre-state captured")
			return Result{Message: "no pre-state captured for last action"}
		}
		e.store.RestoreItem(entry.PreState)
	}

	entry.Status = AuditRolledBack
	e.appendDurableAudit(*entry)
	e.record("rollback", true, "")
	e.log.Info("rolled back last action",
		zap.String("kind", string(entry.Kind)), zap.String("item", entry.ItemID))
	return Result{Success: true, ItemID: entry.ItemID, Message: fmt.Sprintf("rolled back %s", entry.Kind)}
}

// RecentAudit returns the newest audit entries, most recent first.
func (e *Engine) RecentAudit(limit int) []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.audit) {
		limit = len(e.audit)
	}
	out := make([]AuditEntry, 0, limit)
	for i := len(e.audit) - 1; i >= len(e.audit)-limit; i-- {
		out = append(out, e.audit[i])
	}
	return out
}

// Events returns the append-only recent-events feed, oldest first.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// AwaitingConfirmation reports whether a command is pending a yes/no.
func (e *Engine) AwaitingConfirmation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateAwaitingConfirmation
}

func (e *Engine) record(intent string, success bool, reason string) {
	e.events = append(e.events, Event{Intent: intent, Success: success, Reason: reason})
}

// appendDurableAudit mirrors the entry into the SQLite audit table when an
// archive is attached. Best effort: a sink failure is logged, not fatal.
func (e *Engine) appendDurableAudit(entry AuditEntry) {
	if e.archive == nil {
		return
	}
	var preState string
	if entry.PreState != nil {
		if data, err := json.Marshal(entry.PreState); err == nil {
			preState = string(data)
		}
	}
	err := e.archive.AppendAudit(archive.AuditRow{
		ID:       entry.ID + "/" + string(entry.Status),
		At:       entry.At,
		Intent:   entry.Intent,
		ItemID:   entry.ItemID,
		Kind:     string(entry.Kind),
		Status:   string(entry.Status),
		PreState: preState,
	})
	if err != nil {
		e.log.Warn("audit sink write failed", zap.Error(err))
	}
}
