// Package archive provides SQLite-backed history storage: temporal page
// version snapshots behind store.VersionArchive, plus a durable audit
// trail. Uses ncruces/go-sqlite3/driver through database/sql.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kittclouds/workbench/internal/store"
)

// SQLiteArchive stores item version history with the temporal table
// pattern: composite (item_id, version) key, is_current flag, and
// valid_from/valid_to bounds.
type SQLiteArchive struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS item_versions (
    item_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    payload TEXT NOT NULL,
    reason TEXT,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    is_current INTEGER DEFAULT 1,
    PRIMARY KEY (item_id, version)
);

CREATE INDEX IF NOT EXISTS idx_versions_current ON item_versions(item_id) WHERE is_current = 1;

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    at INTEGER NOT NULL,
    intent TEXT NOT NULL,
    item_id TEXT,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    pre_state TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at);
`

// NewSQLiteArchive opens (or creates) an archive database. Use ":memory:"
// for throwaway instances.
func NewSQLiteArchive(dsn string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// =============================================================================
// Version history
// =============================================================================

// SaveVersion closes the current row for the item and inserts the next
// version with the item's full JSON payload. Returns the new version number.
func (a *SQLiteArchive) SaveVersion(item *store.WorkspaceItem, reason string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	payload, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("archive: encode item %q: %w", item.ID, err)
	}
	now := time.Now().UnixMilli()

	var current int
	err = a.db.QueryRow(`
		SELECT version FROM item_versions
		WHERE item_id = ? AND is_current = 1
	`, item.ID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("archive: read current version of %q: %w", item.ID, err)
	}
	if err == nil {
		if _, err := a.db.Exec(`
			UPDATE item_versions SET valid_to = ?, is_current = 0
			WHERE item_id = ? AND is_current = 1
		`, now, item.ID); err != nil {
			return 0, fmt.Errorf("archive: close version %d of %q: %w", current, item.ID, err)
		}
	}

	next := current + 1
	if _, err := a.db.Exec(`
		INSERT INTO item_versions (item_id, version, payload, reason, valid_from, valid_to, is_current)
		VALUES (?, ?, ?, ?, ?, NULL, 1)
	`, item.ID, next, string(payload), reason, now); err != nil {
		return 0, fmt.Errorf("archive: insert version %d of %q: %w", next, item.ID, err)
	}
	return next, nil
}

// Version retrieves one snapshot, or nil when it does not exist.
func (a *SQLiteArchive) Version(itemID string, version int) (*store.WorkspaceItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var payload string
	err := a.db.QueryRow(`
		SELECT payload FROM item_versions WHERE item_id = ? AND version = ?
	`, itemID, version).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read version %d of %q: %w", version, itemID, err)
	}
	return decodeItem(itemID, payload)
}

// Versions returns all snapshots of an item, newest first.
func (a *SQLiteArchive) Versions(itemID string) ([]*store.WorkspaceItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT payload FROM item_versions WHERE item_id = ? ORDER BY version DESC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("archive: list versions of %q: %w", itemID, err)
	}
	defer rows.Close()

	var items []*store.WorkspaceItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("archive: scan version of %q: %w", itemID, err)
		}
		item, err := decodeItem(itemID, payload)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CurrentVersion returns the latest version number, 0 when none exist.
func (a *SQLiteArchive) CurrentVersion(itemID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var version int
	err := a.db.QueryRow(`
		SELECT version FROM item_versions WHERE item_id = ? AND is_current = 1
	`, itemID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("archive: read current version of %q: %w", itemID, err)
	}
	return version, nil
}

func decodeItem(itemID, payload string) (*store.WorkspaceItem, error) {
	var item store.WorkspaceItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, fmt.Errorf("archive: decode item %q: %w", itemID, err)
	}
	return &item, nil
}

// =============================================================================
// Audit trail
// =============================================================================

// AuditRow is one durable audit record. PreState carries the acted-on
// item's full JSON pre-state when the mutation captured one.
type AuditRow struct {
	ID       string
	At       int64
	Intent   string
	ItemID   string
	Kind     string
	Status   string
	PreState string
}

// AppendAudit inserts one audit row.
func (a *SQLiteArchive) AppendAudit(row AuditRow) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(`
		INSERT INTO audit_log (id, at, intent, item_id, kind, status, pre_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.At, row.Intent, row.ItemID, row.Kind, row.Status, row.PreState)
	if err != nil {
		return fmt.Errorf("archive: append audit %q: %w", row.ID, err)
	}
	return nil
}

// RecentAudit returns the newest rows, most recent first.
func (a *SQLiteArchive) RecentAudit(limit int) ([]AuditRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
		SELECT id, at, intent, item_id, kind, status, pre_state
		FROM audit_log ORDER BY at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list audit rows: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var row AuditRow
		var itemID, preState sql.NullString
		if err := rows.Scan(&row.ID, &row.At, &row.Intent, &itemID, &row.Kind, &row.Status, &preState); err != nil {
			return nil, fmt.Errorf("archive: scan audit row: %w", err)
		}
		row.ItemID = itemID.String
		row.PreState = preState.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// Compile-time interface check
var _ store.VersionArchive = (*SQLiteArchive)(nil)
