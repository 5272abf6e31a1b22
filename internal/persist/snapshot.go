package persist

import (
	"encoding/json"
	"fmt"

	"github.com/kittclouds/workbench/internal/store"
)

// CurrentSchemaVersion is the snapshot shape this build reads and writes.
// Version 1 predates item types, the archived flag, and session update
// timestamps.
const CurrentSchemaVersion = 2

// Snapshot is the full durable state of one workspace.
type Snapshot struct {
	SchemaVersion int                    `json:"schemaVersion"`
	SavedAt       int64                  `json:"savedAt"`
	Items         []*store.WorkspaceItem `json:"items"`
	Databases     []*store.Database      `json:"databases"`
	Sessions      []*store.Session       `json:"sessions"`
}

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// decodeSnapshot reads a snapshot at the current version. It returns the
// stored version so callers can route older files through migration.
func decodeSnapshot(data []byte) (*Snapshot, int, error) {
	var header struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, 0, fmt.Errorf("persist: decode snapshot header: %w", err)
	}
	if header.SchemaVersion == 0 {
		header.SchemaVersion = 1
	}
	if header.SchemaVersion < CurrentSchemaVersion {
		return nil, header.SchemaVersion, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, header.SchemaVersion, fmt.Errorf("persist: decode v%d snapshot: %w", header.SchemaVersion, err)
	}
	return &snap, header.SchemaVersion, nil
}

// =============================================================================
// Version 1 shapes
// =============================================================================

type itemV1 struct {
	ID         string                         `json:"id"`
	Title      string                         `json:"title"`
	ParentID   string                         `json:"parentId,omitempty"`
	DatabaseID string                         `json:"databaseId,omitempty"`
	Properties map[string]store.PropertyValue `json:"properties,omitempty"`
	Blocks     []store.Block                  `json:"blocks,omitempty"`
	Favorite   bool                           `json:"favorite"`
	Deleted    bool                           `json:"deleted"`
	SessionID  string                         `json:"sessionId,omitempty"`
	CreatedAt  int64                          `json:"createdAt"`
	UpdatedAt  int64                          `json:"updatedAt"`
}

type sessionV1 struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	StartedAt       int64  `json:"startedAt"`
	MarkdownSummary string `json:"markdownSummary,omitempty"`
	FolderID        string `json:"folderId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
}

type snapshotV1 struct {
	SchemaVersion int               `json:"schemaVersion"`
	SavedAt       int64             `json:"savedAt"`
	Items         []itemV1          `json:"items"`
	Databases     []*store.Database `json:"databases"`
	Sessions      []sessionV1       `json:"sessions"`
}

// migrateSnapshot re-materializes an old snapshot field-by-field: added
// fields get defaults, removed fields are dropped, and foreign keys that
// resolve to nothing (a session's folder reference) are preserved as-is
// since the referent may reappear.
func migrateSnapshot(data []byte, fromVersion int) (*Snapshot, error) {
	if fromVersion != 1 {
		return nil, fmt.Errorf("no migration path from version %d", fromVersion)
	}

	var old snapshotV1
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("decode v1 snapshot: %w", err)
	}

	snap := &Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       old.SavedAt,
		Databases:     old.Databases,
	}
	for _, it := range old.Items {
		migrated := &store.WorkspaceItem{
			ID:         it.ID,
			Title:      it.Title,
			Type:       inferItemType(it),
			ParentID:   it.ParentID,
			DatabaseID: it.DatabaseID,
			Properties: it.Properties,
			Blocks:     it.Blocks,
			Favorite:   it.Favorite,
			Archived:   it.Deleted, // v1 "deleted" becomes the archive flag
			SessionID:  it.SessionID,
			CreatedAt:  it.CreatedAt,
			UpdatedAt:  it.UpdatedAt,
		}
		snap.Items = append(snap.Items, migrated)
	}
	for _, sess := range old.Sessions {
		snap.Sessions = append(snap.Sessions, &store.Session{
			ID:              sess.ID,
			Title:           sess.Title,
			StartedAt:       sess.StartedAt,
			MarkdownSummary: sess.MarkdownSummary,
			FolderID:        sess.FolderID, // kept verbatim even if orphaned
			CreatedAt:       sess.CreatedAt,
			UpdatedAt:       sess.CreatedAt,
		})
	}
	return snap, nil
}

// inferItemType backfills the type field v1 records never had.
func inferItemType(it itemV1) store.ItemType {
	switch {
	case it.SessionID != "":
		return store.ItemTypeSession
	case it.DatabaseID != "":
		return store.ItemTypeDatabaseRow
	}
	return store.ItemTypePage
}
