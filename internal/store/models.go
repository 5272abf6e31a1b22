// Package store provides the relational document model for Workbench:
// workspace items, databases with typed property schemas, views, and the
// canonical in-memory store all mutations flow through.
package store

// ItemType distinguishes the three kinds of workspace items.
type ItemType string

const (
	ItemTypePage        ItemType = "page"
	ItemTypeDatabaseRow ItemType = "database-row"
	ItemTypeSession     ItemType = "session"
)

// WorkspaceItem is a page, a database row, or a session-linked record.
// Properties are keyed by storage key (see schema.go), never by display name.
type WorkspaceItem struct {
	ID         string                   `json:"id"`
	Title      string                   `json:"title"`
	Type       ItemType                 `json:"type"`
	ParentID   string                   `json:"parentId,omitempty"`
	DatabaseID string                   `json:"databaseId,omitempty"`
	Properties map[string]PropertyValue `json:"properties,omitempty"`
	Blocks     []Block                  `json:"blocks,omitempty"`
	Favorite   bool                     `json:"favorite"`
	Archived   bool                     `json:"archived"`
	SessionID  string                   `json:"sessionId,omitempty"`
	CreatedAt  int64                    `json:"createdAt"`
	UpdatedAt  int64                    `json:"updatedAt"`
}

// Block is a node in a page's content tree. Children enable nested
// structures (toggles, columns, synced mirrors).
type Block struct {
	ID       string            `json:"id"`
	Type     BlockType         `json:"type"`
	Content  string            `json:"content,omitempty"`
	RichText string            `json:"richText,omitempty"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Children []Block           `json:"children,omitempty"`

	// Synced blocks share a group; the source renders, mirrors re-render it.
	SyncGroupID string `json:"syncGroupId,omitempty"`
	SyncRole    string `json:"syncRole,omitempty"` // "source" | "mirror"
}

// BlockType tags the rendering shape of a block.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading1  BlockType = "heading1"
	BlockHeading2  BlockType = "heading2"
	BlockHeading3  BlockType = "heading3"
	BlockBullet    BlockType = "bullet"
	BlockChecklist BlockType = "checklist"
	BlockToggle    BlockType = "toggle"
	BlockColumn    BlockType = "column"
	BlockSynced    BlockType = "synced"
	BlockDivider   BlockType = "divider"
)

// Database is a named collection owning its property schema and views.
// Items reference it by DatabaseID but do not own it.
type Database struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Properties []PropertyDefinition `json:"properties"`
	Views      []DatabaseView       `json:"views,omitempty"`
	Columns    []KanbanColumn       `json:"columns,omitempty"`
	CreatedAt  int64                `json:"createdAt"`
	UpdatedAt  int64                `json:"updatedAt"`
}

// KanbanColumn defines one board column, bound to a status/select value.
type KanbanColumn struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

// PropertyType enumerates the supported property kinds.
type PropertyType string

const (
	PropertyText     PropertyType = "text"
	PropertyNumber   PropertyType = "number"
	PropertySelect   PropertyType = "select"
	PropertyDate     PropertyType = "date"
	PropertyCheckbox PropertyType = "checkbox"
	PropertyRelation PropertyType = "relation"
	PropertyRollup   PropertyType = "rollup"
	PropertyFormula  PropertyType = "formula"
	PropertyStatus   PropertyType = "status"
	PropertyPriority PropertyType = "priority"
	PropertyPerson   PropertyType = "person"
	PropertyURL      PropertyType = "url"
)

// SelectOption is one allowed value of a select/status/priority property.
type SelectOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// PropertyDefinition is one column of a database schema. The storage key
// derived from ID stays stable when Name is edited; records written before
// IDs existed are reachable through the name-derived legacy key.
type PropertyDefinition struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     PropertyType    `json:"type"`
	Options  []SelectOption  `json:"options,omitempty"`
	Relation *RelationConfig `json:"relation,omitempty"`
	Rollup   *RollupConfig   `json:"rollup,omitempty"`
}

// RelationConfig configures a relation-typed property.
type RelationConfig struct {
	TargetDatabaseID  string `json:"targetDatabaseId"`
	IsTwoWay          bool   `json:"isTwoWay"`
	ReversePropertyID string `json:"reversePropertyId,omitempty"`
	ReverseName       string `json:"reverseName,omitempty"`
}

// RollupCalculation names an aggregation over related items.
type RollupCalculation string

const (
	RollupCount       RollupCalculation = "count"
	RollupCountValues RollupCalculation = "count_values"
	RollupSum         RollupCalculation = "sum"
	RollupAverage     RollupCalculation = "average"
	RollupMin         RollupCalculation = "min"
	RollupMax         RollupCalculation = "max"
)

// RollupConfig configures a rollup-typed property: aggregate TargetPropertyID
// across the items reached via RelationPropertyID.
type RollupConfig struct {
	RelationPropertyID string            `json:"relationPropertyId"`
	TargetPropertyID   string            `json:"targetPropertyId"`
	Calculation        RollupCalculation `json:"calculation"`
}

// ViewType enumerates the view presentations. Views are pure derived
// queries; they hold configuration, never item references.
type ViewType string

const (
	ViewTable    ViewType = "table"
	ViewKanban   ViewType = "kanban"
	ViewList     ViewType = "list"
	ViewGallery  ViewType = "gallery"
	ViewCalendar ViewType = "calendar"
)

// DatabaseView holds filter/sort/display configuration for one view.
// A reloaded view must reproduce identical filters, sorts, and grouping.
type DatabaseView struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Type               ViewType     `json:"type"`
	Filters            []ViewFilter `json:"filters,omitempty"`
	Sorts              []ViewSort   `json:"sorts,omitempty"`
	VisiblePropertyIDs []string     `json:"visiblePropertyIds,omitempty"`
	GroupBy            string       `json:"groupBy,omitempty"`
}

// FilterOperation enumerates view filter comparisons.
type FilterOperation string

const (
	FilterEquals     FilterOperation = "equals"
	FilterNotEquals  FilterOperation = "not_equals"
	FilterContains   FilterOperation = "contains"
	FilterBefore     FilterOperation = "before"
	FilterAfter      FilterOperation = "after"
	FilterIsEmpty    FilterOperation = "is_empty"
	FilterIsNotEmpty FilterOperation = "is_not_empty"
)

// ViewFilter compares one property against a value. PropertyID is
// authoritative when present; PropertyName is a display hint that may be
// stale after a rename.
type ViewFilter struct {
	PropertyName string          `json:"propertyName"`
	PropertyID   string          `json:"propertyId,omitempty"`
	Operation    FilterOperation `json:"operation"`
	Value        string          `json:"value"`
}

// ViewSort orders by one property. A sort with no PropertyID and the name
// "Title" compares item titles lexicographically.
type ViewSort struct {
	PropertyName string `json:"propertyName"`
	PropertyID   string `json:"propertyId,omitempty"`
	Ascending    bool   `json:"ascending"`
}

// Session is one recording session whose markdown summary feeds the
// reconciliation sync. FolderID may point at a folder that no longer
// exists; the reference is preserved as-is because the folder may reappear.
type Session struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	StartedAt       int64  `json:"startedAt"`
	MarkdownSummary string `json:"markdownSummary,omitempty"`
	FolderID        string `json:"folderId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}
