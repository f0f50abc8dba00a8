package schema

import (
	"strings"
	"unicode/utf8"
)

// Client is one entry of clients.json.
type Client struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	StorageFolderRef string `json:"storage_folder_ref,omitempty"`
	// LegacyFolderRef is the folder field written by older tools.
	LegacyFolderRef string `json:"drive_folder_id,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`

	Extra Extra `json:"-"`
}

type client Client

func (c Client) MarshalJSON() ([]byte, error) { return encodeExtra(client(c), c.Extra) }

func (c *Client) UnmarshalJSON(data []byte) error {
	var known client
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*c = Client(known)
	c.Extra = extra
	return nil
}

// FolderRef returns the client's folder reference, preferring the current
// field over the legacy one.
func (c Client) FolderRef() string {
	if c.StorageFolderRef != "" {
		return c.StorageFolderRef
	}
	return c.LegacyFolderRef
}

// Validate checks a client before it is registered.
func (c *Client) Validate() error {
	if err := validateID(c.ID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	return nil
}

// Entity is one entry of entities.json: a department or store of a client.
type Entity struct {
	ID               string `json:"id"`
	ClientID         string `json:"client_id"`
	Name             string `json:"name"`
	SortOrder        int    `json:"sort_order"`
	StorageFolderRef string `json:"storage_folder_ref,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`

	// Store attributes carried by registered retail clients.
	StoreCode   string `json:"store_code,omitempty"`
	Brand       string `json:"brand,omitempty"`
	BrandName   string `json:"brand_name,omitempty"`
	ManagerName string `json:"manager_name,omitempty"`

	Extra Extra `json:"-"`
}

type entity Entity

func (e Entity) MarshalJSON() ([]byte, error) { return encodeExtra(entity(e), e.Extra) }

func (e *Entity) UnmarshalJSON(data []byte) error {
	var known entity
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*e = Entity(known)
	e.Extra = extra
	return nil
}

// Validate checks an entity before it is registered.
func (e *Entity) Validate() error {
	if err := validateID(e.ID); err != nil {
		return err
	}
	if strings.TrimSpace(e.Name) == "" {
		return invalid("name", "is required")
	}
	if e.SortOrder < 0 {
		return invalid("sort_order", "must not be negative (got %d)", e.SortOrder)
	}
	return nil
}

// validateID checks an id that is also used as a folder name.
func validateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return invalid("id", "is required")
	case id == "." || id == "..", strings.ContainsAny(id, "/\\\x00"):
		return invalid("id", "must not contain path separators (got %q)", id)
	}
	return nil
}

// PdcaIssue is one entry of pdca-issues.json.
type PdcaIssue struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	EntityID  string `json:"entity_id,omitempty"`
	Title     string `json:"title"`
	Status    Status `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`

	Extra Extra `json:"-"`
}

type pdcaIssue PdcaIssue

func (p PdcaIssue) MarshalJSON() ([]byte, error) { return encodeExtra(pdcaIssue(p), p.Extra) }

func (p *PdcaIssue) UnmarshalJSON(data []byte) error {
	var known pdcaIssue
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*p = PdcaIssue(known)
	p.Extra = extra
	return nil
}

// PdcaCycle is one review iteration. It is stored in cycles.json shards,
// the all-cycles.json aggregate, pdca-cycles.json and master-data.json.
type PdcaCycle struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	EntityID  string `json:"entity_id,omitempty"`
	IssueID   string `json:"issue_id,omitempty"`
	CycleDate string `json:"cycle_date"`
	Situation string `json:"situation"`
	Issue     string `json:"issue"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Status    Status `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`

	Extra Extra `json:"-"`
}

type pdcaCycle PdcaCycle

func (c PdcaCycle) MarshalJSON() ([]byte, error) { return encodeExtra(pdcaCycle(c), c.Extra) }

func (c *PdcaCycle) UnmarshalJSON(data []byte) error {
	var known pdcaCycle
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*c = PdcaCycle(known)
	c.Extra = extra
	return nil
}

// Validate checks a cycle before it is written.
func (c *PdcaCycle) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return invalid("id", "is required")
	}
	if c.EntityID == "" && c.IssueID == "" {
		return invalid("entity_id", "entity_id or issue_id is required")
	}
	if !IsDate(c.CycleDate) {
		return invalid("cycle_date", "must be YYYY-MM-DD (got %q)", c.CycleDate)
	}
	if !c.Status.IsValid() {
		return invalid("status", "must be one of %s (got %q)", statusList(), c.Status)
	}
	for field, v := range map[string]string{
		"situation": c.Situation, "issue": c.Issue, "action": c.Action, "target": c.Target,
	} {
		if utf8.RuneCountInString(v) > MaxCycleTextLength {
			return invalid(field, "must be %d characters or less", MaxCycleTextLength)
		}
	}
	return nil
}

// MaxCycleTextLength bounds the free-text fields of a cycle.
const MaxCycleTextLength = 2000

// MasterData is the client-level master-data.json document.
type MasterData struct {
	Version   string        `json:"version"`
	UpdatedAt string        `json:"updated_at"`
	Issues    []MasterIssue `json:"issues"`
	Cycles    []PdcaCycle   `json:"cycles"`
}

// Record is one ingested spreadsheet row. It always carries the provenance
// fields "_sheet" and "_row".
type Record map[string]any

// Provenance field names of a Record.
const (
	SheetField = "_sheet"
	RowField   = "_row"
)

// UnifiedData is the unified_data.json ingestion output.
type UnifiedData struct {
	SourceFile   string   `json:"source_file"`
	ConvertedAt  string   `json:"converted_at"`
	TotalRecords int      `json:"total_records"`
	TotalColumns int      `json:"total_columns"`
	Columns      []string `json:"columns"`
	Data         []Record `json:"data"`
}
