package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Status is the state of a task, issue or cycle.
type Status string

const (
	StatusOpen   Status = "open"
	StatusDoing  Status = "doing"
	StatusDone   Status = "done"
	StatusPaused Status = "paused"
)

var statuses = []Status{StatusOpen, StatusDoing, StatusDone, StatusPaused}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, v := range statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", invalid("status", "must be one of %s (got %q)", statusList(), s)
	}
	return st, nil
}

func statusList() string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// MaxTitleLength is the longest accepted task title, in characters.
const MaxTitleLength = 200

// Task is the canonical work item. Encode it with ToShard or ToMasterIssue.
type Task struct {
	ID         string
	ClientID   string
	EntityID   string
	EntityName string
	Title      string
	Status     Status
	Date       string
	CreatedAt  string
	UpdatedAt  string

	// Extra carries stored members the model does not declare.
	Extra Extra
}

// Validate checks a task before it is written.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return invalid("id", "is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return invalid("title", "is required")
	}
	if n := utf8.RuneCountInString(t.Title); n > MaxTitleLength {
		return invalid("title", "must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	if !t.Status.IsValid() {
		return invalid("status", "must be one of %s (got %q)", statusList(), t.Status)
	}
	if t.Date != "" && !IsDate(t.Date) {
		return invalid("date", "must be YYYY-MM-DD (got %q)", t.Date)
	}
	return nil
}

func (t Task) String() string {
	return fmt.Sprintf("%s [%s] %s", t.ID, t.Status, t.Title)
}

// ShardTask is the encoding of a Task in tasks.json and all-tasks.json.
type ShardTask struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityName string `json:"entity_name"`
	Title      string `json:"title"`
	Status     Status `json:"status"`
	Date       string `json:"date"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`

	Extra Extra `json:"-"`
}

type shardTask ShardTask

func (s ShardTask) MarshalJSON() ([]byte, error) { return encodeExtra(shardTask(s), s.Extra) }

func (s *ShardTask) UnmarshalJSON(data []byte) error {
	var known shardTask
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*s = ShardTask(known)
	s.Extra = extra
	return nil
}

// ToShard encodes t for a shard.
func (t Task) ToShard() ShardTask {
	return ShardTask(t)
}

// ToTask decodes a shard entry.
func (s ShardTask) ToTask() Task {
	return Task(s)
}

// MasterIssue is the encoding of a Task as an issue in master-data.json:
// a PdcaIssue enriched with entity_name and date.
type MasterIssue struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	EntityID   string `json:"entity_id,omitempty"`
	Title      string `json:"title"`
	Status     Status `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
	EntityName string `json:"entity_name"`
	Date       string `json:"date"`

	Extra Extra `json:"-"`
}

type masterIssue MasterIssue

func (m MasterIssue) MarshalJSON() ([]byte, error) { return encodeExtra(masterIssue(m), m.Extra) }

func (m *MasterIssue) UnmarshalJSON(data []byte) error {
	var known masterIssue
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*m = MasterIssue(known)
	m.Extra = extra
	return nil
}

// ToMasterIssue encodes t as a master-data issue.
func (t Task) ToMasterIssue() MasterIssue {
	return MasterIssue{
		ID:         t.ID,
		ClientID:   t.ClientID,
		EntityID:   t.EntityID,
		Title:      t.Title,
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		EntityName: t.EntityName,
		Date:       t.Date,
		Extra:      t.Extra,
	}
}

// ToTask decodes a master-data issue.
func (m MasterIssue) ToTask() Task {
	return Task{
		ID:         m.ID,
		ClientID:   m.ClientID,
		EntityID:   m.EntityID,
		EntityName: m.EntityName,
		Title:      m.Title,
		Status:     m.Status,
		Date:       m.Date,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Extra:      m.Extra,
	}
}

// Enrich builds the master-data issue for a legacy issue.
func (p PdcaIssue) Enrich(entityName, date string) MasterIssue {
	return MasterIssue{
		ID:         p.ID,
		ClientID:   p.ClientID,
		EntityID:   p.EntityID,
		Title:      p.Title,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
		EntityName: entityName,
		Date:       date,
		Extra:      p.Extra,
	}
}
