package schema

import (
	"strings"
	"time"
)

// Document filenames. They are part of the storage contract and must not
// change.
const (
	ClientsFile     = "clients.json"
	EntitiesFile    = "entities.json"
	TasksFile       = "tasks.json"
	CyclesFile      = "cycles.json"
	IssuesFile      = "pdca-issues.json"
	LegacyCycleFile = "pdca-cycles.json"
	MasterDataFile  = "master-data.json"
	AllTasksFile    = "all-tasks.json"
	AllCyclesFile   = "all-cycles.json"
	UnifiedDataFile = "unified_data.json"
)

// MasterDataVersion is the static version tag of master-data.json.
const MasterDataVersion = "1.0"

// DateLayout is the calendar date format used by date fields.
const DateLayout = "2006-01-02"

// Stamp formats t as a stored timestamp (UTC, RFC 3339 with nanoseconds).
// Trailing zeros of the fraction are dropped, so stamps do not sort as text;
// compare them with CompareStamps.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Layouts accepted by ParseStamp. Older tools wrote local times without a
// zone.
var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	DateLayout,
}

// ParseStamp parses a stored timestamp. A timestamp without a zone is read
// as UTC.
func ParseStamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CompareStamps orders two stored timestamps by the instant they name.
// Timestamps that do not parse sort after those that do, and by text among
// themselves.
func CompareStamps(a, b string) int {
	ta, okA := ParseStamp(a)
	tb, okB := ParseStamp(b)
	switch {
	case okA && okB:
		return ta.Compare(tb)
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

// DatePortion returns the calendar date of an ISO-like timestamp, or "" if
// ts does not start with one.
//
//	DatePortion("2024-01-10T09:30:00")  // "2024-01-10"
//	DatePortion("2024-01-10")           // "2024-01-10"
//	DatePortion("yesterday")            // ""
func DatePortion(ts string) string {
	ts = strings.TrimSpace(ts)
	if len(ts) < len(DateLayout) {
		return ""
	}
	d := ts[:len(DateLayout)]
	if _, err := time.Parse(DateLayout, d); err != nil {
		return ""
	}
	return d
}

// IsDate reports whether s is a YYYY-MM-DD calendar date.
func IsDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
