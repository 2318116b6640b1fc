package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions. Scan is on pointer receivers; Value is
// on value receivers.
var (
	_ sql.Scanner   = (*BroadcastStats)(nil)
	_ driver.Valuer = BroadcastStats(nil)
	_ sql.Scanner   = (*RecipientFilter)(nil)
	_ driver.Valuer = RecipientFilter{}
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil,
// []byte, and string representations.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// BroadcastStats is the aggregate counter snapshot stored on a broadcast row.
//
// It is an open map rather than a fixed struct because the queue processor
// owns only the sent/failed/total keys; open/click counters are written by
// the tracking endpoints under other keys and must survive a recompute.
type BroadcastStats map[string]any

// Scan implements sql.Scanner for reading JSONB from the database.
func (s *BroadcastStats) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return scanJSONB(s, value)
}

// Value implements driver.Valuer for writing JSONB to the database.
func (s BroadcastStats) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Merge returns a copy of s with the delivery counters replaced. Keys other
// than sent/failed/total are preserved unchanged, so repeated recomputes with
// identical counts are idempotent.
func (s BroadcastStats) Merge(sent, failed, total int) BroadcastStats {
	merged := make(BroadcastStats, len(s)+3)
	for k, v := range s {
		merged[k] = v
	}
	merged["sent"] = sent
	merged["failed"] = failed
	merged["total"] = total
	return merged
}

// Count reads an integer counter from the stats map, tolerating the float64
// representation produced by JSON decoding. Missing or non-numeric keys
// count as zero.
func (s BroadcastStats) Count(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// RecipientFilter narrows the audience of a broadcast. An empty filter means
// all active subscribers. Materialization applies the tag filter when
// expanding a broadcast into jobs.
type RecipientFilter struct {
	Tags []string `json:"tags,omitempty"`
}

// Scan implements sql.Scanner for reading JSONB from the database.
func (f *RecipientFilter) Scan(value interface{}) error {
	if value == nil {
		*f = RecipientFilter{}
		return nil
	}
	return scanJSONB(f, value)
}

// Value implements driver.Valuer for writing JSONB to the database.
func (f RecipientFilter) Value() (driver.Value, error) {
	return json.Marshal(f)
}
