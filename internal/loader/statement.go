package loader

import (
	"fmt"
	"strings"

	"bq2pg/internal/event"
)

// columnsPerRow is the number of bind parameters one event needs
const columnsPerRow = 8

// MaxBatchSize keeps a single statement under PostgreSQL's 65535 bind parameters
const MaxBatchSize = 8000

var insertColumns = []string{
	"event_id",
	"event_name",
	"event_timestamp",
	"user_id",
	"session_id",
	"event_data",
	"user_properties",
	"device_info",
}

// upsertSQL renders the multi-row upsert for n events. Rows whose payload is
// unchanged are left untouched and are not returned; for returned rows
// xmax = 0 tells an insert from an update.
func upsertSQL(table string, n int) string {
	var sb strings.Builder
	sb.Grow(256 + n*64)

	fmt.Fprintf(&sb, "INSERT INTO %s AS t (%s) VALUES ", table, strings.Join(insertColumns, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * columnsPerRow
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d::jsonb, $%d::jsonb)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
	}
	sb.WriteString(`
ON CONFLICT (user_id, event_timestamp, event_name) DO UPDATE SET
    session_id = EXCLUDED.session_id,
    event_data = EXCLUDED.event_data,
    user_properties = EXCLUDED.user_properties,
    device_info = EXCLUDED.device_info
WHERE (t.session_id, t.event_data, t.user_properties, t.device_info)
    IS DISTINCT FROM (EXCLUDED.session_id, EXCLUDED.event_data, EXCLUDED.user_properties, EXCLUDED.device_info)
RETURNING (xmax = 0) AS inserted`)
	return sb.String()
}

// upsertArgs flattens events into bind parameters in insertColumns order
func upsertArgs(events []event.Event) []interface{} {
	args := make([]interface{}, 0, len(events)*columnsPerRow)
	for _, e := range events {
		id := e.EventID
		if id == "" {
			id = event.DeriveID(e.Key())
		}
		args = append(args,
			id,
			e.Name,
			e.Timestamp.UTC(),
			e.UserID,
			nullableString(e.SessionID),
			nullableJSON(e.Data),
			nullableJSON(e.UserProperties),
			nullableJSON(e.DeviceInfo),
		)
	}
	return args
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// JSON is sent as text so the driver does not encode it as bytea
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// dedupe collapses events sharing a natural key, keeping the last occurrence
// at the position of the first. It returns the number of events dropped.
func dedupe(events []event.Event) ([]event.Event, int) {
	index := make(map[event.Key]int, len(events))
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out, len(events) - len(out)
}
