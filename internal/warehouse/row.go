package warehouse

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"bq2pg/internal/event"
)

// eventRow mirrors the columns selected by BuildQuery
type eventRow struct {
	EventName      string              `bigquery:"event_name"`
	EventTimestamp time.Time           `bigquery:"event_timestamp"`
	UserID         bigquery.NullString `bigquery:"user_id"`
	SessionID      bigquery.NullString `bigquery:"session_id"`
	EventParams    bigquery.NullString `bigquery:"event_params"`
	UserProperties bigquery.NullString `bigquery:"user_properties"`
	Device         bigquery.NullString `bigquery:"device"`
}

func (r eventRow) toEvent() (event.Event, error) {
	if r.EventName == "" {
		return event.Event{}, fmt.Errorf("row without event_name")
	}
	if !r.UserID.Valid || r.UserID.StringVal == "" {
		return event.Event{}, fmt.Errorf("event %q without user_id", r.EventName)
	}
	if r.EventTimestamp.IsZero() {
		return event.Event{}, fmt.Errorf("event %q without event_timestamp", r.EventName)
	}

	e := event.Event{
		Name:      r.EventName,
		Timestamp: r.EventTimestamp.UTC(),
		UserID:    r.UserID.StringVal,
	}
	if r.SessionID.Valid {
		e.SessionID = r.SessionID.StringVal
	}

	var err error
	if e.Data, err = rawJSON("event_params", r.EventParams); err != nil {
		return event.Event{}, err
	}
	if e.UserProperties, err = rawJSON("user_properties", r.UserProperties); err != nil {
		return event.Event{}, err
	}
	if e.DeviceInfo, err = rawJSON("device", r.Device); err != nil {
		return event.Event{}, err
	}

	e.EventID = event.DeriveID(e.Key())
	return e, nil
}

// rawJSON returns nil for NULL and for the literal null document
func rawJSON(column string, v bigquery.NullString) (json.RawMessage, error) {
	if !v.Valid || v.StringVal == "" || v.StringVal == "null" {
		return nil, nil
	}
	if !json.Valid([]byte(v.StringVal)) {
		return nil, fmt.Errorf("column %s is not valid JSON", column)
	}
	return json.RawMessage(v.StringVal), nil
}
