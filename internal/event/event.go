package event

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// Done is returned by Iterator.Next when the sequence is exhausted
var Done = iterator.Done

// namespace for event ids derived from the natural key
var idNamespace = uuid.MustParse("5c3f3c7e-8d4b-4a43-9b55-2f1f0b1c9e21")

// Event represents one warehouse row
type Event struct {
	EventID        string          `json:"event_id"`
	Name           string          `json:"event_name"`
	Timestamp      time.Time       `json:"event_timestamp"`
	UserID         string          `json:"user_id"`
	SessionID      string          `json:"session_id,omitempty"`
	Data           json.RawMessage `json:"event_data,omitempty"`
	UserProperties json.RawMessage `json:"user_properties,omitempty"`
	DeviceInfo     json.RawMessage `json:"device_info,omitempty"`
}

// Key is the natural key of an event
type Key struct {
	UserID    string
	Timestamp int64 // microseconds since epoch, the warehouse resolution
	Name      string
}

// Key returns the natural key of the event
func (e Event) Key() Key {
	return Key{
		UserID:    e.UserID,
		Timestamp: e.Timestamp.UnixMicro(),
		Name:      e.Name,
	}
}

// DeriveID returns the deterministic event id for a natural key
func DeriveID(k Key) string {
	name := k.UserID + "\x00" + strconv.FormatInt(k.Timestamp, 10) + "\x00" + k.Name
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// Iterator is a lazy sequence of events. Next returns Done after the last event.
type Iterator interface {
	Next() (Event, error)
}

// SliceIterator iterates over an in-memory slice
type SliceIterator struct {
	events []Event
	pos    int
}

// NewSliceIterator creates an iterator over events
func NewSliceIterator(events []Event) *SliceIterator {
	return &SliceIterator{events: events}
}

func (it *SliceIterator) Next() (Event, error) {
	if it.pos >= len(it.events) {
		return Event{}, Done
	}
	e := it.events[it.pos]
	it.pos++
	return e, nil
}
