package warehouse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"bq2pg/internal/window"
)

// shard suffixes of the GA4 export are dates in the property's timezone,
// so the suffix range is padded by a day on each side of the UTC window
const (
	suffixLayout  = "20060102"
	suffixPadding = 24 * time.Hour
)

var (
	projectPattern = regexp.MustCompile(`^[a-z][a-z0-9\-]*(\.[a-z0-9\-]+)?(:[a-z][a-z0-9\-]*)?$`)
	namePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Source identifies the warehouse table to read
type Source struct {
	ProjectID string
	Dataset   string
	// Table is a single table; ignored when TablePrefix is set
	Table string
	// TablePrefix queries the wildcard table <prefix>*, e.g. "events_"
	TablePrefix string
}

// Validate checks the identifiers that have to be interpolated into the query
func (s Source) Validate() error {
	if !projectPattern.MatchString(s.ProjectID) {
		return fmt.Errorf("invalid project id %q", s.ProjectID)
	}
	if !namePattern.MatchString(s.Dataset) {
		return fmt.Errorf("invalid dataset %q", s.Dataset)
	}
	switch {
	case s.TablePrefix != "":
		if !namePattern.MatchString(s.TablePrefix) {
			return fmt.Errorf("invalid table prefix %q", s.TablePrefix)
		}
	case s.Table != "":
		if !namePattern.MatchString(s.Table) {
			return fmt.Errorf("invalid table %q", s.Table)
		}
	default:
		return fmt.Errorf("either table or table prefix is required")
	}
	return nil
}

// Wildcard reports whether the source is a sharded wildcard table
func (s Source) Wildcard() bool {
	return s.TablePrefix != ""
}

// Ref returns the quoted table reference
func (s Source) Ref() string {
	table := s.Table
	if s.Wildcard() {
		table = s.TablePrefix + "*"
	}
	return fmt.Sprintf("`%s.%s.%s`", s.ProjectID, s.Dataset, table)
}

// Query is a SQL statement with its named parameters
type Query struct {
	SQL        string
	Parameters []bigquery.QueryParameter
}

// BuildQuery renders the extraction query for w. Every value is a named
// parameter; only the validated table reference is part of the text.
func BuildQuery(src Source, w window.Window, events []string) (Query, error) {
	if err := src.Validate(); err != nil {
		return Query{}, err
	}
	if w.Empty() {
		return Query{}, fmt.Errorf("window %s is empty", w)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT
  event_name,
  TIMESTAMP_MICROS(event_timestamp) AS event_timestamp,
  user_id,
  CAST((SELECT ep.value.int_value FROM UNNEST(event_params) AS ep WHERE ep.key = 'ga_session_id') AS STRING) AS session_id,
  TO_JSON_STRING(event_params) AS event_params,
  TO_JSON_STRING(user_properties) AS user_properties,
  TO_JSON_STRING(device) AS device
FROM `)
	sb.WriteString(src.Ref())
	sb.WriteString(`
WHERE event_timestamp >= UNIX_MICROS(@since)
  AND event_timestamp < UNIX_MICROS(@until)
  AND user_id IS NOT NULL AND user_id != ''`)

	params := []bigquery.QueryParameter{
		{Name: "since", Value: w.Since.UTC()},
		{Name: "until", Value: w.Until.UTC()},
	}

	if src.Wildcard() {
		from, to := suffixRange(w)
		sb.WriteString("\n  AND _TABLE_SUFFIX BETWEEN @suffix_from AND @suffix_to")
		params = append(params,
			bigquery.QueryParameter{Name: "suffix_from", Value: from},
			bigquery.QueryParameter{Name: "suffix_to", Value: to},
		)
	}

	if len(events) > 0 {
		sb.WriteString("\n  AND event_name IN UNNEST(@event_names)")
		params = append(params, bigquery.QueryParameter{Name: "event_names", Value: events})
	}

	sb.WriteString("\nORDER BY event_timestamp")

	return Query{SQL: sb.String(), Parameters: params}, nil
}

func suffixRange(w window.Window) (string, string) {
	from := w.Since.UTC().Add(-suffixPadding).Format(suffixLayout)
	// Until is exclusive
	to := w.Until.UTC().Add(-time.Microsecond).Add(suffixPadding).Format(suffixLayout)
	return from, to
}
