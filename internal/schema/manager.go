package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/postgres"
)

// Column describes one expected column of the events table
type Column struct {
	Name       string
	Definition string
	// Accepted lists the information_schema data_type values that are compatible
	Accepted []string
}

// Columns is the layout of the events table, in creation order
var Columns = []Column{
	{Name: "event_id", Definition: "UUID PRIMARY KEY", Accepted: []string{"uuid"}},
	{Name: "event_name", Definition: "TEXT NOT NULL", Accepted: []string{"text", "character varying"}},
	{Name: "event_timestamp", Definition: "TIMESTAMPTZ NOT NULL", Accepted: []string{"timestamp with time zone"}},
	{Name: "user_id", Definition: "TEXT NOT NULL", Accepted: []string{"text", "character varying"}},
	{Name: "session_id", Definition: "TEXT", Accepted: []string{"text", "character varying"}},
	{Name: "event_data", Definition: "JSONB", Accepted: []string{"jsonb", "json"}},
	{Name: "user_properties", Definition: "JSONB", Accepted: []string{"jsonb", "json"}},
	{Name: "device_info", Definition: "JSONB", Accepted: []string{"jsonb", "json"}},
	{Name: "created_at", Definition: "TIMESTAMPTZ NOT NULL DEFAULT now()", Accepted: []string{"timestamp with time zone", "timestamp without time zone"}},
}

// Manager creates and verifies the events table
type Manager struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewManager creates a schema manager for table
func NewManager(db *sql.DB, table string, logger *zap.Logger) (*Manager, error) {
	if err := postgres.ValidateTableName(table); err != nil {
		return nil, etlerr.Configuration("schema.new", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, table: table, logger: logger}, nil
}

// Table returns the managed table name
func (m *Manager) Table() string {
	return m.table
}

// CreateTableSQL returns the CREATE TABLE statement
func (m *Manager) CreateTableSQL() string {
	defs := make([]string, 0, len(Columns))
	for _, c := range Columns {
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, c.Definition))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", m.table, strings.Join(defs, ",\n    "))
}

// IndexSQL returns the index statements; the first is the natural key the
// loader's conflict target relies on
func (m *Manager) IndexSQL() []string {
	prefix := postgres.IndexPrefix(m.table)
	return []string{
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_natural_key ON %s (user_id, event_timestamp, event_name)", prefix, m.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_event_timestamp_idx ON %s (event_timestamp)", prefix, m.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_user_id_idx ON %s (user_id)", prefix, m.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_event_name_idx ON %s (event_name)", prefix, m.table),
	}
}

// EnsureSchema creates the table when it is absent and otherwise verifies
// that it is compatible. It is safe to call any number of times.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	existing, err := m.columns(ctx)
	if err != nil {
		return postgres.Classify("schema.inspect", err)
	}

	if len(existing) == 0 {
		m.logger.Info("Creating events table", zap.String("table", m.table))
		return m.create(ctx)
	}

	if err := verify(existing); err != nil {
		return etlerr.Configuration("schema.verify", fmt.Errorf("table %s: %w", m.table, err))
	}

	for _, stmt := range m.IndexSQL() {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return postgres.Classify("schema.index", err)
		}
	}

	m.logger.Debug("Events table verified", zap.String("table", m.table))
	return nil
}

func (m *Manager) columns(ctx context.Context) (map[string]string, error) {
	schemaName, table := postgres.SplitTableName(m.table)

	rows, err := m.db.QueryContext(ctx, `
	SELECT column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
	  AND table_name = $2`, strings.ToLower(schemaName), strings.ToLower(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func (m *Manager) create(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return postgres.Classify("schema.create", err)
	}
	defer tx.Rollback()

	stmts := append([]string{m.CreateTableSQL()}, m.IndexSQL()...)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return postgres.Classify("schema.create", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return postgres.Classify("schema.create", err)
	}
	return nil
}

func verify(existing map[string]string) error {
	var problems []string
	for _, c := range Columns {
		got, ok := existing[c.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing column %s", c.Name))
			continue
		}
		if !accepted(c.Accepted, got) {
			problems = append(problems, fmt.Sprintf("column %s has type %s, want %s", c.Name, got, strings.Join(c.Accepted, " or ")))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("incompatible schema: %s", strings.Join(problems, "; "))
}

func accepted(types []string, got string) bool {
	for _, t := range types {
		if strings.EqualFold(t, got) {
			return true
		}
	}
	return false
}
