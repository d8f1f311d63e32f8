package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/skoulos/mal_analytics/pkg/models"
)

const schemaVersion = "1.0.0"

const executionTableDDL = `
	CREATE TABLE IF NOT EXISTS mal_execution (
		execution_id   Int64,
		server_session String,
		tag            Int64
	) ENGINE = MergeTree()
	ORDER BY execution_id
`

const eventTableDDL = `
	CREATE TABLE IF NOT EXISTS profiler_event (
		event_id         Int64,
		mal_execution_id Int64,
		pc               Int64,
		execution_state  Nullable(Int32),
		clk              Int64,
		ctime            Int64,
		thread           Int64,
		mal_function     String,
		usec             Int64,
		rss              Int64,
		type_size        Int64,
		long_statement   String,
		short_statement  String
	) ENGINE = MergeTree()
	ORDER BY event_id
`

const prerequisiteTableDDL = `
	CREATE TABLE IF NOT EXISTS prerequisite_events (
		prerequisite_event Int64,
		consequent_event   Int64
	) ENGINE = MergeTree()
	ORDER BY consequent_event
`

const typeTableDDL = `
	CREATE TABLE IF NOT EXISTS mal_type (
		type_id Int64,
		name    String
	) ENGINE = MergeTree()
	ORDER BY type_id
`

const variableTableDDL = `
	CREATE TABLE IF NOT EXISTS mal_variable (
		variable_id      Int64,
		name             String,
		mal_execution_id Int64,
		alias            String,
		type_id          Int64,
		is_persistent    UInt8,
		bid              Int64,
		var_count        Int64,
		var_size         Int64,
		seqbase          Int64,
		hghbase          Int64,
		end_of_life      UInt8
	) ENGINE = MergeTree()
	ORDER BY variable_id
`

const returnListTableDDL = `
	CREATE TABLE IF NOT EXISTS return_variable_list (
		variable_list_index Int64,
		event_id            Int64,
		variable_id         Int64
	) ENGINE = MergeTree()
	ORDER BY event_id
`

const argumentListTableDDL = `
	CREATE TABLE IF NOT EXISTS argument_variable_list (
		variable_list_index Int64,
		event_id            Int64,
		variable_id         Int64
	) ENGINE = MergeTree()
	ORDER BY event_id
`

const heartbeatTableDDL = `
	CREATE TABLE IF NOT EXISTS heartbeat (
		heartbeat_id   Int64,
		server_session String,
		clk            Int64,
		ctime          Int64,
		rss            Int64,
		nvcsw          Int64
	) ENGINE = MergeTree()
	ORDER BY heartbeat_id
`

const cpuloadTableDDL = `
	CREATE TABLE IF NOT EXISTS cpuload (
		heartbeat_id Int64,
		core         Int64,
		val          Float64
	) ENGINE = MergeTree()
	ORDER BY heartbeat_id
`

// InitializeSchema creates all required tables if they don't exist and seeds
// the type catalog.
func InitializeSchema(ctx context.Context, conn driver.Conn) error {
	// Create schema_version table first
	if err := createSchemaVersionTable(ctx, conn); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	// Check current schema version
	currentVersion, err := getCurrentSchemaVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	if currentVersion != "" && currentVersion != schemaVersion {
		return fmt.Errorf("schema version mismatch: database has %s, code expects %s", currentVersion, schemaVersion)
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"mal_execution", executionTableDDL},
		{"profiler_event", eventTableDDL},
		{"prerequisite_events", prerequisiteTableDDL},
		{"mal_type", typeTableDDL},
		{"mal_variable", variableTableDDL},
		{"return_variable_list", returnListTableDDL},
		{"argument_variable_list", argumentListTableDDL},
		{"heartbeat", heartbeatTableDDL},
		{"cpuload", cpuloadTableDDL},
	}

	for _, table := range tables {
		if err := conn.Exec(ctx, table.ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", table.name, err)
		}
	}

	if err := seedTypeCatalog(ctx, conn); err != nil {
		return fmt.Errorf("seeding type catalog: %w", err)
	}

	// Update schema version
	if currentVersion == "" {
		if err := setSchemaVersion(ctx, conn, schemaVersion); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}

	return nil
}

// seedTypeCatalog inserts the builtin type names once. Catalog ids are the
// 1-based position in models.BuiltinTypes, stable for a schema version.
func seedTypeCatalog(ctx context.Context, conn driver.Conn) error {
	var count uint64
	if err := conn.QueryRow(ctx, "SELECT count() FROM mal_type").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO mal_type")
	if err != nil {
		return err
	}
	for i, name := range models.BuiltinTypes() {
		if err := batch.Append(int64(i+1), name); err != nil {
			return err
		}
	}
	return batch.Send()
}

func createSchemaVersionTable(ctx context.Context, conn driver.Conn) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY applied_at
	`
	return conn.Exec(ctx, ddl)
}

func getCurrentSchemaVersion(ctx context.Context, conn driver.Conn) (string, error) {
	var version string
	row := conn.QueryRow(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1")
	err := row.Scan(&version)
	if err != nil && err.Error() != "sql: no rows in result set" {
		return "", err
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, conn driver.Conn, version string) error {
	return conn.Exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
}
