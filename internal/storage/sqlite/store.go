// Package sqlite provides a SQLite-backed sink for profiler rows.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skoulos/mal_analytics/pkg/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// expectedTables is checked after the migration runs. A missing table means
// the database did not initialize properly and startup must abort.
var expectedTables = []string{
	"mal_execution",
	"profiler_event",
	"prerequisite_events",
	"mal_type",
	"mal_variable",
	"return_variable_list",
	"argument_variable_list",
	"heartbeat",
	"cpuload",
}

// InitializationError reports a database that is missing one of the
// expected relations after schema setup.
type InitializationError struct {
	Table string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("database did not initialize properly (table %s not found)", e.Table)
}

// Store is a SQLite-backed sink.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	// Batch writer
	writeCh   chan writeOp
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Fixed type catalog, loaded once after seeding.
	types map[string]int64
}

// writeOp is a group of rows to be committed together with the rest of the
// current batch.
type writeOp struct {
	rows []models.Row
	done chan error
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BatchSize:     200,
		FlushInterval: 50 * time.Millisecond,
	}
}

// New opens the database, applies the schema, verifies the expected tables
// exist and seeds the type catalog.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	for _, table := range expectedTables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, &InitializationError{Table: table}
		}
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("verifying table %s: %w", table, err)
		}
	}

	types, err := seedTypeCatalog(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{
		db:      db,
		log:     logger,
		writeCh: make(chan writeOp, 1000),
		closeCh: make(chan struct{}),
		types:   types,
	}

	store.wg.Add(1)
	go store.batchWriter(cfg.BatchSize, cfg.FlushInterval)

	return store, nil
}

// seedTypeCatalog inserts any missing builtin type names and returns the
// full name-to-id catalog.
func seedTypeCatalog(db *sql.DB) (map[string]int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin type seeding: %w", err)
	}
	defer tx.Rollback()

	for _, name := range models.BuiltinTypes() {
		if _, err := tx.Exec("INSERT OR IGNORE INTO mal_type (name) VALUES (?)", name); err != nil {
			return nil, fmt.Errorf("seeding type %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit type seeding: %w", err)
	}

	rows, err := db.Query("SELECT type_id, name FROM mal_type")
	if err != nil {
		return nil, fmt.Errorf("loading type catalog: %w", err)
	}
	defer rows.Close()

	types := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning type: %w", err)
		}
		types[name] = id
	}
	return types, rows.Err()
}

// batchWriter runs in a goroutine and batches write operations.
func (s *Store) batchWriter(batchSize int, flushInterval time.Duration) {
	defer s.wg.Done()

	batch := make([]writeOp, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		err := s.executeBatch(batch)
		if err != nil {
			s.log.Warn("batch not stored", "rows", len(batch), "reason", err)
		}

		for i := range batch {
			if batch[i].done != nil {
				batch[i].done <- err
				close(batch[i].done)
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case op := <-s.writeCh:
			batch = append(batch, op)
			if batchSize > 0 && len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.closeCh:
			// Drain remaining ops
			close(s.writeCh)
			for op := range s.writeCh {
				batch = append(batch, op)
			}
			flush()
			return
		}
	}
}

// executeBatch commits a batch of write operations in a single transaction.
// Rows are inserted in arrival order, which the parser already emits in
// dependency order.
func (s *Store) executeBatch(batch []writeOp) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range batch {
		for _, row := range op.rows {
			if err := insertRowTx(tx, row); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// insertRowTx inserts one typed row within a transaction.
func insertRowTx(tx *sql.Tx, row models.Row) error {
	var err error
	switch r := row.(type) {
	case models.Execution:
		_, err = tx.Exec(`
			INSERT INTO mal_execution (execution_id, server_session, tag)
			VALUES (?, ?, ?)
		`, r.ExecutionID, r.ServerSession, r.Tag)

	case models.Event:
		var state interface{}
		if r.State != nil {
			state = int64(*r.State)
		}
		_, err = tx.Exec(`
			INSERT INTO profiler_event (
				event_id, mal_execution_id, pc, execution_state, clk, ctime,
				thread, mal_function, usec, rss, type_size,
				long_statement, short_statement
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.EventID, r.ExecutionID, r.PC, state, r.Clk, r.CTime,
			r.Thread, r.Function, r.Usec, r.RSS, r.TypeSize,
			r.LongStatement, r.ShortStatement)

	case models.PrerequisiteEdge:
		_, err = tx.Exec(`
			INSERT INTO prerequisite_events (prerequisite_event, consequent_event)
			VALUES (?, ?)
		`, r.PrerequisiteEvent, r.ConsequentEvent)

	case models.Variable:
		_, err = tx.Exec(`
			INSERT INTO mal_variable (
				variable_id, name, mal_execution_id, alias, type_id,
				is_persistent, bid, var_count, var_size, seqbase, hghbase,
				end_of_life
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.VariableID, r.Name, r.ExecutionID, r.Alias, r.TypeID,
			r.IsPersistent, r.BID, r.Count, r.Size, r.SeqBase, r.HghBase,
			r.EndOfLife)

	case models.VariableListEntry:
		_, err = tx.Exec(fmt.Sprintf(`
			INSERT INTO %s (variable_list_index, event_id, variable_id)
			VALUES (?, ?, ?)
		`, r.Table()), r.ListIndex, r.EventID, r.VariableID)

	case models.Heartbeat:
		_, err = tx.Exec(`
			INSERT INTO heartbeat (heartbeat_id, server_session, clk, ctime, rss, nvcsw)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.HeartbeatID, r.ServerSession, r.Clk, r.CTime, r.RSS, r.NVCSw)

	case models.CPULoadSample:
		_, err = tx.Exec(`
			INSERT INTO cpuload (heartbeat_id, core, val)
			VALUES (?, ?, ?)
		`, r.HeartbeatID, r.Core, r.Val)

	default:
		err = fmt.Errorf("unknown row type for table %q", row.Table())
	}

	if err != nil {
		return fmt.Errorf("inserting into %s: %w", row.Table(), err)
	}
	return nil
}

// Insert queues rows for the batch writer and waits for the commit.
func (s *Store) Insert(ctx context.Context, rows ...models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	done := make(chan error, 1)

	select {
	case s.writeCh <- writeOp{rows: rows, done: done}:
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return errors.New("store is closed")
	}
}

// StartingLimits reports the maximum persisted id per kind, zero for empty
// relations.
func (s *Store) StartingLimits(ctx context.Context) (models.Limits, error) {
	var lim models.Limits
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COALESCE(MAX(execution_id), 0) FROM mal_execution", &lim.MaxExecutionID},
		{"SELECT COALESCE(MAX(event_id), 0) FROM profiler_event", &lim.MaxEventID},
		{"SELECT COALESCE(MAX(variable_id), 0) FROM mal_variable", &lim.MaxVariableID},
		{"SELECT COALESCE(MAX(heartbeat_id), 0) FROM heartbeat", &lim.MaxHeartbeatID},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return models.Limits{}, fmt.Errorf("querying limits: %w", err)
		}
	}
	return lim, nil
}

// LookupVariable resolves a variable name to its persisted id.
func (s *Store) LookupVariable(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT variable_id FROM mal_variable WHERE name = ?
		ORDER BY variable_id LIMIT 1
	`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying variable %s: %w", name, err)
	}
	return id, true, nil
}

// LookupType resolves a type name against the fixed catalog.
func (s *Store) LookupType(ctx context.Context, name string) (int64, bool, error) {
	id, ok := s.types[name]
	return id, ok, nil
}

// ListExecutions returns executions, optionally filtered by session.
func (s *Store) ListExecutions(ctx context.Context, session string, limit, offset int) ([]models.Execution, error) {
	query := `
		SELECT execution_id, server_session, tag FROM mal_execution
		ORDER BY execution_id LIMIT ? OFFSET ?
	`
	args := []interface{}{limit, offset}
	if session != "" {
		query = `
			SELECT execution_id, server_session, tag FROM mal_execution
			WHERE server_session = ?
			ORDER BY execution_id LIMIT ? OFFSET ?
		`
		args = []interface{}{session, limit, offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	out := []models.Execution{}
	for rows.Next() {
		var e models.Execution
		if err := rows.Scan(&e.ExecutionID, &e.ServerSession, &e.Tag); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEvents returns the events of one execution in event order.
func (s *Store) ListEvents(ctx context.Context, executionID int64) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, mal_execution_id, pc, execution_state, clk, ctime,
		       thread, mal_function, usec, rss, type_size,
		       long_statement, short_statement
		FROM profiler_event
		WHERE mal_execution_id = ?
		ORDER BY event_id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := []models.Event{}
	for rows.Next() {
		var e models.Event
		var state sql.NullInt64
		if err := rows.Scan(&e.EventID, &e.ExecutionID, &e.PC, &state,
			&e.Clk, &e.CTime, &e.Thread, &e.Function, &e.Usec, &e.RSS,
			&e.TypeSize, &e.LongStatement, &e.ShortStatement); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if state.Valid {
			s := models.ExecutionState(state.Int64)
			e.State = &s
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListHeartbeats returns the most recent heartbeats, oldest first.
func (s *Store) ListHeartbeats(ctx context.Context, limit int) ([]models.Heartbeat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT heartbeat_id, server_session, clk, ctime, rss, nvcsw
		FROM heartbeat ORDER BY heartbeat_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying heartbeats: %w", err)
	}
	defer rows.Close()

	out := []models.Heartbeat{}
	for rows.Next() {
		var h models.Heartbeat
		if err := rows.Scan(&h.HeartbeatID, &h.ServerSession, &h.Clk, &h.CTime, &h.RSS, &h.NVCSw); err != nil {
			return nil, fmt.Errorf("scanning heartbeat: %w", err)
		}
		out = append(out, h)
	}
	// Reverse to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Close flushes pending batches and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
