// Package clickhouse provides a ClickHouse-backed sink for high-volume
// profiler ingestion.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/skoulos/mal_analytics/pkg/models"
)

// Store implements the storage.Sink interface using ClickHouse.
type Store struct {
	conn   driver.Conn
	buffer *BatchBuffer
	logger *slog.Logger

	// Catalog ids are positional in models.BuiltinTypes, matching what
	// seedTypeCatalog persisted.
	types map[string]int64
}

// NewStore creates a new ClickHouse sink.
func NewStore(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	types := make(map[string]int64)
	for i, name := range models.BuiltinTypes() {
		types[name] = int64(i + 1)
	}

	return &Store{
		conn:   conn,
		buffer: NewBatchBuffer(conn, config, logger),
		logger: logger,
		types:  types,
	}, nil
}

// StartingLimits reports the maximum persisted id per kind.
func (s *Store) StartingLimits(ctx context.Context) (models.Limits, error) {
	if err := s.buffer.Flush(); err != nil {
		return models.Limits{}, fmt.Errorf("flushing before limits: %w", err)
	}

	var lim models.Limits
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT coalesce(max(execution_id), 0) FROM mal_execution", &lim.MaxExecutionID},
		{"SELECT coalesce(max(event_id), 0) FROM profiler_event", &lim.MaxEventID},
		{"SELECT coalesce(max(variable_id), 0) FROM mal_variable", &lim.MaxVariableID},
		{"SELECT coalesce(max(heartbeat_id), 0) FROM heartbeat", &lim.MaxHeartbeatID},
	}
	for _, q := range queries {
		if err := s.conn.QueryRow(ctx, q.query).Scan(q.dest); err != nil {
			return models.Limits{}, fmt.Errorf("querying limits: %w", err)
		}
	}
	return lim, nil
}

// Insert buffers rows for batched insertion.
func (s *Store) Insert(ctx context.Context, rows ...models.Row) error {
	for _, row := range rows {
		if err := s.buffer.Add(row); err != nil {
			return err
		}
	}
	return nil
}

// LookupVariable resolves a variable name to its persisted id.
func (s *Store) LookupVariable(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	row := s.conn.QueryRow(ctx, `
		SELECT variable_id FROM mal_variable WHERE name = ?
		ORDER BY variable_id LIMIT 1
	`, name)
	err := row.Scan(&id)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0, false, nil
		}
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
	if err := s.buffer.Flush(); err != nil {
		return nil, fmt.Errorf("flushing before read: %w", err)
	}

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

	rows, err := s.conn.Query(ctx, query, args...)
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
	if err := s.buffer.Flush(); err != nil {
		return nil, fmt.Errorf("flushing before read: %w", err)
	}

	rows, err := s.conn.Query(ctx, `
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
		var state *int32
		if err := rows.Scan(&e.EventID, &e.ExecutionID, &e.PC, &state,
			&e.Clk, &e.CTime, &e.Thread, &e.Function, &e.Usec, &e.RSS,
			&e.TypeSize, &e.LongStatement, &e.ShortStatement); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if state != nil {
			v := models.ExecutionState(*state)
			e.State = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListHeartbeats returns the most recent heartbeats, oldest first.
func (s *Store) ListHeartbeats(ctx context.Context, limit int) ([]models.Heartbeat, error) {
	if err := s.buffer.Flush(); err != nil {
		return nil, fmt.Errorf("flushing before read: %w", err)
	}

	rows, err := s.conn.Query(ctx, `
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
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Close flushes pending batches and closes the connection.
func (s *Store) Close() error {
	ctx := context.Background()
	if err := s.buffer.Close(ctx); err != nil {
		s.logger.Error("error closing batch buffer", "error", err)
	}
	return s.conn.Close()
}
