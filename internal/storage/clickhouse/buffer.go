package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/skoulos/mal_analytics/pkg/models"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 2 * time.Second
	defaultShutdownWait  = 10 * time.Second
	maxRetries           = 3
)

// BatchBuffer manages batched writes to ClickHouse with automatic flushing.
// Rows are buffered per relation and flushed when a relation's buffer fills
// or on the flush interval, whichever comes first.
type BatchBuffer struct {
	conn driver.Conn

	mu         sync.Mutex
	executions []models.Execution
	events     []models.Event
	edges      []models.PrerequisiteEdge
	variables  []models.Variable
	retList    []models.VariableListEntry
	argList    []models.VariableListEntry
	heartbeats []models.Heartbeat
	cpuload    []models.CPULoadSample

	batchSize     int
	flushInterval time.Duration
	shutdownWait  time.Duration

	flushTimer *time.Timer
	stopCh     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewBatchBuffer creates a new batch buffer
func NewBatchBuffer(conn driver.Conn, config *ConnectionConfig, logger *slog.Logger) *BatchBuffer {
	if logger == nil {
		logger = slog.Default()
	}

	b := &BatchBuffer{
		conn:          conn,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		shutdownWait:  defaultShutdownWait,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
	if config != nil && config.BatchSize > 0 {
		b.batchSize = config.BatchSize
	}
	if config != nil && config.FlushInterval > 0 {
		b.flushInterval = config.FlushInterval
	}

	b.flushTimer = time.NewTimer(b.flushInterval)

	// Start flush goroutine
	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// Add buffers one typed row.
func (b *BatchBuffer) Add(row models.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r := row.(type) {
	case models.Execution:
		b.executions = append(b.executions, r)
		if len(b.executions) >= b.batchSize {
			return b.flushExecutionsLocked()
		}
	case models.Event:
		b.events = append(b.events, r)
		if len(b.events) >= b.batchSize {
			return b.flushEventsLocked()
		}
	case models.PrerequisiteEdge:
		b.edges = append(b.edges, r)
		if len(b.edges) >= b.batchSize {
			return b.flushEdgesLocked()
		}
	case models.Variable:
		b.variables = append(b.variables, r)
		if len(b.variables) >= b.batchSize {
			return b.flushVariablesLocked()
		}
	case models.VariableListEntry:
		if r.Kind == models.ReturnList {
			b.retList = append(b.retList, r)
			if len(b.retList) >= b.batchSize {
				return b.flushListLocked(&b.retList, "return_variable_list")
			}
		} else {
			b.argList = append(b.argList, r)
			if len(b.argList) >= b.batchSize {
				return b.flushListLocked(&b.argList, "argument_variable_list")
			}
		}
	case models.Heartbeat:
		b.heartbeats = append(b.heartbeats, r)
		if len(b.heartbeats) >= b.batchSize {
			return b.flushHeartbeatsLocked()
		}
	case models.CPULoadSample:
		b.cpuload = append(b.cpuload, r)
		if len(b.cpuload) >= b.batchSize {
			return b.flushCPULoadLocked()
		}
	default:
		return fmt.Errorf("unknown row type for table %q", row.Table())
	}

	return nil
}

// Flush forces all buffers out, blocking until the inserts complete.
func (b *BatchBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushAllLocked()
}

// flushLoop periodically flushes buffers on timer
func (b *BatchBuffer) flushLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.flushTimer.C:
			b.mu.Lock()
			_ = b.flushAllLocked()
			b.mu.Unlock()
			b.flushTimer.Reset(b.flushInterval)

		case <-b.stopCh:
			return
		}
	}
}

// flushAllLocked flushes all buffers in dependency order (must hold lock).
func (b *BatchBuffer) flushAllLocked() error {
	var errs []error

	if err := b.flushExecutionsLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushEventsLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushVariablesLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushEdgesLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushListLocked(&b.retList, "return_variable_list"); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushListLocked(&b.argList, "argument_variable_list"); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushHeartbeatsLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := b.flushCPULoadLocked(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("flush errors: %v", errs)
	}
	return nil
}

func (b *BatchBuffer) flushExecutionsLocked() error {
	if len(b.executions) == 0 {
		return nil
	}
	rows := b.executions
	b.executions = nil

	// Release lock during insert
	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO mal_execution")
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := batch.Append(row.ExecutionID, row.ServerSession, row.Tag); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush("mal_execution", len(rows), err)
}

func (b *BatchBuffer) flushEventsLocked() error {
	if len(b.events) == 0 {
		return nil
	}
	rows := b.events
	b.events = nil

	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO profiler_event")
		if err != nil {
			return err
		}
		for _, row := range rows {
			var state *int32
			if row.State != nil {
				v := int32(*row.State)
				state = &v
			}
			if err := batch.Append(
				row.EventID,
				row.ExecutionID,
				row.PC,
				state,
				row.Clk,
				row.CTime,
				row.Thread,
				row.Function,
				row.Usec,
				row.RSS,
				row.TypeSize,
				row.LongStatement,
				row.ShortStatement,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush("profiler_event", len(rows), err)
}

func (b *BatchBuffer) flushEdgesLocked() error {
	if len(b.edges) == 0 {
		return nil
	}
	rows := b.edges
	b.edges = nil

	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO prerequisite_events")
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := batch.Append(row.PrerequisiteEvent, row.ConsequentEvent); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush("prerequisite_events", len(rows), err)
}

func (b *BatchBuffer) flushVariablesLocked() error {
	if len(b.variables) == 0 {
		return nil
	}
	rows := b.variables
	b.variables = nil

	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO mal_variable")
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := batch.Append(
				row.VariableID,
				row.Name,
				row.ExecutionID,
				row.Alias,
				row.TypeID,
				boolToUint8(row.IsPersistent),
				row.BID,
				row.Count,
				row.Size,
				row.SeqBase,
				row.HghBase,
				boolToUint8(row.EndOfLife),
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush("mal_variable", len(rows), err)
}

func (b *BatchBuffer) flushListLocked(list *[]models.VariableListEntry, table string) error {
	if len(*list) == 0 {
		return nil
	}
	rows := *list
	*list = nil

	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO "+table)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := batch.Append(row.ListIndex, row.EventID, row.VariableID); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush(table, len(rows), err)
}

func (b *BatchBuffer) flushHeartbeatsLocked() error {
	if len(b.heartbeats) == 0 {
		return nil
	}
	rows := b.heartbeats
	b.heartbeats = nil

	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO heartbeat")
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := batch.Append(row.HeartbeatID, row.ServerSession, row.Clk, row.CTime, row.RSS, row.NVCSw); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush("heartbeat", len(rows), err)
}

func (b *BatchBuffer) flushCPULoadLocked() error {
	if len(b.cpuload) == 0 {
		return nil
	}
	rows := b.cpuload
	b.cpuload = nil

	b.mu.Unlock()
	err := b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO cpuload")
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := batch.Append(row.HeartbeatID, row.Core, row.Val); err != nil {
				return err
			}
		}
		return batch.Send()
	})
	b.mu.Lock()

	return b.reportFlush("cpuload", len(rows), err)
}

func (b *BatchBuffer) reportFlush(table string, count int, err error) error {
	if err != nil {
		b.logger.Error("failed to flush rows",
			"table", table,
			"row_count", count,
			"error", err,
		)
		return err
	}
	b.logger.Debug("flushed rows", "table", table, "row_count", count)
	return nil
}

// Close gracefully shuts down the buffer, flushing remaining data
func (b *BatchBuffer) Close(ctx context.Context) error {
	var finalErr error

	b.closeOnce.Do(func() {
		// Stop flush loop
		close(b.stopCh)

		shutdownCtx, cancel := context.WithTimeout(ctx, b.shutdownWait)
		defer cancel()

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Flush loop stopped
		case <-shutdownCtx.Done():
			b.logger.Warn("flush loop did not stop within timeout")
		}

		// Final flush
		b.mu.Lock()
		defer b.mu.Unlock()

		finalErr = b.flushAllLocked()
	})

	return finalErr
}

func (b *BatchBuffer) retryInsert(fn func(context.Context) error) error {
	var err error
	retryDelay := 100 * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = fn(ctx)
		cancel()

		if err == nil {
			return nil
		}

		if attempt < maxRetries {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	return fmt.Errorf("insert failed after %d attempts: %w", maxRetries, err)
}

func boolToUint8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
