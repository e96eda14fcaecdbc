package worker

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bertona88/wofi/internal/store"
	"github.com/google/uuid"
)

// Job statuses.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Queue names used in logs and metrics.
const (
	QueueEmbedding     = "embedding"
	QueueDecomposition = "decomposition"
)

const (
	DefaultBatchSize   = 1
	DefaultIdle        = time.Second
	DefaultMaxAttempts = 5
)

// Config controls a worker's polling.
type Config struct {
	// BatchSize is the most jobs one Process call handles.
	BatchSize int

	// Idle is how long watch mode sleeps when the queue is empty.
	Idle time.Duration

	// WorkerID is recorded as claimed_by on every claimed job.
	WorkerID string

	// MaxAttempts stops claiming a job once it has been attempted this
	// many times.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Idle <= 0 {
		c.Idle = DefaultIdle
	}
	if c.WorkerID == "" {
		c.WorkerID = DefaultWorkerID()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// DefaultWorkerID is the host name with a short random suffix, so two
// workers on one host stay distinguishable.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// claimQuery builds the statement that atomically claims the oldest
// claimable job in table and returns columns. Jobs whose ids are in skip
// were already claimed by the current batch and are left for a later one.
// Arguments are produced by claimArgs in the same dialect.
func claimQuery(dialect store.Dialect, table, columns string, skip []int64) string {
	where := "status IN ('queued', 'failed') AND attempts < ?" + skipClause(skip)
	if dialect == store.DialectPostgres {
		return fmt.Sprintf(`WITH next_job AS (
    SELECT id FROM %[1]s
    WHERE %[3]s
    ORDER BY created_at, id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s
SET status = 'processing',
    attempts = attempts + 1,
    last_error = NULL,
    claimed_at = ?,
    claimed_by = ?,
    updated_at = ?
FROM next_job
WHERE %[1]s.id = next_job.id
RETURNING %[2]s`, table, qualify(table, columns), where)
	}
	return fmt.Sprintf(`UPDATE %[1]s
SET status = 'processing',
    attempts = attempts + 1,
    last_error = NULL,
    claimed_at = ?,
    claimed_by = ?,
    updated_at = ?
WHERE id = (
    SELECT id FROM %[1]s
    WHERE %[3]s
    ORDER BY created_at, id
    LIMIT 1
)
RETURNING %[2]s`, table, columns, where)
}

// skipClause renders " AND id NOT IN (...)" for ids, or nothing.
func skipClause(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return " AND id NOT IN (" + strings.Join(parts, ", ") + ")"
}

func claimArgs(dialect store.Dialect, maxAttempts int, workerID, now string) []any {
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}
	if dialect == store.DialectPostgres {
		return []any{maxAttempts, now, workerID, now}
	}
	return []any{now, workerID, now, maxAttempts}
}

// qualify prefixes each comma-separated column with table.
func qualify(table, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = table + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}

func markJobDone(ctx context.Context, q store.Querier, table string, id int64, now string) error {
	_, err := q.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'done', last_error = NULL, updated_at = ? WHERE id = ?`, table),
		now, id,
	)
	if err != nil {
		return fmt.Errorf("mark %s job %d done: %w", table, id, err)
	}
	return nil
}

func markJobFailed(ctx context.Context, q store.Querier, table string, id int64, message, now string) error {
	_, err := q.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`, table),
		message, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark %s job %d failed: %w", table, id, err)
	}
	return nil
}
