package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
)

// DecompositionJob is a claimed request to decompose an idea under a cost
// profile.
type DecompositionJob struct {
	ID        int64          `json:"id"`
	IdeaID    string         `json:"idea_id"`
	ProfileID string         `json:"profile_id"`
	Opts      map[string]any `json:"opts,omitempty"`
	InputHash string         `json:"input_hash"`
	Attempts  int            `json:"attempts"`
}

// DecompositionHandler fulfils decomposition jobs, typically by running an
// agent that mints new objects.
type DecompositionHandler interface {
	HandleDecomposition(ctx context.Context, job DecompositionJob) error
}

// DecompositionHandlerFunc adapts a function to DecompositionHandler.
type DecompositionHandlerFunc func(ctx context.Context, job DecompositionJob) error

func (f DecompositionHandlerFunc) HandleDecomposition(ctx context.Context, job DecompositionJob) error {
	return f(ctx, job)
}

// stableJSON renders v with sorted object keys and without HTML escaping.
func stableJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// HashDecompositionInput fingerprints a decomposition request. Nil and
// empty opts hash the same.
func HashDecompositionInput(ideaID, profileID string, opts map[string]any) (string, error) {
	var optsValue any
	if len(opts) > 0 {
		optsValue = opts
	}
	optsJSON, err := stableJSON(optsValue)
	if err != nil {
		return "", fmt.Errorf("encode decomposition opts: %w", err)
	}

	h := sha256.New()
	h.Write([]byte("decomposition:v0\n"))
	fmt.Fprintf(h, "idea:%s\n", ideaID)
	fmt.Fprintf(h, "profile:%s\n", profileID)
	fmt.Fprintf(h, "opts:%s", optsJSON)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// DecompositionWorker processes the decomposition job queue.
type DecompositionWorker struct {
	store   *store.Store
	handler DecompositionHandler
	cfg     Config
	opts    options
}

// NewDecompositionWorker creates a decomposition worker. With a nil handler
// claimed jobs are logged and marked done.
func NewDecompositionWorker(st *store.Store, handler DecompositionHandler, cfg Config, opts ...Option) *DecompositionWorker {
	return &DecompositionWorker{
		store:   st,
		handler: handler,
		cfg:     cfg.withDefaults(),
		opts:    buildOptions(opts),
	}
}

func (w *DecompositionWorker) timestamp() string {
	return store.FormatTime(w.opts.now())
}

// EnqueueDecompositionJob queues a decomposition of an existing idea. An
// identical job is left alone unless force is set.
func (w *DecompositionWorker) EnqueueDecompositionJob(ctx context.Context, ideaID, profileID string, opts map[string]any, force bool) (EnqueueResult, error) {
	if profileID == "" {
		return EnqueueResult{}, errors.New("profile id is required")
	}
	inputHash, err := HashDecompositionInput(ideaID, profileID, opts)
	if err != nil {
		return EnqueueResult{}, err
	}

	present, err := store.HasTypedRow(ctx, w.store, string(kernel.TypeIdea), ideaID)
	if err != nil {
		return EnqueueResult{}, err
	}
	if !present {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrIdeaNotFound, ideaID)
	}

	var optsJSON sql.NullString
	if len(opts) > 0 {
		encoded, err := stableJSON(opts)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("encode decomposition opts: %w", err)
		}
		optsJSON = store.NullString(encoded)
	}

	query := `INSERT INTO decomposition_jobs (idea_id, profile_id, opts_json, input_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (idea_id, profile_id, input_hash) DO NOTHING`
	if force {
		query = `INSERT INTO decomposition_jobs (idea_id, profile_id, opts_json, input_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (idea_id, profile_id, input_hash)
DO UPDATE SET status = 'queued', attempts = 0, last_error = NULL, updated_at = excluded.updated_at`
	}
	now := w.timestamp()
	res, err := w.store.Exec(ctx, query, ideaID, profileID, optsJSON, inputHash, now, now)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue decomposition for %s: %w", ideaID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue decomposition for %s: %w", ideaID, err)
	}

	w.opts.logger.InfoContext(ctx, "decomposition job enqueue",
		"idea_id", ideaID,
		"profile_id", profileID,
		"input_hash", inputHash,
		"enqueued", affected > 0,
	)
	return EnqueueResult{
		IdeaID:    ideaID,
		ProfileID: profileID,
		InputHash: inputHash,
		Enqueued:  affected > 0,
	}, nil
}

const decompositionColumns = "id, idea_id, profile_id, opts_json, input_hash, attempts"

func (w *DecompositionWorker) claim(ctx context.Context, skip []int64) (*DecompositionJob, error) {
	dialect := w.store.Dialect()
	var job DecompositionJob
	var optsJSON sql.NullString
	err := w.store.QueryRow(ctx,
		claimQuery(dialect, "decomposition_jobs", decompositionColumns, skip),
		claimArgs(dialect, w.cfg.MaxAttempts, w.cfg.WorkerID, w.timestamp())...,
	).Scan(&job.ID, &job.IdeaID, &job.ProfileID, &optsJSON, &job.InputHash, &job.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim decomposition job: %w", err)
	}
	if optsJSON.Valid && optsJSON.String != "" {
		if err := json.Unmarshal([]byte(optsJSON.String), &job.Opts); err != nil {
			return &job, fmt.Errorf("decode opts of decomposition job %d: %w", job.ID, err)
		}
	}
	return &job, nil
}

// ProcessDecompositionJobs claims and runs up to BatchSize jobs and returns
// how many completed. Each job is claimed at most once per call.
func (w *DecompositionWorker) ProcessDecompositionJobs(ctx context.Context) (int, error) {
	processed := 0
	var claimed []int64
	for i := 0; i < w.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		job, err := w.claim(ctx, claimed)
		if job == nil {
			if err != nil {
				return processed, err
			}
			break
		}
		claimed = append(claimed, job.ID)

		started := time.Now()
		jobErr := err
		if jobErr == nil {
			jobErr = w.handle(ctx, *job)
		}
		if jobErr != nil {
			w.opts.metrics.ObserveJob(QueueDecomposition, JobFailed, time.Since(started))
			w.opts.logger.WarnContext(ctx, "decomposition job failed",
				"job_id", job.ID,
				"idea_id", job.IdeaID,
				"attempts", job.Attempts,
				"worker_id", w.cfg.WorkerID,
				"error", jobErr,
			)
			if err := markJobFailed(ctx, w.store, "decomposition_jobs", job.ID, jobErr.Error(), w.timestamp()); err != nil {
				return processed, err
			}
			continue
		}

		if err := markJobDone(ctx, w.store, "decomposition_jobs", job.ID, w.timestamp()); err != nil {
			return processed, err
		}
		w.opts.metrics.ObserveJob(QueueDecomposition, JobDone, time.Since(started))
		w.opts.logger.InfoContext(ctx, "decomposition job done",
			"job_id", job.ID,
			"idea_id", job.IdeaID,
			"worker_id", w.cfg.WorkerID,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		processed++
	}
	return processed, nil
}

func (w *DecompositionWorker) handle(ctx context.Context, job DecompositionJob) error {
	if w.handler == nil {
		w.opts.logger.InfoContext(ctx, "decomposition job claimed (noop)",
			"job_id", job.ID,
			"idea_id", job.IdeaID,
			"profile_id", job.ProfileID,
		)
		return nil
	}
	return w.handler.HandleDecomposition(ctx, job)
}

// Run processes jobs until the queue is empty, or forever in watch mode.
func (w *DecompositionWorker) Run(ctx context.Context, watch bool) error {
	return runLoop(ctx, w.opts.logger, QueueDecomposition, watch, w.cfg.Idle, w.ProcessDecompositionJobs)
}
