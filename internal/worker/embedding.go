package worker

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bertona88/wofi/internal/store"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultEmbeddingModel      = "text-embedding-3-large"
	DefaultEmbeddingDimensions = 3072
	DefaultEmbeddingMaxChars   = 8000
)

// ErrIdeaNotFound is returned when a job is requested for an idea that has
// no typed row.
var ErrIdeaNotFound = errors.New("idea not found")

// Embedder turns text into a vector of the requested dimensions.
type Embedder interface {
	Embed(ctx context.Context, input, model string, dimensions int) ([]float64, error)
}

// EmbeddingSpec selects the model and shapes the input text.
type EmbeddingSpec struct {
	Model      string
	Dimensions int
	MaxChars   int
}

func (s EmbeddingSpec) withDefaults() EmbeddingSpec {
	if s.Model == "" {
		s.Model = DefaultEmbeddingModel
	}
	if s.Dimensions <= 0 {
		s.Dimensions = DefaultEmbeddingDimensions
	}
	if s.MaxChars <= 0 {
		s.MaxChars = DefaultEmbeddingMaxChars
	}
	return s
}

// IdeaText is the part of an idea that is embedded. Tags holds the decoded
// tags column and may be a list, a string, or any other JSON value.
type IdeaText struct {
	Title   string
	Summary string
	Kind    string
	Tags    any
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(strings.ReplaceAll(s, "\x00", "")))
}

func normalizeTags(tags any) []string {
	switch v := tags.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, tag := range v {
			s, ok := tag.(string)
			if !ok {
				continue
			}
			if s = normalizeText(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		anyTags := make([]any, len(v))
		for i, s := range v {
			anyTags[i] = s
		}
		return normalizeTags(anyTags)
	case string:
		if s := normalizeText(v); s != "" {
			return []string{s}
		}
		return nil
	}
	data, err := json.Marshal(tags)
	if err != nil || len(data) == 0 {
		return nil
	}
	return []string{string(data)}
}

// BuildIdeaEmbeddingInput renders the text embedded for an idea, one
// "Label: value" line per non-empty field.
func BuildIdeaEmbeddingInput(idea IdeaText) string {
	var parts []string
	if title := normalizeText(idea.Title); title != "" {
		parts = append(parts, "Title: "+title)
	}
	if summary := normalizeText(idea.Summary); summary != "" {
		parts = append(parts, "Summary: "+summary)
	}
	if kind := normalizeText(idea.Kind); kind != "" {
		parts = append(parts, "Kind: "+kind)
	}
	if tags := normalizeTags(idea.Tags); len(tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(tags, ", "))
	}
	return strings.Join(parts, "\n")
}

// HashEmbeddingInput fingerprints text together with the model settings
// that produced it.
func HashEmbeddingInput(text, model string, dimensions int) string {
	h := sha256.New()
	fmt.Fprintf(h, "model:%s\n", model)
	fmt.Fprintf(h, "dimensions:%d\n", dimensions)
	h.Write([]byte(text))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func loadIdeaText(ctx context.Context, q store.Querier, ideaID string) (IdeaText, error) {
	var title, kind string
	var summary, tags sql.NullString
	err := q.QueryRow(ctx,
		`SELECT title, summary, kind, tags FROM ideas WHERE content_id = ?`, ideaID,
	).Scan(&title, &summary, &kind, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return IdeaText{}, ErrIdeaNotFound
	}
	if err != nil {
		return IdeaText{}, fmt.Errorf("load idea %s: %w", ideaID, err)
	}

	idea := IdeaText{Title: title, Summary: summary.String, Kind: kind}
	if tags.Valid && tags.String != "" {
		var decoded any
		if err := json.Unmarshal([]byte(tags.String), &decoded); err == nil {
			idea.Tags = decoded
		} else {
			idea.Tags = tags.String
		}
	}
	return idea, nil
}

// EnqueueResult reports the job an enqueue call addressed.
type EnqueueResult struct {
	IdeaID     string `json:"idea_id"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
	InputHash  string `json:"input_hash"`
	Enqueued   bool   `json:"enqueued"`
}

// EmbeddingJob is a claimed embedding job.
type EmbeddingJob struct {
	ID         int64
	IdeaID     string
	Model      string
	Dimensions int
	InputHash  string
	Attempts   int
}

// EmbeddingWorker processes the embedding job queue.
type EmbeddingWorker struct {
	store    *store.Store
	embedder Embedder
	spec     EmbeddingSpec
	cfg      Config
	opts     options
}

// NewEmbeddingWorker creates an embedding worker. embedder may be nil for
// a worker that only enqueues.
func NewEmbeddingWorker(st *store.Store, embedder Embedder, spec EmbeddingSpec, cfg Config, opts ...Option) *EmbeddingWorker {
	return &EmbeddingWorker{
		store:    st,
		embedder: embedder,
		spec:     spec.withDefaults(),
		cfg:      cfg.withDefaults(),
		opts:     buildOptions(opts),
	}
}

func (w *EmbeddingWorker) timestamp() string {
	return store.FormatTime(w.opts.now())
}

// EnqueueIdeaEmbedding queues an embedding of the idea's current text. An
// identical job is left alone unless force is set, which re-queues it with
// a fresh attempt budget.
func (w *EmbeddingWorker) EnqueueIdeaEmbedding(ctx context.Context, ideaID string, force bool) (EnqueueResult, error) {
	idea, err := loadIdeaText(ctx, w.store, ideaID)
	if errors.Is(err, ErrIdeaNotFound) {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrIdeaNotFound, ideaID)
	}
	if err != nil {
		return EnqueueResult{}, err
	}

	input := truncateRunes(BuildIdeaEmbeddingInput(idea), w.spec.MaxChars)
	if input == "" {
		return EnqueueResult{}, fmt.Errorf("idea %s has no embeddable text", ideaID)
	}
	inputHash := HashEmbeddingInput(input, w.spec.Model, w.spec.Dimensions)

	query := `INSERT INTO embedding_jobs (idea_id, model, dimensions, input_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (idea_id, model, dimensions, input_hash) DO NOTHING`
	if force {
		query = `INSERT INTO embedding_jobs (idea_id, model, dimensions, input_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (idea_id, model, dimensions, input_hash)
DO UPDATE SET status = 'queued', attempts = 0, last_error = NULL, updated_at = excluded.updated_at`
	}
	now := w.timestamp()
	res, err := w.store.Exec(ctx, query, ideaID, w.spec.Model, w.spec.Dimensions, inputHash, now, now)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue embedding for %s: %w", ideaID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue embedding for %s: %w", ideaID, err)
	}

	w.opts.logger.InfoContext(ctx, "embedding job enqueue",
		"idea_id", ideaID,
		"model", w.spec.Model,
		"input_hash", inputHash,
		"enqueued", affected > 0,
	)
	return EnqueueResult{
		IdeaID:     ideaID,
		Model:      w.spec.Model,
		Dimensions: w.spec.Dimensions,
		InputHash:  inputHash,
		Enqueued:   affected > 0,
	}, nil
}

const embeddingColumns = "id, idea_id, model, dimensions, input_hash, attempts"

func (w *EmbeddingWorker) claim(ctx context.Context, skip []int64) (*EmbeddingJob, error) {
	dialect := w.store.Dialect()
	var job EmbeddingJob
	err := w.store.QueryRow(ctx,
		claimQuery(dialect, "embedding_jobs", embeddingColumns, skip),
		claimArgs(dialect, w.cfg.MaxAttempts, w.cfg.WorkerID, w.timestamp())...,
	).Scan(&job.ID, &job.IdeaID, &job.Model, &job.Dimensions, &job.InputHash, &job.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim embedding job: %w", err)
	}
	return &job, nil
}

// ProcessEmbeddingJobs claims and runs up to BatchSize jobs and returns how
// many completed. A failing job is recorded on its row and does not stop
// the batch; it is not claimed again until the next call.
func (w *EmbeddingWorker) ProcessEmbeddingJobs(ctx context.Context) (int, error) {
	if w.embedder == nil {
		return 0, errors.New("embedding worker has no embedder")
	}

	processed := 0
	var claimed []int64
	for i := 0; i < w.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		job, err := w.claim(ctx, claimed)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}
		claimed = append(claimed, job.ID)

		started := time.Now()
		if jobErr := w.process(ctx, job); jobErr != nil {
			w.opts.metrics.ObserveJob(QueueEmbedding, JobFailed, time.Since(started))
			w.opts.logger.WarnContext(ctx, "embedding job failed",
				"job_id", job.ID,
				"idea_id", job.IdeaID,
				"attempts", job.Attempts,
				"worker_id", w.cfg.WorkerID,
				"error", jobErr,
			)
			if err := markJobFailed(ctx, w.store, "embedding_jobs", job.ID, jobErr.Error(), w.timestamp()); err != nil {
				return processed, err
			}
			continue
		}

		w.opts.metrics.ObserveJob(QueueEmbedding, JobDone, time.Since(started))
		w.opts.logger.InfoContext(ctx, "embedding job done",
			"job_id", job.ID,
			"idea_id", job.IdeaID,
			"worker_id", w.cfg.WorkerID,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		processed++
	}
	return processed, nil
}

func (w *EmbeddingWorker) process(ctx context.Context, job *EmbeddingJob) error {
	if job.Dimensions <= 0 {
		return fmt.Errorf("unsupported embedding dimensions: %d", job.Dimensions)
	}
	idea, err := loadIdeaText(ctx, w.store, job.IdeaID)
	if err != nil {
		return err
	}
	input := truncateRunes(BuildIdeaEmbeddingInput(idea), w.spec.MaxChars)
	if input == "" {
		return errors.New("embedding input empty")
	}

	inputHash := HashEmbeddingInput(input, job.Model, job.Dimensions)
	if inputHash != job.InputHash {
		if _, err := w.store.Exec(ctx,
			`UPDATE embedding_jobs SET input_hash = ?, updated_at = ? WHERE id = ?`,
			inputHash, w.timestamp(), job.ID,
		); err != nil {
			return fmt.Errorf("refresh input hash: %w", err)
		}
	}

	vector, err := w.embedder.Embed(ctx, input, job.Model, job.Dimensions)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	encoded, err := encodeVector(vector, job.Dimensions)
	if err != nil {
		return err
	}

	return w.store.WithTx(ctx, func(tx *store.Tx) error {
		now := w.timestamp()
		if _, err := tx.Exec(ctx,
			`INSERT INTO idea_embeddings (idea_id, model, dimensions, input_hash, embedding, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (idea_id, model, dimensions) DO UPDATE SET
    input_hash = excluded.input_hash,
    embedding = excluded.embedding,
    updated_at = excluded.updated_at`,
			job.IdeaID, job.Model, job.Dimensions, inputHash, encoded, now, now,
		); err != nil {
			return fmt.Errorf("store embedding: %w", err)
		}
		return markJobDone(ctx, tx, "embedding_jobs", job.ID, now)
	})
}

// encodeVector checks a vector and renders it as the JSON array stored in
// idea_embeddings.
func encodeVector(vector []float64, dimensions int) (string, error) {
	if len(vector) == 0 {
		return "", errors.New("embedding must be a non-empty array")
	}
	if len(vector) != dimensions {
		return "", fmt.Errorf("embedding length %d does not match %d", len(vector), dimensions)
	}
	for _, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", errors.New("embedding contains non-finite values")
		}
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(data), nil
}

// Run processes jobs until the queue is empty, or forever in watch mode.
func (w *EmbeddingWorker) Run(ctx context.Context, watch bool) error {
	return runLoop(ctx, w.opts.logger, QueueEmbedding, watch, w.cfg.Idle, w.ProcessEmbeddingJobs)
}
