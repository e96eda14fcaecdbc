package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/metrics"
	"github.com/bertona88/wofi/internal/store"
)

// Ingester runs objects through the ingestion pipeline against one store.
type Ingester struct {
	store         *store.Store
	allowUnsigned bool
	logger        *slog.Logger
	metrics       *metrics.Recorder
	now           func() time.Time
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithAllowUnsigned accepts objects that carry neither author nor signature.
func WithAllowUnsigned(allow bool) Option {
	return func(i *Ingester) { i.allowUnsigned = allow }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) { i.logger = logger }
}

// WithMetrics records ingestion metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(i *Ingester) { i.metrics = m }
}

// WithClock overrides the clock used for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

// New creates an Ingester over st.
func New(st *store.Store, opts ...Option) *Ingester {
	i := &Ingester{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Store returns the store the ingester writes to.
func (i *Ingester) Store() *store.Store {
	return i.store
}

func (i *Ingester) timestamp() string {
	return store.FormatTime(i.now())
}

// Ingest runs one object through the pipeline.
//
// Validation and expansion problems are reported through Result with
// StatusFailed; the returned error is non-nil only when the input cannot be
// parsed as a JSON object or the store itself fails.
func (i *Ingester) Ingest(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	res, err := i.ingest(ctx, in)
	if err != nil {
		return Result{}, err
	}
	i.metrics.ObserveIngest(res.WofiType, string(res.Status), time.Since(start))
	return res, nil
}

func (i *Ingester) ingest(ctx context.Context, in Input) (Result, error) {
	obj, err := kernel.ParseObject(in.CanonicalJSON)
	if err != nil {
		return Result{}, fmt.Errorf("parse canonical json: %w", err)
	}

	declared := in.ContentID
	if declared == "" {
		declared = obj.ContentID()
	}
	wofiType := stringOr(obj, "type", "unknown")
	schemaVersion := stringOr(obj, "schema_version", "unknown")

	computed, err := kernel.ContentID(obj)
	if err != nil {
		rowID := declared
		if rowID == "" {
			rowID = fmt.Sprintf("unknown:%d", i.now().UnixMilli())
		}
		msg := describeError(err)
		if err := i.recordRaw(ctx, rowID, wofiType, schemaVersion, obj, in.TxID, msg); err != nil {
			return Result{}, err
		}
		i.logger.Warn("ingest canonicalization failed",
			"content_id", rowID,
			"wofi_type", wofiType,
			"error", msg,
		)
		resultID := declared
		if resultID == "" {
			resultID = "unknown"
		}
		return Result{ContentID: resultID, WofiType: wofiType, Status: StatusFailed, Error: msg}, nil
	}

	if declared != "" && declared != computed {
		// Recorded under the computed id, which replaces the declared one.
		msg := "content_id mismatch"
		recorded := obj.Clone()
		recorded["content_id"] = computed
		if err := i.recordRaw(ctx, computed, wofiType, schemaVersion, recorded, in.TxID, msg); err != nil {
			return Result{}, err
		}
		i.logger.Warn("ingest validation failed",
			"content_id", computed,
			"declared_content_id", declared,
			"wofi_type", wofiType,
			"error", msg,
		)
		return Result{ContentID: computed, WofiType: wofiType, Status: StatusFailed, Error: msg}, nil
	}

	toStore := obj.Clone()
	toStore["content_id"] = computed

	var validationMsg string
	if err := i.validate(toStore); err != nil {
		validationMsg = describeError(err)
	}
	if err := i.recordRaw(ctx, computed, wofiType, schemaVersion, toStore, in.TxID, validationMsg); err != nil {
		return Result{}, err
	}
	if validationMsg != "" {
		i.logger.Warn("ingest validation failed",
			"content_id", computed,
			"wofi_type", wofiType,
			"error", validationMsg,
		)
		return Result{ContentID: computed, WofiType: wofiType, Status: StatusFailed, Error: validationMsg}, nil
	}

	var exp expansion
	err = i.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		exp, err = expand(ctx, tx, toStore)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		msg := describeError(err)
		if err := store.MarkObjectFailed(ctx, i.store, computed, msg); err != nil {
			return Result{}, err
		}
		i.logger.Error("typed expansion failed",
			"content_id", computed,
			"wofi_type", wofiType,
			"error", msg,
		)
		return Result{ContentID: computed, WofiType: wofiType, Status: StatusFailed, Error: msg}, nil
	}

	if exp.deferred {
		d := store.Deferred{
			ContentID:  computed,
			WofiType:   wofiType,
			MissingRef: exp.missingRef,
			Reason:     exp.reason,
		}
		if err := store.UpsertDeferred(ctx, i.store, d, i.timestamp()); err != nil {
			return Result{}, err
		}
		i.logger.Info("ingest deferred",
			"content_id", computed,
			"wofi_type", wofiType,
			"missing_ref", exp.missingRef,
			"reason", exp.reason,
		)
		return Result{
			ContentID:  computed,
			WofiType:   wofiType,
			Status:     StatusDeferred,
			MissingRef: exp.missingRef,
			Reason:     exp.reason,
		}, nil
	}

	i.logger.Debug("ingested", "content_id", computed, "wofi_type", wofiType)
	return Result{ContentID: computed, WofiType: wofiType, Status: StatusOK}, nil
}

func (i *Ingester) validate(obj kernel.Object) error {
	if err := kernel.ValidateSchema(obj); err != nil {
		return err
	}
	if err := kernel.ValidateInvariants(obj, nil); err != nil {
		return err
	}
	return kernel.VerifySignature(obj, i.allowUnsigned)
}

// recordRaw upserts the raw row. An empty failure message records it as ok.
func (i *Ingester) recordRaw(ctx context.Context, contentID, wofiType, schemaVersion string, obj kernel.Object, txID, failure string) error {
	status := store.ObjectStatusOK
	if failure != "" {
		status = store.ObjectStatusFailed
	}
	var signature string
	if sig, ok := obj["signature"]; ok && sig != nil {
		signature = jsonText(sig)
	}
	created, _ := obj.StringField("created_at")

	row := store.RawObject{
		ContentID:     contentID,
		WofiType:      wofiType,
		SchemaVersion: schemaVersion,
		CanonicalJSON: canonicalText(obj),
		CreatedAt:     created,
		AuthorPubkey:  obj.AuthorPubkey(),
		SignatureJSON: signature,
		TxID:          txID,
		Status:        status,
		Error:         failure,
	}
	return store.UpsertObject(ctx, i.store, row, i.timestamp())
}

// describeError renders err the way it is recorded in ingest_error:
// "CODE: message" for kernel errors, the bare message otherwise.
func describeError(err error) string {
	var ke *kernel.Error
	if errors.As(err, &ke) {
		return ke.Error()
	}
	return err.Error()
}

func stringOr(obj kernel.Object, key, fallback string) string {
	if s, ok := obj.StringField(key); ok {
		return s
	}
	return fallback
}

// canonicalText stores obj in canonical form when it has one, and as plain
// JSON otherwise so the audit row is never lost.
func canonicalText(obj kernel.Object) string {
	if data, err := kernel.Canonicalize(obj); err == nil {
		return string(data)
	}
	return jsonText(obj)
}

// jsonText encodes v as compact JSON without HTML escaping.
func jsonText(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
