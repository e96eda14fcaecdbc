// Package objstore keeps the canonical bytes of minted objects, addressed by
// content id and by the transaction id the backend assigned on write.
//
// Three backends share one contract: DevStore (badger, local development),
// S3Store (any S3-compatible bucket via minio-go), and LedgerStore (reads
// through the ledger gateway, writes through a pluggable Uploader).
//
// Every write validates the object and checks a declared content_id against
// the computed one; every read recomputes the content id of the bytes it
// returns. Writes are idempotent: putting an object that is already stored
// returns the existing transaction id with AlreadyExisted set.
package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/metrics"
)

// Backend names, used in logs and metrics.
const (
	BackendDev    = "dev"
	BackendS3     = "s3"
	BackendLedger = "ledger"
)

// PutResult describes a write.
type PutResult struct {
	ContentID      string `json:"content_id"`
	TxID           string `json:"tx_id"`
	AlreadyExisted bool   `json:"already_existed"`
}

// ObjectStore is the blob store contract shared by every backend.
type ObjectStore interface {
	PutObject(ctx context.Context, obj kernel.Object) (PutResult, error)
	GetObjectByContentID(ctx context.Context, contentID string) (kernel.Object, error)
	GetObjectByTxID(ctx context.Context, txID string) (kernel.Object, error)
	HasContentID(ctx context.Context, contentID string) (bool, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	allowUnsigned bool
	logger        *slog.Logger
	metrics       *metrics.Recorder
}

// WithAllowUnsigned accepts objects without author and signature.
func WithAllowUnsigned(allow bool) Option {
	return func(o *options) { o.allowUnsigned = allow }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records per-operation counters.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(backend string, opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("backend", backend)
	return o
}

// prepare validates obj for writing and returns the object to store (with
// content_id set) and its canonical bytes. Kernel errors are returned as is.
func prepare(obj kernel.Object, allowUnsigned bool) (kernel.Object, []byte, error) {
	if err := kernel.ValidateSchema(obj); err != nil {
		return nil, nil, err
	}
	if err := kernel.ValidateInvariants(obj, nil); err != nil {
		return nil, nil, err
	}
	if err := kernel.VerifySignature(obj, allowUnsigned); err != nil {
		return nil, nil, err
	}

	computed, err := kernel.ContentID(obj)
	if err != nil {
		return nil, nil, err
	}
	declared := obj.ContentID()
	if declared != "" && declared != computed {
		return nil, nil, idMismatch("content_id mismatch", declared, "")
	}

	out := obj.Clone()
	out["content_id"] = computed
	data, err := kernel.Canonicalize(out)
	if err != nil {
		return nil, nil, err
	}
	return out, data, nil
}

// decode parses stored bytes and checks them against the content id they
// were addressed by. An empty want only checks the declared content_id.
func decode(data []byte, want, txID string) (kernel.Object, error) {
	obj, err := kernel.ParseObject(data)
	if err != nil {
		return nil, fetchFailed("stored object is not valid JSON", want, txID, err)
	}
	computed, err := kernel.ContentID(obj)
	if err != nil {
		return nil, fetchFailed("stored object has no content id", want, txID, err)
	}
	if want != "" && computed != want {
		return nil, idMismatch("content_id mismatch on read", want, txID)
	}
	if declared := obj.ContentID(); declared != "" && declared != computed {
		return nil, idMismatch("content_id mismatch on read", declared, txID)
	}
	return obj, nil
}

// wrapPut passes coded errors through and wraps anything else.
func wrapPut(err error) error {
	var se *Error
	if errors.As(err, &se) || kernel.CodeOf(err) != "" {
		return err
	}
	return putFailed("write object", err)
}

// deterministicTxID derives a stable transaction id for backends that do
// not assign one.
func deterministicTxID(prefix, contentID string) string {
	sum := sha256.Sum256([]byte(contentID))
	return prefix + "-" + hex.EncodeToString(sum[:])
}
