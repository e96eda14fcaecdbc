// Package mint is the write path for new objects: each object is stored in
// the blob store first and then ingested with the transaction id the store
// returned, so the index never holds an object the blob store lacks.
package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bertona88/wofi/internal/ingest"
	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/objstore"
	"github.com/bertona88/wofi/internal/store"
)

// ErrUnknownObject is returned when a referenced object has not been
// ingested successfully.
var ErrUnknownObject = errors.New("object not indexed")

// Result describes one minted object.
type Result struct {
	ContentID      string        `json:"content_id"`
	TxID           string        `json:"tx_id"`
	AlreadyExisted bool          `json:"already_existed"`
	Ingest         ingest.Result `json:"ingest"`
}

// Minter writes objects through an object store and an ingester.
type Minter struct {
	objects  objstore.ObjectStore
	ingester *ingest.Ingester
	seed     []byte
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Minter.
type Option func(*Minter)

// WithSigningKey signs every unsigned object with the 32-byte ed25519 seed
// before it is stored.
func WithSigningKey(seed []byte) Option {
	return func(m *Minter) { m.seed = seed }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Minter) { m.logger = logger }
}

// WithClock sets the clock used for default created_at values.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) { m.now = now }
}

// New creates a Minter.
func New(objects objstore.ObjectStore, ingester *ingest.Ingester, opts ...Option) *Minter {
	m := &Minter{
		objects:  objects,
		ingester: ingester,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Minter) createdAt(value string) string {
	if value != "" {
		return value
	}
	return store.FormatTime(m.now())
}

// Mint stores obj and ingests it. Objects that already carry a signature
// are stored as given.
func (m *Minter) Mint(ctx context.Context, obj kernel.Object) (Result, error) {
	if obj == nil {
		return Result{}, errors.New("mint: object is required")
	}

	toStore := obj
	if m.seed != nil && obj["signature"] == nil {
		signed, err := kernel.SignObject(obj, m.seed)
		if err != nil {
			return Result{}, fmt.Errorf("sign object: %w", err)
		}
		toStore = signed
	}

	put, err := m.objects.PutObject(ctx, toStore)
	if err != nil {
		return Result{}, fmt.Errorf("store object: %w", err)
	}

	stored := toStore.Clone()
	stored["content_id"] = put.ContentID
	res, err := m.ingester.Ingest(ctx, ingest.Input{
		CanonicalJSON: stored,
		ContentID:     put.ContentID,
		TxID:          put.TxID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", put.ContentID, err)
	}

	m.logger.InfoContext(ctx, "minted object",
		"content_id", put.ContentID,
		"tx_id", put.TxID,
		"wofi_type", res.WofiType,
		"status", res.Status,
		"already_existed", put.AlreadyExisted,
	)
	return Result{
		ContentID:      put.ContentID,
		TxID:           put.TxID,
		AlreadyExisted: put.AlreadyExisted,
		Ingest:         res,
	}, nil
}

// LinkEdge mints an edge between two indexed objects. Endpoint kinds come
// from the stored types, and the relation must be legal for them.
func (m *Minter) LinkEdge(ctx context.Context, rel kernel.Relation, fromID, toID, createdAt string) (Result, error) {
	if fromID == "" {
		return Result{}, errors.New("from id is required")
	}
	if toID == "" {
		return Result{}, errors.New("to id is required")
	}
	if !kernel.IsRelation(string(rel)) {
		return Result{}, fmt.Errorf("unknown relation %q", rel)
	}

	fromType, fromKind, err := m.endpoint(ctx, fromID)
	if err != nil {
		return Result{}, fmt.Errorf("edge from: %w", err)
	}
	toType, toKind, err := m.endpoint(ctx, toID)
	if err != nil {
		return Result{}, fmt.Errorf("edge to: %w", err)
	}
	if err := kernel.CheckRelation(rel, fromType, toType); err != nil {
		return Result{}, err
	}

	obj := kernel.Object{
		"type":           string(kernel.TypeEdge),
		"schema_version": kernel.SchemaVersion1,
		"rel":            string(rel),
		"from":           map[string]any{"kind": string(fromKind), "id": fromID},
		"to":             map[string]any{"kind": string(toKind), "id": toID},
		"created_at":     m.createdAt(createdAt),
	}
	if err := kernel.ValidateSchema(obj); err != nil {
		return Result{}, err
	}
	vctx := &kernel.ValidationContext{
		ObjectTypeByID: func(id string) (kernel.Type, bool) {
			switch id {
			case fromID:
				return fromType, true
			case toID:
				return toType, true
			}
			return "", false
		},
	}
	if err := kernel.ValidateInvariants(obj, vctx); err != nil {
		return Result{}, err
	}
	return m.Mint(ctx, obj)
}

// endpoint resolves the type and edge kind of an indexed object. Objects
// with a typed projection must have their typed row.
func (m *Minter) endpoint(ctx context.Context, id string) (kernel.Type, kernel.Kind, error) {
	st := m.ingester.Store()
	wofiType, ok, err := store.OKObjectType(ctx, st, id)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("%s: %w", id, ErrUnknownObject)
	}
	t := kernel.Type(wofiType)
	kind, ok := kernel.KindOf(t)
	if !ok {
		return "", "", fmt.Errorf("unsupported edge endpoint type %s", wofiType)
	}
	if err := m.requireTyped(ctx, t, kind, id); err != nil {
		return "", "", err
	}
	return t, kind, nil
}

func (m *Minter) requireTyped(ctx context.Context, t kernel.Type, kind kernel.Kind, id string) error {
	if _, ok := store.TypedTable(string(t)); !ok {
		return nil
	}
	present, err := store.HasTypedRow(ctx, m.ingester.Store(), string(t), id)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("%s %s: %w", kind, id, ErrUnknownObject)
	}
	return nil
}
