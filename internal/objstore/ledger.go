package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/ledger"
)

// Tag is a name/value pair attached to an uploaded transaction.
type Tag struct {
	Name  string
	Value string
}

// Uploader publishes bytes to the ledger and returns the transaction id.
type Uploader interface {
	Upload(ctx context.Context, data []byte, tags []Tag) (string, error)
}

// LedgerReader is the part of the ledger client the store reads through.
type LedgerReader interface {
	LookupTxIDByContentID(ctx context.Context, contentID string) (string, error)
	GetTransactionData(ctx context.Context, txID string) ([]byte, error)
}

// LedgerStore reads objects from the ledger and writes them through an
// Uploader. Content id to transaction id lookups go through cache first.
type LedgerStore struct {
	reader   LedgerReader
	uploader Uploader
	cache    ledger.Cache
	opts     options
}

// NewLedgerStore creates a ledger-backed store. A nil uploader makes the
// store read-only; a nil cache uses a process-local one.
func NewLedgerStore(reader LedgerReader, uploader Uploader, cache ledger.Cache, opts ...Option) *LedgerStore {
	if cache == nil {
		cache = ledger.NewMemoryCache()
	}
	return &LedgerStore{
		reader:   reader,
		uploader: uploader,
		cache:    cache,
		opts:     buildOptions(BackendLedger, opts),
	}
}

// BuildTags returns the tags an object is uploaded with.
func BuildTags(obj kernel.Object, contentID string) []Tag {
	str := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}
	tags := []Tag{
		{Name: ledger.TagType, Value: str("type")},
		{Name: "wofi:schema_version", Value: str("schema_version")},
		{Name: ledger.TagContentID, Value: contentID},
		{Name: "wofi:created_at", Value: str("created_at")},
		{Name: "Content-Type", Value: "application/json"},
	}
	if pub := obj.AuthorPubkey(); pub != "" {
		tags = append(tags, Tag{Name: "wofi:author", Value: pub})
	}
	if profileID := str("profile_id"); profileID != "" {
		tags = append(tags, Tag{Name: "wofi:profile_id", Value: profileID})
	}
	return tags
}

// lookup resolves a content id to a transaction id. The boolean is false
// when the ledger has no such object.
func (s *LedgerStore) lookup(ctx context.Context, contentID string) (string, bool, error) {
	txID, ok, err := s.cache.Get(ctx, contentID)
	if err != nil {
		s.opts.logger.WarnContext(ctx, "ledger cache read failed", "content_id", contentID, "error", err)
	} else if ok {
		return txID, true, nil
	}

	txID, err = s.reader.LookupTxIDByContentID(ctx, contentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fetchFailed("look up transaction", contentID, "", err)
	}
	s.remember(ctx, contentID, txID)
	return txID, true, nil
}

func (s *LedgerStore) remember(ctx context.Context, contentID, txID string) {
	if err := s.cache.Set(ctx, contentID, txID); err != nil {
		s.opts.logger.WarnContext(ctx, "ledger cache write failed", "content_id", contentID, "error", err)
	}
}

func (s *LedgerStore) PutObject(ctx context.Context, obj kernel.Object) (PutResult, error) {
	started := time.Now()
	res, err := s.put(ctx, obj)
	s.opts.metrics.IncObjstore(BackendLedger, "put", err)
	if err != nil {
		return PutResult{}, err
	}

	msg := "ledger put ok"
	if res.AlreadyExisted {
		msg = "ledger put idempotent hit"
	}
	s.opts.logger.InfoContext(ctx, msg,
		"content_id", res.ContentID,
		"tx_id", res.TxID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (s *LedgerStore) put(ctx context.Context, obj kernel.Object) (PutResult, error) {
	stored, data, err := prepare(obj, s.opts.allowUnsigned)
	if err != nil {
		return PutResult{}, wrapPut(err)
	}
	contentID := stored.ContentID()

	existing, found, err := s.lookup(ctx, contentID)
	if err != nil {
		return PutResult{}, err
	}
	if found {
		return PutResult{ContentID: contentID, TxID: existing, AlreadyExisted: true}, nil
	}

	if s.uploader == nil {
		return PutResult{}, putFailed("ledger uploader is not configured", nil)
	}
	txID, err := s.uploader.Upload(ctx, data, BuildTags(stored, contentID))
	if err != nil {
		return PutResult{}, putFailed("upload object", err)
	}
	if txID == "" {
		return PutResult{}, putFailed("upload returned no transaction id", nil)
	}
	s.remember(ctx, contentID, txID)
	return PutResult{ContentID: contentID, TxID: txID}, nil
}

func (s *LedgerStore) GetObjectByContentID(ctx context.Context, contentID string) (kernel.Object, error) {
	txID, found, err := s.lookup(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	obj, err := s.GetObjectByTxID(ctx, txID)
	if err != nil {
		return nil, err
	}
	computed, err := kernel.ContentID(obj)
	if err != nil {
		return nil, fetchFailed("stored object has no content id", contentID, txID, err)
	}
	if computed != contentID {
		return nil, idMismatch("content_id mismatch on read", contentID, txID)
	}
	return obj, nil
}

func (s *LedgerStore) GetObjectByTxID(ctx context.Context, txID string) (kernel.Object, error) {
	started := time.Now()
	data, err := s.reader.GetTransactionData(ctx, txID)
	if errors.Is(err, ledger.ErrNotFound) {
		s.opts.metrics.IncObjstore(BackendLedger, "get", nil)
		return nil, ErrNotFound
	}
	if err != nil {
		err = fetchFailed(fmt.Sprintf("fetch transaction %s", txID), "", txID, err)
		s.opts.metrics.IncObjstore(BackendLedger, "get", err)
		return nil, err
	}

	obj, err := decode(data, "", txID)
	s.opts.metrics.IncObjstore(BackendLedger, "get", err)
	if err != nil {
		return nil, err
	}
	computed, _ := kernel.ContentID(obj)
	s.remember(ctx, computed, txID)
	s.opts.logger.DebugContext(ctx, "ledger read ok",
		"content_id", computed,
		"tx_id", txID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return obj, nil
}

func (s *LedgerStore) HasContentID(ctx context.Context, contentID string) (bool, error) {
	_, found, err := s.lookup(ctx, contentID)
	return found, err
}
