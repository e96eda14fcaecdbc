package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/dgraph-io/badger/v4"
)

// Key prefixes in the dev store.
const (
	prefixObject = "obj/"
	prefixTx     = "tx/"
	prefixCID    = "cid/"
)

// DevStore keeps objects in a local badger database. Transaction ids are
// derived from the content id, so the same object always gets the same id.
type DevStore struct {
	db   *badger.DB
	opts options
}

// OpenDevStore opens (creating if needed) a dev store in dir.
func OpenDevStore(dir string, opts ...Option) (*DevStore, error) {
	return openDev(badger.DefaultOptions(dir), opts)
}

// OpenDevStoreInMemory opens a dev store whose data is lost on Close.
func OpenDevStoreInMemory(opts ...Option) (*DevStore, error) {
	return openDev(badger.DefaultOptions("").WithInMemory(true), opts)
}

func openDev(badgerOpts badger.Options, opts []Option) (*DevStore, error) {
	db, err := badger.Open(badgerOpts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open dev store: %w", err)
	}
	return &DevStore{db: db, opts: buildOptions(BackendDev, opts)}, nil
}

// Close closes the underlying database.
func (s *DevStore) Close() error {
	return s.db.Close()
}

// DevTxID is the transaction id the dev store assigns to contentID.
func DevTxID(contentID string) string {
	return deterministicTxID("dev", contentID)
}

func (s *DevStore) PutObject(ctx context.Context, obj kernel.Object) (PutResult, error) {
	started := time.Now()
	res, err := s.put(obj)
	s.opts.metrics.IncObjstore(BackendDev, "put", err)
	if err != nil {
		return PutResult{}, err
	}

	msg := "devstore put ok"
	if res.AlreadyExisted {
		msg = "devstore put idempotent hit"
	}
	s.opts.logger.InfoContext(ctx, msg,
		"content_id", res.ContentID,
		"tx_id", res.TxID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (s *DevStore) put(obj kernel.Object) (PutResult, error) {
	stored, data, err := prepare(obj, s.opts.allowUnsigned)
	if err != nil {
		return PutResult{}, wrapPut(err)
	}
	contentID := stored.ContentID()

	var res PutResult
	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := getString(txn, prefixCID+contentID)
		if err == nil {
			res = PutResult{ContentID: contentID, TxID: existing, AlreadyExisted: true}
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		txID := DevTxID(contentID)
		if err := txn.Set([]byte(prefixObject+contentID), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixCID+contentID), []byte(txID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixTx+txID), []byte(contentID)); err != nil {
			return err
		}
		res = PutResult{ContentID: contentID, TxID: txID}
		return nil
	})
	if err != nil {
		return PutResult{}, wrapPut(err)
	}
	return res, nil
}

func (s *DevStore) GetObjectByContentID(ctx context.Context, contentID string) (kernel.Object, error) {
	var data []byte
	var txID string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if txID, err = getString(txn, prefixCID+contentID); err != nil {
			return err
		}
		item, err := txn.Get([]byte(prefixObject + contentID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.opts.metrics.IncObjstore(BackendDev, "get", nil)
		return nil, ErrNotFound
	}
	if err != nil {
		err = fetchFailed("read object from dev store", contentID, txID, err)
		s.opts.metrics.IncObjstore(BackendDev, "get", err)
		return nil, err
	}

	obj, err := decode(data, contentID, txID)
	s.opts.metrics.IncObjstore(BackendDev, "get", err)
	if err != nil {
		return nil, err
	}
	s.opts.logger.DebugContext(ctx, "devstore read ok", "content_id", contentID, "tx_id", txID)
	return obj, nil
}

func (s *DevStore) GetObjectByTxID(ctx context.Context, txID string) (kernel.Object, error) {
	var contentID string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		contentID, err = getString(txn, prefixTx+txID)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fetchFailed("read tx index from dev store", "", txID, err)
	}
	return s.GetObjectByContentID(ctx, contentID)
}

func (s *DevStore) HasContentID(_ context.Context, contentID string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixCID + contentID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fetchFailed("read dev store index", contentID, "", err)
	}
	return true, nil
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}
