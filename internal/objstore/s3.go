package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config locates an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Store keeps objects in an S3-compatible bucket. Objects live under
// objects/<content id>.json; tx/<tx id> maps a transaction id back to its
// content id.
type S3Store struct {
	client *minio.Client
	bucket string
	opts   options
}

// OpenS3Store connects to the bucket, creating it when missing.
func OpenS3Store(ctx context.Context, cfg S3Config, opts ...Option) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 store: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("s3 store: create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, opts: buildOptions(BackendS3, opts)}, nil
}

// S3TxID is the transaction id the S3 store assigns to contentID.
func S3TxID(contentID string) string {
	return deterministicTxID("s3", contentID)
}

func objectKey(contentID string) string {
	return "objects/" + contentID + ".json"
}

func txKey(txID string) string {
	return "tx/" + txID
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *S3Store) PutObject(ctx context.Context, obj kernel.Object) (PutResult, error) {
	started := time.Now()
	res, err := s.put(ctx, obj)
	s.opts.metrics.IncObjstore(BackendS3, "put", err)
	if err != nil {
		return PutResult{}, err
	}

	msg := "s3 put ok"
	if res.AlreadyExisted {
		msg = "s3 put idempotent hit"
	}
	s.opts.logger.InfoContext(ctx, msg,
		"content_id", res.ContentID,
		"tx_id", res.TxID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (s *S3Store) put(ctx context.Context, obj kernel.Object) (PutResult, error) {
	stored, data, err := prepare(obj, s.opts.allowUnsigned)
	if err != nil {
		return PutResult{}, wrapPut(err)
	}
	contentID := stored.ContentID()
	txID := S3TxID(contentID)

	exists, err := s.HasContentID(ctx, contentID)
	if err != nil {
		return PutResult{}, putFailed("check existing object", err)
	}
	if exists {
		return PutResult{ContentID: contentID, TxID: txID, AlreadyExisted: true}, nil
	}

	// The tx index goes first so a visible object always resolves by tx id.
	if err := s.putBytes(ctx, txKey(txID), []byte(contentID), "text/plain"); err != nil {
		return PutResult{}, putFailed("write tx index", err)
	}
	if err := s.putBytes(ctx, objectKey(contentID), data, "application/json"); err != nil {
		return PutResult{}, putFailed("write object", err)
	}
	return PutResult{ContentID: contentID, TxID: txID}, nil
}

func (s *S3Store) putBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *S3Store) getBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *S3Store) GetObjectByContentID(ctx context.Context, contentID string) (kernel.Object, error) {
	data, err := s.getBytes(ctx, objectKey(contentID))
	if isNoSuchKey(err) {
		s.opts.metrics.IncObjstore(BackendS3, "get", nil)
		return nil, ErrNotFound
	}
	if err != nil {
		err = fetchFailed("read object from s3", contentID, S3TxID(contentID), err)
		s.opts.metrics.IncObjstore(BackendS3, "get", err)
		return nil, err
	}

	obj, err := decode(data, contentID, S3TxID(contentID))
	s.opts.metrics.IncObjstore(BackendS3, "get", err)
	if err != nil {
		return nil, err
	}
	s.opts.logger.DebugContext(ctx, "s3 read ok", "content_id", contentID)
	return obj, nil
}

func (s *S3Store) GetObjectByTxID(ctx context.Context, txID string) (kernel.Object, error) {
	data, err := s.getBytes(ctx, txKey(txID))
	if isNoSuchKey(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fetchFailed("read tx index from s3", "", txID, err)
	}
	return s.GetObjectByContentID(ctx, string(data))
}

func (s *S3Store) HasContentID(ctx context.Context, contentID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(contentID), minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fetchFailed("stat object in s3", contentID, "", err)
	}
	return true, nil
}
