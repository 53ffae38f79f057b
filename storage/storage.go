// Package storage archives raw message bodies to S3-compatible object
// storage before a destructive rule action runs against the mail store.
//
// Objects are content-addressed by the BLAKE3 hash of the raw message, so
// re-archiving the same message is a no-op and the same body archived under
// two rules is stored once.
package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"lukechampine.com/blake3"

	"github.com/kochj23/mailsummary/consts"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
)

type S3Storage struct {
	Client     *minio.Client
	BucketName string
}

func New(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool, debug bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		logger.Error("failed to initialize S3 client", "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	if debug {
		client.TraceOn(os.Stdout)
	}

	return &S3Storage{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// ContentHash returns the hex BLAKE3 hash used as the archive key for the
// given raw message body.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// keyFor splits the content hash into a two-level prefix so buckets with
// many objects stay listable.
func keyFor(contentHash string) string {
	if len(contentHash) < 4 {
		return contentHash
	}
	return path.Join(contentHash[:2], contentHash[2:4], contentHash)
}

// Exists checks whether an object for the given content hash is already
// archived.
func (s *S3Storage) Exists(ctx context.Context, contentHash string) (bool, error) {
	start := time.Now()
	_, err := s.Client.StatObject(ctx, s.BucketName, keyFor(contentHash), minio.StatObjectOptions{})
	metrics.S3OperationDuration.WithLabelValues("stat").Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.S3OperationsTotal.WithLabelValues("stat", "success").Inc()
		return true, nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) && minioErr.StatusCode == 404 {
		metrics.S3OperationsTotal.WithLabelValues("stat", "success").Inc()
		return false, nil
	}

	metrics.S3OperationsTotal.WithLabelValues("stat", "failure").Inc()
	return false, fmt.Errorf("failed to stat object %s: %w", contentHash, err)
}

// Put uploads the raw message body under its content hash. Uploading a body
// that is already archived succeeds without a second upload.
func (s *S3Storage) Put(ctx context.Context, contentHash string, data []byte) error {
	exists, err := s.Exists(ctx, contentHash)
	if err != nil {
		return err
	}
	if exists {
		logger.Debug("message already archived", "hash", contentHash)
		return nil
	}

	start := time.Now()
	_, err = s.Client.PutObject(
		ctx,
		s.BucketName,
		keyFor(contentHash),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "message/rfc822", SendContentMd5: true},
	)
	metrics.S3OperationDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("put", "failure").Inc()
		return fmt.Errorf("%w: %s: %v", consts.ErrS3UploadFailed, contentHash, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("put", "success").Inc()
	return nil
}

// Archive hashes the raw message and uploads it, returning the content hash
// under which it was stored.
func (s *S3Storage) Archive(ctx context.Context, data []byte) (string, error) {
	contentHash := ContentHash(data)
	if err := s.Put(ctx, contentHash, data); err != nil {
		return "", err
	}
	return contentHash, nil
}

// Get retrieves an archived message body by content hash.
func (s *S3Storage) Get(ctx context.Context, contentHash string) (io.ReadCloser, error) {
	start := time.Now()
	object, err := s.Client.GetObject(ctx, s.BucketName, keyFor(contentHash), minio.GetObjectOptions{})
	metrics.S3OperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("get", "failure").Inc()
		return nil, fmt.Errorf("failed to get object %s: %w", contentHash, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("get", "success").Inc()
	return object, nil
}

// Delete removes an archived message. Deleting a missing object succeeds.
func (s *S3Storage) Delete(ctx context.Context, contentHash string) error {
	exists, err := s.Exists(ctx, contentHash)
	if err != nil {
		return err
	}
	if !exists {
		logger.Debug("object not in archive, skipping delete", "hash", contentHash)
		return nil
	}

	start := time.Now()
	err = s.Client.RemoveObject(ctx, s.BucketName, keyFor(contentHash), minio.RemoveObjectOptions{})
	metrics.S3OperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("delete", "failure").Inc()
		return fmt.Errorf("failed to delete object %s: %w", contentHash, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}
