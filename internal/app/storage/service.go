/*
Package storage provides avatar uploads to S3-compatible object storage.

Clients either upload directly with a short-lived presigned PUT URL and then confirm the
object key, or post the file to the server, which streams it to the bucket. Objects are
keyed per user (avatars/<userID>/<uuid><ext>) and served from AssetBaseURL.
*/
package storage

import (
	"context"
	"io"
	"time"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// AssetBaseURL is the public base URL objects are served from.
	AssetBaseURL string
}

// ObjectInfo is the metadata of a stored object.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// StorageService defines the public interface for the file storage service.
type StorageService interface {
	// PresignUpload generates a pre-signed URL for uploading a file.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// Upload streams body to key.
	Upload(ctx context.Context, key, mimeType string, body io.Reader) error

	// Stat returns the object's metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the file specified by the given key.
	Delete(ctx context.Context, key string) error

	// PublicURL returns the URL the object is served from.
	PublicURL(key string) string
}

// NewStorageService is the factory function for StorageService.
// It initializes and returns a concrete implementation based on the provided configuration.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	// Currently, only S3 compatible implementations are supported.
	return newS3Client(ctx, cfg)
}
