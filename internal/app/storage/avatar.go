package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"naberya/internal/pkg/errs"
	"naberya/internal/pkg/randx"
)

const (
	// MaxAvatarSizeMB is the maximum allowed avatar size in megabytes.
	MaxAvatarSizeMB = 5

	// MaxAvatarSize is the maximum allowed avatar size in bytes.
	MaxAvatarSize = MaxAvatarSizeMB * 1024 * 1024

	// PresignedURLDuration is the fixed duration for which the upload URL is valid (5 minutes).
	PresignedURLDuration = 5 * time.Minute

	avatarPrefix = "avatars"
)

// AllowedMIMETypes defines the set of permitted MIME types for avatars.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAvatarSize {
		return errs.NewError(errs.ErrFileSizeTooLarge, MaxAvatarSizeMB)
	}

	return nil
}

// ValidateFileType checks if the provided file name and MIME type are allowed and agree.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expectedMIME, ok := ExtToMIME[ext]
	if !ok || expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	return nil
}

// AvatarKey returns a fresh object key for userID's avatar.
func AvatarKey(userID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return path.Join(avatarPrefix, userID, randx.NewID()+ext)
}

// OwnsAvatarKey reports whether key was issued for userID.
func OwnsAvatarKey(userID, key string) bool {
	rest, ok := strings.CutPrefix(key, avatarPrefix+"/"+userID+"/")
	return ok && rest != "" && !strings.Contains(rest, "/") && path.Clean(key) == key
}

// AvatarUpload is returned to clients that upload with a presigned URL.
type AvatarUpload struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Avatars manages avatar objects on top of a StorageService.
type Avatars struct {
	store StorageService
	now   func() time.Time
}

// NewAvatars constructs Avatars.
func NewAvatars(store StorageService) *Avatars {
	return &Avatars{store: store, now: time.Now}
}

// Presign validates the file and returns a presigned upload for a new key.
func (a *Avatars) Presign(ctx context.Context, userID, fileName, mimeType string, fileSize int64) (AvatarUpload, error) {
	if err := ValidateFileSize(fileSize); err != nil {
		return AvatarUpload{}, err
	}
	if err := ValidateFileType(fileName, mimeType); err != nil {
		return AvatarUpload{}, err
	}

	key := AvatarKey(userID, fileName)
	url, err := a.store.PresignUpload(ctx, key, strings.ToLower(mimeType), fileSize, PresignedURLDuration)
	if err != nil {
		return AvatarUpload{}, errs.NewError(errs.ErrFileStorageFailed)
	}

	return AvatarUpload{
		Key:       key,
		UploadURL: url,
		ExpiresAt: a.now().Add(PresignedURLDuration).UTC(),
	}, nil
}

// Confirm checks that a presigned upload landed and returns its public URL.
func (a *Avatars) Confirm(ctx context.Context, userID, key string) (string, error) {
	if !OwnsAvatarKey(userID, key) {
		return "", errs.NewError(errs.ErrInvalidParams)
	}

	info, err := a.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", errs.NewError(errs.ErrInvalidParams)
		}
		return "", errs.NewError(errs.ErrFileStorageFailed)
	}

	if cerr := a.validateStored(key, info); cerr != nil {
		_ = a.store.Delete(ctx, key)
		return "", cerr
	}

	return a.store.PublicURL(key), nil
}

// Upload validates and stores a file posted to the server and returns its public URL.
func (a *Avatars) Upload(ctx context.Context, userID, fileName, mimeType string, fileSize int64, body io.Reader) (string, error) {
	if err := ValidateFileSize(fileSize); err != nil {
		return "", err
	}
	if err := ValidateFileType(fileName, mimeType); err != nil {
		return "", err
	}

	key := AvatarKey(userID, fileName)
	if err := a.store.Upload(ctx, key, strings.ToLower(mimeType), io.LimitReader(body, MaxAvatarSize)); err != nil {
		return "", errs.NewError(errs.ErrFileStorageFailed)
	}

	return a.store.PublicURL(key), nil
}

// validateStored checks metadata reported by the bucket, which the client controlled.
func (a *Avatars) validateStored(key string, info ObjectInfo) *errs.CustomError {
	if err := ValidateFileSize(info.Size); err != nil {
		return err
	}
	return ValidateFileType(key, info.ContentType)
}
