package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"naberya/internal/pkg/errs"
)

type fakeStore struct {
	objects map[string]ObjectInfo
	deleted []string
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]ObjectInfo)}
}

func (f *fakeStore) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	if f.failing {
		return "", errors.New("boom")
	}
	return "https://bucket.example/" + key + "?signature=x", nil
}

func (f *fakeStore) Upload(_ context.Context, key, mimeType string, body io.Reader) error {
	if f.failing {
		return errors.New("boom")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = ObjectInfo{ContentType: mimeType, Size: int64(len(data))}
	return nil
}

func (f *fakeStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	info, ok := f.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return info, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) PublicURL(key string) string {
	return "https://cdn.example/" + key
}

const userID = "6f1c1a3e-8d7b-4c55-9a55-0d3c2a1b9e10"

func TestValidateFileType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		mimeType string
		ok       bool
	}{
		{"png", "me.png", "image/png", true},
		{"upper-case jpeg", "ME.JPG", "IMAGE/JPEG", true},
		{"extension mismatch", "me.png", "image/jpeg", false},
		{"no extension", "me", "image/png", false},
		{"not an image", "notes.txt", "text/plain", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileType(tt.fileName, tt.mimeType)
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && (err == nil || err.Code != errs.ErrFileTypeInvalid) {
				t.Errorf("expected ErrFileTypeInvalid, got %v", err)
			}
		})
	}
}

func TestValidateFileSize(t *testing.T) {
	if err := ValidateFileSize(1024); err != nil {
		t.Errorf("expected valid size, got %v", err)
	}
	if err := ValidateFileSize(0); err == nil || err.Code != errs.ErrInvalidParams {
		t.Errorf("expected ErrInvalidParams for empty file, got %v", err)
	}
	err := ValidateFileSize(MaxAvatarSize + 1)
	if err == nil || err.Code != errs.ErrFileSizeTooLarge {
		t.Fatalf("expected ErrFileSizeTooLarge, got %v", err)
	}
	if !strings.Contains(err.Message, "5 MB") {
		t.Errorf("limit missing from message %q", err.Message)
	}
}

func TestOwnsAvatarKey(t *testing.T) {
	key := AvatarKey(userID, "Me.PNG")
	if !strings.HasPrefix(key, "avatars/"+userID+"/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected key %q", key)
	}

	if !OwnsAvatarKey(userID, key) {
		t.Errorf("user should own %q", key)
	}
	if OwnsAvatarKey("someone-else", key) {
		t.Errorf("other user should not own %q", key)
	}
	if OwnsAvatarKey(userID, "avatars/"+userID+"/../other/x.png") {
		t.Error("path traversal accepted")
	}
	if OwnsAvatarKey(userID, "avatars/"+userID+"/") {
		t.Error("empty object name accepted")
	}
}

func TestPresignAndConfirm(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	avatars := NewAvatars(store)

	upload, err := avatars.Presign(ctx, userID, "me.png", "image/png", 2048)
	if err != nil {
		t.Fatalf("Presign failed: %v", err)
	}
	if !strings.Contains(upload.UploadURL, upload.Key) {
		t.Errorf("upload URL %q does not target key %q", upload.UploadURL, upload.Key)
	}
	if upload.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not set")
	}

	_, err = avatars.Confirm(ctx, userID, upload.Key)
	if !errs.Is(err, errs.ErrInvalidParams) {
		t.Errorf("confirming a missing object: expected ErrInvalidParams, got %v", err)
	}

	store.objects[upload.Key] = ObjectInfo{ContentType: "image/png", Size: 2048}
	url, err := avatars.Confirm(ctx, userID, upload.Key)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if url != "https://cdn.example/"+upload.Key {
		t.Errorf("unexpected public URL %q", url)
	}

	_, err = avatars.Confirm(ctx, "other-user", upload.Key)
	if !errs.Is(err, errs.ErrInvalidParams) {
		t.Errorf("foreign key: expected ErrInvalidParams, got %v", err)
	}
}

func TestConfirmRejectsTamperedObject(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	avatars := NewAvatars(store)

	key := AvatarKey(userID, "me.png")
	store.objects[key] = ObjectInfo{ContentType: "text/html", Size: 100}

	_, err := avatars.Confirm(ctx, userID, key)
	if !errs.Is(err, errs.ErrFileTypeInvalid) {
		t.Fatalf("expected ErrFileTypeInvalid, got %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != key {
		t.Errorf("tampered object should be deleted, deleted=%v", store.deleted)
	}
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	avatars := NewAvatars(store)

	url, err := avatars.Upload(ctx, userID, "me.gif", "image/gif", 3, strings.NewReader("GIF"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example/avatars/"+userID+"/") {
		t.Errorf("unexpected URL %q", url)
	}

	store.failing = true
	_, err = avatars.Upload(ctx, userID, "me.gif", "image/gif", 3, strings.NewReader("GIF"))
	if !errs.Is(err, errs.ErrFileStorageFailed) {
		t.Errorf("expected ErrFileStorageFailed, got %v", err)
	}
}
