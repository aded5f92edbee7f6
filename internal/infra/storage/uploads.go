package storage

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

// apkMediaTypes are the declared content types accepted for an upload.
// Browsers often send octet-stream for APKs, so the filename suffix is the
// fallback gate.
var apkMediaTypes = map[string]bool{
	"application/vnd.android.package-archive": true,
	"application/octet-stream":                true,
}

func plausibleAPKName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".apk" || ext == ".xapk"
}

// Uploads keeps accepted artifacts under a single temp directory with
// generated names, never names derived from client input.
type Uploads struct {
	dir      string
	maxBytes int64
}

func NewUploads(dir string, maxBytes int64) (*Uploads, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Uploads{dir: dir, maxBytes: maxBytes}, nil
}

// Accept validates and persists one multipart upload, returning the stored
// path. Rejections are ValidationError / ErrPayloadTooLarge; if a file was
// written before a rejection it is removed here so the caller never has to.
func (u *Uploads) Accept(file multipart.File, header *multipart.FileHeader) (string, error) {
	declared := header.Header.Get("Content-Type")
	if !apkMediaTypes[declared] && !plausibleAPKName(header.Filename) {
		return "", domain.NewValidationError("not an APK: content type %q, filename %q", declared, header.Filename)
	}
	if header.Size > u.maxBytes {
		return "", domain.ErrPayloadTooLarge
	}

	path := filepath.Join(u.dir, uuid.New().String()+".apk")
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	// header.Size is client-declared; count what actually arrives
	written, err := io.Copy(dst, io.LimitReader(file, u.maxBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = u.Remove(path)
		return "", fmt.Errorf("store upload: %w", err)
	}
	if written > u.maxBytes {
		_ = u.Remove(path)
		return "", domain.ErrPayloadTooLarge
	}

	// never hand the orchestrator a reference to a non-materialized file
	if _, err := os.Stat(path); err != nil {
		_ = u.Remove(path)
		return "", domain.NewValidationError("upload was not materialized: %v", err)
	}

	return path, nil
}

// Stage copies a local file into the upload directory through the same
// acceptance gate. Used by the CLI so offline scans share the per-request
// file lifecycle (the copy, not the original, gets deleted).
func (u *Uploads) Stage(localPath string) (string, error) {
	if !plausibleAPKName(localPath) {
		return "", domain.NewValidationError("not an APK: %s", filepath.Base(localPath))
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > u.maxBytes {
		return "", domain.ErrPayloadTooLarge
	}

	path := filepath.Join(u.dir, uuid.New().String()+".apk")
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = u.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = u.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes one stored artifact. An already-absent file is success:
// an earlier partial failure may mean nothing was materialized.
func (u *Uploads) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			log.Printf("cleanup: artifact already absent path=%s", path)
			return nil
		}
		return err
	}
	return nil
}
