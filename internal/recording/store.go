package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var _ BlobStore = (*FilesystemBlobStore)(nil)

// BlobStore abstracts the storage backing recording artifacts. Recordings are
// opaque to the call engine; only the authority decides who touches them.
type BlobStore interface {
	// Create allocates a new writable object for the session's recording.
	Create(ctx context.Context, sessionID string, startedAt time.Time) (*BlobWriter, error)
	// Open returns a readable stream for the stored blob at the given path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Stat returns metadata for the stored blob at the given path.
	Stat(ctx context.Context, path string) (BlobInfo, error)
	// Delete removes the stored blob at the given path.
	Delete(ctx context.Context, path string) error
}

// BlobWriter is a writable handle created by the BlobStore.
type BlobWriter struct {
	Path   string
	Writer io.WriteCloser
}

// BlobInfo captures size and timestamp metadata for stored blobs.
type BlobInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// FilesystemBlobStore persists recording blobs on the local filesystem,
// organised by year/month under a fixed root.
type FilesystemBlobStore struct {
	root string
}

// NewFilesystemBlobStore initialises a store rooted at dir, creating it if needed.
func NewFilesystemBlobStore(dir string) (*FilesystemBlobStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("recording store: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording store: ensure root directory: %w", err)
	}
	return &FilesystemBlobStore{root: dir}, nil
}

// Create opens a new recording file for writing.
func (s *FilesystemBlobStore) Create(_ context.Context, sessionID string, startedAt time.Time) (*BlobWriter, error) {
	if s == nil {
		return nil, errors.New("recording store: store not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("recording store: session id is required")
	}
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	year := fmt.Sprintf("%04d", startedAt.UTC().Year())
	month := fmt.Sprintf("%02d", int(startedAt.UTC().Month()))

	dir := filepath.Join(s.root, year, month)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording store: mkdir %s: %w", dir, err)
	}

	filename := fmt.Sprintf("%s-%s.media.gz",
		sanitizePathFragment(sessionID), startedAt.UTC().Format("20060102T150405Z"))
	fullPath := filepath.Join(dir, filename)

	fh, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("recording store: create file: %w", err)
	}

	return &BlobWriter{Path: s.relative(fullPath), Writer: fh}, nil
}

// Open returns a reader for the stored blob.
func (s *FilesystemBlobStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if s == nil {
		return nil, errors.New("recording store: store not initialised")
	}
	fh, err := os.Open(s.absolute(path))
	if err != nil {
		return nil, fmt.Errorf("recording store: open file: %w", err)
	}
	return fh, nil
}

// Stat returns file metadata for the stored blob.
func (s *FilesystemBlobStore) Stat(_ context.Context, path string) (BlobInfo, error) {
	if s == nil {
		return BlobInfo{}, errors.New("recording store: store not initialised")
	}
	fullPath := s.absolute(path)
	info, err := os.Stat(fullPath)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("recording store: stat file: %w", err)
	}
	return BlobInfo{
		Path:    s.relative(fullPath),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Delete removes the stored blob. Missing files are not an error; retention
// cleanup and explicit deletes may race.
func (s *FilesystemBlobStore) Delete(_ context.Context, path string) error {
	if s == nil {
		return errors.New("recording store: store not initialised")
	}
	if err := os.Remove(s.absolute(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("recording store: delete file: %w", err)
	}
	return nil
}

func (s *FilesystemBlobStore) absolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *FilesystemBlobStore) relative(fullPath string) string {
	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil {
		return fullPath
	}
	return filepath.ToSlash(rel)
}

func sanitizePathFragment(fragment string) string {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	fragment = strings.ReplaceAll(fragment, "..", "")
	fragment = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, fragment)
	fragment = strings.Trim(fragment, "-")
	if fragment == "" {
		return "recording"
	}
	return fragment
}
