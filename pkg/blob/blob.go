package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chatcoord/pkg/logger"
)

// Store accepts attachment uploads and returns the URL a message should
// carry. Implementations must leave no partial file behind on failure.
type Store interface {
	Put(ctx context.Context, r io.Reader, filename string) (string, error)
}

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = fmt.Errorf("attachment exceeds size limit")

// DirStore keeps attachments as flat files in a local directory and serves
// them under a base URL path.
type DirStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewDirStore creates the directory if needed. maxBytes <= 0 disables the
// size limit.
func NewDirStore(dir, baseURL string, maxBytes int64) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &DirStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

// Dir returns the backing directory, for static file serving.
func (s *DirStore) Dir() string { return s.dir }

// Put streams r into a uniquely named file and returns its URL. The
// original filename only contributes its extension; names are never
// trusted as paths.
func (s *DirStore) Put(ctx context.Context, r io.Reader, filename string) (string, error) {
	ext := filepath.Ext(filepath.Base(filename))
	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	written, err := s.copy(ctx, f, r)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	logger.Info("attachment_stored", "name", name, "bytes", written)
	return s.baseURL + "/" + name, nil
}

// copy moves data in chunks, checking for cancellation and the size limit
// between chunks.
func (s *DirStore) copy(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if s.maxBytes > 0 && total+int64(n) > s.maxBytes {
				return total, ErrTooLarge
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("write attachment: %w", werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("read attachment: %w", rerr)
		}
	}
}
