package snapshot

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/hayabusa-fifo/fifoqueue/pkg/errors"
)

// LocalStore implements Store on the local filesystem. Each snapshot is
// written atomically (write to a temp file, then rename) so a crash
// mid-write never leaves a corrupt snapshot in place of a good one.
type LocalStore struct {
	baseDir string
}

// NewLocal returns a LocalStore rooted at baseDir, creating it if needed.
func NewLocal(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, errors.New(CodeWriteFailed, "base dir is required", nil)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errWriteFailed(err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errWriteFailed(err)
	}
	return &LocalStore{baseDir: filepath.Clean(abs)}, nil
}

func (s *LocalStore) path(queue string) (string, error) {
	full := filepath.Join(s.baseDir, key(queue))
	prefix := s.baseDir
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	if !strings.HasPrefix(full, prefix) {
		return "", errors.New(CodeWriteFailed, "invalid queue name: path traversal detected", nil)
	}
	return full, nil
}

// Put writes data prefixed with its 8-byte big-endian index, then renames
// it into place over any prior snapshot for queue.
func (s *LocalStore) Put(ctx context.Context, queue string, index uint64, data []byte) error {
	full, err := s.path(queue)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errWriteFailed(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".snap-*.tmp")
	if err != nil {
		return errWriteFailed(err)
	}
	defer os.Remove(tmp.Name())

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], index)
	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		return errWriteFailed(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errWriteFailed(err)
	}
	if err := tmp.Close(); err != nil {
		return errWriteFailed(err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return errWriteFailed(err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, queue string) ([]byte, uint64, error) {
	full, err := s.path(queue)
	if err != nil {
		return nil, 0, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errNotFound(queue)
		}
		return nil, 0, errReadFailed(err)
	}
	if len(raw) < 8 {
		return nil, 0, errReadFailed(nil)
	}
	index := binary.BigEndian.Uint64(raw[:8])
	return raw[8:], index, nil
}
