// Package snapshot persists the dehydrated state a release cursor carries
// (§4.9) so a replica that restarts can truncate its local log instead of
// replaying it from the beginning. The core only ever hands callers an
// opaque ReleaseCursorEffect; encoding and durability are entirely this
// package's concern, never the pure state machine's.
package snapshot

import (
	"context"
	"fmt"

	"github.com/hayabusa-fifo/fifoqueue/pkg/errors"
)

// Error codes for the snapshot package.
const (
	CodeWriteFailed = "SNAPSHOT_WRITE_FAILED"
	CodeReadFailed  = "SNAPSHOT_READ_FAILED"
	CodeNotFound    = "SNAPSHOT_NOT_FOUND"
)

func errWriteFailed(err error) *errors.AppError {
	return errors.New(CodeWriteFailed, "failed to write snapshot", err)
}

func errReadFailed(err error) *errors.AppError {
	return errors.New(CodeReadFailed, "failed to read snapshot", err)
}

func errNotFound(queue string) *errors.AppError {
	return errors.New(CodeNotFound, fmt.Sprintf("no snapshot for queue %q", queue), nil)
}

// Store persists and retrieves the single most recent snapshot for each
// queue. Encoding of the dehydrated state is the caller's responsibility —
// Store only ever moves opaque bytes.
type Store interface {
	// Put durably stores data as queue's snapshot as of log index.
	Put(ctx context.Context, queue string, index uint64, data []byte) error
	// Get returns the most recently stored snapshot for queue, along with
	// the log index it was taken at.
	Get(ctx context.Context, queue string) (data []byte, index uint64, err error)
}

func key(queue string) string {
	return fmt.Sprintf("fifoqueue/snapshots/%s.snap", queue)
}
