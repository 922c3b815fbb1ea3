package fifoqueue

import "github.com/hayabusa-fifo/fifoqueue/pkg/errors"

// Error codes for the recoverable error kinds in spec §7. These mirror the
// CodeXxx/ErrXxx pattern pkg/messaging/errors.go uses for its own domain.
const (
	CodeInvalidConsumerKey = "FIFOQUEUE_INVALID_CONSUMER_KEY"
	CodeConsumerNotFound   = "FIFOQUEUE_CONSUMER_NOT_FOUND"
	CodeUnsupported        = "FIFOQUEUE_UNSUPPORTED"
	CodeNotEnqueued        = "FIFOQUEUE_NOT_ENQUEUED"
	CodeNoMessageAtPos     = "FIFOQUEUE_NO_MESSAGE_AT_POS"
	CodeDequeueEmpty       = "FIFOQUEUE_DEQUEUE_EMPTY"
)

// ErrInvalidConsumerKey is returned when settle/return/discard/credit/defer
// reference a key that is neither registered nor resolvable via (tag, pid).
func ErrInvalidConsumerKey(key uint64) *errors.AppError {
	return errors.New(CodeInvalidConsumerKey, "no such consumer key", nil)
}

// ErrConsumerNotFound is returned by cancel/remove of an unregistered
// consumer.
func ErrConsumerNotFound(key uint64) *errors.AppError {
	return errors.New(CodeConsumerNotFound, "consumer not found", nil)
}

// ErrUnsupportedSingleActiveDequeue is returned for a basic.get-style
// dequeue spec under single_active consumer discipline.
func ErrUnsupportedSingleActiveDequeue() *errors.AppError {
	return errors.New(CodeUnsupported, "dequeue is not supported with a single active consumer", nil)
}

// ErrNotEnqueued signals an out-of-sequence publisher write.
func ErrNotEnqueued() *errors.AppError {
	return errors.New(CodeNotEnqueued, "message was not enqueued: out of sequence", nil)
}

// ErrNoMessageAtPos is returned by a peek beyond the queue length.
func ErrNoMessageAtPos(pos int) *errors.AppError {
	return errors.New(CodeNoMessageAtPos, "no message at requested position", nil)
}

// asReply turns an *errors.AppError into the Reply surfaced to the caller.
func asReply(err *errors.AppError) Reply {
	return errReply(err.Code, err.Message)
}
