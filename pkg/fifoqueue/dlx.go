package fifoqueue

// DeadLetterReason names why a message was handed to the dead-letter
// sidecar.
type DeadLetterReason string

const (
	ReasonExpired       DeadLetterReason = "expired"
	ReasonMaxlen         DeadLetterReason = "maxlen"
	ReasonDeliveryLimit DeadLetterReason = "delivery_limit"
	ReasonRejected      DeadLetterReason = "rejected"
)

// DeadLetterSink is the contract the core relies on for the dead-letter
// sidecar (§3 "dlx: opaque state"). It is kept abstract here so that the
// pure state machine never imports a concrete transport. The only
// implementation is MemoryDeadLetterSink; durable storage of dead letters
// happens outside the core, when internal/effects hands each
// DeadLetterEffect to internal/dlx.
type DeadLetterSink interface {
	// Deadletter records that ref was dead-lettered for reason, returning
	// the sink's new state.
	Deadletter(reason DeadLetterReason, ref MsgRef) DeadLetterSink
	// Count reports how many messages the sink currently holds.
	Count() int64
	// Dehydrate returns a snapshot-safe copy suitable for embedding in a
	// release cursor.
	Dehydrate() DeadLetterSink
}

// MemoryDeadLetterSink is a minimal in-memory DeadLetterSink used as the
// default for State.DLX, in tests and in cmd/queuenode. It keeps every
// entry it is given; nothing removes them.
type MemoryDeadLetterSink struct {
	entries []DeadLetterEntry
}

type DeadLetterEntry struct {
	Reason DeadLetterReason
	Ref    MsgRef
}

// NewMemoryDeadLetterSink returns an empty in-memory sink.
func NewMemoryDeadLetterSink() *MemoryDeadLetterSink {
	return &MemoryDeadLetterSink{}
}

func (s *MemoryDeadLetterSink) Deadletter(reason DeadLetterReason, ref MsgRef) DeadLetterSink {
	next := &MemoryDeadLetterSink{entries: append(append([]DeadLetterEntry{}, s.entries...), DeadLetterEntry{Reason: reason, Ref: ref})}
	return next
}

func (s *MemoryDeadLetterSink) Count() int64 {
	return int64(len(s.entries))
}

func (s *MemoryDeadLetterSink) Dehydrate() DeadLetterSink {
	return &MemoryDeadLetterSink{entries: append([]DeadLetterEntry{}, s.entries...)}
}

// Entries exposes the recorded dead letters for inspection in tests and by
// the query layer.
func (s *MemoryDeadLetterSink) Entries() []DeadLetterEntry {
	return s.entries
}
