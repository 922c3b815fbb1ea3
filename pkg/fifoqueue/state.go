package fifoqueue

// LogIndex identifies a command's position in the replicated command log.
// Message bodies live at this index in the log; the state only ever holds
// the index plus a small header.
type LogIndex uint64

// Timestamp is a milliseconds-since-epoch wall-clock reading supplied by
// the replication substrate as part of Meta. Apply never reads the clock
// itself.
type Timestamp int64

// OverflowStrategy controls what happens when the queue exceeds its
// configured length/byte limits.
type OverflowStrategy string

const (
	OverflowDropHead      OverflowStrategy = "drop_head"
	OverflowRejectPublish OverflowStrategy = "reject_publish"
)

// ConsumerDiscipline selects between competing consumers and a single
// exclusive active consumer.
type ConsumerDiscipline string

const (
	Competing    ConsumerDiscipline = "competing"
	SingleActive ConsumerDiscipline = "single_active"
)

// RejectPublishResumeFraction is the default soft watermark (as a fraction
// of the hard limit) below which a blocked publisher is unblocked again.
const RejectPublishResumeFraction = 0.8

// DeadLetterHandlerSpec names the external dead-letter exchange this queue
// forwards rejected/expired/over-limit messages to. The core only ever
// carries this as an opaque spec; the dispatcher that owns the concrete
// DeadLetterSink decides what to do with it.
type DeadLetterHandlerSpec struct {
	Exchange   string
	RoutingKey string
}

// ReleaseCursorInterval is the adaptive (base, current) pair from which the
// release-cursor manager derives how many enqueues must elapse between
// cursor emissions (§4.9).
type ReleaseCursorInterval struct {
	Base    int64
	Current int64
}

// Config is the static-per-version configuration of a queue.
type Config struct {
	Name               string
	ResourceID         string
	MaxLength          int64 // 0 means unlimited
	MaxBytes           int64 // 0 means unlimited
	DeliveryLimit      int64 // 0 means unlimited
	MsgTTL             int64 // milliseconds; 0 means unset
	Expires            int64 // milliseconds of queue inactivity before auto-delete; 0 means unset
	ReleaseCursorEvery  ReleaseCursorInterval
	ReleaseCursorEveryMax int64
	ConsumerLockMs     int64
	Overflow           OverflowStrategy
	ConsumerStrategy   ConsumerDiscipline
	DLH                DeadLetterHandlerSpec
}

// Status is shared by consumers and enqueuers to describe their liveness.
type Status string

const (
	StatusUp            Status = "up"
	StatusSuspectedDown Status = "suspected_down"
	StatusCancelled     Status = "cancelled"
	StatusFading        Status = "fading"
	StatusTimedOut      Status = "timed_out"
)

// Lifetime controls whether a consumer is removed after its first checkout
// batch (once) or remains registered across many checkouts (auto).
type Lifetime string

const (
	LifetimeOnce Lifetime = "once"
	LifetimeAuto Lifetime = "auto"
)

// Header is the per-message metadata kept alongside a MsgRef. The
// delivery-count field only becomes meaningful once a message has been
// returned at least once; size and expiry are set at enqueue time.
type Header struct {
	SizeBytes     uint32
	ExpiryTs      Timestamp // 0 means no expiry
	DeliveryCount uint32
}

// HasExpiry reports whether the header carries a per-message expiry.
func (h Header) HasExpiry() bool { return h.ExpiryTs != 0 }

// MsgRef is the state's reference to a message whose body lives in the
// replicated log at Index.
type MsgRef struct {
	Index  LogIndex
	Header Header
}

// CheckedMsg is a message that has been delivered to a consumer but not
// yet settled, returned, or discarded.
type CheckedMsg struct {
	DeadlineTs Timestamp
	Ref        MsgRef
}

// Enqueuer tracks per-publisher sequence numbers so that duplicate or
// out-of-order enqueues can be detected deterministically.
type Enqueuer struct {
	NextSeqno  uint64
	Status     Status
	BlockedAt  *LogIndex
}

// CreditMode selects between the v1 (simple prefetch) and v2 (AMQP 1.0
// style delivery-count) flow-control protocols.
type CreditMode struct {
	// Kind is either "simple_prefetch" or "credited".
	Kind                   string
	Max                    int64  // simple_prefetch: prefetch ceiling
	InitialDeliveryCount   uint32 // credited: sender's starting delivery-count
}

const (
	CreditModeSimplePrefetch = "simple_prefetch"
	CreditModeCredited       = "credited"
)

// ConsumerCfg is the immutable part of a consumer's registration.
type ConsumerCfg struct {
	Tag        string
	Pid        string
	Lifetime   Lifetime
	CreditMode CreditMode
	Meta       map[string]string
}

// Consumer is a registered consumer (competing or single-active).
type Consumer struct {
	Key           uint64
	Cfg           ConsumerCfg
	Credit        int64
	DeliveryCount uint32
	NextMsgID     uint64
	CheckedOut    map[uint64]CheckedMsg // keyed by msg_id
	Status        Status
	Priority      int
	// seq records insertion order into the service queue for FIFO
	// tie-breaking within the same priority (§4.4).
	seq uint64
}

// totalCheckedOutBytes sums the header sizes of this consumer's
// outstanding deliveries.
func (c *Consumer) totalCheckedOutBytes() int64 {
	var total int64
	for _, cm := range c.CheckedOut {
		total += int64(cm.Ref.Header.SizeBytes)
	}
	return total
}

// MsgCache holds the most recently enqueued body for immediate,
// log-fetch-free redelivery when a consumer is already waiting.
type MsgCache struct {
	Index LogIndex
	Body  []byte
}

// ReleaseCursor is a pending (log_index, dehydrated_state) pair emitted by
// the Release-Cursor Manager (§4.9).
type ReleaseCursor struct {
	Index     LogIndex
	Dehydrated *State
}

// State is the complete, singleton-per-replica queue state. Apply mutates
// it in place; the replication substrate owns the single live copy per
// queue (the same pattern used by in-process Raft FSMs), so after calling
// Apply callers must treat the State they passed in as consumed and use
// the same pointer going forward.
type State struct {
	Cfg Config

	Messages []MsgRef
	Returns  []MsgRef

	RaIndexes *IndexSet

	MessagesTotal    int64
	MsgBytesEnqueue  int64
	MsgBytesCheckout int64
	EnqueueCount     int64

	Enqueuers map[string]*Enqueuer
	Consumers map[uint64]*Consumer

	serviceQueue *serviceQueue

	WaitingConsumers []uint64 // keys, sorted (priority desc, key asc); single_active only

	// ActiveConsumer is the sole consumer eligible for delivery under the
	// single_active discipline (§4.7); nil when no consumer has ever
	// attached, or under the competing discipline where it is unused.
	ActiveConsumer *uint64

	ReleaseCursors []ReleaseCursor

	DLX DeadLetterSink

	LastActive Timestamp

	MsgCache *MsgCache

	// nextConsumerSeq feeds Consumer.seq for FIFO tie-breaking; purely an
	// implementation detail of the service queue, not part of the
	// persisted snapshot contract.
	nextConsumerSeq uint64

	// enqueuesSinceCursor counts enqueues since the last release-cursor
	// emission, driving the adaptive interval of §4.9.
	enqueuesSinceCursor int64

	// attachCounter derives v4-style consumer keys (the log index at
	// first attach); seeded directly from the attaching command's index so
	// no extra counter state needs to round-trip through snapshots.
}

// NewState builds an empty queue state for the given configuration.
func NewState(cfg Config) *State {
	if cfg.ReleaseCursorEvery.Base <= 0 {
		cfg.ReleaseCursorEvery.Base = 256
	}
	if cfg.ReleaseCursorEvery.Current <= 0 {
		cfg.ReleaseCursorEvery.Current = cfg.ReleaseCursorEvery.Base
	}
	if cfg.ReleaseCursorEveryMax <= 0 {
		cfg.ReleaseCursorEveryMax = 4096
	}
	if cfg.ConsumerLockMs <= 0 {
		cfg.ConsumerLockMs = 30 * 60 * 1000
	}
	return &State{
		Cfg:          cfg,
		RaIndexes:    NewIndexSet(),
		Enqueuers:    make(map[string]*Enqueuer),
		Consumers:    make(map[uint64]*Consumer),
		serviceQueue: newServiceQueue(),
		DLX:          NewMemoryDeadLetterSink(),
	}
}
