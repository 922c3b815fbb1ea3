package fifoqueue

// Reply is whatever Apply hands back to the command's caller. Concrete
// shapes vary by command (§4.1); callers type-switch on the value they
// get back. Errors (§7) are ordinary reply values, never Go `error`
// returns, because none of them abort the state machine.
type Reply any

// OK is the reply for commands that succeed with nothing further to say.
type OK struct{}

// ErrorReply is the reply for any of the recoverable error kinds in §7. It
// implements error so callers that do want Go-style handling can treat it
// as one.
type ErrorReply struct {
	Code    string
	Message string
}

func (e *ErrorReply) Error() string { return e.Code + ": " + e.Message }

func errReply(code, message string) *ErrorReply {
	return &ErrorReply{Code: code, Message: message}
}

// CheckoutSummaryReply acknowledges a checkout registration.
type CheckoutSummaryReply struct {
	ConsumerKey uint64
}

// DequeueReply is the basic.get-style synchronous reply. ConsumerKey and
// MsgID are only meaningful for a manual-ack draw (Spec.AutoSettle false):
// they name the synthetic consumer a later Settle/Return/Discard must
// target to dispose of the message.
type DequeueReply struct {
	Empty       bool
	MsgID       uint64
	ConsumerKey uint64
	Ref         MsgRef
	Body        []byte
}

// SendCreditReply is the v1 credit protocol's reply to a `credit` command.
type SendCreditReply struct {
	ConsumerTag    string
	MessagesReady  int64
	Drained        bool
	DeliveryCount  uint32
}

// CreditReplyV2 is the v2 protocol's post-delivery FLOW reply (§4.5).
type CreditReplyV2 struct {
	ConsumerTag   string
	DeliveryCount uint32
	Credit        int64
	Available     int64
	Drain         bool
}

// PurgeReply reports how many messages were discarded by a purge.
type PurgeReply struct {
	Purged int64
}
