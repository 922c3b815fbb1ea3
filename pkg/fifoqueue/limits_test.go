package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// LimitsSuite covers overflow, consumer-lock timeouts, and the
// reject_publish block/unblock hysteresis (§4.8).
type LimitsSuite struct {
	test.Suite
}

func (s *LimitsSuite) TestDropHeadEvictsOldestOnOverflow() {
	state := NewState(Config{Name: "q", MaxLength: 2, Overflow: OverflowDropHead})

	var dls []DeadLetterEffect
	for i := LogIndex(1); i <= 3; i++ {
		_, effects := Apply(Meta{Index: i, SystemTime: 0}, EnqueueCommand{Body: []byte("m")}, state)
		dls = append(dls, filterEffects[DeadLetterEffect](effects)...)
	}

	s.EqualValues(2, state.MessagesTotal)
	s.Require().Len(dls, 1)
	s.Equal(ReasonMaxlen, dls[0].Entry.Reason)
	s.EqualValues(1, dls[0].Entry.Ref.Index) // the oldest message was evicted
}

func (s *LimitsSuite) TestRejectPublishBlocksThenUnblocksPastResumeFraction() {
	state := NewState(Config{Name: "q", MaxLength: 2, Overflow: OverflowRejectPublish})
	seqno := uint64(0)
	_, _ = Apply(Meta{Index: 1, SystemTime: 0, From: "pub"}, EnqueueCommand{Seqno: &seqno, Body: []byte("m")}, state)
	seqno++
	_, _ = Apply(Meta{Index: 2, SystemTime: 0, From: "pub"}, EnqueueCommand{Seqno: &seqno, Body: []byte("m")}, state)
	seqno++
	_, effects := Apply(Meta{Index: 3, SystemTime: 0, From: "pub"}, EnqueueCommand{Seqno: &seqno, Body: []byte("m")}, state)

	// 3 ready messages against MaxLength 2: over the hard limit, blocked.
	s.NotNil(state.Enqueuers["pub"].BlockedAt)
	_ = effects

	// a prefetch-ceiling-1 consumer draws only one of the three ready
	// messages; the other two stay ready, so usage (2) is still above the
	// resume fraction (80% of MaxLength 2 rounds down to 1) and the
	// publisher stays blocked — checked-out messages don't count as ready.
	reply, _ := Apply(Meta{Index: 4, SystemTime: 0}, CheckoutCommand{
		ConsumerTag: "a", Pid: "p1",
		CreditMode: CreditMode{Kind: CreditModeSimplePrefetch, Max: 1},
	}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	s.Require().Len(state.Consumers[key].CheckedOut, 1)
	s.NotNil(state.Enqueuers["pub"].BlockedAt)

	// settling the one checked-out message frees a credit, which the
	// checkout engine immediately spends on the next ready message —
	// leaving only 1 message ready, at the resume fraction, so the
	// publisher is unblocked.
	var msgID uint64
	for id := range state.Consumers[key].CheckedOut {
		msgID = id
	}
	_, _ = Apply(Meta{Index: 5, SystemTime: 0}, SettleCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)

	s.Require().Len(state.Consumers[key].CheckedOut, 1)
	s.Len(state.Messages, 1)
	s.Nil(state.Enqueuers["pub"].BlockedAt)
}

// TestConsumerLockTimeoutRequeues covers the reclaim-and-redeliver path: a
// prefetch-ceiling-1 consumer that never settles its one delivery eventually
// gets it back, with the delivery count bumped, and a second message stays
// queued behind the ceiling the whole time. It also covers the fix ensuring
// a consumer freed up by a lock-timeout reclaim is re-admitted to the
// service queue rather than stranded outside it.
func (s *LimitsSuite) TestConsumerLockTimeoutRequeues() {
	state := NewState(Config{Name: "q", ConsumerLockMs: 1000})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{
		ConsumerTag: "a", Pid: "p1",
		CreditMode: CreditMode{Kind: CreditModeSimplePrefetch, Max: 1},
	}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m")}, state)
	s.Require().Len(state.Consumers[key].CheckedOut, 1)

	// well past the lock deadline: the first delivery should be reclaimed
	// and immediately redelivered to the only consumer, while the second
	// message stays queued behind the prefetch ceiling.
	_, _ = Apply(Meta{Index: 3, SystemTime: 5000}, EnqueueCommand{Body: []byte("m2")}, state)

	s.Require().Len(state.Consumers[key].CheckedOut, 1)
	s.Len(state.Messages, 1)
	for _, cm := range state.Consumers[key].CheckedOut {
		s.EqualValues(1, cm.Ref.Header.DeliveryCount)
	}
}

func TestLimitsSuite(t *testing.T) {
	test.Run(t, new(LimitsSuite))
}
