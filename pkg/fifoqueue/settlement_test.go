package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// SettlementSuite covers settle/return/discard/defer/cancel (§4.6).
type SettlementSuite struct {
	test.Suite
}

// checkoutOne registers a single competing consumer, enqueues one message,
// and returns (consumerKey, msgID) for the delivery that results.
func (s *SettlementSuite) checkoutOne(state *State, deliveryLimit int64) (uint64, uint64) {
	if deliveryLimit > 0 {
		state.Cfg.DeliveryLimit = deliveryLimit
	}
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)
	s.Require().Len(state.Consumers[key].CheckedOut, 1)
	var msgID uint64
	for id := range state.Consumers[key].CheckedOut {
		msgID = id
	}
	return key, msgID
}

func (s *SettlementSuite) TestSettleRetiresMessage() {
	state := NewState(Config{Name: "q"})
	key, msgID := s.checkoutOne(state, 0)

	reply, _ := Apply(Meta{Index: 3, SystemTime: 0}, SettleCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)

	s.Equal(OK{}, reply)
	s.Empty(state.Consumers[key].CheckedOut)
	s.EqualValues(0, state.MessagesTotal)
	s.False(state.RaIndexes.Contains(2))
}

func (s *SettlementSuite) TestReturnGoesBackToReturnsWithBumpedCount() {
	state := NewState(Config{Name: "q"})
	key, msgID := s.checkoutOne(state, 0)

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, ReturnCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)

	s.NotContains(state.Consumers[key].CheckedOut, msgID)
	// the same consumer is still registered and ready, so the checkout
	// engine immediately redelivers the returned message rather than
	// leaving it sitting in Returns.
	s.Len(state.Consumers[key].CheckedOut, 1)
	for _, cm := range state.Consumers[key].CheckedOut {
		s.EqualValues(1, cm.Ref.Header.DeliveryCount)
	}
}

func (s *SettlementSuite) TestReturnBeyondDeliveryLimitIsDeadLettered() {
	state := NewState(Config{Name: "q"})
	key, msgID := s.checkoutOne(state, 1)

	// the first return brings delivery_count to 1, still within the limit,
	// so the message is redelivered; the second return exceeds it.
	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, ReturnCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)
	s.Require().Len(state.Consumers[key].CheckedOut, 1)
	for id := range state.Consumers[key].CheckedOut {
		msgID = id
	}
	_, effects := Apply(Meta{Index: 4, SystemTime: 0}, ReturnCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)

	dls := filterEffects[DeadLetterEffect](effects)
	s.Require().Len(dls, 1)
	s.Equal(ReasonDeliveryLimit, dls[0].Entry.Reason)
	s.EqualValues(1, state.DLX.Count())
	s.Empty(state.Consumers[key].CheckedOut)
}

func (s *SettlementSuite) TestDiscardAlwaysDeadLetters() {
	state := NewState(Config{Name: "q"})
	key, msgID := s.checkoutOne(state, 0)

	_, effects := Apply(Meta{Index: 3, SystemTime: 0}, DiscardCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)

	dls := filterEffects[DeadLetterEffect](effects)
	s.Require().Len(dls, 1)
	s.Equal(ReasonRejected, dls[0].Entry.Reason)
}

func (s *SettlementSuite) TestDeferLeavesDeliveryCountUnchanged() {
	state := NewState(Config{Name: "q"})
	key, msgID := s.checkoutOne(state, 0)

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, DeferCommand{ConsumerKey: key, MsgIDs: []uint64{msgID}}, state)

	// redelivered to the same (only) consumer, count untouched.
	s.Len(state.Consumers[key].CheckedOut, 1)
	for _, cm := range state.Consumers[key].CheckedOut {
		s.EqualValues(0, cm.Ref.Header.DeliveryCount)
	}
}

func (s *SettlementSuite) TestCancelRequeuesOutstandingWork() {
	state := NewState(Config{Name: "q"})
	key, _ := s.checkoutOne(state, 0)

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, CancelCommand{ConsumerKey: key}, state)

	s.NotContains(state.Consumers, key)
	s.Len(state.Returns, 1)
	s.EqualValues(1, state.Returns[0].Header.DeliveryCount)
}

func (s *SettlementSuite) TestCancelUnknownConsumerIsAnError() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CancelCommand{ConsumerKey: 404}, state)

	errReply, ok := reply.(*ErrorReply)
	s.Require().True(ok)
	s.Equal(CodeConsumerNotFound, errReply.Code)
}

func TestSettlementSuite(t *testing.T) {
	test.Run(t, new(SettlementSuite))
}
