package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// CheckoutSuite covers the Checkout Engine (§4.4): service-queue ordering,
// credit eligibility, and chunked delivery.
type CheckoutSuite struct {
	test.Suite
}

func (s *CheckoutSuite) TestHigherPriorityConsumerDeliveredFirst() {
	state := NewState(Config{Name: "q"})
	reply1, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "low", Pid: "p1", Priority: 1}, state)
	reply2, _ := Apply(Meta{Index: 2, SystemTime: 0}, CheckoutCommand{ConsumerTag: "high", Pid: "p2", Priority: 9}, state)

	low := reply1.(CheckoutSummaryReply).ConsumerKey
	high := reply2.(CheckoutSummaryReply).ConsumerKey

	_, effects := Apply(Meta{Index: 3, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)
	sends := filterEffects[SendMsgEffect](effects)
	s.Require().Len(sends, 1)
	s.Equal("p2", sends[0].Pid)

	s.Empty(state.Consumers[low].CheckedOut)
	s.Len(state.Consumers[high].CheckedOut, 1)
}

func (s *CheckoutSuite) TestSamePriorityIsFIFOByAttachOrder() {
	state := NewState(Config{Name: "q"})
	reply1, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1", Priority: 0}, state)
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, CheckoutCommand{ConsumerTag: "b", Pid: "p2", Priority: 0}, state)
	first := reply1.(CheckoutSummaryReply).ConsumerKey

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)
	s.Len(state.Consumers[first].CheckedOut, 1)
}

func (s *CheckoutSuite) TestV1PrefetchCeilingBlocksFurtherDelivery() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{
		ConsumerTag: "a", Pid: "p1",
		CreditMode: CreditMode{Kind: CreditModeSimplePrefetch, Max: 1},
	}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey

	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)
	_, effects := Apply(Meta{Index: 3, SystemTime: 0}, EnqueueCommand{Body: []byte("m2")}, state)

	s.Len(state.Consumers[key].CheckedOut, 1)
	s.Empty(filterEffects[SendMsgEffect](effects)) // second message has nowhere to go yet
	s.Len(state.Messages, 1)
}

func (s *CheckoutSuite) TestV2CreditedConsumerNeedsExplicitCredit() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{
		ConsumerTag: "a", Pid: "p1",
		CreditMode: CreditMode{Kind: CreditModeCredited},
	}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey

	_, effects := Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)
	s.Empty(filterEffects[SendMsgEffect](effects))

	_, effects = Apply(Meta{Index: 3, SystemTime: 0}, CreditCommand{ConsumerKey: key, Credit: 5}, state)
	// m1's body is no longer cached by the time credit arrives, so the
	// delivery goes out as a log read rather than a direct send.
	reads := filterEffects[LogEffect](effects)
	s.Require().Len(reads, 1)
	s.EqualValues(4, state.Consumers[key].Credit)
}

func (s *CheckoutSuite) TestDequeueIsRejectedUnderSingleActive() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{
		ConsumerTag: "a", Pid: "p1", Spec: &CheckoutSpec{Dequeue: true},
	}, state)

	errReply, ok := reply.(*ErrorReply)
	s.Require().True(ok)
	s.Equal(CodeUnsupported, errReply.Code)
}

func (s *CheckoutSuite) TestDequeueAutoSettleRemovesMessage() {
	state := NewState(Config{Name: "q"})
	_, _ = Apply(Meta{Index: 1, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)

	reply, effects := Apply(Meta{Index: 2, SystemTime: 0}, CheckoutCommand{
		Pid: "p1", Spec: &CheckoutSpec{Dequeue: true, AutoSettle: true},
	}, state)

	dq := reply.(DequeueReply)
	s.False(dq.Empty)
	s.Require().Len(effects, 1)
	s.EqualValues(0, state.MessagesTotal)
}

func (s *CheckoutSuite) TestDequeueManualAckCanBeSettled() {
	state := NewState(Config{Name: "q"})
	_, _ = Apply(Meta{Index: 1, SystemTime: 0}, EnqueueCommand{Body: []byte("m1")}, state)

	reply, _ := Apply(Meta{Index: 2, SystemTime: 0}, CheckoutCommand{
		Pid: "p1", Spec: &CheckoutSpec{Dequeue: true},
	}, state)

	dq := reply.(DequeueReply)
	s.False(dq.Empty)
	s.Require().Len(state.Consumers[dq.ConsumerKey].CheckedOut, 1)
	s.EqualValues(1, state.MessagesTotal)

	settleReply, _ := Apply(Meta{Index: 3, SystemTime: 0}, SettleCommand{
		ConsumerKey: dq.ConsumerKey, MsgIDs: []uint64{dq.MsgID},
	}, state)

	s.Equal(OK{}, settleReply)
	s.Empty(state.Consumers[dq.ConsumerKey].CheckedOut)
	s.EqualValues(0, state.MessagesTotal)
}

func (s *CheckoutSuite) TestDequeueOnEmptyQueue() {
	state := NewState(Config{Name: "q"})
	reply, effects := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{
		Pid: "p1", Spec: &CheckoutSpec{Dequeue: true},
	}, state)

	s.True(reply.(DequeueReply).Empty)
	s.Empty(effects)
}

func TestCheckoutSuite(t *testing.T) {
	test.Run(t, new(CheckoutSuite))
}
