package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// SingleActiveSuite covers the single-active-consumer discipline (§4.7):
// promotion, priority-based preemption with fade-out, the waiting list's
// ordering, and handover on detach.
type SingleActiveSuite struct {
	test.Suite
}

func (s *SingleActiveSuite) checkout(state *State, tag string, pid string, priority int, idx LogIndex) uint64 {
	reply, _ := Apply(Meta{Index: idx, SystemTime: 0}, CheckoutCommand{
		ConsumerTag: tag, Pid: pid, Priority: priority,
	}, state)
	return reply.(CheckoutSummaryReply).ConsumerKey
}

func (s *SingleActiveSuite) TestFirstConsumerIsPromotedImmediately() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	key := s.checkout(state, "a", "p1", 0, 1)

	s.Require().NotNil(state.ActiveConsumer)
	s.Equal(key, *state.ActiveConsumer)
	s.Empty(state.WaitingConsumers)
}

func (s *SingleActiveSuite) TestSamePriorityJoinsWaitingListInsteadOfPreempting() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	first := s.checkout(state, "a", "p1", 0, 1)
	second := s.checkout(state, "b", "p2", 0, 2)

	s.Equal(first, *state.ActiveConsumer)
	s.Require().Len(state.WaitingConsumers, 1)
	s.Equal(second, state.WaitingConsumers[0])
}

func (s *SingleActiveSuite) TestHigherPriorityPreemptsAndFadesTheIncumbent() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	first := s.checkout(state, "a", "p1", 0, 1)
	// deliver a message to the incumbent so it has in-flight work to
	// finish before it can be pruned.
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m")}, state)
	s.Require().Len(state.Consumers[first].CheckedOut, 1)

	second := s.checkout(state, "b", "p2", 1, 3)

	s.Equal(second, *state.ActiveConsumer)
	s.Equal(StatusFading, state.Consumers[first].Status)
	// the faded consumer still holds its in-flight delivery.
	s.Len(state.Consumers[first].CheckedOut, 1)

	// once it settles that last message it is pruned entirely.
	var msgID uint64
	for id := range state.Consumers[first].CheckedOut {
		msgID = id
	}
	_, _ = Apply(Meta{Index: 4, SystemTime: 0}, SettleCommand{ConsumerKey: first, MsgIDs: []uint64{msgID}}, state)
	s.NotContains(state.Consumers, first)
}

func (s *SingleActiveSuite) TestWaitingListOrdersByPriorityThenArrival() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	_ = s.checkout(state, "a", "p1", 5, 1) // active, nothing can preempt it here
	low := s.checkout(state, "b", "p2", 1, 2)
	high := s.checkout(state, "c", "p3", 3, 3)

	s.Require().Len(state.WaitingConsumers, 2)
	s.Equal(high, state.WaitingConsumers[0])
	s.Equal(low, state.WaitingConsumers[1])
}

func (s *SingleActiveSuite) TestDetachPromotesHighestPriorityWaiter() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	active := s.checkout(state, "a", "p1", 5, 1) // outranks both, so they wait
	low := s.checkout(state, "b", "p2", 1, 2)
	high := s.checkout(state, "c", "p3", 3, 3)

	_, _ = Apply(Meta{Index: 4, SystemTime: 0}, CancelCommand{ConsumerKey: active}, state)

	s.Require().NotNil(state.ActiveConsumer)
	s.Equal(high, *state.ActiveConsumer)
	s.Require().Len(state.WaitingConsumers, 1)
	s.Equal(low, state.WaitingConsumers[0])
}

func (s *SingleActiveSuite) TestDequeueIsRejectedUnderSingleActive() {
	state := NewState(Config{Name: "q", ConsumerStrategy: SingleActive})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{
		Pid: "p1", Spec: &CheckoutSpec{Dequeue: true, AutoSettle: true},
	}, state)

	errReply, ok := reply.(*ErrorReply)
	s.Require().True(ok)
	s.Equal(CodeUnsupported, errReply.Code)
}

func TestSingleActiveSuite(t *testing.T) {
	test.Run(t, new(SingleActiveSuite))
}
