package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// LivenessSuite covers process- and node-level liveness handling (§4.10).
type LivenessSuite struct {
	test.Suite
}

func (s *LivenessSuite) TestDownNoConnectionOnlySuspectsTheConsumer() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1@nodeA"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m")}, state)
	s.Require().Len(state.Consumers[key].CheckedOut, 1)

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, DownCommand{Pid: "p1@nodeA", Reason: DownNoConnection}, state)

	s.Require().Contains(state.Consumers, key)
	s.Equal(StatusSuspectedDown, state.Consumers[key].Status)
	// still registered, but its checked-out message went back to the queue.
	s.Len(state.Consumers[key].CheckedOut, 0)
}

func (s *LivenessSuite) TestDownWithOtherReasonReclaimsImmediately() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1@nodeA"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, EnqueueCommand{Body: []byte("m")}, state)

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, DownCommand{Pid: "p1@nodeA", Reason: DownOther}, state)

	s.NotContains(state.Consumers, key)
	s.Len(state.Returns, 1)
	s.EqualValues(1, state.Returns[0].Header.DeliveryCount)
}

func (s *LivenessSuite) TestDownUnregistersEnqueuerOnConclusiveReason() {
	state := NewState(Config{Name: "q"})
	seqno := uint64(0)
	_, _ = Apply(Meta{Index: 1, SystemTime: 0, From: "pub@nodeA"}, EnqueueCommand{Seqno: &seqno, Body: []byte("m")}, state)
	s.Require().Contains(state.Enqueuers, "pub@nodeA")

	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, DownCommand{Pid: "pub@nodeA", Reason: DownOther}, state)

	s.NotContains(state.Enqueuers, "pub@nodeA")
}

func (s *LivenessSuite) TestNodedownSuspectsEveryProcessOnTheNode() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1@nodeA"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	seqno := uint64(0)
	_, _ = Apply(Meta{Index: 2, SystemTime: 0, From: "pub@nodeA"}, EnqueueCommand{Seqno: &seqno, Body: []byte("m")}, state)

	_, effects := Apply(Meta{Index: 3, SystemTime: 0}, NodedownCommand{Node: "nodeA"}, state)

	s.Empty(effects) // purely a bookkeeping transition, nothing to redeliver yet
	s.Equal(StatusSuspectedDown, state.Consumers[key].Status)
	s.Equal(StatusSuspectedDown, state.Enqueuers["pub@nodeA"].Status)
}

func (s *LivenessSuite) TestNodeupClearsSuspicionWithoutForcingDelivery() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1@nodeA"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, NodedownCommand{Node: "nodeA"}, state)
	s.Require().Equal(StatusSuspectedDown, state.Consumers[key].Status)

	_, effects := Apply(Meta{Index: 3, SystemTime: 0}, NodeupCommand{Node: "nodeA"}, state)

	s.Empty(effects)
	s.Equal(StatusUp, state.Consumers[key].Status)
}

func (s *LivenessSuite) TestNodeupLeavesUnrelatedNodesAlone() {
	state := NewState(Config{Name: "q"})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1@nodeB"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 0}, NodedownCommand{Node: "nodeA"}, state)

	_, _ = Apply(Meta{Index: 3, SystemTime: 0}, NodeupCommand{Node: "nodeA"}, state)

	s.Equal(StatusUp, state.Consumers[key].Status) // never suspected, since it lives on nodeB
}

func TestLivenessSuite(t *testing.T) {
	test.Run(t, new(LivenessSuite))
}
