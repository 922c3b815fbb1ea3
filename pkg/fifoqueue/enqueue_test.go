package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// EnqueueSuite covers the Enqueue Pipeline (§4.2): publisher sequencing,
// header construction, and the strict FIFO ordering of §8 Invariant 7.
type EnqueueSuite struct {
	test.Suite
}

func (s *EnqueueSuite) TestPlainEnqueueIsUntracked() {
	state := NewState(Config{Name: "q"})
	reply, effects := Apply(Meta{Index: 1, SystemTime: 100}, EnqueueCommand{Body: []byte("a")}, state)

	s.Equal(OK{}, reply)
	s.Empty(filterEffects[MonitorEffect](effects))
	s.Len(state.Messages, 1)
	s.EqualValues(1, state.MessagesTotal)
	s.True(state.RaIndexes.Contains(1))
}

func (s *EnqueueSuite) TestSequencedEnqueueMonitorsNewPublisher() {
	state := NewState(Config{Name: "q"})
	seqno := uint64(0)
	reply, effects := Apply(Meta{Index: 1, SystemTime: 100, From: "pub-1"}, EnqueueCommand{Seqno: &seqno, Body: []byte("a")}, state)

	s.Equal(OK{}, reply)
	monitors := filterEffects[MonitorEffect](effects)
	s.Require().Len(monitors, 1)
	s.Equal(MonitorEffect{Kind: MonitorProcess, Target: "pub-1"}, monitors[0])
	s.EqualValues(1, state.Enqueuers["pub-1"].NextSeqno)
}

func (s *EnqueueSuite) TestOutOfSequenceIsRejected() {
	state := NewState(Config{Name: "q"})
	seqno := uint64(5)
	reply, _ := Apply(Meta{Index: 1, SystemTime: 100, From: "pub-1"}, EnqueueCommand{Seqno: &seqno, Body: []byte("a")}, state)

	errReply, ok := reply.(*ErrorReply)
	s.Require().True(ok)
	s.Equal(CodeNotEnqueued, errReply.Code)
	s.Empty(state.Messages)
}

func (s *EnqueueSuite) TestDuplicateSeqnoIsIdempotent() {
	state := NewState(Config{Name: "q"})
	seqno := uint64(0)
	_, _ = Apply(Meta{Index: 1, SystemTime: 100, From: "pub-1"}, EnqueueCommand{Seqno: &seqno, Body: []byte("a")}, state)

	// Replaying seqno 0 (e.g. a retried publish after an ack was lost) must
	// not append a second message.
	reply, _ := Apply(Meta{Index: 2, SystemTime: 101, From: "pub-1"}, EnqueueCommand{Seqno: &seqno, Body: []byte("a")}, state)

	s.Equal(OK{}, reply)
	s.Len(state.Messages, 1)
}

func (s *EnqueueSuite) TestEnqueueV2CarriesPidInReplyMode() {
	state := NewState(Config{Name: "q"})
	seqno := uint64(0)
	_, effects := Apply(Meta{Index: 1, SystemTime: 100, ReplyMode: &ReplyMode{Pid: "pub-2"}}, EnqueueV2Command{Seqno: &seqno, Body: []byte("a")}, state)

	monitors := filterEffects[MonitorEffect](effects)
	s.Require().Len(monitors, 1)
	s.Equal(MonitorEffect{Kind: MonitorProcess, Target: "pub-2"}, monitors[0])
	s.Contains(state.Enqueuers, "pub-2")
}

func (s *EnqueueSuite) TestPerMessageTTLBoundedByQueueTTL() {
	state := NewState(Config{Name: "q", MsgTTL: 1000})
	ttl := int64(5000)
	_, _ = Apply(Meta{Index: 1, SystemTime: 100}, EnqueueCommand{Body: []byte("a"), TTL: &ttl}, state)

	s.EqualValues(1100, state.Messages[0].Header.ExpiryTs)
}

func (s *EnqueueSuite) TestZeroTTLExpiresNextMillisecond() {
	state := NewState(Config{Name: "q"})
	ttl := int64(0)
	_, _ = Apply(Meta{Index: 1, SystemTime: 100}, EnqueueCommand{Body: []byte("a"), TTL: &ttl}, state)

	s.EqualValues(101, state.Messages[0].Header.ExpiryTs)
}

func (s *EnqueueSuite) TestStrictFIFOReturnsBeforeFreshMessages() {
	state := NewState(Config{Name: "q"})
	_, _ = Apply(Meta{Index: 1, SystemTime: 100}, EnqueueCommand{Body: []byte("fresh")}, state)
	state.Returns = append(state.Returns, MsgRef{Index: 99})

	ref, ok := takeNext(state)
	s.True(ok)
	s.EqualValues(99, ref.Index)
}

func TestEnqueueSuite(t *testing.T) {
	test.Run(t, new(EnqueueSuite))
}
