package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// VersionSuite covers the machine-version upgrade command (§9).
type VersionSuite struct {
	test.Suite
}

func (s *VersionSuite) TestV3ToV4StampsOnlyZeroDeadlines() {
	state := NewState(Config{Name: "q", ConsumerLockMs: 1000})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 500}, EnqueueCommand{Body: []byte("m1")}, state)

	var msgID uint64
	for id := range state.Consumers[key].CheckedOut {
		msgID = id
	}
	// simulate a pre-v4 entry that never recorded a deadline.
	cm := state.Consumers[key].CheckedOut[msgID]
	cm.DeadlineTs = 0
	state.Consumers[key].CheckedOut[msgID] = cm

	_, _ = Apply(Meta{Index: 3, SystemTime: 900}, MachineVersionCommand{From: 3, To: 4}, state)

	s.EqualValues(900+1000, state.Consumers[key].CheckedOut[msgID].DeadlineTs)
}

func (s *VersionSuite) TestUpgradeLeavesExistingDeadlinesUntouched() {
	state := NewState(Config{Name: "q", ConsumerLockMs: 1000})
	reply, _ := Apply(Meta{Index: 1, SystemTime: 0}, CheckoutCommand{ConsumerTag: "a", Pid: "p1"}, state)
	key := reply.(CheckoutSummaryReply).ConsumerKey
	_, _ = Apply(Meta{Index: 2, SystemTime: 500}, EnqueueCommand{Body: []byte("m1")}, state)

	var msgID uint64
	var before Timestamp
	for id, cm := range state.Consumers[key].CheckedOut {
		msgID = id
		before = cm.DeadlineTs
	}
	s.Require().NotZero(before)

	_, _ = Apply(Meta{Index: 3, SystemTime: 900}, MachineVersionCommand{From: 3, To: 4}, state)

	s.Equal(before, state.Consumers[key].CheckedOut[msgID].DeadlineTs)
}

func (s *VersionSuite) TestDownwardTransitionDoesNothing() {
	state := NewState(Config{Name: "q", ConsumerLockMs: 1000})
	reply, effects := Apply(Meta{Index: 1, SystemTime: 0}, MachineVersionCommand{From: 4, To: 3}, state)

	s.Equal(OK{}, reply)
	s.Empty(effects)
}

func TestVersionSuite(t *testing.T) {
	test.Run(t, new(VersionSuite))
}
