package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// DispatchSuite covers Apply's top-level command switch itself, distinct
// from any one handler's own behavior.
type DispatchSuite struct {
	test.Suite
}

// unknownCommand is never a case in Apply's switch, exercising the
// default branch.
type unknownCommand struct{}

func (unknownCommand) isCommand() {}

func (s *DispatchSuite) TestUnknownCommandIsIgnored() {
	state := NewState(Config{Name: "q"})
	reply, effects := Apply(Meta{Index: 1, SystemTime: 0}, unknownCommand{}, state)

	s.Equal(OK{}, reply)
	s.Empty(effects)
}

func (s *DispatchSuite) TestGarbageCollectionIsAdvisoryOnly() {
	state := NewState(Config{Name: "q"})
	reply, effects := Apply(Meta{Index: 1, SystemTime: 0}, GarbageCollectionCommand{}, state)

	s.Equal(OK{}, reply)
	s.Empty(effects)
}

func (s *DispatchSuite) TestDLXAckIsANoOp() {
	state := NewState(Config{Name: "q"})
	reply, effects := Apply(Meta{Index: 1, SystemTime: 0}, DLXCommand{}, state)

	s.Equal(OK{}, reply)
	s.Empty(effects)
}

func TestDispatchSuite(t *testing.T) {
	test.Run(t, new(DispatchSuite))
}
