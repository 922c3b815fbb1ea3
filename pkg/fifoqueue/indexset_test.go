package fifoqueue

import (
	"testing"

	"github.com/hayabusa-fifo/fifoqueue/pkg/test"
)

// IndexSetSuite covers the live-index bookkeeping structure directly,
// independent of any command that happens to drive it.
type IndexSetSuite struct {
	test.Suite
}

func (s *IndexSetSuite) TestSmallestIgnoresDeletedEntries() {
	set := NewIndexSet()
	set.Append(5)
	set.Append(1)
	set.Append(3)

	set.Delete(1)
	idx, ok := set.Smallest()
	s.Require().True(ok)
	s.EqualValues(3, idx)
}

func (s *IndexSetSuite) TestAppendIsIdempotent() {
	set := NewIndexSet()
	set.Append(7)
	set.Append(7)
	s.Equal(1, set.Len())
}

func (s *IndexSetSuite) TestEmptySetHasNoSmallest() {
	set := NewIndexSet()
	_, ok := set.Smallest()
	s.False(ok)

	set.Append(2)
	set.Delete(2)
	_, ok = set.Smallest()
	s.False(ok)
}

func (s *IndexSetSuite) TestContainsAndLenTrackLiveMembership() {
	set := NewIndexSet()
	set.Append(10)
	set.Append(20)
	s.True(set.Contains(10))
	s.Equal(2, set.Len())

	set.Delete(10)
	s.False(set.Contains(10))
	s.Equal(1, set.Len())
}

func TestIndexSetSuite(t *testing.T) {
	test.Run(t, new(IndexSetSuite))
}
