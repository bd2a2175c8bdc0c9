package id

import (
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type IDTestSuite struct{}

var _ = gc.Suite(new(IDTestSuite))

func (s *IDTestSuite) TestDeterministicWithinGraph(c *gc.C) {
	a := NewStreamID("g1", 0)
	b := NewStreamID("g1", 0)
	c.Assert(a, gc.Equals, b)
}

func (s *IDTestSuite) TestDistinctOrdinals(c *gc.C) {
	a := NewStreamID("g1", 0)
	b := NewStreamID("g1", 1)
	c.Assert(a, gc.Not(gc.Equals), b)
}

func (s *IDTestSuite) TestDistinctKinds(c *gc.C) {
	streamID := NewStreamID("g1", 0)
	opID := NewOperatorID("g1", 0)
	c.Assert(streamID[:], gc.Not(gc.DeepEquals), opID[:])
}

func (s *IDTestSuite) TestWorkerIDsAreRandom(c *gc.C) {
	a := NewWorkerID()
	b := NewWorkerID()
	c.Assert(a, gc.Not(gc.Equals), b)
}
