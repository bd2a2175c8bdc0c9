package control_test

import (
	"bytes"
	"reflect"
	"testing"

	gc "gopkg.in/check.v1"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/id"
)

func Test(t *testing.T) { gc.TestingT(t) }

type CodecTestSuite struct{}

var _ = gc.Suite(new(CodecTestSuite))

func roundTrip(c *gc.C, m control.Message) control.Message {
	var buf bytes.Buffer
	err := control.WriteMessage(&buf, m)
	c.Assert(err, gc.IsNil)

	got, err := control.ReadMessage(&buf)
	c.Assert(err, gc.IsNil)
	return got
}

func (s *CodecTestSuite) TestInitializedRoundTrips(c *gc.C) {
	wID := id.NewWorkerID()
	m := control.Message{
		Kind: control.KindInitialized,
		Initialized: &control.Initialized{
			State: control.WorkerState{ID: wID, DataPlaneAddr: "10.0.0.1:4000", Resources: 4},
		},
	}
	got := roundTrip(c, m)
	c.Assert(got.Kind, gc.Equals, control.KindInitialized)
	c.Assert(*got.Initialized, gc.DeepEquals, *m.Initialized)
}

func (s *CodecTestSuite) TestScheduleJobRoundTrips(c *gc.C) {
	gID := id.NewJobGraphID("g")
	opID := id.NewOperatorID("g", 0)
	job := dataflow.OperatorJob(opID)
	m := control.Message{
		Kind: control.KindScheduleJob,
		ScheduleJob: &control.ScheduleJob{
			GraphID: gID,
			Job:     job,
			WorkerAddresses: map[dataflow.Job]string{
				job: "127.0.0.1:5000",
			},
		},
	}
	got := roundTrip(c, m)
	c.Assert(got.Kind, gc.Equals, control.KindScheduleJob)
	c.Assert(got.ScheduleJob.GraphID, gc.Equals, m.ScheduleJob.GraphID)
	c.Assert(got.ScheduleJob.Job, gc.Equals, m.ScheduleJob.Job)
	c.Assert(reflect.DeepEqual(got.ScheduleJob.WorkerAddresses, m.ScheduleJob.WorkerAddresses), gc.Equals, true)
}

func (s *CodecTestSuite) TestSubmitGraphRoundTripsStreamBookkeeping(c *gc.C) {
	g := dataflow.NewGraph("codec-rt")
	out := g.AddStream("out", "int")
	_, err := g.AddOperator("source", nil, dataflow.VariantSource, nil, []id.StreamID{out}, nil)
	c.Assert(err, gc.IsNil)
	_, err = g.AddOperator("sink", nil, dataflow.VariantSink, []id.StreamID{out}, nil, nil)
	c.Assert(err, gc.IsNil)
	jg, err := g.Compile()
	c.Assert(err, gc.IsNil)

	m := control.Message{
		Kind: control.KindSubmitGraph,
		SubmitGraph: &control.SubmitGraph{
			GraphID:  jg.ID,
			Abstract: jg.Abstract(),
		},
	}
	got := roundTrip(c, m)
	c.Assert(got.Kind, gc.Equals, control.KindSubmitGraph)
	c.Assert(got.SubmitGraph.Abstract.Streams, gc.HasLen, 1)

	gotStream := got.SubmitGraph.Abstract.Streams[out]
	c.Assert(gotStream.HasSource(), gc.Equals, true)
	c.Assert(gotStream.Destinations(), gc.HasLen, 1)
}

func (s *CodecTestSuite) TestExecuteGraphAndShutdownRoundTrip(c *gc.C) {
	gID := id.NewJobGraphID("g2")
	got := roundTrip(c, control.Message{Kind: control.KindExecuteGraph, ExecuteGraph: &control.ExecuteGraph{GraphID: gID}})
	c.Assert(got.ExecuteGraph.GraphID, gc.Equals, gID)

	got = roundTrip(c, control.Message{Kind: control.KindWorkerShutdown})
	c.Assert(got.Kind, gc.Equals, control.KindWorkerShutdown)
}
