package mocks_test

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/message"
	"github.com/mkungla/flowmesh/mocks"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(MocksTestSuite))

type MocksTestSuite struct{}

func (s *MocksTestSuite) TestMockTransportSendChan(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	ch := make(chan control.Message, 1)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().SendChan().Return((chan<- control.Message)(ch))

	tr.SendChan() <- control.Message{Kind: control.KindLeaderShutdown}
	c.Assert((<-ch).Kind, gc.Equals, control.KindLeaderShutdown)
}

func (s *MocksTestSuite) TestMockIntOperatorRunnerOnData(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	runner := mocks.NewMockIntOperatorRunner(ctrl)
	ts := message.Timestamp{1}
	runner.EXPECT().OnData(gomock.Any(), ts, 42).Return(nil)

	err := runner.OnData(context.Background(), ts, 42)
	c.Assert(err, gc.IsNil)
}
