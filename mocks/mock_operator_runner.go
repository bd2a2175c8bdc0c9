package mocks

import (
	context "context"
	reflect "reflect"

	gomock "github.com/golang/mock/gomock"

	executor "github.com/mkungla/flowmesh/executor"
	message "github.com/mkungla/flowmesh/message"
)

// MockIntOperatorRunner is a mock of executor.OperatorRunner[int], hand-
// specialized because mockgen cannot target a generic interface directly;
// a concrete instantiation is mocked instead, one per payload type a test
// needs (spec.md §9 "Type-erased heterogeneous containers" applies to
// production code, not to this test seam).
type MockIntOperatorRunner struct {
	ctrl     *gomock.Controller
	recorder *MockIntOperatorRunnerMockRecorder
}

// MockIntOperatorRunnerMockRecorder is the mock recorder for MockIntOperatorRunner.
type MockIntOperatorRunnerMockRecorder struct {
	mock *MockIntOperatorRunner
}

// NewMockIntOperatorRunner creates a new mock instance.
func NewMockIntOperatorRunner(ctrl *gomock.Controller) *MockIntOperatorRunner {
	mock := &MockIntOperatorRunner{ctrl: ctrl}
	mock.recorder = &MockIntOperatorRunnerMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockIntOperatorRunner) EXPECT() *MockIntOperatorRunnerMockRecorder {
	return m.recorder
}

// OnData mocks base method.
func (m *MockIntOperatorRunner) OnData(ctx context.Context, ts message.Timestamp, data int) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OnData", ctx, ts, data)
	ret0, _ := ret[0].(error)
	return ret0
}

// OnData indicates an expected call of OnData.
func (mr *MockIntOperatorRunnerMockRecorder) OnData(ctx, ts, data interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OnData", reflect.TypeOf((*MockIntOperatorRunner)(nil).OnData), ctx, ts, data)
}

// OnWatermark mocks base method.
func (m *MockIntOperatorRunner) OnWatermark(ctx context.Context, ts message.Timestamp) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OnWatermark", ctx, ts)
	ret0, _ := ret[0].(error)
	return ret0
}

// OnWatermark indicates an expected call of OnWatermark.
func (mr *MockIntOperatorRunnerMockRecorder) OnWatermark(ctx, ts interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OnWatermark", reflect.TypeOf((*MockIntOperatorRunner)(nil).OnWatermark), ctx, ts)
}

var _ executor.OperatorRunner[int] = (*MockIntOperatorRunner)(nil)
