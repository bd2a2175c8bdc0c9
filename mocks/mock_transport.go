// Package mocks hand-authors gomock-style mocks for interfaces this module
// needs to stub in tests, in the shape mockgen would generate (the teacher
// drives mocks with //go:generate mockgen directives, e.g.
// Chapter10/linksrus/service/frontend/frontend.go), since no mockgen binary
// is available in this environment to run codegen against.
package mocks

import (
	reflect "reflect"

	gomock "github.com/golang/mock/gomock"

	control "github.com/mkungla/flowmesh/control"
)

// MockTransport is a mock of control.Transport.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

// MockTransportMockRecorder is the mock recorder for MockTransport.
type MockTransportMockRecorder struct {
	mock *MockTransport
}

// NewMockTransport creates a new mock instance.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	mock := &MockTransport{ctrl: ctrl}
	mock.recorder = &MockTransportMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransport) EXPECT() *MockTransportMockRecorder {
	return m.recorder
}

// SendChan mocks base method.
func (m *MockTransport) SendChan() chan<- control.Message {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendChan")
	ret0, _ := ret[0].(chan<- control.Message)
	return ret0
}

// SendChan indicates an expected call of SendChan.
func (mr *MockTransportMockRecorder) SendChan() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendChan", reflect.TypeOf((*MockTransport)(nil).SendChan))
}

// RecvChan mocks base method.
func (m *MockTransport) RecvChan() <-chan control.Message {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RecvChan")
	ret0, _ := ret[0].(<-chan control.Message)
	return ret0
}

// RecvChan indicates an expected call of RecvChan.
func (mr *MockTransportMockRecorder) RecvChan() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RecvChan", reflect.TypeOf((*MockTransport)(nil).RecvChan))
}

// SetDisconnectCallback mocks base method.
func (m *MockTransport) SetDisconnectCallback(cb func()) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "SetDisconnectCallback", cb)
}

// SetDisconnectCallback indicates an expected call of SetDisconnectCallback.
func (mr *MockTransportMockRecorder) SetDisconnectCallback(cb interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SetDisconnectCallback", reflect.TypeOf((*MockTransport)(nil).SetDisconnectCallback), cb)
}

// Close mocks base method.
func (m *MockTransport) Close(err error) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close", err)
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *MockTransportMockRecorder) Close(err interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockTransport)(nil).Close), err)
}
