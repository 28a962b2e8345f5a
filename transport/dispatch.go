// File: transport/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"go.uber.org/zap"
)

// Dispatch runs work on the worker pool and then onComplete, with work's
// result, on the loop goroutine. onComplete may be nil.
func (t *TCPTransport) Dispatch(work func() any, onComplete func(any)) {
	t.submit(func() {
		res := work()
		if onComplete == nil {
			return
		}
		if !t.post(func() { onComplete(res) }) {
			t.log.Warn("transport closed, dropping completion callback")
		}
	})
}

// DispatchLocal runs work and then onComplete on the same worker. Use it
// only when onComplete does not touch transport state.
func (t *TCPTransport) DispatchLocal(work func() any, onComplete func(any)) {
	t.submit(func() {
		res := work()
		if onComplete != nil {
			onComplete(res)
		}
	})
}

// DispatchDetached runs work on the worker pool and ignores its result.
func (t *TCPTransport) DispatchDetached(work func() any) {
	t.submit(func() { work() })
}

// IssueCallback runs cb(arg) on the loop goroutine.
func (t *TCPTransport) IssueCallback(cb func(any), arg any) {
	if !t.post(func() { cb(arg) }) {
		t.log.Warn("transport closed, dropping callback")
	}
}

func (t *TCPTransport) submit(task func()) {
	if err := t.executor.Submit(task); err != nil {
		t.log.Warn("cannot dispatch work", zap.Error(err))
		return
	}
	t.metrics.TasksDispatched.Inc()
}
