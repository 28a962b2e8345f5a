// File: transport/signals.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// watchSignals stops the loop on SIGINT/SIGTERM and ignores SIGPIPE so a
// broken pipe surfaces as EPIPE on the write. The returned func undoes the
// termination handling.
func (t *TCPTransport) watchSignals() func() {
	signal.Ignore(syscall.SIGPIPE)
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			t.log.Info("terminating on signal", zap.Stringer("signal", sig))
			t.Stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
