package quill

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	signalMu      sync.Mutex
	signalCh      chan os.Signal
	signalStopped chan struct{}
)

// InstallSignalHandler arranges for SIGINT and SIGTERM to log a severe
// event against _sub, call Shutdown to flush every sink, and then
// terminate the process, mirroring the original's fatal-signal hook
// closing the log file before letting the crash proceed. It is opt-in:
// most Go programs already have their own termination handling, so quill
// never installs this on its own.
//
// Go offers no equivalent of chaining onto a previously installed
// handler (there is no single global disposition to save and restore);
// callers who need custom shutdown behavior alongside this one should
// not call InstallSignalHandler and instead call Shutdown from their own
// signal.Notify loop.
//
// Calling InstallSignalHandler more than once replaces the previous
// registration.
func InstallSignalHandler(sub SubsystemID) {
	signalMu.Lock()
	defer signalMu.Unlock()

	if signalCh != nil {
		signal.Stop(signalCh)
		close(signalStopped)
	}

	signalCh = make(chan os.Signal, 1)
	signalStopped = make(chan struct{})
	stopped := signalStopped
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signalCh:
			Log(Severe, sub, fmt.Sprintf("terminating on signal: %s", sig), "")
			Shutdown()
			signal.Stop(signalCh)
			os.Exit(128 + signalNumber(sig))
		case <-stopped:
		}
	}()
}

// StopSignalHandler undoes a prior InstallSignalHandler, restoring Go's
// default handling of SIGINT/SIGTERM.
func StopSignalHandler() {
	signalMu.Lock()
	defer signalMu.Unlock()
	if signalCh == nil {
		return
	}
	signal.Stop(signalCh)
	close(signalStopped)
	signalCh = nil
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
