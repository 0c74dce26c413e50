package quill

import (
	"syscall"
	"testing"
)

func TestSignalNumber(t *testing.T) {
	if got := signalNumber(syscall.SIGTERM); got != int(syscall.SIGTERM) {
		t.Errorf("signalNumber(SIGTERM) = %d, want %d", got, int(syscall.SIGTERM))
	}
}

func TestStopSignalHandlerWithoutInstallIsNoop(t *testing.T) {
	StopSignalHandler() // must not panic when nothing was ever installed
}

func TestInstallThenStopSignalHandler(t *testing.T) {
	sub := Register("signal-test")
	InstallSignalHandler(sub)
	defer StopSignalHandler()

	InstallSignalHandler(sub) // reinstalling must replace, not leak a goroutine
	StopSignalHandler()
}
