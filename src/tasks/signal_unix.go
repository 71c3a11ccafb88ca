//go:build !windows

package tasks

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errNoProcess = errors.New("tasks: process not started")

// signalStop 暂停进程执行，对应 SIGSTOP
func (t *FFmpegTask) signalStop() error {
	pid := t.pid()
	if pid == 0 {
		return errNoProcess
	}
	return unix.Kill(pid, unix.SIGSTOP)
}

// signalCont 恢复被暂停的进程，对应 SIGCONT
func (t *FFmpegTask) signalCont() error {
	pid := t.pid()
	if pid == 0 {
		return errNoProcess
	}
	return unix.Kill(pid, unix.SIGCONT)
}
