//go:build windows

package tasks

import "errors"

var errNotSupported = errors.New("tasks: pause/resume is not supported on windows")

// windows 没有进程停止/继续信号，暂停恢复直接报不支持
func (t *FFmpegTask) signalStop() error {
	return errNotSupported
}

func (t *FFmpegTask) signalCont() error {
	return errNotSupported
}
