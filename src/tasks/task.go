// Package tasks 管理子进程型任务（录制、转码）的统一注册与控制。
package tasks

import (
	"sync"

	"github.com/bililive-tools/bililive-tools/src/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// IsTerminal 终态任务不再接受任何控制操作
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Task 子进程型任务的统一契约。
// Pause/Resume/Kill 在状态不允许时返回 false 而不是报错。
type Task interface {
	ID() types.TaskID
	Status() Status
	// Exec 阻塞运行任务直到结束，由 Registry 在独立 goroutine 中调用
	Exec() error
	Pause() bool
	Resume() bool
	Kill() bool
}

// taskState 供具体任务内嵌的状态机，转移全部串行化
type taskState struct {
	mu     sync.Mutex
	status Status
}

func (t *taskState) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// transition 仅当当前状态在 from 中时迁移到 to
func (t *taskState) transition(to Status, from ...Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range from {
		if t.status == f {
			t.status = to
			return true
		}
	}
	return false
}

func (t *taskState) set(to Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = to
}
