package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/interfaces"
	"github.com/bililive-tools/bililive-tools/src/metrics"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/types"
)

var ErrTaskNotExist = errors.New("task not exists")

// Registry 所有任务的统一入口。用户侧的暂停/恢复/强杀与任务自身的
// 生命周期回调会并发到达，全部修改经由同一把锁串行化，
// 避免强杀与自然完成竞争时丢状态。
type Registry struct {
	mu    sync.RWMutex
	tasks map[types.TaskID]Task
	order []types.TaskID

	maxConcurrent int
	sem           chan struct{}
}

func NewRegistry(ctx context.Context, maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	r := &Registry{
		tasks:         make(map[types.TaskID]Task),
		maxConcurrent: maxConcurrent,
		sem:           make(chan struct{}, maxConcurrent),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.TaskRegistry = r
	}
	return r
}

func (r *Registry) Start(ctx context.Context) error {
	return nil
}

func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	tasks := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()
	for _, t := range tasks {
		if !t.Status().IsTerminal() {
			t.Kill()
		}
	}
}

// Submit 注册任务并在并发额度内异步执行
func (r *Registry) Submit(t Task) {
	r.mu.Lock()
	r.tasks[t.ID()] = t
	r.order = append(r.order, t.ID())
	r.mu.Unlock()

	bilisentry.Go(func() {
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		// 排队期间可能已被强杀
		if t.Status().IsTerminal() {
			return
		}
		metrics.TasksRunning.Inc()
		defer metrics.TasksRunning.Dec()
		_ = t.Exec()
	})
}

// Get 按 id 查找任务，O(1)
func (r *Registry) Get(id types.TaskID) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List 按提交顺序返回所有任务
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		if t, ok := r.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Pause 暂停任务。任务不存在或不处于 running 时返回 false
func (r *Registry) Pause(id types.TaskID) bool {
	t, ok := r.Get(id)
	if !ok {
		return false
	}
	return t.Pause()
}

// Resume 恢复任务。任务不存在或不处于 paused 时返回 false
func (r *Registry) Resume(id types.TaskID) bool {
	t, ok := r.Get(id)
	if !ok {
		return false
	}
	return t.Resume()
}

// Kill 强制结束任务。终态任务返回 false 且状态不变
func (r *Registry) Kill(id types.TaskID) bool {
	t, ok := r.Get(id)
	if !ok {
		return false
	}
	return t.Kill()
}

// Remove 从注册表移除终态任务
func (r *Registry) Remove(id types.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotExist
	}
	if !t.Status().IsTerminal() {
		return errors.New("task is still active")
	}
	delete(r.tasks, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

var _ interfaces.Module = (*Registry)(nil)
