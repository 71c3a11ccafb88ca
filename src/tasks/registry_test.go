package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-tools/bililive-tools/src/types"
)

// fakeTask 只驱动状态机，不真正起进程
type fakeTask struct {
	taskState
	id types.TaskID
}

func newFakeTask(id string, status Status) *fakeTask {
	t := &fakeTask{id: types.TaskID(id)}
	t.taskState.status = status
	return t
}

func (t *fakeTask) ID() types.TaskID { return t.id }
func (t *fakeTask) Exec() error      { return nil }

func (t *fakeTask) Pause() bool {
	return t.transition(StatusPaused, StatusRunning)
}

func (t *fakeTask) Resume() bool {
	return t.transition(StatusRunning, StatusPaused)
}

func (t *fakeTask) Kill() bool {
	return t.transition(StatusError, StatusPending, StatusRunning, StatusPaused)
}

func newTestRegistry(tasks ...Task) *Registry {
	r := NewRegistry(context.Background(), 2)
	r.mu.Lock()
	for _, t := range tasks {
		r.tasks[t.ID()] = t
		r.order = append(r.order, t.ID())
	}
	r.mu.Unlock()
	return r
}

func TestPauseResumeRoundTrip(t *testing.T) {
	task := newFakeTask("t1", StatusRunning)
	r := newTestRegistry(task)

	assert.True(t, r.Pause("t1"))
	assert.Equal(t, StatusPaused, task.Status())
	assert.True(t, r.Resume("t1"))
	assert.Equal(t, StatusRunning, task.Status())
}

func TestPauseOnlyFromRunning(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusPaused, StatusCompleted, StatusError} {
		task := newFakeTask("t1", status)
		r := newTestRegistry(task)
		assert.False(t, r.Pause("t1"), "status=%s", status)
		assert.Equal(t, status, task.Status())
	}
}

func TestResumeOnlyFromPaused(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusError} {
		task := newFakeTask("t1", status)
		r := newTestRegistry(task)
		assert.False(t, r.Resume("t1"), "status=%s", status)
		assert.Equal(t, status, task.Status())
	}
}

func TestKillFromAnyNonTerminal(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusRunning, StatusPaused} {
		task := newFakeTask("t1", status)
		r := newTestRegistry(task)
		assert.True(t, r.Kill("t1"), "status=%s", status)
		assert.Equal(t, StatusError, task.Status())
	}
}

func TestKillTerminalIsNoop(t *testing.T) {
	task := newFakeTask("t1", StatusCompleted)
	r := newTestRegistry(task)
	assert.False(t, r.Kill("t1"))
	assert.Equal(t, StatusCompleted, task.Status())

	task = newFakeTask("t2", StatusError)
	r = newTestRegistry(task)
	assert.False(t, r.Kill("t2"))
	assert.Equal(t, StatusError, task.Status())
}

func TestUnknownTaskOperations(t *testing.T) {
	r := newTestRegistry()
	assert.False(t, r.Pause("missing"))
	assert.False(t, r.Resume("missing"))
	assert.False(t, r.Kill("missing"))
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	running := newFakeTask("active", StatusRunning)
	done := newFakeTask("done", StatusCompleted)
	r := newTestRegistry(running, done)

	assert.Error(t, r.Remove("active"))
	require.NoError(t, r.Remove("done"))
	assert.ErrorIs(t, r.Remove("done"), ErrTaskNotExist)
	assert.Len(t, r.List(), 1)
}

func TestListKeepsSubmitOrder(t *testing.T) {
	a := newFakeTask("a", StatusPending)
	b := newFakeTask("b", StatusPending)
	c := newFakeTask("c", StatusPending)
	r := newTestRegistry(a, b, c)
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, types.TaskID("a"), list[0].ID())
	assert.Equal(t, types.TaskID("c"), list[2].ID())
}
