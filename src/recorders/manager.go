package recorders

import (
	"context"
	"sync"
	"time"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/interfaces"
	"github.com/bililive-tools/bililive-tools/src/live"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/types"
)

type Manager interface {
	interfaces.Module
	AddRecorder(ctx context.Context, live live.Live) error
	RemoveRecorder(ctx context.Context, liveId types.LiveID) error
	RestartRecorder(ctx context.Context, live live.Live) error
	GetRecorder(ctx context.Context, liveId types.LiveID) (Recorder, error)
	HasRecorder(ctx context.Context, liveId types.LiveID) bool
	// GetAllSessionPIDs 所有活动录制子进程的 PID
	GetAllSessionPIDs() []int
}

// for test
var newRecorder = NewRecorder

func NewManager(ctx context.Context) Manager {
	rm := &manager{
		savers: make(map[types.LiveID]*managedRecorder),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.RecorderManager = rm
	}
	return rm
}

type managedRecorder struct {
	recorder Recorder
	live     live.Live
	cancel   context.CancelFunc
}

type manager struct {
	lock   sync.RWMutex
	savers map[types.LiveID]*managedRecorder
}

func (m *manager) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)
	inst.WaitGroup.Add(1)

	for _, l := range inst.Lives.Snapshot() {
		if err := m.AddRecorder(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (m *manager) Close(ctx context.Context) {
	m.lock.Lock()
	for id, mr := range m.savers {
		mr.cancel()
		mr.recorder.Close()
		delete(m.savers, id)
	}
	m.lock.Unlock()
	instance.GetInstance(ctx).WaitGroup.Done()
}

func (m *manager) AddRecorder(ctx context.Context, l live.Live) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.savers[l.GetLiveId()]; ok {
		return ErrRecorderExist
	}
	r, err := newRecorder(ctx, l)
	if err != nil {
		return err
	}
	pollCtx, cancel := context.WithCancel(ctx)
	m.savers[l.GetLiveId()] = &managedRecorder{recorder: r, live: l, cancel: cancel}

	bilisentry.GoWithContext(pollCtx, func(ctx context.Context) {
		m.pollLoop(ctx, r, l)
	})
	return nil
}

// pollLoop 按房间配置的间隔驱动状态机 tick，间隔每轮重读，
// 配置热更新后下一轮即生效
func (m *manager) pollLoop(ctx context.Context, r Recorder, l live.Live) {
	for {
		r.Tick(ctx)

		interval := 30
		if cfg := configs.GetCurrentConfig(); cfg != nil {
			if room, err := cfg.GetLiveRoomByUrl(l.GetRawUrl()); err == nil {
				interval = cfg.IntervalForRoom(room)
			} else if cfg.Interval > 0 {
				interval = cfg.Interval
			}
		}

		timer := time.NewTimer(time.Duration(interval) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *manager) RemoveRecorder(ctx context.Context, liveId types.LiveID) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	mr, ok := m.savers[liveId]
	if !ok {
		return ErrRecorderNotExist
	}
	mr.cancel()
	mr.recorder.Close()
	delete(m.savers, liveId)
	return nil
}

func (m *manager) RestartRecorder(ctx context.Context, l live.Live) error {
	if err := m.RemoveRecorder(ctx, l.GetLiveId()); err != nil {
		return err
	}
	return m.AddRecorder(ctx, l)
}

func (m *manager) GetRecorder(ctx context.Context, liveId types.LiveID) (Recorder, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	mr, ok := m.savers[liveId]
	if !ok {
		return nil, ErrRecorderNotExist
	}
	return mr.recorder, nil
}

func (m *manager) HasRecorder(ctx context.Context, liveId types.LiveID) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.savers[liveId]
	return ok
}

func (m *manager) GetAllSessionPIDs() []int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	pids := make([]int, 0, len(m.savers))
	for _, mr := range m.savers {
		if pid := mr.recorder.GetSessionPID(); pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
