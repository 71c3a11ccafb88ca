package instance

import (
	"sync"

	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/types"
)

// LiveMap 是并发安全的直播间集合。
// HTTP handler 与监控 goroutine 会同时读写，普通 map 会 panic。
// 零值可用，写入时懒初始化。
type LiveMap struct {
	mu sync.RWMutex
	m  map[types.LiveID]live.Live
}

func (lm *LiveMap) Get(id types.LiveID) (live.Live, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	v, ok := lm.m[id]
	return v, ok
}

func (lm *LiveMap) Set(id types.LiveID, l live.Live) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.m == nil {
		lm.m = make(map[types.LiveID]live.Live)
	}
	lm.m[id] = l
}

func (lm *LiveMap) Delete(id types.LiveID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.m, id)
}

func (lm *LiveMap) Has(id types.LiveID) bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	_, ok := lm.m[id]
	return ok
}

func (lm *LiveMap) Len() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.m)
}

// Snapshot 返回浅拷贝。遍历中需要修改集合、或回调耗时较长时使用，
// 避免长期持有读锁。
func (lm *LiveMap) Snapshot() map[types.LiveID]live.Live {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make(map[types.LiveID]live.Live, len(lm.m))
	for id, l := range lm.m {
		out[id] = l
	}
	return out
}
