package instance

import (
	"context"
	"sync"

	"github.com/bluele/gcache"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/interfaces"
)

// Instance 持有进程内所有常驻模块，通过 context 在各层之间传递。
// 模块字段统一声明为 interfaces.Module，使用方按需做类型断言，
// 避免 instance 包反向依赖具体模块造成 import cycle。
type Instance struct {
	WaitGroup sync.WaitGroup
	Config    *configs.Config
	Logger    *interfaces.Logger
	Lives     LiveMap
	Cache     gcache.Cache

	Server            interfaces.Module
	EventDispatcher   interfaces.Module
	RecorderManager   interfaces.Module
	TaskRegistry      interfaces.Module
	WebhookReconciler interfaces.Module
	Notifier          interfaces.Module
}

type key string

// Key 是 Instance 在 context 中的键
var Key = key("instance")

// GetInstance 从 ctx 中取出 Instance，未注入时返回 nil
func GetInstance(ctx context.Context) *Instance {
	if inst, ok := ctx.Value(Key).(*Instance); ok {
		return inst
	}
	return nil
}
