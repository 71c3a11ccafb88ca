// Package sentry 提供 Sentry 错误监控的封装
// 用于收集 goroutine panic，同时保护用户隐私（不上报 cookie 等敏感字段）
package sentry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	initialized bool
	initMu      sync.RWMutex
)

// 敏感关键字列表，命中的 tag / extra 在上报前会被抹掉
var sensitiveKeywords = []string{
	"cookie", "token", "password", "secret", "key", "auth", "credential",
}

// Init 初始化 Sentry
// dsn 为空时视为禁用，所有封装退化为纯 recover 行为
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return err
	}
	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

func isInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// scrubEvent 过滤敏感数据
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	for k := range event.Tags {
		if isSensitiveKey(k) {
			delete(event.Tags, k)
		}
	}
	for k := range event.Extra {
		if isSensitiveKey(k) {
			delete(event.Extra, k)
		}
	}
	return event
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Flush 等待事件队列发送完成，在进程退出前调用
func Flush(timeout time.Duration) {
	if isInitialized() {
		sentry.Flush(timeout)
	}
}

// Recover 捕获当前 goroutine 的 panic 并上报，随后继续向上抛出
// 用法：defer bilisentry.Recover()
func Recover() {
	if err := recover(); err != nil {
		if isInitialized() {
			sentry.CurrentHub().Recover(err)
			sentry.Flush(2 * time.Second)
		}
		panic(err)
	}
}

// Go 在新 goroutine 中运行 fn，panic 会被上报到 Sentry
func Go(fn func()) {
	go func() {
		defer Recover()
		fn()
	}()
}

// GoWithContext 在新 goroutine 中运行 fn 并传入 ctx
func GoWithContext(ctx context.Context, fn func(ctx context.Context)) {
	go func() {
		defer Recover()
		fn(ctx)
	}()
}
