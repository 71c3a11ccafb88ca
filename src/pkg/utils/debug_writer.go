package utils

import (
	"io"

	"github.com/bililive-tools/bililive-tools/src/configs"
)

// DebugControlledWriter 在每次写入时读取当前全局配置的 Debug 值：
// - Debug=true: 将内容写入到目标 writer（通常是 os.Stdout/os.Stderr）
// - Debug=false: 丢弃输出（对被写入方表现为写入成功，以避免阻塞）
// 使用场景：子进程 stdout/stderr 的动态门控。
// 注意：该 writer 无缓冲也不做换行处理，仅按原样透传。

type debugControlledWriter struct {
	target io.Writer
}

func (w debugControlledWriter) Write(p []byte) (int, error) {
	if configs.IsDebug() {
		return w.target.Write(p)
	}
	return len(p), nil
}

// NewDebugControlledWriter 返回一个实现了 io.Writer 的包装器，
// 会根据全局 Debug 开关决定是否将写入透传到目标 writer。
func NewDebugControlledWriter(target io.Writer) io.Writer {
	return debugControlledWriter{target: target}
}
