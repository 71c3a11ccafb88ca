// Package webhook 把外部录制器（录播姬、blrec、DDTV、自定义集成）的回调
// 归一化为统一的开档/关档事件，并负责把它们缝合为完整的录制场次。
package webhook

import (
	"errors"
	"fmt"
	"time"
)

type EventKind string

const (
	KindOpening EventKind = "FileOpening"
	KindClosed  EventKind = "FileClosed"
)

// Event 所有外部录制后端事件统一归一化成的形状。
// 一经产出不再修改。
type Event struct {
	Kind     EventKind
	FilePath string
	RoomID   string
	Platform string
	Time     time.Time
	Title    string
	Username string
	// 可选旁路文件
	CoverPath string
	DanmuPath string
}

// ErrValidation 严格校验后端的请求体不合法，
// 应映射为客户端错误而不是静默丢弃
var ErrValidation = errors.New("webhook: invalid event payload")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// 各后端时间戳格式不统一，逐个尝试
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseEventTime(s string) time.Time {
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
