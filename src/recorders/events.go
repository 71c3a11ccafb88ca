package recorders

import (
	"errors"

	"github.com/bililive-tools/bililive-tools/src/pkg/events"
)

const (
	// LiveStart 房间从未开播转为开播
	LiveStart events.EventType = "LiveStart"
	// LiveEnd 房间从开播转为未开播
	LiveEnd events.EventType = "LiveEnd"
	// RecorderStart 录制会话启动
	RecorderStart events.EventType = "RecorderStart"
	// RecorderStop 录制会话结束
	RecorderStop events.EventType = "RecorderStop"
)

var (
	ErrRecorderExist    = errors.New("recorder is exist")
	ErrRecorderNotExist = errors.New("recorder is not exist")
)
