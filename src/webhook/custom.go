package webhook

import (
	"github.com/tidwall/gjson"
)

const PlatformCustom = "custom"

// NormalizeCustom 归一化自定义集成直接投递的事件。
// 与其他后端不同，这里做严格校验：缺任何必填字段都拒绝请求，
// 而不是静默丢弃。
func NormalizeCustom(body []byte) (*Event, error) {
	ev := gjson.ParseBytes(body)

	filePath := ev.Get("filePath").String()
	if filePath == "" {
		return nil, validationErrorf("filePath is required")
	}
	if !ev.Get("roomId").Exists() || ev.Get("roomId").String() == "" {
		return nil, validationErrorf("roomId is required")
	}
	timeStr := ev.Get("time").String()
	if timeStr == "" {
		return nil, validationErrorf("time is required")
	}
	title := ev.Get("title").String()
	if title == "" {
		return nil, validationErrorf("title is required")
	}
	username := ev.Get("username").String()
	if username == "" {
		return nil, validationErrorf("username is required")
	}
	kind := ev.Get("event").String()
	if kind != string(KindOpening) && kind != string(KindClosed) {
		return nil, validationErrorf("event should be FileOpening or FileClosed")
	}

	return &Event{
		Kind:      EventKind(kind),
		FilePath:  filePath,
		RoomID:    ev.Get("roomId").String(),
		Platform:  PlatformCustom,
		Time:      parseEventTime(timeStr),
		Title:     title,
		Username:  username,
		CoverPath: ev.Get("coverPath").String(),
		DanmuPath: ev.Get("danmuPath").String(),
	}, nil
}
