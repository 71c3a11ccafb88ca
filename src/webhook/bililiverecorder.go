package webhook

import (
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/bililive-tools/bililive-tools/src/consts"
)

const PlatformBiliRecorder = "bili-recorder"

// dockerRecorderFolder Docker 部署时录播姬工作目录的固定挂载点
const dockerRecorderFolder = "/app/video"

// NormalizeBililiveRecorder 归一化录播姬的 webhook 事件。
// 录播姬直接给出 FileOpening/FileClosed，文件路径是相对其工作目录的
// 相对路径，这里拼回绝对路径。其他事件类型返回 nil 表示忽略。
func NormalizeBililiveRecorder(body []byte, recoderFolder string) (*Event, error) {
	eventType := gjson.GetBytes(body, "EventType").String()
	if eventType != string(KindOpening) && eventType != string(KindClosed) {
		return nil, nil
	}

	folder := recoderFolder
	if consts.IsDocker() {
		folder = dockerRecorderFolder
	}
	if folder == "" {
		return nil, nil
	}

	data := gjson.GetBytes(body, "EventData")
	return &Event{
		Kind:     EventKind(eventType),
		FilePath: filepath.Join(folder, filepath.FromSlash(data.Get("RelativePath").String())),
		RoomID:   data.Get("RoomId").String(),
		Platform: PlatformBiliRecorder,
		Time:     parseEventTime(gjson.GetBytes(body, "EventTimestamp").String()),
		Title:    data.Get("Title").String(),
		Username: data.Get("Name").String(),
	}, nil
}
