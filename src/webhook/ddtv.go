package webhook

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const PlatformDDTV = "ddtv"

// DDTV 没有独立的开档事件，RecordingEnd 实际是分片结束信号，
// 这里要补发缺失的 FileOpening，并把 FileClosed 延迟一小段时间，
// 等 DDTV 自己的文件列表记录稳定
const ddtvCloseDelay = 5 * time.Second

// DDTVResult 一次 DDTV 事件归一化的产物：
// 立即生效的开档事件，和延迟补发的关档事件
type DDTVResult struct {
	Opening *Event
	Closed  *Event
	// CloseDelay Closed 应延迟的时长
	CloseDelay time.Duration
}

// NormalizeDDTV 归一化 DDTV 的 webhook 事件。
// 事件里的 File 字段是不带后缀变体的切片路径，真实路径要在
// DownloadFileList 里从后往前做包含匹配找到，弹幕文件同理。
func NormalizeDDTV(body []byte) (*DDTVResult, error) {
	cmd := gjson.GetBytes(body, "cmd").String()
	if cmd != "StartRecording" && cmd != "RecordingEnd" {
		return nil, nil
	}

	data := gjson.GetBytes(body, "data")
	lastFile := filepath.Clean(data.Get("DownInfo.LiveChatListener.File").String())
	if lastFile == "" || lastFile == "." {
		return nil, nil
	}

	videoFile := findLastMatch(data.Get("DownInfo.DownloadFileList.VideoFile"), lastFile)
	if videoFile == "" {
		return nil, nil
	}
	danmuFile := findLastMatch(data.Get("DownInfo.DownloadFileList.DanmuFile"), lastFile)

	base := Event{
		FilePath:  videoFile,
		RoomID:    data.Get("RoomId").String(),
		Platform:  PlatformDDTV,
		Title:     data.Get("Title.Value").String(),
		Username:  data.Get("Name").String(),
		DanmuPath: danmuFile,
	}

	opening := base
	opening.Kind = KindOpening
	opening.Time = parseEventTime(data.Get("DownInfo.StartTime").String())

	closed := base
	closed.Kind = KindClosed
	closed.Time = time.Now()

	return &DDTVResult{
		Opening:    &opening,
		Closed:     &closed,
		CloseDelay: ddtvCloseDelay,
	}, nil
}

// findLastMatch 在文件列表里从后往前找包含 token 的项。
// 列表按时间先后排列，越靠后的越新，所以反向扫描拿到的是当前文件。
func findLastMatch(list gjson.Result, token string) string {
	items := list.Array()
	for i := len(items) - 1; i >= 0; i-- {
		item := filepath.Clean(items[i].String())
		if strings.Contains(item, token) {
			return item
		}
	}
	return ""
}
