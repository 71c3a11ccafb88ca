package webhook

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hr3lxphr6j/requests"
	"github.com/tidwall/gjson"

	"github.com/bililive-tools/bililive-tools/src/consts"
)

const PlatformBlrec = "blrec"

// blrec 事件类型
const (
	blrecVideoCreated   = "VideoFileCreatedEvent"
	blrecVideoCompleted = "VideoFileCompletedEvent"
)

// RoomInfoProvider 反查房间标题与主播名。
// blrec 的事件里没有这两个字段，需要补齐。
type RoomInfoProvider interface {
	GetRoomInfo(roomID string) (title, username string, err error)
}

// BlrecRoomClient 通过 blrec 自己的 REST API 反查房间信息
type BlrecRoomClient struct {
	// Source blrec 服务地址，如 http://127.0.0.1:2233
	Source  string
	session *requests.Session
}

func NewBlrecRoomClient(source string) *BlrecRoomClient {
	return &BlrecRoomClient{
		Source:  strings.TrimRight(source, "/"),
		session: requests.NewSession(&http.Client{Timeout: 10 * time.Second}),
	}
}

func (c *BlrecRoomClient) GetRoomInfo(roomID string) (string, string, error) {
	resp, err := c.session.Get(fmt.Sprintf("%s/api/v1/rooms/%s", c.Source, roomID))
	if err != nil {
		return "", "", err
	}
	body, err := resp.Text()
	if err != nil {
		return "", "", err
	}
	return gjson.Get(body, "room_info.title").String(),
		gjson.Get(body, "user_info.name").String(),
		nil
}

// NormalizeBlrec 归一化 blrec 的 webhook 事件。
// blrec 只有文件创建/完成两种事件且缺少标题与主播名，
// 用事件里的房间号通过 rooms 接口补齐。未知事件类型返回 nil。
func NormalizeBlrec(body []byte, rooms RoomInfoProvider) (*Event, error) {
	eventType := gjson.GetBytes(body, "type").String()

	var kind EventKind
	switch eventType {
	case blrecVideoCreated:
		kind = KindOpening
	case blrecVideoCompleted:
		kind = KindClosed
	default:
		return nil, nil
	}

	data := gjson.GetBytes(body, "data")
	roomID := data.Get("room_id").String()
	filePath := data.Get("path").String()
	// Docker 部署时 blrec 的 /rec 卷挂载在 /app/video 下
	if consts.IsDocker() {
		filePath = strings.Replace(filePath, "/rec", dockerRecorderFolder, 1)
	}

	ev := &Event{
		Kind:     kind,
		FilePath: filePath,
		RoomID:   roomID,
		Platform: PlatformBlrec,
		Time:     parseEventTime(gjson.GetBytes(body, "date").String()),
	}
	if rooms != nil {
		title, username, err := rooms.GetRoomInfo(roomID)
		if err != nil {
			// 补齐失败不拦截事件，标题留空
			return ev, nil
		}
		ev.Title = title
		ev.Username = username
	}
	return ev, nil
}
