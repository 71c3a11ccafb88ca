package capture

import (
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/bililive-tools/bililive-tools/src/danmaku"
)

// ExtraMeta 随录像持久化的上下文信息，后处理流水线据此定位直播场次
type ExtraMeta struct {
	RoomID              string `json:"room_id"`
	Platform            string `json:"platform"`
	LiveStartTimestamp  int64  `json:"liveStartTimestamp,omitempty"`
	RecordStopTimestamp int64  `json:"recordStopTimestamp,omitempty"`
	Title               string `json:"title"`
	UserName            string `json:"user_name"`
}

type extraData struct {
	Meta     *ExtraMeta         `json:"meta"`
	Messages []*danmaku.Message `json:"messages"`
}

// ExtraDataController 把每个录像文件的元信息与弹幕/礼物消息
// 写到同名的 .extra.json 旁路文件里
type ExtraDataController struct {
	path string

	mu    sync.Mutex
	data  extraData
	dirty bool
	done  chan struct{}
	once  sync.Once
}

func NewExtraDataController(videoPath string) *ExtraDataController {
	return &ExtraDataController{
		path: videoPath + ".extra.json",
		data: extraData{
			Meta:     &ExtraMeta{},
			Messages: make([]*danmaku.Message, 0, 64),
		},
		done: make(chan struct{}),
	}
}

func (c *ExtraDataController) SetMeta(meta ExtraMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Meta = &meta
	c.dirty = true
}

// SetRecordStop 记录本段录像停止写入的墙钟时间
func (c *ExtraDataController) SetRecordStop(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Meta.RecordStopTimestamp = ts
	c.dirty = true
}

// AddMessage 追加一条弹幕消息。礼物消息的价格折算为单个礼物的价
// 格，保留两位小数。
func (c *ExtraDataController) AddMessage(msg *danmaku.Message) {
	if msg == nil {
		return
	}
	if msg.Type == danmaku.MsgGiveGift && msg.GiftCount > 0 {
		unit := msg.GiftPrice / float64(msg.GiftCount)
		normalized := *msg
		normalized.GiftPrice = math.Round(unit*100) / 100
		msg = &normalized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Messages = append(c.data.Messages, msg)
	c.dirty = true
}

// Flush 把当前内容落盘，内容无变化时跳过
func (c *ExtraDataController) Flush() error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	b, err := json.Marshal(&c.data)
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, b, 0644)
}

// Close 最后一次落盘并停止接收
func (c *ExtraDataController) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.Flush()
	})
	return err
}
