package danmaku

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
)

const (
	douyuDanmakuServer = "wss://danmuproxy.douyu.com:8506/"
	douyuOrigin        = "https://www.douyu.com"

	// 客户端到服务端的消息类型固定为 689
	douyuMsgTypeSend = 689

	douyuKeepaliveInterval = 45 * time.Second
)

func init() {
	register("www.douyu.com", func(roomID string, onMessage Handler, onDebug DebugHandler) Client {
		return &douyuClient{
			roomID:    roomID,
			onMessage: onMessage,
			onDebug:   onDebug,
		}
	})
}

// douyuClient 实现斗鱼弹幕的 STT 文本协议
type douyuClient struct {
	roomID    string
	onMessage Handler
	onDebug   DebugHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (c *douyuClient) debugf(format string, args ...any) {
	if c.onDebug != nil {
		c.onDebug(fmt.Sprintf(format, args...))
	}
}

func (c *douyuClient) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	conn, err := websocket.Dial(douyuDanmakuServer, "", douyuOrigin)
	if err != nil {
		return fmt.Errorf("danmaku: dial failed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	if err := c.send(conn, fmt.Sprintf("type@=loginreq/roomid@=%s/", c.roomID)); err != nil {
		return err
	}
	if err := c.send(conn, fmt.Sprintf("type@=joingroup/rid@=%s/gid@=-9999/", c.roomID)); err != nil {
		return err
	}

	// 心跳与 ctx 取消的看护
	bilisentry.Go(func() {
		ticker := time.NewTicker(douyuKeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := c.send(conn, "type@=mrkl/"); err != nil {
					c.debugf("danmaku: keepalive failed: %v", err)
					conn.Close()
					return
				}
			}
		}
	})

	for {
		payload, err := readDouyuPacket(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("danmaku: read failed: %w", err)
		}
		c.handlePayload(payload)
	}
}

func (c *douyuClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// send 按斗鱼协议封包: 4 字节长度(LE) x2 + 2 字节类型 + 2 字节保留 + 正文 + \0
func (c *douyuClient) send(conn *websocket.Conn, body string) error {
	payload := []byte(body)
	length := uint32(len(payload) + 9)
	buf := make([]byte, 12+len(payload)+1)
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	binary.LittleEndian.PutUint16(buf[8:10], douyuMsgTypeSend)
	copy(buf[12:], payload)
	return websocket.Message.Send(conn, buf)
}

func readDouyuPacket(conn *websocket.Conn) ([]byte, error) {
	var frame []byte
	if err := websocket.Message.Receive(conn, &frame); err != nil {
		return nil, err
	}
	if len(frame) < 13 {
		return nil, nil
	}
	// 一个 websocket 帧里可能打包多个消息，这里只取第一条也足够：
	// 服务端高频消息会分布在连续的帧中
	length := binary.LittleEndian.Uint32(frame[0:4])
	end := 4 + int(length)
	if end > len(frame) {
		end = len(frame)
	}
	// 去掉 8 字节头部冗余与结尾 \0
	return frame[12 : end-1], nil
}

func (c *douyuClient) handlePayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	fields := parseSTT(string(payload))
	switch fields["type"] {
	case "chatmsg":
		c.emit(&Message{
			Type:      MsgComment,
			Timestamp: time.Now().UnixMilli(),
			Text:      fields["txt"],
			Color:     fields["col"],
			Sender: &Sender{
				UID:  fields["uid"],
				Name: fields["nn"],
			},
		})
	case "dgb":
		count, _ := strconv.Atoi(fields["gfcnt"])
		if count <= 0 {
			count = 1
		}
		// pc 单位是 0.01 元，折算成元后是本次赠送的总价
		totalPrice, _ := strconv.ParseFloat(fields["pc"], 64)
		c.emit(&Message{
			Type:      MsgGiveGift,
			Timestamp: time.Now().UnixMilli(),
			GiftName:  fields["gfn"],
			GiftCount: count,
			GiftPrice: totalPrice / 100,
			Sender: &Sender{
				UID:  fields["uid"],
				Name: fields["nn"],
			},
		})
	}
}

func (c *douyuClient) emit(msg *Message) {
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// parseSTT 解析斗鱼 STT 序列化格式: k1@=v1/k2@=v2/
// 转义规则: @A -> @, @S -> /
func parseSTT(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, "/") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "@=", 2)
		if len(kv) != 2 {
			continue
		}
		out[unescapeSTT(kv[0])] = unescapeSTT(kv[1])
	}
	return out
}

func unescapeSTT(s string) string {
	s = strings.ReplaceAll(s, "@S", "/")
	s = strings.ReplaceAll(s, "@A", "@")
	return s
}
