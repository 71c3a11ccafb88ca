// Package danmaku 提供直播弹幕/礼物消息的实时监听。
// 监听器独立于录制流程运行，它的失败只通过 DebugLog 上报，
// 绝不影响录制本身。
package danmaku

import (
	"context"
	"errors"
	"net/url"
)

type MessageType string

const (
	MsgComment   MessageType = "comment"
	MsgGiveGift  MessageType = "give_gift"
	MsgSuperChat MessageType = "super_chat"
)

type Sender struct {
	UID  string `json:"uid,omitempty"`
	Name string `json:"name"`
}

// Message 归一化后的弹幕消息，三种类型共用一个结构
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Text      string      `json:"text,omitempty"`
	Color     string      `json:"color,omitempty"`
	// 礼物字段
	GiftName  string  `json:"name,omitempty"`
	GiftCount int     `json:"count,omitempty"`
	GiftPrice float64 `json:"price,omitempty"`
	Sender    *Sender `json:"sender,omitempty"`
}

// Handler 收到消息时的回调，在监听器自己的 goroutine 中调用
type Handler func(msg *Message)

// DebugHandler 监听器内部错误的上报通道
type DebugHandler func(text string)

type Client interface {
	// Start 建立连接并开始推送消息，阻塞直到 ctx 取消或连接断开
	Start(ctx context.Context) error
	Stop()
}

var ErrPlatformNotSupported = errors.New("danmaku: platform not supported")

type clientBuilder func(roomID string, onMessage Handler, onDebug DebugHandler) Client

var builders = map[string]clientBuilder{}

func register(host string, b clientBuilder) {
	builders[host] = b
}

// NewClient 按房间 URL 创建对应平台的弹幕监听器
func NewClient(rawUrl, roomID string, onMessage Handler, onDebug DebugHandler) (Client, error) {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return nil, err
	}
	b, ok := builders[u.Host]
	if !ok {
		return nil, ErrPlatformNotSupported
	}
	return b(roomID, onMessage, onDebug), nil
}
