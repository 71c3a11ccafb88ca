// Package notify 在开播/下播时向用户推送通知。
// 通过事件总线订阅录制器事件，不与录制路径直接耦合。
package notify

import (
	"context"
	"fmt"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/consts"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/interfaces"
	"github.com/bililive-tools/bililive-tools/src/live"
	applog "github.com/bililive-tools/bililive-tools/src/log"
	"github.com/bililive-tools/bililive-tools/src/notify/email"
	"github.com/bililive-tools/bililive-tools/src/pkg/events"
	"github.com/bililive-tools/bililive-tools/src/recorders"
)

// for test
var sendEmail = email.SendEmail

type Notifier struct {
	startListener *events.EventListener
	endListener   *events.EventListener
}

func NewNotifier(ctx context.Context) *Notifier {
	n := &Notifier{}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.Notifier = n
	}
	return n
}

func (n *Notifier) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)
	ed := inst.EventDispatcher.(events.Dispatcher)
	n.startListener = events.NewEventListener(func(event *events.Event) {
		n.notify(event, consts.LiveStatusStart)
	})
	n.endListener = events.NewEventListener(func(event *events.Event) {
		n.notify(event, consts.LiveStatusStop)
	})
	ed.AddEventListener(recorders.LiveStart, n.startListener)
	ed.AddEventListener(recorders.LiveEnd, n.endListener)
	return nil
}

func (n *Notifier) Close(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	ed := inst.EventDispatcher.(events.Dispatcher)
	if n.startListener != nil {
		ed.RemoveEventListener(recorders.LiveStart, n.startListener)
	}
	if n.endListener != nil {
		ed.RemoveEventListener(recorders.LiveEnd, n.endListener)
	}
}

func (n *Notifier) notify(event *events.Event, status string) {
	l, ok := event.Object.(live.Live)
	if !ok {
		return
	}
	hostName := ""
	if info, err := l.GetInfo(); err == nil {
		hostName = info.HostName
	}
	if err := SendNotification(hostName, l.GetPlatformCNName(), l.GetRawUrl(), status); err != nil {
		applog.GetLogger().WithError(err).Error("failed to send notification")
	}
}

// SendNotification 发送统一通知函数。
// 检测用户开启了哪些通知渠道，逐个发送，单个渠道失败不影响其他渠道。
func SendNotification(hostName, platform, liveURL, status string) error {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var messageStatus string
	switch status {
	case consts.LiveStatusStart:
		messageStatus = "已开始直播,正在录制中"
	case consts.LiveStatusStop:
		messageStatus = "已结束直播,录制已停止"
	default:
		messageStatus = "直播状态未知"
	}
	hostInfo := fmt.Sprintf("%s,%s", hostName, messageStatus)

	if cfg.Notify.Email.Enable {
		subject := fmt.Sprintf("%s - %s", hostInfo, platform)
		body := fmt.Sprintf("主播：%s\n平台：%s\n直播地址：%s", hostInfo, platform, liveURL)
		if err := sendEmail(subject, body); err != nil {
			applog.GetLogger().WithError(err).Error("Failed to send email")
		}
	}
	return nil
}

var _ interfaces.Module = (*Notifier)(nil)
