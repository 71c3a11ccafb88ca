package live

import (
	"encoding/json"
	"time"

	"github.com/bililive-tools/bililive-tools/src/types"
)

type Info struct {
	Live               Live
	HostName, RoomName string
	// Status 平台上报的开播标志
	Status bool
	// VideoLoop 轮播中。部分平台对无限循环播放的录像也上报"直播中"，
	// 这种情况必须按未开播处理
	VideoLoop bool
	// SupportRateSwitch 平台是否支持在线切换清晰度/线路
	SupportRateSwitch bool
	// LiveStartTime 本场直播的开播时间，未开播时为零值
	LiveStartTime time.Time

	Listening, Recording bool
	CustomLiveId         string
	// 最近一次 API 请求的错误信息
	LastError string
}

// IsLiving 判断是否处于真实开播状态，轮播视为未开播
func (i *Info) IsLiving() bool {
	return i != nil && i.Status && !i.VideoLoop
}

func (i *Info) MarshalJSON() ([]byte, error) {
	t := struct {
		Id                types.LiveID `json:"id"`
		LiveUrl           string       `json:"live_url"`
		PlatformCNName    string       `json:"platform_cn_name"`
		HostName          string       `json:"host_name"`
		RoomName          string       `json:"room_name"`
		Status            bool         `json:"status"`
		VideoLoop         bool         `json:"video_loop,omitempty"`
		Listening         bool         `json:"listening"`
		Recording         bool         `json:"recording"`
		SupportRateSwitch bool         `json:"support_rate_switch"`
		LiveStartTime     string       `json:"live_start_time,omitempty"`
		LiveStartTimeUnix int64        `json:"live_start_time_unix,omitempty"`
		LastError         string       `json:"last_error,omitempty"`
	}{
		Id:                i.Live.GetLiveId(),
		LiveUrl:           i.Live.GetRawUrl(),
		PlatformCNName:    i.Live.GetPlatformCNName(),
		HostName:          i.HostName,
		RoomName:          i.RoomName,
		Status:            i.Status,
		VideoLoop:         i.VideoLoop,
		Listening:         i.Listening,
		Recording:         i.Recording,
		SupportRateSwitch: i.SupportRateSwitch,
		LastError:         i.LastError,
	}
	if !i.LiveStartTime.IsZero() {
		t.LiveStartTime = i.LiveStartTime.Format("2006-01-02 15:04:05")
		t.LiveStartTimeUnix = i.LiveStartTime.Unix()
	}
	return json.Marshal(t)
}
