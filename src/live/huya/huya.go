package huya

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hr3lxphr6j/requests"
	"github.com/tidwall/gjson"

	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/live/internal"
)

const (
	domain = "www.huya.com"
	cnName = "虎牙"

	profileRoomApiUrl = "https://mp.huya.com/cache.php"
)

func init() {
	live.Register(domain, new(builder))
}

type builder struct{}

func (b *builder) Build(url *url.URL) (live.Live, error) {
	return &Live{
		BaseLive: internal.NewBaseLive(url),
	}, nil
}

type Live struct {
	internal.BaseLive
}

func (l *Live) roomID() (string, error) {
	paths := strings.Split(strings.TrimPrefix(l.Url.Path, "/"), "/")
	if len(paths) == 0 || paths[0] == "" {
		return "", live.ErrRoomUrlIncorrect
	}
	return paths[0], nil
}

func (l *Live) fetchProfile() (gjson.Result, error) {
	roomID, err := l.roomID()
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := l.RequestSession.Get(
		profileRoomApiUrl,
		live.CommonUserAgent,
		requests.Query("m", "Live"),
		requests.Query("do", "profileRoom"),
		requests.Query("roomid", roomID),
	)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, live.ErrRoomNotExist
	}
	body, err := resp.Bytes()
	if err != nil {
		return gjson.Result{}, err
	}
	if gjson.GetBytes(body, "status").Int() != 200 {
		return gjson.Result{}, live.ErrRoomNotExist
	}
	return gjson.GetBytes(body, "data"), nil
}

func (l *Live) GetInfo() (info *live.Info, err error) {
	data, err := l.fetchProfile()
	if err != nil {
		return nil, err
	}

	// liveStatus: ON 开播 / REPLAY 轮播 / OFF 未开播
	status := data.Get("realLiveStatus").String()
	if status == "" {
		status = data.Get("liveStatus").String()
	}
	info = &live.Info{
		Live:      l,
		HostName:  data.Get("profileInfo.nick").String(),
		RoomName:  data.Get("liveData.introduction").String(),
		Status:    status == "ON" || status == "REPLAY",
		VideoLoop: status == "REPLAY",
		// 虎牙的清晰度切换只需换 ratio 参数，不需要重新拉流地址
		SupportRateSwitch: true,
	}
	if startTime := data.Get("liveData.startTime").Int(); startTime > 0 && info.IsLiving() {
		info.LiveStartTime = time.Unix(startTime, 0)
	}
	return info, nil
}

func (l *Live) GetStreamInfos() ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return l.GetStreamInfosWithRate(-1, "")
}

func (l *Live) GetStreamInfosWithRate(rate int, cdn string) ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	data, err := l.fetchProfile()
	if err != nil {
		return nil, nil, err
	}

	streamInfoList := data.Get("stream.baseSteamInfoList").Array()
	if len(streamInfoList) == 0 {
		return nil, nil, live.ErrNotLive
	}

	// 线路候选，每条 CDN 一个
	sources := make([]*live.StreamUrlInfo, 0, len(streamInfoList))
	var currentUrl *url.URL
	for i, item := range streamInfoList {
		cdnType := strings.ToLower(item.Get("sCdnType").String())
		flvUrl := item.Get("sFlvUrl").String()
		streamName := item.Get("sStreamName").String()
		suffix := item.Get("sFlvUrlSuffix").String()
		antiCode := item.Get("sFlvAntiCode").String()
		if flvUrl == "" || streamName == "" {
			continue
		}
		raw := fmt.Sprintf("%s/%s.%s", flvUrl, streamName, suffix)
		if antiCode != "" {
			raw += "?" + antiCode
		}
		if rate > 0 {
			raw += fmt.Sprintf("&ratio=%d", rate)
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		s := &live.StreamUrlInfo{
			Url:  u,
			Name: "flv",
			CDN:  cdnType,
			HeadersForDownloader: map[string]string{
				"Referer": l.GetRawUrl(),
			},
		}
		if (cdn != "" && cdnType == strings.ToLower(cdn)) || (cdn == "" && i == 0) {
			s.Current = true
			currentUrl = u
		}
		sources = append(sources, s)
	}
	if len(sources) == 0 {
		return nil, nil, live.ErrNotLive
	}
	if currentUrl == nil {
		sources[0].Current = true
		currentUrl = sources[0].Url
	}

	// 清晰度候选来自 bitRateInfo，iBitRate 0 表示原画
	streams := make([]*live.StreamUrlInfo, 0, 4)
	for _, item := range data.Get("liveData.bitRateInfo").Array() {
		bitRate := int(item.Get("iBitRate").Int())
		s := &live.StreamUrlInfo{
			Name:        item.Get("sDisplayName").String(),
			Rate:        bitRate,
			Vbitrate:    bitRate,
			Description: item.Get("sDisplayName").String(),
		}
		if bitRate == rate || (rate <= 0 && bitRate == 0) {
			s.Current = true
			s.Url = currentUrl
		}
		streams = append(streams, s)
	}
	if len(streams) == 0 {
		// 平台偶尔不回清晰度列表，此时只有原画一档
		streams = append(streams, &live.StreamUrlInfo{
			Name:    "原画",
			Rate:    0,
			Current: true,
			Url:     currentUrl,
		})
	}

	return streams, sources, nil
}

func (l *Live) GetPlatformCNName() string {
	return cnName
}
