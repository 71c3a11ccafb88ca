package douyu

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hr3lxphr6j/requests"
	"github.com/robertkrimen/otto"
	"github.com/tidwall/gjson"

	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/live/internal"
	"github.com/bililive-tools/bililive-tools/src/pkg/utils"
)

const (
	domain = "www.douyu.com"
	cnName = "斗鱼"

	roomInfoApiUrl = "https://www.douyu.com/betard/"
	h5PlayApiUrl   = "https://www.douyu.com/lapi/live/getH5Play/"
)

// getH5Play 接口要求用页面内嵌的 js 函数对请求参数签名
var (
	signFuncRegexp  = regexp.MustCompile(`(vdwdae325w_64we[\s\S]*function ub98484234[\s\S]*?)function`)
	signSlotRegexp  = regexp.MustCompile(`eval.*?;}`)
	workflowRegexp  = regexp.MustCompile(`v=(\d+)`)
	roomPathRegexp  = regexp.MustCompile(`^/(?:beta/)?(\d+)`)
	jsRoomAltRegexp = regexp.MustCompile(`\$ROOM\.room_id\s*=\s*(\d+)`)
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
	roomID string
}

func (l *Live) parseRoomID() error {
	if l.roomID != "" {
		return nil
	}
	if match := roomPathRegexp.FindStringSubmatch(l.Url.Path); match != nil {
		l.roomID = match[1]
		return nil
	}
	// 自定义域名房间，需要从页面里解析真实房间号
	resp, err := l.RequestSession.Get(l.GetRawUrl(), live.CommonUserAgent)
	if err != nil {
		return err
	}
	body, err := resp.Text()
	if err != nil {
		return err
	}
	match := jsRoomAltRegexp.FindStringSubmatch(body)
	if match == nil {
		return live.ErrRoomUrlIncorrect
	}
	l.roomID = match[1]
	return nil
}

func (l *Live) GetInfo() (info *live.Info, err error) {
	if err := l.parseRoomID(); err != nil {
		return nil, err
	}
	resp, err := l.RequestSession.Get(roomInfoApiUrl+l.roomID, live.CommonUserAgent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, live.ErrRoomNotExist
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, err
	}
	room := gjson.GetBytes(body, "room")
	if !room.Exists() {
		return nil, live.ErrRoomNotExist
	}

	info = &live.Info{
		Live:     l,
		HostName: room.Get("nickname").String(),
		RoomName: room.Get("room_name").String(),
		Status:   room.Get("show_status").Int() == 1,
		// 轮播中的录像也会上报开播，必须单独标记
		VideoLoop:         room.Get("videoLoop").Int() == 1,
		SupportRateSwitch: true,
	}
	if showTime := room.Get("show_time").Int(); showTime > 0 && info.IsLiving() {
		info.LiveStartTime = time.Unix(showTime, 0)
	}
	return info, nil
}

func (l *Live) GetStreamInfos() ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return l.GetStreamInfosWithRate(-1, "")
}

func (l *Live) GetStreamInfosWithRate(rate int, cdn string) ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	if err := l.parseRoomID(); err != nil {
		return nil, nil, err
	}
	params, err := l.signRoom()
	if err != nil {
		return nil, nil, err
	}
	if rate >= 0 {
		params += fmt.Sprintf("&rate=%d", rate)
	}
	if cdn != "" {
		params += "&cdn=" + url.QueryEscape(cdn)
	}
	resp, err := l.RequestSession.Post(
		h5PlayApiUrl+l.roomID,
		live.CommonUserAgent,
		requests.ContentType("application/x-www-form-urlencoded"),
		requests.Body(strings.NewReader(params)),
	)
	if err != nil {
		return nil, nil, err
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, nil, err
	}
	if gjson.GetBytes(body, "error").Int() != 0 {
		return nil, nil, fmt.Errorf("douyu h5play error: %s", gjson.GetBytes(body, "msg").String())
	}
	data := gjson.GetBytes(body, "data")

	currentUrl, err := url.Parse(data.Get("rtmp_url").String() + "/" + data.Get("rtmp_live").String())
	if err != nil {
		return nil, nil, err
	}
	currentRate := int(data.Get("rate").Int())

	streams := make([]*live.StreamUrlInfo, 0, 4)
	for _, item := range data.Get("multirates").Array() {
		s := &live.StreamUrlInfo{
			Name:        item.Get("name").String(),
			Rate:        int(item.Get("rate").Int()),
			Vbitrate:    int(item.Get("bit").Int()),
			Description: item.Get("name").String(),
		}
		if s.Rate == currentRate {
			s.Current = true
			s.Url = currentUrl
		}
		streams = append(streams, s)
	}
	// 平台返回顺序不稳定，统一整理成最清晰在前。rate 0 表示原画，排最前
	sort.SliceStable(streams, func(i, j int) bool {
		return streamWeight(streams[i]) > streamWeight(streams[j])
	})

	sources := make([]*live.StreamUrlInfo, 0, 4)
	currentCDN := data.Get("rtmp_cdn").String()
	for _, item := range data.Get("cdnsWithName").Array() {
		s := &live.StreamUrlInfo{
			Name:        item.Get("name").String(),
			CDN:         item.Get("cdn").String(),
			Description: item.Get("name").String(),
		}
		if s.CDN == currentCDN {
			s.Current = true
			s.Url = currentUrl
		}
		sources = append(sources, s)
	}

	return streams, sources, nil
}

func streamWeight(s *live.StreamUrlInfo) int {
	if s.Rate == 0 {
		// 原画
		return 1 << 30
	}
	return s.Vbitrate
}

// signRoom 执行页面内嵌的 ub98484234 签名函数，返回 getH5Play 的请求参数
func (l *Live) signRoom() (string, error) {
	resp, err := l.RequestSession.Get(fmt.Sprintf("https://%s/%s", domain, l.roomID), live.CommonUserAgent)
	if err != nil {
		return "", err
	}
	body, err := resp.Text()
	if err != nil {
		return "", err
	}
	match := signFuncRegexp.FindStringSubmatch(body)
	if match == nil {
		return "", fmt.Errorf("douyu sign function not found in room page")
	}
	js := signSlotRegexp.ReplaceAllString(match[1], "strc;}")

	workflow := workflowRegexp.FindStringSubmatch(js)
	if workflow == nil {
		return "", fmt.Errorf("douyu sign workflow version not found")
	}

	did := "10000000000000000000000000001501"
	tt := fmt.Sprintf("%d", time.Now().Unix()/60)
	// 签名内部的 CryptoJS.MD5 在宿主侧提前算好，替换成常量
	rb := utils.GetMd5String(l.roomID + did + tt + workflow[1])

	js = strings.ReplaceAll(js, `CryptoJS.MD5(cb).toString()`, `"`+rb+`"`)
	js = js[:strings.LastIndex(js, "function")]

	vm := otto.New()
	if _, err := vm.Run(js); err != nil {
		return "", fmt.Errorf("douyu sign run failed: %w", err)
	}
	value, err := vm.Call("ub98484234", nil, l.roomID, did, tt)
	if err != nil {
		return "", fmt.Errorf("douyu sign call failed: %w", err)
	}
	return value.String(), nil
}

func (l *Live) GetPlatformCNName() string {
	return cnName
}
