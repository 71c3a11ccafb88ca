package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hr3lxphr6j/requests"
	"github.com/sirupsen/logrus"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/pkg/utils"
	"github.com/bililive-tools/bililive-tools/src/types"
)

type BaseLive struct {
	Url            *url.URL
	LastStartTime  time.Time
	LiveId         types.LiveID
	Options        *live.Options
	RequestSession *requests.Session
	Logger         *logrus.Entry
}

func genLiveId(url *url.URL) types.LiveID {
	return genLiveIdByString(fmt.Sprintf("%s%s", url.Host, url.Path))
}

func genLiveIdByString(value string) types.LiveID {
	return types.LiveID(utils.GetMd5String(value))
}

func NewBaseLive(url *url.URL) BaseLive {
	liveId := genLiveId(url)
	// 平台 API 请求必须有界超时，避免网络停滞拖死整个监控循环
	client := &http.Client{Timeout: 30 * time.Second}
	return BaseLive{
		Url:            url,
		LiveId:         liveId,
		RequestSession: requests.NewSession(client),
		Logger: logrus.WithFields(logrus.Fields{
			"host": url.Host,
			"room": url.Path,
		}),
	}
}

func (a *BaseLive) UpdateLiveOptionsbyConfig(ctx context.Context, room *configs.LiveRoom) (err error) {
	url, err := url.Parse(room.Url)
	if err != nil {
		return
	}
	opts := make([]live.Option, 0)
	if cfg := configs.GetCurrentConfig(); cfg != nil {
		if v, ok := cfg.Cookies[url.Host]; ok {
			opts = append(opts, live.WithKVStringCookies(url, v))
		}
	}
	opts = append(opts,
		live.WithQuality(room.Quality),
		live.WithStreamPriorities(room.StreamPriorities),
		live.WithSourcePriorities(room.SourcePriorities),
		live.WithNickName(room.NickName),
	)
	a.Options = live.MustNewOptions(opts...)
	return
}

func (a *BaseLive) SetLiveIdByString(value string) {
	a.LiveId = genLiveIdByString(value)
}

func (a *BaseLive) GetLiveId() types.LiveID {
	return a.LiveId
}

func (a *BaseLive) GetRawUrl() string {
	return a.Url.String()
}

func (a *BaseLive) GetLastStartTime() time.Time {
	return a.LastStartTime
}

func (a *BaseLive) SetLastStartTime(time time.Time) {
	a.LastStartTime = time
}

func (a *BaseLive) GetOptions() *live.Options {
	return a.Options
}

// GetInfoWithInterval 默认实现，实际逻辑在 WrappedLive 中
func (a *BaseLive) GetInfoWithInterval(ctx context.Context) (*live.Info, error) {
	return nil, live.ErrNotImplemented
}

// Close 默认实现，资源释放在 WrappedLive 中处理
func (a *BaseLive) Close() {}

func (a *BaseLive) GetStreamInfos() ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return nil, nil, live.ErrNotImplemented
}

func (a *BaseLive) GetStreamInfosWithRate(rate int, cdn string) ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return nil, nil, live.ErrNotImplemented
}
