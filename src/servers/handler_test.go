package servers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/recorders"
	"github.com/bililive-tools/bililive-tools/src/types"
)

type fakeLive struct {
	id      types.LiveID
	rawUrl  string
	info    *live.Info
	infoErr error
}

func (f *fakeLive) SetLiveIdByString(s string)   { f.id = types.LiveID(s) }
func (f *fakeLive) GetLiveId() types.LiveID      { return f.id }
func (f *fakeLive) GetRawUrl() string            { return f.rawUrl }
func (f *fakeLive) GetInfo() (*live.Info, error) { return f.info, f.infoErr }
func (f *fakeLive) GetInfoWithInterval(ctx context.Context) (*live.Info, error) {
	return f.GetInfo()
}
func (f *fakeLive) GetStreamInfos() ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return nil, nil, nil
}
func (f *fakeLive) GetStreamInfosWithRate(rate int, cdn string) ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return nil, nil, nil
}
func (f *fakeLive) GetPlatformCNName() string   { return "测试" }
func (f *fakeLive) GetLastStartTime() time.Time { return time.Time{} }
func (f *fakeLive) SetLastStartTime(time.Time)  {}
func (f *fakeLive) UpdateLiveOptionsbyConfig(context.Context, *configs.LiveRoom) error {
	return nil
}
func (f *fakeLive) GetOptions() *live.Options { return nil }
func (f *fakeLive) Close()                    {}

func newHandlerTestInstance(t *testing.T) (*instance.Instance, context.Context) {
	t.Helper()
	configs.SetCurrentConfig(configs.NewConfig())
	inst := new(instance.Instance)
	inst.Cache = gcache.New(16).LRU().Build()
	ctx := context.WithValue(context.Background(), instance.Key, inst)
	recorders.NewManager(ctx)
	return inst, ctx
}

func TestParseInfoFallsBackToCachedInfo(t *testing.T) {
	inst, ctx := newHandlerTestInstance(t)

	l := &fakeLive{id: "live-1", rawUrl: "https://www.huya.com/1", infoErr: errors.New("api down")}
	cached := &live.Info{Live: l, RoomName: "昨晚的标题", HostName: "主播"}
	require.NoError(t, inst.Cache.Set(l, cached))

	info := parseInfo(ctx, l)
	assert.Equal(t, "昨晚的标题", info.RoomName)
	assert.Equal(t, "主播", info.HostName)
	assert.Equal(t, "api down", info.LastError)
	assert.False(t, info.Recording)
	// 缓存里的对象本身不能被改写
	assert.Empty(t, cached.LastError)
}

func TestParseInfoWithoutCacheEntry(t *testing.T) {
	_, ctx := newHandlerTestInstance(t)

	l := &fakeLive{id: "live-2", rawUrl: "https://www.douyu.com/2", infoErr: errors.New("api down")}
	info := parseInfo(ctx, l)
	assert.Equal(t, "api down", info.LastError)
	assert.Equal(t, "获取失败", info.HostName)
	assert.Equal(t, "https://www.douyu.com/2", info.RoomName)
}
