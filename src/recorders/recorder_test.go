package recorders

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/pkg/events"
	"github.com/bililive-tools/bililive-tools/src/types"
)

type fakeLive struct {
	rawUrl     string
	info       *live.Info
	infoErr    error
	infoCalls  atomic.Int32
	streams    []*live.StreamUrlInfo
	sources    []*live.StreamUrlInfo
	streamsErr error
	options    *live.Options
}

func (f *fakeLive) SetLiveIdByString(string)    {}
func (f *fakeLive) GetLiveId() types.LiveID     { return types.LiveID("fake") }
func (f *fakeLive) GetRawUrl() string           { return f.rawUrl }
func (f *fakeLive) GetPlatformCNName() string   { return "测试平台" }
func (f *fakeLive) GetLastStartTime() time.Time { return time.Time{} }
func (f *fakeLive) SetLastStartTime(time.Time)  {}
func (f *fakeLive) GetOptions() *live.Options   { return f.options }
func (f *fakeLive) Close()                      {}

func (f *fakeLive) GetInfo() (*live.Info, error) {
	f.infoCalls.Add(1)
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeLive) GetInfoWithInterval(ctx context.Context) (*live.Info, error) {
	return f.GetInfo()
}

func (f *fakeLive) GetStreamInfos() ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return f.streams, f.sources, f.streamsErr
}

func (f *fakeLive) GetStreamInfosWithRate(rate int, cdn string) ([]*live.StreamUrlInfo, []*live.StreamUrlInfo, error) {
	return f.streams, f.sources, f.streamsErr
}

func (f *fakeLive) UpdateLiveOptionsbyConfig(ctx context.Context, room *configs.LiveRoom) error {
	return nil
}

func newTestRecorder(t *testing.T, l live.Live) *recorder {
	t.Helper()
	return &recorder{
		live:   l,
		ed:     events.NewDispatcher(context.Background()),
		status: StatusIdle,
		logger: logrus.WithField("module", "recorder_test"),
	}
}

func TestLiveIdentity(t *testing.T) {
	assert.Equal(t, "abc", liveIdentity(&live.Info{CustomLiveId: "abc"}))
	start := time.Unix(1700000000, 0)
	assert.Equal(t, "1700000000", liveIdentity(&live.Info{LiveStartTime: start}))
	assert.Equal(t, "", liveIdentity(&live.Info{}))
}

func TestRoomIDFromUrl(t *testing.T) {
	assert.Equal(t, "9999", roomIDFromUrl("https://www.douyu.com/9999"))
	assert.Equal(t, "660000", roomIDFromUrl("https://www.huya.com/660000"))
	assert.Equal(t, "123", roomIDFromUrl("https://example.com/a/b/123/"))
	assert.Equal(t, "", roomIDFromUrl("https://example.com"))
}

func TestCurrentOfHelpers(t *testing.T) {
	streams := []*live.StreamUrlInfo{
		{Name: "flv", Rate: 4},
		{Name: "flv", Rate: 0, Current: true},
	}
	assert.Equal(t, 0, currentRateOf(streams))
	assert.Equal(t, 4, currentRateOf(streams[:1]))
	assert.Equal(t, 0, currentRateOf(nil))

	sources := []*live.StreamUrlInfo{
		{CDN: "tct"},
		{CDN: "hw", Current: true},
	}
	assert.Equal(t, "hw", currentCDNOf(sources))
	assert.Equal(t, "tct", currentCDNOf(sources[:1]))
	assert.Equal(t, "", currentCDNOf(nil))
}

func TestStreamURLFallback(t *testing.T) {
	u1, _ := url.Parse("https://cdn.example.com/a.flv")
	streams := []*live.StreamUrlInfo{
		{Rate: 4},
		{Rate: 0, Current: true, Url: u1},
	}
	// 选中候选无地址时回退到平台当前流
	got := streamURL(&live.ResolvedStream{Stream: streams[0]}, streams)
	require.NotNil(t, got)
	assert.Equal(t, u1, got)

	// 选中候选自带地址时直接使用
	got = streamURL(&live.ResolvedStream{Stream: streams[1]}, streams)
	assert.Equal(t, u1, got)

	assert.Nil(t, streamURL(&live.ResolvedStream{Stream: &live.StreamUrlInfo{}}, nil))
}

func TestTickDropsReentrantInvocation(t *testing.T) {
	fl := &fakeLive{rawUrl: "https://www.douyu.com/1", info: &live.Info{}}
	r := newTestRecorder(t, fl)

	// 模拟一次 tick 还在执行中
	r.tickBusy.Store(true)
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, int32(0), fl.infoCalls.Load(), "re-entrant tick must not poll the platform")

	r.tickBusy.Store(false)
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, int32(1), fl.infoCalls.Load())
}

func TestTickNotLivingStaysIdle(t *testing.T) {
	fl := &fakeLive{
		rawUrl:  "https://www.douyu.com/1",
		info:    &live.Info{Status: false},
		options: live.MustNewOptions(),
	}
	r := newTestRecorder(t, fl)
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, StatusIdle, r.Snapshot().Status)
}

func TestTickVideoLoopStaysIdle(t *testing.T) {
	fl := &fakeLive{
		rawUrl:  "https://www.douyu.com/1",
		info:    &live.Info{Status: true, VideoLoop: true},
		options: live.MustNewOptions(),
	}
	r := newTestRecorder(t, fl)
	require.NoError(t, r.Tick(context.Background()))
	// 轮播按未开播处理，不应尝试解析流
	assert.Equal(t, StatusIdle, r.Snapshot().Status)
}

func TestSuppressionAfterRepeatedShortSessions(t *testing.T) {
	fl := &fakeLive{
		rawUrl:  "https://www.douyu.com/1",
		options: live.MustNewOptions(),
	}
	r := newTestRecorder(t, fl)
	r.currentLiveId = "live-1"

	for i := 0; i < maxShortSessions; i++ {
		r.mu.Lock()
		r.status = StatusRecording
		r.startTime = time.Now()
		r.mu.Unlock()
		r.onSessionEnd("eof")
	}

	snap := r.Snapshot()
	assert.True(t, snap.Suppressed)
	assert.Equal(t, StatusIdle, snap.Status)

	// 被抑制期间同一场次的 tick 不再拉流
	fl.info = &live.Info{Status: true, CustomLiveId: "live-1"}
	fl.streamsErr = assert.AnError
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, StatusIdle, r.Snapshot().Status)

	// 场次更换后解除抑制
	fl.info = &live.Info{Status: true, CustomLiveId: "live-2", VideoLoop: true}
	require.NoError(t, r.Tick(context.Background()))
	assert.False(t, r.Snapshot().Suppressed)
}

func TestSuppressionClearedWhenLiveEnds(t *testing.T) {
	fl := &fakeLive{
		rawUrl:  "https://www.douyu.com/1",
		info:    &live.Info{Status: false},
		options: live.MustNewOptions(),
	}
	r := newTestRecorder(t, fl)
	r.mu.Lock()
	r.suppressed = true
	r.bannedLiveId = "live-1"
	r.mu.Unlock()

	require.NoError(t, r.Tick(context.Background()))
	snap := r.Snapshot()
	assert.False(t, snap.Suppressed)
}

func TestStopIsIdempotent(t *testing.T) {
	fl := &fakeLive{rawUrl: "https://www.douyu.com/1"}
	r := newTestRecorder(t, fl)

	// idle 状态下 Stop 是空操作
	r.Stop("test")
	assert.Equal(t, StatusIdle, r.Snapshot().Status)

	// 无 session 的 recording 状态直接回到 idle
	r.mu.Lock()
	r.status = StatusRecording
	r.mu.Unlock()
	r.Stop("first")
	assert.Equal(t, StatusIdle, r.Snapshot().Status)
	r.Stop("second")
	assert.Equal(t, StatusIdle, r.Snapshot().Status)
}

func TestQualityRetryBound(t *testing.T) {
	fl := &fakeLive{
		rawUrl:     "https://www.douyu.com/1",
		info:       &live.Info{Status: true},
		streamsErr: assert.AnError,
		options:    live.MustNewOptions(),
	}
	r := newTestRecorder(t, fl)

	// 前几次失败被吸收，等下一个 tick
	for i := 0; i < maxQualityRetry-1; i++ {
		assert.NoError(t, r.Tick(context.Background()))
	}
	// 达到上限后错误上浮，计数器归零
	assert.Error(t, r.Tick(context.Background()))
	assert.Equal(t, 0, r.Snapshot().QualityRetry)
	assert.Equal(t, StatusIdle, r.Snapshot().Status)
}

func TestSnapshotCopiesHandle(t *testing.T) {
	fl := &fakeLive{rawUrl: "https://www.douyu.com/1"}
	r := newTestRecorder(t, fl)
	r.mu.Lock()
	r.handle = &CaptureHandle{ID: "h1", SavePath: "/tmp/a.mp4"}
	r.mu.Unlock()

	snap := r.Snapshot()
	require.NotNil(t, snap.Handle)
	snap.Handle.SavePath = "changed"
	assert.Equal(t, "/tmp/a.mp4", r.Snapshot().Handle.SavePath)
}
