package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/bililive-tools/bililive-tools/src/configs"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/types"
)

var m = make(map[string]Builder)

func Register(domain string, b Builder) {
	m[domain] = b
}

func getBuilder(domain string) (Builder, bool) {
	builder, ok := m[domain]
	return builder, ok
}

type Builder interface {
	Build(*url.URL) (Live, error)
}

type Options struct {
	Cookies          *cookiejar.Jar
	Quality          string
	StreamPriorities []string
	SourcePriorities []string
	NickName         string
}

func NewOptions(opts ...Option) (*Options, error) {
	cookieJar, err := cookiejar.New(&cookiejar.Options{})
	if err != nil {
		return nil, err
	}
	options := &Options{Cookies: cookieJar}
	for _, opt := range opts {
		opt(options)
	}
	return options, nil
}

func MustNewOptions(opts ...Option) *Options {
	options, err := NewOptions(opts...)
	if err != nil {
		panic(err)
	}
	return options
}

type Option func(*Options)

func WithKVStringCookies(u *url.URL, cookies string) Option {
	return func(opts *Options) {
		cookiesList := make([]*http.Cookie, 0)
		for _, pairStr := range strings.Split(cookies, ";") {
			pairs := strings.SplitN(pairStr, "=", 2)
			if len(pairs) != 2 {
				continue
			}
			cookiesList = append(cookiesList, &http.Cookie{
				Name:  strings.TrimSpace(pairs[0]),
				Value: strings.TrimSpace(pairs[1]),
			})
		}
		opts.Cookies.SetCookies(u, cookiesList)
	}
}

func WithQuality(quality string) Option {
	return func(opts *Options) {
		opts.Quality = quality
	}
}

func WithStreamPriorities(priorities []string) Option {
	return func(opts *Options) {
		opts.StreamPriorities = priorities
	}
}

func WithSourcePriorities(priorities []string) Option {
	return func(opts *Options) {
		opts.SourcePriorities = priorities
	}
}

func WithNickName(nickName string) Option {
	return func(opts *Options) {
		opts.NickName = nickName
	}
}

// StreamUrlInfo 描述一个可拉取的流候选
type StreamUrlInfo struct {
	Url *url.URL
	// Name 流名称，如 flv hls
	Name string
	// CDN 线路标识，如 tct hw al
	CDN string
	// Rate 平台清晰度等级，Resolve 用它判断切换清晰度时是否需要重新拉取
	Rate        int
	Description string
	Resolution  int
	Vbitrate    int
	// Current 标记该候选是当前正在播放的流，其 Url 一定非空
	Current bool

	HeadersForDownloader map[string]string
}

type Live interface {
	SetLiveIdByString(string)
	GetLiveId() types.LiveID
	GetRawUrl() string
	GetInfo() (*Info, error)
	// GetInfoWithInterval 是一个会阻塞的 GetInfo 方法，等待下一次调度请求完成。
	// ctx 可用于取消等待，返回 ctx.Err()
	GetInfoWithInterval(ctx context.Context) (*Info, error)
	// GetStreamInfos 返回流候选与线路候选，均按平台原始顺序（最清晰在前）
	GetStreamInfos() (streams []*StreamUrlInfo, sources []*StreamUrlInfo, err error)
	// GetStreamInfosWithRate 在指定清晰度等级与线路下重新获取候选，
	// 用于支持在线切换清晰度的平台
	GetStreamInfosWithRate(rate int, cdn string) (streams []*StreamUrlInfo, sources []*StreamUrlInfo, err error)
	GetPlatformCNName() string
	GetLastStartTime() time.Time
	SetLastStartTime(time.Time)
	UpdateLiveOptionsbyConfig(context.Context, *configs.LiveRoom) error
	GetOptions() *Options
	// Close 释放相关资源（如调度器 goroutine）
	Close()
}

// infoResult 用于传递 GetInfo 的结果
type infoResult struct {
	info *Info
	err  error
}

type waiter struct {
	ch  chan infoResult
	ctx context.Context
}

// WrappedLive 为原始 Live 增加信息缓存与请求调度。
// 多个调用方共享同一次平台请求的结果，避免对平台 API 的重复访问。
type WrappedLive struct {
	Live
	cache gcache.Cache

	mu            sync.Mutex
	waiters       []waiter
	lastRequestAt time.Time
	schedulerOnce sync.Once
	schedulerCtx  context.Context
	schedulerStop context.CancelFunc
}

// NewWrappedLive 创建一个带缓存的 Live 包装器，ctx 控制调度器生命周期
func NewWrappedLive(ctx context.Context, live Live, cache gcache.Cache) Live {
	schedulerCtx, cancel := context.WithCancel(ctx)
	return &WrappedLive{
		Live:          live,
		cache:         cache,
		schedulerCtx:  schedulerCtx,
		schedulerStop: cancel,
	}
}

func (w *WrappedLive) Close() {
	w.schedulerStop()
	w.Live.Close()
}

func (w *WrappedLive) GetInfo() (*Info, error) {
	i, err := w.Live.GetInfo()

	// 不管成功还是失败，都通知所有等待的调用方
	w.notifyWaiters(i, err)

	if err != nil {
		if w.cache != nil {
			if info, err2 := w.cache.Get(w); err2 == nil {
				// 错误信息存到 LastError 而非 RoomName，
				// 避免错误文本出现在录制文件名中
				info.(*Info).LastError = err.Error()
			}
		}
		return nil, err
	}
	if w.cache != nil {
		i.LastError = ""
		w.cache.Set(w, i)
	}

	w.mu.Lock()
	w.lastRequestAt = time.Now()
	w.mu.Unlock()

	return i, nil
}

func (w *WrappedLive) notifyWaiters(info *Info, err error) {
	w.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	result := infoResult{info: info, err: err}
	for _, waiter := range waiters {
		select {
		case waiter.ch <- result:
		case <-waiter.ctx.Done():
		default:
		}
	}
}

// GetInfoWithInterval 阻塞直到下一次调度请求完成，多个调用方共享同一次结果
func (w *WrappedLive) GetInfoWithInterval(ctx context.Context) (*Info, error) {
	w.startScheduler()

	ch := make(chan infoResult, 1)
	w.mu.Lock()
	w.waiters = append(w.waiters, waiter{ch: ch, ctx: ctx})
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		w.removeWaiter(ch)
		return nil, ctx.Err()
	case result := <-ch:
		return result.info, result.err
	}
}

func (w *WrappedLive) removeWaiter(ch chan infoResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, waiter := range w.waiters {
		if waiter.ch == ch {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}

func (w *WrappedLive) startScheduler() {
	w.schedulerOnce.Do(func() {
		bilisentry.Go(w.runScheduler)
	})
}

func (w *WrappedLive) runScheduler() {
	for {
		w.mu.Lock()
		hasWaiters := len(w.waiters) > 0
		w.mu.Unlock()

		if !hasWaiters {
			select {
			case <-w.schedulerCtx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		interval := time.Duration(w.getConfiguredInterval()) * time.Second
		w.mu.Lock()
		nextRequestAt := w.lastRequestAt.Add(interval)
		w.mu.Unlock()

		now := time.Now()
		var waitDuration time.Duration
		if nextRequestAt.After(now) {
			waitDuration = nextRequestAt.Sub(now)
		} else {
			// 加一点随机抖动，避免大量房间同时请求
			waitDuration = time.Duration(randomJitter()+3000) * time.Millisecond
			if waitDuration < 0 {
				waitDuration = 0
			}
		}

		if waitDuration > 0 {
			timer := time.NewTimer(waitDuration)
			select {
			case <-w.schedulerCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		w.mu.Lock()
		hasWaiters = len(w.waiters) > 0
		w.mu.Unlock()
		if hasWaiters {
			w.GetInfo()
		}
	}
}

func (w *WrappedLive) getConfiguredInterval() int {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return 30
	}
	room, err := cfg.GetLiveRoomByUrl(w.GetRawUrl())
	if err != nil {
		if cfg.Interval > 0 {
			return cfg.Interval
		}
		return 30
	}
	return cfg.IntervalForRoom(room)
}

// randomJitter 生成 -3000 到 +3000 毫秒的随机抖动
func randomJitter() int64 {
	return (time.Now().UnixNano() % 6001) - 3000
}

func New(ctx context.Context, room *configs.LiveRoom, cache gcache.Cache) (live Live, err error) {
	url, err := url.Parse(room.Url)
	if err != nil {
		return nil, err
	}
	builder, ok := getBuilder(url.Host)
	if !ok {
		return nil, errors.New("not support this url")
	}
	live, err = builder.Build(url)
	if err != nil {
		return
	}
	live.UpdateLiveOptionsbyConfig(ctx, room)
	live = NewWrappedLive(ctx, live, cache)
	for i := 0; i < 3; i++ {
		var info *Info
		if info, err = live.GetInfo(); err == nil {
			if info.CustomLiveId != "" {
				live.SetLiveIdByString(info.CustomLiveId)
			}
			return
		}
		time.Sleep(1 * time.Second)
	}
	return nil, err
}
