package recorders

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/bililive-tools/bililive-tools/src/capture"
	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/danmaku"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/live"
	"github.com/bililive-tools/bililive-tools/src/metrics"
	"github.com/bililive-tools/bililive-tools/src/pkg/events"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/pkg/utils"
	"github.com/bililive-tools/bililive-tools/src/tools"
)

// Status 录制器状态
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusStopping  Status = "stopping"
)

const (
	// 清晰度解析连续失败这么多次后放弃本轮询周期
	maxQualityRetry = 3
	// 短于该时长的录制视为异常结束，用于轮播/封禁检测
	shortSessionThreshold = 60 * time.Second
	// 同一 liveId 连续异常结束这么多次后进入抑制状态
	maxShortSessions = 3
)

// CaptureHandle 一次录制会话的句柄。同一房间同时最多存在一个。
type CaptureHandle struct {
	ID       string
	Stream   *live.StreamUrlInfo
	Source   *live.StreamUrlInfo
	Url      string
	SavePath string
	Command  []string
}

// Snapshot 录制器状态的不可变快照，外部读取只能通过它
type Snapshot struct {
	Status       Status
	Suppressed   bool
	QualityRetry int
	Handle       *CaptureHandle
	StartTime    time.Time
	LiveInfo     *live.Info
}

type Recorder interface {
	// Tick 执行一次轮询检查。同一录制器的并发 Tick 会被丢弃而不是排队
	Tick(ctx context.Context) error
	// Stop 幂等地停止当前录制会话，不影响后续轮询
	Stop(reason string)
	Snapshot() Snapshot
	StartTime() time.Time
	// GetSessionPID 当前录制子进程的 PID，未录制时为 0
	GetSessionPID() int
	// GetSessionStatus 当前录制子进程的进度信息
	GetSessionStatus() (map[string]string, error)
	Close()
}

// for test
var (
	mkdir = utils.MkdirAll

	resolveFFmpegPath = func() (string, error) {
		if cfg := configs.GetCurrentConfig(); cfg != nil && cfg.FfmpegPath != "" {
			return cfg.FfmpegPath, nil
		}
		return tools.GetFFmpegPath()
	}
)

type recorder struct {
	live   live.Live
	ed     events.Dispatcher
	logger *logrus.Entry

	tickBusy atomic.Bool

	mu           sync.Mutex
	status       Status
	suppressed   bool
	bannedLiveId string
	// 同一 liveId 连续短录制计数
	shortLiveId   string
	shortCount    int
	qualityRetry  int
	handle        *CaptureHandle
	session       *capture.Session
	dmClient      danmaku.Client
	dmCancel      context.CancelFunc
	currentRate   int
	currentCDN    string
	currentLiveId string
	lastLiving    bool
	startTime     time.Time
	lastInfo      *live.Info
	closed        bool
}

func NewRecorder(ctx context.Context, l live.Live) (Recorder, error) {
	inst := instance.GetInstance(ctx)
	if inst == nil || inst.EventDispatcher == nil {
		return nil, errors.New("recorders: instance not initialized")
	}
	return &recorder{
		live:   l,
		ed:     inst.EventDispatcher.(events.Dispatcher),
		status: StatusIdle,
		logger: logrus.WithFields(logrus.Fields{
			"module": "recorder",
			"url":    l.GetRawUrl(),
		}),
	}, nil
}

// liveIdentity 标识一场直播。优先用平台下发的场次 id，
// 退化为开播时间戳
func liveIdentity(info *live.Info) string {
	if info.CustomLiveId != "" {
		return info.CustomLiveId
	}
	if !info.LiveStartTime.IsZero() {
		return strconv.FormatInt(info.LiveStartTime.Unix(), 10)
	}
	return ""
}

func (r *recorder) Tick(ctx context.Context) error {
	// 上一次检查还没结束时直接丢弃本次，不排队
	if !r.tickBusy.CompareAndSwap(false, true) {
		return nil
	}
	defer r.tickBusy.Store(false)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	info, err := r.live.GetInfo()
	if err != nil {
		// 网络/API 瞬时失败，等下一个 tick 重试
		r.logger.WithError(err).Debug("failed to load room info")
		return err
	}

	liveId := liveIdentity(info)
	living := info.IsLiving()

	r.mu.Lock()
	wasLiving := r.lastLiving
	r.lastLiving = living
	r.lastInfo = info
	r.currentLiveId = liveId
	if !living {
		// 下播后解除抑制，下一场直播重新开始
		r.suppressed = false
		r.bannedLiveId = ""
		r.shortCount = 0
	} else if r.suppressed && liveId != r.bannedLiveId {
		r.suppressed = false
		r.bannedLiveId = ""
	}
	suppressed := r.suppressed
	status := r.status
	r.mu.Unlock()

	if living && !wasLiving {
		r.live.SetLastStartTime(time.Now())
		r.ed.DispatchEvent(events.NewEvent(LiveStart, r.live))
		r.logger.WithField("room", info.RoomName).Info("Live Start")
	}
	if !living && wasLiving {
		r.ed.DispatchEvent(events.NewEvent(LiveEnd, r.live))
		r.logger.Info("Live end")
	}

	if !living {
		if status == StatusRecording {
			r.Stop("live end")
		}
		return nil
	}
	if suppressed {
		metrics.RecordingsSuppressed.Inc()
		return nil
	}

	switch status {
	case StatusIdle:
		return r.startCapture(ctx, info)
	case StatusRecording:
		return r.checkStreamSwitch(info)
	default:
		return nil
	}
}

func (r *recorder) policy() live.SelectionPolicy {
	opts := r.live.GetOptions()
	if opts == nil {
		return live.SelectionPolicy{}
	}
	return live.SelectionPolicy{
		Quality:          live.Quality(opts.Quality),
		StreamPriorities: opts.StreamPriorities,
		SourcePriorities: opts.SourcePriorities,
	}
}

func currentRateOf(streams []*live.StreamUrlInfo) int {
	for _, s := range streams {
		if s.Current {
			return s.Rate
		}
	}
	if len(streams) > 0 {
		return streams[0].Rate
	}
	return 0
}

func currentCDNOf(sources []*live.StreamUrlInfo) string {
	for _, s := range sources {
		if s.Current {
			return s.CDN
		}
	}
	if len(sources) > 0 {
		return sources[0].CDN
	}
	return ""
}

// resolveStream 按策略选流。选中的流与平台当前推送的流不一致且平台
// 支持切换时，携带目标 rate/cdn 再取一次候选，用新结果里的地址。
func (r *recorder) resolveStream(info *live.Info) (*live.ResolvedStream, *url.URL, error) {
	streams, sources, err := r.live.GetStreamInfos()
	if err != nil {
		return nil, nil, err
	}
	policy := r.policy()
	resolved, err := policy.Resolve(info, streams, sources)
	if err != nil {
		return nil, nil, err
	}

	need, nerr := live.NeedsReResolve(info, resolved, currentRateOf(streams), currentCDNOf(sources))
	if need {
		cdn := ""
		if resolved.Source != nil {
			cdn = resolved.Source.CDN
		}
		if s2, src2, err2 := r.live.GetStreamInfosWithRate(resolved.Stream.Rate, cdn); err2 == nil {
			if re2, err3 := policy.Resolve(info, s2, src2); err3 == nil {
				resolved = re2
				streams, sources = s2, src2
			}
		}
	} else if errors.Is(nerr, live.ErrSwitchUnsupported) {
		r.logger.Info("platform does not support live rate switch, falling back to default stream")
	}

	u := streamURL(resolved, streams)
	if u == nil {
		return nil, nil, live.ErrNoStreamMatch
	}
	return resolved, u, nil
}

// streamURL 取选中流的拉流地址。部分平台只给当前档位下发地址，
// 选中候选无地址时回退到平台标记的当前流。
func streamURL(resolved *live.ResolvedStream, streams []*live.StreamUrlInfo) *url.URL {
	if resolved.Stream.Url != nil {
		return resolved.Stream.Url
	}
	for _, s := range streams {
		if s.Current && s.Url != nil {
			return s.Url
		}
	}
	for _, s := range streams {
		if s.Url != nil {
			return s.Url
		}
	}
	return nil
}

func defaultFileNameTmpl() *template.Template {
	return template.Must(template.New("filename").Funcs(utils.GetFuncMap()).
		Parse(`{{ .Live.GetPlatformCNName }}/{{ with .Live.GetOptions.NickName }}{{ . | filenameFilter }}{{ else }}{{ .HostName | filenameFilter }}{{ end }}/[{{ now | date "2006-01-02 15-04-05"}}][{{ .HostName | filenameFilter }}][{{ .RoomName | filenameFilter }}].mp4`))
}

// renderSavePath 渲染输出文件路径，分段模式下在扩展名前注入序号占位
func (r *recorder) renderSavePath(info *live.Info, room *configs.LiveRoom, segmentSec int) (string, error) {
	cfg := configs.GetCurrentConfig()

	tmpl := defaultFileNameTmpl()
	if userTmpl := cfg.OutputTmplForRoom(room); userTmpl != "" {
		if t, err := template.New("user_filename").Funcs(utils.GetFuncMap()).Parse(userTmpl); err == nil {
			tmpl = t
		}
	}
	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, info); err != nil {
		return "", err
	}
	fileName := filepath.Join(cfg.OutPutPathForRoom(room), buf.String())
	if segmentSec > 0 {
		ext := filepath.Ext(fileName)
		fileName = strings.TrimSuffix(fileName, ext) + "_%03d" + ext
	}
	return fileName, nil
}

func (r *recorder) startCapture(ctx context.Context, info *live.Info) error {
	resolved, streamUrl, err := r.resolveStream(info)
	if err != nil {
		if errors.Is(err, live.ErrNotLive) {
			return nil
		}
		r.mu.Lock()
		r.qualityRetry++
		retry := r.qualityRetry
		if retry >= maxQualityRetry {
			r.qualityRetry = 0
		}
		r.mu.Unlock()
		if retry >= maxQualityRetry {
			r.logger.WithError(err).Warn("stream resolution keeps failing, giving up for this poll cycle")
			return err
		}
		r.logger.WithError(err).Debug("stream resolution failed, will retry on next tick")
		return nil
	}
	r.mu.Lock()
	r.qualityRetry = 0
	r.mu.Unlock()

	cfg := configs.GetCurrentConfig()
	room, err := cfg.GetLiveRoomByUrl(r.live.GetRawUrl())
	if err != nil {
		room = &configs.LiveRoom{Url: r.live.GetRawUrl()}
	}
	segmentSec := cfg.SegmentTimeForRoom(room)

	savePath, err := r.renderSavePath(info, room, segmentSec)
	if err != nil {
		return err
	}
	if err = mkdir(filepath.Dir(savePath)); err != nil {
		r.logger.WithError(err).Errorf("failed to create output path [%s]", filepath.Dir(savePath))
		return err
	}

	ffmpegPath, err := resolveFFmpegPath()
	if err != nil {
		r.logger.WithError(err).Error("ffmpeg not available")
		return err
	}

	headers := make(map[string]string)
	if resolved.Stream != nil {
		for k, v := range resolved.Stream.HeadersForDownloader {
			headers[k] = v
		}
	}
	if resolved.Source != nil {
		for k, v := range resolved.Source.HeadersForDownloader {
			headers[k] = v
		}
	}

	// 旁路元数据跟随会话而不是单个分段，文件名不带序号占位
	extraBase := savePath
	if segmentSec > 0 {
		ext := filepath.Ext(extraBase)
		extraBase = strings.TrimSuffix(extraBase, ext)
		extraBase = strings.TrimSuffix(extraBase, "_%03d") + ext
	}
	extra := capture.NewExtraDataController(extraBase)
	meta := capture.ExtraMeta{
		RoomID:   roomIDFromUrl(r.live.GetRawUrl()),
		Platform: r.live.GetPlatformCNName(),
		Title:    info.RoomName,
		UserName: info.HostName,
	}
	if !info.LiveStartTime.IsZero() {
		meta.LiveStartTimestamp = info.LiveStartTime.UnixMilli()
	}
	extra.SetMeta(meta)

	session := capture.NewSession(capture.Options{
		FFmpegPath:  ffmpegPath,
		StreamUrl:   streamUrl.String(),
		Headers:     headers,
		SavePath:    savePath,
		SegmentSec:  segmentSec,
		TimeoutInUs: cfg.TimeoutInUsForRoom(room),
	}, capture.Hooks{
		OnFileCreated: func(path string) {
			r.logger.WithField("file", path).Info("video file created")
		},
		OnFileCompleted: func(path string) {
			r.logger.WithField("file", path).Info("video file completed")
			if err := extra.Flush(); err != nil {
				r.logger.WithError(err).Debug("failed to flush extra data")
			}
		},
		OnRecordStop: func(reason string) {
			r.onSessionEnd(reason)
		},
		OnDebugLog: func(text string) {
			r.logger.Debug(text)
		},
	}, extra)

	handle := &CaptureHandle{
		ID:       uuid.NewV4().String(),
		Stream:   resolved.Stream,
		Source:   resolved.Source,
		Url:      streamUrl.String(),
		SavePath: savePath,
	}

	r.mu.Lock()
	if r.status != StatusIdle {
		r.mu.Unlock()
		return nil
	}
	r.status = StatusRecording
	r.session = session
	r.handle = handle
	r.startTime = time.Now()
	r.currentRate = resolved.Stream.Rate
	if resolved.Source != nil {
		r.currentCDN = resolved.Source.CDN
	} else {
		r.currentCDN = ""
	}
	r.mu.Unlock()

	r.startDanmaku(ctx, room, extra)

	bilisentry.Go(func() {
		if err := session.Start(); err != nil {
			r.logger.WithError(err).Debug("capture session exited")
		}
	})
	r.logger.Info("Record Start ", r.live.GetRawUrl())
	metrics.RecordingsStarted.Inc()
	metrics.RecordingsActive.Inc()
	r.ed.DispatchEvent(events.NewEvent(RecorderStart, r.live))
	return nil
}

// startDanmaku 附加弹幕/礼物监听。监听失败只记调试日志，不影响录制。
func (r *recorder) startDanmaku(ctx context.Context, room *configs.LiveRoom, extra *capture.ExtraDataController) {
	if room == nil || !room.Danmaku {
		return
	}
	client, err := danmaku.NewClient(
		r.live.GetRawUrl(),
		roomIDFromUrl(r.live.GetRawUrl()),
		func(msg *danmaku.Message) { extra.AddMessage(msg) },
		func(text string) { r.logger.Debug("danmaku: ", text) },
	)
	if err != nil {
		r.logger.WithError(err).Debug("danmaku listener not available")
		return
	}
	dmCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.dmClient = client
	r.dmCancel = cancel
	r.mu.Unlock()
	bilisentry.GoWithContext(dmCtx, func(ctx context.Context) {
		if err := client.Start(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Debug("danmaku listener exited")
		}
	})
}

// checkStreamSwitch 录制中定期核对策略选择是否仍指向当前流。
// 不一致且平台支持切换时重启会话换到新流，不支持时保持现状。
func (r *recorder) checkStreamSwitch(info *live.Info) error {
	streams, sources, err := r.live.GetStreamInfos()
	if err != nil {
		return nil
	}
	resolved, err := r.policy().Resolve(info, streams, sources)
	if err != nil {
		return nil
	}
	r.mu.Lock()
	rate, cdn := r.currentRate, r.currentCDN
	r.mu.Unlock()
	need, nerr := live.NeedsReResolve(info, resolved, rate, cdn)
	if errors.Is(nerr, live.ErrSwitchUnsupported) {
		r.logger.Debug("preferred stream changed but platform does not support live switch")
		return nil
	}
	if need {
		r.logger.Info("preferred stream changed, restarting capture")
		r.Stop("stream switch")
	}
	return nil
}

// onSessionEnd 子进程退出后的收尾，由 capture 的 RecordStop 钩子触发。
// 自然结束时检测轮播：同一场次连续多次短录制说明平台在循环播放
// 同一段录像（或账号被封禁拉流），此时抑制该场次的后续录制。
func (r *recorder) onSessionEnd(reason string) {
	r.mu.Lock()
	natural := r.status == StatusRecording
	if natural {
		short := !r.startTime.IsZero() && time.Since(r.startTime) < shortSessionThreshold
		if short && r.currentLiveId != "" {
			if r.currentLiveId == r.shortLiveId {
				r.shortCount++
			} else {
				r.shortLiveId = r.currentLiveId
				r.shortCount = 1
			}
			if r.shortCount >= maxShortSessions {
				r.bannedLiveId = r.currentLiveId
				r.suppressed = true
				r.logger.Warnf("the same live id kept ending abnormally, suppressing until it changes")
			}
		} else if !short {
			r.shortCount = 0
		}
	}
	r.teardownLocked()
	r.mu.Unlock()

	r.logger.WithField("reason", reason).Info("Record End")
	r.ed.DispatchEvent(events.NewEvent(RecorderStop, r.live))
}

// teardownLocked 清理会话状态并回到 idle，调用方需持有 r.mu
func (r *recorder) teardownLocked() {
	if r.dmClient != nil {
		r.dmClient.Stop()
		r.dmClient = nil
	}
	if r.dmCancel != nil {
		r.dmCancel()
		r.dmCancel = nil
	}
	r.session = nil
	r.handle = nil
	if r.status != StatusIdle {
		metrics.RecordingsActive.Dec()
	}
	r.status = StatusIdle
}

func (r *recorder) Stop(reason string) {
	r.mu.Lock()
	if r.status != StatusRecording {
		// 重复 Stop 是空操作
		r.mu.Unlock()
		return
	}
	r.status = StatusStopping
	session := r.session
	if r.dmClient != nil {
		r.dmClient.Stop()
		r.dmClient = nil
	}
	if r.dmCancel != nil {
		r.dmCancel()
		r.dmCancel = nil
	}
	r.mu.Unlock()

	if session != nil {
		// 子进程退出后 onSessionEnd 负责回到 idle
		if err := session.Stop(reason); err != nil {
			r.logger.WithError(err).Warn("failed to stop capture session")
		}
	} else {
		r.mu.Lock()
		r.teardownLocked()
		r.mu.Unlock()
	}
}

func (r *recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Status:       r.status,
		Suppressed:   r.suppressed,
		QualityRetry: r.qualityRetry,
		StartTime:    r.startTime,
		LiveInfo:     r.lastInfo,
	}
	if r.handle != nil {
		h := *r.handle
		snap.Handle = &h
	}
	return snap
}

func (r *recorder) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

func (r *recorder) GetSessionPID() int {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return 0
	}
	return session.GetPID()
}

func (r *recorder) GetSessionStatus() (map[string]string, error) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return nil, nil
	}
	return session.Status()
}

func (r *recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.Stop("recorder closed")
}

// roomIDFromUrl 取房间 URL 路径的最后一段作为房间标识
func roomIDFromUrl(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	return path
}
