package webhook

import (
	"context"
	"os"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/bililive-tools/bililive-tools/src/capture"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/metrics"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
)

// 扫描周期固定 60 秒，与事件摄入互斥
const sweepInterval = time.Minute

// SessionFile 场次中的一个录像文件
type SessionFile struct {
	Path      string
	DanmuPath string
}

// RecordingSession 连续性缝合的单位：一场录制。
// Opening 事件创建，后续同房间 Opening 追加文件（分段轮转），
// Closed 事件或扫描器收尾。Files 在收尾前只追加不删改。
type RecordingSession struct {
	ID       string
	RoomID   string
	Platform string
	OpenedAt time.Time
	Title    string
	Username string
	Files    []SessionFile
	ClosedAt *time.Time

	lastActivity time.Time
}

func (s *RecordingSession) key() string {
	return s.Platform + "/" + s.RoomID
}

// ReconcilerOptions 行为参数，零值取默认
type ReconcilerOptions struct {
	// MinSizeMB 收尾时小于该大小（MB）的文件被丢弃
	MinSizeMB float64
	// StaleAfter 无活动超过该时长的开档场次被扫描器强制收尾
	StaleAfter time.Duration
	// Store 可选持久化，进程重启后续接未收尾场次
	Store *Store
	// Hooks 下游消费契约，与内部录制路径共用同一组事件
	Hooks capture.Hooks
}

// for test
var statFileSize = func(path string) (int64, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return st.Size(), true
}

// Reconciler 消费归一化事件，把开档/关档缝合为录制场次。
// 事件摄入与定期扫描都会改动场次表，由同一把互斥锁串行化。
type Reconciler struct {
	opts   ReconcilerOptions
	logger *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*RecordingSession

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewReconciler(ctx context.Context, opts ReconcilerOptions) *Reconciler {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	r := &Reconciler{
		opts:     opts,
		sessions: make(map[string]*RecordingSession),
		timers:   make(map[*time.Timer]struct{}),
		stopCh:   make(chan struct{}),
		logger:   logrus.WithField("module", "webhook"),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.WebhookReconciler = r
	}
	return r
}

func (r *Reconciler) Start(ctx context.Context) error {
	if r.opts.Store != nil {
		sessions, err := r.opts.Store.LoadOpenSessions(ctx)
		if err != nil {
			return err
		}
		r.mu.Lock()
		for _, s := range sessions {
			s.lastActivity = time.Now()
			r.sessions[s.key()] = s
		}
		r.mu.Unlock()
	}

	bilisentry.GoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	})
	return nil
}

func (r *Reconciler) Close(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopCh) })

	// 取消还没触发的延迟关档
	r.timersMu.Lock()
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
	r.timersMu.Unlock()

	if r.opts.Store != nil {
		if err := r.opts.Store.Close(); err != nil {
			r.logger.WithError(err).Warn("failed to close session store")
		}
	}
}

// Ingest 处理一条归一化事件
func (r *Reconciler) Ingest(ctx context.Context, ev *Event) {
	if ev == nil {
		return
	}
	switch ev.Kind {
	case KindOpening:
		r.ingestOpening(ctx, ev)
	case KindClosed:
		r.ingestClosed(ctx, ev)
	}
}

// IngestDDTV 处理 DDTV 的归一化产物：开档立即生效，
// 关档延迟补发。延迟定时器随 Reconciler 关闭而取消。
func (r *Reconciler) IngestDDTV(ctx context.Context, res *DDTVResult) {
	if res == nil {
		return
	}
	r.Ingest(ctx, res.Opening)

	var timer *time.Timer
	timer = time.AfterFunc(res.CloseDelay, func() {
		r.timersMu.Lock()
		delete(r.timers, timer)
		r.timersMu.Unlock()
		select {
		case <-r.stopCh:
			return
		default:
		}
		// 触发时请求的 ctx 早已结束，持久化用独立 ctx
		r.Ingest(context.Background(), res.Closed)
	})
	r.timersMu.Lock()
	r.timers[timer] = struct{}{}
	r.timersMu.Unlock()
}

// ingestOpening 开档：房间无活动场次则新建；已有未收尾场次时视为
// 分段轮转，追加文件而不是开新场次。连续两个 Opening 中间没有
// Closed 是断流续传的正常形态，不能当成两场独立录制。
func (r *Reconciler) ingestOpening(ctx context.Context, ev *Event) {
	file := SessionFile{Path: ev.FilePath, DanmuPath: ev.DanmuPath}

	r.mu.Lock()
	key := ev.Platform + "/" + ev.RoomID
	session, ok := r.sessions[key]
	if ok && session.ClosedAt == nil {
		session.Files = append(session.Files, file)
		session.lastActivity = time.Now()
		if ev.Title != "" {
			session.Title = ev.Title
		}
		r.persistAppend(ctx, session, file)
		r.mu.Unlock()

		r.logger.WithFields(logrus.Fields{
			"room": ev.RoomID, "file": ev.FilePath,
		}).Info("recording continues with a new file")
		if r.opts.Hooks.OnFileCreated != nil {
			r.opts.Hooks.OnFileCreated(ev.FilePath)
		}
		return
	}

	openedAt := ev.Time
	if openedAt.IsZero() {
		openedAt = time.Now()
	}
	session = &RecordingSession{
		ID:           uuid.NewV4().String(),
		RoomID:       ev.RoomID,
		Platform:     ev.Platform,
		OpenedAt:     openedAt,
		Title:        ev.Title,
		Username:     ev.Username,
		Files:        []SessionFile{file},
		lastActivity: time.Now(),
	}
	r.sessions[key] = session
	r.persistNew(ctx, session)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"room": ev.RoomID, "platform": ev.Platform, "file": ev.FilePath,
	}).Info("recording session opened")
	if r.opts.Hooks.OnRecordStart != nil {
		r.opts.Hooks.OnRecordStart()
	}
	if r.opts.Hooks.OnFileCreated != nil {
		r.opts.Hooks.OnFileCreated(ev.FilePath)
	}
}

// ingestClosed 关档：收尾该房间最近的场次。没有对应场次时忽略。
func (r *Reconciler) ingestClosed(ctx context.Context, ev *Event) {
	r.mu.Lock()
	key := ev.Platform + "/" + ev.RoomID
	session, ok := r.sessions[key]
	if !ok || session.ClosedAt != nil {
		r.mu.Unlock()
		return
	}
	r.finalizeLocked(ctx, session, "closed")
	r.mu.Unlock()
}

// Sweep 收尾所有超过存活阈值仍无活动的场次，防止丢失 Closed
// 事件造成场次泄漏。与事件摄入互斥。
func (r *Reconciler) Sweep() {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.ClosedAt == nil && time.Since(session.lastActivity) > r.opts.StaleAfter {
			r.logger.WithFields(logrus.Fields{
				"room": session.RoomID, "platform": session.Platform,
			}).Warn("recording session went stale, finalizing")
			r.finalizeLocked(ctx, session, "stale")
		}
	}
}

// finalizeLocked 收尾场次：标记关闭时间、过滤过小文件、
// 通知下游。调用方需持有 r.mu。每个场次只会收尾一次。
func (r *Reconciler) finalizeLocked(ctx context.Context, session *RecordingSession, reason string) {
	now := time.Now()
	session.ClosedAt = &now
	delete(r.sessions, session.key())

	if r.opts.Store != nil {
		if err := r.opts.Store.CloseSession(ctx, session.ID, now); err != nil {
			r.logger.WithError(err).Warn("failed to persist session close")
		}
	}

	files := make([]SessionFile, 0, len(session.Files))
	for _, f := range session.Files {
		if size, ok := statFileSize(f.Path); ok && r.opts.MinSizeMB > 0 {
			if float64(size)/(1024*1024) < r.opts.MinSizeMB {
				r.logger.WithField("file", f.Path).Info("file below minimum size, skipping")
				continue
			}
		}
		files = append(files, f)
	}

	r.logger.WithFields(logrus.Fields{
		"room":   session.RoomID,
		"files":  len(files),
		"reason": reason,
	}).Info("recording session finalized")
	metrics.SessionsFinalized.WithLabelValues(reason).Inc()

	for _, f := range files {
		if r.opts.Hooks.OnFileCompleted != nil {
			r.opts.Hooks.OnFileCompleted(f.Path)
		}
	}
	if r.opts.Hooks.OnRecordStop != nil {
		r.opts.Hooks.OnRecordStop(reason)
	}
}

func (r *Reconciler) persistNew(ctx context.Context, session *RecordingSession) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.CreateSession(ctx, session); err != nil {
		r.logger.WithError(err).Warn("failed to persist new session")
	}
}

func (r *Reconciler) persistAppend(ctx context.Context, session *RecordingSession, file SessionFile) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.AppendFile(ctx, session.ID, len(session.Files)-1, file); err != nil {
		r.logger.WithError(err).Warn("failed to persist session file")
	}
}

// Sessions 当前未收尾场次的快照
func (r *Reconciler) Sessions() []*RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RecordingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		copied := *s
		copied.Files = append([]SessionFile(nil), s.Files...)
		out = append(out, &copied)
	}
	return out
}
