// Package capture 负责单个直播流的落盘录制。
// 每个 Session 持有一个 ffmpeg 子进程，通过 stdin 控制其优雅退出，
// 通过 stdout 的 progress 输出观察进度，通过 stderr 识别分段文件的切换。
package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bililive-tools/bililive-tools/src/configs"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/pkg/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// for test
var (
	newCommand    = exec.Command
	stopKillDelay = 3 * time.Second
)

// Hooks 生命周期回调。所有回调都在会话内部的 goroutine 中触发，
// 实现方不能阻塞。
type Hooks struct {
	OnRecordStart   func()
	OnFileCreated   func(filePath string)
	OnFileCompleted func(filePath string)
	OnRecordStop    func(reason string)
	OnDebugLog      func(text string)
}

func (h *Hooks) debugf(format string, args ...any) {
	if h != nil && h.OnDebugLog != nil {
		h.OnDebugLog(fmt.Sprintf(format, args...))
	}
}

// Options 一次录制所需的全部参数
type Options struct {
	FFmpegPath string
	StreamUrl  string
	Headers    map[string]string
	// SavePath 输出文件路径。开启分段时其中必须含有 %03d 之类的序号占位
	SavePath string
	// SegmentSec 大于 0 时按该秒数分段输出
	SegmentSec int
	// TimeoutInUs 拉流读超时，微秒
	TimeoutInUs int
}

// Session 一次录制会话，start 后拥有一个 ffmpeg 子进程
type Session struct {
	opts  Options
	hooks Hooks
	extra *ExtraDataController

	cmd       *exec.Cmd
	cmdStdIn  io.WriteCloser
	cmdStdout io.ReadCloser
	cmdLock   sync.Mutex

	// cmdLock 保护。stopRequested 记录进程启动前到达的停止请求，
	// Start 拉起子进程后立即兑现
	stopped       bool
	stopRequested bool
	stopReason    string

	// 子进程可能发出多次终止通知，只有第一次触发收尾
	endOnce sync.Once

	statusReq  chan struct{}
	statusResp chan map[string]string

	mu          sync.Mutex
	currentFile string
	logger      *logrus.Entry
}

func NewSession(opts Options, hooks Hooks, extra *ExtraDataController) *Session {
	return &Session{
		opts:       opts,
		hooks:      hooks,
		extra:      extra,
		statusReq:  make(chan struct{}, 1),
		statusResp: make(chan map[string]string, 1),
		logger:     logrus.WithField("module", "capture"),
	}
}

// ExtraData 返回旁路元数据控制器，未启用时为 nil
func (s *Session) ExtraData() *ExtraDataController {
	return s.extra
}

func (s *Session) buildArgs() []string {
	timeout := s.opts.TimeoutInUs
	if timeout <= 0 {
		timeout = 60000000
	}
	userAgent := defaultUserAgent
	if ua, ok := s.opts.Headers["User-Agent"]; ok {
		userAgent = ua
	}

	args := []string{
		"-nostats",
		"-progress", "-",
		"-y",
		// 网络抖动时自动重连，避免一次断流就终止录制
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-rw_timeout", strconv.Itoa(timeout),
		"-user_agent", userAgent,
	}
	for k, v := range s.opts.Headers {
		if k == "User-Agent" {
			continue
		}
		args = append(args, "-headers", k+": "+v)
	}
	args = append(args, "-i", s.opts.StreamUrl)

	// 流复制不转码；fragmented mp4 保证进程异常退出时文件仍可播放
	args = append(args,
		"-c", "copy",
		"-movflags", "faststart+frag_keyframe+empty_moov",
		"-min_frag_duration", "60000000",
	)

	if s.opts.SegmentSec > 0 {
		args = append(args,
			"-f", "segment",
			"-segment_time", strconv.Itoa(s.opts.SegmentSec),
			"-reset_timestamps", "1",
		)
	}
	args = append(args, s.opts.SavePath)
	return args
}

// Start 启动子进程并阻塞直到进程退出。
// 各生命周期事件经由 Hooks 异步上报，调用方应在独立 goroutine 中运行本方法。
func (s *Session) Start() (err error) {
	ffmpegPath := s.opts.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	args := s.buildArgs()

	func() {
		s.cmdLock.Lock()
		defer s.cmdLock.Unlock()
		s.cmd = newCommand(ffmpegPath, args...)
		if s.cmdStdIn, err = s.cmd.StdinPipe(); err != nil {
			return
		}
		if s.cmdStdout, err = s.cmd.StdoutPipe(); err != nil {
			return
		}
		s.cmd.Stderr = io.MultiWriter(
			s.stderrLineWriter(),
			utils.NewDebugControlledWriter(os.Stderr),
		)
		if err = s.cmd.Start(); err != nil {
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			return
		}
		// 启动前到达的停止请求在这里兑现
		if s.stopRequested {
			if serr := s.stopLocked(s.stopReason); serr != nil {
				s.hooks.debugf("deferred stop failed: %v", serr)
			}
		}
	}()
	if err != nil {
		// 启动失败也要走一次收尾，保证 RecordStop 一定会到达
		s.finish(err.Error())
		return err
	}

	if s.hooks.OnRecordStart != nil {
		s.hooks.OnRecordStart()
	}

	// 不分段时只有一个输出文件，进程启动即视为创建
	if s.opts.SegmentSec <= 0 {
		s.fileOpened(s.opts.SavePath)
	}

	bilisentry.Go(s.scheduler)

	waitErr := s.cmd.Wait()
	reason := ""
	if waitErr != nil {
		reason = waitErr.Error()
	}
	s.finish(reason)
	return waitErr
}

// finish 收尾。幂等：只有第一次调用生效
func (s *Session) finish(reason string) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		last := s.currentFile
		s.currentFile = ""
		s.mu.Unlock()

		if s.extra != nil {
			s.extra.SetRecordStop(time.Now().UnixMilli())
			if err := s.extra.Close(); err != nil {
				s.hooks.debugf("extra data close failed: %v", err)
			}
		}
		if last != "" && s.hooks.OnFileCompleted != nil {
			s.hooks.OnFileCompleted(last)
		}
		if s.hooks.OnRecordStop != nil {
			s.hooks.OnRecordStop(reason)
		}
	})
}

// Stop 请求优雅停止: 向 ffmpeg 的 stdin 写入 "q"。
// 3 秒内进程仍未退出时升级为强制杀死。幂等。
// 进程尚未启动时请求不会丢失，Start 拉起进程后立即兑现。
func (s *Session) Stop(reason string) error {
	s.cmdLock.Lock()
	defer s.cmdLock.Unlock()
	if s.stopped {
		return nil
	}
	if s.cmd == nil {
		s.stopRequested = true
		s.stopReason = reason
		return nil
	}
	return s.stopLocked(reason)
}

// stopLocked 执行实际的停止动作，调用方需持有 cmdLock
func (s *Session) stopLocked(reason string) error {
	s.stopped = true
	s.hooks.debugf("stop requested: %s", reason)
	if s.cmd.ProcessState != nil {
		return nil
	}
	if s.cmdStdIn == nil || s.cmd.Process == nil {
		return fmt.Errorf("capture: process not started")
	}
	var err error
	if _, err = s.cmdStdIn.Write([]byte("q")); err != nil {
		err = fmt.Errorf("capture: error sending stop command to ffmpeg: %w", err)
	}
	process := s.cmd.Process
	go func() {
		time.Sleep(stopKillDelay)
		// 进程已退出时 Kill 返回错误，安全忽略。
		// 不读 ProcessState，避免与 Wait() 竞争
		_ = process.Kill()
	}()
	return err
}

// GetPID 返回 ffmpeg 进程的 PID，未启动或已退出时返回 0
func (s *Session) GetPID() int {
	s.cmdLock.Lock()
	defer s.cmdLock.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// ffmpeg 打开新输出文件时在 stderr 打的日志，分段切换靠它识别
var segmentOpenRegexp = regexp.MustCompile(`Opening '([^']+)' for writing`)

// stderrLineWriter 构造接收 ffmpeg stderr 的行缓冲 writer。
// 分段切换标记不含过滤关键字，writer 层不做过滤，
// 由 handleStderrLine 识别分段后再按 Debug 开关取舍普通输出
func (s *Session) stderrLineWriter() *utils.FilteredLineWriter {
	return utils.NewFilteredLineWriter(s.handleStderrLine, func() bool { return true })
}

func (s *Session) handleStderrLine(line string, isImportant bool) {
	if match := segmentOpenRegexp.FindStringSubmatch(line); match != nil {
		s.fileOpened(match[1])
		return
	}
	if isImportant {
		s.logger.Warn(line)
		s.hooks.debugf("ffmpeg: %s", line)
		return
	}
	// 普通输出很啰嗦，只在 Debug 模式下转发
	if configs.IsDebug() {
		s.logger.Debug(line)
		s.hooks.debugf("ffmpeg: %s", line)
	}
}

// fileOpened 处理新输出文件：上一个文件视为完成，新文件开始
func (s *Session) fileOpened(path string) {
	s.mu.Lock()
	prev := s.currentFile
	s.currentFile = path
	s.mu.Unlock()

	if prev != "" && s.hooks.OnFileCompleted != nil {
		s.hooks.OnFileCompleted(prev)
	}
	if s.hooks.OnFileCreated != nil {
		s.hooks.OnFileCreated(path)
	}
}

// CurrentFile 当前正在写入的输出文件
func (s *Session) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentFile
}

func (s *Session) scanProgress() <-chan []byte {
	ch := make(chan []byte)
	br := bufio.NewScanner(s.cmdStdout)
	br.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if idx := bytes.Index(data, []byte("progress=continue\n")); idx >= 0 {
			return idx + 1, data[0:idx], nil
		}
		return 0, nil, nil
	})
	bilisentry.Go(func() {
		defer close(ch)
		for br.Scan() {
			ch <- br.Bytes()
		}
	})
	return ch
}

func decodeProgress(b []byte) map[string]string {
	status := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Split(bufio.ScanLines)
	for sc.Scan() {
		split := bytes.SplitN(sc.Bytes(), []byte("="), 2)
		if len(split) != 2 {
			continue
		}
		status[string(bytes.TrimSpace(split[0]))] = string(bytes.TrimSpace(split[1]))
	}
	return status
}

func (s *Session) scheduler() {
	defer close(s.statusResp)
	statusCh := s.scanProgress()
	for {
		select {
		case <-s.statusReq:
			select {
			case b, ok := <-statusCh:
				if !ok {
					return
				}
				s.statusResp <- decodeProgress(b)
			case <-time.After(3 * time.Second):
				s.statusResp <- nil
			}
		default:
			if _, ok := <-statusCh; !ok {
				return
			}
		}
	}
}

// Status 返回最近一次 progress 输出解析出的键值对。
// 会话未运行或 3 秒内无新进度时返回 nil。
func (s *Session) Status() (map[string]string, error) {
	select {
	case s.statusReq <- struct{}{}:
	default:
		return nil, nil
	}
	select {
	case resp, ok := <-s.statusResp:
		if !ok {
			return nil, nil
		}
		return resp, nil
	case <-time.After(3 * time.Second):
		return nil, nil
	}
}
