package tasks

import (
	"bufio"
	"bytes"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
	"github.com/bililive-tools/bililive-tools/src/types"
)

// Progress 一次 ffmpeg progress 输出的摘要
type Progress struct {
	Frame   string
	FPS     string
	OutTime string
	Speed   string
}

// FFmpegTask 把一次 ffmpeg 调用封装为可暂停/恢复/强杀的任务。
// 暂停与恢复映射到进程停止/继续信号，并非所有系统都支持。
type FFmpegTask struct {
	taskState

	id   types.TaskID
	path string
	args []string

	cmdLock sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser

	// timeMu 保护时间戳，Exec 写入的同时可能被接口查询读取
	timeMu    sync.Mutex
	startedAt time.Time
	endedAt   time.Time

	OnProgress func(Progress)
	OnEnd      func(err error)

	logger *logrus.Entry
}

func NewFFmpegTask(ffmpegPath string, args []string) *FFmpegTask {
	t := &FFmpegTask{
		id:   types.TaskID(uuid.NewV4().String()),
		path: ffmpegPath,
		args: args,
	}
	t.taskState.status = StatusPending
	t.logger = logrus.WithFields(logrus.Fields{"module": "tasks", "task": string(t.id)})
	return t
}

func (t *FFmpegTask) ID() types.TaskID {
	return t.id
}

func (t *FFmpegTask) Exec() error {
	if !t.transition(StatusRunning, StatusPending) {
		return nil
	}
	t.timeMu.Lock()
	t.startedAt = time.Now()
	t.timeMu.Unlock()

	var err error
	func() {
		t.cmdLock.Lock()
		defer t.cmdLock.Unlock()
		t.cmd = exec.Command(t.path, t.args...)
		if t.stdout, err = t.cmd.StdoutPipe(); err != nil {
			return
		}
		err = t.cmd.Start()
	}()
	if err != nil {
		t.set(StatusError)
		t.markEnded()
		if t.OnEnd != nil {
			t.OnEnd(err)
		}
		return err
	}

	bilisentry.Go(t.scanProgress)

	err = t.cmd.Wait()
	t.markEnded()
	if err != nil {
		// Kill() 已把状态置为 error，这里只处理自然失败
		t.transition(StatusError, StatusRunning, StatusPaused)
	} else {
		t.transition(StatusCompleted, StatusRunning, StatusPaused)
	}
	if t.OnEnd != nil {
		t.OnEnd(err)
	}
	return err
}

func (t *FFmpegTask) scanProgress() {
	br := bufio.NewScanner(t.stdout)
	br.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if idx := bytes.Index(data, []byte("progress=continue\n")); idx >= 0 {
			return idx + 1, data[0:idx], nil
		}
		return 0, nil, nil
	})
	for br.Scan() {
		if t.OnProgress == nil {
			continue
		}
		p := Progress{}
		for _, line := range strings.Split(br.Text(), "\n") {
			kv := strings.SplitN(line, "=", 2)
			if len(kv) != 2 {
				continue
			}
			v := strings.TrimSpace(kv[1])
			switch strings.TrimSpace(kv[0]) {
			case "frame":
				p.Frame = v
			case "fps":
				p.FPS = v
			case "out_time":
				p.OutTime = v
			case "speed":
				p.Speed = v
			}
		}
		t.OnProgress(p)
	}
}

// Pause 仅在 running 状态有效，其余状态是无动作的 false
func (t *FFmpegTask) Pause() bool {
	if !t.transition(StatusPaused, StatusRunning) {
		return false
	}
	if err := t.signalStop(); err != nil {
		t.logger.Warnf("pause failed: %v", err)
		t.transition(StatusRunning, StatusPaused)
		return false
	}
	return true
}

// Resume 仅在 paused 状态有效
func (t *FFmpegTask) Resume() bool {
	if !t.transition(StatusRunning, StatusPaused) {
		return false
	}
	if err := t.signalCont(); err != nil {
		t.logger.Warnf("resume failed: %v", err)
		t.transition(StatusPaused, StatusRunning)
		return false
	}
	return true
}

// Kill 对任意非终态任务有效，强制结束并把状态置为 error。
// 对终态任务是无动作的 false。
func (t *FFmpegTask) Kill() bool {
	if !t.transition(StatusError, StatusPending, StatusRunning, StatusPaused) {
		return false
	}
	t.cmdLock.Lock()
	defer t.cmdLock.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return true
}

func (t *FFmpegTask) pid() int {
	t.cmdLock.Lock()
	defer t.cmdLock.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		return t.cmd.Process.Pid
	}
	return 0
}

// ResourceStat 任务进程的资源占用快照
type ResourceStat struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Stat 返回进程当前的 CPU 与内存占用，进程不在时返回 nil
func (t *FFmpegTask) Stat() *ResourceStat {
	pid := t.pid()
	if pid == 0 {
		return nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	stat := &ResourceStat{}
	if cpu, err := proc.CPUPercent(); err == nil {
		stat.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stat.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	return stat
}

func (t *FFmpegTask) markEnded() {
	t.timeMu.Lock()
	t.endedAt = time.Now()
	t.timeMu.Unlock()
}

// StartedAt 任务开始执行的时间，pending 时为零值
func (t *FFmpegTask) StartedAt() time.Time {
	t.timeMu.Lock()
	defer t.timeMu.Unlock()
	return t.startedAt
}

// EndedAt 任务结束的时间，未结束时为零值
func (t *FFmpegTask) EndedAt() time.Time {
	t.timeMu.Lock()
	defer t.timeMu.Unlock()
	return t.endedAt
}
