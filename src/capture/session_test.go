package capture

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-tools/bililive-tools/src/danmaku"
)

func TestBuildArgs(t *testing.T) {
	s := NewSession(Options{
		StreamUrl:   "https://cdn.example.com/live/stream.flv",
		SavePath:    "/tmp/out.mp4",
		TimeoutInUs: 5000000,
		Headers:     map[string]string{"Referer": "https://www.huya.com/1"},
	}, Hooks{}, nil)
	args := s.buildArgs()

	assert.Contains(t, args, "-reconnect")
	assert.Contains(t, args, "-rw_timeout")
	assert.Contains(t, args, "5000000")
	assert.Contains(t, args, "faststart+frag_keyframe+empty_moov")
	assert.Contains(t, args, "Referer: https://www.huya.com/1")
	assert.NotContains(t, args, "-f")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])

	// -i 必须出现在输出参数之前
	iIdx, cIdx := -1, -1
	for idx, a := range args {
		switch a {
		case "-i":
			iIdx = idx
		case "-c":
			cIdx = idx
		}
	}
	require.GreaterOrEqual(t, iIdx, 0)
	require.Greater(t, cIdx, iIdx)
}

func TestBuildArgsSegment(t *testing.T) {
	s := NewSession(Options{
		StreamUrl:  "https://cdn.example.com/live/stream.flv",
		SavePath:   "/tmp/out-%03d.mp4",
		SegmentSec: 1800,
	}, Hooks{}, nil)
	args := s.buildArgs()
	assert.Contains(t, args, "-segment_time")
	assert.Contains(t, args, "1800")
	assert.Contains(t, args, "-reset_timestamps")
}

func TestSegmentRotationEvents(t *testing.T) {
	var created, completed []string
	s := NewSession(Options{SegmentSec: 60}, Hooks{
		OnFileCreated:   func(p string) { created = append(created, p) },
		OnFileCompleted: func(p string) { completed = append(completed, p) },
	}, nil)

	s.handleStderrLine("[segment @ 0x1] Opening '/tmp/out-000.mp4' for writing", false)
	s.handleStderrLine("[segment @ 0x1] Opening '/tmp/out-001.mp4' for writing", false)

	assert.Equal(t, []string{"/tmp/out-000.mp4", "/tmp/out-001.mp4"}, created)
	// 新分段打开时上一段才算完成
	assert.Equal(t, []string{"/tmp/out-000.mp4"}, completed)
	assert.Equal(t, "/tmp/out-001.mp4", s.CurrentFile())
}

func TestSegmentEventsThroughStderrWriter(t *testing.T) {
	var created, completed []string
	s := NewSession(Options{SegmentSec: 60}, Hooks{
		OnFileCreated:   func(p string) { created = append(created, p) },
		OnFileCompleted: func(p string) { completed = append(completed, p) },
	}, nil)

	// 非 Debug 模式下分段标记也必须穿过 stderr 的行过滤
	w := s.stderrLineWriter()
	_, err := w.Write([]byte("[segment @ 0x1] Opening '/tmp/out-000.mp4' for writing\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("frame=  100 fps= 30 q=-1.0 size=1024kB\n[segment @ 0x1] Opening '/tmp/out-001.mp4' for writing\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/tmp/out-000.mp4", "/tmp/out-001.mp4"}, created)
	assert.Equal(t, []string{"/tmp/out-000.mp4"}, completed)
}

func TestStopBeforeStartReachesProcess(t *testing.T) {
	origCmd, origDelay := newCommand, stopKillDelay
	newCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("sleep", "30")
	}
	stopKillDelay = 50 * time.Millisecond
	defer func() { newCommand, stopKillDelay = origCmd, origDelay }()

	s := NewSession(Options{SavePath: filepath.Join(t.TempDir(), "out.mp4")}, Hooks{}, nil)
	// 进程尚未启动时的停止请求要被记住，不能就此失效
	require.NoError(t, s.Stop("early"))

	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("subprocess kept running, the early stop request was lost")
	}
}

func TestFinishIdempotent(t *testing.T) {
	stops := 0
	var completed []string
	s := NewSession(Options{}, Hooks{
		OnRecordStop:    func(reason string) { stops++ },
		OnFileCompleted: func(p string) { completed = append(completed, p) },
	}, nil)
	s.fileOpened("/tmp/a.mp4")

	s.finish("exit status 1")
	s.finish("exit status 1")
	s.finish("")

	assert.Equal(t, 1, stops)
	assert.Equal(t, []string{"/tmp/a.mp4"}, completed)
}

func TestDecodeProgress(t *testing.T) {
	status := decodeProgress([]byte("frame=100\nfps=30.0\nout_time=00:00:12.5\nspeed= 1.0x\n"))
	assert.Equal(t, "100", status["frame"])
	assert.Equal(t, "1.0x", status["speed"])
}

func TestExtraDataController(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "rec.mp4")
	c := NewExtraDataController(video)
	c.SetMeta(ExtraMeta{
		RoomID:   "123",
		Platform: "huya",
		Title:    "标题",
		UserName: "主播",
	})
	c.AddMessage(&danmaku.Message{Type: danmaku.MsgComment, Text: "hi"})
	// 礼物价格折算为单价并保留两位小数
	c.AddMessage(&danmaku.Message{
		Type:      danmaku.MsgGiveGift,
		GiftName:  "火箭",
		GiftCount: 3,
		GiftPrice: 100,
	})
	require.NoError(t, c.Close())

	b, err := os.ReadFile(video + ".extra.json")
	require.NoError(t, err)
	var got struct {
		Meta     ExtraMeta          `json:"meta"`
		Messages []*danmaku.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "123", got.Meta.RoomID)
	require.Len(t, got.Messages, 2)
	assert.InDelta(t, 33.33, got.Messages[1].GiftPrice, 1e-9)
	assert.Equal(t, 3, got.Messages[1].GiftCount)
}

func TestExtraDataFlushSkipsWhenClean(t *testing.T) {
	dir := t.TempDir()
	c := NewExtraDataController(filepath.Join(dir, "rec.mp4"))
	// 无内容变化时不写文件
	require.NoError(t, c.Flush())
	_, err := os.Stat(filepath.Join(dir, "rec.mp4.extra.json"))
	assert.True(t, os.IsNotExist(err))
}
