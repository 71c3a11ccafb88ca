package webhook

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNormalizeBililiveRecorder(t *testing.T) {
	body := []byte(`{
		"EventType": "FileOpening",
		"EventTimestamp": "2021-05-14T17:52:44.4960899+08:00",
		"EventData": {
			"RelativePath": "23058/录制-23058-20210514.flv",
			"RoomId": 23058,
			"Name": "3号直播间",
			"Title": "【Vtb】从零开始"
		}
	}`)
	ev, err := NormalizeBililiveRecorder(body, "/srv/rec")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, KindOpening, ev.Kind)
	assert.Equal(t, filepath.Join("/srv/rec", "23058", "录制-23058-20210514.flv"), ev.FilePath)
	assert.Equal(t, "23058", ev.RoomID)
	assert.Equal(t, PlatformBiliRecorder, ev.Platform)
	assert.Equal(t, "【Vtb】从零开始", ev.Title)
	assert.Equal(t, "3号直播间", ev.Username)
	assert.False(t, ev.Time.IsZero())
}

func TestNormalizeBililiveRecorderIgnoresOtherEvents(t *testing.T) {
	ev, err := NormalizeBililiveRecorder([]byte(`{"EventType":"SessionStarted"}`), "/srv/rec")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNormalizeBililiveRecorderWithoutFolder(t *testing.T) {
	body := []byte(`{"EventType":"FileClosed","EventData":{"RelativePath":"a.flv"}}`)
	ev, err := NormalizeBililiveRecorder(body, "")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

type fakeRoomInfo struct {
	title    string
	username string
	err      error
	calls    int
}

func (f *fakeRoomInfo) GetRoomInfo(roomID string) (string, string, error) {
	f.calls++
	return f.title, f.username, f.err
}

func TestNormalizeBlrec(t *testing.T) {
	body := []byte(`{
		"type": "VideoFileCreatedEvent",
		"date": "2021-05-14 17:52:44",
		"data": {"room_id": 23058, "path": "/srv/blrec/23058/blive.flv"}
	}`)
	rooms := &fakeRoomInfo{title: "晚间杂谈", username: "测试主播"}
	ev, err := NormalizeBlrec(body, rooms)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, KindOpening, ev.Kind)
	assert.Equal(t, "/srv/blrec/23058/blive.flv", ev.FilePath)
	assert.Equal(t, "23058", ev.RoomID)
	assert.Equal(t, "晚间杂谈", ev.Title)
	assert.Equal(t, "测试主播", ev.Username)
	assert.Equal(t, 1, rooms.calls)
}

func TestNormalizeBlrecCompleted(t *testing.T) {
	body := []byte(`{
		"type": "VideoFileCompletedEvent",
		"data": {"room_id": 23058, "path": "/srv/blrec/23058/blive.flv"}
	}`)
	ev, err := NormalizeBlrec(body, nil)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, KindClosed, ev.Kind)
}

func TestNormalizeBlrecEnrichmentFailureTolerated(t *testing.T) {
	body := []byte(`{
		"type": "VideoFileCreatedEvent",
		"data": {"room_id": 23058, "path": "/srv/blrec/a.flv"}
	}`)
	rooms := &fakeRoomInfo{err: errors.New("connection refused")}
	ev, err := NormalizeBlrec(body, rooms)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Empty(t, ev.Title)
	assert.Empty(t, ev.Username)
}

func TestNormalizeBlrecIgnoresDanmakuEvents(t *testing.T) {
	ev, err := NormalizeBlrec([]byte(`{"type":"DanmakuFileCreatedEvent"}`), nil)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNormalizeDDTV(t *testing.T) {
	body := []byte(`{
		"cmd": "RecordingEnd",
		"data": {
			"RoomId": 23058,
			"Name": "测试主播",
			"Title": {"Value": "晚间杂谈"},
			"DownInfo": {
				"StartTime": "2021-05-14T17:52:44",
				"LiveChatListener": {"File": "/rec/23058/part2"},
				"DownloadFileList": {
					"VideoFile": ["/rec/23058/part1.flv", "/rec/23058/part2.flv"],
					"DanmuFile": ["/rec/23058/part1.xml", "/rec/23058/part2.xml"]
				}
			}
		}
	}`)
	res, err := NormalizeDDTV(body)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NotNil(t, res.Opening)
	assert.Equal(t, KindOpening, res.Opening.Kind)
	assert.Equal(t, filepath.Clean("/rec/23058/part2.flv"), res.Opening.FilePath)
	assert.Equal(t, filepath.Clean("/rec/23058/part2.xml"), res.Opening.DanmuPath)
	assert.Equal(t, "23058", res.Opening.RoomID)
	assert.Equal(t, "晚间杂谈", res.Opening.Title)
	assert.Equal(t, time.Date(2021, 5, 14, 17, 52, 44, 0, time.Local), res.Opening.Time)

	require.NotNil(t, res.Closed)
	assert.Equal(t, KindClosed, res.Closed.Kind)
	assert.Equal(t, res.Opening.FilePath, res.Closed.FilePath)
	assert.Equal(t, ddtvCloseDelay, res.CloseDelay)
}

func TestNormalizeDDTVNoMatchingFile(t *testing.T) {
	body := []byte(`{
		"cmd": "RecordingEnd",
		"data": {
			"DownInfo": {
				"LiveChatListener": {"File": "/rec/23058/part9"},
				"DownloadFileList": {"VideoFile": ["/rec/23058/part1.flv"]}
			}
		}
	}`)
	res, err := NormalizeDDTV(body)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNormalizeDDTVIgnoresOtherCommands(t *testing.T) {
	res, err := NormalizeDDTV([]byte(`{"cmd":"SpaceStateCheck"}`))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFindLastMatchPicksLatest(t *testing.T) {
	// 同名 token 有多个匹配时取最后一个
	got := findLastMatch(gjson.Parse(`["a/part.flv", "b/part.flv"]`), "part")
	assert.Equal(t, filepath.Clean("b/part.flv"), got)
}

func TestNormalizeCustom(t *testing.T) {
	body := []byte(`{
		"event": "FileOpening",
		"filePath": "/srv/custom/video.mp4",
		"roomId": "room-1",
		"time": "2021-05-14T17:52:44",
		"title": "标题",
		"username": "主播",
		"danmuPath": "/srv/custom/video.xml"
	}`)
	ev, err := NormalizeCustom(body)
	require.NoError(t, err)
	assert.Equal(t, KindOpening, ev.Kind)
	assert.Equal(t, "/srv/custom/video.mp4", ev.FilePath)
	assert.Equal(t, "/srv/custom/video.xml", ev.DanmuPath)
	assert.Equal(t, PlatformCustom, ev.Platform)
}

func TestNormalizeCustomValidation(t *testing.T) {
	valid := map[string]string{
		"event":    "FileClosed",
		"filePath": "/srv/custom/video.mp4",
		"roomId":   "room-1",
		"time":     "2021-05-14T17:52:44",
		"title":    "标题",
		"username": "主播",
	}
	for _, missing := range []string{"filePath", "roomId", "time", "title", "username"} {
		t.Run("missing "+missing, func(t *testing.T) {
			payload := `{`
			first := true
			for k, v := range valid {
				if k == missing {
					continue
				}
				if !first {
					payload += ","
				}
				payload += `"` + k + `":"` + v + `"`
				first = false
			}
			payload += `}`
			_, err := NormalizeCustom([]byte(payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNormalizeCustomRejectsUnknownEvent(t *testing.T) {
	body := []byte(`{
		"event": "FileRenamed",
		"filePath": "/srv/custom/video.mp4",
		"roomId": "room-1",
		"time": "2021-05-14T17:52:44",
		"title": "标题",
		"username": "主播"
	}`)
	_, err := NormalizeCustom(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseEventTime(t *testing.T) {
	assert.Equal(t, time.Date(2021, 5, 14, 17, 52, 44, 0, time.Local),
		parseEventTime("2021-05-14 17:52:44"))
	assert.Equal(t, time.Date(2021, 5, 14, 17, 52, 44, 0, time.Local),
		parseEventTime("2021-05-14T17:52:44"))
	assert.True(t, parseEventTime("not a time").IsZero())
}
