package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/consts"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/live"
	applog "github.com/bililive-tools/bililive-tools/src/log"
	"github.com/bililive-tools/bililive-tools/src/recorders"
	"github.com/bililive-tools/bililive-tools/src/tasks"
	"github.com/bililive-tools/bililive-tools/src/types"
	"github.com/bililive-tools/bililive-tools/src/webhook"
)

type commonResp struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
	Data   any    `json:"data,omitempty"`
}

func writeJsonWithStatusCode(writer http.ResponseWriter, code int, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	if _, err := writer.Write(b); err != nil {
		applog.GetLogger().WithError(err).Debug("failed to write response")
	}
}

func writeJSON(writer http.ResponseWriter, data any) {
	writeJsonWithStatusCode(writer, http.StatusOK, data)
}

func parseInfo(ctx context.Context, l live.Live) *live.Info {
	inst := instance.GetInstance(ctx)
	info, err := l.GetInfo()
	if err != nil {
		// 拉取失败时回退到缓存的上一次信息，界面保留房间名与主播名
		if obj, cerr := inst.Cache.Get(l); cerr == nil {
			cached := *obj.(*live.Info)
			cached.LastError = err.Error()
			info = &cached
		} else {
			info = &live.Info{Live: l, LastError: err.Error()}
		}
	}
	info.Recording = inst.RecorderManager.(recorders.Manager).HasRecorder(ctx, l.GetLiveId())
	if room, err := configs.GetCurrentConfig().GetLiveRoomByUrl(l.GetRawUrl()); err == nil {
		info.Listening = room.IsListening
	}
	if info.HostName == "" {
		info.HostName = "获取失败"
	}
	if info.RoomName == "" {
		info.RoomName = l.GetRawUrl()
	}
	return info
}

func getInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.GetAppInfo())
}

func getAllLives(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	lives := make([]*live.Info, 0, 4)
	for _, v := range inst.Lives.Snapshot() {
		lives = append(lives, parseInfo(r.Context(), v))
	}
	sort.Slice(lives, func(i, j int) bool {
		return lives[i].Live.GetRawUrl() < lives[j].Live.GetRawUrl()
	})
	writeJSON(writer, lives)
}

func getLive(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	vars := mux.Vars(r)
	l, ok := inst.Lives.Get(types.LiveID(vars["id"]))
	if !ok {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: fmt.Sprintf("live id: %s can not find", vars["id"]),
		})
		return
	}
	writeJSON(writer, parseInfo(r.Context(), l))
}

/*
	Post data example

[

	{
		"url": "https://www.huya.com/123456",
		"listen": true
	},
	{
		"url": "https://www.douyu.com/123456",
		"listen": false
	}

]
*/
func addLives(writer http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo: http.StatusBadRequest, ErrMsg: err.Error(),
		})
		return
	}
	info := make([]*live.Info, 0)
	errorMessages := make([]string, 0, 4)
	gjson.ParseBytes(b).ForEach(func(key, value gjson.Result) bool {
		isListen := value.Get("listen").Bool()
		urlStr := strings.TrimSpace(value.Get("url").String())
		if retInfo, err := addLiveImpl(r.Context(), urlStr, isListen); err != nil {
			msg := urlStr + ": " + err.Error()
			applog.GetLogger().Error(msg)
			errorMessages = append(errorMessages, msg)
		} else {
			info = append(info, retInfo)
		}
		return true
	})
	if len(errorMessages) > 0 {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: strings.Join(errorMessages, ";"),
			Data:   info,
		})
		return
	}
	writeJSON(writer, info)
}

func addLiveImpl(ctx context.Context, urlStr string, isListen bool) (*live.Info, error) {
	inst := instance.GetInstance(ctx)
	room := &configs.LiveRoom{Url: urlStr, IsListening: isListen}
	l, err := live.New(ctx, room, inst.Cache)
	if err != nil {
		return nil, err
	}
	if _, ok := inst.Lives.Get(l.GetLiveId()); ok {
		return nil, fmt.Errorf("live %s already exists", urlStr)
	}
	inst.Lives.Set(l.GetLiveId(), l)
	if _, err := configs.Update(func(c *configs.Config) error {
		c.LiveRooms = append(c.LiveRooms, *room)
		return nil
	}); err != nil {
		applog.GetLogger().WithError(err).Error("failed to persist live room")
	}
	if isListen {
		if err := inst.RecorderManager.(recorders.Manager).AddRecorder(ctx, l); err != nil {
			return nil, err
		}
	}
	return parseInfo(ctx, l), nil
}

func removeLive(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	vars := mux.Vars(r)
	l, ok := inst.Lives.Get(types.LiveID(vars["id"]))
	if !ok {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: fmt.Sprintf("live id: %s can not find", vars["id"]),
		})
		return
	}
	rm := inst.RecorderManager.(recorders.Manager)
	if rm.HasRecorder(r.Context(), l.GetLiveId()) {
		if err := rm.RemoveRecorder(r.Context(), l.GetLiveId()); err != nil {
			writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
				ErrNo: http.StatusBadRequest, ErrMsg: err.Error(),
			})
			return
		}
	}
	l.Close()
	inst.Lives.Delete(l.GetLiveId())
	if _, err := configs.Update(func(c *configs.Config) error {
		return c.RemoveLiveRoomByUrl(l.GetRawUrl())
	}); err != nil {
		applog.GetLogger().WithError(err).Error("failed to remove live room from config")
	}
	writeJSON(writer, commonResp{Data: "OK"})
}

func parseLiveAction(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	vars := mux.Vars(r)
	resp := commonResp{}
	l, ok := inst.Lives.Get(types.LiveID(vars["id"]))
	if !ok {
		resp.ErrNo = http.StatusNotFound
		resp.ErrMsg = fmt.Sprintf("live id: %s can not find", vars["id"])
		writeJsonWithStatusCode(writer, http.StatusNotFound, resp)
		return
	}
	rm := inst.RecorderManager.(recorders.Manager)
	switch vars["action"] {
	case "start":
		if err := rm.AddRecorder(r.Context(), l); err != nil && err != recorders.ErrRecorderExist {
			resp.ErrNo = http.StatusBadRequest
			resp.ErrMsg = err.Error()
			writeJsonWithStatusCode(writer, http.StatusBadRequest, resp)
			return
		}
		setRoomListening(l.GetRawUrl(), true)
	case "stop":
		if err := rm.RemoveRecorder(r.Context(), l.GetLiveId()); err != nil && err != recorders.ErrRecorderNotExist {
			resp.ErrNo = http.StatusBadRequest
			resp.ErrMsg = err.Error()
			writeJsonWithStatusCode(writer, http.StatusBadRequest, resp)
			return
		}
		setRoomListening(l.GetRawUrl(), false)
	default:
		resp.ErrNo = http.StatusBadRequest
		resp.ErrMsg = fmt.Sprintf("invalid Action: %s", vars["action"])
		writeJsonWithStatusCode(writer, http.StatusBadRequest, resp)
		return
	}
	writeJSON(writer, parseInfo(r.Context(), l))
}

func setRoomListening(url string, listening bool) {
	if _, err := configs.Update(func(c *configs.Config) error {
		room, err := c.GetLiveRoomByUrl(url)
		if err != nil {
			return err
		}
		room.IsListening = listening
		return nil
	}); err != nil {
		applog.GetLogger().WithError(err).Error("failed to set live room listening")
	}
}

type taskInfo struct {
	ID        string              `json:"id"`
	Status    tasks.Status        `json:"status"`
	StartedAt string              `json:"started_at,omitempty"`
	EndedAt   string              `json:"ended_at,omitempty"`
	Stat      *tasks.ResourceStat `json:"stat,omitempty"`
}

func getAllTasks(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	registry := inst.TaskRegistry.(*tasks.Registry)
	out := make([]taskInfo, 0)
	for _, t := range registry.List() {
		ti := taskInfo{ID: string(t.ID()), Status: t.Status()}
		if ft, ok := t.(*tasks.FFmpegTask); ok {
			if st := ft.StartedAt(); !st.IsZero() {
				ti.StartedAt = st.Format("2006-01-02 15:04:05")
			}
			if et := ft.EndedAt(); !et.IsZero() {
				ti.EndedAt = et.Format("2006-01-02 15:04:05")
			}
			ti.Stat = ft.Stat()
		}
		out = append(out, ti)
	}
	writeJSON(writer, out)
}

func parseTaskAction(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	registry := inst.TaskRegistry.(*tasks.Registry)
	vars := mux.Vars(r)
	id := types.TaskID(vars["id"])
	var ok bool
	switch vars["action"] {
	case "pause":
		ok = registry.Pause(id)
	case "resume":
		ok = registry.Resume(id)
	case "kill":
		ok = registry.Kill(id)
	case "remove":
		ok = registry.Remove(id) == nil
	default:
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: fmt.Sprintf("invalid Action: %s", vars["action"]),
		})
		return
	}
	if !ok {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: fmt.Sprintf("task %s can not %s in current status", id, vars["action"]),
		})
		return
	}
	writeJSON(writer, commonResp{Data: "OK"})
}

func getWebhookSessions(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	reconciler, ok := inst.WebhookReconciler.(*webhook.Reconciler)
	if !ok {
		writeJSON(writer, []any{})
		return
	}
	type sessionInfo struct {
		ID       string   `json:"id"`
		RoomID   string   `json:"room_id"`
		Platform string   `json:"platform"`
		OpenedAt string   `json:"opened_at"`
		Title    string   `json:"title"`
		Username string   `json:"username"`
		Files    []string `json:"files"`
	}
	out := make([]sessionInfo, 0)
	for _, s := range reconciler.Sessions() {
		si := sessionInfo{
			ID:       s.ID,
			RoomID:   s.RoomID,
			Platform: s.Platform,
			OpenedAt: s.OpenedAt.Format("2006-01-02 15:04:05"),
			Title:    s.Title,
			Username: s.Username,
		}
		for _, f := range s.Files {
			si.Files = append(si.Files, f.Path)
		}
		out = append(out, si)
	}
	writeJSON(writer, out)
}
