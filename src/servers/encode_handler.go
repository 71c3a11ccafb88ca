package servers

import (
	"encoding/json"
	"net/http"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/encode"
	"github.com/bililive-tools/bililive-tools/src/instance"
	applog "github.com/bililive-tools/bililive-tools/src/log"
	"github.com/bililive-tools/bililive-tools/src/tasks"
	"github.com/bililive-tools/bililive-tools/src/tools"
)

func resolveFFmpeg() (string, error) {
	if cfg := configs.GetCurrentConfig(); cfg != nil && cfg.FfmpegPath != "" {
		return cfg.FfmpegPath, nil
	}
	return tools.GetFFmpegPath()
}

type mergeRequest struct {
	VideoFilePath       string `json:"video_file_path"`
	AssFilePath         string `json:"ass_file_path"`
	HotProgressFilePath string `json:"hot_progress_file_path"`
	OutputPath          string `json:"output_path"`

	Encoder        string `json:"encoder"`
	AudioCodec     string `json:"audio_codec"`
	BitrateControl string `json:"bitrate_control"`
	CRF            int    `json:"crf"`
	Preset         string `json:"preset"`
	Bitrate        int    `json:"bitrate"`
	Decode         bool   `json:"decode"`
	ExtraOptions   string `json:"extra_options"`
	Bit10          bool   `json:"bit10"`

	ResetResolution  bool   `json:"reset_resolution"`
	ResolutionWidth  int    `json:"resolution_width"`
	ResolutionHeight int    `json:"resolution_height"`
	ScaleMethod      string `json:"scale_method"`

	AddTimestamp   bool   `json:"add_timestamp"`
	StartTimestamp int64  `json:"start_timestamp"`
	SS             string `json:"ss"`
	To             string `json:"to"`
}

// submitMerge 把一次弹幕压制合成提交为后台任务，返回任务 id
func submitMerge(writer http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo: http.StatusBadRequest, ErrMsg: err.Error(),
		})
		return
	}

	args, err := encode.GenMergeAssMp4Command(
		encode.MergeFiles{
			VideoFilePath:       req.VideoFilePath,
			AssFilePath:         req.AssFilePath,
			HotProgressFilePath: req.HotProgressFilePath,
			OutputPath:          req.OutputPath,
		},
		encode.Options{
			Encoder:          req.Encoder,
			AudioCodec:       req.AudioCodec,
			BitrateControl:   encode.BitrateControl(req.BitrateControl),
			CRF:              req.CRF,
			Preset:           req.Preset,
			Bitrate:          req.Bitrate,
			Decode:           req.Decode,
			ExtraOptions:     req.ExtraOptions,
			Bit10:            req.Bit10,
			ResetResolution:  req.ResetResolution,
			ResolutionWidth:  req.ResolutionWidth,
			ResolutionHeight: req.ResolutionHeight,
			ScaleMethod:      encode.ScaleMethod(req.ScaleMethod),
			AddTimestamp:     req.AddTimestamp,
			SS:               req.SS,
			To:               req.To,
		},
		encode.MergeMeta{StartTimestamp: req.StartTimestamp},
	)
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo: http.StatusBadRequest, ErrMsg: err.Error(),
		})
		return
	}

	ffmpegPath, err := resolveFFmpeg()
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusInternalServerError, commonResp{
			ErrNo: http.StatusInternalServerError, ErrMsg: err.Error(),
		})
		return
	}

	task := tasks.NewFFmpegTask(ffmpegPath, args)
	task.OnEnd = func(err error) {
		if err != nil {
			applog.GetLogger().WithError(err).Errorf("merge task %s failed", task.ID())
		} else {
			applog.GetLogger().Infof("merge task %s finished: %s", task.ID(), req.OutputPath)
		}
	}

	inst := instance.GetInstance(r.Context())
	inst.TaskRegistry.(*tasks.Registry).Submit(task)
	writeJSON(writer, commonResp{Data: map[string]string{"task_id": string(task.ID())}})
}
