package encode

import (
	"fmt"
	"strings"
)

// BitrateControl 码率控制模式。
type BitrateControl string

const (
	BitrateControlCRF BitrateControl = "CRF"
	BitrateControlCQ  BitrateControl = "CQ"
	BitrateControlICQ BitrateControl = "ICQ"
	BitrateControlVBR BitrateControl = "VBR"
)

// ScaleMethod 缩放相对字幕烧录的插入时机。
type ScaleMethod string

const (
	ScaleMethodNone   ScaleMethod = "none"
	ScaleMethodAuto   ScaleMethod = "auto"
	ScaleMethodBefore ScaleMethod = "before"
	ScaleMethodAfter  ScaleMethod = "after"
)

// Options 压制参数的声明式描述，构建过程无副作用。
type Options struct {
	Encoder        string
	AudioCodec     string
	BitrateControl BitrateControl
	CRF            int
	Preset         string
	Bitrate        int
	Decode         bool
	ExtraOptions   string
	Bit10          bool

	ResetResolution  bool
	ResolutionWidth  int
	ResolutionHeight int
	ScaleMethod      ScaleMethod

	AddTimestamp bool

	// 裁切窗口，形如 "00:00:10"，为空表示不裁切
	SS string
	To string
}

// HardwareAcceleration 根据编码器名判断其硬件加速家族。
// 软件编码器归为 cpu，未知编码器返回空串。
func HardwareAcceleration(encoder string) string {
	switch {
	case strings.HasSuffix(encoder, "_qsv"):
		return "qsv"
	case strings.HasSuffix(encoder, "_nvenc"):
		return "nvenc"
	case strings.HasSuffix(encoder, "_amf"):
		return "amf"
	case encoder == "libx264" || encoder == "libx265" || encoder == "libsvtav1":
		return "cpu"
	default:
		return ""
	}
}

// presetFamilies 接受 -preset 参数的加速家族
var presetFamilies = map[string]bool{
	"cpu":   true,
	"qsv":   true,
	"nvenc": true,
}

// GenFFmpegParams 生成输出侧编码参数序列。
// copy 编码器不携带任何码率控制与像素格式参数。
func GenFFmpegParams(opts Options) []string {
	args := videoParams(opts)
	args = append(args, audioParams(opts)...)
	return args
}

func videoParams(opts Options) []string {
	args := []string{"-c:v", opts.Encoder}
	if opts.Encoder == "copy" {
		return args
	}
	switch opts.BitrateControl {
	case BitrateControlCRF:
		if opts.CRF > 0 {
			args = append(args, "-crf", fmt.Sprintf("%d", opts.CRF))
		}
	case BitrateControlCQ:
		if opts.CRF > 0 {
			args = append(args, "-rc", "vbr", "-cq", fmt.Sprintf("%d", opts.CRF))
		}
	case BitrateControlICQ:
		if opts.CRF > 0 {
			args = append(args, "-global_quality", fmt.Sprintf("%d", opts.CRF))
		}
	case BitrateControlVBR:
		if opts.Bitrate > 0 {
			args = append(args, "-b:v", fmt.Sprintf("%dk", opts.Bitrate))
		}
	}
	if opts.Preset != "" && presetFamilies[HardwareAcceleration(opts.Encoder)] {
		args = append(args, "-preset", opts.Preset)
	}
	// 硬件编码器的 10bit 走各自的 profile，这里只对软件编码器声明像素格式
	if opts.Bit10 && HardwareAcceleration(opts.Encoder) == "cpu" {
		args = append(args, "-pix_fmt", "yuv420p10le")
	}
	return args
}

func audioParams(opts Options) []string {
	args := []string{"-c:a", opts.AudioCodec}
	if extra := strings.Fields(opts.ExtraOptions); len(extra) > 0 {
		args = append(args, extra...)
	}
	return args
}

// SelectScaleMethod 决定缩放节点的插入时机：
// 未开启分辨率重设或未给出目标分辨率时一律为 none，
// 给出分辨率但未指定时机时为 auto。
func SelectScaleMethod(opts Options) ScaleMethod {
	if !opts.ResetResolution || opts.ResolutionWidth <= 0 || opts.ResolutionHeight <= 0 {
		return ScaleMethodNone
	}
	if opts.ScaleMethod == "" {
		return ScaleMethodAuto
	}
	return opts.ScaleMethod
}
