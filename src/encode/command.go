package encode

import (
	"errors"
)

// MergeFiles 压制任务涉及的文件路径，ass 与高能进度条均为可选。
type MergeFiles struct {
	VideoFilePath       string
	AssFilePath         string
	HotProgressFilePath string
	OutputPath          string
}

// MergeMeta 压制任务的外部上下文。
type MergeMeta struct {
	// 录制开始的 unix 秒，用于时间戳烧录的基准
	StartTimestamp int64
}

var ErrNoVideoFile = errors.New("encode: video file path is required")

// GenMergeAssMp4Command 生成弹幕压制命令的完整参数序列。
// 参数顺序：输入侧裁切、硬解上下文、输入、滤镜图、视频编码、
// 输出侧起始偏移、音频编码、输出路径。纯函数，不触碰文件系统。
func GenMergeAssMp4Command(files MergeFiles, opts Options, meta MergeMeta) ([]string, error) {
	if files.VideoFilePath == "" {
		return nil, ErrNoVideoFile
	}
	var args []string

	// 输入侧快速 seek，配合 -copyts 保持裁切后时间戳连续
	if opts.SS != "" {
		args = append(args, "-ss", opts.SS, "-copyts")
		if opts.To != "" {
			args = append(args, "-to", opts.To)
		}
	}
	if opts.Decode && HardwareAcceleration(opts.Encoder) == "nvenc" {
		args = append(args,
			"-hwaccel", "cuda",
			"-hwaccel_output_format", "cuda",
			"-extra_hw_frames", "10",
		)
	}

	args = append(args, "-i", files.VideoFilePath)
	if files.HotProgressFilePath != "" {
		args = append(args, "-i", files.HotProgressFilePath)
	}
	args = append(args, "-y")

	filter := buildMergeFilter(files, opts, meta)
	if len(filter.Stages()) > 0 {
		args = append(args,
			"-filter_complex", filter.String(),
			"-map", "["+filter.LatestOutputStream()+"]",
			"-map", "0:a",
		)
	}

	args = append(args, videoParams(opts)...)
	if opts.SS != "" {
		args = append(args, "-ss", opts.SS)
	}
	args = append(args, audioParams(opts)...)
	args = append(args, files.OutputPath)
	return args, nil
}

func buildMergeFilter(files MergeFiles, opts Options, meta MergeMeta) *ComplexFilter {
	filter := NewComplexFilter()
	scaleMethod := SelectScaleMethod(opts)

	if scaleMethod == ScaleMethodBefore {
		filter.AddScaleFilter(opts.ResolutionWidth, opts.ResolutionHeight, "")
	}
	if files.AssFilePath != "" {
		filter.AddSubtitleFilter(files.AssFilePath)
	}
	// auto 在字幕烧录之后缩放，避免低分辨率下字幕发糊
	if scaleMethod == ScaleMethodAfter || scaleMethod == ScaleMethodAuto {
		filter.AddScaleFilter(opts.ResolutionWidth, opts.ResolutionHeight, "")
	}
	if files.HotProgressFilePath != "" {
		base := filter.LatestOutputStream()
		keyed := filter.AddColorkeyFilter("1")
		filter.AddOverlayFilter([]string{base, keyed})
	}
	if opts.AddTimestamp && meta.StartTimestamp > 0 {
		filter.AddDrawtextFilter(meta.StartTimestamp, "white", 24, 10, 10)
	}
	return filter
}
