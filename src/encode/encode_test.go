package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenFFmpegParamsNvencCQ(t *testing.T) {
	opts := Options{
		Encoder:        "h264_nvenc",
		BitrateControl: BitrateControlCQ,
		CRF:            34,
		Preset:         "p4",
		AudioCodec:     "copy",
		Bitrate:        8000,
	}
	assert.Equal(t, []string{
		"-c:v", "h264_nvenc",
		"-rc", "vbr",
		"-cq", "34",
		"-preset", "p4",
		"-c:a", "copy",
	}, GenFFmpegParams(opts))
}

func TestGenFFmpegParamsPresetFamilies(t *testing.T) {
	encoders := []string{
		"libx264", "h264_qsv", "h264_nvenc", "h264_amf",
		"libx265", "hevc_qsv", "hevc_nvenc", "hevc_amf",
		"libsvtav1", "av1_qsv", "av1_amf",
	}
	for _, encoder := range encoders {
		opts := Options{
			Encoder:        encoder,
			BitrateControl: BitrateControlCQ,
			CRF:            34,
			Preset:         "p4",
			AudioCodec:     "copy",
		}
		expected := []string{"-c:v", encoder, "-rc", "vbr", "-cq", "34"}
		switch HardwareAcceleration(encoder) {
		case "cpu", "qsv", "nvenc":
			expected = append(expected, "-preset", "p4")
		}
		expected = append(expected, "-c:a", "copy")
		assert.Equal(t, expected, GenFFmpegParams(opts), encoder)
	}
}

func TestGenFFmpegParamsExtraOptions(t *testing.T) {
	opts := Options{
		Encoder:        "h264_nvenc",
		BitrateControl: BitrateControlCQ,
		CRF:            34,
		Preset:         "p4",
		AudioCodec:     "copy",
		ExtraOptions:   "-extra 00:00:00",
	}
	assert.Equal(t, []string{
		"-c:v", "h264_nvenc",
		"-rc", "vbr",
		"-cq", "34",
		"-preset", "p4",
		"-c:a", "copy",
		"-extra", "00:00:00",
	}, GenFFmpegParams(opts))
}

func TestGenFFmpegParamsCopy(t *testing.T) {
	opts := Options{
		Encoder:        "copy",
		BitrateControl: BitrateControlCRF,
		CRF:            28,
		Preset:         "p4",
		AudioCodec:     "copy",
		Bit10:          true,
	}
	assert.Equal(t, []string{"-c:v", "copy", "-c:a", "copy"}, GenFFmpegParams(opts))

	opts.AudioCodec = "flac"
	assert.Equal(t, []string{"-c:v", "copy", "-c:a", "flac"}, GenFFmpegParams(opts))
}

func TestGenFFmpegParamsSoftwareBit10(t *testing.T) {
	opts := Options{
		Encoder:        "libsvtav1",
		BitrateControl: BitrateControlCRF,
		CRF:            28,
		Preset:         "p4",
		AudioCodec:     "flac",
		Bit10:          true,
	}
	assert.Equal(t, []string{
		"-c:v", "libsvtav1",
		"-crf", "28",
		"-preset", "p4",
		"-pix_fmt", "yuv420p10le",
		"-c:a", "flac",
	}, GenFFmpegParams(opts))
}

func TestGenFFmpegParamsVBR(t *testing.T) {
	opts := Options{
		Encoder:        "libsvtav1",
		BitrateControl: BitrateControlVBR,
		CRF:            28,
		Preset:         "p4",
		AudioCodec:     "flac",
		Bitrate:        8000,
		Bit10:          true,
	}
	assert.Equal(t, []string{
		"-c:v", "libsvtav1",
		"-b:v", "8000k",
		"-preset", "p4",
		"-pix_fmt", "yuv420p10le",
		"-c:a", "flac",
	}, GenFFmpegParams(opts))
}

func TestGenFFmpegParamsHardwareBit10Ignored(t *testing.T) {
	// 硬件编码器的 10bit 不走 -pix_fmt
	opts := Options{
		Encoder:        "h264_nvenc",
		BitrateControl: BitrateControlCQ,
		CRF:            28,
		Preset:         "p4",
		AudioCodec:     "flac",
		Bit10:          true,
	}
	assert.Equal(t, []string{
		"-c:v", "h264_nvenc",
		"-rc", "vbr",
		"-cq", "28",
		"-preset", "p4",
		"-c:a", "flac",
	}, GenFFmpegParams(opts))
}

func TestGenFFmpegParamsQsvICQ(t *testing.T) {
	opts := Options{
		Encoder:        "h264_qsv",
		BitrateControl: BitrateControlICQ,
		CRF:            28,
		Preset:         "p4",
		AudioCodec:     "flac",
		Bit10:          true,
	}
	expected := []string{
		"-c:v", "h264_qsv",
		"-global_quality", "28",
		"-preset", "p4",
		"-c:a", "flac",
	}
	assert.Equal(t, expected, GenFFmpegParams(opts))

	// 分辨率重设不影响编码参数本身
	opts.ResetResolution = true
	opts.ResolutionWidth = 3840
	opts.ResolutionHeight = 2160
	assert.Equal(t, expected, GenFFmpegParams(opts))
}

func TestGenMergeCommandSubtitleAndHotProgress(t *testing.T) {
	files := MergeFiles{
		VideoFilePath:       "/path/to/video.mp4",
		AssFilePath:         "/path/to/subtitle.ass",
		HotProgressFilePath: "/path/to/hotprogress.txt",
		OutputPath:          "/path/to/output.mp4",
	}
	args, err := GenMergeAssMp4Command(files, Options{Encoder: "libx264", AudioCodec: "copy"}, MergeMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/path/to/video.mp4",
		"-i", "/path/to/hotprogress.txt",
		"-y",
		"-filter_complex",
		"[0:v]subtitles=/path/to/subtitle.ass[0:video];[1]colorkey=black:0.1:0.1[1:video];[0:video][1:video]overlay=W-w-0:H-h-0[2:video]",
		"-map", "[2:video]",
		"-map", "0:a",
		"-c:v", "libx264",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandSubtitleOnly(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		AssFilePath:   "/path/to/subtitle.ass",
		OutputPath:    "/path/to/output.mp4",
	}
	args, err := GenMergeAssMp4Command(files, Options{Encoder: "libx264", AudioCodec: "copy"}, MergeMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/path/to/video.mp4",
		"-y",
		"-filter_complex",
		"[0:v]subtitles=/path/to/subtitle.ass[0:video]",
		"-map", "[0:video]",
		"-map", "0:a",
		"-c:v", "libx264",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandNoFilters(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		OutputPath:    "/path/to/output.mp4",
	}
	args, err := GenMergeAssMp4Command(files, Options{Encoder: "libx264", AudioCodec: "copy"}, MergeMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/path/to/video.mp4",
		"-y",
		"-c:v", "libx264",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandTrim(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		AssFilePath:   "/path/to/subtitle.ass",
		OutputPath:    "/path/to/output.mp4",
	}
	opts := Options{
		Encoder:    "libx264",
		AudioCodec: "copy",
		SS:         "00:00:00",
		To:         "00:00:10",
	}
	args, err := GenMergeAssMp4Command(files, opts, MergeMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-ss", "00:00:00",
		"-copyts",
		"-to", "00:00:10",
		"-i", "/path/to/video.mp4",
		"-y",
		"-filter_complex",
		"[0:v]subtitles=/path/to/subtitle.ass[0:video]",
		"-map", "[0:video]",
		"-map", "0:a",
		"-c:v", "libx264",
		"-ss", "00:00:00",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandHardwareDecode(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		OutputPath:    "/path/to/output.mp4",
	}
	for _, encoder := range []string{"h264_nvenc", "hevc_nvenc", "av1_nvenc"} {
		opts := Options{Encoder: encoder, AudioCodec: "copy", Decode: true}
		args, err := GenMergeAssMp4Command(files, opts, MergeMeta{})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"-hwaccel", "cuda",
			"-hwaccel_output_format", "cuda",
			"-extra_hw_frames", "10",
			"-i", "/path/to/video.mp4",
			"-y",
			"-c:v", encoder,
			"-c:a", "copy",
			"/path/to/output.mp4",
		}, args, encoder)
	}
}

func TestGenMergeCommandScaleBefore(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		AssFilePath:   "/path/to/subtitle.ass",
		OutputPath:    "/path/to/output.mp4",
	}
	opts := Options{
		Encoder:          "libx264",
		AudioCodec:       "copy",
		ResetResolution:  true,
		ResolutionWidth:  1920,
		ResolutionHeight: 1080,
		ScaleMethod:      ScaleMethodBefore,
	}
	args, err := GenMergeAssMp4Command(files, opts, MergeMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/path/to/video.mp4",
		"-y",
		"-filter_complex",
		"[0:v]scale=1920:1080[0:video];[0:video]subtitles=/path/to/subtitle.ass[1:video]",
		"-map", "[1:video]",
		"-map", "0:a",
		"-c:v", "libx264",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandScaleAfter(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		AssFilePath:   "/path/to/subtitle.ass",
		OutputPath:    "/path/to/output.mp4",
	}
	opts := Options{
		Encoder:          "libx264",
		AudioCodec:       "copy",
		ResetResolution:  true,
		ResolutionWidth:  1920,
		ResolutionHeight: 1080,
		ScaleMethod:      ScaleMethodAfter,
	}
	args, err := GenMergeAssMp4Command(files, opts, MergeMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/path/to/video.mp4",
		"-y",
		"-filter_complex",
		"[0:v]subtitles=/path/to/subtitle.ass[0:video];[0:video]scale=1920:1080[1:video]",
		"-map", "[1:video]",
		"-map", "0:a",
		"-c:v", "libx264",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandTimestamp(t *testing.T) {
	files := MergeFiles{
		VideoFilePath: "/path/to/video.mp4",
		AssFilePath:   "/path/to/subtitle.ass",
		OutputPath:    "/path/to/output.mp4",
	}
	opts := Options{Encoder: "libx264", AudioCodec: "copy", AddTimestamp: true}
	args, err := GenMergeAssMp4Command(files, opts, MergeMeta{StartTimestamp: 1633831810})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/path/to/video.mp4",
		"-y",
		"-filter_complex",
		`[0:v]subtitles=/path/to/subtitle.ass[0:video];[0:video]drawtext=text='%{pts\:localtime\:1633831810\:%Y-%m-%d %T}':fontcolor=white:fontsize=24:x=10:y=10[1:video]`,
		"-map", "[1:video]",
		"-map", "0:a",
		"-c:v", "libx264",
		"-c:a", "copy",
		"/path/to/output.mp4",
	}, args)
}

func TestGenMergeCommandMissingVideo(t *testing.T) {
	_, err := GenMergeAssMp4Command(MergeFiles{}, Options{Encoder: "libx264", AudioCodec: "copy"}, MergeMeta{})
	assert.ErrorIs(t, err, ErrNoVideoFile)
}

func TestSelectScaleMethod(t *testing.T) {
	base := Options{Encoder: "libx264", AudioCodec: "copy"}

	opts := base
	opts.ScaleMethod = ScaleMethodBefore
	assert.Equal(t, ScaleMethodNone, SelectScaleMethod(opts))

	opts = base
	opts.ResetResolution = true
	assert.Equal(t, ScaleMethodNone, SelectScaleMethod(opts))

	opts.ResolutionWidth = 1920
	opts.ResolutionHeight = 1080
	assert.Equal(t, ScaleMethodAuto, SelectScaleMethod(opts))

	opts.ScaleMethod = ScaleMethodBefore
	assert.Equal(t, ScaleMethodBefore, SelectScaleMethod(opts))
}

func TestComplexFilterChaining(t *testing.T) {
	filter := NewComplexFilter()
	assert.Equal(t, "0:v", filter.LatestOutputStream())

	out := filter.AddSubtitleFilter("/path/to/subtitle.ass")
	assert.Equal(t, "0:video", out)

	out = filter.AddScaleFilter(1920, 1080, "")
	assert.Equal(t, "1:video", out)
	assert.Equal(t, "1:video", filter.LatestOutputStream())

	stages := filter.Stages()
	require.Len(t, stages, 2)
	// 第二级的输入等于第一级的输出
	assert.Equal(t, []string{stages[0].Output}, stages[1].Inputs)
	assert.Equal(t, "[0:v]subtitles=/path/to/subtitle.ass[0:video];[0:video]scale=1920:1080[1:video]", filter.String())
}

func TestComplexFilterStages(t *testing.T) {
	filter := NewComplexFilter()
	out := filter.AddScaleFilter(1920, 1080, "bicubic")
	assert.Equal(t, "0:video", out)
	assert.Equal(t, FilterStage{
		Filter:  "scale",
		Options: "1920:1080:flags=bicubic",
		Inputs:  []string{"0:v"},
		Output:  "0:video",
	}, filter.Stages()[0])

	filter = NewComplexFilter()
	filter.AddColorkeyFilter()
	assert.Equal(t, FilterStage{
		Filter:  "colorkey",
		Options: "black:0.1:0.1",
		Inputs:  []string{"0:v"},
		Output:  "0:video",
	}, filter.Stages()[0])

	filter = NewComplexFilter()
	filter.AddOverlayFilter([]string{"0:v", "1:v"})
	assert.Equal(t, FilterStage{
		Filter:  "overlay",
		Options: "W-w-0:H-h-0",
		Inputs:  []string{"0:v", "1:v"},
		Output:  "0:video",
	}, filter.Stages()[0])
}
