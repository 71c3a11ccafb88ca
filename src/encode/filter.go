package encode

import (
	"fmt"
	"strings"
)

// FilterStage 描述 filter_complex 图中的一个节点。
type FilterStage struct {
	Filter  string
	Options string
	Inputs  []string
	Output  string
}

// ComplexFilter 按添加顺序累积滤镜节点并自动串联：
// 默认输入流为 "0:v"，每个节点产出一个新的标号（0:video、1:video ...），
// 下一个节点若未显式指定输入则消费上一个节点的输出。
type ComplexFilter struct {
	stages []FilterStage
	latest string
	index  int
}

func NewComplexFilter() *ComplexFilter {
	return &ComplexFilter{latest: "0:v"}
}

// AddFilter 添加一个节点并返回其输出标号。
// inputs 为空时默认接在当前最新输出之后。
func (f *ComplexFilter) AddFilter(filter, options string, inputs ...string) string {
	if len(inputs) == 0 {
		inputs = []string{f.latest}
	}
	output := fmt.Sprintf("%d:video", f.index)
	f.index++
	f.stages = append(f.stages, FilterStage{
		Filter:  filter,
		Options: options,
		Inputs:  inputs,
		Output:  output,
	})
	f.latest = output
	return output
}

func (f *ComplexFilter) AddScaleFilter(width, height int, flags string) string {
	options := fmt.Sprintf("%d:%d", width, height)
	if flags != "" {
		options += ":flags=" + flags
	}
	return f.AddFilter("scale", options)
}

func (f *ComplexFilter) AddSubtitleFilter(assPath string) string {
	return f.AddFilter("subtitles", assPath)
}

// AddColorkeyFilter 抠掉黑色背景，用于高能进度条的透明叠加。
func (f *ComplexFilter) AddColorkeyFilter(inputs ...string) string {
	return f.AddFilter("colorkey", "black:0.1:0.1", inputs...)
}

// AddOverlayFilter 将第二路输入叠加到右下角。
func (f *ComplexFilter) AddOverlayFilter(inputs []string) string {
	return f.AddFilter("overlay", "W-w-0:H-h-0", inputs...)
}

// AddDrawtextFilter 烧录墙上时钟时间戳，基准时间由调用方以 unix 秒给出。
func (f *ComplexFilter) AddDrawtextFilter(startTimestamp int64, fontColor string, fontSize, x, y int) string {
	options := fmt.Sprintf(
		`text='%%{pts\:localtime\:%d\:%%Y-%%m-%%d %%T}':fontcolor=%s:fontsize=%d:x=%d:y=%d`,
		startTimestamp, fontColor, fontSize, x, y,
	)
	return f.AddFilter("drawtext", options)
}

// LatestOutputStream 返回当前图的最终输出标号。
func (f *ComplexFilter) LatestOutputStream() string {
	return f.latest
}

func (f *ComplexFilter) Stages() []FilterStage {
	return f.stages
}

// String 渲染成 -filter_complex 的参数值，如
// [0:v]subtitles=a.ass[0:video];[0:video]scale=1920:1080[1:video]
func (f *ComplexFilter) String() string {
	parts := make([]string, 0, len(f.stages))
	for _, stage := range f.stages {
		var b strings.Builder
		for _, in := range stage.Inputs {
			b.WriteString("[" + in + "]")
		}
		b.WriteString(stage.Filter)
		if stage.Options != "" {
			b.WriteString("=" + stage.Options)
		}
		b.WriteString("[" + stage.Output + "]")
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}
