package live

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeStreams(names ...string) []*StreamUrlInfo {
	out := make([]*StreamUrlInfo, len(names))
	for i, name := range names {
		out[i] = &StreamUrlInfo{Name: name, Rate: len(names) - i}
	}
	return out
}

func makeSources(cdns ...string) []*StreamUrlInfo {
	out := make([]*StreamUrlInfo, len(cdns))
	for i, cdn := range cdns {
		out[i] = &StreamUrlInfo{CDN: cdn}
	}
	return out
}

func livingInfo() *Info {
	return &Info{Status: true}
}

func TestResolveNotLive(t *testing.T) {
	p := SelectionPolicy{}
	_, err := p.Resolve(&Info{Status: false}, makeStreams("flv"), nil)
	assert.ErrorIs(t, err, ErrNotLive)

	// 轮播中即使 Status 为 true 也按未开播处理
	_, err = p.Resolve(&Info{Status: true, VideoLoop: true}, makeStreams("flv"), nil)
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestResolveStreamPriorities(t *testing.T) {
	p := SelectionPolicy{StreamPriorities: []string{"hls", "flv"}}

	// 列表靠前者胜出，与平台返回顺序无关
	got, err := p.Resolve(livingInfo(), makeStreams("flv", "hls"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hls", got.Stream.Name)

	got, err = p.Resolve(livingInfo(), makeStreams("hls", "flv"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hls", got.Stream.Name)

	// 不在列表中的候选永远不会被选中
	got, err = p.Resolve(livingInfo(), makeStreams("xs", "flv"), nil)
	require.NoError(t, err)
	assert.Equal(t, "flv", got.Stream.Name)

	// 列表非空但全部无匹配
	_, err = p.Resolve(livingInfo(), makeStreams("xs", "ts"), nil)
	assert.ErrorIs(t, err, ErrNoStreamMatch)
}

func TestResolveSourcePriorities(t *testing.T) {
	p := SelectionPolicy{SourcePriorities: []string{"tct", "hw"}}
	got, err := p.Resolve(livingInfo(), makeStreams("flv"), makeSources("al", "hw", "tct"))
	require.NoError(t, err)
	assert.Equal(t, "tct", got.Source.CDN)

	p.SourcePriorities = []string{"cmcc"}
	_, err = p.Resolve(livingInfo(), makeStreams("flv"), makeSources("al", "hw"))
	assert.ErrorIs(t, err, ErrNoStreamMatch)

	// 无线路偏好时跟随平台默认排序
	p.SourcePriorities = nil
	got, err = p.Resolve(livingInfo(), makeStreams("flv"), makeSources("al", "hw"))
	require.NoError(t, err)
	assert.Equal(t, "al", got.Source.CDN)
}

func TestResolveQualityLadder(t *testing.T) {
	// 候选按平台顺序最清晰在前
	streams := makeStreams("origin", "blueray", "high", "smooth")

	cases := []struct {
		quality Quality
		want    string
	}{
		{QualityLowest, "smooth"},
		{QualityLow, "high"},
		{QualityMedium, "blueray"},
		{QualityHigh, "blueray"},
		{QualityHighest, "origin"},
	}
	for _, c := range cases {
		p := SelectionPolicy{Quality: c.quality}
		got, err := p.Resolve(livingInfo(), streams, nil)
		require.NoError(t, err)
		assert.Equal(t, c.want, got.Stream.Name, "quality=%s", c.quality)
	}

	// 留空按最高清处理
	got, err := SelectionPolicy{}.Resolve(livingInfo(), streams, nil)
	require.NoError(t, err)
	assert.Equal(t, "origin", got.Stream.Name)
}

// 同一候选列表下，请求更高档位不会拿到更模糊的候选
func TestQualityLadderMonotonic(t *testing.T) {
	for n := 1; n <= 8; n++ {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("q%d", n-i)
		}
		streams := makeStreams(names...)
		prevRate := -1
		for _, q := range qualityLadder {
			got, err := SelectionPolicy{Quality: q}.Resolve(livingInfo(), streams, nil)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Stream.Rate, prevRate, "n=%d quality=%s", n, q)
			prevRate = got.Stream.Rate
		}
	}
}

func TestNeedsReResolve(t *testing.T) {
	info := &Info{Status: true, SupportRateSwitch: true}
	chosen := &ResolvedStream{
		Stream: &StreamUrlInfo{Name: "flv", Rate: 4},
		Source: &StreamUrlInfo{CDN: "tct"},
	}

	// 与当前录制一致，无需动作
	need, err := NeedsReResolve(info, chosen, 4, "tct")
	require.NoError(t, err)
	assert.False(t, need)

	// 清晰度不同且支持切换
	need, err = NeedsReResolve(info, chosen, 2, "tct")
	require.NoError(t, err)
	assert.True(t, need)

	// 线路不同且支持切换
	need, err = NeedsReResolve(info, chosen, 4, "hw")
	require.NoError(t, err)
	assert.True(t, need)

	// 不支持切换时返回 ErrSwitchUnsupported 而非静默命中
	info.SupportRateSwitch = false
	need, err = NeedsReResolve(info, chosen, 2, "tct")
	assert.ErrorIs(t, err, ErrSwitchUnsupported)
	assert.False(t, need)
}
