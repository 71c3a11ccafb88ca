package live

import "math"

// Quality 清晰度档位
type Quality string

const (
	QualityLowest  Quality = "lowest"
	QualityLow     Quality = "low"
	QualityMedium  Quality = "medium"
	QualityHigh    Quality = "high"
	QualityHighest Quality = "highest"
)

// qualityLadder 固定档位梯子，从最模糊到最清晰
var qualityLadder = []Quality{QualityLowest, QualityLow, QualityMedium, QualityHigh, QualityHighest}

func qualityIndex(q Quality) int {
	for i, v := range qualityLadder {
		if v == q {
			return i
		}
	}
	// 未知档位按最清晰处理
	return len(qualityLadder) - 1
}

// SelectionPolicy 流选择策略。优先级列表非空时按列表匹配，
// 为空时退化为按 Quality 档位选择。
type SelectionPolicy struct {
	Quality          Quality
	StreamPriorities []string
	SourcePriorities []string
}

// ResolvedStream 一次选择的结果。Source 在平台没有线路候选时为 nil。
type ResolvedStream struct {
	Stream *StreamUrlInfo
	Source *StreamUrlInfo
}

// Resolve 从平台返回的候选列表中按策略选出流与线路。
// streams 与 sources 均为平台原始顺序（最清晰在前）。
// 房间未开播（含轮播）返回 ErrNotLive，策略筛选后无候选返回 ErrNoStreamMatch。
func (p SelectionPolicy) Resolve(info *Info, streams, sources []*StreamUrlInfo) (*ResolvedStream, error) {
	if !info.IsLiving() {
		return nil, ErrNotLive
	}
	if len(streams) == 0 {
		return nil, ErrNoStreamMatch
	}

	stream := pickByPriority(streams, p.StreamPriorities, func(s *StreamUrlInfo) string { return s.Name })
	if stream == nil {
		if len(p.StreamPriorities) > 0 {
			return nil, ErrNoStreamMatch
		}
		stream = pickByQuality(streams, p.Quality)
	}
	if stream == nil {
		return nil, ErrNoStreamMatch
	}

	var source *StreamUrlInfo
	if len(sources) > 0 {
		source = pickByPriority(sources, p.SourcePriorities, func(s *StreamUrlInfo) string { return s.CDN })
		if source == nil {
			if len(p.SourcePriorities) > 0 {
				return nil, ErrNoStreamMatch
			}
			// 无线路偏好时跟随平台默认排序
			source = sources[0]
		}
	}

	return &ResolvedStream{Stream: stream, Source: source}, nil
}

// pickByPriority 按优先级列表选择候选。
// 排名规则：列表倒序后的下标即权重，越大越优先，等价于"列表靠前者胜出"；
// 不在列表中的候选被丢弃。列表为空时返回 nil 交由上层回退。
func pickByPriority(cands []*StreamUrlInfo, priorities []string, key func(*StreamUrlInfo) string) *StreamUrlInfo {
	if len(priorities) == 0 {
		return nil
	}
	rank := make(map[string]int, len(priorities))
	for i, name := range priorities {
		rank[name] = len(priorities) - 1 - i
	}
	var best *StreamUrlInfo
	bestRank := -1
	for _, c := range cands {
		r, ok := rank[key(c)]
		if !ok {
			continue
		}
		// 严格大于：同名候选保留平台排序靠前者
		if r > bestRank {
			best = c
			bestRank = r
		}
	}
	return best
}

// pickByQuality 按档位选择候选。
// 候选倒序为最模糊在前，再把候选均匀映射到五档梯子上，
// 没有精确对应候选的档位落到最近的可用候选。
func pickByQuality(cands []*StreamUrlInfo, q Quality) *StreamUrlInfo {
	n := len(cands)
	if n == 0 {
		return nil
	}
	if q == "" {
		q = QualityHighest
	}
	// 倒序，最模糊在前
	rev := make([]*StreamUrlInfo, n)
	for i, c := range cands {
		rev[n-1-i] = c
	}
	ladderIdx := qualityIndex(q)
	idx := int(math.Round(float64(n-1) / float64(len(qualityLadder)-1) * float64(ladderIdx)))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return rev[idx]
}

// NeedsReResolve 判断本次选择与当前录制中的流是否不同。
// 不同且平台支持在线切换时，调用方应携带选中的 rate/cdn 重新拉取一次候选；
// 不支持切换时返回 ErrSwitchUnsupported，由状态机决定是否重启录制。
func NeedsReResolve(info *Info, chosen *ResolvedStream, currentRate int, currentCDN string) (bool, error) {
	if chosen == nil || chosen.Stream == nil {
		return false, nil
	}
	changed := chosen.Stream.Rate != currentRate
	if !changed && chosen.Source != nil && chosen.Source.CDN != currentCDN {
		changed = true
	}
	if !changed {
		return false, nil
	}
	if info != nil && !info.SupportRateSwitch {
		return false, ErrSwitchUnsupported
	}
	return true, nil
}
