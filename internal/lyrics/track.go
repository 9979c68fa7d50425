package lyrics

import "sort"

// Line 表示一行带时间戳的歌词。Text 为空表示间奏或停顿。
type Line struct {
	Offset float64 // 距离歌曲开始的秒数
	Text   string
}

// Track 是解析后的歌词，按时间偏移索引。
// 解析完成后不再修改，可以在多个 goroutine 间只读共享。
type Track struct {
	lines      map[float64]string
	timestamps []float64 // 升序，解析结束时计算
}

// NewTrack 从 offset → text 映射构建 Track，映射会被复制。
func NewTrack(lines map[float64]string) *Track {
	t := &Track{lines: make(map[float64]string, len(lines))}
	for off, text := range lines {
		t.lines[off] = text
	}
	t.seal()
	return t
}

// seal 计算升序时间戳列表。
func (t *Track) seal() {
	t.timestamps = make([]float64, 0, len(t.lines))
	for off := range t.lines {
		t.timestamps = append(t.timestamps, off)
	}
	sort.Float64s(t.timestamps)
}

// Len 返回歌词行数。
func (t *Track) Len() int {
	if t == nil {
		return 0
	}
	return len(t.lines)
}

// Empty 表示没有任何可用歌词。
func (t *Track) Empty() bool { return t.Len() == 0 }

// Timestamps 返回升序的时间偏移副本。
func (t *Track) Timestamps() []float64 {
	if t == nil {
		return nil
	}
	out := make([]float64, len(t.timestamps))
	copy(out, t.timestamps)
	return out
}

// Text 返回指定时间偏移的歌词。
func (t *Track) Text(offset float64) (string, bool) {
	if t == nil {
		return "", false
	}
	text, ok := t.lines[offset]
	return text, ok
}

// Lines 按时间升序返回全部歌词行。
func (t *Track) Lines() []Line {
	if t == nil {
		return nil
	}
	out := make([]Line, 0, len(t.timestamps))
	for _, off := range t.timestamps {
		out = append(out, Line{Offset: off, Text: t.lines[off]})
	}
	return out
}

// Duration 返回最后一行歌词的时间偏移（秒），空歌词返回 0。
func (t *Track) Duration() float64 {
	if t.Len() == 0 {
		return 0
	}
	return t.timestamps[len(t.timestamps)-1]
}
