package music

import (
	"fmt"
	"strings"
	"sync"

	"github.com/iabetor/lrcplay/internal/logger"
)

// PlayMode 播放模式。
type PlayMode int

const (
	PlayModeSequence PlayMode = iota // 顺序播放（到末尾停止）
	PlayModeLoop                     // 列表循环
	PlayModeSingle                   // 单曲循环
)

func (m PlayMode) String() string {
	switch m {
	case PlayModeSequence:
		return "顺序播放"
	case PlayModeLoop:
		return "列表循环"
	case PlayModeSingle:
		return "单曲循环"
	default:
		return "未知"
	}
}

// ParsePlayMode 解析命令行中的播放模式: sequence、loop、single。
func ParsePlayMode(s string) (PlayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequence", "seq":
		return PlayModeSequence, nil
	case "loop":
		return PlayModeLoop, nil
	case "single", "one":
		return PlayModeSingle, nil
	default:
		return PlayModeSequence, fmt.Errorf("不支持的播放模式: %s", s)
	}
}

// SplitQueries 把 "晴天 周杰伦; 七里香" 这样的输入拆成多首歌，支持中英文分号。
func SplitQueries(input string) []string {
	input = strings.ReplaceAll(input, "；", ";")
	var queries []string
	for _, part := range strings.Split(input, ";") {
		if q := strings.TrimSpace(part); q != "" {
			queries = append(queries, q)
		}
	}
	return queries
}

// Queue 待播放的歌曲队列，元素是搜索关键词或本地文件路径。
type Queue struct {
	mu      sync.RWMutex
	items   []string
	current int // -1 表示未开始
	mode    PlayMode
}

// NewQueue 创建队列。
func NewQueue(mode PlayMode, items ...string) *Queue {
	return &Queue{
		items:   append([]string(nil), items...),
		current: -1,
		mode:    mode,
	}
}

// SetMode 设置播放模式。
func (q *Queue) SetMode(mode PlayMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mode = mode
	logger.Infof("[queue] 播放模式切换为: %s", mode)
}

// Mode 返回当前播放模式。
func (q *Queue) Mode() PlayMode {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.mode
}

// Replace 替换整个队列并重置索引。
func (q *Queue) Replace(items []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]string(nil), items...)
	q.current = -1
}

// Len 返回队列长度。
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Next 前进到下一首并返回它，没有下一首时 ok 为 false。
func (q *Queue) Next() (item string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.nextIndex()
	if idx < 0 {
		return "", false
	}
	q.current = idx
	logger.Debugf("[queue] 第 %d/%d 首: %s", idx+1, len(q.items), q.items[idx])
	return q.items[idx], true
}

// Peek 预览下一首，不改变当前位置。
func (q *Queue) Peek() (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	idx := q.nextIndex()
	if idx < 0 {
		return "", false
	}
	return q.items[idx], true
}

// nextIndex 根据播放模式计算下一个索引，调用方需持有锁。
func (q *Queue) nextIndex() int {
	if len(q.items) == 0 {
		return -1
	}

	switch q.mode {
	case PlayModeSingle:
		if q.current < 0 {
			return 0
		}
		return q.current
	case PlayModeLoop:
		return (q.current + 1) % len(q.items)
	default:
		next := q.current + 1
		if next >= len(q.items) {
			return -1
		}
		return next
	}
}

// Info 返回队列的摘要信息。
func (q *Queue) Info() string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return "队列为空"
	}
	cur := "未开始"
	if q.current >= 0 && q.current < len(q.items) {
		cur = q.items[q.current]
	}
	return fmt.Sprintf("队列: %d 首, 当前: %s (%d/%d), 模式: %s",
		len(q.items), cur, q.current+1, len(q.items), q.mode)
}
