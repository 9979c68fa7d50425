package pipeline

import (
	"sync"

	"github.com/iabetor/lrcplay/internal/logger"
)

// State 表示流水线当前所处的阶段。
type State int

const (
	// StateIdle 空闲，等待输入。
	StateIdle State = iota
	// StateSearching 正在搜索歌曲。
	StateSearching
	// StateDownloading 正在下载或读取音频。
	StateDownloading
	// StateFetchingLyrics 正在获取歌词。
	StateFetchingLyrics
	// StatePlaying 正在同步播放。
	StatePlaying
)

var stateNames = [...]string{
	"Idle",
	"Searching",
	"Downloading",
	"FetchingLyrics",
	"Playing",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// StateMachine 管理线程安全的状态转换。
type StateMachine struct {
	mu       sync.RWMutex
	current  State
	onChange func(from, to State)
}

// NewStateMachine 创建一个初始状态为 Idle 的状态机。
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
	}
}

// SetOnChange 注册状态变化时的回调函数。
func (sm *StateMachine) SetOnChange(fn func(from, to State)) {
	sm.mu.Lock()
	sm.onChange = fn
	sm.mu.Unlock()
}

// Current 返回当前状态。
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Transition 尝试切换状态。只有合法的转换才会生效：
//
//	Idle           → Searching       （输入歌名）
//	Idle           → Downloading     （本地文件，跳过搜索）
//	Searching      → Downloading     （找到视频）
//	Downloading    → FetchingLyrics  （音频就绪）
//	FetchingLyrics → Playing         （开始会话）
//	Playing        → Idle            （播放结束或被停止）
//
// 任何状态都可以转换到 Idle（用于出错或中断）。
func (sm *StateMachine) Transition(to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransition(sm.current, to) {
		logger.Warnf("[state] 非法转换 %s → %s", sm.current, to)
		return false
	}

	from := sm.current
	sm.current = to
	logger.Debugf("[state] %s → %s", from, to)

	if sm.onChange != nil {
		sm.onChange(from, to)
	}
	return true
}

// ForceIdle 无条件重置状态为 Idle。
func (sm *StateMachine) ForceIdle() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	sm.current = StateIdle
	if from != StateIdle {
		logger.Debugf("[state] 强制重置 %s → Idle", from)
		if sm.onChange != nil {
			sm.onChange(from, StateIdle)
		}
	}
}

func validTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateSearching || to == StateDownloading
	case StateSearching:
		return to == StateDownloading
	case StateDownloading:
		return to == StateFetchingLyrics
	case StateFetchingLyrics:
		return to == StatePlaying
	}
	return false
}
