package playback

import "time"

// Player 是单次会话使用的音频播放器。
//
// 会话负责完整的生命周期：Load → Play → 等待 Done → Close。
// Play 不阻塞；播放结束、出错或 Stop 之后 Done 返回的 channel 被关闭，
// Err 返回导致结束的错误（正常结束为 nil）。Close 必须可以在任意阶段调用。
type Player interface {
	Load(path string) error
	Play() error
	Stop()
	Done() <-chan struct{}
	Err() error
	Close()
}

// DurationReporter 由能在 Load 之后给出音频时长的播放器实现。
type DurationReporter interface {
	Duration() time.Duration
}

// PlayerFactory 为每个会话创建新的播放器，播放器不在会话之间共享。
type PlayerFactory func() (Player, error)

// Sink 接收要显示的歌词文本。
type Sink interface {
	Emit(text string)
}

// SinkFunc 把普通函数适配为 Sink。
type SinkFunc func(text string)

// Emit 调用 f(text)。
func (f SinkFunc) Emit(text string) { f(text) }
