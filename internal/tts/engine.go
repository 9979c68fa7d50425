package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iabetor/lrcplay/internal/logger"
)

// Engine 定义语音合成后端接口。
type Engine interface {
	// Synthesize 将文本转换为音频。
	// 返回 float32 音频样本、采样率（Hz）和错误。
	Synthesize(ctx context.Context, text string) ([]float32, int, error)
}

// SamplePlayer 播放内存中的音频样本，阻塞到播放结束或 ctx 取消。
type SamplePlayer interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
}

// Announcer 在歌曲开始前播报 "正在播放 …"。
type Announcer struct {
	engine  Engine
	player  SamplePlayer
	timeout time.Duration
}

// NewAnnouncer 创建播报器。
func NewAnnouncer(engine Engine, player SamplePlayer) *Announcer {
	return &Announcer{
		engine:  engine,
		player:  player,
		timeout: 15 * time.Second,
	}
}

// Announce 合成并播放播报语音。合成和播放共用一个超时，避免网络卡住导致歌曲迟迟不开始。
func (a *Announcer) Announce(ctx context.Context, title, author string) error {
	text := AnnouncementText(title, author)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	samples, rate, err := a.engine.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("[tts] 合成播报失败: %w", err)
	}
	logger.Debugf("[tts] 播报: %s (%d 样本, %d Hz)", text, len(samples), rate)

	if err := a.player.Play(ctx, samples, rate); err != nil {
		return fmt.Errorf("[tts] 播放播报失败: %w", err)
	}
	return nil
}

// AnnouncementText 生成播报文本，标题为空时返回空字符串。
func AnnouncementText(title, author string) string {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	switch {
	case title == "":
		return ""
	case author == "" || strings.Contains(title, author):
		return "正在播放 " + title
	default:
		return "正在播放 " + author + " 的 " + title
	}
}
