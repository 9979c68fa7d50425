package playback

import (
	"context"
	"strings"
	"time"

	"github.com/iabetor/lrcplay/internal/lyrics"
)

// DefaultNoteGlyph 空白歌词行（间奏）显示的符号。
const DefaultNoteGlyph = "♪"

// SleepFunc 等待 d 或直到 ctx 取消，测试时可替换为记录等待时长的实现。
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep 是基于 timer 的 SleepFunc。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EmitOptions 歌词输出选项。
type EmitOptions struct {
	// Offset 整体偏移，正数表示歌词延后显示。
	Offset    time.Duration
	NoteGlyph string
	Sleep     SleepFunc
}

// Emit 按时间顺序把歌词逐行发送到 sink，每行之前等待与上一行的时间差。
// 时间差不会为负；空歌词直接返回，不做任何等待。
func Emit(ctx context.Context, track *lyrics.Track, sink Sink, opts EmitOptions) error {
	if track.Empty() {
		return nil
	}

	glyph := opts.NoteGlyph
	if glyph == "" {
		glyph = DefaultNoteGlyph
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	shift := opts.Offset.Seconds()

	prev := 0.0
	for _, line := range track.Lines() {
		target := line.Offset + shift
		wait := target - prev
		if wait < 0 {
			wait = 0
		}
		if err := sleep(ctx, secondsToDuration(wait)); err != nil {
			return err
		}

		text := line.Text
		if strings.TrimSpace(text) == "" {
			text = glyph
		}
		sink.Emit(text)

		if target > prev {
			prev = target
		}
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
