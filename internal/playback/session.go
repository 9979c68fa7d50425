package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iabetor/lrcplay/internal/logger"
	"github.com/iabetor/lrcplay/internal/lyrics"
)

var (
	// ErrAudioTimeout 播放器在限定时间内没有发出结束信号。
	ErrAudioTimeout = errors.New("等待音频播放结束超时")
	// ErrStopped 会话被 Stop 主动结束。
	ErrStopped = errors.New("播放已停止")
)

// Options 会话选项。
type Options struct {
	// Offset 歌词整体偏移，正数表示歌词延后显示。
	Offset time.Duration
	// AudioTimeout 从开始播放到播放器结束的最长等待时间。
	// 为 0 时使用播放器报告的时长加 AudioGrace，仍然未知时使用 MaxAudio。
	AudioTimeout time.Duration
	AudioGrace   time.Duration
	// MaxAudio 无法得知时长时的等待上限，0 表示不限制。
	MaxAudio  time.Duration
	NoteGlyph string
	// Sleep 为 nil 时使用真实计时。
	Sleep SleepFunc
}

// Session 是一次歌词与音频的同步播放。
//
// Run 同时启动两个任务：歌词输出和音频播放，两者在播放器开始播放的同一时刻起计时，
// Run 在两者都结束后返回。任一任务失败都会取消另一个；
// 无论以何种方式结束，播放器都会被停止并释放。
type Session struct {
	ID string

	track     *lyrics.Track
	audioPath string
	newPlayer PlayerFactory
	sink      Sink
	opts      Options
	log       *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewSession 创建会话。track 可以为 nil 或空，此时只播放音频。
func NewSession(track *lyrics.Track, audioPath string, newPlayer PlayerFactory, sink Sink, opts Options) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		track:     track,
		audioPath: audioPath,
		newPlayer: newPlayer,
		sink:      sink,
		opts:      opts,
		log:       logger.With("session", id[:8]),
	}
}

// Run 执行会话并阻塞到结束。每个 Session 只能 Run 一次。
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("会话 %s 已经运行过", s.ID)
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	player, err := s.newPlayer()
	if err != nil {
		return fmt.Errorf("创建播放器失败: %w", err)
	}
	defer func() {
		player.Stop()
		player.Close()
		s.log.Debug("[playback] 播放器已释放")
	}()

	s.log.Infof("[playback] 开始会话: %s, 歌词 %d 行", s.audioPath, s.track.Len())

	g, gctx := errgroup.WithContext(ctx)
	start := make(chan struct{})

	g.Go(func() error {
		return s.runAudio(gctx, player, start)
	})

	g.Go(func() error {
		select {
		case <-start:
		case <-gctx.Done():
			return gctx.Err()
		}
		err := Emit(gctx, s.track, s.sink, EmitOptions{
			Offset:    s.opts.Offset,
			NoteGlyph: s.opts.NoteGlyph,
			Sleep:     s.opts.Sleep,
		})
		if err == nil {
			s.log.Debug("[playback] 歌词输出完成")
		}
		return err
	})

	err = g.Wait()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	switch {
	case err == nil:
		s.log.Info("[playback] 会话结束")
		return nil
	case stopped && errors.Is(err, context.Canceled):
		s.log.Info("[playback] 会话被停止")
		return ErrStopped
	default:
		s.log.Warnf("[playback] 会话异常结束: %v", err)
		return err
	}
}

// runAudio 加载并播放音频，开始播放后关闭 start，然后等待播放器的结束信号。
func (s *Session) runAudio(ctx context.Context, player Player, start chan<- struct{}) error {
	// 会话可能在 Load 前后被停止，此时不再启动设备
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := player.Load(s.audioPath); err != nil {
		return fmt.Errorf("加载音频失败: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := player.Play(); err != nil {
		return fmt.Errorf("开始播放失败: %w", err)
	}
	close(start)

	var timeout <-chan time.Time
	if limit := s.audioLimit(player); limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-player.Done():
		if err := player.Err(); err != nil {
			return fmt.Errorf("音频播放失败: %w", err)
		}
		s.log.Debug("[playback] 音频播放完成")
		return nil
	case <-ctx.Done():
		player.Stop()
		return ctx.Err()
	case <-timeout:
		player.Stop()
		return ErrAudioTimeout
	}
}

// audioLimit 返回等待播放器结束的时限，必须在 Load 之后调用。
func (s *Session) audioLimit(player Player) time.Duration {
	if s.opts.AudioTimeout > 0 {
		return s.opts.AudioTimeout
	}
	if r, ok := player.(DurationReporter); ok {
		if d := r.Duration(); d > 0 {
			s.log.Debugf("[playback] 使用文件时长作为时限: %v", d)
			return d + s.opts.AudioGrace
		}
	}
	return s.opts.MaxAudio
}

// Stop 结束会话，可在任意 goroutine 调用，也可以在 Run 之前调用。
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}
