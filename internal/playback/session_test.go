package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iabetor/lrcplay/internal/lyrics"
)

// fakePlayer 模拟播放器：Play 之后经过 length 时间自动结束。
// length < 0 表示永不自动结束。
type fakePlayer struct {
	mu       sync.Mutex
	length   time.Duration
	loadErr  error
	playErr  error
	finalErr error
	onLoad   func()

	loaded   string
	played   bool
	stopped  bool
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newFakePlayer(length time.Duration) *fakePlayer {
	return &fakePlayer{length: length, done: make(chan struct{})}
}

func (p *fakePlayer) Load(path string) error {
	if p.onLoad != nil {
		p.onLoad()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return p.loadErr
	}
	p.loaded = path
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.played = true
	if p.length >= 0 {
		time.AfterFunc(p.length, func() { p.finish(p.finalErr) })
	}
	return nil
}

func (p *fakePlayer) finish(err error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.finish(nil)
}

func (p *fakePlayer) Done() <-chan struct{} { return p.done }

func (p *fakePlayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePlayer) state() (played, stopped, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played, p.stopped, p.closed
}

// timedPlayer 在 Load 之后报告固定的时长。
type timedPlayer struct {
	*fakePlayer
	duration time.Duration
}

func (p *timedPlayer) Duration() time.Duration { return p.duration }

func factoryFor(p *fakePlayer) PlayerFactory {
	return func() (Player, error) { return p, nil }
}

func TestSession_EmitsAndWaitsForAudio(t *testing.T) {
	player := newFakePlayer(30 * time.Millisecond)
	sink := &recordingSink{}
	rec := &recordingSleep{}

	track := lyrics.Parse("[00:00.00]a\n[00:01.50]b\n[00:04.00]c")
	s := NewSession(track, "/music/song.mp3", factoryFor(player), sink, Options{Sleep: rec.Sleep})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	if got := sink.Lines(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("歌词输出错误: %v", got)
	}
	want := []time.Duration{0, 1500 * time.Millisecond, 2500 * time.Millisecond}
	got := rec.Sleeps()
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("等待时长: got %v, want %v", got, want)
		}
	}
	if player.loaded != "/music/song.mp3" {
		t.Errorf("加载路径错误: %s", player.loaded)
	}
	played, _, closed := player.state()
	if !played || !closed {
		t.Errorf("播放器应被播放并释放: played=%v closed=%v", played, closed)
	}
}

func TestSession_EmptyTrackStillWaitsForAudio(t *testing.T) {
	const length = 80 * time.Millisecond
	player := newFakePlayer(length)
	rec := &recordingSleep{}

	s := NewSession(lyrics.Parse(""), "song.mp3", factoryFor(player), &recordingSink{}, Options{Sleep: rec.Sleep})

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed < length {
		t.Errorf("应等待音频结束: 只用了 %v", elapsed)
	}
	if len(rec.Sleeps()) != 0 {
		t.Errorf("空歌词不应等待: %v", rec.Sleeps())
	}
}

func TestSession_LoadFailureDoesNotHang(t *testing.T) {
	player := newFakePlayer(-1)
	player.loadErr = errors.New("文件不存在")
	sink := &recordingSink{}

	// 真实计时，如果歌词任务没有被取消，测试会卡住 1 分钟
	s := NewSession(lyrics.Parse("[01:00.00]永远等不到"), "missing.mp3", factoryFor(player), sink, Options{})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("加载失败应返回错误")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("加载失败后 Run 没有返回")
	}
	if len(sink.Lines()) != 0 {
		t.Errorf("加载失败不应输出歌词: %v", sink.Lines())
	}
	if _, _, closed := player.state(); !closed {
		t.Error("失败时也应释放播放器")
	}
}

func TestSession_AudioFailureCancelsEmission(t *testing.T) {
	player := newFakePlayer(20 * time.Millisecond)
	player.finalErr = errors.New("解码失败")

	s := NewSession(lyrics.Parse("[00:00.00]a\n[01:00.00]b"), "song.mp3", factoryFor(player), &recordingSink{}, Options{})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !errors.Is(err, player.finalErr) {
			t.Fatalf("应返回播放器错误，得到 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("音频失败后歌词任务没有被取消")
	}
}

func TestSession_AudioTimeout(t *testing.T) {
	player := newFakePlayer(-1)
	s := NewSession(nil, "song.mp3", factoryFor(player), &recordingSink{}, Options{AudioTimeout: 30 * time.Millisecond})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrAudioTimeout) {
		t.Fatalf("期望 ErrAudioTimeout，得到 %v", err)
	}
	if _, stopped, closed := player.state(); !stopped || !closed {
		t.Errorf("超时后播放器应被停止并释放: stopped=%v closed=%v", stopped, closed)
	}
}

func TestSession_Stop(t *testing.T) {
	player := newFakePlayer(-1)
	s := NewSession(lyrics.Parse("[00:00.00]a\n[10:00.00]b"), "song.mp3", factoryFor(player), &recordingSink{}, Options{})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("期望 ErrStopped，得到 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop 后 Run 没有返回")
	}
	if _, stopped, closed := player.state(); !stopped || !closed {
		t.Errorf("Stop 后播放器应被停止并释放: stopped=%v closed=%v", stopped, closed)
	}
}

func TestSession_ParentContextCancelled(t *testing.T) {
	player := newFakePlayer(-1)
	s := NewSession(nil, "song.mp3", factoryFor(player), &recordingSink{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("期望 DeadlineExceeded，得到 %v", err)
	}
	if _, _, closed := player.state(); !closed {
		t.Error("播放器应被释放")
	}
}

func TestSession_RunTwice(t *testing.T) {
	player := newFakePlayer(0)
	s := NewSession(nil, "song.mp3", factoryFor(player), &recordingSink{}, Options{})
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("重复 Run 应返回错误")
	}
}

func TestSession_FactoryError(t *testing.T) {
	s := NewSession(nil, "song.mp3", func() (Player, error) {
		return nil, errors.New("没有音频设备")
	}, &recordingSink{}, Options{})
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("创建播放器失败应返回错误")
	}
}

func TestSession_StopBeforeRun(t *testing.T) {
	player := newFakePlayer(-1)
	s := NewSession(nil, "song.mp3", factoryFor(player), &recordingSink{}, Options{})
	s.Stop()
	if err := s.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("期望 ErrStopped，得到 %v", err)
	}
	if played, _, _ := player.state(); played {
		t.Error("已停止的会话不应开始播放")
	}
}

func TestSession_StopBeforeAudioStarts(t *testing.T) {
	tests := []struct {
		name       string
		stopInLoad bool
	}{
		{"创建播放器时停止", false},
		{"加载音频时停止", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := newFakePlayer(-1)
			var s *Session
			factory := func() (Player, error) {
				if !tt.stopInLoad {
					s.Stop()
				}
				return player, nil
			}
			if tt.stopInLoad {
				player.onLoad = func() { s.Stop() }
			}
			s = NewSession(lyrics.Parse("[00:00.00]a"), "song.mp3", factory, &recordingSink{}, Options{})

			done := make(chan error, 1)
			go func() { done <- s.Run(context.Background()) }()

			select {
			case err := <-done:
				if !errors.Is(err, ErrStopped) {
					t.Errorf("应返回 ErrStopped: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("停止后 Run 没有返回")
			}

			played, _, closed := player.state()
			if played {
				t.Error("已停止的会话不应启动播放")
			}
			if !closed {
				t.Error("播放器应被释放")
			}
		})
	}
}

func TestSession_AudioLimitFallback(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		opts     Options
	}{
		{"使用播放器报告的时长", 20 * time.Millisecond, Options{AudioGrace: 10 * time.Millisecond, MaxAudio: time.Hour}},
		{"时长未知时使用上限", 0, Options{MaxAudio: 30 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := &timedPlayer{fakePlayer: newFakePlayer(-1), duration: tt.duration}
			factory := func() (Player, error) { return player, nil }
			s := NewSession(nil, "song.mp3", factory, &recordingSink{}, tt.opts)

			done := make(chan error, 1)
			go func() { done <- s.Run(context.Background()) }()

			select {
			case err := <-done:
				if !errors.Is(err, ErrAudioTimeout) {
					t.Errorf("应返回 ErrAudioTimeout: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("播放器不结束时 Run 应在时限后返回")
			}
			if _, stopped, _ := player.state(); !stopped {
				t.Error("超时后应停止播放器")
			}
		})
	}
}
