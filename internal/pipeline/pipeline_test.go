package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iabetor/lrcplay/internal/audio"
	"github.com/iabetor/lrcplay/internal/config"
	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/lyrics"
	"github.com/iabetor/lrcplay/internal/music"
	"github.com/iabetor/lrcplay/internal/playback"
)

const testLRC = "[ar:周杰伦]\n[00:00.00]\n[00:01.50]故事的小黄花\n[00:04.00]从出生那年就飘着\n"

type fakeLocator struct {
	res   music.SearchResult
	err   error
	calls int
}

func (l *fakeLocator) Search(ctx context.Context, query string) (music.SearchResult, error) {
	l.calls++
	return l.res, l.err
}

type fakeFetcher struct {
	name  string
	err   error
	calls int
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context, url, outputDir string) (music.Asset, error) {
	f.calls++
	if f.err != nil {
		return music.Asset{}, f.err
	}
	path := filepath.Join(outputDir, "晴天.mp3")
	if err := os.WriteFile(path, []byte("mp3"), 0644); err != nil {
		return music.Asset{}, err
	}
	return music.Asset{
		Path:     path,
		Source:   f.name,
		Title:    "周杰伦 - 晴天",
		Author:   "周杰伦 - Topic",
		Duration: 269 * time.Second,
	}, nil
}

type fakeLyrics struct {
	doc     string
	err     error
	queries []lyrics.Query
}

func (p *fakeLyrics) Get(ctx context.Context, q lyrics.Query) (string, error) {
	p.queries = append(p.queries, q)
	return p.doc, p.err
}

type fakePlayer struct {
	autoFinish bool
	duration   time.Duration
	stopped    bool
	loaded     string
	done       chan struct{}
	once       sync.Once
	closed     bool
}

func (p *fakePlayer) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	p.loaded = path
	return nil
}

func (p *fakePlayer) Play() error {
	if p.autoFinish {
		p.finish()
	}
	return nil
}

func (p *fakePlayer) Done() <-chan struct{} { return p.done }
func (p *fakePlayer) Err() error            { return nil }
func (p *fakePlayer) Close()                { p.closed = true }
func (p *fakePlayer) finish()               { p.once.Do(func() { close(p.done) }) }

func (p *fakePlayer) Duration() time.Duration { return p.duration }

func (p *fakePlayer) Stop() {
	p.stopped = true
	p.finish()
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Emit(text string) {
	s.mu.Lock()
	s.lines = append(s.lines, text)
	s.mu.Unlock()
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type testEnv struct {
	p       *Pipeline
	locator *fakeLocator
	fetcher *fakeFetcher
	lyrics  *fakeLyrics
	history *music.HistoryStore
	players []*fakePlayer
	states  []State
	mu      sync.Mutex
}

func newTestEnv(t *testing.T, autoFinish bool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Fetch.OutputDir = filepath.Join(dir, "MP3")
	if err := os.MkdirAll(cfg.Fetch.OutputDir, 0755); err != nil {
		t.Fatal(err)
	}

	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		locator: &fakeLocator{res: music.SearchResult{
			VideoID: "dQw4w9WgXcQ",
			URL:     music.WatchURL("dQw4w9WgXcQ"),
			Title:   "周杰伦 - 晴天",
		}},
		fetcher: &fakeFetcher{name: "youtube"},
		lyrics:  &fakeLyrics{doc: testLRC},
		history: music.NewHistoryStore(db),
	}

	env.p = NewWithDeps(cfg, Deps{
		Locator: env.locator,
		Fetcher: env.fetcher,
		Local:   music.LocalFetcher{},
		Lyrics:  env.lyrics,
		History: env.history,
		NewPlayer: func() (playback.Player, error) {
			fp := &fakePlayer{autoFinish: autoFinish, done: make(chan struct{})}
			env.mu.Lock()
			env.players = append(env.players, fp)
			env.mu.Unlock()
			return fp, nil
		},
		Sleep: noSleep,
	})
	env.p.State().SetOnChange(func(from, to State) {
		env.mu.Lock()
		env.states = append(env.states, to)
		env.mu.Unlock()
	})
	return env
}

func (e *testEnv) transitions() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]State(nil), e.states...)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPipeline_Play(t *testing.T) {
	env := newTestEnv(t, true)
	sink := &recordingSink{}

	if err := env.p.Play(context.Background(), "晴天 周杰伦", sink); err != nil {
		t.Fatalf("Play 失败: %v", err)
	}

	want := []string{"♪", "故事的小黄花", "从出生那年就飘着"}
	got := sink.Lines()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("歌词输出 got %q, want %q", got, want)
	}

	if len(env.lyrics.queries) != 1 {
		t.Fatalf("应查询一次歌词，实际 %d 次", len(env.lyrics.queries))
	}
	q := env.lyrics.queries[0]
	if q.Artist != "周杰伦" || q.Track != "晴天" || q.Duration != 269 {
		t.Errorf("歌词查询条件错误: %+v", q)
	}

	if len(env.players) != 1 || !env.players[0].closed || filepath.Base(env.players[0].loaded) != "晴天.mp3" {
		t.Errorf("播放器使用错误: %+v", env.players)
	}

	states := env.transitions()
	wantStates := []State{StateSearching, StateDownloading, StateFetchingLyrics, StatePlaying, StateIdle}
	if !equalStates(states, wantStates) {
		t.Errorf("状态变化 got %v, want %v", states, wantStates)
	}

	entries, err := env.history.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("应有 1 条播放记录，得到 %d 条", len(entries))
	}
	e := entries[0]
	if e.Status != music.StatusFinished || e.Query != "晴天 周杰伦" || e.VideoID != "dQw4w9WgXcQ" || e.LyricLines != 3 {
		t.Errorf("播放记录错误: %+v", e)
	}
}

func TestPipeline_TrackNotFound(t *testing.T) {
	env := newTestEnv(t, true)
	env.locator.err = music.ErrTrackNotFound

	err := env.p.Play(context.Background(), "不存在的歌", &recordingSink{})
	if !errors.Is(err, music.ErrTrackNotFound) {
		t.Fatalf("应返回 ErrTrackNotFound，得到 %v", err)
	}
	if env.fetcher.calls != 0 {
		t.Error("没有找到歌曲时不应下载")
	}
	if env.p.State().Current() != StateIdle {
		t.Errorf("出错后应回到 Idle，当前 %s", env.p.State().Current())
	}
}

func TestPipeline_FetchFailed(t *testing.T) {
	env := newTestEnv(t, true)
	env.fetcher.err = fmt.Errorf("%w: 网络错误", music.ErrFetchFailed)

	err := env.p.Play(context.Background(), "晴天", &recordingSink{})
	if !errors.Is(err, music.ErrFetchFailed) {
		t.Fatalf("应返回 ErrFetchFailed，得到 %v", err)
	}
	if len(env.lyrics.queries) != 0 || len(env.players) != 0 {
		t.Error("下载失败后不应继续获取歌词或播放")
	}
	entries, _ := env.history.List(context.Background(), 0)
	if len(entries) != 0 {
		t.Errorf("下载失败不应写入播放记录: %+v", entries)
	}
}

func TestPipeline_LyricsMissingStillPlays(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  error
	}{
		{"服务未找到", "", lyrics.ErrNotFound},
		{"服务出错", "", errors.New("HTTP 500")},
		{"歌词无法解析", "没有时间标签的歌词", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			env.lyrics.doc, env.lyrics.err = tt.doc, tt.err
			sink := &recordingSink{}

			if err := env.p.Play(context.Background(), "晴天", sink); err != nil {
				t.Fatalf("没有歌词也应正常播放: %v", err)
			}
			got := sink.Lines()
			if len(got) != 1 || got[0] != "♪ 未找到歌词" {
				t.Errorf("应只输出未找到歌词的提示: %q", got)
			}
			if len(env.players) != 1 {
				t.Errorf("应播放音频")
			}
		})
	}
}

func TestPipeline_CacheHitSkipsDownload(t *testing.T) {
	env := newTestEnv(t, true)
	cache, err := audio.NewAssetCache(env.p.cfg.Fetch.OutputDir, 100)
	if err != nil {
		t.Fatal(err)
	}
	env.p.deps.Cache = cache

	for i := 0; i < 2; i++ {
		if err := env.p.Play(context.Background(), "晴天", &recordingSink{}); err != nil {
			t.Fatalf("第 %d 次 Play 失败: %v", i+1, err)
		}
	}
	if env.fetcher.calls != 1 {
		t.Errorf("第二次应命中缓存，实际下载 %d 次", env.fetcher.calls)
	}

	entry, ok := cache.Lookup(audio.CacheKey("youtube", "dQw4w9WgXcQ"))
	if !ok {
		t.Fatal("下载后应登记到缓存")
	}
	if entry.Duration != 269 || entry.Author != "周杰伦 - Topic" {
		t.Errorf("缓存条目错误: %+v", entry)
	}
	// 缓存命中时时长来自索引，仍然参与歌词查询
	if q := env.lyrics.queries[1]; q.Duration != 269 {
		t.Errorf("缓存命中时应带上时长: %+v", q)
	}
}

func TestPipeline_PlayFile(t *testing.T) {
	env := newTestEnv(t, true)
	path := filepath.Join(t.TempDir(), "周杰伦 - 晴天.mp3")
	if err := os.WriteFile(path, []byte("不是真的 mp3"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := env.p.PlayFile(context.Background(), path, &recordingSink{}); err != nil {
		t.Fatalf("PlayFile 失败: %v", err)
	}
	if env.locator.calls != 0 || env.fetcher.calls != 0 {
		t.Error("本地文件不应搜索或下载")
	}
	q := env.lyrics.queries[0]
	if q.Artist != "周杰伦" || q.Track != "晴天" {
		t.Errorf("应从文件名得到歌词查询条件: %+v", q)
	}

	states := env.transitions()
	wantStates := []State{StateDownloading, StateFetchingLyrics, StatePlaying, StateIdle}
	if !equalStates(states, wantStates) {
		t.Errorf("状态变化 got %v, want %v", states, wantStates)
	}
}

func TestPipeline_StopDuringPlayback(t *testing.T) {
	env := newTestEnv(t, false)
	// 第一行立即输出，之后一直等到被取消
	env.p.deps.Sleep = func(ctx context.Context, d time.Duration) error {
		if d == 0 {
			return ctx.Err()
		}
		<-ctx.Done()
		return ctx.Err()
	}

	playing := make(chan struct{})
	var once sync.Once
	env.p.State().SetOnChange(func(from, to State) {
		if to == StatePlaying {
			once.Do(func() { close(playing) })
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.p.Play(context.Background(), "晴天", &recordingSink{})
	}()

	select {
	case <-playing:
	case <-time.After(2 * time.Second):
		t.Fatal("没有进入播放状态")
	}

	if err := env.p.Play(context.Background(), "七里香", &recordingSink{}); !errors.Is(err, ErrBusy) {
		t.Errorf("播放中再次 Play 应返回 ErrBusy，得到 %v", err)
	}

	env.p.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, playback.ErrStopped) {
			t.Errorf("应返回 ErrStopped，得到 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop 之后 Play 没有返回")
	}

	entries, _ := env.history.List(context.Background(), 0)
	if len(entries) != 1 || entries[0].Status != music.StatusStopped || entries[0].Error != "" {
		t.Errorf("播放记录应标记为 stopped: %+v", entries)
	}
	if !env.players[0].closed {
		t.Error("停止后播放器应被释放")
	}
	if env.p.State().Current() != StateIdle {
		t.Errorf("停止后应回到 Idle，当前 %s", env.p.State().Current())
	}
}

func TestPipeline_StopWhenIdle(t *testing.T) {
	env := newTestEnv(t, true)
	env.p.Stop()
	if err := env.p.Play(context.Background(), "晴天", &recordingSink{}); err != nil {
		t.Fatalf("空闲时 Stop 不应影响之后的播放: %v", err)
	}
}

func TestPipeline_UnknownDurationStillTimesOut(t *testing.T) {
	env := newTestEnv(t, false)
	env.p.cfg.Playback.AudioGraceSec = 0
	player := &fakePlayer{duration: 20 * time.Millisecond, done: make(chan struct{})}
	env.p.deps.NewPlayer = func() (playback.Player, error) { return player, nil }

	// 内容不是 MP3，本地文件无法得到时长
	path := filepath.Join(t.TempDir(), "晴天.mp3")
	if err := os.WriteFile(path, []byte("不是真的 mp3"), 0644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.p.PlayFile(context.Background(), path, &recordingSink{})
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, playback.ErrAudioTimeout) {
			t.Errorf("应返回 ErrAudioTimeout，得到 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("时长未知时播放也应有时限")
	}

	if !player.stopped || !player.closed {
		t.Error("超时后播放器应被停止并释放")
	}
	entries, _ := env.history.List(context.Background(), 0)
	if len(entries) != 1 || entries[0].Status != music.StatusFailed {
		t.Errorf("播放记录应标记为 failed: %+v", entries)
	}
}
