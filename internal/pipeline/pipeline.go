package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/iabetor/lrcplay/internal/audio"
	"github.com/iabetor/lrcplay/internal/config"
	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/logger"
	"github.com/iabetor/lrcplay/internal/lyrics"
	"github.com/iabetor/lrcplay/internal/music"
	"github.com/iabetor/lrcplay/internal/playback"
	"github.com/iabetor/lrcplay/internal/tts"
)

// ErrBusy 上一首歌还没有结束。
var ErrBusy = errors.New("正在播放，请先停止")

// Deps 是流水线依赖的外部组件。Cache、History、Announcer 可以为 nil。
type Deps struct {
	Locator   music.Locator
	Fetcher   music.Fetcher
	Local     music.Fetcher
	Lyrics    lyrics.Provider
	Cache     *audio.AssetCache
	History   *music.HistoryStore
	Announcer *tts.Announcer
	NewPlayer playback.PlayerFactory
	// Sleep 为 nil 时使用真实计时。
	Sleep playback.SleepFunc
}

// Pipeline 串联搜索、下载、歌词和同步播放。一次只播放一首歌。
type Pipeline struct {
	cfg   *config.Config
	deps  Deps
	state *StateMachine

	mu      sync.Mutex
	busy    bool
	cancel  context.CancelFunc
	session *playback.Session

	closers []func()
}

var _ playback.DurationReporter = (*audio.FilePlayer)(nil)

// New 根据配置创建完整的 Pipeline。
func New(cfg *config.Config) (*Pipeline, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	var fetcher music.Fetcher
	switch cfg.Fetch.Backend {
	case "ytdlp":
		fetcher = music.NewYtdlpFetcher(cfg.Fetch.YtdlpPath, cfg.Fetch.FFmpegPath)
	default:
		fetcher = music.NewYouTubeFetcher(cfg.Fetch.FFmpegPath, time.Duration(cfg.Fetch.TimeoutSec)*time.Second)
	}

	cache, err := audio.NewAssetCache(cfg.Fetch.OutputDir, cfg.Cache.MaxSizeMB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化音频缓存失败: %w", err)
	}

	lrclib := lyrics.NewLrclibClient(cfg.Lyrics.APIURL,
		lyrics.WithSearchFallback(cfg.Lyrics.SearchFallback),
		lyrics.WithUserAgent(cfg.Lyrics.UserAgent),
		lyrics.WithTimeout(time.Duration(cfg.Lyrics.TimeoutSec)*time.Second),
	)

	channels := cfg.Audio.Channels
	deps := Deps{
		Locator: music.NewYouTubeLocator(cfg.Search.Suffix),
		Fetcher: fetcher,
		Local:   music.LocalFetcher{},
		Lyrics:  lyrics.NewCachedProvider(db, lrclib),
		Cache:   cache,
		History: music.NewHistoryStore(db),
		NewPlayer: func() (playback.Player, error) {
			fp, err := audio.NewFilePlayer(channels)
			if err != nil {
				return nil, err
			}
			return fp, nil
		},
	}

	p := NewWithDeps(cfg, deps)
	p.closers = append(p.closers, func() { db.Close() })

	// 播报失败不影响播放
	if cfg.Announce.Enabled {
		pcm, err := audio.NewPlayer(1)
		if err != nil {
			logger.Warnf("[pipeline] 初始化播报播放器失败，已关闭播报: %v", err)
		} else {
			p.deps.Announcer = tts.NewAnnouncer(tts.NewEdgeEngine(cfg.Announce.Voice), pcm)
			p.closers = append(p.closers, pcm.Close)
		}
	}

	logger.Infof("[pipeline] 初始化完成: 下载后端=%s, 歌词服务=%s", fetcher.Name(), cfg.Lyrics.APIURL)
	return p, nil
}

// NewWithDeps 使用给定的组件创建 Pipeline，主要用于测试。
func NewWithDeps(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		deps:  deps,
		state: NewStateMachine(),
	}
}

// State 返回流水线的状态机，前端可以通过 SetOnChange 显示进度。
func (p *Pipeline) State() *StateMachine {
	return p.state
}

// Play 搜索 query 对应的歌曲并同步播放，阻塞到播放结束。
func (p *Pipeline) Play(ctx context.Context, query string, sink playback.Sink) error {
	ctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end()

	p.state.Transition(StateSearching)
	logger.Infof("[pipeline] 搜索: %s", query)
	res, err := p.deps.Locator.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("搜索失败: %w", err)
	}
	logger.Infof("[pipeline] 找到: %s (%s)", res.Title, res.URL)

	p.state.Transition(StateDownloading)
	asset, cacheKey, err := p.obtain(ctx, res)
	if err != nil {
		return err
	}

	return p.playAsset(ctx, query, asset, cacheKey, sink)
}

// PlayFile 播放本地 MP3 文件，跳过搜索和下载。
func (p *Pipeline) PlayFile(ctx context.Context, path string, sink playback.Sink) error {
	if p.deps.Local == nil {
		return fmt.Errorf("未配置本地文件读取")
	}
	ctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end()

	p.state.Transition(StateDownloading)
	asset, err := p.deps.Local.Fetch(ctx, path, "")
	if err != nil {
		return err
	}
	return p.playAsset(ctx, path, asset, "", sink)
}

// Stop 结束当前的搜索、下载或播放，没有在播放时什么也不做。
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	// 先停会话再取消 ctx，会话才能把结果报告为 ErrStopped
	if p.session != nil {
		p.session.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Close 停止播放并释放数据库和播报播放器。
func (p *Pipeline) Close() {
	p.Stop()
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

func (p *Pipeline) begin(ctx context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	p.busy = true
	p.cancel = cancel
	return ctx, nil
}

func (p *Pipeline) end() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.busy = false
	p.cancel = nil
	p.session = nil
	p.mu.Unlock()
	p.state.ForceIdle()
}

// obtain 优先使用缓存中的音频，未命中时下载并登记到缓存。
func (p *Pipeline) obtain(ctx context.Context, res music.SearchResult) (music.Asset, string, error) {
	key := ""
	if res.VideoID != "" {
		key = audio.CacheKey(p.deps.Fetcher.Name(), res.VideoID)
	}

	if p.deps.Cache != nil && key != "" {
		if entry, ok := p.deps.Cache.Lookup(key); ok {
			logger.Infof("[pipeline] 使用缓存: %s", entry.Path)
			return music.Asset{
				Path:     entry.Path,
				VideoID:  entry.VideoID,
				Source:   entry.Source,
				Title:    entry.Title,
				Author:   entry.Author,
				Duration: time.Duration(entry.Duration) * time.Second,
			}, key, nil
		}
	}

	fetchCtx := ctx
	if p.cfg.Fetch.TimeoutSec > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.Fetch.TimeoutSec)*time.Second)
		defer cancel()
	}

	asset, err := p.deps.Fetcher.Fetch(fetchCtx, res.URL, p.cfg.Fetch.OutputDir)
	if err != nil {
		return music.Asset{}, "", err
	}
	if asset.VideoID == "" {
		asset.VideoID = res.VideoID
	}
	if asset.Title == "" {
		asset.Title = res.Title
	}
	logger.Infof("[pipeline] 音频就绪: %s (%v)", asset.Path, asset.Duration)

	if p.deps.Cache != nil && key != "" {
		err := p.deps.Cache.Store(audio.CacheEntry{
			Key:      key,
			VideoID:  asset.VideoID,
			Title:    asset.Title,
			Author:   asset.Author,
			Source:   asset.Source,
			Duration: int(asset.Duration / time.Second),
			Path:     asset.Path,
		})
		if err != nil {
			logger.Warnf("[pipeline] 写入缓存失败: %v", err)
		}
	}
	return asset, key, nil
}

// playAsset 获取歌词并运行同步播放会话。找不到歌词时只播放音频。
func (p *Pipeline) playAsset(ctx context.Context, query string, asset music.Asset, cacheKey string, sink playback.Sink) error {
	p.state.Transition(StateFetchingLyrics)
	track := p.fetchLyrics(ctx, asset)
	if err := ctx.Err(); err != nil {
		return err
	}
	if track.Empty() {
		sink.Emit(p.cfg.Playback.NoteGlyph + " 未找到歌词")
	}

	if p.deps.Announcer != nil {
		if err := p.deps.Announcer.Announce(ctx, asset.Title, asset.Author); err != nil {
			logger.Warnf("[pipeline] 播报失败: %v", err)
		}
	}

	grace := time.Duration(p.cfg.Playback.AudioGraceSec) * time.Second
	opts := playback.Options{
		Offset:     time.Duration(p.cfg.Playback.OffsetMs) * time.Millisecond,
		AudioGrace: grace,
		MaxAudio:   time.Duration(p.cfg.Playback.MaxAudioSec) * time.Second,
		NoteGlyph:  p.cfg.Playback.NoteGlyph,
		Sleep:      p.deps.Sleep,
	}
	// 时长未知时由会话在 Load 之后向播放器询问
	if asset.Duration > 0 {
		opts.AudioTimeout = asset.Duration + grace
	}
	session := playback.NewSession(track, asset.Path, p.deps.NewPlayer, sink, opts)

	p.mu.Lock()
	p.session = session
	p.mu.Unlock()

	p.recordStart(ctx, session.ID, query, asset, track.Len())
	p.state.Transition(StatePlaying)

	err := session.Run(ctx)
	p.recordFinish(session.ID, err)

	if cacheKey != "" && p.deps.Cache != nil {
		p.deps.Cache.Touch(cacheKey)
	}
	return err
}

// fetchLyrics 查询并解析歌词，任何失败都降级为空歌词。
func (p *Pipeline) fetchLyrics(ctx context.Context, asset music.Asset) *lyrics.Track {
	q := lyrics.NormalizeQuery(asset.Author, asset.Title)
	if p.cfg.Lyrics.SendDuration && asset.Duration > 0 {
		q.Duration = int(math.Round(asset.Duration.Seconds()))
	}

	doc, err := p.deps.Lyrics.Get(ctx, q)
	switch {
	case errors.Is(err, lyrics.ErrNotFound):
		logger.Infof("[pipeline] 未找到歌词: %s - %s", q.Artist, q.Track)
		return lyrics.Parse("")
	case err != nil:
		logger.Warnf("[pipeline] 获取歌词失败: %v", err)
		return lyrics.Parse("")
	}

	track := lyrics.Parse(doc)
	logger.Infof("[pipeline] 歌词 %d 行: %s - %s", track.Len(), q.Artist, q.Track)
	return track
}

func (p *Pipeline) recordStart(ctx context.Context, sessionID, query string, asset music.Asset, lines int) {
	if p.deps.History == nil {
		return
	}
	err := p.deps.History.Start(ctx, music.HistoryEntry{
		SessionID:  sessionID,
		Query:      query,
		VideoID:    asset.VideoID,
		Title:      asset.Title,
		Author:     asset.Author,
		Source:     asset.Source,
		LyricLines: lines,
	})
	if err != nil {
		logger.Warnf("[pipeline] 记录播放历史失败: %v", err)
	}
}

func (p *Pipeline) recordFinish(sessionID string, runErr error) {
	if p.deps.History == nil {
		return
	}
	status := music.StatusFinished
	switch {
	case runErr == nil:
	case errors.Is(runErr, playback.ErrStopped), errors.Is(runErr, context.Canceled):
		status = music.StatusStopped
		runErr = nil
	default:
		status = music.StatusFailed
	}
	// 播放的 ctx 此时可能已经取消
	if err := p.deps.History.Finish(context.Background(), sessionID, status, runErr); err != nil {
		logger.Warnf("[pipeline] 更新播放历史失败: %v", err)
	}
}
