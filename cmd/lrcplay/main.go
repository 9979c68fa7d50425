package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/iabetor/lrcplay/internal/config"
	"github.com/iabetor/lrcplay/internal/console"
	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/logger"
	"github.com/iabetor/lrcplay/internal/music"
	"github.com/iabetor/lrcplay/internal/pipeline"
	"github.com/iabetor/lrcplay/internal/playback"
)

// finisher 由需要在一首歌结束后收尾的输出实现（例如单行刷新）。
type finisher interface {
	Finish()
}

func main() {
	configPath := flag.String("config", "configs/lrcplay.yaml", "配置文件路径，不存在时使用默认配置")
	file := flag.String("file", "", "直接播放本地 MP3 文件")
	sinkMode := flag.String("sink", "", "歌词输出方式: line 或 label（覆盖配置）")
	offset := flag.Int("offset", 0, "歌词偏移（毫秒），正数表示延后显示（覆盖配置）")
	modeName := flag.String("mode", "sequence", "多首歌（用分号分隔）的播放模式: sequence、loop、single")
	playlist := flag.String("playlist", "", "播放指定的歌单")
	favorites := flag.Bool("favorites", false, "播放全部收藏")
	flag.Parse()

	mode, err := music.ParsePlayMode(*modeName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *sinkMode != "" {
		cfg.Playback.Sink = *sinkMode
	}
	if *offset != 0 {
		cfg.Playback.OffsetMs = *offset
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置无效: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Quiet: cfg.Log.Quiet,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("[main] lrcplay 启动 (log_level=%s, sink=%s)", cfg.Log.Level, cfg.Playback.Sink)

	p, err := pipeline.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建流水线失败: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	useColor := cfg.Playback.Color
	p.State().SetOnChange(func(from, to pipeline.State) {
		switch to {
		case pipeline.StateSearching:
			console.Status(os.Stderr, useColor, "正在搜索...")
		case pipeline.StateDownloading:
			console.Status(os.Stderr, useColor, "正在准备音频...")
		case pipeline.StateFetchingLyrics:
			console.Status(os.Stderr, useColor, "正在获取歌词...")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 播放中 Ctrl+C 只停止当前歌曲，空闲时退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGINT && p.State().Current() != pipeline.StateIdle {
				logger.Info("[main] 收到中断，停止当前歌曲")
				p.Stop()
				continue
			}
			logger.Infof("[main] 收到信号 %v，正在退出...", sig)
			cancel()
			p.Stop()
			return
		}
	}()

	r := &runner{p: p, sink: newSink(cfg), queue: music.NewQueue(mode), useColor: useColor}

	switch {
	case *file != "":
		r.report(p.PlayFile(ctx, *file, r.sink))
	case *playlist != "" || *favorites:
		if err := r.loadLibrary(ctx, cfg, *playlist); err != nil {
			console.Errorf(os.Stderr, useColor, "%v", err)
			return
		}
		r.run(ctx)
	case flag.NArg() > 0:
		r.playAll(ctx, music.SplitQueries(strings.Join(flag.Args(), " ")))
	default:
		r.interactive(ctx)
	}

	logger.Info("[main] lrcplay 已退出")
}

// runner 负责按队列依次播放并打印结果。
type runner struct {
	p        *pipeline.Pipeline
	sink     playback.Sink
	queue    *music.Queue
	useColor bool
}

// loadLibrary 把歌单（name 为空时为收藏）载入队列。
func (r *runner) loadLibrary(ctx context.Context, cfg *config.Config, name string) error {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	if name != "" {
		n, err := music.NewPlaylistStore(db).LoadInto(ctx, name, r.queue)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("歌单 %s 是空的", name)
		}
		return nil
	}

	queries, err := music.NewFavoritesStore(db).Queries(ctx)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return fmt.Errorf("还没有收藏的歌曲")
	}
	r.queue.Replace(queries)
	return nil
}

// playAll 按播放模式播放一组歌曲。
func (r *runner) playAll(ctx context.Context, queries []string) {
	r.queue.Replace(queries)
	r.run(ctx)
}

// run 播放队列中的歌曲。被停止时结束整个队列；
// 连续失败的次数达到队列长度时放弃，避免循环模式下空转。
func (r *runner) run(ctx context.Context) {
	multi := r.queue.Len() > 1
	if multi {
		console.Status(os.Stderr, r.useColor, "%s", r.queue.Info())
	}

	failures := 0
	for {
		query, ok := r.queue.Next()
		if !ok || ctx.Err() != nil {
			return
		}
		if multi {
			status := "▶ " + query
			if next, ok := r.queue.Peek(); ok {
				status += "  (下一首: " + next + ")"
			}
			console.Status(os.Stderr, r.useColor, "%s", status)
		}

		err := r.p.Play(ctx, query, r.sink)
		r.report(err)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, playback.ErrStopped), errors.Is(err, context.Canceled):
			return
		default:
			failures++
			if failures >= r.queue.Len() {
				return
			}
		}
	}
}

// interactive 循环读取歌名并播放，输入 q 或 EOF 时退出，"mode loop" 切换播放模式。
func (r *runner) interactive(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("请输入歌名和歌手: ")

		var input string
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return
			}
			input = strings.TrimSpace(line)
		}

		switch strings.ToLower(input) {
		case "":
			continue
		case "q", "quit", "exit":
			return
		}
		if name, ok := strings.CutPrefix(input, "mode "); ok {
			mode, err := music.ParsePlayMode(strings.TrimSpace(name))
			if err != nil {
				console.Errorf(os.Stderr, r.useColor, "%v", err)
				continue
			}
			r.queue.SetMode(mode)
			console.Status(os.Stderr, r.useColor, "播放模式: %s", r.queue.Mode())
			continue
		}

		r.playAll(ctx, music.SplitQueries(input))
		if ctx.Err() != nil {
			return
		}
	}
}

// report 结束歌词输出并打印播放结果。
func (r *runner) report(err error) {
	if f, ok := r.sink.(finisher); ok {
		f.Finish()
	}
	switch {
	case err == nil:
		console.Status(os.Stderr, r.useColor, "播放结束")
	case errors.Is(err, playback.ErrStopped), errors.Is(err, context.Canceled):
		console.Status(os.Stderr, r.useColor, "已停止")
	case errors.Is(err, music.ErrTrackNotFound):
		console.Errorf(os.Stderr, r.useColor, "没有找到歌曲，换个关键词试试")
	case errors.Is(err, music.ErrFetchFailed):
		console.Errorf(os.Stderr, r.useColor, "下载音频失败: %v", err)
	default:
		console.Errorf(os.Stderr, r.useColor, "播放失败: %v", err)
	}
}

func newSink(cfg *config.Config) playback.Sink {
	if cfg.Playback.Sink == "label" {
		return console.NewLabelSink(os.Stdout, cfg.Playback.Color)
	}
	return console.NewLineSink(os.Stdout, cfg.Playback.Color)
}
