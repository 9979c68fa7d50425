package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iabetor/lrcplay/internal/audio"
	"github.com/iabetor/lrcplay/internal/config"
	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/lyrics"
	"github.com/iabetor/lrcplay/internal/music"
)

func main() {
	configPath := flag.String("config", "configs/lrcplay.yaml", "配置文件路径，不存在时使用默认配置")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	args := flag.Args()

	switch args[0] {
	case "list":
		doList(cfg)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "请指定搜索关键词")
			os.Exit(1)
		}
		doSearch(cfg, args[1])
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "请指定要删除的关键词")
			os.Exit(1)
		}
		doDelete(cfg, args[1])
	case "history":
		limit := 20
		if len(args) >= 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "无效的条数: %s\n", args[1])
				os.Exit(1)
			}
			limit = n
		}
		doHistory(ctx, cfg, limit)
	case "clear-history":
		doClearHistory(ctx, cfg)
	case "clear-lyrics":
		doClearLyrics(ctx, cfg)
	case "fav", "unfav":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "请指定歌曲")
			os.Exit(1)
		}
		doFavorite(ctx, cfg, args[0] == "fav", strings.Join(args[1:], " "))
	case "favs":
		doListFavorites(ctx, cfg)
	case "playlist":
		doPlaylist(ctx, cfg, *configPath, args[1:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("歌曲库管理工具")
	fmt.Println("")
	fmt.Println("用法:")
	fmt.Println("  lrcplay-library [-config path] <command> [args]")
	fmt.Println("")
	fmt.Println("命令:")
	fmt.Println("  list             列出已缓存的歌曲")
	fmt.Println("  search <关键词>   搜索已缓存的歌曲（支持拼音）")
	fmt.Println("  delete <关键词>   删除匹配的缓存歌曲，也可以指定缓存标识（如 youtube_<视频ID>）")
	fmt.Println("  history [n]      查看最近 n 条播放记录 (默认: 20)")
	fmt.Println("  clear-history    清空播放记录")
	fmt.Println("  clear-lyrics     清空歌词缓存")
	fmt.Println("  fav <歌曲>        收藏或取消收藏")
	fmt.Println("  unfav <歌曲>      取消收藏")
	fmt.Println("  favs             列出收藏")
	fmt.Println("  playlist                      列出歌单")
	fmt.Println("  playlist create|delete <歌单>  创建或删除歌单")
	fmt.Println("  playlist add|rm <歌单> <歌曲>   添加或移除歌曲")
	fmt.Println("  playlist show <歌单>           查看歌单中的歌曲")
	fmt.Println("  playlist play <歌单>           用 lrcplay 播放歌单")
	fmt.Println("")
	fmt.Println("示例:")
	fmt.Println("  lrcplay-library search qingtian   # 按拼音搜索")
	fmt.Println("  lrcplay-library history 5")
	fmt.Println("  lrcplay-library playlist add 周杰伦 晴天 周杰伦")
}

func openCache(cfg *config.Config) *audio.AssetCache {
	cache, err := audio.NewAssetCache(cfg.Fetch.OutputDir, cfg.Cache.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开缓存失败: %v\n", err)
		os.Exit(1)
	}
	if !cache.Enabled() {
		fmt.Println("缓存未启用 (cache.max_size_mb <= 0)")
		os.Exit(0)
	}
	return cache
}

func openDB(cfg *config.Config) *database.DB {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开数据库失败: %v\n", err)
		os.Exit(1)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "数据库迁移失败: %v\n", err)
		os.Exit(1)
	}
	return db
}

func doList(cfg *config.Config) {
	cache := openCache(cfg)
	entries := cache.List()
	if len(entries) == 0 {
		fmt.Println("缓存为空")
		return
	}
	printEntries(entries)
	fmt.Printf("\n共 %d 首，%.1f MB，目录: %s\n", len(entries), float64(cache.TotalSize())/1024/1024, cache.Dir())
}

func doSearch(cfg *config.Config, keyword string) {
	entries := openCache(cfg).Search(keyword)
	if len(entries) == 0 {
		fmt.Printf("没有找到与 \"%s\" 匹配的歌曲\n", keyword)
		return
	}
	printEntries(entries)
}

func doDelete(cfg *config.Config, keyword string) {
	cache := openCache(cfg)
	if cache.DeleteByKey(keyword) {
		fmt.Printf("已删除 %s\n", keyword)
		return
	}
	n := cache.Delete(keyword)
	if n == 0 {
		fmt.Printf("没有找到与 \"%s\" 匹配的歌曲\n", keyword)
		return
	}
	fmt.Printf("已删除 %d 首\n", n)
}

func doHistory(ctx context.Context, cfg *config.Config, limit int) {
	db := openDB(cfg)
	defer db.Close()

	entries, err := music.NewHistoryStore(db).List(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取播放记录失败: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("暂无播放记录")
		return
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-8s  %s", e.StartedAt.Format("2006-01-02 15:04"), e.Status, e.Title)
		if e.Author != "" {
			line += " - " + e.Author
		}
		if e.LyricLines > 0 {
			line += fmt.Sprintf("  (%d 行歌词)", e.LyricLines)
		}
		if !e.FinishedAt.IsZero() {
			line += fmt.Sprintf("  %v", e.FinishedAt.Sub(e.StartedAt).Round(time.Second))
		}
		fmt.Println(line)
		if e.Error != "" {
			fmt.Printf("    错误: %s\n", e.Error)
		}
	}
}

func doClearHistory(ctx context.Context, cfg *config.Config) {
	db := openDB(cfg)
	defer db.Close()

	n, err := music.NewHistoryStore(db).Clear(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "清空播放记录失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已清空 %d 条播放记录\n", n)
}

func doClearLyrics(ctx context.Context, cfg *config.Config) {
	db := openDB(cfg)
	defer db.Close()

	n, err := lyrics.NewCachedProvider(db, nil).Purge(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "清空歌词缓存失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已清空 %d 条歌词缓存\n", n)
}

// doFavorite 收藏或取消收藏。fav 对已收藏的歌曲取消收藏。
func doFavorite(ctx context.Context, cfg *config.Config, toggle bool, query string) {
	db := openDB(cfg)
	defer db.Close()
	store := music.NewFavoritesStore(db)

	if !toggle {
		if err := store.Remove(ctx, query); err != nil {
			fmt.Fprintf(os.Stderr, "取消收藏失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("已取消收藏: %s\n", query)
		return
	}

	// 播放过的歌曲带上标题和作者
	fav := music.Favorite{Query: query}
	if entries, err := music.NewHistoryStore(db).List(ctx, 0); err == nil {
		for _, e := range entries {
			if e.Query == strings.TrimSpace(query) {
				fav.Title, fav.Author = e.Title, e.Author
				break
			}
		}
	}

	added, err := store.Toggle(ctx, fav)
	if err != nil {
		fmt.Fprintf(os.Stderr, "收藏失败: %v\n", err)
		os.Exit(1)
	}
	if added {
		fmt.Printf("已收藏: %s\n", query)
	} else {
		fmt.Printf("已取消收藏: %s\n", query)
	}
}

func doListFavorites(ctx context.Context, cfg *config.Config) {
	db := openDB(cfg)
	defer db.Close()

	list, err := music.NewFavoritesStore(db).List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取收藏失败: %v\n", err)
		os.Exit(1)
	}
	if len(list) == 0 {
		fmt.Println("暂无收藏")
		return
	}
	for i, f := range list {
		line := fmt.Sprintf("%3d. %s", i+1, f.Query)
		if f.Title != "" {
			line += "  (" + f.Title
			if f.Author != "" {
				line += " - " + f.Author
			}
			line += ")"
		}
		fmt.Println(line)
	}
	fmt.Println("\n播放全部收藏: lrcplay -favorites")
}

func doPlaylist(ctx context.Context, cfg *config.Config, configPath string, args []string) {
	db := openDB(cfg)
	defer db.Close()
	store := music.NewPlaylistStore(db)

	fail := func(format string, a ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", a...)
		db.Close()
		os.Exit(1)
	}

	if len(args) == 0 || args[0] == "list" {
		list, err := store.List(ctx)
		if err != nil {
			fail("读取歌单失败: %v", err)
		}
		if len(list) == 0 {
			fmt.Println("暂无歌单")
			return
		}
		for _, p := range list {
			fmt.Printf("%-16s %3d 首  创建于 %s\n", p.Name, p.Count, p.CreatedAt.Format("2006-01-02"))
		}
		return
	}
	if len(args) < 2 {
		fail("请指定歌单名")
	}
	name, query := args[1], strings.Join(args[2:], " ")

	switch args[0] {
	case "create":
		if err := store.Create(ctx, name); err != nil {
			fail("创建歌单失败: %v", err)
		}
		fmt.Printf("已创建歌单: %s\n", name)
	case "delete":
		if err := store.Delete(ctx, name); err != nil {
			fail("删除歌单失败: %v", err)
		}
		fmt.Printf("已删除歌单: %s\n", name)
	case "add":
		if query == "" {
			fail("请指定歌曲")
		}
		added, err := store.Add(ctx, name, query)
		if err != nil {
			fail("添加失败: %v", err)
		}
		if added {
			fmt.Printf("已添加到 %s: %s\n", name, query)
		} else {
			fmt.Printf("%s 中已有: %s\n", name, query)
		}
	case "rm":
		if query == "" {
			fail("请指定歌曲")
		}
		removed, err := store.Remove(ctx, name, query)
		if err != nil {
			fail("移除失败: %v", err)
		}
		if !removed {
			fail("%s 中没有: %s", name, query)
		}
		fmt.Printf("已从 %s 移除: %s\n", name, query)
	case "show":
		items, err := store.Items(ctx, name)
		if err != nil {
			fail("读取歌单失败: %v", err)
		}
		if len(items) == 0 {
			fmt.Printf("歌单 %s 是空的\n", name)
			return
		}
		for i, q := range items {
			fmt.Printf("%3d. %s\n", i+1, q)
		}
	case "play":
		if _, err := store.Items(ctx, name); err != nil {
			fail("%v", err)
		}
		db.Close()
		if err := runPlayer(configPath, "-playlist", name); err != nil {
			fail("播放失败: %v", err)
		}
	default:
		fail("未知的歌单命令: %s", args[0])
	}
}

// runPlayer 启动 lrcplay，优先使用与本程序同目录的可执行文件。
func runPlayer(configPath string, args ...string) error {
	bin, err := exec.LookPath("lrcplay")
	if self, selfErr := os.Executable(); selfErr == nil {
		sibling := filepath.Join(filepath.Dir(self), "lrcplay")
		if _, statErr := os.Stat(sibling); statErr == nil {
			bin, err = sibling, nil
		}
	}
	if err != nil {
		return fmt.Errorf("找不到 lrcplay: %w", err)
	}

	// Ctrl+C 交给 lrcplay 处理
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	cmd := exec.Command(bin, append([]string{"-config", configPath}, args...)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("lrcplay 退出码 %d", exitErr.ExitCode())
	}
	return err
}

func printEntries(entries []audio.CacheEntry) {
	for i, e := range entries {
		author := e.Author
		if author == "" {
			author = "未知"
		}
		fmt.Printf("%3d. %s - %s  [%d:%02d]  %s\n", i+1, e.Title, author, e.Duration/60, e.Duration%60, e.Source)
	}
}
