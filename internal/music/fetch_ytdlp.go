package music

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/iabetor/lrcplay/internal/logger"
)

// ytdlpPrintTemplate 在文件移动到最终位置后输出元数据，字段之间用制表符分隔。
const ytdlpPrintTemplate = "after_move:%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(filepath)s"

// ytdlpOutputTemplate 与 AssetFilename 的命名一致，文件名带视频 ID。
const ytdlpOutputTemplate = "%(title)s [%(id)s].%(ext)s"

// YtdlpFetcher 使用 yt-dlp 下载并提取 MP3。适合内置客户端被限流的情况。
type YtdlpFetcher struct {
	executable string
	ffmpegPath string
}

// NewYtdlpFetcher 创建 yt-dlp 下载器。
func NewYtdlpFetcher(executable, ffmpegPath string) *YtdlpFetcher {
	return &YtdlpFetcher{executable: executable, ffmpegPath: ffmpegPath}
}

// Name 返回后端名称。
func (f *YtdlpFetcher) Name() string { return "ytdlp" }

// Fetch 下载 url 的音频到 outputDir。
func (f *YtdlpFetcher) Fetch(ctx context.Context, url, outputDir string) (Asset, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Asset{}, fmt.Errorf("%w: 创建输出目录失败: %v", ErrFetchFailed, err)
	}

	cmd := ytdlp.New().
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality("2").
		NoPlaylist().
		NoProgress().
		NoWarnings().
		IgnoreConfig().
		Output(filepath.Join(outputDir, ytdlpOutputTemplate)).
		Print(ytdlpPrintTemplate)
	if f.executable != "" {
		cmd = cmd.SetExecutable(f.executable)
	}
	if f.ffmpegPath != "" {
		cmd = cmd.FFmpegLocation(f.ffmpegPath)
	}

	logger.Infof("[music] yt-dlp 开始下载: %s", url)
	start := time.Now()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		detail := ""
		if res != nil {
			detail = strings.TrimSpace(res.Stderr)
		}
		return Asset{}, fmt.Errorf("%w: yt-dlp 执行失败: %v %s", ErrFetchFailed, err, detail)
	}

	asset, err := parseYtdlpOutput(res.Stdout)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	asset.Source = f.Name()

	if _, err := os.Stat(asset.Path); err != nil {
		return Asset{}, fmt.Errorf("%w: 下载的文件不存在: %v", ErrFetchFailed, err)
	}
	if asset.Duration == 0 {
		if d, err := ProbeDuration(asset.Path); err == nil {
			asset.Duration = d
		}
	}

	logger.Infof("[music] yt-dlp 下载完成: %s (耗时 %v)", asset.Path, time.Since(start).Round(time.Millisecond))
	return asset, nil
}

// parseYtdlpOutput 解析 ytdlpPrintTemplate 的输出，取最后一行有效记录。
func parseYtdlpOutput(stdout string) (Asset, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		parts := strings.Split(strings.TrimRight(lines[i], "\r"), "\t")
		if len(parts) < 5 || parts[4] == "" {
			continue
		}
		asset := Asset{
			VideoID: parts[0],
			Title:   parts[1],
			Author:  parts[2],
			Path:    parts[4],
		}
		// yt-dlp 的 duration 可能是 "NA" 或带小数
		if secs, err := strconv.ParseFloat(parts[3], 64); err == nil && secs > 0 {
			asset.Duration = time.Duration(secs * float64(time.Second))
		}
		return asset, nil
	}
	return Asset{}, fmt.Errorf("无法解析 yt-dlp 输出")
}
