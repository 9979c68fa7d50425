package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/iabetor/lrcplay/internal/logger"
)

// YouTubeFetcher 用内置的 YouTube 客户端下载音频流，再用 ffmpeg 转成 MP3。
type YouTubeFetcher struct {
	client     *youtube.Client
	ffmpegPath string
}

// NewYouTubeFetcher 创建下载器。timeout 为单次 HTTP 请求的超时，0 表示不限制。
func NewYouTubeFetcher(ffmpegPath string, timeout time.Duration) *YouTubeFetcher {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &YouTubeFetcher{
		client: &youtube.Client{
			HTTPClient: &http.Client{Timeout: timeout},
		},
		ffmpegPath: ffmpegPath,
	}
}

// Name 返回后端名称。
func (f *YouTubeFetcher) Name() string { return "youtube" }

// Fetch 下载音频并转码为 <outputDir>/<标题> [<视频ID>].mp3，转码完成后删除中间文件。
func (f *YouTubeFetcher) Fetch(ctx context.Context, url, outputDir string) (Asset, error) {
	video, err := f.client.GetVideoContext(ctx, url)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: 获取视频信息失败: %v", ErrFetchFailed, err)
	}

	format, err := pickAudioFormat(video.Formats)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Asset{}, fmt.Errorf("%w: 创建输出目录失败: %v", ErrFetchFailed, err)
	}

	finalPath := filepath.Join(outputDir, AssetFilename(video.Title, video.ID))
	tmpPath := strings.TrimSuffix(finalPath, ".mp3") + ".part"
	defer os.Remove(tmpPath)

	logger.Infof("[music] 开始下载: %s (%s, %d kbps)", video.Title, format.MimeType, bitrateOf(format)/1000)
	start := time.Now()

	if err := f.download(ctx, video, format, tmpPath); err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	logger.Debugf("[music] 下载完成，耗时 %v", time.Since(start).Round(time.Millisecond))

	if err := f.transcode(ctx, tmpPath, finalPath); err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	logger.Infof("[music] 已保存: %s", finalPath)

	return Asset{
		Path:     finalPath,
		VideoID:  video.ID,
		Source:   f.Name(),
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}, nil
}

func (f *YouTubeFetcher) download(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) error {
	stream, size, err := f.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("获取音频流失败: %w", err)
	}
	defer stream.Close()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	written, err := io.Copy(out, stream)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("下载音频失败: %w", err)
	}
	if size > 0 && written < size {
		return fmt.Errorf("下载不完整: %d/%d 字节", written, size)
	}
	return nil
}

// transcode 调用 ffmpeg 转为 MP3，先写临时文件再 rename，中断时不会留下半个 MP3。
func (f *YouTubeFetcher) transcode(ctx context.Context, src, dst string) error {
	tmp := dst + ".tmp.mp3"
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-y", "-loglevel", "error",
		"-i", src,
		"-vn", "-codec:a", "libmp3lame", "-q:a", "2",
		tmp,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("找不到 ffmpeg (%s): %w", f.ffmpegPath, err)
		}
		return fmt.Errorf("ffmpeg 转码失败: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("保存 MP3 失败: %w", err)
	}
	return nil
}

// pickAudioFormat 选择码率最高的纯音频格式，没有时退回带音轨的视频格式中码率最低的。
func pickAudioFormat(formats youtube.FormatList) (*youtube.Format, error) {
	var best, fallback *youtube.Format
	for i := range formats {
		format := &formats[i]
		if format.AudioChannels == 0 {
			continue
		}
		if format.Width != 0 || format.Height != 0 {
			if fallback == nil || bitrateOf(format) < bitrateOf(fallback) {
				fallback = format
			}
			continue
		}
		if best == nil || bitrateOf(format) > bitrateOf(best) {
			best = format
		}
	}
	if best != nil {
		return best, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("没有可用的音频格式")
}

func bitrateOf(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}
