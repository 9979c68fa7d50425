package music

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/iabetor/lrcplay/internal/logger"
)

// LocalFetcher 把本地 MP3 文件当作已下载的音频，元数据从 ID3 标签读取。
type LocalFetcher struct{}

// Name 返回后端名称。
func (LocalFetcher) Name() string { return "local" }

// Fetch 读取本地文件的元数据，outputDir 不使用。
// 没有标签时标题取文件名，"歌手 - 歌名.mp3" 形式的文件名会被拆开。
func (f LocalFetcher) Fetch(ctx context.Context, path, _ string) (Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if info.IsDir() {
		return Asset{}, fmt.Errorf("%w: %s 是目录", ErrFetchFailed, abs)
	}

	asset := Asset{Path: abs, Source: f.Name()}

	if file, err := os.Open(abs); err == nil {
		m, err := tag.ReadFrom(file)
		file.Close()
		if err == nil {
			asset.Title = strings.TrimSpace(m.Title())
			asset.Author = strings.TrimSpace(m.Artist())
		} else {
			logger.Debugf("[music] 读取标签失败: %v", err)
		}
	}

	if asset.Title == "" {
		name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		if i := strings.Index(name, " - "); i > 0 && asset.Author == "" {
			asset.Author = strings.TrimSpace(name[:i])
			name = name[i+3:]
		}
		asset.Title = strings.TrimSpace(name)
	}

	if d, err := ProbeDuration(abs); err == nil {
		asset.Duration = d
	} else {
		logger.Warnf("[music] 无法计算时长: %v", err)
	}

	return asset, nil
}
