package music

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTrackNotFound 搜索没有返回任何结果，会话在下载之前终止。
	ErrTrackNotFound = errors.New("没有找到歌曲")
	// ErrFetchFailed 音频下载或转码失败，会话无法继续。
	ErrFetchFailed = errors.New("获取音频失败")
)

// SearchResult 搜索命中的一个视频。
type SearchResult struct {
	VideoID string
	URL     string
	Title   string
}

// Asset 已下载到本地的音频文件及其元数据。
type Asset struct {
	Path     string
	VideoID  string
	Source   string // youtube、ytdlp、local
	Title    string
	Author   string
	Duration time.Duration
}

// Locator 根据关键词定位歌曲。
type Locator interface {
	// Search 返回最相关的一个结果，没有结果时返回 ErrTrackNotFound。
	Search(ctx context.Context, query string) (SearchResult, error)
}

// Fetcher 把远程音频下载为本地 MP3 文件。
type Fetcher interface {
	// Fetch 下载 url 对应的音频到 outputDir，失败时返回的错误包装 ErrFetchFailed。
	Fetch(ctx context.Context, url, outputDir string) (Asset, error)
	// Name 返回后端名称，同时作为缓存键的前缀。
	Name() string
}
