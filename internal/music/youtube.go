package music

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ppalone/ytsearch"

	"github.com/iabetor/lrcplay/internal/logger"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// YouTubeLocator 通过 YouTube 搜索定位歌曲。
type YouTubeLocator struct {
	client *ytsearch.Client
	suffix string
}

// NewYouTubeLocator 创建 YouTube 搜索器。suffix 会追加到每次搜索的关键词之后。
func NewYouTubeLocator(suffix string) *YouTubeLocator {
	return &YouTubeLocator{
		client: ytsearch.NewClient(nil),
		suffix: strings.TrimSpace(suffix),
	}
}

// Search 搜索并返回第一个结果。直接输入 YouTube 链接时不搜索。
func (l *YouTubeLocator) Search(ctx context.Context, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, fmt.Errorf("搜索关键词为空")
	}

	if id := ParseVideoID(query); id != "" {
		return SearchResult{VideoID: id, URL: WatchURL(id)}, nil
	}

	q := query
	if l.suffix != "" {
		q = query + " " + l.suffix
	}

	res, err := l.client.Search(ctx, q)
	if err != nil {
		return SearchResult{}, fmt.Errorf("YouTube 搜索失败: %w", err)
	}
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		logger.Infof("[music] 搜索命中: %s (%s)", v.Title, v.VideoID)
		return SearchResult{VideoID: v.VideoID, URL: WatchURL(v.VideoID), Title: v.Title}, nil
	}

	logger.Infof("[music] 没有搜索结果: %s", q)
	return SearchResult{}, ErrTrackNotFound
}

// WatchURL 返回视频的观看地址。
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ParseVideoID 从 YouTube 链接中提取视频 ID，不是链接时返回空字符串。
func ParseVideoID(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"):
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) >= 2 {
				id = parts[1]
			}
		}
	}

	if !videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}
