package lyrics

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound 表示歌词服务没有找到匹配的同步歌词。
var ErrNotFound = errors.New("未找到同步歌词")

// Query 歌词查询条件。
type Query struct {
	Artist   string
	Track    string
	Album    string // 可为空
	Duration int    // 秒，0 表示不限
}

// Provider 定义歌词服务接口。
type Provider interface {
	// Get 返回 LRC 格式的同步歌词原文，找不到时返回 ErrNotFound。
	Get(ctx context.Context, q Query) (string, error)
}

var (
	// 标题中常见的修饰: (Official Video)、[MV]、【歌词】 等
	bracketNoise = regexp.MustCompile(`\s*[(\[【（][^)\]】）]*(?i:official|video|audio|lyric|lyrics|mv|hd|4k|歌词|官方|动态|高音质)[^)\]】）]*[)\]】）]`)
	topicSuffix  = regexp.MustCompile(`(?i)\s*-\s*topic$`)
	vevoSuffix   = regexp.MustCompile(`(?i)vevo$`)
)

// NormalizeQuery 根据视频作者和标题生成更容易命中的歌词查询。
// 视频标题经常是 "歌手 - 歌名 (Official Video)" 的形式，作者则可能是 "歌手 - Topic"。
func NormalizeQuery(author, title string) Query {
	artist := strings.TrimSpace(topicSuffix.ReplaceAllString(author, ""))
	artist = strings.TrimSpace(vevoSuffix.ReplaceAllString(artist, ""))

	track := strings.TrimSpace(bracketNoise.ReplaceAllString(title, ""))
	if i := strings.Index(track, " - "); i > 0 {
		left := strings.TrimSpace(track[:i])
		right := strings.TrimSpace(track[i+3:])
		if right != "" {
			artist = left
			track = right
		}
	}

	return Query{Artist: artist, Track: track}
}
