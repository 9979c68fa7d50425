package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iabetor/lrcplay/internal/logger"
)

const defaultLrclibURL = "https://lrclib.net"

// LrclibClient 是 LRCLIB 公共歌词 API 的客户端。
type LrclibClient struct {
	baseURL        string
	userAgent      string
	searchFallback bool
	httpClient     *http.Client
}

// LrclibOption 客户端可选配置。
type LrclibOption func(*LrclibClient)

// WithSearchFallback 精确查询 404 时是否改用 /api/search。
func WithSearchFallback(enabled bool) LrclibOption {
	return func(c *LrclibClient) { c.searchFallback = enabled }
}

// WithUserAgent 设置请求的 User-Agent，LRCLIB 要求客户端标明身份。
func WithUserAgent(ua string) LrclibOption {
	return func(c *LrclibClient) { c.userAgent = ua }
}

// WithTimeout 设置单次请求超时。
func WithTimeout(d time.Duration) LrclibOption {
	return func(c *LrclibClient) { c.httpClient.Timeout = d }
}

// NewLrclibClient 创建 LRCLIB 客户端，baseURL 为空时使用官方地址。
func NewLrclibClient(baseURL string, opts ...LrclibOption) *LrclibClient {
	if baseURL == "" {
		baseURL = defaultLrclibURL
	}
	c := &LrclibClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		userAgent:      "lrcplay/1.0",
		searchFallback: true,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lrclibRecord 是 /api/get 和 /api/search 返回的单条记录。
type lrclibRecord struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// Get 查询同步歌词。先用 /api/get 精确匹配，404 时按配置回退到 /api/search。
// 纯音乐返回空字符串和 nil 错误。
func (c *LrclibClient) Get(ctx context.Context, q Query) (string, error) {
	if q.Artist == "" && q.Track == "" {
		return "", fmt.Errorf("歌词查询缺少歌手和歌名")
	}

	params := url.Values{}
	params.Set("artist_name", q.Artist)
	params.Set("track_name", q.Track)
	if q.Album != "" {
		params.Set("album_name", q.Album)
	}
	if q.Duration > 0 {
		params.Set("duration", strconv.Itoa(q.Duration))
	}

	body, status, err := c.doGet(ctx, "/api/get", params)
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK:
		var rec lrclibRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return "", fmt.Errorf("解析歌词响应失败: %w", err)
		}
		if rec.Instrumental {
			logger.Infof("[lyrics] %s - %s 是纯音乐", rec.ArtistName, rec.TrackName)
			return "", nil
		}
		if rec.SyncedLyrics != "" {
			logger.Debugf("[lyrics] 精确匹配命中: id=%d", rec.ID)
			return rec.SyncedLyrics, nil
		}
		// 只有纯文本歌词，继续尝试搜索
	case http.StatusNotFound:
	default:
		return "", fmt.Errorf("歌词服务返回错误状态码: %d", status)
	}

	if !c.searchFallback {
		return "", ErrNotFound
	}
	return c.search(ctx, q)
}

// search 调用 /api/search，返回第一条带同步歌词的结果。
// 有时长时优先选择时长最接近的记录。
func (c *LrclibClient) search(ctx context.Context, q Query) (string, error) {
	params := url.Values{}
	params.Set("track_name", q.Track)
	if q.Artist != "" {
		params.Set("artist_name", q.Artist)
	}

	body, status, err := c.doGet(ctx, "/api/search", params)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("歌词搜索返回错误状态码: %d", status)
	}

	var records []lrclibRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return "", fmt.Errorf("解析歌词搜索响应失败: %w", err)
	}

	var best *lrclibRecord
	for i := range records {
		rec := &records[i]
		if rec.SyncedLyrics == "" {
			continue
		}
		if best == nil {
			best = rec
			if q.Duration <= 0 {
				break
			}
			continue
		}
		if absDiff(rec.Duration, float64(q.Duration)) < absDiff(best.Duration, float64(q.Duration)) {
			best = rec
		}
	}
	if best == nil {
		return "", ErrNotFound
	}

	logger.Infof("[lyrics] 搜索回退命中: %s - %s (id=%d)", best.ArtistName, best.TrackName, best.ID)
	return best.SyncedLyrics, nil
}

// doGet 发送 GET 请求并读取完整响应体。
func (c *LrclibClient) doGet(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	u := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("歌词请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应失败: %w", err)
	}
	return body, resp.StatusCode, nil
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
