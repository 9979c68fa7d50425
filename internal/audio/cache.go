package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mozillazg/go-pinyin"

	"github.com/iabetor/lrcplay/internal/logger"
)

const (
	cacheIndexFile = "cache_index.json"
	// 定长的时间格式，字符串比较即可排序
	cacheTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// CacheEntry 缓存索引中的一条记录，对应一个已下载的音频文件。
type CacheEntry struct {
	Key        string `json:"key"`
	VideoID    string `json:"video_id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Source     string `json:"source"`
	Duration   int    `json:"duration"` // 秒
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	CachedAt   string `json:"cached_at"`
	LastPlayed string `json:"last_played"`
}

// CacheKey 生成缓存键，例如 "youtube_dQw4w9WgXcQ"。
func CacheKey(source, videoID string) string {
	return source + "_" + videoID
}

// AssetCache 管理已下载的音频文件和它们的索引。
// 同一首歌再次播放时直接使用本地文件，不再下载。
type AssetCache struct {
	mu      sync.RWMutex
	dir     string
	maxSize int64 // 字节，<=0 表示禁用缓存
	index   map[string]*CacheEntry
}

// NewAssetCache 创建缓存管理器。
// dir 为音频输出目录，maxSizeMB 为缓存上限（MB），<=0 表示禁用缓存。
func NewAssetCache(dir string, maxSizeMB int64) (*AssetCache, error) {
	ac := &AssetCache{
		dir:   dir,
		index: make(map[string]*CacheEntry),
	}
	if maxSizeMB <= 0 {
		return ac, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	ac.maxSize = maxSizeMB * 1024 * 1024

	if err := ac.loadIndex(); err != nil {
		logger.Warnf("[cache] 加载缓存索引失败（将使用空索引）: %v", err)
		ac.index = make(map[string]*CacheEntry)
	}

	ac.validateIndex()
	return ac, nil
}

// Enabled 返回缓存是否启用。
func (ac *AssetCache) Enabled() bool {
	return ac.maxSize > 0
}

// Dir 返回缓存目录。
func (ac *AssetCache) Dir() string {
	return ac.dir
}

// Lookup 查找缓存条目，文件已被删除时视为未命中。
func (ac *AssetCache) Lookup(key string) (CacheEntry, bool) {
	if !ac.Enabled() {
		return CacheEntry{}, false
	}

	ac.mu.RLock()
	defer ac.mu.RUnlock()

	entry, ok := ac.index[key]
	if !ok {
		return CacheEntry{}, false
	}
	if _, err := os.Stat(entry.Path); err != nil {
		return CacheEntry{}, false
	}
	return *entry, true
}

// Touch 更新最后播放时间并持久化。
func (ac *AssetCache) Touch(key string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if entry, ok := ac.index[key]; ok {
		entry.LastPlayed = time.Now().Format(cacheTimeLayout)
		if err := ac.saveIndexLocked(); err != nil {
			logger.Warnf("[cache] 保存缓存索引失败: %v", err)
		}
	}
}

// Store 将已下载的文件登记到索引，然后按容量淘汰旧文件。
// 刚登记的条目不会在本次淘汰中被删除。
func (ac *AssetCache) Store(entry CacheEntry) error {
	if !ac.Enabled() {
		return nil
	}
	if entry.Key == "" || entry.Path == "" {
		return fmt.Errorf("缓存条目缺少 key 或路径")
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	now := time.Now().Format(cacheTimeLayout)
	entry.CachedAt = now
	entry.LastPlayed = now
	if info, err := os.Stat(entry.Path); err == nil {
		entry.Size = info.Size()
	}

	ac.index[entry.Key] = &entry
	ac.evictLocked(entry.Key)

	if err := ac.saveIndexLocked(); err != nil {
		return fmt.Errorf("保存缓存索引失败: %w", err)
	}

	logger.Infof("[cache] 已缓存: %s - %s (%s, %d bytes)", entry.Title, entry.Author, entry.Key, entry.Size)
	return nil
}

// Search 按关键词模糊搜索缓存（标题、作者和标题拼音）。
// 匹配度高的排在前面，同等匹配度按最后播放时间倒序。
func (ac *AssetCache) Search(keyword string) []CacheEntry {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}
	keywords := strings.Fields(keyword)
	compact := strings.ReplaceAll(keyword, " ", "")

	type scoredEntry struct {
		entry CacheEntry
		score int
	}
	var results []scoredEntry

	for _, entry := range ac.index {
		titleLower := strings.ToLower(entry.Title)
		authorLower := strings.ToLower(entry.Author)

		score := 0
		switch {
		case titleLower == keyword:
			score = 10
		case strings.Contains(titleLower, keyword):
			score = 5
		default:
			// "晴天 周杰伦" 这类多个词的查询，任意一个词命中标题即可
			for _, kw := range keywords {
				if len(kw) >= 2 && strings.Contains(titleLower, kw) {
					score = 4
					break
				}
			}
		}
		if score == 0 {
			full, initials := titlePinyin(entry.Title)
			if full != "" && (strings.Contains(full, compact) || compact == initials) {
				score = 3
			}
		}
		// 只命中作者不算，避免一个歌手名匹配到所有歌
		if score == 0 {
			continue
		}
		if authorLower != "" && strings.Contains(keyword, authorLower) {
			score += 2
		}

		if _, err := os.Stat(entry.Path); err != nil {
			continue
		}
		results = append(results, scoredEntry{entry: *entry, score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].entry.LastPlayed > results[j].entry.LastPlayed
	})

	entries := make([]CacheEntry, len(results))
	for i, r := range results {
		entries[i] = r.entry
	}
	return entries
}

// List 返回所有缓存条目，按最后播放时间倒序。
func (ac *AssetCache) List() []CacheEntry {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	results := make([]CacheEntry, 0, len(ac.index))
	for _, entry := range ac.index {
		results = append(results, *entry)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].LastPlayed > results[j].LastPlayed
	})
	return results
}

// TotalSize 返回缓存文件总大小（字节）。
func (ac *AssetCache) TotalSize() int64 {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	var total int64
	for _, entry := range ac.index {
		total += entry.Size
	}
	return total
}

// Delete 删除标题或作者包含关键词的缓存，返回删除数量。
func (ac *AssetCache) Delete(keyword string) int {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return 0
	}

	deleted := 0
	for key, entry := range ac.index {
		matched := strings.Contains(strings.ToLower(entry.Title), keyword) ||
			strings.Contains(strings.ToLower(entry.Author), keyword)
		if !matched {
			continue
		}
		if err := ac.removeFileLocked(entry); err != nil {
			logger.Warnf("[cache] 删除缓存文件失败: %s: %v", entry.Path, err)
			continue
		}
		logger.Infof("[cache] 已删除缓存: %s - %s (%s)", entry.Title, entry.Author, key)
		delete(ac.index, key)
		deleted++
	}

	if deleted > 0 {
		if err := ac.saveIndexLocked(); err != nil {
			logger.Warnf("[cache] 保存缓存索引失败: %v", err)
		}
	}
	return deleted
}

// DeleteByKey 删除指定缓存条目。
func (ac *AssetCache) DeleteByKey(key string) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	entry, ok := ac.index[key]
	if !ok {
		return false
	}
	if err := ac.removeFileLocked(entry); err != nil {
		logger.Warnf("[cache] 删除缓存文件失败: %s: %v", entry.Path, err)
		return false
	}
	delete(ac.index, key)
	if err := ac.saveIndexLocked(); err != nil {
		logger.Warnf("[cache] 保存缓存索引失败: %v", err)
	}
	return true
}

func (ac *AssetCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(ac.dir, cacheIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &ac.index)
}

// saveIndexLocked 先写临时文件再 rename，避免中途退出留下半个索引（调用方需持有锁）。
func (ac *AssetCache) saveIndexLocked() error {
	data, err := json.MarshalIndent(ac.index, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(ac.dir, cacheIndexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// validateIndex 移除本地文件已不存在的条目。
func (ac *AssetCache) validateIndex() {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	removed := 0
	for key, entry := range ac.index {
		if entry == nil || entry.Path == "" {
			delete(ac.index, key)
			removed++
			continue
		}
		if _, err := os.Stat(entry.Path); err != nil {
			delete(ac.index, key)
			removed++
		}
	}

	if removed > 0 {
		logger.Infof("[cache] 索引校验：移除 %d 个无效条目", removed)
		if err := ac.saveIndexLocked(); err != nil {
			logger.Warnf("[cache] 保存缓存索引失败: %v", err)
		}
	}
	logger.Debugf("[cache] 缓存已加载: %d 首, 目录 %s", len(ac.index), ac.dir)
}

// evictLocked 总大小超过上限时按最后播放时间淘汰，keep 指定的条目不淘汰（调用方需持有锁）。
func (ac *AssetCache) evictLocked(keep string) {
	var totalSize int64
	for _, entry := range ac.index {
		totalSize += entry.Size
	}
	if totalSize <= ac.maxSize {
		return
	}

	entries := make([]*CacheEntry, 0, len(ac.index))
	for _, v := range ac.index {
		if v.Key != keep {
			entries = append(entries, v)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastPlayed < entries[j].LastPlayed
	})

	for _, entry := range entries {
		if totalSize <= ac.maxSize {
			break
		}
		if err := ac.removeFileLocked(entry); err != nil {
			logger.Warnf("[cache] 删除缓存文件失败: %s: %v", entry.Path, err)
			continue
		}
		totalSize -= entry.Size
		delete(ac.index, entry.Key)
		logger.Infof("[cache] LRU 淘汰: %s - %s (%s)", entry.Title, entry.Author, entry.Key)
	}
}

// removeFileLocked 删除条目对应的文件，文件仍被其他条目使用时保留（调用方需持有锁）。
func (ac *AssetCache) removeFileLocked(entry *CacheEntry) error {
	if ac.pathSharedLocked(entry) {
		return nil
	}
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// pathSharedLocked 判断是否有其他条目指向同一个文件（调用方需持有锁）。
func (ac *AssetCache) pathSharedLocked(entry *CacheEntry) bool {
	for key, other := range ac.index {
		if key != entry.Key && other.Path == entry.Path {
			return true
		}
	}
	return false
}

// titlePinyin 返回标题中汉字的全拼和首字母，非汉字部分会被忽略。
func titlePinyin(title string) (full, initials string) {
	args := pinyin.NewArgs()
	syllables := pinyin.LazyPinyin(title, args)
	if len(syllables) == 0 {
		return "", ""
	}
	var fb, ib strings.Builder
	for _, s := range syllables {
		fb.WriteString(s)
		if s != "" {
			ib.WriteByte(s[0])
		}
	}
	return fb.String(), ib.String()
}
