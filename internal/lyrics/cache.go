package lyrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/logger"
)

// CachedProvider 在另一个 Provider 前面加一层 SQLite 缓存。
// 只缓存找到的歌词，未找到和出错的结果每次都会重新查询。
type CachedProvider struct {
	db    *database.DB
	inner Provider
}

// NewCachedProvider 创建带缓存的歌词服务。db 需要已经完成 Migrate。
func NewCachedProvider(db *database.DB, inner Provider) *CachedProvider {
	return &CachedProvider{db: db, inner: inner}
}

// Get 先查缓存，未命中时调用内部 Provider 并写回缓存。
func (p *CachedProvider) Get(ctx context.Context, q Query) (string, error) {
	synced, err := p.lookup(ctx, q)
	switch {
	case err == nil:
		logger.Debugf("[lyrics] 缓存命中: %s - %s", q.Artist, q.Track)
		return synced, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		logger.Warnf("[lyrics] 读取歌词缓存失败: %v", err)
	}

	synced, err = p.inner.Get(ctx, q)
	if err != nil {
		return "", err
	}
	if synced == "" {
		return synced, nil
	}

	if err := p.store(ctx, q, synced); err != nil {
		logger.Warnf("[lyrics] 写入歌词缓存失败: %v", err)
	}
	return synced, nil
}

func (p *CachedProvider) lookup(ctx context.Context, q Query) (string, error) {
	var synced string
	err := p.db.QueryRowContext(ctx,
		`SELECT synced FROM lyrics_cache WHERE artist = ? AND track = ? AND album = ? AND duration = ?`,
		q.Artist, q.Track, q.Album, q.Duration,
	).Scan(&synced)
	return synced, err
}

func (p *CachedProvider) store(ctx context.Context, q Query, synced string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO lyrics_cache (artist, track, album, duration, synced) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(artist, track, album, duration) DO UPDATE SET synced = excluded.synced, fetched_at = CURRENT_TIMESTAMP`,
		q.Artist, q.Track, q.Album, q.Duration, synced,
	)
	if err != nil {
		return fmt.Errorf("保存歌词缓存失败: %w", err)
	}
	return nil
}

// Purge 清空歌词缓存，返回删除的条数。
func (p *CachedProvider) Purge(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM lyrics_cache`)
	if err != nil {
		return 0, fmt.Errorf("清空歌词缓存失败: %w", err)
	}
	return res.RowsAffected()
}
