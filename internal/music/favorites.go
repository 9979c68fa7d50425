package music

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/logger"
)

var (
	// ErrAlreadyFavorite 歌曲已在收藏列表中。
	ErrAlreadyFavorite = errors.New("歌曲已在收藏列表中")
	// ErrNotFavorite 歌曲不在收藏列表中。
	ErrNotFavorite = errors.New("歌曲不在收藏列表中")
)

// Favorite 收藏的歌曲。Query 是播放时使用的搜索词，Title、Author 仅用于显示。
type Favorite struct {
	Query   string
	Title   string
	Author  string
	AddedAt time.Time
}

// FavoritesStore 收藏存储，保存在共享的 SQLite 数据库中。
type FavoritesStore struct {
	db *database.DB
}

// NewFavoritesStore 创建收藏存储。db 需要已经完成 Migrate。
func NewFavoritesStore(db *database.DB) *FavoritesStore {
	return &FavoritesStore{db: db}
}

// Add 添加收藏，已收藏时返回 ErrAlreadyFavorite。
func (s *FavoritesStore) Add(ctx context.Context, f Favorite) error {
	f.Query = strings.TrimSpace(f.Query)
	if f.Query == "" {
		return fmt.Errorf("收藏的歌曲不能为空")
	}
	if f.AddedAt.IsZero() {
		f.AddedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO favorites (query, title, author, added_at) VALUES (?, ?, ?, ?)`,
		f.Query, f.Title, f.Author, f.AddedAt.Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("写入收藏失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyFavorite
	}
	logger.Debugf("[music] 已收藏: %s", f.Query)
	return nil
}

// Remove 取消收藏，不在收藏中时返回 ErrNotFavorite。
func (s *FavoritesStore) Remove(ctx context.Context, query string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE query = ?`, strings.TrimSpace(query))
	if err != nil {
		return fmt.Errorf("删除收藏失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFavorite
	}
	return nil
}

// Toggle 已收藏则取消，否则添加。返回操作后是否处于收藏状态。
func (s *FavoritesStore) Toggle(ctx context.Context, f Favorite) (bool, error) {
	err := s.Remove(ctx, f.Query)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFavorite):
		return false, err
	}
	if err := s.Add(ctx, f); err != nil {
		return false, err
	}
	return true, nil
}

// List 按收藏顺序返回全部收藏。
func (s *FavoritesStore) List(ctx context.Context) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT query, title, author, added_at FROM favorites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询收藏失败: %w", err)
	}
	defer rows.Close()

	var list []Favorite
	for rows.Next() {
		var f Favorite
		var added string
		if err := rows.Scan(&f.Query, &f.Title, &f.Author, &added); err != nil {
			return nil, fmt.Errorf("读取收藏失败: %w", err)
		}
		f.AddedAt, _ = time.Parse(historyTimeLayout, added)
		list = append(list, f)
	}
	return list, rows.Err()
}

// Queries 返回全部收藏的搜索词，可直接放入播放队列。
func (s *FavoritesStore) Queries(ctx context.Context) ([]string, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	queries := make([]string, len(list))
	for i, f := range list {
		queries[i] = f.Query
	}
	return queries, nil
}
