package music

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/logger"
)

var (
	// ErrPlaylistExists 同名歌单已存在。
	ErrPlaylistExists = errors.New("歌单已存在")
	// ErrPlaylistNotFound 歌单不存在。
	ErrPlaylistNotFound = errors.New("歌单不存在")
)

// PlaylistInfo 歌单摘要。
type PlaylistInfo struct {
	Name      string
	Count     int
	CreatedAt time.Time
}

// PlaylistStore 命名歌单存储。每个歌单保存一组有序的搜索词，播放时整体放入 Queue。
type PlaylistStore struct {
	db *database.DB
}

// NewPlaylistStore 创建歌单存储。db 需要已经完成 Migrate。
func NewPlaylistStore(db *database.DB) *PlaylistStore {
	return &PlaylistStore{db: db}
}

// Create 创建空歌单。
func (s *PlaylistStore) Create(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("歌单名不能为空")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO playlists (name, created_at) VALUES (?, ?)`,
		name, time.Now().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("创建歌单失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPlaylistExists, name)
	}
	logger.Infof("[playlist] 已创建歌单: %s", name)
	return nil
}

// Delete 删除歌单及其中的歌曲。
func (s *PlaylistStore) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("删除歌单失败: %w", err)
	}
	defer tx.Rollback()

	id, err := playlistID(ctx, tx, name)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_items WHERE playlist_id = ?`, id); err != nil {
		return fmt.Errorf("删除歌单歌曲失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("删除歌单失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("删除歌单失败: %w", err)
	}
	logger.Infof("[playlist] 已删除歌单: %s", name)
	return nil
}

// Add 把歌曲加到歌单末尾，歌单不存在时自动创建。
// 歌曲已在歌单中时不重复添加，added 为 false。
func (s *PlaylistStore) Add(ctx context.Context, name, query string) (added bool, err error) {
	name, query = strings.TrimSpace(name), strings.TrimSpace(query)
	if name == "" || query == "" {
		return false, fmt.Errorf("歌单名和歌曲都不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("添加到歌单失败: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(historyTimeLayout)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO playlists (name, created_at) VALUES (?, ?)`, name, now); err != nil {
		return false, fmt.Errorf("创建歌单失败: %w", err)
	}
	id, err := playlistID(ctx, tx, name)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO playlist_items (playlist_id, position, query, added_at)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM playlist_items WHERE playlist_id = ?), ?, ?)`,
		id, id, query, now,
	)
	if err != nil {
		return false, fmt.Errorf("添加到歌单失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("添加到歌单失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove 从歌单中移除歌曲，返回是否移除。
func (s *PlaylistStore) Remove(ctx context.Context, name, query string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM playlist_items WHERE query = ? AND playlist_id = (SELECT id FROM playlists WHERE name = ?)`,
		strings.TrimSpace(query), strings.TrimSpace(name),
	)
	if err != nil {
		return false, fmt.Errorf("从歌单移除失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Items 按添加顺序返回歌单中的搜索词。
func (s *PlaylistStore) Items(ctx context.Context, name string) ([]string, error) {
	id, err := playlistID(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT query FROM playlist_items WHERE playlist_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("查询歌单失败: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("读取歌单失败: %w", err)
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

// List 返回全部歌单，按创建顺序。
func (s *PlaylistStore) List(ctx context.Context) ([]PlaylistInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.name, p.created_at, COUNT(i.id)
		 FROM playlists p LEFT JOIN playlist_items i ON i.playlist_id = p.id
		 GROUP BY p.id ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("查询歌单失败: %w", err)
	}
	defer rows.Close()

	var list []PlaylistInfo
	for rows.Next() {
		var info PlaylistInfo
		var created string
		if err := rows.Scan(&info.Name, &created, &info.Count); err != nil {
			return nil, fmt.Errorf("读取歌单失败: %w", err)
		}
		info.CreatedAt, _ = time.Parse(historyTimeLayout, created)
		list = append(list, info)
	}
	return list, rows.Err()
}

// LoadInto 用歌单内容替换队列，返回歌曲数量。
func (s *PlaylistStore) LoadInto(ctx context.Context, name string, q *Queue) (int, error) {
	items, err := s.Items(ctx, name)
	if err != nil {
		return 0, err
	}
	q.Replace(items)
	logger.Infof("[playlist] 载入歌单 %s: %d 首", name, len(items))
	return len(items), nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func playlistID(ctx context.Context, db queryRower, name string) (int64, error) {
	name = strings.TrimSpace(name)
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM playlists WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrPlaylistNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("查询歌单失败: %w", err)
	}
	return id, nil
}
