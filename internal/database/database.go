package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabetor/lrcplay/internal/logger"
	_ "modernc.org/sqlite"
)

// DB 是统一的 SQLite 数据库连接。
// 歌词缓存、播放历史、收藏和歌单共用同一个数据库文件。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建数据库。
// dbPath: 数据库文件路径，如果为空则使用默认路径 ~/.lrcplay/lrcplay.db
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			dbPath = filepath.Join(home, ".lrcplay", "lrcplay.db")
		} else {
			dbPath = "./lrcplay.db"
		}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// WAL 模式下 library 命令可以在播放时读取历史
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=3000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 busy_timeout 失败: %w", err)
	}

	logger.Infof("[database] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 运行数据库迁移。
func (db *DB) Migrate() error {
	migrations := []string{
		// 歌词缓存表，只保存找到的同步歌词
		`CREATE TABLE IF NOT EXISTS lyrics_cache (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artist TEXT NOT NULL,
			track TEXT NOT NULL,
			album TEXT DEFAULT '',
			duration INTEGER DEFAULT 0,
			synced TEXT NOT NULL,
			fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(artist, track, album, duration)
		)`,
		// 播放历史表
		`CREATE TABLE IF NOT EXISTS play_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			query TEXT DEFAULT '',
			video_id TEXT DEFAULT '',
			title TEXT NOT NULL,
			author TEXT DEFAULT '',
			source TEXT DEFAULT '',
			lyric_lines INTEGER DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		// 收藏表，以搜索词标识一首歌
		`CREATE TABLE IF NOT EXISTS favorites (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT NOT NULL UNIQUE,
			title TEXT DEFAULT '',
			author TEXT DEFAULT '',
			added_at DATETIME NOT NULL
		)`,
		// 歌单表
		`CREATE TABLE IF NOT EXISTS playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		)`,
		// 歌单中的歌曲，position 决定播放顺序
		`CREATE TABLE IF NOT EXISTS playlist_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			playlist_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			query TEXT NOT NULL,
			added_at DATETIME NOT NULL,
			UNIQUE(playlist_id, query)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_play_history_started ON play_history(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_play_history_title ON play_history(title)`,
		`CREATE INDEX IF NOT EXISTS idx_playlist_items_order ON playlist_items(playlist_id, position)`,
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warnf("[database] 创建索引失败: %v", err)
		}
	}

	logger.Info("[database] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
