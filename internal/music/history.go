package music

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iabetor/lrcplay/internal/database"
	"github.com/iabetor/lrcplay/internal/logger"
)

// 播放状态
const (
	StatusPlaying  = "playing"
	StatusFinished = "finished"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

const historyTimeLayout = time.RFC3339

// HistoryEntry 播放历史条目，一次会话一条。
type HistoryEntry struct {
	SessionID  string
	Query      string
	VideoID    string
	Title      string
	Author     string
	Source     string
	LyricLines int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // 未结束时为零值
}

// HistoryStore 播放历史存储，保存在共享的 SQLite 数据库中。
type HistoryStore struct {
	db      *database.DB
	maxSize int // 最多保留的记录数
}

// NewHistoryStore 创建播放历史存储。db 需要已经完成 Migrate。
func NewHistoryStore(db *database.DB) *HistoryStore {
	return &HistoryStore{db: db, maxSize: 500}
}

// Start 记录一次会话开始。
func (s *HistoryStore) Start(ctx context.Context, e HistoryEntry) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusPlaying
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO play_history (session_id, query, video_id, title, author, source, lyric_lines, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Query, e.VideoID, e.Title, e.Author, e.Source, e.LyricLines, e.Status,
		e.StartedAt.Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("写入播放历史失败: %w", err)
	}

	s.trim(ctx)
	return nil
}

// Finish 记录会话结束状态，cause 非 nil 时保存错误信息。
func (s *HistoryStore) Finish(ctx context.Context, sessionID, status string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE play_history SET status = ?, error = ?, finished_at = ? WHERE session_id = ?`,
		status, msg, time.Now().Format(historyTimeLayout), sessionID,
	)
	if err != nil {
		return fmt.Errorf("更新播放历史失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("播放记录不存在: %s", sessionID)
	}
	return nil
}

// List 返回最近的播放记录，最新的在前。limit <= 0 时返回全部。
func (s *HistoryStore) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `SELECT session_id, query, video_id, title, author, source, lyric_lines, status, error, started_at, finished_at
		FROM play_history ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询播放历史失败: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var started string
		var finished sql.NullString
		if err := rows.Scan(&e.SessionID, &e.Query, &e.VideoID, &e.Title, &e.Author, &e.Source,
			&e.LyricLines, &e.Status, &e.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("读取播放历史失败: %w", err)
		}
		e.StartedAt, _ = time.Parse(historyTimeLayout, started)
		if finished.Valid {
			e.FinishedAt, _ = time.Parse(historyTimeLayout, finished.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear 清空播放历史，返回删除的条数。
func (s *HistoryStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM play_history`)
	if err != nil {
		return 0, fmt.Errorf("清空播放历史失败: %w", err)
	}
	return res.RowsAffected()
}

// trim 只保留最近 maxSize 条记录。
func (s *HistoryStore) trim(ctx context.Context) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM play_history WHERE id NOT IN (SELECT id FROM play_history ORDER BY id DESC LIMIT ?)`,
		s.maxSize,
	)
	if err != nil {
		logger.Warnf("[music] 清理播放历史失败: %v", err)
	}
}
