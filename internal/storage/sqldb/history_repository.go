package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/history"
)

// HistoryRepository 把任务历史写入 chat_history 表。
type HistoryRepository struct {
	db    *sql.DB
	clock *history.Clock
	mu    sync.Mutex
}

var _ history.Log = (*HistoryRepository)(nil)

// NewHistoryRepository 打开数据库、执行迁移并恢复时钟。
func NewHistoryRepository(ctx context.Context, cfg Config) (*HistoryRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, cfg.Dialect); err != nil {
		db.Close()
		return nil, err
	}
	repo := &HistoryRepository{db: db, clock: history.NewClock(nil)}
	if err := repo.restoreClock(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *HistoryRepository) restoreClock(ctx context.Context) error {
	var latest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM chat_history`).Scan(&latest); err != nil {
		return fmt.Errorf("读取历史最新时间失败: %w", err)
	}
	if latest.Valid {
		r.clock.Observe(time.UnixMicro(latest.Int64))
	}
	return nil
}

// Append 实现 history.Log 接口。写入串行化，保证 id 顺序与时间戳顺序一致。
func (r *HistoryRepository) Append(ctx context.Context, entry history.Entry) (history.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock.Stamp(&entry)
	const stmt = `INSERT INTO chat_history (user_id, request, response, status, created_at)
    VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, stmt,
		entry.User,
		entry.Request,
		entry.Response,
		string(entry.Status),
		entry.Timestamp.UnixMicro(),
	); err != nil {
		return history.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务历史失败")
	}
	return entry, nil
}

// List 实现 history.Log 接口。
func (r *HistoryRepository) List(ctx context.Context) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, request, response, status, created_at
    FROM chat_history ORDER BY id ASC`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	defer rows.Close()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var (
			entry   history.Entry
			status  string
			created int64
		)
		if err := rows.Scan(&entry.User, &entry.Request, &entry.Response, &status, &created); err != nil {
			return nil, fmt.Errorf("解析任务历史失败: %w", err)
		}
		entry.Status = history.Status(status)
		entry.Timestamp = time.UnixMicro(created).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历任务历史失败: %w", err)
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (r *HistoryRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
