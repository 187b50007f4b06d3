// Package sqlitex 把每次运行的结果行追加到 SQLite 数据库（可选 sink）。
package sqlitex

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/domain"
)

// Store 封装数据库连接。
type Store struct {
	db   *sql.DB
	path string
}

// Open 打开（或创建）path 处的数据库。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 SQLite 失败")
	}
	// 单进程顺序写入，一个连接足够，也避免写锁竞争。
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema 建表（幂等）。
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS show_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		show_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		copyright TEXT NOT NULL DEFAULT '',
		languages TEXT NOT NULL DEFAULT '',
		is_explicit BOOLEAN NOT NULL DEFAULT FALSE,
		publisher TEXT NOT NULL DEFAULT '',
		externally_hosted BOOLEAN NOT NULL DEFAULT FALSE,
		total_episodes INTEGER NOT NULL DEFAULT 0,
		link TEXT NOT NULL DEFAULT '',
		avg_episode_minutes REAL NOT NULL,
		avg_release_gap_days REAL,
		rating TEXT NOT NULL,
		raters TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id),
		UNIQUE(run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_show_rows_show ON show_rows(show_id);
	`
	_, err := s.db.Exec(schema)
	return errors.Wrap(err, "初始化 SQLite schema 失败")
}

// NewRunID 生成一次运行的标识。
func NewRunID() string {
	return uuid.NewString()
}

// WriteRows 在一个事务里写入 runID 的全部非空行；seq 是行在结果集中的位置（含占位）。
func (s *Store) WriteRows(ctx context.Context, runID string, rows domain.ResultSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	n := len(rows.Rows())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, row_count) VALUES (?, ?, ?)`,
		runID, time.Now().UTC(), n,
	); err != nil {
		return errors.Wrap(err, "写入 runs 失败")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO show_rows (
			run_id, seq, show_id, name, description, copyright, languages,
			is_explicit, publisher, externally_hosted, total_episodes, link,
			avg_episode_minutes, avg_release_gap_days, rating, raters
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "准备语句失败")
	}
	defer stmt.Close()

	for i, r := range rows {
		if r == nil {
			continue
		}
		var gap sql.NullFloat64
		if r.AvgReleaseGapDays.Valid {
			gap = sql.NullFloat64{Float64: r.AvgReleaseGapDays.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			runID, i, string(r.ShowID), r.Name, r.Description, r.Copyright, r.Languages,
			r.Explicit, r.Publisher, r.ExternallyHosted, r.TotalEpisodes, r.Link,
			r.AvgEpisodeMinutes, gap, r.Rating.Average, r.Rating.Raters,
		); err != nil {
			return errors.Wrapf(err, "写入节目 %s 失败", r.ShowID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "提交事务失败")
	}
	log.WithFields(log.Fields{
		"path":   s.path,
		"run_id": runID,
		"rows":   n,
	}).Info("SQLite 已写入")
	return nil
}

// CountRun 返回 runID 写入的行数。
func (s *Store) CountRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM show_rows WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "查询行数失败")
	}
	return n, nil
}

// RunSink 把 Store 绑定到一次运行，供流水线当作 sink 使用。
type RunSink struct {
	Store *Store
	RunID string
}

func (r RunSink) Target() string { return r.Store.path }

func (r RunSink) WriteRows(ctx context.Context, rows domain.ResultSet) error {
	return r.Store.WriteRows(ctx, r.RunID, rows)
}
