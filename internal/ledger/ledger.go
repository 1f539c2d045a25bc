package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // 注册纯 Go SQLite 驱动（driver 名 "sqlite"）

	"tend/pkg/contract"
)

const schema = `
CREATE TABLE IF NOT EXISTS row_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	sequence    INTEGER NOT NULL,
	external_id INTEGER NOT NULL,
	name        TEXT    NOT NULL DEFAULT '',
	status      TEXT    NOT NULL,
	path        TEXT    NOT NULL DEFAULT '',
	error       TEXT    NOT NULL DEFAULT '',
	at          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_row_outcomes_key ON row_outcomes(sequence, external_id, status);
CREATE INDEX IF NOT EXISTS idx_row_outcomes_run ON row_outcomes(run_id);
`

// Store 为逐行处理历史（SQLite 单文件）。
// 单连接串行访问；与检查点相互独立，任何错误由调用方记录后忽略。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）账本文件并建表。
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger: %w: empty path", contract.ErrInvalidInput)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record 追加一条结局。
func (s *Store) Record(ctx context.Context, e contract.LedgerEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO row_outcomes(run_id, sequence, external_id, name, status, path, error, at) VALUES(?,?,?,?,?,?,?,?)`,
		e.RunID, int64(e.Sequence), e.ExternalID, e.Name, string(e.Status), e.Path, e.Error, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	return nil
}

// Succeeded 判断 (sequence, external id) 是否在任一历史运行中成功过。
func (s *Store) Succeeded(ctx context.Context, seq contract.Sequence, externalID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM row_outcomes WHERE sequence = ? AND external_id = ? AND status = ? LIMIT 1`,
		int64(seq), externalID, string(contract.RowSucceeded)).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("ledger: lookup: %w", err)
	}
	return true, nil
}

// Failures 返回某次运行的失败行（按序号升序）。
func (s *Store) Failures(ctx context.Context, runID string) ([]contract.LedgerEntry, error) {
	return s.query(ctx,
		`SELECT run_id, sequence, external_id, name, status, path, error, at FROM row_outcomes WHERE run_id = ? AND status = ? ORDER BY sequence, id`,
		runID, string(contract.RowFailed))
}

// History 返回某联系人的全部结局（按时间升序）。
func (s *Store) History(ctx context.Context, externalID int64) ([]contract.LedgerEntry, error) {
	return s.query(ctx,
		`SELECT run_id, sequence, external_id, name, status, path, error, at FROM row_outcomes WHERE external_id = ? ORDER BY id`,
		externalID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]contract.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()
	var out []contract.LedgerEntry
	for rows.Next() {
		var (
			e      contract.LedgerEntry
			seq    int64
			status string
			at     string
		)
		if err := rows.Scan(&e.RunID, &seq, &e.ExternalID, &e.Name, &status, &e.Path, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		e.Sequence = contract.Sequence(seq)
		e.Status = contract.RowStatus(status)
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: rows: %w", err)
	}
	return out, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ contract.Ledger = (*Store)(nil)
