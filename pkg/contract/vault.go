package contract

import (
	"context"
	"time"
)

// UpsertResult: 一次落盘（或预演）的目标位置。
// WasCreated=true 表示写入的是基础文件名；false 表示写入了 -N 版本副本。
type UpsertResult struct {
	Path       string
	Folder     string
	Filename   string
	WasCreated bool
}

// Vault: 将联系人文档写入按社区分目录的文档库。
// 约束：
//  1. 同一文件名永不覆盖，冲突时按 -2..-5 顺序寻找空位；
//  2. 全部槽位占用时返回 ErrVersionsExhausted 且不写任何文件；
//  3. Plan 计算相同目标但不产生任何写入；
//  4. ctx 取消/超时需尽快返回。
type Vault interface {
	Upsert(ctx context.Context, c Contact) (UpsertResult, error)
	Plan(ctx context.Context, c Contact) (UpsertResult, error)
}

// RowStatus: 行处理结局。
type RowStatus string

const (
	RowSucceeded RowStatus = "succeeded"
	RowFailed    RowStatus = "failed"
	RowPlanned   RowStatus = "planned" // dry-run
	RowSkipped   RowStatus = "skipped" // 账本显示已成功
)

// LedgerEntry: 单行处理历史记录。
type LedgerEntry struct {
	RunID      string
	Sequence   Sequence
	ExternalID int64
	Name       string
	Status     RowStatus
	Path       string
	Error      string
	At         time.Time
}

// Ledger: 可选的逐行处理历史（非核心契约）。
// 账本错误仅记录日志，不影响检查点语义。
type Ledger interface {
	Succeeded(ctx context.Context, seq Sequence, externalID int64) (bool, error)
	Record(ctx context.Context, e LedgerEntry) error
}
