package contract

import (
	"context"
	"io"
)

// Sequence: 批量输入中的行序号（来源提供或按数据行位置 1 起自动编号）。
// 检查点以该值作为高水位。
type Sequence int64

// Row: 批量输入的一行（入库请求）。
// 约束：
// - ExternalID 必填（缺失的行由解析器丢弃并报告，不会出现在 Rows 中）；
// - Groups 已去空白、去空项、去保留前缀项、去重；
// - Line 为源文件中的 1 起物理行号，仅用于诊断。
type Row struct {
	Sequence   Sequence
	FirstName  string
	LastName   string
	ExternalID int64
	Groups     []string
	Line       int
}

// Name 返回行内姓名（仅用于日志与终端提示）。
func (r Row) Name() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	default:
		return r.FirstName + " " + r.LastName
	}
}

// RowIssue: 被解析器丢弃的行及原因。
type RowIssue struct {
	Line     int
	Sequence Sequence // 可能为 0（无法确定）
	Reason   string
}

// Dialect: 批量输入的表头方言。
type Dialect string

const (
	// DialectTracker: 带 sequence 列的 snake_case 跟踪表。
	DialectTracker Dialect = "tracker"
	// DialectExport: Clay 导出表（Title Case 列名，序号自动编号）。
	DialectExport Dialect = "export"
)

// ParseResult: 解析产物。Rows 保持输入顺序。
type ParseResult struct {
	Dialect Dialect
	Rows    []Row
	Dropped []RowIssue
}

// BatchSource: 将批量输入字节流解析为有序行。
// 约束：
// 1) 空输入/缺少 ID 列为致命错误；
// 2) 单行问题只进入 Dropped，不中断解析；
// 3) 纯函数语义：不做 I/O 之外的副作用。
type BatchSource interface {
	Parse(ctx context.Context, r io.Reader) (ParseResult, error)
}

// Checkpoint: 单个非负整数高水位的持久化存储。
// Read 在缺失时返回 0；Write/Reset 失败对运行致命。
type Checkpoint interface {
	Read(ctx context.Context) (Sequence, error)
	Write(ctx context.Context, seq Sequence) error
	Reset(ctx context.Context) error
}
