package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志/指标编码）。
var (
	// ErrPathInvalid: 目标名称映射为无效/越界路径（例如 '..' 逃逸或清洗后为空）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 调用方输入非法（负序号、空 ID 等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyInput: 批量输入为空（无表头或无数据行）。
	ErrEmptyInput = errors.New("empty input")
	// ErrMissingColumn: 表头缺少必需列（如联系人 ID 列）。
	ErrMissingColumn = errors.New("missing column")
	// ErrVersionsExhausted: 同名文档的全部版本槽位均已占用，需人工处理。
	ErrVersionsExhausted = errors.New("too many versions, manual resolution needed")
	// ErrCheckpoint: 检查点持久化失败（对整次运行致命）。
	ErrCheckpoint = errors.New("checkpoint persist failed")
	// ErrNotFound: 上游不存在该联系人。
	ErrNotFound = errors.New("contact not found")
	// ErrRateLimited: 上游限流。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游响应无法解码。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
