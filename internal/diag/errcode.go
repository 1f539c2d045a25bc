package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"tend/pkg/contract"
)

// Code 是日志与指标使用的错误分类，与退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeNotFound  Code = "not_found"
	CodeConflict  Code = "conflict"
)

// 按顺序匹配，先命中者生效。
var sentinelCodes = []struct {
	err  error
	code Code
}{
	{context.Canceled, CodeCancel},
	{context.DeadlineExceeded, CodeCancel},
	{contract.ErrRateLimited, CodeBudget},
	{contract.ErrNotFound, CodeNotFound},
	{contract.ErrVersionsExhausted, CodeConflict},
	{contract.ErrResponseInvalid, CodeProtocol},
	{contract.ErrCheckpoint, CodeIO},
	{contract.ErrInvariantViolation, CodeInvariant},
	{contract.ErrInvalidInput, CodeInvariant},
	{contract.ErrEmptyInput, CodeInvariant},
	{contract.ErrMissingColumn, CodeInvariant},
	{contract.ErrPathInvalid, CodeInvariant},
}

// Classify 将错误映射为 Code：先查哨兵，再看错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	// 上游 5xx/408
	var uerr contract.UpstreamError
	if errors.As(err, &uerr) {
		return CodeNetwork
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}
