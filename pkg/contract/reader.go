package contract

import (
	"context"
	"io"
)

// Reader: 批量输入打开器（文件/STDIN）。
// 约束：
// 1) 仅提供字节流，不做解码/业务解析；
// 2) 调用方负责 Close；
// 3) "-" 表示 STDIN。
type Reader interface {
	Open(ctx context.Context, input string) (io.ReadCloser, error)
}
