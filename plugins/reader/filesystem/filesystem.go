package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"tend/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
}

// FileSystem 实现基于文件系统与 STDIN 的批量输入打开器。
type FileSystem struct {
	bufSize int
	stdin   io.Reader
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	return &FileSystem{bufSize: b, stdin: os.Stdin}
}

var _ contract.Reader = (*FileSystem)(nil)

// Open 打开批量输入。"-" 表示 STDIN（Close 不关闭进程 STDIN）。
// 符号链接跟随到常规文件；目录与设备等非常规目标返回错误。
func (r *FileSystem) Open(ctx context.Context, input string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("reader: input empty: %w", contract.ErrInvalidInput)
	}
	if input == "-" {
		// 统一缓冲策略：STDIN 也使用 bufio.Reader 封装
		return newBufferedCloser(io.NopCloser(r.stdin), r.bufSize), nil
	}

	// os.Stat 跟随符号链接，直接判定最终目标
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("reader: %s is not a regular file: %w", input, contract.ErrInvalidInput)
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
