// Package checkpoint 持久化批量入库的高水位序号。
// 文件内容为单个十进制整数；文件缺失或内容不可解析均视为 0。
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tend/pkg/contract"
)

// DefaultFile 为默认检查点文件名（位于工作目录）。
const DefaultFile = "tend-checkpoint.txt"

// Store 为基于单文件的检查点存储。
type Store struct {
	path string
}

// New 创建检查点存储；path 为空时使用 DefaultFile。
func New(path string) *Store {
	if strings.TrimSpace(path) == "" {
		path = DefaultFile
	}
	return &Store{path: path}
}

var _ contract.Checkpoint = (*Store)(nil)

// Path 返回检查点文件位置（用于日志）。
func (s *Store) Path() string { return s.path }

// Read 读取高水位；缺失返回 0，内容损坏同样返回 0（与历史行为一致）。
// 仅当文件存在但不可读时返回错误。
func (s *Store) Read(ctx context.Context) (contract.Sequence, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if perr != nil || n < 0 {
		return 0, nil
	}
	return contract.Sequence(n), nil
}

// Write 原子写入高水位（同目录临时文件 + rename）。
func (s *Store) Write(ctx context.Context, seq contract.Sequence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seq < 0 {
		return fmt.Errorf("checkpoint: negative sequence %d: %w", seq, contract.ErrInvalidInput)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-checkpoint-*")
	if err != nil {
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strconv.FormatInt(int64(seq), 10)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	return nil
}

// Reset 删除检查点文件；文件本不存在视为成功。
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", contract.ErrCheckpoint, err)
	}
	return nil
}
