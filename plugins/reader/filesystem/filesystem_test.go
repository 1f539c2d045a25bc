package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tend/pkg/contract"
)

// TestOpenFile 读取单文件
func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "contacts.csv")
	if err := os.WriteFile(fp, []byte("hello"), 0o644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	r := New(nil)
	rc, err := r.Open(context.Background(), fp)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "hello" {
		t.Fatalf("内容不符: %q", string(b))
	}
}

// TestOpenStdin "-" 读取 STDIN
func TestOpenStdin(t *testing.T) {
	r := New(&Options{BufSize: 16})
	r.stdin = strings.NewReader("seq,clay_id\n1,2\n")
	rc, err := r.Open(context.Background(), "-")
	if err != nil {
		t.Fatalf("open stdin: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.HasPrefix(string(b), "seq,clay_id") {
		t.Fatalf("stdin 内容不符: %q", string(b))
	}
}

// TestOpenDirRejected 目录不是合法输入
func TestOpenDirRejected(t *testing.T) {
	_, err := New(nil).Open(context.Background(), t.TempDir())
	if !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("目录应被拒绝, got %v", err)
	}
}

// TestOpenMissing 不存在的文件返回底层错误
func TestOpenMissing(t *testing.T) {
	_, err := New(nil).Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expect not exist, got %v", err)
	}
}

// TestOpenEmptyInput 空路径非法
func TestOpenEmptyInput(t *testing.T) {
	_, err := New(nil).Open(context.Background(), "  ")
	if !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空输入应非法, got %v", err)
	}
}

// TestOpenCanceled ctx 已取消时立即返回
func TestOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Open(ctx, "-")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect canceled, got %v", err)
	}
}
