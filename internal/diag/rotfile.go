package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes = 10 * 1024 * 1024
	defaultKeep     = 5
)

// RotatingFile 是按大小轮转的日志 sink，实现 zapcore.WriteSyncer。
// 当前文件为 <prefix>-current.txt；超限时改名为 <prefix>-<UTC 纳秒时间戳>.txt，
// 仅保留最近 keep 个轮转文件。
type RotatingFile struct {
	mu       sync.Mutex
	dir      string
	prefix   string
	maxBytes int64
	keep     int

	f    *os.File
	size int64
}

// NewRotatingFile 以 tend 前缀创建 sink；maxBytes<=0 取 10MiB。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &RotatingFile{dir: dir, prefix: "tend", maxBytes: maxBytes, keep: defaultKeep}
}

func (w *RotatingFile) currentPath() string {
	return filepath.Join(w.dir, w.prefix+"-current.txt")
}

// Write 写入一条已编码日志（zap 编码器输出自带换行）。
// 空文件上的超长条目直接写入，不触发轮转。
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

// Close 关闭当前文件；之后的 Write 会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingFile) open() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("diag: log dir: %w", err)
	}
	f, err := os.OpenFile(w.currentPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("diag: open log: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.f = f
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	stamp := time.Now().UTC().Format("20060102-150405.000000000")
	target := filepath.Join(w.dir, fmt.Sprintf("%s-%s.txt", w.prefix, stamp))
	if err := os.Rename(w.currentPath(), target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diag: rotate log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出 keep 的最旧轮转文件；失败忽略。
func (w *RotatingFile) prune() {
	if w.keep <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(w.dir, w.prefix+"-*.txt"))
	if err != nil {
		return
	}
	rotated := matches[:0]
	for _, m := range matches {
		if !strings.HasSuffix(m, "-current.txt") {
			rotated = append(rotated, m)
		}
	}
	if len(rotated) <= w.keep {
		return
	}
	// 时间戳定长，字典序即时间序
	sort.Strings(rotated)
	for _, old := range rotated[:len(rotated)-w.keep] {
		_ = os.Remove(old)
	}
}
