package diag

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tend/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	if err := writeLine(w, "first line that is very long"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := writeLine(w, "second"); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
	_ = w.Close()
}

// 当前文件名与时间戳文件同时存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		if err := writeLine(w, "xxxxxxxxxxxxxxxxxx"); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	defer w.Close()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == "tend-current.txt" {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "tend-") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	if !hasCurrent || !hasRotated {
		t.Fatalf("expect both current and rotated files, got current=%v rotated=%v", hasCurrent, hasRotated)
	}
}

// 单条超过上限的日志不会在空文件上反复轮转
func TestRotatingFileOversizedEntry(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4)
	defer w.Close()
	n, err := w.Write([]byte("0123456789\n"))
	if err != nil || n != 11 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 1 {
		t.Fatalf("空文件不应轮转, got %d files", len(ents))
	}
}

func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	if w.maxBytes != 10*1024*1024 {
		t.Fatalf("默认上限错误: %d", w.maxBytes)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("未打开时 Sync 应为 no-op: %v", err)
	}
	if err := writeLine(w, "a"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	// 已关闭时轮转：改名后重新打开
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := os.Stat(w.currentPath()); err != nil {
		t.Fatalf("current 应被重建: %v", err)
	}
	_ = w.Close()
}

// 轮转文件仅保留最近 keep 个
func TestRotatingFilePrune(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 8)
	w.keep = 2
	defer w.Close()
	for i := 0; i < 6; i++ {
		if err := writeLine(w, fmt.Sprintf("line-%d", i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "tend-2*.txt"))
	if len(matches) != 2 {
		t.Fatalf("应保留 2 个轮转文件, got %v", matches)
	}
}

func writeLine(w *RotatingFile, s string) error {
	_, err := w.Write([]byte(s + "\n"))
	return err
}

// 结构化字段：corr_id/comp/stage/seq/ext_id/kv
func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore("corr-1", core)

	l.StartWith("fetch", "lookup", 3, 42).Finish("done", 1)
	l.ErrorWithKV("fetch", "not_found", "missing", nil, 4, 43, map[string]string{"http_status": "404"})
	l.Warn("source", "dropped row", 0, map[string]string{"line": "7"})

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("期望 4 条日志, got %d", len(entries))
	}
	start := entries[0].ContextMap()
	if start["corr_id"] != "corr-1" || start["comp"] != "fetch" || start["stage"] != "start" {
		t.Fatalf("start 字段错误: %v", start)
	}
	if start["seq"] != int64(3) || start["ext_id"] != "42" {
		t.Fatalf("seq/ext_id 错误: %v", start)
	}
	finish := entries[1].ContextMap()
	if finish["stage"] != "finish" || finish["count"] != int64(1) {
		t.Fatalf("finish 字段错误: %v", finish)
	}
	errEv := entries[2]
	if errEv.Level != zapcore.ErrorLevel || errEv.ContextMap()["code"] != "not_found" {
		t.Fatalf("error 事件错误: %v", errEv.ContextMap())
	}
	if entries[3].Level != zapcore.WarnLevel {
		t.Fatalf("warn 级别错误: %v", entries[3].Level)
	}
	if _, ok := entries[3].ContextMap()["seq"]; ok {
		t.Fatalf("零值 seq 不应输出")
	}
}

// level 过滤
func TestLoggerLevelFilter(t *testing.T) {
	core, logs := observer.New(parseLevel("warn").zap())
	l := NewWithCore("c", core)
	l.DebugStart("comp", "msg", 1, 2, nil)
	l.Start("comp", "msg").Finish("ok", 0)
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	if logs.Len() != 1 {
		t.Fatalf("warn 级别下仅应保留 error, got %d", logs.Len())
	}
	if dur, _ := logs.All()[0].ContextMap()["dur_ms"].(int64); dur < 10 {
		t.Fatalf("dur_ms 应 >= 10, got %v", dur)
	}
}

func TestLevelString(t *testing.T) {
	if Warn.String() != "warn" || Debug.String() != "debug" {
		t.Fatalf("level string")
	}
	var unknown Level = 12345
	if unknown.String() != "info" {
		t.Fatalf("default string")
	}
	if parseLevel(" DEBUG ") != Debug || parseLevel("bogus") != Info {
		t.Fatalf("parseLevel")
	}
}

// 落盘为单行 JSON
func TestLoggerWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("corr-file", "info", dir)
	l.StartWith("write", "upsert", 9, 77).Finish("ok", 1)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, "tend-current.txt"))
	if err != nil {
		t.Fatalf("log file not found: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("非 JSON 行: %q", sc.Text())
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("期望 2 行, got %d", len(lines))
	}
	if lines[0]["corr_id"] != "corr-file" || lines[0]["ext_id"] != "77" || lines[0]["level"] != "info" {
		t.Fatalf("字段错误: %v", lines[0])
	}
	if _, err := time.Parse(time.RFC3339, lines[0]["ts"].(string)); err != nil {
		t.Fatalf("ts 格式错误: %v", lines[0]["ts"])
	}
}

// nil Logger/Timer 为 no-op
func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Start("c", "m").Finish("x", 0)
	l.Warn("c", "m", 1, nil)
	l.ErrorWith("c", "code", "m", nil, 1, 2)
	l.InfoFinish("c", "m", time.Now(), 0)
	if err := l.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
	var tnil *Timer
	tnil.Finish("x", 0)
	if tnil.Elapsed() != 0 {
		t.Fatalf("nil elapsed")
	}
}

func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("fetch", "finish", "success"))
	IncOp("fetch", "finish", "success")
	if got := testutil.ToFloat64(opTotal.WithLabelValues("fetch", "finish", "success")); got != before+1 {
		t.Fatalf("op_total 未递增: %v", got)
	}
	IncError("fetch", string(CodeNotFound))
	if testutil.ToFloat64(errorTotal.WithLabelValues("fetch", "not_found")) < 1 {
		t.Fatalf("error_total 未递增")
	}
	ObserveDuration("fetch", "finish", 12)

	path := filepath.Join(t.TempDir(), "tend.prom")
	if err := WriteMetrics(path); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, name := range []string{"tend_op_total", "tend_error_total", "tend_op_duration_ms"} {
		if !strings.Contains(string(b), name) {
			t.Fatalf("缺少指标 %s", name)
		}
	}
	if err := WriteMetrics(""); err != nil {
		t.Fatalf("空路径应为 no-op: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{contract.ErrResponseInvalid, CodeProtocol},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("lookup: %w", context.DeadlineExceeded), CodeCancel},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{contract.ErrRateLimited, CodeBudget},
		{fmt.Errorf("clay: %w", contract.ErrNotFound), CodeNotFound},
		{contract.ErrVersionsExhausted, CodeConflict},
		{fmt.Errorf("%w: disk full", contract.ErrCheckpoint), CodeIO},
		{contract.ErrMissingColumn, CodeInvariant},
		{errors.New("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

// 终端（非 TTY）逐行输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart(2, 5, false)
	term.RowStart(4, "Ada Lovelace", 1, 2) // 非 TTY：不输出进度
	term.RowFinish(4, "Ada Lovelace", "Friends/Ada Lovelace.md", true, 1500*time.Millisecond)
	term.RowFinish(5, "Alan Turing", "contact not found", false, 20*time.Millisecond)
	term.RunFinish(1, 1, 0, 0, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] 待处理 2 / 共 5 行",
		"#4 Ada Lovelace → Friends/Ada Lovelace.md",
		"1.5s",
		"#5 Alan Turing → contact not found",
		"成功 1 | 失败 1 | 跳过 0 | 无效 0 | 总用时 41.3s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestTerminalDryRunTag(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.RunStart(1, 1, true)
	term.RowFinish(1, "A", "Ungrouped/A.md", true, 0)
	if !strings.Contains(sb.String(), "dry-run") || !strings.Contains(sb.String(), "plan") {
		t.Fatalf("dry-run 标记缺失: %q", sb.String())
	}
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(3, 3, false)

	term.RowStart(1, "a rather long contact name", 1, 3)
	first := sb.String()
	if !strings.Contains(first, "\r[row]") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.RowStart(2, "b", 2, 3)
	if sb.String() != first {
		t.Fatalf("second progress should be throttled")
	}
	// 成功行在 TTY 下不输出
	term.RowFinish(1, "a", "x.md", true, 0)
	if sb.String() != first {
		t.Fatalf("ok row should stay silent on tty")
	}
	term.RowFinish(2, "b", "boom", false, 0)
	final := sb.String()
	idx := strings.LastIndex(final, "fail")
	if idx < 0 {
		t.Fatalf("finish should include fail line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = false
	term.RunStart(1, 1, false)
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.RowStart(1, "a", 1, 1)
	term.RowFinish(1, "a", "b", true, 0)
	term.RunFinish(1, 0, 0, 0, 0)
	term.Printf("x %d", 1)
}

func TestTerminalInlineWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = true
	term.RowStart(1, "a", 1, 2)
	if term.enabled {
		t.Fatalf("terminal should be disabled after inline error")
	}
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	term := NewTerminal(os.Stderr, true)
	if term.isTTY {
		t.Fatalf("CI env should force non-tty")
	}
}

func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, 1, false)
	tn.RowStart(1, "a", 1, 1)
	tn.RowFinish(1, "a", "b", true, 0)
	tn.RunFinish(0, 0, 0, 0, 0)
	tn.Printf("x")
}

func TestHelpers(t *testing.T) {
	if s := shorten("这是一个很长的联系人名字用于截断测试abcdefghijk", 10); utf8.RuneCountInString(s) != 10 || !strings.HasSuffix(s, "…") {
		t.Fatalf("shorten: %q", s)
	}
	if shorten("x", 0) != "" {
		t.Fatalf("shorten max<=0 should be empty")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe replace failed")
	}
	if formatDur(0) != "0ms" {
		t.Fatalf("formatDur 0ms failed")
	}
	if formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur 1.5s failed: %s", formatDur(1500*time.Millisecond))
	}
}
