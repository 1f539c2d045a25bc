package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 每行结局分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
// 颜色由 lipgloss 按 writer 的能力决定，非终端输出为纯文本。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	okStyle   lipgloss.Style
	failStyle lipgloss.Style
	dimStyle  lipgloss.Style

	pending  int
	done     int
	errCount int
	dryRun   bool
	runStart time.Time

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	r := lipgloss.NewRenderer(w)
	t.okStyle = r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	t.failStyle = r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	t.dimStyle = r.NewStyle().Faint(true)
	return t
}

// RunStart: 记录本次运行的规模。
func (t *Terminal) RunStart(pending, total int, dryRun bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.pending = pending
	t.done = 0
	t.errCount = 0
	t.dryRun = dryRun
	t.runStart = time.Now()
	mode := ""
	if dryRun {
		mode = " | dry-run"
	}
	t.println(fmt.Sprintf("[run] 待处理 %d / 共 %d 行%s", pending, total, mode))
}

// RowStart: TTY 下刷新单行进度（≥100ms 节流）。
func (t *Terminal) RowStart(seq int64, name string, idx, pending int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[row] #%d %s | 进度 %d/%d | 错误 %d | 用时 %s",
		seq, shorten(safe(name), 32), idx, pending, t.errCount, formatSince(t.runStart))
	t.printInline(line)
}

// RowFinish: 单行结局；dest 为写入（或预演）路径，失败时为错误摘要。
func (t *Terminal) RowFinish(seq int64, name, dest string, ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	if !ok {
		t.errCount++
	}
	if t.isTTY {
		// 成功行不刷屏，只在失败时留痕
		if ok {
			return
		}
		if t.lastLen > 0 {
			t.printInline("")
		}
	}
	tag := t.okStyle.Render("ok")
	if t.dryRun {
		tag = t.okStyle.Render("plan")
	}
	if !ok {
		tag = t.failStyle.Render("fail")
	}
	t.println(fmt.Sprintf("[%s] #%d %s → %s %s", tag, seq, shorten(safe(name), 48), safe(dest), t.dimStyle.Render(formatDur(dur))))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(succeeded, failed, skipped, invalid int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	tag := t.okStyle.Render("ok")
	if failed > 0 {
		tag = t.failStyle.Render("fail")
	}
	t.println(fmt.Sprintf("[%s] 成功 %d | 失败 %d | 跳过 %d | 无效 %d | 总用时 %s",
		tag, succeeded, failed, skipped, invalid, formatDur(dur)))
}

// Printf 直接输出一行（用于查询类子命令）。
func (t *Terminal) Printf(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(fmt.Sprintf(format, args...))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 若新行比旧短，填充空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten: 按 rune 数截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= max {
		return string(rs)
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

// visLen: 终端单元格宽度（CJK 计 2）。
func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
