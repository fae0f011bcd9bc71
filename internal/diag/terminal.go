package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	xterm "golang.org/x/term"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 状态标签着色，进度单行 \r 覆盖；非 TTY: 纯文本逐行。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	formats     string
	filesDone   int
	filesFailed int
	assets      int
	bytes       int64
	runStart    time.Time

	lastLen   int
	lastFlush time.Time

	styles termStyles

	mu sync.Mutex
}

type termStyles struct {
	run, file, save, ok, fail lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) termStyles {
	return termStyles{
		run:  r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		file: r.NewStyle().Foreground(lipgloss.Color("14")),
		save: r.NewStyle().Foreground(lipgloss.Color("10")),
		ok:   r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		fail: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = isTerminal(f)
		}
	}
	t.styles = newStyles(lipgloss.NewRenderer(w))
	return t
}

func isTerminal(f *os.File) bool { return xterm.IsTerminal(int(f.Fd())) }

func (t *Terminal) tag(st lipgloss.Style, s string) string {
	if !t.isTTY {
		return "[" + s + "]"
	}
	return st.Render("[" + s + "]")
}

// RunStart: 记录运行上下文（并发、格式）。
func (t *Terminal) RunStart(concurrency int, formats []string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.formats = strings.Join(formats, ",")
	t.filesDone, t.filesFailed, t.assets, t.bytes = 0, 0, 0, 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("%s 并发=%d | 格式=%s", t.tag(t.styles.run, "run"), concurrency, safe(t.formats)))
}

// FileStart: 开始处理一个宿主文件。
func (t *Terminal) FileStart(fileID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	t.println(fmt.Sprintf("%s 处理文件: %s", t.tag(t.styles.file, "file"), safe(fileID)))
}

// AssetSaved: 一个资产已写出。
func (t *Terminal) AssetSaved(name string, size int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.assets++
	t.bytes += size
	t.clearInline()
	t.println(fmt.Sprintf("%s 提取的内容另存为: %s (%s)", t.tag(t.styles.save, "save"), safe(name), humanize.IBytes(uint64(size))))
}

// Progress: 运行中汇总（仅 TTY，≥100ms 节流）。
func (t *Terminal) Progress() {
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
	t.printInline(fmt.Sprintf("[run] 文件 %d | 资产 %d | %s | 用时 %s",
		t.filesDone, t.assets, humanize.IBytes(uint64(t.bytes)), formatSince(t.runStart)))
}

// FileFinish: 完成一个宿主文件。
func (t *Terminal) FileFinish(fileID string, assets int, ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	st, status := t.styles.ok, "done"
	if !ok {
		t.filesFailed++
		st, status = t.styles.fail, "fail"
	}
	t.clearInline()
	t.println(fmt.Sprintf("%s %s | 资产 %d | 用时 %s", t.tag(st, status), shortenBase(fileID, 48), assets, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	st, tag := t.styles.ok, "ok"
	if !ok {
		st, tag = t.styles.fail, "fail"
	}
	t.clearInline()
	t.println(fmt.Sprintf("%s 全部完成 | 文件 %d | 失败 %d | 资产 %d | %s | 总用时 %s",
		t.tag(st, tag), t.filesDone, t.filesFailed, t.assets, humanize.IBytes(uint64(t.bytes)), formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		if t.enabled {
			_, _ = io.WriteString(t.w, "\r")
		}
		t.lastLen = 0
	}
}

func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	// 清尾：若新行比旧短，填充空格覆盖
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

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" {
		return ""
	}
	if visLen(base) <= max {
		return base
	}
	rs := []rune(base)
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	if len(rs) <= cut {
		return string(rs)
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
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
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
