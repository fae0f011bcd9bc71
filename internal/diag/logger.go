package diag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultLogDir: 日志目录（相对当前工作目录）。
const DefaultLogDir = "logs"

// Logger 为结构化事件日志器：slog JSON 记录写入轮转文件。
// 每条事件固定带 corr_id/comp/stage，按需带 code/dur_ms/count/file_id/format/kv。
type Logger struct {
	corrID string
	level  slog.Level
	sl     *slog.Logger
	sink   io.Closer
}

// NewLogger 通过配置的 level 初始化，并将日志写入 logs/imgcarve-current.txt，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile(DefaultLogDir, 10*1024*1024)
	l := NewLoggerTo(fallback{primary: sink}, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写到任意 io.Writer（测试或 --log-stderr 场景）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	lvl := parseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339))
			case slog.LevelKey:
				return slog.String("level", strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
	return &Logger{corrID: corrID, level: lvl, sl: slog.New(h).With("corr_id", corrID)}
}

// Discard 返回丢弃一切输出的 Logger。
func Discard() *Logger { return NewLoggerTo(io.Discard, "", "error") }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|error|warn
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Format string
	Msg    string
	KV     map[string]string
}

func (ev Event) attrs() []slog.Attr {
	as := []slog.Attr{slog.String("comp", ev.Comp), slog.String("stage", ev.Stage)}
	if ev.Code != "" {
		as = append(as, slog.String("code", ev.Code))
	}
	if ev.DurMS != 0 {
		as = append(as, slog.Int64("dur_ms", ev.DurMS))
	}
	if ev.Count != 0 {
		as = append(as, slog.Int64("count", ev.Count))
	}
	if ev.FileID != "" {
		as = append(as, slog.String("file_id", ev.FileID))
	}
	if ev.Format != "" {
		as = append(as, slog.String("format", ev.Format))
	}
	if len(ev.KV) > 0 {
		keys := make([]string, 0, len(ev.KV))
		for k := range ev.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]any, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, slog.String(k, ev.KV[k]))
		}
		as = append(as, slog.Group("kv", kv...))
	}
	return as
}

func (l *Logger) log(lv slog.Level, ev Event) {
	if l == nil || l.sl == nil {
		return
	}
	l.sl.LogAttrs(context.Background(), lv, ev.Msg, ev.attrs()...)
}

// Enabled 报告给定级别是否会输出。
func (l *Logger) Enabled(lv slog.Level) bool { return l != nil && lv >= l.level }

// Slog 暴露底层 slog.Logger，供需要自由字段的调用方使用。
func (l *Logger) Slog() *slog.Logger { return l.sl }

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(slog.LevelInfo, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/format 的 start。
func (l *Logger) StartWith(comp, msg, fileID, format string) *Timer {
	l.log(slog.LevelInfo, Event{Comp: comp, Stage: "start", FileID: fileID, Format: format, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, format: format, t0: time.Now()}
}

// StartWithKV 记录带 file_id/format 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, format string, kv map[string]string) *Timer {
	l.log(slog.LevelInfo, Event{Comp: comp, Stage: "start", FileID: fileID, Format: format, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, format: format, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWith(comp, code, msg, durSince, "", "")
}

// ErrorWith 支持 file_id/format。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, format string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, format, nil)
}

// ErrorWithKV 支持附带键值对（例如出错路径、操作）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, format string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(slog.LevelError, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, Format: format, KV: kv})
}

// WarnWith 记录可恢复的异常（例如单个宿主文件被跳过）。
func (l *Logger) WarnWith(comp, code, msg, fileID string) {
	l.log(slog.LevelWarn, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, FileID: fileID})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(slog.LevelInfo, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, format string, kv map[string]string) {
	l.log(slog.LevelDebug, Event{Comp: comp, Stage: "start", FileID: fileID, Format: format, Msg: msg, KV: kv})
}

// Close 关闭日志文件（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	format string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(slog.LevelInfo, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Format: t.format, Msg: msg})
}

// Since 返回计时起点（供 ErrorWith 的 durSince 使用）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	t0 := t.t0
	return &t0
}

// fallback: 主输出失败时改写 stderr。
type fallback struct {
	primary io.Writer
}

func (f fallback) Write(p []byte) (int, error) {
	n, err := f.primary.Write(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		return os.Stderr.Write(p)
	}
	return n, nil
}
