package diag

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger 为事件形态的结构化日志器：单行 JSON（zap 编码）写入轮转文件。
// nil *Logger 的全部方法均为 no-op。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入 dir（默认 logs），10MiB 轮转。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(dir, 10*1024*1024)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(sink), parseLevel(level).zap())
	l := NewWithCore(corrID, core)
	l.sink = sink
	return l
}

// NewWithCore 以给定 zapcore.Core 构造（测试中配合 zaptest/observer 使用）。
func NewWithCore(corrID string, core zapcore.Core) *Logger {
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		LevelKey:       "level",
		TimeKey:        "ts",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.UTC().Format(time.RFC3339)) },
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Comp  string
	Stage string // start|finish|error|warn
	Code  string
	DurMS int64
	Count int64
	Seq   int64 // 行序号
	ExtID int64 // 上游联系人 ID
	Msg   string
	KV    map[string]string
}

func (e Event) fields() []zap.Field {
	fs := make([]zap.Field, 0, 8)
	fs = append(fs, zap.String("comp", e.Comp), zap.String("stage", e.Stage))
	if e.Code != "" {
		fs = append(fs, zap.String("code", e.Code))
	}
	if e.DurMS != 0 {
		fs = append(fs, zap.Int64("dur_ms", e.DurMS))
	}
	if e.Count != 0 {
		fs = append(fs, zap.Int64("count", e.Count))
	}
	if e.Seq != 0 {
		fs = append(fs, zap.Int64("seq", e.Seq))
	}
	if e.ExtID != 0 {
		fs = append(fs, zap.String("ext_id", strconv.FormatInt(e.ExtID, 10)))
	}
	if len(e.KV) > 0 {
		fs = append(fs, zap.Any("kv", e.KV))
	}
	return fs
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv.zap(), ev.Msg); ce != nil {
		ce.Write(ev.fields()...)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 seq/ext_id 的 start。
func (l *Logger) StartWith(comp, msg string, seq, extID int64) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Seq: seq, ExtID: extID, Msg: msg})
	return &Timer{l: l, comp: comp, seq: seq, extID: extID, t0: time.Now()}
}

// StartWithKV 记录带 seq/ext_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg string, seq, extID int64, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Seq: seq, ExtID: extID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, seq: seq, extID: extID, t0: time.Now()}
}

// Warn 记录可恢复问题（例如被丢弃的输入行）。
func (l *Logger) Warn(comp, msg string, seq int64, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Seq: seq, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 seq/ext_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, seq, extID int64) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, Seq: seq, ExtID: extID})
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, seq, extID int64, kv map[string]string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, Seq: seq, ExtID: extID, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的“start”类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg string, seq, extID int64, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Seq: seq, ExtID: extID, Msg: msg, KV: kv})
}

// Close 刷新并关闭底层文件。
func (l *Logger) Close() error {
	if l == nil || l.z == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	seq   int64
	extID int64
	t0    time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Seq: t.seq, ExtID: t.extID, Msg: msg})
}

// Elapsed 返回自 start 起的耗时。
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}
