package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"tend/internal/diag"
	"tend/internal/rate"
	"tend/pkg/contract"
)

// - 单协程顺序处理：一次只有一个查询在途，一次只写一个文档。
// - 连续高水位：检查点只推进到“自本次起点起连续成功”的最大序号；首个失败之后不再推进。
// - 行级失败只跳过该行；检查点/版本耗尽/取消为致命错误，立即中止。
// - 节拍：相邻查询之间固定间隔，与查询耗时无关。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader     contract.Reader
	Source     contract.BatchSource
	Lookup     contract.ContactSource
	Normalizer contract.Normalizer
	Vault      contract.Vault
	Checkpoint contract.Checkpoint
	// Ledger 可选；为空时不做历史跳过与记录。
	Ledger contract.Ledger
	// Progress 可选的终端进度输出。
	Progress Progress
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Input string
	// BatchSize>0 时仅处理待处理行中的前 N 行。
	BatchSize int
	// StartAt>0 时以 StartAt-1 代替存量检查点进行过滤。
	StartAt contract.Sequence
	// Reset: 运行前清除检查点（dry-run 下不删除，仅按 0 预演）。
	// Reset 或 StartAt>0 时不按账本跳过，窗口内每行都重新处理。
	Reset  bool
	DryRun bool
	// Delay: 相邻查询之间的固定间隔；LookupTimeout: 单次查询超时。
	Delay         time.Duration
	LookupTimeout time.Duration
	// RunID 写入账本与日志；为空时账本记录为空串。
	RunID string
	// Pacer 可注入（测试）；为空时按 Delay 构造。
	Pacer *rate.Pacer
}

// 默认值
const (
	DefaultDelay         = time.Second
	DefaultLookupTimeout = 30 * time.Second
)

// Progress 为终端进度回调（diag.Terminal 实现）。
type Progress interface {
	RunStart(pending, total int, dryRun bool)
	RowStart(seq int64, name string, idx, pending int)
	RowFinish(seq int64, name, dest string, ok bool, dur time.Duration)
	RunFinish(succeeded, failed, skipped, invalid int, dur time.Duration)
}

// RowResult 为单行结局。
type RowResult struct {
	Sequence   contract.Sequence
	ExternalID int64
	Name       string
	Status     contract.RowStatus
	Folder     string
	Filename   string
	Path       string
	WasCreated bool
	Err        error
}

// Summary 为一次运行的汇总。
type Summary struct {
	RunID     string
	Dialect   contract.Dialect
	Total     int // 解析出的有效行
	Pending   int // 过滤与截断后的待处理行
	Attempted int // 实际发起查询的行
	Succeeded int
	Failed    int
	Skipped   int
	Invalid   int // 待处理窗口内被丢弃的行（缺少或非法 ID），与 Failed 一样视为失败
	// StartCheckpoint 为过滤所用的起点；Checkpoint 为运行结束时的已持久化值。
	StartCheckpoint contract.Sequence
	Checkpoint      contract.Sequence
	Results         []RowResult
	Failures        []RowResult
	Dropped         []contract.RowIssue
	// InvalidRows 为 Dropped 中落在待处理窗口内的部分（len == Invalid）。
	InvalidRows []contract.RowIssue
}

// HasFailures 报告是否存在查询/写入失败或窗口内的无效行。
func (s Summary) HasFailures() bool { return s.Failed > 0 || s.Invalid > 0 }

// Run 执行完整流水线：Reader → BatchSource → 过滤 → (Pacer) → Lookup → Normalizer → Vault → Checkpoint (→ Ledger)。
// 返回的 Summary 在出错时同样有效（记录到出错为止的进度）。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	sum := Summary{RunID: set.RunID}
	if err := sanity(comp); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	if set.LookupTimeout <= 0 {
		set.LookupTimeout = DefaultLookupTimeout
	}
	pacer := set.Pacer
	if pacer == nil {
		pacer = rate.NewPacer(set.Delay, nil)
	}
	runStart := time.Now()

	// 重置检查点
	if set.Reset && !set.DryRun {
		if err := comp.Checkpoint.Reset(ctx); err != nil {
			logErr(logger, "checkpoint", "reset failed", nil, contract.Row{}, err)
			return sum, fmt.Errorf("checkpoint reset: %w", err)
		}
		logger.InfoFinish("checkpoint", "reset", runStart, 0)
	}

	// 读取与解析
	parsed, err := parse(ctx, comp, set.Input, logger)
	if err != nil {
		return sum, err
	}
	sum.Dialect = parsed.Dialect
	sum.Total = len(parsed.Rows)
	sum.Dropped = parsed.Dropped

	cp, err := comp.Checkpoint.Read(ctx)
	if err != nil {
		logErr(logger, "checkpoint", "read failed", nil, contract.Row{}, err)
		return sum, fmt.Errorf("checkpoint read: %w", err)
	}
	sum.Checkpoint = cp
	if set.Reset {
		cp = 0
	}
	if set.StartAt > 0 {
		cp = set.StartAt - 1
	}
	sum.StartCheckpoint = cp

	pending := selectPending(parsed.Rows, cp, set.BatchSize)
	sum.Pending = len(pending)
	sum.InvalidRows = invalidInWindow(parsed.Dropped, cp, pending, set.BatchSize)
	sum.Invalid = len(sum.InvalidRows)
	for _, d := range parsed.Dropped {
		logger.Warn("source", "row dropped", int64(d.Sequence), map[string]string{
			"line":   strconv.Itoa(d.Line),
			"reason": d.Reason,
		})
		diag.IncOp("source", "drop", "skip")
	}

	if comp.Progress != nil {
		comp.Progress.RunStart(len(pending), len(parsed.Rows), set.DryRun)
		defer func() {
			comp.Progress.RunFinish(sum.Succeeded, sum.Failed, sum.Skipped, sum.Invalid, time.Since(runStart))
		}()
	}

	// 显式重跑时账本只记录不跳过
	skipDone := comp.Ledger != nil && !set.Reset && set.StartAt <= 0

	// blocked: 本次运行已出现失败，检查点冻结。
	blocked := false
	for i, row := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if skipDone {
			done, lerr := comp.Ledger.Succeeded(ctx, row.Sequence, row.ExternalID)
			if lerr != nil {
				logErr(logger, "ledger", "lookup failed", nil, row, lerr)
			} else if done {
				sum.Skipped++
				sum.Results = append(sum.Results, RowResult{Sequence: row.Sequence, ExternalID: row.ExternalID, Name: row.Name(), Status: contract.RowSkipped})
				diag.IncOp("ledger", "skip", "skip")
				if !blocked && !set.DryRun {
					if err := advance(ctx, comp.Checkpoint, row.Sequence, logger); err != nil {
						return sum, err
					}
					sum.Checkpoint = row.Sequence
				}
				continue
			}
		}

		if comp.Progress != nil {
			comp.Progress.RowStart(int64(row.Sequence), row.Name(), i+1, len(pending))
		}
		rowStart := time.Now()
		res, err := processRow(ctx, comp, set, pacer, row, logger)
		sum.Attempted++
		if err != nil {
			// 致命：取消/版本耗尽
			if ctx.Err() != nil || errors.Is(err, contract.ErrVersionsExhausted) {
				if comp.Progress != nil {
					comp.Progress.RowFinish(int64(row.Sequence), row.Name(), err.Error(), false, time.Since(rowStart))
				}
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				return sum, fmt.Errorf("row %d: %w", row.Sequence, err)
			}
			blocked = true
			sum.Failed++
			res.Status = contract.RowFailed
			res.Err = err
			sum.Results = append(sum.Results, res)
			sum.Failures = append(sum.Failures, res)
			record(ctx, comp.Ledger, set, res, logger)
			if comp.Progress != nil {
				comp.Progress.RowFinish(int64(row.Sequence), row.Name(), err.Error(), false, time.Since(rowStart))
			}
			continue
		}

		sum.Succeeded++
		if set.DryRun {
			res.Status = contract.RowPlanned
		} else {
			res.Status = contract.RowSucceeded
			if !blocked {
				if err := advance(ctx, comp.Checkpoint, row.Sequence, logger); err != nil {
					return sum, err
				}
				sum.Checkpoint = row.Sequence
			}
		}
		sum.Results = append(sum.Results, res)
		record(ctx, comp.Ledger, set, res, logger)
		if comp.Progress != nil {
			comp.Progress.RowFinish(int64(row.Sequence), row.Name(), res.Path, true, time.Since(rowStart))
		}
	}
	logger.InfoFinish("pipeline", "run", runStart, int64(sum.Succeeded))
	return sum, nil
}

// SyncOne 不经检查点处理单个联系人（contact/search 子命令）。
// groups 非空时覆盖记录自带分组。
func SyncOne(ctx context.Context, comp Components, id int64, groups []string, dryRun bool, logger *diag.Logger) (RowResult, error) {
	if comp.Lookup == nil || comp.Normalizer == nil || comp.Vault == nil {
		return RowResult{}, errors.New("pipeline: missing components")
	}
	set := Settings{DryRun: dryRun, LookupTimeout: DefaultLookupTimeout}
	row := contract.Row{ExternalID: id, Groups: groups}
	res, err := processRow(ctx, comp, set, nil, row, logger)
	if err != nil {
		res.Status = contract.RowFailed
		res.Err = err
		return res, err
	}
	res.Status = contract.RowSucceeded
	if dryRun {
		res.Status = contract.RowPlanned
	}
	return res, nil
}

// processRow: 节拍 → 查询（独立超时）→ 规范化 → 落盘/预演。
func processRow(ctx context.Context, comp Components, set Settings, pacer *rate.Pacer, row contract.Row, logger *diag.Logger) (RowResult, error) {
	res := RowResult{Sequence: row.Sequence, ExternalID: row.ExternalID, Name: row.Name()}
	seq := int64(row.Sequence)

	if err := pacer.Wait(ctx); err != nil {
		return res, err
	}

	ftimer := logger.StartWith("fetch", "lookup", seq, row.ExternalID)
	t0 := time.Now()
	lctx, cancel := context.WithTimeout(ctx, set.LookupTimeout)
	ext, err := comp.Lookup.GetContact(lctx, row.ExternalID)
	cancel()
	diag.ObserveDuration("fetch", "lookup", time.Since(t0).Milliseconds())
	if err != nil {
		logErr(logger, "fetch", "lookup failed", &t0, row, err)
		return res, fmt.Errorf("lookup %d: %w", row.ExternalID, err)
	}
	ftimer.Finish("lookup", 1)
	diag.IncOp("fetch", "finish", "success")

	if len(row.Groups) > 0 {
		ext.Groups = append([]string(nil), row.Groups...)
	}
	c := comp.Normalizer.Normalize(ext)
	if res.Name == "" {
		res.Name = c.Name
	}

	wtimer := logger.StartWith("vault", "upsert", seq, row.ExternalID)
	t1 := time.Now()
	var up contract.UpsertResult
	if set.DryRun {
		up, err = comp.Vault.Plan(ctx, c)
	} else {
		up, err = comp.Vault.Upsert(ctx, c)
	}
	diag.ObserveDuration("vault", "upsert", time.Since(t1).Milliseconds())
	if err != nil {
		logErr(logger, "vault", "upsert failed", &t1, row, err)
		return res, fmt.Errorf("vault: %w", err)
	}
	wtimer.Finish(up.Filename, 1)
	diag.IncOp("vault", "finish", "success")

	res.Folder = up.Folder
	res.Filename = up.Filename
	res.Path = up.Path
	res.WasCreated = up.WasCreated
	return res, nil
}

func parse(ctx context.Context, comp Components, input string, logger *diag.Logger) (contract.ParseResult, error) {
	rtimer := logger.Start("reader", "open")
	rc, err := comp.Reader.Open(ctx, input)
	if err != nil {
		logErr(logger, "reader", "open failed", nil, contract.Row{}, err)
		return contract.ParseResult{}, fmt.Errorf("reader open: %w", err)
	}
	defer rc.Close()
	rtimer.Finish("open", 0)

	ptimer := logger.Start("source", "parse")
	parsed, err := comp.Source.Parse(ctx, rc)
	if err != nil {
		logErr(logger, "source", "parse failed", nil, contract.Row{}, err)
		return contract.ParseResult{}, fmt.Errorf("source parse: %w", err)
	}
	ptimer.Finish(string(parsed.Dialect), int64(len(parsed.Rows)))
	diag.IncOp("source", "finish", "success")
	return parsed, nil
}

// selectPending: 过滤序号 > cp，按序号稳定排序，并按 batch 截断。
func selectPending(rows []contract.Row, cp contract.Sequence, batch int) []contract.Row {
	out := make([]contract.Row, 0, len(rows))
	for _, r := range rows {
		if r.Sequence > cp {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if batch > 0 && len(out) > batch {
		out = out[:batch]
	}
	return out
}

// invalidInWindow: 落在待处理窗口内的丢弃行（序号未知者不计）。
func invalidInWindow(dropped []contract.RowIssue, cp contract.Sequence, pending []contract.Row, batch int) []contract.RowIssue {
	var upper contract.Sequence = -1
	if batch > 0 && len(pending) > 0 {
		upper = pending[len(pending)-1].Sequence
	}
	var out []contract.RowIssue
	for _, d := range dropped {
		if d.Sequence <= cp {
			continue
		}
		if upper >= 0 && d.Sequence > upper {
			continue
		}
		out = append(out, d)
	}
	return out
}

func advance(ctx context.Context, cp contract.Checkpoint, seq contract.Sequence, logger *diag.Logger) error {
	if err := cp.Write(ctx, seq); err != nil {
		logErr(logger, "checkpoint", "write failed", nil, contract.Row{Sequence: seq}, err)
		return fmt.Errorf("checkpoint write: %w", err)
	}
	diag.IncOp("checkpoint", "finish", "success")
	return nil
}

// record: 账本写入失败仅记录日志；dry-run 不写。
func record(ctx context.Context, l contract.Ledger, set Settings, res RowResult, logger *diag.Logger) {
	if l == nil || set.DryRun {
		return
	}
	e := contract.LedgerEntry{
		RunID:      set.RunID,
		Sequence:   res.Sequence,
		ExternalID: res.ExternalID,
		Name:       res.Name,
		Status:     res.Status,
		Path:       res.Path,
		At:         time.Now(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if err := l.Record(ctx, e); err != nil {
		logErr(logger, "ledger", "record failed", nil, contract.Row{Sequence: res.Sequence, ExternalID: res.ExternalID}, err)
	}
}

// logErr: 统一错误日志与指标；上游错误附带状态码。
func logErr(logger *diag.Logger, comp, msg string, start *time.Time, row contract.Row, err error) {
	code := diag.Classify(err)
	kv := map[string]string{"err": err.Error()}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		if m := ue.UpstreamMessage(); m != "" {
			kv["upstream"] = m
		}
	}
	logger.ErrorWithKV(comp, string(code), msg, start, int64(row.Sequence), row.ExternalID, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(c Components) error {
	if c.Reader == nil || c.Source == nil || c.Lookup == nil || c.Normalizer == nil || c.Vault == nil || c.Checkpoint == nil {
		return errors.New("pipeline: missing components")
	}
	return nil
}
