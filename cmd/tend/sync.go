package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "tend/internal/config"
	"tend/internal/diag"
	"tend/internal/ledger"
)

type syncFlags struct {
	input     string
	batchSize int
	start     int64
	reset     bool
	delay     time.Duration
	timeout   time.Duration
}

func newSyncCmd(a *app) *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Process pending CSV rows past the checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSync(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", `批量 CSV 路径，"-" 表示 STDIN（覆盖配置）`)
	fl.IntVar(&f.batchSize, "batch-size", 0, "本次最多处理的待处理行数（0 表示全部）")
	fl.Int64Var(&f.start, "start", 0, "从该序号开始（忽略存量检查点）")
	fl.BoolVar(&f.reset, "reset", false, "运行前清除检查点")
	fl.DurationVar(&f.delay, "delay", 0, "相邻查询之间的固定间隔，例如 500ms（覆盖配置）")
	fl.DurationVar(&f.timeout, "timeout", 0, "单次查询超时，例如 30s（覆盖配置）")
	return cmd
}

func (f syncFlags) overlay(cmd *cobra.Command) func(*cfgpkg.Config) {
	flags := cmd.Flags()
	return func(c *cfgpkg.Config) {
		if flags.Changed("input") {
			c.Input = f.input
		}
		if flags.Changed("batch-size") {
			c.BatchSize = f.batchSize
		}
		if flags.Changed("start") {
			c.Start = f.start
		}
		if flags.Changed("reset") {
			c.Reset = f.reset
		}
		if flags.Changed("delay") {
			c.DelayMS = int(f.delay / time.Millisecond)
		}
		if flags.Changed("timeout") && f.timeout > 0 {
			c.LookupTimeoutSeconds = int(math.Ceil(f.timeout.Seconds()))
		}
	}
}

func (a *app) runSync(cmd *cobra.Command, f syncFlags) error {
	start := time.Now()
	ctx := cmd.Context()

	cfg, err := a.loadConfig(cmd, f.overlay(cmd))
	if err != nil {
		return a.fail(exitConfig, "config", "配置解析失败", err)
	}
	if err := cfgpkg.ValidateSync(cfg); err != nil {
		_ = dumpConfig(a, cfg)
		return a.fail(exitConfig, "config", "配置校验失败", err)
	}
	a.logger = diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)

	if err := preflightCheckVaultDir(cfg); err != nil {
		return a.fail(exitConfig, "vault", "文档库目录不可用", err)
	}
	comp, set, err := cfgpkg.Assemble(cfg, time.Now)
	if err != nil {
		return a.fail(exitConfig, "config", "装配失败", err)
	}
	set.RunID = a.corrID

	// 账本可选：dry-run 下同样读取（用于预演跳过）
	if cfg.LedgerFile != "" {
		l, err := ledger.Open(ctx, cfg.LedgerFile)
		if err != nil {
			return a.fail(exitConfig, "ledger", "账本打开失败", err)
		}
		defer func() {
			_ = l.Close()
			fileCleanupDelay()
		}()
		comp.Ledger = l
	}

	term := diag.NewTerminal(a.stderr, a.flagStatus)
	comp.Progress = term
	a.logEffective(cfg)

	t := a.logger.Start("pipeline", "run")
	sum, err := pipelineRun(ctx, comp, set, a.logger)
	if werr := diag.WriteMetrics(cfg.MetricsFile); werr != nil {
		a.logger.Warn("metrics", "textfile write failed", 0, map[string]string{"path": cfg.MetricsFile, "err": werr.Error()})
	}
	if err != nil {
		code := string(diag.Classify(err))
		a.logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if errors.Is(err, context.Canceled) {
			fprintf(a.stderr, "已中断；检查点停在 %d\n", sum.Checkpoint)
		} else {
			fprintf(a.stderr, "运行失败: %v\n", err)
		}
		return &exitError{code: exitFatal, err: err}
	}
	t.Finish("run", int64(sum.Succeeded))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())

	if sum.HasFailures() {
		fprintf(a.stderr, "失败行（%d）:\n", len(sum.Failures)+len(sum.InvalidRows))
		for _, r := range sum.Failures {
			fprintf(a.stderr, "  #%d id=%d %s: %v\n", r.Sequence, r.ExternalID, r.Name, r.Err)
		}
		for _, d := range sum.InvalidRows {
			fprintf(a.stderr, "  #%d line=%d: %s\n", d.Sequence, d.Line, d.Reason)
		}
		if comp.Ledger != nil && len(sum.Failures) > 0 {
			term.Printf("运行编号 %s；可用 tend ledger failures %s 复查", set.RunID, set.RunID)
		}
		return &exitError{code: exitPartial, err: errors.New("rows failed")}
	}
	return nil
}

// logEffective: debug 级输出运行时配置（不含密钥）。
func (a *app) logEffective(cfg cfgpkg.Config) {
	kv := map[string]string{
		"input":           cfg.Input,
		"vault_dir":       cfgpkg.EffectiveVaultDir(cfg),
		"checkpoint_file": cfg.CheckpointFile,
		"priority_file":   cfg.PriorityFile,
		"batch_size":      strconv.Itoa(cfg.BatchSize),
		"start":           strconv.FormatInt(cfg.Start, 10),
		"delay_ms":        strconv.Itoa(cfg.DelayMS),
		"dry_run":         strconv.FormatBool(cfg.DryRun),
		"source":          cfg.Components.Source,
		"vault":           cfg.Components.Vault,
	}
	var s struct {
		BaseURL string `json:"base_url"`
	}
	if len(cfg.Options.Source) > 0 {
		_ = json.Unmarshal(cfg.Options.Source, &s)
	}
	if s.BaseURL != "" {
		kv["base_url"] = s.BaseURL
	}
	a.logger.DebugStart("config", "effective", 0, 0, kv)
}
