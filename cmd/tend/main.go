package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tend/internal/diag"
	"tend/internal/pipeline"
)

// 退出码
const (
	exitOK      = 0
	exitFatal   = 1 // 运行期致命错误
	exitPartial = 2 // 运行完成但有失败行
	exitConfig  = 3 // 配置/装配错误
)

// 便于测试替换
var (
	pipelineRun = pipeline.Run
	syncOne     = pipeline.SyncOne
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// exitError 携带退出码；消息已在返回前打印。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app 为一次进程调用的共享状态。
type app struct {
	stdout io.Writer
	stderr io.Writer
	corrID string

	flagConfig   string
	flagLogLevel string
	flagStatus   bool
	flagVault    string
	flagPriority string
	flagDryRun   bool

	// dryRun: 合并后的有效值（单联系人路径使用）
	dryRun bool

	logger *diag.Logger
}

func run(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")

	a := &app{stdout: stdout, stderr: stderr, corrID: genCorrID()}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Close()
	}
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 自身的参数/旗标错误
	fprintf(a.stderr, "参数错误: %v\n", err)
	return exitConfig
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tend",
		Short:         "Sync contacts from a CSV batch into a markdown vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.flagConfig, "config", "c", "", "配置文件路径（YAML/JSON）；缺省依次查找 ./tend.yaml、./tend.yml、./tend.json")
	pf.StringVar(&a.flagLogLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&a.flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")
	pf.StringVar(&a.flagVault, "vault", "", "文档库根目录（覆盖配置）")
	pf.StringVar(&a.flagPriority, "priority", "", "社区优先级列表文件（覆盖配置）")
	pf.BoolVar(&a.flagDryRun, "dry-run", false, "只预演目标路径，不写文档/检查点/账本")

	root.AddCommand(
		newSyncCmd(a),
		newContactCmd(a),
		newSearchCmd(a),
		newCheckpointCmd(a),
		newLedgerCmd(a),
		newInitConfigCmd(a),
	)
	return root
}

// fail 打印并记录错误，返回带退出码的错误。
func (a *app) fail(code int, comp, msg string, err error) error {
	fprintf(a.stderr, "%s: %v\n", msg, err)
	if a.logger != nil {
		a.logger.Error(comp, string(diag.Classify(err)), msg, nil)
		if c := diag.Classify(err); c != diag.CodeUnknown {
			diag.IncError(comp, string(c))
		}
	}
	return &exitError{code: code, err: err}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// genCorrID: 每次运行的关联 ID，同时作为账本 run_id。
func genCorrID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return ""
	}
	return id.String()
}
