package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tend/internal/ledger"
	"tend/pkg/contract"
)

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the per-row outcome ledger (requires ledger_file)",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "failures <run-id>",
			Short: "List the rows that failed in one sync run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				l, err := a.openLedger(cmd)
				if err != nil {
					return err
				}
				defer l.Close()
				rows, err := l.Failures(cmd.Context(), args[0])
				if err != nil {
					return a.fail(exitFatal, "ledger", "账本查询失败", err)
				}
				printEntries(a, rows)
				return nil
			},
		},
		&cobra.Command{
			Use:   "history <clay-id>",
			Short: "Show every recorded outcome for one contact",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return a.fail(exitConfig, "ledger", "联系人 ID 非法", errors.Join(contract.ErrInvalidInput, err))
				}
				l, err := a.openLedger(cmd)
				if err != nil {
					return err
				}
				defer l.Close()
				rows, err := l.History(cmd.Context(), id)
				if err != nil {
					return a.fail(exitFatal, "ledger", "账本查询失败", err)
				}
				printEntries(a, rows)
				return nil
			},
		},
	)
	return cmd
}

// openLedger 仅依赖 ledger_file；未配置视为配置错误。
func (a *app) openLedger(cmd *cobra.Command) (*ledger.Store, error) {
	cfg, err := a.loadConfig(cmd, nil)
	if err != nil {
		return nil, a.fail(exitConfig, "config", "配置解析失败", err)
	}
	if cfg.LedgerFile == "" {
		return nil, a.fail(exitConfig, "config", "未配置账本", errors.New("config: ledger_file is empty"))
	}
	l, err := ledger.Open(cmd.Context(), cfg.LedgerFile)
	if err != nil {
		return nil, a.fail(exitConfig, "ledger", "账本打开失败", err)
	}
	return l, nil
}

func printEntries(a *app, rows []contract.LedgerEntry) {
	if len(rows) == 0 {
		fprintf(a.stderr, "无记录\n")
		return
	}
	for _, e := range rows {
		detail := e.Path
		if e.Status == contract.RowFailed {
			detail = e.Error
		}
		fprintf(a.stdout, "%s #%d id=%d %-9s %s %s\n",
			e.At.Local().Format(time.DateTime), e.Sequence, e.ExternalID, e.Status, e.Name, detail)
	}
}
