package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "tend/internal/config"
	"tend/internal/diag"
	"tend/internal/pipeline"
	"tend/pkg/contract"
)

func newContactCmd(a *app) *cobra.Command {
	var groups []string
	cmd := &cobra.Command{
		Use:   "contact <id>",
		Short: "Fetch one contact by id and write it into the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return a.fail(exitConfig, "cli", "联系人 ID 无效", fmt.Errorf("%w: %q", contract.ErrInvalidInput, args[0]))
			}
			comp, err := a.assembleSingle(cmd)
			if err != nil {
				return err
			}
			return a.syncSingle(cmd, comp, id, groups)
		},
	}
	cmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "覆盖联系人分组（可重复或逗号分隔）")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		groups   []string
		limit    int
		listOnly bool
	)
	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Search contacts by name and write the best match into the vault",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			comp, err := a.assembleSingle(cmd)
			if err != nil {
				return err
			}
			searcher, ok := comp.Lookup.(contract.ContactSearcher)
			if !ok {
				return a.fail(exitConfig, "source", "当前来源不支持检索", errors.New("source does not implement search"))
			}
			t := a.logger.StartWithKV("search", "query", 0, 0, map[string]string{"query": query})
			hits, err := searcher.SearchContacts(cmd.Context(), query, limit)
			if err != nil {
				return a.fail(exitFatal, "search", "检索失败", err)
			}
			t.Finish("query", int64(len(hits)))
			if len(hits) == 0 {
				return a.fail(exitFatal, "search", "未找到联系人", fmt.Errorf("%w: %q", contract.ErrNotFound, query))
			}
			for i, h := range hits {
				name := h.Name
				if h.DisplayName != "" && h.DisplayName != h.Name {
					name += " (" + h.DisplayName + ")"
				}
				fprintf(a.stdout, "%d. %s id=%d score=%d\n", i+1, name, h.ID, h.Score)
			}
			if listOnly {
				return nil
			}
			return a.syncSingle(cmd, comp, hits[0].ID, groups)
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVarP(&groups, "group", "g", nil, "覆盖联系人分组（可重复或逗号分隔）")
	fl.IntVar(&limit, "limit", 0, "最多返回的候选数（0 使用来源默认）")
	fl.BoolVar(&listOnly, "list", false, "只列出候选，不写入")
	return cmd
}

// assembleSingle: 单联系人路径的配置与装配（不需要批量输入）。
func (a *app) assembleSingle(cmd *cobra.Command) (pipeline.Components, error) {
	cfg, err := a.loadConfig(cmd, nil)
	if err != nil {
		return pipeline.Components{}, a.fail(exitConfig, "config", "配置解析失败", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(a, cfg)
		return pipeline.Components{}, a.fail(exitConfig, "config", "配置校验失败", err)
	}
	a.logger = diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)
	if err := preflightCheckVaultDir(cfg); err != nil {
		return pipeline.Components{}, a.fail(exitConfig, "vault", "文档库目录不可用", err)
	}
	comp, _, err := cfgpkg.Assemble(cfg, time.Now)
	if err != nil {
		return pipeline.Components{}, a.fail(exitConfig, "config", "装配失败", err)
	}
	a.dryRun = cfg.DryRun
	return comp, nil
}

func (a *app) syncSingle(cmd *cobra.Command, comp pipeline.Components, id int64, groups []string) error {
	start := time.Now()
	res, err := syncOne(cmd.Context(), comp, id, groups, a.dryRun, a.logger)
	if err != nil {
		return a.fail(exitFatal, "pipeline", fmt.Sprintf("联系人 %d 处理失败", id), err)
	}
	tag := "ok"
	if res.Status == contract.RowPlanned {
		tag = "plan"
	}
	note := ""
	if !res.WasCreated {
		note = "（版本副本）"
	}
	fprintf(a.stdout, "[%s] %s → %s%s %s\n", tag, res.Name, res.Path, note, time.Since(start).Round(time.Millisecond))
	return nil
}
