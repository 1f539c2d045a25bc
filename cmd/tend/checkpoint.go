package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tend/internal/checkpoint"
	cfgpkg "tend/internal/config"
)

func newCheckpointCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear the batch checkpoint",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the last processed sequence",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := a.checkpointStore(cmd)
				if err != nil {
					return err
				}
				seq, err := store.Read(cmd.Context())
				if err != nil {
					return a.fail(exitFatal, "checkpoint", "检查点读取失败", err)
				}
				fprintf(a.stdout, "%d\n", seq)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Remove the checkpoint so the next sync starts from the first row",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := a.checkpointStore(cmd)
				if err != nil {
					return err
				}
				if err := store.Reset(cmd.Context()); err != nil {
					return a.fail(exitFatal, "checkpoint", "检查点重置失败", err)
				}
				fprintf(a.stderr, "检查点已清除: %s\n", store.Path())
				return nil
			},
		},
	)
	return cmd
}

// checkpointStore 只需要检查点路径，不校验文档库等其他配置。
func (a *app) checkpointStore(cmd *cobra.Command) (*checkpoint.Store, error) {
	cfg, err := a.loadConfig(cmd, nil)
	if err != nil {
		return nil, a.fail(exitConfig, "config", "配置解析失败", err)
	}
	return checkpoint.New(cfg.CheckpointFile), nil
}

func newInitConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write tend.yaml and .env templates (existing files are never overwritten)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if dir == "-" {
				if err := writeConfig(a, "-", cfgpkg.DefaultTemplateConfig()); err != nil {
					return a.fail(exitConfig, "config", "生成默认配置失败", err)
				}
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return a.fail(exitConfig, "config", "生成默认配置失败", err)
			}
			cfgPath := filepath.Join(dir, cfgpkg.DefaultFiles[0])
			if err := writeConfig(a, cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
				return a.fail(exitConfig, "config", "生成默认配置失败", err)
			}
			// .env 生成失败不影响配置模板
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			fprintf(a.stderr, "已生成: %s\n", cfgPath)
			return nil
		},
	}
}
