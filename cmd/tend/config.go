package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "tend/internal/config"
)

// loadConfig 按 默认 → 配置文件 → ENV → CLI 的顺序合并。
// over 为子命令自己的 CLI 覆盖（可为 nil）。
func (a *app) loadConfig(cmd *cobra.Command, over func(*cfgpkg.Config)) (cfgpkg.Config, error) {
	// 配置内容（ENV: TEND_CONFIG_JSON）优先于文件路径
	var cfgJSON []byte
	if s := os.Getenv("TEND_CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	path := a.flagConfig
	if path == "" {
		path = os.Getenv("TEND_CONFIG_FILE")
	}
	if path == "" && len(cfgJSON) == 0 {
		path = cfgpkg.FindDefault(".")
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(cfgJSON) > 0 {
		src := path
		if len(cfgJSON) > 0 {
			// 原始内容按 JSON 解析
			src = ""
		}
		base, err := cfgpkg.Load(src, cfgJSON)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖：仅采纳显式给出的旗标
	overCLI := cfgpkg.Config{DelayMS: -1}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		overCLI.Logging.Level = a.flagLogLevel
	}
	if flags.Changed("vault") {
		overCLI.VaultDir = a.flagVault
	}
	if flags.Changed("priority") {
		overCLI.PriorityFile = a.flagPriority
	}
	if flags.Changed("dry-run") {
		overCLI.DryRun = a.flagDryRun
	}
	if over != nil {
		over(&overCLI)
	}
	cfg = cfgpkg.Merge(cfg, overCLI)
	return cfg, nil
}

func dumpConfig(a *app, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(redact(c), "", "  ")
	if err != nil {
		return err
	}
	fprintf(a.stderr, "有效配置:\n%s\n", b)
	return nil
}

// redact 去掉来源选项中的明文密钥。
func redact(c cfgpkg.Config) cfgpkg.Config {
	if len(c.Options.Source) == 0 {
		return c
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(c.Options.Source, &m); err != nil {
		return c
	}
	if v, ok := m["api_key"]; ok && string(v) != `""` {
		m["api_key"] = json.RawMessage(`"***"`)
		if b, err := json.Marshal(m); err == nil {
			c.Options.Source = b
		}
	}
	return c
}

// writeConfig 以 YAML 写出模板；path 为 "-" 时写 stdout。
func writeConfig(a *app, path string, c cfgpkg.Config) error {
	b, err := cfgpkg.EncodeYAML(c)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = a.stdout.Write(b)
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// preflightCheckVaultDir: 文件系统文档库启动前检查根目录。
// 规则：
// - 根目录存在：非 dry-run 时尝试创建并删除临时文件；
// - 根目录不存在：未开启 create_root 则失败，否则检查最近的已存在祖先目录可写；
// 非 fs 实现跳过。
func preflightCheckVaultDir(cfg cfgpkg.Config) error {
	name := cfg.Components.Vault
	if strings.TrimSpace(name) == "" {
		name = cfgpkg.Defaults().Components.Vault
	}
	if name != "fs" {
		return nil
	}
	dir := strings.TrimSpace(cfgpkg.EffectiveVaultDir(cfg))
	if dir == "" {
		return errors.New("vault_dir not set")
	}
	var vopts struct {
		CreateRoot bool `json:"create_root"`
	}
	if len(cfg.Options.Vault) > 0 {
		_ = json.Unmarshal(cfg.Options.Vault, &vopts)
	}

	st, err := os.Stat(dir)
	switch {
	case err == nil && !st.IsDir():
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case err == nil:
		if cfg.DryRun {
			return nil
		}
		return probeWritable(dir)
	case !os.IsNotExist(err):
		return err
	}
	if !vopts.CreateRoot {
		return fmt.Errorf("文档库根目录不存在: %s（可设置 options.vault.create_root）", dir)
	}
	if cfg.DryRun {
		return nil
	}
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			return probeWritable(parent)
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".wcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}
