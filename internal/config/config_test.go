package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tend/pkg/contract"
)

// 解析 JSON 配置；未出现的 delay_ms 以外字段保持零值
func TestLoadJSON(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "contacts.csv", cfg.Input)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 0, cfg.DelayMS, "显式 0 不应视为未设置")
	assert.Equal(t, "fixture", cfg.Components.Source)
	assert.JSONEq(t, `{"dir":"fixtures"}`, string(cfg.Options.Source))
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
}

// YAML 与 JSON 走同一严格解码路径
func TestLoadYAML(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(40), cfg.Start)
	assert.Equal(t, -1, cfg.DelayMS, "缺省 delay_ms 为未设置")
	assert.Equal(t, "var/logs", cfg.Logging.Dir)
	assert.JSONEq(t, `{"name_prefix":"Person","groups":["Bitcoin"]}`, string(cfg.Options.Source))

	merged := Merge(Defaults(), cfg)
	assert.Equal(t, 1000, merged.DelayMS)
	assert.Equal(t, "mock", merged.Components.Source)
	assert.Equal(t, "clay", merged.Components.Normalizer)
}

func TestLoadUnknownField(t *testing.T) {
	_, err := Load("", []byte(`{"unknown":1}`))
	assert.Error(t, err)

	dir := t.TempDir()
	p := filepath.Join(dir, "tend.yaml")
	require.NoError(t, os.WriteFile(p, []byte("input: a.csv\nbogus: true\n"), 0o644))
	_, err = Load(p, nil)
	assert.Error(t, err, "YAML 未知键同样拒绝")
}

func TestLoadEmptyAndMissing(t *testing.T) {
	_, err := Load("", nil)
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "none.json"), nil)
	assert.Error(t, err)

	dir := t.TempDir()
	p := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	cfg, err := Load(p, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.DelayMS)
}

func TestEnvOverlay(t *testing.T) {
	env := []string{
		"TEND_INPUT=rows.csv",
		"TEND_VAULT_DIR=/tmp/vault",
		"TEND_BATCH_SIZE=3",
		"TEND_START=7",
		"TEND_DELAY_MS=0",
		"TEND_DRY_RUN=true",
		"TEND_LOG_LEVEL=debug",
		"TEND_COMPONENTS_SOURCE=mock",
		`TEND_OPTIONS_SOURCE_JSON={"score":90}`,
		"TEND_CONFIG_FILE=ignored.yaml",
		"OTHER=1",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, "rows.csv", over.Input)
	assert.Equal(t, 3, over.BatchSize)
	assert.Equal(t, int64(7), over.Start)
	assert.Equal(t, 0, over.DelayMS)
	assert.True(t, over.DryRun)
	assert.Equal(t, "mock", over.Components.Source)
	assert.JSONEq(t, `{"score":90}`, string(over.Options.Source))

	base := Defaults()
	merged := Merge(base, over)
	assert.Equal(t, 0, merged.DelayMS, "ENV 中的 0 需覆盖默认 1000")
	assert.Equal(t, "debug", merged.Logging.Level)
}

func TestEnvOverlayErrors(t *testing.T) {
	for _, kv := range []string{
		"TEND_BATCH_SIZE=x",
		"TEND_DRY_RUN=maybe",
		"TEND_OPTIONS_VAULT_JSON={bad",
	} {
		_, err := EnvOverlay([]string{kv})
		assert.Error(t, err, kv)
	}
}

func TestMergeKeepsBaseWhenUnset(t *testing.T) {
	base := DefaultTemplateConfig()
	over := Config{DelayMS: -1}
	got := Merge(base, over)
	assert.Equal(t, base.DelayMS, got.DelayMS)
	assert.Equal(t, base.VaultDir, got.VaultDir)
	assert.Equal(t, string(base.Options.Vault), string(got.Options.Vault))

	src := json.RawMessage(`{"dir":"a"}`)
	got = Merge(base, Config{DelayMS: -1, Options: Options{Source: src}})
	src[8] = 'b'
	assert.JSONEq(t, `{"dir":"a"}`, string(got.Options.Source), "Options 需深拷贝")
}

func TestValidateErrors(t *testing.T) {
	ok := DefaultTemplateConfig()
	require.NoError(t, Validate(ok))
	require.NoError(t, ValidateSync(ok))

	cases := map[string]func(*Config){
		"batch_size 为负": func(c *Config) { c.BatchSize = -1 },
		"start 为负":      func(c *Config) { c.Start = -2 },
		"delay 为负":      func(c *Config) { c.DelayMS = -1 },
		"日志等级非法":        func(c *Config) { c.Logging.Level = "loud" },
		"缺少 vault":      func(c *Config) { c.VaultDir = ""; c.Options.Vault = nil },
		"source 未注册":    func(c *Config) { c.Components.Source = "nope" },
		"vault 未注册":     func(c *Config) { c.Components.Vault = "nope" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultTemplateConfig()
			mut(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	noInput := DefaultTemplateConfig()
	noInput.Input = ""
	assert.NoError(t, Validate(noInput))
	assert.Error(t, ValidateSync(noInput))
}

func TestEffectiveVaultDir(t *testing.T) {
	cfg := Config{Options: Options{Vault: json.RawMessage(`{"vault_dir":"from-opts"}`)}}
	assert.Equal(t, "from-opts", EffectiveVaultDir(cfg))
	cfg.VaultDir = "top"
	assert.Equal(t, "top", EffectiveVaultDir(cfg))
}

func TestVaultOptionsInjectsDir(t *testing.T) {
	cfg := Config{VaultDir: "v", Options: Options{Vault: json.RawMessage(`{"vault_dir":"old","max_versions":3}`)}}
	raw, err := vaultOptions(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vault_dir":"v","max_versions":3}`, string(raw))
}

// 装配：fixture 来源 + 优先级文件 + 允许自动创建的文档库
func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	prio := filepath.Join(dir, "priority.md")
	require.NoError(t, os.WriteFile(prio, []byte("1. Bitcoin\n2. Family\n"), 0o644))

	cfg := Merge(Defaults(), Config{
		DelayMS:              250,
		Input:                filepath.Join(dir, "in.csv"),
		VaultDir:             filepath.Join(dir, "vault"),
		CheckpointFile:       filepath.Join(dir, "cp.txt"),
		PriorityFile:         prio,
		BatchSize:            4,
		Start:                9,
		LookupTimeoutSeconds: 5,
		Components:           Components{Source: "fixture"},
		Options: Options{
			Source: json.RawMessage(`{"dir":"` + filepath.ToSlash(dir) + `"}`),
			Vault:  json.RawMessage(`{"create_root":true}`),
		},
	})
	now := func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	comp, set, err := Assemble(cfg, now)
	require.NoError(t, err)

	assert.NotNil(t, comp.Reader)
	assert.NotNil(t, comp.Source)
	assert.NotNil(t, comp.Lookup)
	assert.NotNil(t, comp.Normalizer)
	assert.NotNil(t, comp.Vault)
	assert.NotNil(t, comp.Checkpoint)
	assert.Nil(t, comp.Ledger)

	assert.Equal(t, 4, set.BatchSize)
	assert.Equal(t, contract.Sequence(9), set.StartAt)
	assert.Equal(t, 250*time.Millisecond, set.Delay)
	assert.Equal(t, 5*time.Second, set.LookupTimeout)
}

func TestAssembleErrors(t *testing.T) {
	dir := t.TempDir()
	base := DefaultTemplateConfig()
	base.VaultDir = filepath.Join(dir, "vault")
	base.Components.Source = "mock"
	base.Options.Source = nil

	cfg := base
	cfg.PriorityFile = filepath.Join(dir, "missing.md")
	_, _, err := Assemble(cfg, nil)
	assert.Error(t, err, "已配置但缺失的优先级文件应失败")

	cfg = base
	cfg.Options.Vault = json.RawMessage(`{"unknown_key":1}`)
	_, _, err = Assemble(cfg, nil)
	assert.Error(t, err, "vault 选项未知键应失败")

	cfg = base
	cfg.Options.Source = json.RawMessage(`{"nope":1}`)
	_, _, err = Assemble(cfg, nil)
	assert.Error(t, err)
}

func TestBuildSource(t *testing.T) {
	cfg := Config{Components: Components{Source: "mock"}}
	src, err := BuildSource(cfg)
	require.NoError(t, err)
	_, ok := src.(contract.ContactSearcher)
	assert.True(t, ok, "mock 来源支持检索")

	_, err = BuildSource(Config{Components: Components{Source: "ghost"}})
	assert.Error(t, err)
}

// 模板需可被自身加载器回读
func TestTemplateYAMLRoundTrip(t *testing.T) {
	b, err := EncodeYAML(DefaultTemplateConfig())
	require.NoError(t, err)
	assert.Contains(t, string(b), "vault_dir: vault")
	assert.NotContains(t, string(b), `"input"`)

	p := filepath.Join(t.TempDir(), "tend.yaml")
	require.NoError(t, os.WriteFile(p, b, 0o644))
	cfg, err := Load(p, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplateConfig().DelayMS, cfg.DelayMS)
	assert.Equal(t, "clay", cfg.Components.Source)
	require.NoError(t, ValidateSync(cfg))
}

func TestFindDefault(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", FindDefault(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tend.json"), []byte("{}"), 0o644))
	assert.Equal(t, filepath.Join(dir, "tend.json"), FindDefault(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tend.yaml"), []byte("{}"), 0o644))
	assert.Equal(t, filepath.Join(dir, "tend.yaml"), FindDefault(dir))
}
