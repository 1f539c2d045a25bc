package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tend/internal/checkpoint"
	"tend/internal/pipeline"
	"tend/internal/priority"
	"tend/pkg/contract"
	"tend/pkg/registry"
)

var validLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate 对最小必要边界做静态校验（不访问文件系统）。
// 输入路径只在 sync 时必需，见 ValidateSync。
func Validate(cfg Config) error {
	if cfg.BatchSize < 0 {
		return errors.New("config: batch_size must be >= 0")
	}
	if cfg.Start < 0 {
		return errors.New("config: start must be >= 0")
	}
	if cfg.DelayMS < 0 {
		return errors.New("config: delay_ms must be >= 0")
	}
	if cfg.LookupTimeoutSeconds < 0 {
		return errors.New("config: lookup_timeout_seconds must be >= 0")
	}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("config: logging.level %q invalid", cfg.Logging.Level)
	}
	if strings.TrimSpace(EffectiveVaultDir(cfg)) == "" {
		return errors.New("config: vault_dir not set")
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.BatchSource, d.Components.BatchSource); registry.BatchSource[name] == nil {
		return fmt.Errorf("config: batch_source %q not registered", name)
	}
	if name := effName(cfg.Components.Source, d.Components.Source); registry.Source[name] == nil {
		return fmt.Errorf("config: source %q not registered", name)
	}
	if name := effName(cfg.Components.Normalizer, d.Components.Normalizer); registry.Normalizer[name] == nil {
		return fmt.Errorf("config: normalizer %q not registered", name)
	}
	if name := effName(cfg.Components.Renderer, d.Components.Renderer); registry.Renderer[name] == nil {
		return fmt.Errorf("config: renderer %q not registered", name)
	}
	if name := effName(cfg.Components.Vault, d.Components.Vault); registry.Vault[name] == nil {
		return fmt.Errorf("config: vault %q not registered", name)
	}
	return nil
}

// ValidateSync 在 Validate 之上要求批量输入路径。
func ValidateSync(cfg Config) error {
	if strings.TrimSpace(cfg.Input) == "" {
		return errors.New("config: input not set")
	}
	return Validate(cfg)
}

// EffectiveVaultDir: 顶层 vault_dir 优先，其次 options.vault.vault_dir。
func EffectiveVaultDir(cfg Config) string {
	if s := strings.TrimSpace(cfg.VaultDir); s != "" {
		return s
	}
	if len(cfg.Options.Vault) == 0 {
		return ""
	}
	var probe struct {
		VaultDir string `json:"vault_dir"`
	}
	// 未知字段交给工厂严格解码时报错，这里只取目录
	_ = json.Unmarshal(cfg.Options.Vault, &probe)
	return probe.VaultDir
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// Ledger/Progress 属于运行外围，由调用方按需注入。
func Assemble(cfg Config, now func() time.Time) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	if now == nil {
		now = time.Now
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	bn := effName(cfg.Components.BatchSource, d.Components.BatchSource)
	nn := effName(cfg.Components.Normalizer, d.Components.Normalizer)
	mn := effName(cfg.Components.Renderer, d.Components.Renderer)
	vn := effName(cfg.Components.Vault, d.Components.Vault)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader: %w", err)
	}
	bs, err := registry.BatchSource[bn](cfg.Options.BatchSource)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: batch_source: %w", err)
	}
	src, err := BuildSource(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	norm, err := registry.Normalizer[nn](cfg.Options.Normalizer, now)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: normalizer: %w", err)
	}
	ren, err := registry.Renderer[mn](cfg.Options.Renderer, now)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: renderer: %w", err)
	}
	prio, err := priority.Load(cfg.PriorityFile)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: priority: %w", err)
	}
	vopts, err := vaultOptions(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	v, err := registry.Vault[vn](vopts, ren, prio)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: vault: %w", err)
	}

	comp := pipeline.Components{
		Reader:     r,
		Source:     bs,
		Lookup:     src,
		Normalizer: norm,
		Vault:      v,
		Checkpoint: checkpoint.New(cfg.CheckpointFile),
	}
	set := pipeline.Settings{
		Input:         cfg.Input,
		BatchSize:     cfg.BatchSize,
		StartAt:       contract.Sequence(cfg.Start),
		Reset:         cfg.Reset,
		DryRun:        cfg.DryRun,
		Delay:         time.Duration(cfg.DelayMS) * time.Millisecond,
		LookupTimeout: time.Duration(cfg.LookupTimeoutSeconds) * time.Second,
	}
	// 0 超时沿用管线默认
	if set.LookupTimeout == 0 {
		set.LookupTimeout = pipeline.DefaultLookupTimeout
	}
	return comp, set, nil
}

// BuildSource 仅构造联系人来源（search 等子命令不需要文档库）。
func BuildSource(cfg Config) (contract.ContactSource, error) {
	name := effName(cfg.Components.Source, Defaults().Components.Source)
	f := registry.Source[name]
	if f == nil {
		return nil, fmt.Errorf("config: source %q not registered", name)
	}
	src, err := f(cfg.Options.Source)
	if err != nil {
		return nil, fmt.Errorf("config: source: %w", err)
	}
	return src, nil
}

// vaultOptions 将顶层 vault_dir 注入 options.vault（保留其余键原样）。
func vaultOptions(cfg Config) (json.RawMessage, error) {
	dir := strings.TrimSpace(cfg.VaultDir)
	if dir == "" {
		return cfg.Options.Vault, nil
	}
	m := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(cfg.Options.Vault)) > 0 {
		if err := json.Unmarshal(cfg.Options.Vault, &m); err != nil {
			return nil, fmt.Errorf("config: options.vault: %w", err)
		}
	}
	b, err := json.Marshal(dir)
	if err != nil {
		return nil, err
	}
	m["vault_dir"] = b
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
