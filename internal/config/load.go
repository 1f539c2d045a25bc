package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖前缀。
const EnvPrefix = "TEND_"

// 默认查找的配置文件名（工作目录，按序）。
var DefaultFiles = []string{"tend.yaml", "tend.yml", "tend.json"}

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Input 与 VaultDir 不设默认（必须由配置/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		CheckpointFile:       "tend-checkpoint.txt",
		DelayMS:              1000,
		LookupTimeoutSeconds: 30,
		Logging:              Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:      "fs",
			BatchSource: "csv",
			Source:      "clay",
			Normalizer:  "clay",
			Renderer:    "markdown",
			Vault:       "fs",
		},
	}
}

// Load 从文件路径或原始内容解析 Config（严格拒绝未知字段）。
// .yaml/.yml 先经 yaml.v3 解码再按 JSON 规则严格校验；其余按 JSON。
func Load(path string, raw []byte) (Config, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case len(raw) > 0:
		data = raw
	case path != "":
		data, err = os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
	default:
		return Config{}, errors.New("no config source provided")
	}
	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return Config{}, fmt.Errorf("config yaml: %w", err)
		}
	}
	return decodeStrict(bytes.NewReader(data))
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeStrict(r io.Reader) (Config, error) {
	// DelayMS 预置为“未设置”，使文件中缺省该键时不覆盖默认
	cfg := Config{DelayMS: -1}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return cfg, err
	}
	return cfg, nil
}

// yamlToJSON: YAML 文档 → 等价 JSON（映射键须为字符串）。
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Input); s != "" {
		out.Input = s
	}
	if s := strings.TrimSpace(over.VaultDir); s != "" {
		out.VaultDir = s
	}
	if s := strings.TrimSpace(over.CheckpointFile); s != "" {
		out.CheckpointFile = s
	}
	if s := strings.TrimSpace(over.PriorityFile); s != "" {
		out.PriorityFile = s
	}
	if over.BatchSize != 0 {
		out.BatchSize = over.BatchSize
	}
	if over.Start != 0 {
		out.Start = over.Start
	}
	// 特殊：DelayMS 的 0 具有语义（不等待）；约定 -1 为未覆盖。
	if over.DelayMS >= 0 {
		out.DelayMS = over.DelayMS
	}
	if over.LookupTimeoutSeconds != 0 {
		out.LookupTimeoutSeconds = over.LookupTimeoutSeconds
	}
	if over.DryRun {
		out.DryRun = true
	}
	if over.Reset {
		out.Reset = true
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if s := strings.TrimSpace(over.MetricsFile); s != "" {
		out.MetricsFile = s
	}
	if s := strings.TrimSpace(over.LedgerFile); s != "" {
		out.LedgerFile = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.BatchSource != "" {
		out.Components.BatchSource = over.Components.BatchSource
	}
	if over.Components.Source != "" {
		out.Components.Source = over.Components.Source
	}
	if over.Components.Normalizer != "" {
		out.Components.Normalizer = over.Components.Normalizer
	}
	if over.Components.Renderer != "" {
		out.Components.Renderer = over.Components.Renderer
	}
	if over.Components.Vault != "" {
		out.Components.Vault = over.Components.Vault
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.BatchSource) > 0 {
		out.Options.BatchSource = cloneRaw(over.Options.BatchSource)
	}
	if len(over.Options.Source) > 0 {
		out.Options.Source = cloneRaw(over.Options.Source)
	}
	if len(over.Options.Normalizer) > 0 {
		out.Options.Normalizer = cloneRaw(over.Options.Normalizer)
	}
	if len(over.Options.Renderer) > 0 {
		out.Options.Renderer = cloneRaw(over.Options.Renderer)
	}
	if len(over.Options.Vault) > 0 {
		out.Options.Vault = cloneRaw(over.Options.Vault)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 TEND_；集合之外的键忽略。
// 支持：INPUT, VAULT_DIR, CHECKPOINT_FILE, PRIORITY_FILE, BATCH_SIZE, START, DELAY_MS,
// LOOKUP_TIMEOUT_SECONDS, DRY_RUN, LOG_LEVEL, LOG_DIR, METRICS_FILE, LEDGER_FILE,
// COMPONENTS_<NAME> 以及 OPTIONS_<NAME>_JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	over.DelayMS = -1
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		var err error
		switch nk {
		case "INPUT":
			over.Input = val
		case "VAULT_DIR":
			over.VaultDir = val
		case "CHECKPOINT_FILE":
			over.CheckpointFile = val
		case "PRIORITY_FILE":
			over.PriorityFile = val
		case "BATCH_SIZE":
			over.BatchSize, err = strconv.Atoi(val)
		case "START":
			over.Start, err = strconv.ParseInt(val, 10, 64)
		case "DELAY_MS":
			over.DelayMS, err = strconv.Atoi(val)
		case "LOOKUP_TIMEOUT_SECONDS":
			over.LookupTimeoutSeconds, err = strconv.Atoi(val)
		case "DRY_RUN":
			over.DryRun, err = strconv.ParseBool(val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "METRICS_FILE":
			over.MetricsFile = val
		case "LEDGER_FILE":
			over.LedgerFile = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_BATCH_SOURCE":
			over.Components.BatchSource = val
		case "COMPONENTS_SOURCE":
			over.Components.Source = val
		case "COMPONENTS_NORMALIZER":
			over.Components.Normalizer = val
		case "COMPONENTS_RENDERER":
			over.Components.Renderer = val
		case "COMPONENTS_VAULT":
			over.Components.Vault = val
		case "OPTIONS_READER_JSON":
			over.Options.Reader, err = rawJSON(val)
		case "OPTIONS_BATCH_SOURCE_JSON":
			over.Options.BatchSource, err = rawJSON(val)
		case "OPTIONS_SOURCE_JSON":
			over.Options.Source, err = rawJSON(val)
		case "OPTIONS_NORMALIZER_JSON":
			over.Options.Normalizer, err = rawJSON(val)
		case "OPTIONS_RENDERER_JSON":
			over.Options.Renderer, err = rawJSON(val)
		case "OPTIONS_VAULT_JSON":
			over.Options.Vault, err = rawJSON(val)
		default:
			// 非本集合的键忽略（例如 TEND_CONFIG_FILE 由 CLI 层读取）。
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
		}
	}
	return over, nil
}

func rawJSON(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, errors.New("invalid JSON")
	}
	return json.RawMessage(s), nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// FindDefault 返回工作目录下第一个存在的默认配置文件；均不存在时返回空串。
func FindDefault(dir string) string {
	for _, name := range DefaultFiles {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}
