package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；未知字段在解析期失败（JSON 与 YAML 同规则）。
type Config struct {
	// Input: 批量 CSV 路径，"-" 表示 STDIN。
	Input string `json:"input"`
	// VaultDir: 文档库根目录；非空时覆盖 options.vault.vault_dir。
	VaultDir       string `json:"vault_dir"`
	CheckpointFile string `json:"checkpoint_file"`
	// PriorityFile: 社区优先级列表（markdown 或 YAML）；为空表示无优先级。
	PriorityFile string `json:"priority_file"`

	BatchSize int   `json:"batch_size"`
	Start     int64 `json:"start"`
	// DelayMS: 相邻查询之间的固定间隔。0 有语义（不等待），-1 表示未设置。
	DelayMS              int  `json:"delay_ms"`
	LookupTimeoutSeconds int  `json:"lookup_timeout_seconds"`
	DryRun               bool `json:"dry_run"`
	Reset                bool `json:"reset"`

	Logging Logging `json:"logging"`
	// MetricsFile: 运行结束时写出 Prometheus textfile（可选）。
	MetricsFile string `json:"metrics_file"`
	// LedgerFile: 逐行处理历史（SQLite，可选）。
	LedgerFile string `json:"ledger_file"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader      string `json:"reader"`
	BatchSource string `json:"batch_source"`
	Source      string `json:"source"`
	Normalizer  string `json:"normalizer"`
	Renderer    string `json:"renderer"`
	Vault       string `json:"vault"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader      json.RawMessage `json:"reader,omitempty"`
	BatchSource json.RawMessage `json:"batch_source,omitempty"`
	Source      json.RawMessage `json:"source,omitempty"`
	Normalizer  json.RawMessage `json:"normalizer,omitempty"`
	Renderer    json.RawMessage `json:"renderer,omitempty"`
	Vault       json.RawMessage `json:"vault,omitempty"`
}
