package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 输入为工作目录下的 contacts.csv，文档库为 ./vault（自动创建）；
// - 来源为 Clay（密钥从 CLAY_API_KEY 读取）；
// - 选项列出全部键并给出中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Input:                "contacts.csv",
		VaultDir:             "vault",
		CheckpointFile:       d.CheckpointFile,
		PriorityFile:         "",
		DelayMS:              d.DelayMS,
		LookupTimeoutSeconds: d.LookupTimeoutSeconds,
		Logging:              d.Logging,
		LedgerFile:           "tend-ledger.db",
		Components:           d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{"buf_size": 65536}`)
	cfg.Options.BatchSource = json.RawMessage(`{"delimiter": ",", "reserved_prefix": "_"}`)
	cfg.Options.Source = json.RawMessage(`{
  "base_url": "https://api.clay.earth/v1",
  "api_key_env": "CLAY_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "disable_default_auth": false,
  "extra_headers": {},
  "search_limit": 10
}`)
	cfg.Options.Normalizer = json.RawMessage(`{
  "dormant_after_days": 365,
  "high_score": 80,
  "medium_score": 40
}`)
	cfg.Options.Renderer = json.RawMessage(`{
  "index_links": ["[[400 People and Relationships MOC | People and Relationships]]", "[[++Home | Index]]"],
  "user_sections": ["Notes", "Family Notes"],
  "placeholder": "[User notes - preserved across syncs]"
}`)
	cfg.Options.Vault = json.RawMessage(`{
  "create_root": true,
  "fallback_folder": "Ungrouped",
  "ext": ".md",
  "max_versions": 5,
  "max_name_runes": 200,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

// EncodeYAML 以块风格 YAML 输出配置，键顺序与 JSON 字段顺序一致。
func EncodeYAML(cfg Config) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	// JSON 是 YAML 的子集；经 Node 解码可保留键序
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	return yaml.Marshal(&doc)
}

func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		n.Style = 0
	case yaml.ScalarNode:
		// 去掉 JSON 带来的双引号；必要时编码器会重新加引号
		if n.Tag == "!!str" {
			n.Style = 0
		}
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}
