package main

import (
	"bufio"
	"os"
	"strings"
)

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 与 value 去首尾空白；
// - 若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义作最小处理。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if key == "" {
			continue
		}
		val = unquote(val)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`)
		val = r.Replace(val)
	}
	return val
}

// dotEnvKeys: .env 模板包含的键（分组按顺序输出）。
var dotEnvKeys = []struct {
	title string
	keys  []string
}{
	{"配置来源（可二选一）", []string{"TEND_CONFIG_FILE", "TEND_CONFIG_JSON"}},
	{"运行参数覆盖", []string{
		"TEND_INPUT", "TEND_VAULT_DIR", "TEND_CHECKPOINT_FILE", "TEND_PRIORITY_FILE",
		"TEND_BATCH_SIZE", "TEND_START", "TEND_DELAY_MS", "TEND_LOOKUP_TIMEOUT_SECONDS",
		"TEND_DRY_RUN", "TEND_LOG_LEVEL", "TEND_LOG_DIR", "TEND_METRICS_FILE", "TEND_LEDGER_FILE",
	}},
	{"组件选择", []string{
		"TEND_COMPONENTS_READER", "TEND_COMPONENTS_BATCH_SOURCE", "TEND_COMPONENTS_SOURCE",
		"TEND_COMPONENTS_NORMALIZER", "TEND_COMPONENTS_RENDERER", "TEND_COMPONENTS_VAULT",
	}},
	{"组件选项（JSON）", []string{"TEND_OPTIONS_SOURCE_JSON", "TEND_OPTIONS_VAULT_JSON"}},
	{"Clay API Key（由来源客户端读取，不经 TEND_ 前缀）", []string{"CLAY_API_KEY"}},
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# tend .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n")
	for _, g := range dotEnvKeys {
		b.WriteString("\n# " + g.title + "\n")
		for _, k := range g.keys {
			b.WriteString(k + "=\n")
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
