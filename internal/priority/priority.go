// Package priority 加载目录路由使用的社区优先级列表。
package priority

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty: 优先级文件中没有任何条目。
var ErrEmpty = errors.New("priority: no groups found")

// 列表项："- name"、"* name"、"1. name"、"2D. name"。
var itemRe = regexp.MustCompile(`^(?:\d+\.|[\d\w]+\.|[-*])\s+(.+)$`)

// Load 读取优先级列表。path 为空返回空列表（多社区联系人将回落到默认目录）。
// .yaml/.yml 按 YAML 字符串序列解析，其余按 Markdown 列表解析。
func Load(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("priority: %w", err)
	}
	var groups []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		groups, err = parseYAML(b)
		if err != nil {
			return nil, fmt.Errorf("priority: %s: %w", path, err)
		}
	default:
		groups = ParseMarkdown(string(b))
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmpty, path)
	}
	return groups, nil
}

// ParseMarkdown 解析 Markdown 列表；跳过标题与空行，保序去重。
func ParseMarkdown(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := itemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = appendUnique(out, seen, strings.TrimSpace(m[1]))
	}
	return out
}

func parseYAML(b []byte) ([]string, error) {
	var raw []string
	dec := yaml.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]struct{}{}
	for _, g := range raw {
		out = appendUnique(out, seen, strings.TrimSpace(g))
	}
	return out, nil
}

func appendUnique(out []string, seen map[string]struct{}, g string) []string {
	if g == "" {
		return out
	}
	if _, ok := seen[g]; ok {
		return out
	}
	seen[g] = struct{}{}
	return append(out, g)
}
