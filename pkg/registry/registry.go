package registry

import (
	"bytes"
	"encoding/json"
	"time"

	"tend/pkg/contract"
	bcsv "tend/plugins/batchsource/csv"
	nclay "tend/plugins/normalizer/clay"
	rfs "tend/plugins/reader/filesystem"
	rmd "tend/plugins/renderer/markdown"
	sclay "tend/plugins/source/clay"
	sfix "tend/plugins/source/fixture"
	smock "tend/plugins/source/mock"
	vfs "tend/plugins/vault/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewBatchSource 工厂签名：接收原样 JSON Options。
type NewBatchSource func(raw json.RawMessage) (contract.BatchSource, error)

// NewSource 工厂签名：接收原样 JSON Options。
// 返回值可额外实现 contract.ContactSearcher。
type NewSource func(raw json.RawMessage) (contract.ContactSource, error)

// NewNormalizer 工厂签名：时钟由调用方注入。
type NewNormalizer func(raw json.RawMessage, now func() time.Time) (contract.Normalizer, error)

// NewRenderer 工厂签名：时钟由调用方注入。
type NewRenderer func(raw json.RawMessage, now func() time.Time) (contract.Renderer, error)

// NewVault 工厂签名：渲染器与优先级列表由装配层提供。
type NewVault func(raw json.RawMessage, r contract.Renderer, priority []string) (contract.Vault, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// BatchSource 工厂注册表。
var BatchSource = map[string]NewBatchSource{
	// csv: tracker/export 两种表头方言
	"csv": func(raw json.RawMessage) (contract.BatchSource, error) {
		var opts bcsv.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bcsv.New(&opts)
	},
}

// Source 工厂注册表。
var Source = map[string]NewSource{
	// clay: HTTP 客户端（自带严格解码）
	"clay": func(raw json.RawMessage) (contract.ContactSource, error) { return sclay.New(raw) },
	// fixture: 本地 <id>.json 目录
	"fixture": func(raw json.RawMessage) (contract.ContactSource, error) {
		var opts sfix.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sfix.New(&opts)
	},
	// mock: 合成记录（联调/测试）
	"mock": func(raw json.RawMessage) (contract.ContactSource, error) {
		var opts smock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return smock.New(&opts), nil
	},
}

// Normalizer 工厂注册表。
var Normalizer = map[string]NewNormalizer{
	"clay": func(raw json.RawMessage, now func() time.Time) (contract.Normalizer, error) {
		var opts nclay.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return nclay.New(&opts, now), nil
	},
}

// Renderer 工厂注册表。
var Renderer = map[string]NewRenderer{
	// markdown: YAML front section + 固定正文段落
	"markdown": func(raw json.RawMessage, now func() time.Time) (contract.Renderer, error) {
		var opts rmd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rmd.New(&opts, now), nil
	},
}

// Vault 工厂注册表。
var Vault = map[string]NewVault{
	// fs: 文件系统文档库（不覆盖、-2..-5 版本）
	"fs": func(raw json.RawMessage, r contract.Renderer, priority []string) (contract.Vault, error) {
		var opts vfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return vfs.New(&opts, r, priority)
	},
}
