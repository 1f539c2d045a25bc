package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"tend/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// VaultDir: 文档库根目录（必需）。
	VaultDir string `json:"vault_dir"`
	// CreateRoot: 根目录不存在时是否自动创建。默认 false（根目录缺失为配置错误）。
	CreateRoot bool `json:"create_root,omitempty"`
	// FallbackFolder: 无法路由时的目录名。默认 "Ungrouped"。
	FallbackFolder string `json:"fallback_folder,omitempty"`
	// Ext: 文档扩展名（含点）。默认 ".md"。
	Ext string `json:"ext,omitempty"`
	// MaxVersions: 同名文档最多版本数（含基础文件）。默认 5。
	MaxVersions int `json:"max_versions,omitempty"`
	// MaxNameRunes: 文件名（不含扩展名）最大字符数。默认 200。
	MaxNameRunes int `json:"max_name_runes,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 为基于本地文件系统的文档库写入器。
type FS struct {
	root        string
	fallback    string
	ext         string
	maxVersions int
	maxRunes    int
	permF       os.FileMode
	permD       os.FileMode
	bufSize     int

	renderer contract.Renderer
	priority []string
}

// New 创建文件系统 Vault 实现。priority 为目录路由优先级列表（只读，可为空）。
func New(opts *Options, renderer contract.Renderer, priority []string) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.VaultDir) == "" {
		return nil, os.ErrInvalid
	}
	if renderer == nil {
		return nil, errors.New("vault: renderer required")
	}
	info, err := os.Stat(opts.VaultDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("vault: %s is not a directory: %w", opts.VaultDir, contract.ErrPathInvalid)
	case errors.Is(err, fs.ErrNotExist) && !opts.CreateRoot:
		return nil, fmt.Errorf("vault: root does not exist: %s: %w", opts.VaultDir, err)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	v := &FS{
		root:        opts.VaultDir,
		fallback:    "Ungrouped",
		ext:         ".md",
		maxVersions: 5,
		maxRunes:    200,
		permF:       opts.PermFile,
		permD:       opts.PermDir,
		bufSize:     opts.BufSize,
		renderer:    renderer,
		priority:    append([]string(nil), priority...),
	}
	if f := SanitizeName(opts.FallbackFolder, 0); f != "" {
		v.fallback = f
	}
	if e := strings.TrimSpace(opts.Ext); e != "" {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		v.ext = e
	}
	if opts.MaxVersions > 0 {
		v.maxVersions = opts.MaxVersions
	}
	if opts.MaxNameRunes > 0 {
		v.maxRunes = opts.MaxNameRunes
	}
	if v.permF == 0 {
		v.permF = 0o644
	}
	if v.permD == 0 {
		v.permD = 0o755
	}
	if v.bufSize <= 0 {
		v.bufSize = 64 * 1024
	}
	return v, nil
}

var _ contract.Vault = (*FS)(nil)

// Plan 计算目标位置，不做任何写入。
func (v *FS) Plan(ctx context.Context, c contract.Contact) (contract.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.UpsertResult{}, err
	}
	folder, base := v.locate(c)
	return v.probe(folder, base, 1)
}

// Upsert 渲染并写入联系人文档；永不覆盖已有文件。
func (v *FS) Upsert(ctx context.Context, c contract.Contact) (contract.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.UpsertResult{}, err
	}
	folder, base := v.locate(c)
	res, err := v.probe(folder, base, 1)
	if err != nil {
		return res, err
	}
	content, err := v.renderer.Render(ctx, c)
	if err != nil {
		return contract.UpsertResult{}, err
	}
	dir := filepath.Join(v.root, folder)
	if err := os.MkdirAll(dir, v.permD); err != nil {
		return contract.UpsertResult{}, err
	}
	for {
		err := v.writeNoClobber(ctx, res.Path, strings.NewReader(content))
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return contract.UpsertResult{}, err
		}
		// 探测后被并发占用：继续寻找下一个空位
		next := v.versionOf(res.Filename, base) + 1
		if res, err = v.probe(folder, base, next); err != nil {
			return res, err
		}
	}
}

// nameMaxBytes 为常见文件系统的单个路径分量上限（NAME_MAX）。
const nameMaxBytes = 255

// removeTemp 发布后清理临时文件（测试可替换）。
var removeTemp = os.Remove

// locate: 目录路由 + 文件名清洗。文件名按字节预留 "-N" 与扩展名的空间。
func (v *FS) locate(c contract.Contact) (folder, base string) {
	folder = TruncateBytes(SanitizeName(Route(c.Communities, v.priority, v.fallback), v.maxRunes), nameMaxBytes)
	if folder == "" {
		folder = v.fallback
	}
	budget := nameMaxBytes - len(v.ext) - len("-"+strconv.Itoa(v.maxVersions))
	base = TruncateBytes(SanitizeName(c.Name, v.maxRunes), budget)
	if base == "" {
		id := c.ID
		if id == "" {
			id = strconv.FormatInt(c.ExternalID, 10)
		}
		base = "contact-" + id
	}
	return folder, base
}

// probe 自第 from 个版本起寻找首个不存在的文件名。
func (v *FS) probe(folder, base string, from int) (contract.UpsertResult, error) {
	dir := filepath.Join(v.root, folder)
	for n := from; n <= v.maxVersions; n++ {
		name := base + v.ext
		if n > 1 {
			name = base + "-" + strconv.Itoa(n) + v.ext
		}
		p := filepath.Join(dir, name)
		_, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return contract.UpsertResult{Path: p, Folder: folder, Filename: name, WasCreated: n == 1}, nil
		}
		if err != nil {
			return contract.UpsertResult{}, err
		}
	}
	return contract.UpsertResult{}, fmt.Errorf("vault: %q has %d versions in %s (%s%s through %s-%d%s): %w",
		base, v.maxVersions, folder, base, v.ext, base, v.maxVersions, v.ext, contract.ErrVersionsExhausted)
}

func (v *FS) versionOf(filename, base string) int {
	s := strings.TrimSuffix(strings.TrimPrefix(filename, base), v.ext)
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "-"))
	if err != nil {
		return v.maxVersions
	}
	return n
}

// writeNoClobber: 同目录临时文件写满后以“不覆盖”方式发布。
func (v *FS) writeNoClobber(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 目标权限：尽量与期望一致
	_ = os.Chmod(tmpPath, v.permF)

	bw := bufio.NewWriterSize(tmp, v.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = bw.Flush()
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的不覆盖发布：目标已存在时返回 fs.ErrExist
	if err := osPublish(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：在部分平台同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// Route 选择联系人所在目录：
// 无社区 → fallback；单一社区 → 该社区；多个 → 优先级列表中首个命中项；均未命中 → fallback。
func Route(communities, priority []string, fallback string) string {
	switch len(communities) {
	case 0:
		return fallback
	case 1:
		return communities[0]
	}
	member := make(map[string]struct{}, len(communities))
	for _, c := range communities {
		member[c] = struct{}{}
	}
	for _, p := range priority {
		if _, ok := member[p]; ok {
			return p
		}
	}
	return fallback
}

var (
	invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	spaceRun         = regexp.MustCompile(`\s+`)
)

// SanitizeName 将名称清洗为可用的文件/目录名：
// 去除 <>:"/\|?* 与控制字符，折叠空白，去掉首尾的点与空白，按 rune 截断到 maxRunes（<=0 不限制）。
func SanitizeName(name string, maxRunes int) string {
	s := strings.TrimSpace(name)
	s = invalidNameChars.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = spaceRun.ReplaceAllString(s, " ")
	s = trimDotsSpaces(s)
	if rs := []rune(s); maxRunes > 0 && len(rs) > maxRunes {
		s = trimDotsSpaces(string(rs[:maxRunes]))
	}
	return s
}

// TruncateBytes 在 rune 边界处截断到不超过 maxBytes 字节（<=0 不限制）。
func TruncateBytes(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return trimDotsSpaces(s[:cut])
}

func trimDotsSpaces(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return r == '.' || unicode.IsSpace(r) })
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
