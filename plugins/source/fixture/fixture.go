package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tend/pkg/contract"
)

// Options: 离线夹具目录，每个联系人一个 <id>.json。
type Options struct {
	Dir string `json:"dir"`
}

// Source 从本地 JSON 文件读取联系人（无网络，用于联调与回放）。
type Source struct {
	dir string
}

// New 校验目录存在。
func New(opts *Options) (*Source, error) {
	if opts == nil || strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("fixture: %w: dir required", contract.ErrInvalidInput)
	}
	st, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w: %v", contract.ErrPathInvalid, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("fixture: %w: %s is not a directory", contract.ErrPathInvalid, opts.Dir)
	}
	return &Source{dir: opts.Dir}, nil
}

// GetContact 读取 <dir>/<id>.json。
func (s *Source) GetContact(ctx context.Context, id int64) (contract.ExternalContact, error) {
	if err := ctx.Err(); err != nil {
		return contract.ExternalContact{}, err
	}
	if id <= 0 {
		return contract.ExternalContact{}, fmt.Errorf("fixture: %w: contact id %d", contract.ErrInvalidInput, id)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, strconv.FormatInt(id, 10)+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return contract.ExternalContact{}, fmt.Errorf("fixture %d: %w", id, contract.ErrNotFound)
		}
		return contract.ExternalContact{}, err
	}
	var ext contract.ExternalContact
	if err := json.Unmarshal(b, &ext); err != nil {
		return contract.ExternalContact{}, fmt.Errorf("fixture %d: %v: %w", id, err, contract.ErrResponseInvalid)
	}
	if ext.ID == 0 {
		ext.ID = id
	}
	return ext, nil
}

// SearchContacts 对目录内全部夹具做大小写无关的姓名子串匹配，按 ID 升序。
func (s *Source) SearchContacts(ctx context.Context, query string, limit int) ([]contract.SearchHit, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, fmt.Errorf("fixture: %w: empty query", contract.ErrInvalidInput)
	}
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	hits := []contract.SearchHit{}
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		id, err := strconv.ParseInt(base, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ext, err := s.GetContact(ctx, id)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(ext.Name), q) && !strings.Contains(strings.ToLower(ext.DisplayName), q) {
			continue
		}
		hits = append(hits, contract.SearchHit{ID: ext.ID, Name: ext.Name, DisplayName: ext.DisplayName, Score: ext.Score, URL: ext.URL})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var (
	_ contract.ContactSource   = (*Source)(nil)
	_ contract.ContactSearcher = (*Source)(nil)
)
