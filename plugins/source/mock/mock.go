package mock

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tend/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	// NamePrefix: 合成联系人姓名前缀，默认 "Contact"（姓名形如 "Contact 42"）。
	NamePrefix string `json:"name_prefix"`
	// Groups/Score: 合成联系人的分组与关系分数。
	Groups []string `json:"groups,omitempty"`
	Score  int      `json:"score,omitempty"`
	// FailIDs: 这些 ID 返回通用错误；MissingIDs 返回 ErrNotFound。
	FailIDs    []int64 `json:"fail_ids,omitempty"`
	MissingIDs []int64 `json:"missing_ids,omitempty"`
	// RateLimitFirst: 第一次调用返回 ErrRateLimited。
	RateLimitFirst bool `json:"rate_limit_first,omitempty"`
	// DelayMS: 每次调用的模拟延迟（尊重 ctx）。
	DelayMS int `json:"delay_ms,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Source 为无网络的联系人来源：按 ID 合成记录，或返回预置记录。
// 并发安全；记录调用序列供测试断言。
type Source struct {
	opts    Options
	fail    map[int64]bool
	missing map[int64]bool

	mu      sync.Mutex
	calls   []int64
	preset  map[int64]contract.ExternalContact
	limited bool
}

func New(opts *Options) *Source {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.NamePrefix == "" {
		o.NamePrefix = "Contact"
	}
	s := &Source{opts: o, fail: map[int64]bool{}, missing: map[int64]bool{}, preset: map[int64]contract.ExternalContact{}}
	for _, id := range o.FailIDs {
		s.fail[id] = true
	}
	for _, id := range o.MissingIDs {
		s.missing[id] = true
	}
	return s
}

// Put 预置一条完整记录（优先于合成）。
func (s *Source) Put(ext contract.ExternalContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset[ext.ID] = ext
}

// Calls 返回已发生的查询 ID 序列（副本）。
func (s *Source) Calls() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.calls...)
}

func (s *Source) GetContact(ctx context.Context, id int64) (contract.ExternalContact, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	first := !s.limited
	s.limited = true
	ext, hasPreset := s.preset[id]
	s.mu.Unlock()

	if s.opts.DelayMS > 0 {
		t := time.NewTimer(time.Duration(s.opts.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			s.log(id, "canceled")
			return contract.ExternalContact{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.ExternalContact{}, err
	}
	switch {
	case s.opts.RateLimitFirst && first:
		s.log(id, "rate_limited")
		return contract.ExternalContact{}, contract.ErrRateLimited
	case s.missing[id]:
		s.log(id, "not_found")
		return contract.ExternalContact{}, fmt.Errorf("mock %d: %w", id, contract.ErrNotFound)
	case s.fail[id]:
		s.log(id, "fail")
		return contract.ExternalContact{}, fmt.Errorf("mock: lookup failed for %d", id)
	}
	s.log(id, "ok")
	if hasPreset {
		return ext, nil
	}
	name := s.opts.NamePrefix + " " + strconv.FormatInt(id, 10)
	return contract.ExternalContact{
		ID:          id,
		Name:        name,
		DisplayName: name,
		Score:       s.opts.Score,
		Groups:      append([]string(nil), s.opts.Groups...),
		Created:     "2024-01-15T10:00:00.000",
	}, nil
}

// SearchContacts 在预置记录中按姓名子串（不区分大小写）检索；
// 未命中时识别合成姓名 "<前缀> <id>"。
func (s *Source) SearchContacts(ctx context.Context, query string, limit int) ([]contract.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, fmt.Errorf("mock: %w: empty query", contract.ErrInvalidInput)
	}
	s.mu.Lock()
	var hits []contract.SearchHit
	for _, ext := range s.preset {
		if strings.Contains(strings.ToLower(ext.Name), q) || strings.Contains(strings.ToLower(ext.DisplayName), q) {
			hits = append(hits, contract.SearchHit{ID: ext.ID, Name: ext.Name, DisplayName: ext.DisplayName, Score: ext.Score, URL: ext.URL})
		}
	}
	s.mu.Unlock()
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })

	if len(hits) == 0 {
		prefix := strings.ToLower(s.opts.NamePrefix) + " "
		if rest, ok := strings.CutPrefix(q, prefix); ok {
			if id, err := strconv.ParseInt(rest, 10, 64); err == nil && id > 0 {
				name := s.opts.NamePrefix + " " + rest
				hits = append(hits, contract.SearchHit{ID: id, Name: name, DisplayName: name, Score: s.opts.Score})
			}
		}
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Source) log(id int64, result string) {
	if s.opts.LogPath == "" {
		return
	}
	// 追加写入，忽略错误。
	f, err := os.OpenFile(s.opts.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "%d %s\n", id, result)
}

var (
	_ contract.ContactSource   = (*Source)(nil)
	_ contract.ContactSearcher = (*Source)(nil)
)
