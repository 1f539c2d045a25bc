package clay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"tend/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string `json:"base_url"`        // 例如 https://api.clay.earth/v1
	APIKeyEnv      string `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int    `json:"timeout_seconds"` // 可选 client 级超时（秒）
	// DisableDefaultAuth 关闭默认 Authorization: Bearer 注入（由 ExtraHeaders 自行提供凭据）。
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
	// SearchLimit 为 SearchContacts 未指定 limit 时的默认值。
	SearchLimit int `json:"search_limit"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.clay.earth/v1"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "CLAY_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 10
	}
}

// Client 通过 HTTP 查询 Clay 联系人。
type Client struct {
	base        string
	apiKey      string
	extraH      map[string]string
	disableAuth bool
	limit       int
	do          func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("clay options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("clay: %w: missing api key (set %s)", contract.ErrInvalidInput, opts.APIKeyEnv)
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("clay: %w: base_url: %v", contract.ErrInvalidInput, err)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		base:        strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      key,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		limit:       opts.SearchLimit,
		do:          hc.Do,
	}, nil
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("clay upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// GetContact: GET {base}/contacts/{id}。
func (c *Client) GetContact(ctx context.Context, id int64) (contract.ExternalContact, error) {
	if id <= 0 {
		return contract.ExternalContact{}, fmt.Errorf("clay: %w: contact id %d", contract.ErrInvalidInput, id)
	}
	body, err := c.call(ctx, http.MethodGet, "/contacts/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return contract.ExternalContact{}, err
	}
	return decodeContact(body)
}

type searchReq struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchContacts: POST {base}/contacts/search。
func (c *Client) SearchContacts(ctx context.Context, query string, limit int) ([]contract.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("clay: %w: empty query", contract.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = c.limit
	}
	payload, _ := json.Marshal(searchReq{Query: query, Limit: limit})
	body, err := c.call(ctx, http.MethodPost, "/contacts/search", payload)
	if err != nil {
		return nil, err
	}
	return decodeSearch(body)
}

func (c *Client) call(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, contract.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("clay %s: %w", path, contract.ErrNotFound)
	case resp.StatusCode/100 != 2:
		// 读取少量响应体辅助定位
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return nil, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return nil, fmt.Errorf("clay upstream %d: %w", resp.StatusCode, contract.ErrInvalidInput)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return body, nil
}

// envelope 覆盖三种响应形态：
//  1. 直接对象/数组；
//  2. {content:[{type:"text",text:"<json>"}]}；
//  3. 旧版 {type:"text",text:"<json>"}。
type envelope struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// unwrap 返回实际承载数据的 JSON 片段。
func unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env envelope
	if json.Unmarshal(trimmed, &env) != nil {
		return trimmed
	}
	for _, c := range env.Content {
		if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
			return []byte(c.Text)
		}
	}
	if env.Type == "text" && strings.TrimSpace(env.Text) != "" {
		return []byte(env.Text)
	}
	return trimmed
}

func decodeContact(body []byte) (contract.ExternalContact, error) {
	var ext contract.ExternalContact
	if err := json.Unmarshal(unwrap(body), &ext); err != nil {
		return contract.ExternalContact{}, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if ext.ID <= 0 {
		return contract.ExternalContact{}, fmt.Errorf("decode: missing id: %w", contract.ErrResponseInvalid)
	}
	return ext, nil
}

func decodeSearch(body []byte) ([]contract.SearchHit, error) {
	data := unwrap(body)
	if len(data) > 0 && data[0] == '[' {
		var hits []contract.SearchHit
		if err := json.Unmarshal(data, &hits); err != nil {
			return nil, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
		}
		return hits, nil
	}
	var res struct {
		Total   int                  `json:"total"`
		Results []contract.SearchHit `json:"results"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if res.Results == nil {
		// 单个对象
		var hit contract.SearchHit
		if json.Unmarshal(data, &hit) == nil && hit.ID > 0 {
			return []contract.SearchHit{hit}, nil
		}
		return []contract.SearchHit{}, nil
	}
	return res.Results, nil
}

var (
	_ contract.ContactSource   = (*Client)(nil)
	_ contract.ContactSearcher = (*Client)(nil)
)
