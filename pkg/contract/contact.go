package contract

import (
	"context"
	"time"
)

// ContactType: 联系人类别。
type ContactType string

const (
	TypePerson       ContactType = "person"
	TypeOrganization ContactType = "organization"
)

// Status: 关系状态（由互动时间与是否纪念账户推断）。
type Status string

const (
	StatusActive   Status = "active"
	StatusDormant  Status = "dormant"
	StatusArchived Status = "archived"
)

// Priority: 由关系分数分档。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SocialAccount: 社交链接及其平台名（linkedin/twitter/.../other）。
type SocialAccount struct {
	Platform string
	URL      string
}

// Work: 规范化后的工作经历。
type Work struct {
	Company   string
	Title     string
	IsActive  bool
	StartYear int
	EndYear   int
}

// Education: 规范化后的教育经历。
type Education struct {
	School    string
	Degree    string
	StartYear int
	EndYear   int
}

// InteractionStats: 互动统计。
type InteractionStats struct {
	First        *time.Time
	Last         *time.Time
	MessageCount int
	EmailCount   int
	EventCount   int
}

// BrainLink: 笔记中识别出的知识图谱引用。
type BrainLink struct {
	BrainID     string
	ThoughtID   string
	ThoughtName string
	URL         string
}

// Contact: 规范化联系人，是渲染与落盘的唯一输入。
// Communities 仅用于目录路由（渲染时一并输出）。
type Contact struct {
	Name        string
	DisplayName string // 与 Name 相同时为空
	Type        ContactType
	ID          string
	Status      Status

	Emails   []string
	Phones   []string
	Location string
	Social   []SocialAccount

	Tags        []string
	Communities []string
	Priority    Priority
	LastContact *time.Time

	Organization string
	Title        string
	Industries   []string
	Work         []Work
	Education    []Education

	Interests         []string
	Bio               string
	Birthday          *time.Time
	BirthdayYearKnown bool

	ExternalID        int64
	SourceURL         string
	AvatarURL         string
	RelationshipScore int
	Stats             InteractionStats

	SourceCreated *time.Time
	Integrations  []string
	Notes         []string // 全部非空笔记原文（含引用的笔记同样保留）
	BrainLinks    []BrainLink

	// UpdatedAt: 规范化时刻（由注入时钟给出）。
	UpdatedAt time.Time
}

// Normalizer: 上游记录 → 规范化联系人。
// 全函数：任何推断失败均退化为空/默认值，不返回错误。
type Normalizer interface {
	Normalize(ext ExternalContact) Contact
}

// Renderer: 规范化联系人 → 完整文档文本（front section + 正文）。
type Renderer interface {
	Render(ctx context.Context, c Contact) (string, error)
}
