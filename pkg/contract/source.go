package contract

import "context"

// ExternalContact: 上游（Clay）返回的联系人原始记录。
// 字段与上游 JSON 一一对应；可空字段使用指针，缺失集合为 nil。
// 仅由抓取执行器短暂持有，交给 Normalizer 后即丢弃。
type ExternalContact struct {
	ID             int64   `json:"id"`
	DisplayName    string  `json:"displayName"`
	Name           string  `json:"name"`
	AvatarURL      *string `json:"avatarURL"`
	IsMemorialized bool    `json:"isMemorialized"`

	Bio      *string `json:"bio"`
	Location *string `json:"location"`
	Birthday *string `json:"birthday"` // "M/D/YYYY" 或 "M/D"

	Emails       []string `json:"emails"`
	PhoneNumbers []string `json:"phone_numbers"`
	SocialLinks  []string `json:"social_links"`

	WorkHistory      []WorkEntry      `json:"work_history"`
	EducationHistory []EducationEntry `json:"education_history"`

	Score              int              `json:"score"`
	MessageHistory     InteractionCount `json:"message_history"`
	InteractionHistory InteractionCount `json:"interaction_history"`
	EmailHistory       InteractionCount `json:"email_history"`
	EventHistory       InteractionCount `json:"event_history"`

	Groups       []string `json:"groups,omitempty"`
	Created      string   `json:"created"`
	URL          string   `json:"url"`
	Notes        []string `json:"notes"`
	Integrations []string `json:"integrations"`
}

// WorkEntry: 工作经历（上游形态）。
type WorkEntry struct {
	Company   string `json:"company"`
	Title     string `json:"title"`
	IsActive  bool   `json:"is_active,omitempty"`
	StartYear int    `json:"start_year,omitempty"`
	EndYear   int    `json:"end_year,omitempty"`
}

// EducationEntry: 教育经历（上游形态）。
type EducationEntry struct {
	School    string  `json:"school"`
	Degree    *string `json:"degree"`
	StartYear int     `json:"start_year,omitempty"`
	EndYear   int     `json:"end_year,omitempty"`
}

// InteractionCount: 互动统计；interaction_history 不带 count。
type InteractionCount struct {
	FirstDate *string `json:"first_date"`
	LastDate  *string `json:"last_date"`
	Count     int     `json:"count,omitempty"`
}

// SearchHit: 按名称检索的最小结果项。
type SearchHit struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	URL         string `json:"url"`
}

// ContactSource: 以外部 ID 查询单个联系人。
// 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源。
// 不做重试：失败由调用方按行跳过。
type ContactSource interface {
	GetContact(ctx context.Context, id int64) (ExternalContact, error)
}

// ContactSearcher: 可选能力（非核心契约），按名称检索。
type ContactSearcher interface {
	SearchContacts(ctx context.Context, query string, limit int) ([]SearchHit, error)
}
