// Package clay 将 Clay 联系人记录规范化为 contract.Contact。
// 所有推断规则均为纯函数：输入缺失或格式错误时退化为空值，从不返回错误。
package clay

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tend/pkg/contract"
)

// Options 为规范化器的可选配置（最小必要）。
type Options struct {
	// DormantAfterDays: 最近互动距今超过该天数视为 dormant。默认 365。
	DormantAfterDays int `json:"dormant_after_days,omitempty"`
	// HighScore/MediumScore: 优先级分档阈值（含）。默认 80/40。
	HighScore   int `json:"high_score,omitempty"`
	MediumScore int `json:"medium_score,omitempty"`
}

// Normalizer 实现 contract.Normalizer。
type Normalizer struct {
	dormantDays int
	high        int
	medium      int
	now         func() time.Time
}

// New 创建规范化器；now 为 nil 时使用 time.Now。
func New(opts *Options, now func() time.Time) *Normalizer {
	n := &Normalizer{dormantDays: 365, high: 80, medium: 40, now: now}
	if n.now == nil {
		n.now = time.Now
	}
	if opts != nil {
		if opts.DormantAfterDays > 0 {
			n.dormantDays = opts.DormantAfterDays
		}
		if opts.HighScore > 0 {
			n.high = opts.HighScore
		}
		if opts.MediumScore > 0 {
			n.medium = opts.MediumScore
		}
	}
	return n
}

var _ contract.Normalizer = (*Normalizer)(nil)

var (
	orgNameRe = regexp.MustCompile(`(?i)\b(Inc|LLC|Corp|Company|Consulting|Group|Ltd|LLP)\b`)
	brainRe   = regexp.MustCompile(`brain://api\.thebrain\.com/([^/]+)/([^/]+)/([^\s)]+)`)
)

// Normalize 执行全部推断规则。
func (n *Normalizer) Normalize(ext contract.ExternalContact) contract.Contact {
	now := n.now()
	name := strings.TrimSpace(ext.Name)
	if name == "" {
		name = strings.TrimSpace(ext.DisplayName)
	}
	c := contract.Contact{
		Name:              name,
		Type:              contactType(name),
		ID:                strconv.FormatInt(ext.ID, 10),
		Status:            n.status(ext, now),
		Emails:            nonEmpty(ext.Emails),
		Phones:            nonEmpty(ext.PhoneNumbers),
		Location:          deref(ext.Location),
		Social:            socialAccounts(ext.SocialLinks),
		Tags:              tags(ext.Integrations),
		Communities:       nonEmpty(ext.Groups),
		Priority:          n.priority(ext.Score),
		LastContact:       lastContact(ext),
		Industries:        industries(ext.WorkHistory),
		Work:              work(ext.WorkHistory),
		Education:         education(ext.EducationHistory),
		Interests:         interests(ext.Notes),
		Bio:               deref(ext.Bio),
		ExternalID:        ext.ID,
		SourceURL:         ext.URL,
		AvatarURL:         deref(ext.AvatarURL),
		RelationshipScore: ext.Score,
		Stats: contract.InteractionStats{
			First:        ParseDate(deref(ext.InteractionHistory.FirstDate)),
			Last:         ParseDate(deref(ext.InteractionHistory.LastDate)),
			MessageCount: ext.MessageHistory.Count,
			EmailCount:   ext.EmailHistory.Count,
			EventCount:   ext.EventHistory.Count,
		},
		SourceCreated: ParseDate(ext.Created),
		Integrations:  nonEmpty(ext.Integrations),
		UpdatedAt:     now.UTC(),
	}
	if dn := strings.TrimSpace(ext.DisplayName); dn != "" && dn != name {
		c.DisplayName = dn
	}
	c.Organization, c.Title = currentRole(ext.WorkHistory)
	c.Birthday, c.BirthdayYearKnown = ParseBirthday(deref(ext.Birthday), now)
	c.Notes, c.BrainLinks = splitNotes(ext.Notes)
	return c
}

func (n *Normalizer) status(ext contract.ExternalContact, now time.Time) contract.Status {
	if ext.IsMemorialized {
		return contract.StatusArchived
	}
	last := ParseDate(deref(ext.InteractionHistory.LastDate))
	if last == nil {
		return contract.StatusDormant
	}
	days := int(now.Sub(*last).Hours() / 24)
	if days > n.dormantDays {
		return contract.StatusDormant
	}
	return contract.StatusActive
}

func (n *Normalizer) priority(score int) contract.Priority {
	switch {
	case score >= n.high:
		return contract.PriorityHigh
	case score >= n.medium:
		return contract.PriorityMedium
	default:
		return contract.PriorityLow
	}
}

func contactType(name string) contract.ContactType {
	if orgNameRe.MatchString(name) {
		return contract.TypeOrganization
	}
	return contract.TypePerson
}

func tags(integrations []string) []string {
	out := []string{"people"}
	for _, t := range []string{"linkedin", "twitter", "calendar"} {
		if contains(integrations, t) {
			out = append(out, t)
		}
	}
	return out
}

// DetectPlatform 按 URL 子串识别社交平台。
func DetectPlatform(u string) string {
	switch {
	case strings.Contains(u, "linkedin.com"):
		return "linkedin"
	case strings.Contains(u, "twitter.com"), strings.Contains(u, "x.com"):
		return "twitter"
	case strings.Contains(u, "facebook.com"):
		return "facebook"
	case strings.Contains(u, "instagram.com"):
		return "instagram"
	case strings.Contains(u, "github.com"):
		return "github"
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return "youtube"
	default:
		return "other"
	}
}

func socialAccounts(links []string) []contract.SocialAccount {
	var out []contract.SocialAccount
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, contract.SocialAccount{Platform: DetectPlatform(l), URL: l})
	}
	return out
}

func lastContact(ext contract.ExternalContact) *time.Time {
	var best *time.Time
	for _, s := range []*string{
		ext.InteractionHistory.LastDate,
		ext.MessageHistory.LastDate,
		ext.EmailHistory.LastDate,
		ext.EventHistory.LastDate,
	} {
		if t := ParseDate(deref(s)); t != nil && (best == nil || t.After(*best)) {
			best = t
		}
	}
	return best
}

// currentRole: 优先在职条目，字段为空时回落到首条。
func currentRole(hist []contract.WorkEntry) (org, title string) {
	if len(hist) == 0 {
		return "", ""
	}
	first := hist[0]
	org, title = first.Company, first.Title
	for _, w := range hist {
		if !w.IsActive {
			continue
		}
		if w.Company != "" {
			org = w.Company
		}
		if w.Title != "" {
			title = w.Title
		}
		break
	}
	return org, title
}

func industries(hist []contract.WorkEntry) []string {
	names := make([]string, 0, len(hist))
	for _, w := range hist {
		names = append(names, strings.ToLower(w.Company))
	}
	joined := strings.Join(names, " ")
	var out []string
	if containsAny(joined, "tech", "software", "google") {
		out = append(out, "Technology")
	}
	if containsAny(joined, "finance", "bank") {
		out = append(out, "Finance")
	}
	if containsAny(joined, "consult") {
		out = append(out, "Consulting")
	}
	if containsAny(joined, "government", "federal") {
		out = append(out, "Government")
	}
	return out
}

// interests 为朴素子串匹配（"ai" 会命中 "email" 等词，保持既有行为）。
func interests(notes []string) []string {
	text := strings.ToLower(strings.Join(notes, " "))
	var out []string
	if strings.Contains(text, "bitcoin") {
		out = append(out, "Bitcoin")
	}
	if strings.Contains(text, "photography") {
		out = append(out, "Photography")
	}
	if containsAny(text, "ai", "artificial") {
		out = append(out, "AI")
	}
	if strings.Contains(text, "government") {
		out = append(out, "Government")
	}
	if strings.Contains(text, "tech") {
		out = append(out, "Technology")
	}
	return out
}

func work(hist []contract.WorkEntry) []contract.Work {
	if len(hist) == 0 {
		return nil
	}
	out := make([]contract.Work, 0, len(hist))
	for _, w := range hist {
		out = append(out, contract.Work{Company: w.Company, Title: w.Title, IsActive: w.IsActive, StartYear: w.StartYear, EndYear: w.EndYear})
	}
	return out
}

func education(hist []contract.EducationEntry) []contract.Education {
	if len(hist) == 0 {
		return nil
	}
	out := make([]contract.Education, 0, len(hist))
	for _, e := range hist {
		out = append(out, contract.Education{School: e.School, Degree: deref(e.Degree), StartYear: e.StartYear, EndYear: e.EndYear})
	}
	return out
}

// splitNotes 保留全部非空笔记原文，并额外抽取其中的知识图谱引用。
func splitNotes(notes []string) ([]string, []contract.BrainLink) {
	var plain []string
	var links []contract.BrainLink
	for _, note := range notes {
		if strings.TrimSpace(note) == "" {
			continue
		}
		plain = append(plain, note)
		for _, m := range brainRe.FindAllStringSubmatch(note, -1) {
			name, err := url.PathUnescape(m[3])
			if err != nil {
				name = m[3]
			}
			links = append(links, contract.BrainLink{BrainID: m[1], ThoughtID: m[2], ThoughtName: name, URL: m[0]})
		}
	}
	return plain, links
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate 宽松解析上游时间戳；无法解析返回 nil。结果统一为 UTC。
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ParseBirthday 解析 "M/D" 或 "M/D/YYYY"。
// 无年份时以当前年份占位（2 月 29 日回落到最近的闰年），yearKnown=false。
func ParseBirthday(s string, now time.Time) (bd *time.Time, yearKnown bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, false
	}
	month, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	day, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return nil, false
	}
	year := now.Year()
	if len(parts) == 3 {
		y, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || y <= 0 {
			return nil, false
		}
		year, yearKnown = y, true
	} else if month == 2 && day == 29 {
		for !isLeap(year) {
			year--
		}
	}
	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) {
		return nil, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t, yearKnown
}

func isLeap(y int) bool { return y%4 == 0 && (y%100 != 0 || y%400 == 0) }

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// nonEmpty 去空白、去空项、保序去重；结果为空时返回 nil。
func nonEmpty(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
