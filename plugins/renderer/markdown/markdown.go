// Package markdown 将规范化联系人渲染为带 YAML front section 的 Markdown 文档。
package markdown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tend/pkg/contract"
)

// Options 为渲染器的可选配置（最小必要）。
type Options struct {
	// IndexLinks: Links 段落固定的回链（Obsidian wikilink 原文）。
	// 为 nil 时采用默认 MOC 与首页链接；显式空切片表示不输出。
	IndexLinks []string `json:"index_links,omitempty"`
	// UserSections: 用户自留段落标题。为 nil 时采用默认 ["Notes","Family Notes"]。
	UserSections []string `json:"user_sections,omitempty"`
	// Placeholder: 用户段落占位文本。
	Placeholder string `json:"placeholder,omitempty"`
}

var (
	defaultIndexLinks   = []string{"[[400 People and Relationships MOC | People and Relationships]]", "[[++Home | Index]]"}
	defaultUserSections = []string{"Notes", "Family Notes"}
)

const defaultPlaceholder = "[User notes - preserved across syncs]"

// Renderer 实现 contract.Renderer。
type Renderer struct {
	indexLinks   []string
	userSections []string
	placeholder  string
	now          func() time.Time
}

// New 创建渲染器；now 仅在联系人缺少 UpdatedAt 时使用。
func New(opts *Options, now func() time.Time) *Renderer {
	r := &Renderer{indexLinks: defaultIndexLinks, userSections: defaultUserSections, placeholder: defaultPlaceholder, now: now}
	if r.now == nil {
		r.now = time.Now
	}
	if opts != nil {
		if opts.IndexLinks != nil {
			r.indexLinks = opts.IndexLinks
		}
		if opts.UserSections != nil {
			r.userSections = opts.UserSections
		}
		if strings.TrimSpace(opts.Placeholder) != "" {
			r.placeholder = opts.Placeholder
		}
	}
	return r
}

var _ contract.Renderer = (*Renderer)(nil)

// Render 输出 "---\n<front>\n---\n\n<body>"。
func (r *Renderer) Render(ctx context.Context, c contract.Contact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fm, err := r.frontSection(c)
	if err != nil {
		return "", err
	}
	return "---\n" + fm + "\n---\n\n" + r.body(c), nil
}

// frontMatter 字段顺序即输出顺序。
type frontMatter struct {
	Name              string            `yaml:"name"`
	Aliases           []string          `yaml:"aliases,omitempty"`
	Type              string            `yaml:"type"`
	ClayID            int64             `yaml:"clayId"`
	Status            string            `yaml:"status"`
	Created           string            `yaml:"created,omitempty"`
	Updated           string            `yaml:"updated"`
	Email             []string          `yaml:"email,omitempty"`
	Phone             []string          `yaml:"phone,omitempty"`
	Location          string            `yaml:"location,omitempty"`
	Social            map[string]string `yaml:"social,omitempty"`
	Tags              []string          `yaml:"tags,omitempty"`
	Communities       []string          `yaml:"communities,omitempty"`
	Priority          string            `yaml:"priority,omitempty"`
	LastContact       string            `yaml:"lastContact,omitempty"`
	Organization      string            `yaml:"organization,omitempty"`
	Title             string            `yaml:"title,omitempty"`
	Industry          []string          `yaml:"industry,omitempty"`
	Interests         []string          `yaml:"interests,omitempty"`
	Birthday          string            `yaml:"birthday,omitempty"`
	ClayURL           string            `yaml:"clayUrl,omitempty"`
	ClayCreated       string            `yaml:"clayCreated,omitempty"`
	ClayIntegrations  []string          `yaml:"clayIntegrations,omitempty"`
	RelationshipScore int               `yaml:"relationshipScore"`
	Interactions      interactions      `yaml:"interactions"`
}

type interactions struct {
	First        string `yaml:"first"`
	Last         string `yaml:"last"`
	MessageCount int    `yaml:"messageCount"`
	EmailCount   int    `yaml:"emailCount"`
	EventCount   int    `yaml:"eventCount"`
}

func (r *Renderer) frontSection(c contract.Contact) (string, error) {
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = r.now()
	}
	fm := frontMatter{
		Name:              c.Name,
		Type:              string(c.Type),
		ClayID:            c.ExternalID,
		Status:            string(c.Status),
		Created:           day(c.SourceCreated),
		Updated:           updated.UTC().Format(time.DateOnly),
		Email:             c.Emails,
		Phone:             c.Phones,
		Location:          c.Location,
		Tags:              c.Tags,
		Communities:       c.Communities,
		Priority:          string(c.Priority),
		LastContact:       day(c.LastContact),
		Organization:      c.Organization,
		Title:             c.Title,
		Industry:          c.Industries,
		Interests:         c.Interests,
		Birthday:          day(c.Birthday),
		ClayURL:           c.SourceURL,
		ClayCreated:       day(c.SourceCreated),
		ClayIntegrations:  c.Integrations,
		RelationshipScore: c.RelationshipScore,
		Interactions: interactions{
			First:        day(c.Stats.First),
			Last:         day(c.Stats.Last),
			MessageCount: c.Stats.MessageCount,
			EmailCount:   c.Stats.EmailCount,
			EventCount:   c.Stats.EventCount,
		},
	}
	if c.DisplayName != "" {
		fm.Aliases = []string{c.DisplayName}
	}
	if len(c.Social) > 0 {
		fm.Social = make(map[string]string, len(c.Social))
		for _, s := range c.Social {
			// 同平台多条链接：保留首条
			if _, ok := fm.Social[s.Platform]; !ok {
				fm.Social[s.Platform] = s.URL
			}
		}
	}

	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return "", fmt.Errorf("renderer: encode front section: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("renderer: encode front section: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (r *Renderer) body(c contract.Contact) string {
	sections := []string{r.links(c), contactDetails(c)}
	if len(c.Work) > 0 {
		sections = append(sections, workHistory(c))
	}
	if len(c.Education) > 0 {
		sections = append(sections, educationHistory(c))
	}
	sections = append(sections, interactionHistory(c))
	if len(c.Notes) > 0 {
		sections = append(sections, clayNotes(c))
	}
	// 分隔系统段落与用户段落
	sections = append(sections, "---\n")
	for _, h := range r.userSections {
		sections = append(sections, "## "+h+"\n\n"+r.placeholder)
	}
	return strings.Join(sections, "\n\n")
}

func (r *Renderer) links(c contract.Contact) string {
	var b strings.Builder
	b.WriteString("## Links\n\n")
	for _, l := range r.indexLinks {
		b.WriteString(l + "\n")
	}
	if len(c.BrainLinks) > 0 {
		b.WriteString("\n### TheBrain References\n")
		for _, l := range c.BrainLinks {
			fmt.Fprintf(&b, "- [[%s]]\n", l.ThoughtName)
		}
	}
	return b.String()
}

func contactDetails(c contract.Contact) string {
	var rows []string
	if len(c.Emails) > 0 {
		rows = append(rows, "| Email | "+strings.Join(c.Emails, ", ")+" |")
	}
	if len(c.Phones) > 0 {
		rows = append(rows, "| Phone | "+strings.Join(c.Phones, ", ")+" |")
	}
	if c.Location != "" {
		rows = append(rows, "| Location | "+c.Location+" |")
	}
	if c.Organization != "" || c.Title != "" {
		role := c.Title
		if c.Organization != "" {
			role += " @ " + c.Organization
		}
		rows = append(rows, "| Role | "+role+" |")
	}
	if c.Birthday != nil {
		rows = append(rows, "| Birthday | "+c.Birthday.Format("Jan 2")+" |")
	}
	if len(c.Social) > 0 {
		links := make([]string, 0, len(c.Social))
		for _, s := range c.Social {
			links = append(links, fmt.Sprintf("[%s](%s)", capitalize(s.Platform), s.URL))
		}
		rows = append(rows, "| Social | "+strings.Join(links, " · ")+" |")
	}

	var b strings.Builder
	b.WriteString("## Contact Details\n\n")
	if len(rows) > 0 {
		b.WriteString("| | |\n|---|---|\n")
		b.WriteString(strings.Join(rows, "\n"))
	} else {
		b.WriteString("[No contact details available]")
	}
	if c.Bio != "" {
		b.WriteString("\n\n**About:**\n" + c.Bio)
	}
	return b.String()
}

func workHistory(c contract.Contact) string {
	var b strings.Builder
	b.WriteString("## Work History\n\n")
	for _, w := range c.Work {
		entry := fmt.Sprintf("- %s @ %s", w.Title, w.Company)
		switch {
		case w.IsActive:
			entry += " (current)"
		case w.StartYear != 0 && w.EndYear != 0:
			entry += fmt.Sprintf(" [%d-%d]", w.StartYear, w.EndYear)
		case w.StartYear != 0:
			entry += fmt.Sprintf(" [since %d]", w.StartYear)
		}
		b.WriteString(entry + "\n")
	}
	return b.String()
}

func educationHistory(c contract.Contact) string {
	var b strings.Builder
	b.WriteString("## Education\n\n")
	for _, e := range c.Education {
		entry := e.School
		if e.Degree != "" {
			entry += " - " + e.Degree
		}
		switch {
		case e.StartYear != 0 && e.EndYear != 0:
			entry += fmt.Sprintf(" [%d-%d]", e.StartYear, e.EndYear)
		case e.StartYear != 0:
			entry += fmt.Sprintf(" [%d]", e.StartYear)
		}
		b.WriteString("- " + entry + "\n")
	}
	return b.String()
}

func interactionHistory(c contract.Contact) string {
	var b strings.Builder
	s := c.Stats
	b.WriteString("## Interaction History\n\n")
	fmt.Fprintf(&b, "**Relationship Score:** %d/100\n\n", c.RelationshipScore)
	if s.First != nil {
		fmt.Fprintf(&b, "**First Interaction:** %s\n\n", day(s.First))
	}
	if s.Last != nil {
		fmt.Fprintf(&b, "**Last Interaction:** %s\n\n", day(s.Last))
	}
	if s.MessageCount > 0 || s.EmailCount > 0 || s.EventCount > 0 {
		b.WriteString("**Activity:**\n")
		if s.EmailCount > 0 {
			fmt.Fprintf(&b, "- %d emails exchanged\n", s.EmailCount)
		}
		if s.MessageCount > 0 {
			fmt.Fprintf(&b, "- %d messages\n", s.MessageCount)
		}
		if s.EventCount > 0 {
			fmt.Fprintf(&b, "- %d calendar events\n", s.EventCount)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func clayNotes(c contract.Contact) string {
	var b strings.Builder
	b.WriteString("## Clay Notes\n\n")
	for _, n := range c.Notes {
		b.WriteString("- " + n + "\n")
	}
	return b.String()
}

func day(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
