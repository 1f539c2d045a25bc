package markdown

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"tend/pkg/contract"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func sampleContact() contract.Contact {
	return contract.Contact{
		Name:        "Ada Lovelace",
		DisplayName: "Ada",
		Type:        contract.TypePerson,
		ID:          "42",
		Status:      contract.StatusActive,
		Emails:      []string{"ada@example.com"},
		Location:    "London",
		Social: []contract.SocialAccount{
			{Platform: "linkedin", URL: "https://linkedin.com/in/ada"},
			{Platform: "twitter", URL: "https://x.com/ada"},
		},
		Tags:              []string{"people", "linkedin"},
		Communities:       []string{"Bitcoin"},
		Priority:          contract.PriorityHigh,
		LastContact:       tp(time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)),
		Organization:      "Engine Co",
		Title:             "Programmer",
		Work:              []contract.Work{{Company: "Engine Co", Title: "Programmer", IsActive: true}, {Company: "Bank", Title: "Clerk", StartYear: 1830, EndYear: 1835}, {Company: "Lab", Title: "Fellow", StartYear: 1840}},
		Education:         []contract.Education{{School: "Home", Degree: "Mathematics", StartYear: 1820}},
		Bio:               "Mathematician",
		Birthday:          tp(time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)),
		ExternalID:        42,
		SourceURL:         "https://web.clay.earth/contact/42",
		RelationshipScore: 85,
		Stats: contract.InteractionStats{
			First:        tp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			Last:         tp(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
			MessageCount: 3,
			EmailCount:   2,
		},
		SourceCreated: tp(time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)),
		Notes:         []string{"Met at the salon"},
		BrainLinks:    []contract.BrainLink{{ThoughtName: "Charles Babbage"}},
		UpdatedAt:     fixedNow,
	}
}

func splitDoc(t *testing.T, doc string) (map[string]any, string, string) {
	t.Helper()
	require.True(t, strings.HasPrefix(doc, "---\n"), "文档应以 front section 开头")
	rest := strings.TrimPrefix(doc, "---\n")
	idx := strings.Index(rest, "\n---\n\n")
	require.GreaterOrEqual(t, idx, 0, "缺少 front section 结束符")
	front := rest[:idx]
	var m map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(front), &m))
	return m, front, rest[idx+len("\n---\n\n"):]
}

func TestRenderFrontSection(t *testing.T) {
	doc, err := New(nil, nil).Render(context.Background(), sampleContact())
	require.NoError(t, err)
	m, front, _ := splitDoc(t, doc)

	assert.Equal(t, "Ada Lovelace", m["name"])
	assert.Equal(t, 42, m["clayId"])
	assert.Equal(t, "active", m["status"])
	assert.Equal(t, "2023-03-04", m["created"])
	assert.Equal(t, "2025-06-15", m["updated"])
	assert.Equal(t, "2025-06-10", m["lastContact"])
	assert.Equal(t, "1815-12-10", m["birthday"])
	assert.Equal(t, []any{"Bitcoin"}, m["communities"])
	assert.Equal(t, []any{"Ada"}, m["aliases"])
	assert.Equal(t, map[string]any{"linkedin": "https://linkedin.com/in/ada", "twitter": "https://x.com/ada"}, m["social"])
	inter := m["interactions"].(map[string]any)
	assert.Equal(t, "2024-01-01", inter["first"])
	assert.Equal(t, 3, inter["messageCount"])
	assert.NotContains(t, m, "phone", "空字段应省略")
	assert.NotContains(t, m, "industry")

	// 键顺序固定
	order := []string{"name:", "type:", "clayId:", "status:", "created:", "updated:", "email:", "location:", "social:", "tags:", "communities:", "priority:", "lastContact:", "organization:", "title:", "birthday:", "clayUrl:", "clayCreated:", "relationshipScore:", "interactions:"}
	last := -1
	for _, k := range order {
		i := strings.Index(front, "\n"+k)
		if k == "name:" {
			i = strings.Index(front, k)
		}
		require.Greater(t, i, last, "键 %s 顺序错误", k)
		last = i
	}
}

func TestRenderBodySections(t *testing.T) {
	doc, err := New(nil, nil).Render(context.Background(), sampleContact())
	require.NoError(t, err)
	_, _, body := splitDoc(t, doc)

	for _, want := range []string{
		"## Links\n\n[[400 People and Relationships MOC | People and Relationships]]\n[[++Home | Index]]\n",
		"### TheBrain References\n- [[Charles Babbage]]\n",
		"| | |\n|---|---|\n| Email | ada@example.com |",
		"| Role | Programmer @ Engine Co |",
		"| Birthday | Dec 10 |",
		"| Social | [Linkedin](https://linkedin.com/in/ada) · [Twitter](https://x.com/ada) |",
		"**About:**\nMathematician",
		"- Programmer @ Engine Co (current)\n- Clerk @ Bank [1830-1835]\n- Fellow @ Lab [since 1840]\n",
		"## Education\n\n- Home - Mathematics [1820]\n",
		"**Relationship Score:** 85/100\n\n**First Interaction:** 2024-01-01\n\n**Last Interaction:** 2025-06-01\n\n",
		"**Activity:**\n- 2 emails exchanged\n- 3 messages\n",
		"## Clay Notes\n\n- Met at the salon\n",
		"## Notes\n\n[User notes - preserved across syncs]",
		"## Family Notes\n\n[User notes - preserved across syncs]",
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "calendar events")
	assert.Less(t, strings.Index(body, "## Clay Notes"), strings.Index(body, "---\n"), "系统段落应在分隔线之前")
	assert.Less(t, strings.Index(body, "---\n"), strings.Index(body, "## Notes"))
}

// 含引用的笔记同时出现在 Clay Notes 与 TheBrain References
func TestRenderNoteWithBrainLink(t *testing.T) {
	note := "Met at Bitcoin conf. See brain://api.thebrain.com/b1/t1/Ada%20Lovelace"
	c := contract.Contact{
		Name:       "Ada",
		UpdatedAt:  fixedNow,
		Notes:      []string{note},
		BrainLinks: []contract.BrainLink{{BrainID: "b1", ThoughtID: "t1", ThoughtName: "Ada Lovelace"}},
	}
	doc, err := New(nil, nil).Render(context.Background(), c)
	require.NoError(t, err)
	_, _, body := splitDoc(t, doc)
	assert.Contains(t, body, "## Clay Notes\n\n- "+note+"\n")
	assert.Contains(t, body, "### TheBrain References\n- [[Ada Lovelace]]\n")
}

func TestRenderMinimalContact(t *testing.T) {
	r := New(&Options{IndexLinks: []string{}, UserSections: []string{"Journal"}, Placeholder: "-"}, func() time.Time { return fixedNow })
	doc, err := r.Render(context.Background(), contract.Contact{Name: "Nobody", Type: contract.TypePerson, Status: contract.StatusDormant})
	require.NoError(t, err)
	m, _, body := splitDoc(t, doc)
	assert.Equal(t, "2025-06-15", m["updated"], "缺少 UpdatedAt 时使用注入时钟")
	assert.NotContains(t, m, "created")
	inter := m["interactions"].(map[string]any)
	assert.Equal(t, "", inter["first"])
	assert.Contains(t, body, "[No contact details available]")
	assert.NotContains(t, body, "## Work History")
	assert.NotContains(t, body, "[[++Home")
	assert.Contains(t, body, "## Journal\n\n-")
	assert.NotContains(t, body, "## Family Notes")
}

func TestRenderQuotesUnsafeYAML(t *testing.T) {
	c := contract.Contact{Name: "O'Brien: \"The\" #1", Location: "- dash", UpdatedAt: fixedNow}
	doc, err := New(nil, nil).Render(context.Background(), c)
	require.NoError(t, err)
	m, _, _ := splitDoc(t, doc)
	assert.Equal(t, c.Name, m["name"])
	assert.Equal(t, "- dash", m["location"])
}

func TestRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, nil).Render(ctx, sampleContact())
	assert.ErrorIs(t, err, context.Canceled)
}
