package skill

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/tool"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadParsesFrontMatterAndTitle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "summarize.md"), "---\n"+
		"id: summarize\n"+
		"name: Summarize\n"+
		"description: condense a document into key points\n"+
		"category: writing\n"+
		"tags: [\"nlp\", \"writing\"]\n"+
		"required_tools: [\"read_file\"]\n"+
		"---\n"+
		"# Summarize\n\nUse this skill to produce a short summary.\n")

	reg, err := Load(dir)
	require.NoError(t, err)

	s, ok := reg.GetSkill("summarize")
	require.True(t, ok)
	assert.Equal(t, "Summarize", s.Name)
	assert.Equal(t, "condense a document into key points", s.Description)
	assert.Equal(t, "writing", s.Category)
	assert.Contains(t, s.Tags, "nlp")
	assert.Contains(t, s.RequiredTools, "read_file")
	assert.Contains(t, s.QuickGuide, "Summarize")
	assert.Equal(t, filepath.Join(dir, "summarize.md"), s.DetailedDocRef)
}

func TestLoadSupportsSkillDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "code-review", "SKILL.md"), "---\n"+
		"id: code-review\n"+
		"name: Code Review\n"+
		"description: review a diff for correctness issues\n"+
		"---\n"+
		"# Code Review\n\nChecklist driven review.\n")

	reg, err := Load(dir)
	require.NoError(t, err)

	s, ok := reg.GetSkill("code-review")
	require.True(t, ok)
	assert.Equal(t, "Code Review", s.Name)
	assert.Equal(t, filepath.Join(dir, "code-review", "SKILL.md"), s.DetailedDocRef)
}

func TestLoadRejectsMissingFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.md"), "# No front matter here\n\njust body text\n")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestIndexMarkdownIncludesSkillList(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterSkill(Skill{SkillID: "summarize", Description: "condense a document"})
	reg.RegisterSkill(Skill{SkillID: "code-review", Description: "review a diff"})

	out := IndexMarkdown(reg)
	assert.Contains(t, out, "Skills Catalog")
	assert.Contains(t, out, "`summarize`")
	assert.Contains(t, out, "`code-review`")
}

func TestGetSkillAndListSkills(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterSkill(Skill{SkillID: "b"})
	reg.RegisterSkill(Skill{SkillID: "a"})

	_, ok := reg.GetSkill("missing")
	assert.False(t, ok)

	all := reg.ListSkills()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SkillID)
	assert.Equal(t, "b", all[1].SkillID)
}

func TestFindRelevantRanksByKeywordHits(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterSkill(Skill{SkillID: "summarize", Name: "Summarize", Description: "condense text", Tags: []string{"writing"}})
	reg.RegisterSkill(Skill{SkillID: "code-review", Name: "Code Review", Description: "review code for bugs", Tags: []string{"code", "review"}})

	matches := reg.FindRelevant("review code")
	require.Len(t, matches, 1)
	assert.Equal(t, "code-review", matches[0].SkillID)

	assert.Empty(t, reg.FindRelevant("unrelated gibberish query"))
}

func TestValidateDependenciesReportsMissingRequiredTools(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterSkill(Skill{SkillID: "summarize", RequiredTools: []string{"read_file"}, OptionalTools: []string{"search_web"}})

	tools := tool.NewRegistry(nil)
	err := reg.ValidateDependencies("summarize", tools)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read_file")

	tools.Register(tool.Tool{Name: "read_file", IsReadonly: true,
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) { return "", nil, nil }})
	require.NoError(t, reg.ValidateDependencies("summarize", tools))
}
