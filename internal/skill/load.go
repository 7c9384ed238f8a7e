package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML header every skill document starts with,
// matching the teacher's `---\nname: ...\n---` convention.
type frontMatter struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Category      string   `yaml:"category"`
	Tags          []string `yaml:"tags"`
	RequiredTools []string `yaml:"required_tools"`
	OptionalTools []string `yaml:"optional_tools"`
}

// Load walks dir for skill documents (a bare "*.md" file, or a
// subdirectory containing "SKILL.md") and parses each one's front matter
// into a Skill, returning a populated Registry. Documents without a
// front-matter header are rejected.
func Load(dir string) (*Registry, error) {
	reg := NewRegistry()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("skill: reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		var path string
		switch {
		case entry.IsDir():
			candidate := filepath.Join(dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			path = candidate
		case strings.HasSuffix(entry.Name(), ".md"):
			path = filepath.Join(dir, entry.Name())
		default:
			continue
		}

		s, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		reg.RegisterSkill(s)
	}

	return reg, nil
}

func parseFile(path string) (Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("skill: reading %s: %w", path, err)
	}

	meta, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return Skill{}, fmt.Errorf("skill: %s: %w", path, err)
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(meta), &fm); err != nil {
		return Skill{}, fmt.Errorf("skill: %s: parsing front matter: %w", path, err)
	}

	id := fm.ID
	if id == "" {
		id = fm.Name
	}
	if id == "" {
		return Skill{}, fmt.Errorf("skill: %s: front matter missing name/id", path)
	}

	return Skill{
		SkillID:        id,
		Name:           fm.Name,
		Description:    fm.Description,
		Category:       fm.Category,
		Tags:           fm.Tags,
		RequiredTools:  fm.RequiredTools,
		OptionalTools:  fm.OptionalTools,
		QuickGuide:     quickGuide(fm.Description, body),
		DetailedDocRef: path,
	}, nil
}

// splitFrontMatter separates the leading "---\n...\n---\n" YAML block
// from the Markdown body that follows. A document with no front matter
// is an error: every skill must declare at least name/description.
func splitFrontMatter(raw string) (meta, body string, err error) {
	const delim = "---"
	if !strings.HasPrefix(raw, delim) {
		return "", "", fmt.Errorf("missing front matter header")
	}
	rest := raw[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end < 0 {
		return "", "", fmt.Errorf("unterminated front matter block")
	}
	meta = strings.TrimPrefix(rest[:end], "\n")
	body = strings.TrimPrefix(rest[end+len(delim)+1:], "\n")
	return meta, body, nil
}

// quickGuide builds the short summary embedded in the system prompt: the
// front matter description plus the document's first heading line, a
// cheap proxy for "what this skill is for" without loading the full doc.
func quickGuide(description, body string) string {
	title := ""
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}
	if title == "" {
		return description
	}
	return fmt.Sprintf("%s — %s", title, description)
}

// Title extracts the skill document's level-1 heading, for display
// purposes (catalog indices, debug logging).
func Title(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// ReadDoc loads a skill's full detailed document on demand, the lazy-
// loading half of the quick-guide/full-doc split (spec §4.8).
func ReadDoc(s Skill) (string, error) {
	raw, err := os.ReadFile(s.DetailedDocRef)
	if err != nil {
		return "", fmt.Errorf("skill: reading detailed doc for %s: %w", s.SkillID, err)
	}
	_, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return "", err
	}
	return body, nil
}

// IndexMarkdown renders a catalog of every registered skill as a
// Markdown document, suitable for embedding in a system prompt overview.
func IndexMarkdown(r *Registry) string {
	var b strings.Builder
	b.WriteString("# Skills Catalog\n\n")
	for _, s := range r.ListSkills() {
		fmt.Fprintf(&b, "- `%s`: %s\n", s.SkillID, s.Description)
	}
	return b.String()
}
