// Package soul reads and writes per-agent persona files: a key-value
// front-matter block bounded by bare "---" lines, followed by a free-form
// description. Parsing is intentionally lossy and regex-based rather than
// a full structured-text grammar — the format is informal, and this
// package freezes one specific reading of it rather than invent a new one.
package soul

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Soul is one agent's persona.
type Soul struct {
	Name        string
	Personality string
	Description string
	Goals       []string
	Rules       []string
	Preferences map[string]string
}

var (
	kvLine   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*):\s*(.*)$`)
	listItem = regexp.MustCompile(`^\s*-\s*(.+)$`)
	prefLine = regexp.MustCompile(`^\s{2,}([A-Za-z_][A-Za-z0-9_]*):\s*(.*)$`)
)

// Path returns the on-disk path of agentID's soul file.
func Path(workspaceDir, agentID string) string {
	return filepath.Join(workspaceDir, ".souls", agentID+".txt")
}

// Load reads and parses an agent's soul file. A missing file returns a
// zero-value Soul named after agentID, not an error — personas are
// optional until the first save.
func Load(workspaceDir, agentID string) (Soul, error) {
	data, err := os.ReadFile(Path(workspaceDir, agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return Soul{Name: agentID, Preferences: map[string]string{}}, nil
		}
		return Soul{}, fmt.Errorf("soul: read file: %w", err)
	}
	return Parse(string(data)), nil
}

// Parse extracts a Soul from a persona file's raw text. Lines that don't
// match the expected key or list-item shape are ignored, not rejected.
func Parse(text string) Soul {
	s := Soul{Preferences: map[string]string{}}
	lines := strings.Split(text, "\n")

	// Locate the front-matter block: a line that is exactly "---", then
	// more lines until the next line that is exactly "---".
	start, end := -1, -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "---" {
			if start == -1 {
				start = i
			} else {
				end = i
				break
			}
		}
	}

	var body []string
	if start != -1 && end != -1 {
		parseFrontMatter(lines[start+1:end], &s)
		body = lines[end+1:]
	} else {
		// No recognizable front matter: treat the whole file as description.
		body = lines
	}

	s.Description = strings.TrimSpace(strings.Join(body, "\n"))
	return s
}

func parseFrontMatter(lines []string, s *Soul) {
	var listTarget *[]string
	var inPreferences bool

	for _, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			listTarget = nil
			inPreferences = false
			continue
		}

		if inPreferences {
			if m := prefLine.FindStringSubmatch(raw); m != nil {
				s.Preferences[m[1]] = strings.TrimSpace(m[2])
				continue
			}
			inPreferences = false
		}

		if listTarget != nil {
			if m := listItem.FindStringSubmatch(raw); m != nil {
				*listTarget = append(*listTarget, strings.TrimSpace(m[1]))
				continue
			}
			listTarget = nil
		}

		m := kvLine.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])

		switch key {
		case "name":
			s.Name = value
		case "personality":
			s.Personality = value
		case "goals":
			if value == "" {
				listTarget = &s.Goals
			}
		case "rules":
			if value == "" {
				listTarget = &s.Rules
			}
		case "preferences":
			if value == "" {
				inPreferences = true
			}
		}
	}
}

// Render writes a Soul back to canonical front-matter text, regardless of
// whatever idiosyncratic formatting the source file had.
func Render(s Soul) string {
	var b bytes.Buffer
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", s.Name)
	if s.Personality != "" {
		fmt.Fprintf(&b, "personality: %s\n", s.Personality)
	}
	if len(s.Goals) > 0 {
		b.WriteString("goals:\n")
		for _, g := range s.Goals {
			fmt.Fprintf(&b, "  - %s\n", g)
		}
	}
	if len(s.Rules) > 0 {
		b.WriteString("rules:\n")
		for _, r := range s.Rules {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	if len(s.Preferences) > 0 {
		b.WriteString("preferences:\n")
		keys := make([]string, 0, len(s.Preferences))
		for k := range s.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, s.Preferences[k])
		}
	}
	b.WriteString("---\n")
	if s.Description != "" {
		b.WriteString(s.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// Save renders and writes a Soul to its canonical path, creating the
// .souls directory if needed.
func Save(workspaceDir, agentID string, s Soul) error {
	dir := filepath.Join(workspaceDir, ".souls")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("soul: create dir: %w", err)
	}
	return os.WriteFile(Path(workspaceDir, agentID), []byte(Render(s)), 0o644)
}

// SystemPrompt compiles a Soul into the text prepended to every backend
// request for this agent.
func (s Soul) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", s.Name)
	if s.Personality != "" {
		fmt.Fprintf(&b, " %s", s.Personality)
	}
	if s.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(s.Description)
	}
	if len(s.Goals) > 0 {
		b.WriteString("\n\nGoals:\n")
		for _, g := range s.Goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(s.Rules) > 0 {
		b.WriteString("\nRules:\n")
		for _, r := range s.Rules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}
