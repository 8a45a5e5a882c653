package skills

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SkillFilename is the expected filename inside each skill directory.
	SkillFilename = "SKILL.md"

	frontmatterDelimiter = "---"
)

// frontmatter mirrors the YAML header of a SKILL.md file. The metadata
// field carries a JSON object (either as a string or inline mapping).
type frontmatter struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Always      bool      `yaml:"always"`
	Metadata    yaml.Node `yaml:"metadata"`
}

// ParseFile parses a SKILL.md file into a Skill.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse parses SKILL.md content. skillPath is the directory the skill
// lives in.
func Parse(data []byte, skillPath string) (*Skill, error) {
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if fm.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}
	if err := validateName(fm.Name); err != nil {
		return nil, err
	}

	meta, err := decodeMetadata(&fm.Metadata)
	if err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", fm.Name, err)
	}

	return &Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Always:      fm.Always,
		Metadata:    meta,
		Content:     strings.TrimSpace(string(body)),
		Path:        skillPath,
	}, nil
}

// decodeMetadata accepts the metadata field as either a JSON string or
// an inline mapping (YAML is a JSON superset, so both appear in the wild).
func decodeMetadata(node *yaml.Node) (*Metadata, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	var meta Metadata
	switch node.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(node.Value)
		if raw == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var generic map[string]any
		if err := node.Decode(&generic); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(generic)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("metadata must be a JSON object or string")
	}
	return &meta, nil
}

func splitFrontmatter(data []byte) (header, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var headerLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		headerLines = append(headerLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return []byte(strings.Join(headerLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

func validateName(name string) error {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: %q", name)
		}
	}
	return nil
}

var envPlaceholder = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// SubstituteEnv replaces {env:VAR} placeholders with current
// environment values. Unresolved variables are tagged [VAR NOT SET].
func SubstituteEnv(content string) string {
	return envPlaceholder.ReplaceAllStringFunc(content, func(match string) string {
		name := envPlaceholder.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		return "[" + name + " NOT SET]"
	})
}
