package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog holds the instruction text composed into system prompts.
type Catalog struct {
	Base    string            `yaml:"base"`
	Modes   map[string]string `yaml:"modes"`
	Formats map[string]string `yaml:"formats"`
	Tones   map[string]string `yaml:"tones"`
	Title   string            `yaml:"title"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("embedded prompt catalog is invalid: " + err.Error())
	}
	return c
}

// Load reads a catalog from path. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if strings.TrimSpace(c.Base) == "" {
		return nil, fmt.Errorf("prompt catalog has no base instructions")
	}
	return &c, nil
}

// SystemPrompt composes the base instructions with the mode, format and tone
// entries. Keys missing from the catalog contribute nothing.
func (c *Catalog) SystemPrompt(mode, format, tone string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Base))

	if s, ok := c.Modes[mode]; ok {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(s))
	}
	if s, ok := c.Formats[format]; ok {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(s))
	}
	if s, ok := c.Tones[tone]; ok {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(s))
	}

	return b.String()
}

// TitleInstruction is the system prompt used to name conversations.
func (c *Catalog) TitleInstruction() string {
	return strings.TrimSpace(c.Title)
}
