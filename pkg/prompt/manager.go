package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewManager parses the embedded prompt skeletons.
func NewManager() (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root")

	err := fs.WalkDir(templateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}

		content, err := templateFS.ReadFile(path)
		if err != nil {
			return err
		}

		name := strings.TrimPrefix(path, "templates/")
		if _, err = m.root.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	return m, nil
}

// Render executes the named skeleton with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
