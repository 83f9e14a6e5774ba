package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"
)

var definitionTemplate = template.Must(template.New("definition").Parse(`package {{.Package}}

import (
	"context"

	"github.com/mirajehossain/datamigratex/internal/migrator"
)

// {{.Func}} returns the {{.ID}} migration. Add it to Definitions to enable it.
func {{.Func}}() migrator.Definition {
	return migrator.Definition{
		ID:          "{{.ID}}",
		Name:        "{{.Title}}",
		Description: "",
		Version:     {{.Version}},
		Apply: func(ctx context.Context, env *migrator.Env) (any, error) {
			// must be safe to run again after a partial failure
			return nil, nil
		},
	}
}
`))

var nonWord = regexp.MustCompile(`[^a-z0-9_]+`)

// createDefinition writes <dir>/<yyyyMMddHHmmss>_<name>.go holding a stub Definition.
func createDefinition(dir, pkg, name string) (string, error) {
	id := sanitize(name)
	if id == "" {
		return "", errors.New("name must contain letters or digits")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	ts := time.Now().UTC().Format("20060102150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.go", ts, id))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	err = definitionTemplate.Execute(f, map[string]string{
		"Package": pkg,
		"Func":    camel(id) + "Migration",
		"ID":      id,
		"Title":   strings.ReplaceAll(id, "_", " "),
		"Version": ts,
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = nonWord.ReplaceAllString(s, "")
	return strings.Trim(s, "_")
}

// camel turns snake_case into lowerCamelCase.
func camel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "m" + out
	}
	return out
}
