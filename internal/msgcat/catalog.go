// Package msgcat holds user-facing message templates. Defaults are embedded;
// deployments may override any key from a directory of YAML files.
package msgcat

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaults []byte

// Catalog maps dotted keys (errors.not_your_turn) to parsed templates. It is
// immutable after New and safe for concurrent use.
type Catalog struct {
	tpl map[string]*template.Template
}

// New loads the embedded messages, then overrides from dir when set.
func New(overrideDir string) (*Catalog, error) {
	texts, err := parse(defaults)
	if err != nil {
		return nil, fmt.Errorf("embedded messages: %w", err)
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		over, err := loadDir(dir)
		if err != nil {
			return nil, err
		}
		for k, v := range over {
			texts[k] = v
		}
	}
	c := &Catalog{tpl: make(map[string]*template.Template, len(texts))}
	for k, v := range texts {
		t, err := template.New(k).Option("missingkey=error").Parse(v)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", k, err)
		}
		c.tpl[k] = t
	}
	return c, nil
}

// MustDefault returns the embedded catalog and panics if it does not parse.
func MustDefault() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

// loadDir reads *.yaml and *.yml in name order. A key defined by two files is
// a configuration error.
func loadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read messages dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	out := make(map[string]string)
	owner := make(map[string]string)
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		texts, err := parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for k, v := range texts {
			if prev, dup := owner[k]; dup {
				return nil, fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			owner[k] = name
			out[k] = v
		}
	}
	return out, nil
}

// parse flattens nested YAML mappings into dotted keys. Leaves must be strings.
func parse(raw []byte) (map[string]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if len(doc.Content) == 0 {
		return out, nil
	}
	return out, walk(doc.Content[0], "", out)
}

func walk(n *yaml.Node, prefix string, out map[string]string) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := walk(n.Content[i+1], key, out); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if prefix == "" {
			return fmt.Errorf("line %d: value without key", n.Line)
		}
		if n.Tag == "!!null" {
			return nil
		}
		if n.Tag != "!!str" {
			return fmt.Errorf("line %d: %s must be a string", n.Line, prefix)
		}
		out[prefix] = n.Value
		return nil
	}
	return fmt.Errorf("line %d: %s must be a string or mapping", n.Line, prefix)
}

// Render executes the template at key with data.
func (c *Catalog) Render(key string, data any) (string, error) {
	t, ok := c.tpl[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("message not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Rejection frames an error code as the action that was not applied, e.g.
// "move not applied: it is not your turn". Unknown actions and codes fall
// back to generic texts.
func (c *Catalog) Rejection(action, code string) string {
	act, err := c.Render("actions."+action, nil)
	if err != nil {
		act = "action"
	}
	reason, err := c.Render("errors."+code, nil)
	if err != nil {
		reason, _ = c.Render("errors.internal", nil)
	}
	out, err := c.Render("rejection", map[string]string{"Action": act, "Reason": reason})
	if err != nil {
		return act + " not applied: " + reason
	}
	return out
}
