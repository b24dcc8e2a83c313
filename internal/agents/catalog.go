// Package agents resolves agent references against a directory of YAML
// definitions, one file per agent.
package agents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"agentdeck/internal/agentproc"
)

var ErrUnknownAgent = errors.New("unknown agent")

// Definition is one catalog entry. Name defaults to the file name without
// extension.
type Definition struct {
	Name         string   `yaml:"name"`
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	DefaultModel string   `yaml:"default_model"`
	Description  string   `yaml:"description"`
}

// Catalog loads definitions once at construction; the directory is small and
// editing it means restarting the panel anyway.
type Catalog struct {
	byName map[string]Definition
}

func LoadCatalog(dir string) (*Catalog, error) {
	cat := &Catalog{byName: make(map[string]Definition)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cat, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := loadDefinition(path)
		if err != nil {
			return nil, fmt.Errorf("agent definition %s: %w", entry.Name(), err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		cat.byName[strings.ToLower(def.Name)] = def
	}
	return cat, nil
}

func loadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, err
	}
	def.Name = strings.TrimSpace(def.Name)
	def.Command = strings.TrimSpace(def.Command)
	if def.Command == "" {
		return Definition{}, errors.New("missing command")
	}
	return def, nil
}

// Resolve implements agentproc.AgentResolver. Lookup is case-insensitive.
func (c *Catalog) Resolve(ref string) (agentproc.LaunchSpec, error) {
	name := strings.ToLower(strings.TrimSpace(ref))
	if name == "" {
		return agentproc.LaunchSpec{}, fmt.Errorf("%w: empty reference", ErrUnknownAgent)
	}
	def, ok := c.byName[name]
	if !ok {
		return agentproc.LaunchSpec{}, fmt.Errorf("%w: %s", ErrUnknownAgent, ref)
	}
	return agentproc.LaunchSpec{
		Command:      def.Command,
		Args:         append([]string{}, def.Args...),
		DefaultModel: def.DefaultModel,
	}, nil
}

// Names lists the catalog in stable order for display.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for _, def := range c.byName {
		out = append(out, def.Name)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Len() int { return len(c.byName) }
