package selectors

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/polzovatel/ballot-runner/internal/stage"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// List is a priority-ordered set of selector candidates for one logical target.
type List []string

// Clean drops blank candidates and surrounding whitespace.
func (l List) Clean() List {
	out := make(List, 0, len(l))
	for _, s := range l {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StageSpec holds everything the workflow knows about one stage's markup.
type StageSpec struct {
	Markers    stage.Markers   `yaml:"markers"`
	Indicators List            `yaml:"indicators"`
	Targets    map[string]List `yaml:"targets"`
}

// Catalog is the externalised selector data, keyed by stage name.
type Catalog struct {
	Stages  map[string]StageSpec `yaml:"stages"`
	Scripts map[string]string    `yaml:"scripts"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalog)
}

// Load returns the embedded catalog with the file at path merged over it. An
// empty path returns the embedded catalog unchanged.
func Load(path string) (*Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, fmt.Errorf("default catalog: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	base.Merge(override)
	return base, nil
}

func parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects stage keys that do not name a known stage.
func (c *Catalog) Validate() error {
	for name := range c.Stages {
		if _, ok := stage.Parse(name); !ok {
			return fmt.Errorf("unknown stage %q in catalog", name)
		}
	}
	return nil
}

// Merge overlays o onto c. Non-empty marker kinds, indicator lists and target
// lists in o replace the matching entries of c; everything else is kept.
func (c *Catalog) Merge(o *Catalog) {
	if o == nil {
		return
	}
	if c.Stages == nil {
		c.Stages = map[string]StageSpec{}
	}
	for name, entry := range o.Stages {
		cur := c.Stages[name]
		if len(entry.Markers.Text) > 0 {
			cur.Markers.Text = entry.Markers.Text
		}
		if len(entry.Markers.Elements) > 0 {
			cur.Markers.Elements = entry.Markers.Elements
		}
		if len(entry.Markers.URL) > 0 {
			cur.Markers.URL = entry.Markers.URL
		}
		if len(entry.Indicators) > 0 {
			cur.Indicators = entry.Indicators
		}
		for target, list := range entry.Targets {
			if cur.Targets == nil {
				cur.Targets = map[string]List{}
			}
			cur.Targets[target] = list
		}
		c.Stages[name] = cur
	}
	for name, script := range o.Scripts {
		if c.Scripts == nil {
			c.Scripts = map[string]string{}
		}
		c.Scripts[name] = script
	}
}

// Markers returns the detector input for every stage in the catalog.
func (c *Catalog) Markers() map[stage.Stage]stage.Markers {
	out := make(map[stage.Stage]stage.Markers, len(c.Stages))
	for name, entry := range c.Stages {
		s, ok := stage.Parse(name)
		if !ok {
			continue
		}
		out[s] = entry.Markers
	}
	return out
}

// Indicators returns the live presence probes of s.
func (c *Catalog) Indicators(s stage.Stage) List {
	return c.Stages[s.String()].Indicators.Clean()
}

// Target returns the candidate list for a named target of s. Unknown targets
// return an empty list.
func (c *Catalog) Target(s stage.Stage, name string) List {
	return c.Stages[s.String()].Targets[name].Clean()
}

// Script returns a named page script, or "".
func (c *Catalog) Script(name string) string {
	return strings.TrimSpace(c.Scripts[name])
}
