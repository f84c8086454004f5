// Package scenario holds the catalog of simulated emergency calls and maps
// scenarios and agents onto synthesis voices.
package scenario

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultCatalog []byte

// Scenario is one scripted caller.
type Scenario struct {
	Key           string `yaml:"key" json:"key"`
	DisplayName   string `yaml:"display_name" json:"display_name"`
	Address       string `yaml:"address" json:"address"`
	CharacterType string `yaml:"character_type" json:"character_type"`
	VoiceStyle    string `yaml:"voice_style" json:"voice_style"`
	VoiceID       string `yaml:"voice_id,omitempty" json:"voice_id,omitempty"`
	AgentName     string `yaml:"agent_name" json:"agent_name"`
	Instructions  string `yaml:"instructions" json:"instructions"`
}

type catalogFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Catalog is an immutable, ordered set of scenarios.
type Catalog struct {
	scenarios []Scenario
	byKey     map[string]int
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("scenario: built-in catalog: %v", err))
	}
	return c
}

// LoadFile reads a YAML catalog. An empty path yields the built-in catalog.
func LoadFile(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenario catalog: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario catalog is empty")
	}
	c := &Catalog{byKey: make(map[string]int, len(file.Scenarios))}
	for i, s := range file.Scenarios {
		s.Key = strings.TrimSpace(s.Key)
		s.AgentName = strings.TrimSpace(s.AgentName)
		s.VoiceID = strings.TrimSpace(s.VoiceID)
		if s.Key == "" {
			return nil, fmt.Errorf("scenarios[%d]: key is required", i)
		}
		if s.AgentName == "" {
			return nil, fmt.Errorf("scenarios[%d] (%s): agent_name is required", i, s.Key)
		}
		if _, dup := c.byKey[s.Key]; dup {
			return nil, fmt.Errorf("scenarios[%d]: duplicate key %q", i, s.Key)
		}
		c.byKey[s.Key] = len(c.scenarios)
		c.scenarios = append(c.scenarios, s)
	}
	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.scenarios)
}

// All returns the scenarios in catalog order.
func (c *Catalog) All() []Scenario {
	out := make([]Scenario, len(c.scenarios))
	copy(out, c.scenarios)
	return out
}

// Get returns the scenario with key.
func (c *Catalog) Get(key string) (Scenario, bool) {
	i, ok := c.byKey[strings.TrimSpace(key)]
	if !ok {
		return Scenario{}, false
	}
	return c.scenarios[i], true
}

// Lookup returns the scenario with key, falling back to the first scenario
// when key is unknown or empty.
func (c *Catalog) Lookup(key string) Scenario {
	if s, ok := c.Get(key); ok {
		return s
	}
	return c.scenarios[0]
}

// VoiceFor resolves the voice for an agent speaking in a scenario: the
// scenario's own voice when it has one, else the voice derived from the
// agent name.
func (c *Catalog) VoiceFor(scenarioKey, agentName string) string {
	if c != nil {
		if s, ok := c.Get(scenarioKey); ok && s.VoiceID != "" {
			return s.VoiceID
		}
	}
	return VoiceForAgent(agentName)
}
