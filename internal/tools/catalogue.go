// Package tools loads the static tool manifest and implements disclosure:
// filtering the full catalogue down to the small subset relevant to a
// given request or agent profile. It generalizes graph/tool.Tool's
// single-callable interface into a catalogue of descriptors grouped by
// server; nodes still reach actual tool implementations through
// graph/tool.Tool, this package only decides which descriptors are
// disclosed to a prompt.
package tools

import (
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/orchestrator/taskorch/internal/domain"
	"gopkg.in/yaml.v3"
)

// Strategy names the disclosure algorithms.
type Strategy string

const (
	StrategyMinimal      Strategy = "minimal"
	StrategyAgentProfile Strategy = "agent_profile"
	StrategyProgressive  Strategy = "progressive"
	StrategyFull         Strategy = "full"
)

// DefaultMaxTools is disclosure.max_tools' default.
const DefaultMaxTools = 30

// manifestFile mirrors the on-disk YAML shape: tools grouped by server.
type manifestFile struct {
	Servers []struct {
		Name  string `yaml:"name"`
		Tools []struct {
			Name       string         `yaml:"name"`
			Parameters map[string]any `yaml:"parameters"`
			Keywords   []string       `yaml:"keywords"`
			CostClass  string         `yaml:"cost_class"`
		} `yaml:"tools"`
	} `yaml:"servers"`
	AgentProfiles map[string][]string `yaml:"agent_profiles"`
}

// Catalogue holds the immutable-after-load tool manifest. Reads are
// lock-free: the descriptor slice and agent-profile map are only ever
// replaced wholesale via an atomic pointer.
type Catalogue struct {
	descriptors   atomic.Pointer[[]domain.ToolDescriptor]
	agentProfiles atomic.Pointer[map[string][]string]
}

// NewCatalogue constructs an empty catalogue; call Load before use.
func NewCatalogue() *Catalogue {
	c := &Catalogue{}
	empty := []domain.ToolDescriptor{}
	c.descriptors.Store(&empty)
	emptyProfiles := map[string][]string{}
	c.agentProfiles.Store(&emptyProfiles)
	return c
}

// LoadFile parses a YAML manifest at path and swaps it in atomically.
func (c *Catalogue) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.LoadBytes(raw)
}

// LoadBytes parses raw YAML manifest bytes and swaps it in atomically.
func (c *Catalogue) LoadBytes(raw []byte) error {
	var mf manifestFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return err
	}

	descriptors := make([]domain.ToolDescriptor, 0)
	for _, server := range mf.Servers {
		for _, t := range server.Tools {
			descriptors = append(descriptors, domain.ToolDescriptor{
				ServerName: server.Name,
				ToolName:   t.Name,
				Parameters: t.Parameters,
				Keywords:   t.Keywords,
				CostClass:  t.CostClass,
			})
		}
	}
	// Stable order keeps disclosure deterministic.
	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].ServerName != descriptors[j].ServerName {
			return descriptors[i].ServerName < descriptors[j].ServerName
		}
		return descriptors[i].ToolName < descriptors[j].ToolName
	})

	profiles := mf.AgentProfiles
	if profiles == nil {
		profiles = map[string][]string{}
	}

	c.descriptors.Store(&descriptors)
	c.agentProfiles.Store(&profiles)
	return nil
}

// All returns the full catalogue, deterministically ordered.
func (c *Catalogue) All() []domain.ToolDescriptor {
	return *c.descriptors.Load()
}

// Disclose returns the tools relevant to requestText/agentKind under
// strategy, capped at maxTools (0 means DefaultMaxTools); StrategyFull
// returns the whole catalogue regardless of maxTools. Output is always
// deterministic and order-stable for a given input.
func (c *Catalogue) Disclose(strategy Strategy, requestText, agentKind string, maxTools int) []domain.ToolDescriptor {
	if maxTools <= 0 {
		maxTools = DefaultMaxTools
	}
	all := c.All()

	switch strategy {
	case StrategyFull:
		return all
	case StrategyAgentProfile:
		return cap(c.byProfile(agentKind, all), maxTools)
	case StrategyProgressive:
		minimal := c.byKeyword(requestText, all, maxTools)
		profile := c.byProfile(agentKind, all)
		return cap(union(minimal, profile), maxTools)
	case StrategyMinimal:
		fallthrough
	default:
		return c.byKeyword(requestText, all, maxTools)
	}
}

func (c *Catalogue) byKeyword(requestText string, all []domain.ToolDescriptor, maxTools int) []domain.ToolDescriptor {
	lowered := strings.ToLower(requestText)
	matched := make([]domain.ToolDescriptor, 0)
	for _, d := range all {
		for _, kw := range d.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(kw)) {
				matched = append(matched, d)
				break
			}
		}
	}
	return cap(matched, maxTools)
}

func (c *Catalogue) byProfile(agentKind string, all []domain.ToolDescriptor) []domain.ToolDescriptor {
	profiles := *c.agentProfiles.Load()
	allowed := profiles[agentKind]
	if len(allowed) == 0 {
		return nil
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	out := make([]domain.ToolDescriptor, 0)
	for _, d := range all {
		if allowedSet[d.ToolName] {
			out = append(out, d)
		}
	}
	return out
}

func union(a, b []domain.ToolDescriptor) []domain.ToolDescriptor {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]domain.ToolDescriptor, 0, len(a)+len(b))
	for _, list := range [][]domain.ToolDescriptor{a, b} {
		for _, d := range list {
			key := d.ServerName + "/" + d.ToolName
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, d)
		}
	}
	return out
}

func cap(list []domain.ToolDescriptor, max int) []domain.ToolDescriptor {
	if len(list) <= max {
		return list
	}
	return list[:max]
}
