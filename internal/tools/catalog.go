// Package tools holds the declarative catalog of wrapped security tools:
// how to build their command lines, which category they belong to for
// admission fairness, and how to read progress out of their output.
package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/config"
)

// Category groups tools for fair-share admission control.
type Category string

const (
	CategoryNetwork Category = "network"
	CategoryWeb     Category = "web"
	CategoryAuth    Category = "auth"
	CategoryRecon   Category = "recon"
	CategoryBinary  Category = "binary"
)

// Tool describes one wrapped command-line tool.
type Tool struct {
	Name     string
	Command  string
	BaseArgs []string
	Category Category
	Timeout  time.Duration

	// FlagMap maps parameter names to CLI flags. A parameter missing from
	// the map is rendered as --name; an empty flag value makes the
	// parameter positional (appended last, in parameter-name order).
	FlagMap map[string]string

	// SetParams names list-valued parameters whose order and duplicates
	// carry no meaning (e.g. port sets).
	SetParams map[string]bool

	// VolatileParams names parameters whose values are unique per run
	// (temp paths, session tokens). Their presence makes the request
	// uncacheable.
	VolatileParams map[string]bool

	// ProgressPattern extracts structured progress from output. Patterns
	// with two capture groups are read as N/M; one group is a percentage.
	ProgressPattern *regexp.Regexp
}

// BuildArgs renders the command line arguments for the given parameters.
// Boolean true emits a bare flag, false omits it; lists repeat the flag.
func (t *Tool) BuildArgs(params map[string]any) []string {
	args := make([]string, len(t.BaseArgs))
	copy(args, t.BaseArgs)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var positional []string
	for _, k := range keys {
		flag, mapped := t.FlagMap[k]
		if !mapped {
			flag = "--" + k
		}

		switch v := params[k].(type) {
		case bool:
			if v && flag != "" {
				args = append(args, flag)
			}
		case []string:
			for _, item := range v {
				args = appendFlagValue(args, flag, item)
			}
		case []any:
			for _, item := range v {
				args = appendFlagValue(args, flag, fmt.Sprintf("%v", item))
			}
		default:
			val := strings.TrimSpace(fmt.Sprintf("%v", v))
			if flag == "" {
				positional = append(positional, val)
			} else {
				args = append(args, flag, val)
			}
		}
	}

	return append(args, positional...)
}

func appendFlagValue(args []string, flag, value string) []string {
	if flag == "" {
		return append(args, value)
	}
	return append(args, flag, value)
}

// Catalog is the registry of known tools.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool by name.
func (c *Catalog) Register(t *Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[t.Name] = t
}

// Get returns the tool registered under the exact name.
func (c *Catalog) Get(name string) (*Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// List returns all tool names, sorted.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCategory returns all tools in a category.
func (c *Catalog) ByCategory(cat Category) []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Tool
	for _, t := range c.tools {
		if t.Category == cat {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Categories returns the distinct categories present in the catalog.
func (c *Catalog) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[Category]bool)
	for _, t := range c.tools {
		seen[t.Category] = true
	}
	cats := make([]Category, 0, len(seen))
	for cat := range seen {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// ApplyConfig overlays user-configured tools onto the catalog.
func (c *Catalog) ApplyConfig(cfgs map[string]config.ToolConfig) error {
	for name, tc := range cfgs {
		tool := &Tool{
			Name:     name,
			Command:  tc.Command,
			BaseArgs: tc.Args,
			Category: Category(tc.Category),
			Timeout:  tc.Timeout,
		}
		if tool.Command == "" {
			tool.Command = name
		}
		if tool.Category == "" {
			tool.Category = CategoryNetwork
		}
		if len(tc.SetParams) > 0 {
			tool.SetParams = make(map[string]bool, len(tc.SetParams))
			for _, p := range tc.SetParams {
				tool.SetParams[p] = true
			}
		}
		if len(tc.VolatileParams) > 0 {
			tool.VolatileParams = make(map[string]bool, len(tc.VolatileParams))
			for _, p := range tc.VolatileParams {
				tool.VolatileParams[p] = true
			}
		}
		if tc.ProgressPattern != "" {
			re, err := regexp.Compile(tc.ProgressPattern)
			if err != nil {
				return fmt.Errorf("tool %s: invalid progress_pattern: %w", name, err)
			}
			tool.ProgressPattern = re
		}
		c.Register(tool)
	}
	return nil
}

// DefaultCatalog returns the built-in catalog of the classic tool suite.
func DefaultCatalog() *Catalog {
	c := NewCatalog()

	c.Register(&Tool{
		Name:     "nmap",
		Command:  "nmap",
		Category: CategoryNetwork,
		Timeout:  10 * time.Minute,
		FlagMap: map[string]string{
			"target":  "",
			"ports":   "-p",
			"scripts": "--script",
			"timing":  "-T",
		},
		SetParams:       map[string]bool{"ports": true, "scripts": true},
		ProgressPattern: regexp.MustCompile(`About ([\d.]+)% done`),
	})

	c.Register(&Tool{
		Name:     "masscan",
		Command:  "masscan",
		Category: CategoryNetwork,
		Timeout:  10 * time.Minute,
		FlagMap: map[string]string{
			"target": "",
			"ports":  "-p",
			"rate":   "--rate",
		},
		SetParams:       map[string]bool{"ports": true},
		ProgressPattern: regexp.MustCompile(`([\d.]+)% done`),
	})

	c.Register(&Tool{
		Name:     "gobuster",
		Command:  "gobuster",
		BaseArgs: []string{"dir"},
		Category: CategoryWeb,
		Timeout:  15 * time.Minute,
		FlagMap: map[string]string{
			"target":   "-u",
			"wordlist": "-w",
			"threads":  "-t",
		},
		ProgressPattern: regexp.MustCompile(`Progress: (\d+) / (\d+)`),
	})

	c.Register(&Tool{
		Name:     "ffuf",
		Command:  "ffuf",
		Category: CategoryWeb,
		Timeout:  15 * time.Minute,
		FlagMap: map[string]string{
			"target":   "-u",
			"wordlist": "-w",
			"threads":  "-t",
		},
		ProgressPattern: regexp.MustCompile(`:: Progress: \[(\d+)/(\d+)\]`),
	})

	c.Register(&Tool{
		Name:     "nikto",
		Command:  "nikto",
		Category: CategoryWeb,
		Timeout:  20 * time.Minute,
		FlagMap: map[string]string{
			"target": "-h",
			"port":   "-p",
			"tuning": "-Tuning",
		},
	})

	c.Register(&Tool{
		Name:     "sqlmap",
		Command:  "sqlmap",
		BaseArgs: []string{"--batch"},
		Category: CategoryWeb,
		Timeout:  20 * time.Minute,
		FlagMap: map[string]string{
			"target": "-u",
			"level":  "--level",
			"risk":   "--risk",
		},
		VolatileParams: map[string]bool{"session": true},
	})

	c.Register(&Tool{
		Name:     "hydra",
		Command:  "hydra",
		Category: CategoryAuth,
		Timeout:  30 * time.Minute,
		FlagMap: map[string]string{
			"target":   "",
			"service":  "",
			"userlist": "-L",
			"passlist": "-P",
			"threads":  "-t",
		},
		ProgressPattern: regexp.MustCompile(`(\d+) of (\d+) target`),
	})

	c.Register(&Tool{
		Name:     "john",
		Command:  "john",
		Category: CategoryAuth,
		Timeout:  60 * time.Minute,
		FlagMap: map[string]string{
			"hashfile": "",
			"wordlist": "--wordlist",
			"format":   "--format",
		},
		ProgressPattern: regexp.MustCompile(`(\d+)% `),
	})

	c.Register(&Tool{
		Name:     "subfinder",
		Command:  "subfinder",
		Category: CategoryRecon,
		Timeout:  10 * time.Minute,
		FlagMap: map[string]string{
			"target":  "-d",
			"sources": "-s",
		},
		SetParams: map[string]bool{"sources": true},
	})

	c.Register(&Tool{
		Name:     "amass",
		Command:  "amass",
		BaseArgs: []string{"enum"},
		Category: CategoryRecon,
		Timeout:  30 * time.Minute,
		FlagMap: map[string]string{
			"target": "-d",
		},
	})

	return c
}
