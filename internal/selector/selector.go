// Package selector ranks candidate tools for a scan target and proposes
// parameter overrides. It is advisory only: it reads moving statistics
// but never launches anything itself.
package selector

import (
	"sort"
	"strings"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// TargetProfile is the externally produced classification of a scan
// target. The selector consumes it read-only.
type TargetProfile struct {
	Target          string   `json:"target"`
	TargetType      string   `json:"target_type"` // "web", "network", "binary", "host"
	RiskLevel       string   `json:"risk_level"`  // "low", "medium", "high", "critical"
	Confidence      float64  `json:"confidence"`  // 0..1
	Vulnerabilities []string `json:"vulnerabilities"`
	Recommendations []string `json:"recommendations"`
}

// ToolSelection is one ranked suggestion.
type ToolSelection struct {
	Tool       string         `json:"tool"`
	Category   string         `json:"category"`
	Score      float64        `json:"score"`
	Reason     string         `json:"reason"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Selector scores tools against target profiles.
type Selector struct {
	catalog *tools.Catalog
	errs    *errstats.Aggregator
	stats   *progress.DurationStats
}

// New creates a selector over the given catalog and moving statistics.
func New(catalog *tools.Catalog, errs *errstats.Aggregator, stats *progress.DurationStats) *Selector {
	return &Selector{catalog: catalog, errs: errs, stats: stats}
}

// categoryAffinity maps a declared target type to how applicable each
// tool category is, on a 0..1 scale.
var categoryAffinity = map[string]map[tools.Category]float64{
	"web": {
		tools.CategoryWeb:     1.0,
		tools.CategoryRecon:   0.7,
		tools.CategoryAuth:    0.5,
		tools.CategoryNetwork: 0.3,
	},
	"network": {
		tools.CategoryNetwork: 1.0,
		tools.CategoryRecon:   0.6,
		tools.CategoryAuth:    0.4,
		tools.CategoryWeb:     0.2,
	},
	"host": {
		tools.CategoryNetwork: 0.9,
		tools.CategoryAuth:    0.7,
		tools.CategoryRecon:   0.5,
		tools.CategoryWeb:     0.3,
	},
	"binary": {
		tools.CategoryBinary: 1.0,
	},
}

var riskWeight = map[string]float64{
	"low":      0.2,
	"medium":   0.5,
	"high":     0.8,
	"critical": 1.0,
}

// Select ranks the catalog's tools for the profile and objective. The
// objective narrows categories ("recon", "exploit", "brute-force");
// empty means no narrowing. Output order is deterministic.
func (s *Selector) Select(profile TargetProfile, objective string) []ToolSelection {
	affinity := categoryAffinity[strings.ToLower(profile.TargetType)]
	risk := riskWeight[strings.ToLower(profile.RiskLevel)]
	confidence := clamp01(profile.Confidence)

	var out []ToolSelection
	for _, name := range s.catalog.List() {
		tool, ok := s.catalog.Get(name)
		if !ok {
			continue
		}
		apply := affinity[tool.Category]
		if apply == 0 {
			continue
		}
		if objective != "" && !objectiveMatches(objective, tool.Category) {
			continue
		}

		// Applicability dominates; history and profile risk adjust it.
		score := apply * 0.6
		score += s.errs.SuccessRate(tool.Name) * 0.25
		score += risk * confidence * 0.15

		out = append(out, ToolSelection{
			Tool:       tool.Name,
			Category:   string(tool.Category),
			Score:      score,
			Reason:     reasonFor(tool, profile),
			Parameters: s.OptimizeParameters(profile, tool.Name, nil),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		di, dj := s.meanDuration(out[i].Tool), s.meanDuration(out[j].Tool)
		if di != dj {
			return di < dj
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// OptimizeParameters proposes parameter overrides for running tool
// against the profile's target, keyed by the catalog's own parameter
// names so the suggestions feed straight into an invocation. context
// carries caller-supplied values that take precedence over everything
// proposed here.
func (s *Selector) OptimizeParameters(profile TargetProfile, tool string, context map[string]any) map[string]any {
	params := map[string]any{}

	switch tool {
	case "nmap":
		params["target"] = profile.Target
		if riskWeight[strings.ToLower(profile.RiskLevel)] >= 0.8 {
			// Loud scans against already-risky targets stay conservative.
			params["timing"] = "2"
		} else {
			params["timing"] = "4"
		}
	case "masscan":
		params["target"] = profile.Target
		params["rate"] = 1000
	case "gobuster", "ffuf", "nikto", "sqlmap":
		params["target"] = urlFor(profile.Target)
	case "john":
		// Works on a hash file, not a network target; nothing to derive.
	default:
		params["target"] = profile.Target
	}

	for _, vuln := range profile.Vulnerabilities {
		if tool == "sqlmap" && strings.Contains(strings.ToLower(vuln), "sql") {
			params["level"] = 3
		}
	}

	// A known tool only gets parameters it declares.
	if t, ok := s.catalog.Get(tool); ok && len(t.FlagMap) > 0 {
		for k := range params {
			if _, declared := t.FlagMap[k]; !declared {
				delete(params, k)
			}
		}
	}

	for k, v := range context {
		params[k] = v
	}
	return params
}

func (s *Selector) meanDuration(tool string) time.Duration {
	mean, ok := s.stats.Mean(tool)
	if !ok {
		// No history sorts after any recorded tool at equal score.
		return time.Duration(1<<62 - 1)
	}
	return mean
}

func objectiveMatches(objective string, cat tools.Category) bool {
	switch strings.ToLower(objective) {
	case "recon", "discovery":
		return cat == tools.CategoryRecon || cat == tools.CategoryNetwork
	case "web", "web-scan":
		return cat == tools.CategoryWeb
	case "brute-force", "credentials":
		return cat == tools.CategoryAuth
	case "binary", "reversing":
		return cat == tools.CategoryBinary
	default:
		return true
	}
}

func reasonFor(tool *tools.Tool, profile TargetProfile) string {
	return string(tool.Category) + " tool matched against " + profile.TargetType + " target"
}

func urlFor(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "http://" + target
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
