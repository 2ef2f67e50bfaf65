package tools

import (
	"reflect"
	"testing"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/config"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	nmap, ok := c.Get("nmap")
	if !ok {
		t.Fatal("expected nmap in default catalog")
	}
	if nmap.Category != CategoryNetwork {
		t.Errorf("expected nmap in network category, got %s", nmap.Category)
	}
	if !nmap.SetParams["ports"] {
		t.Error("expected nmap ports to be set-valued")
	}

	if _, ok := c.Get("doesnotexist"); ok {
		t.Error("expected miss for unknown tool")
	}

	cats := c.Categories()
	if len(cats) < 3 {
		t.Errorf("expected at least 3 categories, got %v", cats)
	}
}

func TestTool_BuildArgs(t *testing.T) {
	c := DefaultCatalog()
	gobuster, _ := c.Get("gobuster")

	args := gobuster.BuildArgs(map[string]any{
		"target":   "http://example.com",
		"wordlist": "/usr/share/wordlists/common.txt",
		"threads":  10,
	})

	// parameters render in sorted key order: target, threads, wordlist
	want := []string{"dir", "-u", "http://example.com", "-t", "10", "-w", "/usr/share/wordlists/common.txt"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("unexpected args:\n got %v\nwant %v", args, want)
	}
}

func TestTool_BuildArgs_PositionalAndBool(t *testing.T) {
	c := DefaultCatalog()
	nmap, _ := c.Get("nmap")

	args := nmap.BuildArgs(map[string]any{
		"target": "scanme.nmap.org",
		"ports":  "22,80",
	})

	// target is positional and must come last
	if args[len(args)-1] != "scanme.nmap.org" {
		t.Errorf("expected positional target last, got %v", args)
	}

	tool := &Tool{Name: "x", Command: "x", FlagMap: map[string]string{"verbose": "-v"}}
	args = tool.BuildArgs(map[string]any{"verbose": true})
	if !reflect.DeepEqual(args, []string{"-v"}) {
		t.Errorf("expected bare flag for bool true, got %v", args)
	}

	args = tool.BuildArgs(map[string]any{"verbose": false})
	if len(args) != 0 {
		t.Errorf("expected no args for bool false, got %v", args)
	}
}

func TestTool_BuildArgs_ListRepeatsFlag(t *testing.T) {
	tool := &Tool{Name: "x", Command: "x", FlagMap: map[string]string{"script": "--script"}}

	args := tool.BuildArgs(map[string]any{"script": []string{"a", "b"}})
	want := []string{"--script", "a", "--script", "b"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("unexpected args: got %v want %v", args, want)
	}
}

func TestCatalog_ApplyConfig(t *testing.T) {
	c := DefaultCatalog()

	err := c.ApplyConfig(map[string]config.ToolConfig{
		"customscan": {
			Command:         "customscan",
			Category:        "web",
			Timeout:         time.Minute,
			ProgressPattern: `(\d+)/(\d+) checks`,
			SetParams:       []string{"ports"},
			VolatileParams:  []string{"tmpfile"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tool, ok := c.Get("customscan")
	if !ok {
		t.Fatal("expected customscan registered")
	}
	if tool.Category != CategoryWeb {
		t.Errorf("expected web category, got %s", tool.Category)
	}
	if !tool.SetParams["ports"] || !tool.VolatileParams["tmpfile"] {
		t.Error("expected set and volatile params applied")
	}
	if tool.ProgressPattern == nil {
		t.Error("expected compiled progress pattern")
	}
}

func TestCatalog_ApplyConfig_BadPattern(t *testing.T) {
	c := NewCatalog()
	err := c.ApplyConfig(map[string]config.ToolConfig{
		"bad": {ProgressPattern: `(\d+`},
	})
	if err == nil {
		t.Error("expected error for invalid progress pattern")
	}
}

func TestCatalog_Resolve(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"nmap", "nmap", true},
		{"NMAP", "nmap", true},
		{"nmpa", "nmap", true},      // known typo
		{"goubster", "gobuster", true},
		{"gobustr", "gobuster", true}, // fuzzy
		{"hyrda", "hydra", true},
		{"zzzzzz", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := c.Resolve(tt.input)
		if ok != tt.ok {
			t.Errorf("Resolve(%q): expected ok=%v, got %v", tt.input, tt.ok, ok)
			continue
		}
		if ok && got.Name != tt.want {
			t.Errorf("Resolve(%q): expected %s, got %s", tt.input, tt.want, got.Name)
		}
	}
}
