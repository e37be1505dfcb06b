package main

import (
	"strings"
	"testing"

	"github.com/sadopc/goevolve/internal/config"
	"github.com/sadopc/goevolve/internal/evolver"
	"github.com/sadopc/goevolve/internal/signature"
)

func TestSelectTheme(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Theme = "light"

	tests := []struct {
		name  string
		flags globalFlags
		want  string
	}{
		{"config", globalFlags{}, "light"},
		{"flag overrides config", globalFlags{theme: "monokai"}, "monokai"},
		{"no color wins", globalFlags{theme: "monokai", noColor: true}, "plain"},
		{"unknown falls back", globalFlags{theme: "neon"}, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectTheme(&tt.flags, cfg).Name; got != tt.want {
				t.Errorf("selectTheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterStatus(t *testing.T) {
	status := []evolver.EvolutionStatus{
		{AppLabel: "blog", Label: "initial"},
		{AppLabel: "shop", Label: "initial"},
		{AppLabel: "blog", Label: "add_slug"},
	}
	if got := filterStatus(status, nil); len(got) != 3 {
		t.Errorf("filterStatus(nil) = %d entries, want 3", len(got))
	}
	got := filterStatus(status, []string{"blog"})
	if len(got) != 2 || got[0].Label != "initial" || got[1].Label != "add_slug" {
		t.Errorf("filterStatus(blog) = %+v", got)
	}
}

func TestCheckLabels(t *testing.T) {
	declared := signature.NewProject()
	if err := declared.AddApp(signature.NewApp("blog")); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Apps = []config.App{{Label: "shop"}}
	s := &session{cfg: cfg, declared: declared}

	if err := checkLabels(s, []string{"blog", "shop"}); err != nil {
		t.Errorf("checkLabels(known) = %v", err)
	}
	err := checkLabels(s, []string{"blgo"})
	if err == nil {
		t.Fatal("checkLabels(unknown) returned nil")
	}
	if !strings.Contains(err.Error(), `unknown application "blgo"`) {
		t.Errorf("error = %v", err)
	}
}

func TestAppLabelsIncludesConfiguredApps(t *testing.T) {
	declared := signature.NewProject()
	if err := declared.AddApp(signature.NewApp("blog")); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Apps = []config.App{{Label: "blog"}, {Label: "legacy"}}
	s := &session{cfg: cfg, declared: declared}

	got := s.appLabels()
	if strings.Join(got, ",") != "blog,legacy" {
		t.Errorf("appLabels = %v, want [blog legacy]", got)
	}
}
