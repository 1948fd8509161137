package scenario

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTestdataScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.lua"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatal("no scenarios found")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			if err := RunFile(context.Background(), Config{}, path); err != nil {
				t.Fatalf("run: %v", err)
			}
		})
	}
}

func TestStrictAssertionFails(t *testing.T) {
	scenario, err := LoadScenario("strict.lua", `
local s = Scenario.new("strict")
s:game{}
s:expect{counter = 9}
return s
`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = NewRunner(Config{}).RunScenario(context.Background(), scenario)
	if err == nil || !strings.Contains(err.Error(), "counter = 0, want 9") {
		t.Fatalf("err = %v, want counter mismatch", err)
	}
}

func TestLogOnlyAssertionContinues(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	scenario, err := LoadScenario("lenient.lua", `
local s = Scenario.new("lenient")
s:game{}
s:expect{status = "tie"}
s:deal()
s:expect{counter = 3}
return s
`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	runner := NewRunner(Config{Assertions: AssertionLogOnly, Logger: zap.New(core)})
	if err := runner.RunScenario(context.Background(), scenario); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := logs.FilterMessage("expectation failed").Len(); got != 1 {
		t.Fatalf("expectation warnings = %d, want 1", got)
	}
}

func TestUnknownGameAndMissingSelection(t *testing.T) {
	cases := map[string]string{
		"use":   `local s = Scenario.new("u"); s:use("ghost"); return s`,
		"deal":  `local s = Scenario.new("d"); s:deal(); return s`,
		"rerun": `local s = Scenario.new("r"); s:game{}; s:rerun(); return s`,
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(name+".lua", source)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if err := NewRunner(Config{}).RunScenario(context.Background(), scenario); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseActionSet(t *testing.T) {
	set, err := parseActionSet("hit, stand")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if set.String() != "{hit,stand}" {
		t.Fatalf("set = %s", set)
	}
	empty, err := parseActionSet(map[string]any{})
	if err != nil || !empty.Empty() {
		t.Fatalf("empty = %s, %v", empty, err)
	}
	if _, err := parseActionSet([]any{"fold"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
