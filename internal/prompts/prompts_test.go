package prompts

import (
	"strings"
	"testing"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	r := NewRegistry()

	out, err := r.Render(LensDiscoveryID, map[string]any{
		"year_range":    "2016-2023",
		"total_count":   42,
		"all_summaries": "[2016-05-06] trees.jpeg: a stand of pines",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "spanning 2016-2023") {
		t.Fatalf("year_range not substituted:\n%s", out)
	}
	if !strings.Contains(out, "They have 42 drawings") {
		t.Fatalf("total_count not substituted:\n%s", out)
	}
	if strings.Contains(out, "{all_summaries}") {
		t.Fatal("all_summaries placeholder left unresolved")
	}
}

func TestRenderDefaultsFillOmittedVariables(t *testing.T) {
	r := NewRegistry()

	out, err := r.Render(LensDiscoveryID, map[string]any{
		"all_summaries": "x",
		"total_count":   1,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "unknown period") {
		t.Fatal("expected default year_range")
	}
}

func TestRenderMissingVariableFails(t *testing.T) {
	r := NewRegistry()
	r.Register(Template{ID: "t", Text: "hello {who}"})

	if _, err := r.Render("t", nil); err == nil {
		t.Fatal("expected error for unresolved variable")
	}
}

func TestRenderUnknownTemplateFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRenderLeavesJSONExamplesAlone(t *testing.T) {
	r := NewRegistry()

	out, err := r.Render(BatchAnalysisID, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `[{"filename": "...",`) {
		t.Fatal("JSON example in template was mangled")
	}
}
