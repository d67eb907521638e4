package orchestrator

import "testing"

func TestExtractDirectiveBareJSON(t *testing.T) {
	directive, ok := ExtractDirective(`{"tool": "fact_check", "args": {"claim": "x"}}`)
	if !ok {
		t.Fatal("expected directive")
	}
	if directive.Tool != "fact_check" {
		t.Fatalf("unexpected tool: %s", directive.Tool)
	}
	if directive.Args["claim"] != "x" {
		t.Fatalf("unexpected args: %v", directive.Args)
	}
}

func TestExtractDirectiveEmbeddedInProse(t *testing.T) {
	raw := "Sure, let me verify that.\n{\"tool\": \"fact_check\", \"args\": {\"claim\": \"the sky is blue\"}}\nDone."
	directive, ok := ExtractDirective(raw)
	if !ok {
		t.Fatal("expected directive")
	}
	if directive.Tool != "fact_check" {
		t.Fatalf("unexpected tool: %s", directive.Tool)
	}
}

func TestExtractDirectiveIgnoresBracesInStrings(t *testing.T) {
	raw := `prefix {"tool": "fact_check", "args": {"claim": "braces } in { strings"}} suffix`
	directive, ok := ExtractDirective(raw)
	if !ok {
		t.Fatal("expected directive")
	}
	if directive.Args["claim"] != "braces } in { strings" {
		t.Fatalf("unexpected claim: %v", directive.Args["claim"])
	}
}

func TestExtractDirectiveDegradesToText(t *testing.T) {
	cases := []string{
		"",
		"just a normal answer",
		`{"tool": "fact_check"}`,
		`{"args": {"claim": "x"}}`,
		`{"tool": "", "args": {}}`,
		`{"tool": "fact_check", "args": "not an object"}`,
		`{"tool": 42, "args": {"a": 1}}`,
		"{broken json",
	}
	for _, raw := range cases {
		if _, ok := ExtractDirective(raw); ok {
			t.Fatalf("expected no directive for %q", raw)
		}
	}
}

func TestExtractDirectivePicksFirstValidCandidate(t *testing.T) {
	raw := `{"note": "not a directive"} {"tool": "screen", "args": {"address": "0xabc"}}`
	directive, ok := ExtractDirective(raw)
	if !ok {
		t.Fatal("expected directive")
	}
	if directive.Tool != "screen" {
		t.Fatalf("unexpected tool: %s", directive.Tool)
	}
}
