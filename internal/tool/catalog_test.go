package tool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	content := `
tools:
  - id: fact_check
    description: check a statement
    url: https://upstream.example/check
    method: post
    estimated_cost_usd: 0.05
  - id: screen
    description: screen an address
    url: https://upstream.example/screen/{address}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	desc, ok := catalog.Lookup("fact_check")
	if !ok {
		t.Fatal("fact_check not found")
	}
	if desc.Method != "POST" {
		t.Fatalf("expected method normalized to POST, got %s", desc.Method)
	}

	desc, ok = catalog.Lookup("screen")
	if !ok {
		t.Fatal("screen not found")
	}
	if desc.Method != "GET" {
		t.Fatalf("expected default method GET, got %s", desc.Method)
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Descriptor{
		{ID: "a", URL: "https://x.example"},
		{ID: "a", URL: "https://y.example"},
	})
	if err == nil {
		t.Fatal("expected duplicate ID error")
	}
}

func TestNewCatalogRejectsMissingFields(t *testing.T) {
	if _, err := NewCatalog([]Descriptor{{ID: "", URL: "https://x.example"}}); err == nil {
		t.Fatal("expected missing ID error")
	}
	if _, err := NewCatalog([]Descriptor{{ID: "a"}}); err == nil {
		t.Fatal("expected missing URL error")
	}
}

func TestSerializeHidesUpstreamURL(t *testing.T) {
	catalog, err := NewCatalog([]Descriptor{
		{ID: "fact_check", Description: "check", URL: "https://secret.example/check", EstimatedCostUSD: 0.05},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	serialized := catalog.Serialize()
	if strings.Contains(serialized, "secret.example") {
		t.Fatalf("serialized catalog leaks upstream URL: %s", serialized)
	}
	if !strings.Contains(serialized, `"tool":"fact_check"`) {
		t.Fatalf("serialized catalog missing tool id: %s", serialized)
	}
}
