package prompt

import (
	"strings"
	"testing"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

func TestAssembleIsDeterministic(t *testing.T) {
	persona := &db.Persona{Name: "triage-bot", SystemPrompt: "You triage incoming issues."}
	tools := []Tool{{Name: "github-search", Category: "search", Description: "Search issues."}}
	hints := []CredentialHint{{Name: "github"}}
	inputData := map[string]interface{}{"issue_id": "42"}

	first := Assemble(persona, tools, inputData, hints)
	second := Assemble(persona, tools, inputData, hints)

	if first != second {
		t.Fatal("Assemble produced different output for identical inputs")
	}
}

func TestAssembleOmitsEmptySections(t *testing.T) {
	persona := &db.Persona{Name: "bare-bot"}
	out := Assemble(persona, nil, nil, nil)

	if strings.Contains(out, "## Available Tools") {
		t.Error("expected no Available Tools section with no tools")
	}
	if strings.Contains(out, "## Available Credentials") {
		t.Error("expected no Available Credentials section with no hints")
	}
	if strings.Contains(out, "## Input Data") {
		t.Error("expected no Input Data section with nil inputData")
	}
	if !strings.Contains(out, "## Communication Protocols") {
		t.Error("expected Communication Protocols section always present")
	}
	if !strings.Contains(out, "EXECUTE NOW") {
		t.Error("expected trailing EXECUTE NOW paragraph")
	}
}

func TestAssembleStructuredPromptFallback(t *testing.T) {
	persona := &db.Persona{Name: "fallback-bot", SystemPrompt: "raw prompt text", StructuredPrompt: "not json"}
	out := Assemble(persona, nil, nil, nil)

	if !strings.Contains(out, "raw prompt text") {
		t.Error("expected fallback to systemPrompt when structuredPrompt does not parse")
	}
}

func TestAssembleUseCaseAndTimeFilter(t *testing.T) {
	persona := &db.Persona{Name: "filtered-bot"}
	inputData := map[string]interface{}{"_use_case": "triage", "_time_filter": "last 24h"}
	out := Assemble(persona, nil, inputData, nil)

	if !strings.Contains(out, "## Use Case") || !strings.Contains(out, "triage") {
		t.Error("expected Use Case block with content")
	}
	if !strings.Contains(out, "## Time Filter") || !strings.Contains(out, "last 24h") {
		t.Error("expected Time Filter block with content")
	}
}
