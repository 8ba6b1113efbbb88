// Package prompt assembles the final prompt string sent to a worker from a
// persona's definition, its bound tools, optional input data, and optional
// credential hints. Assemble is a deterministic, pure function of its
// inputs: given the same arguments it always produces the same string, which
// is what makes it straightforward to unit test.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

// executionEnvironmentParagraph is a static paragraph naming the shell
// tools a worker's execution sandbox is expected to provide.
const executionEnvironmentParagraph = "You are running inside a sandboxed shell with access to " +
	"standard POSIX utilities (bash, curl, jq, git) and the scripts documented under Available " +
	"Tools above. Network access is limited to the hosts required by your bound credentials."

// structuredPrompt mirrors the shape Persona.StructuredPrompt may carry when
// it is a parseable JSON document. Any field left empty is omitted from the
// assembled output; each CustomSections entry is appended verbatim as its
// own section.
type structuredPrompt struct {
	Identity       string   `json:"identity"`
	Instructions   string   `json:"instructions"`
	ToolGuidance   string   `json:"toolGuidance"`
	Examples       string   `json:"examples"`
	ErrorHandling  string   `json:"errorHandling"`
	CustomSections []string `json:"customSections"`
	WebSearch      string   `json:"webSearch"`
}

// Tool is the subset of a bound tool's documentation needed to render the
// Available Tools section. Constructed by the caller from db.ToolDefinition.
type Tool struct {
	Name                string
	Category            string
	Description         string
	ImplementationGuide string
	ScriptPath          string
	InputSchema         string
	RequiresCredential  string
}

// CredentialHint names a credential available to the persona without
// exposing its decrypted value — only the base name is ever put in a prompt.
type CredentialHint struct {
	Name string
}

// Assemble composes the final prompt string for persona's execution. tools
// and credentialHints may be empty; inputData may be nil.
func Assemble(persona *db.Persona, tools []Tool, inputData map[string]interface{}, credentialHints []CredentialHint) string {
	var b strings.Builder

	writeSection(&b, "# "+persona.Name)

	if persona.StructuredPrompt != "" {
		writeDescriptionAndIdentity(&b, persona)
	} else if persona.SystemPrompt != "" {
		writeSection(&b, "## Identity\n\n"+persona.SystemPrompt)
	}

	writeAvailableTools(&b, tools)
	writeSection(&b, "## Execution Environment\n\n"+executionEnvironmentParagraph)
	writeAvailableCredentials(&b, credentialHints)
	writeCommunicationProtocols(&b)
	writeUseCaseAndTimeFilter(&b, inputData)
	writeInputData(&b, inputData)

	writeSection(&b, "EXECUTE NOW")

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// writeDescriptionAndIdentity renders the Identity/Instructions/ToolGuidance/
// Examples/ErrorHandling/CustomSections/WebSearch block from a parseable
// structuredPrompt. If the blob does not parse as JSON, Identity falls back
// to the raw systemPrompt string, per the fixed-order rule.
func writeDescriptionAndIdentity(b *strings.Builder, persona *db.Persona) {
	var sp structuredPrompt
	if err := json.Unmarshal([]byte(persona.StructuredPrompt), &sp); err != nil {
		if persona.SystemPrompt != "" {
			writeSection(b, "## Identity\n\n"+persona.SystemPrompt)
		}
		return
	}

	if sp.Identity != "" {
		writeSection(b, "## Identity\n\n"+sp.Identity)
	}
	if sp.Instructions != "" {
		writeSection(b, "## Instructions\n\n"+sp.Instructions)
	}
	if sp.ToolGuidance != "" {
		writeSection(b, "## Tool Guidance\n\n"+sp.ToolGuidance)
	}
	if sp.Examples != "" {
		writeSection(b, "## Examples\n\n"+sp.Examples)
	}
	if sp.ErrorHandling != "" {
		writeSection(b, "## Error Handling\n\n"+sp.ErrorHandling)
	}
	for _, custom := range sp.CustomSections {
		if custom != "" {
			writeSection(b, custom)
		}
	}
	if sp.WebSearch != "" {
		writeSection(b, "## Web Search\n\n"+sp.WebSearch)
	}
}

func writeAvailableTools(b *strings.Builder, tools []Tool) {
	if len(tools) == 0 {
		return
	}
	var section strings.Builder
	section.WriteString("## Available Tools\n\n")
	for _, t := range tools {
		section.WriteString(fmt.Sprintf("### %s", t.Name))
		if t.Category != "" {
			section.WriteString(fmt.Sprintf(" (%s)", t.Category))
		}
		section.WriteString("\n\n")
		if t.Description != "" {
			section.WriteString(t.Description + "\n\n")
		}
		if t.ImplementationGuide != "" {
			section.WriteString("Implementation: " + t.ImplementationGuide + "\n\n")
		} else if t.ScriptPath != "" {
			section.WriteString("Script: " + t.ScriptPath + "\n\n")
		}
		if t.InputSchema != "" {
			section.WriteString("Input schema: " + t.InputSchema + "\n\n")
		}
		if t.RequiresCredential != "" {
			section.WriteString("Requires credential: " + t.RequiresCredential + "\n\n")
		}
	}
	writeSection(b, strings.TrimRight(section.String(), "\n"))
}

func writeAvailableCredentials(b *strings.Builder, hints []CredentialHint) {
	if len(hints) == 0 {
		return
	}
	var section strings.Builder
	section.WriteString("## Available Credentials\n\n")
	for _, h := range hints {
		section.WriteString(fmt.Sprintf("- %s\n", h.Name))
	}
	writeSection(b, strings.TrimRight(section.String(), "\n"))
}

func writeCommunicationProtocols(b *strings.Builder) {
	var section strings.Builder
	section.WriteString("## Communication Protocols\n\n")
	for _, name := range protocolOrder {
		section.WriteString(protocolParagraphs[name] + "\n\n")
	}
	writeSection(b, strings.TrimRight(section.String(), "\n"))
}

// writeUseCaseAndTimeFilter emits optional blocks keyed off the
// inputData._use_case and inputData._time_filter fields when present.
func writeUseCaseAndTimeFilter(b *strings.Builder, inputData map[string]interface{}) {
	if inputData == nil {
		return
	}
	if useCase, ok := inputData["_use_case"]; ok {
		writeSection(b, fmt.Sprintf("## Use Case\n\n%v", useCase))
	}
	if timeFilter, ok := inputData["_time_filter"]; ok {
		writeSection(b, fmt.Sprintf("## Time Filter\n\n%v", timeFilter))
	}
}

func writeInputData(b *strings.Builder, inputData map[string]interface{}) {
	if inputData == nil {
		return
	}
	pretty, err := json.MarshalIndent(inputData, "", "  ")
	if err != nil {
		return
	}
	writeSection(b, "## Input Data\n\n```json\n"+string(pretty)+"\n```")
}

func writeSection(b *strings.Builder, text string) {
	b.WriteString(text)
	b.WriteString("\n\n")
}
