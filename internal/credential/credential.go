// Package credential materializes a persona's bearer token, bound
// credentials, and model-profile overrides into the environment variables
// injected into a worker assignment. It decrypts each db.Credential's
// Secret and derives CONNECTOR_<NAME> (or CONNECTOR_<NAME>_<FIELD>, when
// the decrypted plaintext is itself a flat key/value object) variables the
// worker's tool scripts read at execution time.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/arkeep-io/persona-orchestrator/internal/repository"
	"github.com/arkeep-io/persona-orchestrator/pkg/protocol"
)

// BearerEnvVar is the environment variable name the dispatch-time bearer
// token is exposed under by default. A model-profile provider override
// removes this variable, since the worker then authenticates against the
// overridden provider instead.
const BearerEnvVar = "BEARER_TOKEN"

// Hint names a credential that was bound to a persona without exposing its
// value, for inclusion in the assembled prompt's Available Credentials
// section.
type Hint struct {
	Name string
}

// Materializer resolves a persona's credentials and model profile into an
// environment map ready to attach to a worker assignment.
type Materializer struct {
	credentials repository.CredentialRepository
}

// New returns a Materializer backed by the given CredentialRepository.
func New(credentials repository.CredentialRepository) *Materializer {
	return &Materializer{credentials: credentials}
}

// modelProfile mirrors the subset of db.Persona.ModelProfile's JSON shape
// the materializer cares about. Unknown fields are ignored.
type modelProfile struct {
	Provider protocol.ModelProfileProvider `json:"provider"`
	BaseURL  string                        `json:"baseUrl"`
	APIKey   string                        `json:"apiKey"`
}

// Materialize returns the environment a worker assignment for this persona
// should carry, starting from {BEARER_ENV_VAR: token}, followed by one or
// more CONNECTOR_<NAME>[_<FIELD>] entries per bound credential, followed by
// any model-profile provider overrides. It also returns the base
// credential names as hints, for the Prompt Assembler's Available
// Credentials section.
func (m *Materializer) Materialize(ctx context.Context, personaID uuid.UUID, bearerToken, modelProfileJSON string) (map[string]string, []Hint, error) {
	env := map[string]string{BearerEnvVar: bearerToken}

	creds, err := m.credentials.ListByPersona(ctx, personaID)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: materialize: list credentials: %w", err)
	}

	hints := make([]Hint, 0, len(creds))
	for _, c := range creds {
		base := normalize(c.Name)
		hints = append(hints, Hint{Name: c.Name})

		plaintext := string(c.Secret)
		fields, ok := asFlatStringObject(plaintext)
		if !ok {
			env["CONNECTOR_"+base] = plaintext
			continue
		}
		for field, value := range fields {
			env["CONNECTOR_"+base+"_"+normalize(field)] = value
		}
	}

	if modelProfileJSON != "" {
		var profile modelProfile
		// An unparseable profile skips the provider overrides only.
		if err := json.Unmarshal([]byte(modelProfileJSON), &profile); err == nil {
			applyProviderOverrides(env, profile)
		}
	}

	return env, hints, nil
}

// asFlatStringObject reports whether plaintext parses as a JSON object
// whose values are all strings, returning the decoded map when it does.
func asFlatStringObject(plaintext string) (map[string]string, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(plaintext), &raw); err != nil {
		return nil, false
	}
	flat := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		flat[k] = s
	}
	return flat, true
}

// applyProviderOverrides sets the base-URL/auth-token env vars a worker
// needs to route model calls to the persona's configured provider instead
// of the orchestrator's default, and removes the default bearer token
// since the worker authenticates against the overridden provider instead.
func applyProviderOverrides(env map[string]string, profile modelProfile) {
	switch profile.Provider {
	case protocol.ModelProfileOllama:
		if profile.BaseURL != "" {
			env["OLLAMA_BASE_URL"] = profile.BaseURL
		}
	case protocol.ModelProfileLiteLLM:
		if profile.BaseURL != "" {
			env["LITELLM_BASE_URL"] = profile.BaseURL
		}
		if profile.APIKey != "" {
			env["LITELLM_API_KEY"] = profile.APIKey
		}
	case protocol.ModelProfileCustom:
		if profile.BaseURL != "" {
			env["CUSTOM_MODEL_BASE_URL"] = profile.BaseURL
		}
		if profile.APIKey != "" {
			env["CUSTOM_MODEL_API_KEY"] = profile.APIKey
		}
	default:
		return
	}
	delete(env, BearerEnvVar)
}

// normalize upper-cases a name and replaces characters that are not valid
// in a shell environment variable name with underscores.
func normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
